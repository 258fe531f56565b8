package backup

import (
	"bufio"
	"context"
	"encoding/binary"
	"io"

	"github.com/stalwartgo/core/cmn"
	"github.com/stalwartgo/core/kv"
	"github.com/stalwartgo/core/store"
)

// flushSize bounds how many entries Restore accumulates before committing
// a batch, mirroring batch.LargeBatchOps' role for the builder.
const flushSize = 2000

// Restore reads one subspace's backup stream from r and applies it to
// backend: ordinary subspaces are overwritten verbatim (OpSet); COUNTER
// and QUOTA subspaces are converted into an additive delta against the
// counter's current value, since Backend has no absolute-set primitive
// for them. Returns the header read and the number of entries applied.
func Restore(ctx context.Context, backend store.Backend, r io.Reader) (Header, int, error) {
	br := bufio.NewReader(r)
	hdr, err := ReadHeader(br)
	if err != nil {
		return Header{}, 0, err
	}

	additive := IsAdditive(hdr.Subspace)
	var ops []store.Op
	applied := 0

	flush := func() error {
		if len(ops) == 0 {
			return nil
		}
		if _, err := backend.Write(ctx, &store.Batch{Ops: ops}); err != nil {
			return cmn.CausedBy("backup.Restore", err)
		}
		ops = ops[:0]
		return nil
	}

	err = ReadEntries(br, func(e Entry) error {
		if additive {
			if len(e.Value) != 8 {
				return &cmn.CorruptKeyError{Subspace: byte(hdr.Subspace), Key: e.Key, Reason: "counter value not 8 bytes"}
			}
			target := int64(binary.LittleEndian.Uint64(e.Value))
			current, err := backend.GetCounter(ctx, kv.Key(e.Key))
			if err != nil {
				return cmn.CausedBy("backup.Restore", err)
			}
			delta := target - current
			if delta != 0 {
				ops = append(ops, store.Op{Kind: store.OpAddCounter, Key: kv.Key(e.Key), Delta: delta})
			}
		} else {
			ops = append(ops, store.Op{Kind: store.OpSet, Key: kv.Key(e.Key), Value: e.Value})
		}
		applied++
		if len(ops) >= flushSize {
			return flush()
		}
		return nil
	})
	if err != nil {
		return hdr, applied, err
	}
	if err := flush(); err != nil {
		return hdr, applied, err
	}
	return hdr, applied, nil
}
