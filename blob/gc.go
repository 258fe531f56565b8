package blob

import (
	"context"
	"encoding/binary"
	"time"

	"github.com/stalwartgo/core/cmn"
	"github.com/stalwartgo/core/kv"
	"github.com/stalwartgo/core/stats"
	"github.com/stalwartgo/core/store"
)

// GCResult summarizes one sweep.
type GCResult struct {
	BlobsDeleted       int
	ReservedExpired    int
	BytesReclaimed     int64
}

// Sweep walks the BLOB_LINK subspace in hash order. For each hash it
// determines whether any reference is still live: an unexpired reserved
// reference, or any linked reference. If none is live the blob payload and
// every reference row for that hash are deleted; expired reserved
// references are always deleted (and their quota released) regardless of
// whether the blob survives on a linked reference.
func Sweep(ctx context.Context, backend store.Backend, nowMS int64) (GCResult, error) {
	start := time.Now()
	defer func() { stats.BlobGCDuration.Observe(time.Since(start).Seconds()) }()

	var (
		res        GCResult
		curHash    []byte
		live       bool
		staleRefs  []kv.Key
		expiredAccts []uint32
	)

	flush := func() error {
		if curHash == nil {
			return nil
		}
		var size int64
		if !live || len(expiredAccts) > 0 {
			data, found, err := backend.GetBlob(ctx, kv.BlobKey(curHash), [2]int64{0, -1})
			if err != nil {
				return cmn.CausedBy("blob.Sweep", err)
			}
			size = int64(len(data))
			if !live && found {
				if err := backend.DeleteBlob(ctx, kv.BlobKey(curHash)); err != nil {
					return cmn.CausedBy("blob.Sweep", err)
				}
				res.BlobsDeleted++
				res.BytesReclaimed += int64(len(data))
				stats.BlobGCDeleted.Inc()
				stats.BlobGCBytesReclaimed.Add(float64(len(data)))
			}
		}
		for _, k := range staleRefs {
			if err := backend.DeleteBlob(ctx, k); err != nil {
				return cmn.CausedBy("blob.Sweep", err)
			}
		}
		var quotaUndo []store.Op
		for _, account := range expiredAccts {
			quotaUndo = append(quotaUndo,
				store.Op{Kind: store.OpAddCounter, Key: quotaKey(scopeAccountBytes, account), Delta: -size},
				store.Op{Kind: store.OpAddCounter, Key: quotaKey(scopeAccountCount, account), Delta: -1},
			)
		}
		if len(quotaUndo) > 0 {
			if _, err := backend.Write(ctx, &store.Batch{Ops: quotaUndo}); err != nil {
				return cmn.CausedBy("blob.Sweep", err)
			}
		}
		return nil
	}

	rng := store.PrefixRange(kv.Key{byte(kv.BLOB_LINK)})
	err := backend.Iterate(ctx, rng, true, false, func(k kv.Key, _ []byte) (bool, error) {
		hash, refKind, ref, err := parseBlobLinkKey(k)
		if err != nil {
			return false, err
		}
		if curHash == nil || string(hash) != string(curHash) {
			if err := flush(); err != nil {
				return false, err
			}
			curHash, live, staleRefs, expiredAccts = hash, false, nil, nil
		}

		switch refKind {
		case kv.RefKindLinked:
			live = true
		case kv.RefKindReserved:
			if len(ref) < 12 {
				return false, &cmn.CorruptKeyError{Subspace: byte(kv.BLOB_LINK), Key: k, Reason: "short reserved ref"}
			}
			account := binary.BigEndian.Uint32(ref[0:4])
			expiry := int64(binary.BigEndian.Uint64(ref[4:12]))
			if expiry > nowMS {
				live = true
			} else {
				staleRefs = append(staleRefs, k)
				res.ReservedExpired++
				expiredAccts = append(expiredAccts, account)
			}
		}
		return true, nil
	})
	if err != nil {
		return res, cmn.CausedBy("blob.Sweep", err)
	}
	if err := flush(); err != nil {
		return res, err
	}
	return res, nil
}

// parseBlobLinkKey splits a BLOB_LINK key back into (hash, ref-kind, ref).
// Hash length varies (inline-marker form vs. fingerprint form), so it is
// recovered from the marker byte rather than assumed fixed-width.
func parseBlobLinkKey(k kv.Key) (hash []byte, refKind byte, ref []byte, err error) {
	if len(k) < 2 {
		return nil, 0, nil, &cmn.CorruptKeyError{Subspace: byte(kv.BLOB_LINK), Key: k, Reason: "too short"}
	}
	body := k[1:]
	marker := body[0]
	var hashLen int
	if marker == 0xff {
		hashLen = 9
	} else {
		hashLen = 1 + int(marker)
	}
	if len(body) < hashLen+1 {
		return nil, 0, nil, &cmn.CorruptKeyError{Subspace: byte(kv.BLOB_LINK), Key: k, Reason: "truncated hash"}
	}
	hash = body[:hashLen]
	refKind = body[hashLen]
	ref = body[hashLen+1:]
	return hash, refKind, ref, nil
}
