// Package memstore implements the required embedded storage backend
// on top of github.com/tidwall/buntdb, an in-memory (with
// optional append-only file persistence) ordered key-value store. This is
// the backend single-node deployments and the test suite use by default;
// distributed backends implement the same store.Backend interface without
// any caller above package store noticing the difference.
/*
 * Copyright (c) 2018-2020, NVIDIA CORPORATION. All rights reserved.
 */
package memstore

import (
	"context"
	"encoding/binary"
	"sync"

	"github.com/golang/glog"
	"github.com/tidwall/buntdb"

	"github.com/stalwartgo/core/cmn"
	"github.com/stalwartgo/core/cmn/debug"
	"github.com/stalwartgo/core/kv"
	"github.com/stalwartgo/core/store"
)

// Backend is the buntdb-backed store.Backend implementation.
type Backend struct {
	db *buntdb.DB
	mu sync.Mutex // serializes Write batches beyond buntdb's own tx lock, for clarity of intent
}

// Open creates a Backend. path=":memory:" runs fully in memory (used by
// tests); any other path persists to an append-only file that buntdb
// replays on the next Open.
func Open(path string) (*Backend, error) {
	db, err := buntdb.Open(path)
	if err != nil {
		return nil, cmn.NewStorageError("memstore.Open", err)
	}
	glog.Infof("memstore: opened backend at %s", path)
	return &Backend{db: db}, nil
}

func (b *Backend) Close() error {
	return cmn.NewStorageError("memstore.Close", b.db.Close())
}

// chunkGet fetches the head value for a key and, if continuation keys
// exist, reassembles the logical value.
func (b *Backend) chunkGet(tx *buntdb.Tx, key kv.Key) ([]byte, bool, error) {
	head, err := tx.Get(string(key))
	if err == buntdb.ErrNotFound {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	chunks := [][]byte{[]byte(head)}
	for i := 1; i < store.MaxChunks; i++ {
		ck := kv.ChunkKey(key, byte(i))
		v, err := tx.Get(string(ck))
		if err == buntdb.ErrNotFound {
			break
		}
		if err != nil {
			return nil, false, err
		}
		chunks = append(chunks, []byte(v))
	}
	return joinChunks(chunks), true, nil
}

func joinChunks(chunks [][]byte) []byte {
	if len(chunks) == 1 {
		return chunks[0]
	}
	total := 0
	for _, c := range chunks {
		total += len(c)
	}
	out := make([]byte, 0, total)
	for _, c := range chunks {
		out = append(out, c...)
	}
	return out
}

func splitChunks(data []byte) [][]byte {
	if len(data) <= store.ChunkThreshold {
		return [][]byte{data}
	}
	var chunks [][]byte
	for len(data) > 0 {
		n := store.ChunkThreshold
		if n > len(data) {
			n = len(data)
		}
		chunks = append(chunks, data[:n])
		data = data[n:]
	}
	return chunks
}

func (b *Backend) chunkSet(tx *buntdb.Tx, key kv.Key, value []byte) error {
	// Clear any stale continuations from a previous, larger value.
	for i := 1; i < store.MaxChunks; i++ {
		ck := kv.ChunkKey(key, byte(i))
		if _, err := tx.Delete(string(ck)); err != nil && err != buntdb.ErrNotFound {
			return err
		}
	}
	chunks := splitChunks(value)
	debug.Assertf(len(chunks) <= store.MaxChunks, "value needs %d chunks, max %d", len(chunks), store.MaxChunks)
	for i, c := range chunks {
		k := key
		if i > 0 {
			k = kv.ChunkKey(key, byte(i))
		}
		if _, _, err := tx.Set(string(k), string(c), nil); err != nil {
			return err
		}
	}
	return nil
}

func (b *Backend) chunkClear(tx *buntdb.Tx, key kv.Key) error {
	if _, err := tx.Delete(string(key)); err != nil && err != buntdb.ErrNotFound {
		return err
	}
	for i := 1; i < store.MaxChunks; i++ {
		ck := kv.ChunkKey(key, byte(i))
		if _, err := tx.Delete(string(ck)); err != nil {
			if err == buntdb.ErrNotFound {
				break
			}
			return err
		}
	}
	return nil
}

func (b *Backend) Get(_ context.Context, key kv.Key) ([]byte, bool, error) {
	var (
		val   []byte
		found bool
	)
	err := b.db.View(func(tx *buntdb.Tx) error {
		v, ok, err := b.chunkGet(tx, key)
		val, found = v, ok
		return err
	})
	if err != nil {
		return nil, false, cmn.NewStorageError("memstore.Get", err)
	}
	return val, found, nil
}

// chunkState tracks the head key last visited in a scan and the pieces
// gathered for it, so that isChunkContinuation can fold the continuation
// keys that follow it back into one logical value.
type chunkState struct {
	headKey   string
	headFound bool
	pieces    [][]byte
}

func (b *Backend) Iterate(_ context.Context, rng store.Range, ascending, withValues bool, fn store.VisitFunc) error {
	return b.db.View(func(tx *buntdb.Tx) error {
		var (
			outerErr error
			st       chunkState
		)
		flush := func() (bool, error) {
			if !st.headFound {
				return true, nil
			}
			var v []byte
			if withValues {
				v = joinChunks(st.pieces)
			}
			cont, err := fn(kv.Key(st.headKey), v)
			st = chunkState{}
			return cont, err
		}
		visit := func(k, v string) bool {
			kb := kv.Key(k)
			if isChunkContinuation(st.headKey, kb) {
				st.pieces = append(st.pieces, []byte(v))
				return true
			}
			cont, err := flush()
			if err != nil {
				outerErr = err
				return false
			}
			if !cont {
				return false
			}
			st = chunkState{headKey: k, headFound: true, pieces: [][]byte{[]byte(v)}}
			return true
		}
		var iterErr error
		beginS, endS := string(rng.Begin), string(rng.End)
		if endS == "" && len(rng.Begin) > 0 {
			// A nil End is bounded by the subspace Begin's first byte selects.
			endS = string(store.PrefixRange(rng.Begin[:1]).End)
		}
		if ascending {
			if endS == "" {
				iterErr = tx.AscendGreaterOrEqual("", beginS, visit)
			} else {
				iterErr = tx.AscendRange("", beginS, endS, visit)
			}
		} else {
			if endS == "" {
				iterErr = tx.DescendLessOrEqual("", beginS, visit)
			} else {
				iterErr = tx.DescendRange("", endS, beginS, visit)
			}
		}
		if iterErr != nil {
			return iterErr
		}
		if outerErr != nil {
			return outerErr
		}
		_, err := flush()
		return err
	})
}

// isChunkContinuation reports whether candidate is exactly head with one
// extra trailing chunk-id byte appended — the shape kv.ChunkKey produces.
func isChunkContinuation(head string, candidate kv.Key) bool {
	if head == "" || len(candidate) != len(head)+1 {
		return false
	}
	return string(candidate[:len(head)]) == head
}

func (b *Backend) GetCounter(_ context.Context, key kv.Key) (int64, error) {
	var n int64
	err := b.db.View(func(tx *buntdb.Tx) error {
		v, err := tx.Get(string(key))
		if err == buntdb.ErrNotFound {
			n = 0
			return nil
		}
		if err != nil {
			return err
		}
		n = decodeCounter([]byte(v))
		return nil
	})
	if err != nil {
		return 0, cmn.NewStorageError("memstore.GetCounter", err)
	}
	return n, nil
}

func decodeCounter(v []byte) int64 {
	if len(v) != 8 {
		return 0
	}
	return int64(binary.LittleEndian.Uint64(v))
}

func encodeCounter(n int64) []byte {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], uint64(n))
	return b[:]
}

func (b *Backend) DeleteRange(_ context.Context, begin, end kv.Key) error {
	err := b.db.Update(func(tx *buntdb.Tx) error {
		var keys []string
		visit := func(k, _ string) bool {
			keys = append(keys, k)
			return true
		}
		var iterErr error
		if len(end) == 0 {
			iterErr = tx.AscendGreaterOrEqual("", string(begin), visit)
		} else {
			iterErr = tx.AscendRange("", string(begin), string(end), visit)
		}
		if iterErr != nil {
			return iterErr
		}
		for _, k := range keys {
			if _, err := tx.Delete(k); err != nil && err != buntdb.ErrNotFound {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return cmn.NewStorageError("memstore.DeleteRange", err)
	}
	return nil
}

func (b *Backend) PutBlob(_ context.Context, key kv.Key, data []byte) error {
	err := b.db.Update(func(tx *buntdb.Tx) error { return b.chunkSet(tx, key, data) })
	if err != nil {
		return cmn.NewStorageError("memstore.PutBlob", err)
	}
	return nil
}

func (b *Backend) GetBlob(_ context.Context, key kv.Key, byteRange [2]int64) ([]byte, bool, error) {
	var (
		val   []byte
		found bool
	)
	err := b.db.View(func(tx *buntdb.Tx) error {
		v, ok, err := b.chunkGet(tx, key)
		val, found = v, ok
		return err
	})
	if err != nil {
		return nil, false, cmn.NewStorageError("memstore.GetBlob", err)
	}
	if found && (byteRange[0] != 0 || byteRange[1] != 0) {
		lo, hi := byteRange[0], byteRange[1]
		if hi <= 0 || hi > int64(len(val)) {
			hi = int64(len(val))
		}
		if lo < 0 || lo > hi {
			lo = 0
		}
		val = val[lo:hi]
	}
	return val, found, nil
}

func (b *Backend) DeleteBlob(_ context.Context, key kv.Key) error {
	err := b.db.Update(func(tx *buntdb.Tx) error { return b.chunkClear(tx, key) })
	if err != nil {
		return cmn.NewStorageError("memstore.DeleteBlob", err)
	}
	return nil
}

// Write commits batch atomically inside one buntdb transaction. A failed
// OpAssertValue precondition aborts the whole transaction with
// store.ErrAssertionFailed and applies nothing.
func (b *Backend) Write(_ context.Context, batch *store.Batch) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	var changeID int64
	if len(batch.PendingLogs) > 0 {
		changeID = cmn.NextChangeID()
	}
	ops := batch.Ops
	for _, pl := range batch.PendingLogs {
		ops = append(ops, store.Op{
			Kind:  store.OpSet,
			Key:   kv.LogKey(pl.Account, pl.SC, changeID),
			Value: pl.Entry,
		})
	}

	err := b.db.Update(func(tx *buntdb.Tx) error {
		for _, op := range ops {
			switch op.Kind {
			case store.OpAssertValue:
				cur, found, err := b.chunkGet(tx, op.Key)
				if err != nil {
					return err
				}
				if !found && op.Value != nil {
					return store.ErrAssertionFailed
				}
				if found && string(cur) != string(op.Value) {
					return store.ErrAssertionFailed
				}
			case store.OpSet:
				if err := b.chunkSet(tx, op.Key, op.Value); err != nil {
					return err
				}
			case store.OpClear:
				if err := b.chunkClear(tx, op.Key); err != nil {
					return err
				}
			case store.OpAddCounter:
				cur, err := tx.Get(string(op.Key))
				var n int64
				if err == nil {
					n = decodeCounter([]byte(cur))
				} else if err != buntdb.ErrNotFound {
					return err
				}
				n += op.Delta
				if _, _, err := tx.Set(string(op.Key), string(encodeCounter(n)), nil); err != nil {
					return err
				}
			case store.OpDeleteRange:
				var keys []string
				rangeErr := tx.AscendRange("", string(op.Key), string(op.End), func(k, _ string) bool {
					keys = append(keys, k)
					return true
				})
				if rangeErr != nil {
					return rangeErr
				}
				for _, k := range keys {
					if _, err := tx.Delete(k); err != nil && err != buntdb.ErrNotFound {
						return err
					}
				}
			default:
				debug.Assertf(false, "unknown op kind %d", op.Kind)
			}
		}
		return nil
	})
	if err == store.ErrAssertionFailed {
		return 0, store.ErrAssertionFailed
	}
	if err != nil {
		return 0, cmn.NewStorageError("memstore.Write", err)
	}
	return changeID, nil
}

var _ store.Backend = (*Backend)(nil)
