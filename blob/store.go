// Package blob implements the content-addressed blob store: reserved
// (ephemeral) and linked (permanent) references over one payload keyed by
// its content hash, with a cuckoo-filter front-end on the existence check
// every upload makes and per-account/per-tenant reserved-quota enforcement.
/*
 * Copyright (c) 2018-2020, NVIDIA CORPORATION. All rights reserved.
 */
package blob

import (
	"context"
	"encoding/binary"

	"github.com/OneOfOne/xxhash"
	cuckoo "github.com/seiflotfy/cuckoofilter"

	"github.com/stalwartgo/core/cmn"
	"github.com/stalwartgo/core/kv"
	"github.com/stalwartgo/core/store"
)

// hashSeed is an arbitrary fixed seed so Hash is reproducible across
// process restarts (content-addressing requires it).
const hashSeed = 0x9e3779b97f4a7c15

// inlineThreshold is the largest payload stored key-inline rather than
// reduced to a fingerprint; it must stay well below the 0xff marker byte.
const inlineThreshold = 32

// Hash derives a blob's content-addressed key suffix: short payloads are
// stored inline (marker byte = length), longer ones are reduced to a
// truncated 64-bit fingerprint (marker byte = 0xff).
func Hash(data []byte) []byte {
	if len(data) <= inlineThreshold {
		out := make([]byte, 0, 1+len(data))
		out = append(out, byte(len(data)))
		return append(out, data...)
	}
	h := xxhash.Checksum64S(data, hashSeed)
	out := make([]byte, 9)
	out[0] = 0xff
	binary.BigEndian.PutUint64(out[1:], h)
	return out
}

// Store is the blob store's public surface. It is safe for concurrent use;
// the existence filter holds its own lock internally.
type Store struct {
	backend store.Backend
	exists  *cuckoo.Filter
}

func New(backend store.Backend) *Store {
	return &Store{backend: backend, exists: cuckoo.NewDefaultCuckooFilter()}
}

// Quota is the per-scope reserved-quota accounting key: either an account
// or a tenant. Callers pass a zero TenantID to skip the tenant check.
type Quota struct {
	AccountID uint32
	TenantID  uint32 // 0 = no tenant cap configured
	MaxBytes  int64
	MaxCount  int64
}

func quotaKey(scope byte, id uint32) kv.Key {
	var b [5]byte
	b[0] = scope
	binary.BigEndian.PutUint32(b[1:], id)
	return kv.CounterKey(true, b[:])
}

const (
	scopeAccountBytes byte = 1
	scopeAccountCount byte = 2
	scopeTenantBytes  byte = 3
	scopeTenantCount  byte = 4
)

// checkQuota returns cmn.ErrQuotaExceeded if committing size bytes (and one
// more reference) would breach either the account cap or, when configured,
// the tighter tenant cap.
func (s *Store) checkQuota(ctx context.Context, q Quota, size int64) error {
	usedBytes, err := s.backend.GetCounter(ctx, quotaKey(scopeAccountBytes, q.AccountID))
	if err != nil {
		return cmn.CausedBy("blob.checkQuota", err)
	}
	usedCount, err := s.backend.GetCounter(ctx, quotaKey(scopeAccountCount, q.AccountID))
	if err != nil {
		return cmn.CausedBy("blob.checkQuota", err)
	}
	if usedBytes+size > q.MaxBytes || usedCount+1 > q.MaxCount {
		return cmn.ErrQuotaExceeded
	}
	if q.TenantID != 0 {
		tb, err := s.backend.GetCounter(ctx, quotaKey(scopeTenantBytes, q.TenantID))
		if err != nil {
			return cmn.CausedBy("blob.checkQuota", err)
		}
		tc, err := s.backend.GetCounter(ctx, quotaKey(scopeTenantCount, q.TenantID))
		if err != nil {
			return cmn.CausedBy("blob.checkQuota", err)
		}
		if tb+size > q.MaxBytes || tc+1 > q.MaxCount {
			return cmn.ErrQuotaExceeded
		}
	}
	return nil
}

// Reserve uploads data under a reserved (ephemeral) reference that expires
// at expiryMS (unix millis), enforcing quota first. It returns the
// content hash so the caller can later Link or let GC reclaim it.
func (s *Store) Reserve(ctx context.Context, q Quota, data []byte, expiryMS int64) ([]byte, error) {
	if err := s.checkQuota(ctx, q, int64(len(data))); err != nil {
		return nil, err
	}
	hash := Hash(data)
	if !s.probablyExists(hash) {
		if err := s.backend.PutBlob(ctx, kv.BlobKey(hash), data); err != nil {
			return nil, cmn.CausedBy("blob.Reserve", err)
		}
		s.exists.InsertUnique(hash)
	} else if found, err := s.confirmExists(ctx, hash); err != nil {
		return nil, err
	} else if !found {
		if err := s.backend.PutBlob(ctx, kv.BlobKey(hash), data); err != nil {
			return nil, cmn.CausedBy("blob.Reserve", err)
		}
	}

	ref := make([]byte, 4+8)
	binary.BigEndian.PutUint32(ref[0:4], q.AccountID)
	binary.BigEndian.PutUint64(ref[4:], uint64(expiryMS))
	linkKey := kv.BlobLinkKey(hash, kv.RefKindReserved, ref)
	if err := s.backend.PutBlob(ctx, linkKey, nil); err != nil {
		return nil, cmn.CausedBy("blob.Reserve", err)
	}

	if err := s.addQuota(ctx, q, int64(len(data)), 1); err != nil {
		return nil, err
	}
	return hash, nil
}

func (s *Store) addQuota(ctx context.Context, q Quota, bytesDelta, countDelta int64) error {
	batch := &store.Batch{Ops: []store.Op{
		{Kind: store.OpAddCounter, Key: quotaKey(scopeAccountBytes, q.AccountID), Delta: bytesDelta},
		{Kind: store.OpAddCounter, Key: quotaKey(scopeAccountCount, q.AccountID), Delta: countDelta},
	}}
	if q.TenantID != 0 {
		batch.Ops = append(batch.Ops,
			store.Op{Kind: store.OpAddCounter, Key: quotaKey(scopeTenantBytes, q.TenantID), Delta: bytesDelta},
			store.Op{Kind: store.OpAddCounter, Key: quotaKey(scopeTenantCount, q.TenantID), Delta: countDelta},
		)
	}
	_, err := s.backend.Write(ctx, batch)
	return cmn.CausedBy("blob.addQuota", err)
}

// Link attaches a permanent reference tying hash to (collection, document),
// surviving independently of any reserved reference's expiry.
func (s *Store) Link(ctx context.Context, hash []byte, account uint32, coll kv.Collection, docID uint32) error {
	ref := make([]byte, 1+4)
	ref[0] = byte(coll)
	binary.BigEndian.PutUint32(ref[1:], docID)
	key := kv.BlobLinkKey(hash, kv.RefKindLinked, append(be32(account), ref...))
	return cmn.CausedBy("blob.Link", s.backend.PutBlob(ctx, key, nil))
}

func be32(v uint32) []byte {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	return b[:]
}

// Unlink removes a permanent reference; the payload itself is reclaimed
// later by a GC sweep, not synchronously here.
func (s *Store) Unlink(ctx context.Context, hash []byte, account uint32, coll kv.Collection, docID uint32) error {
	ref := make([]byte, 1+4)
	ref[0] = byte(coll)
	binary.BigEndian.PutUint32(ref[1:], docID)
	key := kv.BlobLinkKey(hash, kv.RefKindLinked, append(be32(account), ref...))
	return cmn.CausedBy("blob.Unlink", s.backend.DeleteBlob(ctx, key))
}

// Get fetches a blob's payload (or a sub-range of it).
func (s *Store) Get(ctx context.Context, hash []byte, byteRange [2]int64) ([]byte, bool, error) {
	data, found, err := s.backend.GetBlob(ctx, kv.BlobKey(hash), byteRange)
	if err != nil {
		return nil, false, cmn.CausedBy("blob.Get", err)
	}
	return data, found, nil
}

// probablyExists is the fast, false-positive-prone front-end check: a miss
// is authoritative ("definitely new"), a hit still needs confirmation.
func (s *Store) probablyExists(hash []byte) bool {
	return s.exists.Lookup(hash)
}

func (s *Store) confirmExists(ctx context.Context, hash []byte) (bool, error) {
	_, found, err := s.backend.GetBlob(ctx, kv.BlobKey(hash), [2]int64{0, -1})
	if err != nil {
		return false, cmn.CausedBy("blob.confirmExists", err)
	}
	return found, nil
}
