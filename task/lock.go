// Package task implements the time-ordered task queue: due-ordered work
// units executed under a per-kind, expiry-based in-memory lock so a
// crashed worker's lock is reclaimed automatically rather than wedging the
// queue.
/*
 * Copyright (c) 2018-2020, NVIDIA CORPORATION. All rights reserved.
 */
package task

import (
	"sync"

	"github.com/OneOfOne/xxhash"

	"github.com/stalwartgo/core/stats"
)

const lockShards = 32

// LockMap is a sharded map of lock-key to expiry timestamp (unix millis).
// Acquire is a single get-or-insert-if-absent-or-expired primitive;
// Release removes the entry unconditionally.
type LockMap struct {
	shards [lockShards]lockShard
}

type lockShard struct {
	mu sync.Mutex
	m  map[string]int64
}

func NewLockMap() *LockMap {
	lm := &LockMap{}
	for i := range lm.shards {
		lm.shards[i].m = make(map[string]int64)
	}
	return lm
}

func (lm *LockMap) shardFor(key string) *lockShard {
	h := xxhash.ChecksumString64S(key, 0)
	return &lm.shards[h%uint64(lockShards)]
}

// Acquire returns true if key was unlocked or its previous lock expired,
// and (re)locks it until nowMS+ttlMS.
func (lm *LockMap) Acquire(key string, nowMS, ttlMS int64) bool {
	s := lm.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	if exp, ok := s.m[key]; ok && exp > nowMS {
		stats.TaskLockContention.Inc()
		return false
	}
	s.m[key] = nowMS + ttlMS
	return true
}

// Release drops key's lock immediately, regardless of expiry.
func (lm *LockMap) Release(key string) {
	s := lm.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.m, key)
}

// Renew extends an already-held lock; it does not verify the caller still
// holds it, matching the "lock not renewed within budget is abandoned"
// crash-safety contract — a renew after expiry simply reacquires.
func (lm *LockMap) Renew(key string, nowMS, ttlMS int64) {
	s := lm.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m[key] = nowMS + ttlMS
}
