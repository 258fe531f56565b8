// Package config owns the hot-swappable configuration snapshot: a
// globalConfigOwner holding an atomic pointer to the current immutable
// *Config plus a mutex serializing writers and a generation counter,
// mirroring the teacher's own `globalConfigOwner` (cmn/config.go).
/*
 * Copyright (c) 2018-2020, NVIDIA CORPORATION. All rights reserved.
 */
package config

import (
	"sync"

	"github.com/c2h5oh/datasize"
	"go.uber.org/atomic"
)

// Config is the plain, immutable-once-published configuration snapshot.
// Parsing raw configuration into this shape is out of scope here; this
// package owns only the hot-swap container around it.
type Config struct {
	Domain         string
	DKIMSelector   string
	BlockedIPs     []string
	PushServers    []string
	SpamFilterRule string
	Generation     uint64

	// DefaultAccountBlobQuota/DefaultTenantBlobQuota are human-readable
	// reserved-blob-storage caps ("10GB", "512MB") carried on the snapshot.
	// The blob package does not read them: blob.Quota takes its limits
	// only from its own MaxBytes/MaxCount fields.
	DefaultAccountBlobQuota datasize.ByteSize
	DefaultTenantBlobQuota  datasize.ByteSize
}

type globalConfigOwner struct {
	mtx sync.Mutex
	cur atomic.Pointer[Config]
	gen atomic.Uint64
}

var global = &globalConfigOwner{}

// Get is wait-free. Callers doing a multi-step operation that must see a
// stable view call Get once and keep the returned pointer rather than
// calling Get again mid-operation.
func Get() *Config {
	return global.cur.Load()
}

// Put swaps in a new snapshot, bumping the generation counter. Serialized
// against concurrent writers by mtx so Generation assignment itself is
// never racy, even though readers never block on it.
func Put(c *Config) *Config {
	global.mtx.Lock()
	defer global.mtx.Unlock()
	gen := global.gen.Add(1)
	cp := *c
	cp.Generation = gen
	global.cur.Store(&cp)
	return &cp
}

// Reloader is the callback invoked when a broadcast ReloadSettings/
// ReloadBlockedIps/ReloadSpamFilter tag arrives from a peer node: it must
// re-parse configuration from its source of truth and call Put with the
// result.
type Reloader func() (*Config, error)

// OnReload re-parses via r and publishes the result. Parse errors leave
// the current snapshot in place rather than swapping in a broken one.
func OnReload(r Reloader) error {
	c, err := r()
	if err != nil {
		return err
	}
	Put(c)
	return nil
}
