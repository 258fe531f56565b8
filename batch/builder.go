// Package batch implements the stateful batch builder: callers accumulate
// typed operations against an implicit (account, collection, document)
// coordinate, then hand the whole batch to the storage backend in one
// atomic commit.
/*
 * Copyright (c) 2018-2020, NVIDIA CORPORATION. All rights reserved.
 */
package batch

import (
	"context"

	"github.com/stalwartgo/core/changelog"
	"github.com/stalwartgo/core/cmn/debug"
	"github.com/stalwartgo/core/kv"
	"github.com/stalwartgo/core/stats"
	"github.com/stalwartgo/core/store"
)

// LargeBatchOps is the op count past which IsLargeBatch reports true, the
// signal callers use to flush and start a fresh Builder rather than let one
// commit grow unbounded.
const LargeBatchOps = 5000

// ObjectIndexBuilder is the delegate the index package implements; Custom
// calls back into it to expand one document's create/update/delete into
// ops on this Builder.
type ObjectIndexBuilder interface {
	BuildOps(b *Builder) error
}

type logAccum struct {
	account uint32
	sc      kv.SyncCollection
	items   []changelog.Item
}

// Builder accumulates ops for one logical write. It is not safe for
// concurrent use; each request/transaction owns its own Builder.
type Builder struct {
	backend store.Backend

	account    uint32
	collection kv.Collection
	document   uint32

	ops          []store.Op
	commitPoints []int
	logs         map[uint64]*logAccum // key: account<<8 | sc
}

func New(backend store.Backend) *Builder {
	return &Builder{backend: backend, logs: make(map[uint64]*logAccum)}
}

func (b *Builder) WithAccount(account uint32) *Builder    { b.account = account; return b }
func (b *Builder) WithCollection(c kv.Collection) *Builder { b.collection = c; return b }
func (b *Builder) WithDocument(doc uint32) *Builder       { b.document = doc; return b }

func (b *Builder) Account() uint32        { return b.account }
func (b *Builder) Collection() kv.Collection { return b.collection }
func (b *Builder) Document() uint32       { return b.document }

// Set writes a raw value under key.
func (b *Builder) Set(key kv.Key, value []byte) *Builder {
	b.ops = append(b.ops, store.Op{Kind: store.OpSet, Key: key, Value: value})
	return b
}

// Clear removes key (a no-op if absent).
func (b *Builder) Clear(key kv.Key) *Builder {
	b.ops = append(b.ops, store.Op{Kind: store.OpClear, Key: key})
	return b
}

// AddCounter applies a commutative delta to a COUNTER/QUOTA key.
func (b *Builder) AddCounter(key kv.Key, delta int64) *Builder {
	if delta == 0 {
		return b
	}
	b.ops = append(b.ops, store.Op{Kind: store.OpAddCounter, Key: key, Delta: delta})
	return b
}

// Index adds a key-only secondary index entry for the builder's current
// (account, collection, document).
func (b *Builder) Index(field byte, value []byte) *Builder {
	key := kv.IndexKey(b.account, b.collection, field, value, b.document)
	return b.Set(key, nil)
}

// Unindex removes a secondary index entry.
func (b *Builder) Unindex(field byte, value []byte) *Builder {
	key := kv.IndexKey(b.account, b.collection, field, value, b.document)
	return b.Clear(key)
}

// AssertValue adds an optimistic-concurrency precondition: the write fails
// with store.ErrAssertionFailed unless the stored value at key currently
// equals currentArchive (nil means "key must not exist").
func (b *Builder) AssertValue(key kv.Key, currentArchive []byte) *Builder {
	b.ops = append(b.ops, store.Op{Kind: store.OpAssertValue, Key: key, Value: currentArchive})
	return b
}

// DeleteRange removes every key in [begin, end).
func (b *Builder) DeleteRange(begin, end kv.Key) *Builder {
	b.ops = append(b.ops, store.Op{Kind: store.OpDeleteRange, Key: begin, End: end})
	return b
}

func (b *Builder) accum(sc kv.SyncCollection) *logAccum {
	return b.accumFor(b.account, sc)
}

func (b *Builder) accumFor(account uint32, sc kv.SyncCollection) *logAccum {
	k := uint64(account)<<8 | uint64(sc)
	a, ok := b.logs[k]
	if !ok {
		a = &logAccum{account: account, sc: sc}
		b.logs[k] = a
	}
	return a
}

// LogForeignItem appends a change-log entry against another account's
// sync-collection, used for cross-account notifications (e.g. an ACL grant
// notifying the grantee) where the entry does not belong in the builder's
// own account.
func (b *Builder) LogForeignItem(account uint32, sc kv.SyncCollection, kind changelog.ItemKind, docID uint32) *Builder {
	a := b.accumFor(account, sc)
	a.items = append(a.items, changelog.Item{Kind: kind, DocID: docID})
	return b
}

// LogItem appends an inserted/updated/deleted entry for the builder's
// current document to sc's change-log accumulator.
func (b *Builder) LogItem(sc kv.SyncCollection, kind changelog.ItemKind) *Builder {
	a := b.accum(sc)
	a.items = append(a.items, changelog.Item{Kind: kind, DocID: b.document})
	return b
}

// LogContainerInsert/LogContainerDelete record a container-level event
// (e.g. a mailbox gaining/losing a message) distinct from the document's
// own lifecycle entry.
func (b *Builder) LogContainerInsert(sc kv.SyncCollection, containerDoc uint32) *Builder {
	a := b.accum(sc)
	a.items = append(a.items, changelog.Item{Kind: changelog.ContainerEvent, DocID: containerDoc})
	return b
}

func (b *Builder) LogContainerDelete(sc kv.SyncCollection, containerDoc uint32) *Builder {
	return b.LogContainerInsert(sc, containerDoc)
}

// LogVanishedItem appends a tombstone so clients that saw docID before can
// reconcile deletion without a full re-enumeration.
func (b *Builder) LogVanishedItem(sc kv.SyncCollection, docID uint32) *Builder {
	a := b.accum(sc)
	a.items = append(a.items, changelog.Item{Kind: changelog.Vanished, DocID: docID})
	return b
}

// Custom delegates to an ObjectIndexBuilder to expand a document diff into
// ops on this Builder.
func (b *Builder) Custom(ob ObjectIndexBuilder) error {
	return ob.BuildOps(b)
}

// CommitPoint marks a sub-batch boundary: ops added so far form one
// logical unit before additional, independent ops continue accumulating.
// It does not itself split the batch; it is a marker large batches can
// split on (see IsLargeBatch).
func (b *Builder) CommitPoint() *Builder {
	b.commitPoints = append(b.commitPoints, len(b.ops))
	return b
}

// IsLargeBatch reports whether the builder has accumulated enough ops that
// the caller should flush via BuildAll and start a fresh Builder.
func (b *Builder) IsLargeBatch() bool {
	return len(b.ops) >= LargeBatchOps
}

// BuildAll consumes the builder and commits everything accumulated so far
// atomically, returning the change-id minted for this commit (zero if no
// change-log entries were logged).
func (b *Builder) BuildAll(ctx context.Context) (changeID int64, err error) {
	batch := &store.Batch{Ops: b.ops}
	for _, a := range b.logs {
		if len(a.items) == 0 {
			continue
		}
		batch.PendingLogs = append(batch.PendingLogs, store.PendingLog{
			Account: a.account,
			SC:      a.sc,
			Entry:   changelog.EncodeEntry(a.items),
		})
	}
	debug.Assertf(len(b.ops) > 0 || len(batch.PendingLogs) > 0, "BuildAll called on an empty batch")
	changeID, err = b.backend.Write(ctx, batch)
	if err == store.ErrAssertionFailed {
		stats.BatchAssertionFailures.Inc()
		return 0, err
	}
	if err == nil {
		stats.BatchCommits.Inc()
		if len(batch.PendingLogs) > 0 {
			stats.ChangeIDIssued.Inc()
		}
	}
	return changeID, err
}
