// Package store abstracts the pluggable key-value backend that all
// persistent state flows through. Every other package in the core —
// batch, index, blob, search, changelog, queue, task, push — talks to
// storage only through the Backend interface here; the concrete backend
// (in-memory/embedded, or a future distributed one) is invisible above
// this package.
/*
 * Copyright (c) 2018-2020, NVIDIA CORPORATION. All rights reserved.
 */
package store

import (
	"context"

	"github.com/stalwartgo/core/kv"
)

// OpKind enumerates the low-level primitives a Batch can carry.
type OpKind byte

const (
	OpSet OpKind = iota
	OpClear
	OpAddCounter
	OpAssertValue
	OpDeleteRange
)

// Op is one typed operation inside a Batch. Only the fields relevant to
// Kind are meaningful; the rest are zero.
type Op struct {
	Kind  OpKind
	Key   kv.Key
	Value []byte // OpSet
	Delta int64  // OpAddCounter
	End   kv.Key // OpDeleteRange (exclusive upper bound)
}

// PendingLog is a change-log entry whose key cannot be finalized until the
// backend mints this commit's change-id. The backend turns each PendingLog
// into an OpSet against kv.LogKey(Account, SC, <the id it just minted>)
// inside the same atomic transaction that applies Ops.
type PendingLog struct {
	Account uint32
	SC      kv.SyncCollection
	Entry   []byte // encoded list of (inserted|updated|deleted|container-event) document-ids, or a tombstone
}

// Batch is the unit of atomicity handed to a Backend: either every Op in it
// becomes visible, or none does.
type Batch struct {
	Ops         []Op
	PendingLogs []PendingLog
}

// ErrAssertionFailed is returned by Write when an OpAssertValue
// precondition does not hold. No op in the batch is applied.
var ErrAssertionFailed = errAssertionFailed{}

type errAssertionFailed struct{}

func (errAssertionFailed) Error() string { return "assertion failed: stored value does not match" }

// Range bounds an Iterate scan. End is exclusive; a nil End scans to the
// end of the subspace that Begin's first byte selects.
type Range struct {
	Begin kv.Key
	End   kv.Key
}

// PrefixRange builds a Range that covers every key with the given prefix.
func PrefixRange(prefix kv.Key) Range {
	end := make(kv.Key, len(prefix))
	copy(end, prefix)
	for i := len(end) - 1; i >= 0; i-- {
		if end[i] != 0xff {
			end[i]++
			return Range{Begin: prefix, End: end[:i+1]}
		}
	}
	return Range{Begin: prefix, End: nil} // prefix is all 0xff: unbounded above
}

// VisitFunc is called once per logical entry during Iterate. Returning
// false stops the scan early (e.g. once a filter's limit is reached).
type VisitFunc func(key kv.Key, value []byte) (cont bool, err error)

// Backend is the pluggable storage contract. The in-memory
// embedded backend under store/memstore is the required variant; a
// distributed backend can implement the same interface without any caller
// above this package noticing.
type Backend interface {
	// Get fetches one logical value, transparently reassembling chunked
	// continuations if the value was split on write.
	Get(ctx context.Context, key kv.Key) (value []byte, found bool, err error)

	// Iterate scans a Range in key order (ascending or descending),
	// reassembling chunked values when withValues is true. Continuation
	// keys are never surfaced to fn.
	Iterate(ctx context.Context, rng Range, ascending, withValues bool, fn VisitFunc) error

	// Write commits a Batch atomically and, when the batch carries log
	// ops, stamps them with one freshly minted change-id and returns it.
	Write(ctx context.Context, batch *Batch) (changeID int64, err error)

	// GetCounter reads a COUNTER/QUOTA subspace key's current value.
	GetCounter(ctx context.Context, key kv.Key) (int64, error)

	// DeleteRange removes every key in [begin, end) in one pass, used by
	// account purge.
	DeleteRange(ctx context.Context, begin, end kv.Key) error

	// PutBlob/GetBlob/DeleteBlob address the BLOBS subspace's payload
	// bytes directly; kept distinct from Get/Iterate because blob payloads
	// can be arbitrarily large and are never chunk-reassembled through the
	// property/index read path.
	PutBlob(ctx context.Context, key kv.Key, data []byte) error
	GetBlob(ctx context.Context, key kv.Key, byteRange [2]int64) (data []byte, found bool, err error)
	DeleteBlob(ctx context.Context, key kv.Key) error

	// Close releases backend resources (file handles, connections).
	Close() error
}
