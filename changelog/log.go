// Package changelog maintains the per-(account, sync-collection) monotonic
// change-id sequence and the LOGS subspace entries clients replay to
// resynchronize.
/*
 * Copyright (c) 2018-2020, NVIDIA CORPORATION. All rights reserved.
 */
package changelog

import (
	"context"
	"encoding/binary"
	"fmt"

	"github.com/stalwartgo/core/cmn"
	"github.com/stalwartgo/core/kv"
	"github.com/stalwartgo/core/store"
)

// ItemKind tags one document-id inside a change-log entry.
type ItemKind byte

const (
	Inserted ItemKind = iota
	Updated
	Deleted
	ContainerEvent
	// Vanished marks a tombstone: the document is gone and clients that
	// never saw it between their last sync and now can skip it entirely,
	// but clients that did see it must treat it as deleted.
	Vanished
)

// Item is one document's change within a single change-log entry.
type Item struct {
	Kind ItemKind
	DocID uint32
}

// EncodeEntry serializes a list of Items in the order the object index
// builder produced them: a uvarint item count, then one kind byte and a
// big-endian document-id per item.
func EncodeEntry(items []Item) []byte {
	buf := make([]byte, 0, 1+len(items)*5)
	buf = kv.PutUvarint(buf, uint64(len(items)))
	for _, it := range items {
		buf = append(buf, byte(it.Kind))
		var b [4]byte
		binary.BigEndian.PutUint32(b[:], it.DocID)
		buf = append(buf, b[:]...)
	}
	return buf
}

// DecodeEntry is EncodeEntry's inverse.
func DecodeEntry(b []byte) ([]Item, error) {
	n, off := kv.GetUvarint(b)
	if off <= 0 {
		return nil, &cmn.CorruptKeyError{Subspace: byte(kv.LOGS), Reason: "bad item count varint"}
	}
	items := make([]Item, 0, n)
	p := off
	for i := uint64(0); i < n; i++ {
		if p+5 > len(b) {
			return nil, &cmn.CorruptKeyError{Subspace: byte(kv.LOGS), Reason: fmt.Sprintf("truncated entry at item %d", i)}
		}
		kind := ItemKind(b[p])
		doc := binary.BigEndian.Uint32(b[p+1 : p+5])
		items = append(items, Item{Kind: kind, DocID: doc})
		p += 5
	}
	return items, nil
}

// State is the opaque client-facing sync token.
type State struct {
	Initial  bool
	ChangeID int64
}

func (s State) String() string {
	if s.Initial {
		return "initial"
	}
	return fmt.Sprintf("change:%d", s.ChangeID)
}

// Change is one decoded LOGS entry ready to hand back to a sync client.
type Change struct {
	ChangeID int64
	Items    []Item
}

// Log reads change-log entries for one (account, sync-collection).
type Log struct {
	backend store.Backend
}

func New(backend store.Backend) *Log { return &Log{backend: backend} }

// ChangesSince scans the LOGS subspace forward from (exclusive of) since,
// returning every change-log entry up to the current tail. Passing a zero
// State (Initial) starts from the very first entry.
func (l *Log) ChangesSince(ctx context.Context, account uint32, sc kv.SyncCollection, since State) ([]Change, error) {
	prefix := kv.LogPrefix(account, sc)
	begin := prefix
	if !since.Initial {
		begin = kv.LogKey(account, sc, since.ChangeID+1)
	}
	rng := store.Range{Begin: begin, End: nil}
	// Bound the scan to this (account, sc)'s prefix by stopping once the
	// key no longer shares it — buntdb AscendRange needs an explicit end,
	// so compute the prefix's successor.
	rng = store.PrefixRange(prefix)
	rng.Begin = begin

	var changes []Change
	err := l.backend.Iterate(ctx, rng, true, true, func(k kv.Key, v []byte) (bool, error) {
		items, err := DecodeEntry(v)
		if err != nil {
			return false, err
		}
		changeID, err := changeIDFromKey(k)
		if err != nil {
			return false, err
		}
		changes = append(changes, Change{ChangeID: changeID, Items: items})
		return true, nil
	})
	if err != nil {
		return nil, cmn.CausedBy("changelog.ChangesSince", err)
	}
	return changes, nil
}

func changeIDFromKey(k kv.Key) (int64, error) {
	if len(k) < 8 {
		return 0, &cmn.CorruptKeyError{Subspace: byte(kv.LOGS), Key: k, Reason: "key too short for change-id"}
	}
	tail := k[len(k)-8:]
	return int64(binary.BigEndian.Uint64(tail)), nil
}

// LatestState returns the current State for (account, sc): Initial if no
// entry has ever been written, otherwise Exact(latest change-id).
func (l *Log) LatestState(ctx context.Context, account uint32, sc kv.SyncCollection) (State, error) {
	prefix := kv.LogPrefix(account, sc)
	rng := store.PrefixRange(prefix)
	var latest int64
	found := false
	err := l.backend.Iterate(ctx, rng, false /*descending*/, false, func(k kv.Key, _ []byte) (bool, error) {
		id, err := changeIDFromKey(k)
		if err != nil {
			return false, err
		}
		latest = id
		found = true
		return false, nil // first (highest) entry is enough
	})
	if err != nil {
		return State{}, cmn.CausedBy("changelog.LatestState", err)
	}
	if !found {
		return State{Initial: true}, nil
	}
	return State{ChangeID: latest}, nil
}
