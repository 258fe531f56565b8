// Package graph implements the (id -> parent-id) edge storage used for
// email threads and mailbox/folder trees: iterative ancestor walks over an
// explicit visited set, and cycle-refusing edge updates.
/*
 * Copyright (c) 2018-2020, NVIDIA CORPORATION. All rights reserved.
 */
package graph

import (
	"context"
	"errors"

	"github.com/stalwartgo/core/cmn"
	"github.com/stalwartgo/core/kv"
	"github.com/stalwartgo/core/store"
)

// ErrCycle is returned by SetParent when the proposed edge would close a
// cycle (newParent is child's own descendant, or child itself).
var ErrCycle = errors.New("graph: edge would close a cycle")

// Parent returns docID's current parent, and false if docID is a root (or
// has no recorded edge).
func Parent(ctx context.Context, backend store.Backend, account uint32, coll kv.Collection, docID uint32) (parent uint32, ok bool, err error) {
	v, found, err := backend.Get(ctx, kv.DirectoryKey(account, coll, docID))
	if err != nil {
		return 0, false, cmn.CausedBy("graph.Parent", err)
	}
	if !found || len(v) != 4 {
		return 0, false, nil
	}
	return beUint32(v), true, nil
}

// Ancestors walks from docID to the root, returning every ancestor id in
// order (nearest first). A malformed or cyclic chain found in storage
// (which SetParent should have prevented) is detected via the visited set
// and surfaced as a corruption error rather than looping forever.
func Ancestors(ctx context.Context, backend store.Backend, account uint32, coll kv.Collection, docID uint32) ([]uint32, error) {
	visited := map[uint32]bool{docID: true}
	var out []uint32
	cur := docID
	for {
		parent, ok, err := Parent(ctx, backend, account, coll, cur)
		if err != nil {
			return nil, err
		}
		if !ok {
			return out, nil
		}
		if visited[parent] {
			return nil, &cmn.CorruptKeyError{Subspace: byte(kv.DIRECTORY), Reason: "cyclic parent chain"}
		}
		visited[parent] = true
		out = append(out, parent)
		cur = parent
	}
}

// IsDescendant reports whether candidate appears in docID's closure of
// descendants, computed as "is docID reachable by walking up from
// candidate" — i.e. candidate != docID and docID is one of candidate's
// ancestors.
func IsDescendant(ctx context.Context, backend store.Backend, account uint32, coll kv.Collection, docID, candidate uint32) (bool, error) {
	if candidate == docID {
		return false, nil
	}
	ancestors, err := Ancestors(ctx, backend, account, coll, candidate)
	if err != nil {
		return false, err
	}
	for _, a := range ancestors {
		if a == docID {
			return true, nil
		}
	}
	return false, nil
}

// SetParent records child's parent as newParent, refusing (ErrCycle) any
// edge whose closure would make child its own ancestor — i.e. newParent is
// child itself or one of child's current descendants. The descendant case
// is caught by walking newParent's full ancestor chain and refusing if
// child appears in it.
func SetParent(ctx context.Context, backend store.Backend, account uint32, coll kv.Collection, child, newParent uint32) error {
	if child == newParent {
		return ErrCycle
	}
	ancestors, err := Ancestors(ctx, backend, account, coll, newParent)
	if err != nil {
		return err
	}
	for _, a := range ancestors {
		if a == child {
			return ErrCycle
		}
	}
	var pb [4]byte
	be32(pb[:], newParent)
	_, err = backend.Write(ctx, &store.Batch{Ops: []store.Op{
		{Kind: store.OpSet, Key: kv.DirectoryKey(account, coll, child), Value: pb[:]},
	}})
	return cmn.CausedBy("graph.SetParent", err)
}

// ClearParent removes child's edge, making it a root.
func ClearParent(ctx context.Context, backend store.Backend, account uint32, coll kv.Collection, child uint32) error {
	_, err := backend.Write(ctx, &store.Batch{Ops: []store.Op{
		{Kind: store.OpClear, Key: kv.DirectoryKey(account, coll, child)},
	}})
	return cmn.CausedBy("graph.ClearParent", err)
}

func beUint32(b []byte) uint32 {
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
}

func be32(dst []byte, v uint32) {
	dst[0] = byte(v >> 24)
	dst[1] = byte(v >> 16)
	dst[2] = byte(v >> 8)
	dst[3] = byte(v)
}
