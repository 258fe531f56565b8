// Package search implements the primary, KV-embedded term index: per-term
// document postings stored as compressed bitmaps under the SEARCH_INDEX
// subspace, plus a stack-machine filter evaluator over And/Or/Not/Leaf.
/*
 * Copyright (c) 2018-2020, NVIDIA CORPORATION. All rights reserved.
 */
package search

import (
	"context"

	"github.com/OneOfOne/xxhash"
	"github.com/RoaringBitmap/roaring/v2"

	"github.com/stalwartgo/core/cmn"
	"github.com/stalwartgo/core/kv"
	"github.com/stalwartgo/core/store"
)

const termHashSeed = 0x2545f4914f6cdd1d

// TermHash reduces a tokenized term to the 64-bit value used as a
// SEARCH_INDEX key suffix. Short terms still go through the hash so the
// key width stays fixed; collisions only ever merge postings of distinct
// terms into one bitmap, never lose documents.
func TermHash(term string) uint64 {
	return xxhash.Checksum64S([]byte(term), termHashSeed)
}

// Index is the primary embedded search backend.
type Index struct {
	backend store.Backend
}

func New(backend store.Backend) *Index { return &Index{backend: backend} }

const primaryIndexID byte = 0

func (idx *Index) key(account uint32, field byte, hash uint64) kv.Key {
	return kv.SearchIndexKey(primaryIndexID, account, hash, field)
}

func (idx *Index) loadBitmap(ctx context.Context, account uint32, field byte, hash uint64) (*roaring.Bitmap, error) {
	data, found, err := idx.backend.Get(ctx, idx.key(account, field, hash))
	if err != nil {
		return nil, cmn.CausedBy("search.loadBitmap", err)
	}
	bm := roaring.NewBitmap()
	if found {
		if _, err := bm.FromBuffer(data); err != nil {
			return nil, &cmn.CorruptKeyError{Subspace: byte(kv.SEARCH_INDEX), Reason: err.Error()}
		}
	}
	return bm, nil
}

// Post adds docID to the postings for every hash under (account, field).
func (idx *Index) Post(ctx context.Context, account uint32, field byte, hashes []uint64, docID uint32) error {
	var ops []store.Op
	for _, h := range hashes {
		bm, err := idx.loadBitmap(ctx, account, field, h)
		if err != nil {
			return err
		}
		bm.Add(docID)
		buf, err := bm.ToBytes()
		if err != nil {
			return cmn.CausedBy("search.Post", err)
		}
		ops = append(ops, store.Op{Kind: store.OpSet, Key: idx.key(account, field, h), Value: buf})
	}
	_, err := idx.backend.Write(ctx, &store.Batch{Ops: ops})
	return cmn.CausedBy("search.Post", err)
}

// Unpost removes docID from the postings for every hash under (account, field).
func (idx *Index) Unpost(ctx context.Context, account uint32, field byte, hashes []uint64, docID uint32) error {
	var ops []store.Op
	for _, h := range hashes {
		bm, err := idx.loadBitmap(ctx, account, field, h)
		if err != nil {
			return err
		}
		bm.Remove(docID)
		if bm.IsEmpty() {
			ops = append(ops, store.Op{Kind: store.OpClear, Key: idx.key(account, field, h)})
			continue
		}
		buf, err := bm.ToBytes()
		if err != nil {
			return cmn.CausedBy("search.Unpost", err)
		}
		ops = append(ops, store.Op{Kind: store.OpSet, Key: idx.key(account, field, h), Value: buf})
	}
	_, err := idx.backend.Write(ctx, &store.Batch{Ops: ops})
	return cmn.CausedBy("search.Unpost", err)
}

// Lookup returns the current posting bitmap for one (account, field, term-hash).
func (idx *Index) Lookup(ctx context.Context, account uint32, field byte, hash uint64) (*roaring.Bitmap, error) {
	return idx.loadBitmap(ctx, account, field, hash)
}
