package search

import (
	"context"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/stalwartgo/core/cmn"
	"github.com/stalwartgo/core/kv"
	"github.com/stalwartgo/core/store"
)

// SortByIndex projects a result bitmap through an ordered scan of field's
// index entries, yielding doc-ids in ascending (or descending) order of
// their indexed value. Doc-ids in result that carry no entry for field are
// dropped silently — callers that need them present should index a
// default value rather than leave the field unset.
func SortByIndex(ctx context.Context, backend store.Backend, account uint32, coll kv.Collection, field byte, ascending bool, result *roaring.Bitmap) ([]uint32, error) {
	rng := store.PrefixRange(kv.IndexFieldPrefix(account, coll, field))
	ordered := make([]uint32, 0, result.GetCardinality())
	err := backend.Iterate(ctx, rng, ascending, false, func(k kv.Key, _ []byte) (bool, error) {
		docID, err := kv.DocumentIDFromIndexKey(k)
		if err != nil {
			return false, err
		}
		if result.Contains(docID) {
			ordered = append(ordered, docID)
		}
		return true, nil
	})
	if err != nil {
		return nil, cmn.CausedBy("search.SortByIndex", err)
	}
	return ordered, nil
}
