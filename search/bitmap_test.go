package search

import (
	"context"
	"testing"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/stretchr/testify/require"

	"github.com/stalwartgo/core/store/memstore"
)

func TestPostAndLookup(t *testing.T) {
	backend, err := memstore.Open(":memory:")
	require.NoError(t, err)
	defer backend.Close()

	idx := New(backend)
	ctx := context.Background()
	hash := TermHash("hello")

	require.NoError(t, idx.Post(ctx, 1, 0, []uint64{hash}, 10))
	require.NoError(t, idx.Post(ctx, 1, 0, []uint64{hash}, 11))

	bm, err := idx.Lookup(ctx, 1, 0, hash)
	require.NoError(t, err)
	require.True(t, bm.Contains(10))
	require.True(t, bm.Contains(11))

	require.NoError(t, idx.Unpost(ctx, 1, 0, []uint64{hash}, 10))
	bm, err = idx.Lookup(ctx, 1, 0, hash)
	require.NoError(t, err)
	require.False(t, bm.Contains(10))
	require.True(t, bm.Contains(11))
}

func TestFilterEvalAndOrNot(t *testing.T) {
	backend, err := memstore.Open(":memory:")
	require.NoError(t, err)
	defer backend.Close()

	idx := New(backend)
	ctx := context.Background()
	hA := TermHash("alpha")
	hB := TermHash("beta")

	require.NoError(t, idx.Post(ctx, 1, 0, []uint64{hA}, 1))
	require.NoError(t, idx.Post(ctx, 1, 0, []uint64{hA}, 2))
	require.NoError(t, idx.Post(ctx, 1, 0, []uint64{hB}, 2))
	require.NoError(t, idx.Post(ctx, 1, 0, []uint64{hB}, 3))

	universe := roaring.BitmapOf(1, 2, 3)

	// alpha AND beta == {2}
	prog := []Instr{
		{Op: OpLeaf, Account: 1, Field: 0, Hash: hA},
		{Op: OpLeaf, Account: 1, Field: 0, Hash: hB},
		{Op: OpAnd},
		{Op: OpEnd},
	}
	result, err := Eval(ctx, idx, prog, universe)
	require.NoError(t, err)
	require.Equal(t, []uint32{2}, result.ToArray())

	// NOT alpha == {3}
	prog = []Instr{
		{Op: OpLeaf, Account: 1, Field: 0, Hash: hA},
		{Op: OpNot},
		{Op: OpEnd},
	}
	result, err = Eval(ctx, idx, prog, universe)
	require.NoError(t, err)
	require.Equal(t, []uint32{3}, result.ToArray())

	// alpha OR beta == {1,2,3}
	prog = []Instr{
		{Op: OpLeaf, Account: 1, Field: 0, Hash: hA},
		{Op: OpLeaf, Account: 1, Field: 0, Hash: hB},
		{Op: OpOr},
		{Op: OpEnd},
	}
	result, err = Eval(ctx, idx, prog, universe)
	require.NoError(t, err)
	require.Equal(t, []uint32{1, 2, 3}, result.ToArray())
}
