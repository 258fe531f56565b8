package batch

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/stalwartgo/core/changelog"
	"github.com/stalwartgo/core/kv"
	"github.com/stalwartgo/core/stats"
	"github.com/stalwartgo/core/store/memstore"
)

func openBackend(t *testing.T) *memstore.Backend {
	t.Helper()
	b, err := memstore.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })
	return b
}

func TestCommitPointMarksOpOffsetsWithoutSplitting(t *testing.T) {
	backend := openBackend(t)
	b := New(backend).WithAccount(1).WithCollection(kv.Email).WithDocument(7)
	b.Set(kv.PropertyKey(1, kv.Email, 7, 0), []byte("a"))
	b.CommitPoint()
	b.Set(kv.PropertyKey(1, kv.Email, 7, 1), []byte("b"))
	require.Equal(t, []int{1}, b.commitPoints)
	require.Len(t, b.ops, 2)
}

func TestIsLargeBatch(t *testing.T) {
	backend := openBackend(t)
	b := New(backend).WithAccount(1).WithCollection(kv.Email).WithDocument(1)
	require.False(t, b.IsLargeBatch())
	for i := 0; i < LargeBatchOps; i++ {
		b.Set(kv.PropertyKey(1, kv.Email, uint32(i), 0), []byte{1})
	}
	require.True(t, b.IsLargeBatch())
}

func TestAssertValueFailureAbortsBatchAndIncrementsStat(t *testing.T) {
	backend := openBackend(t)
	ctx := context.Background()
	key := kv.PropertyKey(1, kv.Email, 7, 0)

	_, err := New(backend).WithAccount(1).Set(key, []byte("v1")).BuildAll(ctx)
	require.NoError(t, err)

	before := testutil.ToFloat64(stats.BatchAssertionFailures)

	b := New(backend).WithAccount(1)
	b.AssertValue(key, []byte("wrong")).Set(key, []byte("v2"))
	_, err = b.BuildAll(ctx)
	require.Error(t, err)

	after := testutil.ToFloat64(stats.BatchAssertionFailures)
	require.Equal(t, before+1, after)

	v, found, err := backend.Get(ctx, key)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "v1", string(v))
}

func TestLogForeignItemAccumulatesUnderForeignAccount(t *testing.T) {
	backend := openBackend(t)
	ctx := context.Background()

	b := New(backend).WithAccount(1).WithCollection(kv.Email).WithDocument(7)
	b.LogItem(kv.SyncMail, changelog.Inserted)
	b.LogForeignItem(2, kv.SyncMail, changelog.Inserted, 99)

	require.Len(t, b.logs, 2)
	own := b.accumFor(1, kv.SyncMail)
	require.Len(t, own.items, 1)
	require.Equal(t, uint32(7), own.items[0].DocID)

	foreign := b.accumFor(2, kv.SyncMail)
	require.Len(t, foreign.items, 1)
	require.Equal(t, uint32(99), foreign.items[0].DocID)

	changeID, err := b.BuildAll(ctx)
	require.NoError(t, err)
	require.NotZero(t, changeID)

	v, found, err := backend.Get(ctx, kv.LogKey(2, kv.SyncMail, changeID))
	require.NoError(t, err)
	require.True(t, found)
	require.NotEmpty(t, v)
}

func TestBuildAllIncrementsCommitAndChangeIDStats(t *testing.T) {
	backend := openBackend(t)
	ctx := context.Background()

	commitsBefore := testutil.ToFloat64(stats.BatchCommits)
	changeIDBefore := testutil.ToFloat64(stats.ChangeIDIssued)

	b := New(backend).WithAccount(1).WithCollection(kv.Email).WithDocument(1)
	b.Set(kv.PropertyKey(1, kv.Email, 1, 0), []byte("x"))
	b.LogItem(kv.Email, changelog.Inserted)
	_, err := b.BuildAll(ctx)
	require.NoError(t, err)

	require.Equal(t, commitsBefore+1, testutil.ToFloat64(stats.BatchCommits))
	require.Equal(t, changeIDBefore+1, testutil.ToFloat64(stats.ChangeIDIssued))
}

func TestBuildAllWithoutLogItemsDoesNotIssueChangeID(t *testing.T) {
	backend := openBackend(t)
	ctx := context.Background()

	changeIDBefore := testutil.ToFloat64(stats.ChangeIDIssued)

	b := New(backend).WithAccount(1).WithCollection(kv.Email).WithDocument(1)
	b.Set(kv.PropertyKey(1, kv.Email, 1, 0), []byte("x"))
	changeID, err := b.BuildAll(ctx)
	require.NoError(t, err)
	require.Zero(t, changeID)
	require.Equal(t, changeIDBefore, testutil.ToFloat64(stats.ChangeIDIssued))
}

func TestAddCounterZeroDeltaIsNoop(t *testing.T) {
	backend := openBackend(t)
	b := New(backend).WithAccount(1)
	b.AddCounter(kv.PropertyKey(1, kv.Email, 1, 2), 0)
	require.Empty(t, b.ops)
}

func TestIndexAndUnindex(t *testing.T) {
	backend := openBackend(t)
	ctx := context.Background()
	b := New(backend).WithAccount(1).WithCollection(kv.Email).WithDocument(7)
	b.Index(2, []byte("subject-token"))
	_, err := b.BuildAll(ctx)
	require.NoError(t, err)

	key := kv.IndexKey(1, kv.Email, 2, []byte("subject-token"), 7)
	_, found, err := backend.Get(ctx, key)
	require.NoError(t, err)
	require.True(t, found)

	b2 := New(backend).WithAccount(1).WithCollection(kv.Email).WithDocument(7)
	b2.Unindex(2, []byte("subject-token"))
	_, err = b2.BuildAll(ctx)
	require.NoError(t, err)

	_, found, err = backend.Get(ctx, key)
	require.NoError(t, err)
	require.False(t, found)
}
