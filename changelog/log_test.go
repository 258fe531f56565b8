package changelog

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/stalwartgo/core/kv"
	"github.com/stalwartgo/core/store"
	"github.com/stalwartgo/core/store/memstore"
)

func TestEncodeDecodeEntryRoundTrip(t *testing.T) {
	items := []Item{
		{Kind: Inserted, DocID: 1},
		{Kind: Updated, DocID: 2},
		{Kind: Vanished, DocID: 3},
	}
	data := EncodeEntry(items)
	got, err := DecodeEntry(data)
	require.NoError(t, err)
	require.Equal(t, items, got)
}

func TestDecodeEntryRejectsTruncated(t *testing.T) {
	data := EncodeEntry([]Item{{Kind: Inserted, DocID: 1}})
	_, err := DecodeEntry(data[:len(data)-2])
	require.Error(t, err)
}

func TestLatestStateInitialWhenEmpty(t *testing.T) {
	backend, err := memstore.Open(":memory:")
	require.NoError(t, err)
	defer backend.Close()
	ctx := context.Background()

	log := New(backend)
	st, err := log.LatestState(ctx, 1, kv.SyncFileNode)
	require.NoError(t, err)
	require.True(t, st.Initial)
}

func TestChangesSinceAndLatestState(t *testing.T) {
	backend, err := memstore.Open(":memory:")
	require.NoError(t, err)
	defer backend.Close()
	ctx := context.Background()

	writeEntry := func(items []Item) {
		_, err := backend.Write(ctx, &store.Batch{PendingLogs: []store.PendingLog{
			{Account: 1, SC: kv.SyncFileNode, Entry: EncodeEntry(items)},
		}})
		require.NoError(t, err)
	}

	writeEntry([]Item{{Kind: Inserted, DocID: 1}})
	writeEntry([]Item{{Kind: Updated, DocID: 1}})

	log := New(backend)
	initial, err := log.ChangesSince(ctx, 1, kv.SyncFileNode, State{Initial: true})
	require.NoError(t, err)
	require.Len(t, initial, 2)
	require.Less(t, initial[0].ChangeID, initial[1].ChangeID)

	latest, err := log.LatestState(ctx, 1, kv.SyncFileNode)
	require.NoError(t, err)
	require.False(t, latest.Initial)
	require.Equal(t, initial[1].ChangeID, latest.ChangeID)

	since, err := log.ChangesSince(ctx, 1, kv.SyncFileNode, latest)
	require.NoError(t, err)
	require.Empty(t, since)
}

func TestStateString(t *testing.T) {
	require.Equal(t, "initial", State{Initial: true}.String())
	require.Equal(t, "change:5", State{ChangeID: 5}.String())
}
