package memstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/stalwartgo/core/kv"
	"github.com/stalwartgo/core/store"
)

func open(t *testing.T) *Backend {
	t.Helper()
	b, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })
	return b
}

func TestGetSetRoundTrip(t *testing.T) {
	b := open(t)
	ctx := context.Background()
	key := kv.PropertyKey(1, kv.Email, 7, 0)

	_, found, err := b.Get(ctx, key)
	require.NoError(t, err)
	require.False(t, found)

	_, err = b.Write(ctx, &store.Batch{Ops: []store.Op{{Kind: store.OpSet, Key: key, Value: []byte("hello")}}})
	require.NoError(t, err)

	v, found, err := b.Get(ctx, key)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "hello", string(v))
}

func TestOpClearRemovesValue(t *testing.T) {
	b := open(t)
	ctx := context.Background()
	key := kv.PropertyKey(1, kv.Email, 7, 0)

	_, err := b.Write(ctx, &store.Batch{Ops: []store.Op{{Kind: store.OpSet, Key: key, Value: []byte("x")}}})
	require.NoError(t, err)
	_, err = b.Write(ctx, &store.Batch{Ops: []store.Op{{Kind: store.OpClear, Key: key}}})
	require.NoError(t, err)

	_, found, err := b.Get(ctx, key)
	require.NoError(t, err)
	require.False(t, found)
}

func TestChunkedValueRoundTrip(t *testing.T) {
	b := open(t)
	ctx := context.Background()
	key := kv.PropertyKey(1, kv.Email, 7, 0)

	big := make([]byte, store.ChunkThreshold*2+10)
	for i := range big {
		big[i] = byte(i)
	}
	_, err := b.Write(ctx, &store.Batch{Ops: []store.Op{{Kind: store.OpSet, Key: key, Value: big}}})
	require.NoError(t, err)

	v, found, err := b.Get(ctx, key)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, big, v)

	// Overwriting with a smaller value must clear stale continuations.
	small := []byte("small")
	_, err = b.Write(ctx, &store.Batch{Ops: []store.Op{{Kind: store.OpSet, Key: key, Value: small}}})
	require.NoError(t, err)
	v2, found, err := b.Get(ctx, key)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, small, v2)
}

func TestOpAssertValueSucceedsAndFails(t *testing.T) {
	b := open(t)
	ctx := context.Background()
	key := kv.PropertyKey(1, kv.Email, 7, 0)

	_, err := b.Write(ctx, &store.Batch{Ops: []store.Op{{Kind: store.OpSet, Key: key, Value: []byte("v1")}}})
	require.NoError(t, err)

	_, err = b.Write(ctx, &store.Batch{Ops: []store.Op{
		{Kind: store.OpAssertValue, Key: key, Value: []byte("v1")},
		{Kind: store.OpSet, Key: key, Value: []byte("v2")},
	}})
	require.NoError(t, err)

	_, err = b.Write(ctx, &store.Batch{Ops: []store.Op{
		{Kind: store.OpAssertValue, Key: key, Value: []byte("wrong")},
		{Kind: store.OpSet, Key: key, Value: []byte("v3")},
	}})
	require.ErrorIs(t, err, store.ErrAssertionFailed)

	// Failed assertion must abort the whole batch: value still v2.
	v, _, err := b.Get(ctx, key)
	require.NoError(t, err)
	require.Equal(t, "v2", string(v))
}

func TestOpAddCounterAccumulates(t *testing.T) {
	b := open(t)
	ctx := context.Background()
	key := kv.PropertyKey(1, kv.Email, 7, 1)

	_, err := b.Write(ctx, &store.Batch{Ops: []store.Op{{Kind: store.OpAddCounter, Key: key, Delta: 5}}})
	require.NoError(t, err)
	n, err := b.GetCounter(ctx, key)
	require.NoError(t, err)
	require.EqualValues(t, 5, n)

	_, err = b.Write(ctx, &store.Batch{Ops: []store.Op{{Kind: store.OpAddCounter, Key: key, Delta: -2}}})
	require.NoError(t, err)
	n, err = b.GetCounter(ctx, key)
	require.NoError(t, err)
	require.EqualValues(t, 3, n)
}

func TestGetCounterMissingIsZero(t *testing.T) {
	b := open(t)
	ctx := context.Background()
	n, err := b.GetCounter(ctx, kv.PropertyKey(1, kv.Email, 99, 1))
	require.NoError(t, err)
	require.Zero(t, n)
}

func TestIterateAscendingAndPrefixRange(t *testing.T) {
	b := open(t)
	ctx := context.Background()

	var ops []store.Op
	for doc := uint32(1); doc <= 5; doc++ {
		ops = append(ops, store.Op{Kind: store.OpSet, Key: kv.PropertyKey(1, kv.Email, doc, 0), Value: []byte{byte(doc)}})
	}
	_, err := b.Write(ctx, &store.Batch{Ops: ops})
	require.NoError(t, err)

	prefix := kv.PropertyKey(1, kv.Email, 0, 0)[:5]
	var seen []byte
	err = b.Iterate(ctx, store.PrefixRange(prefix), true, true, func(key kv.Key, value []byte) (bool, error) {
		seen = append(seen, value[0])
		return true, nil
	})
	require.NoError(t, err)
	require.Equal(t, []byte{1, 2, 3, 4, 5}, seen)
}

func TestIterateDescending(t *testing.T) {
	b := open(t)
	ctx := context.Background()

	var ops []store.Op
	for doc := uint32(1); doc <= 3; doc++ {
		ops = append(ops, store.Op{Kind: store.OpSet, Key: kv.PropertyKey(1, kv.Email, doc, 0), Value: []byte{byte(doc)}})
	}
	_, err := b.Write(ctx, &store.Batch{Ops: ops})
	require.NoError(t, err)

	prefix := kv.PropertyKey(1, kv.Email, 0, 0)[:5]
	rng := store.PrefixRange(prefix)
	var seen []byte
	err = b.Iterate(ctx, rng, false, true, func(key kv.Key, value []byte) (bool, error) {
		seen = append(seen, value[0])
		return true, nil
	})
	require.NoError(t, err)
	require.Equal(t, []byte{3, 2, 1}, seen)
}

func TestIterateStopsEarly(t *testing.T) {
	b := open(t)
	ctx := context.Background()

	var ops []store.Op
	for doc := uint32(1); doc <= 5; doc++ {
		ops = append(ops, store.Op{Kind: store.OpSet, Key: kv.PropertyKey(1, kv.Email, doc, 0), Value: []byte{byte(doc)}})
	}
	_, err := b.Write(ctx, &store.Batch{Ops: ops})
	require.NoError(t, err)

	prefix := kv.PropertyKey(1, kv.Email, 0, 0)[:5]
	count := 0
	err = b.Iterate(ctx, store.PrefixRange(prefix), true, false, func(key kv.Key, value []byte) (bool, error) {
		count++
		return count < 2, nil
	})
	require.NoError(t, err)
	require.Equal(t, 2, count)
}

func TestDeleteRangeRemovesAllKeysInPrefix(t *testing.T) {
	b := open(t)
	ctx := context.Background()

	var ops []store.Op
	for doc := uint32(1); doc <= 3; doc++ {
		ops = append(ops, store.Op{Kind: store.OpSet, Key: kv.PropertyKey(1, kv.Email, doc, 0), Value: []byte{byte(doc)}})
	}
	_, err := b.Write(ctx, &store.Batch{Ops: ops})
	require.NoError(t, err)

	prefix := kv.PropertyKey(1, kv.Email, 0, 0)[:5]
	rng := store.PrefixRange(prefix)
	require.NoError(t, b.DeleteRange(ctx, rng.Begin, rng.End))

	var seen int
	err = b.Iterate(ctx, store.PrefixRange(prefix), true, false, func(key kv.Key, value []byte) (bool, error) {
		seen++
		return true, nil
	})
	require.NoError(t, err)
	require.Zero(t, seen)
}

func TestBlobPutGetByteRangeAndDelete(t *testing.T) {
	b := open(t)
	ctx := context.Background()
	key := kv.PropertyKey(1, kv.Email, 7, 0)

	require.NoError(t, b.PutBlob(ctx, key, []byte("0123456789")))

	v, found, err := b.GetBlob(ctx, key, [2]int64{2, 5})
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "234", string(v))

	full, found, err := b.GetBlob(ctx, key, [2]int64{0, 0})
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "0123456789", string(full))

	require.NoError(t, b.DeleteBlob(ctx, key))
	_, found, err = b.GetBlob(ctx, key, [2]int64{0, 0})
	require.NoError(t, err)
	require.False(t, found)
}

func TestWritePendingLogsMintsChangeID(t *testing.T) {
	b := open(t)
	ctx := context.Background()

	id1, err := b.Write(ctx, &store.Batch{PendingLogs: []store.PendingLog{{Account: 1, SC: kv.SyncMail, Entry: []byte("e1")}}})
	require.NoError(t, err)
	require.NotZero(t, id1)

	id2, err := b.Write(ctx, &store.Batch{PendingLogs: []store.PendingLog{{Account: 1, SC: kv.SyncMail, Entry: []byte("e2")}}})
	require.NoError(t, err)
	require.Greater(t, id2, id1)

	v, found, err := b.Get(ctx, kv.LogKey(1, kv.SyncMail, id1))
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "e1", string(v))
}

func TestWriteWithoutPendingLogsDoesNotMintChangeID(t *testing.T) {
	b := open(t)
	ctx := context.Background()
	id, err := b.Write(ctx, &store.Batch{Ops: []store.Op{{Kind: store.OpSet, Key: kv.PropertyKey(1, kv.Email, 1, 0), Value: []byte("x")}}})
	require.NoError(t, err)
	require.Zero(t, id)
}
