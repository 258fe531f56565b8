package blob

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/stalwartgo/core/kv"
	"github.com/stalwartgo/core/store/memstore"
)

func TestHashInlineVsFingerprint(t *testing.T) {
	short := []byte("hello")
	h := Hash(short)
	require.Equal(t, byte(len(short)), h[0])
	require.Equal(t, short, h[1:])

	long := make([]byte, 1000)
	for i := range long {
		long[i] = byte(i)
	}
	h2 := Hash(long)
	require.Equal(t, byte(0xff), h2[0])
	require.Len(t, h2, 9)
}

func TestReserveAndQuota(t *testing.T) {
	backend, err := memstore.Open(":memory:")
	require.NoError(t, err)
	defer backend.Close()

	s := New(backend)
	ctx := context.Background()
	q := Quota{AccountID: 1, MaxBytes: 100, MaxCount: 10}

	hash, err := s.Reserve(ctx, q, []byte("payload"), 1_700_000_000_000)
	require.NoError(t, err)
	require.NotEmpty(t, hash)

	data, found, err := s.Get(ctx, hash, [2]int64{0, -1})
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "payload", string(data))
}

func TestReserveQuotaExceeded(t *testing.T) {
	backend, err := memstore.Open(":memory:")
	require.NoError(t, err)
	defer backend.Close()

	s := New(backend)
	ctx := context.Background()
	q := Quota{AccountID: 1, MaxBytes: 4, MaxCount: 10}

	_, err = s.Reserve(ctx, q, []byte("too long"), 0)
	require.Error(t, err)
}

func TestGCReclaimsExpiredReserved(t *testing.T) {
	backend, err := memstore.Open(":memory:")
	require.NoError(t, err)
	defer backend.Close()

	s := New(backend)
	ctx := context.Background()
	q := Quota{AccountID: 1, MaxBytes: 1000, MaxCount: 10}

	hash, err := s.Reserve(ctx, q, []byte("payload"), 1000)
	require.NoError(t, err)

	res, err := Sweep(ctx, backend, 2000)
	require.NoError(t, err)
	require.Equal(t, 1, res.BlobsDeleted)
	require.Equal(t, 1, res.ReservedExpired)

	_, found, err := s.Get(ctx, hash, [2]int64{0, -1})
	require.NoError(t, err)
	require.False(t, found)
}

func TestGCKeepsLinkedBlob(t *testing.T) {
	backend, err := memstore.Open(":memory:")
	require.NoError(t, err)
	defer backend.Close()

	s := New(backend)
	ctx := context.Background()
	q := Quota{AccountID: 1, MaxBytes: 1000, MaxCount: 10}

	hash, err := s.Reserve(ctx, q, []byte("payload"), 1000)
	require.NoError(t, err)
	require.NoError(t, s.Link(ctx, hash, 1, kv.Email, 42))

	res, err := Sweep(ctx, backend, 2000)
	require.NoError(t, err)
	require.Equal(t, 0, res.BlobsDeleted)
	require.Equal(t, 1, res.ReservedExpired)

	_, found, err := s.Get(ctx, hash, [2]int64{0, -1})
	require.NoError(t, err)
	require.True(t, found)
}
