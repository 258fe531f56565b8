package backup

import (
	"bufio"
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/stalwartgo/core/kv"
)

func TestHeaderRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	h := Header{Subspace: kv.QUOTA, SchemaVersion: 3}
	require.NoError(t, WriteHeader(&buf, h))

	got, err := ReadHeader(bufio.NewReader(&buf))
	require.NoError(t, err)
	require.Equal(t, h, got)
}

func TestReadHeaderRejectsBadMagic(t *testing.T) {
	buf := bytes.NewBuffer([]byte{0x00, byte(kv.QUOTA), 0, 0, 0, 0})
	_, err := ReadHeader(bufio.NewReader(buf))
	require.Error(t, err)
}

func TestEntriesRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	entries := []Entry{
		{Key: []byte("k1"), Value: []byte("v1")},
		{Key: []byte("k2"), Value: []byte("")},
		{Key: []byte("k3"), Value: []byte("v3longer-value")},
	}
	for _, e := range entries {
		require.NoError(t, WriteEntry(&buf, e))
	}

	var got []Entry
	require.NoError(t, ReadEntries(bufio.NewReader(&buf), func(e Entry) error {
		got = append(got, e)
		return nil
	}))
	require.Len(t, got, 3)
	for i, e := range entries {
		require.Equal(t, e.Key, got[i].Key)
		require.Equal(t, string(e.Value), string(got[i].Value))
	}
}

func TestIsAdditive(t *testing.T) {
	require.True(t, IsAdditive(kv.COUNTER))
	require.True(t, IsAdditive(kv.QUOTA))
	require.False(t, IsAdditive(kv.PROPERTY))
}
