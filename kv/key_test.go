package kv

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestIndexKeyDocumentIDRoundTrip(t *testing.T) {
	k := IndexKey(1, Email, 3, []byte("token"), 12345)
	id, err := DocumentIDFromIndexKey(k)
	require.NoError(t, err)
	require.Equal(t, uint32(12345), id)
}

func TestIndexPrefixIsPrefixOfIndexKey(t *testing.T) {
	prefix := IndexPrefix(1, Email, 3, []byte("token"))
	full := IndexKey(1, Email, 3, []byte("token"), 99)
	require.True(t, bytes.HasPrefix(full, prefix))
}

func TestIndexFieldPrefixScopesAcrossValues(t *testing.T) {
	prefix := IndexFieldPrefix(1, Email, 3)
	a := IndexKey(1, Email, 3, []byte("aaa"), 1)
	b := IndexKey(1, Email, 3, []byte("zzz"), 2)
	require.True(t, bytes.HasPrefix(a, prefix))
	require.True(t, bytes.HasPrefix(b, prefix))

	other := IndexKey(1, Email, 4, []byte("aaa"), 1)
	require.False(t, bytes.HasPrefix(other, prefix))
}

func TestTaskKeyOrdersByDueTS(t *testing.T) {
	early := TaskKey(1000, 1, 1, 0)
	late := TaskKey(2000, 1, 1, 0)
	require.True(t, bytes.Compare(early, late) < 0)
}

func TestTaskScanFromSortsAfterEarlierAndBeforeLaterTasks(t *testing.T) {
	scan := TaskScanFrom(2000)
	due := TaskKey(1000, 1, 1, 0)
	notDue := TaskKey(3000, 1, 1, 0)
	require.True(t, bytes.Compare(due, scan) <= 0)
	require.True(t, bytes.Compare(notDue, scan) > 0)
}

func TestQueueEventKeyOrdersByDueTS(t *testing.T) {
	early := QueueEventKey(100, 1, 0)
	late := QueueEventKey(200, 1, 0)
	require.True(t, bytes.Compare(early, late) < 0)
}

func TestQueueScanFromSortsAfterEarlierAndBeforeLaterEvents(t *testing.T) {
	scan := QueueScanFrom(2000)
	due := QueueEventKey(1000, 1, 0)
	notDue := QueueEventKey(3000, 1, 0)
	require.True(t, bytes.Compare(due, scan) <= 0)
	require.True(t, bytes.Compare(notDue, scan) > 0)
}

func TestACLPrefixScopesToResource(t *testing.T) {
	prefix := ACLPrefix(1, FileNode, 10)
	k := ACLKey(1, FileNode, 10, 99)
	require.True(t, bytes.HasPrefix(k, prefix))

	other := ACLKey(1, FileNode, 11, 99)
	require.False(t, bytes.HasPrefix(other, prefix))
}

func TestPutGetUvarintRoundTrip(t *testing.T) {
	for _, v := range []uint64{0, 1, 127, 128, 300, 1 << 40} {
		buf := PutUvarint(nil, v)
		got, n := GetUvarint(buf)
		require.Equal(t, v, got)
		require.Equal(t, len(buf), n)
	}
}

func TestChunkKeyAppendsOneByte(t *testing.T) {
	head := BlobKey([]byte("hash"))
	k0 := ChunkKey(head, 0)
	k1 := ChunkKey(head, 1)
	require.Len(t, k0, len(head)+1)
	require.NotEqual(t, k0, k1)
	require.True(t, bytes.HasPrefix(k0, head))
}

func TestDirectoryKeyDistinguishesDocuments(t *testing.T) {
	a := DirectoryKey(1, Email, 1)
	b := DirectoryKey(1, Email, 2)
	require.NotEqual(t, a, b)
}
