package broadcast

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeBatchAllTags(t *testing.T) {
	events := []Event{
		{Tag: TagStateChange, ChangeID: 100, Types: 3, Account: 1},
		{Tag: TagCalendarAlert, Account: 1, EventID: 7, RecurrenceID: 2, UID: "uid-1", AlertID: "alert-1"},
		{Tag: TagEmailPush, Account: 1, EmailID: 42, ChangeID: 101},
		{Tag: TagInvalidateAccessTokens, AccountIDs: []uint32{1, 2, 3}},
		{Tag: TagInvalidateGroupwareCache, AccountIDs: []uint32{4}},
		{Tag: TagReloadSettings},
		{Tag: TagReloadBlockedIps},
		{Tag: TagReloadPushServers, Account: 9},
		{Tag: TagReloadSpamFilter},
	}

	frame := EncodeBatch(7, events)
	nodeID, decoded, err := DecodeBatch(frame)
	require.NoError(t, err)
	require.Equal(t, uint16(7), nodeID)
	require.Equal(t, events, decoded)
}

func TestDecodeBatchEmptyAccountIDs(t *testing.T) {
	events := []Event{{Tag: TagInvalidateAccessTokens, AccountIDs: nil}}
	frame := EncodeBatch(1, events)
	_, decoded, err := DecodeBatch(frame)
	require.NoError(t, err)
	require.Len(t, decoded, 1)
	require.Empty(t, decoded[0].AccountIDs)
}

func TestDecodeBatchRejectsUnknownTag(t *testing.T) {
	frame := EncodeBatch(1, nil)
	frame = append(frame, 0xff) // unknown tag byte, no payload
	_, _, err := DecodeBatch(frame)
	require.Error(t, err)
}

func TestDecodeBatchRejectsTruncatedFrame(t *testing.T) {
	frame := EncodeBatch(1, []Event{{Tag: TagEmailPush, Account: 1, EmailID: 1, ChangeID: 1}})
	_, _, err := DecodeBatch(frame[:len(frame)-1])
	require.Error(t, err)
}
