package queue

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestBackoffTableNextRetryClamps(t *testing.T) {
	tbl := BackoffTable{
		Retry:  []time.Duration{time.Minute, 5 * time.Minute, 15 * time.Minute},
		Notify: []time.Duration{time.Hour},
		Expire: 5 * 24 * time.Hour,
	}
	now := time.Unix(1_700_000_000, 0)

	s := Schedule{}
	s = tbl.NextRetry(now, s)
	require.Equal(t, uint32(1), s.Inner)
	require.Equal(t, now.Add(time.Minute), s.Due)

	s = tbl.NextRetry(now, s)
	require.Equal(t, uint32(2), s.Inner)
	require.Equal(t, now.Add(5*time.Minute), s.Due)

	s = tbl.NextRetry(now, s)
	// Inner=2 indexes the last configured entry (15m); table clamps rather
	// than growing unbounded once exhausted.
	require.Equal(t, uint32(3), s.Inner)
	require.Equal(t, now.Add(15*time.Minute), s.Due)

	s = tbl.NextRetry(now, s)
	require.Equal(t, now.Add(15*time.Minute), s.Due)
}

func TestBackoffTableExpired(t *testing.T) {
	tbl := BackoffTable{Expire: time.Hour}
	created := time.Unix(1_700_000_000, 0)

	require.False(t, tbl.Expired(created.Add(30*time.Minute), created))
	require.True(t, tbl.Expired(created.Add(time.Hour), created))
	require.True(t, tbl.Expired(created.Add(2*time.Hour), created))
}

func TestThrottleKeyDistinguishesDimensionSets(t *testing.T) {
	vals := map[ThrottleDimension]string{
		DimSender:   "a@example.com",
		DimRemoteIP: "1.2.3.4",
	}
	k1 := ThrottleKey("rate", []ThrottleDimension{DimSender}, vals)
	k2 := ThrottleKey("rate", []ThrottleDimension{DimSender, DimRemoteIP}, vals)
	require.NotEqual(t, k1, k2)

	k3 := ThrottleKey("rate", []ThrottleDimension{DimSender}, vals)
	require.Equal(t, k1, k3)
}
