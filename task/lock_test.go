package task

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLockMapAcquireReleaseRenew(t *testing.T) {
	lm := NewLockMap()

	require.True(t, lm.Acquire("k1", 1000, 5000))
	// Still held: a second acquire before expiry is refused.
	require.False(t, lm.Acquire("k1", 2000, 5000))

	lm.Release("k1")
	require.True(t, lm.Acquire("k1", 2000, 5000))

	lm.Renew("k1", 6000, 5000)
	require.False(t, lm.Acquire("k1", 7000, 1000))
	require.True(t, lm.Acquire("k1", 11001, 1000))
}

func TestLockMapExpiryReclaimed(t *testing.T) {
	lm := NewLockMap()
	require.True(t, lm.Acquire("k1", 0, 1000))
	// Expired lock (now past nowMS+ttlMS) is reclaimable.
	require.True(t, lm.Acquire("k1", 1001, 1000))
}

func TestLockMapIndependentKeys(t *testing.T) {
	lm := NewLockMap()
	require.True(t, lm.Acquire("a", 0, 1000))
	require.True(t, lm.Acquire("b", 0, 1000))
}
