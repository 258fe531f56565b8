package cmn

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGenTieProducesThreeByteStrings(t *testing.T) {
	tie := GenTie()
	require.Len(t, tie, 3)
}

func TestGenTieAdvancesAcrossCalls(t *testing.T) {
	a := GenTie()
	b := GenTie()
	require.NotEqual(t, a, b)
}
