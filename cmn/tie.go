package cmn

import "go.uber.org/atomic"

// tieABC is the alphabet GenTie draws from, reused from the id scheme this
// package used to mint whole identifiers with (github.com/teris-io/shortid);
// GenTie keeps only the tiebreaker half of that scheme.
const tieABC = "-5nZJDft6LuzsjGNpPwY7rQa39vehq4i1cV2FROo8yHSlC0BUEdWbIxMmTgKXAk_"

var rtie atomic.Int32

// GenTie returns a short, process-local tiebreaker string: three bytes
// derived from a monotonic counter, used to disambiguate ids minted in the
// same millisecond (e.g. a queued message's EnvID, built from a
// NextChangeID timestamp plus this suffix).
func GenTie() string {
	tie := rtie.Add(1)
	b0 := tieABC[tie&0x3f]
	b1 := tieABC[-tie&0x3f]
	b2 := tieABC[(tie>>2)&0x3f]
	return string([]byte{b0, b1, b2})
}
