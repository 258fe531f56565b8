package cmn

import (
	"sync"
	"time"

	"go.uber.org/atomic"
)

// changeIDGen produces strictly increasing, time-ordered 64-bit ids: the
// high bits are a millisecond timestamp, the low bits a per-millisecond
// sequence. This is the "snowflake-style generator" referenced by the
// change-log design — it is what the batch committer calls once
// per commit to stamp every change-log entry in that batch.
type changeIDGen struct {
	mu     sync.Mutex // serializes the timestamp advance and sequence reset
	lastMS atomic.Int64
	seq    atomic.Int64
}

const seqBits = 12 // 4096 change-ids per millisecond before a synthetic sleep

var globalChangeIDGen changeIDGen

// NextChangeID returns the next globally unique, monotonically increasing
// change-id. Safe for concurrent use.
func NextChangeID() int64 { return globalChangeIDGen.next() }

func (g *changeIDGen) next() int64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	for {
		now := time.Now().UnixMilli()
		last := g.lastMS.Load()
		if now > last {
			if g.lastMS.CAS(last, now) {
				g.seq.Store(0)
				return now << seqBits
			}
			continue
		}
		seq := g.seq.Add(1)
		if seq >= (1 << seqBits) {
			// Sequence exhausted for this millisecond: spin until the clock
			// advances rather than overflow into the next timestamp's bits.
			time.Sleep(time.Microsecond)
			continue
		}
		return (last << seqBits) | seq
	}
}
