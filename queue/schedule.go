package queue

import (
	"time"

	"github.com/cenkalti/backoff/v4"
)

// BackoffTable holds the configured retry/notify intervals (e.g.
// [1s, 2s, 3s, ...]) and the outer expiry bound after which a still-failing
// recipient becomes permanent.
type BackoffTable struct {
	Retry  []time.Duration
	Notify []time.Duration
	Expire time.Duration
}

// NextRetry advances a retry Schedule using the table, clamping to the
// last configured interval once exhausted rather than growing unbounded.
func (t BackoffTable) NextRetry(now time.Time, s Schedule) Schedule {
	idx := s.Inner
	if int(idx) >= len(t.Retry) {
		idx = uint32(len(t.Retry) - 1)
	}
	return Schedule{Due: now.Add(t.Retry[idx]), Inner: s.Inner + 1}
}

// NextNotify is the analogous step function for DSN-delay scheduling.
func (t BackoffTable) NextNotify(now time.Time, s Schedule) Schedule {
	idx := s.Inner
	if int(idx) >= len(t.Notify) {
		idx = uint32(len(t.Notify) - 1)
	}
	return Schedule{Due: now.Add(t.Notify[idx]), Inner: s.Inner + 1}
}

// Expired reports whether a recipient created at createdAt has passed this
// table's outer expiry bound.
func (t BackoffTable) Expired(now, createdAt time.Time) bool {
	return now.Sub(createdAt) >= t.Expire
}

// NewExponentialPolicy adapts this queue's fixed backoff table into a
// cenkalti/backoff policy for use inside the SMTP transport layer's own
// connection-retry loop (distinct from the per-recipient schedule above,
// which is driven by TaskKey due-ts rows, not an in-process timer).
func NewExponentialPolicy(initial, max time.Duration) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = initial
	b.MaxInterval = max
	b.MaxElapsedTime = 0 // caller owns the outer bound via BackoffTable.Expire
	return b
}

// ThrottleDimension names one of the session variables a throttle can key
// on.
type ThrottleDimension byte

const (
	DimSender ThrottleDimension = iota
	DimSenderDomain
	DimRecipient
	DimRecipientDomain
	DimHelo
	DimAuthAs
	DimListener
	DimMx
	DimRemoteIP
	DimLocalIP
)

// ThrottleKey combines a throttle's own identity with the subset of
// session dimensions it's configured to key on, so two throttles with
// overlapping dimension sets never alias each other's counters.
func ThrottleKey(throttleName string, dims []ThrottleDimension, values map[ThrottleDimension]string) string {
	key := throttleName
	for _, d := range dims {
		key += "\x00" + string(rune(d)) + "\x00" + values[d]
	}
	return key
}
