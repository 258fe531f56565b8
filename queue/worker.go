package queue

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/golang/glog"
	"golang.org/x/crypto/ed25519"

	"github.com/stalwartgo/core/blob"
	"github.com/stalwartgo/core/kv"
	"github.com/stalwartgo/core/store"
	"github.com/stalwartgo/core/task"
)

// DialerFactory mints a fresh Dialer session for one delivery attempt
// against host. The worker owns the session's whole lifecycle
// (Connect/Deliver/Close); the factory only needs to return an
// unconnected collaborator.
type DialerFactory func(host string) Dialer

// DKIM bundles the outbound DSN signing identity a Worker signs with.
type DKIM struct {
	Domain   string
	Selector string
	Key      ed25519.PrivateKey
}

// Worker pops due QUEUE_EVENT rows, performs one delivery attempt per
// recipient through Dialer, and writes back the updated recipient state,
// rescheduled events, and released quota in a single batch, per message.
// DSN bodies are built for recipients whose NOTIFY flags call for one, but
// they are neither enqueued nor stored.
type Worker struct {
	backend store.Backend
	blobs   *blob.Store
	locks   *task.LockMap
	table   BackoffTable
	dial    DialerFactory
	dkim    DKIM
}

func NewWorker(backend store.Backend, blobs *blob.Store, table BackoffTable, dial DialerFactory, dkim DKIM) *Worker {
	return &Worker{backend: backend, blobs: blobs, locks: task.NewLockMap(), table: table, dial: dial, dkim: dkim}
}

// lockTTLMS bounds how long one message's writeback may run before another
// worker is allowed to reclaim its lock, matching task.DefaultTTL's
// outbound-I/O budget for long-running handlers.
const lockTTLMS = 120_000

// RunOnce scans every currently-due event and attempts delivery for each,
// skipping any message whose lock is currently held elsewhere (another
// event for the same message is already being processed). Returns the
// number of events it actually ran.
func (w *Worker) RunOnce(ctx context.Context, now time.Time, limit int) (int, error) {
	due, err := DueEvents(ctx, w.backend, now.UnixMilli(), limit)
	if err != nil {
		return 0, err
	}
	ran := 0
	for _, e := range due {
		key := messageLockKey(e.QueueID)
		if !w.locks.Acquire(key, now.UnixMilli(), lockTTLMS) {
			continue
		}
		w.runOne(ctx, e, now)
		w.locks.Release(key)
		ran++
	}
	return ran, nil
}

func messageLockKey(queueID uint64) string {
	return fmt.Sprintf("queue:%d", queueID)
}

// runOne loads e's message, advances the one recipient e is due for, and
// commits the updated message row, the recipient's rescheduled (or
// canceled) event, and a quota release if this recipient was the message's
// last one to reach a terminal state. A DSN it triggers is built and marked
// sent on the recipient, and the body is then dropped.
func (w *Worker) runOne(ctx context.Context, e Event, now time.Time) {
	m, found, err := LoadMessage(ctx, w.backend, e.QueueID)
	if err != nil {
		glog.Errorf("queue: load message %d failed: %v", e.QueueID, err)
		return
	}
	if !found || int(e.RecipientIdx) >= len(m.Recipients) {
		if err := CancelEvent(ctx, w.backend, e); err != nil {
			glog.Errorf("queue: cancel stale event for message %d: %v", e.QueueID, err)
		}
		return
	}
	idx := int(e.RecipientIdx)
	if m.AtTerminal(idx) {
		if err := CancelEvent(ctx, w.backend, e); err != nil {
			glog.Errorf("queue: cancel event for terminal recipient %d of message %d: %v", idx, e.QueueID, err)
		}
		return
	}

	r := &m.Recipients[idx]
	if now.After(r.Expires) {
		m.Advance(idx, StatusPermanentFailure, DetailExpired, "delivery window expired")
	} else {
		w.attempt(ctx, m, idx, now)
	}

	var dsns [][]byte
	for _, kind := range []DSNKind{DSNDelay, DSNFailure, DSNSuccess} {
		if body, ok := BuildDSN(m, kind, w.dkim.Domain, w.dkim.Selector, w.dkim.Key); ok {
			dsns = append(dsns, body)
			MarkDSNSent(m, kind)
		}
	}

	w.writeback(ctx, m, e, now, dsns)
}

// attempt dials r's host and, on a connected session, delivers the
// message body and classifies the reply into r's next Status. A transient
// connection failure (the dial itself never succeeding) is retried with an
// exponential backoff distinct from the cross-attempt BackoffTable
// schedule, which governs the much coarser next-QUEUE_EVENT delay.
func (w *Worker) attempt(ctx context.Context, m *Message, idx int, now time.Time) {
	r := &m.Recipients[idx]
	host := hostOf(r.Address)

	body, found, err := w.blobs.Get(ctx, m.BlobHash, [2]int64{0, -1})
	if err != nil || !found {
		m.Advance(idx, StatusTemporaryFailure, DetailIo, "message body unavailable")
		return
	}

	// NewExponentialPolicy never stops on its own (BackoffTable.Expire owns
	// the outer bound, not this inner dial loop), so cap attempts here.
	const maxConnectAttempts = 3
	policy := backoff.WithContext(backoff.WithMaxRetries(NewExponentialPolicy(200*time.Millisecond, 5*time.Second), maxConnectAttempts), ctx)

	var dialer Dialer
	var greet Transcript
	connErr := backoff.Retry(func() error {
		dialer = w.dial(host)
		t, err := dialer.Connect(ctx, host)
		if err != nil {
			return err
		}
		greet = t
		return nil
	}, policy)
	if connErr != nil {
		m.Advance(idx, StatusTemporaryFailure, DetailConnectionError, connErr.Error())
		return
	}
	defer dialer.Close()

	if greet.Code != 0 {
		if status, detail := ClassifyReply(greet); status != StatusCompleted {
			m.Advance(idx, status, detail, greet.Message)
			return
		}
	}

	transcripts, err := dialer.Deliver(ctx, m.ReturnPath, []string{r.Address}, body)
	if err != nil {
		m.Advance(idx, StatusTemporaryFailure, DetailIo, err.Error())
		return
	}
	if len(transcripts) == 0 {
		m.Advance(idx, StatusTemporaryFailure, DetailUnexpectedResponse, "no reply for recipient")
		return
	}
	status, detail := ClassifyReply(transcripts[0])
	m.Advance(idx, status, detail, transcripts[0].Message)
}

// hostOf extracts the domain part of an address for the Dialer to resolve;
// MX/DNS resolution itself is out of this core's scope (transport.go).
func hostOf(address string) string {
	if i := strings.LastIndexByte(address, '@'); i >= 0 {
		return address[i+1:]
	}
	return address
}

// writeback commits m's updated recipient state after one attempt:
// reschedules a retry event in e's place, or cancels it and releases
// quota if this was the last recipient to reach a terminal state.
func (w *Worker) writeback(ctx context.Context, m *Message, e Event, now time.Time, dsns [][]byte) {
	idx := int(e.RecipientIdx)
	r := &m.Recipients[idx]
	ops := []store.Op{{Kind: store.OpClear, Key: kv.QueueEventKey(e.DueTS, e.QueueID, e.RecipientIdx)}}

	if m.AtTerminal(idx) {
		if allTerminal(m) && len(m.QuotaKeys) > 0 {
			for _, k := range m.QuotaKeys {
				ops = append(ops, store.Op{Kind: store.OpAddCounter, Key: kv.Key(k), Delta: -m.Size})
			}
			m.QuotaKeys = nil
		}
	} else {
		r.Retry = w.table.NextRetry(now, r.Retry)
		ops = append(ops, store.Op{
			Kind:  store.OpSet,
			Key:   kv.QueueEventKey(r.Retry.Due.UnixMilli(), m.QueueID, e.RecipientIdx),
			Value: []byte{},
		})
	}

	data, err := Encode(m)
	if err != nil {
		glog.Errorf("queue: encode message %d after delivery attempt: %v", m.QueueID, err)
		return
	}
	ops = append(ops, store.Op{Kind: store.OpSet, Key: kv.QueueMessageKey(m.QueueID), Value: data})

	// The DSN bodies are not enqueued or stored, and RunOnce does not return
	// them; only their generation is recorded (BuildDSN already incremented
	// stats.QueueDSNCount).
	_ = dsns

	if _, err := w.backend.Write(ctx, &store.Batch{Ops: ops}); err != nil {
		glog.Errorf("queue: writeback for message %d failed: %v", m.QueueID, err)
	}
}

func allTerminal(m *Message) bool {
	for i := range m.Recipients {
		if !m.AtTerminal(i) {
			return false
		}
	}
	return true
}
