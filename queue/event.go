package queue

import (
	"context"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/stalwartgo/core/cmn"
	"github.com/stalwartgo/core/kv"
	"github.com/stalwartgo/core/stats"
	"github.com/stalwartgo/core/store"
)

// Event is one due delivery attempt: the worker owes recipient RecipientIdx
// of message QueueID an attempt no earlier than DueTS.
type Event struct {
	DueTS        int64
	QueueID      uint64
	RecipientIdx uint32
}

// ScheduleEvent writes e into the QUEUE_EVENT subspace.
func ScheduleEvent(ctx context.Context, backend store.Backend, e Event) error {
	key := kv.QueueEventKey(e.DueTS, e.QueueID, e.RecipientIdx)
	_, err := backend.Write(ctx, &store.Batch{Ops: []store.Op{{Kind: store.OpSet, Key: key, Value: []byte{}}}})
	return cmn.CausedBy("queue.ScheduleEvent", err)
}

// CancelEvent removes a previously scheduled event (a no-op if it already
// ran or was never scheduled).
func CancelEvent(ctx context.Context, backend store.Backend, e Event) error {
	key := kv.QueueEventKey(e.DueTS, e.QueueID, e.RecipientIdx)
	_, err := backend.Write(ctx, &store.Batch{Ops: []store.Op{{Kind: store.OpClear, Key: key}}})
	return cmn.CausedBy("queue.CancelEvent", err)
}

// DueEvents scans every event whose due-ts is <= now, in due-ts order, up
// to limit entries (0 = unbounded).
func DueEvents(ctx context.Context, backend store.Backend, now int64, limit int) ([]Event, error) {
	begin := kv.Key{byte(kv.QUEUE_EVENT)}
	end := store.PrefixRange(kv.QueueScanFrom(now)).End
	rng := store.Range{Begin: begin, End: end}

	var out []Event
	err := backend.Iterate(ctx, rng, true, false, func(k kv.Key, _ []byte) (bool, error) {
		e, err := parseQueueEventKey(k)
		if err != nil {
			return false, err
		}
		out = append(out, e)
		return limit == 0 || len(out) < limit, nil
	})
	if err != nil {
		return nil, cmn.CausedBy("queue.DueEvents", err)
	}
	stats.QueueDepth.Set(float64(len(out)))
	return out, nil
}

func parseQueueEventKey(k kv.Key) (Event, error) {
	if len(k) != 1+8+8+4 {
		return Event{}, &cmn.CorruptKeyError{Subspace: byte(kv.QUEUE_EVENT), Key: k, Reason: "unexpected length"}
	}
	return Event{
		DueTS:        int64(binary.BigEndian.Uint64(k[1:9])),
		QueueID:      binary.BigEndian.Uint64(k[9:17]),
		RecipientIdx: binary.BigEndian.Uint32(k[17:21]),
	}, nil
}

// WriteMessage (over)writes m's QUEUE_MESSAGE row.
func WriteMessage(ctx context.Context, backend store.Backend, m *Message) error {
	data, err := Encode(m)
	if err != nil {
		return cmn.CausedBy("queue.WriteMessage", err)
	}
	key := kv.QueueMessageKey(m.QueueID)
	_, err = backend.Write(ctx, &store.Batch{Ops: []store.Op{{Kind: store.OpSet, Key: key, Value: data}}})
	return cmn.CausedBy("queue.WriteMessage", err)
}

// LoadMessage reads and decodes the QUEUE_MESSAGE row for queueID, or
// returns (nil, false, nil) if it no longer exists (e.g. a stale event for
// an already fully-released message).
func LoadMessage(ctx context.Context, backend store.Backend, queueID uint64) (*Message, bool, error) {
	v, found, err := backend.Get(ctx, kv.QueueMessageKey(queueID))
	if err != nil {
		return nil, false, cmn.CausedBy("queue.LoadMessage", err)
	}
	if !found {
		return nil, false, nil
	}
	m, err := Decode(v)
	if err != nil {
		return nil, false, cmn.CausedBy("queue.LoadMessage", err)
	}
	m.QueueID = queueID
	return m, true, nil
}

// Enqueue initializes every recipient's schedule from table, writes the
// QUEUE_MESSAGE row, schedules one immediate QUEUE_EVENT per recipient, and
// applies m's quota-reservation deltas — all in one atomic commit.
func Enqueue(ctx context.Context, backend store.Backend, m *Message, table BackoffTable) error {
	now := m.CreatedAt
	if m.EnvID == "" {
		m.EnvID = fmt.Sprintf("%d.%s", cmn.NextChangeID(), cmn.GenTie())
	}
	for i := range m.Recipients {
		r := &m.Recipients[i]
		r.Status = StatusScheduled
		r.Retry = Schedule{Due: now, Inner: 0}
		r.NotifyTime = Schedule{Due: now.Add(firstInterval(table.Notify)), Inner: 0}
		r.Expires = now.Add(table.Expire)
	}

	data, err := Encode(m)
	if err != nil {
		return cmn.CausedBy("queue.Enqueue", err)
	}

	ops := []store.Op{{Kind: store.OpSet, Key: kv.QueueMessageKey(m.QueueID), Value: data}}
	for i, r := range m.Recipients {
		ops = append(ops, store.Op{
			Kind:  store.OpSet,
			Key:   kv.QueueEventKey(r.Retry.Due.UnixMilli(), m.QueueID, uint32(i)),
			Value: []byte{},
		})
	}
	for _, k := range m.QuotaKeys {
		ops = append(ops, store.Op{Kind: store.OpAddCounter, Key: kv.Key(k), Delta: m.Size})
	}

	_, err = backend.Write(ctx, &store.Batch{Ops: ops})
	return cmn.CausedBy("queue.Enqueue", err)
}

func firstInterval(notify []time.Duration) time.Duration {
	if len(notify) == 0 {
		return 0
	}
	return notify[0]
}
