package task

import (
	"context"

	"github.com/stalwartgo/core/cmn"
	"github.com/stalwartgo/core/kv"
	"github.com/stalwartgo/core/stats"
	"github.com/stalwartgo/core/store"
)

// ActionTag identifies a task's action kind; it is the last byte of a
// TaskKey and selects the payload's decoding and the handler to run.
type ActionTag byte

const (
	ActionUpdateIndexInsert ActionTag = iota
	ActionUpdateIndexDelete
	ActionSendAlarm
	ActionSendImip
	ActionMergeThreads
)

// Task is one due-ordered work unit.
type Task struct {
	DueTS     int64
	Account   uint32
	Document  uint32
	Action    ActionTag
	Payload   []byte
}

// Schedule writes t into the TASK_QUEUE subspace.
func Schedule(ctx context.Context, backend store.Backend, t Task) error {
	key := kv.TaskKey(t.DueTS, t.Account, t.Document, byte(t.Action))
	_, err := backend.Write(ctx, &store.Batch{Ops: []store.Op{{Kind: store.OpSet, Key: key, Value: t.Payload}}})
	return cmn.CausedBy("task.Schedule", err)
}

// Cancel removes a previously scheduled task (a no-op if it already ran or
// was never scheduled).
func Cancel(ctx context.Context, backend store.Backend, t Task) error {
	key := kv.TaskKey(t.DueTS, t.Account, t.Document, byte(t.Action))
	_, err := backend.Write(ctx, &store.Batch{Ops: []store.Op{{Kind: store.OpClear, Key: key}}})
	return cmn.CausedBy("task.Cancel", err)
}

// Due scans every task whose due-ts is <= now, in due-ts order, up to
// limit entries (0 = unbounded).
func Due(ctx context.Context, backend store.Backend, now int64, limit int) ([]Task, error) {
	begin := kv.Key{byte(kv.TASK_QUEUE)}
	end := store.PrefixRange(kv.TaskScanFrom(now)).End
	rng := store.Range{Begin: begin, End: end}

	var out []Task
	err := backend.Iterate(ctx, rng, true, true, func(k kv.Key, v []byte) (bool, error) {
		t, err := parseTaskKey(k)
		if err != nil {
			return false, err
		}
		t.Payload = append([]byte(nil), v...)
		out = append(out, t)
		return limit == 0 || len(out) < limit, nil
	})
	if err != nil {
		return nil, cmn.CausedBy("task.Due", err)
	}
	stats.TaskQueueDepth.Set(float64(len(out)))
	return out, nil
}

func parseTaskKey(k kv.Key) (Task, error) {
	if len(k) != 1+8+4+4+1 {
		return Task{}, &cmn.CorruptKeyError{Subspace: byte(kv.TASK_QUEUE), Key: k, Reason: "unexpected length"}
	}
	return Task{
		DueTS:    beInt64(k[1:9]),
		Account:  beUint32(k[9:13]),
		Document: beUint32(k[13:17]),
		Action:   ActionTag(k[17]),
	}, nil
}

func beInt64(b []byte) int64 {
	var v uint64
	for _, c := range b {
		v = v<<8 | uint64(c)
	}
	return int64(v)
}

func beUint32(b []byte) uint32 {
	var v uint32
	for _, c := range b {
		v = v<<8 | uint32(c)
	}
	return v
}

// LockKey derives the per-kind task lock identity for a task. UpdateIndex
// locks per (account, document, action tag) so inserts/deletes on different
// documents never contend; MergeThreads locks per reference-hash so two
// concurrent merges on the same thread family serialize.
func LockKey(t Task) string {
	switch t.Action {
	case ActionMergeThreads:
		return "merge:" + string(t.Payload)
	default:
		return "doc:" + string(kv.TaskKey(0, t.Account, t.Document, byte(t.Action))[9:])
	}
}

// DefaultTTL returns the lock expiry budget for an action kind (seconds
// for index updates, minutes for alarms/imip/merges, which do outbound
// I/O and can legitimately run longer).
func DefaultTTL(a ActionTag) int64 {
	switch a {
	case ActionUpdateIndexInsert, ActionUpdateIndexDelete:
		return 10_000
	default:
		return 120_000
	}
}
