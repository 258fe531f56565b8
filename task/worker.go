package task

import (
	"context"
	"sync"
	"time"

	"github.com/golang/glog"

	"github.com/stalwartgo/core/cmn"
	"github.com/stalwartgo/core/stats"
	"github.com/stalwartgo/core/store"
)

// Handler runs one due task's side effect. A non-nil error reschedules the
// task with backoff; wrap it with cmn.Permanent to drop it instead.
type Handler func(ctx context.Context, t Task) error

// retryBackoff is the fixed step function a transient Handler failure
// advances through, indexed by that task's accumulated attempt count and
// clamped to the last entry once exhausted.
var retryBackoff = []time.Duration{
	10 * time.Second,
	30 * time.Second,
	2 * time.Minute,
	10 * time.Minute,
	30 * time.Minute,
}

// Worker pulls due tasks, serializes execution per LockKey, and dispatches
// to Handlers by ActionTag.
type Worker struct {
	backend  store.Backend
	locks    *LockMap
	handlers map[ActionTag]Handler

	mu       sync.Mutex
	attempts map[string]int
}

func NewWorker(backend store.Backend) *Worker {
	return &Worker{
		backend:  backend,
		locks:    NewLockMap(),
		handlers: make(map[ActionTag]Handler),
		attempts: make(map[string]int),
	}
}

// Register installs the Handler invoked for tasks tagged a.
func (w *Worker) Register(a ActionTag, h Handler) {
	w.handlers[a] = h
}

// RunOnce scans every currently-due task and dispatches each to its
// registered Handler under the per-kind lock, skipping any task whose lock
// is currently held elsewhere. Tasks with no registered Handler are left in
// place. Returns the number of tasks it actually ran.
func (w *Worker) RunOnce(ctx context.Context, nowMS int64, limit int) (int, error) {
	due, err := Due(ctx, w.backend, nowMS, limit)
	if err != nil {
		return 0, err
	}
	ran := 0
	for _, t := range due {
		h, ok := w.handlers[t.Action]
		if !ok {
			continue
		}
		key := LockKey(t)
		ttl := DefaultTTL(t.Action)
		if !w.locks.Acquire(key, nowMS, ttl) {
			continue
		}
		w.run(ctx, t, h, key, nowMS)
		w.locks.Release(key)
		ran++
	}
	return ran, nil
}

// run executes one due task and settles its row: deletes it on success,
// reschedules it with backoff on a transient error, or deletes it and
// drops the work on a cmn.Permanent error.
func (w *Worker) run(ctx context.Context, t Task, h Handler, lockKey string, nowMS int64) {
	if t.Action == ActionUpdateIndexInsert || t.Action == ActionUpdateIndexDelete {
		lag := time.Since(time.UnixMilli(t.DueTS))
		if lag > 0 {
			stats.SearchTaskLag.Observe(lag.Seconds())
		}
	}

	err := h(ctx, t)
	if err == nil {
		w.resetAttempts(lockKey)
		if cerr := Cancel(ctx, w.backend, t); cerr != nil {
			glog.Errorf("task: delete completed task (action %d, doc %d): %v", t.Action, t.Document, cerr)
		}
		return
	}

	if cmn.IsPermanent(err) {
		glog.Errorf("task: handler for action %d on doc %d failed permanently, dropping: %v", t.Action, t.Document, err)
		w.resetAttempts(lockKey)
		if cerr := Cancel(ctx, w.backend, t); cerr != nil {
			glog.Errorf("task: delete permanently-failed task (action %d, doc %d): %v", t.Action, t.Document, cerr)
		}
		return
	}

	glog.Errorf("task: handler for action %d on doc %d failed, rescheduling: %v", t.Action, t.Document, err)
	attempt := w.nextAttempt(lockKey)
	if cerr := Cancel(ctx, w.backend, t); cerr != nil {
		glog.Errorf("task: cancel task before reschedule (action %d, doc %d): %v", t.Action, t.Document, cerr)
		return
	}
	retry := t
	retry.DueTS = nowMS + backoffFor(attempt).Milliseconds()
	if serr := Schedule(ctx, w.backend, retry); serr != nil {
		glog.Errorf("task: reschedule task (action %d, doc %d): %v", t.Action, t.Document, serr)
	}
}

func backoffFor(attempt int) time.Duration {
	idx := attempt
	if idx >= len(retryBackoff) {
		idx = len(retryBackoff) - 1
	}
	return retryBackoff[idx]
}

func (w *Worker) nextAttempt(lockKey string) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	n := w.attempts[lockKey]
	w.attempts[lockKey] = n + 1
	return n
}

func (w *Worker) resetAttempts(lockKey string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.attempts, lockKey)
}
