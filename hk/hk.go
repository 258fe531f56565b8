// Package hk implements a single periodic-registrant housekeeping runner:
// each registrant supplies a name, an initial interval, and a callback
// that returns the next interval to wait before running again. No other
// package in this module registers a callback with it.
/*
 * Copyright (c) 2018-2020, NVIDIA CORPORATION. All rights reserved.
 */
package hk

import (
	"container/heap"
	"sync"
	"time"

	"github.com/golang/glog"
	"go.uber.org/atomic"
)

// CB is a registrant's callback: it does its sweep and returns how long to
// wait before being called again.
type CB func() time.Duration

type registrant struct {
	name string
	cb   CB
	due  time.Time
	idx  int
}

type regHeap []*registrant

func (h regHeap) Len() int            { return len(h) }
func (h regHeap) Less(i, j int) bool  { return h[i].due.Before(h[j].due) }
func (h regHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i]; h[i].idx, h[j].idx = i, j }
func (h *regHeap) Push(x interface{}) { r := x.(*registrant); r.idx = len(*h); *h = append(*h, r) }
func (h *regHeap) Pop() interface{} {
	old := *h
	n := len(old)
	r := old[n-1]
	*h = old[:n-1]
	return r
}

// Runner drives every registered callback on its own self-reported
// schedule from a single goroutine, mirroring the teacher's single
// health-keeper loop.
type Runner struct {
	mu      sync.Mutex
	h       regHeap
	wake    chan struct{}
	running atomic.Bool
	stop    chan struct{}
}

var global = New()

func New() *Runner {
	return &Runner{wake: make(chan struct{}, 1), stop: make(chan struct{})}
}

// Reg registers name to run for the first time after `in`, and on every
// subsequent run after whatever duration its callback returns.
func Reg(name string, cb CB, in time.Duration) { global.Reg(name, cb, in) }

func (r *Runner) Reg(name string, cb CB, in time.Duration) {
	r.mu.Lock()
	heap.Push(&r.h, &registrant{name: name, cb: cb, due: time.Now().Add(in)})
	r.mu.Unlock()
	r.poke()
}

func (r *Runner) poke() {
	select {
	case r.wake <- struct{}{}:
	default:
	}
}

// Run blocks, firing due registrants until Stop is called. Callers
// typically launch it in its own goroutine at process start.
func Run() { global.Run() }

func (r *Runner) Run() {
	if !r.running.CAS(false, true) {
		return
	}
	defer r.running.Store(false)
	for {
		wait := r.next()
		t := time.NewTimer(wait)
		select {
		case <-r.stop:
			t.Stop()
			return
		case <-r.wake:
			t.Stop()
		case <-t.C:
		}
		r.fireDue()
	}
}

func (r *Runner) next() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.h) == 0 {
		return time.Hour
	}
	d := time.Until(r.h[0].due)
	if d < 0 {
		return 0
	}
	return d
}

func (r *Runner) fireDue() {
	now := time.Now()
	for {
		r.mu.Lock()
		if len(r.h) == 0 || r.h[0].due.After(now) {
			r.mu.Unlock()
			return
		}
		reg := heap.Pop(&r.h).(*registrant)
		r.mu.Unlock()

		next := r.run1(reg)
		reg.due = time.Now().Add(next)
		r.mu.Lock()
		heap.Push(&r.h, reg)
		r.mu.Unlock()
	}
}

func (r *Runner) run1(reg *registrant) (next time.Duration) {
	defer func() {
		if p := recover(); p != nil {
			glog.Errorf("hk: registrant %q panicked: %v", reg.name, p)
			next = time.Minute
		}
	}()
	return reg.cb()
}

// Stop terminates the Run loop. Idempotent.
func Stop() { global.Stop() }

func (r *Runner) Stop() {
	select {
	case <-r.stop:
	default:
		close(r.stop)
	}
}
