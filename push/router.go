// Package push implements the state-change fan-out router: local
// in-process subscribers reached over a bounded channel with a hard
// send-timeout, plus external Web Push endpoints reached asynchronously
// through Manager.
/*
 * Copyright (c) 2018-2020, NVIDIA CORPORATION. All rights reserved.
 */
package push

import (
	"sync"
	"time"

	"github.com/golang/glog"
	"github.com/google/uuid"

	"github.com/stalwartgo/core/stats"
)

// SendTimeout bounds how long Publish blocks trying to deliver to one
// subscriber before giving up on it for this notification.
const SendTimeout = 500 * time.Millisecond

// DataType is a bitmask selecting which notification kinds a subscriber
// wants to receive.
type DataType uint32

const (
	TypeEmail DataType = 1 << iota
	TypeCalendar
	TypeAddressBook
	TypeFileNode
	TypeIdentity
	TypeSieveScript
	TypeAll = TypeEmail | TypeCalendar | TypeAddressBook | TypeFileNode | TypeIdentity | TypeSieveScript
)

// Notification is one state-change event fanned out to subscribers.
type Notification struct {
	Type      DataType
	Account   uint32
	ChangeID  int64
	Broadcast bool
}

// Subscriber is one local (in-process) listener.
type Subscriber struct {
	ID    uuid.UUID
	Types DataType
	ch    chan Notification
}

func (s *Subscriber) Chan() <-chan Notification { return s.ch }

type accountSubs struct {
	mu        sync.Mutex
	subs      map[uuid.UUID]*Subscriber
	hasPush   bool
}

// Router maintains account -> subscriber fan-out state.
type Router struct {
	mu       sync.RWMutex
	accounts map[uint32]*accountSubs
	manager  *Manager // optional Web Push manager; nil disables external push
	onBroadcast func(Notification)
}

func NewRouter(manager *Manager, onBroadcast func(Notification)) *Router {
	return &Router{accounts: make(map[uint32]*accountSubs), manager: manager, onBroadcast: onBroadcast}
}

func (r *Router) accountFor(account uint32, create bool) *accountSubs {
	r.mu.RLock()
	a, ok := r.accounts[account]
	r.mu.RUnlock()
	if ok || !create {
		return a
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if a, ok = r.accounts[account]; ok {
		return a
	}
	a = &accountSubs{subs: make(map[uuid.UUID]*Subscriber)}
	r.accounts[account] = a
	return a
}

// Subscribe registers a new local subscriber for account, buffered so a
// slow consumer doesn't stall Publish outright (SendTimeout still bounds
// the worst case).
func (r *Router) Subscribe(account uint32, types DataType) *Subscriber {
	s := &Subscriber{ID: uuid.New(), Types: types, ch: make(chan Notification, 32)}
	a := r.accountFor(account, true)
	a.mu.Lock()
	a.subs[s.ID] = s
	a.mu.Unlock()
	return s
}

// Unsubscribe removes a subscriber and closes its channel.
func (r *Router) Unsubscribe(account uint32, id uuid.UUID) {
	a := r.accountFor(account, false)
	if a == nil {
		return
	}
	a.mu.Lock()
	if s, ok := a.subs[id]; ok {
		delete(a.subs, id)
		close(s.ch)
	}
	a.mu.Unlock()
}

// MarkHasPush records that account has at least one Web Push registration,
// so Publish knows to forward even when there are zero local subscribers.
func (r *Router) MarkHasPush(account uint32, has bool) {
	a := r.accountFor(account, has)
	if a == nil {
		return
	}
	a.mu.Lock()
	a.hasPush = has
	a.mu.Unlock()
}

// Publish fans n out: optionally onto the cross-node broadcast bus, then
// to every local subscriber whose Types mask matches, then to the Web
// Push manager if the account has any push registration.
func (r *Router) Publish(n Notification) {
	start := time.Now()
	defer func() { stats.PushFanoutLatency.Observe(time.Since(start).Seconds()) }()

	if n.Broadcast && r.onBroadcast != nil {
		r.onBroadcast(n)
	}

	a := r.accountFor(n.Account, false)
	if a == nil {
		return
	}
	a.mu.Lock()
	targets := make([]*Subscriber, 0, len(a.subs))
	for _, s := range a.subs {
		if s.Types&n.Type != 0 {
			targets = append(targets, s)
		}
	}
	hasPush := a.hasPush
	a.mu.Unlock()

	for _, s := range targets {
		select {
		case s.ch <- n:
		case <-time.After(SendTimeout):
			stats.PushDropped.Inc()
			glog.Warningf("push: dropped notification for subscriber %s after %s", s.ID, SendTimeout)
		}
	}

	if hasPush && r.manager != nil {
		r.manager.Notify(n.Account, n)
	}
}

// Purge drops account entries with no subscribers and no push
// registration. It does not inspect subscriber channels: a channel is
// closed only by Unsubscribe, which removes its subscriber at the same time.
func (r *Router) Purge() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for acct, a := range r.accounts {
		a.mu.Lock()
		empty := len(a.subs) == 0 && !a.hasPush
		a.mu.Unlock()
		if empty {
			delete(r.accounts, acct)
		}
	}
}
