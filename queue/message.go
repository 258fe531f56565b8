// Package queue implements the outbound mail queue: message envelopes,
// per-recipient delivery state machines, retry/notify/expire scheduling,
// throttles, and DSN generation. The SMTP wire conversation itself is out
// of scope here — delivery goes through the Dialer/Transcript interface in
// transport.go.
/*
 * Copyright (c) 2018-2020, NVIDIA CORPORATION. All rights reserved.
 */
package queue

import (
	"encoding/binary"
	"time"

	"github.com/stalwartgo/core/cmn"
)

// Status is a recipient's terminal-or-not delivery state.
type Status byte

const (
	StatusScheduled Status = iota
	StatusCompleted
	StatusTemporaryFailure
	StatusPermanentFailure
)

// RemoteErrorDetail classifies a transient or permanent remote failure.
type RemoteErrorDetail byte

const (
	DetailDnsError RemoteErrorDetail = iota
	DetailUnexpectedResponse
	DetailConnectionError
	DetailTlsError
	DetailDaneError
	DetailMtaStsError
	DetailRateLimited
	DetailConcurrencyLimited
	DetailIo
	DetailExpired
)

// Notify selects which terminal/interim states a recipient wants a DSN
// for, a bitmask over RFC 3461 NOTIFY parameters.
type Notify uint8

const (
	NotifySuccess Notify = 1 << iota
	NotifyDelay
	NotifyFailure
	NotifyNever
)

// Schedule pairs a due timestamp with the index into a backoff table, so
// the next due time is computed by indexing the table with Inner (clamped
// to the table's last entry), after which Inner advances by one.
type Schedule struct {
	Due   time.Time
	Inner uint32
}

// Recipient carries one address's independent delivery state.
type Recipient struct {
	Address    string
	Status     Status
	Detail     RemoteErrorDetail
	LastReply  string
	Retry      Schedule
	NotifyTime Schedule
	NotifyFlags Notify
	Expires    time.Time
	QueueName  string
}

// Message is one queued envelope with independently scheduled recipients.
type Message struct {
	QueueID    uint64
	CreatedAt  time.Time
	ReturnPath string
	Recipients []Recipient
	BlobHash   []byte
	Size       int64
	EnvID      string
	Priority   int8
	Flags      uint32
	QuotaKeys  [][]byte
}

// Advance applies an attempt outcome to recipient i, enforcing the
// Scheduled -> (TemporaryFailure)* -> (Completed | PermanentFailure)
// monotonicity: a recipient already in a terminal state is left alone.
func (m *Message) Advance(i int, newStatus Status, detail RemoteErrorDetail, reply string) {
	r := &m.Recipients[i]
	if r.Status == StatusCompleted || r.Status == StatusPermanentFailure {
		return
	}
	r.Status = newStatus
	r.Detail = detail
	r.LastReply = reply
}

// AtTerminal reports whether recipient i is in a terminal state (Completed
// or PermanentFailure), the signal callers use to decrement QuotaKeys
// exactly once.
func (m *Message) AtTerminal(i int) bool {
	s := m.Recipients[i].Status
	return s == StatusCompleted || s == StatusPermanentFailure
}

// Encode serializes a Message per the little-endian, length-prefixed
// queue envelope wire format.
func Encode(m *Message) ([]byte, error) {
	var buf []byte
	buf = putI64(buf, m.CreatedAt.UnixMilli())
	buf = putStr(buf, m.ReturnPath)
	buf = putU32(buf, uint32(len(m.Recipients)))
	for _, r := range m.Recipients {
		buf = putStr(buf, r.Address)
		buf = append(buf, byte(r.Status))
		buf = append(buf, byte(r.Detail))
		buf = putStr(buf, r.LastReply)
		buf = putI64(buf, r.Retry.Due.UnixMilli())
		buf = putU32(buf, r.Retry.Inner)
		buf = putI64(buf, r.NotifyTime.Due.UnixMilli())
		buf = putU32(buf, r.NotifyTime.Inner)
		buf = append(buf, byte(r.NotifyFlags))
		buf = putI64(buf, r.Expires.UnixMilli())
		buf = putStr(buf, r.QueueName)
	}
	buf = putStr(buf, string(m.BlobHash))
	buf = putI64(buf, m.Size)
	buf = putStr(buf, m.EnvID)
	buf = append(buf, byte(m.Priority))
	buf = putU32(buf, m.Flags)
	buf = putU32(buf, uint32(len(m.QuotaKeys)))
	for _, k := range m.QuotaKeys {
		buf = putStr(buf, string(k))
	}
	return buf, nil
}

// Decode is Encode's inverse.
func Decode(b []byte) (*Message, error) {
	d := &decoder{b: b}
	m := &Message{}
	m.CreatedAt = d.i64time()
	m.ReturnPath = d.str()
	n := d.u32()
	m.Recipients = make([]Recipient, n)
	for i := range m.Recipients {
		r := &m.Recipients[i]
		r.Address = d.str()
		r.Status = Status(d.b1())
		r.Detail = RemoteErrorDetail(d.b1())
		r.LastReply = d.str()
		r.Retry.Due = d.i64time()
		r.Retry.Inner = d.u32()
		r.NotifyTime.Due = d.i64time()
		r.NotifyTime.Inner = d.u32()
		r.NotifyFlags = Notify(d.b1())
		r.Expires = d.i64time()
		r.QueueName = d.str()
	}
	m.BlobHash = []byte(d.str())
	m.Size = d.i64()
	m.EnvID = d.str()
	m.Priority = int8(d.b1())
	m.Flags = d.u32()
	qn := d.u32()
	m.QuotaKeys = make([][]byte, qn)
	for i := range m.QuotaKeys {
		m.QuotaKeys[i] = []byte(d.str())
	}
	if d.err != nil {
		return nil, d.err
	}
	return m, nil
}

func putU32(buf []byte, v uint32) []byte {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	return append(buf, b[:]...)
}

func putI64(buf []byte, v int64) []byte {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], uint64(v))
	return append(buf, b[:]...)
}

func putStr(buf []byte, s string) []byte {
	buf = putU32(buf, uint32(len(s)))
	return append(buf, s...)
}

type decoder struct {
	b   []byte
	p   int
	err error
}

func (d *decoder) need(n int) bool {
	if d.err != nil || d.p+n > len(d.b) {
		if d.err == nil {
			d.err = &cmn.CorruptKeyError{Reason: "truncated queue envelope"}
		}
		return false
	}
	return true
}

func (d *decoder) b1() byte {
	if !d.need(1) {
		return 0
	}
	v := d.b[d.p]
	d.p++
	return v
}

func (d *decoder) u32() uint32 {
	if !d.need(4) {
		return 0
	}
	v := binary.LittleEndian.Uint32(d.b[d.p:])
	d.p += 4
	return v
}

func (d *decoder) i64() int64 {
	if !d.need(8) {
		return 0
	}
	v := int64(binary.LittleEndian.Uint64(d.b[d.p:]))
	d.p += 8
	return v
}

func (d *decoder) i64time() time.Time {
	return time.UnixMilli(d.i64())
}

func (d *decoder) str() string {
	n := d.u32()
	if !d.need(int(n)) {
		return ""
	}
	s := string(d.b[d.p : d.p+int(n)])
	d.p += int(n)
	return s
}
