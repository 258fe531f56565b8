// Package broadcast implements the cross-node event codec and its Redis
// pub/sub transport: framed batches of tagged events exchanged on the
// "stwt.agora" topic so every node's push router and config/cache
// invalidation logic stay in sync.
/*
 * Copyright (c) 2018-2020, NVIDIA CORPORATION. All rights reserved.
 */
package broadcast

import (
	"github.com/stalwartgo/core/cmn"
	"github.com/stalwartgo/core/kv"
)

// Tag identifies one event's wire shape.
type Tag byte

const (
	TagStateChange Tag = iota
	TagCalendarAlert
	TagEmailPush
	TagInvalidateAccessTokens
	TagInvalidateGroupwareCache
	TagReloadSettings
	TagReloadBlockedIps
	TagReloadPushServers
	TagReloadSpamFilter
)

// Event is the decoded, tagged union of every broadcast payload shape.
// Only the fields relevant to Tag are populated.
type Event struct {
	Tag Tag

	// TagStateChange
	ChangeID uint64
	Types    uint64
	Account  uint32

	// TagCalendarAlert
	EventID      uint32
	RecurrenceID uint32
	UID          string
	AlertID      string

	// TagEmailPush
	EmailID uint32

	// TagInvalidateAccessTokens / TagInvalidateGroupwareCache
	AccountIDs []uint32

	// TagReloadPushServers
	// (Account field reused)
}

// MaxBatchEvents is the cap a sender enforces before flushing eagerly.
const MaxBatchEvents = 100

// EncodeBatch frames nodeID followed by every event in events, each as
// `tag:u8 payload…`.
func EncodeBatch(nodeID uint16, events []Event) []byte {
	buf := kv.PutUvarint(nil, uint64(nodeID))
	for _, e := range events {
		buf = append(buf, byte(e.Tag))
		buf = encodeEvent(buf, e)
	}
	return buf
}

func encodeEvent(buf []byte, e Event) []byte {
	switch e.Tag {
	case TagStateChange:
		buf = kv.PutUvarint(buf, e.ChangeID)
		buf = kv.PutUvarint(buf, e.Types)
		buf = kv.PutUvarint(buf, uint64(e.Account))
	case TagCalendarAlert:
		buf = kv.PutUvarint(buf, uint64(e.Account))
		buf = kv.PutUvarint(buf, uint64(e.EventID))
		buf = kv.PutUvarint(buf, uint64(e.RecurrenceID))
		buf = putString(buf, e.UID)
		buf = putString(buf, e.AlertID)
	case TagEmailPush:
		buf = kv.PutUvarint(buf, uint64(e.Account))
		buf = kv.PutUvarint(buf, uint64(e.EmailID))
		buf = kv.PutUvarint(buf, e.ChangeID)
	case TagInvalidateAccessTokens, TagInvalidateGroupwareCache:
		buf = kv.PutUvarint(buf, uint64(len(e.AccountIDs)))
		for _, id := range e.AccountIDs {
			buf = kv.PutUvarint(buf, uint64(id))
		}
	case TagReloadSettings, TagReloadBlockedIps, TagReloadSpamFilter:
		// no payload
	case TagReloadPushServers:
		buf = kv.PutUvarint(buf, uint64(e.Account))
	}
	return buf
}

func putString(buf []byte, s string) []byte {
	buf = kv.PutUvarint(buf, uint64(len(s)))
	return append(buf, s...)
}

func getString(b []byte) (string, int, error) {
	n, off := kv.GetUvarint(b)
	if off <= 0 || off+int(n) > len(b) {
		return "", 0, &cmn.CorruptKeyError{Reason: "truncated string in broadcast frame"}
	}
	return string(b[off : off+int(n)]), off + int(n), nil
}

// DecodeBatch is EncodeBatch's inverse.
func DecodeBatch(data []byte) (nodeID uint16, events []Event, err error) {
	n, off := kv.GetUvarint(data)
	if off <= 0 {
		return 0, nil, &cmn.CorruptKeyError{Reason: "bad node-id varint"}
	}
	nodeID = uint16(n)
	p := off
	for p < len(data) {
		if p >= len(data) {
			return 0, nil, &cmn.CorruptKeyError{Reason: "truncated event tag"}
		}
		tag := Tag(data[p])
		p++
		e := Event{Tag: tag}
		p, err = decodeEvent(data, p, &e)
		if err != nil {
			return 0, nil, err
		}
		events = append(events, e)
	}
	return nodeID, events, nil
}

func decodeEvent(b []byte, p int, e *Event) (int, error) {
	readUvarint := func() (uint64, error) {
		v, off := kv.GetUvarint(b[p:])
		if off <= 0 {
			return 0, &cmn.CorruptKeyError{Reason: "truncated varint"}
		}
		p += off
		return v, nil
	}
	switch e.Tag {
	case TagStateChange:
		v, err := readUvarint()
		if err != nil {
			return 0, err
		}
		e.ChangeID = v
		if v, err = readUvarint(); err != nil {
			return 0, err
		}
		e.Types = v
		if v, err = readUvarint(); err != nil {
			return 0, err
		}
		e.Account = uint32(v)
	case TagCalendarAlert:
		v, err := readUvarint()
		if err != nil {
			return 0, err
		}
		e.Account = uint32(v)
		if v, err = readUvarint(); err != nil {
			return 0, err
		}
		e.EventID = uint32(v)
		if v, err = readUvarint(); err != nil {
			return 0, err
		}
		e.RecurrenceID = uint32(v)
		s, n, err := getString(b[p:])
		if err != nil {
			return 0, err
		}
		e.UID = s
		p += n
		s, n, err = getString(b[p:])
		if err != nil {
			return 0, err
		}
		e.AlertID = s
		p += n
	case TagEmailPush:
		v, err := readUvarint()
		if err != nil {
			return 0, err
		}
		e.Account = uint32(v)
		if v, err = readUvarint(); err != nil {
			return 0, err
		}
		e.EmailID = uint32(v)
		if v, err = readUvarint(); err != nil {
			return 0, err
		}
		e.ChangeID = v
	case TagInvalidateAccessTokens, TagInvalidateGroupwareCache:
		count, err := readUvarint()
		if err != nil {
			return 0, err
		}
		e.AccountIDs = make([]uint32, 0, count)
		for i := uint64(0); i < count; i++ {
			v, err := readUvarint()
			if err != nil {
				return 0, err
			}
			e.AccountIDs = append(e.AccountIDs, uint32(v))
		}
	case TagReloadSettings, TagReloadBlockedIps, TagReloadSpamFilter:
		// no payload
	case TagReloadPushServers:
		v, err := readUvarint()
		if err != nil {
			return 0, err
		}
		e.Account = uint32(v)
	default:
		return 0, &cmn.CorruptKeyError{Reason: "unknown broadcast tag"}
	}
	return p, nil
}
