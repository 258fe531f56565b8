package kv

import (
	"encoding/binary"
	"fmt"
)

// Key is a raw, already-encoded byte-string key. Subspaces never store
// values as part of the key proper; value bytes are handled separately by
// the storage backend (package store).
type Key []byte

// PutUvarint appends v's LEB128 (unsigned varint) encoding to dst and
// returns the grown slice. LEB128 fields are used for suffixes that never
// participate in a range scan.
func PutUvarint(dst []byte, v uint64) []byte {
	var buf [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(buf[:], v)
	return append(dst, buf[:n]...)
}

// GetUvarint reads a LEB128 value from the front of b, returning the value
// and the number of bytes consumed.
func GetUvarint(b []byte) (uint64, int) {
	return binary.Uvarint(b)
}

func be32(v uint32) []byte {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	return b[:]
}

func be64(v uint64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	return b[:]
}

// IndexKey builds an `<INDEXES> <account:be32> <collection:u8> <field-id:u8>
// <value-bytes…> <document-id:be32>` key. Existence alone is the signal;
// index keys never carry a value.
func IndexKey(account uint32, coll Collection, field byte, value []byte, docID uint32) Key {
	k := make(Key, 0, 1+4+1+1+len(value)+4)
	k = append(k, byte(INDEXES))
	k = append(k, be32(account)...)
	k = append(k, byte(coll), field)
	k = append(k, value...)
	k = append(k, be32(docID)...)
	return k
}

// IndexPrefix builds the prefix `<INDEXES> <account:be32> <collection:u8>
// <field-id:u8> <value-bytes…>` used to range-scan all document-ids for a
// given indexed value (or, with a shorter value, all values with that
// prefix).
func IndexPrefix(account uint32, coll Collection, field byte, value []byte) Key {
	k := make(Key, 0, 1+4+1+1+len(value))
	k = append(k, byte(INDEXES))
	k = append(k, be32(account)...)
	k = append(k, byte(coll), field)
	k = append(k, value...)
	return k
}

// IndexFieldPrefix scopes a scan to every value under one (account,
// collection, field) triple.
func IndexFieldPrefix(account uint32, coll Collection, field byte) Key {
	return IndexPrefix(account, coll, field, nil)
}

// DocumentIDFromIndexKey extracts the trailing four-byte document-id of an
// index key built by IndexKey; the value length is not needed.
func DocumentIDFromIndexKey(k Key) (uint32, error) {
	if len(k) < 4 {
		return 0, fmt.Errorf("index key too short: %d bytes", len(k))
	}
	tail := k[len(k)-4:]
	return binary.BigEndian.Uint32(tail), nil
}

// PropertyKey builds the canonical archive key `<PROPERTY> <account:be32>
// <collection:u8> <document-id:be32> <property-id:u8>`.
func PropertyKey(account uint32, coll Collection, docID uint32, propID byte) Key {
	k := make(Key, 0, 1+4+1+4+1)
	k = append(k, byte(PROPERTY))
	k = append(k, be32(account)...)
	k = append(k, byte(coll))
	k = append(k, be32(docID)...)
	k = append(k, propID)
	return k
}

// ChunkKey appends a one-byte chunk-id to a head key, used when a value
// exceeds the backend's chunk threshold and spills into numbered
// continuation keys.
func ChunkKey(head Key, chunkID byte) Key {
	k := make(Key, len(head)+1)
	copy(k, head)
	k[len(head)] = chunkID
	return k
}

// CounterKey builds a `<COUNTER|QUOTA> <key-bytes…>` key. The stored value
// is an 8-byte little-endian signed integer, mutated only by additive ops.
func CounterKey(quota bool, parts ...[]byte) Key {
	sub := COUNTER
	if quota {
		sub = QUOTA
	}
	size := 1
	for _, p := range parts {
		size += len(p)
	}
	k := make(Key, 0, size)
	k = append(k, byte(sub))
	for _, p := range parts {
		k = append(k, p...)
	}
	return k
}

// LogKey builds a `<LOGS> <account:be32> <sync-collection:u8>
// <change-id:be64>` key.
func LogKey(account uint32, sc SyncCollection, changeID int64) Key {
	k := make(Key, 0, 1+4+1+8)
	k = append(k, byte(LOGS))
	k = append(k, be32(account)...)
	k = append(k, byte(sc))
	k = append(k, be64(uint64(changeID))...)
	return k
}

// LogPrefix builds the prefix used to scan every change-log entry for
// (account, sync-collection) from a given change-id forward.
func LogPrefix(account uint32, sc SyncCollection) Key {
	k := make(Key, 0, 1+4+1)
	k = append(k, byte(LOGS))
	k = append(k, be32(account)...)
	k = append(k, byte(sc))
	return k
}

// BlobKey builds a `<BLOBS> <hash…>` content-addressed key.
func BlobKey(hash []byte) Key {
	k := make(Key, 0, 1+len(hash))
	k = append(k, byte(BLOBS))
	return append(k, hash...)
}

// BlobLinkKey builds a `<BLOB_LINK> <hash…> <ref-kind:u8> <ref-bytes…>` key.
// ref-kind distinguishes Reserved (0) from Linked (1) references so both
// sort together under one hash during the GC sweep.
func BlobLinkKey(hash []byte, refKind byte, ref []byte) Key {
	k := make(Key, 0, 1+len(hash)+1+len(ref))
	k = append(k, byte(BLOB_LINK))
	k = append(k, hash...)
	k = append(k, refKind)
	return append(k, ref...)
}

// BlobLinkPrefix scopes a scan to every reference of one blob hash.
func BlobLinkPrefix(hash []byte) Key {
	k := make(Key, 0, 1+len(hash))
	k = append(k, byte(BLOB_LINK))
	return append(k, hash...)
}

const (
	RefKindReserved byte = 0
	RefKindLinked   byte = 1
)

// QueueMessageKey builds a `<QUEUE_MESSAGE> <queue-id:be64>` key.
func QueueMessageKey(queueID uint64) Key {
	k := make(Key, 0, 1+8)
	k = append(k, byte(QUEUE_MESSAGE))
	return append(k, be64(queueID)...)
}

// QueueEventKey builds a `<QUEUE_EVENT> <due-ts:be64> <queue-id:be64>
// <recipient-idx:be32>` key; the due_ts prefix makes the earliest-due event
// sort first.
func QueueEventKey(dueTS int64, queueID uint64, recipientIdx uint32) Key {
	k := make(Key, 0, 1+8+8+4)
	k = append(k, byte(QUEUE_EVENT))
	k = append(k, be64(uint64(dueTS))...)
	k = append(k, be64(queueID)...)
	return append(k, be32(recipientIdx)...)
}

// TaskKey builds a `<TASK_QUEUE> <due-ts:be64> <account:be32>
// <document:be32> <action-tag:u8>` key, sorted by due_ts.
func TaskKey(dueTS int64, account, document uint32, actionTag byte) Key {
	k := make(Key, 0, 1+8+4+4+1)
	k = append(k, byte(TASK_QUEUE))
	k = append(k, be64(uint64(dueTS))...)
	k = append(k, be32(account)...)
	k = append(k, be32(document)...)
	return append(k, actionTag)
}

// TaskScanFrom builds the prefix to scan all due tasks up to (and
// including) `now`.
func TaskScanFrom(now int64) Key {
	k := make(Key, 0, 1+8)
	k = append(k, byte(TASK_QUEUE))
	return append(k, be64(uint64(now))...)
}

// QueueScanFrom builds the prefix to scan all due QUEUE_EVENT rows up to
// (and including) `now`, analogous to TaskScanFrom.
func QueueScanFrom(now int64) Key {
	k := make(Key, 0, 1+8)
	k = append(k, byte(QUEUE_EVENT))
	return append(k, be64(uint64(now))...)
}

// SearchIndexKey builds a `<SEARCH_INDEX> <index-id:u8> <account:be32>
// <hash:be64> <field-id:u8>` key addressing one term's document bitmap.
func SearchIndexKey(indexID byte, account uint32, hash uint64, field byte) Key {
	k := make(Key, 0, 1+1+4+8+1)
	k = append(k, byte(SEARCH_INDEX))
	k = append(k, indexID)
	k = append(k, be32(account)...)
	k = append(k, be64(hash)...)
	return append(k, field)
}

// ACLKey builds a `<ACL> <account:be32> <collection:u8> <document:be32>
// <grantee:be32>` key.
func ACLKey(account uint32, coll Collection, docID, grantee uint32) Key {
	k := make(Key, 0, 1+4+1+4+4)
	k = append(k, byte(ACL))
	k = append(k, be32(account)...)
	k = append(k, byte(coll))
	k = append(k, be32(docID)...)
	return append(k, be32(grantee)...)
}

// ACLPrefix scopes a scan to every grant on one resource.
func ACLPrefix(account uint32, coll Collection, docID uint32) Key {
	k := make(Key, 0, 1+4+1+4)
	k = append(k, byte(ACL))
	k = append(k, be32(account)...)
	k = append(k, byte(coll))
	return append(k, be32(docID)...)
}

// SettingsKey builds a `<SETTINGS> <name…>` key for a named, process-wide
// or per-account setting (e.g. reload-triggered config knobs).
func SettingsKey(name string) Key {
	k := make(Key, 0, 1+len(name))
	k = append(k, byte(SETTINGS))
	return append(k, name...)
}

// DirectoryKey builds a `<DIRECTORY> <account:be32> <collection:u8>
// <document:be32>` key. Its value is the document's parent-id (be32, or
// absent for a root), modeling the (id -> parent-id) edges of a thread or
// folder tree.
func DirectoryKey(account uint32, coll Collection, docID uint32) Key {
	k := make(Key, 0, 1+4+1+4)
	k = append(k, byte(DIRECTORY))
	k = append(k, be32(account)...)
	k = append(k, byte(coll))
	return append(k, be32(docID)...)
}
