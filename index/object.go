// Package index turns a document's logical create/update/delete into the
// concrete set of storage operations — archive write, secondary index
// entries, ACL grants, quota deltas, search postings, and change-log
// entries — needed to move the store from one consistent state to the
// next. It is the sole implementer of batch.ObjectIndexBuilder.
/*
 * Copyright (c) 2018-2020, NVIDIA CORPORATION. All rights reserved.
 */
package index

import (
	"github.com/stalwartgo/core/changelog"
	"github.com/stalwartgo/core/kv"
)

// Object is anything the indexer can diff and archive: a mailbox, an
// email, a calendar event, a contact card. Two unrelated shapes satisfy
// it — a BorrowedObject view over bytes already read from storage, and an
// OwnedObject a caller constructs fresh for a create/update — so the
// indexer never has to care which one it was handed.
type Object interface {
	// Archive returns the bytes to store at the document's PROPERTY key.
	Archive() ([]byte, error)
	// ArchiveVersion is stamped into the archive header; implementations
	// that don't care about schema versioning can return 0.
	ArchiveVersion() uint32
	// Values enumerates every IndexValue this object projects into
	// secondary storage (indexes, ACL, quota, search, change-log hints).
	Values() []Value
}

// BorrowedObject wraps an object read back from storage: its Archive
// bytes were produced elsewhere (typically by a previous OwnedObject's
// Archive call) and are merely being re-diffed, e.g. to compute the
// "current" side of a change.
type BorrowedObject struct {
	ArchiveBytes []byte
	Version      uint32
	ValueList    []Value
}

func (o *BorrowedObject) Archive() ([]byte, error) { return o.ArchiveBytes, nil }
func (o *BorrowedObject) ArchiveVersion() uint32    { return o.Version }
func (o *BorrowedObject) Values() []Value           { return o.ValueList }

// OwnedObject wraps a value a caller just constructed; Encode is called
// lazily so BuildOps can skip it entirely when the object is being
// deleted (changes == nil).
type OwnedObject struct {
	Encode    func() ([]byte, error)
	Version   uint32
	ValueList []Value
}

func (o *OwnedObject) Archive() ([]byte, error) { return o.Encode() }
func (o *OwnedObject) ArchiveVersion() uint32    { return o.Version }
func (o *OwnedObject) Values() []Value           { return o.ValueList }

// ValueKind discriminates the Value union.
type ValueKind byte

const (
	// KindIndex is a plain secondary index entry (field, value) -> docID.
	KindIndex ValueKind = iota
	// KindAcl grants principal Grantee the Rights bitmap on this document.
	KindAcl
	// KindQuota adds Delta to the account's (or tenant's) used-bytes
	// counter, identified by the Bytes slice (the quota counter key suffix).
	KindQuota
	// KindSearchIndex posts this document into the bitmap for every hash
	// in Hashes under Field (a tokenized-text index).
	KindSearchIndex
	// KindLogItem marks that this document's own lifecycle should be
	// recorded in sc's change-log as Kind.
	KindLogItem
	// KindLogContainer marks that inserting/removing this document
	// changes a container document (e.g. a mailbox's child count) that
	// must also appear in sc's change-log.
	KindLogContainer
)

// Value is one projection of an Object into secondary storage. Only the
// fields relevant to Kind are read.
type Value struct {
	Kind ValueKind

	// KindIndex / KindSearchIndex
	Field byte
	Bytes []byte
	Hashes []uint64

	// KindAcl
	Grantee uint32
	Rights  uint32

	// KindQuota
	Delta int64

	// KindLogItem / KindLogContainer
	SC           kv.SyncCollection
	LogKind      changelog.ItemKind
	ContainerDoc uint32
}
