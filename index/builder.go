package index

import (
	"bytes"

	"github.com/stalwartgo/core/batch"
	"github.com/stalwartgo/core/changelog"
	"github.com/stalwartgo/core/kv"
)

// Change describes one document transition: current is what's presently
// stored (nil if the document is being created), changes is what it
// should become (nil if the document is being deleted). At least one of
// the two must be non-nil.
type Change struct {
	Account    uint32
	Collection kv.Collection
	Document   uint32
	PropID     byte

	Current Object
	Changes Object

	// Containers optionally names sync collections whose container-level
	// change-log entry should fire alongside this document's own, keyed
	// by the container document-id each should record against.
	Containers map[kv.SyncCollection]uint32
}

// BuildOps implements batch.ObjectIndexBuilder, letting a Change be
// handed straight to Builder.Custom.
func (c *Change) BuildOps(b *batch.Builder) error {
	b.WithAccount(c.Account).WithCollection(c.Collection).WithDocument(c.Document)

	propKey := kv.PropertyKey(c.Account, c.Collection, c.Document, c.PropID)

	var curArchive []byte
	if c.Current != nil {
		a, err := c.Current.Archive()
		if err != nil {
			return err
		}
		curArchive = a
	}
	b.AssertValue(propKey, curArchive)

	if c.Changes == nil {
		b.Clear(propKey)
	} else {
		newArchive, err := c.Changes.Archive()
		if err != nil {
			return err
		}
		b.Set(propKey, newArchive)
	}

	diffValues(b, valuesOf(c.Current), valuesOf(c.Changes))

	for sc, containerDoc := range c.Containers {
		if c.Changes == nil {
			b.LogContainerDelete(sc, containerDoc)
		} else {
			b.LogContainerInsert(sc, containerDoc)
		}
	}

	return nil
}

func valuesOf(o Object) []Value {
	if o == nil {
		return nil
	}
	return o.Values()
}

// diffValues walks the current and new Value lists and emits the minimal
// set of ops: values present in new but not current are added, values
// present in current but not new are removed, quota deltas and counters
// are re-derived from the net change rather than double-applied.
func diffValues(b *batch.Builder, cur, next []Value) {
	curSet := make(map[string]Value, len(cur))
	for _, v := range cur {
		curSet[valueKey(v)] = v
	}
	nextSet := make(map[string]Value, len(next))
	for _, v := range next {
		nextSet[valueKey(v)] = v
	}

	for k, v := range nextSet {
		if _, ok := curSet[k]; !ok {
			applyAdd(b, v)
		}
	}
	for k, v := range curSet {
		if _, ok := nextSet[k]; !ok {
			applyRemove(b, v)
		}
	}

	// Counters/quotas are deltas, not set-membership values: every Value
	// of KindQuota on either side contributes its signed Delta directly,
	// regardless of whether an identical entry existed before.
	for _, v := range next {
		if v.Kind == KindQuota {
			b.AddCounter(quotaKey(v), v.Delta)
		}
	}
	for _, v := range cur {
		if v.Kind == KindQuota {
			b.AddCounter(quotaKey(v), -v.Delta)
		}
	}
}

func quotaKey(v Value) kv.Key {
	return kv.CounterKey(true, v.Bytes)
}

// valueKey produces a stable identity for set-membership comparison.
// KindQuota values get a key too, but applyAdd/applyRemove ignore them
// since quota is handled as a pure delta above.
func valueKey(v Value) string {
	var buf bytes.Buffer
	buf.WriteByte(byte(v.Kind))
	buf.WriteByte(v.Field)
	buf.Write(v.Bytes)
	if v.Kind == KindAcl {
		var g [4]byte
		be32(g[:], v.Grantee)
		buf.Write(g[:])
		var r [4]byte
		be32(r[:], v.Rights)
		buf.Write(r[:])
	}
	if v.Kind == KindSearchIndex {
		for _, h := range v.Hashes {
			var hb [8]byte
			be64(hb[:], h)
			buf.Write(hb[:])
		}
	}
	return buf.String()
}

func be32(dst []byte, v uint32) {
	dst[0] = byte(v >> 24)
	dst[1] = byte(v >> 16)
	dst[2] = byte(v >> 8)
	dst[3] = byte(v)
}

func be64(dst []byte, v uint64) {
	for i := 0; i < 8; i++ {
		dst[i] = byte(v >> (56 - 8*i))
	}
}

func applyAdd(b *batch.Builder, v Value) {
	switch v.Kind {
	case KindIndex:
		b.Index(v.Field, v.Bytes)
	case KindAcl:
		var rb [4]byte
		be32(rb[:], v.Rights)
		b.Set(aclKey(b, v), rb[:])
		b.LogForeignItem(v.Grantee, kv.SyncSharing, changelog.Inserted, b.Document())
	case KindSearchIndex:
		for _, h := range v.Hashes {
			b.Set(searchKey(b, v.Field, h), nil)
		}
	case KindLogItem:
		b.LogItem(v.SC, v.LogKind)
	case KindLogContainer:
		b.LogContainerInsert(v.SC, v.ContainerDoc)
	case KindQuota:
		// handled as a pure delta in diffValues
	}
}

func applyRemove(b *batch.Builder, v Value) {
	switch v.Kind {
	case KindIndex:
		b.Unindex(v.Field, v.Bytes)
	case KindAcl:
		b.Clear(aclKey(b, v))
		b.LogForeignItem(v.Grantee, kv.SyncSharing, changelog.Vanished, b.Document())
	case KindSearchIndex:
		for _, h := range v.Hashes {
			b.Clear(searchKey(b, v.Field, h))
		}
	case KindLogItem:
		b.LogItem(v.SC, changelog.Vanished)
	case KindLogContainer:
		b.LogContainerDelete(v.SC, v.ContainerDoc)
	case KindQuota:
		// handled as a pure delta in diffValues
	}
}

func aclKey(b *batch.Builder, v Value) kv.Key {
	return kv.ACLKey(b.Account(), b.Collection(), b.Document(), v.Grantee)
}

func searchKey(b *batch.Builder, field byte, hash uint64) kv.Key {
	const primaryIndexID = 0
	return kv.SearchIndexKey(primaryIndexID, b.Account(), hash, field)
}
