package task

import (
	"context"

	"github.com/stalwartgo/core/batch"
	"github.com/stalwartgo/core/cmn"
	"github.com/stalwartgo/core/kv"
	"github.com/stalwartgo/core/store"
)

// ThreadMember is one message sharing a reference-hash with the messages
// being merged.
type ThreadMember struct {
	DocID    uint32
	ThreadID uint32
}

// MergeThreads consolidates thread-ids for every member sharing a
// reference-hash: the thread-id with the most current members wins (ties
// broken by smallest id), every other member is rewritten to point to it,
// and the per-message archive plus the thread-index entry are updated
// accordingly. Runs under the caller's retry-on-assertion-failure loop, so
// any single AssertValue mismatch aborts this call cleanly for the caller
// to re-read and retry.
func MergeThreads(ctx context.Context, backend store.Backend, account uint32, coll kv.Collection, field byte, members []ThreadMember, rewriteArchive func(docID, newThreadID uint32) (current, updated []byte, err error)) (winner uint32, err error) {
	if len(members) == 0 {
		return 0, nil
	}

	counts := make(map[uint32]int)
	for _, m := range members {
		counts[m.ThreadID]++
	}

	winner = members[0].ThreadID
	best := counts[winner]
	for tid, c := range counts {
		if c > best || (c == best && tid < winner) {
			winner, best = tid, c
		}
	}

	b := batch.New(backend).WithAccount(account).WithCollection(coll)
	for _, m := range members {
		if m.ThreadID == winner {
			continue
		}
		current, updated, err := rewriteArchive(m.DocID, winner)
		if err != nil {
			return 0, cmn.CausedBy("task.MergeThreads", err)
		}
		b.WithDocument(m.DocID)
		b.AssertValue(kv.PropertyKey(account, coll, m.DocID, field), current)
		b.Set(kv.PropertyKey(account, coll, m.DocID, field), updated)
		b.Unindex(field, threadIDBytes(m.ThreadID))
		b.Index(field, threadIDBytes(winner))
	}

	if _, err := b.BuildAll(ctx); err != nil {
		return 0, cmn.CausedBy("task.MergeThreads", err)
	}
	return winner, nil
}

func threadIDBytes(id uint32) []byte {
	return []byte{byte(id >> 24), byte(id >> 16), byte(id >> 8), byte(id)}
}
