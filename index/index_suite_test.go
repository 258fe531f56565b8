package index_test

import (
	"context"
	"testing"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/stalwartgo/core/batch"
	"github.com/stalwartgo/core/index"
	"github.com/stalwartgo/core/kv"
	"github.com/stalwartgo/core/search"
	"github.com/stalwartgo/core/store/memstore"
)

func TestIndexSuite(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Index/Search/ACL Integration Suite")
}

var _ = Describe("a document's full lifecycle across storage, search, and sharing", func() {
	var (
		backend *memstore.Backend
		ctx     = context.Background()
	)

	BeforeEach(func() {
		var err error
		backend, err = memstore.Open(":memory:")
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		backend.Close()
	})

	It("indexes, posts to search, and grants sharing together in one commit", func() {
		doc := &index.OwnedObject{
			Encode: func() ([]byte, error) { return []byte("hello world"), nil },
			ValueList: []index.Value{
				{Kind: index.KindIndex, Field: 1, Bytes: []byte("subject-token")},
				{Kind: index.KindSearchIndex, Field: 2, Hashes: []uint64{search.TermHash("hello"), search.TermHash("world")}},
				{Kind: index.KindAcl, Grantee: 42, Rights: 1},
			},
		}
		ch := &index.Change{Account: 1, Collection: kv.Email, Document: 7, Current: nil, Changes: doc}

		b := batch.New(backend)
		Expect(b.Custom(ch)).To(Succeed())
		_, err := b.BuildAll(ctx)
		Expect(err).NotTo(HaveOccurred())

		data, found, err := backend.Get(ctx, kv.PropertyKey(1, kv.Email, 7, 0))
		Expect(err).NotTo(HaveOccurred())
		Expect(found).To(BeTrue())
		Expect(string(data)).To(Equal("hello world"))

		idx := search.New(backend)
		bm, err := idx.Lookup(ctx, 1, 2, search.TermHash("hello"))
		Expect(err).NotTo(HaveOccurred())
		Expect(bm.Contains(7)).To(BeTrue())

		acl, found, err := backend.Get(ctx, kv.ACLKey(1, kv.Email, 7, 42))
		Expect(err).NotTo(HaveOccurred())
		Expect(found).To(BeTrue())
		Expect(acl).To(HaveLen(4))
	})

	It("removes search postings when the document is deleted", func() {
		doc := &index.OwnedObject{
			Encode: func() ([]byte, error) { return []byte("v1"), nil },
			ValueList: []index.Value{
				{Kind: index.KindSearchIndex, Field: 2, Hashes: []uint64{search.TermHash("ephemeral")}},
			},
		}
		create := &index.Change{Account: 1, Collection: kv.Email, Document: 9, Current: nil, Changes: doc}
		b := batch.New(backend)
		Expect(b.Custom(create)).To(Succeed())
		_, err := b.BuildAll(ctx)
		Expect(err).NotTo(HaveOccurred())

		cur := &index.BorrowedObject{
			ArchiveBytes: []byte("v1"),
			ValueList:    doc.ValueList,
		}
		del := &index.Change{Account: 1, Collection: kv.Email, Document: 9, Current: cur, Changes: nil}
		b2 := batch.New(backend)
		Expect(b2.Custom(del)).To(Succeed())
		_, err = b2.BuildAll(ctx)
		Expect(err).NotTo(HaveOccurred())

		idx := search.New(backend)
		bm, err := idx.Lookup(ctx, 1, 2, search.TermHash("ephemeral"))
		Expect(err).NotTo(HaveOccurred())
		Expect(bm.Contains(9)).To(BeFalse())
	})
})
