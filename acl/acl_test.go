package acl

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/stalwartgo/core/graph"
	"github.com/stalwartgo/core/kv"
	"github.com/stalwartgo/core/store"
	"github.com/stalwartgo/core/store/memstore"
)

func setGrant(t *testing.T, ctx context.Context, backend store.Backend, account uint32, coll kv.Collection, docID, grantee uint32, rights Rights) {
	t.Helper()
	var v [4]byte
	v[0], v[1], v[2], v[3] = byte(rights>>24), byte(rights>>16), byte(rights>>8), byte(rights)
	_, err := backend.Write(ctx, &store.Batch{Ops: []store.Op{
		{Kind: store.OpSet, Key: kv.ACLKey(account, coll, docID, grantee), Value: v[:]},
	}})
	require.NoError(t, err)
}

func TestEffectiveACLUnionsAncestorGrants(t *testing.T) {
	backend, err := memstore.Open(":memory:")
	require.NoError(t, err)
	defer backend.Close()
	ctx := context.Background()

	require.NoError(t, graph.SetParent(ctx, backend, 1, kv.FileNode, 2, 1))

	setGrant(t, ctx, backend, 1, kv.FileNode, 1, 99, RightRead)
	setGrant(t, ctx, backend, 1, kv.FileNode, 2, 99, RightWrite)

	eff, err := EffectiveACL(ctx, backend, 1, kv.FileNode, 2, []uint32{99})
	require.NoError(t, err)
	require.True(t, Has(eff, RightRead))
	require.True(t, Has(eff, RightWrite))
	require.False(t, Has(eff, RightDelete))
}

func TestEffectiveACLDenyOverridesAncestorGrant(t *testing.T) {
	backend, err := memstore.Open(":memory:")
	require.NoError(t, err)
	defer backend.Close()
	ctx := context.Background()

	require.NoError(t, graph.SetParent(ctx, backend, 1, kv.FileNode, 2, 1))

	setGrant(t, ctx, backend, 1, kv.FileNode, 1, 99, RightRead|RightWrite)
	setGrant(t, ctx, backend, 1, kv.FileNode, 2, 99, Deny(RightWrite))

	eff, err := EffectiveACL(ctx, backend, 1, kv.FileNode, 2, []uint32{99})
	require.NoError(t, err)
	require.True(t, Has(eff, RightRead))
	require.False(t, Has(eff, RightWrite))
}

func TestEffectiveACLUnionsAcrossGranteeGroups(t *testing.T) {
	backend, err := memstore.Open(":memory:")
	require.NoError(t, err)
	defer backend.Close()
	ctx := context.Background()

	setGrant(t, ctx, backend, 1, kv.FileNode, 1, 99, RightRead)  // user
	setGrant(t, ctx, backend, 1, kv.FileNode, 1, 5, RightShare)  // group the user belongs to

	eff, err := EffectiveACL(ctx, backend, 1, kv.FileNode, 1, []uint32{99, 5})
	require.NoError(t, err)
	require.True(t, Has(eff, RightRead))
	require.True(t, Has(eff, RightShare))
}

func TestEffectiveACLNoGrantsIsEmpty(t *testing.T) {
	backend, err := memstore.Open(":memory:")
	require.NoError(t, err)
	defer backend.Close()
	ctx := context.Background()

	eff, err := EffectiveACL(ctx, backend, 1, kv.FileNode, 1, []uint32{99})
	require.NoError(t, err)
	require.Equal(t, Rights(0), eff)
}
