// Package acl computes effective access rights for a principal over a
// resource by walking the resource's ancestor chain (via package graph)
// and unioning grants, then subtracting explicit denials.
/*
 * Copyright (c) 2018-2020, NVIDIA CORPORATION. All rights reserved.
 */
package acl

import (
	"context"

	"github.com/stalwartgo/core/cmn"
	"github.com/stalwartgo/core/graph"
	"github.com/stalwartgo/core/kv"
	"github.com/stalwartgo/core/store"
)

// Rights is a permission bitmask. The top bit marks a grant row as a
// denial: its remaining bits name the permissions being revoked rather
// than granted, so the same 4-byte value shape serves both directions.
type Rights uint32

const (
	RightRead Rights = 1 << iota
	RightWrite
	RightShare
	RightDelete
	RightAdmin

	denyBit Rights = 1 << 31
)

// IsDeny reports whether a stored Rights value is a denial row.
func (r Rights) IsDeny() bool   { return r&denyBit != 0 }
func (r Rights) Bits() Rights   { return r &^ denyBit }
func Deny(bits Rights) Rights   { return bits | denyBit }

// grant is one ACL row read back off storage.
type grant struct {
	rights Rights
}

func readGrant(ctx context.Context, backend store.Backend, account uint32, coll kv.Collection, docID, grantee uint32) (grant, bool, error) {
	v, found, err := backend.Get(ctx, kv.ACLKey(account, coll, docID, grantee))
	if err != nil {
		return grant{}, false, cmn.CausedBy("acl.readGrant", err)
	}
	if !found || len(v) != 4 {
		return grant{}, false, nil
	}
	bits := uint32(v[0])<<24 | uint32(v[1])<<16 | uint32(v[2])<<8 | uint32(v[3])
	return grant{rights: Rights(bits)}, true, nil
}

// EffectiveACL computes the union of every ancestor's (including the
// resource itself) grants to any of principalGrantees, minus the union of
// their denials: EffectiveACL(P, R) = (⋃ ancestor_grants) − deny_grants.
// principalGrantees is the caller's own id plus every group id it belongs
// to; a grant or deny row may be keyed to any of them.
func EffectiveACL(ctx context.Context, backend store.Backend, account uint32, coll kv.Collection, resource uint32, principalGrantees []uint32) (Rights, error) {
	chain := []uint32{resource}
	ancestors, err := graph.Ancestors(ctx, backend, account, coll, resource)
	if err != nil {
		return 0, err
	}
	chain = append(chain, ancestors...)

	var granted, denied Rights
	for _, docID := range chain {
		for _, g := range principalGrantees {
			row, ok, err := readGrant(ctx, backend, account, coll, docID, g)
			if err != nil {
				return 0, err
			}
			if !ok {
				continue
			}
			if row.rights.IsDeny() {
				denied |= row.rights.Bits()
			} else {
				granted |= row.rights.Bits()
			}
		}
	}
	return granted &^ denied, nil
}

// Has reports whether eff grants every bit in want.
func Has(eff, want Rights) bool { return eff&want == want }
