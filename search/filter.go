package search

import (
	"context"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/stalwartgo/core/cmn"
)

// Op is one instruction in a postfix filter program.
type Op byte

const (
	// OpLeaf pushes the posting bitmap for (Account, Field, Hash).
	OpLeaf Op = iota
	// OpAnd pops two bitmaps, pushes their intersection.
	OpAnd
	// OpOr pops two bitmaps, pushes their union.
	OpOr
	// OpNot pops one bitmap, pushes its complement within Universe.
	OpNot
	// OpEnd terminates evaluation early; anything after it is ignored.
	OpEnd
)

// Instr is one program instruction. Only the fields relevant to Op are read.
type Instr struct {
	Op      Op
	Account uint32
	Field   byte
	Hash    uint64
}

// Eval runs program as a stack machine, short-circuiting an OpAnd as soon
// as either operand is empty. universe is the full candidate set OpNot
// complements against (typically every document-id in the collection);
// nil is treated as "nothing to complement into" and OpNot then yields an
// empty set.
func Eval(ctx context.Context, idx *Index, program []Instr, universe *roaring.Bitmap) (*roaring.Bitmap, error) {
	var stack []*roaring.Bitmap
	pop := func() *roaring.Bitmap {
		n := len(stack) - 1
		v := stack[n]
		stack = stack[:n]
		return v
	}

	for _, instr := range program {
		switch instr.Op {
		case OpEnd:
			goto done
		case OpLeaf:
			bm, err := idx.Lookup(ctx, instr.Account, instr.Field, instr.Hash)
			if err != nil {
				return nil, err
			}
			stack = append(stack, bm)
		case OpAnd:
			b, a := pop(), pop()
			if a.IsEmpty() || b.IsEmpty() {
				stack = append(stack, roaring.NewBitmap())
				continue
			}
			stack = append(stack, roaring.And(a, b))
		case OpOr:
			b, a := pop(), pop()
			stack = append(stack, roaring.Or(a, b))
		case OpNot:
			a := pop()
			if universe == nil {
				stack = append(stack, roaring.NewBitmap())
				continue
			}
			stack = append(stack, roaring.AndNot(universe, a))
		default:
			return nil, cmn.CausedBy("search.Eval", cmn.ErrDataCorruption)
		}
	}
done:
	if len(stack) != 1 {
		return nil, cmn.CausedBy("search.Eval", cmn.ErrDataCorruption)
	}
	return stack[0], nil
}
