// Package fixup implements deferred relocation patches: fix_new/fix_new_exp
// create them during assembly, fixup_segment resolves them at write time
// (spec C6, §4.4; grounded on binutils gas's struct fix/write.c, kept in
// original_source/).
package fixup

import (
	"github.com/coffasm/coffasm/pkg/asm/expr"
	"github.com/coffasm/coffasm/pkg/asm/ids"
	"github.com/coffasm/coffasm/pkg/reloc"
)

// Fixup is one deferred relocation (spec §3.4): a byte range within a frag
// whose final content depends on one or two symbols that may not be known
// until much later (another frag's address, another object's definition).
type Fixup struct {
	ID int

	Frag  ids.FragID
	Where int64 // byte offset within the frag's fixed content
	Size  int   // width of the field being patched, in bytes

	// AddSymbol is the fixup's primary symbol operand. CombineOp, when not
	// OpIllegal, names a second operand (OtherSymbol) added or subtracted
	// against it, covering fix_new_exp's "Sub(Symbol,Symbol)" and
	// "Add(Symbol,Symbol)+const" shapes (spec §4.4). Negate covers the
	// "UnaryMinus(Symbol)" shape: the resolved value of AddSymbol is
	// negated before Addend is applied.
	AddSymbol   ids.SymbolID
	CombineOp   expr.Op
	OtherSymbol ids.SymbolID
	Negate      bool
	Addend      int64

	PCRelative bool
	PLT        bool

	// BitOffset/BitWidth/Signed describe the sub-byte field the value is
	// inserted into, for targets that pack fields across byte boundaries
	// (spec §3.4 "bit-field descriptor"). A zero BitWidth means "the whole
	// Size-byte field", the common case.
	BitOffset int
	BitWidth  int
	Signed    bool

	Kind reloc.Kind
	Done bool

	Pos expr.Pos
}

// New implements fix_new: a fixup whose value is a single symbol plus a
// constant offset.
func New(frag ids.FragID, where int64, size int, addSymbol ids.SymbolID, offset int64, pcrel bool, kind reloc.Kind, pos expr.Pos) *Fixup {
	return &Fixup{
		Frag: frag, Where: where, Size: size,
		AddSymbol: addSymbol, OtherSymbol: ids.NoSymbol, CombineOp: expr.OpIllegal,
		Addend: offset, PCRelative: pcrel, Kind: kind, Pos: pos,
	}
}

// NewFromExpr implements fix_new_exp: lower a parsed expression value into
// a fixup. Only the shapes spec §4.4 names are supported directly
// (Constant, Symbol, SymbolRva, UnaryMinus(Symbol), Sub(Symbol,Symbol),
// Add(Symbol,Symbol)+const); anything else is first reduced to a synthetic
// expression symbol via resolver.MakeExprSymbol.
func NewFromExpr(frag ids.FragID, where int64, size int, v expr.Value, resolver expr.SymbolResolver, pcrel bool, kind reloc.Kind, pos expr.Pos) *Fixup {
	fx := &Fixup{
		Frag: frag, Where: where, Size: size,
		AddSymbol: ids.NoSymbol, OtherSymbol: ids.NoSymbol, CombineOp: expr.OpIllegal,
		PCRelative: pcrel, Kind: kind, Pos: pos,
	}

	switch v.Op {
	case expr.OpConstant:
		fx.Addend = v.AddNumber

	case expr.OpSymbol, expr.OpSymbolRva:
		fx.AddSymbol = v.AddSymbol
		fx.Addend = v.AddNumber

	case expr.OpUnaryMinus:
		fx.AddSymbol = v.AddSymbol
		fx.Negate = true
		fx.Addend = -v.AddNumber

	case expr.OpSub:
		fx.AddSymbol = v.AddSymbol
		fx.CombineOp = expr.OpSub
		fx.OtherSymbol = v.OpSymbol
		fx.Addend = v.AddNumber

	case expr.OpAdd:
		fx.AddSymbol = v.AddSymbol
		fx.CombineOp = expr.OpAdd
		fx.OtherSymbol = v.OpSymbol
		fx.Addend = v.AddNumber

	default:
		fx.AddSymbol = resolver.MakeExprSymbol(v, pos)
	}

	return fx
}
