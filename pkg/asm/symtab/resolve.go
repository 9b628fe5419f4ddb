package symtab

import (
	"github.com/coffasm/coffasm/pkg/asm/expr"
	"github.com/coffasm/coffasm/pkg/asm/ids"
	"github.com/coffasm/coffasm/pkg/utils"
)

// color tracks a symbol's state during one Resolve() walk, used only to
// detect a dependency cycle within that single call (spec §9: resolving an
// already-resolved symbol must be a no-op, and a self-referential equate
// must be reported rather than looping forever).
type color uint8

const (
	white color = iota
	gray
	black
)

// Resolve computes the closure of id's value: follows AddSymbol/OpSymbol
// chains as far as they lead to already-resolved or foldable symbols, and
// marks id resolved once nothing further can be folded (spec §4.2). It is
// idempotent: calling it again on an already-resolved symbol is a no-op
// (spec §8 invariant 2).
func (t *Table) Resolve(id ids.SymbolID) error {
	state := make([]color, len(t.symbols))
	return t.resolve(id, state)
}

// ResolveAll resolves every symbol currently in the table, tolerating
// symbols that can't be fully folded yet (e.g. ones still awaiting a frag
// address from relaxation, or link-time .sizeof./.startof. placeholders).
func (t *Table) ResolveAll() error {
	state := make([]color, len(t.symbols))
	for i := range t.symbols {
		if err := t.resolve(ids.SymbolID(i), state); err != nil {
			return err
		}
	}
	return nil
}

func (t *Table) resolve(id ids.SymbolID, state []color) error {
	sym := t.Get(id)
	if sym.Resolved() {
		return nil
	}
	if state[id] == gray {
		return utils.MakeError(ErrSelfReference, "%q at %s", sym.Name, sym.Pos)
	}
	state[id] = gray
	defer func() { state[id] = black }()

	switch sym.Value.Op {
	case expr.OpConstant:
		sym.Flags |= FlagResolved

	case expr.OpAbsent, expr.OpIllegal:
		// Still undefined (spec §3.1): nothing to fold, left unresolved for
		// the linker to report or satisfy from another object.

	case expr.OpSymbol, expr.OpSymbolRva:
		if err := t.resolveAlias(sym, state); err != nil {
			return err
		}

	case expr.OpSub:
		if err := t.resolveDifference(sym, state); err != nil {
			return err
		}

	default:
		if sym.Value.Op.IsBinaryOp() {
			if err := t.resolveBinary(sym, state); err != nil {
				return err
			}
		}
		// Register/Big and anything else are already in final form or are
		// left for the target/object-format layer to interpret.
		sym.Flags |= FlagResolved
	}

	return nil
}

// resolveAlias folds "sym + k" once sym itself is known to be an absolute
// constant or to share a frag with id (the latter only matters for symbols
// synthesized by DotSymbol, whose AddSymbol points at itself).
func (t *Table) resolveAlias(sym *Symbol, state []color) error {
	base := sym.Value.AddSymbol
	if base == ids.NoSymbol || base == sym.ID {
		sym.Flags |= FlagResolved
		return nil
	}
	if err := t.resolve(base, state); err != nil {
		return err
	}
	baseSym := t.Get(base)
	if baseSym.IsAbsoluteConstant() {
		sym.Segment = expr.SegAbsolute
		sym.Value = expr.Constant(baseSym.Value.AddNumber + sym.Value.AddNumber)
	}
	sym.Flags |= FlagResolved
	return nil
}

// resolveDifference folds "a - b" to a plain constant when both operands
// land in the same segment with known numeric values (spec §4.1/§4.2).
func (t *Table) resolveDifference(sym *Symbol, state []color) error {
	a, b := sym.Value.AddSymbol, sym.Value.OpSymbol
	if a == ids.NoSymbol || b == ids.NoSymbol {
		sym.Flags |= FlagResolved
		return nil
	}
	if err := t.resolve(a, state); err != nil {
		return err
	}
	if err := t.resolve(b, state); err != nil {
		return err
	}
	as, bs := t.Get(a), t.Get(b)

	if av, aok := t.numericValue(as); aok {
		if bv, bok := t.numericValue(bs); bok && as.Segment == bs.Segment {
			sym.Segment = expr.SegAbsolute
			sym.Value = expr.Constant(av - bv + sym.Value.AddNumber)
		}
	}
	sym.Flags |= FlagResolved
	return nil
}

// resolveBinary folds an arbitrary two-symbol operator node once both
// operands are absolute constants; anything more exotic (e.g. mixing
// segments under &) is left for fixup_segment/the linker to reject or
// satisfy with target-specific knowledge.
func (t *Table) resolveBinary(sym *Symbol, state []color) error {
	a, b := sym.Value.AddSymbol, sym.Value.OpSymbol
	if a == ids.NoSymbol || b == ids.NoSymbol {
		return nil
	}
	if err := t.resolve(a, state); err != nil {
		return err
	}
	if err := t.resolve(b, state); err != nil {
		return err
	}
	as, bs := t.Get(a), t.Get(b)
	if as.IsAbsoluteConstant() && bs.IsAbsoluteConstant() {
		if v, ok := foldConstantOp(sym.Value.Op, as.Value.AddNumber, bs.Value.AddNumber); ok {
			sym.Segment = expr.SegAbsolute
			sym.Value = expr.Constant(v + sym.Value.AddNumber)
		}
	}
	return nil
}

// foldConstantOp evaluates a binary operator over two known int64 operands,
// mirroring expr's own constant-folding table (duplicated rather than
// exported from expr, since expr's parser-local fail() path doesn't apply
// here: an unresolvable op at this stage just stays unresolved).
func foldConstantOp(op expr.Op, a, b int64) (int64, bool) {
	switch op {
	case expr.OpAdd:
		return a + b, true
	case expr.OpSub:
		return a - b, true
	case expr.OpMul:
		return a * b, true
	case expr.OpDiv:
		if b == 0 {
			return 0, false
		}
		return a / b, true
	case expr.OpMod:
		if b == 0 {
			return 0, false
		}
		return a % b, true
	case expr.OpShl:
		return a << uint(b), true
	case expr.OpShr:
		return a >> uint(b), true
	case expr.OpBitAnd:
		return a & b, true
	case expr.OpBitOr:
		return a | b, true
	case expr.OpBitXor:
		return a ^ b, true
	default:
		return 0, false
	}
}

// numericValue returns a symbol's numeric position for difference-folding
// purposes: its absolute constant value, or its frag-relative offset when
// it's still tied to an unplaced frag (the caller is responsible for
// checking both operands share a segment/frag before trusting the result).
func (t *Table) numericValue(sym *Symbol) (int64, bool) {
	if sym.IsAbsoluteConstant() {
		return sym.Value.AddNumber, true
	}
	if sym.Frag != ids.NoFrag {
		return sym.Offset, true
	}
	return 0, false
}
