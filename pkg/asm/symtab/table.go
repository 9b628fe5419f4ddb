package symtab

import (
	"fmt"

	"github.com/coffasm/coffasm/pkg/asm/expr"
	"github.com/coffasm/coffasm/pkg/asm/ids"
	"github.com/coffasm/coffasm/pkg/utils"
)

// LocationProvider is the seam into the frag chain that lets Table answer
// DotSymbol/colon without importing package frag (frag in turn only needs
// ids.SymbolID, so no cycle is possible either direction).
type LocationProvider interface {
	// CurrentFrag returns the currently-open frag, the byte offset into it
	// where the next byte will land, and the segment of the active subseg.
	CurrentFrag() (ids.FragID, int64, expr.Segment)

	// FragAddress returns a frag's final placed address, meaningful only
	// after relax.Driver has converged. Used by NumericValue to turn a
	// symbol's frag-relative offset into an absolute position once layout
	// is known.
	FragAddress(id ids.FragID) int64
}

// Table is the assembler's symbol table (spec C4): a name-indexed, append-
// only arena of *Symbol plus the bookkeeping for equates, local numeric
// labels and MRI common blocks.
type Table struct {
	symbols []*Symbol
	byName  map[string]ids.SymbolID

	location LocationProvider

	localCount map[int]int // numeric-local-label instance counters ("Nf"/"Nb")

	mriCommon *Symbol // currently open MRI ".dsC"-style common block, if any

	dotName string // name under which the dot symbol is registered, e.g. "."
}

// NewTable creates an empty table. loc supplies the current frag/offset for
// colon() and the dot symbol; dotChar is the dialect's location character
// (spec §4.1, expr.Dialect.LocationChar).
func NewTable(loc LocationProvider, dotChar byte) *Table {
	t := &Table{
		byName:     make(map[string]ids.SymbolID),
		localCount: make(map[int]int),
		location:   loc,
		dotName:    string(dotChar),
	}
	return t
}

// newSymbol appends a fresh undefined symbol and indexes it by name.
func (t *Table) newSymbol(name string, pos Pos) *Symbol {
	id := ids.SymbolID(len(t.symbols))
	sym := &Symbol{
		ID:      id,
		Name:    name,
		Segment: expr.SegUndefined,
		Value:   expr.Value{Op: expr.OpAbsent, AddSymbol: ids.NoSymbol, OpSymbol: ids.NoSymbol},
		Frag:    ids.NoFrag,
		Pos:     pos,
	}
	t.symbols = append(t.symbols, sym)
	if name != "" {
		t.byName[name] = id
	}
	return sym
}

// Get dereferences a SymbolID. Panics on an out-of-range id, which would be
// an internal bookkeeping bug rather than a user-facing error (every
// SymbolID in circulation was minted by this table).
func (t *Table) Get(id ids.SymbolID) *Symbol {
	return t.symbols[id]
}

// Len returns the number of symbols currently interned, including synthetic
// ones.
func (t *Table) Len() int { return len(t.symbols) }

// NameOf returns a symbol's name, for diagnostics from packages (e.g.
// fixup) that only hold a bare SymbolID.
func (t *Table) NameOf(id ids.SymbolID) string { return t.Get(id).Name }

// Find looks up an existing symbol by name without creating one.
func (t *Table) Find(name string) (ids.SymbolID, bool) {
	id, ok := t.byName[name]
	return id, ok
}

// FindOrMake implements expr.SymbolResolver: look up name, creating an
// undefined placeholder on first sight (spec §4.2 find_or_make).
func (t *Table) FindOrMake(name string) expr.SymbolID {
	if id, ok := t.byName[name]; ok {
		return id
	}
	return t.newSymbol(name, Pos{}).ID
}

// SegmentOf implements expr.SymbolResolver.
func (t *Table) SegmentOf(id expr.SymbolID) expr.Segment {
	return t.Get(id).Segment
}

// ConstantValue implements expr.SymbolResolver.
func (t *Table) ConstantValue(id expr.SymbolID) (int64, bool) {
	sym := t.Get(id)
	if sym.IsAbsoluteConstant() {
		return sym.Value.AddNumber, true
	}
	return 0, false
}

// NumericValue reports a symbol's final numeric position: its absolute
// constant value, or its frag's placed address plus its offset within that
// frag. Meant to be called post-relax (package fixup's Segment calls it
// only after relax.Driver has converged); before that, a frag-owned
// symbol's FragAddress is still zero and this returns a meaningless number.
// Used by package fixup both to read out a fixup's operand value and to
// fold a same-segment symbol difference to an absolute delta (spec §4.4).
func (t *Table) NumericValue(id ids.SymbolID) (int64, bool) {
	sym := t.Get(id)
	if sym.IsAbsoluteConstant() {
		return sym.Value.AddNumber, true
	}
	if sym.Frag != ids.NoFrag {
		return t.location.FragAddress(sym.Frag) + sym.Offset, true
	}
	return 0, false
}

// FragDelta implements expr.SymbolResolver: two symbols fold to a plain
// number when they share the same owning frag (spec §4.1, §8 invariant 7),
// regardless of whether the frag chain has been relaxed/placed yet.
func (t *Table) FragDelta(a, b expr.SymbolID) (int64, bool) {
	sa, sb := t.Get(a), t.Get(b)
	if sa.Frag == ids.NoFrag || sb.Frag == ids.NoFrag || sa.Frag != sb.Frag {
		return 0, false
	}
	return sa.Offset - sb.Offset, true
}

// DotSymbol implements expr.SymbolResolver: a fresh symbol bound to the
// current frag/offset/segment, standing for the location counter at the
// point it's evaluated (it is *not* cached, since the location moves).
func (t *Table) DotSymbol() expr.SymbolID {
	frag, offset, seg := t.location.CurrentFrag()
	sym := t.newSymbol("", Pos{})
	sym.Segment = seg
	sym.Frag = frag
	sym.Offset = offset
	sym.Value = expr.SymbolPlus(sym.ID, 0)
	return sym.ID
}

// RegisterNamed implements expr.SymbolResolver. The base table has no
// built-in register names; a target's operand parser is expected to wrap
// or compose a Table with its own recognizer (spec C12).
func (t *Table) RegisterNamed(name string) (int, bool) { return 0, false }

// MakeExprSymbol implements expr.SymbolResolver: wrap a non-foldable value
// in a synthetic symbol of segment expression_section (spec §4.1).
func (t *Table) MakeExprSymbol(v expr.Value, pos Pos) expr.SymbolID {
	sym := t.newSymbol("", pos)
	sym.Segment = expr.SegExpression
	sym.Value = v
	return sym.ID
}

// SizeofSymbol implements expr.SymbolResolver's ".sizeof.(sym)" operator: a
// synthetic symbol resolved later by the object-format/link layer.
func (t *Table) SizeofSymbol(name string) expr.SymbolID {
	return t.makeDerivedSymbol(".sizeof.", name)
}

// StartofSymbol implements expr.SymbolResolver's ".startof.(sym)" operator.
func (t *Table) StartofSymbol(name string) expr.SymbolID {
	return t.makeDerivedSymbol(".startof.", name)
}

func (t *Table) makeDerivedSymbol(prefix, name string) expr.SymbolID {
	derived := prefix + name
	if id, ok := t.byName[derived]; ok {
		return id
	}
	sym := t.newSymbol(derived, Pos{})
	sym.Segment = expr.SegExpression
	sym.Value = expr.Value{Op: expr.OpSymbol, AddSymbol: t.FindOrMake(name), OpSymbol: ids.NoSymbol}
	return sym.ID
}

// localLabelName mangles a numeric local label and its instance count into
// a name that cannot collide with a user identifier (spec's "Nf"/"Nb"
// local-label operand, dollar-local-label variant covered the same way).
func localLabelName(number, instance int) string {
	return fmt.Sprintf(".L%d\x01%d", number, instance)
}

// LocalLabel implements expr.SymbolResolver. Backward references resolve to
// the most recently defined instance of N; forward references resolve to
// (and lazily create, as undefined) the next instance, which a later Colon
// call for N will fill in.
func (t *Table) LocalLabel(number int, forward bool) (expr.SymbolID, error) {
	instance := t.localCount[number]
	if forward {
		instance++
	}
	if instance == 0 {
		return ids.NoSymbol, utils.MakeError(ErrNoSuchLocalLabel, "%df/%db (number %d)", number, number, number)
	}
	return t.FindOrMake(localLabelName(number, instance)), nil
}

// Colon binds name to the current location (spec §4.2 colon(name)): a
// plain label outside any MRI common block, or an offset within the open
// common block when one is active (GLOSSARY "Common symbol", MRI dialect).
func (t *Table) Colon(name string, pos Pos) (*Symbol, error) {
	if t.mriCommon != nil {
		return t.colonInCommon(name, pos)
	}
	id := t.FindOrMake(name)
	sym := t.Get(id)
	if sym.Resolved() || sym.Frag != ids.NoFrag {
		return nil, utils.MakeError(ErrRedefined, "%q at %s (already defined at %s)", name, pos, sym.Pos)
	}
	frag, offset, seg := t.location.CurrentFrag()
	sym.Segment = seg
	sym.Frag = frag
	sym.Offset = offset
	sym.Value = expr.SymbolPlus(id, 0)
	sym.Pos = pos
	return sym, nil
}

func (t *Table) colonInCommon(name string, pos Pos) (*Symbol, error) {
	id := t.FindOrMake(name)
	sym := t.Get(id)
	sym.Segment = expr.SegCommon
	sym.Flags |= FlagMRICommon
	sym.Frag = ids.NoFrag
	sym.Offset = t.mriCommon.CommonSize
	sym.Value = expr.SymbolPlus(t.mriCommon.ID, sym.Offset)
	sym.Pos = pos
	return sym, nil
}

// ColonLocal defines the next instance of numeric local label N at the
// current location, the binding half of LocalLabel's forward/backward
// lookups.
func (t *Table) ColonLocal(number int, pos Pos) (*Symbol, error) {
	t.localCount[number]++
	name := localLabelName(number, t.localCount[number])
	return t.Colon(name, pos)
}

// Equate implements spec §4.2 equate(name, expr): (re)binds name's value
// without going through colon/the location counter (".set"/"=" directives).
// Equates may be redefined; each call simply overwrites the prior value.
func (t *Table) Equate(name string, seg expr.Segment, v expr.Value, pos Pos) *Symbol {
	id := t.FindOrMake(name)
	sym := t.Get(id)
	sym.Segment = seg
	sym.Value = v
	sym.Flags &^= FlagResolved
	sym.Pos = pos
	return sym
}

// OpenMRICommon starts an MRI-dialect named common block (e.g. ".dsC name
// size"): subsequent Colon calls for labels inside the block bind as
// offsets from it instead of the ordinary location counter.
func (t *Table) OpenMRICommon(name string, align int, pos Pos) *Symbol {
	id := t.FindOrMake(name)
	sym := t.Get(id)
	sym.Segment = expr.SegCommon
	sym.CommonAlign = align
	sym.Flags |= FlagMRICommon
	sym.Pos = pos
	t.mriCommon = sym
	return sym
}

// CloseMRICommon ends the block opened by OpenMRICommon. The block's
// CommonSize is left as it is: labels bound inside the block take the
// current CommonSize as their offset, and nothing here advances it.
func (t *Table) CloseMRICommon() error {
	if t.mriCommon == nil {
		return ErrMRICommonNotOpen
	}
	t.mriCommon = nil
	return nil
}

// DeclareCommon implements ".comm": a tentative, mergeable
// definition living in segment common until the linker resolves it against
// any other common or strong definition of the same name (spec §6.3,
// GLOSSARY "Common symbol").
func (t *Table) DeclareCommon(name string, size int64, align int, pos Pos) *Symbol {
	id := t.FindOrMake(name)
	sym := t.Get(id)
	if sym.Segment == expr.SegCommon && sym.CommonSize >= size {
		return sym // largest declaration of a repeated .comm wins (spec §6.3)
	}
	sym.Segment = expr.SegCommon
	sym.CommonSize = size
	sym.CommonAlign = align
	sym.Frag = ids.NoFrag
	sym.Pos = pos
	return sym
}
