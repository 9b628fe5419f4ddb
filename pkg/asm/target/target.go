// Package target defines TargetOps, the single vtable every CPU backend
// implements (spec C12, §9's "replace md_*/tc_* macro hooks with a single
// TargetOps trait/vtable owned by the active target; registration is
// explicit at startup"). pkg/asm/target/demo provides a minimal reference
// implementation exercised by the core's own tests.
package target

import (
	"github.com/coffasm/coffasm/pkg/asm/expr"
	"github.com/coffasm/coffasm/pkg/asm/fixup"
	"github.com/coffasm/coffasm/pkg/asm/frag"
	"github.com/coffasm/coffasm/pkg/asm/ids"
	"github.com/coffasm/coffasm/pkg/reloc"
)

// RelaxRow is one row of a machine-dependent frag's default state table
// (spec §4.5): how far the current state reaches forward/backward, its
// encoded length, and which state to switch to if the reach doesn't fit.
type RelaxRow struct {
	Forward  int64 // maximum positive displacement this state can encode
	Backward int64 // maximum (most negative) displacement this state can encode
	Length   int64 // encoded length in bytes for this state
	NextUp   int   // state to try when Forward is exceeded (-1: no larger state)
	NextDown int   // state to try when Backward is exceeded (-1: no smaller state)
}

// RelaxTable is a target's full set of states for one machine-dependent
// frag subtype, indexed by state number.
type RelaxTable []RelaxRow

// AssembleResult is what Assemble appends to a frag chain for one source
// line: the bytes it emitted (already placed via frag.Chain) and any
// fixups those bytes need.
type AssembleResult struct {
	Fixups []*fixup.Fixup
}

// Ops is the full per-CPU vtable (spec C12).
type Ops interface {
	// Name identifies the target for -m<cpu>/--cpu selection.
	Name() string

	// RegisterNames exposes the target's symbolic register table. The
	// expression evaluator does not consult it: symtab.Table.RegisterNamed,
	// the resolver's register hook, recognizes no names.
	RegisterNames() map[string]int

	// Assemble tokenizes and encodes one source line already split into a
	// mnemonic and raw operand text, appending bytes and fixups to chain
	// at its current location (spec §4.8 assemble(line)).
	Assemble(chain *frag.Chain, symbols *SymbolFacade, mnemonic, operands string, pos expr.Pos) (AssembleResult, error)

	// EstimateSizeBeforeRelax returns a machine-dependent frag's initial
	// size guess before the first relax pass (spec §4.8).
	EstimateSizeBeforeRelax(f *frag.Frag) int64

	// RelaxTableFor returns the default state-machine table for a frag's
	// RelaxSubtype, or (nil, false) if this subtype uses MDRelax instead
	// of the default table-driven algorithm (spec §4.5).
	RelaxTableFor(subtype int) (RelaxTable, bool)

	// MDRelax is consulted instead of the default table when RelaxTableFor
	// returns false, for subtypes too irregular for a flat state table.
	MDRelax(f *frag.Frag, aim int64) (newSubtype int, newLength int64)

	// ConvertFrag collapses a relaxed machine-dependent frag into its final
	// encoded bytes, committing the chosen state (spec §4.8). Only at this
	// point is the state (and therefore the exact byte offset of any
	// operand field) known, so any fixup the encoding needs is minted here
	// rather than at Assemble time, frag-relative to the returned bytes.
	ConvertFrag(f *frag.Frag) ([]byte, []*fixup.Fixup)

	// ApplyFix/GenReloc/PCRelFrom implement fixup.Target (spec §4.8).
	ApplyFix(fx *fixup.Fixup, value int64, data []byte) (done bool, err error)
	GenReloc(fx *fixup.Fixup, value int64) reloc.Record
	PCRelFrom(fx *fixup.Fixup, siteAddress int64) int64

	// Relocs returns the target's reloc.Howto table for pkg/reloc.Registry.
	Relocs() []reloc.Howto
}

// SymbolFacade is the narrow symbol-table access Assemble needs: looking
// up or creating operand symbols and binding the current-location symbol,
// without handing the target a full symtab.Table (keeping the dependency
// one-directional: target depends on symtab's public surface, not the
// reverse).
type SymbolFacade struct {
	FindOrMake func(name string) ids.SymbolID
	Colon      func(name string) (ids.SymbolID, error)
}
