// Package ids defines the small stable-index handle types shared across
// the assembler's packages (symtab, expr, frag, fixup). Using plain integer
// handles instead of raw pointers is the arena-plus-stable-indices
// replacement for the obstack/pointer-walk pattern flagged in spec §9.
package ids

// SymbolID is a stable handle into a symtab.Table.
type SymbolID int

// NoSymbol is the zero/absent SymbolID.
const NoSymbol SymbolID = -1

// FragID is a stable handle into a frag.Chain's arena of fragments.
type FragID int

// NoFrag is the zero/absent FragID.
const NoFrag FragID = -1
