// Package symtab maintains assembler symbols with typed values (constant,
// register, big, symbol+offset, binary-op of two symbols, undefined),
// computes closures over the expression graph, and supports equating,
// commons, and MRI-common blocks (spec C4, §4.2; grounded on binutils gas's
// symbol.c/struct symbol, original_source/).
package symtab

import (
	"github.com/coffasm/coffasm/pkg/asm/expr"
	"github.com/coffasm/coffasm/pkg/asm/ids"
)

// Flags are the per-symbol boolean attributes of spec §3.1.
type Flags uint16

const (
	FlagExternal Flags = 1 << iota
	FlagLocal
	FlagWeak
	FlagSectionSymbol
	FlagUsedInReloc
	FlagWritten
	FlagResolved
	FlagMRICommon
)

// Aux holds the per-target/per-format auxiliary attributes of spec §3.1:
// storage class, type, numaux, and an opaque per-target extension block
// (e.g. COFF's aux entries, populated by the object-format layer).
type Aux struct {
	StorageClass int
	TypeInfo     int
	NumAux       int
	Target       any
}

// Pos is a lightweight source position, duplicated from expr.Pos to avoid
// pulling the source package into symtab's dependency set.
type Pos = expr.Pos

// Symbol is the canonical symbol record of spec §3.1.
type Symbol struct {
	ID      ids.SymbolID
	Name    string
	Segment expr.Segment
	Value   expr.Value

	// Frag/Offset is the symbol's owning frag and byte offset within it, set
	// by colon() (spec §4.2) and consulted by FragDelta for same-frag
	// symbol-difference folding (spec §4.1, §8 invariant 7). Frag is a weak
	// reference: the frag chain owns the frag, the symbol only remembers
	// its id.
	Frag   ids.FragID
	Offset int64

	Aux   Aux
	Flags Flags

	// CommonSize/CommonAlign are set by .comm (Segment == SegCommon) and by
	// .lcomm (a local SegBSS label) (spec §6.3, GLOSSARY "Common symbol").
	CommonSize  int64
	CommonAlign int

	Pos Pos
}

// Resolved reports whether the symbol has reached its final value.
func (s *Symbol) Resolved() bool { return s.Flags&FlagResolved != 0 }

// IsAbsoluteConstant reports whether the symbol is resolved to a bare
// absolute constant (spec §3.1 invariant: "if resolved, the value is either
// Constant(v) or SymbolPlus(s,k)...").
func (s *Symbol) IsAbsoluteConstant() bool {
	return s.Resolved() && s.Segment == expr.SegAbsolute && s.Value.Op == expr.OpConstant
}
