// Package objfmt defines the abstract object-format boundary (spec C11):
// the interface through which both the assembler's object writer
// (pkg/asm/objwriter) and the linker's final writer (pkg/link/coff) talk to
// an on-disk format, without either depending on the format's concrete wire
// layout. pkg/link/coff is the one format this repository implements;
// another format would satisfy the same interface.
package objfmt

import "github.com/coffasm/coffasm/pkg/reloc"

// SectionFlags mirrors the handful of section attributes spec §3.5 names:
// alloc/load/code/readonly/has-contents/reloc.
type SectionFlags uint32

const (
	SectionAlloc SectionFlags = 1 << iota
	SectionLoad
	SectionCode
	SectionReadonly
	SectionHasContents
	SectionHasRelocs
)

// Section is one output section's logical content, independent of any
// particular wire encoding.
type Section struct {
	Name      string
	Flags     SectionFlags
	AlignLog2 int
	VMA       uint64
	Contents  []byte
	Relocs    []reloc.Record
}

// SymbolClass is the handful of segment/storage outcomes a symbol can carry
// into the object file (spec §3.1's segment tag set, narrowed to what the
// wire format needs to record): which section it belongs to, or one of the
// special indices COFF reserves.
type SymbolClass int

const (
	// SymUndefined is COFF's N_UNDEF (section index 0).
	SymUndefined SymbolClass = iota
	// SymAbsolute is COFF's N_ABS (section index -1).
	SymAbsolute
	// SymDebug is COFF's N_DEBUG (section index -2).
	SymDebug
	// SymSection means the symbol belongs to a named output section;
	// SectionIndex is a 1-based index into the object's section list.
	SymSection
)

// Symbol is one entry destined for the object's symbol table.
type Symbol struct {
	Name         string
	Value        int64
	Class        SymbolClass
	SectionIndex int // meaningful only when Class == SymSection (1-based)
	StorageClass int // COFF C_EXT/C_STAT/... storage class byte
	Type         int // COFF basic+derived type word
	External     bool
	NumAux       int
	Aux          []byte // opaque per-format auxiliary record bytes
}

// Object is the in-memory logical object file a Writer serializes and a
// Reader parses: sections plus the symbol table spanning all of them.
type Object struct {
	Sections []Section
	Symbols  []Symbol
}

// Writer accumulates one object file's sections/relocs/symbols and
// serializes them to bytes, matching C8's "emits section contents, emits
// relocations, writes symbol and string tables" (spec §2).
type Writer interface {
	// WriteContents records one section's raw bytes. sectionIndex is
	// 1-based, matching on-disk symbol-table section references.
	WriteContents(sectionIndex int, data []byte) error
	// WriteRelocs records the relocations still outstanding for a section
	// after fixup resolution.
	WriteRelocs(sectionIndex int, relocs []reloc.Record) error
	// WriteSymbols records the complete symbol table in final emission
	// order (locals first, then externals, matching spec §4.6's linker
	// ordering convention, which the assembler's own single-object output
	// follows too for consistency).
	WriteSymbols(symbols []Symbol) error
	// Finish serializes everything accumulated so far into the format's
	// wire bytes.
	Finish() ([]byte, error)
}

// Reader parses an existing object file far enough for C9/C10 to do their
// work: read back its symbol table and section list, without necessarily
// decoding every aux record eagerly.
type Reader interface {
	ReadSymbols() ([]Symbol, error)
	Sections() ([]Section, error)
}
