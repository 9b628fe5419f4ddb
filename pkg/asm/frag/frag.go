// Package frag implements the assembler's fragment chain: the append-only
// sequence of fixed- and variable-length byte regions that backs every
// subsegment, and the substrate relaxation iterates over (spec C5, §3.5;
// grounded on binutils gas's struct frag/frag.c, kept in original_source/).
package frag

import (
	"github.com/coffasm/coffasm/pkg/asm/expr"
	"github.com/coffasm/coffasm/pkg/asm/ids"
)

// Kind is a frag's type tag (gas's fr_type), selecting which fields below
// are meaningful and how relax.Driver grows it.
type Kind int

const (
	// KindFill is a plain fixed-content frag: it never grows once closed.
	// Every section's chain ends in one, per spec §3.5's terminal invariant.
	KindFill Kind = iota
	// KindAlign pads to the next boundary with a fill pattern.
	KindAlign
	// KindAlignCode is KindAlign opened for code (FragAlign's asCode).
	// relax.Driver pads it exactly like KindAlign, with AlignPattern or zero
	// bytes; no target-chosen no-op pattern is used.
	KindAlignCode
	// KindOrg pads until the location counter reaches a target expression.
	KindOrg
	// KindSpace reserves a run of bytes, constant- or expression-sized.
	KindSpace
	// KindMachineDependent participates in relaxation via a target-supplied
	// state machine (spec C7, C12's estimate_size_before_relax/convert_frag).
	KindMachineDependent
	// KindBrokenWord marks a word-sized reference broken apart by the
	// "broken word" workaround for some risc targets (spec §3.5, kept for
	// target parity; coffasm's demo target never emits it).
	KindBrokenWord
)

func (k Kind) String() string {
	switch k {
	case KindFill:
		return "fill"
	case KindAlign:
		return "align"
	case KindAlignCode:
		return "align_code"
	case KindOrg:
		return "org"
	case KindSpace:
		return "space"
	case KindMachineDependent:
		return "machine_dependent"
	case KindBrokenWord:
		return "broken_word"
	default:
		return "unknown"
	}
}

// Frag is one fragment: a fixed-content prefix plus, for growing frags, a
// variable-content suffix that relax.Driver may rewrite in place (its
// length only ever changes via Relax, never its meaning).
type Frag struct {
	ID      ids.FragID
	Kind    Kind
	Segment expr.Segment
	Subseg  int

	// Fixed is this frag's already-settled content. Offsets into it are
	// stable for the frag's whole lifetime; FragMore only ever appends.
	Fixed []byte

	// Var is the variable-length suffix relaxation may grow or rewrite.
	// Only meaningful for KindMachineDependent (and transiently for
	// KindAlign/KindOrg/KindSpace before convert_frag collapses them).
	Var []byte

	// Address is this frag's final byte offset within its linearized
	// section, assigned once relaxation has converged (spec §4.5). Zero and
	// meaningless until then.
	Address int64

	Next ids.FragID // chain link within the owning subseg; NoFrag at the tail

	// --- KindAlign / KindAlignCode ---
	AlignBits    int   // pad until address % (1<<AlignBits) == 0
	AlignPattern []byte
	AlignMaxSkip int64 // skip the padding if more than this many bytes would be needed (0 = unlimited)

	// --- KindOrg ---
	OrgTarget ids.SymbolID // pad until the location counter reaches this symbol's value
	OrgFill   byte

	// --- KindSpace ---
	SpaceSize   int64
	SpaceSymbol ids.SymbolID // NoSymbol if SpaceSize is already a resolved constant
	SpaceFill   byte

	// --- KindMachineDependent ---
	RelaxState   int          // current state in the target's relax state machine (spec C7)
	RelaxSubtype int          // target-defined subtype selecting which state table applies
	RelaxSymbol  ids.SymbolID // the symbol this frag's reach is measured against
	RelaxOffset  int64        // additive offset from RelaxSymbol used in the reach computation
	TargetData   any          // opaque per-instruction data convert_frag needs to re-encode
}

// Len returns the frag's current total byte length (Fixed plus Var).
func (f *Frag) Len() int64 { return int64(len(f.Fixed) + len(f.Var)) }
