// Package objwriter is the assembler-side half of C8: it drives relax.Driver
// to convergence, collapses every machine-dependent frag to its final
// encoding, resolves fixups via package fixup, and assembles the result into
// an objfmt.Object a concrete Writer (pkg/link/coff) can serialize. Grounded
// on gas's write.c (write_object_file, relax_and_size_seg, fixup_segment's
// caller), kept in original_source/.
package objwriter

import (
	"sort"

	"github.com/coffasm/coffasm/pkg/asm/expr"
	"github.com/coffasm/coffasm/pkg/asm/fixup"
	"github.com/coffasm/coffasm/pkg/asm/frag"
	"github.com/coffasm/coffasm/pkg/asm/ids"
	"github.com/coffasm/coffasm/pkg/asm/relax"
	"github.com/coffasm/coffasm/pkg/asm/symtab"
	"github.com/coffasm/coffasm/pkg/asm/target"
	"github.com/coffasm/coffasm/pkg/link/objfmt"
	"github.com/coffasm/coffasm/pkg/reloc"
)

// SectionSpec names one output section: which assembler segment feeds it
// and the wire attributes objfmt.Section carries (spec §3.5's segment-to-
// section mapping is otherwise implicit in gas/ld; a COFF backend has to
// make it explicit since commands like ".text"/".data"/".bss" don't carry
// flags of their own).
type SectionSpec struct {
	Segment   expr.Segment
	Name      string
	Flags     objfmt.SectionFlags
	AlignLog2 int
}

// Build runs relaxation, fixup resolution and symbol/section assembly over
// a fully-assembled frag chain and returns the logical object ready for a
// Writer to serialize. fixups is every fixup minted during Assemble, in
// emission order. Fixups that ConvertFrag mints for relaxed
// machine-dependent frags go straight into Build's per-section lists; the
// fixups slice itself is not appended to.
func Build(chain *frag.Chain, symbols *symtab.Table, fixups []*fixup.Fixup, t target.Ops, registry *reloc.Registry, specs []SectionSpec, policy fixup.Policy) (objfmt.Object, error) {
	segToSpec := make(map[expr.Segment]int, len(specs))
	for i, spec := range specs {
		segToSpec[spec.Segment] = i
	}

	sections := chain.Finish()

	bySpec := make([][]frag.Section, len(specs))
	for _, s := range sections {
		idx, ok := segToSpec[s.Segment]
		if !ok {
			continue // a segment with no matching SectionSpec never reaches the object (e.g. pure-expression/register segments)
		}
		bySpec[idx] = append(bySpec[idx], s)
	}

	driver := relax.NewDriver(symbols, t)
	fragSection := make(map[ids.FragID]int, chain.Len())
	sectionFixups := make([][]*fixup.Fixup, len(specs))

	for idx, specSections := range bySpec {
		for _, s := range specSections {
			if err := driver.Run(chain, s); err != nil {
				return objfmt.Object{}, err
			}
			collapse(chain, s, idx, fragSection, &sectionFixups[idx], t)
		}
	}

	// Fixups minted during Assemble are handed to Build already grouped by
	// emission order but not by section; route each to its frag's section
	// now that fragSection is complete.
	for _, fx := range fixups {
		idx, ok := fragSection[fx.Frag]
		if !ok {
			continue // frag belongs to a segment with no output section (e.g. expression-only work)
		}
		sectionFixups[idx] = append(sectionFixups[idx], fx)
	}

	locator := fragLocator{chain}
	chainGet := func(id ids.FragID) []byte { return chain.Get(id).Fixed }

	outSections := make([]objfmt.Section, len(specs))
	for idx, spec := range specs {
		fxs := sectionFixups[idx]
		sort.SliceStable(fxs, func(i, j int) bool {
			if fxs[i].Frag != fxs[j].Frag {
				return fxs[i].Frag < fxs[j].Frag
			}
			return fxs[i].Where < fxs[j].Where
		})

		res, err := fixup.Segment(fxs, symbols, locator, chainGet, registry, fixupTarget{t}, policy)
		if err != nil {
			return objfmt.Object{}, err
		}

		outSections[idx] = objfmt.Section{
			Name:      spec.Name,
			Flags:     spec.Flags,
			AlignLog2: spec.AlignLog2,
			Contents:  sectionContents(chain, bySpec[idx]),
			Relocs:    res.Relocs,
		}
	}

	outSymbols, indexOf := buildSymbols(chain, symbols, segToSpec)
	for idx := range outSections {
		remapRelocSymbols(outSections[idx].Relocs, indexOf)
	}

	return objfmt.Object{
		Sections: outSections,
		Symbols:  outSymbols,
	}, nil
}

// remapRelocSymbols rewrites each reloc's SymIndex from the raw ids.SymbolID
// GenReloc stamped it with (fixupTarget.GenReloc has no view of the final
// symbol table) to that symbol's 1-based position in the object's Symbols
// slice, matching the index a Writer will actually emit on disk.
func remapRelocSymbols(relocs []reloc.Record, indexOf map[ids.SymbolID]int32) {
	for i := range relocs {
		if idx, ok := indexOf[ids.SymbolID(relocs[i].SymIndex)]; ok {
			relocs[i].SymIndex = idx
		}
	}
}

// collapse walks one section's converged frag chain, recording which output
// section each frag belongs to and settling every frag's content into Fixed
// (so chainGet can hand fixup.Segment a stable, in-place-mutable slice).
// Machine-dependent frags are collapsed via the target's ConvertFrag, which
// also mints the fixup their final encoding needs.
func collapse(chain *frag.Chain, s frag.Section, sectionIndex int, fragSection map[ids.FragID]int, out *[]*fixup.Fixup, t target.Ops) {
	chain.Walk(s.Head, func(f *frag.Frag) {
		fragSection[f.ID] = sectionIndex
		if f.Kind == frag.KindMachineDependent {
			data, minted := t.ConvertFrag(f)
			f.Fixed = data
			f.Var = nil
			*out = append(*out, minted...)
			return
		}
		f.Fixed = append(f.Fixed, f.Var...)
		f.Var = nil
	})
}

// sectionContents concatenates a section's (now-settled) frag content in
// chain order. Frag.Address was assigned by relax.Driver.Run in the same
// order, so the concatenated offset always matches Frag.Address.
func sectionContents(chain *frag.Chain, sections []frag.Section) []byte {
	var buf []byte
	for _, s := range sections {
		chain.Walk(s.Head, func(f *frag.Frag) {
			buf = append(buf, f.Fixed...)
		})
	}
	return buf
}

// buildSymbols maps every symtab entry to its objfmt.Symbol. Storage
// class/type/aux bytes are left for the concrete Writer to fill in from
// External+Class, so this stays format-agnostic (spec C11's boundary).
// It also returns the raw-SymbolID-to-final-1-based-index mapping, since
// skipped entries (unnamed, register- or expression-segment symbols) mean
// a symbol's final position in the returned slice is not its SymbolID.
func buildSymbols(chain *frag.Chain, symbols *symtab.Table, segToSpec map[expr.Segment]int) ([]objfmt.Symbol, map[ids.SymbolID]int32) {
	var out []objfmt.Symbol
	indexOf := make(map[ids.SymbolID]int32, symbols.Len())
	for i := 0; i < symbols.Len(); i++ {
		id := ids.SymbolID(i)
		sym := symbols.Get(id)
		if sym.Name == "" {
			continue // synthetic dot/expression symbols never reach the object file
		}
		if sym.Segment == expr.SegRegister || sym.Segment == expr.SegExpression {
			continue // assembly-time only, per spec §3.1
		}

		out = append(out, symbolFor(chain, sym, segToSpec))
		indexOf[id] = int32(len(out))
	}
	return out, indexOf
}

func symbolFor(chain *frag.Chain, sym *symtab.Symbol, segToSpec map[expr.Segment]int) objfmt.Symbol {
	external := sym.Flags&symtab.FlagExternal != 0

	switch sym.Segment {
	case expr.SegAbsolute:
		return objfmt.Symbol{Name: sym.Name, Value: sym.Value.AddNumber, Class: objfmt.SymAbsolute, External: external}

	case expr.SegUndefined:
		return objfmt.Symbol{Name: sym.Name, Class: objfmt.SymUndefined, External: external}

	case expr.SegDebug:
		return objfmt.Symbol{Name: sym.Name, Value: sym.Offset, Class: objfmt.SymDebug, External: external}

	case expr.SegCommon:
		// Classic COFF common-symbol convention: section number 0 (same as
		// undefined) but with Value carrying the requested size, and always
		// external (a still-tentative definition that must still be able to
		// merge against another object's, spec §6.3).
		return objfmt.Symbol{Name: sym.Name, Value: sym.CommonSize, Class: objfmt.SymUndefined, External: true}

	default: // SegText/SegData/SegBSS: belongs to one of the mapped output sections
		idx, ok := segToSpec[sym.Segment]
		if !ok {
			return objfmt.Symbol{Name: sym.Name, Class: objfmt.SymUndefined, External: external}
		}
		value := sym.Offset
		if sym.Frag != ids.NoFrag {
			value = chain.FragAddress(sym.Frag) + sym.Offset
		}
		return objfmt.Symbol{
			Name:         sym.Name,
			Value:        value,
			Class:        objfmt.SymSection,
			SectionIndex: idx + 1, // 1-based, matching on-disk section references
			External:     external,
		}
	}
}

// fragLocator adapts *frag.Chain to fixup.FragLocator.
type fragLocator struct{ chain *frag.Chain }

func (l fragLocator) FragAddress(id ids.FragID) int64 { return l.chain.FragAddress(id) }

// fixupTarget adapts target.Ops's relevant methods to fixup.Target, so
// package fixup doesn't need to depend on the wider target.Ops interface.
type fixupTarget struct{ t target.Ops }

func (f fixupTarget) ApplyFix(fx *fixup.Fixup, value int64, data []byte) (bool, error) {
	return f.t.ApplyFix(fx, value, data)
}
func (f fixupTarget) GenReloc(fx *fixup.Fixup, value int64) reloc.Record { return f.t.GenReloc(fx, value) }
func (f fixupTarget) PCRelFrom(fx *fixup.Fixup, siteAddress int64) int64 {
	return f.t.PCRelFrom(fx, siteAddress)
}
