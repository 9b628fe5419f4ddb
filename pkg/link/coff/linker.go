package coff

import (
	"sort"

	"github.com/coffasm/coffasm/pkg/link/diag"
	"github.com/coffasm/coffasm/pkg/link/objfmt"
	"github.com/coffasm/coffasm/pkg/reloc"
)

// LinkOrderKind is one link-order entry's disposition (spec §3.6).
type LinkOrderKind int

const (
	// LinkIndirect copies/relocates an input section's contents.
	LinkIndirect LinkOrderKind = iota
	// LinkSectionReloc synthesizes a relocation against an output section
	// at a fixed offset.
	LinkSectionReloc
	// LinkSymbolReloc synthesizes a relocation against a named symbol at
	// a fixed output offset.
	LinkSymbolReloc
)

// LinkOrderEntry is one entry in an output section's link order.
type LinkOrderEntry struct {
	Kind         LinkOrderKind
	Object       *InputObject // for LinkIndirect
	SectionIndex int          // 1-based index into Object.Sections, for LinkIndirect
	Offset       uint32       // output-section-relative offset, for the Reloc kinds
	Addend       int64
	SymbolName   string // for LinkSymbolReloc
	RelocKind    reloc.Kind
}

// InputObject is one object file (or archive member) handed to the
// linker: its decoded sections and symbol table plus the on-disk index
// each symbol occupied, used to translate reloc.Record.SymIndex back to a
// name (spec §4.6: "rewrite l_symndx through the per-input symbol-index
// map").
type InputObject struct {
	Name         string
	Sections     []objfmt.Section
	Symbols      []objfmt.Symbol
	symbolByIdx  map[int32]*objfmt.Symbol
	placedOffset []uint32 // per section, its offset within its output section
	placedOutput []int    // per section, which output section index it landed in
}

// NewInputObject decodes r into an InputObject named name.
func NewInputObject(name string, r *Reader) (*InputObject, error) {
	sections, err := r.Sections()
	if err != nil {
		return nil, err
	}
	symbols, indices, err := r.ReadSymbolsIndexed()
	if err != nil {
		return nil, err
	}
	obj := &InputObject{Name: name, Sections: sections, Symbols: symbols}
	obj.symbolByIdx = make(map[int32]*objfmt.Symbol, len(symbols))
	for i, idx := range indices {
		obj.symbolByIdx[idx] = &obj.Symbols[i]
	}
	obj.placedOffset = make([]uint32, len(sections))
	obj.placedOutput = make([]int, len(sections))
	for i := range obj.placedOutput {
		obj.placedOutput[i] = -1
	}
	return obj, nil
}

// OutputSectionSpec is one output section's name, format flags, and link
// order (spec §3.5/§3.6).
type OutputSectionSpec struct {
	Name    string
	Flags   objfmt.SectionFlags
	Order   []LinkOrderEntry
}

// LinkerContext gathers the final linker's run-time options (spec §9's
// "global mutable state" redesign note, generalized from info.* fields in
// the original bfd linker: relocatable output, keep-memory, PIC).
type LinkerContext struct {
	Relocatable bool // -r: emit another relocatable object instead of resolving
	KeepMemory  bool
	PIC         bool
}

// Linker is the COFF final linker (spec C10), built on the global symbol
// hash (C9, hash.go) and debug-merge table (§3.7, debugmerge.go).
type Linker struct {
	Registry *reloc.Registry
	Sink     *diag.Sink
	Hash     *Hash
	Debug    *DebugMergeHash
	Stabs    *StabStringPool
	Ctx      LinkerContext
}

// NewLinker returns a linker for one run, resolving relocations against
// registry's howto table and reporting diagnostics to sink.
func NewLinker(registry *reloc.Registry, sink *diag.Sink, ctx LinkerContext) *Linker {
	return &Linker{
		Registry: registry,
		Sink:     sink,
		Hash:     NewHash(sink),
		Debug:    NewDebugMergeHash(),
		Stabs:    NewStabStringPool(),
		Ctx:      ctx,
	}
}

// DeclareObjectSymbols registers one input object's external symbols
// against the global hash, ahead of archive scanning or final linking
// (the regular-input half of §4.6 step 1's "decide skip / defer globals").
func (l *Linker) DeclareObjectSymbols(obj *InputObject) {
	for _, sym := range obj.Symbols {
		if !sym.External {
			continue
		}
		switch {
		case sym.Class == objfmt.SymUndefined && sym.Value > 0:
			l.Hash.Declare(sym.Name, StateCommon, sym.Value, obj.Name)
		case sym.Class == objfmt.SymUndefined:
			l.Hash.Lookup(sym.Name) // touch, stays undefined
		default:
			l.Hash.Declare(sym.Name, StateDefined, 0, obj.Name)
		}
	}
}

// layout assigns each LinkIndirect entry's input section an offset within
// its output section and returns each output section's total size, the
// first half of spec §4.6's two-pass structure ("after all inputs are
// consumed" implies sizes/offsets are fixed before symbol values are).
func layout(outputs []OutputSectionSpec) []uint32 {
	sizes := make([]uint32, len(outputs))
	for oi, out := range outputs {
		var cursor uint32
		for _, e := range out.Order {
			if e.Kind != LinkIndirect {
				continue
			}
			sec := e.Object.Sections[e.SectionIndex-1]
			e.Object.placedOffset[e.SectionIndex-1] = cursor
			e.Object.placedOutput[e.SectionIndex-1] = oi
			cursor += uint32(len(sec.Contents))
		}
		sizes[oi] = cursor
	}
	return sizes
}

// resolvedAddress computes a defined global's absolute address from its
// defining object and the layout pass's placement of that object's
// section, given each output section's base VMA.
func (l *Linker) resolvedAddress(e *HashEntry, objects map[string]*InputObject, baseVMA []uint64) (int64, bool) {
	obj, ok := objects[e.Object]
	if !ok {
		return 0, false
	}
	for _, sym := range obj.Symbols {
		if sym.Name != e.Name || sym.Class != objfmt.SymSection {
			continue
		}
		si := sym.SectionIndex - 1
		if si < 0 || si >= len(obj.Sections) || obj.placedOutput[si] < 0 {
			return 0, false
		}
		return int64(baseVMA[obj.placedOutput[si]]) + int64(obj.placedOffset[si]) + sym.Value, true
	}
	return 0, false
}

// Link runs the final pass over outputs (spec §4.6): lays out input
// sections, resolves the global symbol table, then either translates
// (Relocatable) or folds in place (final) every relocation, and returns
// the finished object.
func (l *Linker) Link(outputs []OutputSectionSpec, objects map[string]*InputObject) (objfmt.Object, error) {
	sizes := layout(outputs)
	baseVMA := make([]uint64, len(outputs))
	var running uint64
	for i, sz := range sizes {
		baseVMA[i] = running
		running += uint64(sz)
	}

	// Allocate common symbols past the end of the last output section,
	// in name order for a deterministic layout.
	var commons []*HashEntry
	for _, name := range sortedNames(l.Hash.entries) {
		e := l.Hash.entries[name]
		if e.State == StateCommon {
			commons = append(commons, e)
		}
	}
	commonBase := running
	commonAddr := map[string]int64{}
	for _, e := range commons {
		commonAddr[e.Name] = int64(commonBase)
		commonBase += uint64(e.Size)
	}

	globalAddr := map[string]int64{}
	globalDefined := map[string]bool{}
	for _, name := range sortedNames(l.Hash.entries) {
		e := l.Hash.entries[name]
		switch e.State {
		case StateDefined:
			if addr, ok := l.resolvedAddress(e, objects, baseVMA); ok {
				globalAddr[name] = addr
				globalDefined[name] = true
			}
		case StateCommon:
			globalAddr[name] = commonAddr[name]
			globalDefined[name] = true
		}
	}
	undefined := l.Hash.Undefined()
	sort.Strings(undefined)
	for _, u := range undefined {
		l.Sink.ReportUndefinedSymbol(u, diag.Pos{})
	}

	outSymbols, localIndex, globalIndex := l.assignOutputIndices(outputs, objects, baseVMA, globalAddr)

	contents := make([][]byte, len(outputs))
	var relocs [][]reloc.Record
	if l.Ctx.Relocatable {
		relocs = make([][]reloc.Record, len(outputs))
	}

	for oi, out := range outputs {
		buf := make([]byte, 0, sizes[oi])
		for _, e := range out.Order {
			switch e.Kind {
			case LinkIndirect:
				sec := e.Object.Sections[e.SectionIndex-1]
				base := uint32(len(buf))
				data := append([]byte(nil), sec.Contents...)
				for _, r := range sec.Relocs {
					if err := l.applyOneReloc(e.Object, r, data, base, baseVMA, oi, &relocs, globalAddr, localIndex, globalIndex); err != nil {
						return objfmt.Object{}, err
					}
				}
				buf = append(buf, data...)
			case LinkSectionReloc, LinkSymbolReloc:
				if l.Ctx.Relocatable {
					rec := reloc.Record{Address: e.Offset, Kind: e.RelocKind, Addend: e.Addend, HasAddend: true}
					if idx, ok := globalIndex[e.SymbolName]; ok {
						rec.SymIndex = idx
					}
					relocs[oi] = append(relocs[oi], rec)
				}
			}
		}
		contents[oi] = buf
	}

	obj := objfmt.Object{}
	for oi, out := range outputs {
		sec := objfmt.Section{Name: out.Name, Flags: out.Flags, VMA: baseVMA[oi], Contents: contents[oi]}
		if l.Ctx.Relocatable {
			sec.Relocs = relocs[oi]
		}
		obj.Sections = append(obj.Sections, sec)
	}
	obj.Symbols = outSymbols
	return obj, nil
}

func (l *Linker) applyOneReloc(obj *InputObject, r reloc.Record, data []byte, base uint32, baseVMA []uint64, outSectionIdx int, relocs *[][]reloc.Record, globalAddr map[string]int64, localIndex map[*objfmt.Symbol]int32, globalIndex map[string]int32) error {
	sym, ok := obj.symbolByIdx[r.SymIndex]
	if !ok {
		l.Sink.Report(diag.KindInternalInvariantViolation, diag.Pos{Object: obj.Name},
			"relocation references unknown symbol index %d", r.SymIndex)
		return nil
	}

	if l.Ctx.Relocatable {
		rec := r
		rec.Address = base + r.Address
		if sym.External {
			if idx, ok := globalIndex[sym.Name]; ok {
				rec.SymIndex = idx
			}
		} else if idx, ok := localIndex[sym]; ok {
			rec.SymIndex = idx
		}
		(*relocs)[outSectionIdx] = append((*relocs)[outSectionIdx], rec)
		return nil
	}

	addr, ok := globalAddr[sym.Name]
	if !ok && sym.Class == objfmt.SymSection {
		// Local (non-external) symbol: resolve directly against its own
		// object's section placement rather than the global hash, which
		// only ever tracks external names.
		si := sym.SectionIndex - 1
		if si >= 0 && si < len(obj.Sections) && obj.placedOutput[si] >= 0 {
			addr = int64(baseVMA[obj.placedOutput[si]]) + int64(obj.placedOffset[si]) + sym.Value
			ok = true
		}
	}
	if !ok {
		if sym.External {
			l.Sink.ReportUndefinedSymbol(sym.Name, diag.Pos{Object: obj.Name})
		}
		return nil
	}

	howto, ok := l.Registry.Lookup(r.Kind)
	if !ok {
		l.Sink.Report(diag.KindInternalInvariantViolation, diag.Pos{Object: obj.Name},
			"no howto registered for relocation kind %s", r.Kind)
		return nil
	}
	value := addr + r.Addend
	if howto.PCRelative {
		value -= int64(baseVMA[outSectionIdx]) + int64(base) + int64(r.Address)
	}
	if err := howto.CheckRange(value); err != nil {
		l.Sink.Report(diag.KindRangeError, diag.Pos{Object: obj.Name, Symbol: sym.Name}, "%s", err)
	}
	patchField(data, int(r.Address), howto, value)
	return nil
}

// patchField folds value into data at offset per howto's width/shift,
// mirroring pkg/asm/fixup's little-endian field patch (spec §6.4: formats
// without addends fold the value into the target bytes before writing).
func patchField(data []byte, offset int, h reloc.Howto, value int64) {
	bytesWide := (h.Bits + 7) / 8
	if offset+bytesWide > len(data) || bytesWide == 0 || bytesWide > 8 {
		return
	}
	var field uint64
	for i := 0; i < bytesWide; i++ {
		field |= uint64(data[offset+i]) << (8 * i)
	}
	field = h.Insert(field, value)
	for i := 0; i < bytesWide; i++ {
		data[offset+i] = byte(field >> (8 * i))
	}
}

// assignOutputIndices builds the final symbol table in objfmt.Writer's
// documented emission order (locals first, then externals) and, as it
// goes, records each symbol's 1-based output index: by name for the
// globals (the global hash has already merged every object's view of a
// given external name into one entry) and by original *objfmt.Symbol
// pointer for locals (distinct objects may declare same-named locals,
// so identity rather than name is the only safe key). Both maps feed
// back into applyOneReloc's relocatable-output symbol-index translation.
func (l *Linker) assignOutputIndices(outputs []OutputSectionSpec, objects map[string]*InputObject, baseVMA []uint64, globalAddr map[string]int64) ([]objfmt.Symbol, map[*objfmt.Symbol]int32, map[string]int32) {
	var out []objfmt.Symbol
	localIndex := map[*objfmt.Symbol]int32{}
	globalIndex := map[string]int32{}

	for _, objName := range sortedObjectNames(objects) {
		obj := objects[objName]
		for i := range obj.Symbols {
			sym := &obj.Symbols[i]
			if sym.External {
				continue
			}
			placed := *sym
			if sym.Class == objfmt.SymSection {
				si := sym.SectionIndex - 1
				if si >= 0 && si < len(obj.Sections) && obj.placedOutput[si] >= 0 {
					placed.Value = int64(baseVMA[obj.placedOutput[si]]) + int64(obj.placedOffset[si]) + sym.Value
					placed.SectionIndex = obj.placedOutput[si] + 1
				}
			}
			out = append(out, placed)
			localIndex[sym] = int32(len(out))
		}
	}

	for _, name := range sortedNames(l.Hash.entries) {
		e := l.Hash.entries[name]
		sym := objfmt.Symbol{Name: name, External: true, StorageClass: C_EXT}
		switch e.State {
		case StateDefined, StateCommon:
			if addr, ok := globalAddr[name]; ok {
				sym.Class = objfmt.SymSection
				sym.Value = addr
				sym.SectionIndex = sectionIndexForAddress(outputs, baseVMA, addr)
			} else {
				sym.Class = objfmt.SymUndefined
			}
		default:
			sym.Class = objfmt.SymUndefined
		}
		out = append(out, sym)
		globalIndex[name] = int32(len(out))
	}
	return out, localIndex, globalIndex
}

func sectionIndexForAddress(outputs []OutputSectionSpec, baseVMA []uint64, addr int64) int {
	for i := len(outputs) - 1; i >= 0; i-- {
		if addr >= int64(baseVMA[i]) {
			return i + 1
		}
	}
	return 1
}

func sortedNames(m map[string]*HashEntry) []string {
	names := make([]string, 0, len(m))
	for n := range m {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func sortedObjectNames(m map[string]*InputObject) []string {
	names := make([]string, 0, len(m))
	for n := range m {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
