package coff

import (
	"fmt"

	"github.com/coffasm/coffasm/pkg/asm/intern"
	"github.com/coffasm/coffasm/pkg/link/objfmt"
	"github.com/coffasm/coffasm/pkg/reloc"
)

func rangeError(what string, got, limit int) error {
	return fmt.Errorf("coff: %s index %d out of range [1, %d]", what, got, limit)
}

// MachineDemo is the machine-type word this module registers for the
// reference demo target; a real backend would register its own
// IMAGE_FILE_MACHINE_* value the way pe.go's IMAGE_FILE_MACHINE_I386/AMD64
// constants do.
const MachineDemo = 0x1de0

// Writer accumulates one object's sections, relocations and symbol table
// and serializes them to classic COFF bytes, implementing
// objfmt.Writer (C8's consumer-side half of the format boundary, C9/C10's
// producer-side implementation).
type Writer struct {
	Machine  uint16
	names    []string
	flags    []uint32
	sections []pendingSection
	symbols  []objfmt.Symbol
}

type pendingSection struct {
	contents []byte
	relocs   []reloc.Record
}

// NewWriter returns a Writer for a fixed, ordered list of output sections
// (names and their COFF characteristics fixed at construction, since
// objfmt.Writer's Finish takes no arguments and the section list is known
// before any WriteContents call), addressed 1-based by
// WriteContents/WriteRelocs.
func NewWriter(names []string, flags []uint32, machine uint16) *Writer {
	if machine == 0 {
		machine = MachineDemo
	}
	return &Writer{
		Machine:  machine,
		names:    names,
		flags:    flags,
		sections: make([]pendingSection, len(names)),
	}
}

// WriteObject serializes a complete objfmt.Object (the assembler's
// objwriter.Build output) to COFF bytes in one call: it derives each
// section's COFF characteristics from its objfmt.SectionFlags via
// encodeSectionFlags, then drives a Writer through the same
// WriteContents/WriteRelocs/WriteSymbols/Finish sequence a caller building
// the Writer by hand would.
func WriteObject(obj objfmt.Object, machine uint16) ([]byte, error) {
	names := make([]string, len(obj.Sections))
	flags := make([]uint32, len(obj.Sections))
	for i, s := range obj.Sections {
		names[i] = s.Name
		flags[i] = encodeSectionFlags(s.Flags)
	}

	w := NewWriter(names, flags, machine)
	for i, s := range obj.Sections {
		if err := w.WriteContents(i+1, s.Contents); err != nil {
			return nil, err
		}
		if len(s.Relocs) > 0 {
			if err := w.WriteRelocs(i+1, s.Relocs); err != nil {
				return nil, err
			}
		}
	}
	if err := w.WriteSymbols(obj.Symbols); err != nil {
		return nil, err
	}
	return w.Finish()
}

func (w *Writer) WriteContents(sectionIndex int, data []byte) error {
	i := sectionIndex - 1
	if i < 0 || i >= len(w.sections) {
		return rangeError("section", sectionIndex, len(w.sections))
	}
	w.sections[i].contents = data
	return nil
}

func (w *Writer) WriteRelocs(sectionIndex int, relocs []reloc.Record) error {
	i := sectionIndex - 1
	if i < 0 || i >= len(w.sections) {
		return rangeError("section", sectionIndex, len(w.sections))
	}
	w.sections[i].relocs = relocs
	return nil
}

func (w *Writer) WriteSymbols(symbols []objfmt.Symbol) error {
	w.symbols = symbols
	return nil
}

// Finish lays the object out exactly the way bfd's final-link pass does
// (spec §4.6's closing steps): section headers, then raw section data and
// relocations back-to-back, then the symbol table, then the string table,
// patching each section header's file offsets as it goes.
func (w *Writer) Finish() ([]byte, error) {
	strtab := intern.NewStringTable()
	headers := make([]SectionHeader, len(w.sections))

	cursor := uint32(fileHeaderSize + sectionHeaderSize*len(w.sections))
	for i, sec := range w.sections {
		h := SectionHeader{
			Name:            encodeSectionName(w.names[i], strtab),
			VirtualSize:     uint32(len(sec.contents)),
			SizeOfRawData:   uint32(len(sec.contents)),
			Characteristics: w.flags[i],
		}
		if len(sec.contents) > 0 {
			h.PointerToRawData = cursor
			cursor += h.SizeOfRawData
		}
		if len(sec.relocs) > 0 {
			h.PointerToRelocations = cursor
			n := len(sec.relocs)
			if n > 0xffff {
				// §6.1 long-reloc-count overflow: first reloc record
				// carries the true count and the header count field is
				// capped, with SCN_LNK_NRELOC_OVFL set.
				h.NumberOfRelocations = 0xffff
				h.Characteristics |= SCN_LNK_NRELOC_OVFL
				n++
			} else {
				h.NumberOfRelocations = uint16(n)
			}
			cursor += uint32(n * relocEntrySize)
		}
		headers[i] = h
	}

	symtabOffset := cursor
	symBytes, numSymbols, err := marshalSymbolTable(w.symbols, headers, strtab)
	if err != nil {
		return nil, err
	}
	cursor += uint32(numSymbols * symbolRecordSize)

	fh := FileHeader{
		Machine:              w.Machine,
		NumberOfSections:     uint16(len(w.sections)),
		PointerToSymbolTable: symtabOffset,
		NumberOfSymbols:      uint32(numSymbols),
	}

	out := make([]byte, 0, cursor+strtab.Len()+16)
	out = append(out, fh.marshal()...)
	for _, h := range headers {
		out = append(out, h.marshal()...)
	}
	for i, sec := range w.sections {
		out = append(out, sec.contents...)
		if len(sec.relocs) == 0 {
			continue
		}
		if int(headers[i].NumberOfRelocations) == 0xffff && headers[i].Characteristics&SCN_LNK_NRELOC_OVFL != 0 {
			overflow := RelocEntry{VirtualAddress: uint32(len(sec.relocs) + 1)}
			out = append(out, overflow.marshal()...)
		}
		for _, r := range sec.relocs {
			re := RelocEntry{
				VirtualAddress: r.Address,
				SymbolIndex:    uint32(r.SymIndex),
				Type:           uint16(r.Kind),
			}
			out = append(out, re.marshal()...)
		}
	}
	out = append(out, symBytes...)
	out = append(out, strtab.Bytes()...)
	return out, nil
}

// marshalSymbolTable encodes the symbol table and, for COFF's common-symbol
// wire convention, needs no extra aux record: a common symbol is written as
// a plain external N_UNDEF entry whose Value already carries the requested
// size (set by objwriter.buildSymbols), so no special-casing is needed here
// beyond what sectionNumberFor/storageClassFor already do.
func marshalSymbolTable(symbols []objfmt.Symbol, headers []SectionHeader, strtab *intern.StringTable) ([]byte, int, error) {
	var out []byte
	count := 0
	for _, sym := range symbols {
		rec := SymbolRecord{
			Name:               encodeSymbolName(sym.Name, strtab),
			Value:              uint32(sym.Value),
			SectionNumber:      sectionNumberFor(sym),
			Type:               uint16(sym.Type),
			StorageClass:       storageClassFor(sym),
			NumberOfAuxSymbols: uint8(sym.NumAux),
		}
		out = append(out, rec.marshal()...)
		count++
		if len(sym.Aux) > 0 {
			out = append(out, padAux(sym.Aux, int(rec.NumberOfAuxSymbols))...)
			count += int(rec.NumberOfAuxSymbols)
		}
	}
	return out, count, nil
}

func padAux(aux []byte, numAux int) []byte {
	want := numAux * symbolRecordSize
	if len(aux) >= want {
		return aux[:want]
	}
	out := make([]byte, want)
	copy(out, aux)
	return out
}
