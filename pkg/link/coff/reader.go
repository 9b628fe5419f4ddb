package coff

import (
	"fmt"

	"github.com/coffasm/coffasm/pkg/link/objfmt"
	"github.com/coffasm/coffasm/pkg/reloc"
)

// Reader parses a COFF object's section list and symbol table back into
// objfmt.Object form, implementing objfmt.Reader (spec C9/C10's input
// side: link_input_bfd starts by "reading the input's external symbol
// table decoded to internal form").
type Reader struct {
	data    []byte
	header  FileHeader
	headers []SectionHeader
	strtab  *stringTable
}

// NewReader parses just the file/section headers and string table; symbol
// and section-content decoding happen lazily in ReadSymbols/Sections so a
// caller that only wants the symbol table (the archive scan's §4.7 case)
// doesn't pay to materialize section contents it will discard.
func NewReader(data []byte) (*Reader, error) {
	if len(data) < fileHeaderSize {
		return nil, fmt.Errorf("coff: object too short for a file header (%d bytes)", len(data))
	}
	fh := unmarshalFileHeader(data)
	r := &Reader{data: data, header: fh}

	off := fileHeaderSize
	for i := 0; i < int(fh.NumberOfSections); i++ {
		if off+sectionHeaderSize > len(data) {
			return nil, fmt.Errorf("coff: truncated section header %d", i)
		}
		r.headers = append(r.headers, unmarshalSectionHeader(data[off:off+sectionHeaderSize]))
		off += sectionHeaderSize
	}

	symtabEnd := int(fh.PointerToSymbolTable) + int(fh.NumberOfSymbols)*symbolRecordSize
	if symtabEnd > len(data) {
		return nil, fmt.Errorf("coff: symbol table runs past end of file")
	}
	r.strtab = readStringTable(data[symtabEnd:])
	return r, nil
}

func (r *Reader) Machine() uint16 { return r.header.Machine }

// ReadSymbolsIndexed is ReadSymbols plus each symbol's 1-based on-disk
// symbol-table index (skipping over aux slots, which never carry their
// own index), the same numbering reloc.Record.SymIndex refers to. The
// final linker needs this to translate a reloc's symbol reference back to
// the decoded Symbol it names.
func (r *Reader) ReadSymbolsIndexed() ([]objfmt.Symbol, []int32, error) {
	off := int(r.header.PointerToSymbolTable)
	var out []objfmt.Symbol
	var indices []int32
	for i := 0; i < int(r.header.NumberOfSymbols); {
		if off+symbolRecordSize > len(r.data) {
			return nil, nil, fmt.Errorf("coff: truncated symbol record at index %d", i)
		}
		rec := unmarshalSymbolRecord(r.data[off : off+symbolRecordSize])
		name, err := decodeSymbolName(rec.Name, r.strtab)
		if err != nil {
			return nil, nil, fmt.Errorf("coff: symbol %d: %w", i, err)
		}
		sym := objfmt.Symbol{
			Name:         name,
			Value:        int64(rec.Value),
			Class:        classFromSectionNumber(rec.SectionNumber, rec.StorageClass == C_EXT),
			StorageClass: int(rec.StorageClass),
			Type:         int(rec.Type),
			External:     rec.StorageClass == C_EXT,
			NumAux:       int(rec.NumberOfAuxSymbols),
		}
		if rec.SectionNumber > 0 {
			sym.SectionIndex = int(rec.SectionNumber)
		}
		index := int32(i) + 1 // 1-based, matching reloc.Record.SymIndex
		off += symbolRecordSize
		i++
		if rec.NumberOfAuxSymbols > 0 {
			auxBytes := int(rec.NumberOfAuxSymbols) * symbolRecordSize
			if off+auxBytes > len(r.data) {
				return nil, nil, fmt.Errorf("coff: truncated aux records for symbol %d", i-1)
			}
			sym.Aux = append([]byte(nil), r.data[off:off+auxBytes]...)
			off += auxBytes
			i += int(rec.NumberOfAuxSymbols)
		}
		out = append(out, sym)
		indices = append(indices, index)
	}
	return out, indices, nil
}

// ReadSymbols satisfies objfmt.Reader; it is ReadSymbolsIndexed without the
// index slice, for callers that only need the decoded table.
func (r *Reader) ReadSymbols() ([]objfmt.Symbol, error) {
	symbols, _, err := r.ReadSymbolsIndexed()
	return symbols, err
}

func (r *Reader) Sections() ([]objfmt.Section, error) {
	out := make([]objfmt.Section, len(r.headers))
	for i, h := range r.headers {
		name, err := decodeSectionName(h.Name, r.strtab)
		if err != nil {
			return nil, fmt.Errorf("coff: section %d: %w", i, err)
		}
		sec := objfmt.Section{
			Name:     name,
			Flags:    decodeSectionFlags(h.Characteristics),
			VMA:      uint64(h.VirtualAddress),
			Contents: nil,
		}
		if h.SizeOfRawData > 0 && h.PointerToRawData > 0 {
			start := int(h.PointerToRawData)
			end := start + int(h.SizeOfRawData)
			if end > len(r.data) {
				return nil, fmt.Errorf("coff: section %q contents run past end of file", name)
			}
			sec.Contents = append([]byte(nil), r.data[start:end]...)
		}
		if h.NumberOfRelocations > 0 {
			relocs, err := r.readRelocs(h)
			if err != nil {
				return nil, fmt.Errorf("coff: section %q: %w", name, err)
			}
			sec.Relocs = relocs
		}
		out[i] = sec
	}
	return out, nil
}

func (r *Reader) readRelocs(h SectionHeader) ([]reloc.Record, error) {
	off := int(h.PointerToRelocations)
	count := int(h.NumberOfRelocations)
	if count == 0xffff && h.Characteristics&SCN_LNK_NRELOC_OVFL != 0 {
		if off+relocEntrySize > len(r.data) {
			return nil, fmt.Errorf("overflow reloc count record truncated")
		}
		overflow := unmarshalRelocEntry(r.data[off : off+relocEntrySize])
		count = int(overflow.VirtualAddress) - 1
		off += relocEntrySize
	}
	out := make([]reloc.Record, 0, count)
	for i := 0; i < count; i++ {
		if off+relocEntrySize > len(r.data) {
			return nil, fmt.Errorf("truncated relocation %d", i)
		}
		re := unmarshalRelocEntry(r.data[off : off+relocEntrySize])
		out = append(out, reloc.Record{
			Address:  re.VirtualAddress,
			SymIndex: int32(re.SymbolIndex),
			Kind:     reloc.Kind(re.Type),
		})
		off += relocEntrySize
	}
	return out, nil
}

func decodeSectionFlags(ch uint32) objfmt.SectionFlags {
	var f objfmt.SectionFlags
	switch {
	case ch&SCN_CNT_CODE != 0:
		f |= objfmt.SectionCode | objfmt.SectionAlloc | objfmt.SectionLoad | objfmt.SectionHasContents
	case ch&SCN_CNT_INITIALIZED_DATA != 0:
		f |= objfmt.SectionAlloc | objfmt.SectionLoad | objfmt.SectionHasContents
	case ch&SCN_CNT_UNINITIALIZED_DATA != 0:
		f |= objfmt.SectionAlloc
	}
	if ch&SCN_MEM_WRITE == 0 {
		f |= objfmt.SectionReadonly
	}
	return f
}

// encodeSectionFlags is writer.go's inverse of decodeSectionFlags, used by
// objwriter callers that build a coff.Writer directly from objfmt.Section
// flags (the demo object-writer tests and cmd/asm's output path).
func encodeSectionFlags(f objfmt.SectionFlags) uint32 {
	var ch uint32
	switch {
	case f&objfmt.SectionCode != 0:
		ch |= SCN_CNT_CODE | SCN_MEM_EXECUTE | SCN_MEM_READ
	case f&objfmt.SectionHasContents != 0:
		ch |= SCN_CNT_INITIALIZED_DATA | SCN_MEM_READ
	default:
		ch |= SCN_CNT_UNINITIALIZED_DATA | SCN_MEM_READ
	}
	if f&objfmt.SectionReadonly == 0 {
		ch |= SCN_MEM_WRITE
	}
	return ch
}
