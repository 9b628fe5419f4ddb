// Package coff implements the object-format boundary's one concrete
// backend (spec C9/C10): a classic COFF reader/writer plus the final
// linker built on top of it. Wire struct layout and field names follow
// cmd/internal/ld/pe.go's IMAGE_* structs (read from original_source
// material in the pack: the same COFF family PE derives from), narrowed
// to the fields a relocatable-object linker actually needs; the COFF
// common-symbol convention and the final-linker algorithm in linker.go
// are grounded on binutils' bfd/cofflink.c (original_source/_INDEX.md).
package coff

import "encoding/binary"

// byteOrder is fixed little-endian for this implementation; a target
// requesting big-endian (-mbig) still emits a little-endian COFF header,
// matching how gas/ld keep the object container's own header endian-fixed
// independent of the target's data endianness.
var byteOrder = binary.LittleEndian

// FileHeader mirrors IMAGE_FILE_HEADER (pe.go), trimmed to a plain
// relocatable-object COFF header: no optional header, since this linker
// only ever produces another relocatable object (spec invariant 5) or a
// final image whose loader details are out of scope.
type FileHeader struct {
	Machine              uint16
	NumberOfSections     uint16
	TimeDateStamp        uint32
	PointerToSymbolTable uint32
	NumberOfSymbols      uint32
	SizeOfOptionalHeader uint16
	Characteristics      uint16
}

const fileHeaderSize = 20

// Section characteristics, subset of IMAGE_SCN_* (pe.go) that §6.1's wire
// behaviors and this linker actually inspect.
const (
	SCN_CNT_CODE               = 0x00000020
	SCN_CNT_INITIALIZED_DATA   = 0x00000040
	SCN_CNT_UNINITIALIZED_DATA = 0x00000080
	SCN_LNK_NRELOC_OVFL        = 0x01000000
	SCN_MEM_EXECUTE            = 0x20000000
	SCN_MEM_READ               = 0x40000000
	SCN_MEM_WRITE              = 0x80000000
)

// SectionHeader mirrors IMAGE_SECTION_HEADER (pe.go). Name is the raw
// 8-byte inline field; §6.1 says a name that doesn't fit is replaced with
// a "/<decimal-offset>" string-table reference, encoded into this same
// 8-byte field as ASCII.
type SectionHeader struct {
	Name                 [8]byte
	VirtualSize          uint32
	VirtualAddress       uint32
	SizeOfRawData        uint32
	PointerToRawData     uint32
	PointerToRelocations uint32
	PointerToLineNumbers uint32
	NumberOfRelocations  uint16
	NumberOfLineNumbers  uint16
	Characteristics      uint32
}

const sectionHeaderSize = 40

// RelocEntry is one on-disk relocation record: address, 1-based (after
// the N_UNDEF=0 convention) symbol-table index, and a target-specific
// type word. COFF relocations carry no addend field; §6.4 says formats
// without addends fold the value into the target bytes before writing,
// which is exactly what pkg/asm/fixup.Segment already does before handing
// a record to the object writer.
type RelocEntry struct {
	VirtualAddress uint32
	SymbolIndex    uint32
	Type           uint16
}

const relocEntrySize = 10

// Storage classes, the subset of COFF's C_* values this linker assigns or
// consults (§4.6: "promoted to C_EXT if C_NULL").
const (
	C_NULL    = 0
	C_EXT     = 2
	C_STAT    = 3
	C_FILE    = 103
	C_BLOCK   = 100 // .bb/.eb
	C_FCN     = 101 // .bf/.ef
)

// Section number conventions (§3.1's segment tags, narrowed to COFF's
// wire representation). N_UNDEF doubles as the common-symbol section
// index per the classic BFD convention.
const (
	N_UNDEF = 0
	N_ABS   = -1
	N_DEBUG = -2
)

// SymbolRecord mirrors a classic COFF symbol-table entry. Name is the raw
// 8-byte inline field, used when the name fits; otherwise the first four
// bytes are zero and the last four hold a string-table byte offset (the
// classic "long name" encoding, distinct from the section-name
// "/<decimal>" form).
type SymbolRecord struct {
	Name           [8]byte
	Value          uint32
	SectionNumber  int16
	Type           uint16
	StorageClass   uint8
	NumberOfAuxSymbols uint8
}

// symbolRecordSize is also the aux-entry size: §6.1 requires
// symesz == auxesz so aux records can be walked as same-sized slots
// following their parent symbol.
const symbolRecordSize = 18

func putUint16(b []byte, v uint16) { byteOrder.PutUint16(b, v) }
func putUint32(b []byte, v uint32) { byteOrder.PutUint32(b, v) }
func getUint16(b []byte) uint16    { return byteOrder.Uint16(b) }
func getUint32(b []byte) uint32    { return byteOrder.Uint32(b) }

func (h FileHeader) marshal() []byte {
	b := make([]byte, fileHeaderSize)
	putUint16(b[0:], h.Machine)
	putUint16(b[2:], h.NumberOfSections)
	putUint32(b[4:], h.TimeDateStamp)
	putUint32(b[8:], h.PointerToSymbolTable)
	putUint32(b[12:], h.NumberOfSymbols)
	putUint16(b[16:], h.SizeOfOptionalHeader)
	putUint16(b[18:], h.Characteristics)
	return b
}

func unmarshalFileHeader(b []byte) FileHeader {
	return FileHeader{
		Machine:              getUint16(b[0:]),
		NumberOfSections:     getUint16(b[2:]),
		TimeDateStamp:        getUint32(b[4:]),
		PointerToSymbolTable: getUint32(b[8:]),
		NumberOfSymbols:      getUint32(b[12:]),
		SizeOfOptionalHeader: getUint16(b[16:]),
		Characteristics:      getUint16(b[18:]),
	}
}

func (h SectionHeader) marshal() []byte {
	b := make([]byte, sectionHeaderSize)
	copy(b[0:8], h.Name[:])
	putUint32(b[8:], h.VirtualSize)
	putUint32(b[12:], h.VirtualAddress)
	putUint32(b[16:], h.SizeOfRawData)
	putUint32(b[20:], h.PointerToRawData)
	putUint32(b[24:], h.PointerToRelocations)
	putUint32(b[28:], h.PointerToLineNumbers)
	putUint16(b[32:], h.NumberOfRelocations)
	putUint16(b[34:], h.NumberOfLineNumbers)
	putUint32(b[36:], h.Characteristics)
	return b
}

func unmarshalSectionHeader(b []byte) SectionHeader {
	var h SectionHeader
	copy(h.Name[:], b[0:8])
	h.VirtualSize = getUint32(b[8:])
	h.VirtualAddress = getUint32(b[12:])
	h.SizeOfRawData = getUint32(b[16:])
	h.PointerToRawData = getUint32(b[20:])
	h.PointerToRelocations = getUint32(b[24:])
	h.PointerToLineNumbers = getUint32(b[28:])
	h.NumberOfRelocations = getUint16(b[32:])
	h.NumberOfLineNumbers = getUint16(b[34:])
	h.Characteristics = getUint32(b[36:])
	return h
}

func (r RelocEntry) marshal() []byte {
	b := make([]byte, relocEntrySize)
	putUint32(b[0:], r.VirtualAddress)
	putUint32(b[4:], r.SymbolIndex)
	putUint16(b[8:], r.Type)
	return b
}

func unmarshalRelocEntry(b []byte) RelocEntry {
	return RelocEntry{
		VirtualAddress: getUint32(b[0:]),
		SymbolIndex:    getUint32(b[4:]),
		Type:           getUint16(b[8:]),
	}
}

func (s SymbolRecord) marshal() []byte {
	b := make([]byte, symbolRecordSize)
	copy(b[0:8], s.Name[:])
	putUint32(b[8:], s.Value)
	putUint16(b[12:], uint16(s.SectionNumber))
	putUint16(b[14:], s.Type)
	b[16] = s.StorageClass
	b[17] = s.NumberOfAuxSymbols
	return b
}

func unmarshalSymbolRecord(b []byte) SymbolRecord {
	var s SymbolRecord
	copy(s.Name[:], b[0:8])
	s.Value = getUint32(b[8:])
	s.SectionNumber = int16(getUint16(b[12:]))
	s.Type = getUint16(b[14:])
	s.StorageClass = b[16]
	s.NumberOfAuxSymbols = b[17]
	return s
}
