package coff

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/coffasm/coffasm/pkg/asm/intern"
	"github.com/coffasm/coffasm/pkg/link/objfmt"
)

// stringTable is the read-side counterpart of intern.StringTable (C2):
// writing a string table is delegated to intern.StringTable directly (its
// wire format is exactly §6.1's 4-byte-length-prefixed, NUL-terminated
// layout), but reading one back out of an existing object's bytes needs
// offset-indexed lookup, which intern.StringTable doesn't expose.
type stringTable struct {
	buf    []byte
	offset map[string]uint32
}

func readStringTable(b []byte) *stringTable {
	t := &stringTable{buf: append([]byte(nil), b...), offset: map[string]uint32{}}
	return t
}

func (t *stringTable) lookup(offset uint32) (string, error) {
	if int(offset) >= len(t.buf) {
		return "", fmt.Errorf("coff: string table offset %d out of range", offset)
	}
	end := int(offset)
	for end < len(t.buf) && t.buf[end] != 0 {
		end++
	}
	return string(t.buf[offset:end]), nil
}

// encodeInlineName packs name into the 8-byte inline field used by both
// section and symbol headers when it fits (symbol names up to 8 bytes,
// padded with trailing zero bytes).
func encodeInlineName(name string) ([8]byte, bool) {
	var out [8]byte
	if len(name) > 8 {
		return out, false
	}
	copy(out[:], name)
	return out, true
}

// encodeSymbolName returns the 8-byte name field for a symbol record: the
// inline form when it fits, otherwise zero-padded with the long-name
// encoding (first four bytes zero, last four the string-table offset).
func encodeSymbolName(name string, strtab *intern.StringTable) [8]byte {
	if inline, ok := encodeInlineName(name); ok {
		return inline
	}
	var out [8]byte
	off := strtab.Add(name)
	putUint32(out[4:], off)
	return out
}

func decodeSymbolName(raw [8]byte, strtab *stringTable) (string, error) {
	if getUint32(raw[0:4]) != 0 {
		return trimNulString(raw[:]), nil
	}
	off := getUint32(raw[4:8])
	if off == 0 {
		return trimNulString(raw[:]), nil
	}
	return strtab.lookup(off)
}

// encodeSectionName returns the 8-byte name field for a section header:
// the inline form when it fits, otherwise §6.1's "/<decimal-offset>"
// string-table reference written as ASCII into the same 8-byte field.
func encodeSectionName(name string, strtab *intern.StringTable) [8]byte {
	if inline, ok := encodeInlineName(name); ok {
		return inline
	}
	off := strtab.Add(name)
	ref := "/" + strconv.FormatUint(uint64(off), 10)
	var out [8]byte
	copy(out[:], ref)
	return out
}

func decodeSectionName(raw [8]byte, strtab *stringTable) (string, error) {
	s := trimNulString(raw[:])
	if strings.HasPrefix(s, "/") {
		off, err := strconv.ParseUint(s[1:], 10, 32)
		if err != nil {
			return "", fmt.Errorf("coff: malformed section name reference %q: %w", s, err)
		}
		return strtab.lookup(uint32(off))
	}
	return s, nil
}

func trimNulString(b []byte) string {
	end := 0
	for end < len(b) && b[end] != 0 {
		end++
	}
	return string(b[:end])
}

// sectionNumberFor converts an objfmt symbol class to COFF's section
// number convention (§3.1's segment tags narrowed to the wire form).
// SymUndefined and common symbols share N_UNDEF: the classic BFD
// convention this linker preserves is that a common symbol is written as
// an external N_UNDEF entry whose Value carries the requested size
// (see objwriter's DESIGN.md entry for the assembler-side half of this).
func sectionNumberFor(sym objfmt.Symbol) int16 {
	switch sym.Class {
	case objfmt.SymAbsolute:
		return N_ABS
	case objfmt.SymDebug:
		return N_DEBUG
	case objfmt.SymSection:
		return int16(sym.SectionIndex)
	default:
		return N_UNDEF
	}
}

func classFromSectionNumber(n int16, external bool) objfmt.SymbolClass {
	switch {
	case n == N_ABS:
		return objfmt.SymAbsolute
	case n == N_DEBUG:
		return objfmt.SymDebug
	case n == N_UNDEF:
		return objfmt.SymUndefined
	default:
		return objfmt.SymSection
	}
}

func storageClassFor(sym objfmt.Symbol) uint8 {
	if sym.StorageClass != 0 {
		return uint8(sym.StorageClass)
	}
	if sym.External {
		return C_EXT
	}
	return C_STAT
}
