package coff

import "encoding/binary"

// StabEntry mirrors one on-disk .stab record's fields relevant to
// deduplication: n_strx indexes into the paired .stabstr section, the
// remaining fields travel through untouched.
type StabEntry struct {
	Strx   uint32
	Type   uint8
	Other  uint8
	Desc   uint16
	Value  uint32
}

const stabEntrySize = 12

// EncodeStabs serializes entries in on-disk .stab record order, the
// write-side counterpart decodeStabs/MergeStabs read back. Exported so the
// assembler side (pkg/asm, emitting .stabs/.stabn/.stabd) can produce a
// .stab section in the exact layout this package's link-time deduplication
// expects to read.
func EncodeStabs(entries []StabEntry) []byte { return encodeStabs(entries) }

func decodeStabs(data []byte) []StabEntry {
	out := make([]StabEntry, 0, len(data)/stabEntrySize)
	for off := 0; off+stabEntrySize <= len(data); off += stabEntrySize {
		out = append(out, StabEntry{
			Strx:  binary.LittleEndian.Uint32(data[off:]),
			Type:  data[off+4],
			Other: data[off+5],
			Desc:  binary.LittleEndian.Uint16(data[off+6:]),
			Value: binary.LittleEndian.Uint32(data[off+8:]),
		})
	}
	return out
}

func encodeStabs(entries []StabEntry) []byte {
	out := make([]byte, len(entries)*stabEntrySize)
	for i, e := range entries {
		off := i * stabEntrySize
		binary.LittleEndian.PutUint32(out[off:], e.Strx)
		out[off+4] = e.Type
		out[off+5] = e.Other
		binary.LittleEndian.PutUint16(out[off+6:], e.Desc)
		binary.LittleEndian.PutUint32(out[off+8:], e.Value)
	}
	return out
}

// StabStringPool is the cross-input deduplicated .stabstr accumulator
// spec §4.6 describes: "deduplicate stab string entries across inputs and
// rewrite stab n_strx values accordingly". One pool spans an entire link
// (Linker.Stabs); MergeStabs rewrites one input's .stab section against it.
// Linker.Link does not call MergeStabs, and input .stab sections are not
// carried into the linked output.
type StabStringPool struct {
	buf    []byte
	offset map[string]uint32
}

// NewStabStringPool returns an empty pool; offset 0 is reserved for the
// empty string, matching the convention every .stab record with n_strx==0
// (no string) already relies on.
func NewStabStringPool() *StabStringPool {
	return &StabStringPool{buf: []byte{0}, offset: map[string]uint32{"": 0}}
}

func (p *StabStringPool) intern(s string) uint32 {
	if off, ok := p.offset[s]; ok {
		return off
	}
	off := uint32(len(p.buf))
	p.buf = append(p.buf, s...)
	p.buf = append(p.buf, 0)
	p.offset[s] = off
	return off
}

// Bytes returns the accumulated .stabstr contents.
func (p *StabStringPool) Bytes() []byte { return p.buf }

// MergeStabs rewrites one input's .stab section against the shared pool:
// every record's n_strx is resolved against the input's own .stabstr,
// interned into the pool, and rewritten to the pool's offset, preserving
// record order exactly as read (spec §6.1: "dedup must preserve record
// order while collapsing equal strings").
func MergeStabs(stab, stabstr []byte, pool *StabStringPool) []byte {
	entries := decodeStabs(stab)
	for i, e := range entries {
		s := readCString(stabstr, e.Strx)
		entries[i].Strx = pool.intern(s)
	}
	return encodeStabs(entries)
}

func readCString(b []byte, off uint32) string {
	if int(off) >= len(b) {
		return ""
	}
	end := int(off)
	for end < len(b) && b[end] != 0 {
		end++
	}
	return string(b[off:end])
}
