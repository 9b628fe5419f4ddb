// Package intern owns the canonical symbol names and the string table used
// both for assembler symbols and for COFF's long-section-name/string table
// (spec C2).
package intern

// Table interns strings to small integer IDs, so the rest of the pipeline
// can compare names by ID instead of re-hashing/re-comparing full strings.
type Table struct {
	byName map[string]ID
	names  []string
}

// ID is a stable handle into a Table.
type ID int

// Invalid is the zero value of ID, never returned by Intern.
const Invalid ID = -1

// New creates an empty interning table.
func New() *Table {
	return &Table{byName: make(map[string]ID)}
}

// Intern returns the ID for name, creating a new entry on first sight
// ("created by interner on first lookup-or-make", spec §3.1).
func (t *Table) Intern(name string) ID {
	if id, ok := t.byName[name]; ok {
		return id
	}
	id := ID(len(t.names))
	t.names = append(t.names, name)
	t.byName[name] = id
	return id
}

// Lookup returns the ID already assigned to name, if any, without creating one.
func (t *Table) Lookup(name string) (ID, bool) {
	id, ok := t.byName[name]
	return id, ok
}

// String returns the canonical text for id.
func (t *Table) String(id ID) string {
	if id < 0 || int(id) >= len(t.names) {
		return ""
	}
	return t.names[id]
}

// Len returns the number of distinct interned strings.
func (t *Table) Len() int {
	return len(t.names)
}

// StringTable accumulates strings for the on-disk COFF string table: a
// 4-byte little-endian total length (including the length field itself)
// followed by NUL-terminated strings (spec §6.1).
type StringTable struct {
	offsets map[string]uint32
	data    []byte
}

// NewStringTable creates a string table whose serialized form always starts
// with the 4-byte length field (offset 0 is reserved, matching COFF's
// convention that symbol-name offset 0 is never a valid long-name reference).
func NewStringTable() *StringTable {
	return &StringTable{
		offsets: make(map[string]uint32),
		data:    make([]byte, 4),
	}
}

// Add interns s into the table (deduplicating identical strings) and
// returns its byte offset from the start of the serialized table, suitable
// for a "/<decimal-string-offset>" section-name reference or a symbol's
// long name (spec §6.1).
func (st *StringTable) Add(s string) uint32 {
	if off, ok := st.offsets[s]; ok {
		return off
	}
	off := uint32(len(st.data))
	st.offsets[s] = off
	st.data = append(st.data, []byte(s)...)
	st.data = append(st.data, 0)
	return off
}

// Bytes returns the fully serialized table: 4-byte little-endian total
// length, then the accumulated NUL-terminated strings.
func (st *StringTable) Bytes() []byte {
	total := uint32(len(st.data))
	out := make([]byte, len(st.data))
	copy(out, st.data)
	out[0] = byte(total)
	out[1] = byte(total >> 8)
	out[2] = byte(total >> 16)
	out[3] = byte(total >> 24)
	return out
}

// Len reports the current serialized length, including the 4-byte header.
func (st *StringTable) Len() uint32 {
	return uint32(len(st.data))
}
