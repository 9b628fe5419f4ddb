package coff

import (
	"fmt"

	"github.com/coffasm/coffasm/pkg/link/diag"
	"github.com/coffasm/coffasm/pkg/link/objfmt"
)

// SymbolState is the global link hash table's view of one name, the
// three-way outcome spec §4.7's archive scan and §4.6's final pass both
// consult: still undefined, defined somewhere, or only ever seen as a
// tentative (common) definition.
type SymbolState int

const (
	StateUndefined SymbolState = iota
	StateDefined
	StateCommon
)

// HashEntry is the global hash table's record for one external name
// (spec C9 "global link hash"; GLOSSARY "symbol hash table").
type HashEntry struct {
	Name     string
	State    SymbolState
	Size     int64  // largest common size requested, when State == StateCommon
	Object   string // defining (or first-declaring) object/member name
}

// Hash is the linker's global external-symbol table, shared across every
// input object and archive member processed during a link.
type Hash struct {
	entries map[string]*HashEntry
	sink    *diag.Sink
}

// NewHash returns an empty global hash table, reporting redefinitions and
// other symbol-resolution diagnostics to sink.
func NewHash(sink *diag.Sink) *Hash {
	return &Hash{entries: map[string]*HashEntry{}, sink: sink}
}

// Peek returns the entry for name without creating one, reporting whether
// name has been referenced or declared at all. ScanArchive needs this
// distinction: §4.7 only pulls a member in when the symbol it defines is
// "present [in the hash] and currently undefined" — a name no input has
// mentioned yet is not a want, even though Lookup would otherwise
// materialize it as one.
func (h *Hash) Peek(name string) (*HashEntry, bool) {
	e, ok := h.entries[name]
	return e, ok
}

// Lookup returns the entry for name, creating an undefined placeholder if
// this is the first reference.
func (h *Hash) Lookup(name string) *HashEntry {
	if e, ok := h.entries[name]; ok {
		return e
	}
	e := &HashEntry{Name: name, State: StateUndefined}
	h.entries[name] = e
	return e
}

// Declare records name's appearance in object: a defined symbol, a common
// (tentative) definition of the given size, or a mere reference (still
// undefined as far as this call is concerned). Redefinition of an already
// StateDefined symbol by another StateDefined is a hard error (§4.6
// "symbol redefinition is a hard error"); a common declaration never
// overrides an existing definition, and among competing commons the
// largest size wins (classic COFF/ld common-symbol resolution).
func (h *Hash) Declare(name string, state SymbolState, size int64, object string) {
	e := h.Lookup(name)
	switch {
	case state == StateUndefined:
		return
	case state == StateCommon:
		if e.State == StateDefined {
			return
		}
		if e.State != StateCommon || size > e.Size {
			e.State = StateCommon
			e.Size = size
			e.Object = object
		}
	case state == StateDefined:
		if e.State == StateDefined {
			h.sink.Report(diag.KindRedefinedSymbol, diag.Pos{Object: object, Symbol: name},
				"redefined, previously defined in %s", e.Object)
			return
		}
		e.State = StateDefined
		e.Size = 0
		e.Object = object
	}
}

// Undefined returns every name still StateUndefined, in hash iteration
// order (callers needing determinism sort the result themselves; the
// final linker does, when it reports them).
func (h *Hash) Undefined() []string {
	var out []string
	for name, e := range h.entries {
		if e.State == StateUndefined {
			out = append(out, name)
		}
	}
	return out
}

// AddArchiveElement is spec §4.7's add_archive_element callback: given a
// pulled-in member's decoded symbols, declare each of them against the
// global hash the same way a regular input object would be.
type AddArchiveElement func(member Member) error

// ScanArchive implements §4.7's algorithm: for each archive member, read
// its external symbol table; for each externally visible defined symbol,
// consult the global hash. If the name is currently undefined there, pull
// the member in via add (marking it needed) and declare its symbols;
// otherwise the member is skipped, including — per the stated invariant —
// when the only outstanding need is a common declaration, since a common
// symbol already known does not by itself justify pulling in an archive
// member that defines it.
func ScanArchive(h *Hash, arc *Archive, add AddArchiveElement) ([]string, error) {
	var pulled []string
	needed := true
	// Archives can require more than one scan pass: pulling in a member
	// late in the archive may satisfy a symbol a member earlier in this
	// same pass also could have defined had it been visited after. Loop
	// until a full pass pulls in nothing new, mirroring ld's repeated
	// archive rescans for "symbol defined later in the same archive".
	for needed {
		needed = false
		for _, m := range arc.Members {
			r, err := NewReader(m.Data)
			if err != nil {
				return nil, fmt.Errorf("coff: archive member %q: %w", m.Name, err)
			}
			symbols, err := r.ReadSymbols()
			if err != nil {
				return nil, fmt.Errorf("coff: archive member %q: %w", m.Name, err)
			}

			wanted := false
			for _, sym := range symbols {
				if !sym.External || sym.Class == objfmt.SymUndefined {
					continue
				}
				e, present := h.Peek(sym.Name)
				if present && e.State == StateUndefined {
					wanted = true
					break
				}
			}
			if !wanted {
				continue
			}

			if err := add(m); err != nil {
				return nil, fmt.Errorf("coff: adding archive member %q: %w", m.Name, err)
			}
			pulled = append(pulled, m.Name)
			for _, sym := range symbols {
				if !sym.External {
					continue
				}
				switch sym.Class {
				case objfmt.SymUndefined:
					if sym.Value > 0 {
						h.Declare(sym.Name, StateCommon, sym.Value, m.Name)
					}
				default:
					h.Declare(sym.Name, StateDefined, 0, m.Name)
				}
			}
			needed = true
		}
	}
	return pulled, nil
}
