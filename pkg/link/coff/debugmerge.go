package coff

// DebugElement is one member field/enumerator of a merged debug type
// (spec §3.7): name, its COFF type word, and its tag-index reference (0
// when the member isn't itself a tagged type).
type DebugElement struct {
	Name   string
	Type   uint16
	Tagndx int32
}

// DebugMergeType is one candidate definition of a tag name: its storage
// class (enum/struct/union) and ordered element list.
type DebugMergeType struct {
	Class    uint8
	Elements []DebugElement
	// MergedIndex is the output symbol-table index of the definition this
	// type was folded into (itself, the first time a given shape is seen).
	MergedIndex int32
}

// DebugMergeHash is the per-link hash table keyed by type-tag name,
// mapping to every distinct shape seen under that name (spec §3.7: "a
// hash table keyed by type-tag name mapping to a list of
// DebugMergeType"), grounded on bfd's coff_debug_merge_hash_entry /
// coff_debug_merge_type chain (cofflink.c).
type DebugMergeHash struct {
	byName map[string][]*DebugMergeType
}

// NewDebugMergeHash returns an empty merge table.
func NewDebugMergeHash() *DebugMergeHash {
	return &DebugMergeHash{byName: map[string][]*DebugMergeType{}}
}

// Lookup reports whether a type matching candidate's shape under name has
// already been merged, returning its MergedIndex. Two types match iff
// same class, same element count, and element-wise equal in
// name/type/tagndx (spec §3.7), exactly what sameShape checks.
func (h *DebugMergeHash) Lookup(name string, candidate DebugMergeType) (int32, bool) {
	for _, existing := range h.byName[name] {
		if sameShape(*existing, candidate) {
			return existing.MergedIndex, true
		}
	}
	return 0, false
}

// Insert records candidate as a new distinct shape under name, to be
// matched by later Lookup calls from other input objects defining the
// same tag.
func (h *DebugMergeHash) Insert(name string, candidate DebugMergeType) {
	stored := candidate
	h.byName[name] = append(h.byName[name], &stored)
}

func sameShape(a, b DebugMergeType) bool {
	if a.Class != b.Class || len(a.Elements) != len(b.Elements) {
		return false
	}
	for i := range a.Elements {
		ae, be := a.Elements[i], b.Elements[i]
		if ae.Name != be.Name || ae.Type != be.Type || ae.Tagndx != be.Tagndx {
			return false
		}
	}
	return true
}
