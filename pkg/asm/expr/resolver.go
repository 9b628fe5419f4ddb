package expr

// SymbolResolver is the narrow view the evaluator needs into the symbol
// table (spec C4) to fold operators and look up names. Defining it here
// (rather than importing symtab) keeps expr free of a dependency cycle:
// symtab.Table implements this interface using its own Symbol type.
type SymbolResolver interface {
	// FindOrMake returns the SymbolID for name, creating an undefined
	// symbol entry on first sight (spec §4.2 find_or_make).
	FindOrMake(name string) SymbolID

	// SegmentOf returns the symbol's current segment tag.
	SegmentOf(id SymbolID) Segment

	// ConstantValue reports whether id is currently resolved to an
	// absolute constant, and if so its value.
	ConstantValue(id SymbolID) (int64, bool)

	// FragDelta reports whether a and b live in the same frag (so their
	// difference can fold to a plain number immediately, spec §4.1 "Sym -
	// Sym where both resolve to the same frag and value folds to their
	// numeric difference"), and if so returns value(a) - value(b).
	FragDelta(a, b SymbolID) (int64, bool)

	// DotSymbol returns the symbol standing for the current location
	// counter ('.', '*' or '$' depending on dialect).
	DotSymbol() SymbolID

	// RegisterNamed recognizes a target-specific register name (spec
	// C12's "target-specific register-name recognizer").
	RegisterNamed(name string) (int, bool)

	// MakeExprSymbol wraps a non-foldable Value in a synthetic symbol of
	// segment expression_section, with a mapping back to pos for later
	// diagnostics (spec §4.1).
	MakeExprSymbol(v Value, pos Pos) SymbolID

	// SizeofSymbol and StartofSymbol implement the MRI .sizeof.(sym) and
	// .startof.(sym) operators, each producing a link-time symbol.
	SizeofSymbol(name string) SymbolID
	StartofSymbol(name string) SymbolID

	// LocalLabel resolves a local numeric label reference (N "f" forward
	// or N "b" backward), per spec's "4f/4b forward/backward" operand.
	LocalLabel(number int, forward bool) (SymbolID, error)
}
