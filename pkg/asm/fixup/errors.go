package fixup

import "errors"

var (
	// ErrUndefinedDifference is reported when a fixup subtracts an
	// undefined symbol and the active object format doesn't set
	// UNDEFINED_DIFFERENCE_OK (spec §4.4 "special behaviors").
	ErrUndefinedDifference = errors.New("subtraction of undefined symbol")
	// ErrUnreducedSegmentDifference is reported when a fixup subtracts a
	// symbol from a different segment than AddSymbol without having been
	// reduced to a single segment beforehand (spec §4.4).
	ErrUnreducedSegmentDifference = errors.New("can't resolve subtraction across segments")
	// ErrRangeOverflow is reported when a resolved value doesn't fit the
	// fixup's bit width and the operand descriptor doesn't permit overflow
	// (spec §8 invariant 3).
	ErrRangeOverflow = errors.New("value does not fit in fixup field")
)
