package symtab

import "errors"

// Sentinel errors, wrapped with context via utils.MakeError at call sites
// (spec's ambient error-handling convention, grounded on pkg/utils.MakeError).
var (
	ErrUndefinedSymbol  = errors.New("undefined symbol")
	ErrSelfReference    = errors.New("symbol depends on itself")
	ErrNoSuchLocalLabel = errors.New("no such local label")
	ErrRedefined        = errors.New("symbol already defined")
	ErrMRICommonNotOpen = errors.New("no MRI common block is open")
)
