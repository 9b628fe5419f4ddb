package fixup

import (
	"fmt"

	"github.com/coffasm/coffasm/pkg/asm/expr"
	"github.com/coffasm/coffasm/pkg/asm/ids"
	"github.com/coffasm/coffasm/pkg/reloc"
	"github.com/coffasm/coffasm/pkg/utils"
)

// SymbolInfo is the narrow view fixup_segment needs into the symbol table:
// resolving a symbol's closure and reading back its numeric position (spec
// §4.2's resolve(), consumed here rather than re-implemented).
type SymbolInfo interface {
	Resolve(id ids.SymbolID) error
	SegmentOf(id ids.SymbolID) expr.Segment
	NumericValue(id ids.SymbolID) (int64, bool)
	NameOf(id ids.SymbolID) string
}

// FragLocator gives fixup_segment each frag's placed address, known only
// after relax.Driver has converged.
type FragLocator interface {
	FragAddress(id ids.FragID) int64
}

// Target is the slice of the full per-CPU TargetOps (spec C12) that the
// fixup engine calls into: patching bytes for kinds it doesn't know how to
// insert generically, and producing an on-disk relocation when a fixup
// can't be fully resolved at assembly time.
type Target interface {
	// ApplyFix patches fx's field within data (data is the frag's fixed
	// byte slice) with value, and reports whether the field is now fully
	// resolved (no reloc needed) or still requires one.
	ApplyFix(fx *Fixup, value int64, data []byte) (done bool, err error)
	// GenReloc produces the on-disk descriptor for a fixup that still
	// needs one after ApplyFix.
	GenReloc(fx *Fixup, value int64) reloc.Record
	// PCRelFrom returns the address pc-relative computation subtracts
	// against, given the fixup's site address (frag address + Where).
	PCRelFrom(fx *Fixup, siteAddress int64) int64
}

// Policy carries the format-specific toggles spec §4.4 calls out by name.
type Policy struct {
	// UndefinedDifferenceOK permits subtracting an undefined symbol
	// (PIC-style position-independent difference), normally a hard error.
	UndefinedDifferenceOK bool
}

// Result is what fixup_segment produced for one section: patched frag
// bytes (mutated in place) plus the relocations still required on disk.
type Result struct {
	Relocs []reloc.Record
}

// Segment runs fixup_segment (spec §4.4) over fixups in source order,
// patching frag content in place and collecting the relocations that
// remain after each fixup's attempt at full in-object resolution.
func Segment(fixups []*Fixup, symbols SymbolInfo, frags FragLocator, chainGet func(ids.FragID) []byte, registry *reloc.Registry, target Target, policy Policy) (Result, error) {
	var res Result

	for _, fx := range fixups {
		value, fullyResolved, err := resolveValue(fx, symbols, policy)
		if err != nil {
			return res, err
		}

		siteAddress := frags.FragAddress(fx.Frag) + fx.Where
		if fx.PCRelative {
			pcBase := siteAddress
			if target != nil {
				pcBase = target.PCRelFrom(fx, siteAddress)
			} else {
				pcBase = siteAddress + int64(fx.Size)
			}
			value -= pcBase
		}

		if fullyResolved {
			if err := checkRange(fx, value, registry); err != nil {
				return res, err
			}
		}

		data := chainGet(fx.Frag)

		var done bool
		if target != nil {
			done, err = target.ApplyFix(fx, value, data)
			if err != nil {
				return res, err
			}
			done = done && fullyResolved
		} else {
			if err := patchGeneric(fx, value, data, registry); err != nil {
				return res, err
			}
			done = fullyResolved
		}

		if done {
			fx.Done = true
			continue
		}

		if target == nil {
			return res, utils.MakeError(ErrRangeOverflow, "fixup at frag %d+%d has no target to generate a relocation", fx.Frag, fx.Where)
		}
		rec := target.GenReloc(fx, value)
		rec.Address = uint32(siteAddress)
		res.Relocs = append(res.Relocs, rec)
	}

	return res, nil
}

// resolveValue implements steps 1-2 of spec §4.4's fixup_segment: resolve
// the operand symbol(s), fold a same-segment subtraction into an absolute
// delta, and report whether the whole fixup collapsed to a known number
// (fullyResolved) or still needs a symbol reference in the output reloc.
func resolveValue(fx *Fixup, symbols SymbolInfo, policy Policy) (value int64, fullyResolved bool, err error) {
	value = fx.Addend

	if fx.AddSymbol == ids.NoSymbol {
		return value, true, nil
	}

	if err := symbols.Resolve(fx.AddSymbol); err != nil {
		return 0, false, err
	}
	addVal, addKnown := symbols.NumericValue(fx.AddSymbol)
	if fx.Negate {
		addVal = -addVal
	}

	if fx.CombineOp == expr.OpIllegal {
		if addKnown {
			return value + addVal, true, nil
		}
		return value, false, nil
	}

	if err := symbols.Resolve(fx.OtherSymbol); err != nil {
		return 0, false, err
	}

	addSeg := symbols.SegmentOf(fx.AddSymbol)
	otherSeg := symbols.SegmentOf(fx.OtherSymbol)
	otherVal, otherKnown := symbols.NumericValue(fx.OtherSymbol)

	if fx.CombineOp == expr.OpSub && otherSeg == expr.SegUndefined && !policy.UndefinedDifferenceOK {
		return 0, false, utils.MakeError(ErrUndefinedDifference, "%q - %q", symbols.NameOf(fx.AddSymbol), symbols.NameOf(fx.OtherSymbol))
	}

	if addKnown && otherKnown {
		if fx.CombineOp == expr.OpSub {
			if addSeg != otherSeg {
				return 0, false, utils.MakeError(ErrUnreducedSegmentDifference, "%q (%s) - %q (%s)",
					symbols.NameOf(fx.AddSymbol), addSeg, symbols.NameOf(fx.OtherSymbol), otherSeg)
			}
			return value + addVal - otherVal, true, nil
		}
		return value + addVal + otherVal, true, nil
	}

	if fx.CombineOp == expr.OpSub && addSeg != otherSeg && addKnown != otherKnown && otherSeg != expr.SegUndefined {
		return 0, false, utils.MakeError(ErrUnreducedSegmentDifference, "%q (%s) - %q (%s)",
			symbols.NameOf(fx.AddSymbol), addSeg, symbols.NameOf(fx.OtherSymbol), otherSeg)
	}

	return value, false, nil
}

// checkRange implements spec §4.4 step 3 and §8 invariant 3: a resolved
// value must fit the fixup's declared field width.
func checkRange(fx *Fixup, value int64, registry *reloc.Registry) error {
	if registry == nil {
		return nil
	}
	howto, ok := registry.Lookup(fx.Kind)
	if !ok {
		return nil
	}
	if err := howto.CheckRange(value); err != nil {
		return utils.MakeError(ErrRangeOverflow, "%v (value=%d, field=%s)", err, value, howto.Name)
	}
	return nil
}

// patchGeneric performs the default (non-target-delegated) byte patch for
// a fixup whose Kind has a registered reloc.Howto: insert value into the
// field. When the fixup isn't fully resolved, value is whatever numeric
// contribution resolveValue could already compute (typically just the
// addend) and the remaining symbol reference is left to the caller to
// cover with an emitted relocation.
func patchGeneric(fx *Fixup, value int64, data []byte, registry *reloc.Registry) error {
	if registry == nil {
		return fmt.Errorf("fixup: no reloc registry and no target to apply kind %s", fx.Kind)
	}
	howto, ok := registry.Lookup(fx.Kind)
	if !ok {
		return fmt.Errorf("fixup: unknown reloc kind %s", fx.Kind)
	}

	end := fx.Where + int64(fx.Size)
	if end > int64(len(data)) {
		return fmt.Errorf("fixup: field at %d+%d exceeds frag content (len %d)", fx.Where, fx.Size, len(data))
	}

	var field uint64
	for i := 0; i < fx.Size; i++ {
		field |= uint64(data[fx.Where+int64(i)]) << (8 * uint(i))
	}
	field = howto.Insert(field, value)
	for i := 0; i < fx.Size; i++ {
		data[fx.Where+int64(i)] = byte(field >> (8 * uint(i)))
	}

	return nil
}
