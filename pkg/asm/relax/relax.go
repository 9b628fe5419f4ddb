// Package relax implements the relaxation driver: the fixed-point pass
// over a section's frag chain that grows Align/Org/Space/MachineDependent
// frags until every frag's size has stopped changing (spec C7, §4.5;
// grounded on binutils gas's write.c relax_segment, kept in
// original_source/).
package relax

import (
	"fmt"

	"github.com/coffasm/coffasm/pkg/asm/expr"
	"github.com/coffasm/coffasm/pkg/asm/frag"
	"github.com/coffasm/coffasm/pkg/asm/ids"
	"github.com/coffasm/coffasm/pkg/asm/target"
)

// SymbolInfo is the narrow symbol-table access Org/Space/MachineDependent
// frags need: a resolved symbol's numeric value and segment.
type SymbolInfo interface {
	NumericValue(id ids.SymbolID) (int64, bool)
	SegmentOf(id ids.SymbolID) expr.Segment
}

// MaxPasses bounds the relaxation loop as a non-convergence backstop; real
// inputs converge in a handful of passes (spec §4.5's termination argument
// bounds it far tighter than this, but a hard ceiling protects against a
// target's relax table violating the monotonicity assumption).
const MaxPasses = 200

// Driver runs relaxation over one or more sections against a target's
// relax tables (spec §4.5).
type Driver struct {
	symbols SymbolInfo
	target  target.Ops

	// history/frozen implement this package's tie-break policy for a frag
	// that would flip state twice within the run (spec §9's open question,
	// resolved in DESIGN.md): track the last two states visited per
	// MachineDependent frag, and once a frag revisits a state it already
	// held two observations ago (an A, B, A oscillation), freeze it at the
	// larger of the two states for the remainder of this run.
	history map[ids.FragID]*stateHistory
	frozen  map[ids.FragID]bool
}

// stateHistory tracks the states a MachineDependent frag has visited
// across relax passes, just enough to recognize an A, B, A flip.
type stateHistory struct {
	count int
	prev  [2]int // prev[0] is two observations ago, prev[1] is one ago
}

// NewDriver creates a relaxation driver bound to a symbol table and a
// target's relax tables/MDRelax hook.
func NewDriver(symbols SymbolInfo, t target.Ops) *Driver {
	return &Driver{
		symbols: symbols,
		target:  t,
		history: make(map[ids.FragID]*stateHistory),
		frozen:  make(map[ids.FragID]bool),
	}
}

// Run relaxes one section's frag chain to a fixed point (spec §4.5): on
// each pass, every frag is resized in address order; the pass repeats
// until nothing changed size.
func (d *Driver) Run(chain *frag.Chain, section frag.Section) error {
	for pass := 0; pass < MaxPasses; pass++ {
		changed := false
		address := int64(0)

		var walkErr error
		chain.Walk(section.Head, func(f *frag.Frag) {
			if walkErr != nil {
				return
			}
			f.Address = address
			before := f.Len()
			if err := d.resize(f); err != nil {
				walkErr = err
				return
			}
			after := f.Len()
			if after != before {
				changed = true
			}
			address += after
		})
		if walkErr != nil {
			return walkErr
		}
		if !changed {
			return nil
		}
	}
	return fmt.Errorf("relax: section did not converge within %d passes", MaxPasses)
}

// resize recomputes one frag's current size in place, per its Kind (spec
// §4.5's per-type rules).
func (d *Driver) resize(f *frag.Frag) error {
	switch f.Kind {
	case frag.KindFill:
		// Fixed content never grows; nothing to do.
		return nil

	case frag.KindAlign, frag.KindAlignCode:
		return d.resizeAlign(f)

	case frag.KindOrg:
		return d.resizeOrg(f)

	case frag.KindSpace:
		return d.resizeSpace(f)

	case frag.KindMachineDependent:
		return d.resizeMachineDependent(f)

	default:
		return nil
	}
}

func alignUp(address int64, bits int) int64 {
	if bits <= 0 {
		return address
	}
	mask := (int64(1) << uint(bits)) - 1
	return (address + mask) &^ mask
}

func (d *Driver) resizeAlign(f *frag.Frag) error {
	target := alignUp(f.Address, f.AlignBits)
	padding := target - f.Address
	if f.AlignMaxSkip > 0 && padding > f.AlignMaxSkip {
		padding = 0
	}
	f.Var = fillPattern(f.AlignPattern, int(padding))
	return nil
}

// fillPattern materializes n bytes by repeating pattern (or zero bytes if
// pattern is empty), matching the "repeat pattern N times" semantics of
// spec §3.3's Fill/Align frags.
func fillPattern(pattern []byte, n int) []byte {
	if n <= 0 {
		return nil
	}
	out := make([]byte, n)
	if len(pattern) == 0 {
		return out
	}
	for i := range out {
		out[i] = pattern[i%len(pattern)]
	}
	return out
}

func (d *Driver) resizeOrg(f *frag.Frag) error {
	targetVal, ok := d.symbols.NumericValue(f.OrgTarget)
	if !ok {
		// Target not yet resolvable (e.g. depends on a later frag's
		// address): leave size unchanged this pass, try again next pass.
		return nil
	}
	growth := targetVal - f.Address
	if growth < 0 {
		return fmt.Errorf("relax: attempt to .org backwards at frag %d (target %d < current %d)", f.ID, targetVal, f.Address)
	}
	f.Var = fillPattern([]byte{f.OrgFill}, int(growth))
	return nil
}

func (d *Driver) resizeSpace(f *frag.Frag) error {
	size := f.SpaceSize
	if f.SpaceSymbol != ids.NoSymbol {
		v, ok := d.symbols.NumericValue(f.SpaceSymbol)
		if !ok {
			return nil // not yet resolvable; retry next pass
		}
		if d.symbols.SegmentOf(f.SpaceSymbol) != expr.SegAbsolute {
			return fmt.Errorf("relax: .space size at frag %d must resolve to an absolute value", f.ID)
		}
		size = v
	}
	if size < 0 {
		size = 0 // a negative size is clamped to zero; no warning is reported
	}
	f.Var = fillPattern([]byte{f.SpaceFill}, int(size))
	return nil
}

func (d *Driver) resizeMachineDependent(f *frag.Frag) error {
	if d.frozen[f.ID] {
		return nil
	}

	aim := int64(0)
	haveAim := false
	if f.RelaxSymbol != ids.NoSymbol {
		if v, ok := d.symbols.NumericValue(f.RelaxSymbol); ok {
			aim = v + f.RelaxOffset - (f.Address + int64(len(f.Fixed)))
			haveAim = true
		}
	}

	table, hasTable := d.target.RelaxTableFor(f.RelaxSubtype)

	var newState int
	var newLength int64

	switch {
	case hasTable && haveAim:
		newState, newLength = walkRelaxTable(table, f.RelaxState, aim)
	case haveAim:
		newState, newLength = d.target.MDRelax(f, aim)
	default:
		return nil // reach target not yet resolvable; retry next pass
	}

	if d.observeOscillation(f, newState, hasTable, table) {
		return nil
	}

	f.RelaxState = newState
	f.Var = make([]byte, varLength(newLength, len(f.Fixed)))
	return nil
}

// varLength clamps a chosen total frag length down to the portion that
// belongs in Var (anything already accounted for by Fixed is not
// re-allocated).
func varLength(total int64, fixed int) int64 {
	n := total - int64(fixed)
	if n < 0 {
		return 0
	}
	return n
}

// walkRelaxTable implements spec §4.5's default table-driven algorithm:
// starting from the frag's current state, walk forward or backward through
// the table's links until aim fits the chosen state's reach.
func walkRelaxTable(table target.RelaxTable, state int, aim int64) (int, int64) {
	for {
		row := table[state]
		switch {
		case aim > row.Forward && row.NextUp >= 0:
			state = row.NextUp
		case aim < row.Backward && row.NextDown >= 0:
			state = row.NextDown
		default:
			return state, row.Length
		}
	}
}

// observeOscillation implements this package's tie-break policy: if a
// frag's state history shows an A, B, A pattern (it would flip back to a
// state it already held two observations ago), freeze it at the larger of
// the two states for the rest of this run instead of oscillating forever.
func (d *Driver) observeOscillation(f *frag.Frag, newState int, hasTable bool, table target.RelaxTable) bool {
	hist, ok := d.history[f.ID]
	if !ok {
		hist = &stateHistory{}
		d.history[f.ID] = hist
	}

	oscillating := hist.count >= 2 && newState == hist.prev[0] && hist.prev[0] != hist.prev[1]

	hist.prev[0] = hist.prev[1]
	hist.prev[1] = newState
	hist.count++

	if oscillating && hasTable {
		larger := newState
		if hist.prev[0] > larger {
			larger = hist.prev[0]
		}
		f.RelaxState = larger
		f.Var = make([]byte, varLength(table[larger].Length, len(f.Fixed)))
		d.frozen[f.ID] = true
		return true
	}
	return false
}
