package relax

import (
	"testing"

	"github.com/coffasm/coffasm/pkg/asm/expr"
	"github.com/coffasm/coffasm/pkg/asm/fixup"
	"github.com/coffasm/coffasm/pkg/asm/frag"
	"github.com/coffasm/coffasm/pkg/asm/ids"
	"github.com/coffasm/coffasm/pkg/asm/target"
	"github.com/coffasm/coffasm/pkg/reloc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSymbols struct {
	value map[ids.SymbolID]int64
	seg   map[ids.SymbolID]expr.Segment
	known map[ids.SymbolID]bool
}

func newFakeSymbols() *fakeSymbols {
	return &fakeSymbols{value: map[ids.SymbolID]int64{}, seg: map[ids.SymbolID]expr.Segment{}, known: map[ids.SymbolID]bool{}}
}

func (f *fakeSymbols) define(id ids.SymbolID, seg expr.Segment, v int64) {
	f.seg[id] = seg
	f.value[id] = v
	f.known[id] = true
}

func (f *fakeSymbols) NumericValue(id ids.SymbolID) (int64, bool) { return f.value[id], f.known[id] }
func (f *fakeSymbols) SegmentOf(id ids.SymbolID) expr.Segment     { return f.seg[id] }

// stubTarget is a target.Ops double exercising only the relax-relevant
// methods; the rest panic if ever called, so a test calling them fails loud.
type stubTarget struct {
	tables map[int]target.RelaxTable
}

func (s *stubTarget) Name() string                        { panic("unused") }
func (s *stubTarget) RegisterNames() map[string]int        { panic("unused") }
func (s *stubTarget) Assemble(*frag.Chain, *target.SymbolFacade, string, string, expr.Pos) (target.AssembleResult, error) {
	panic("unused")
}
func (s *stubTarget) EstimateSizeBeforeRelax(*frag.Frag) int64 { panic("unused") }
func (s *stubTarget) RelaxTableFor(subtype int) (target.RelaxTable, bool) {
	t, ok := s.tables[subtype]
	return t, ok
}
func (s *stubTarget) MDRelax(*frag.Frag, int64) (int, int64)        { panic("unused") }
func (s *stubTarget) ConvertFrag(f *frag.Frag) ([]byte, []*fixup.Fixup) {
	return append(append([]byte{}, f.Fixed...), f.Var...), nil
}
func (s *stubTarget) ApplyFix(*fixup.Fixup, int64, []byte) (bool, error) { panic("unused") }
func (s *stubTarget) GenReloc(*fixup.Fixup, int64) reloc.Record      { panic("unused") }
func (s *stubTarget) PCRelFrom(*fixup.Fixup, int64) int64            { panic("unused") }
func (s *stubTarget) Relocs() []reloc.Howto                          { return nil }

// a two-state short/long branch table: state 0 reaches ±127 in 2 bytes,
// state 1 reaches ±32767 in 4 bytes.
var branchTable = target.RelaxTable{
	{Forward: 127, Backward: -128, Length: 2, NextUp: 1, NextDown: -1},
	{Forward: 32767, Backward: -32768, Length: 4, NextUp: -1, NextDown: -1},
}

func TestRunConvergesFillOnly(t *testing.T) {
	chain := frag.NewChain()
	chain.Select(expr.SegText, 0)
	chain.FragMore([]byte{0x01, 0x02, 0x03})
	sections := chain.Finish()
	require.Len(t, sections, 1)

	d := NewDriver(newFakeSymbols(), &stubTarget{})
	require.NoError(t, d.Run(chain, sections[0]))

	assert.Equal(t, int64(0), chain.Get(sections[0].Head).Address)
}

func TestRunExpandsAlignToBoundary(t *testing.T) {
	chain := frag.NewChain()
	chain.Select(expr.SegText, 0)
	chain.FragMore([]byte{0xAA}) // 1 byte, address 0..1
	chain.FragAlign(2, nil, 0, false) // align to 4
	chain.FragMore([]byte{0xBB})
	sections := chain.Finish()

	d := NewDriver(newFakeSymbols(), &stubTarget{})
	require.NoError(t, d.Run(chain, sections[0]))

	var kinds []frag.Kind
	var addrs []int64
	chain.Walk(sections[0].Head, func(f *frag.Frag) {
		kinds = append(kinds, f.Kind)
		addrs = append(addrs, f.Address)
	})

	// fill(1) @0, align(3 padding) @1, fill(1) @4
	require.Len(t, kinds, 3)
	assert.Equal(t, int64(0), addrs[0])
	assert.Equal(t, int64(1), addrs[1])
	assert.Equal(t, int64(4), addrs[2])
}

func TestRunExpandsOrgForward(t *testing.T) {
	chain := frag.NewChain()
	chain.Select(expr.SegText, 0)
	targetSym := ids.SymbolID(0)
	chain.FragOrg(targetSym, 0)
	sections := chain.Finish()

	syms := newFakeSymbols()
	syms.define(targetSym, expr.SegAbsolute, 16)

	d := NewDriver(syms, &stubTarget{})
	require.NoError(t, d.Run(chain, sections[0]))

	var orgFrag *frag.Frag
	chain.Walk(sections[0].Head, func(f *frag.Frag) {
		if f.Kind == frag.KindOrg {
			orgFrag = f
		}
	})
	require.NotNil(t, orgFrag)
	assert.Equal(t, int64(16), orgFrag.Len())
}

func TestRunErrorsOnBackwardOrg(t *testing.T) {
	chain := frag.NewChain()
	chain.Select(expr.SegText, 0)
	chain.FragMore([]byte{0, 0, 0, 0, 0, 0, 0, 0, 0, 0}) // 10 bytes
	targetSym := ids.SymbolID(0)
	chain.FragOrg(targetSym, 0)
	sections := chain.Finish()

	syms := newFakeSymbols()
	syms.define(targetSym, expr.SegAbsolute, 2) // behind the current address of 10

	d := NewDriver(syms, &stubTarget{})
	err := d.Run(chain, sections[0])
	require.Error(t, err)
	assert.Contains(t, err.Error(), "backwards")
}

func TestRunGrowsMachineDependentFragViaTable(t *testing.T) {
	chain := frag.NewChain()
	chain.Select(expr.SegText, 0)

	targetSym := ids.SymbolID(0)
	branchID := chain.FragVar([]byte{0x00, 0x00}, 4, 7, targetSym, 0, nil)
	chain.FragMore(make([]byte, 200)) // push the symbol far enough to force the long encoding
	sections := chain.Finish()

	syms := newFakeSymbols()
	syms.define(targetSym, expr.SegText, 40000) // far beyond the short branch's ±127 reach

	st := &stubTarget{tables: map[int]target.RelaxTable{7: branchTable}}
	d := NewDriver(syms, st)
	require.NoError(t, d.Run(chain, sections[0]))

	branchFrag := chain.Get(branchID)
	assert.Equal(t, 1, branchFrag.RelaxState)
	assert.Equal(t, int64(4), branchFrag.Len())
}

func TestRunKeepsShortEncodingWhenTargetIsNear(t *testing.T) {
	chain := frag.NewChain()
	chain.Select(expr.SegText, 0)

	targetSym := ids.SymbolID(0)
	branchID := chain.FragVar([]byte{0x00, 0x00}, 4, 7, targetSym, 0, nil)
	chain.FragMore([]byte{0x00})
	sections := chain.Finish()

	syms := newFakeSymbols()
	syms.define(targetSym, expr.SegText, 10)

	st := &stubTarget{tables: map[int]target.RelaxTable{7: branchTable}}
	d := NewDriver(syms, st)
	require.NoError(t, d.Run(chain, sections[0]))

	branchFrag := chain.Get(branchID)
	assert.Equal(t, 0, branchFrag.RelaxState)
	assert.Equal(t, int64(2), branchFrag.Len())
}
