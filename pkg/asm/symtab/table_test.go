package symtab

import (
	"testing"

	"github.com/coffasm/coffasm/pkg/asm/expr"
	"github.com/coffasm/coffasm/pkg/asm/ids"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeLocation is a fixed-point LocationProvider for tests that don't
// exercise the frag chain itself.
type fakeLocation struct {
	frag   ids.FragID
	offset int64
	seg    expr.Segment

	addresses map[ids.FragID]int64
}

func (f *fakeLocation) CurrentFrag() (ids.FragID, int64, expr.Segment) {
	return f.frag, f.offset, f.seg
}

func (f *fakeLocation) FragAddress(id ids.FragID) int64 {
	return f.addresses[id]
}

func newTestTable() (*Table, *fakeLocation) {
	loc := &fakeLocation{frag: 1, offset: 0, seg: expr.SegText}
	return NewTable(loc, '.'), loc
}

func TestFindOrMakeCreatesUndefined(t *testing.T) {
	tab, _ := newTestTable()

	id := tab.FindOrMake("foo")
	sym := tab.Get(id)

	assert.Equal(t, "foo", sym.Name)
	assert.Equal(t, expr.SegUndefined, sym.Segment)

	again := tab.FindOrMake("foo")
	assert.Equal(t, id, again, "FindOrMake must return the same id for a repeated name")
}

func TestColonBindsCurrentLocation(t *testing.T) {
	tab, loc := newTestTable()
	loc.offset = 42

	sym, err := tab.Colon("start", Pos{File: "a.s", Line: 1})
	require.NoError(t, err)

	assert.Equal(t, expr.SegText, sym.Segment)
	assert.Equal(t, ids.FragID(1), sym.Frag)
	assert.Equal(t, int64(42), sym.Offset)
}

func TestColonRejectsRedefinition(t *testing.T) {
	tab, _ := newTestTable()

	_, err := tab.Colon("dup", Pos{Line: 1})
	require.NoError(t, err)

	_, err = tab.Colon("dup", Pos{Line: 2})
	assert.ErrorIs(t, err, ErrRedefined)
}

func TestFragDeltaSameFragFolds(t *testing.T) {
	tab, loc := newTestTable()

	a, err := tab.Colon("a", Pos{Line: 1})
	require.NoError(t, err)

	loc.offset = 10
	b, err := tab.Colon("b", Pos{Line: 2})
	require.NoError(t, err)

	delta, ok := tab.FragDelta(b.ID, a.ID)
	require.True(t, ok)
	assert.Equal(t, int64(10), delta)
}

func TestFragDeltaDifferentFragDoesNotFold(t *testing.T) {
	tab, loc := newTestTable()

	a, err := tab.Colon("a", Pos{Line: 1})
	require.NoError(t, err)

	loc.frag = 2
	b, err := tab.Colon("b", Pos{Line: 2})
	require.NoError(t, err)

	_, ok := tab.FragDelta(b.ID, a.ID)
	assert.False(t, ok)
}

func TestLocalLabelBackwardBeforeAnyDefinitionFails(t *testing.T) {
	tab, _ := newTestTable()

	_, err := tab.LocalLabel(4, false)
	assert.ErrorIs(t, err, ErrNoSuchLocalLabel)
}

func TestLocalLabelForwardThenColonLocalResolveToSameSymbol(t *testing.T) {
	tab, _ := newTestTable()

	forwardID, err := tab.LocalLabel(4, true)
	require.NoError(t, err)

	sym, err := tab.ColonLocal(4, Pos{Line: 5})
	require.NoError(t, err)

	assert.Equal(t, forwardID, sym.ID)
}

func TestLocalLabelReusesNumberAcrossInstances(t *testing.T) {
	tab, _ := newTestTable()

	first, err := tab.ColonLocal(1, Pos{Line: 1})
	require.NoError(t, err)

	second, err := tab.ColonLocal(1, Pos{Line: 2})
	require.NoError(t, err)

	assert.NotEqual(t, first.ID, second.ID)

	backward, err := tab.LocalLabel(1, false)
	require.NoError(t, err)
	assert.Equal(t, second.ID, backward)
}

func TestDeclareCommonKeepsLargestSize(t *testing.T) {
	tab, _ := newTestTable()

	sym := tab.DeclareCommon("buf", 16, 4, Pos{Line: 1})
	assert.Equal(t, int64(16), sym.CommonSize)

	sym = tab.DeclareCommon("buf", 8, 4, Pos{Line: 2})
	assert.Equal(t, int64(16), sym.CommonSize, "a smaller redeclaration must not shrink the common symbol")

	sym = tab.DeclareCommon("buf", 32, 4, Pos{Line: 3})
	assert.Equal(t, int64(32), sym.CommonSize)
}

func TestMRICommonBlockBindsLabelAndClosesOnce(t *testing.T) {
	tab, _ := newTestTable()

	tab.OpenMRICommon("blk", 2, Pos{Line: 1})

	a, err := tab.Colon("a", Pos{Line: 2})
	require.NoError(t, err)
	assert.Equal(t, int64(0), a.Offset)
	assert.Equal(t, expr.SegCommon, a.Segment)

	err = tab.CloseMRICommon()
	require.NoError(t, err)

	err = tab.CloseMRICommon()
	assert.ErrorIs(t, err, ErrMRICommonNotOpen)
}

func TestEquateOverwritesPriorValue(t *testing.T) {
	tab, _ := newTestTable()

	sym := tab.Equate("k", expr.SegAbsolute, expr.Constant(1), Pos{Line: 1})
	assert.Equal(t, int64(1), sym.Value.AddNumber)

	sym = tab.Equate("k", expr.SegAbsolute, expr.Constant(2), Pos{Line: 2})
	assert.Equal(t, int64(2), sym.Value.AddNumber)
}

func TestDotSymbolTracksLocation(t *testing.T) {
	tab, loc := newTestTable()
	loc.offset = 7

	dot := tab.DotSymbol()
	sym := tab.Get(dot)

	assert.Equal(t, int64(7), sym.Offset)
	assert.Equal(t, expr.SegText, sym.Segment)
}
