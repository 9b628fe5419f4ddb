package demo

import (
	"testing"

	"github.com/coffasm/coffasm/pkg/asm/expr"
	"github.com/coffasm/coffasm/pkg/asm/fixup"
	"github.com/coffasm/coffasm/pkg/asm/frag"
	"github.com/coffasm/coffasm/pkg/asm/ids"
	"github.com/coffasm/coffasm/pkg/asm/target"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newFacade(next *ids.SymbolID) *target.SymbolFacade {
	return &target.SymbolFacade{
		FindOrMake: func(name string) ids.SymbolID {
			id := *next
			*next++
			return id
		},
	}
}

func TestAssembleNopEmitsSingleByte(t *testing.T) {
	chain := frag.NewChain()
	chain.Select(expr.SegText, 0)
	tgt := New()

	next := ids.SymbolID(0)
	res, err := tgt.Assemble(chain, newFacade(&next), "nop", "", expr.Pos{})
	require.NoError(t, err)
	assert.Empty(t, res.Fixups)

	id, _, _ := chain.CurrentFrag()
	assert.Equal(t, []byte{opNop}, chain.Get(id).Fixed)
}

func TestAssembleMoviWithLiteralNeedsNoFixup(t *testing.T) {
	chain := frag.NewChain()
	chain.Select(expr.SegText, 0)
	tgt := New()

	next := ids.SymbolID(0)
	res, err := tgt.Assemble(chain, newFacade(&next), "movi", "r1, 0x2a", expr.Pos{})
	require.NoError(t, err)
	assert.Empty(t, res.Fixups)

	id, _, _ := chain.CurrentFrag()
	assert.Equal(t, []byte{opMovi, 0x01, 0x2a, 0x00, 0x00, 0x00}, chain.Get(id).Fixed)
}

func TestAssembleMoviWithSymbolEmitsFixup(t *testing.T) {
	chain := frag.NewChain()
	chain.Select(expr.SegText, 0)
	tgt := New()

	next := ids.SymbolID(5)
	res, err := tgt.Assemble(chain, newFacade(&next), "movi", "r2, some_label", expr.Pos{})
	require.NoError(t, err)
	require.Len(t, res.Fixups, 1)
	assert.Equal(t, ids.SymbolID(5), res.Fixups[0].AddSymbol)
	assert.Equal(t, 4, res.Fixups[0].Size)
}

func TestAssembleJmpOpensMachineDependentFrag(t *testing.T) {
	chain := frag.NewChain()
	chain.Select(expr.SegText, 0)
	tgt := New()

	next := ids.SymbolID(9)
	res, err := tgt.Assemble(chain, newFacade(&next), "jmp", "loop", expr.Pos{})
	require.NoError(t, err)
	assert.Empty(t, res.Fixups)

	var branch *frag.Frag
	chain.Walk(0, func(f *frag.Frag) {
		if f.Kind == frag.KindMachineDependent {
			branch = f
		}
	})
	require.NotNil(t, branch)
	assert.Equal(t, subtypeJmp, branch.RelaxSubtype)
	assert.Equal(t, ids.SymbolID(9), branch.RelaxSymbol)
}

func TestConvertFragShortState(t *testing.T) {
	tgt := New()
	f := &frag.Frag{ID: 3, RelaxSubtype: subtypeJmp, RelaxState: 0, RelaxSymbol: 7}

	data, fixups := tgt.ConvertFrag(f)
	assert.Equal(t, []byte{opJmpS, 0x00}, data)
	require.Len(t, fixups, 1)
	assert.Equal(t, int64(1), fixups[0].Where)
	assert.Equal(t, 1, fixups[0].Size)
	assert.True(t, fixups[0].PCRelative)
}

func TestConvertFragLongState(t *testing.T) {
	tgt := New()
	f := &frag.Frag{ID: 3, RelaxSubtype: subtypeJmp, RelaxState: 1, RelaxSymbol: 7}

	data, fixups := tgt.ConvertFrag(f)
	assert.Equal(t, []byte{opJmpL, 0, 0, 0, 0}, data)
	require.Len(t, fixups, 1)
	assert.Equal(t, 4, fixups[0].Size)
}

func TestApplyFixPatchesLittleEndian(t *testing.T) {
	tgt := New()
	data := make([]byte, 5)
	done, err := tgt.ApplyFix(&fixup.Fixup{Where: 1, Size: 4}, 0x01020304, data)
	require.NoError(t, err)
	assert.True(t, done)
	assert.Equal(t, []byte{0x00, 0x04, 0x03, 0x02, 0x01}, data)
}

func TestRelaxTableForKnownSubtype(t *testing.T) {
	tgt := New()
	table, ok := tgt.RelaxTableFor(subtypeJmp)
	require.True(t, ok)
	assert.Len(t, table, 2)
	assert.Equal(t, int64(2), table[0].Length)
	assert.Equal(t, int64(5), table[1].Length)
}

func TestRelaxTableForUnknownSubtype(t *testing.T) {
	tgt := New()
	_, ok := tgt.RelaxTableFor(99)
	assert.False(t, ok)
}
