package asm

import (
	"strings"
	"testing"

	"github.com/coffasm/coffasm/pkg/asm/symtab"
	"github.com/coffasm/coffasm/pkg/asm/target/demo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestScenarioS1ExpressionFoldingAndEquate exercises S1: constant folding
// through an .equ must resolve at assemble time, with no reloc emitted.
func TestScenarioS1ExpressionFoldingAndEquate(t *testing.T) {
	src := ".data\n.equ x, 5 + 3\n.long x\n.long x - 2\n"
	a := New(demo.New(), Options{})
	require.NoError(t, a.AssembleFile("s1.s", strings.NewReader(src)))
	require.False(t, a.Context().Diag.HadErrors(), "%v", a.Context().Diag.Diagnostics())

	obj, err := a.Finish()
	require.NoError(t, err)

	data := findSection(t, obj, ".data")
	assert.Equal(t, []byte{0x08, 0x00, 0x00, 0x00, 0x06, 0x00, 0x00, 0x00}, data.Contents)
	assert.Empty(t, data.Relocs)
}

// TestScenarioS2PCRelativeBranchRoundTrip exercises S2: a short in-range
// branch resolves its displacement in place, with no reloc left behind.
func TestScenarioS2PCRelativeBranchRoundTrip(t *testing.T) {
	src := "foo:\n\tnop\n\tnop\n\tjmp foo\n"
	a := New(demo.New(), Options{})
	require.NoError(t, a.AssembleFile("s2.s", strings.NewReader(src)))
	require.False(t, a.Context().Diag.HadErrors(), "%v", a.Context().Diag.Diagnostics())

	obj, err := a.Finish()
	require.NoError(t, err)

	text := findSection(t, obj, ".text")
	// nop, nop, then a short jmp (opcode + signed rel8) back to foo at 0.
	// The displacement is measured from the byte after the field (address 4).
	require.Len(t, text.Contents, 4)
	assert.Equal(t, []byte{0x00, 0x00, 0x10, 0xfc}, text.Contents)
	assert.Empty(t, text.Relocs)
}

// TestScenarioS4RelaxationGrowth exercises S4: a forward branch that does
// not fit the short encoding's +127/-128 reach relaxes to the long form,
// and every frag after it shifts by the resulting growth.
func TestScenarioS4RelaxationGrowth(t *testing.T) {
	src := "\tjmp target\n" + strings.Repeat("\tnop\n", 130) + "target:\n\tnop\n"
	a := New(demo.New(), Options{})
	require.NoError(t, a.AssembleFile("s4.s", strings.NewReader(src)))
	require.False(t, a.Context().Diag.HadErrors(), "%v", a.Context().Diag.Diagnostics())

	obj, err := a.Finish()
	require.NoError(t, err)

	text := findSection(t, obj, ".text")
	// Long form: opcode (0x11) + 4-byte signed rel32, then 130 nops, then
	// one final nop at "target".
	require.Len(t, text.Contents, 5+130+1)
	assert.Equal(t, byte(0x11), text.Contents[0])

	// target sits at address 135; the field is patched relative to the
	// address immediately after it (address 5).
	disp := int32(text.Contents[1]) | int32(text.Contents[2])<<8 | int32(text.Contents[3])<<16 | int32(text.Contents[4])<<24
	assert.Equal(t, int32(130), disp)
	assert.Empty(t, text.Relocs)
}

// TestScenarioS5SymbolDifferenceToAbsolute exercises S5: a difference
// between two symbols in the same section folds to a literal constant
// at assemble time, never a relocation.
func TestScenarioS5SymbolDifferenceToAbsolute(t *testing.T) {
	src := ".data\na:\n.long b - a\nb:\n"
	a := New(demo.New(), Options{})
	require.NoError(t, a.AssembleFile("s5.s", strings.NewReader(src)))
	require.False(t, a.Context().Diag.HadErrors(), "%v", a.Context().Diag.Diagnostics())

	obj, err := a.Finish()
	require.NoError(t, err)

	data := findSection(t, obj, ".data")
	assert.Equal(t, []byte{0x04, 0x00, 0x00, 0x00}, data.Contents)
	assert.Empty(t, data.Relocs)
}

// TestScenarioS6CommonAndLcomm exercises S6: .comm declares an external
// tentative definition with the alignment given, .lcomm allocates a local
// one with the default alignment rule when none is given.
func TestScenarioS6CommonAndLcomm(t *testing.T) {
	src := ".comm c1, 16, 4\n.lcomm c2, 8\n"
	a := New(demo.New(), Options{})
	require.NoError(t, a.AssembleFile("s6.s", strings.NewReader(src)))
	require.False(t, a.Context().Diag.HadErrors(), "%v", a.Context().Diag.Diagnostics())

	c1id, ok := a.ctx.Symbols.Find("c1")
	require.True(t, ok)
	c1 := a.ctx.Symbols.Get(c1id)
	assert.Equal(t, int64(16), c1.CommonSize)
	assert.Equal(t, 4, c1.CommonAlign)

	c2id, ok := a.ctx.Symbols.Find("c2")
	require.True(t, ok)
	c2 := a.ctx.Symbols.Get(c2id)
	assert.Equal(t, int64(8), c2.CommonSize)
	assert.Equal(t, 4, c2.CommonAlign)
	assert.NotZero(t, c2.Flags&symtab.FlagLocal)
}
