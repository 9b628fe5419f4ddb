package asm

import (
	"strings"
	"testing"

	"github.com/coffasm/coffasm/pkg/asm/target/demo"
	"github.com/coffasm/coffasm/pkg/link/objfmt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func findSection(t *testing.T, obj objfmt.Object, name string) objfmt.Section {
	t.Helper()
	for _, s := range obj.Sections {
		if s.Name == name {
			return s
		}
	}
	t.Fatalf("no %q section in %v", name, obj.Sections)
	return objfmt.Section{}
}

func findSymbol(obj objfmt.Object, name string) (objfmt.Symbol, bool) {
	for _, s := range obj.Symbols {
		if s.Name == name {
			return s, true
		}
	}
	return objfmt.Symbol{}, false
}

func TestAssembleFileBasicDirectivesAndInstructions(t *testing.T) {
	src := `
	.text
start:
	nop
	jmp start
	.data
values:
	.byte 1, 2, 3
	.word 0x1234
	.long 0xdeadbeef
msg:
	.asciz "hi"
`
	a := New(demo.New(), Options{})
	require.NoError(t, a.AssembleFile("test.s", strings.NewReader(src)))
	require.False(t, a.Context().Diag.HadErrors(), "%v", a.Context().Diag.Diagnostics())

	obj, err := a.Finish()
	require.NoError(t, err)

	text := findSection(t, obj, ".text")
	// nop (1 byte) + short backward jmp folds to opcode+rel8 since the
	// target sits in the same section within reach. The displacement is
	// measured from the address right after the field (address 3) back to
	// start at address 0: -3, 0xfd as a signed byte.
	assert.Equal(t, []byte{0x00, 0x10, 0xfd}, text.Contents)

	data := findSection(t, obj, ".data")
	assert.Equal(t, byte(1), data.Contents[0])
	assert.Equal(t, byte(2), data.Contents[1])
	assert.Equal(t, byte(3), data.Contents[2])
	// .word 0x1234, little-endian
	assert.Equal(t, []byte{0x34, 0x12}, data.Contents[3:5])
	// .long 0xdeadbeef, little-endian
	assert.Equal(t, []byte{0xef, 0xbe, 0xad, 0xde}, data.Contents[5:9])
	// .asciz "hi" -> "hi\x00"
	assert.Equal(t, []byte{'h', 'i', 0}, data.Contents[9:12])

	_, ok := findSymbol(obj, "start")
	assert.True(t, ok)
	_, ok = findSymbol(obj, "msg")
	assert.True(t, ok)
}

func TestAssembleFileCommAndLcomm(t *testing.T) {
	src := ".comm shared_counter, 4, 4\n.lcomm local_buf, 8\n"
	a := New(demo.New(), Options{})
	require.NoError(t, a.AssembleFile("test.s", strings.NewReader(src)))
	require.False(t, a.Context().Diag.HadErrors(), "%v", a.Context().Diag.Diagnostics())

	sym, ok := a.ctx.Symbols.Find("shared_counter")
	require.True(t, ok)
	s := a.ctx.Symbols.Get(sym)
	assert.Equal(t, int64(4), s.CommonSize)
	assert.Equal(t, 4, s.CommonAlign)

	local, ok := a.ctx.Symbols.Find("local_buf")
	require.True(t, ok)
	ls := a.ctx.Symbols.Get(local)
	assert.Equal(t, int64(8), ls.CommonSize)
	assert.Equal(t, 4, int(ls.CommonAlign))
}

func TestAssembleFileOrgAndSpace(t *testing.T) {
	src := "\t.data\n\t.space 4\n\t.org 8\nmarker:\n\t.byte 0x7f\n"
	a := New(demo.New(), Options{})
	require.NoError(t, a.AssembleFile("test.s", strings.NewReader(src)))
	require.False(t, a.Context().Diag.HadErrors(), "%v", a.Context().Diag.Diagnostics())

	obj, err := a.Finish()
	require.NoError(t, err)

	data := findSection(t, obj, ".data")
	require.Len(t, data.Contents, 9)
	assert.Equal(t, byte(0x7f), data.Contents[8])
}

func TestAssembleFileRejectsMacroDirectives(t *testing.T) {
	src := ".macro foo\nnop\n.endm\n"
	a := New(demo.New(), Options{})
	require.NoError(t, a.AssembleFile("test.s", strings.NewReader(src)))
	assert.True(t, a.Context().Diag.HadErrors())
}

func TestWriteObjectProducesNonEmptyBytes(t *testing.T) {
	a := New(demo.New(), Options{})
	require.NoError(t, a.AssembleFile("test.s", strings.NewReader("\tnop\n\thalt\n")))
	obj, err := a.Finish()
	require.NoError(t, err)

	out, err := WriteObject(obj, 0)
	require.NoError(t, err)
	assert.NotEmpty(t, out)
}
