package objwriter

import (
	"testing"

	"github.com/coffasm/coffasm/pkg/asm/expr"
	"github.com/coffasm/coffasm/pkg/asm/fixup"
	"github.com/coffasm/coffasm/pkg/asm/frag"
	"github.com/coffasm/coffasm/pkg/asm/ids"
	"github.com/coffasm/coffasm/pkg/asm/symtab"
	"github.com/coffasm/coffasm/pkg/asm/target"
	"github.com/coffasm/coffasm/pkg/asm/target/demo"
	"github.com/coffasm/coffasm/pkg/link/objfmt"
	"github.com/coffasm/coffasm/pkg/reloc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var textOnly = []SectionSpec{
	{Segment: expr.SegText, Name: ".text", Flags: objfmt.SectionAlloc | objfmt.SectionLoad | objfmt.SectionCode | objfmt.SectionHasContents},
}

func newFacade(symbols *symtab.Table) *target.SymbolFacade {
	return &target.SymbolFacade{
		FindOrMake: func(name string) ids.SymbolID { return symbols.FindOrMake(name) },
	}
}

func newRegistry(t *demo.Target) *reloc.Registry {
	return reloc.NewRegistry(t.Relocs())
}

func TestBuildResolvesLocalBranchWithoutReloc(t *testing.T) {
	chain := frag.NewChain()
	chain.Select(expr.SegText, 0)
	tgt := demo.New()
	symbols := symtab.NewTable(chain, '.')
	facade := newFacade(symbols)

	var fixups []*fixup.Fixup

	res, err := tgt.Assemble(chain, facade, "nop", "", expr.Pos{})
	require.NoError(t, err)
	fixups = append(fixups, res.Fixups...)

	if _, err := symbols.Colon("loop", expr.Pos{}); err != nil {
		require.NoError(t, err)
	}

	res, err = tgt.Assemble(chain, facade, "jmp", "loop", expr.Pos{})
	require.NoError(t, err)
	fixups = append(fixups, res.Fixups...)

	require.NoError(t, symbols.ResolveAll())

	obj, err := Build(chain, symbols, fixups, tgt, newRegistry(tgt), textOnly, fixup.Policy{})
	require.NoError(t, err)

	require.Len(t, obj.Sections, 1)
	text := obj.Sections[0]
	// nop (1 byte) + short backward jmp (opcode + 1-byte displacement of -2:
	// the branch's own encoding spans addresses 1-2, so pc-relative-from is
	// address 3, and the target "loop" sits at address 1).
	assert.Equal(t, []byte{0x00, 0x10, 0xfe}, text.Contents)
	assert.Empty(t, text.Relocs, "a backward branch within the same section folds to a constant, no reloc needed")

	var loopSym *objfmt.Symbol
	for i := range obj.Symbols {
		if obj.Symbols[i].Name == "loop" {
			loopSym = &obj.Symbols[i]
		}
	}
	require.NotNil(t, loopSym)
	assert.Equal(t, objfmt.SymSection, loopSym.Class)
	assert.Equal(t, int64(1), loopSym.Value)
	assert.Equal(t, 1, loopSym.SectionIndex)
}

func TestBuildEmitsRelocForUnresolvedExternalSymbol(t *testing.T) {
	chain := frag.NewChain()
	chain.Select(expr.SegText, 0)
	tgt := demo.New()
	symbols := symtab.NewTable(chain, '.')
	facade := newFacade(symbols)

	var fixups []*fixup.Fixup

	res, err := tgt.Assemble(chain, facade, "movi", "r1, external_value", expr.Pos{})
	require.NoError(t, err)
	require.Len(t, res.Fixups, 1)
	fixups = append(fixups, res.Fixups...)

	require.NoError(t, symbols.ResolveAll())

	obj, err := Build(chain, symbols, fixups, tgt, newRegistry(tgt), textOnly, fixup.Policy{})
	require.NoError(t, err)

	require.Len(t, obj.Sections, 1)
	require.Len(t, obj.Sections[0].Relocs, 1)
	assert.Equal(t, reloc.KindAbs32, obj.Sections[0].Relocs[0].Kind)

	var extSym *objfmt.Symbol
	for i := range obj.Symbols {
		if obj.Symbols[i].Name == "external_value" {
			extSym = &obj.Symbols[i]
		}
	}
	require.NotNil(t, extSym)
	assert.Equal(t, objfmt.SymUndefined, extSym.Class)
}

func TestBuildRemapsRelocSymIndexPastSkippedSyntheticSymbol(t *testing.T) {
	chain := frag.NewChain()
	chain.Select(expr.SegText, 0)
	tgt := demo.New()
	symbols := symtab.NewTable(chain, '.')
	facade := newFacade(symbols)

	// Mint an unnamed expression symbol first so it takes a lower SymbolID
	// than "external_value" below but never makes it into obj.Symbols — if
	// Build didn't remap SymIndex, the reloc would end up pointing at
	// whatever symbol happens to sit at external_value's raw SymbolID.
	symbols.MakeExprSymbol(expr.Constant(0), expr.Pos{})

	var fixups []*fixup.Fixup
	res, err := tgt.Assemble(chain, facade, "movi", "r1, external_value", expr.Pos{})
	require.NoError(t, err)
	require.Len(t, res.Fixups, 1)
	fixups = append(fixups, res.Fixups...)

	require.NoError(t, symbols.ResolveAll())

	obj, err := Build(chain, symbols, fixups, tgt, newRegistry(tgt), textOnly, fixup.Policy{})
	require.NoError(t, err)

	require.Len(t, obj.Sections[0].Relocs, 1)

	var wantIdx int32 = -1
	for i, sym := range obj.Symbols {
		if sym.Name == "external_value" {
			wantIdx = int32(i + 1)
		}
	}
	require.NotEqual(t, int32(-1), wantIdx, "external_value must appear in the output symbol table")
	assert.Equal(t, wantIdx, obj.Sections[0].Relocs[0].SymIndex, "reloc's SymIndex must match external_value's actual position, not its raw SymbolID")
}

func TestBuildRealizesCommonSymbolAsUndefinedWithSize(t *testing.T) {
	chain := frag.NewChain()
	chain.Select(expr.SegText, 0)
	symbols := symtab.NewTable(chain, '.')
	tgt := demo.New()

	symbols.DeclareCommon("shared_counter", 4, 4, expr.Pos{})
	require.NoError(t, symbols.ResolveAll())

	obj, err := Build(chain, symbols, nil, tgt, newRegistry(tgt), textOnly, fixup.Policy{})
	require.NoError(t, err)

	require.Len(t, obj.Symbols, 1)
	sym := obj.Symbols[0]
	assert.Equal(t, "shared_counter", sym.Name)
	assert.Equal(t, objfmt.SymUndefined, sym.Class)
	assert.Equal(t, int64(4), sym.Value)
	assert.True(t, sym.External)
}
