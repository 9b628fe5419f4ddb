package link

import (
	"testing"

	"github.com/coffasm/coffasm/pkg/link/coff"
	"github.com/coffasm/coffasm/pkg/link/diag"
	"github.com/coffasm/coffasm/pkg/link/objfmt"
	"github.com/coffasm/coffasm/pkg/reloc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func demoRegistry() *reloc.Registry {
	return reloc.NewRegistry([]reloc.Howto{
		{Kind: reloc.KindAbs32, Name: "abs32", Bits: 32, Overflow: reloc.OverflowIgnore},
	})
}

// buildObjectBytes produces a one-section COFF object via coff.WriteObject,
// the same path cmd/asm's Finish step takes, so this test exercises
// AddObject/AddArchive against objects shaped exactly like real assembler
// output.
func buildObjectBytes(t *testing.T, sectionName string, contents []byte, relocs []reloc.Record, symbols []objfmt.Symbol) []byte {
	t.Helper()
	obj := objfmt.Object{
		Sections: []objfmt.Section{{Name: sectionName, Flags: objfmt.SectionAlloc | objfmt.SectionLoad | objfmt.SectionCode | objfmt.SectionHasContents, Contents: contents, Relocs: relocs}},
		Symbols:  symbols,
	}
	data, err := coff.WriteObject(obj, 0)
	require.NoError(t, err)
	return data
}

func TestLinkResolvesCrossObjectReloc(t *testing.T) {
	aBytes := buildObjectBytes(t, ".text", []byte{0xaa, 0xbb}, nil, []objfmt.Symbol{
		{Name: "entry", Class: objfmt.SymSection, SectionIndex: 1, Value: 1, External: true, StorageClass: coff.C_EXT},
	})
	bBytes := buildObjectBytes(t, ".text", []byte{0, 0, 0, 0},
		[]reloc.Record{{Address: 0, SymIndex: 1, Kind: reloc.KindAbs32}},
		[]objfmt.Symbol{
			{Name: "entry", Class: objfmt.SymUndefined, External: true, StorageClass: coff.C_EXT},
		})

	l := New(demoRegistry(), diag.NewSink(), Options{})
	require.NoError(t, l.AddObject("a.o", aBytes))
	require.NoError(t, l.AddObject("b.o", bBytes))

	obj, err := l.Link()
	require.NoError(t, err)
	require.False(t, l.Context().Sink.HadErrors())

	var text objfmt.Section
	for _, s := range obj.Sections {
		if s.Name == ".text" {
			text = s
		}
	}
	require.Len(t, text.Contents, 6)
	// a.o's 2 bytes land first (lexicographic "a.o" < "b.o"), b.o's 4-byte
	// reloc is patched to a.o's base VMA (0) + entry's value (1).
	assert.Equal(t, []byte{0xaa, 0xbb}, text.Contents[0:2])
	assert.Equal(t, byte(1), text.Contents[2])
	assert.Equal(t, byte(0), text.Contents[3])
}

func TestLinkReportsUndefinedSymbol(t *testing.T) {
	bBytes := buildObjectBytes(t, ".text", []byte{0, 0, 0, 0},
		[]reloc.Record{{Address: 0, SymIndex: 1, Kind: reloc.KindAbs32}},
		[]objfmt.Symbol{
			{Name: "missing", Class: objfmt.SymUndefined, External: true, StorageClass: coff.C_EXT},
		})

	sink := diag.NewSink()
	l := New(demoRegistry(), sink, Options{})
	require.NoError(t, l.AddObject("b.o", bBytes))

	_, err := l.Link()
	require.NoError(t, err)
	assert.True(t, sink.HadErrors())
}

func TestWriteObjectRoundTrips(t *testing.T) {
	aBytes := buildObjectBytes(t, ".text", []byte{0x90}, nil, nil)
	l := New(demoRegistry(), diag.NewSink(), Options{})
	require.NoError(t, l.AddObject("a.o", aBytes))

	obj, err := l.Link()
	require.NoError(t, err)

	out, err := WriteObject(obj, 0)
	require.NoError(t, err)
	assert.NotEmpty(t, out)
}
