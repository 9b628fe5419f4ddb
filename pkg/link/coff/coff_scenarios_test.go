package coff

import (
	"testing"

	"github.com/coffasm/coffasm/pkg/link/diag"
	"github.com/coffasm/coffasm/pkg/link/objfmt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestScenarioS3ArchivePullsDefiningMember exercises S3: a member defining
// a currently-undefined external symbol is pulled in by the archive scan.
func TestScenarioS3ArchivePullsDefiningMember(t *testing.T) {
	sink := diag.NewSink()
	h := NewHash(sink)
	h.Declare("bar", StateUndefined, 0, "main.o") // main.o references bar

	member := buildInputObjectBytes(t, "m.o", []byte{0x01}, []objfmt.Symbol{
		{Name: "bar", Class: objfmt.SymSection, SectionIndex: 1, Value: 0, External: true, StorageClass: C_EXT},
	})
	arc := &Archive{Members: []Member{{Name: "m.o", Data: member}}}

	var added []Member
	pulled, err := ScanArchive(h, arc, func(m Member) error {
		added = append(added, m)
		return nil
	})
	require.NoError(t, err)
	require.False(t, sink.HadErrors(), "%v", sink.Diagnostics())
	assert.Equal(t, []string{"m.o"}, pulled)
	assert.Len(t, added, 1)

	e, ok := h.Peek("bar")
	require.True(t, ok)
	assert.Equal(t, StateDefined, e.State)
}

// TestScenarioS3ArchiveSkipsMemberWhenOnlyCommonIsNeeded exercises S3's
// second half: a symbol already known as common does not pull in an
// archive member that defines it.
func TestScenarioS3ArchiveSkipsMemberWhenOnlyCommonIsNeeded(t *testing.T) {
	sink := diag.NewSink()
	h := NewHash(sink)
	h.Declare("bar", StateCommon, 4, "main.o") // main.o has a tentative common definition

	member := buildInputObjectBytes(t, "m.o", []byte{0x01}, []objfmt.Symbol{
		{Name: "bar", Class: objfmt.SymSection, SectionIndex: 1, Value: 0, External: true, StorageClass: C_EXT},
	})
	arc := &Archive{Members: []Member{{Name: "m.o", Data: member}}}

	pulled, err := ScanArchive(h, arc, func(m Member) error {
		t.Fatalf("archive member %q should not have been pulled in", m.Name)
		return nil
	})
	require.NoError(t, err)
	assert.Empty(t, pulled)

	e, ok := h.Peek("bar")
	require.True(t, ok)
	assert.Equal(t, StateCommon, e.State)
}

// TestScenarioS8DebugMergeCorrectness exercises S8: two inputs each
// defining the same struct shape under the same tag name merge into a
// single entry, with the second lookup returning the first's index.
func TestScenarioS8DebugMergeCorrectness(t *testing.T) {
	h := NewDebugMergeHash()

	shape := DebugMergeType{
		Class: 2, // struct
		Elements: []DebugElement{
			{Name: "a", Type: 0x07}, // int
			{Name: "b", Type: 0x07},
		},
	}

	_, ok := h.Lookup("foo", shape)
	assert.False(t, ok, "first definition has nothing to merge against yet")

	first := shape
	first.MergedIndex = 12
	h.Insert("foo", first)

	idx, ok := h.Lookup("foo", shape)
	require.True(t, ok)
	assert.Equal(t, int32(12), idx)

	differently := shape
	differently.Elements = append(differently.Elements, DebugElement{Name: "c", Type: 0x07})
	_, ok = h.Lookup("foo", differently)
	assert.False(t, ok, "a distinct shape under the same tag name is not the same merge entry")
}

// buildInputObjectBytes writes a single-section object and returns its
// serialized bytes, the shape ScanArchive reads back via NewReader.
func buildInputObjectBytes(t *testing.T, name string, contents []byte, symbols []objfmt.Symbol) []byte {
	t.Helper()
	w := NewWriter([]string{".text"}, []uint32{SCN_CNT_CODE}, 0)
	require.NoError(t, w.WriteContents(1, contents))
	require.NoError(t, w.WriteSymbols(symbols))
	data, err := w.Finish()
	require.NoError(t, err)
	return data
}
