package coff

import (
	"testing"

	"github.com/coffasm/coffasm/pkg/link/objfmt"
	"github.com/coffasm/coffasm/pkg/reloc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriterReaderRoundTripsSectionsAndSymbols(t *testing.T) {
	w := NewWriter([]string{".text", ".this_name_is_way_too_long_for_inline"},
		[]uint32{SCN_CNT_CODE | SCN_MEM_EXECUTE | SCN_MEM_READ, SCN_CNT_INITIALIZED_DATA | SCN_MEM_READ}, 0)

	require.NoError(t, w.WriteContents(1, []byte{0x00, 0x01, 0x02}))
	require.NoError(t, w.WriteRelocs(1, []reloc.Record{{Address: 1, SymIndex: 2, Kind: reloc.KindAbs32}}))
	require.NoError(t, w.WriteContents(2, []byte{0xAA, 0xBB}))
	require.NoError(t, w.WriteSymbols([]objfmt.Symbol{
		{Name: "local_label", Class: objfmt.SymSection, SectionIndex: 1, Value: 0},
		{Name: "an_extremely_long_external_symbol_name", Class: objfmt.SymUndefined, External: true, StorageClass: C_EXT},
	}))

	data, err := w.Finish()
	require.NoError(t, err)

	r, err := NewReader(data)
	require.NoError(t, err)

	sections, err := r.Sections()
	require.NoError(t, err)
	require.Len(t, sections, 2)
	assert.Equal(t, ".text", sections[0].Name)
	assert.Equal(t, []byte{0x00, 0x01, 0x02}, sections[0].Contents)
	assert.Equal(t, ".this_name_is_way_too_long_for_inline", sections[1].Name)
	assert.Equal(t, []byte{0xAA, 0xBB}, sections[1].Contents)
	require.Len(t, sections[0].Relocs, 1)
	assert.Equal(t, uint32(1), sections[0].Relocs[0].Address)
	assert.Equal(t, int32(2), sections[0].Relocs[0].SymIndex)
	assert.Equal(t, reloc.KindAbs32, sections[0].Relocs[0].Kind)

	symbols, err := r.ReadSymbols()
	require.NoError(t, err)
	require.Len(t, symbols, 2)
	assert.Equal(t, "local_label", symbols[0].Name)
	assert.Equal(t, objfmt.SymSection, symbols[0].Class)
	assert.Equal(t, 1, symbols[0].SectionIndex)
	assert.Equal(t, "an_extremely_long_external_symbol_name", symbols[1].Name)
	assert.True(t, symbols[1].External)
	assert.Equal(t, objfmt.SymUndefined, symbols[1].Class)
}

func TestWriterRealizesCommonSymbolAsUndefinedWithSize(t *testing.T) {
	w := NewWriter([]string{".text"}, []uint32{SCN_CNT_CODE}, 0)
	require.NoError(t, w.WriteContents(1, nil))
	require.NoError(t, w.WriteSymbols([]objfmt.Symbol{
		{Name: "shared_counter", Class: objfmt.SymUndefined, External: true, StorageClass: C_EXT, Value: 4},
	}))

	data, err := w.Finish()
	require.NoError(t, err)

	r, err := NewReader(data)
	require.NoError(t, err)
	symbols, err := r.ReadSymbols()
	require.NoError(t, err)
	require.Len(t, symbols, 1)
	assert.Equal(t, objfmt.SymUndefined, symbols[0].Class)
	assert.EqualValues(t, 4, symbols[0].Value)
	assert.True(t, symbols[0].External)
}
