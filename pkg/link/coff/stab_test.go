package coff

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildStabstr(strs ...string) []byte {
	var b []byte
	b = append(b, 0) // offset 0 reserved for the empty string
	offsets := map[string]uint32{}
	for _, s := range strs {
		if _, ok := offsets[s]; ok {
			continue
		}
		offsets[s] = uint32(len(b))
		b = append(b, s...)
		b = append(b, 0)
	}
	return b
}

func TestMergeStabsPreservesOrderAndDedupsStrings(t *testing.T) {
	stabstr := buildStabstr("foo.c", "bar")
	fooOff := uint32(1)
	barOff := uint32(1 + len("foo.c") + 1)

	stab := encodeStabs([]StabEntry{
		{Strx: fooOff, Type: 1, Value: 10},
		{Strx: barOff, Type: 2, Value: 20},
		{Strx: fooOff, Type: 1, Value: 30},
	})

	pool := NewStabStringPool()
	merged := MergeStabs(stab, stabstr, pool)
	entries := decodeStabs(merged)
	require.Len(t, entries, 3)

	assert.Equal(t, entries[0].Strx, entries[2].Strx, "both foo.c records should share one pooled offset")
	assert.NotEqual(t, entries[0].Strx, entries[1].Strx)
	assert.Equal(t, "foo.c", readCString(pool.Bytes(), entries[0].Strx))
	assert.Equal(t, "bar", readCString(pool.Bytes(), entries[1].Strx))
	assert.EqualValues(t, 10, entries[0].Value)
	assert.EqualValues(t, 20, entries[1].Value)
	assert.EqualValues(t, 30, entries[2].Value)
}
