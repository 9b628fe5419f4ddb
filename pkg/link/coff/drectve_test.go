package coff

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDrectveExtractsKnownDirectives(t *testing.T) {
	ds := ParseDrectve([]byte("-export:foo -attr:bar,NOOPT -heap:1000,2000 /stack:4096 -unknownflag:bar"))
	require.Len(t, ds, 4)
	assert.Equal(t, "foo", ds[0].Export)
	assert.Equal(t, "bar,NOOPT", ds[1].Attr)
	assert.Equal(t, "1000,2000", ds[2].Heap)
	assert.Equal(t, "4096", ds[3].Stack)
}
