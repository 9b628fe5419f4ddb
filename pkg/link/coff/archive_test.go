package coff

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// buildArHeader formats one 60-byte ar(1) member header, left-justifying
// name/size the way ar itself does (ASCII fields padded with spaces).
func buildArHeader(name string, size int) string {
	h := fmt.Sprintf("%-16s%-12s%-6s%-6s%-8s%-10s", name, "0", "0", "0", "644", fmt.Sprint(size))
	h = h[:58] + "`\n"
	return h
}

func buildArchive(members map[string][]byte, order []string) []byte {
	var b strings.Builder
	b.WriteString(arMagic)
	for _, name := range order {
		data := members[name]
		b.WriteString(buildArHeader(name+"/", len(data)))
		b.Write(data)
		if len(data)%2 != 0 {
			b.WriteByte('\n')
		}
	}
	return []byte(b.String())
}

func TestParseArchiveExtractsShortNamedMembers(t *testing.T) {
	raw := buildArchive(map[string][]byte{
		"a.o": []byte("hello"),
		"b.o": []byte("world!"),
	}, []string{"a.o", "b.o"})

	arc, err := ParseArchive(raw)
	require.NoError(t, err)
	require.Len(t, arc.Members, 2)
	assert.Equal(t, "a.o", arc.Members[0].Name)
	assert.Equal(t, []byte("hello"), arc.Members[0].Data)
	assert.Equal(t, "b.o", arc.Members[1].Name)
	assert.Equal(t, []byte("world!"), arc.Members[1].Data)
}

func TestParseArchiveRejectsBadMagic(t *testing.T) {
	_, err := ParseArchive([]byte("not an archive"))
	assert.Error(t, err)
}
