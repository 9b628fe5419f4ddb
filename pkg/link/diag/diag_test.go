package diag

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReportDefaultsToError(t *testing.T) {
	sink := NewSink()
	sink.Report(KindRedefinedSymbol, Pos{Object: "a.o", Symbol: "main"}, "already defined in %s", "b.o")

	require.True(t, sink.HadErrors())
	require.Len(t, sink.Diagnostics(), 1)
	assert.Equal(t, "already defined in b.o", sink.Diagnostics()[0].Message)
}

func TestPosStringFallsBackWhenEmpty(t *testing.T) {
	assert.Equal(t, "<unknown>", Pos{}.String())
	assert.Equal(t, "a.o", Pos{Object: "a.o"}.String())
	assert.Equal(t, "main", Pos{Symbol: "main"}.String())
	assert.Equal(t, "a.o: main", Pos{Object: "a.o", Symbol: "main"}.String())
}

func TestUndefinedSymbolHandlerCanDowngrade(t *testing.T) {
	sink := NewSink()
	sink.SetUndefinedSymbolHandler(func(name string, pos Pos) Severity {
		return SeverityWarning
	})
	sink.ReportUndefinedSymbol("extern_ref", Pos{Object: "a.o"})

	assert.False(t, sink.HadErrors())
	assert.True(t, sink.HadWarnings())
}
