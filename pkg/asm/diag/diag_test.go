package diag

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReportDefaultsToError(t *testing.T) {
	sink := NewSink()
	sink.Report(KindSyntaxError, Pos{File: "a.s", Line: 3}, "unexpected token %q", "@")

	require.True(t, sink.HadErrors())
	assert.False(t, sink.HadWarnings())
	require.Len(t, sink.Diagnostics(), 1)
	assert.Equal(t, `unexpected token "@"`, sink.Diagnostics()[0].Message)
}

func TestRangeErrorDowngradesWhenOverflowAllowed(t *testing.T) {
	sink := NewSink()
	sink.AllowSignedOverflow = true
	sink.Report(KindRangeError, Pos{}, "value out of range")

	assert.False(t, sink.HadErrors())
	assert.True(t, sink.HadWarnings())
}

func TestUndefinedSymbolHandlerCanDowngrade(t *testing.T) {
	sink := NewSink()
	sink.SetUndefinedSymbolHandler(func(name string, pos Pos) Severity {
		if name == "weak_ref" {
			return SeverityWarning
		}
		return SeverityError
	})

	sink.ReportUndefinedSymbol("weak_ref", Pos{})
	sink.ReportUndefinedSymbol("strong_ref", Pos{})

	require.Len(t, sink.Diagnostics(), 2)
	assert.Equal(t, SeverityWarning, sink.Diagnostics()[0].Severity)
	assert.Equal(t, SeverityError, sink.Diagnostics()[1].Severity)
	assert.True(t, sink.HadErrors())
	assert.True(t, sink.HadWarnings())
}

func TestUndefinedSymbolWithoutHandlerIsError(t *testing.T) {
	sink := NewSink()
	sink.ReportUndefinedSymbol("missing", Pos{File: "b.s", Line: 9})
	assert.True(t, sink.HadErrors())
}
