// Package clilog wires coffasm's command-line logger: a human-readable
// handler always writes to stderr, and a second JSON handler is fanned in
// under -v/--verbose for golden-file-diffable diagnostics. Grounded on the
// teacher's go.mod carrying samber/slog-multi without ever using it
// (spec §0's ambient stack note); this is where it actually gets wired in.
package clilog

import (
	"io"
	"log/slog"
	"os"

	slogmulti "github.com/samber/slog-multi"
)

// New returns a *slog.Logger writing human-readable records to stderr,
// additionally fanning out machine-readable JSON records to w when
// verbose is set (the coffasm/cmd `-v`/`--verbose` flag).
func New(verbose bool, w io.Writer) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}

	handlers := []slog.Handler{
		slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}),
	}
	if verbose {
		handlers = append(handlers, slog.NewJSONHandler(w, &slog.HandlerOptions{Level: slog.LevelDebug}))
	}

	return slog.New(slogmulti.Fanout(handlers...))
}
