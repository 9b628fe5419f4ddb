// Package asm is the top-level assembler driver (spec §4.8's assemble()
// loop): it owns one AssemblerContext per run, reads source lines from a
// source.Stack, splits each into a label/mnemonic/operands, and dispatches
// to either a pseudo-op handler (directives.go) or the active target.Ops's
// Assemble. Gathering the driver's state into one struct rather than a
// scatter of package-level globals is spec §9's "global mutable state"
// redesign note, grounded on gas's as.c/read.c main loop (kept in
// original_source/).
package asm

import (
	"fmt"
	"io"
	"strings"

	"github.com/coffasm/coffasm/pkg/asm/diag"
	"github.com/coffasm/coffasm/pkg/asm/expr"
	"github.com/coffasm/coffasm/pkg/asm/fixup"
	"github.com/coffasm/coffasm/pkg/asm/frag"
	"github.com/coffasm/coffasm/pkg/asm/ids"
	"github.com/coffasm/coffasm/pkg/asm/objwriter"
	"github.com/coffasm/coffasm/pkg/asm/source"
	"github.com/coffasm/coffasm/pkg/asm/symtab"
	"github.com/coffasm/coffasm/pkg/asm/target"
	"github.com/coffasm/coffasm/pkg/link/coff"
	"github.com/coffasm/coffasm/pkg/link/objfmt"
	"github.com/coffasm/coffasm/pkg/reloc"
)

// Options carries the CLI-flag-derived toggles SPEC_FULL.md's `coffasm asm`
// surface names: which CPU target to assemble for, byte order, and the
// handful of gas-compatible behavior switches.
type Options struct {
	// CPU records the name of the registered target.Ops in use. Unused by
	// New, which takes the target directly; cmd/asm does its registry
	// lookup from its own flag value and copies that value here.
	CPU string

	BigEndian             bool
	Relocatable           bool // set by cmd/asm from -mrelocatable/-mrelocatable-lib; not read by this package
	AllowSignedOverflow   bool // relaxes KindRangeError to a warning
	UndefinedDifferenceOK bool
	AlwaysGenerateOutput  bool // emit an object even after errors, for tooling that wants partial output
}

// AssemblerContext gathers everything spec §9 calls "global mutable state"
// in the original: the active target, symbol table, frag chain, fixup
// list, diagnostics sink and current segment selection, threaded through
// Assembler's methods instead of package-level variables.
type AssemblerContext struct {
	Opts     Options
	Target   target.Ops
	Registry *reloc.Registry
	Diag     *diag.Sink
	Chain    *frag.Chain
	Symbols  *symtab.Table
	Source   *source.Stack
	Dialect  expr.Dialect

	Fixups []*fixup.Fixup

	segment expr.Segment
	subseg  int

	stabs   []coff.StabEntry
	stabstr []byte
}

// Assembler drives one assembly run to completion: AssembleFile for each
// input, then Finish to resolve fixups and produce the object.
type Assembler struct {
	ctx *AssemblerContext
}

// New creates an Assembler for target t. The active segment starts as
// .text/subseg 0, matching gas's default (spec §3.4).
func New(t target.Ops, opts Options) *Assembler {
	chain := frag.NewChain()
	dotChar := byte('.')
	dialect := expr.DefaultDialect()
	dialect.LocationChar = dotChar

	symbols := symtab.NewTable(chain, dotChar)
	sink := diag.NewSink()
	sink.AllowSignedOverflow = opts.AllowSignedOverflow

	ctx := &AssemblerContext{
		Opts:     opts,
		Target:   t,
		Registry: reloc.NewRegistry(t.Relocs()),
		Diag:     sink,
		Chain:    chain,
		Symbols:  symbols,
		Source:   source.NewStack(),
		Dialect:  dialect,
		segment:  expr.SegText,
		subseg:   0,
	}
	chain.Select(expr.SegText, 0)
	return &Assembler{ctx: ctx}
}

// Context exposes the driver's state, for cmd/asm to read the diagnostics
// sink or wire a custom UndefinedSymbolHandler before assembling.
func (a *Assembler) Context() *AssemblerContext { return a.ctx }

func toExprPos(p source.Pos) expr.Pos { return expr.Pos{File: p.File, Line: p.Line} }

// AssembleFile pushes r onto the source stack under name and assembles
// every line it yields, stopping early only on an I/O-shaped condition;
// recoverable per-line errors are reported to the diagnostics sink and
// assembly continues with the next line, matching spec §7's "errors are
// recoverable" policy.
func (a *Assembler) AssembleFile(name string, r io.Reader) error {
	a.ctx.Source.Push(name, r)
	for {
		line, pos, ok := a.ctx.Source.NextLine()
		if !ok {
			break
		}
		a.assembleLine(line, toExprPos(pos))
	}
	return nil
}

// assembleLine implements spec §4.8's per-line dispatch: strip comments,
// peel off any number of leading "label:" tokens, then hand the remainder
// to either the directive table or the active target.
func (a *Assembler) assembleLine(line string, pos expr.Pos) {
	line = stripComment(line)
	line = strings.TrimSpace(line)
	if line == "" {
		return
	}

	for {
		label, rest, ok := splitLabel(line)
		if !ok {
			break
		}
		if _, err := a.ctx.Symbols.Colon(label, pos); err != nil {
			a.ctx.Diag.Report(diag.KindRedefinedSymbol, pos, "%s", err)
		}
		line = strings.TrimSpace(rest)
		if line == "" {
			return
		}
	}

	mnemonic, operands := splitMnemonic(line)
	if mnemonic == "" {
		return
	}

	if strings.HasPrefix(mnemonic, ".") {
		a.directive(strings.ToLower(mnemonic), operands, pos)
		return
	}

	facade := &target.SymbolFacade{
		FindOrMake: a.ctx.Symbols.FindOrMake,
		Colon: func(name string) (ids.SymbolID, error) {
			sym, err := a.ctx.Symbols.Colon(name, pos)
			if err != nil {
				return ids.NoSymbol, err
			}
			return sym.ID, nil
		},
	}

	res, err := a.ctx.Target.Assemble(a.ctx.Chain, facade, mnemonic, operands, pos)
	if err != nil {
		a.ctx.Diag.Report(diag.KindSyntaxError, pos, "%s", err)
		return
	}
	a.ctx.Fixups = append(a.ctx.Fixups, res.Fixups...)
}

// stripComment trims a "#"- or ";"-introduced end-of-line comment,
// respecting quoted strings so a '#'/';' inside a .ascii literal survives.
func stripComment(line string) string {
	inString := false
	for i := 0; i < len(line); i++ {
		switch line[i] {
		case '"':
			inString = !inString
		case '#', ';':
			if !inString {
				return line[:i]
			}
		}
	}
	return line
}

// splitLabel recognizes one leading "name:" token. A purely numeric label
// ("1:", "2:") is returned like any other name, and the caller binds it
// with Symbols.Colon as an ordinary symbol; it is not passed to
// Symbols.ColonLocal, so an "Nf"/"Nb" operand does not refer to it.
func splitLabel(line string) (name, rest string, ok bool) {
	i := 0
	for i < len(line) && isLabelByte(line[i]) {
		i++
	}
	if i == 0 || i >= len(line) || line[i] != ':' {
		return "", "", false
	}
	return line[:i], line[i+1:], true
}

func isLabelByte(c byte) bool {
	return c == '_' || c == '.' || c == '$' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}

// splitMnemonic separates the leading whitespace-delimited mnemonic token
// from the remaining operand text.
func splitMnemonic(line string) (mnemonic, operands string) {
	line = strings.TrimSpace(line)
	i := 0
	for i < len(line) && line[i] != ' ' && line[i] != '\t' {
		i++
	}
	return line[:i], strings.TrimSpace(line[i:])
}

// defaultSections is the fixed .text/.data/.bss section layout every
// coffasm-assembled object uses: spec's Non-goals exclude arbitrary
// ".section" naming/attribute control, so the three-segment model maps
// onto exactly these three COFF sections.
func defaultSections() []objwriter.SectionSpec {
	return []objwriter.SectionSpec{
		{Segment: expr.SegText, Name: ".text", Flags: objfmt.SectionAlloc | objfmt.SectionLoad | objfmt.SectionCode | objfmt.SectionHasContents},
		{Segment: expr.SegData, Name: ".data", Flags: objfmt.SectionAlloc | objfmt.SectionLoad | objfmt.SectionHasContents},
		{Segment: expr.SegBSS, Name: ".bss", Flags: objfmt.SectionAlloc},
	}
}

// Finish resolves every symbol, runs relaxation and fixup resolution, and
// returns the finished object ready for a Writer (spec §4.8's final
// write_object_file step). Accumulated .stabs/.stabn/.stabd records are
// appended as a trailing ".stab"/".stabstr" section pair.
func (a *Assembler) Finish() (objfmt.Object, error) {
	if err := a.ctx.Symbols.ResolveAll(); err != nil {
		return objfmt.Object{}, fmt.Errorf("asm: resolving symbols: %w", err)
	}

	policy := fixup.Policy{UndefinedDifferenceOK: a.ctx.Opts.UndefinedDifferenceOK}
	obj, err := objwriter.Build(a.ctx.Chain, a.ctx.Symbols, a.ctx.Fixups, a.ctx.Target, a.ctx.Registry, defaultSections(), policy)
	if err != nil {
		return objfmt.Object{}, err
	}

	if len(a.ctx.stabs) > 0 {
		obj.Sections = append(obj.Sections,
			objfmt.Section{Name: ".stab", Flags: objfmt.SectionHasContents, Contents: coff.EncodeStabs(a.ctx.stabs)},
			objfmt.Section{Name: ".stabstr", Flags: objfmt.SectionHasContents, Contents: a.ctx.stabstr},
		)
	}

	return obj, nil
}

// WriteObject serializes obj to COFF bytes, the concrete step cmd/asm
// takes after Finish (kept as a thin wrapper here so callers don't need to
// import pkg/link/coff themselves just to pick the machine word).
func WriteObject(obj objfmt.Object, machine uint16) ([]byte, error) {
	return coff.WriteObject(obj, machine)
}
