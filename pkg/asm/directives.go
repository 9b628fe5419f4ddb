package asm

import (
	"errors"
	"strings"

	"github.com/coffasm/coffasm/pkg/asm/diag"
	"github.com/coffasm/coffasm/pkg/asm/expr"
	"github.com/coffasm/coffasm/pkg/asm/fixup"
	"github.com/coffasm/coffasm/pkg/asm/ids"
	"github.com/coffasm/coffasm/pkg/asm/symtab"
	"github.com/coffasm/coffasm/pkg/link/coff"
	"github.com/coffasm/coffasm/pkg/reloc"
)

// directive dispatches one pseudo-op to its handler (spec §6.3's
// representative op list). Unknown mnemonics, and the macro/conditional/
// include family explicitly out of scope, are reported as syntax errors
// rather than silently ignored.
func (a *Assembler) directive(name, operands string, pos expr.Pos) {
	switch name {
	case ".text":
		a.selectSegment(expr.SegText, operands, pos)
	case ".data":
		a.selectSegment(expr.SegData, operands, pos)
	case ".bss":
		a.selectSegment(expr.SegBSS, operands, pos)
	case ".section":
		a.dotSection(operands, pos)

	case ".byte":
		a.emitInts(operands, 1, pos)
	case ".word", ".short":
		a.emitInts(operands, 2, pos)
	case ".long", ".int":
		a.emitInts(operands, 4, pos)
	case ".quad":
		a.emitInts(operands, 8, pos)
	case ".octa":
		a.emitInts(operands, 16, pos)

	case ".ascii":
		a.emitString(operands, false, pos)
	case ".asciz", ".string":
		a.emitString(operands, true, pos)

	case ".align", ".p2align", ".p2alignw", ".p2alignl":
		a.dotAlign(operands, pos, true)
	case ".balign":
		a.dotAlign(operands, pos, false)

	case ".org":
		a.dotOrg(operands, pos)
	case ".space", ".skip":
		a.dotSpace(operands, pos, true)
	case ".zero":
		a.dotSpace(operands, pos, false)
	case ".fill":
		a.dotFill(operands, pos)

	case ".comm":
		a.dotComm(operands, pos)
	case ".lcomm":
		a.dotLcomm(operands, pos)

	case ".globl", ".global":
		a.dotGlobl(operands, pos, symtab.FlagExternal)
	case ".weak":
		a.dotGlobl(operands, pos, symtab.FlagExternal|symtab.FlagWeak)
	case ".extern":
		// Accepted for source compatibility and otherwise ignored: every
		// name mentioned here was already going to be an undefined,
		// implicitly-external reference the first time it's used.

	case ".set", ".equ":
		a.dotSet(operands, pos)

	case ".stabs":
		a.dotStabs(operands, pos)
	case ".stabn":
		a.dotStabn(operands, pos)
	case ".stabd":
		a.dotStabd(operands, pos)

	case ".linkonce":
		a.dotLinkonce(operands, pos)

	case ".print":
		// No listing/output channel to print to; accepted as a no-op.
	case ".err":
		a.ctx.Diag.Report(diag.KindSyntaxError, pos, ".err: %s", strings.TrimSpace(operands))
	case ".fail":
		a.ctx.Diag.Report(diag.KindSyntaxError, pos, ".fail: %s", strings.TrimSpace(operands))
	case ".abort":
		a.ctx.Diag.Report(diag.KindSyntaxError, pos, "assembly aborted by .abort")

	case ".include", ".macro", ".endm", ".purgem", ".mexit",
		".rept", ".endr", ".irp", ".irpc",
		".if", ".ifdef", ".ifeq", ".else", ".endif":
		a.ctx.Diag.Report(diag.KindSyntaxError, pos, "%s: not supported", name)

	default:
		a.ctx.Diag.Report(diag.KindSyntaxError, pos, "unknown directive %q", name)
	}
}

func (a *Assembler) selectSegment(seg expr.Segment, operands string, pos expr.Pos) {
	subseg := 0
	if s := strings.TrimSpace(operands); s != "" {
		v, sym, isConst, _ := a.evalConstOrSymbol(s, pos)
		if !isConst || sym != ids.NoSymbol {
			a.ctx.Diag.Report(diag.KindSyntaxError, pos, "subsection number must be a constant")
		} else {
			subseg = int(v)
		}
	}
	a.ctx.segment = seg
	a.ctx.subseg = subseg
	a.ctx.Chain.Select(seg, subseg)
}

// dotSection maps the handful of section names this backend's three-
// segment model can represent onto their owning segment; ".rodata"/
// ".rdata" fold into the data segment since there is no separate read-only
// output section in this layout.
func (a *Assembler) dotSection(operands string, pos expr.Pos) {
	parts := splitTopLevelCommas(operands)
	name := ""
	if len(parts) > 0 {
		name = strings.TrimSpace(parts[0])
	}
	switch name {
	case ".text":
		a.selectSegment(expr.SegText, "", pos)
	case ".data":
		a.selectSegment(expr.SegData, "", pos)
	case ".bss":
		a.selectSegment(expr.SegBSS, "", pos)
	case ".rodata", ".rdata":
		a.selectSegment(expr.SegData, "", pos)
	default:
		a.ctx.Diag.Report(diag.KindSyntaxError, pos, "unsupported section %q", name)
	}
}

// evalConstOrSymbol evaluates text and reports whether it folded to a bare
// absolute constant or a plain (possibly still-unresolved) symbol
// reference with no additive offset; anything more exotic is reported and
// replaced by the constant 0, matching spec §7's recoverable-error policy
// for expressions outside the directive operand grammar this driver
// supports.
func (a *Assembler) evalConstOrSymbol(text string, pos expr.Pos) (value int64, sym ids.SymbolID, isConst bool, err error) {
	seg, v, evalErr := expr.Eval(text, a.ctx.Symbols, a.ctx.Dialect, pos)
	if evalErr != nil {
		a.ctx.Diag.Report(diag.KindSyntaxError, pos, "%s", evalErr)
		return 0, ids.NoSymbol, true, evalErr
	}
	if v.IsConstant() && seg == expr.SegAbsolute {
		return v.AddNumber, ids.NoSymbol, true, nil
	}
	if v.Op == expr.OpSymbol && v.AddNumber == 0 {
		return 0, v.AddSymbol, false, nil
	}
	a.ctx.Diag.Report(diag.KindUnresolvedExpression, pos, "expression %q does not resolve to a constant or a plain symbol", text)
	return 0, ids.NoSymbol, true, nil
}

// absSymbol wraps a known constant in a fresh absolute symbol, the shape
// FragOrg requires even when the org target is already a literal number.
func (a *Assembler) absSymbol(v int64, pos expr.Pos) ids.SymbolID {
	return a.ctx.Symbols.Equate("", expr.SegAbsolute, expr.Constant(v), pos).ID
}

// emitInts handles .byte/.word/.long/.quad/.octa: each comma-separated
// operand is folded immediately if it's a constant, otherwise turned into
// a fixup when the field width has a matching absolute relocation kind
// (16/32-bit); narrower or wider non-constant operands are reported and
// zero-filled, since this backend's relocation set only covers Abs16/Abs32
// (spec §6.1's reloc kind table has no 8- or 64-bit absolute entry).
func (a *Assembler) emitInts(operands string, size int, pos expr.Pos) {
	for _, opText := range splitTopLevelCommas(operands) {
		opText = strings.TrimSpace(opText)
		if opText == "" {
			continue
		}
		seg, v, err := expr.Eval(opText, a.ctx.Symbols, a.ctx.Dialect, pos)
		if err != nil {
			a.ctx.Diag.Report(diag.KindSyntaxError, pos, "%s", err)
			a.ctx.Chain.FragMore(make([]byte, size))
			continue
		}
		if v.IsConstant() && seg == expr.SegAbsolute {
			a.ctx.Chain.FragMore(encodeInt(v.AddNumber, size, a.ctx.Opts.BigEndian))
			continue
		}

		kind, ok := absRelocKind(size)
		if !ok {
			a.ctx.Diag.Report(diag.KindUnresolvedExpression, pos, "%d-byte field can't hold a non-constant expression here", size)
			a.ctx.Chain.FragMore(make([]byte, size))
			continue
		}
		fragID, offset := a.ctx.Chain.FragMore(make([]byte, size))
		fx := fixup.NewFromExpr(fragID, offset, size, v, a.ctx.Symbols, false, kind, pos)
		a.ctx.Fixups = append(a.ctx.Fixups, fx)
	}
}

func (a *Assembler) emitString(operands string, nulTerminate bool, pos expr.Pos) {
	for _, opText := range splitTopLevelCommas(operands) {
		opText = strings.TrimSpace(opText)
		if opText == "" {
			continue
		}
		s, err := parseQuotedString(opText)
		if err != nil {
			a.ctx.Diag.Report(diag.KindSyntaxError, pos, "%s", err)
			continue
		}
		data := []byte(s)
		if nulTerminate {
			data = append(data, 0)
		}
		a.ctx.Chain.FragMore(data)
	}
}

// dotAlign handles .align/.p2align[wl]/.balign: alignExponent selects
// whether the first operand is a power-of-two exponent (true) or a direct
// byte count (false, .balign), followed by an optional fill byte and an
// optional maximum bytes to skip.
func (a *Assembler) dotAlign(operands string, pos expr.Pos, alignExponent bool) {
	parts := splitTopLevelCommas(operands)
	if len(parts) == 0 {
		a.ctx.Diag.Report(diag.KindSyntaxError, pos, "alignment directive requires an argument")
		return
	}
	raw, _, isConst, _ := a.evalConstOrSymbol(strings.TrimSpace(parts[0]), pos)
	if !isConst {
		a.ctx.Diag.Report(diag.KindSyntaxError, pos, "alignment must be a constant")
		return
	}
	bits := int(raw)
	if !alignExponent {
		bits = log2Ceil(raw)
	}

	var pattern []byte
	if len(parts) > 1 && strings.TrimSpace(parts[1]) != "" {
		fill, _, ok, _ := a.evalConstOrSymbol(strings.TrimSpace(parts[1]), pos)
		if ok {
			pattern = []byte{byte(fill)}
		}
	}
	var maxSkip int64
	if len(parts) > 2 && strings.TrimSpace(parts[2]) != "" {
		skip, _, ok, _ := a.evalConstOrSymbol(strings.TrimSpace(parts[2]), pos)
		if ok {
			maxSkip = skip
		}
	}

	a.ctx.Chain.FragAlign(bits, pattern, maxSkip, a.ctx.segment == expr.SegText)
}

// log2Ceil returns the smallest n such that 1<<n >= v, for .balign's direct
// byte-count form.
func log2Ceil(v int64) int {
	n := 0
	for (int64(1) << uint(n)) < v {
		n++
	}
	return n
}

func (a *Assembler) dotOrg(operands string, pos expr.Pos) {
	parts := splitTopLevelCommas(operands)
	if len(parts) == 0 {
		a.ctx.Diag.Report(diag.KindSyntaxError, pos, ".org requires a target expression")
		return
	}
	val, sym, isConst, _ := a.evalConstOrSymbol(strings.TrimSpace(parts[0]), pos)

	var fill byte
	if len(parts) > 1 && strings.TrimSpace(parts[1]) != "" {
		f, _, ok, _ := a.evalConstOrSymbol(strings.TrimSpace(parts[1]), pos)
		if ok {
			fill = byte(f)
		}
	}

	target := sym
	if isConst {
		target = a.absSymbol(val, pos)
	}
	a.ctx.Chain.FragOrg(target, fill)
}

func (a *Assembler) dotSpace(operands string, pos expr.Pos, allowFill bool) {
	parts := splitTopLevelCommas(operands)
	if len(parts) == 0 {
		a.ctx.Diag.Report(diag.KindSyntaxError, pos, "directive requires a size expression")
		return
	}
	val, sym, isConst, _ := a.evalConstOrSymbol(strings.TrimSpace(parts[0]), pos)

	var fill byte
	if allowFill && len(parts) > 1 && strings.TrimSpace(parts[1]) != "" {
		f, _, ok, _ := a.evalConstOrSymbol(strings.TrimSpace(parts[1]), pos)
		if ok {
			fill = byte(f)
		}
	}

	if isConst {
		a.ctx.Chain.FragSpace(val, ids.NoSymbol, fill)
		return
	}
	a.ctx.Chain.FragSpace(0, sym, fill)
}

// dotFill handles .fill repeat[, size[, value]]: all three operands must be
// constant in this implementation (a repeat/size driven by a forward
// symbol reference is not supported), matching the recoverable-error
// policy for anything beyond that.
func (a *Assembler) dotFill(operands string, pos expr.Pos) {
	parts := splitTopLevelCommas(operands)
	if len(parts) == 0 {
		a.ctx.Diag.Report(diag.KindSyntaxError, pos, ".fill requires a repeat count")
		return
	}
	repeat, _, ok, _ := a.evalConstOrSymbol(strings.TrimSpace(parts[0]), pos)
	if !ok || repeat < 0 {
		return
	}
	size := int64(1)
	if len(parts) > 1 && strings.TrimSpace(parts[1]) != "" {
		s, _, ok, _ := a.evalConstOrSymbol(strings.TrimSpace(parts[1]), pos)
		if ok {
			size = s
		}
	}
	var value int64
	if len(parts) > 2 && strings.TrimSpace(parts[2]) != "" {
		v, _, ok, _ := a.evalConstOrSymbol(strings.TrimSpace(parts[2]), pos)
		if ok {
			value = v
		}
	}

	unit := encodeInt(value, int(size), a.ctx.Opts.BigEndian)
	out := make([]byte, 0, int64(len(unit))*repeat)
	for i := int64(0); i < repeat; i++ {
		out = append(out, unit...)
	}
	a.ctx.Chain.FragMore(out)
}

// defaultCommonAlign implements the default alignment rule for .comm/.lcomm
// when no explicit alignment operand is given: a common symbol of at least
// 4 bytes aligns to a 4-byte boundary, otherwise no alignment is requested.
// CommonAlign always holds a literal byte count (matching the explicit form
// ".comm c1, 16, 4"), never a power-of-two exponent, so this and the
// explicit path store directly comparable values and both convert the same
// way through log2Ceil wherever frag-level alignment is needed.
func defaultCommonAlign(size int64) int {
	if size >= 4 {
		return 4
	}
	return 0
}

func (a *Assembler) dotComm(operands string, pos expr.Pos) {
	parts := splitTopLevelCommas(operands)
	if len(parts) < 2 {
		a.ctx.Diag.Report(diag.KindSyntaxError, pos, ".comm requires a name and a size")
		return
	}
	name := strings.TrimSpace(parts[0])
	size, _, ok, _ := a.evalConstOrSymbol(strings.TrimSpace(parts[1]), pos)
	if !ok {
		return
	}
	align := defaultCommonAlign(size)
	if len(parts) > 2 && strings.TrimSpace(parts[2]) != "" {
		v, _, ok, _ := a.evalConstOrSymbol(strings.TrimSpace(parts[2]), pos)
		if ok {
			align = int(v)
		}
	}
	a.ctx.Symbols.DeclareCommon(name, size, align, pos)
}

// dotLcomm implements .lcomm: unlike .comm's tentative, externally
// mergeable definition, .lcomm allocates a concrete local symbol directly
// in the bss segment (spec §8 S6).
func (a *Assembler) dotLcomm(operands string, pos expr.Pos) {
	parts := splitTopLevelCommas(operands)
	if len(parts) < 2 {
		a.ctx.Diag.Report(diag.KindSyntaxError, pos, ".lcomm requires a name and a size")
		return
	}
	name := strings.TrimSpace(parts[0])
	size, _, ok, _ := a.evalConstOrSymbol(strings.TrimSpace(parts[1]), pos)
	if !ok {
		return
	}
	align := defaultCommonAlign(size)
	if len(parts) > 2 && strings.TrimSpace(parts[2]) != "" {
		v, _, ok, _ := a.evalConstOrSymbol(strings.TrimSpace(parts[2]), pos)
		if ok {
			align = int(v)
		}
	}

	prevSeg, prevSubseg := a.ctx.segment, a.ctx.subseg
	a.ctx.Chain.Select(expr.SegBSS, 0)
	// align here is a byte count (spec's .comm/.lcomm convention), but
	// FragAlign wants a power-of-two exponent.
	if align > 0 {
		a.ctx.Chain.FragAlign(log2Ceil(int64(align)), nil, 0, false)
	}

	sym, err := a.ctx.Symbols.Colon(name, pos)
	if err != nil {
		a.ctx.Diag.Report(diag.KindRedefinedSymbol, pos, "%s", err)
	} else {
		sym.Flags |= symtab.FlagLocal
		sym.CommonSize = size
		sym.CommonAlign = align
	}
	a.ctx.Chain.FragSpace(size, ids.NoSymbol, 0)

	a.ctx.Chain.Select(prevSeg, prevSubseg)
	a.ctx.segment, a.ctx.subseg = prevSeg, prevSubseg
}

func (a *Assembler) dotGlobl(operands string, pos expr.Pos, flags symtab.Flags) {
	for _, name := range splitTopLevelCommas(operands) {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		id := a.ctx.Symbols.FindOrMake(name)
		a.ctx.Symbols.Get(id).Flags |= flags
	}
}

func (a *Assembler) dotSet(operands string, pos expr.Pos) {
	parts := splitTopLevelCommas(operands)
	if len(parts) != 2 {
		a.ctx.Diag.Report(diag.KindSyntaxError, pos, "%s requires 'name, expr'", "")
		return
	}
	name := strings.TrimSpace(parts[0])
	seg, v, err := expr.Eval(strings.TrimSpace(parts[1]), a.ctx.Symbols, a.ctx.Dialect, pos)
	if err != nil {
		a.ctx.Diag.Report(diag.KindSyntaxError, pos, "%s", err)
		return
	}
	a.ctx.Symbols.Equate(name, seg, v, pos)
}

func (a *Assembler) dotLinkonce(operands string, pos expr.Pos) {
	kind := strings.TrimSpace(operands)
	switch kind {
	case "discard", "one_only", "same_size", "same_contents", "":
		// This backend's per-segment-only section model can't fold
		// multiple same-named sections at link time the way a real
		// comdat group does; accepted and otherwise ignored.
	default:
		a.ctx.Diag.Report(diag.KindSyntaxError, pos, "unknown .linkonce type %q", kind)
	}
}

// dotStabs/.stabn/.stabd accumulate records for the trailing .stab/.stabstr
// section pair Finish appends. The n_value field of a real assembler is
// frequently a relocatable address; this driver only supports a constant
// value expression, which covers the common debug-line/constant-value use
// and keeps stab handling from pulling fixup resolution into Assemble time.
func (a *Assembler) dotStabs(operands string, pos expr.Pos) {
	parts := splitTopLevelCommas(operands)
	if len(parts) != 5 {
		a.ctx.Diag.Report(diag.KindSyntaxError, pos, ".stabs requires 'string, type, other, desc, value'")
		return
	}
	str, err := parseQuotedString(strings.TrimSpace(parts[0]))
	if err != nil {
		a.ctx.Diag.Report(diag.KindSyntaxError, pos, "%s", err)
		return
	}
	typ, other, desc, value, ok := a.evalStabFields(parts[1:], pos)
	if !ok {
		return
	}
	a.ctx.stabs = append(a.ctx.stabs, coff.StabEntry{
		Strx: a.internStabString(str), Type: typ, Other: other, Desc: desc, Value: value,
	})
}

func (a *Assembler) dotStabn(operands string, pos expr.Pos) {
	parts := splitTopLevelCommas(operands)
	if len(parts) != 4 {
		a.ctx.Diag.Report(diag.KindSyntaxError, pos, ".stabn requires 'type, other, desc, value'")
		return
	}
	typ, other, desc, value, ok := a.evalStabFields(parts, pos)
	if !ok {
		return
	}
	a.ctx.stabs = append(a.ctx.stabs, coff.StabEntry{Type: typ, Other: other, Desc: desc, Value: value})
}

func (a *Assembler) dotStabd(operands string, pos expr.Pos) {
	parts := splitTopLevelCommas(operands)
	if len(parts) != 3 {
		a.ctx.Diag.Report(diag.KindSyntaxError, pos, ".stabd requires 'type, other, desc'")
		return
	}
	typ, other, desc, _, ok := a.evalStabFields(append(append([]string{}, parts...), "0"), pos)
	if !ok {
		return
	}
	a.ctx.stabs = append(a.ctx.stabs, coff.StabEntry{Type: typ, Other: other, Desc: desc})
}

func (a *Assembler) evalStabFields(parts []string, pos expr.Pos) (typ, other uint8, desc uint16, value uint32, ok bool) {
	vals := make([]int64, len(parts))
	for i, p := range parts {
		v, _, isConst, _ := a.evalConstOrSymbol(strings.TrimSpace(p), pos)
		if !isConst {
			return 0, 0, 0, 0, false
		}
		vals[i] = v
	}
	return uint8(vals[0]), uint8(vals[1]), uint16(vals[2]), uint32(vals[3]), true
}

func (a *Assembler) internStabString(s string) uint32 {
	if s == "" {
		return 0
	}
	if len(a.ctx.stabstr) == 0 {
		a.ctx.stabstr = []byte{0}
	}
	off := uint32(len(a.ctx.stabstr))
	a.ctx.stabstr = append(a.ctx.stabstr, s...)
	a.ctx.stabstr = append(a.ctx.stabstr, 0)
	return off
}

// absRelocKind returns the relocation kind for a non-constant field of the
// given byte width; only 16- and 32-bit absolute fields are represented in
// the shared reloc.Kind set (reloc package, §6.1) — there is no 8- or
// 64-bit absolute kind, so .byte/.quad/.octa fall back to a diagnostic plus
// zero fill for anything that isn't already a constant.
func absRelocKind(size int) (kind reloc.Kind, ok bool) {
	switch size {
	case 2:
		return reloc.KindAbs16, true
	case 4:
		return reloc.KindAbs32, true
	default:
		return reloc.KindNone, false
	}
}

// splitTopLevelCommas splits s on commas that are not nested inside
// parentheses or a quoted string, so a .stabs string operand or a
// parenthesized sub-expression survives intact.
func splitTopLevelCommas(s string) []string {
	var out []string
	depth := 0
	inString := false
	start := 0
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '"':
			inString = !inString
		case '(':
			if !inString {
				depth++
			}
		case ')':
			if !inString && depth > 0 {
				depth--
			}
		case ',':
			if !inString && depth == 0 {
				out = append(out, s[start:i])
				start = i + 1
			}
		}
	}
	out = append(out, s[start:])
	return out
}

// parseQuotedString decodes a double-quoted string literal with the
// handful of C-style escapes gas supports (\n \t \r \\ \" \0).
func parseQuotedString(s string) (string, error) {
	s = strings.TrimSpace(s)
	if len(s) < 2 || s[0] != '"' || s[len(s)-1] != '"' {
		return "", errors.New("malformed string literal: " + s)
	}
	body := s[1 : len(s)-1]
	var out strings.Builder
	for i := 0; i < len(body); i++ {
		if body[i] != '\\' || i+1 >= len(body) {
			out.WriteByte(body[i])
			continue
		}
		i++
		switch body[i] {
		case 'n':
			out.WriteByte('\n')
		case 't':
			out.WriteByte('\t')
		case 'r':
			out.WriteByte('\r')
		case '0':
			out.WriteByte(0)
		case '\\':
			out.WriteByte('\\')
		case '"':
			out.WriteByte('"')
		default:
			out.WriteByte(body[i])
		}
	}
	return out.String(), nil
}

// encodeInt renders v into size bytes in the requested byte order. size
// may exceed 8 (e.g. .octa's 16 bytes); the high bytes beyond the int64's
// natural width are zero (or sign-extension is not attempted here, matching
// spec §6.3's "large width directives emit a possibly-truncated low part"
// simplification for widths this core doesn't otherwise need).
func encodeInt(v int64, size int, big bool) []byte {
	out := make([]byte, size)
	uv := uint64(v)
	n := size
	if n > 8 {
		n = 8
	}
	for i := 0; i < n; i++ {
		b := byte(uv >> (8 * uint(i)))
		if big {
			out[size-1-i] = b
		} else {
			out[i] = b
		}
	}
	return out
}
