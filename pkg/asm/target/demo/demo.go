// Package demo is a minimal reference target.Ops implementation: a small
// fixed-width instruction set with one relaxable branch, enough to exercise
// Assemble/relax/fixup/object-writing end to end without committing the
// core to any real CPU's instruction encoding. Grounded on the same
// short/long branch relaxation shape binutils gas uses for i386 jmp/jcc
// (read in _examples/original_source/gas), scaled down to a toy ISA.
package demo

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/coffasm/coffasm/pkg/asm/expr"
	"github.com/coffasm/coffasm/pkg/asm/fixup"
	"github.com/coffasm/coffasm/pkg/asm/frag"
	"github.com/coffasm/coffasm/pkg/asm/target"
	"github.com/coffasm/coffasm/pkg/reloc"
)

// Opcodes for the toy instruction set.
const (
	opNop    = 0x00
	opHalt   = 0x01
	opMovi   = 0x02 // movi rD, imm32
	opLd     = 0x03 // ld rD, rS
	opJmpS   = 0x10 // short jmp: opcode + rel8
	opJmpL   = 0x11 // long jmp: opcode + rel32
)

// subtypeJmp is the only relaxable frag subtype this target defines.
const subtypeJmp = 0

var registers = map[string]int{
	"r0": 0, "r1": 1, "r2": 2, "r3": 3,
	"r4": 4, "r5": 5, "r6": 6, "r7": 7,
}

var relocTable = []reloc.Howto{
	{Kind: reloc.KindAbs32, Name: "abs32", Bits: 32, Signed: false, Overflow: reloc.OverflowIgnore},
	{Kind: reloc.KindPC8, Name: "pc8", Bits: 8, Signed: true, PCRelative: true, Overflow: reloc.OverflowError},
	{Kind: reloc.KindPC32, Name: "pc32", Bits: 32, Signed: true, PCRelative: true, Overflow: reloc.OverflowIgnore},
}

var jmpTable = target.RelaxTable{
	// state 0: short jmp, opcode + 1-byte signed displacement.
	{Forward: 127, Backward: -128, Length: 2, NextUp: 1, NextDown: -1},
	// state 1: long jmp, opcode + 4-byte signed displacement. No further
	// state to escalate to; a demo program large enough to overflow a
	// signed 32-bit reach is out of scope.
	{Forward: 1<<31 - 1, Backward: -(1 << 31), Length: 5, NextUp: -1, NextDown: -1},
}

// Target is the demo target.Ops implementation.
type Target struct{}

// New returns the demo target.
func New() *Target { return &Target{} }

func init() {
	target.Register("demo", func() target.Ops { return New() })
}

func (t *Target) Name() string { return "demo" }

func (t *Target) RegisterNames() map[string]int { return registers }

func (t *Target) Relocs() []reloc.Howto { return relocTable }

// Assemble encodes one line's mnemonic/operands. The demo ISA's operand
// syntax is simple enough to hand-parse directly rather than route through
// expr.Parser, which is fine: spec §4.8 leaves the operand grammar entirely
// to the target.
func (t *Target) Assemble(chain *frag.Chain, symbols *target.SymbolFacade, mnemonic, operands string, pos expr.Pos) (target.AssembleResult, error) {
	var res target.AssembleResult

	switch strings.ToLower(mnemonic) {
	case "nop":
		chain.FragMore([]byte{opNop})
		return res, nil

	case "halt":
		chain.FragMore([]byte{opHalt})
		return res, nil

	case "ld":
		dst, src, err := parseTwoRegisters(operands)
		if err != nil {
			return res, err
		}
		chain.FragMore([]byte{opLd, byte(dst<<4 | src)})
		return res, nil

	case "movi":
		dst, rest, err := parseRegisterThenOperand(operands)
		if err != nil {
			return res, err
		}
		fragID, offset := chain.FragMore([]byte{opMovi, byte(dst), 0, 0, 0, 0})
		if imm, ok := parseImmediate(rest); ok {
			putLE32(chain.Get(fragID).Fixed[offset+2:], uint32(imm))
			return res, nil
		}
		sym := symbols.FindOrMake(strings.TrimSpace(rest))
		fx := fixup.New(fragID, offset+2, 4, sym, 0, false, reloc.KindAbs32, pos)
		res.Fixups = append(res.Fixups, fx)
		return res, nil

	case "jmp":
		name := strings.TrimSpace(operands)
		if name == "" {
			return res, fmt.Errorf("demo: jmp requires a target label")
		}
		sym := symbols.FindOrMake(name)
		chain.FragVar([]byte{opJmpS, 0x00}, 3, subtypeJmp, sym, 0, nil)
		return res, nil

	default:
		return res, fmt.Errorf("demo: unknown mnemonic %q", mnemonic)
	}
}

func parseTwoRegisters(operands string) (dst, src int, err error) {
	parts := strings.SplitN(operands, ",", 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("demo: expected 'rD, rS', got %q", operands)
	}
	dst, ok := registers[strings.ToLower(strings.TrimSpace(parts[0]))]
	if !ok {
		return 0, 0, fmt.Errorf("demo: unknown register %q", parts[0])
	}
	src, ok = registers[strings.ToLower(strings.TrimSpace(parts[1]))]
	if !ok {
		return 0, 0, fmt.Errorf("demo: unknown register %q", parts[1])
	}
	return dst, src, nil
}

func parseRegisterThenOperand(operands string) (reg int, rest string, err error) {
	parts := strings.SplitN(operands, ",", 2)
	if len(parts) != 2 {
		return 0, "", fmt.Errorf("demo: expected 'rD, operand', got %q", operands)
	}
	reg, ok := registers[strings.ToLower(strings.TrimSpace(parts[0]))]
	if !ok {
		return 0, "", fmt.Errorf("demo: unknown register %q", parts[0])
	}
	return reg, parts[1], nil
}

// parseImmediate recognizes decimal and 0x-prefixed hex integer literals.
// Anything else is treated as a symbol name by the caller.
func parseImmediate(text string) (int64, bool) {
	text = strings.TrimSpace(text)
	if text == "" {
		return 0, false
	}
	if strings.HasPrefix(text, "0x") || strings.HasPrefix(text, "0X") {
		v, err := strconv.ParseUint(text[2:], 16, 64)
		if err != nil {
			return 0, false
		}
		return int64(v), true
	}
	v, err := strconv.ParseInt(text, 10, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

func putLE32(dst []byte, v uint32) {
	dst[0] = byte(v)
	dst[1] = byte(v >> 8)
	dst[2] = byte(v >> 16)
	dst[3] = byte(v >> 24)
}

func (t *Target) EstimateSizeBeforeRelax(f *frag.Frag) int64 {
	switch f.RelaxSubtype {
	case subtypeJmp:
		return jmpTable[0].Length
	default:
		return f.Len()
	}
}

func (t *Target) RelaxTableFor(subtype int) (target.RelaxTable, bool) {
	if subtype == subtypeJmp {
		return jmpTable, true
	}
	return nil, false
}

// MDRelax is never consulted for this target's only subtype (it has a
// RelaxTableFor entry), but the method must exist to satisfy target.Ops.
// Defaults to the table's final (largest) state, matching the "escalate to
// the safest encoding" behavior a real irregular-subtype MDRelax would aim
// for.
func (t *Target) MDRelax(f *frag.Frag, aim int64) (int, int64) {
	last := len(jmpTable) - 1
	return last, jmpTable[last].Length
}

// ConvertFrag commits a relaxed jmp frag's final encoding and mints the
// fixup its displacement field needs (spec §4.8: only now is the chosen
// state, and therefore the field's byte offset, known).
func (t *Target) ConvertFrag(f *frag.Frag) ([]byte, []*fixup.Fixup) {
	if f.RelaxSubtype != subtypeJmp {
		return append(append([]byte{}, f.Fixed...), f.Var...), nil
	}

	switch f.RelaxState {
	case 0:
		data := []byte{opJmpS, 0x00}
		fx := fixup.New(f.ID, 1, 1, f.RelaxSymbol, f.RelaxOffset, true, reloc.KindPC8, expr.Pos{})
		return data, []*fixup.Fixup{fx}
	default:
		data := []byte{opJmpL, 0x00, 0x00, 0x00, 0x00}
		fx := fixup.New(f.ID, 1, 4, f.RelaxSymbol, f.RelaxOffset, true, reloc.KindPC32, expr.Pos{})
		return data, []*fixup.Fixup{fx}
	}
}

// ApplyFix patches value into fx's field, little-endian. The demo target
// has no field narrower than a byte and no bit-packed operands, so this is
// always a full-byte insertion; it reports done unconditionally and lets
// the caller (fixup.Segment) combine that with whether value was fully
// resolved.
func (t *Target) ApplyFix(fx *fixup.Fixup, value int64, data []byte) (bool, error) {
	end := fx.Where + int64(fx.Size)
	if end > int64(len(data)) {
		return false, fmt.Errorf("demo: fixup at %d+%d exceeds frag content (len %d)", fx.Where, fx.Size, len(data))
	}
	for i := 0; i < fx.Size; i++ {
		data[fx.Where+int64(i)] = byte(value >> (8 * uint(i)))
	}
	return true, nil
}

// GenReloc builds the on-disk record for a fixup ApplyFix could not fully
// resolve. SymIndex here is the raw SymbolID; the object writer remaps it
// to the final on-disk symbol table index when it serializes the section.
func (t *Target) GenReloc(fx *fixup.Fixup, value int64) reloc.Record {
	return reloc.Record{
		SymIndex: int32(fx.AddSymbol),
		Kind:     fx.Kind,
		Addend:   value,
	}
}

// PCRelFrom returns the address a pc-relative fixup measures from: the byte
// immediately following the patched field, matching both jmp encodings
// (the displacement is relative to the next instruction).
func (t *Target) PCRelFrom(fx *fixup.Fixup, siteAddress int64) int64 {
	return siteAddress + int64(fx.Size)
}

var _ target.Ops = (*Target)(nil)
