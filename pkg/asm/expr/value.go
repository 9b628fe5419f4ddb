// Package expr implements the MRI-dialect-aware expression evaluator:
// integer/float/symbol/bignum parsing and precedence-climbing folding into
// a tagged expression value (spec C3, §4.1; grounded on binutils gas's
// expr.c/expr.h, kept in original_source/).
package expr

import (
	"fmt"

	"github.com/coffasm/coffasm/pkg/asm/ids"
)

// Segment tags where a value lives, matching spec §3.1's segment tag set.
// Segment and Op jointly decide which Value variant applies; per the
// redesign note in spec §9 the variant *is* the segment where applicable
// (e.g. Register replaces "segment == reg_section").
type Segment int

const (
	SegAbsolute Segment = iota
	SegText
	SegData
	SegBSS
	SegUndefined
	SegCommon
	SegRegister
	SegExpression
	SegDebug
)

func (s Segment) String() string {
	switch s {
	case SegAbsolute:
		return "absolute"
	case SegText:
		return "text"
	case SegData:
		return "data"
	case SegBSS:
		return "bss"
	case SegUndefined:
		return "undefined"
	case SegCommon:
		return "common"
	case SegRegister:
		return "register"
	case SegExpression:
		return "expression"
	case SegDebug:
		return "debug"
	default:
		return fmt.Sprintf("Segment(%d)", int(s))
	}
}

// SymbolID is an opaque handle to a symbol, owned and interpreted by
// whatever SymbolResolver supplied it (symtab.Table in practice). expr
// never dereferences symbol state itself, which keeps this package free of
// an import cycle with symtab (spec §9: indices instead of raw pointers).
type SymbolID = ids.SymbolID

// NoSymbol is the zero/absent SymbolID.
const NoSymbol = ids.NoSymbol

// Op is the expression operator / variant tag (spec §3.2).
type Op int

const (
	OpIllegal Op = iota
	OpAbsent
	OpConstant
	OpBig
	OpSymbol
	OpSymbolRva
	OpRegister
	OpAdd
	OpSub
	OpMul
	OpDiv
	OpMod
	OpShl
	OpShr
	OpBitAnd
	OpBitOr
	OpBitXor
	OpEq
	OpNe
	OpLt
	OpLe
	OpGt
	OpGe
	OpLogicalAnd
	OpLogicalOr
	OpUnaryMinus
	OpBitNot
	OpLogicalNot
)

func (o Op) String() string {
	names := map[Op]string{
		OpIllegal: "illegal", OpAbsent: "absent", OpConstant: "constant",
		OpBig: "big", OpSymbol: "symbol", OpSymbolRva: "symbol_rva",
		OpRegister: "register", OpAdd: "+", OpSub: "-", OpMul: "*", OpDiv: "/",
		OpMod: "%", OpShl: "<<", OpShr: ">>", OpBitAnd: "&", OpBitOr: "|",
		OpBitXor: "^", OpEq: "==", OpNe: "!=", OpLt: "<", OpLe: "<=",
		OpGt: ">", OpGe: ">=", OpLogicalAnd: "&&", OpLogicalOr: "||",
		OpUnaryMinus: "u-", OpBitNot: "~", OpLogicalNot: "!",
	}
	if n, ok := names[o]; ok {
		return n
	}
	return fmt.Sprintf("Op(%d)", int(o))
}

// IsBinaryOp reports whether op combines two symbol operands (AddSymbol,
// OpSymbol) plus an additive constant, per spec §3.2's "one-of-arity-2
// operator nodes with two symbol operands".
func (o Op) IsBinaryOp() bool {
	switch o {
	case OpAdd, OpSub, OpMul, OpDiv, OpMod, OpShl, OpShr, OpBitAnd, OpBitOr,
		OpBitXor, OpEq, OpNe, OpLt, OpLe, OpGt, OpGe, OpLogicalAnd, OpLogicalOr:
		return true
	default:
		return false
	}
}

// Big holds the payload of an O_big value: either a bignum (little-endian
// 16-bit "littlenums", matching gas's generic_bignum) or a flonum, selected
// by IsFloat.
type Big struct {
	IsFloat  bool
	Littlenum []uint16
	Float     float64
}

// Value is the tagged expression value of spec §3.2: an operator tag plus
// up to two symbol operands and an additive constant, mirroring gas's
// expressionS (X_op, X_add_symbol, X_op_symbol, X_add_number, X_unsigned).
type Value struct {
	Op         Op
	AddSymbol  SymbolID
	OpSymbol   SymbolID
	AddNumber  int64
	Unsigned   bool // meaningful only for OpConstant; controls sign extension on widening
	Big        *Big
	RegisterID int // meaningful only for OpRegister
	Pos        Pos // source location, for later diagnostics on unresolved expressions
}

// Pos mirrors source.Pos without importing the source package, avoiding a
// dependency edge the evaluator doesn't otherwise need.
type Pos struct {
	File string
	Line int
}

func (p Pos) String() string {
	if p.File == "" {
		return "<unknown>"
	}
	return fmt.Sprintf("%s:%d", p.File, p.Line)
}

// Constant builds an OpConstant value.
func Constant(v int64) Value { return Value{Op: OpConstant, AddSymbol: NoSymbol, OpSymbol: NoSymbol, AddNumber: v} }

// Illegal builds an OpIllegal value (spec §4.1: "illegal expression" substitutes 0).
func Illegal() Value { return Value{Op: OpIllegal, AddSymbol: NoSymbol, OpSymbol: NoSymbol} }

// Absent builds an OpAbsent value (no operand present at all).
func Absent() Value { return Value{Op: OpAbsent, AddSymbol: NoSymbol, OpSymbol: NoSymbol} }

// SymbolPlus builds an OpSymbol value: sym + offset.
func SymbolPlus(sym SymbolID, offset int64) Value {
	return Value{Op: OpSymbol, AddSymbol: sym, OpSymbol: NoSymbol, AddNumber: offset}
}

// Register builds an OpRegister value.
func Register(idx int) Value {
	return Value{Op: OpRegister, AddSymbol: NoSymbol, OpSymbol: NoSymbol, RegisterID: idx}
}

// IsConstant reports whether v folded down to a bare constant.
func (v Value) IsConstant() bool { return v.Op == OpConstant }

// String renders a Value for diagnostics.
func (v Value) String() string {
	switch v.Op {
	case OpConstant:
		return fmt.Sprintf("%d", v.AddNumber)
	case OpSymbol, OpSymbolRva:
		return fmt.Sprintf("sym(%d)+%d", v.AddSymbol, v.AddNumber)
	case OpRegister:
		return fmt.Sprintf("reg(%d)", v.RegisterID)
	default:
		if v.Op.IsBinaryOp() {
			return fmt.Sprintf("(sym(%d) %s sym(%d))+%d", v.AddSymbol, v.Op, v.OpSymbol, v.AddNumber)
		}
		return v.Op.String()
	}
}
