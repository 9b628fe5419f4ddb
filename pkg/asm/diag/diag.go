// Package diag implements the assembler side of spec §7's diagnostic
// taxonomy: a Diagnostic record plus a Sink that accumulates had_errors/
// had_warnings counts, following pkg/utils.MakeError's sentinel-wrap style
// for the Kind enum. Kept independent of pkg/link/diag so the assembler and
// linker halves never need to import each other over something as small as
// an error record.
package diag

import (
	"fmt"

	"github.com/coffasm/coffasm/pkg/asm/expr"
)

// Kind enumerates spec §7's taxonomy of assembler diagnostics.
type Kind int

const (
	// KindSyntaxError is a parse-time error; parsing skips to end-of-line.
	KindSyntaxError Kind = iota
	// KindRangeError is a fixup value that doesn't fit its field width;
	// downgraded to a warning when the sink's AllowSignedOverflow is set.
	KindRangeError
	// KindUnresolvedExpression is fatal at write time: an expression that
	// never folded to a concrete segment/value.
	KindUnresolvedExpression
	// KindUndefinedSymbol is routed through the sink's UndefinedSymbolHandler,
	// which may downgrade it to a warning.
	KindUndefinedSymbol
	// KindRedefinedSymbol is fatal: reports both the prior and new definition.
	KindRedefinedSymbol
	// KindSectionContentOverflow is fatal: a computed section size exceeds
	// the object format's representable limit.
	KindSectionContentOverflow
	// KindIoError is fatal: reading source or writing output failed.
	KindIoError
	// KindInternalInvariantViolation is fatal and refuses to emit output:
	// one of spec §8's invariants didn't hold.
	KindInternalInvariantViolation
)

func (k Kind) String() string {
	switch k {
	case KindSyntaxError:
		return "syntax error"
	case KindRangeError:
		return "range error"
	case KindUnresolvedExpression:
		return "unresolved expression"
	case KindUndefinedSymbol:
		return "undefined symbol"
	case KindRedefinedSymbol:
		return "redefined symbol"
	case KindSectionContentOverflow:
		return "section content overflow"
	case KindIoError:
		return "i/o error"
	case KindInternalInvariantViolation:
		return "internal invariant violation"
	default:
		return fmt.Sprintf("diag.Kind(%d)", int(k))
	}
}

// Severity distinguishes a diagnostic that aborts output from one that
// doesn't (spec §7: "warnings never abort").
type Severity int

const (
	SeverityWarning Severity = iota
	SeverityError
)

func (s Severity) String() string {
	if s == SeverityWarning {
		return "warning"
	}
	return "error"
}

// Pos mirrors expr.Pos, reused directly since diag already sits downstream
// of expr in the dependency graph (frags/fixups/symbols all carry one).
type Pos = expr.Pos

// Diagnostic is one reported condition.
type Diagnostic struct {
	Kind     Kind
	Severity Severity
	Message  string
	Pos      Pos
}

func (d Diagnostic) String() string {
	return fmt.Sprintf("%s: %s: %s", d.Pos, d.Severity, d.Message)
}

// UndefinedSymbolHandler lets a caller decide whether a reference to an
// undefined symbol should abort the assembly or just warn (spec §7:
// "routed to a user-supplied callback that may downgrade it").
type UndefinedSymbolHandler func(name string, pos Pos) Severity

// Sink accumulates diagnostics across one assembler run and tracks the
// had_errors/had_warnings counters spec §7 says drive the exit status.
type Sink struct {
	diagnostics []Diagnostic
	hadErrors   bool
	hadWarnings bool

	// AllowSignedOverflow downgrades KindRangeError to a warning instead of
	// a hard error (spec §7, the assembler's "--allow signed overflow"-style
	// toggle).
	AllowSignedOverflow bool

	onUndefinedSymbol UndefinedSymbolHandler
}

// NewSink creates an empty sink with default (strictest) severities.
func NewSink() *Sink { return &Sink{} }

// SetUndefinedSymbolHandler installs the callback ReportUndefinedSymbol
// consults to decide severity.
func (s *Sink) SetUndefinedSymbolHandler(h UndefinedSymbolHandler) {
	s.onUndefinedSymbol = h
}

// Report records a diagnostic of kind at pos, formatting Message the same
// way fmt.Errorf would. Severity follows the default for kind, except
// KindRangeError honors AllowSignedOverflow.
func (s *Sink) Report(kind Kind, pos Pos, format string, args ...any) {
	sev := SeverityError
	if kind == KindRangeError && s.AllowSignedOverflow {
		sev = SeverityWarning
	}
	s.record(Diagnostic{Kind: kind, Severity: sev, Message: fmt.Sprintf(format, args...), Pos: pos})
}

// ReportUndefinedSymbol records a KindUndefinedSymbol diagnostic, consulting
// the installed handler (if any) for its severity.
func (s *Sink) ReportUndefinedSymbol(name string, pos Pos) {
	sev := SeverityError
	if s.onUndefinedSymbol != nil {
		sev = s.onUndefinedSymbol(name, pos)
	}
	s.record(Diagnostic{Kind: KindUndefinedSymbol, Severity: sev, Message: fmt.Sprintf("undefined symbol %q", name), Pos: pos})
}

func (s *Sink) record(d Diagnostic) {
	s.diagnostics = append(s.diagnostics, d)
	if d.Severity == SeverityError {
		s.hadErrors = true
	} else {
		s.hadWarnings = true
	}
}

// HadErrors reports whether any error-severity diagnostic was recorded.
func (s *Sink) HadErrors() bool { return s.hadErrors }

// HadWarnings reports whether any warning-severity diagnostic was recorded.
func (s *Sink) HadWarnings() bool { return s.hadWarnings }

// Diagnostics returns every diagnostic recorded so far, in report order.
func (s *Sink) Diagnostics() []Diagnostic { return s.diagnostics }
