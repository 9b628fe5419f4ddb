// Package diag implements the linker side of spec §7's diagnostic
// taxonomy: a Diagnostic record plus a Sink that accumulates had_errors/
// had_warnings counts, following pkg/utils.MakeError's sentinel-wrap style
// for the Kind enum. Deliberately independent of pkg/asm/diag: the linker
// never needs a source file/line, only which object or archive member a
// diagnostic concerns, and keeping the two packages apart means neither
// half of the toolchain has to import the other over an error record.
package diag

import "fmt"

// Kind enumerates spec §7's taxonomy of diagnostics, carried over unchanged
// from the assembler side; not every kind fires with equal frequency here
// (ParseDrectve reports nothing, as it skips tokens it does not recognize; a relocation
// the linker itself re-resolves during the final pass can still overflow
// its field and raise KindRangeError), but the taxonomy is one enum shared
// in spirit across both halves of the toolchain.
type Kind int

const (
	KindSyntaxError Kind = iota
	KindRangeError
	KindUnresolvedExpression
	KindUndefinedSymbol
	KindRedefinedSymbol
	KindSectionContentOverflow
	KindIoError
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

// Severity distinguishes a diagnostic that aborts the link from one that
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

// Pos locates a link-time diagnostic: which object (or archive member) it
// concerns, and the symbol name when one is relevant. Neither field is
// required; the zero value still prints something useful.
type Pos struct {
	Object string
	Symbol string
}

func (p Pos) String() string {
	switch {
	case p.Object != "" && p.Symbol != "":
		return fmt.Sprintf("%s: %s", p.Object, p.Symbol)
	case p.Object != "":
		return p.Object
	case p.Symbol != "":
		return p.Symbol
	default:
		return "<unknown>"
	}
}

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

// UndefinedSymbolHandler lets a caller decide whether a final unresolved
// external reference should abort the link or just warn (spec §7: "routed
// to a user-supplied callback that may downgrade it").
type UndefinedSymbolHandler func(name string, pos Pos) Severity

// Sink accumulates diagnostics across one link and tracks the
// had_errors/had_warnings counters spec §7 says drive the exit status.
type Sink struct {
	diagnostics []Diagnostic
	hadErrors   bool
	hadWarnings bool

	// AllowSignedOverflow downgrades KindRangeError to a warning instead of
	// a hard error (spec §7).
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
