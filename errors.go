package jcc

import (
	"fmt"
	"strings"

	"github.com/jcc-project/jcc/ascii"
	"github.com/pkg/errors"
)

// Severity classifies a Diagnostic the way the teacher split
// ParsingError (fatal) from backtrackingError (recoverable): here a
// Diagnostic is always recoverable (collected, node gets Error type)
// while a FatalError unwinds through the abort boundary.
type Severity int

const (
	SeverityError Severity = iota
	SeverityWarning
)

// Diagnostic is a single recoverable compile-time complaint: lexical,
// preprocessor-fatal diagnostics use FatalError instead, but parse and
// type errors collected under Level-2 recovery use this type so one
// run can report N independent diagnostics instead of aborting at the
// first one.
type Diagnostic struct {
	Severity Severity
	Message  string
	Span     Span
	// Chain records the macro-expansion footnote: each entry is a
	// point the offending token passed through on its way from a
	// macro body to the final expansion site.
	Chain []Span
}

func (d Diagnostic) Error() string { return d.format(false) }

func (d Diagnostic) format(color bool) string {
	var b strings.Builder
	label := "error"
	col := ascii.DefaultTheme.Error
	if d.Severity == SeverityWarning {
		label = "warning"
		col = ascii.DefaultTheme.Warning
	}
	if color {
		fmt.Fprintf(&b, "%s:%s %s%s%s: %s\n", d.Span.Start.String(), ascii.Reset, col, label, ascii.Reset, d.Message)
	} else {
		fmt.Fprintf(&b, "%s: %s: %s\n", d.Span.Start.String(), label, d.Message)
	}
	for _, span := range d.Chain {
		fmt.Fprintf(&b, "  ...expanded from %s\n", span.Start.String())
	}
	return b.String()
}

// Render prints the diagnostic the way a production compiler does:
// file:line:col, the message, the source line, and a caret under the
// offending span.
func (d Diagnostic) Render(li *LineIndex, color bool) string {
	var b strings.Builder
	b.WriteString(d.format(color))
	if li == nil {
		return b.String()
	}
	line := li.Line(d.Span.Start.Line)
	b.WriteString(line)
	b.WriteRune('\n')
	col := d.Span.Start.Column
	if col < 1 {
		col = 1
	}
	pad := strings.Repeat(" ", col-1)
	caret := "^"
	if color {
		caret = ascii.DefaultTheme.Error + "^" + ascii.Reset
	}
	b.WriteString(pad)
	b.WriteString(caret)
	b.WriteRune('\n')
	return b.String()
}

// FatalError is raised by lexical, preprocessor, and parser failures
// that can't be recovered from: it unwinds to the top-level abort
// boundary instead of being collected. Link and codegen failures are
// returned as plain errors. It is wrapped with
// github.com/pkg/errors so the boundary can print the originating
// stage's cause chain.
type FatalError struct {
	Stage   string
	Message string
	Span    Span
	cause   error
}

func (e *FatalError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s @ %s: %s", e.Stage, e.Message, e.Span, e.cause)
	}
	return fmt.Sprintf("%s: %s @ %s", e.Stage, e.Message, e.Span)
}

func (e *FatalError) Unwrap() error { return e.cause }

// NewFatalError wraps msg as a fatal diagnostic from the given
// pipeline stage, recording the call site's stack via pkg/errors so
// the abort boundary can print where inside the compiler it happened.
func NewFatalError(stage, msg string, span Span) error {
	return errors.WithStack(&FatalError{Stage: stage, Message: msg, Span: span})
}

// isDiagnostic reports whether err is a recoverable Diagnostic, as
// opposed to a FatalError that must unwind.
func isDiagnostic(err error) bool {
	_, ok := err.(Diagnostic)
	return ok
}
