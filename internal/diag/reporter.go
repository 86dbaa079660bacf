package diag

import (
	"encoding/json"
	"fmt"
	"go/token"
	"io"
	"sync"

	"github.com/fatih/color"
)

// Severity classifies a diagnostic.
type Severity int

const (
	SeverityError Severity = iota
	SeverityWarning
	SeverityNote
)

func (s Severity) String() string {
	switch s {
	case SeverityError:
		return "error"
	case SeverityWarning:
		return "warning"
	case SeverityNote:
		return "note"
	default:
		return "?"
	}
}

// Position is a resolved source location. Front ends that do not use go/token
// (the kernel language) report through it directly.
type Position struct {
	Filename string `json:"file,omitempty"`
	Line     int    `json:"line,omitempty"`
	Column   int    `json:"column,omitempty"`
}

// IsValid reports whether the position carries at least a line number.
func (p Position) IsValid() bool {
	return p.Line > 0
}

func (p Position) String() string {
	switch {
	case !p.IsValid() && p.Filename == "":
		return ""
	case !p.IsValid():
		return p.Filename
	case p.Column > 0:
		return fmt.Sprintf("%s:%d:%d", p.Filename, p.Line, p.Column)
	default:
		return fmt.Sprintf("%s:%d", p.Filename, p.Line)
	}
}

// Diagnostic is a single reported message.
type Diagnostic struct {
	Severity Severity
	Pos      Position
	Message  string
}

type jsonDiagnostic struct {
	Severity string    `json:"severity"`
	Pos      *Position `json:"pos,omitempty"`
	Message  string    `json:"message"`
}

// Reporter collects diagnostics and writes them as they arrive, either as
// human-readable text or as one JSON object per line.
type Reporter struct {
	mu       sync.Mutex
	w        io.Writer
	format   string
	fset     *token.FileSet
	errors   int
	warnings int
	diags    []Diagnostic
}

// NewReporter constructs a reporter writing to w. format is "text" or "json";
// anything else falls back to text.
func NewReporter(w io.Writer, format string) *Reporter {
	if w == nil {
		w = io.Discard
	}
	if format != "json" {
		format = "text"
	}
	return &Reporter{w: w, format: format}
}

// SetFileSet installs the file set used to resolve go/token positions.
func (r *Reporter) SetFileSet(fset *token.FileSet) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fset = fset
}

// Error reports an error at a go/token position.
func (r *Reporter) Error(pos token.Pos, msg string) {
	r.report(SeverityError, r.resolve(pos), msg)
}

// Errorf reports an error without a source position.
func (r *Reporter) Errorf(format string, args ...interface{}) {
	r.report(SeverityError, Position{}, fmt.Sprintf(format, args...))
}

// ErrorAt reports an error at an already resolved position.
func (r *Reporter) ErrorAt(pos Position, msg string) {
	r.report(SeverityError, pos, msg)
}

// Warning reports a warning at a go/token position.
func (r *Reporter) Warning(pos token.Pos, msg string) {
	r.report(SeverityWarning, r.resolve(pos), msg)
}

// Warningf reports a warning without a source position.
func (r *Reporter) Warningf(format string, args ...interface{}) {
	r.report(SeverityWarning, Position{}, fmt.Sprintf(format, args...))
}

// WarningAt reports a warning at an already resolved position.
func (r *Reporter) WarningAt(pos Position, msg string) {
	r.report(SeverityWarning, pos, msg)
}

// NoteAt reports an informational note.
func (r *Reporter) NoteAt(pos Position, msg string) {
	r.report(SeverityNote, pos, msg)
}

// HasErrors reports whether at least one error has been reported.
func (r *Reporter) HasErrors() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.errors > 0
}

// ErrorCount returns the number of errors reported so far.
func (r *Reporter) ErrorCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.errors
}

// WarningCount returns the number of warnings reported so far.
func (r *Reporter) WarningCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.warnings
}

// Diagnostics returns a copy of everything reported so far.
func (r *Reporter) Diagnostics() []Diagnostic {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Diagnostic, len(r.diags))
	copy(out, r.diags)
	return out
}

func (r *Reporter) resolve(pos token.Pos) Position {
	r.mu.Lock()
	fset := r.fset
	r.mu.Unlock()
	if fset == nil || !pos.IsValid() {
		return Position{}
	}
	p := fset.Position(pos)
	return Position{Filename: p.Filename, Line: p.Line, Column: p.Column}
}

func (r *Reporter) report(sev Severity, pos Position, msg string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	switch sev {
	case SeverityError:
		r.errors++
	case SeverityWarning:
		r.warnings++
	}
	d := Diagnostic{Severity: sev, Pos: pos, Message: msg}
	r.diags = append(r.diags, d)
	if r.format == "json" {
		r.writeJSON(d)
		return
	}
	r.writeText(d)
}

func (r *Reporter) writeJSON(d Diagnostic) {
	out := jsonDiagnostic{Severity: d.Severity.String(), Message: d.Message}
	if d.Pos.IsValid() || d.Pos.Filename != "" {
		pos := d.Pos
		out.Pos = &pos
	}
	data, err := json.Marshal(out)
	if err != nil {
		fmt.Fprintf(r.w, "{\"severity\":\"error\",\"message\":%q}\n", err.Error())
		return
	}
	fmt.Fprintln(r.w, string(data))
}

func (r *Reporter) writeText(d Diagnostic) {
	label := severityColor(d.Severity).Sprint(d.Severity.String())
	if loc := d.Pos.String(); loc != "" {
		fmt.Fprintf(r.w, "%s: %s: %s\n", loc, label, d.Message)
		return
	}
	fmt.Fprintf(r.w, "%s: %s\n", label, d.Message)
}

func severityColor(sev Severity) *color.Color {
	switch sev {
	case SeverityError:
		return color.New(color.FgRed, color.Bold)
	case SeverityWarning:
		return color.New(color.FgYellow, color.Bold)
	default:
		return color.New(color.FgCyan)
	}
}
