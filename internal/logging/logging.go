// Package logging is a small stderr diagnostics shim, in the teacher's
// style of gated fmt.Fprintf "Note:"/"Warning:" lines (see
// ratchet.LoadChain's migration notice) rather than a pulled-in logging
// library, since the teacher itself uses none for this purpose.
package logging

import (
	"fmt"
	"io"
	"os"
)

// Logger writes leveled, line-oriented diagnostics to an io.Writer.
// Verbose gates Notef; Warnf and Errorf always write, matching the
// teacher's migration/fallback notices that surface regardless of
// verbosity.
type Logger struct {
	Out     io.Writer
	Verbose bool
}

// Default writes to os.Stderr. Verbose is read once at construction from
// ORCHESTRATOR_VERBOSE so call sites don't each re-check the environment.
func Default() *Logger {
	return &Logger{Out: os.Stderr, Verbose: os.Getenv("ORCHESTRATOR_VERBOSE") != ""}
}

// Notef writes a diagnostic line only when Verbose is set.
func (l *Logger) Notef(format string, args ...any) {
	if l == nil || !l.Verbose {
		return
	}
	fmt.Fprintf(l.Out, "Note: "+format+"\n", args...)
}

// Warnf always writes a warning line, regardless of Verbose.
func (l *Logger) Warnf(format string, args ...any) {
	if l == nil {
		return
	}
	fmt.Fprintf(l.Out, "Warning: "+format+"\n", args...)
}

// Errorf always writes an error line.
func (l *Logger) Errorf(format string, args ...any) {
	if l == nil {
		return
	}
	fmt.Fprintf(l.Out, "Error: "+format+"\n", args...)
}
