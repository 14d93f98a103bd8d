package logging

import (
	"bytes"
	"testing"
)

func TestNotefGatedByVerbose(t *testing.T) {
	var buf bytes.Buffer
	l := &Logger{Out: &buf, Verbose: false}
	l.Notef("hidden %d", 1)
	if buf.Len() != 0 {
		t.Fatalf("expected no output when Verbose=false, got %q", buf.String())
	}

	l.Verbose = true
	l.Notef("shown %d", 2)
	if got := buf.String(); got != "Note: shown 2\n" {
		t.Fatalf("got %q", got)
	}
}

func TestWarnfAlwaysWrites(t *testing.T) {
	var buf bytes.Buffer
	l := &Logger{Out: &buf, Verbose: false}
	l.Warnf("careful %s", "here")
	if got := buf.String(); got != "Warning: careful here\n" {
		t.Fatalf("got %q", got)
	}
}

func TestErrorfAlwaysWrites(t *testing.T) {
	var buf bytes.Buffer
	l := &Logger{Out: &buf, Verbose: false}
	l.Errorf("broke: %v", "reason")
	if got := buf.String(); got != "Error: broke: reason\n" {
		t.Fatalf("got %q", got)
	}
}

func TestNilLoggerMethodsAreNoop(t *testing.T) {
	var l *Logger
	l.Notef("x")
	l.Warnf("y")
	l.Errorf("z")
}

func TestDefaultReadsVerboseEnv(t *testing.T) {
	t.Setenv("ORCHESTRATOR_VERBOSE", "")
	l := Default()
	if l.Verbose {
		t.Fatal("expected Verbose=false with empty env var")
	}

	t.Setenv("ORCHESTRATOR_VERBOSE", "1")
	l = Default()
	if !l.Verbose {
		t.Fatal("expected Verbose=true with ORCHESTRATOR_VERBOSE set")
	}
}
