// Package gate evaluates ArtifactGate, CommandGate, ManualGate, and
// CompositeGate definitions against the filesystem and subprocesses,
// grounded on the teacher's ratchet.GateChecker (internal/ratchet/gate.go)
// and ratchet.Validator (internal/ratchet/validate.go) path-safety and
// validation patterns.
package gate

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
	"time"
	"gopkg.in/yaml.v3"

	"github.com/agentctl/orchestrator/internal/metrics"
	"github.com/agentctl/orchestrator/internal/workflowdef"
)

// Errors surfaced by gate evaluation. PathTraversal and UnsafeTemplateArg
// are policy-grade: they never downgrade to a warning (spec §7).
var (
	ErrPathTraversal    = errors.New("PathTraversal")
	ErrUnsafeTemplate   = errors.New("UnsafeTemplateArg")
	ErrGateTimeout      = errors.New("GateTimeout")
)

// outputCap bounds how much of a command gate's stdout/stderr is retained
// for logging, matching the spec's "fixed byte cap" requirement.
const outputCap = 1 << 20 // 1 MiB

// templateArgPattern is the allowed character class for a resolved
// template substitution value.
var templateArgPattern = regexp.MustCompile(`^[A-Za-z0-9._/-]+$`)

// Result is the outcome of evaluating one GateDef.
type Result struct {
	Passed       bool     `json:"passed"`
	Details      []string `json:"details,omitempty"`
	ExitCode     *int     `json:"exit_code,omitempty"`
	ArtifactPath string   `json:"artifact_path,omitempty"`
}

func fail(details ...string) (*Result, error) {
	return &Result{Passed: false, Details: details}, nil
}

func pass(details ...string) (*Result, error) {
	return &Result{Passed: true, Details: details}, nil
}

// ApproveFunc is supplied by the caller to service ManualGate: it blocks
// until an external Approve(item_id, rationale) call resolves, or returns
// an error (e.g. context cancellation).
type ApproveFunc func(ctx context.Context) (rationale string, err error)

// Supervision is the subset of C9's policy a gate evaluation needs: whether
// a manual gate should auto-pass, and the audit marker to record when it
// does.
type Supervision interface {
	// AutoApproveManual reports whether the given item's manual gate
	// should auto-pass without calling Approve, and if so, the audit
	// marker describing why (e.g. "[ZERO-HUMAN MODE] gate bypassed").
	AutoApproveManual(itemID string, risk workflowdef.Risk) (autoApprove bool, marker string)
}

// Engine evaluates GateDefs. BasePath roots ArtifactGate paths; Settings
// resolves template substitutions in CommandGate argv.
type Engine struct {
	BasePath    string
	Settings    workflowdef.Settings
	Supervision Supervision
	Approve     ApproveFunc

	// Metrics records gate evaluation counts and latency by kind. A nil
	// Metrics is valid; every observation becomes a no-op.
	Metrics *metrics.Metrics
}

// NewEngine constructs an Engine.
func NewEngine(basePath string, settings workflowdef.Settings, supervision Supervision, approve ApproveFunc) *Engine {
	return &Engine{BasePath: basePath, Settings: settings, Supervision: supervision, Approve: approve}
}

// Evaluate dispatches on g.Kind. It is pure with respect to workflow state:
// it may touch the filesystem and exec processes but never mutates caller
// state.
func (e *Engine) Evaluate(ctx context.Context, itemID string, risk workflowdef.Risk, g *workflowdef.GateDef) (result *Result, err error) {
	if g == nil {
		return pass("no gate defined")
	}

	start := time.Now()
	defer func() {
		if result != nil {
			e.Metrics.ObserveGate(string(g.Kind), result.Passed, time.Since(start))
		}
	}()

	switch g.Kind {
	case workflowdef.GateArtifact:
		return e.evaluateArtifact(g)
	case workflowdef.GateCommand:
		return e.evaluateCommand(ctx, g)
	case workflowdef.GateManual:
		return e.evaluateManual(ctx, itemID, risk, g)
	case workflowdef.GateComposite:
		return e.evaluateComposite(ctx, itemID, risk, g)
	default:
		return fail(fmt.Sprintf("unknown gate kind %q", g.Kind))
	}
}

func (e *Engine) evaluateArtifact(g *workflowdef.GateDef) (*Result, error) {
	base := g.BasePath
	if base == "" {
		base = e.BasePath
	}
	if strings.Contains(g.Path, "..") {
		return fail(fmt.Sprintf("%v: path %q contains '..'", ErrPathTraversal, g.Path))
	}

	resolved := filepath.Join(base, g.Path)
	absBase, err := filepath.Abs(base)
	if err != nil {
		return fail(err.Error())
	}
	absResolved, err := filepath.Abs(resolved)
	if err != nil {
		return fail(err.Error())
	}
	if !within(absBase, absResolved) {
		return fail(fmt.Sprintf("%v: %q escapes base path", ErrPathTraversal, g.Path))
	}

	// Reject symlinks whose target escapes BasePath, without following
	// the link to read its contents.
	if info, err := os.Lstat(absResolved); err == nil && info.Mode()&os.ModeSymlink != 0 {
		target, err := filepath.EvalSymlinks(absResolved)
		if err != nil || !within(absBase, target) {
			return fail(fmt.Sprintf("%v: symlink %q escapes base path", ErrPathTraversal, g.Path))
		}
	}

	validator := g.Validator
	if validator == "" {
		validator = workflowdef.ValidatorNotEmpty
	}

	result := &Result{ArtifactPath: resolved}
	switch validator {
	case workflowdef.ValidatorExists:
		if _, err := os.Stat(absResolved); err != nil {
			result.Details = append(result.Details, fmt.Sprintf("does not exist: %s", resolved))
			return result, nil
		}
		result.Passed = true
	case workflowdef.ValidatorNotEmpty:
		info, err := os.Stat(absResolved)
		if err != nil {
			result.Details = append(result.Details, fmt.Sprintf("does not exist: %s", resolved))
			return result, nil
		}
		if info.Size() == 0 {
			result.Details = append(result.Details, "file is empty")
			return result, nil
		}
		result.Passed = true
	case workflowdef.ValidatorMinSize:
		info, err := os.Stat(absResolved)
		if err != nil {
			result.Details = append(result.Details, fmt.Sprintf("does not exist: %s", resolved))
			return result, nil
		}
		if info.Size() < g.MinSize {
			result.Details = append(result.Details, fmt.Sprintf("size %d < min_size %d", info.Size(), g.MinSize))
			return result, nil
		}
		result.Passed = true
	case workflowdef.ValidatorJSONValid:
		data, err := os.ReadFile(absResolved)
		if err != nil {
			result.Details = append(result.Details, fmt.Sprintf("does not exist: %s", resolved))
			return result, nil
		}
		var v any
		if err := json.Unmarshal(data, &v); err != nil {
			result.Details = append(result.Details, fmt.Sprintf("invalid json: %s", err))
			return result, nil
		}
		result.Passed = true
	case workflowdef.ValidatorYAMLValid:
		data, err := os.ReadFile(absResolved)
		if err != nil {
			result.Details = append(result.Details, fmt.Sprintf("does not exist: %s", resolved))
			return result, nil
		}
		var v any
		if err := yaml.Unmarshal(data, &v); err != nil {
			result.Details = append(result.Details, fmt.Sprintf("invalid yaml: %s", err))
			return result, nil
		}
		result.Passed = true
	default:
		result.Details = append(result.Details, fmt.Sprintf("unknown validator %q", validator))
	}
	return result, nil
}

// within reports whether target is base or a descendant of base.
func within(base, target string) bool {
	rel, err := filepath.Rel(base, target)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// builtinShellVerbs are emulated in-process so smoke tests can use them
// without a shell.
var builtinShellVerbs = map[string]func(args []string) int{
	"true":  func([]string) int { return 0 },
	"false": func([]string) int { return 1 },
	"exit": func(args []string) int {
		if len(args) == 0 {
			return 0
		}
		var code int
		_, _ = fmt.Sscanf(args[0], "%d", &code)
		return code
	},
}

func (e *Engine) evaluateCommand(ctx context.Context, g *workflowdef.GateDef) (*Result, error) {
	argv, err := e.resolveArgv(g.Argv)
	if err != nil {
		return nil, err
	}
	if len(argv) == 0 {
		return fail("empty argv")
	}

	timeout := time.Duration(g.TimeoutS) * time.Second
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	expect := g.ExpectExitCode

	if fn, ok := builtinShellVerbs[argv[0]]; ok {
		code := fn(argv[1:])
		passed := code == expect
		return &Result{Passed: passed, ExitCode: &code, Details: []string{fmt.Sprintf("builtin %s exited %d", argv[0], code)}}, nil
	}

	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(cctx, argv[0], argv[1:]...)
	cmd.Env = mergeEnv(os.Environ(), g.EnvOverlay)
	if g.Stdin != "" {
		cmd.Stdin = strings.NewReader(g.Stdin)
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &capWriter{buf: &stdout, limit: outputCap}
	cmd.Stderr = &capWriter{buf: &stderr, limit: outputCap}

	runErr := cmd.Run()
	if cctx.Err() == context.DeadlineExceeded {
		return nil, fmt.Errorf("%w: after %s", ErrGateTimeout, timeout)
	}

	exitCode := 0
	if runErr != nil {
		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) {
			exitCode = exitErr.ExitCode()
		} else {
			return fail(fmt.Sprintf("exec failed: %s", runErr))
		}
	}

	passed := exitCode == expect
	details := []string{
		fmt.Sprintf("exit code %d (expected %d)", exitCode, expect),
		fmt.Sprintf("stdout: %s", stdout.String()),
		fmt.Sprintf("stderr: %s", stderr.String()),
	}
	return &Result{Passed: passed, ExitCode: &exitCode, Details: details}, nil
}

// capWriter truncates writes past limit, preserving the command's output
// for logging without unbounded memory growth.
type capWriter struct {
	buf   *bytes.Buffer
	limit int
}

func (w *capWriter) Write(p []byte) (int, error) {
	remaining := w.limit - w.buf.Len()
	if remaining <= 0 {
		return len(p), nil
	}
	if len(p) > remaining {
		w.buf.Write(p[:remaining])
	} else {
		w.buf.Write(p)
	}
	return len(p), nil
}

func mergeEnv(base []string, overlay map[string]string) []string {
	if len(overlay) == 0 {
		return base
	}
	out := append([]string{}, base...)
	for k, v := range overlay {
		out = append(out, k+"="+v)
	}
	return out
}

func (e *Engine) evaluateManual(ctx context.Context, itemID string, risk workflowdef.Risk, g *workflowdef.GateDef) (*Result, error) {
	if e.Supervision != nil {
		if auto, marker := e.Supervision.AutoApproveManual(itemID, risk); auto {
			return &Result{Passed: true, Details: []string{marker}}, nil
		}
	}
	if e.Approve == nil {
		return fail("no approval channel configured")
	}
	rationale, err := e.Approve(ctx)
	if err != nil {
		return fail(fmt.Sprintf("approval not granted: %s", err))
	}
	if g.RationaleRequired && strings.TrimSpace(rationale) == "" {
		return fail("rationale required but not provided")
	}
	return pass(fmt.Sprintf("approved: %s", rationale))
}

func (e *Engine) evaluateComposite(ctx context.Context, itemID string, risk workflowdef.Risk, g *workflowdef.GateDef) (*Result, error) {
	var allDetails []string
	switch g.Op {
	case workflowdef.OpAND:
		for i := range g.Children {
			r, err := e.Evaluate(ctx, itemID, risk, &g.Children[i])
			if err != nil {
				return nil, err
			}
			allDetails = append(allDetails, r.Details...)
			if !r.Passed {
				return &Result{Passed: false, Details: allDetails}, nil
			}
		}
		return &Result{Passed: true, Details: allDetails}, nil
	case workflowdef.OpOR:
		for i := range g.Children {
			r, err := e.Evaluate(ctx, itemID, risk, &g.Children[i])
			if err != nil {
				return nil, err
			}
			allDetails = append(allDetails, r.Details...)
			if r.Passed {
				return &Result{Passed: true, Details: allDetails}, nil
			}
		}
		return &Result{Passed: false, Details: allDetails}, nil
	default:
		return fail(fmt.Sprintf("unknown composite op %q", g.Op))
	}
}

// resolveArgv substitutes {{name}} placeholders from Settings into argv
// elements, rejecting any resolved value containing characters outside
// the safe template character set. argv is never passed through a shell.
func (e *Engine) resolveArgv(argv []string) ([]string, error) {
	vars := map[string]string{
		"test_command":        e.Settings.TestCommand,
		"smoke_test_command":  e.Settings.SmokeTestCommand,
		"build_command":       e.Settings.BuildCommand,
	}

	resolved := make([]string, len(argv))
	for i, arg := range argv {
		out, err := substituteTemplate(arg, vars)
		if err != nil {
			return nil, err
		}
		resolved[i] = out
	}
	return resolved, nil
}

var templatePattern = regexp.MustCompile(`\{\{\s*([a-zA-Z0-9_]+)\s*\}\}`)

func substituteTemplate(arg string, vars map[string]string) (string, error) {
	var substitutionErr error
	out := templatePattern.ReplaceAllStringFunc(arg, func(match string) string {
		name := templatePattern.FindStringSubmatch(match)[1]
		val, ok := vars[name]
		if !ok {
			substitutionErr = fmt.Errorf("%w: unknown template variable %q", ErrUnsafeTemplate, name)
			return match
		}
		if !templateArgPattern.MatchString(val) {
			substitutionErr = fmt.Errorf("%w: %q", ErrUnsafeTemplate, val)
			return match
		}
		return val
	})
	if substitutionErr != nil {
		return "", substitutionErr
	}
	return out, nil
}
