package workflow

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/agentctl/orchestrator/internal/audit"
	"github.com/agentctl/orchestrator/internal/gate"
	"github.com/agentctl/orchestrator/internal/lock"
	"github.com/agentctl/orchestrator/internal/metrics"
	"github.com/agentctl/orchestrator/internal/paths"
	"github.com/agentctl/orchestrator/internal/review"
	"github.com/agentctl/orchestrator/internal/state"
	"github.com/agentctl/orchestrator/internal/workflowdef"
)

// defaultLockTimeout bounds how long withExclusive waits to acquire the
// session state lock when the caller hasn't set Engine.LockTimeout.
const defaultLockTimeout = 30 * time.Second

// Subscriber receives every emitted Event. Engine holds no global
// subscriber list — callers pass theirs in at construction, per the
// "shared global singletons become explicit dependencies" design note.
type Subscriber func(Event)

// Engine owns one session's state machine. It exclusively holds the
// session's state lock across each public operation's read-state/mutate/
// write-state sequence; long-running gate commands and review calls run
// lock-free between the read and the write, per spec §5.
type Engine struct {
	Paths       *paths.Paths
	Locks       *lock.Manager
	Audit       *audit.Log
	Def         *workflowdef.WorkflowDef
	Gates       *gate.Engine
	Reviewer    *review.Router
	Subscribers []Subscriber

	// Metrics records lock-wait latency. A nil Metrics is valid; every
	// observation becomes a no-op.
	Metrics *metrics.Metrics

	// LockTimeout bounds how long withExclusive waits to acquire the
	// session's state lock. Zero means defaultLockTimeout.
	LockTimeout time.Duration

	now func() time.Time

	mu sync.Mutex // serializes in-process callers; the file lock serializes cross-process callers
}

// NewEngine constructs an Engine from explicit dependencies. None of them
// are process-wide singletons; the caller (typically cmd/orchestrator)
// owns their lifecycle.
func NewEngine(p *paths.Paths, locks *lock.Manager, auditLog *audit.Log, def *workflowdef.WorkflowDef, gates *gate.Engine, reviewer *review.Router, subs ...Subscriber) *Engine {
	return &Engine{
		Paths: p, Locks: locks, Audit: auditLog, Def: def, Gates: gates, Reviewer: reviewer,
		Subscribers: subs,
		LockTimeout: defaultLockTimeout,
		now:         time.Now,
	}
}

func (e *Engine) emit(kind string, details map[string]any) {
	ev := newEvent(kind, details)
	for _, s := range e.Subscribers {
		s(ev)
	}
}

func newWorkflowID() string {
	b := make([]byte, 4)
	if _, err := rand.Read(b); err != nil {
		return fmt.Sprintf("%08x", time.Now().UnixNano()&0xffffffff)
	}
	return hex.EncodeToString(b)
}

// loadState loads the session's current state, dual-reading the legacy
// path when the new one doesn't exist yet. It returns os.ErrNotExist if
// neither is present (no workflow started yet). The next successful Save
// writes through to the new path; the legacy file is left untouched.
func (e *Engine) loadState() (*WorkflowState, error) {
	var st WorkflowState
	legacyPath, legacyExists := e.Paths.FindLegacyStateFile()
	if _, err := state.LoadWithLegacyFallback(e.Paths.StateFile(), legacyPath, legacyExists, &st, nil); err != nil {
		return nil, err
	}
	return &st, nil
}

func (e *Engine) saveState(st *WorkflowState) error {
	st.UpdatedAtField = e.now().UTC().Format(time.RFC3339Nano)
	if err := state.Save(e.Paths.StateFile(), st); err != nil {
		return err
	}
	e.writeStatusCache(st)
	return nil
}

// writeStatusCache derives a small, non-authoritative status.json after
// every successful state save. Nothing in this module reads it back:
// Status and the `status` command still load the full state.json.
// Supplements spec §4.4 with the run-cache pattern from the teacher's
// MaterializeRPIRunCache (cmd/ao/rpi_ledger.go).
func (e *Engine) writeStatusCache(st *WorkflowState) {
	type cache struct {
		WorkflowID  string `json:"workflow_id"`
		PhaseCursor string `json:"phase_cursor"`
		Terminal    string `json:"terminal,omitempty"`
		UpdatedAt   string `json:"updated_at"`
	}
	c := cache{WorkflowID: st.WorkflowID, PhaseCursor: st.PhaseCursor, Terminal: st.Terminal, UpdatedAt: st.UpdatedAtField}
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return
	}
	_ = os.WriteFile(e.Paths.StatusCacheFile(), append(data, '\n'), 0o600)
}

// withExclusive acquires the session's state lock for the duration of fn
// and guarantees release even if fn panics or returns an error. The
// acquire wait is bounded by e.LockTimeout (defaultLockTimeout if unset).
func (e *Engine) withExclusive(fn func() error) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	timeout := e.LockTimeout
	if timeout <= 0 {
		timeout = defaultLockTimeout
	}

	waitStart := time.Now()
	h, err := e.Locks.Acquire("state", lock.Exclusive, timeout)
	if err != nil {
		return err
	}
	e.Metrics.ObserveLockWait("state", time.Since(waitStart))
	defer h.Close()

	return fn()
}

func (e *Engine) appendAudit(kind audit.Kind, data any) {
	if e.Audit == nil {
		return
	}
	_, _ = e.Audit.Append(kind, data)
}
