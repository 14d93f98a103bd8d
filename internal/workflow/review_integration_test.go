package workflow

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentctl/orchestrator/internal/audit"
	"github.com/agentctl/orchestrator/internal/gate"
	"github.com/agentctl/orchestrator/internal/lock"
	"github.com/agentctl/orchestrator/internal/paths"
	"github.com/agentctl/orchestrator/internal/review"
	"github.com/agentctl/orchestrator/internal/workflowdef"
)

// recordingExecutor tracks which review types were actually dispatched, so
// tests can assert runReview fans out across every type in
// Settings.Review.RequiredReviews instead of only the item's own
// ReviewType.
type recordingExecutor struct {
	mu    sync.Mutex
	calls []string
	fail  map[string]bool
}

func (r *recordingExecutor) Call(ctx context.Context, reviewType string, rc review.Context, model string) ([]byte, []review.Finding, error) {
	r.mu.Lock()
	r.calls = append(r.calls, reviewType)
	fail := r.fail[reviewType]
	r.mu.Unlock()
	if fail {
		return nil, nil, &review.ExecError{Type: review.ErrReviewFailed, Err: assert.AnError}
	}
	return []byte("{}"), []review.Finding{{Severity: "info", Message: "ok"}}, nil
}

// multiReviewDef configures a single REVIEW-class item whose own
// review_type is "security" but whose workflow-level required_reviews spans
// two types, exercising the quorum-across-multiple-review-types contract.
func multiReviewDef(minimumRequired int, onInsufficient string) *workflowdef.WorkflowDef {
	return &workflowdef.WorkflowDef{
		Name: "multi-review",
		Settings: workflowdef.Settings{
			SupervisionMode: "zero_human",
			Review: workflowdef.ReviewSettings{
				RequiredReviews: []string{"security", "quality"},
				MinimumRequired: minimumRequired,
				OnInsufficient:  onInsufficient,
			},
		},
		Phases: []workflowdef.PhaseDef{
			{
				ID: "review-phase",
				Items: []workflowdef.ItemDef{
					{ID: "ship-it", Required: true, Risk: workflowdef.RiskHigh, ReviewType: "security", ReviewModel: "gpt"},
				},
			},
		},
	}
}

func newReviewTestEngine(t *testing.T, def *workflowdef.WorkflowDef, exec *recordingExecutor) *Engine {
	t.Helper()
	dir := t.TempDir()
	p, err := paths.NewPaths(dir, "sess1", paths.ModePortable)
	require.NoError(t, err)

	locks := lock.NewManager(p.LockDir())
	auditLog := audit.New(p.AuditFile())
	gates := gate.NewEngine(p.SessionDir(), def.Settings, nil, nil)
	router := review.NewRouter(exec)

	return NewEngine(p, locks, auditLog, def, gates, router)
}

func TestCompleteDispatchesEveryRequiredReviewType(t *testing.T) {
	exec := &recordingExecutor{fail: map[string]bool{}}
	e := newReviewTestEngine(t, multiReviewDef(2, "block"), exec)

	_, err := e.Start("ship a thing", nil)
	require.NoError(t, err)

	_, gateResult, err := e.Complete(context.Background(), "ship-it", "", "agent")
	require.NoError(t, err)
	require.True(t, gateResult.Passed)

	exec.mu.Lock()
	defer exec.mu.Unlock()
	assert.ElementsMatch(t, []string{"security", "quality"}, exec.calls)
}

func TestCompleteBlocksWhenQuorumUnmet(t *testing.T) {
	exec := &recordingExecutor{fail: map[string]bool{"quality": true}}
	e := newReviewTestEngine(t, multiReviewDef(2, "block"), exec)

	_, err := e.Start("ship a thing", nil)
	require.NoError(t, err)

	_, _, err = e.Complete(context.Background(), "ship-it", "", "agent")
	assert.ErrorIs(t, err, ErrGateFailed)
}

func TestCompleteWarnsWhenQuorumUnmetAndOnInsufficientWarn(t *testing.T) {
	exec := &recordingExecutor{fail: map[string]bool{"quality": true}}
	e := newReviewTestEngine(t, multiReviewDef(2, "warn"), exec)

	_, err := e.Start("ship a thing", nil)
	require.NoError(t, err)

	_, gateResult, err := e.Complete(context.Background(), "ship-it", "", "agent")
	require.NoError(t, err)
	assert.True(t, gateResult.Passed)
}

func TestCompleteSingleReviewTypeWhenRequiredReviewsEmpty(t *testing.T) {
	def := multiReviewDef(1, "block")
	def.Settings.Review.RequiredReviews = nil
	exec := &recordingExecutor{fail: map[string]bool{}}
	e := newReviewTestEngine(t, def, exec)

	_, err := e.Start("ship a thing", nil)
	require.NoError(t, err)

	_, gateResult, err := e.Complete(context.Background(), "ship-it", "", "agent")
	require.NoError(t, err)
	assert.True(t, gateResult.Passed)

	exec.mu.Lock()
	defer exec.mu.Unlock()
	assert.Equal(t, []string{"security"}, exec.calls)
}
