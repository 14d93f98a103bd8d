package workflow

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/agentctl/orchestrator/internal/audit"
	"github.com/agentctl/orchestrator/internal/gate"
	"github.com/agentctl/orchestrator/internal/mode"
	"github.com/agentctl/orchestrator/internal/review"
	"github.com/agentctl/orchestrator/internal/workflowdef"
)

// Start creates a new workflow for this session from def. It fails with
// ErrAlreadyActive if a non-terminal workflow already exists in this
// session.
func (e *Engine) Start(task string, constraints []string) (*WorkflowState, error) {
	if err := e.Paths.EnsureSessionDir(false); err != nil {
		return nil, err
	}

	var result *WorkflowState
	err := e.withExclusive(func() error {
		existing, err := e.loadState()
		if err == nil && !existing.IsTerminal() {
			return ErrAlreadyActive
		}

		st := &WorkflowState{
			WorkflowID:  newWorkflowID(),
			Task:        task,
			Constraints: constraints,
			CreatedAt:   e.now().UTC().Format(time.RFC3339Nano),
			Metadata:    map[string]string{},
			Phases:      make([]PhaseState, 0, len(e.Def.Phases)),
		}
		for _, pd := range e.Def.Phases {
			items := make([]ItemState, 0, len(pd.Items))
			for _, id := range pd.Items {
				items = append(items, ItemState{ID: id.ID, Status: ItemPending})
			}
			st.Phases = append(st.Phases, PhaseState{ID: pd.ID, Status: PhasePending, Items: items})
		}
		if len(st.Phases) > 0 {
			st.PhaseCursor = st.Phases[0].ID
			st.Phases[0].Status = PhaseInProgress
			st.Phases[0].StartedAt = st.CreatedAt
		}

		if err := e.saveState(st); err != nil {
			return err
		}
		result = st

		e.appendAudit(audit.KindWorkflowStart, map[string]any{"workflow_id": st.WorkflowID, "task": task})
		e.emit("workflow_start", map[string]any{"workflow_id": st.WorkflowID})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Status returns the current cursor, phase, and item state without
// mutating anything.
func (e *Engine) Status() (*WorkflowState, error) {
	return e.loadState()
}

// currentPhaseAndDef returns the active phase definition and state, or
// ErrPhaseNotFound / ErrNotCurrentPhase style errors.
func (e *Engine) currentPhaseAndDef(st *WorkflowState) (*PhaseState, *workflowdef.PhaseDef, error) {
	ps, ok := st.Phase(st.PhaseCursor)
	if !ok {
		return nil, nil, ErrPhaseNotFound
	}
	pd, ok := e.Def.Phase(st.PhaseCursor)
	if !ok {
		return nil, nil, ErrPhaseNotFound
	}
	return ps, pd, nil
}

// Complete runs itemID's gate (or review) and, on success, marks it
// completed. On failure it marks the item failed and increments
// retry_count; the agent decides whether to retry, per spec §4.7.
//
// Per spec §5, the state lock is held only across the read-snapshot and
// write-result halves; the gate/review call itself runs lock-free.
func (e *Engine) Complete(ctx context.Context, itemID string, notes string, completedBy string) (*WorkflowState, *GateResult, error) {
	var st *WorkflowState
	var itemDef *workflowdef.ItemDef
	var phaseID string

	err := e.withExclusive(func() error {
		loaded, err := e.loadState()
		if err != nil {
			return err
		}
		if loaded.IsTerminal() {
			return ErrAlreadyTerminal
		}
		ps, pd, err := e.currentPhaseAndDef(loaded)
		if err != nil {
			return err
		}
		item, ok := ps.Item(itemID)
		if !ok {
			return ErrNotCurrentPhase
		}
		if item.Status == ItemCompleted {
			return ErrAlreadyCompleted
		}
		id, ok := pd.Item(itemID)
		if !ok {
			return ErrItemNotFound
		}
		item.Status = ItemInProgress
		st = loaded
		itemDef = id
		phaseID = pd.ID
		return e.saveState(st)
	})
	if err != nil {
		return nil, nil, err
	}

	// --- lock released: run the gate/review lock-free ---
	var gateResult *gate.Result
	var reviewMeta *ReviewMetadata
	var evalErr error

	if itemDef.ReviewType != "" && e.Reviewer != nil {
		gateResult, reviewMeta, evalErr = e.runReview(ctx, itemDef)
	} else {
		gateResult, evalErr = e.Gates.Evaluate(ctx, itemID, itemDef.Risk, itemDef.Verification)
	}
	if evalErr != nil {
		return nil, nil, evalErr
	}

	// --- reacquire lock and apply the result ---
	var finalState *WorkflowState
	err = e.withExclusive(func() error {
		loaded, err := e.loadState()
		if err != nil {
			return err
		}
		ps, _, err := e.currentPhaseAndDef(loaded)
		if err != nil {
			return err
		}
		item, ok := ps.Item(itemID)
		if !ok {
			return ErrNotCurrentPhase
		}
		if item.Status == ItemCompleted {
			return ErrAlreadyCompleted
		}

		item.Notes = notes
		item.CompletedBy = completedBy
		item.GateResult = toStateGateResult(gateResult)
		item.ReviewMetadata = reviewMeta

		if !gateResult.Passed {
			item.Status = ItemFailed
			item.RetryCount++
			e.appendAudit(audit.KindGateFail, map[string]any{"item_id": itemID, "details": gateResult.Details})
			e.emit("gate_fail", map[string]any{"item_id": itemID})
		} else {
			item.Status = ItemCompleted
			item.CompletedAt = e.now().UTC().Format(time.RFC3339Nano)
			e.appendAudit(audit.KindGatePass, map[string]any{"item_id": itemID})
			e.appendAudit(audit.KindItemComplete, map[string]any{"item_id": itemID, "phase_id": phaseID})
			e.emit("item_complete", map[string]any{"item_id": itemID, "phase_id": phaseID})
		}
		finalState = loaded
		return e.saveState(loaded)
	})
	if err != nil {
		return nil, nil, err
	}

	if !gateResult.Passed {
		return finalState, toStateGateResult(gateResult), fmt.Errorf("%w: %v", ErrGateFailed, gateResult.Details)
	}
	return finalState, toStateGateResult(gateResult), nil
}

// runReview dispatches itemDef's review across every review type required
// for it and applies the quorum policy. Settings.Review.RequiredReviews
// names the full set of review types a REVIEW-class item must satisfy
// (e.g. [security, quality]); when it's empty, the item's own ReviewType
// is the sole review dispatched (the common single-review-per-item case).
// Every type is fanned out concurrently via review.DispatchAll. When
// quorum isn't met and on_insufficient="warn", the item still passes (with
// a warning recorded) per spec §4.8; when on_insufficient="block" (the
// default), a failed quorum fails the item and ultimately blocks Advance
// via the usual required-item check.
func (e *Engine) runReview(ctx context.Context, itemDef *workflowdef.ItemDef) (*gate.Result, *ReviewMetadata, error) {
	rs := e.Def.Settings.Review
	reviewTypes := rs.RequiredReviews
	if len(reviewTypes) == 0 {
		reviewTypes = []string{itemDef.ReviewType}
	}

	// Correlation ids are generated up front (not inside build) because
	// build is invoked concurrently by DispatchAll's fan-out.
	correlationIDs := make(map[string]string, len(reviewTypes))
	for _, rt := range reviewTypes {
		correlationIDs[rt] = uuid.New().String()
	}
	build := func(reviewType string) review.Request {
		return review.Request{
			CorrelationID:    correlationIDs[reviewType],
			ReviewType:       reviewType,
			PrimaryModel:     itemDef.ReviewModel,
			FallbackChain:    rs.FallbackChains[reviewType],
			MaxFallbackTries: rs.MaxFallbackTries,
		}
	}
	for _, rt := range reviewTypes {
		e.appendAudit(audit.KindReviewStarted, map[string]any{"review_type": rt, "correlation_id": correlationIDs[rt]})
	}

	results := review.DispatchAll(ctx, e.Reviewer, reviewTypes, build)

	for _, rt := range reviewTypes {
		res := results[rt]
		e.appendAudit(audit.KindReviewCompleted, map[string]any{
			"review_type":    rt,
			"correlation_id": correlationIDs[rt],
			"success":        res.Success,
			"was_fallback":   res.WasFallback,
		})
	}

	primaryType := itemDef.ReviewType
	if primaryType == "" {
		primaryType = reviewTypes[0]
	}
	primary := results[primaryType]
	meta := &ReviewMetadata{
		CorrelationID:  correlationIDs[primaryType],
		ReviewType:     primaryType,
		ModelUsed:      primary.Model,
		WasFallback:    primary.WasFallback,
		FallbackReason: primary.FallbackReason,
		FallbacksTried: primary.FallbacksTried,
		ErrorType:      string(primary.ErrorType),
	}

	quorum := review.QuorumPolicy{
		RequiredReviews: reviewTypes,
		MinimumRequired: maxInt(rs.MinimumRequired, 1),
		OnInsufficient:  rs.OnInsufficient,
	}
	outcome := quorum.EvaluateQuorum(results)

	if outcome.Satisfied {
		return &gate.Result{Passed: true}, meta, nil
	}
	if rs.OnInsufficient == "warn" {
		e.appendAudit(audit.KindGatePass, map[string]any{
			"item_id": itemDef.ID, "warning": fmt.Sprintf("review quorum not met for %v but on_insufficient=warn", reviewTypes),
		})
		return &gate.Result{Passed: true, Details: []string{fmt.Sprintf("warning: review quorum not met for %v", reviewTypes)}}, meta, nil
	}
	return &gate.Result{Passed: false, Details: []string{fmt.Sprintf("review quorum not met for %v (%d/%d succeeded)", reviewTypes, outcome.Succeeded, quorum.MinimumRequired)}}, meta, nil
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func toStateGateResult(g *gate.Result) *GateResult {
	if g == nil {
		return nil
	}
	return &GateResult{Passed: g.Passed, Details: g.Details, ExitCode: g.ExitCode, ArtifactPath: g.ArtifactPath}
}

// Skip marks itemID skipped with reason. It requires item.Skippable=true
// or an active emergency override (mode.AllowEmergencySkip); reason must
// be non-empty.
func (e *Engine) Skip(itemID string, reason string) (*WorkflowState, error) {
	if reason == "" {
		return nil, ErrMissingReason
	}

	var st *WorkflowState
	err := e.withExclusive(func() error {
		loaded, err := e.loadState()
		if err != nil {
			return err
		}
		if loaded.IsTerminal() {
			return ErrAlreadyTerminal
		}
		ps, pd, err := e.currentPhaseAndDef(loaded)
		if err != nil {
			return err
		}
		item, ok := ps.Item(itemID)
		if !ok {
			return ErrNotCurrentPhase
		}
		id, ok := pd.Item(itemID)
		if !ok {
			return ErrItemNotFound
		}

		if !id.Skippable && !mode.AllowEmergencySkip() {
			return ErrNotSkippable
		}

		item.Status = ItemSkipped
		item.SkipReason = reason
		st = loaded

		if !id.Skippable {
			e.appendAudit(audit.KindEmergencyOverride, map[string]any{"item_id": itemID, "reason": reason})
		}
		e.appendAudit(audit.KindItemSkip, map[string]any{"item_id": itemID, "reason": reason})
		e.emit("item_skip", map[string]any{"item_id": itemID})
		return e.saveState(loaded)
	})
	if err != nil {
		return nil, err
	}
	return st, nil
}

// Advance moves the phase cursor forward if every required item in the
// current phase is terminal and — for phases containing review items —
// quorum holds. Otherwise it returns a *PhaseIncompleteError enumerating
// blockers.
func (e *Engine) Advance() (*WorkflowState, error) {
	var st *WorkflowState
	err := e.withExclusive(func() error {
		loaded, err := e.loadState()
		if err != nil {
			return err
		}
		if loaded.IsTerminal() {
			return ErrAtTerminal
		}
		ps, pd, err := e.currentPhaseAndDef(loaded)
		if err != nil {
			return err
		}

		var blockers []string
		reviewBlocked := false
		for i := range ps.Items {
			item := &ps.Items[i]
			id, _ := pd.Item(item.ID)
			if id == nil || !id.Required {
				continue
			}
			switch item.Status {
			case ItemCompleted:
				continue
			case ItemSkipped:
				if item.SkipReason == "" {
					blockers = append(blockers, item.ID)
				}
				continue
			default:
				blockers = append(blockers, item.ID)
				if id.ReviewType != "" && item.Status == ItemFailed {
					reviewBlocked = true
				}
			}
		}
		if len(blockers) > 0 {
			if reviewBlocked {
				return fmt.Errorf("%w: phase %s blocked by unmet review quorum: %v", ErrReviewThreshold, pd.ID, blockers)
			}
			return &PhaseIncompleteError{PhaseID: pd.ID, Blockers: blockers}
		}

		ps.Status = PhaseCompleted
		ps.CompletedAt = e.now().UTC().Format(time.RFC3339Nano)

		nextIdx := -1
		for i, p := range e.Def.Phases {
			if p.ID == pd.ID {
				nextIdx = i + 1
				break
			}
		}
		if nextIdx >= 0 && nextIdx < len(e.Def.Phases) {
			next := e.Def.Phases[nextIdx]
			nps, _ := loaded.Phase(next.ID)
			nps.Status = PhaseInProgress
			nps.StartedAt = e.now().UTC().Format(time.RFC3339Nano)
			loaded.PhaseCursor = next.ID
		} else {
			loaded.PhaseCursor = ""
		}

		st = loaded
		e.appendAudit(audit.KindPhaseTransition, map[string]any{"from": pd.ID, "to": loaded.PhaseCursor})
		e.emit("phase_transition", map[string]any{"from": pd.ID, "to": loaded.PhaseCursor})
		return e.saveState(loaded)
	})
	if err != nil {
		return nil, err
	}
	return st, nil
}

// Finish marks the workflow terminal. abandon=true always succeeds;
// abandon=false requires every phase to be completed or skipped.
func (e *Engine) Finish(abandon bool) (*WorkflowState, error) {
	var st *WorkflowState
	err := e.withExclusive(func() error {
		loaded, err := e.loadState()
		if err != nil {
			return err
		}
		if loaded.IsTerminal() {
			return ErrAlreadyTerminal
		}

		if !abandon {
			for _, ps := range loaded.Phases {
				if ps.Status != PhaseCompleted && ps.Status != PhaseSkipped {
					return ErrNotAllPhasesComplete
				}
			}
			loaded.Terminal = "completed"
		} else {
			loaded.Terminal = "abandoned"
		}

		st = loaded
		e.appendAudit(audit.KindWorkflowFinish, map[string]any{"workflow_id": loaded.WorkflowID, "terminal": loaded.Terminal})
		e.emit("workflow_finish", map[string]any{"workflow_id": loaded.WorkflowID, "terminal": loaded.Terminal})
		return e.saveState(loaded)
	})
	if err != nil {
		return nil, err
	}
	return st, nil
}
