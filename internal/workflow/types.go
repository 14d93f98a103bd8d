// Package workflow owns the state machine: items, phases, completions,
// skips, advances, and event emission (C7). It is the hub the rest of the
// core is wired through, per spec §2's data-flow description.
package workflow

import (
	"encoding/json"
	"time"
)

// ItemStatus is the lifecycle state of one ItemState.
type ItemStatus string

const (
	ItemPending    ItemStatus = "pending"
	ItemInProgress ItemStatus = "in_progress"
	ItemCompleted  ItemStatus = "completed"
	ItemSkipped    ItemStatus = "skipped"
	ItemFailed     ItemStatus = "failed"
)

// PhaseStatus is the lifecycle state of one PhaseState.
type PhaseStatus string

const (
	PhasePending    PhaseStatus = "pending"
	PhaseInProgress PhaseStatus = "in_progress"
	PhaseCompleted  PhaseStatus = "completed"
	PhaseSkipped    PhaseStatus = "skipped"
)

// ReviewMetadata records how a review-gated item was satisfied.
type ReviewMetadata struct {
	CorrelationID  string   `json:"correlation_id,omitempty"`
	ReviewType     string   `json:"review_type"`
	ModelUsed      string   `json:"model_used"`
	WasFallback    bool     `json:"was_fallback"`
	FallbackReason string   `json:"fallback_reason,omitempty"`
	FallbacksTried []string `json:"fallbacks_tried,omitempty"`
	ErrorType      string   `json:"error_type,omitempty"`
	RawOutputRef   string   `json:"raw_output_ref,omitempty"`
}

// GateResult mirrors gate.Result for embedding in persisted item state.
type GateResult struct {
	Passed       bool     `json:"passed"`
	Details      []string `json:"details,omitempty"`
	ExitCode     *int     `json:"exit_code,omitempty"`
	ArtifactPath string   `json:"artifact_path,omitempty"`
}

// ItemState is the persisted runtime state of one item.
type ItemState struct {
	ID             string          `json:"id"`
	Status         ItemStatus      `json:"status"`
	Notes          string          `json:"notes,omitempty"`
	SkipReason     string          `json:"skip_reason,omitempty"`
	GateResult     *GateResult     `json:"gate_result,omitempty"`
	CompletedBy    string          `json:"completed_by,omitempty"`
	CompletedAt    string          `json:"completed_at,omitempty"`
	RetryCount     int             `json:"retry_count"`
	ReviewMetadata *ReviewMetadata `json:"review_metadata,omitempty"`
}

// PhaseState is the persisted runtime state of one phase.
type PhaseState struct {
	ID          string      `json:"id"`
	Status      PhaseStatus `json:"status"`
	StartedAt   string      `json:"started_at,omitempty"`
	CompletedAt string      `json:"completed_at,omitempty"`
	Items       []ItemState `json:"items"`
}

// WorkflowState is the canonical, persisted runtime state for one session,
// matching spec §3.2 field-for-field plus the reserved envelope fields
// (_version/_checksum/_updated_at) internal/state stamps on Save/Load.
type WorkflowState struct {
	WorkflowID  string            `json:"workflow_id"`
	Task        string            `json:"task"`
	Constraints []string          `json:"constraints,omitempty"`
	PhaseCursor string            `json:"phase_cursor"`
	CreatedAt   string            `json:"created_at"`
	UpdatedAtField string         `json:"updated_at"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	Phases      []PhaseState      `json:"phases"`
	Terminal    string            `json:"terminal,omitempty"` // "" | "completed" | "abandoned"

	Version   string `json:"_version"`
	Checksum  string `json:"_checksum"`
	UpdatedAt string `json:"_updated_at"`
}

func (w *WorkflowState) GetVersion() string    { return w.Version }
func (w *WorkflowState) SetVersion(v string)   { w.Version = v }
func (w *WorkflowState) GetChecksum() string   { return w.Checksum }
func (w *WorkflowState) SetChecksum(v string)  { w.Checksum = v }
func (w *WorkflowState) SetUpdatedAt(v string) { w.UpdatedAt = v }

// Phase looks up a phase state by id.
func (w *WorkflowState) Phase(id string) (*PhaseState, bool) {
	for i := range w.Phases {
		if w.Phases[i].ID == id {
			return &w.Phases[i], true
		}
	}
	return nil, false
}

// Item looks up an item state within a phase by id.
func (p *PhaseState) Item(id string) (*ItemState, bool) {
	for i := range p.Items {
		if p.Items[i].ID == id {
			return &p.Items[i], true
		}
	}
	return nil, false
}

// IsTerminal reports whether the workflow has reached a terminal state.
func (w *WorkflowState) IsTerminal() bool {
	return w.Terminal == "completed" || w.Terminal == "abandoned"
}

// Clone returns a deep copy of w for Checkpoint snapshots, obtained via a
// JSON round-trip (the same approach internal/audit.sanitize uses,
// appropriate here since WorkflowState has no unexported fields).
func (w *WorkflowState) Clone() (*WorkflowState, error) {
	data, err := json.Marshal(w)
	if err != nil {
		return nil, err
	}
	var out WorkflowState
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Event is emitted to subscribers on every state transition, schema-less
// per spec §6.1's log.jsonl contract ("consumers tolerate unknown
// fields").
type Event struct {
	TS      string         `json:"ts"`
	Kind    string         `json:"kind"`
	Details map[string]any `json:"details,omitempty"`
}

func newEvent(kind string, details map[string]any) Event {
	return Event{TS: time.Now().UTC().Format(time.RFC3339Nano), Kind: kind, Details: details}
}
