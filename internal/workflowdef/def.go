// Package workflowdef loads the static WorkflowDef document (phases, items,
// gates, settings) from YAML, grounded on the teacher's config.go layered
// loading style (internal/config/config.go) and its use of gopkg.in/yaml.v3.
package workflowdef

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Risk classifies how costly a skipped or failed item is.
type Risk string

const (
	RiskLow      Risk = "low"
	RiskMedium   Risk = "medium"
	RiskHigh     Risk = "high"
	RiskCritical Risk = "critical"
)

// PhaseType controls how much latitude an agent has within a phase.
type PhaseType string

const (
	PhaseStrict     PhaseType = "strict"
	PhaseGuided     PhaseType = "guided"
	PhaseAutonomous PhaseType = "autonomous"
)

// Validator names the check an ArtifactGate performs.
type Validator string

const (
	ValidatorExists    Validator = "exists"
	ValidatorNotEmpty  Validator = "not_empty"
	ValidatorMinSize   Validator = "min_size"
	ValidatorJSONValid Validator = "json_valid"
	ValidatorYAMLValid Validator = "yaml_valid"
)

// GateKind tags which variant a GateDef holds.
type GateKind string

const (
	GateArtifact   GateKind = "artifact"
	GateCommand    GateKind = "command"
	GateManual     GateKind = "manual"
	GateComposite  GateKind = "composite"
)

// CompositeOp is the boolean operator for a CompositeGate.
type CompositeOp string

const (
	OpAND CompositeOp = "AND"
	OpOR  CompositeOp = "OR"
)

// GateDef is a tagged variant over the four gate kinds. Exactly one of the
// kind-specific fields is populated, selected by Kind.
type GateDef struct {
	Kind GateKind `yaml:"kind"`

	// ArtifactGate fields.
	Path      string    `yaml:"path,omitempty"`
	Validator Validator `yaml:"validator,omitempty"`
	MinSize   int64     `yaml:"min_size,omitempty"`
	BasePath  string    `yaml:"base_path,omitempty"`

	// CommandGate fields.
	Argv           []string          `yaml:"argv,omitempty"`
	ExpectExitCode int               `yaml:"expect_exit_code"`
	TimeoutS       int               `yaml:"timeout_s,omitempty"`
	Stdin          string            `yaml:"stdin,omitempty"`
	EnvOverlay     map[string]string `yaml:"env_overlay,omitempty"`

	// ManualGate fields.
	RationaleRequired bool `yaml:"rationale_required,omitempty"`

	// CompositeGate fields.
	Op       CompositeOp `yaml:"op,omitempty"`
	Children []GateDef   `yaml:"children,omitempty"`
}

// ItemDef is one unit of work within a phase.
type ItemDef struct {
	ID           string   `yaml:"id"`
	Name         string   `yaml:"name"`
	Description  string   `yaml:"description,omitempty"`
	Required     bool     `yaml:"required"`
	Skippable    bool     `yaml:"skippable"`
	Risk         Risk     `yaml:"risk"`
	Verification *GateDef `yaml:"verification,omitempty"`
	Notes        []string `yaml:"notes,omitempty"`
	// ReviewType, when set, marks this item as satisfied via ReviewRouter
	// rather than Verification: when the engine has a Reviewer, Complete
	// runs the review and does not evaluate Verification.
	ReviewType string `yaml:"review_type,omitempty"`
	// ReviewModel names the primary model id for ReviewType's dispatch;
	// ReviewSettings.FallbackChains[ReviewType] supplies the rest of the
	// chain.
	ReviewModel string `yaml:"review_model,omitempty"`
}

// PhaseDef is an ordered grouping of items.
type PhaseDef struct {
	ID            string    `yaml:"id"`
	Name          string    `yaml:"name"`
	Description   string    `yaml:"description,omitempty"`
	PhaseType     PhaseType `yaml:"phase_type"`
	IntendedTools []string  `yaml:"intended_tools,omitempty"`
	Notes         []string  `yaml:"notes,omitempty"`
	Items         []ItemDef `yaml:"items"`
}

// ReviewSettings configures C8's quorum and fallback policy.
type ReviewSettings struct {
	RequiredReviews  []string            `yaml:"required_reviews,omitempty"`
	MinimumRequired  int                 `yaml:"minimum_required"`
	FallbackChains   map[string][]string `yaml:"fallback_chains,omitempty"`
	OnInsufficient   string              `yaml:"on_insufficient"` // "warn" | "block"
	MaxFallbackTries int                 `yaml:"max_fallback_attempts"`
}

// Settings holds workflow-wide configuration referenced by template
// substitution and policy decisions.
type Settings struct {
	SupervisionMode   string         `yaml:"supervision_mode"`
	TestCommand       string         `yaml:"test_command,omitempty"`
	SmokeTestCommand  string         `yaml:"smoke_test_command,omitempty"`
	BuildCommand      string         `yaml:"build_command,omitempty"`
	Review            ReviewSettings `yaml:"review"`
	SaltEnvVar        string         `yaml:"salt_env_var,omitempty"`
}

// WorkflowDef is the static, YAML-loaded definition of a workflow.
type WorkflowDef struct {
	Name     string     `yaml:"name"`
	Version  string     `yaml:"version"`
	Settings Settings   `yaml:"settings"`
	Phases   []PhaseDef `yaml:"phases"`
}

// KnownReviewTypes is the registry of review type identifiers C8
// understands. Loading a def that references an unrecognized type fails
// fast, per the "reject unknown kinds at definition-load time" guidance.
var KnownReviewTypes = map[string]bool{
	"security":    true,
	"quality":     true,
	"consistency": true,
	"holistic":    true,
}

// Load reads and validates a WorkflowDef document from path.
func Load(path string) (*WorkflowDef, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read workflow def: %w", err)
	}
	var def WorkflowDef
	if err := yaml.Unmarshal(data, &def); err != nil {
		return nil, fmt.Errorf("parse workflow def: %w", err)
	}
	if err := Validate(&def); err != nil {
		return nil, err
	}
	return &def, nil
}

// Validate enforces the static invariants from spec §3.1: unique phase and
// item ids, and that every required_reviews entry names a known review
// type.
func Validate(def *WorkflowDef) error {
	seenPhase := make(map[string]bool, len(def.Phases))
	for _, phase := range def.Phases {
		if seenPhase[phase.ID] {
			return fmt.Errorf("duplicate phase id %q", phase.ID)
		}
		seenPhase[phase.ID] = true

		seenItem := make(map[string]bool, len(phase.Items))
		for _, item := range phase.Items {
			if seenItem[item.ID] {
				return fmt.Errorf("duplicate item id %q in phase %q", item.ID, phase.ID)
			}
			seenItem[item.ID] = true

			if err := validateGate(item.Verification); err != nil {
				return fmt.Errorf("item %q: %w", item.ID, err)
			}
		}
	}

	for _, rt := range def.Settings.Review.RequiredReviews {
		if !KnownReviewTypes[rt] {
			return fmt.Errorf("unknown review type %q in required_reviews", rt)
		}
	}
	for rt := range def.Settings.Review.FallbackChains {
		if !KnownReviewTypes[rt] {
			return fmt.Errorf("unknown review type %q in fallback_chains", rt)
		}
	}
	return nil
}

func validateGate(g *GateDef) error {
	if g == nil {
		return nil
	}
	switch g.Kind {
	case GateArtifact, GateCommand, GateManual:
		return nil
	case GateComposite:
		if g.Op != OpAND && g.Op != OpOR {
			return fmt.Errorf("composite gate missing op")
		}
		for i := range g.Children {
			if err := validateGate(&g.Children[i]); err != nil {
				return err
			}
		}
		return nil
	default:
		return fmt.Errorf("unknown gate kind %q", g.Kind)
	}
}

// Phase looks up a phase definition by id.
func (d *WorkflowDef) Phase(id string) (*PhaseDef, bool) {
	for i := range d.Phases {
		if d.Phases[i].ID == id {
			return &d.Phases[i], true
		}
	}
	return nil, false
}

// Item looks up an item definition within a phase by id.
func (p *PhaseDef) Item(id string) (*ItemDef, bool) {
	for i := range p.Items {
		if p.Items[i].ID == id {
			return &p.Items[i], true
		}
	}
	return nil, false
}
