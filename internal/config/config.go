// Package config provides layered configuration for the orchestrator.
// Configuration is loaded from (highest to lowest priority):
// 1. Command-line flags
// 2. Environment variables (ORCHESTRATOR_*)
// 3. Project config (.orchestrator/config.yaml in the repo root)
// 4. Home config (~/.orchestrator/config.yaml)
// 5. Defaults
package config

import (
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds all orchestrator configuration not already owned by a
// WorkflowDef document (workflowdef.Settings covers per-definition policy;
// this covers per-installation defaults).
type Config struct {
	// Output controls the default CLI output format (text, json).
	Output string `yaml:"output" json:"output"`

	// WorkflowDefPath points at the YAML WorkflowDef document the CLI loads.
	WorkflowDefPath string `yaml:"workflow_def" json:"workflow_def"`

	// Verbose enables stderr diagnostics via internal/logging.
	Verbose bool `yaml:"verbose" json:"verbose"`

	// SupervisionMode overrides workflowdef.Settings.SupervisionMode when
	// non-empty ("supervised" | "zero_human" | "hybrid").
	SupervisionMode string `yaml:"supervision_mode" json:"supervision_mode"`

	// LockTimeoutSeconds bounds how long Engine operations wait to acquire
	// the session state lock.
	LockTimeoutSeconds int `yaml:"lock_timeout_seconds" json:"lock_timeout_seconds"`

	// StaleSessionHours is the age (with no terminal state) after which
	// ListSessions/GC flag a session stale.
	StaleSessionHours int `yaml:"stale_session_hours" json:"stale_session_hours"`

	// Reviewer configures the out-of-process review CLI tool.
	Reviewer ReviewerConfig `yaml:"reviewer" json:"reviewer"`
}

// ReviewerConfig names the argv template CommandExecutor uses to invoke an
// external review tool: Argv with "{review_type}" and "{model}" tokens
// substituted at call time.
type ReviewerConfig struct {
	Argv           []string `yaml:"argv" json:"argv"`
	TimeoutSeconds int      `yaml:"timeout_seconds" json:"timeout_seconds"`
}

// Default config values (used in resolution).
const (
	defaultOutput            = "text"
	defaultWorkflowDefPath   = "workflow.yaml"
	defaultLockTimeoutSecs   = 30
	defaultStaleSessionHours = 72
)

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Output:             defaultOutput,
		WorkflowDefPath:    defaultWorkflowDefPath,
		Verbose:            false,
		SupervisionMode:    "",
		LockTimeoutSeconds: defaultLockTimeoutSecs,
		StaleSessionHours:  defaultStaleSessionHours,
		Reviewer:           ReviewerConfig{TimeoutSeconds: 120},
	}
}

// Load loads configuration with proper precedence.
// Priority: flags > env > project > home > defaults.
func Load(repoRoot string, flagOverrides *Config) (*Config, error) {
	cfg := Default()

	if homeConfig, _ := loadFromPath(homeConfigPath()); homeConfig != nil {
		cfg = merge(cfg, homeConfig)
	}
	if projectConfig, _ := loadFromPath(projectConfigPath(repoRoot)); projectConfig != nil {
		cfg = merge(cfg, projectConfig)
	}

	cfg = applyEnv(cfg)

	if flagOverrides != nil {
		cfg = merge(cfg, flagOverrides)
	}
	return cfg, nil
}

func homeConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".orchestrator", "config.yaml")
}

func projectConfigPath(repoRoot string) string {
	if override := strings.TrimSpace(os.Getenv("ORCHESTRATOR_CONFIG")); override != "" {
		return override
	}
	if repoRoot == "" {
		return ""
	}
	return filepath.Join(repoRoot, ".orchestrator", "config.yaml")
}

func loadFromPath(path string) (*Config, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyEnv(cfg *Config) *Config {
	if v := os.Getenv("ORCHESTRATOR_OUTPUT"); v != "" {
		cfg.Output = v
	}
	if v := os.Getenv("ORCHESTRATOR_WORKFLOW_DEF"); v != "" {
		cfg.WorkflowDefPath = v
	}
	if os.Getenv("ORCHESTRATOR_VERBOSE") == "true" || os.Getenv("ORCHESTRATOR_VERBOSE") == "1" {
		cfg.Verbose = true
	}
	if v := os.Getenv("ORCHESTRATOR_MODE"); v != "" {
		cfg.SupervisionMode = v
	}
	return cfg
}

func merge(dst, src *Config) *Config {
	if src.Output != "" {
		dst.Output = src.Output
	}
	if src.WorkflowDefPath != "" {
		dst.WorkflowDefPath = src.WorkflowDefPath
	}
	if src.Verbose {
		dst.Verbose = true
	}
	if src.SupervisionMode != "" {
		dst.SupervisionMode = src.SupervisionMode
	}
	if src.LockTimeoutSeconds != 0 {
		dst.LockTimeoutSeconds = src.LockTimeoutSeconds
	}
	if src.StaleSessionHours != 0 {
		dst.StaleSessionHours = src.StaleSessionHours
	}
	if len(src.Reviewer.Argv) > 0 {
		dst.Reviewer.Argv = src.Reviewer.Argv
	}
	if src.Reviewer.TimeoutSeconds != 0 {
		dst.Reviewer.TimeoutSeconds = src.Reviewer.TimeoutSeconds
	}
	return dst
}
