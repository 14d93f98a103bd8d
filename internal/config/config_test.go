package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Output != "text" {
		t.Errorf("Default Output = %q, want %q", cfg.Output, "text")
	}
	if cfg.WorkflowDefPath != "workflow.yaml" {
		t.Errorf("Default WorkflowDefPath = %q, want %q", cfg.WorkflowDefPath, "workflow.yaml")
	}
	if cfg.Verbose {
		t.Error("Default Verbose = true, want false")
	}
	if cfg.LockTimeoutSeconds != defaultLockTimeoutSecs {
		t.Errorf("Default LockTimeoutSeconds = %d, want %d", cfg.LockTimeoutSeconds, defaultLockTimeoutSecs)
	}
	if cfg.StaleSessionHours != defaultStaleSessionHours {
		t.Errorf("Default StaleSessionHours = %d, want %d", cfg.StaleSessionHours, defaultStaleSessionHours)
	}
}

func TestMerge(t *testing.T) {
	dst := Default()
	src := &Config{
		Output:          "json",
		WorkflowDefPath: "/custom/workflow.yaml",
	}

	result := merge(dst, src)

	if result.Output != "json" {
		t.Errorf("merge Output = %q, want %q", result.Output, "json")
	}
	if result.WorkflowDefPath != "/custom/workflow.yaml" {
		t.Errorf("merge WorkflowDefPath = %q, want %q", result.WorkflowDefPath, "/custom/workflow.yaml")
	}
	// Defaults should be preserved when not overridden.
	if result.LockTimeoutSeconds != defaultLockTimeoutSecs {
		t.Errorf("merge preserved LockTimeoutSeconds = %d, want %d", result.LockTimeoutSeconds, defaultLockTimeoutSecs)
	}
}

func TestMerge_VerboseIsOROnly(t *testing.T) {
	dst := Default()
	if dst.Verbose {
		t.Fatal("Precondition: default Verbose should be false")
	}

	src := &Config{Verbose: true}
	result := merge(dst, src)
	if !result.Verbose {
		t.Error("merge with src.Verbose=true should set Verbose=true")
	}

	// merge never turns a true back to false; zero-value src leaves dst untouched.
	dst2 := &Config{Verbose: true}
	result2 := merge(dst2, &Config{})
	if !result2.Verbose {
		t.Error("merge with zero-value src should not clear an already-true Verbose")
	}
}

func TestMerge_ReviewerArgvOverride(t *testing.T) {
	dst := Default()
	src := &Config{Reviewer: ReviewerConfig{Argv: []string{"review-cli", "--model", "{model}"}, TimeoutSeconds: 30}}

	result := merge(dst, src)
	if len(result.Reviewer.Argv) != 3 || result.Reviewer.Argv[0] != "review-cli" {
		t.Errorf("merge Reviewer.Argv = %v, want override applied", result.Reviewer.Argv)
	}
	if result.Reviewer.TimeoutSeconds != 30 {
		t.Errorf("merge Reviewer.TimeoutSeconds = %d, want 30", result.Reviewer.TimeoutSeconds)
	}
}

func TestLoadFromPath(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := "output: json\nverbose: true\nlock_timeout_seconds: 45\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := loadFromPath(path)
	if err != nil {
		t.Fatalf("loadFromPath: %v", err)
	}
	if cfg.Output != "json" {
		t.Errorf("Output = %q, want %q", cfg.Output, "json")
	}
	if !cfg.Verbose {
		t.Error("Verbose = false, want true")
	}
	if cfg.LockTimeoutSeconds != 45 {
		t.Errorf("LockTimeoutSeconds = %d, want 45", cfg.LockTimeoutSeconds)
	}
}

func TestLoadFromPath_Missing(t *testing.T) {
	cfg, err := loadFromPath(filepath.Join(t.TempDir(), "missing.yaml"))
	if err == nil {
		t.Error("expected error for missing file")
	}
	if cfg != nil {
		t.Errorf("cfg = %+v, want nil on error", cfg)
	}
}

func TestLoadFromPath_Empty(t *testing.T) {
	cfg, err := loadFromPath("")
	if err != nil {
		t.Fatalf("loadFromPath(\"\"): %v", err)
	}
	if cfg != nil {
		t.Errorf("cfg = %+v, want nil for empty path", cfg)
	}
}

func TestApplyEnv(t *testing.T) {
	t.Setenv("ORCHESTRATOR_OUTPUT", "json")
	t.Setenv("ORCHESTRATOR_VERBOSE", "1")
	t.Setenv("ORCHESTRATOR_MODE", "zero_human")

	cfg := applyEnv(Default())
	if cfg.Output != "json" {
		t.Errorf("Output = %q, want %q", cfg.Output, "json")
	}
	if !cfg.Verbose {
		t.Error("Verbose = false, want true")
	}
	if cfg.SupervisionMode != "zero_human" {
		t.Errorf("SupervisionMode = %q, want %q", cfg.SupervisionMode, "zero_human")
	}
}

func TestLoadPrecedence(t *testing.T) {
	repoRoot := t.TempDir()
	projectDir := filepath.Join(repoRoot, ".orchestrator")
	if err := os.MkdirAll(projectDir, 0o700); err != nil {
		t.Fatalf("mkdir project config dir: %v", err)
	}
	projectPath := filepath.Join(projectDir, "config.yaml")
	if err := os.WriteFile(projectPath, []byte("output: json\n"), 0o600); err != nil {
		t.Fatalf("write project config: %v", err)
	}

	t.Setenv("ORCHESTRATOR_CONFIG", "")
	cfg, err := Load(repoRoot, &Config{Verbose: true})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Output != "json" {
		t.Errorf("Output = %q, want project config's %q", cfg.Output, "json")
	}
	if !cfg.Verbose {
		t.Error("Verbose = false, want flag override true")
	}
}
