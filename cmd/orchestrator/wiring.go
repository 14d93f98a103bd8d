package main

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/agentctl/orchestrator/internal/audit"
	"github.com/agentctl/orchestrator/internal/checkpoint"
	"github.com/agentctl/orchestrator/internal/config"
	"github.com/agentctl/orchestrator/internal/gate"
	"github.com/agentctl/orchestrator/internal/lock"
	"github.com/agentctl/orchestrator/internal/logging"
	"github.com/agentctl/orchestrator/internal/metrics"
	"github.com/agentctl/orchestrator/internal/mode"
	"github.com/agentctl/orchestrator/internal/paths"
	"github.com/agentctl/orchestrator/internal/review"
	"github.com/agentctl/orchestrator/internal/session"
	"github.com/agentctl/orchestrator/internal/workflow"
	"github.com/agentctl/orchestrator/internal/workflowdef"
)

// deps bundles every wired component one CLI invocation needs. It is
// rebuilt fresh per command rather than cached as a package-level
// singleton, so tests (and concurrent invocations) never share state.
type deps struct {
	Cfg     *config.Config
	Paths   *paths.Paths
	Log     *logging.Logger
	Metrics *metrics.Metrics
	Sess    *session.Manager
	Engine  *workflow.Engine
	Store   *checkpoint.Store
	Def     *workflowdef.WorkflowDef
}

// buildDeps resolves the repo root, loads config, resolves (or requires)
// a session id, loads the workflow definition, and wires C1-C10 together.
// requireSession controls whether a missing current-session pointer is an
// error (every workflow-mutating command) or tolerated (session management
// commands, which create the first session).
func buildDeps(requireSession bool) (*deps, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, err
	}
	base := cwd
	if repoFlag != "" {
		base = repoFlag
	}

	rootOnly, err := paths.NewPaths(base, "", paths.ModeNormal)
	if err != nil {
		return nil, err
	}

	cfg, err := config.Load(rootOnly.RepoRoot, flagConfigOverrides())
	if err != nil {
		return nil, err
	}

	log := &logging.Logger{Out: os.Stderr, Verbose: cfg.Verbose}
	sessMgr := session.NewManager(rootOnly)

	sessionID := sessionFlag
	if sessionID == "" {
		sessionID, err = sessMgr.GetCurrent()
		if err != nil {
			if requireSession {
				return nil, err
			}
			sessionID = ""
		}
	}

	p := rootOnly.WithSession(sessionID)

	d := &deps{Cfg: cfg, Paths: p, Log: log, Metrics: metrics.New(), Sess: sessMgr}
	if sessionID == "" {
		return d, nil
	}

	defPath := cfg.WorkflowDefPath
	if !filepath.IsAbs(defPath) {
		defPath = filepath.Join(p.RepoRoot, defPath)
	}
	def, err := workflowdef.Load(defPath)
	if err != nil {
		return nil, err
	}
	if cfg.SupervisionMode != "" {
		def.Settings.SupervisionMode = cfg.SupervisionMode
	}
	d.Def = def

	locks := lock.NewManager(p.LockDir())
	auditLog := audit.New(p.AuditFile())

	detection := mode.Detect(def.Settings.SupervisionMode, nil)
	log.Notef("detected operator mode: %s (%s)", detection.Operator, detection.Reason)
	policy := mode.NewPolicy(def.Settings, detection, false)

	gates := gate.NewEngine(p.SessionDir(), def.Settings, policy, promptApprove)
	gates.Metrics = d.Metrics

	executor := &review.CommandExecutor{
		ArgvForModel: func(reviewType, model string) []string {
			return substituteReviewArgv(cfg.Reviewer.Argv, reviewType, model)
		},
		Timeout: time.Duration(cfg.Reviewer.TimeoutSeconds) * time.Second,
	}
	reviewer := review.NewRouter(executor)
	reviewer.Metrics = d.Metrics

	d.Engine = workflow.NewEngine(p, locks, auditLog, def, gates, reviewer)
	d.Engine.Metrics = d.Metrics
	d.Engine.LockTimeout = time.Duration(cfg.LockTimeoutSeconds) * time.Second
	d.Store = checkpoint.NewStore(p.CheckpointsDir(), OrchestratorVersion)
	return d, nil
}

func flagConfigOverrides() *config.Config {
	overrides := &config.Config{Verbose: verboseFlag, Output: outputFlag}
	return overrides
}

func substituteReviewArgv(argv []string, reviewType, model string) []string {
	out := make([]string, len(argv))
	for i, a := range argv {
		a = strings.ReplaceAll(a, "{review_type}", reviewType)
		a = strings.ReplaceAll(a, "{model}", model)
		out[i] = a
	}
	return out
}

func (d *deps) output() string {
	if d.Cfg.Output != "" {
		return d.Cfg.Output
	}
	return "text"
}

func staleAfter(cfg *config.Config) time.Duration {
	return time.Duration(cfg.StaleSessionHours) * time.Hour
}

func parseDurationFlag(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	if d, err := time.ParseDuration(s); err == nil {
		return d
	}
	if hours, err := strconv.Atoi(s); err == nil {
		return time.Duration(hours) * time.Hour
	}
	return fallback
}
