// Package session implements C2: creating, listing, and switching between
// sessions, and maintaining the "current session" pointer, grounded on the
// teacher's storage.FileStorage session-directory conventions and
// internal/rpi/worktree.go's run-id/worktree pairing.
package session

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/agentctl/orchestrator/internal/lock"
	"github.com/agentctl/orchestrator/internal/paths"
	"github.com/agentctl/orchestrator/internal/state"
)

var (
	// ErrSessionConflict is returned when the current-session pointer is
	// being changed by another process at the same time.
	ErrSessionConflict = errors.New("SessionConflict")
	// ErrNoCurrentSession is returned by GetCurrent when no session has
	// ever been selected.
	ErrNoCurrentSession = errors.New("no current session")
	// ErrSessionNotFound is returned when a named session has no directory.
	ErrSessionNotFound = errors.New("session not found")
)

const currentPointerLockName = "session"

// Meta is the persisted content of a session's meta.json.
type Meta struct {
	ID           string `json:"id"`
	CreatedAt    string `json:"created_at"`
	RepoRoot     string `json:"repo_root"`
	GitRemote    string `json:"git_remote,omitempty"`
	WorktreePath string `json:"worktree_path,omitempty"`
}

// Info decorates Meta with derived, non-persisted fields.
type Info struct {
	Meta
	Stale bool `json:"stale"`
}

// GCReport lists stale sessions found by a GC pass. Mirrors the teacher's
// maturity-eviction reporting style: it names candidates, it never deletes.
type GCReport struct {
	CheckedAt string `json:"checked_at"`
	Stale     []Info `json:"stale_sessions"`
}

// Manager creates and switches sessions under one repo's containment
// directory. The current-pointer lock lives at the containment root, not
// inside any one session directory, since it protects a resource shared
// across every session.
type Manager struct {
	Paths *paths.Paths
	Locks *lock.Manager

	now func() time.Time
}

// NewManager builds a Manager rooted at p.RepoRoot. p's SessionID is
// ignored; CreateSession and WithSession each derive their own.
func NewManager(p *paths.Paths) *Manager {
	return &Manager{
		Paths: p,
		Locks: lock.NewManager(filepath.Join(p.ContainmentRoot(), "locks")),
		now:   time.Now,
	}
}

// GenerateID creates a 12-char crypto-random hex session identifier,
// falling back to a timestamp-derived id if the CSPRNG is unavailable.
func GenerateID() string {
	b := make([]byte, 6)
	if _, err := rand.Read(b); err != nil {
		return fmt.Sprintf("%012x", time.Now().UnixNano()&0xffffffffffff)
	}
	return hex.EncodeToString(b)
}

// CreateSession creates a new session directory under the containment root,
// writes its meta.json, and sets it as current. worktreePath is optional;
// pass "" when the session is not backed by an isolated worktree.
func (m *Manager) CreateSession(worktreePath string) (string, error) {
	id := GenerateID()
	sp := m.Paths.WithSession(id)

	if err := sp.EnsureSessionDir(false); err != nil {
		return "", fmt.Errorf("create session dir: %w", err)
	}

	meta := Meta{
		ID:           id,
		CreatedAt:    m.now().UTC().Format(time.RFC3339Nano),
		RepoRoot:     sp.RepoRoot,
		GitRemote:    resolveGitRemote(sp.RepoRoot),
		WorktreePath: worktreePath,
	}
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal session meta: %w", err)
	}
	if err := state.WriteFileAtomic(sp.MetaFile(), data); err != nil {
		return "", fmt.Errorf("write session meta: %w", err)
	}

	if err := m.SetCurrent(id); err != nil {
		return id, err
	}
	return id, nil
}

// SetCurrent atomically rewrites the current-session pointer. It returns
// ErrSessionConflict if another process holds the pointer lock past the
// acquisition timeout, per spec 4.2's "current changed concurrently" case.
func (m *Manager) SetCurrent(id string) error {
	if _, err := os.Stat(m.Paths.WithSession(id).MetaFile()); err != nil {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}

	h, err := m.Locks.Acquire(currentPointerLockName, lock.Exclusive, 5*time.Second)
	if err != nil {
		if errors.Is(err, lock.ErrTimeout) {
			return ErrSessionConflict
		}
		return err
	}
	defer h.Close()

	return state.WriteFileAtomic(m.Paths.CurrentPointerFile(), []byte(id+"\n"))
}

// GetCurrent reads the current-session pointer.
func (m *Manager) GetCurrent() (string, error) {
	data, err := os.ReadFile(m.Paths.CurrentPointerFile())
	if err != nil {
		if os.IsNotExist(err) {
			return "", ErrNoCurrentSession
		}
		return "", err
	}
	id := strings.TrimSpace(string(data))
	if id == "" {
		return "", ErrNoCurrentSession
	}
	return id, nil
}

// ListSessions enumerates every session directory under the containment
// root. When staleAfter is positive, sessions older than staleAfter with no
// terminal state are flagged Stale; ListSessions never deletes anything.
func (m *Manager) ListSessions(staleAfter time.Duration) ([]Info, error) {
	entries, err := os.ReadDir(m.Paths.SessionsRoot())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read sessions root: %w", err)
	}

	infos := make([]Info, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		sp := m.Paths.WithSession(e.Name())
		meta, err := readMeta(sp.MetaFile())
		if err != nil {
			continue // no meta.json yet, or unreadable; skip rather than fail the whole listing
		}
		infos = append(infos, Info{Meta: meta, Stale: m.isStale(sp, meta, staleAfter)})
	}

	sort.Slice(infos, func(i, j int) bool { return infos[i].CreatedAt < infos[j].CreatedAt })
	return infos, nil
}

// GC reports sessions ListSessions would flag Stale, as a standalone
// diagnostic. It is read-only.
func (m *Manager) GC(staleAfter time.Duration) (*GCReport, error) {
	infos, err := m.ListSessions(staleAfter)
	if err != nil {
		return nil, err
	}
	report := &GCReport{CheckedAt: m.now().UTC().Format(time.RFC3339Nano)}
	for _, info := range infos {
		if info.Stale {
			report.Stale = append(report.Stale, info)
		}
	}
	return report, nil
}

func (m *Manager) isStale(sp *paths.Paths, meta Meta, staleAfter time.Duration) bool {
	if staleAfter <= 0 {
		return false
	}
	created, err := time.Parse(time.RFC3339Nano, meta.CreatedAt)
	if err != nil || m.now().Sub(created) < staleAfter {
		return false
	}
	return !hasTerminalState(sp.StateFile())
}

// hasTerminalState probes state.json's "terminal" field directly rather
// than depending on the workflow package's full state type, keeping session
// free of a dependency edge the package layout doesn't otherwise need.
func hasTerminalState(path string) bool {
	data, err := os.ReadFile(path)
	if err != nil {
		return false
	}
	var probe struct {
		Terminal string `json:"terminal"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return false
	}
	return probe.Terminal != ""
}

func readMeta(path string) (Meta, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Meta{}, err
	}
	var meta Meta
	if err := json.Unmarshal(data, &meta); err != nil {
		return Meta{}, err
	}
	return meta, nil
}

// resolveGitRemote best-effort resolves the "origin" remote URL. A missing
// remote or a non-git directory is not an error at session-creation time.
func resolveGitRemote(repoRoot string) string {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	cmd := exec.CommandContext(ctx, "git", "remote", "get-url", "origin")
	cmd.Dir = repoRoot
	out, err := cmd.Output()
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(out))
}
