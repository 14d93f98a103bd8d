// Package checkpoint implements C10: named, chained snapshots of workflow
// state, written with the same atomic-write/checksum discipline as
// internal/state, and chain-walked the way the teacher's ratchet.Chain
// links entries — except here each checkpoint is its own immutable file
// rather than one shared JSONL, since checkpoints must remain write-once.
package checkpoint

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/agentctl/orchestrator/internal/state"
)

// ErrNotFound is returned when a checkpoint id has no corresponding file.
var ErrNotFound = errors.New("CheckpointNotFound")

// ErrCycle is returned when a parent chain would form a cycle.
var ErrCycle = errors.New("checkpoint chain cycle detected")

// Checkpoint is one immutable snapshot, matching spec §6.1's
// checkpoint.json schema.
type Checkpoint struct {
	ID              string          `json:"id"`
	ParentID        string          `json:"parent_id,omitempty"`
	Label           string          `json:"label"`
	CreatedAt       string          `json:"created_at"`
	Decisions       []string        `json:"decisions,omitempty"`
	FileManifest    []string        `json:"file_manifest,omitempty"`
	ContextSummary  string          `json:"context_summary,omitempty"`
	StateSnapshot   json.RawMessage `json:"state_snapshot"`
	OrchestratorVer string          `json:"orchestrator_version,omitempty"`

	Version   string `json:"_version"`
	Checksum  string `json:"_checksum"`
	UpdatedAt string `json:"_updated_at"`
}

func (c *Checkpoint) GetVersion() string     { return c.Version }
func (c *Checkpoint) SetVersion(v string)    { c.Version = v }
func (c *Checkpoint) GetChecksum() string    { return c.Checksum }
func (c *Checkpoint) SetChecksum(v string)   { c.Checksum = v }
func (c *Checkpoint) SetUpdatedAt(v string)  { c.UpdatedAt = v }

// Store owns a session's checkpoints directory. Checkpoints are immutable
// once written: Store never overwrites an existing checkpoint file.
type Store struct {
	Dir             string
	OrchestratorVer string
}

// NewStore creates a Store rooted at dir (typically Paths.CheckpointsDir()).
func NewStore(dir, orchestratorVersion string) *Store {
	return &Store{Dir: dir, OrchestratorVer: orchestratorVersion}
}

// GenerateID returns a checkpoint id combining a millisecond timestamp with
// a random suffix, making collisions impossible under high creation rate,
// per spec §4.10.
func GenerateID(now time.Time) string {
	b := make([]byte, 4)
	if _, err := rand.Read(b); err != nil {
		b = []byte{0, 0, 0, 0}
	}
	return fmt.Sprintf("%d-%s", now.UnixMilli(), hex.EncodeToString(b))
}

func (s *Store) path(id string) string {
	return filepath.Join(s.Dir, id+".json")
}

// Create snapshots stateSnapshot under a new checkpoint id, linked to
// parentID (empty for a root checkpoint). It fails with ErrCycle only when
// the chain already reachable from parentID contains a cycle; a parent
// chain that leads to an id with no stored checkpoint, including id
// itself, is accepted, and GetChain reports the resulting cycle once that
// checkpoint exists.
func (s *Store) Create(id string, parentID string, label string, decisions []string, manifest []string, contextSummary string, stateSnapshot json.RawMessage, now time.Time) (*Checkpoint, error) {
	if parentID != "" {
		if _, err := s.GetChain(parentID); err != nil && errors.Is(err, ErrCycle) {
			return nil, err
		}
	}

	cp := &Checkpoint{
		ID:              id,
		ParentID:        parentID,
		Label:           label,
		CreatedAt:       now.UTC().Format(time.RFC3339Nano),
		Decisions:       decisions,
		FileManifest:    manifest,
		ContextSummary:  contextSummary,
		StateSnapshot:   stateSnapshot,
		OrchestratorVer: s.OrchestratorVer,
	}

	path := s.path(id)
	if _, err := os.Stat(path); err == nil {
		return nil, fmt.Errorf("checkpoint %s already exists (checkpoints are write-once)", id)
	}
	if err := state.Save(path, cp); err != nil {
		return nil, err
	}
	return cp, nil
}

// Get loads a single checkpoint by id.
func (s *Store) Get(id string) (*Checkpoint, error) {
	path := s.path(id)
	if _, err := os.Stat(path); err != nil {
		return nil, ErrNotFound
	}
	var cp Checkpoint
	if err := state.Load(path, &cp); err != nil {
		return nil, err
	}
	return &cp, nil
}

// GetChain returns id's full ancestor chain, id first, oldest last. It
// rejects cycles with a visited-set rather than a depth bound, per the
// teacher's traversal style and spec §4.10/§9.
func (s *Store) GetChain(id string) ([]*Checkpoint, error) {
	visited := make(map[string]bool)
	var chain []*Checkpoint

	cur := id
	for cur != "" {
		if visited[cur] {
			return nil, ErrCycle
		}
		visited[cur] = true

		cp, err := s.Get(cur)
		if err != nil {
			return nil, err
		}
		chain = append(chain, cp)
		cur = cp.ParentID
	}
	return chain, nil
}

// List enumerates every checkpoint id in the store, unordered.
func (s *Store) List() ([]string, error) {
	entries, err := os.ReadDir(s.Dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var ids []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if filepath.Ext(name) == ".json" {
			ids = append(ids, name[:len(name)-len(".json")])
		}
	}
	return ids, nil
}
