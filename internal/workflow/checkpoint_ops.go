package workflow

import (
	"encoding/json"

	"github.com/agentctl/orchestrator/internal/audit"
	"github.com/agentctl/orchestrator/internal/checkpoint"
)

// Checkpoint snapshots the current state under a new checkpoint id,
// linked to the session's most recently created checkpoint (if any) as
// its parent, forming a chain.
func (e *Engine) Checkpoint(store *checkpoint.Store, label string, decisions []string, manifest []string, contextSummary string, orchestratorVersion string) (string, error) {
	var id string
	err := e.withExclusive(func() error {
		st, err := e.loadState()
		if err != nil {
			return err
		}

		snapshot, err := json.Marshal(st)
		if err != nil {
			return err
		}

		parentID := e.latestCheckpointID(store)
		now := e.now()
		newID := checkpoint.GenerateID(now)

		if _, err := store.Create(newID, parentID, label, decisions, manifest, contextSummary, snapshot, now); err != nil {
			return err
		}

		id = newID
		e.appendAudit(audit.KindCheckpointCreated, map[string]any{"checkpoint_id": newID, "parent_id": parentID, "label": label})
		e.emit("checkpoint_created", map[string]any{"checkpoint_id": newID})
		return nil
	})
	if err != nil {
		return "", err
	}
	return id, nil
}

// latestCheckpointID returns the most recently created checkpoint id in
// store (by created_at), or "" if none exist. Best-effort: on listing
// failure, treats the store as empty rather than failing Checkpoint.
func (e *Engine) latestCheckpointID(store *checkpoint.Store) string {
	ids, err := store.List()
	if err != nil || len(ids) == 0 {
		return ""
	}
	var latest *checkpoint.Checkpoint
	var latestID string
	for _, id := range ids {
		cp, err := store.Get(id)
		if err != nil {
			continue
		}
		if latest == nil || cp.CreatedAt > latest.CreatedAt {
			latest = cp
			latestID = id
		}
	}
	return latestID
}

// Resume restores state from checkpoint id, verifying its checksum and
// overwriting the session's current state.json with the snapshot.
func (e *Engine) Resume(store *checkpoint.Store, checkpointID string) (*WorkflowState, error) {
	var st *WorkflowState
	err := e.withExclusive(func() error {
		cp, err := store.Get(checkpointID)
		if err != nil {
			return err
		}

		var restored WorkflowState
		if err := json.Unmarshal(cp.StateSnapshot, &restored); err != nil {
			return err
		}

		if err := e.saveState(&restored); err != nil {
			return err
		}
		st = &restored
		return nil
	})
	if err != nil {
		return nil, err
	}
	return st, nil
}
