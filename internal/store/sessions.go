package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/orchestrator-core/orchestrator/internal/types"
)

// CreateWorkflowSession inserts a new workflow session row.
func (s *Store) CreateWorkflowSession(w *types.WorkflowSession) error {
	_, err := s.db.Exec(`
		INSERT INTO workflow_sessions (id, context_id, workflow_type, status, started_at, ended_at, handoff_context)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, w.ID, w.ContextID, w.WorkflowType, w.Status, w.StartedAt, nullTime(w.EndedAt), w.HandoffContext)
	if err != nil {
		return fmt.Errorf("failed to create workflow session %s: %w", w.ID, err)
	}
	return nil
}

// UpdateSession persists status, end time and accumulated handoff context.
// A completed workflow's agent list is frozen (spec.md §3); callers must not
// call UpdateSession after status has reached a terminal value.
func (s *Store) UpdateSession(w *types.WorkflowSession) error {
	res, err := s.db.Exec(`
		UPDATE workflow_sessions SET status = ?, ended_at = ?, handoff_context = ?
		WHERE id = ?
	`, w.Status, nullTime(w.EndedAt), w.HandoffContext, w.ID)
	if err != nil {
		return fmt.Errorf("failed to update session %s: %w", w.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("session not found: %s", w.ID)
	}
	return nil
}

// GetSession loads a workflow session plus the ordered IDs of its agent instances.
func (s *Store) GetSession(id string) (*types.WorkflowSession, error) {
	row := s.db.QueryRow(`
		SELECT id, context_id, workflow_type, status, started_at, ended_at, handoff_context
		FROM workflow_sessions WHERE id = ?
	`, id)

	var w types.WorkflowSession
	var ended sql.NullTime
	err := row.Scan(&w.ID, &w.ContextID, &w.WorkflowType, &w.Status, &w.StartedAt, &ended, &w.HandoffContext)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan session: %w", err)
	}
	if ended.Valid {
		w.EndedAt = &ended.Time
	}

	agentRows, err := s.db.Query(`SELECT id FROM agent_instances WHERE session_id = ? ORDER BY created_at ASC`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to list agents for session: %w", err)
	}
	defer agentRows.Close()
	for agentRows.Next() {
		var agentID string
		if err := agentRows.Scan(&agentID); err != nil {
			return nil, fmt.Errorf("failed to scan agent id: %w", err)
		}
		w.AgentIDs = append(w.AgentIDs, agentID)
	}

	return &w, nil
}

// SessionFilter filters ListSessions.
type SessionFilter struct {
	ContextID string
	Status    types.WorkflowStatus
}

// ListSessions returns sessions matching filter, most recent first.
func (s *Store) ListSessions(filter SessionFilter) ([]*types.WorkflowSession, error) {
	query := `SELECT id, context_id, workflow_type, status, started_at, ended_at, handoff_context
		FROM workflow_sessions WHERE 1=1`
	var args []interface{}
	if filter.ContextID != "" {
		query += " AND context_id = ?"
		args = append(args, filter.ContextID)
	}
	if filter.Status != "" {
		query += " AND status = ?"
		args = append(args, filter.Status)
	}
	query += " ORDER BY started_at DESC"

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	var out []*types.WorkflowSession
	for rows.Next() {
		var w types.WorkflowSession
		var ended sql.NullTime
		if err := rows.Scan(&w.ID, &w.ContextID, &w.WorkflowType, &w.Status, &w.StartedAt, &ended, &w.HandoffContext); err != nil {
			return nil, fmt.Errorf("failed to scan session row: %w", err)
		}
		if ended.Valid {
			w.EndedAt = &ended.Time
		}
		out = append(out, &w)
	}
	return out, rows.Err()
}

func nullTime(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return *t
}
