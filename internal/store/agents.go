package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/orchestrator-core/orchestrator/internal/types"
)

// CreateAgent inserts a new agent instance row.
func (s *Store) CreateAgent(a *types.AgentInstance) error {
	resultJSON, err := marshalNullable(a.Result)
	if err != nil {
		return fmt.Errorf("failed to marshal agent result: %w", err)
	}
	configJSON, err := marshalNullable(a.ConfigSnap)
	if err != nil {
		return fmt.Errorf("failed to marshal agent config snapshot: %w", err)
	}

	var errKind, errMsg sql.NullString
	if a.Error != nil {
		errKind = nullString(string(a.Error.Kind))
		errMsg = nullString(a.Error.Message)
	}

	_, err = s.db.Exec(`
		INSERT INTO agent_instances (id, role, session_id, context_id, state, progress,
			current_step, step_index, result, error_kind, error_message, config_snapshot,
			created_at, updated_at, last_heartbeat)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, a.ID, a.Role, a.SessionID, a.ContextID, a.State, a.Progress,
		nullString(a.CurrentStep), a.StepIndex, resultJSON, errKind, errMsg, configJSON,
		a.CreatedAt, a.UpdatedAt, a.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create agent %s: %w", a.ID, err)
	}
	return nil
}

// UpdateAgent upserts the mutable fields of an agent instance (state, step,
// progress, result, error), bumping updated_at and the heartbeat. Grounded
// on internal/memory/agent_control.go's ON CONFLICT upsert idiom, adapted to
// plain UPDATE since the row always pre-exists (created via CreateAgent).
func (s *Store) UpdateAgent(a *types.AgentInstance) error {
	resultJSON, err := marshalNullable(a.Result)
	if err != nil {
		return fmt.Errorf("failed to marshal agent result: %w", err)
	}

	var errKind, errMsg sql.NullString
	if a.Error != nil {
		errKind = nullString(string(a.Error.Kind))
		errMsg = nullString(a.Error.Message)
	}

	now := time.Now()
	res, err := s.db.Exec(`
		UPDATE agent_instances SET state = ?, progress = ?, current_step = ?, step_index = ?,
			result = ?, error_kind = ?, error_message = ?, updated_at = ?, last_heartbeat = ?
		WHERE id = ?
	`, a.State, a.Progress, nullString(a.CurrentStep), a.StepIndex, resultJSON, errKind, errMsg,
		now, now, a.ID)
	if err != nil {
		return fmt.Errorf("failed to update agent %s: %w", a.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("agent not found: %s", a.ID)
	}
	a.UpdatedAt = now
	return nil
}

// GetAgent loads a single agent instance.
func (s *Store) GetAgent(id string) (*types.AgentInstance, error) {
	row := s.db.QueryRow(`
		SELECT id, role, session_id, context_id, state, progress, current_step, step_index,
			result, error_kind, error_message, config_snapshot, created_at, updated_at
		FROM agent_instances WHERE id = ?
	`, id)
	return scanAgent(row)
}

// ListAgentsForSession returns all agent instances belonging to a session, in
// creation order.
func (s *Store) ListAgentsForSession(sessionID string) ([]*types.AgentInstance, error) {
	rows, err := s.db.Query(`
		SELECT id, role, session_id, context_id, state, progress, current_step, step_index,
			result, error_kind, error_message, config_snapshot, created_at, updated_at
		FROM agent_instances WHERE session_id = ? ORDER BY created_at ASC
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list agents for session %s: %w", sessionID, err)
	}
	defer rows.Close()

	var out []*types.AgentInstance
	for rows.Next() {
		a, err := scanAgentRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// StaleAgents returns running agents whose heartbeat is older than maxAge —
// the liveness check adapted from internal/memory/agent_control.go, used by
// the Agent Runtime to reclaim agents orphaned by a process crash.
func (s *Store) StaleAgents(maxAge time.Duration) ([]*types.AgentInstance, error) {
	cutoff := time.Now().Add(-maxAge)
	rows, err := s.db.Query(`
		SELECT id, role, session_id, context_id, state, progress, current_step, step_index,
			result, error_kind, error_message, config_snapshot, created_at, updated_at
		FROM agent_instances WHERE state = ? AND last_heartbeat < ?
	`, types.AgentRunning, cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to query stale agents: %w", err)
	}
	defer rows.Close()

	var out []*types.AgentInstance
	for rows.Next() {
		a, err := scanAgentRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func scanAgent(row *sql.Row) (*types.AgentInstance, error) {
	var a types.AgentInstance
	var currentStep, errKind, errMsg, resultJSON, configJSON sql.NullString
	err := row.Scan(&a.ID, &a.Role, &a.SessionID, &a.ContextID, &a.State, &a.Progress,
		&currentStep, &a.StepIndex, &resultJSON, &errKind, &errMsg, &configJSON,
		&a.CreatedAt, &a.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan agent: %w", err)
	}
	return hydrateAgent(&a, currentStep, errKind, errMsg, resultJSON, configJSON)
}

func scanAgentRows(rows *sql.Rows) (*types.AgentInstance, error) {
	var a types.AgentInstance
	var currentStep, errKind, errMsg, resultJSON, configJSON sql.NullString
	if err := rows.Scan(&a.ID, &a.Role, &a.SessionID, &a.ContextID, &a.State, &a.Progress,
		&currentStep, &a.StepIndex, &resultJSON, &errKind, &errMsg, &configJSON,
		&a.CreatedAt, &a.UpdatedAt); err != nil {
		return nil, fmt.Errorf("failed to scan agent row: %w", err)
	}
	return hydrateAgent(&a, currentStep, errKind, errMsg, resultJSON, configJSON)
}

func hydrateAgent(a *types.AgentInstance, currentStep, errKind, errMsg, resultJSON, configJSON sql.NullString) (*types.AgentInstance, error) {
	a.CurrentStep = currentStep.String
	if errKind.Valid {
		a.Error = &types.OrchestratorError{Kind: types.ErrorKind(errKind.String), Message: errMsg.String, Agent: a.ID, Step: a.CurrentStep}
	}
	if resultJSON.Valid {
		if err := json.Unmarshal([]byte(resultJSON.String), &a.Result); err != nil {
			return nil, fmt.Errorf("failed to unmarshal agent result: %w", err)
		}
	}
	if configJSON.Valid {
		if err := json.Unmarshal([]byte(configJSON.String), &a.ConfigSnap); err != nil {
			return nil, fmt.Errorf("failed to unmarshal agent config snapshot: %w", err)
		}
	}
	return a, nil
}

func marshalNullable(v map[string]interface{}) (sql.NullString, error) {
	if v == nil {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}
