package store

import (
	"database/sql"
	"fmt"

	"github.com/orchestrator-core/orchestrator/internal/types"
)

// RecordVerification persists one (task, probe) verification record; the
// UNIQUE(task_id, probe_command) constraint in schema.sql enforces spec.md
// §3's "one record per (task, probe) execution" invariant.
func (s *Store) RecordVerification(v *types.VerificationRecord) error {
	_, err := s.db.Exec(`
		INSERT INTO verification_records (id, task_id, claimed_status, verified_status,
			probe_command, probe_output, discrepancy, agent_id, session_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(task_id, probe_command) DO UPDATE SET
			claimed_status = excluded.claimed_status,
			verified_status = excluded.verified_status,
			probe_output = excluded.probe_output,
			discrepancy = excluded.discrepancy,
			created_at = excluded.created_at
	`, v.ID, v.TaskID, v.ClaimedStatus, v.VerifiedStatus, v.ProbeCommand, v.ProbeOutput,
		boolToInt(v.Discrepancy), nullString(v.AgentID), nullString(v.SessionID), v.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to record verification for task %s: %w", v.TaskID, err)
	}
	return nil
}

// VerificationsForTask returns all verification records for a task.
func (s *Store) VerificationsForTask(taskID string) ([]*types.VerificationRecord, error) {
	rows, err := s.db.Query(`
		SELECT id, task_id, claimed_status, verified_status, probe_command, probe_output,
			discrepancy, agent_id, session_id, created_at
		FROM verification_records WHERE task_id = ? ORDER BY created_at DESC
	`, taskID)
	if err != nil {
		return nil, fmt.Errorf("failed to query verifications for %s: %w", taskID, err)
	}
	defer rows.Close()
	return scanVerificationRows(rows)
}

func scanVerificationRows(rows *sql.Rows) ([]*types.VerificationRecord, error) {
	var out []*types.VerificationRecord
	for rows.Next() {
		var v types.VerificationRecord
		var discrepancy int
		var agentID, sessionID sql.NullString
		if err := rows.Scan(&v.ID, &v.TaskID, &v.ClaimedStatus, &v.VerifiedStatus, &v.ProbeCommand,
			&v.ProbeOutput, &discrepancy, &agentID, &sessionID, &v.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan verification row: %w", err)
		}
		v.Discrepancy = discrepancy != 0
		v.AgentID = agentID.String
		v.SessionID = sessionID.String
		out = append(out, &v)
	}
	return out, rows.Err()
}
