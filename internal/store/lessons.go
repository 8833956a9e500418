package store

import (
	"database/sql"
	"fmt"

	"github.com/orchestrator-core/orchestrator/internal/types"
)

// RecordLesson persists an immutable Lesson (spec.md §3).
func (s *Store) RecordLesson(l *types.Lesson) error {
	_, err := s.db.Exec(`
		INSERT INTO lessons (id, kind, agent_context_tag, description, prevention_rule, verification_probe, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, l.ID, l.Kind, l.AgentContextTag, l.Description, l.PreventionRule, nullString(l.VerificationProbe), l.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to record lesson %s: %w", l.ID, err)
	}
	return nil
}

// LessonsForTag returns lessons tagged for a given agent-context, ordered
// newest first — loaded into memory at agent start per spec.md §3.
func (s *Store) LessonsForTag(tag string) ([]*types.Lesson, error) {
	rows, err := s.db.Query(`
		SELECT id, kind, agent_context_tag, description, prevention_rule, verification_probe, created_at
		FROM lessons WHERE agent_context_tag = ? ORDER BY created_at DESC
	`, tag)
	if err != nil {
		return nil, fmt.Errorf("failed to query lessons for %s: %w", tag, err)
	}
	defer rows.Close()

	var out []*types.Lesson
	for rows.Next() {
		var l types.Lesson
		var probe sql.NullString
		if err := rows.Scan(&l.ID, &l.Kind, &l.AgentContextTag, &l.Description, &l.PreventionRule, &probe, &l.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan lesson row: %w", err)
		}
		l.VerificationProbe = probe.String
		out = append(out, &l)
	}
	return out, rows.Err()
}
