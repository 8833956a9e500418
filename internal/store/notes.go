package store

import (
	"fmt"
	"time"
)

// Note is a priority-ranked, TTL-expiring key/value scratch entry distinct
// from the Context Event log — adapted from internal/memory/captain_context.go's
// ON CONFLICT upsert pattern into the Context Manager's auxiliary note store
// (SPEC_FULL.md §12).
type Note struct {
	Key         string
	Value       string
	Priority    int
	MaxAgeHours int
	UpdatedAt   time.Time
}

// SetNote upserts a note.
func (s *Store) SetNote(key, value string, priority, maxAgeHours int) error {
	_, err := s.db.Exec(`
		INSERT INTO context_notes (note_key, note_value, priority, max_age_hours, updated_at)
		VALUES (?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(note_key) DO UPDATE SET
			note_value = excluded.note_value, priority = excluded.priority,
			max_age_hours = excluded.max_age_hours, updated_at = CURRENT_TIMESTAMP
	`, key, value, priority, maxAgeHours)
	if err != nil {
		return fmt.Errorf("failed to set note %s: %w", key, err)
	}
	return nil
}

// NotesByPriority returns notes with priority >= minPriority, highest first.
func (s *Store) NotesByPriority(minPriority int) ([]*Note, error) {
	rows, err := s.db.Query(`
		SELECT note_key, note_value, priority, max_age_hours, updated_at
		FROM context_notes WHERE priority >= ? ORDER BY priority DESC, updated_at DESC
	`, minPriority)
	if err != nil {
		return nil, fmt.Errorf("failed to query notes: %w", err)
	}
	defer rows.Close()

	var out []*Note
	for rows.Next() {
		var n Note
		if err := rows.Scan(&n.Key, &n.Value, &n.Priority, &n.MaxAgeHours, &n.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan note row: %w", err)
		}
		out = append(out, &n)
	}
	return out, rows.Err()
}

// CleanExpiredNotes removes notes past their max age, returning the count removed.
func (s *Store) CleanExpiredNotes() (int, error) {
	res, err := s.db.Exec(`
		DELETE FROM context_notes
		WHERE max_age_hours > 0 AND datetime(updated_at, '+' || max_age_hours || ' hours') < datetime('now')
	`)
	if err != nil {
		return 0, fmt.Errorf("failed to clean expired notes: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}
