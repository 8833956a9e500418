package store

import (
	"database/sql"
	"fmt"
	"time"
)

// SaveSnapshot stores a point-in-time opaque snapshot for a context, used as
// a fast-path before falling back to full event replay on resume — adapted
// from the teacher's internal/bootstrap/state.go PortableState save/resume
// pattern (SPEC_FULL.md §12).
func (s *Store) SaveSnapshot(contextID string, snapshot []byte, lastSeq int64) error {
	_, err := s.db.Exec(`
		INSERT INTO context_snapshots (context_id, snapshot, taken_at, last_seq)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(context_id) DO UPDATE SET
			snapshot = excluded.snapshot, taken_at = excluded.taken_at, last_seq = excluded.last_seq
	`, contextID, string(snapshot), time.Now(), lastSeq)
	if err != nil {
		return fmt.Errorf("failed to save snapshot for %s: %w", contextID, err)
	}
	return nil
}

// LoadSnapshot returns the last saved snapshot and the sequence it was taken
// at, or (nil, 0, nil) if none exists.
func (s *Store) LoadSnapshot(contextID string) ([]byte, int64, error) {
	var snapshot string
	var lastSeq int64
	err := s.db.QueryRow(`SELECT snapshot, last_seq FROM context_snapshots WHERE context_id = ?`, contextID).
		Scan(&snapshot, &lastSeq)
	if err == sql.ErrNoRows {
		return nil, 0, nil
	}
	if err != nil {
		return nil, 0, fmt.Errorf("failed to load snapshot for %s: %w", contextID, err)
	}
	return []byte(snapshot), lastSeq, nil
}
