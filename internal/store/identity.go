package store

import (
	"database/sql"
	"fmt"
	"time"
)

// IdentityDocument is the Store's index entry for a project context's
// on-disk identity document (the noumenon), recorded separately from the
// event log so a resume can reconcile the two (spec.md §9).
type IdentityDocument struct {
	ContextID string
	Path      string
	Hash      string
	UpdatedAt time.Time
}

// RecordIdentityDocument upserts the identity-document index entry for a
// context.
func (s *Store) RecordIdentityDocument(contextID, path, hash string) error {
	_, err := s.db.Exec(`
		INSERT INTO identity_documents (context_id, path, hash, updated_at)
		VALUES (?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(context_id) DO UPDATE SET
			path = excluded.path, hash = excluded.hash, updated_at = CURRENT_TIMESTAMP
	`, contextID, path, hash)
	if err != nil {
		return fmt.Errorf("failed to record identity document for %s: %w", contextID, err)
	}
	return nil
}

// GetIdentityDocument returns the recorded identity-document entry for a
// context, or nil if none was ever written (e.g. session-scoped contexts).
func (s *Store) GetIdentityDocument(contextID string) (*IdentityDocument, error) {
	var d IdentityDocument
	d.ContextID = contextID
	err := s.db.QueryRow(`
		SELECT path, hash, updated_at FROM identity_documents WHERE context_id = ?
	`, contextID).Scan(&d.Path, &d.Hash, &d.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load identity document for %s: %w", contextID, err)
	}
	return &d, nil
}
