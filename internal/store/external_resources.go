package store

import (
	"fmt"

	"github.com/orchestrator-core/orchestrator/internal/types"
)

// RecordExternalResource persists a resource created by the External
// Coordinator, soft-owned by its context (spec.md §3).
func (s *Store) RecordExternalResource(r *types.ExternalResource) error {
	_, err := s.db.Exec(`
		INSERT INTO external_resources (id, context_id, system, kind, external_id, url, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, r.ID, r.ContextID, r.System, r.Kind, r.ExternalID, r.URL, r.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to record external resource %s: %w", r.ID, err)
	}
	return nil
}

// ExternalResourcesForContext returns every resource a context owns.
func (s *Store) ExternalResourcesForContext(contextID string) ([]*types.ExternalResource, error) {
	rows, err := s.db.Query(`
		SELECT id, context_id, system, kind, external_id, url, created_at
		FROM external_resources WHERE context_id = ? ORDER BY created_at ASC
	`, contextID)
	if err != nil {
		return nil, fmt.Errorf("failed to query external resources for %s: %w", contextID, err)
	}
	defer rows.Close()

	var out []*types.ExternalResource
	for rows.Next() {
		var r types.ExternalResource
		if err := rows.Scan(&r.ID, &r.ContextID, &r.System, &r.Kind, &r.ExternalID, &r.URL, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan external resource row: %w", err)
		}
		out = append(out, &r)
	}
	return out, rows.Err()
}
