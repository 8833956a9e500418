package store

import (
	"database/sql"
	"fmt"

	"github.com/orchestrator-core/orchestrator/internal/types"
)

// CreateContext inserts a new context row.
func (s *Store) CreateContext(c *types.Context) error {
	_, err := s.db.Exec(`
		INSERT INTO contexts (id, scope, goal, created_at, last_active_at, compression,
			token_budget, token_usage, parent_id, over_budget, next_seq)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, c.ID, c.Scope, c.Goal, c.CreatedAt, c.LastActiveAt, c.Compression,
		c.TokenBudget, c.TokenUsage, nullString(c.ParentID), boolToInt(c.OverBudget), c.NextSeq)
	if err != nil {
		return fmt.Errorf("failed to create context %s: %w", c.ID, err)
	}
	return nil
}

// UpdateContext persists the full mutable state of a context (scope upgrade,
// compression level, token accounting, over-budget flag, next sequence).
func (s *Store) UpdateContext(c *types.Context) error {
	res, err := s.db.Exec(`
		UPDATE contexts SET scope = ?, last_active_at = ?, compression = ?,
			token_budget = ?, token_usage = ?, over_budget = ?, next_seq = ?
		WHERE id = ?
	`, c.Scope, c.LastActiveAt, c.Compression, c.TokenBudget, c.TokenUsage,
		boolToInt(c.OverBudget), c.NextSeq, c.ID)
	if err != nil {
		return fmt.Errorf("failed to update context %s: %w", c.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("context not found: %s", c.ID)
	}
	return nil
}

// GetContext loads a single context by ID. Returns nil, nil if not found.
func (s *Store) GetContext(id string) (*types.Context, error) {
	row := s.db.QueryRow(`
		SELECT id, scope, goal, created_at, last_active_at, compression,
			token_budget, token_usage, parent_id, over_budget, next_seq
		FROM contexts WHERE id = ?
	`, id)
	return scanContext(row)
}

func scanContext(row *sql.Row) (*types.Context, error) {
	var c types.Context
	var parentID sql.NullString
	var overBudget int
	err := row.Scan(&c.ID, &c.Scope, &c.Goal, &c.CreatedAt, &c.LastActiveAt, &c.Compression,
		&c.TokenBudget, &c.TokenUsage, &parentID, &overBudget, &c.NextSeq)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan context: %w", err)
	}
	c.ParentID = parentID.String
	c.OverBudget = overBudget != 0
	return &c, nil
}

// ListContextsFilter filters ListContexts.
type ListContextsFilter struct {
	Scope       types.Scope
	Compression types.CompressionLevel
}

// ListContexts returns contexts matching filter; zero-value fields are ignored.
func (s *Store) ListContexts(filter ListContextsFilter) ([]*types.Context, error) {
	query := `SELECT id, scope, goal, created_at, last_active_at, compression,
		token_budget, token_usage, parent_id, over_budget, next_seq FROM contexts WHERE 1=1`
	var args []interface{}
	if filter.Scope != "" {
		query += " AND scope = ?"
		args = append(args, filter.Scope)
	}
	if filter.Compression != "" {
		query += " AND compression = ?"
		args = append(args, filter.Compression)
	}
	query += " ORDER BY last_active_at DESC"

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list contexts: %w", err)
	}
	defer rows.Close()

	var out []*types.Context
	for rows.Next() {
		var c types.Context
		var parentID sql.NullString
		var overBudget int
		if err := rows.Scan(&c.ID, &c.Scope, &c.Goal, &c.CreatedAt, &c.LastActiveAt, &c.Compression,
			&c.TokenBudget, &c.TokenUsage, &parentID, &overBudget, &c.NextSeq); err != nil {
			return nil, fmt.Errorf("failed to scan context row: %w", err)
		}
		c.ParentID = parentID.String
		c.OverBudget = overBudget != 0
		out = append(out, &c)
	}
	return out, rows.Err()
}
