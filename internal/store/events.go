package store

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/orchestrator-core/orchestrator/internal/types"
)

// AppendEvent inserts a Context Event at the next sequence number for its
// context, inside the same transaction that bumps contexts.next_seq — this
// is what gives spec.md §8's "seq(E_k) < seq(E_{k+1})" property.
func (s *Store) AppendEvent(e *types.ContextEvent) error {
	payloadJSON, err := json.Marshal(e.Payload)
	if err != nil {
		return fmt.Errorf("failed to marshal event payload: %w", err)
	}

	return s.withTx(func(tx *sql.Tx) error {
		var nextSeq int64
		if err := tx.QueryRow(`SELECT next_seq FROM contexts WHERE id = ?`, e.ContextID).Scan(&nextSeq); err != nil {
			return fmt.Errorf("failed to read next_seq for context %s: %w", e.ContextID, err)
		}
		e.Seq = nextSeq

		if _, err := tx.Exec(`
			INSERT INTO context_events (context_id, seq, timestamp, kind, importance, payload, token_count)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`, e.ContextID, e.Seq, e.Timestamp, e.Kind, e.Importance, string(payloadJSON), e.TokenCount); err != nil {
			return fmt.Errorf("failed to append event: %w", err)
		}

		if _, err := tx.Exec(`UPDATE contexts SET next_seq = ?, last_active_at = ? WHERE id = ?`,
			nextSeq+1, e.Timestamp, e.ContextID); err != nil {
			return fmt.Errorf("failed to advance next_seq: %w", err)
		}
		return nil
	})
}

// EventQuery filters QueryEvents.
type EventQuery struct {
	KindFilter       []types.EventKind
	ImportanceFilter int // minimum importance, 0 = no filter
	SinceSequence    int64
}

// QueryEvents returns events for a context matching the filter, ordered by
// sequence ascending (never mutated, append-only per spec.md §3).
func (s *Store) QueryEvents(contextID string, q EventQuery) ([]*types.ContextEvent, error) {
	query := `SELECT context_id, seq, timestamp, kind, importance, payload, token_count
		FROM context_events WHERE context_id = ? AND seq > ?`
	args := []interface{}{contextID, q.SinceSequence}

	if q.ImportanceFilter > 0 {
		query += " AND importance >= ?"
		args = append(args, q.ImportanceFilter)
	}
	if len(q.KindFilter) > 0 {
		query += " AND kind IN (" + placeholders(len(q.KindFilter)) + ")"
		for _, k := range q.KindFilter {
			args = append(args, string(k))
		}
	}
	query += " ORDER BY seq ASC"

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	var out []*types.ContextEvent
	for rows.Next() {
		var e types.ContextEvent
		var payloadJSON string
		if err := rows.Scan(&e.ContextID, &e.Seq, &e.Timestamp, &e.Kind, &e.Importance, &payloadJSON, &e.TokenCount); err != nil {
			return nil, fmt.Errorf("failed to scan event row: %w", err)
		}
		if err := json.Unmarshal([]byte(payloadJSON), &e.Payload); err != nil {
			return nil, fmt.Errorf("failed to unmarshal event payload: %w", err)
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}

// DeleteEventsInRange removes events in (afterSeq, uptoSeqInclusive] for a
// context — used by contextmgr.compress() once their content has been
// folded into a summary event.
func (s *Store) DeleteEventsInRange(contextID string, afterSeq, uptoSeqInclusive int64) error {
	_, err := s.db.Exec(`DELETE FROM context_events WHERE context_id = ? AND seq > ? AND seq <= ?`,
		contextID, afterSeq, uptoSeqInclusive)
	if err != nil {
		return fmt.Errorf("failed to delete events in range: %w", err)
	}
	return nil
}

func placeholders(n int) string {
	out := make([]byte, 0, n*2)
	for i := 0; i < n; i++ {
		if i > 0 {
			out = append(out, ',')
		}
		out = append(out, '?')
	}
	return string(out)
}
