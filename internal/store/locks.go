package store

import (
	"database/sql"
	"fmt"
	"time"
)

// ErrLockHeld is returned by AcquireResourceLock when the lock is already
// held by a different, still-live holder.
var ErrLockHeld = fmt.Errorf("resource lock held by another holder")

// LockHeldError wraps ErrLockHeld with the identity of the holder that
// already owns the lock, so a caller can report both colliding parties
// rather than just its own name.
type LockHeldError struct {
	Holder string
}

func (e *LockHeldError) Error() string { return fmt.Sprintf("%s: held by %s", ErrLockHeld, e.Holder) }

func (e *LockHeldError) Unwrap() error { return ErrLockHeld }

// AcquireResourceLock takes an advisory, TTL-backed named lock (spec.md §4.1,
// §5). Re-entrant for the same holder; expired locks are reclaimed
// automatically, grounded on internal/memory/agent_control.go's
// ON CONFLICT ... DO UPDATE upsert idiom. On collision it returns a
// *LockHeldError naming the existing holder.
func (s *Store) AcquireResourceLock(name, holder string, ttl time.Duration) error {
	now := time.Now()
	expiresAt := now.Add(ttl)

	return s.withTx(func(tx *sql.Tx) error {
		var existingHolder string
		var existingExpiry time.Time
		err := tx.QueryRow(`SELECT holder, expires_at FROM resource_locks WHERE name = ?`, name).
			Scan(&existingHolder, &existingExpiry)

		if err == sql.ErrNoRows {
			_, err := tx.Exec(`INSERT INTO resource_locks (name, holder, expires_at) VALUES (?, ?, ?)`,
				name, holder, expiresAt)
			return err
		}
		if err != nil {
			return fmt.Errorf("failed to check resource lock %s: %w", name, err)
		}

		if existingHolder != holder && existingExpiry.After(now) {
			return &LockHeldError{Holder: existingHolder}
		}

		_, err = tx.Exec(`
			INSERT INTO resource_locks (name, holder, expires_at) VALUES (?, ?, ?)
			ON CONFLICT(name) DO UPDATE SET holder = excluded.holder, expires_at = excluded.expires_at
		`, name, holder, expiresAt)
		return err
	})
}

// ReleaseResourceLock releases a lock if held by holder; a no-op otherwise.
func (s *Store) ReleaseResourceLock(name, holder string) error {
	_, err := s.db.Exec(`DELETE FROM resource_locks WHERE name = ? AND holder = ?`, name, holder)
	if err != nil {
		return fmt.Errorf("failed to release resource lock %s: %w", name, err)
	}
	return nil
}
