// Package store is the Store component of spec.md §4.1: a single embedded
// SQL database with write-ahead logging, exposing transactional upserts,
// queries and advisory locks. Concurrent readers, single writer, forward-only
// versioned migrations — grounded on internal/memory/db.go and
// internal/events/store.go of the teacher repo.
package store

import (
	"database/sql"
	_ "embed"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
)

//go:embed schema.sql
var schemaSQL string

//go:embed migrations/002_archive_snapshot.sql
var migration002 string

// Store wraps the embedded SQLite database and the cross-process
// single-writer guard (see lock.go).
type Store struct {
	db   *sql.DB
	path string
	lock *writerLock

	mu sync.Mutex // serializes advisory-lock bookkeeping only; writes serialize via the DB itself
}

// Open creates (if needed) and opens the Store at path, running migrations
// and acquiring the single-writer lock.
func Open(path string) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}

	lock, err := acquireWriterLock(path)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire store lock: %w", err)
	}

	db, err := sql.Open(driverName, path+dsnSuffix)
	if err != nil {
		lock.Release()
		return nil, fmt.Errorf("failed to open store: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)

	s := &Store{db: db, path: path, lock: lock}

	if err := s.migrate(); err != nil {
		db.Close()
		lock.Release()
		return nil, fmt.Errorf("failed to migrate store: %w", err)
	}

	return s, nil
}

// migrate runs the schema and any forward-only migrations, driven by the
// schema_version table.
func (s *Store) migrate() error {
	if _, err := s.db.Exec(schemaSQL); err != nil {
		return s.recoverFromCorruption(err)
	}

	var version int
	err := s.db.QueryRow("SELECT version FROM schema_version ORDER BY version DESC LIMIT 1").Scan(&version)
	if err != nil && err != sql.ErrNoRows {
		return fmt.Errorf("failed to check schema version: %w", err)
	}

	if version < 2 {
		log.Println("[STORE] [MIGRATION] running migration to v2: context snapshots")
		if _, err := s.db.Exec(migration002); err != nil {
			return fmt.Errorf("failed to run migration 002: %w", err)
		}
		log.Println("[STORE] [MIGRATION] successfully migrated to schema v2")
	}

	return nil
}

// recoverFromCorruption implements spec.md §4.1's corruption-recovery
// contract: verify WAL replay succeeds; if not, fall back to the previous
// known-good backup (path+".bak") and log a fatal-degradation event.
func (s *Store) recoverFromCorruption(openErr error) error {
	backup := s.path + ".bak"
	if _, statErr := os.Stat(backup); statErr != nil {
		return fmt.Errorf("failed to execute schema and no backup available: %w", openErr)
	}

	log.Printf("[STORE] FATAL-DEGRADATION: schema init failed (%v); falling back to backup %s", openErr, backup)
	if err := os.Rename(backup, s.path); err != nil {
		return fmt.Errorf("failed to restore backup after corruption: %w", err)
	}

	if _, err := s.db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("failed to execute schema after restoring backup: %w", err)
	}
	return nil
}

// Close releases the database handle and the single-writer lock.
func (s *Store) Close() error {
	err := s.db.Close()
	s.lock.Release()
	return err
}

// withTx runs fn inside a transaction, rolling back on error.
func (s *Store) withTx(fn func(*sql.Tx) error) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// --- null-coalescing helpers, same idiom as internal/memory/db.go ---

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullInt64Ptr(i *int64) sql.NullInt64 {
	if i == nil {
		return sql.NullInt64{Valid: false}
	}
	return sql.NullInt64{Int64: *i, Valid: true}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
