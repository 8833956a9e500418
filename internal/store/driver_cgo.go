//go:build cgo

package store

import (
	_ "github.com/mattn/go-sqlite3"
)

// driverName is the database/sql driver registered for this build. The cgo
// build uses mattn/go-sqlite3 (the teacher's primary driver in
// internal/memory/db.go); the non-cgo build falls back to modernc.org/sqlite.
const driverName = "sqlite3"

// dsnSuffix carries mattn/go-sqlite3's pragma query-string dialect.
const dsnSuffix = "?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on"
