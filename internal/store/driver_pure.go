//go:build !cgo

package store

import (
	_ "modernc.org/sqlite"
)

// driverName is the database/sql driver registered for this build. See
// driver_cgo.go for the cgo counterpart.
const driverName = "sqlite"

// dsnSuffix carries modernc.org/sqlite's pragma query-string dialect.
const dsnSuffix = "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(on)"
