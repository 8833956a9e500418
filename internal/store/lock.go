package store

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// pidFileData mirrors the teacher's internal/instance.PIDFileData shape,
// generalized from a per-process instance lock to a per-database-file
// single-writer guard (spec.md §4.1: "concurrent readers, single writer").
type pidFileData struct {
	PID       int       `json:"pid"`
	StartedAt time.Time `json:"started_at"`
	Hostname  string    `json:"hostname"`
}

// writerLock is the handle returned by acquireWriterLock; Release must be
// called exactly once, normally via Store.Close.
type writerLock struct {
	path string
	file *os.File
}

func lockPath(dbPath string) string {
	return dbPath + ".writer.lock"
}

// acquireWriterLock implements the cross-platform portion of the guard
// (grounded on internal/instance/manager.go's CheckExistingInstance: read
// the PID file, detect a stale lock via process-liveness, remove it, retry).
// The actual OS-level exclusive lock is taken in lock_unix.go / lock_windows.go.
func acquireWriterLock(dbPath string) (*writerLock, error) {
	p := lockPath(dbPath)

	if data, err := readPIDFile(p); err == nil {
		if processAlive(data.PID) {
			return nil, fmt.Errorf("store already open: held by pid %d since %s", data.PID, data.StartedAt)
		}
		// Stale lock file from a dead process; remove and proceed.
		os.Remove(p)
	}

	f, err := os.OpenFile(p, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open lock file: %w", err)
	}

	if err := lockFile(f); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to acquire exclusive lock: %w", err)
	}

	hostname, _ := os.Hostname()
	data := pidFileData{PID: os.Getpid(), StartedAt: time.Now(), Hostname: hostname}
	enc, err := json.Marshal(data)
	if err != nil {
		unlockFile(f)
		f.Close()
		return nil, fmt.Errorf("failed to marshal lock data: %w", err)
	}
	if err := f.Truncate(0); err != nil {
		unlockFile(f)
		f.Close()
		return nil, fmt.Errorf("failed to truncate lock file: %w", err)
	}
	if _, err := f.WriteAt(enc, 0); err != nil {
		unlockFile(f)
		f.Close()
		return nil, fmt.Errorf("failed to write lock file: %w", err)
	}

	return &writerLock{path: p, file: f}, nil
}

func readPIDFile(path string) (*pidFileData, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var data pidFileData
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("corrupt lock file: %w", err)
	}
	return &data, nil
}

// Release unlocks and removes the lock file.
func (w *writerLock) Release() {
	if w == nil || w.file == nil {
		return
	}
	unlockFile(w.file)
	w.file.Close()
	os.Remove(w.path)
}
