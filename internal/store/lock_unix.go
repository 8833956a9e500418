//go:build !windows

package store

import (
	"os"
	"syscall"

	"golang.org/x/sys/unix"
)

// lockFile takes a non-blocking exclusive flock, the portable counterpart to
// the teacher's Windows-only handle lock in internal/instance/lock_windows.go.
func lockFile(f *os.File) error {
	return unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB)
}

func unlockFile(f *os.File) error {
	return unix.Flock(int(f.Fd()), unix.LOCK_UN)
}

// processAlive reports whether pid refers to a live process, signalling it
// with signal 0 (no-op) the way internal/instance/manager.go probes liveness
// on its platform.
func processAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}
