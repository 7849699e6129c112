//go:build linux || darwin

package server

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// Lock is the advisory lock held for the lifetime of the server
// (spec.md §6's `lock` file).
type Lock struct {
	f *os.File
}

// AcquireLock opens (creating if needed) and flocks path, failing with a
// descriptive error if another server instance already holds it.
func AcquireLock(path string) (*Lock, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("server: opening lock file: %w", err)
	}
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		f.Close()
		return nil, fmt.Errorf("server: another instance is already running (lock held on %s): %w", path, err)
	}
	return &Lock{f: f}, nil
}

// Release unlocks and closes the lock file.
func (l *Lock) Release() error {
	unix.Flock(int(l.f.Fd()), unix.LOCK_UN)
	return l.f.Close()
}
