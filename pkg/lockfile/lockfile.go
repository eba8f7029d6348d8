//go:build linux

// Package lockfile implements the per-instance advisory lock (§6): a
// zero-length file under --lock-dir whose existence and flock hold are the
// only persisted state the bridge keeps.
package lockfile

import (
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"
)

// Lock holds an exclusive, non-blocking flock on one instance's lock file
// for the lifetime of the process.
type Lock struct {
	file *os.File
	path string
}

// Acquire opens (creating if needed) dir/cpc-gpio-bridge-<instance>.lock
// and takes a non-blocking exclusive flock. A second bridge for the same
// instance fails here (§6 "MUST fail to acquire and exit").
func Acquire(dir, instance string) (*Lock, error) {
	path := filepath.Join(dir, fmt.Sprintf("cpc-gpio-bridge-%s.lock", instance))

	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("lockfile: open %s: %w", path, err)
	}

	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		_ = f.Close()
		if err == unix.EWOULDBLOCK {
			return nil, fmt.Errorf("lockfile: %s is already held by another bridge instance", path)
		}
		return nil, fmt.Errorf("lockfile: flock %s: %w", path, err)
	}

	return &Lock{file: f, path: path}, nil
}

// Release drops the flock and closes the file. The lock file itself is
// left on disk, matching the zero-length/existence-as-state design (§6);
// removing it here would race a concurrent Acquire that just opened it.
func (l *Lock) Release() error {
	if err := unix.Flock(int(l.file.Fd()), unix.LOCK_UN); err != nil {
		_ = l.file.Close()
		return fmt.Errorf("lockfile: unlock %s: %w", l.path, err)
	}
	return l.file.Close()
}

// Path returns the lock file's filesystem path, for logging.
func (l *Lock) Path() string {
	return l.path
}
