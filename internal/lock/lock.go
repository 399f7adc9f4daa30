//go:build !windows

// Package lock provides a named, binary, cross-process lock backed by a file
// and flock(2).
//
// A lock file is published with link(2) only after its creator already holds
// the flock, so a lock is never observable in the unlocked state before its
// creator has finished initializing whatever the lock guards.
package lock

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"
)

var (
	// ErrExist is returned by CreateLocked when the named lock already exists.
	ErrExist = errors.New("lock already exists")
	// ErrNotFound is returned by OpenAndLock when the named lock does not exist
	// or was destroyed while waiting for it.
	ErrNotFound = errors.New("lock not found")

	errClosed = errors.New("lock handle is closed")
)

const filePerm = 0o660

// Lock is a process-local handle on a named lock.
type Lock struct {
	path string
	f    *os.File
}

// CreateLocked creates the lock at path and returns it held.
// It fails with ErrExist if a lock with that path already exists.
func CreateLocked(path string) (*Lock, error) {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return nil, fmt.Errorf("creating lock file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := tmp.Chmod(filePerm); err != nil {
		tmp.Close()
		return nil, fmt.Errorf("setting lock file mode: %w", err)
	}
	if err := unix.Flock(int(tmp.Fd()), unix.LOCK_EX); err != nil {
		tmp.Close()
		return nil, fmt.Errorf("locking %s: %w", path, err)
	}
	if err := unix.Link(tmp.Name(), path); err != nil {
		tmp.Close()
		if errors.Is(err, unix.EEXIST) {
			return nil, fmt.Errorf("%s: %w", path, ErrExist)
		}
		return nil, fmt.Errorf("publishing lock %s: %w", path, err)
	}
	return &Lock{path: path, f: tmp}, nil
}

// OpenAndLock opens the existing lock at path and blocks until it is held.
func OpenAndLock(path string) (*Lock, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%s: %w", path, ErrNotFound)
		}
		return nil, fmt.Errorf("opening lock %s: %w", path, err)
	}
	l := &Lock{path: path, f: f}
	if err := l.Lock(); err != nil {
		f.Close()
		return nil, err
	}

	// Destroy may have unlinked the file while we were queued behind it.
	var st unix.Stat_t
	if err := unix.Fstat(int(f.Fd()), &st); err != nil {
		l.Close()
		return nil, fmt.Errorf("stat lock %s: %w", path, err)
	}
	if st.Nlink == 0 {
		l.Close()
		return nil, fmt.Errorf("%s: %w", path, ErrNotFound)
	}
	return l, nil
}

// Path returns the lock's path.
func (l *Lock) Path() string {
	return l.path
}

// Lock blocks until the lock is held. There is no timeout.
func (l *Lock) Lock() error {
	if l.f == nil {
		return errClosed
	}
	for {
		err := unix.Flock(int(l.f.Fd()), unix.LOCK_EX)
		if err == nil {
			return nil
		}
		if !errors.Is(err, unix.EINTR) {
			return fmt.Errorf("locking %s: %w", l.path, err)
		}
	}
}

// Unlock releases the lock.
func (l *Lock) Unlock() error {
	if l.f == nil {
		return errClosed
	}
	if err := unix.Flock(int(l.f.Fd()), unix.LOCK_UN); err != nil {
		return fmt.Errorf("unlocking %s: %w", l.path, err)
	}
	return nil
}

// Close drops the process-local handle. The named lock survives.
func (l *Lock) Close() error {
	if l.f == nil {
		return nil
	}
	err := l.f.Close()
	l.f = nil
	return err
}

// Destroy removes the named lock. Handles already open keep working until
// they are closed; later OpenAndLock calls fail with ErrNotFound.
func Destroy(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("removing lock %s: %w", path, err)
	}
	return nil
}
