//go:build !windows

// Package shm stores a variable-capacity record in a named, memory-mapped
// segment shared by independent processes.
//
// Every record is paired with a lock of the same name (see package lock).
// The segment file and lock file live side by side in the Store directory,
// normally /dev/shm, so they share the lifetime of POSIX shared memory.
//
// Attaching is two-phase: the fixed header is mapped first to learn the slot
// count chosen by the creator, then the whole segment is mapped.
package shm

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/sys/unix"

	"github.com/majorcontext/ringwrap/internal/lock"
)

var (
	// ErrExist means a record with the name is already initialized.
	ErrExist = errors.New("shared record already exists")
	// ErrNotFound means no record with the name exists.
	ErrNotFound = errors.New("shared record not found")
	// ErrCorrupt means the segment exists but is not a usable record.
	ErrCorrupt = errors.New("shared record is corrupt")
	// ErrNoWrapper means Create was called with an empty wrapper template.
	ErrNoWrapper = errors.New("wrapper command is empty")
	// ErrTooLong means a path or command does not fit its field in the record.
	ErrTooLong = errors.New("value too long for shared record")
)

const segmentPerm = 0o660

// Store creates and attaches records under a directory.
type Store struct {
	Dir string
}

// DefaultDir returns /dev/shm when it exists, otherwise the OS temp dir.
func DefaultDir() string {
	if fi, err := os.Stat("/dev/shm"); err == nil && fi.IsDir() {
		return "/dev/shm"
	}
	return os.TempDir()
}

// NewStore returns a Store rooted at dir, or DefaultDir when dir is empty.
func NewStore(dir string) *Store {
	if dir == "" {
		dir = DefaultDir()
	}
	return &Store{Dir: dir}
}

func (s *Store) segmentPath(name string) string {
	return filepath.Join(s.Dir, name+".shm")
}

func (s *Store) lockPath(name string) string {
	return filepath.Join(s.Dir, name+".lock")
}

// Create initializes a new record and returns its Handle with the lock held.
// The caller must Unlock once any follow-up setup is done.
//
// An empty outDir disables the ring by forcing a single slot.
func (s *Store) Create(name string, slots uint64, outDir, wrapper string) (*Handle, error) {
	if wrapper == "" {
		return nil, ErrNoWrapper
	}
	if slots < 1 {
		return nil, fmt.Errorf("%s: slot count must be at least 1, got %d", name, slots)
	}
	if len(outDir) >= MaxDirLen {
		return nil, fmt.Errorf("%s: output directory is %d bytes, at most %d fit: %w", name, len(outDir), MaxDirLen-1, ErrTooLong)
	}
	if len(wrapper) >= MaxCommandLen {
		return nil, fmt.Errorf("%s: wrapper is %d bytes, at most %d fit: %w", name, len(wrapper), MaxCommandLen-1, ErrTooLong)
	}
	if outDir == "" {
		slots = 1
	}

	l, err := lock.CreateLocked(s.lockPath(name))
	if err != nil {
		if errors.Is(err, lock.ErrExist) {
			return nil, fmt.Errorf("%s: %w", name, ErrExist)
		}
		return nil, err
	}

	data, err := s.createSegment(name, slots)
	if err != nil {
		_ = lock.Destroy(l.Path())
		l.Close()
		return nil, err
	}

	putString(data, offOutDir, MaxDirLen, outDir)
	putString(data, offWrapper, MaxCommandLen, wrapper)
	putU64(data, offSlots, slots)

	return newHandle(s, name, l, data)
}

func (s *Store) createSegment(name string, slots uint64) ([]byte, error) {
	path := s.segmentPath(name)
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, segmentPerm)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("%s: %w", name, ErrExist)
		}
		return nil, fmt.Errorf("creating segment %s: %w", path, err)
	}
	defer f.Close()

	size := SegmentSize(slots)
	// Truncate zero-fills the whole region.
	if err := f.Truncate(int64(size)); err != nil {
		os.Remove(path)
		return nil, fmt.Errorf("sizing segment %s: %w", path, err)
	}
	data, err := mmap(f, size)
	if err != nil {
		os.Remove(path)
		return nil, fmt.Errorf("mapping segment %s: %w", path, err)
	}
	return data, nil
}

// Attach maps an existing record. The returned Handle is not locked.
func (s *Store) Attach(name string) (*Handle, error) {
	l, err := lock.OpenAndLock(s.lockPath(name))
	if err != nil {
		if errors.Is(err, lock.ErrNotFound) {
			return nil, fmt.Errorf("%s: %w", name, ErrNotFound)
		}
		return nil, err
	}

	data, err := s.mapSegment(name)
	if err != nil {
		l.Close()
		return nil, err
	}
	h, err := newHandle(s, name, l, data)
	if err != nil {
		return nil, err
	}
	if err := h.Unlock(); err != nil {
		h.Detach()
		return nil, err
	}
	return h, nil
}

func (s *Store) mapSegment(name string) ([]byte, error) {
	path := s.segmentPath(name)
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%s: %w", name, ErrNotFound)
		}
		return nil, fmt.Errorf("opening segment %s: %w", path, err)
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat segment %s: %w", path, err)
	}
	if fi.Size() < HeaderSize {
		return nil, fmt.Errorf("%s: segment is %d bytes: %w", name, fi.Size(), ErrCorrupt)
	}

	head, err := mmap(f, HeaderSize)
	if err != nil {
		return nil, fmt.Errorf("mapping header %s: %w", path, err)
	}
	slots := getU64(head, offSlots)
	if err := unix.Munmap(head); err != nil {
		return nil, fmt.Errorf("unmapping header %s: %w", path, err)
	}
	if slots == 0 {
		return nil, fmt.Errorf("%s: slot count is zero: %w", name, ErrCorrupt)
	}
	size := SegmentSize(slots)
	if fi.Size() < int64(size) {
		return nil, fmt.Errorf("%s: segment is %d bytes, header declares %d: %w",
			name, fi.Size(), size, ErrCorrupt)
	}

	data, err := mmap(f, size)
	if err != nil {
		return nil, fmt.Errorf("mapping segment %s: %w", path, err)
	}
	return data, nil
}

// Exists reports whether a record with the name is present.
func (s *Store) Exists(name string) bool {
	_, err := os.Stat(s.segmentPath(name))
	return err == nil
}

// List returns the names of records in the store whose name starts with
// prefix, sorted.
func (s *Store) List(prefix string) ([]string, error) {
	entries, err := os.ReadDir(s.Dir)
	if err != nil {
		return nil, fmt.Errorf("listing %s: %w", s.Dir, err)
	}
	var names []string
	for _, e := range entries {
		name, ok := strings.CutSuffix(e.Name(), ".shm")
		if !ok || e.IsDir() || !strings.HasPrefix(name, prefix) {
			continue
		}
		names = append(names, name)
	}
	return names, nil
}

func (s *Store) destroy(name string) error {
	var errs []error
	if err := os.Remove(s.segmentPath(name)); err != nil && !errors.Is(err, os.ErrNotExist) {
		errs = append(errs, fmt.Errorf("removing segment: %w", err))
	}
	if err := lock.Destroy(s.lockPath(name)); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func mmap(f *os.File, size int) ([]byte, error) {
	return unix.Mmap(int(f.Fd()), 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
}
