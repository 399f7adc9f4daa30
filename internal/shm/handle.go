//go:build !windows

package shm

import (
	"errors"
	"fmt"

	"golang.org/x/sys/unix"

	"github.com/majorcontext/ringwrap/internal/lock"
	"github.com/majorcontext/ringwrap/internal/ring"
)

// Handle is one process's mapping of a record plus its lock handle.
//
// Accessors that mutate the record require the lock to be held; Roll is the
// exception and takes the lock itself.
type Handle struct {
	store *Store
	name  string
	lock  *lock.Lock
	data  []byte
	ring  *ring.Ring
}

func newHandle(s *Store, name string, l *lock.Lock, data []byte) (*Handle, error) {
	slots := int(getU64(data, offSlots))
	r, err := ring.New(data[offRing:], slots)
	if err != nil {
		_ = unix.Munmap(data)
		l.Close()
		return nil, fmt.Errorf("%s: %v: %w", name, err, ErrCorrupt)
	}
	return &Handle{store: s, name: name, lock: l, data: data, ring: r}, nil
}

// Name returns the shared name of the record.
func (h *Handle) Name() string {
	return h.name
}

// Lock acquires the record's lock, blocking without a timeout.
func (h *Handle) Lock() error {
	return h.lock.Lock()
}

// Unlock releases the record's lock.
func (h *Handle) Unlock() error {
	return h.lock.Unlock()
}

// Tracing reports whether wrapping is switched on.
func (h *Handle) Tracing() bool {
	return getU64(h.data, offTracing) != 0
}

// SetTracing switches wrapping on or off and counts the transition in
// begins or ends. It reports false, changing nothing, when the flag already
// has the requested value.
func (h *Handle) SetTracing(on bool) bool {
	if h.Tracing() == on {
		return false
	}
	if on {
		putU64(h.data, offTracing, 1)
		addU64(h.data, offBegins)
	} else {
		putU64(h.data, offTracing, 0)
		addU64(h.data, offEnds)
	}
	return true
}

// CountExecution increments the wrapped or unwrapped execution counter.
func (h *Handle) CountExecution(wrapped bool) {
	if wrapped {
		addU64(h.data, offWrapped)
	} else {
		addU64(h.data, offUnwrapped)
	}
}

// OutDir returns the output base directory fixed at creation.
func (h *Handle) OutDir() string {
	return getString(h.data, offOutDir, MaxDirLen)
}

// Wrapper returns the wrapper command template fixed at creation.
func (h *Handle) Wrapper() string {
	return getString(h.data, offWrapper, MaxCommandLen)
}

// Slots returns the physical ring slot count fixed at creation.
func (h *Handle) Slots() uint64 {
	return getU64(h.data, offSlots)
}

// Ring returns the embedded ring. Callers must hold the lock.
func (h *Handle) Ring() *ring.Ring {
	return h.ring
}

// Roll records one finished execution in a single lock hold: it bumps the
// wrapped or unwrapped counter and, when dir is set and the ring is enabled,
// appends dir. It returns the entry dir pushed out, if any. A dir that does
// not fit a ring slot is rejected before anything changes.
func (h *Handle) Roll(wrapped bool, dir string) (evicted string, ok bool, err error) {
	if len(dir) >= ring.SlotSize {
		return "", false, fmt.Errorf("%s: %w", dir, ErrTooLong)
	}
	if err := h.Lock(); err != nil {
		return "", false, err
	}
	h.CountExecution(wrapped)
	if dir != "" && h.ring.Enabled() {
		evicted, ok = h.ring.Push(dir)
	}
	if err := h.Unlock(); err != nil {
		return evicted, ok, err
	}
	return evicted, ok, nil
}

// Record is a point-in-time copy of a shared record.
type Record struct {
	Name                string   `json:"name"`
	Tracing             bool     `json:"tracing"`
	WrappedExecutions   uint64   `json:"wrapped_executions"`
	UnwrappedExecutions uint64   `json:"unwrapped_executions"`
	Begins              uint64   `json:"begins"`
	Ends                uint64   `json:"ends"`
	Slots               uint64   `json:"slots"`
	OutDir              string   `json:"outdir"`
	Wrapper             string   `json:"wrapper"`
	Ring                []string `json:"ring"`
}

// Keep returns the retention count as the user configured it.
func (r Record) Keep() uint64 {
	return r.Slots - 1
}

// Capacity returns how many output directories the ring retains.
func (r Record) Capacity() uint64 {
	if r.Slots < ring.MinSlots {
		return 0
	}
	return r.Slots - 1
}

// Snapshot copies the record. Callers should hold the lock.
func (h *Handle) Snapshot() Record {
	return Record{
		Name:                h.name,
		Tracing:             h.Tracing(),
		WrappedExecutions:   getU64(h.data, offWrapped),
		UnwrappedExecutions: getU64(h.data, offUnwrapped),
		Begins:              getU64(h.data, offBegins),
		Ends:                getU64(h.data, offEnds),
		Slots:               h.Slots(),
		OutDir:              h.OutDir(),
		Wrapper:             h.Wrapper(),
		Ring:                h.ring.Entries(),
	}
}

// Detach unmaps the record and closes the lock handle. The named objects
// survive.
func (h *Handle) Detach() error {
	var errs []error
	if h.data != nil {
		if err := unix.Munmap(h.data); err != nil {
			errs = append(errs, fmt.Errorf("unmapping %s: %w", h.name, err))
		}
		h.data = nil
		h.ring = nil
	}
	if h.lock != nil {
		if err := h.lock.Close(); err != nil {
			errs = append(errs, err)
		}
		h.lock = nil
	}
	return errors.Join(errs...)
}

// Destroy takes the lock, removes the named segment and lock, then detaches.
// Other processes keep their existing mappings; their next Attach fails.
func (h *Handle) Destroy() error {
	if err := h.Lock(); err != nil {
		return err
	}
	err := h.store.destroy(h.name)
	return errors.Join(err, h.Detach())
}
