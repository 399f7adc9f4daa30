// Package ring implements the FIFO history of output directories that lives
// inside a shared record.
//
// A Ring is a view over a caller-owned byte region divided into fixed-width
// slots. The last slot is a terminator: it is never addressable and never
// holds a value once a Push returns, so a ring with n slots retains at most
// n-1 entries. Occupied slots are always contiguous from index 0.
//
// Ring does no locking. Callers serialize access to the underlying region.
package ring

import (
	"bytes"
	"fmt"
)

// SlotSize is the width of one slot in bytes, including the NUL terminator.
const SlotSize = 256

// MinSlots is the smallest slot count for which Push stores anything.
// Below it the ring is disabled.
const MinSlots = 3

// Ring is a fixed-slot FIFO of strings backed by a byte region.
type Ring struct {
	buf   []byte
	slots int
}

// New returns a Ring over buf with the given number of slots.
// buf must hold at least slots*SlotSize bytes.
func New(buf []byte, slots int) (*Ring, error) {
	if slots < 1 {
		return nil, fmt.Errorf("ring needs at least one slot, got %d", slots)
	}
	if len(buf) < slots*SlotSize {
		return nil, fmt.Errorf("ring region is %d bytes, need %d for %d slots",
			len(buf), slots*SlotSize, slots)
	}
	return &Ring{buf: buf[:slots*SlotSize], slots: slots}, nil
}

// Slots returns the number of physical slots, terminator included.
func (r *Ring) Slots() int {
	return r.slots
}

// Enabled reports whether Push stores values.
func (r *Ring) Enabled() bool {
	return r.slots >= MinSlots
}

// Capacity returns how many entries the ring retains before evicting.
func (r *Ring) Capacity() int {
	if !r.Enabled() {
		return 0
	}
	return r.slots - 1
}

// Index returns the value at slot i. ok is false when i is not addressable
// (the terminator or beyond). An unused slot yields "" with ok true.
func (r *Ring) Index(i int) (value string, ok bool) {
	s := r.slot(i)
	if s == nil {
		return "", false
	}
	return cstring(s), true
}

// Entries returns the stored values, oldest first.
func (r *Ring) Entries() []string {
	out := []string{}
	for i := 0; i < r.slots-1; i++ {
		v, _ := r.Index(i)
		if v == "" {
			break
		}
		out = append(out, v)
	}
	return out
}

// Full reports whether the next Push will evict.
func (r *Ring) Full() bool {
	_, ok := r.nextFree()
	return !ok
}

// Push appends value, evicting the oldest entry first when the ring is full.
// Values longer than SlotSize-1 bytes are truncated. Push on a disabled ring
// or with an empty value does nothing.
func (r *Ring) Push(value string) (evicted string, ok bool) {
	if !r.Enabled() || value == "" {
		return "", false
	}
	free, hasFree := r.nextFree()
	if !hasFree {
		evicted, ok = r.evictOldest(), true
		free, _ = r.nextFree()
	}
	dst := r.slot(free)
	clear(dst)
	copy(dst[:SlotSize-1], value)
	return evicted, ok
}

// slot returns the bytes of addressable slot i, or nil.
func (r *Ring) slot(i int) []byte {
	if i < 0 || i >= r.slots-1 {
		return nil
	}
	return r.buf[i*SlotSize : (i+1)*SlotSize]
}

// nextFree finds the first empty slot after the occupied run by scanning
// backwards from the last addressable slot. ok is false when that slot is
// occupied, meaning the ring is full.
func (r *Ring) nextFree() (int, bool) {
	last := r.slots - 2
	if last < 0 {
		return 0, false
	}
	i := last
	for i > 0 && r.empty(i) {
		i--
	}
	switch {
	case i == last && !r.empty(i):
		return 0, false
	case !r.empty(i):
		return i + 1, true
	default:
		return 0, true
	}
}

// evictOldest removes slot 0 and shifts everything, terminator included, down
// one slot. The last two slots are zeroed so the terminator stays empty.
// Callers must only evict a full ring.
func (r *Ring) evictOldest() string {
	oldest := cstring(r.buf[:SlotSize])
	copy(r.buf, r.buf[SlotSize:])
	clear(r.buf[(r.slots-2)*SlotSize:])
	return oldest
}

func (r *Ring) empty(i int) bool {
	return r.buf[i*SlotSize] == 0
}

func cstring(b []byte) string {
	if n := bytes.IndexByte(b, 0); n >= 0 {
		b = b[:n]
	}
	return string(b)
}
