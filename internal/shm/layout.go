package shm

import (
	"bytes"
	"encoding/binary"

	"github.com/majorcontext/ringwrap/internal/ring"
)

// Field limits inside a record.
const (
	MaxDirLen     = ring.SlotSize
	MaxCommandLen = 1024
)

// Header offsets. The slot count sits before any variable-length data so an
// attaching process can read it from a header-only mapping.
const (
	offTracing    = 0
	offWrapped    = offTracing + 8
	offUnwrapped  = offWrapped + 8
	offSlots      = offUnwrapped + 8
	offBegins     = offSlots + 8
	offEnds       = offBegins + 8
	offOutDir     = offEnds + 8
	offWrapper    = offOutDir + MaxDirLen
	offRing       = offWrapper + MaxCommandLen
	fixedHeadSize = offRing

	// HeaderSize includes the first ring slot, which every record has.
	HeaderSize = fixedHeadSize + ring.SlotSize
)

// SegmentSize returns the mapped size of a record with the given slot count.
func SegmentSize(slots uint64) int {
	return HeaderSize + int(slots-1)*ring.SlotSize
}

var order = binary.LittleEndian

func getU64(b []byte, off int) uint64 {
	return order.Uint64(b[off : off+8])
}

func putU64(b []byte, off int, v uint64) {
	order.PutUint64(b[off:off+8], v)
}

func addU64(b []byte, off int) {
	putU64(b, off, getU64(b, off)+1)
}

func getString(b []byte, off, size int) string {
	field := b[off : off+size]
	if n := bytes.IndexByte(field, 0); n >= 0 {
		field = field[:n]
	}
	return string(field)
}

// putString writes s NUL-terminated, truncating to size-1 bytes.
func putString(b []byte, off, size int, s string) {
	field := b[off : off+size]
	clear(field)
	copy(field[:size-1], s)
}
