// Package oieb implements the typed overlay over the 128-byte Operation
// Info Exchange Block described in spec §3.1: a fixed control structure at
// offset 0 of the shared-memory segment, all fields little-endian.
//
// payload_free_bytes is the one field mutated by both processes (producer
// subtracts, consumer adds), so it alone needs a true hardware
// fetch-add/fetch-sub. The Python original (original_source/python/
// zerobuffer/oieb_view.py) has to load libatomic via ctypes for this,
// because CPython has no atomic fetch-add primitive; Go's sync/atomic
// exposes fetch-add/fetch-sub as a language-level operation over a plain
// *uint64, so no cgo or shared-library loading is needed here — see
// DESIGN.md for this simplification relative to the original.
package oieb

import (
	"encoding/binary"
	"sync/atomic"
	"unsafe"
)

// Size is the fixed OIEB size; spec §3.1 requires the oieb_size field to
// equal exactly this.
const Size = 128

const (
	offOIEBSize              = 0
	offVersion               = 4
	offMetadataSize          = 8
	offMetadataFreeBytes     = 16
	offMetadataWrittenBytes  = 24
	offPayloadSize           = 32
	offPayloadFreeBytes      = 40
	offPayloadWritePos       = 48
	offPayloadReadPos        = 56
	offPayloadWrittenCount   = 64
	offPayloadReadCount      = 72
	offWriterPID             = 80
	offReaderPID             = 88
)

// Version is the OIEB protocol version this implementation writes and
// expects: 1.0.0 per spec §3.1.
var Version = [4]byte{1, 0, 0, 0}

// View overlays spec §3.1's 128-byte control block onto a mapped byte
// slice. It never copies: every accessor reads or writes through the
// slice directly, mirroring the "direct memory view" design of the Python
// OIEBView it is grounded on.
type View struct {
	b []byte // exactly Size bytes
}

// New wraps exactly the first Size bytes of a mapping. Callers pass
// shm.OIEB(), which already slices to Size.
func New(b []byte) *View {
	if len(b) != Size {
		panic("oieb: view requires exactly 128 bytes")
	}
	return &View{b: b}
}

func (v *View) u32(off int) uint32 { return binary.LittleEndian.Uint32(v.b[off:]) }
func (v *View) putU32(off int, val uint32) { binary.LittleEndian.PutUint32(v.b[off:], val) }
func (v *View) u64(off int) uint64 { return binary.LittleEndian.Uint64(v.b[off:]) }
func (v *View) putU64(off int, val uint64) { binary.LittleEndian.PutUint64(v.b[off:], val) }

func (v *View) ptr64(off int) *uint64 {
	return (*uint64)(unsafe.Pointer(&v.b[off]))
}

// Init writes the initial OIEB state for a freshly created buffer: sizes
// fixed, every counter/position zero, payload_free_bytes equal to the full
// payload capacity, and both pids zero (unattached).
func (v *View) Init(metadataSize, payloadSize uint64) {
	v.putU32(offOIEBSize, Size)
	copy(v.b[offVersion:offVersion+4], Version[:])
	v.putU64(offMetadataSize, metadataSize)
	v.putU64(offMetadataFreeBytes, metadataSize)
	v.putU64(offMetadataWrittenBytes, 0)
	v.putU64(offPayloadSize, payloadSize)
	v.putU64(offPayloadFreeBytes, payloadSize)
	v.putU64(offPayloadWritePos, 0)
	v.putU64(offPayloadReadPos, 0)
	v.putU64(offPayloadWrittenCount, 0)
	v.putU64(offPayloadReadCount, 0)
	v.putU64(offWriterPID, 0)
	v.putU64(offReaderPID, 0)
	for i := 96; i < Size; i++ {
		v.b[i] = 0
	}
}

func (v *View) OIEBSize() uint32 { return v.u32(offOIEBSize) }

func (v *View) MetadataSize() uint64         { return v.u64(offMetadataSize) }
func (v *View) MetadataFreeBytes() uint64    { return v.u64(offMetadataFreeBytes) }
func (v *View) SetMetadataFreeBytes(n uint64) { v.putU64(offMetadataFreeBytes, n) }

func (v *View) MetadataWrittenBytes() uint64     { return v.u64(offMetadataWrittenBytes) }
func (v *View) SetMetadataWrittenBytes(n uint64) { v.putU64(offMetadataWrittenBytes, n) }

func (v *View) PayloadSize() uint64 { return v.u64(offPayloadSize) }

// PayloadFreeBytes loads the concurrently-mutated field with acquire
// semantics (spec §3.1/§9).
func (v *View) PayloadFreeBytes() uint64 {
	return atomic.LoadUint64(v.ptr64(offPayloadFreeBytes))
}

// AddPayloadFreeBytes performs a hardware fetch-add with release ordering;
// this is the Reader's release_frame credit and the wrap-marker tail
// credit, the two places bytes flow back to the producer (spec §4.3,
// §4.4.1 step 4).
func (v *View) AddPayloadFreeBytes(n uint64) uint64 {
	return atomic.AddUint64(v.ptr64(offPayloadFreeBytes), n)
}

// SubPayloadFreeBytes performs a hardware fetch-sub; the Writer's capacity
// debit on every published slot (spec §4.4.1 steps 4 and 6). Go has no
// fetch-sub primitive, so this adds the two's-complement of n, which is
// exactly what a fetch-sub does at the instruction level.
func (v *View) SubPayloadFreeBytes(n uint64) uint64 {
	return atomic.AddUint64(v.ptr64(offPayloadFreeBytes), ^(n - 1))
}

func (v *View) PayloadWritePos() uint64     { return v.u64(offPayloadWritePos) }
func (v *View) SetPayloadWritePos(n uint64) { v.putU64(offPayloadWritePos, n) }

func (v *View) PayloadReadPos() uint64     { return v.u64(offPayloadReadPos) }
func (v *View) SetPayloadReadPos(n uint64) { v.putU64(offPayloadReadPos, n) }

func (v *View) PayloadWrittenCount() uint64     { return v.u64(offPayloadWrittenCount) }
func (v *View) SetPayloadWrittenCount(n uint64) { v.putU64(offPayloadWrittenCount, n) }
func (v *View) IncPayloadWrittenCount()          { v.putU64(offPayloadWrittenCount, v.PayloadWrittenCount()+1) }

func (v *View) PayloadReadCount() uint64     { return v.u64(offPayloadReadCount) }
func (v *View) SetPayloadReadCount(n uint64) { v.putU64(offPayloadReadCount, n) }
func (v *View) IncPayloadReadCount()          { v.putU64(offPayloadReadCount, v.PayloadReadCount()+1) }

// WriterPID and ReaderPID are single-writer fields (only the Writer sets
// WriterPID, only the Reader sets ReaderPID) but cross-process readers, so
// they use atomic loads/stores even though no RMW ever occurs on them —
// matching spec §3.1's "naturally atomic on aligned 8-byte fields" note
// while still going through sync/atomic for clarity and for the race
// detector's benefit in tests that run both sides as goroutines.
func (v *View) WriterPID() uint64     { return atomic.LoadUint64(v.ptr64(offWriterPID)) }
func (v *View) SetWriterPID(pid uint64) { atomic.StoreUint64(v.ptr64(offWriterPID), pid) }

func (v *View) ReaderPID() uint64     { return atomic.LoadUint64(v.ptr64(offReaderPID)) }
func (v *View) SetReaderPID(pid uint64) { atomic.StoreUint64(v.ptr64(offReaderPID), pid) }
