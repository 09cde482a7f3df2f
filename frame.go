package zerobuffer

import "encoding/binary"

// frameHeaderSize is the 16-byte prefix of every payload frame, spec §3.2:
// an 8-byte payload_size (0 reserved for a wrap marker) followed by an
// 8-byte monotonically increasing sequence_number.
const frameHeaderSize = 16

type frameHeader struct {
	payloadSize uint64
	sequence    uint64
}

func (h frameHeader) isWrapMarker() bool { return h.payloadSize == 0 }

func readFrameHeader(b []byte) frameHeader {
	return frameHeader{
		payloadSize: binary.LittleEndian.Uint64(b[0:8]),
		sequence:    binary.LittleEndian.Uint64(b[8:16]),
	}
}

func writeFrameHeader(b []byte, h frameHeader) {
	binary.LittleEndian.PutUint64(b[0:8], h.payloadSize)
	binary.LittleEndian.PutUint64(b[8:16], h.sequence)
}

// Frame is a zero-copy handle onto a slot inside the Reader's mapped
// payload, spec §3.3. Its bytes are only valid while held; Release must be
// called exactly once to credit payload_free_bytes and wake a blocked
// Writer (spec §4.3's release_frame). Holding a Frame past its useful life
// pins that slot and starves the producer — Go has no deterministic
// destructors, so unlike an RAII language binding this must be explicit,
// per the "Scoped frame lifetime" design note in spec §9.
type Frame struct {
	sequence uint64
	data     []byte // direct view into the Reader's mapping; no copy
	slotSize uint64 // 16 + len(data); needed by Reader.releaseFrame
	released bool
	reader   *Reader
}

// Sequence returns the frame's sequence number, spec §3.3.
func (f *Frame) Sequence() uint64 { return f.sequence }

// Size returns the frame body length in bytes.
func (f *Frame) Size() int { return len(f.data) }

// Data returns the frame body as a direct view into shared memory. The
// slice is only valid until Release is called.
func (f *Frame) Data() []byte { return f.data }

// Release credits the slot's space back to the ring and wakes a writer
// that may be blocked waiting for it. Spec §8 property 7: releasing a
// frame a second time is a no-op, never a double credit.
func (f *Frame) Release() error {
	if f.released {
		return nil
	}
	f.released = true
	return f.reader.releaseFrame(f)
}
