package zerobuffer

import (
	"errors"
	"fmt"
)

// Sentinel errors for the fixed-message members of spec §7's taxonomy.
var (
	ErrBufferAlreadyExists     = errors.New("zerobuffer: buffer already exists")
	ErrBufferNotFound          = errors.New("zerobuffer: buffer not found")
	ErrWriterAlreadyConnected  = errors.New("zerobuffer: writer already connected")
	ErrWriterDead              = errors.New("zerobuffer: writer process is dead")
	ErrReaderDead              = errors.New("zerobuffer: reader process is dead")
	ErrInvalidFrameSize        = errors.New("zerobuffer: frame size must be non-zero")
	ErrMetadataAlreadyWritten  = errors.New("zerobuffer: metadata already written")
	ErrInvalidState            = errors.New("zerobuffer: invalid zero-copy write sequence")
	ErrClosed                  = errors.New("zerobuffer: endpoint is closed")
)

// FrameTooLargeError carries the sizes involved so callers can decide
// whether to split the write or grow the buffer.
type FrameTooLargeError struct {
	FrameSize   uint64 // 16 + payload length
	PayloadSize uint64 // total ring capacity
}

func (e *FrameTooLargeError) Error() string {
	return fmt.Sprintf("zerobuffer: frame of %d bytes exceeds payload capacity %d", e.FrameSize, e.PayloadSize)
}

// SequenceError is raised when a Reader observes a non-consecutive frame
// sequence number, spec §7 / §8 property 2. It is always fatal: the ring's
// FIFO invariant has been violated, by a protocol bug or a corrupted
// mapping, and the Reader must not be used further.
type SequenceError struct {
	Expected uint64
	Got      uint64
}

func (e *SequenceError) Error() string {
	return fmt.Sprintf("zerobuffer: sequence error: expected %d, got %d", e.Expected, e.Got)
}

// MetadataTooLargeError is raised by SetMetadata when the supplied bytes
// don't fit the metadata region sized at buffer creation.
type MetadataTooLargeError struct {
	Size     uint64
	Capacity uint64
}

func (e *MetadataTooLargeError) Error() string {
	return fmt.Sprintf("zerobuffer: metadata of %d bytes exceeds capacity %d", e.Size, e.Capacity)
}

// ProtocolError covers the "should not occur" defensive branch of spec
// §4.3.1 step 5: a frame header claims a body that would run past the end
// of the payload ring without the producer having written a wrap marker
// first.
type ProtocolError struct {
	Reason string
}

func (e *ProtocolError) Error() string { return "zerobuffer: protocol error: " + e.Reason }
