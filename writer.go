package zerobuffer

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/AlephTX/zerobuffer/internal/oieb"
	"github.com/AlephTX/zerobuffer/internal/platform"
)

// capacityWaitTimeout is the fixed per-iteration wait spec §4.4.1 step 3
// hardcodes: the Writer re-checks reader liveness every 5 seconds while
// blocked for space, independent of any caller-supplied timeout (the
// Writer API has no timeout parameter — spec §6.4).
const capacityWaitTimeout = 5 * time.Second

// Writer attaches to an existing buffer created by a Reader and produces
// frames into it, spec §4.4. Only one Writer may be attached at a time;
// attaching where a writer is already connected fails with
// ErrWriterAlreadyConnected.
type Writer struct {
	ns    platform.Namespace
	names platform.Names

	metadataSize uint64
	payloadSize  uint64

	shm  *platform.ShmSegment
	view *oieb.View
	semW *platform.Semaphore
	semR *platform.Semaphore

	sequenceNumber uint64

	mu              sync.Mutex
	metadataWritten bool
	pendingPos      uint64
	pendingSize     uint64 // 0 means no zero-copy acquisition outstanding
	pendingSeq      uint64

	closed atomic.Bool
}

// NewWriter attaches to the existing buffer named name. The buffer's sizes
// are read from the OIEB the Reader already initialized; unlike NewReader,
// NewWriter takes no BufferConfig.
func NewWriter(name string, opts ...Option) (w *Writer, err error) {
	o := buildOptions(opts...)
	names := o.namespace.NamesFor(name)
	shmPath := o.namespace.ShmPath(names.Shm)

	if !platform.ShmExists(shmPath) {
		return nil, ErrBufferNotFound
	}

	shm, err := platform.OpenShm(shmPath)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			shm.Close()
		}
	}()

	view := oieb.New(shm.OIEB())
	if view.WriterPID() != 0 {
		return nil, ErrWriterAlreadyConnected
	}

	semW, err := platform.OpenSemaphore(o.namespace.SemPath(names.SemW))
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			semW.Close()
		}
	}()

	semR, err := platform.OpenSemaphore(o.namespace.SemPath(names.SemR))
	if err != nil {
		return nil, err
	}

	view.SetWriterPID(platform.CurrentPID)

	return &Writer{
		ns:             o.namespace,
		names:          names,
		metadataSize:   view.MetadataSize(),
		payloadSize:    view.PayloadSize(),
		shm:            shm,
		view:           view,
		semW:           semW,
		semR:           semR,
		sequenceNumber: 1,
	}, nil
}

func (w *Writer) payload() []byte { return w.shm.Payload(w.metadataSize) }

// NextSequence returns the sequence number that the next WriteFrame or
// GetFrameBuffer call will stamp. The duplex client reads this before
// writing a request so it can recognize the correlated response later,
// grounded on original_source/python/zerobuffer/duplex/client.py predicting
// its own sequence number before calling write_frame.
func (w *Writer) NextSequence() uint64 { return w.sequenceNumber }

// SetMetadata writes the metadata region exactly once. A second call fails
// with ErrMetadataAlreadyWritten.
func (w *Writer) SetMetadata(data []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.metadataWritten {
		return ErrMetadataAlreadyWritten
	}
	if uint64(len(data)) > w.metadataSize {
		return &MetadataTooLargeError{Size: uint64(len(data)), Capacity: w.metadataSize}
	}

	copy(w.shm.Metadata(w.metadataSize), data)
	w.view.SetMetadataWrittenBytes(uint64(len(data)))
	w.view.SetMetadataFreeBytes(w.metadataSize - uint64(len(data)))
	w.metadataWritten = true
	return nil
}

// WriteFrame copy-writes data as one frame, spec §4.4.1.
func (w *Writer) WriteFrame(data []byte) error {
	if w.closed.Load() {
		return ErrClosed
	}
	if w.hasPending() {
		return ErrInvalidState
	}

	pos, slotSize, seq, err := w.acquireSlot(uint64(len(data)))
	if err != nil {
		return err
	}

	slot := w.payload()[pos : pos+slotSize]
	writeFrameHeader(slot[:frameHeaderSize], frameHeader{payloadSize: uint64(len(data)), sequence: seq})
	copy(slot[frameHeaderSize:], data)

	return w.finalizeSlot(pos, slotSize)
}

// WriteFrameWithSequence is identical to WriteFrame except the frame header
// is stamped with an explicit sequence number instead of the Writer's own
// monotonic counter. The duplex server uses this to publish a response
// carrying its correlated request's sequence number (spec §4.5/§9), which
// overrides this buffer's own sequence numbering for that one frame. The
// Writer's internal counter still advances normally; duplex response
// buffers simply never consult it.
func (w *Writer) WriteFrameWithSequence(data []byte, sequence uint64) error {
	if w.closed.Load() {
		return ErrClosed
	}
	if w.hasPending() {
		return ErrInvalidState
	}

	pos, slotSize, _, err := w.acquireSlot(uint64(len(data)))
	if err != nil {
		return err
	}

	slot := w.payload()[pos : pos+slotSize]
	writeFrameHeader(slot[:frameHeaderSize], frameHeader{payloadSize: uint64(len(data)), sequence: sequence})
	copy(slot[frameHeaderSize:], data)

	return w.finalizeSlot(pos, slotSize)
}

// GetFrameBuffer acquires a slot of 16+size bytes and returns a writable
// view of exactly size bytes for the caller to fill directly — the
// zero-copy write path of spec §4.4.1. No other Writer call is permitted
// until CommitFrame; violating that fails ErrInvalidState.
func (w *Writer) GetFrameBuffer(size int) ([]byte, error) {
	if w.closed.Load() {
		return nil, ErrClosed
	}
	if w.hasPending() {
		return nil, ErrInvalidState
	}

	pos, slotSize, seq, err := w.acquireSlot(uint64(size))
	if err != nil {
		return nil, err
	}

	slot := w.payload()[pos : pos+slotSize]
	writeFrameHeader(slot[:frameHeaderSize], frameHeader{payloadSize: uint64(size), sequence: seq})

	w.mu.Lock()
	w.pendingPos = pos
	w.pendingSize = slotSize
	w.pendingSeq = seq
	w.mu.Unlock()

	return slot[frameHeaderSize:], nil
}

// CommitFrame publishes the slot acquired by GetFrameBuffer.
func (w *Writer) CommitFrame() error {
	w.mu.Lock()
	if w.pendingSize == 0 {
		w.mu.Unlock()
		return ErrInvalidState
	}
	pos, slotSize := w.pendingPos, w.pendingSize
	w.pendingSize = 0
	w.mu.Unlock()

	return w.finalizeSlot(pos, slotSize)
}

func (w *Writer) hasPending() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.pendingSize != 0
}

// acquireSlot implements spec §4.4.1 steps 1-4: validates the frame size,
// decides whether a wrap marker is needed, blocks for capacity, and writes
// the wrap marker if required. It returns the position and total slot size
// (16+payloadLen) at which the caller must write the real header and body,
// plus the sequence number to stamp into that header.
func (w *Writer) acquireSlot(payloadLen uint64) (pos, slotSize, seq uint64, err error) {
	if payloadLen == 0 {
		return 0, 0, 0, ErrInvalidFrameSize
	}
	total := frameHeaderSize + payloadLen
	size := w.payloadSize
	if total > size {
		return 0, 0, 0, &FrameTooLargeError{FrameSize: total, PayloadSize: size}
	}

	writePos := w.view.PayloadWritePos()
	readPos := w.view.PayloadReadPos()
	spaceToEnd := size - writePos
	wrap := spaceToEnd < total && readPos > 0

	var need uint64
	if wrap {
		need = spaceToEnd + total
	} else {
		need = total
	}

	if err := w.ensureCapacity(need); err != nil {
		return 0, 0, 0, err
	}

	if wrap {
		writeFrameHeader(w.payload()[writePos:writePos+frameHeaderSize], frameHeader{payloadSize: 0, sequence: 0})
		w.view.SubPayloadFreeBytes(spaceToEnd)
		w.view.SetPayloadWritePos(0)
		w.view.IncPayloadWrittenCount()
		if err := w.semW.Post(); err != nil {
			return 0, 0, 0, err
		}
		writePos = 0
	}

	return writePos, total, w.sequenceNumber, nil
}

// ensureCapacity blocks until payload_free_bytes >= need, waking on sem-r
// every capacityWaitTimeout to re-check reader liveness (spec §4.4.1 step 3).
func (w *Writer) ensureCapacity(need uint64) error {
	for w.view.PayloadFreeBytes() < need {
		ok, err := w.semR.Wait(capacityWaitTimeout)
		if err != nil {
			return err
		}
		if !ok {
			rpid := w.view.ReaderPID()
			if rpid != 0 && !platform.ProcessExists(rpid) {
				return ErrReaderDead
			}
		}
	}
	return nil
}

// finalizeSlot is spec §4.4.1 steps 6-7: advance payload_write_pos, debit
// payload_free_bytes, publish the written count, advance the in-process
// sequence counter, and post sem-w exactly once.
func (w *Writer) finalizeSlot(pos, slotSize uint64) error {
	w.view.SetPayloadWritePos((pos + slotSize) % w.payloadSize)
	w.view.SubPayloadFreeBytes(slotSize)
	w.view.IncPayloadWrittenCount()
	w.sequenceNumber++
	return w.semW.Post()
}

// IsReaderConnected reports whether the buffer's reader_pid names a live
// process.
func (w *Writer) IsReaderConnected() bool {
	pid := w.view.ReaderPID()
	return pid != 0 && platform.ProcessExists(pid)
}

// Close clears writer_pid and detaches. Per spec §4.7, the Writer never
// unlinks shared resources — only the Reader's close does.
func (w *Writer) Close() error {
	if !w.closed.CompareAndSwap(false, true) {
		return nil
	}
	w.view.SetWriterPID(0)
	_ = w.semR.Post()

	_ = w.shm.Close()
	_ = w.semW.Close()
	_ = w.semR.Close()
	return nil
}
