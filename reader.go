package zerobuffer

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/AlephTX/zerobuffer/internal/oieb"
	"github.com/AlephTX/zerobuffer/internal/platform"
)

const readerPollInterval = 5 * time.Millisecond

// Reader owns a named buffer: it creates the shared-memory segment and both
// semaphores, and is the only endpoint allowed to unlink them (spec §4.3,
// §4.7). Exactly one Reader may exist for a given name at a time; a second
// Reader attempt fails with ErrBufferAlreadyExists unless the first one's
// process has died, in which case the stale resources are recovered
// automatically (spec §4.1's create-or-recover rule).
type Reader struct {
	ns    platform.Namespace
	names platform.Names

	metadataSize uint64
	payloadSize  uint64

	shm  *platform.ShmSegment
	view *oieb.View
	semW *platform.Semaphore
	semR *platform.Semaphore
	lock *platform.LockFile

	expectedSequence uint64

	mu     sync.Mutex // guards OIEB bookkeeping and expectedSequence
	closed atomic.Bool
}

// NewReader creates a brand-new buffer named name. If a sibling buffer
// already exists and its creating process is still alive, this fails with
// ErrBufferAlreadyExists; if that process has died, the stale shared
// memory, semaphores, and lock file are removed and creation retried once,
// per spec §4.1/§9 "stale-resource recovery".
func NewReader(name string, cfg BufferConfig, opts ...Option) (r *Reader, err error) {
	o := buildOptions(opts...)
	if err := o.namespace.EnsureDirs(); err != nil {
		return nil, err
	}
	names := o.namespace.NamesFor(name)
	shmPath := o.namespace.ShmPath(names.Shm)
	lockPath := o.namespace.LockPath(names.LockID)

	if platform.ShmExists(shmPath) {
		switch platform.ProbeClaim(lockPath) {
		case platform.ClaimLive:
			return nil, ErrBufferAlreadyExists
		case platform.ClaimStale, platform.ClaimFree:
			if err := platform.RemoveAll(o.namespace, names); err != nil {
				return nil, err
			}
		}
	}

	shm, err := platform.CreateShm(shmPath, cfg.MetadataSize, cfg.PayloadSize)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			shm.Close()
			platform.RemoveAll(o.namespace, names)
		}
	}()

	view := oieb.New(shm.OIEB())
	view.Init(cfg.MetadataSize, cfg.PayloadSize)
	view.SetReaderPID(platform.CurrentPID)

	semW, err := platform.CreateSemaphore(o.namespace.SemPath(names.SemW))
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			semW.Close()
		}
	}()

	semR, err := platform.CreateSemaphore(o.namespace.SemPath(names.SemR))
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			semR.Close()
		}
	}()

	lock, err := platform.WriteLockFile(lockPath, platform.CurrentPID)
	if err != nil {
		return nil, err
	}

	return &Reader{
		ns:           o.namespace,
		names:        names,
		metadataSize: cfg.MetadataSize,
		payloadSize:  cfg.PayloadSize,
		shm:          shm,
		view:         view,
		semW:         semW,
		semR:         semR,
		lock:         lock,
		expectedSequence: 1,
	}, nil
}

func (r *Reader) payload() []byte { return r.shm.Payload(r.metadataSize) }

// IsWriterConnected waits up to timeout for a Writer to attach, spec §4.3.
func (r *Reader) IsWriterConnected(timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for {
		if r.view.WriterPID() != 0 {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		time.Sleep(readerPollInterval)
	}
}

// GetMetadata returns a view over the metadata written by the Writer, or
// an empty slice if set_metadata was never called.
func (r *Reader) GetMetadata() []byte {
	n := r.view.MetadataWrittenBytes()
	return r.shm.Metadata(r.metadataSize)[:n:n]
}

// ReadFrame implements the read algorithm of spec §4.3.1: blocks up to
// timeout for a frame, transparently consuming any wrap marker it
// encounters along the way. Returns (nil, nil) on a soft timeout with the
// writer still alive, and ErrWriterDead if the writer has died.
func (r *Reader) ReadFrame(timeout time.Duration) (*Frame, error) {
	if r.closed.Load() {
		return nil, ErrClosed
	}
	deadline := time.Now().Add(timeout)

	for {
		if r.closed.Load() {
			return nil, ErrClosed
		}

		r.mu.Lock()
		written := r.view.PayloadWrittenCount()
		read := r.view.PayloadReadCount()
		r.mu.Unlock()

		if written == read {
			remaining := time.Until(deadline)
			if remaining < 0 {
				remaining = 0
			}
			ok, err := r.semW.Wait(remaining)
			if err != nil {
				return nil, err
			}
			if !ok {
				wpid := r.view.WriterPID()
				if wpid != 0 && !platform.ProcessExists(wpid) {
					return nil, ErrWriterDead
				}
				return nil, nil
			}
			continue
		}

		r.mu.Lock()
		frame, wrapped, err := r.consumeOne()
		r.mu.Unlock()
		if err != nil {
			return nil, err
		}
		if wrapped {
			if err := r.semR.Post(); err != nil {
				return nil, err
			}
			continue
		}
		return frame, nil
	}
}

// consumeOne decodes exactly one slot at the current read position: either
// a wrap marker (consumed in place, wrapped=true, frame=nil) or a real
// frame. Caller holds r.mu.
func (r *Reader) consumeOne() (frame *Frame, wrapped bool, err error) {
	pos := r.view.PayloadReadPos()
	payload := r.payload()
	size := r.view.PayloadSize()

	hdr := readFrameHeader(payload[pos : pos+frameHeaderSize])
	if hdr.isWrapMarker() {
		wasted := size - pos
		r.view.AddPayloadFreeBytes(wasted)
		r.view.SetPayloadReadPos(0)
		r.view.IncPayloadReadCount()
		return nil, true, nil
	}

	if hdr.sequence != r.expectedSequence {
		return nil, false, &SequenceError{Expected: r.expectedSequence, Got: hdr.sequence}
	}

	if pos+frameHeaderSize+hdr.payloadSize > size {
		return nil, false, &ProtocolError{Reason: "frame body runs past end of payload ring without a wrap marker"}
	}

	body := payload[pos+frameHeaderSize : pos+frameHeaderSize+hdr.payloadSize]
	slotSize := frameHeaderSize + hdr.payloadSize

	r.view.SetPayloadReadPos((pos + slotSize) % size)
	r.view.IncPayloadReadCount()
	r.expectedSequence++

	return &Frame{
		sequence: hdr.sequence,
		data:     body,
		slotSize: slotSize,
		reader:   r,
	}, false, nil
}

// releaseFrame credits a consumed slot's space back to the ring and wakes
// any writer blocked waiting for it. Called by Frame.Release.
func (r *Reader) releaseFrame(f *Frame) error {
	r.mu.Lock()
	r.view.AddPayloadFreeBytes(f.slotSize)
	r.mu.Unlock()
	return r.semR.Post()
}

// Close clears reader_pid, wakes any thread blocked in ReadFrame, and
// unlinks every named resource belonging to this buffer. Per spec §4.7,
// only the Reader's close ever unlinks resources.
func (r *Reader) Close() error {
	if !r.closed.CompareAndSwap(false, true) {
		return nil
	}
	r.view.SetReaderPID(0)
	_ = r.semW.Post()

	_ = r.shm.Close()
	_ = r.semW.Close()
	_ = r.semR.Close()

	return platform.RemoveAll(r.ns, r.names)
}
