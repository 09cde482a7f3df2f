package duplex

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/AlephTX/zerobuffer"
)

// defaultReadTimeout bounds each iteration of the server's request read
// loop when the caller doesn't override it via WithReadTimeout (spec §4.5:
// "timeout parameter bounds each read loop iteration").
const defaultReadTimeout = 1 * time.Second

// responseConnectRetry is how often the server retries attaching to the
// response buffer while waiting for a client to create it. Modeled on the
// reconnect-with-backoff loop in AlephTX-aleph-tx/feeder/exchanges/base.go
// (RunConnectionLoop), shortened for a local rendezvous instead of a
// network socket.
const responseConnectRetry = 100 * time.Millisecond

// StartOption configures a Server's Start call: the on_init and on_error
// hooks of spec §4.5/§6.4, plus the per-iteration read timeout.
type StartOption func(*startConfig)

type startConfig struct {
	onInit      func(metadata []byte)
	onError     []ErrorHandler
	readTimeout time.Duration
}

// WithOnInit registers a hook invoked exactly once, after the first
// metadata observation on the request buffer (possibly empty), before the
// first handler call.
func WithOnInit(fn func(metadata []byte)) StartOption {
	return func(c *startConfig) { c.onInit = fn }
}

// WithOnError registers an error observer at Start time, equivalent to an
// immediate AddErrorHandler call.
func WithOnError(fn ErrorHandler) StartOption {
	return func(c *startConfig) { c.onError = append(c.onError, fn) }
}

// WithReadTimeout overrides the per-iteration request read timeout.
func WithReadTimeout(d time.Duration) StartOption {
	return func(c *startConfig) { c.readTimeout = d }
}

// server holds everything common to the Immutable and Mutable server
// variants: the request reader it created, the response writer it attaches
// lazily on Start, the error-observer registry, and run-state bookkeeping.
type server struct {
	channel          string
	requestReader    *zerobuffer.Reader
	responseWriter   *zerobuffer.Writer
	responseName     string
	writerOpts       []zerobuffer.Option

	mu            sync.Mutex
	errorHandlers map[int]ErrorHandler
	nextHandlerID int
	cancel        context.CancelFunc
	eg            *errgroup.Group
	initOnce      sync.Once

	requests  atomic.Uint64
	responses atomic.Uint64
	lastError atomic.Value // string
}

func newServer(channel string, reader *zerobuffer.Reader, respName string, opts []zerobuffer.Option) *server {
	return &server{
		channel:       channel,
		requestReader: reader,
		responseName:  respName,
		writerOpts:    opts,
		errorHandlers: make(map[int]ErrorHandler),
	}
}

// AddErrorHandler registers fn and returns a handle RemoveErrorHandler
// accepts. Go func values aren't comparable, so identity is tracked by
// handle rather than by the function value itself.
func (s *server) AddErrorHandler(fn ErrorHandler) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextHandlerID
	s.nextHandlerID++
	s.errorHandlers[id] = fn
	return id
}

// RemoveErrorHandler unregisters a handler previously returned by
// AddErrorHandler.
func (s *server) RemoveErrorHandler(id int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.errorHandlers, id)
}

func (s *server) notifyError(err error) {
	s.lastError.Store(err.Error())
	s.mu.Lock()
	handlers := make([]ErrorHandler, 0, len(s.errorHandlers))
	for _, h := range s.errorHandlers {
		handlers = append(handlers, h)
	}
	s.mu.Unlock()
	for _, h := range handlers {
		h(err)
	}
}

// RequestCount, ResponseCount, and LastError back the telemetry package's
// read-only status feed (SPEC_FULL.md §D.3).
func (s *server) RequestCount() uint64  { return s.requests.Load() }
func (s *server) ResponseCount() uint64 { return s.responses.Load() }
func (s *server) LastError() string {
	v, _ := s.lastError.Load().(string)
	return v
}

// start wires up the common Start sequence: attach the response writer
// (retrying until the client creates it), launch the worker goroutine
// running handleOne per request, and apply the caller's StartOption list.
// The Immutable/Mutable wrappers supply handleOne.
func (s *server) start(mode ProcessingMode, handleOne func(*zerobuffer.Frame) error, opts []StartOption) error {
	if mode == ThreadPool {
		return errors.New("duplex: THREAD_POOL processing mode is not implemented; use SingleThread")
	}

	cfg := startConfig{readTimeout: defaultReadTimeout}
	for _, apply := range opts {
		apply(&cfg)
	}
	for _, h := range cfg.onError {
		s.AddErrorHandler(h)
	}

	ctx, cancel := context.WithCancel(context.Background())

	respWriter, err := connectResponseWriter(ctx, s.responseName, s.writerOpts)
	if err != nil {
		cancel()
		return fmt.Errorf("duplex: attach response writer: %w", err)
	}

	// errgroup.Group supervises the single worker goroutine the same way
	// AlephTX-aleph-tx/feeder/main.go's sync.WaitGroup supervises its
	// per-exchange feed goroutines, upgraded to errgroup so a future
	// THREAD_POOL mode can add workers to the same group without
	// restructuring the join logic.
	g, gctx := errgroup.WithContext(ctx)

	s.mu.Lock()
	s.responseWriter = respWriter
	s.cancel = cancel
	s.eg = g
	s.mu.Unlock()

	g.Go(func() error {
		s.run(gctx, cfg, handleOne)
		return nil
	})
	return nil
}

func (s *server) run(ctx context.Context, cfg startConfig, handleOne func(*zerobuffer.Frame) error) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		frame, err := s.requestReader.ReadFrame(cfg.readTimeout)
		if err != nil {
			if errors.Is(err, zerobuffer.ErrClosed) {
				return
			}
			s.notifyError(err)
			if errors.Is(err, zerobuffer.ErrWriterDead) {
				// The request buffer's client is gone; this endpoint is
				// unusable per spec §7's WriterDead policy, so the worker
				// stops. Stop() still tears down cleanly afterward.
				return
			}
			continue
		}
		if frame == nil {
			continue // soft timeout, no client activity this iteration
		}

		if cfg.onInit != nil {
			s.initOnce.Do(func() { cfg.onInit(s.requestReader.GetMetadata()) })
		}

		s.requests.Add(1)
		if err := handleOne(frame); err != nil {
			s.notifyError(err)
			// A handler error doesn't kill the worker (spec §4.5): it
			// continues with the next request.
		} else {
			s.responses.Add(1)
		}
	}
}

// publishResponse writes data to the response buffer stamped with the
// request's own sequence number rather than the writer's internal
// monotonic counter — the sequence-correlation contract of spec §4.5/§9.
func (s *server) publishResponse(sequence uint64, data []byte) error {
	return s.responseWriter.WriteFrameWithSequence(data, sequence)
}

// Stop signals cancellation, forces any blocked ReadFrame to return by
// closing the request reader (which also unlinks the request buffer's
// shared resources, since the server owns that buffer per spec §4.7),
// joins the worker goroutine, and detaches the response writer.
func (s *server) Stop() error {
	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	eg := s.eg
	respWriter := s.responseWriter
	s.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()
	_ = s.requestReader.Close()
	if eg != nil {
		_ = eg.Wait()
	}
	if respWriter != nil {
		return respWriter.Close()
	}
	return nil
}

// connectResponseWriter retries attaching to the response buffer until it
// exists (the client hasn't necessarily created it yet) or ctx is
// canceled. Grounded on the reconnect-with-backoff shape of
// AlephTX-aleph-tx/feeder/exchanges/base.go's RunConnectionLoop.
func connectResponseWriter(ctx context.Context, name string, opts []zerobuffer.Option) (*zerobuffer.Writer, error) {
	for {
		w, err := zerobuffer.NewWriter(name, opts...)
		if err == nil {
			return w, nil
		}
		if !errors.Is(err, zerobuffer.ErrBufferNotFound) {
			return nil, err
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(responseConnectRetry):
		}
	}
}
