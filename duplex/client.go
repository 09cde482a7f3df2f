package duplex

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/AlephTX/zerobuffer"
)

// requestConnectRetry mirrors responseConnectRetry: a Client may be
// constructed before its server, so attaching to the request buffer as
// Writer retries the same way the server retries the response buffer.
const requestConnectRetry = 100 * time.Millisecond

// Response is a response frame read from a duplex channel. Its Sequence
// always equals the request's sequence number it answers (spec §4.5/§9),
// not a freshly assigned one.
type Response struct {
	Sequence uint64
	Data     []byte

	frame *zerobuffer.Frame
}

// Release returns the response frame's slot to the response buffer's ring.
func (r *Response) Release() error { return r.frame.Release() }

// Client is the consumer side of a duplex channel: it creates the response
// buffer (as Reader) and attaches to the request buffer (as Writer), spec
// §4.6.
type Client struct {
	channel        string
	responseReader *zerobuffer.Reader
	requestWriter  *zerobuffer.Writer

	mu         sync.Mutex
	pendingSeq uint64
	lastSeq    uint64
	closed     bool
}

func newClient(channel string, cfg zerobuffer.BufferConfig, opts []zerobuffer.Option) (c *Client, err error) {
	respReader, err := zerobuffer.NewReader(responseBufferName(channel), cfg, opts...)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			respReader.Close()
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	reqWriter, err := connectRequestWriter(ctx, requestBufferName(channel), opts)
	if err != nil {
		return nil, err
	}

	return &Client{
		channel:        channel,
		responseReader: respReader,
		requestWriter:  reqWriter,
	}, nil
}

func connectRequestWriter(ctx context.Context, name string, opts []zerobuffer.Option) (*zerobuffer.Writer, error) {
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
		case <-time.After(requestConnectRetry):
		}
	}
}

// SendRequest writes data as one request frame and blocks up to timeout for
// its correlated response, spec §4.6's synchronous request/response call.
func (c *Client) SendRequest(data []byte, timeout time.Duration) (*Response, error) {
	seq := c.requestWriter.NextSequence()
	if err := c.requestWriter.WriteFrame(data); err != nil {
		return nil, err
	}
	return c.awaitResponse(seq, timeout)
}

// AcquireRequestBuffer begins a zero-copy request write: the caller fills
// the returned slice and calls CommitRequest. Only one acquisition may be
// outstanding at a time (enforced by the underlying Writer).
func (c *Client) AcquireRequestBuffer(size int) ([]byte, error) {
	seq := c.requestWriter.NextSequence()
	buf, err := c.requestWriter.GetFrameBuffer(size)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.pendingSeq = seq
	c.mu.Unlock()
	return buf, nil
}

// CommitRequest publishes the buffer acquired by AcquireRequestBuffer.
// Call ReceiveResponse afterward to collect the correlated response.
func (c *Client) CommitRequest() error {
	c.mu.Lock()
	seq := c.pendingSeq
	c.mu.Unlock()

	if err := c.requestWriter.CommitFrame(); err != nil {
		return err
	}

	c.mu.Lock()
	c.lastSeq = seq
	c.mu.Unlock()
	return nil
}

// ReceiveResponse blocks up to timeout for the response correlated with the
// most recently committed zero-copy request.
func (c *Client) ReceiveResponse(timeout time.Duration) (*Response, error) {
	c.mu.Lock()
	seq := c.lastSeq
	c.mu.Unlock()
	return c.awaitResponse(seq, timeout)
}

func (c *Client) awaitResponse(wantSeq uint64, timeout time.Duration) (*Response, error) {
	deadline := time.Now().Add(timeout)
	for {
		remaining := time.Until(deadline)
		if remaining < 0 {
			remaining = 0
		}
		frame, err := c.responseReader.ReadFrame(remaining)
		if err != nil {
			return nil, err
		}
		if frame == nil {
			return nil, ErrRequestTimeout
		}
		if frame.Sequence() != wantSeq {
			frame.Release()
			return nil, &zerobuffer.SequenceError{Expected: wantSeq, Got: frame.Sequence()}
		}
		return &Response{Sequence: frame.Sequence(), Data: frame.Data(), frame: frame}, nil
	}
}

// IsServerConnected reports whether the server is attached to both halves
// of the channel: a live Reader on the request buffer and a Writer on the
// response buffer.
func (c *Client) IsServerConnected() bool {
	return c.requestWriter.IsReaderConnected() && c.responseReader.IsWriterConnected(0)
}

// Close detaches from the request buffer and unlinks the response buffer's
// shared resources (the Client created it, so it owns its cleanup, spec
// §4.7).
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	werr := c.requestWriter.Close()
	rerr := c.responseReader.Close()
	if werr != nil {
		return werr
	}
	return rerr
}
