// Package duplex composes two zerobuffer ring buffers into a request/
// response channel, spec §4.5/§4.6: a channel C is the pair of buffers
// C_request and C_response. The server owns the request buffer as Reader
// and the response buffer as Writer; the client owns the inverse pair.
package duplex

import "github.com/AlephTX/zerobuffer/internal/platform"

// ProcessingMode selects how a Server consumes its request buffer.
type ProcessingMode int

const (
	// SingleThread is the only fully specified mode (spec §4.5): one
	// worker goroutine reads a request, invokes the handler, writes the
	// response, releases the request frame, and repeats. Responses are
	// emitted in the same order requests arrived.
	SingleThread ProcessingMode = iota
	// ThreadPool is reserved for future work; starting a Server with it
	// fails cleanly rather than silently behaving like SingleThread.
	ThreadPool
)

func (m ProcessingMode) String() string {
	switch m {
	case SingleThread:
		return "single-thread"
	case ThreadPool:
		return "thread-pool"
	default:
		return "unknown"
	}
}

// ImmutableHandler receives a read-only request body and returns a
// response body (spec §4.5's Immutable variant).
type ImmutableHandler func(request []byte) (response []byte, err error)

// MutableHandler is handed an in-place request/response region: whatever
// bytes are left in buf when it returns become the response body (spec
// §4.5's Mutable variant). The slice length cannot grow past its input
// length — the response occupies the same slot as the request.
type MutableHandler func(buf []byte) error

// ErrorHandler observes non-fatal runtime errors from a running Server:
// a dead client, a handler error, or a disconnected-peer read timeout.
type ErrorHandler func(err error)

// requestBufferName and responseBufferName implement the duplex naming
// convention of spec §3.4.
func requestBufferName(channel string) string  { return platform.RequestBufferName(channel) }
func responseBufferName(channel string) string { return platform.ResponseBufferName(channel) }
