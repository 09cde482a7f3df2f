package duplex

import "github.com/AlephTX/zerobuffer"

// MutableServer pairs a MutableHandler with a channel: the handler
// rewrites the request region in place and that same region, unchanged in
// length, becomes the response body (spec §4.5's Mutable variant). This
// avoids a handler-side allocation; the bytes are still copied once into
// the response buffer, since request and response live in separate shared
// memory segments.
type MutableServer struct {
	*server
	handler MutableHandler
}

// Start attaches the response writer and launches the worker goroutine.
func (s *MutableServer) Start(mode ProcessingMode, opts ...StartOption) error {
	return s.server.start(mode, s.handleOne, opts)
}

func (s *MutableServer) handleOne(frame *zerobuffer.Frame) error {
	defer frame.Release()

	buf := frame.Data()
	if err := s.handler(buf); err != nil {
		return err
	}
	return s.publishResponse(frame.Sequence(), buf)
}
