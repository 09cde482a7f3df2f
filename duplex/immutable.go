package duplex

import "github.com/AlephTX/zerobuffer"

// ImmutableServer pairs an ImmutableHandler with a channel: the handler
// receives a read-only request body and returns a freshly allocated
// response body (spec §4.5's Immutable variant).
type ImmutableServer struct {
	*server
	handler ImmutableHandler
}

// Start attaches the response writer and launches the worker goroutine.
// It blocks only long enough to attach; request processing runs
// asynchronously until Stop is called.
func (s *ImmutableServer) Start(mode ProcessingMode, opts ...StartOption) error {
	return s.server.start(mode, s.handleOne, opts)
}

func (s *ImmutableServer) handleOne(frame *zerobuffer.Frame) error {
	defer frame.Release()

	resp, err := s.handler(frame.Data())
	if err != nil {
		return err
	}
	return s.publishResponse(frame.Sequence(), resp)
}
