package duplex

import "github.com/AlephTX/zerobuffer"

// Factory creates the server and client ends of named duplex channels,
// spec §6.4's DuplexChannelFactory. It holds nothing but the zerobuffer
// options (namespace, etc.) to apply to every buffer it opens, so a zero
// Factory{} is usable directly.
type Factory struct {
	Options []zerobuffer.Option
}

// NewFactory builds a Factory that applies opts to every buffer it creates
// or attaches.
func NewFactory(opts ...zerobuffer.Option) *Factory {
	return &Factory{Options: opts}
}

// CreateImmutableServer creates channel's request buffer (as Reader) and
// returns a server ready to Start with an ImmutableHandler. The response
// buffer isn't touched until Start, since the client creates it.
func (f *Factory) CreateImmutableServer(channel string, cfg zerobuffer.BufferConfig, handler ImmutableHandler) (*ImmutableServer, error) {
	reqReader, err := zerobuffer.NewReader(requestBufferName(channel), cfg, f.Options...)
	if err != nil {
		return nil, err
	}
	return &ImmutableServer{
		server:  newServer(channel, reqReader, responseBufferName(channel), f.Options),
		handler: handler,
	}, nil
}

// CreateMutableServer is CreateImmutableServer's in-place-handler sibling.
func (f *Factory) CreateMutableServer(channel string, cfg zerobuffer.BufferConfig, handler MutableHandler) (*MutableServer, error) {
	reqReader, err := zerobuffer.NewReader(requestBufferName(channel), cfg, f.Options...)
	if err != nil {
		return nil, err
	}
	return &MutableServer{
		server:  newServer(channel, reqReader, responseBufferName(channel), f.Options),
		handler: handler,
	}, nil
}

// CreateClient attaches to channel: it creates the response buffer (as
// Reader) and attaches to the request buffer (as Writer), retrying the
// attach until the server has created it.
func (f *Factory) CreateClient(channel string, cfg zerobuffer.BufferConfig) (*Client, error) {
	return newClient(channel, cfg, f.Options)
}
