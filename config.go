package zerobuffer

import "github.com/AlephTX/zerobuffer/internal/platform"

// BufferConfig sizes a new buffer at creation time, spec §6.4. Both sizes
// are fixed for the lifetime of the buffer; the spec's Non-goals explicitly
// exclude dynamic resizing.
type BufferConfig struct {
	MetadataSize uint64
	PayloadSize  uint64
}

// DefaultBufferConfig is a reasonable default for ad hoc use: 4 KiB of
// metadata, 10 MiB of payload.
var DefaultBufferConfig = BufferConfig{
	MetadataSize: 4096,
	PayloadSize:  10 * 1024 * 1024,
}

// defaultNamespace applies when no WithNamespace option is given; tests pass
// their own, and production code gets it from config.RuntimeConfig via
// WithNamespace.
var defaultNamespace = platform.DefaultNamespace()

// Option configures a Reader or Writer beyond the buffer name and config.
type Option func(*options)

type options struct {
	namespace platform.Namespace
}

func buildOptions(opts ...Option) options {
	o := options{namespace: defaultNamespace}
	for _, apply := range opts {
		apply(&o)
	}
	return o
}

// WithNamespace overrides where shared memory, semaphores, and lock files
// are rooted. Used by tests to avoid colliding with a real /dev/shm, and by
// callers that loaded a config.RuntimeConfig with a custom namespace.
func WithNamespace(ns platform.Namespace) Option {
	return func(o *options) { o.namespace = ns }
}
