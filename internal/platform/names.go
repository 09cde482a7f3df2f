// Package platform provides the OS-level primitives a Reader/Writer pair
// needs to rendezvous across processes: named shared memory, named counting
// semaphores, PID liveness, and the lock-file registry used for stale-buffer
// recovery.
package platform

import (
	"os"
	"path/filepath"
)

// Names is the canonical set of resource names derived from a logical
// buffer name, per spec §3.4 / §6.2 / §6.3.
type Names struct {
	Shm    string // shared-memory segment name
	SemW   string // "data available" semaphore name
	SemR   string // "space available" semaphore name
	LockID string // lock-file name (without directory)
}

// Namespace controls where named resources are rooted. Production code gets
// one from config.RuntimeConfig; tests build their own under a temporary
// directory.
type Namespace struct {
	ShmDir  string // e.g. /dev/shm
	RunDir  string // per-user runtime directory for lock files
}

// DefaultNamespace mirrors the teacher's own default: AlephTX-aleph-tx's
// feeder writes its shared matrix straight into /dev/shm (shm/matrix.go).
func DefaultNamespace() Namespace {
	runDir := os.Getenv("XDG_RUNTIME_DIR")
	if runDir == "" {
		runDir = filepath.Join(os.TempDir(), "zerobuffer")
	} else {
		runDir = filepath.Join(runDir, "zerobuffer")
	}
	return Namespace{ShmDir: "/dev/shm", RunDir: runDir}
}

// NamesFor builds the four resource names for a logical buffer name.
func (ns Namespace) NamesFor(buffer string) Names {
	return Names{
		Shm:    buffer,
		SemW:   "sem-w-" + buffer,
		SemR:   "sem-r-" + buffer,
		LockID: "lock-" + buffer,
	}
}

func (ns Namespace) ShmPath(name string) string {
	return filepath.Join(ns.ShmDir, name)
}

func (ns Namespace) SemPath(name string) string {
	return filepath.Join(ns.RunDir, "sem", name)
}

func (ns Namespace) LockPath(lockID string) string {
	return filepath.Join(ns.RunDir, "lock", lockID)
}

// EnsureDirs creates the runtime subdirectories used for semaphores and
// lock files. Shared memory lives directly in ns.ShmDir, which the OS
// already provides (/dev/shm on Linux).
func (ns Namespace) EnsureDirs() error {
	if err := os.MkdirAll(filepath.Join(ns.RunDir, "sem"), 0o755); err != nil {
		return err
	}
	return os.MkdirAll(filepath.Join(ns.RunDir, "lock"), 0o755)
}

// RequestBufferName and ResponseBufferName implement the duplex channel
// naming convention of spec §3.4: a channel C is two logical buffers
// C_request and C_response.
func RequestBufferName(channel string) string  { return channel + "_request" }
func ResponseBufferName(channel string) string { return channel + "_response" }
