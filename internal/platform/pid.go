package platform

import (
	"os"
	"syscall"
)

// CurrentPID is cached at process start, matching the cachedPID pattern used
// by the reader-slot scanner in the gdbx lock file (other_examples/
// 7fc738be_Giulio2002-gdbx__lock.go.go): avoid a getpid syscall on every
// liveness probe.
var CurrentPID = uint64(os.Getpid())

// ProcessExists reports whether pid refers to a live process. It uses the
// classic "kill with signal 0" probe: the kernel still performs permission
// and existence checks without actually delivering a signal.
func ProcessExists(pid uint64) bool {
	if pid == 0 {
		return false
	}
	// #nosec G103 -- pid is an opaque identifier read from shared memory,
	// not attacker-controlled in a way that affects anything beyond this
	// existence probe.
	err := syscall.Kill(int(pid), 0)
	if err == nil {
		return true
	}
	// EPERM still means the process exists; we just can't signal it.
	return err == syscall.EPERM
}
