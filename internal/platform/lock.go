package platform

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// LockFile is the stale-resource detector of spec §4.1/§4.7/§6.3: one file
// per buffer, holding the creating Reader's pid as decimal text. Its
// presence without a live pid behind it means "stale, safe to unlink".
type LockFile struct {
	path string
}

// WriteLockFile creates a lock file recording pid, failing if one already
// exists (the caller is expected to have already resolved any stale sibling
// via ReadLockFile + ProcessExists, mirroring the reader-slot liveness scan
// in the gdbx lock file, other_examples/7fc738be_Giulio2002-gdbx__lock.go.go).
func WriteLockFile(path string, pid uint64) (*LockFile, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return nil, fmt.Errorf("lock: create %s: %w", path, err)
	}
	defer f.Close()
	if _, err := f.WriteString(strconv.FormatUint(pid, 10)); err != nil {
		os.Remove(path)
		return nil, fmt.Errorf("lock: write %s: %w", path, err)
	}
	return &LockFile{path: path}, nil
}

// ReadLockFilePID reads the pid recorded in an existing lock file. Returns
// ok=false if the file doesn't exist or its contents aren't a valid pid.
func ReadLockFilePID(path string) (pid uint64, ok bool) {
	b, err := os.ReadFile(path)
	if err != nil {
		return 0, false
	}
	v, err := strconv.ParseUint(strings.TrimSpace(string(b)), 10, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// Remove deletes the lock file; a missing file is not an error.
func (l *LockFile) Remove() error {
	return RemoveLockFile(l.path)
}

func RemoveLockFile(path string) error {
	err := os.Remove(path)
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// StaleClaim is the result of probing an existing buffer's lock file before
// a Reader tries to create one of its own.
type StaleClaim int

const (
	// ClaimFree means no sibling resources exist; creation can proceed.
	ClaimFree StaleClaim = iota
	// ClaimStale means a sibling exists but its owning pid is dead; the
	// caller should unlink the old resources and retry creation once.
	ClaimStale
	// ClaimLive means a sibling exists and its owning pid is alive;
	// creation must fail with BufferAlreadyExists.
	ClaimLive
)

// ProbeClaim inspects a buffer's lock file (if any) and classifies it.
// This is the decision point spec §4.1 describes: "if the stale
// lock-holder PID no longer exists, remove ... and retry; otherwise fail".
func ProbeClaim(lockPath string) StaleClaim {
	pid, ok := ReadLockFilePID(lockPath)
	if !ok {
		return ClaimFree
	}
	if ProcessExists(pid) {
		return ClaimLive
	}
	return ClaimStale
}
