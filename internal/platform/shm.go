package platform

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// ShmSegment is a named, exact-sized shared-memory mapping split into the
// OIEB, metadata, and payload regions described in spec §3.1.
//
// The creation path mirrors AlephTX-aleph-tx/feeder/shm/matrix.go's
// NewMatrix: open-or-create under a fixed directory, Truncate to the exact
// size, then mmap MAP_SHARED. This repo uses golang.org/x/sys/unix instead
// of the teacher's raw syscall package so the same import also backs the
// FIFO-based semaphore in semaphore.go.
type ShmSegment struct {
	path string
	data []byte
}

const oiebSize = 128

// CreateShm creates a brand-new segment of exactly oiebSize+metadataSize+
// payloadSize bytes, failing if one already exists at that path. Exclusive
// creation is what lets the Reader's create-or-recover logic (ProbeClaim)
// tell "fresh create" apart from "found a stale sibling".
func CreateShm(path string, metadataSize, payloadSize uint64) (*ShmSegment, error) {
	total := oiebSize + metadataSize + payloadSize
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return nil, fmt.Errorf("shm: create %s: %w", path, err)
	}
	defer f.Close()

	if err := f.Truncate(int64(total)); err != nil {
		os.Remove(path)
		return nil, fmt.Errorf("shm: truncate %s: %w", path, err)
	}

	data, err := unix.Mmap(int(f.Fd()), 0, int(total), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		os.Remove(path)
		return nil, fmt.Errorf("shm: mmap %s: %w", path, err)
	}

	return &ShmSegment{path: path, data: data}, nil
}

// OpenShm attaches to an existing segment. The writer side of a buffer
// always opens; it never creates.
func OpenShm(path string) (*ShmSegment, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("shm: open %s: %w", path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("shm: stat %s: %w", path, err)
	}
	size := info.Size()
	if size < oiebSize {
		return nil, fmt.Errorf("shm: %s too small (%d bytes)", path, size)
	}

	data, err := unix.Mmap(int(f.Fd()), 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("shm: mmap %s: %w", path, err)
	}

	return &ShmSegment{path: path, data: data}, nil
}

// ShmExists reports whether a segment is present at path without attaching to it.
func ShmExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// RemoveShm unlinks a segment by path. Safe to call on a path that doesn't
// exist.
func RemoveShm(path string) error {
	err := os.Remove(path)
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

func (s *ShmSegment) OIEB() []byte     { return s.data[:oiebSize] }
func (s *ShmSegment) Metadata(metadataSize uint64) []byte {
	return s.data[oiebSize : oiebSize+metadataSize]
}
func (s *ShmSegment) Payload(metadataSize uint64) []byte {
	return s.data[oiebSize+metadataSize:]
}

// Close unmaps the segment. It does not unlink the underlying file; callers
// that own cleanup (the Reader) call RemoveShm separately, matching the
// spec §4.7 rule that only the Reader's close ever unlinks resources.
func (s *ShmSegment) Close() error {
	if s.data == nil {
		return nil
	}
	err := unix.Munmap(s.data)
	s.data = nil
	return err
}
