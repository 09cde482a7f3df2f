package zerobuffer

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AlephTX/zerobuffer/internal/platform"
)

func testNamespace(t *testing.T) platform.Namespace {
	t.Helper()
	dir := t.TempDir()
	ns := platform.Namespace{ShmDir: filepath.Join(dir, "shm"), RunDir: filepath.Join(dir, "run")}
	require.NoError(t, os.MkdirAll(ns.ShmDir, 0o755))
	return ns
}

// smallConfig keeps test buffers tiny so wrap-around is easy to exercise.
var smallConfig = BufferConfig{MetadataSize: 64, PayloadSize: 128}

func Test_NewReader_CreateAndClose(t *testing.T) {
	ns := testNamespace(t)
	r, err := NewReader("buf1", smallConfig, WithNamespace(ns))
	require.NoError(t, err)
	require.NoError(t, r.Close())
}

func Test_NewReader_AlreadyExists(t *testing.T) {
	ns := testNamespace(t)
	r, err := NewReader("buf1", smallConfig, WithNamespace(ns))
	require.NoError(t, err)
	defer r.Close()

	_, err = NewReader("buf1", smallConfig, WithNamespace(ns))
	assert.ErrorIs(t, err, ErrBufferAlreadyExists)
}

func Test_NewReader_RecoversStaleSibling(t *testing.T) {
	ns := testNamespace(t)
	r, err := NewReader("buf1", smallConfig, WithNamespace(ns))
	require.NoError(t, err)
	defer r.Close() // safe even after buf1's resources are replaced below

	// Simulate the creating process having died: overwrite the lock file
	// with a pid that can't possibly be alive.
	names := ns.NamesFor("buf1")
	require.NoError(t, platform.RemoveLockFile(ns.LockPath(names.LockID)))
	_, err = platform.WriteLockFile(ns.LockPath(names.LockID), 1<<32-1)
	require.NoError(t, err)

	r2, err := NewReader("buf1", smallConfig, WithNamespace(ns))
	require.NoError(t, err, "a dead lock-holder must be recovered, not rejected")
	require.NoError(t, r2.Close())
}

func Test_NewWriter_NotFound(t *testing.T) {
	ns := testNamespace(t)
	_, err := NewWriter("nope", WithNamespace(ns))
	assert.ErrorIs(t, err, ErrBufferNotFound)
}

func Test_NewWriter_AlreadyConnected(t *testing.T) {
	ns := testNamespace(t)
	r, err := NewReader("buf1", smallConfig, WithNamespace(ns))
	require.NoError(t, err)
	defer r.Close()

	w1, err := NewWriter("buf1", WithNamespace(ns))
	require.NoError(t, err)
	defer w1.Close()

	_, err = NewWriter("buf1", WithNamespace(ns))
	assert.ErrorIs(t, err, ErrWriterAlreadyConnected)
}

func Test_WriteReadFrame_RoundTrip(t *testing.T) {
	ns := testNamespace(t)
	r, err := NewReader("buf1", smallConfig, WithNamespace(ns))
	require.NoError(t, err)
	defer r.Close()

	w, err := NewWriter("buf1", WithNamespace(ns))
	require.NoError(t, err)
	defer w.Close()

	require.NoError(t, w.SetMetadata([]byte("hello-meta")))
	assert.Equal(t, []byte("hello-meta"), r.GetMetadata())

	require.NoError(t, w.WriteFrame([]byte("frame-one")))
	require.NoError(t, w.WriteFrame([]byte("frame-two")))

	f1, err := r.ReadFrame(time.Second)
	require.NoError(t, err)
	require.NotNil(t, f1)
	assert.Equal(t, uint64(1), f1.Sequence())
	assert.Equal(t, []byte("frame-one"), f1.Data())
	require.NoError(t, f1.Release())
	require.NoError(t, f1.Release(), "second release is a no-op")

	f2, err := r.ReadFrame(time.Second)
	require.NoError(t, err)
	require.NotNil(t, f2)
	assert.Equal(t, uint64(2), f2.Sequence())
	assert.Equal(t, []byte("frame-two"), f2.Data())
	require.NoError(t, f2.Release())
}

func Test_ReadFrame_SoftTimeout(t *testing.T) {
	ns := testNamespace(t)
	r, err := NewReader("buf1", smallConfig, WithNamespace(ns))
	require.NoError(t, err)
	defer r.Close()

	w, err := NewWriter("buf1", WithNamespace(ns))
	require.NoError(t, err)
	defer w.Close()

	frame, err := r.ReadFrame(20 * time.Millisecond)
	require.NoError(t, err)
	assert.Nil(t, frame, "no data written, writer alive: soft timeout")
}

func Test_ReadFrame_WriterDead(t *testing.T) {
	ns := testNamespace(t)
	r, err := NewReader("buf1", smallConfig, WithNamespace(ns))
	require.NoError(t, err)
	defer r.Close()

	w, err := NewWriter("buf1", WithNamespace(ns))
	require.NoError(t, err)

	// Stamp an impossible pid directly, simulating the writer's process
	// having vanished without a clean Close.
	w.view.SetWriterPID(1<<32 - 1)

	_, err = r.ReadFrame(30 * time.Millisecond)
	assert.ErrorIs(t, err, ErrWriterDead)

	_ = w.Close()
}

func Test_WriteFrame_GetFrameBufferZeroCopy(t *testing.T) {
	ns := testNamespace(t)
	r, err := NewReader("buf1", smallConfig, WithNamespace(ns))
	require.NoError(t, err)
	defer r.Close()

	w, err := NewWriter("buf1", WithNamespace(ns))
	require.NoError(t, err)
	defer w.Close()

	buf, err := w.GetFrameBuffer(5)
	require.NoError(t, err)
	copy(buf, []byte("abcde"))

	_, err = w.GetFrameBuffer(5)
	assert.ErrorIs(t, err, ErrInvalidState, "a second acquisition before commit must fail")

	require.NoError(t, w.CommitFrame())
	assert.ErrorIs(t, w.CommitFrame(), ErrInvalidState, "commit without a pending acquisition must fail")

	f, err := r.ReadFrame(time.Second)
	require.NoError(t, err)
	assert.Equal(t, []byte("abcde"), f.Data())
	require.NoError(t, f.Release())
}

func Test_WriteFrame_WrapAround(t *testing.T) {
	ns := testNamespace(t)
	// payload of 128 bytes; each frame here is 16+40 = 56 bytes, so two
	// frames (112 bytes) nearly fill it and a third must wrap.
	r, err := NewReader("buf1", BufferConfig{MetadataSize: 16, PayloadSize: 128}, WithNamespace(ns))
	require.NoError(t, err)
	defer r.Close()

	w, err := NewWriter("buf1", WithNamespace(ns))
	require.NoError(t, err)
	defer w.Close()

	body := make([]byte, 40)
	for i := range body {
		body[i] = byte(i)
	}

	require.NoError(t, w.WriteFrame(body))
	f1, err := r.ReadFrame(time.Second)
	require.NoError(t, err)
	require.NoError(t, f1.Release())

	require.NoError(t, w.WriteFrame(body))
	require.NoError(t, w.WriteFrame(body)) // forces a wrap: not enough tail space

	f2, err := r.ReadFrame(time.Second)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), f2.Sequence())
	assert.Equal(t, body, f2.Data())
	require.NoError(t, f2.Release())

	f3, err := r.ReadFrame(time.Second)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), f3.Sequence())
	assert.Equal(t, body, f3.Data())
	require.NoError(t, f3.Release())
}

func Test_WriteFrame_TooLarge(t *testing.T) {
	ns := testNamespace(t)
	r, err := NewReader("buf1", smallConfig, WithNamespace(ns))
	require.NoError(t, err)
	defer r.Close()

	w, err := NewWriter("buf1", WithNamespace(ns))
	require.NoError(t, err)
	defer w.Close()

	err = w.WriteFrame(make([]byte, 1024))
	var tooLarge *FrameTooLargeError
	assert.ErrorAs(t, err, &tooLarge)
}

func Test_SetMetadata_OnceOnly(t *testing.T) {
	ns := testNamespace(t)
	r, err := NewReader("buf1", smallConfig, WithNamespace(ns))
	require.NoError(t, err)
	defer r.Close()

	w, err := NewWriter("buf1", WithNamespace(ns))
	require.NoError(t, err)
	defer w.Close()

	require.NoError(t, w.SetMetadata([]byte("once")))
	assert.ErrorIs(t, w.SetMetadata([]byte("twice")), ErrMetadataAlreadyWritten)
}

func Test_SetMetadata_TooLarge(t *testing.T) {
	ns := testNamespace(t)
	r, err := NewReader("buf1", smallConfig, WithNamespace(ns))
	require.NoError(t, err)
	defer r.Close()

	w, err := NewWriter("buf1", WithNamespace(ns))
	require.NoError(t, err)
	defer w.Close()

	err = w.SetMetadata(make([]byte, smallConfig.MetadataSize+1))
	var tooLarge *MetadataTooLargeError
	assert.ErrorAs(t, err, &tooLarge)
}

func Test_IsWriterConnected_IsReaderConnected(t *testing.T) {
	ns := testNamespace(t)
	r, err := NewReader("buf1", smallConfig, WithNamespace(ns))
	require.NoError(t, err)
	defer r.Close()

	assert.False(t, r.IsWriterConnected(20*time.Millisecond))

	w, err := NewWriter("buf1", WithNamespace(ns))
	require.NoError(t, err)
	defer w.Close()

	assert.True(t, r.IsWriterConnected(time.Second))
	assert.True(t, w.IsReaderConnected())
}
