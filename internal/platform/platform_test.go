package platform

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testNamespace(t *testing.T) Namespace {
	t.Helper()
	dir := t.TempDir()
	ns := Namespace{ShmDir: filepath.Join(dir, "shm"), RunDir: filepath.Join(dir, "run")}
	require.NoError(t, ns.EnsureDirs())
	require.NoError(t, os.MkdirAll(ns.ShmDir, 0o755))
	return ns
}

func Test_NamesFor(t *testing.T) {
	ns := Namespace{ShmDir: "/dev/shm", RunDir: "/tmp/run"}
	names := ns.NamesFor("mybuf")

	assert.Equal(t, "mybuf", names.Shm)
	assert.Equal(t, "sem-w-mybuf", names.SemW)
	assert.Equal(t, "sem-r-mybuf", names.SemR)
	assert.Equal(t, "lock-mybuf", names.LockID)

	assert.Equal(t, "/dev/shm/mybuf", ns.ShmPath(names.Shm))
	assert.Equal(t, "/tmp/run/sem/sem-w-mybuf", ns.SemPath(names.SemW))
	assert.Equal(t, "/tmp/run/lock/lock-mybuf", ns.LockPath(names.LockID))
}

func Test_RequestResponseBufferNames(t *testing.T) {
	assert.Equal(t, "orders_request", RequestBufferName("orders"))
	assert.Equal(t, "orders_response", ResponseBufferName("orders"))
}

func Test_ProcessExists(t *testing.T) {
	assert.True(t, ProcessExists(CurrentPID))
	assert.False(t, ProcessExists(0))
	// A pid this large is virtually certain not to exist on any real system.
	assert.False(t, ProcessExists(1<<32-1))
}

func Test_ShmCreateOpenRemove(t *testing.T) {
	ns := testNamespace(t)
	path := ns.ShmPath("buf1")

	seg, err := CreateShm(path, 64, 256)
	require.NoError(t, err)
	assert.True(t, ShmExists(path))
	assert.Len(t, seg.OIEB(), oiebSize)
	assert.Len(t, seg.Metadata(64), 64)
	assert.Len(t, seg.Payload(64), 256)

	_, err = CreateShm(path, 64, 256)
	assert.Error(t, err, "exclusive create must fail on an existing path")

	seg2, err := OpenShm(path)
	require.NoError(t, err)
	require.NoError(t, seg2.Close())

	require.NoError(t, seg.Close())
	require.NoError(t, RemoveShm(path))
	assert.False(t, ShmExists(path))
	require.NoError(t, RemoveShm(path), "removing a missing segment is not an error")
}

func Test_LockFile_WriteReadRemove(t *testing.T) {
	ns := testNamespace(t)
	path := ns.LockPath("lock-buf1")

	lf, err := WriteLockFile(path, 4242)
	require.NoError(t, err)

	pid, ok := ReadLockFilePID(path)
	require.True(t, ok)
	assert.Equal(t, uint64(4242), pid)

	_, ok = ReadLockFilePID(ns.LockPath("missing"))
	assert.False(t, ok)

	require.NoError(t, lf.Remove())
	_, ok = ReadLockFilePID(path)
	assert.False(t, ok)
}

func Test_ProbeClaim(t *testing.T) {
	ns := testNamespace(t)

	assert.Equal(t, ClaimFree, ProbeClaim(ns.LockPath("nope")))

	livePath := ns.LockPath("live")
	_, err := WriteLockFile(livePath, CurrentPID)
	require.NoError(t, err)
	assert.Equal(t, ClaimLive, ProbeClaim(livePath))

	stalePath := ns.LockPath("stale")
	_, err = WriteLockFile(stalePath, 1<<32-1)
	require.NoError(t, err)
	assert.Equal(t, ClaimStale, ProbeClaim(stalePath))
}

func Test_Semaphore_PostWait(t *testing.T) {
	ns := testNamespace(t)
	path := ns.SemPath("sem-test")

	creator, err := CreateSemaphore(path)
	require.NoError(t, err)
	defer creator.Close()

	waiter, err := OpenSemaphore(path)
	require.NoError(t, err)
	defer waiter.Close()

	ok, err := waiter.Wait(20 * time.Millisecond)
	require.NoError(t, err)
	assert.False(t, ok, "no post yet, must time out")

	require.NoError(t, creator.Post())

	ok, err = waiter.Wait(time.Second)
	require.NoError(t, err)
	assert.True(t, ok)
}

func Test_Semaphore_CountsAccumulate(t *testing.T) {
	ns := testNamespace(t)
	path := ns.SemPath("sem-count")

	a, err := CreateSemaphore(path)
	require.NoError(t, err)
	defer a.Close()
	b, err := OpenSemaphore(path)
	require.NoError(t, err)
	defer b.Close()

	require.NoError(t, a.Post())
	require.NoError(t, a.Post())
	require.NoError(t, a.Post())

	for i := 0; i < 3; i++ {
		ok, err := b.Wait(time.Second)
		require.NoError(t, err)
		require.True(t, ok, "post %d should be queued", i)
	}

	ok, err := b.Wait(20 * time.Millisecond)
	require.NoError(t, err)
	assert.False(t, ok, "no fourth post was queued")

	require.NoError(t, RemoveSemaphore(path))
}

func Test_RemoveAll(t *testing.T) {
	ns := testNamespace(t)
	names := ns.NamesFor("cleanup-buf")

	_, err := CreateShm(ns.ShmPath(names.Shm), 16, 16)
	require.NoError(t, err)
	semW, err := CreateSemaphore(ns.SemPath(names.SemW))
	require.NoError(t, err)
	semR, err := CreateSemaphore(ns.SemPath(names.SemR))
	require.NoError(t, err)
	_, err = WriteLockFile(ns.LockPath(names.LockID), CurrentPID)
	require.NoError(t, err)
	require.NoError(t, semW.Close())
	require.NoError(t, semR.Close())

	require.NoError(t, RemoveAll(ns, names))
	assert.False(t, ShmExists(ns.ShmPath(names.Shm)))
	_, ok := ReadLockFilePID(ns.LockPath(names.LockID))
	assert.False(t, ok)
}
