package lockmgr

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ValentinKolb/dDoc/lib/engine"
	"github.com/ValentinKolb/dDoc/lib/store/lstore"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newManager(t *testing.T) *lockMgrImpl {
	t.Helper()
	e, err := engine.Open("/locks", &engine.Options{Fs: afero.NewMemMapFs()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close() })
	return NewLockManager(lstore.NewLocalStore(e)).(*lockMgrImpl)
}

func TestAcquireRelease(t *testing.T) {
	lm := newManager(t)

	ok, owner, err := lm.AcquireLock("res", 0)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Len(t, owner, ownerIDBytes)

	ok, _, err = lm.AcquireLock("res", 0)
	require.NoError(t, err)
	assert.False(t, ok, "lock is held")

	released, err := lm.ReleaseLock("res", []byte("someone else"))
	require.NoError(t, err)
	assert.False(t, released)

	released, err = lm.ReleaseLock("res", owner)
	require.NoError(t, err)
	assert.True(t, released)

	// releasing a missing lock succeeds
	released, err = lm.ReleaseLock("res", owner)
	require.NoError(t, err)
	assert.True(t, released)

	ok, _, err = lm.AcquireLock("res", 0)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestExpiredLockIsTakenOver(t *testing.T) {
	lm := newManager(t)

	now := time.Unix(1_700_000_000, 0)
	lm.now = func() time.Time { return now }

	ok, first, err := lm.AcquireLock("res", 10)
	require.NoError(t, err)
	require.True(t, ok)

	now = now.Add(5 * time.Second)
	ok, _, err = lm.AcquireLock("res", 10)
	require.NoError(t, err)
	assert.False(t, ok, "lock has not expired yet")

	now = now.Add(6 * time.Second)
	ok, second, err := lm.AcquireLock("res", 10)
	require.NoError(t, err)
	require.True(t, ok)

	released, err := lm.ReleaseLock("res", first)
	require.NoError(t, err)
	assert.False(t, released, "the expired owner must not release the new lock")

	released, err = lm.ReleaseLock("res", second)
	require.NoError(t, err)
	assert.True(t, released)
}

func TestLockWithoutTimeoutNeverExpires(t *testing.T) {
	lm := newManager(t)

	now := time.Unix(1_700_000_000, 0)
	lm.now = func() time.Time { return now }

	ok, _, err := lm.AcquireLock("res", 0)
	require.NoError(t, err)
	require.True(t, ok)

	now = now.Add(24 * 365 * time.Hour)
	ok, _, err = lm.AcquireLock("res", 0)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestConcurrentAcquire(t *testing.T) {
	lm := newManager(t)

	var (
		wg       sync.WaitGroup
		acquired atomic.Int32
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, _, err := lm.AcquireLock("res", 60)
			assert.NoError(t, err)
			if ok {
				acquired.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.EqualValues(t, 1, acquired.Load())
}

func TestLocksSurviveRestart(t *testing.T) {
	fs := afero.NewMemMapFs()

	e, err := engine.Open("/locks", &engine.Options{Fs: fs})
	require.NoError(t, err)
	ok, owner, err := NewLockManager(lstore.NewLocalStore(e)).AcquireLock("res", 0)
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, e.Close())

	e, err = engine.Open("/locks", &engine.Options{Fs: fs})
	require.NoError(t, err)
	defer e.Close()
	lm := NewLockManager(lstore.NewLocalStore(e))

	ok, _, err = lm.AcquireLock("res", 0)
	require.NoError(t, err)
	assert.False(t, ok)

	released, err := lm.ReleaseLock("res", owner)
	require.NoError(t, err)
	assert.True(t, released)
}
