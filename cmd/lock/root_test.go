package lock

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// heldLocks refuses the first busy attempts of AcquireLock
type heldLocks struct {
	busy     int
	attempts int
	err      error
}

func (h *heldLocks) AcquireLock(_ string, _ uint64) (bool, []byte, error) {
	h.attempts++
	if h.err != nil {
		return false, nil, h.err
	}
	if h.attempts <= h.busy {
		return false, nil, nil
	}
	return true, []byte{0xab}, nil
}

func (h *heldLocks) ReleaseLock(_ string, _ []byte) (bool, error) {
	return true, nil
}

func TestTTLSeconds(t *testing.T) {
	tests := map[time.Duration]uint64{
		0:                       0,
		-time.Second:            0,
		time.Millisecond:        1,
		time.Second:             1,
		1500 * time.Millisecond: 2,
		time.Minute:             60,
	}
	for ttl, want := range tests {
		assert.Equal(t, want, ttlSeconds(ttl), "ttl %v", ttl)
	}
}

func TestExpiry(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	assert.Equal(t, "never", expiry(now, 0))
	assert.Equal(t, "2024-05-01T12:00:30Z", expiry(now, 30))
}

func TestAcquireRetriesUntilFree(t *testing.T) {
	h := &heldLocks{busy: 2}
	locks = h
	defer func() { locks = nil }()

	ok, owner, err := acquire("k", 1, 5*time.Second)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []byte{0xab}, owner)
	assert.Equal(t, 3, h.attempts)
}

func TestAcquireWithoutWaitTriesOnce(t *testing.T) {
	h := &heldLocks{busy: 10}
	locks = h
	defer func() { locks = nil }()

	ok, _, err := acquire("k", 1, 0)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 1, h.attempts)

	h.err = errors.New("connection refused")
	_, _, err = acquire("k", 1, time.Second)
	assert.ErrorIs(t, err, h.err)
}

func TestExecutePassesExitCode(t *testing.T) {
	require.NoError(t, execute([]string{"sh", "-c", "exit 0"}))

	var exit *exitError
	require.ErrorAs(t, execute([]string{"sh", "-c", "exit 3"}), &exit)
	assert.Equal(t, 3, exit.code)

	assert.Error(t, execute([]string{"/nonexistent/command"}))
}
