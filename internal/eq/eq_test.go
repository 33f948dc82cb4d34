package eq

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAddAccumulatesNoToBeQueued(t *testing.T) {
	q, err := Open(filepath.Join(t.TempDir(), "eq"))
	require.NoError(t, err)
	defer q.Close()

	require.NoError(t, q.Add(1, 100))
	require.NoError(t, q.Add(1, 100))
	require.NoError(t, q.Add(1, 100))

	entries := q.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, uint32(3), entries[0].NoToBeQueued)
}

func TestCheckThreshold(t *testing.T) {
	q, err := Open(filepath.Join(t.TempDir(), "eq"))
	require.NoError(t, err)
	defer q.Close()

	require.NoError(t, q.Add(5, 1))
	assert.False(t, q.Check(5, 2))
	require.NoError(t, q.Add(5, 1))
	assert.True(t, q.Check(5, 2))
}

func TestRemoveClearsHostWhenLastEntryGone(t *testing.T) {
	q, err := Open(filepath.Join(t.TempDir(), "eq"))
	require.NoError(t, err)
	defer q.Close()

	require.NoError(t, q.Add(1, 42))
	require.NoError(t, q.Add(2, 42))

	var cleared []uint32
	onCleared := func(hostID uint32) { cleared = append(cleared, hostID) }

	require.NoError(t, q.Remove(1, onCleared))
	assert.Empty(t, cleared, "host still has a queued job, ERROR_QUEUE_SET must stay set")

	require.NoError(t, q.Remove(2, onCleared))
	assert.Equal(t, []uint32{42}, cleared, "last entry for host cleared must clear ERROR_QUEUE_SET")
}

func TestRemoveUnknownJobIsNoop(t *testing.T) {
	q, err := Open(filepath.Join(t.TempDir(), "eq"))
	require.NoError(t, err)
	defer q.Close()

	called := false
	require.NoError(t, q.Remove(999, func(uint32) { called = true }))
	assert.False(t, called)
}
