package dcs

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsDupFilenameAndSize(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir, 7)
	require.NoError(t, err)
	defer s.Close()

	file := filepath.Join(dir, "rep1.txt")
	require.NoError(t, os.WriteFile(file, make([]byte, 512), 0644))

	dup1, err := s.IsDup(CRC32IEEE, FilenameAndSize, file, 512, 60*time.Second, false)
	require.NoError(t, err)
	assert.False(t, dup1, "first arrival is never a duplicate")

	dup2, err := s.IsDup(CRC32IEEE, FilenameAndSize, file, 512, 60*time.Second, false)
	require.NoError(t, err)
	assert.True(t, dup2, "second arrival within timeout must be flagged duplicate")
}

func TestIsDupExpiresAfterTimeout(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir, 8)
	require.NoError(t, err)
	defer s.Close()

	file := filepath.Join(dir, "a.txt")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0644))

	_, err = s.isDupCRC(0xdeadbeef, FilenameOnly, 10*time.Millisecond, false)
	require.NoError(t, err)
	time.Sleep(20 * time.Millisecond)

	dup, err := s.isDupCRC(0xdeadbeef, FilenameOnly, 10*time.Millisecond, false)
	require.NoError(t, err)
	assert.False(t, dup, "expired entry must report non-duplicate")
}

func TestRemoveFlagDeletesEntry(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir, 9)
	require.NoError(t, err)
	defer s.Close()

	_, err = s.isDupCRC(123, FilenameOnly, time.Minute, false)
	require.NoError(t, err)
	dup, err := s.isDupCRC(123, FilenameOnly, time.Minute, true)
	require.NoError(t, err)
	assert.False(t, dup)

	dup2, err := s.isDupCRC(123, FilenameOnly, time.Minute, false)
	require.NoError(t, err)
	assert.False(t, dup2, "entry removed by rmFlag must not be seen as duplicate afterwards")
}
