package pwstore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	for _, pw := range []string{"", "a", "s3cr3t!", "012345678901234567890123456789"} {
		enc, err := encode(pw)
		require.NoError(t, err)
		assert.Equal(t, pw, decode(enc), "obfuscate then deobfuscate must be the identity for %q", pw)
	}
}

func TestStoreAndLookup(t *testing.T) {
	s, err := Open(t.TempDir())
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Store("alice@ftp.example.com", "hunter2"))
	require.NoError(t, s.Store("bob@ftp.example.com", "swordfish"))

	pw, found := s.Lookup("alice@ftp.example.com")
	assert.True(t, found)
	assert.Equal(t, "hunter2", pw)

	pw, found = s.Lookup("bob@ftp.example.com")
	assert.True(t, found)
	assert.Equal(t, "swordfish", pw)

	_, found = s.Lookup("nobody@elsewhere")
	assert.False(t, found)
}

func TestStoreOverwritesExisting(t *testing.T) {
	s, err := Open(t.TempDir())
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Store("alice@host", "first"))
	require.NoError(t, s.Store("alice@host", "second"))

	pw, found := s.Lookup("alice@host")
	assert.True(t, found)
	assert.Equal(t, "second", pw)
}

func TestOpenMissingFileStartsEmpty(t *testing.T) {
	s, err := Open(t.TempDir())
	require.NoError(t, err)
	defer s.Close()

	_, found := s.Lookup("anyone@anywhere")
	assert.False(t, found)
}
