package recipient

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSeedScenarioURL(t *testing.T) {
	r, err := Parse("ftp://u:p@srv/out/")
	require.NoError(t, err)
	assert.Equal(t, "ftp", r.Scheme)
	assert.Equal(t, "u", r.User)
	assert.True(t, r.HasPassword)
	assert.Equal(t, "p", r.Password)
	assert.Equal(t, "srv", r.Host)
	assert.False(t, r.HasPort)
	assert.Equal(t, "out/", r.Path)
	assert.False(t, r.PathIsAbsolute)
}

func TestParseWithPortAndNoPassword(t *testing.T) {
	r, err := Parse("ftp://anonymous@host.example.com:2121/incoming")
	require.NoError(t, err)
	assert.Equal(t, "anonymous", r.User)
	assert.False(t, r.HasPassword)
	assert.True(t, r.HasPort)
	assert.Equal(t, 2121, r.Port)
	assert.Equal(t, "incoming", r.Path)
}

func TestParseAbsolutePathSentinel(t *testing.T) {
	r, err := Parse("loc://user@host//etc/data")
	require.NoError(t, err)
	assert.True(t, r.PathIsAbsolute)
	assert.Equal(t, "etc/data", r.Path)
}

func TestParseRelativePath(t *testing.T) {
	r, err := Parse("loc://user@host/inbox/data")
	require.NoError(t, err)
	assert.False(t, r.PathIsAbsolute)
	assert.Equal(t, "inbox/data", r.Path)
}

func TestParseMissingSchemeSeparator(t *testing.T) {
	_, err := Parse("not-a-url")
	assert.Error(t, err)
}

func TestParseMissingAt(t *testing.T) {
	_, err := Parse("ftp://host/path")
	assert.Error(t, err)
}

func TestParseInvalidPort(t *testing.T) {
	_, err := Parse("ftp://u@host:notaport/path")
	assert.Error(t, err)
}

func TestStringRoundTrip(t *testing.T) {
	orig := "ftp://u:p@srv:21/out/file"
	r, err := Parse(orig)
	require.NoError(t, err)
	assert.Equal(t, orig, r.String())
}
