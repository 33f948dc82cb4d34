package hostconfig

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeHostConfig(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "HOST_CONFIG")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0644))
	return path
}

func TestParseSeedScenarioLine(t *testing.T) {
	// HOST_CONFIG line of the simple-STOR seed scenario: 15 fields, with
	// real-host 2, toggle and proxy left empty between srv and 5.
	path := writeHostConfig(t, "h1:srv::::5:10:30:1024:10:-1:60:1:0:0\n")
	entries, err := ParseFile(path)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	e := entries[0]
	assert.Equal(t, "h1", e.HostAlias)
	assert.Equal(t, "srv", e.RealHostname1)
	assert.Equal(t, "", e.RealHostname2)
	assert.Equal(t, 5, e.AllowedTransfers)
	assert.Equal(t, 10, e.MaxErrors)
	assert.Equal(t, 30, e.RetryInterval)
	assert.Equal(t, 1024, e.TransferBlocksize)
	assert.Equal(t, 10, e.SuccessfulRetries)
	assert.Equal(t, -1, e.FileSizeOffset)
	assert.Equal(t, 60, e.TransferTimeout)
	assert.Equal(t, 1, e.NumberOfNoBursts)
	assert.Equal(t, uint32(0), e.HostStatus)
	assert.Equal(t, uint32(0), e.SpecialFlag)
}

func TestParseAppliesDefaultsForTrailingFields(t *testing.T) {
	path := writeHostConfig(t, "h2:srv2\n")
	entries, err := ParseFile(path)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	e := entries[0]
	assert.Equal(t, DefaultAllowedTransfers, e.AllowedTransfers)
	assert.Equal(t, DefaultMaxErrors, e.MaxErrors)
	assert.Equal(t, DefaultRetryInterval, e.RetryInterval)
	assert.Equal(t, DefaultTransferBlocksize, e.TransferBlocksize)
	assert.Equal(t, DefaultFileSizeOffset, e.FileSizeOffset)
	assert.Equal(t, DefaultTransferTimeout, e.TransferTimeout)
}

func TestParseSkipsCommentsAndBlankLines(t *testing.T) {
	path := writeHostConfig(t, "# a comment\n\nh3:srv3:::::2\n")
	entries, err := ParseFile(path)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "h3", entries[0].HostAlias)
}

func TestParseRejectsNoBurstsExceedingAllowedTransfers(t *testing.T) {
	path := writeHostConfig(t, "h4:srv4::::2:::::::5\n")
	_, err := ParseFile(path)
	assert.Error(t, err)
}

func TestParseRejectsAliasOverEightChars(t *testing.T) {
	path := writeHostConfig(t, "toolongalias:srv\n")
	_, err := ParseFile(path)
	assert.Error(t, err)
}

func TestToSSAHostConvertsTimeouts(t *testing.T) {
	e := Entry{HostAlias: "h1", RetryInterval: 30, TransferTimeout: 60, AllowedTransfers: 1}
	h := ToSSAHost(e)
	assert.Equal(t, "h1", h.Alias)
	assert.Equal(t, float64(30), h.RetryInterval.Seconds())
	assert.Equal(t, float64(60), h.TransferTimeout.Seconds())
}
