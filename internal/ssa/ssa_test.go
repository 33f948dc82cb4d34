package ssa

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testHosts() []Host {
	return []Host{
		{
			Alias:             "h1",
			RealHostname1:     "srv",
			AllowedTransfers:  5,
			MaxErrors:         10,
			TransferBlockSize: 1024,
			FileSizeOffset:    FileSizeOffsetUnsupported,
			NumberOfNoBursts:  1,
			TotalFileCounter:  1,
			TotalFileSize:     4096,
			Jobs:              make([]JobStatus, 5),
		},
	}
}

func TestBootstrapAndAttach(t *testing.T) {
	dir := t.TempDir()
	area, err := Bootstrap(dir, testHosts(), nil)
	require.NoError(t, err)
	defer area.Close()

	assert.Equal(t, 1, area.NumHosts())
	idx := area.Index("h1")
	require.GreaterOrEqual(t, idx, 0)

	h, err := area.Host(idx)
	require.NoError(t, err)
	assert.Equal(t, "h1", h.Alias)
	assert.EqualValues(t, 1, h.TotalFileCounter)
	assert.EqualValues(t, 4096, h.TotalFileSize)

	// A second attach against the same directory sees the same data.
	area2, err := Attach(dir, nil)
	require.NoError(t, err)
	defer area2.Close()
	h2, err := area2.Host(area2.Index("h1"))
	require.NoError(t, err)
	assert.Equal(t, h.Alias, h2.Alias)
}

func TestRecordFileSuccessRitual(t *testing.T) {
	dir := t.TempDir()
	hosts := testHosts()
	hosts[0].ErrorCounter = 3
	hosts[0].HostStatus = AutoPauseQueueStat
	hosts[0].Jobs[1].ConnectStatus = NotWorking
	area, err := Bootstrap(dir, hosts, nil)
	require.NoError(t, err)
	defer area.Close()

	woke := false
	idx := area.Index("h1")
	require.NoError(t, area.RecordFileSuccess(idx, 0, 4096, func() { woke = true }))

	h, err := area.Host(idx)
	require.NoError(t, err)
	assert.EqualValues(t, 0, h.TotalFileCounter)
	assert.EqualValues(t, 0, h.TotalFileSize)
	assert.EqualValues(t, 1, h.FileCounterDone)
	assert.Equal(t, 0, h.ErrorCounter)
	assert.Zero(t, h.HostStatus&AutoPauseQueueStat)
	assert.Equal(t, Disconnect, h.Jobs[1].ConnectStatus)
	assert.True(t, woke)
}

func TestRecordFileSuccessNoRitualWhenErrorCounterZero(t *testing.T) {
	dir := t.TempDir()
	area, err := Bootstrap(dir, testHosts(), nil)
	require.NoError(t, err)
	defer area.Close()

	woke := false
	idx := area.Index("h1")
	require.NoError(t, area.RecordFileSuccess(idx, 0, 100, func() { woke = true }))
	assert.False(t, woke, "ritual must not fire when error_counter was already 0")
}

func TestClaimFileNameDuplicateInFlight(t *testing.T) {
	dir := t.TempDir()
	hosts := testHosts()
	hosts[0].Jobs = make([]JobStatus, 2)
	area, err := Bootstrap(dir, hosts, nil)
	require.NoError(t, err)
	defer area.Close()

	idx := area.Index("h1")
	claimed, err := area.ClaimFileName(idx, 0, 42, 1000, "B")
	require.NoError(t, err)
	assert.True(t, claimed)

	claimed2, err := area.ClaimFileName(idx, 1, 42, 1000, "B")
	require.NoError(t, err)
	assert.False(t, claimed2, "second slot must observe the duplicate and not claim")
}

func TestInvariants(t *testing.T) {
	h := Host{Alias: "x", AllowedTransfers: 1, TotalFileCounter: 0, TotalFileSize: 5}
	assert.Error(t, h.invariants())
}
