package rl

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dateBytes(s string) [dateLen]byte {
	var d [dateLen]byte
	copy(d[:], s)
	return d
}

func TestMergeListingScenario5(t *testing.T) {
	dir := t.TempDir()
	l, err := Open(dir, "srcA", false)
	require.NoError(t, err)
	defer l.Close()

	require.NoError(t, l.append(Entry{FileName: "X", Date: dateBytes("D1"), Size: 100, Retrieved: true, InList: true}))

	dates := map[string]string{"X": "D1", "Y": "D2"}
	sizes := map[string]int64{"X": 100, "Y": 50}
	newNames, err := l.MergeListing([]string{"X", "Y"},
		func(n string) [dateLen]byte { return dateBytes(dates[n]) },
		func(n string) int64 { return sizes[n] })
	require.NoError(t, err)
	assert.Equal(t, []string{"Y"}, newNames)

	l.Compact()
	entries := l.Entries()
	assert.Len(t, entries, 2)

	var xEntry, yEntry Entry
	for _, e := range entries {
		if e.FileName == "X" {
			xEntry = e
		} else {
			yEntry = e
		}
	}
	assert.True(t, xEntry.Retrieved, "unchanged entry X must keep retrieved=true")
	assert.False(t, yEntry.Retrieved, "new entry Y must start unretrieved")
}

func TestMergeListingClearsRetrievedOnChange(t *testing.T) {
	dir := t.TempDir()
	l, err := Open(dir, "srcB", false)
	require.NoError(t, err)
	defer l.Close()

	require.NoError(t, l.append(Entry{FileName: "Z", Size: 100, Retrieved: true, InList: true}))
	_, err = l.MergeListing([]string{"Z"}, nil, func(string) int64 { return 200 })
	require.NoError(t, err)

	e := l.Entries()[0]
	assert.False(t, e.Retrieved, "size change must clear retrieved")
}

func TestCompactRemovesMissingEntries(t *testing.T) {
	dir := t.TempDir()
	l, err := Open(dir, "srcC", false)
	require.NoError(t, err)
	defer l.Close()

	require.NoError(t, l.append(Entry{FileName: "gone", InList: true}))
	_, err = l.MergeListing(nil, nil, nil)
	require.NoError(t, err)
	l.Compact()
	assert.Empty(t, l.Entries())
}

func TestTransientListNeverPersists(t *testing.T) {
	l, err := Open(t.TempDir(), "srcD", true)
	require.NoError(t, err)
	require.NoError(t, l.append(Entry{FileName: "a", InList: true}))
	_, err = l.MergeListing(nil, nil, nil)
	require.NoError(t, err)
	l.Compact() // no-op for transient lists
	assert.Len(t, l.Entries(), 1)
}
