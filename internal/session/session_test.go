package session

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/afd-core/afd/internal/mjm"
	"github.com/afd-core/afd/internal/recipient"
	"github.com/afd-core/afd/internal/ssa"
)

func TestOpenAttachesAllHandles(t *testing.T) {
	workDir := t.TempDir()
	fsaDir := filepath.Join(workDir, "fifodir")
	area, err := ssa.Bootstrap(fsaDir, []ssa.Host{
		{Alias: "h1", AllowedTransfers: 1, Jobs: []ssa.JobStatus{{JobID: 42}}},
	}, nil)
	require.NoError(t, err)
	area.Close()

	s, err := Open(fsaDir, fsaDir, 0, 0, nil)
	require.NoError(t, err)
	defer s.Close()

	assert.NotNil(t, s.SSA)
	assert.NotNil(t, s.DCS)
	assert.NotNil(t, s.EQ)
	assert.NotNil(t, s.PW)
	assert.NotEmpty(t, s.TraceID)
}

func TestOpenRejectsOutOfRangeJobIdx(t *testing.T) {
	workDir := t.TempDir()
	area, err := ssa.Bootstrap(workDir, []ssa.Host{
		{Alias: "h1", AllowedTransfers: 1, Jobs: []ssa.JobStatus{{}}},
	}, nil)
	require.NoError(t, err)
	area.Close()

	_, err = Open(workDir, workDir, 0, 5, nil)
	assert.Error(t, err)
}

func TestResetForBurstReplacesMessage(t *testing.T) {
	workDir := t.TempDir()
	area, err := ssa.Bootstrap(workDir, []ssa.Host{
		{Alias: "h1", AllowedTransfers: 1, Jobs: []ssa.JobStatus{{}}},
	}, nil)
	require.NoError(t, err)
	area.Close()

	s, err := Open(workDir, workDir, 0, 0, nil)
	require.NoError(t, err)
	defer s.Close()

	msg := &mjm.Message{Recipient: recipient.Recipient{Scheme: "ftp", Host: "srv"}}
	s.ResetForBurst(msg, 7)
	assert.Same(t, msg, s.Msg)
}
