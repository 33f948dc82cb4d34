package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultPassesValidate(t *testing.T) {
	assert.NoError(t, Default().Validate())
}

func TestLoadOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "afd.yaml")
	require.NoError(t, os.WriteFile(path, []byte("work_dir: /tmp/afd\nfifo_dir: /tmp/afd/fifodir\n"), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/tmp/afd", cfg.WorkDir)
	assert.Equal(t, "/tmp/afd/fifodir", cfg.FifoDir)
	assert.True(t, cfg.Metrics.Enabled) // inherited from Default()
}

func TestValidateRejectsEmptyWorkDir(t *testing.T) {
	cfg := Default()
	cfg.WorkDir = ""
	assert.Error(t, cfg.Validate())
}

func TestValidateRejectsInvertedSweepBounds(t *testing.T) {
	cfg := Default()
	cfg.Sweep.DupCheckMin, cfg.Sweep.DupCheckMax = cfg.Sweep.DupCheckMax, cfg.Sweep.DupCheckMin+1
	assert.Error(t, cfg.Validate())
}

func TestLoadMissingFileErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
