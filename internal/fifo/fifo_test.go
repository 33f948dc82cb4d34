package fifo

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnsureCreatesFifoOnce(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, FinFifoName)
	require.NoError(t, Ensure(path))
	require.NoError(t, Ensure(path)) // idempotent
}

func TestWritePIDRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, FinFifoName)
	require.NoError(t, Ensure(path))

	reader, err := OpenReader(path)
	require.NoError(t, err)
	defer reader.Close()

	got := make(chan int32, 1)
	go func() {
		pid, err := reader.ReadPID()
		if err == nil {
			got <- pid
		}
	}()

	writer, err := OpenWriter(path)
	require.NoError(t, err)
	defer writer.Close()
	require.NoError(t, writer.WritePID(-4242))

	select {
	case pid := <-got:
		assert.Equal(t, int32(-4242), pid)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for FIFO read")
	}
}
