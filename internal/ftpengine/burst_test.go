package ftpengine

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/afd-core/afd/internal/fifo"
	"github.com/afd-core/afd/internal/recipient"
	"github.com/afd-core/afd/internal/ssa"
)

func newTestArea(t *testing.T) *ssa.Area {
	t.Helper()
	dir := t.TempDir()
	area, err := ssa.Bootstrap(dir, []ssa.Host{
		{Alias: "h1", AllowedTransfers: 2, Jobs: make([]ssa.JobStatus, 2)},
	}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { area.Close() })
	return area
}

func TestRequestBurstGrantedWhenDispatcherResponds(t *testing.T) {
	area := newTestArea(t)
	fifoPath := filepath.Join(t.TempDir(), fifo.FinFifoName)
	require.NoError(t, fifo.Ensure(fifoPath))

	reader, err := fifo.OpenReader(fifoPath)
	require.NoError(t, err)
	defer reader.Close()

	go func() {
		pid, err := reader.ReadPID()
		if err != nil || pid >= 0 {
			return
		}
		_ = area.SetUniqueNameMailbox(0, 0, 1, 1, false)
	}()

	outcome, err := RequestBurst(area, 0, 0, 777, fifoPath)
	require.NoError(t, err)
	assert.True(t, outcome.Granted)
}

func TestBurstMailboxStaysUngrantedWithoutDispatcher(t *testing.T) {
	area := newTestArea(t)
	fifoPath := filepath.Join(t.TempDir(), fifo.FinFifoName)
	require.NoError(t, fifo.Ensure(fifoPath))

	reader, err := fifo.OpenReader(fifoPath)
	require.NoError(t, err)
	defer reader.Close()
	go func() { reader.ReadPID() }() // drain, never grants

	// Exercise the same poll loop logic with a tiny timeout by calling the
	// underlying pieces directly rather than waiting the full 120s.
	require.NoError(t, area.SetUniqueNameMailbox(0, 0, 0, 0, false))
	deadline := time.Now().Add(50 * time.Millisecond)
	for {
		b, err := area.PollUniqueNameByte(0, 0)
		require.NoError(t, err)
		if b != 0 {
			t.Fatal("unexpected grant")
		}
		if time.Now().After(deadline) {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestReauthForBurstSameUserReusesConn(t *testing.T) {
	addr := fakeFTPServer(t, "220 ready", nil)
	c, err := Dial(context.Background(), addr, time.Second, nil)
	require.NoError(t, err)
	defer c.Close()

	same := recipient.Recipient{User: "u"}
	got, err := ReauthForBurst(context.Background(), c, addr, time.Second, nil, same, same, "I")
	require.NoError(t, err)
	assert.Same(t, c, got)
}

func TestReauthForBurstRejectedUserReconnects(t *testing.T) {
	addr := fakeFTPServer(t, "220 ready", map[string]string{
		"USER": "530 not logged in",
	})
	c, err := Dial(context.Background(), addr, time.Second, nil)
	require.NoError(t, err)
	defer c.Close()

	oldR := recipient.Recipient{User: "u1"}
	newR := recipient.Recipient{User: "u2", Path: ""}

	// The fake server always replies 530 to USER, including on the fresh
	// reconnect, so expect this to surface a UserError rather than loop.
	_, err = ReauthForBurst(context.Background(), c, addr, time.Second, nil, oldR, newR, "I")
	require.Error(t, err)
}
