package dispatch

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/afd-core/afd/internal/fifo"
	"github.com/afd-core/afd/internal/ssa"
)

func newArea(t *testing.T, allowed int) *ssa.Area {
	t.Helper()
	dir := t.TempDir()
	area, err := ssa.Bootstrap(dir, []ssa.Host{
		{Alias: "h1", AllowedTransfers: allowed, Jobs: make([]ssa.JobStatus, allowed)},
	}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { area.Close() })
	return area
}

func TestEnqueueSpawnsIntoFreeSlot(t *testing.T) {
	area := newArea(t, 1)
	finPath := filepath.Join(t.TempDir(), fifo.FinFifoName)

	var mu sync.Mutex
	var spawned []int
	spawn := func(ctx context.Context, hostIdx, jobIdx int, job Job) {
		mu.Lock()
		spawned = append(spawned, jobIdx)
		mu.Unlock()
	}

	d, err := New(area, t.TempDir(), finPath, spawn, nil)
	require.NoError(t, err)

	require.NoError(t, d.Enqueue(context.Background(), Job{JobID: 1, HostAlias: "h1"}))

	deadline := time.Now().Add(time.Second)
	for {
		mu.Lock()
		n := len(spawned)
		mu.Unlock()
		if n == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("job was never spawned")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestEnqueueQueuesWhenNoFreeSlot(t *testing.T) {
	area := newArea(t, 1)
	finPath := filepath.Join(t.TempDir(), fifo.FinFifoName)

	require.NoError(t, area.WithSlotLock(0, func(h *ssa.Host) error {
		h.Jobs[0].ConnectStatus = ssa.FTPActive
		return nil
	}))

	spawn := func(ctx context.Context, hostIdx, jobIdx int, job Job) {}
	d, err := New(area, t.TempDir(), finPath, spawn, nil)
	require.NoError(t, err)

	require.NoError(t, d.Enqueue(context.Background(), Job{JobID: 2, HostAlias: "h1"}))

	d.mu.Lock()
	n := len(d.queues["h1"])
	d.mu.Unlock()
	assert.Equal(t, 1, n)
}

func TestHandleFinWriteGrantsBurstFromQueue(t *testing.T) {
	area := newArea(t, 1)
	finPath := filepath.Join(t.TempDir(), fifo.FinFifoName)
	spawn := func(ctx context.Context, hostIdx, jobIdx int, job Job) {}
	d, err := New(area, t.TempDir(), finPath, spawn, nil)
	require.NoError(t, err)

	d.mu.Lock()
	d.queues["h1"] = []Job{{JobID: 9, HostAlias: "h1"}}
	d.mu.Unlock()
	d.RegisterSlot(555, 0, 0, "h1")

	d.handleFinWrite(context.Background(), -555)

	host, err := area.Host(0)
	require.NoError(t, err)
	assert.Equal(t, uint32(9), host.Jobs[0].JobID)
	assert.Equal(t, 1, host.Jobs[0].BurstCounter)

	b, err := area.PollUniqueNameByte(0, 0)
	require.NoError(t, err)
	assert.Equal(t, byte(1), b)
}

func TestHandleFinWriteNoBurstWhenQueueEmpty(t *testing.T) {
	area := newArea(t, 1)
	finPath := filepath.Join(t.TempDir(), fifo.FinFifoName)
	spawn := func(ctx context.Context, hostIdx, jobIdx int, job Job) {}
	d, err := New(area, t.TempDir(), finPath, spawn, nil)
	require.NoError(t, err)

	d.RegisterSlot(777, 0, 0, "h1")
	d.handleFinWrite(context.Background(), -777)

	host, err := area.Host(0)
	require.NoError(t, err)
	assert.Equal(t, uint32(0), host.Jobs[0].JobID)
}
