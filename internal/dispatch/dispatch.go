// Package dispatch implements the dispatcher half of spec §2/§5: it
// schedules queued jobs onto free host-record slots, hands out burst
// continuations to senders that ask for more work over SF_FIN_FIFO. It
// does not read FD_WAKE_UP_FIFO: queued jobs are placed only on Enqueue
// and on SF_FIN_FIFO writes.
//
// The original is one long-running process coordinating short-lived
// sender processes over shared memory and named pipes; this
// reimplementation keeps the same coordination fabric (SSA slots, FIFOs)
// but drives spawning through goroutines instead of fork/exec, which is
// the idiomatic Go analogue of "one worker per active transfer".
package dispatch

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/afd-core/afd/internal/fifo"
	"github.com/afd-core/afd/internal/ssa"
)

// Job is one queued unit of work: a job_id plus the path to its message
// file, destined for a host by alias (spec §6 "job message file").
type Job struct {
	JobID     uint32
	HostAlias string
	MsgPath   string
	LocalFile string
}

// SpawnFunc runs one job against an already-claimed slot. It is called on
// its own goroutine. The Dispatcher has no completion call: it learns that
// a sender finished, or wants a burst continuation, only from the pid the
// sender writes to SF_FIN_FIFO.
type SpawnFunc func(ctx context.Context, hostIdx, jobIdx int, job Job)

// Dispatcher owns the job queues and the FIFO rendezvous with senders.
type Dispatcher struct {
	mu       sync.Mutex
	area     *ssa.Area
	queues   map[string][]Job
	slots    map[int32]slotHandle
	spawn    SpawnFunc
	log      logrus.FieldLogger
	finPath  string
	burstDir string
}

// New builds a Dispatcher. finFifoPath is ensured to exist; the
// dispatcher opens it for reading in Run. workDir is used to publish
// burst handoff files (see writeHandoff) under BurstHandoffDir.
func New(area *ssa.Area, workDir, finFifoPath string, spawn SpawnFunc, log logrus.FieldLogger) (*Dispatcher, error) {
	if err := fifo.Ensure(finFifoPath); err != nil {
		return nil, err
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Dispatcher{
		area:     area,
		queues:   make(map[string][]Job),
		spawn:    spawn,
		log:      log,
		finPath:  finFifoPath,
		burstDir: BurstHandoffDir(workDir),
	}, nil
}

// BurstHandoffDir returns the directory the dispatcher publishes burst
// handoff files to under workDir.
func BurstHandoffDir(workDir string) string {
	return filepath.Join(workDir, "burst")
}

// writeHandoff persists a granted job's message path and local file so
// the sender — a separate re-exec'd process with no access to the
// dispatcher's in-memory queues — can look up what to send next after a
// burst grant (spec §4.3 burst paragraph).
func writeHandoff(dir string, jobID uint32, job Job) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	path := filepath.Join(dir, strconv.FormatUint(uint64(jobID), 10))
	content := job.MsgPath + "\n" + job.LocalFile + "\n"
	return os.WriteFile(path, []byte(content), 0o644)
}

// ReadHandoff reads back a burst handoff file written by a prior grant,
// keyed by the granted job's id.
func ReadHandoff(dir string, jobID uint32) (msgPath, localFile string, err error) {
	path := filepath.Join(dir, strconv.FormatUint(uint64(jobID), 10))
	data, err := os.ReadFile(path)
	if err != nil {
		return "", "", err
	}
	lines := strings.SplitN(string(data), "\n", 3)
	if len(lines) < 2 {
		return "", "", fmt.Errorf("dispatch: malformed burst handoff %s", path)
	}
	return lines[0], lines[1], nil
}

// Enqueue adds job to its host's queue and immediately tries to place it
// on a free slot.
func (d *Dispatcher) Enqueue(ctx context.Context, job Job) error {
	d.mu.Lock()
	d.queues[job.HostAlias] = append(d.queues[job.HostAlias], job)
	d.mu.Unlock()
	return d.drain(ctx, job.HostAlias)
}

// drain assigns as many queued jobs for hostAlias to free slots as
// capacity allows (spec §3: active_transfers <= allowed_transfers).
func (d *Dispatcher) drain(ctx context.Context, hostAlias string) error {
	hostIdx := d.area.Index(hostAlias)
	if hostIdx < 0 {
		return fmt.Errorf("dispatch: unknown host alias %q", hostAlias)
	}
	for {
		host, err := d.area.Host(hostIdx)
		if err != nil {
			return err
		}
		jobIdx := freeSlot(host)
		if jobIdx < 0 {
			return nil
		}
		d.mu.Lock()
		q := d.queues[hostAlias]
		if len(q) == 0 {
			d.mu.Unlock()
			return nil
		}
		job := q[0]
		d.queues[hostAlias] = q[1:]
		d.mu.Unlock()

		if err := d.area.SetUniqueNameMailbox(hostIdx, jobIdx, 1, 0, false); err != nil {
			return err
		}
		go d.spawn(ctx, hostIdx, jobIdx, job)
	}
}

// freeSlot returns the index of the first job-status slot eligible for a
// new job (not currently connected), or -1.
func freeSlot(h ssa.Host) int {
	for i, j := range h.Jobs {
		if j.ConnectStatus == ssa.NotWorking || j.ConnectStatus == ssa.Disconnect {
			return i
		}
	}
	return -1
}

// Run reads SF_FIN_FIFO until ctx is canceled. A positive pid means a
// sender exited without requesting burst continuation: nothing further
// to grant for its slot, though another queued job may now fit elsewhere
// on the host. A negative pid means "ready for burst": check the host's
// queue for the slot the caller (keyed by pid, via RegisterSlot) is
// sitting on, and either grant the next job or leave the mailbox byte at
// zero so the sender's poll times out (spec §4.3 burst paragraph,
// grounded on fd/check_burst_2.c's dispatcher-side counterpart).
func (d *Dispatcher) Run(ctx context.Context) error {
	reader, err := fifo.OpenReader(d.finPath)
	if err != nil {
		return err
	}
	defer reader.Close()

	done := make(chan struct{})
	go func() { <-ctx.Done(); reader.Close(); close(done) }()

	for {
		pid, err := reader.ReadPID()
		if err != nil {
			select {
			case <-done:
				return nil
			default:
				return err
			}
		}
		d.handleFinWrite(ctx, pid)
	}
}

// slotHandle associates an outstanding burst request's pid with the slot
// it was made from, so Run can resolve a raw pid read off the FIFO back
// to (hostIdx, jobIdx, hostAlias).
type slotHandle struct {
	hostIdx, jobIdx int
	hostAlias       string
}

// RegisterSlot records which (host,job) slot a sender's pid corresponds
// to, so a later negative-pid burst request can be resolved. Callers
// invoke this once per spawned sender, before the sender can possibly
// write to SF_FIN_FIFO.
func (d *Dispatcher) RegisterSlot(pid int32, hostIdx, jobIdx int, hostAlias string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.slots == nil {
		d.slots = make(map[int32]slotHandle)
	}
	d.slots[pid] = slotHandle{hostIdx: hostIdx, jobIdx: jobIdx, hostAlias: hostAlias}
}

func (d *Dispatcher) handleFinWrite(ctx context.Context, pid int32) {
	ownerPID := pid
	if ownerPID < 0 {
		ownerPID = -ownerPID
	}
	d.mu.Lock()
	handle, ok := d.slots[ownerPID]
	if ok {
		delete(d.slots, ownerPID)
	}
	d.mu.Unlock()
	if !ok {
		d.log.Warnf("dispatch: SF_FIN_FIFO write for unregistered pid %d", ownerPID)
		return
	}

	if pid > 0 {
		// Sender done, not asking for burst: try to fill the slot (and
		// any other now-free slot) from the queue.
		if err := d.drain(ctx, handle.hostAlias); err != nil {
			d.log.Warnf("dispatch: drain after sender exit: %v", err)
		}
		return
	}

	// Negative pid: burst request. Grant the next queued job for this
	// host directly into the requesting slot, or leave it empty so the
	// sender's 120s poll times out.
	d.mu.Lock()
	q := d.queues[handle.hostAlias]
	var job Job
	var granted bool
	if len(q) > 0 {
		job = q[0]
		d.queues[handle.hostAlias] = q[1:]
		granted = true
	}
	d.mu.Unlock()

	if !granted {
		return
	}
	if err := writeHandoff(d.burstDir, job.JobID, job); err != nil {
		d.log.Warnf("dispatch: write burst handoff: %v", err)
		return
	}
	if err := d.area.SetUniqueNameMailbox(handle.hostIdx, handle.jobIdx, 1, 1, false); err != nil {
		d.log.Warnf("dispatch: grant burst: %v", err)
		return
	}
	if err := d.area.WithSlotLock(handle.hostIdx, func(h *ssa.Host) error {
		h.Jobs[handle.jobIdx].JobID = job.JobID
		h.Jobs[handle.jobIdx].BurstCounter++
		return nil
	}); err != nil {
		d.log.Warnf("dispatch: write burst job id: %v", err)
	}
}
