// Package eq implements the process-wide Error Queue (spec §3, §7): a
// mapped array of {job_id, no_to_be_queued, host_id, special_flag} entries
// used to suppress retry amplification per job_id. Grounded on
// src/common/handle_error_queue.c.
package eq

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/afd-core/afd/internal/mmfile"
)

const entrySize = 4 + 4 + 4 + 4
const initialCapacity = 32

// Entry mirrors one error_queue record.
type Entry struct {
	JobID        uint32
	NoToBeQueued uint32
	HostID       uint32
	SpecialFlag  uint32
}

// HostErrorQueueCleared is invoked by Queue.Remove when the last entry for
// a host is cleared, so the caller can drop that host's ERROR_QUEUE_SET
// bit in the SSA (spec §3 EQ invariant).
type HostErrorQueueCleared func(hostID uint32)

// Queue is the attached, process-wide error queue.
type Queue struct {
	mu     sync.Mutex
	mapped *mmfile.Growable
}

// Open attaches (creating if absent) the error queue file at path.
func Open(path string) (*Queue, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("eq: %w", err)
	}
	var m *mmfile.Growable
	var err error
	if fileExists(path) {
		m, err = mmfile.Open(path, entrySize)
	} else {
		m, err = mmfile.Create(path, entrySize, initialCapacity)
	}
	if err != nil {
		return nil, fmt.Errorf("eq: %w", err)
	}
	return &Queue{mapped: m}, nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// Add inserts or updates the entry for jobID, incrementing NoToBeQueued if
// an entry already exists (spec §7 "retry amplification" suppression).
func (q *Queue) Add(jobID, hostID uint32) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := q.mapped.Count()
	for i := 0; i < n; i++ {
		e := q.get(i)
		if e.JobID == jobID {
			e.NoToBeQueued++
			q.set(i, e)
			return nil
		}
	}
	if err := q.mapped.Grow(n + 1); err != nil {
		return err
	}
	q.set(n, Entry{JobID: jobID, HostID: hostID, NoToBeQueued: 1})
	q.mapped.SetCount(n + 1)
	return nil
}

// Check reports whether jobID's queued count has reached queueThreshold.
func (q *Queue) Check(jobID uint32, queueThreshold uint32) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i := 0; i < q.mapped.Count(); i++ {
		e := q.get(i)
		if e.JobID == jobID {
			return e.NoToBeQueued >= queueThreshold
		}
	}
	return false
}

// Remove deletes the entry for jobID (compacting the array). If this was
// the last remaining entry for that job's host, onHostCleared is invoked
// so the caller can clear ERROR_QUEUE_SET for that host.
func (q *Queue) Remove(jobID uint32, onHostCleared HostErrorQueueCleared) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := q.mapped.Count()
	idx := -1
	var hostID uint32
	for i := 0; i < n; i++ {
		e := q.get(i)
		if e.JobID == jobID {
			idx = i
			hostID = e.HostID
			break
		}
	}
	if idx < 0 {
		return nil
	}
	for i := idx; i < n-1; i++ {
		q.set(i, q.get(i+1))
	}
	q.mapped.SetCount(n - 1)

	stillPresent := false
	for i := 0; i < n-1; i++ {
		if q.get(i).HostID == hostID {
			stillPresent = true
			break
		}
	}
	if !stillPresent && onHostCleared != nil {
		onHostCleared(hostID)
	}
	return nil
}

// Entries returns a snapshot, for diagnostics/tests.
func (q *Queue) Entries() []Entry {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]Entry, q.mapped.Count())
	for i := range out {
		out[i] = q.get(i)
	}
	return out
}

func (q *Queue) get(i int) Entry {
	b := q.mapped.Slice(i)
	return Entry{
		JobID:        le32(b[0:4]),
		NoToBeQueued: le32(b[4:8]),
		HostID:       le32(b[8:12]),
		SpecialFlag:  le32(b[12:16]),
	}
}

func (q *Queue) set(i int, e Entry) {
	b := q.mapped.Slice(i)
	putLe32(b[0:4], e.JobID)
	putLe32(b[4:8], e.NoToBeQueued)
	putLe32(b[8:12], e.HostID)
	putLe32(b[12:16], e.SpecialFlag)
}

func le32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}

func putLe32(b []byte, v uint32) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
	b[3] = byte(v >> 24)
}

// Close unmaps the queue.
func (q *Queue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.mapped.Close()
}
