// Package ssa implements the Shared Status Area (spec §3, §4.1): a
// memory-mapped, fixed-layout table of per-host transfer status records,
// keyed by host alias, with byte-range locked counters and a per-slot
// job_status array.
//
// Grounded on the attach/remap dance in fsa_attach.c (id file as rendezvous
// root, stat()/munmap()/remap on staleness, bounded retries) and on the
// teacher's connection-pool style of "attach, use, detach" resource
// handling in backend/ftp/ftp.go.
package ssa

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/afd-core/afd/internal/lock"
	"github.com/afd-core/afd/internal/mmfile"
)

// ConnectStatus is the job_status.connect_status enumeration (spec §3).
type ConnectStatus int

const (
	NotWorking ConnectStatus = iota
	Disconnect
	FTPActive
	SMTPActive
	SCPActive
	BurstActive
	Closing
	RetrieveActive
)

// HostStatusBit and SpecialFlagBit are bitset flags on a host record.
type HostStatusBit uint32

const (
	PauseQueueStat    HostStatusBit = 1 << iota
	AutoPauseQueueStat
	StopTransferStat
	ErrorQueueSet
)

type SpecialFlagBit uint32

const (
	ExecFTP SpecialFlagBit = 1 << iota
	TransExec
	PassiveMode
	StupidMode
)

const (
	// MaxMsgNameLength is the width of the unique_name mailbox (spec §3).
	MaxMsgNameLength = 30
	maxHostAlias     = 8
)

// JobStatus mirrors one job_status slot inside a host record (spec §3).
type JobStatus struct {
	ConnectStatus      ConnectStatus
	FileNameInUse      string
	FileSizeInUse      int64
	FileSizeInUseDone  int64
	NoOfFiles          int
	NoOfFilesDone      int
	JobID              uint32
	UniqueName         [MaxMsgNameLength]byte
	BurstCounter       int
	ErrorFile          bool
}

// FileSizeOffset policy values (spec §3, §9, glossary).
const (
	FileSizeOffsetUnsupported = -1
	FileSizeOffsetAuto        = -2
)

// Host mirrors one FSA slot (spec §3 "Host record").
type Host struct {
	Alias             string
	RealHostname1     string
	RealHostname2     string
	TogglePosition    int
	ProxyName         string
	AllowedTransfers  int
	MaxErrors         int
	RetryInterval     time.Duration
	TransferBlockSize int
	SuccessfulRetries int
	FileSizeOffset    int
	TransferTimeout   time.Duration
	NumberOfNoBursts  int
	HostStatus        HostStatusBit
	SpecialFlag       SpecialFlagBit

	ErrorCounter     int
	TotalFileCounter int
	TotalFileSize    int64
	BytesSend        int64
	FileCounterDone  int64
	Connections      int

	Jobs []JobStatus
}

// invariants checks the per-host invariants of spec §3 / §8. Intended for
// tests and defensive checks after a bulk mutation, not the hot path.
func (h *Host) invariants() error {
	if h.TotalFileCounter < 0 {
		return fmt.Errorf("host %s: total_file_counter %d < 0", h.Alias, h.TotalFileCounter)
	}
	if h.TotalFileCounter == 0 && h.TotalFileSize != 0 {
		return fmt.Errorf("host %s: total_file_counter==0 but total_file_size=%d", h.Alias, h.TotalFileSize)
	}
	if h.NumberOfNoBursts > h.AllowedTransfers {
		return fmt.Errorf("host %s: number_of_no_bursts %d > allowed_transfers %d", h.Alias, h.NumberOfNoBursts, h.AllowedTransfers)
	}
	active := 0
	seen := map[string]int{}
	for i, j := range h.Jobs {
		if j.ConnectStatus != NotWorking && j.ConnectStatus != Disconnect {
			active++
		}
		if j.FileNameInUse != "" {
			if prev, ok := seen[j.FileNameInUse]; ok {
				return fmt.Errorf("host %s: duplicate file_name_in_use %q in slots %d and %d", h.Alias, j.FileNameInUse, prev, i)
			}
			seen[j.FileNameInUse] = i
		}
	}
	if active > h.AllowedTransfers {
		return fmt.Errorf("host %s: active_transfers %d > allowed_transfers %d", h.Alias, active, h.AllowedTransfers)
	}
	return nil
}

// Area is an attached Shared Status Area: a table of Host records keyed by
// alias, backed by a memory-mapped file plus an id file used for atomic
// remap publication (spec §4.1, §5).
type Area struct {
	mu       sync.RWMutex
	dir      string
	idFile   string
	id       int
	mapped   *mmfile.Growable
	byAlias  map[string]int
	hosts    []Host
	log      *logrus.Entry
}

const (
	idFileName       = "fsa.id"
	statFilePrefix   = "fsa.data."
	idFileRetries    = 12
	idFileRetryWait  = 800 * time.Millisecond
	dataFileRetries  = 8
	dataFileRetryWait = time.Second
)

// Attach maps the current FSA under dir, reading the id file (taking a
// shared lock on it while reading, per spec §4.1) and mapping the
// id-suffixed data file read-write. Retries transient absence of either
// file within the documented bounds; exceeding them is a fatal attach
// failure returned to the caller.
func Attach(dir string, log *logrus.Entry) (*Area, error) {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	a := &Area{dir: dir, idFile: filepath.Join(dir, idFileName), log: log}
	if err := a.remap(); err != nil {
		return nil, err
	}
	return a, nil
}

func (a *Area) remap() error {
	id, err := readIDWithRetry(a.idFile)
	if err != nil {
		return fmt.Errorf("ssa: attach: %w", err)
	}
	dataPath := filepath.Join(a.dir, fmt.Sprintf("%s%d", statFilePrefix, id))
	m, err := openDataWithRetry(dataPath)
	if err != nil {
		return fmt.Errorf("ssa: attach: %w", err)
	}
	a.mu.Lock()
	if a.mapped != nil {
		a.mapped.Close()
	}
	a.mapped = m
	a.id = id
	a.loadLocked()
	a.mu.Unlock()
	return nil
}

// Bootstrap creates a brand-new FSA under dir (id file + id-suffixed data
// file) seeded with hosts, and attaches to it. Used by the HOST_CONFIG
// loader (spec §6) and by tests; the dispatcher is the sole writer of the
// id file, publishing a fresh mapping by rename-into-place (spec §5).
func Bootstrap(dir string, hosts []Host, log *logrus.Entry) (*Area, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("ssa: bootstrap: %w", err)
	}
	const id = 1
	dataPath := filepath.Join(dir, fmt.Sprintf("%s%d", statFilePrefix, id))
	m, err := mmfile.Create(dataPath, hostRecordSize, len(hosts))
	if err != nil {
		return nil, fmt.Errorf("ssa: bootstrap: %w", err)
	}
	for i, h := range hosts {
		encodeHost(m.Slice(i), &h)
	}
	m.SetCount(len(hosts))

	tmp := filepath.Join(dir, idFileName+".tmp")
	if err := os.WriteFile(tmp, []byte(fmt.Sprintf("%d", id)), 0644); err != nil {
		m.Close()
		return nil, fmt.Errorf("ssa: bootstrap: write id: %w", err)
	}
	idFile := filepath.Join(dir, idFileName)
	if err := os.Rename(tmp, idFile); err != nil {
		m.Close()
		return nil, fmt.Errorf("ssa: bootstrap: publish id: %w", err)
	}

	a := &Area{dir: dir, idFile: idFile, id: id, mapped: m, log: log}
	if log == nil {
		a.log = logrus.NewEntry(logrus.StandardLogger())
	}
	a.loadLocked()
	return a, nil
}

func readIDWithRetry(idFile string) (int, error) {
	var lastErr error
	for i := 0; i < idFileRetries; i++ {
		f, err := os.Open(idFile)
		if err != nil {
			lastErr = err
			time.Sleep(idFileRetryWait)
			continue
		}
		var id int
		err = lock.WithShared(f, lock.Range{Offset: 0, Length: 1}, func() error {
			_, serr := fmt.Fscanf(f, "%d", &id)
			return serr
		})
		f.Close()
		if err != nil {
			lastErr = err
			time.Sleep(idFileRetryWait)
			continue
		}
		return id, nil
	}
	return 0, fmt.Errorf("id file %s unavailable after %d retries: %w", idFile, idFileRetries, lastErr)
}

func openDataWithRetry(path string) (*mmfile.Growable, error) {
	var lastErr error
	for i := 0; i < dataFileRetries; i++ {
		m, err := mmfile.Open(path, hostRecordSize)
		if err == nil {
			return m, nil
		}
		lastErr = err
		time.Sleep(dataFileRetryWait)
	}
	return nil, fmt.Errorf("data file %s unavailable after %d retries: %w", path, dataFileRetries, lastErr)
}

// CheckStale reports whether the mapping became stale (the id changed, or
// no_of_hosts is non-positive) and transparently remaps if so. Per spec
// §4.1, callers must re-resolve their host index by alias after a true
// result.
func (a *Area) CheckStale() (bool, error) {
	idNow, err := readIDWithRetry(a.idFile)
	if err != nil {
		return false, err
	}
	a.mu.RLock()
	stale := idNow != a.id || len(a.hosts) <= 0
	a.mu.RUnlock()
	if !stale {
		return false, nil
	}
	if err := a.remap(); err != nil {
		return false, err
	}
	return true, nil
}

// loadLocked rebuilds the in-memory host index from the mapped records.
// Caller must hold a.mu (write lock).
func (a *Area) loadLocked() {
	n := a.mapped.Count()
	a.hosts = make([]Host, n)
	a.byAlias = make(map[string]int, n)
	for i := 0; i < n; i++ {
		h := decodeHost(a.mapped.Slice(i))
		a.hosts[i] = h
		a.byAlias[h.Alias] = i
	}
}

// Index returns the slot index for alias, or -1 if not present.
func (a *Area) Index(alias string) int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if i, ok := a.byAlias[alias]; ok {
		return i
	}
	return -1
}

// Host returns a copy of the host record at index i.
func (a *Area) Host(i int) (Host, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if i < 0 || i >= len(a.hosts) {
		return Host{}, fmt.Errorf("ssa: index %d out of range", i)
	}
	return a.hosts[i], nil
}

// NumHosts returns the number of hosts currently mapped.
func (a *Area) NumHosts() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.hosts)
}

// counterRange computes the byte-range lock for a single counter field of
// host i, so that concurrent counter updates on different hosts (or
// different counters of the same host) never contend unnecessarily (spec
// §4.1 "Update discipline").
func (a *Area) counterRange(i int, fieldOffset, fieldLen int64) lock.Range {
	base := a.mapped.ElemOffset(i)
	return lock.Range{Offset: base + fieldOffset, Length: fieldLen}
}

// slotRange computes the whole-slot lock range for host i, used for
// multi-field updates that must be atomic with respect to a reader
// iterating the slot (spec §4.1).
func (a *Area) slotRange(i int) lock.Range {
	return lock.Range{Offset: a.mapped.ElemOffset(i), Length: int64(hostRecordSize)}
}

// WithSlotLock runs fn while holding a whole-slot exclusive lock on host i.
func (a *Area) WithSlotLock(i int, fn func(*Host) error) error {
	r := a.slotRange(i)
	return lock.WithExclusive(a.mapped.File(), r, func() error {
		a.mu.Lock()
		defer a.mu.Unlock()
		if i < 0 || i >= len(a.hosts) {
			return fmt.Errorf("ssa: index %d out of range", i)
		}
		if err := fn(&a.hosts[i]); err != nil {
			return err
		}
		encodeHost(a.mapped.Slice(i), &a.hosts[i])
		return nil
	})
}

// WithSlotRLock runs fn while holding a whole-slot shared lock on host i,
// protecting against the slot being removed mid-iteration (spec §4.1).
func (a *Area) WithSlotRLock(i int, fn func(Host) error) error {
	r := a.slotRange(i)
	return lock.WithShared(a.mapped.File(), r, func() error {
		a.mu.RLock()
		h := a.hosts[i]
		a.mu.RUnlock()
		return fn(h)
	})
}

// RecordFileSuccess applies the "first-good-transfer ritual" (spec §4.1):
// on every successful file, decrement total_file_counter/total_file_size
// under the whole-slot lock, increment file_counter_done/no_of_files_done, add
// to bytes_send, and if error_counter was > 0, reset it, clear
// AutoPauseQueueStat, wake the dispatcher, and demote sibling NotWorking
// slots to Disconnect. wake is called only when the ritual actually fires.
func (a *Area) RecordFileSuccess(hostIdx, jobIdx int, size int64, wake func()) error {
	return a.WithSlotLock(hostIdx, func(h *Host) error {
		h.TotalFileCounter--
		if h.TotalFileCounter < 0 {
			h.TotalFileCounter = 0
		}
		h.TotalFileSize -= size
		if h.TotalFileSize < 0 {
			h.TotalFileSize = 0
		}
		h.FileCounterDone++
		h.BytesSend += size
		if jobIdx >= 0 && jobIdx < len(h.Jobs) {
			h.Jobs[jobIdx].NoOfFilesDone++
		}
		if h.ErrorCounter > 0 {
			h.ErrorCounter = 0
			h.HostStatus &^= AutoPauseQueueStat
			for idx := range h.Jobs {
				if idx != jobIdx && h.Jobs[idx].ConnectStatus == NotWorking {
					h.Jobs[idx].ConnectStatus = Disconnect
				}
			}
			if wake != nil {
				wake()
			}
		}
		return nil
	})
}

// ClaimFileName scans every other job slot of host hostIdx for a matching
// (job_id, file_name_in_use) pair; if found, returns false (duplicate in
// flight) without mutating state. Otherwise it claims the name in slot
// selfJobIdx and returns true. The whole-slot lock is held across the
// scan-and-claim per spec §4.3 step 1.
func (a *Area) ClaimFileName(hostIdx, selfJobIdx int, jobID uint32, size int64, fileName string) (claimed bool, err error) {
	err = a.WithSlotLock(hostIdx, func(h *Host) error {
		for idx, j := range h.Jobs {
			if idx == selfJobIdx {
				continue
			}
			if j.JobID == jobID && j.FileNameInUse == fileName {
				claimed = false
				return nil
			}
		}
		if selfJobIdx < 0 || selfJobIdx >= len(h.Jobs) {
			return fmt.Errorf("ssa: job index %d out of range", selfJobIdx)
		}
		h.Jobs[selfJobIdx].FileNameInUse = fileName
		h.Jobs[selfJobIdx].FileSizeInUse = size
		h.Jobs[selfJobIdx].FileSizeInUseDone = 0
		h.Jobs[selfJobIdx].JobID = jobID
		claimed = true
		return nil
	})
	return claimed, err
}

// ReleaseFileName clears file_name_in_use for a finished or skipped file.
func (a *Area) ReleaseFileName(hostIdx, jobIdx int) error {
	return a.WithSlotLock(hostIdx, func(h *Host) error {
		if jobIdx < 0 || jobIdx >= len(h.Jobs) {
			return fmt.Errorf("ssa: job index %d out of range", jobIdx)
		}
		h.Jobs[jobIdx].FileNameInUse = ""
		h.Jobs[jobIdx].FileSizeInUse = 0
		h.Jobs[jobIdx].FileSizeInUseDone = 0
		return nil
	})
}

// UpdateProgress adds delta bytes to the in-flight progress counters of a
// job slot, under the counter locks only (not the whole slot): it takes
// just the byte ranges of job_status.file_size_in_use_done and the
// host's bytes_send (spec §4.1's distinction between single-counter and
// multi-field updates). Calls for different job slots of the same host
// still serialize on the bytes_send range, and a whole-slot lock held by
// another process covers both ranges.
func (a *Area) UpdateProgress(hostIdx, jobIdx int, delta int64) error {
	a.mu.RLock()
	if hostIdx < 0 || hostIdx >= len(a.hosts) {
		a.mu.RUnlock()
		return fmt.Errorf("ssa: index %d out of range", hostIdx)
	}
	if jobIdx < 0 || jobIdx >= len(a.hosts[hostIdx].Jobs) {
		a.mu.RUnlock()
		return fmt.Errorf("ssa: job index %d out of range", jobIdx)
	}
	a.mu.RUnlock()

	jobDoneOffset := int64(jobsArrayOffset) + int64(jobIdx)*int64(jobStatusSize) + int64(jobDoneFieldOffset)
	jobRange := a.counterRange(hostIdx, jobDoneOffset, 8)
	hostRange := a.counterRange(hostIdx, int64(bytesSendOffset), 8)

	return lock.WithExclusive(a.mapped.File(), jobRange, func() error {
		return lock.WithExclusive(a.mapped.File(), hostRange, func() error {
			a.mu.Lock()
			defer a.mu.Unlock()
			if hostIdx >= len(a.hosts) || jobIdx >= len(a.hosts[hostIdx].Jobs) {
				return fmt.Errorf("ssa: index %d/%d out of range", hostIdx, jobIdx)
			}
			h := &a.hosts[hostIdx]
			h.Jobs[jobIdx].FileSizeInUseDone += delta
			h.BytesSend += delta

			buf := a.mapped.Slice(hostIdx)
			binary.LittleEndian.PutUint64(buf[jobDoneOffset:], uint64(h.Jobs[jobIdx].FileSizeInUseDone))
			binary.LittleEndian.PutUint64(buf[bytesSendOffset:], uint64(h.BytesSend))
			return nil
		})
	})
}

// IncrementErrorCounter bumps error_counter for a host, e.g. after a failed
// transfer, under the slot lock (it participates in the bitset/threshold
// logic alongside MaxErrors).
func (a *Area) IncrementErrorCounter(hostIdx int) (errCount int, err error) {
	err = a.WithSlotLock(hostIdx, func(h *Host) error {
		h.ErrorCounter++
		errCount = h.ErrorCounter
		return nil
	})
	return
}

// SetErrorQueueBit sets or clears HostStatus's ErrorQueueSet bit, mirroring
// whether the error queue still holds an entry for this host (spec §3 EQ
// invariant: the bit tracks queue membership, not the raw error count).
func (a *Area) SetErrorQueueBit(hostIdx int, set bool) error {
	return a.WithSlotLock(hostIdx, func(h *Host) error {
		if set {
			h.HostStatus |= ErrorQueueSet
		} else {
			h.HostStatus &^= ErrorQueueSet
		}
		return nil
	})
}

// SetUniqueNameMailbox writes the 3-cell unique_name mailbox used as the
// dispatcher->sender burst hand-off channel (spec §3, §4.3, glossary
// "Unique name mailbox"): cell 0 is a name tag, cell 1 the transition byte
// the sender polls, cell 2 the error-file flag.
func (a *Area) SetUniqueNameMailbox(hostIdx, jobIdx int, nameTag byte, transition byte, errorFile bool) error {
	return a.WithSlotLock(hostIdx, func(h *Host) error {
		if jobIdx < 0 || jobIdx >= len(h.Jobs) {
			return fmt.Errorf("ssa: job index %d out of range", jobIdx)
		}
		j := &h.Jobs[jobIdx]
		j.UniqueName[0] = nameTag
		j.UniqueName[1] = transition
		if errorFile {
			j.UniqueName[2] = 1
		} else {
			j.UniqueName[2] = 0
		}
		return nil
	})
}

// PollUniqueNameByte reads cell 1 of the unique_name mailbox under a
// whole-slot shared lock (WithSlotRLock), not the exclusive lock the
// mailbox writers take (spec §4.3 "polls the slot's unique_name[1] byte").
func (a *Area) PollUniqueNameByte(hostIdx, jobIdx int) (byte, error) {
	var b byte
	err := a.WithSlotRLock(hostIdx, func(h Host) error {
		if jobIdx < 0 || jobIdx >= len(h.Jobs) {
			return fmt.Errorf("ssa: job index %d out of range", jobIdx)
		}
		b = h.Jobs[jobIdx].UniqueName[1]
		return nil
	})
	return b, err
}

// Validate checks the universal invariants of spec §8 across all hosts.
func (a *Area) Validate() error {
	a.mu.RLock()
	defer a.mu.RUnlock()
	for i := range a.hosts {
		if err := a.hosts[i].invariants(); err != nil {
			return err
		}
	}
	return nil
}

// Close unmaps the FSA.
func (a *Area) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.mapped == nil {
		return nil
	}
	err := a.mapped.Close()
	a.mapped = nil
	return err
}
