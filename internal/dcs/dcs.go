// Package dcs implements the Duplicate-Checksum Store (spec §3, §4.5):
// a memory-mapped, per-job array of {crc, flag, timeout} entries with a
// periodic TTL sweep, used to suppress re-sending files AFD has already
// seen within a configured window.
//
// Grounded on src/common/isdup.c: one mapped file per job id under
// files/incoming/.crc/<job_id>, the five CRC input-space flags, and the
// "only sweep once per bucket" throttling of the expiry pass.
package dcs

import (
	"fmt"
	"hash/crc32"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/afd-core/afd/internal/lock"
	"github.com/afd-core/afd/internal/mmfile"
)

// Flag selects which input space produced a CRC (spec §3 "Duplicate entry").
type Flag int

const (
	FilenameOnly Flag = iota
	FilenameAndSize
	NameNoSuffix
	FileContent
	FileContentAndName
)

// Algorithm selects CRC-32 (IEEE) or CRC-32C (Castagnoli). Both are
// provided by the standard library's hash/crc32, which already dispatches
// to a hardware (SSE4.2/ARM CRC) implementation at runtime on amd64/arm64 —
// there is no third-party library in the retrieval pack that improves on
// this, so the stdlib is used directly (see DESIGN.md).
type Algorithm int

const (
	CRC32IEEE Algorithm = iota
	CRC32C
)

const (
	// DupcheckMin and DupcheckMax clamp the per-bucket sweep interval
	// (spec §3 "Duplicate entry" invariant).
	DupcheckMin = time.Second
	DupcheckMax = time.Hour

	entrySize   = 4 /*crc*/ + 1 /*flag*/ + 8 /*timeout unix seconds*/
	crcStepSize = 64
)

type entry struct {
	CRC     uint32
	Flag    Flag
	Timeout time.Time
	used    bool
}

// Store is one job's duplicate-checksum table.
type Store struct {
	mu           sync.Mutex
	mapped       *mmfile.Growable
	nextSweep    time.Time
	sweepBucket  time.Duration
	castagnoli   *crc32.Table
}

// dirFor returns the per-job mapped file path, mirroring isdup.c's
// "$AFD_WORK_DIR/files/incoming/.crc/<job_id>" convention (hex job id).
func dirFor(workDir string, jobID uint32) string {
	return filepath.Join(workDir, "files", "incoming", ".crc", fmt.Sprintf("%x", jobID))
}

// Open attaches the duplicate-checksum store for jobID, creating it with
// crcStepSize initial slots if it doesn't exist.
func Open(workDir string, jobID uint32) (*Store, error) {
	path := dirFor(workDir, jobID)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("dcs: %w", err)
	}
	var m *mmfile.Growable
	var err error
	if _, statErr := os.Stat(path); statErr == nil {
		m, err = mmfile.Open(path, entrySize)
	} else {
		m, err = mmfile.Create(path, entrySize, crcStepSize)
	}
	if err != nil {
		return nil, fmt.Errorf("dcs: %w", err)
	}
	return &Store{mapped: m, castagnoli: crc32.MakeTable(crc32.Castagnoli)}, nil
}

func (s *Store) checksum(alg Algorithm, data []byte) uint32 {
	if alg == CRC32C {
		return crc32.Checksum(data, s.castagnoli)
	}
	return crc32.ChecksumIEEE(data)
}

// checksumOf computes the CRC input per flag, per spec §3/§4.5 and
// isdup.c. For FileContent/FileContentAndName it reads fullname itself.
func (s *Store) checksumOf(alg Algorithm, flag Flag, fullname string, size int64) (uint32, error) {
	base := filepath.Base(fullname)
	switch flag {
	case FilenameOnly:
		return s.checksum(alg, []byte(base)), nil
	case FilenameAndSize:
		buf := fmt.Sprintf("%s %d", base, size)
		return s.checksum(alg, []byte(buf)), nil
	case NameNoSuffix:
		if i := lastDot(base); i >= 0 {
			base = base[:i]
		}
		return s.checksum(alg, []byte(base)), nil
	case FileContent:
		data, err := os.ReadFile(fullname)
		if err != nil {
			return 0, err
		}
		return s.checksum(alg, data), nil
	case FileContentAndName:
		data, err := os.ReadFile(fullname)
		if err != nil {
			return 0, err
		}
		buf := append([]byte(base), data...)
		return s.checksum(alg, buf), nil
	default:
		return 0, fmt.Errorf("dcs: unknown flag %d", flag)
	}
}

func lastDot(s string) int {
	for i := len(s) - 1; i >= 0; i-- {
		if s[i] == '.' {
			return i
		}
		if s[i] == '/' {
			break
		}
	}
	return -1
}

func clamp(d, lo, hi time.Duration) time.Duration {
	if d < lo {
		return lo
	}
	if d > hi {
		return hi
	}
	return d
}

// IsDup checks whether fullname is a duplicate, per spec §4.5: under a
// write lock, first sweep expired entries at most once per bucket, then
// scan for (crc, flag) equality. rmFlag removes the matching entry instead
// of inserting/refreshing it.
func (s *Store) IsDup(alg Algorithm, flag Flag, fullname string, size int64, timeout time.Duration, rmFlag bool) (dup bool, err error) {
	crc, err := s.checksumOf(alg, flag, fullname, size)
	if err != nil {
		return false, err
	}
	return s.isDupCRC(crc, flag, timeout, rmFlag)
}

func (s *Store) isDupCRC(crc uint32, flag Flag, timeout time.Duration, rmFlag bool) (dup bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r := lock.Range{Offset: 0, Length: int64(mmfile.WordOffset + s.mapped.Capacity()*entrySize)}
	if err := lock.Exclusive(s.mapped.File(), r); err != nil {
		return false, err
	}
	defer lock.Unlock(s.mapped.File(), r)

	now := time.Now()
	if !s.nextSweep.IsZero() && now.After(s.nextSweep) || s.nextSweep.IsZero() {
		s.sweep(now)
		bucket := clamp(timeout, DupcheckMin, DupcheckMax)
		n := now.Unix()/int64(bucket.Seconds()) + 1
		s.nextSweep = time.Unix(n*int64(bucket.Seconds()), 0)
	}

	n := s.mapped.Count()
	matchIdx := -1
	for i := 0; i < n; i++ {
		e := s.readEntry(i)
		if e.used && e.CRC == crc && e.Flag == flag {
			matchIdx = i
			break
		}
	}

	if rmFlag {
		if matchIdx >= 0 {
			s.clearEntry(matchIdx)
		}
		return false, nil
	}

	if matchIdx >= 0 {
		e := s.readEntry(matchIdx)
		wasValid := !e.Timeout.Before(now)
		e.Timeout = now.Add(timeout)
		s.writeEntry(matchIdx, e)
		return wasValid, nil
	}

	idx, err := s.freeSlot()
	if err != nil {
		return false, err
	}
	s.writeEntry(idx, entry{CRC: crc, Flag: flag, Timeout: now.Add(timeout), used: true})
	if idx >= n {
		s.mapped.SetCount(idx + 1)
	}
	return false, nil
}

// sweep removes entries whose timeout has elapsed (spec §3 DCS invariant:
// "entries with timeout < now are removed on the next sweep").
func (s *Store) sweep(now time.Time) {
	n := s.mapped.Count()
	write := 0
	for read := 0; read < n; read++ {
		e := s.readEntry(read)
		if e.used && e.Timeout.Before(now) {
			continue // drop
		}
		if write != read {
			s.writeEntry(write, e)
		}
		write++
	}
	for i := write; i < n; i++ {
		s.writeEntry(i, entry{})
	}
	s.mapped.SetCount(write)
}

func (s *Store) freeSlot() (int, error) {
	n := s.mapped.Count()
	if err := s.mapped.Grow(n + 1); err != nil {
		return 0, err
	}
	return n, nil
}

func (s *Store) readEntry(i int) entry {
	b := s.mapped.Slice(i)
	var e entry
	e.CRC = uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
	e.Flag = Flag(b[4])
	sec := int64(0)
	for k := 0; k < 8; k++ {
		sec |= int64(b[5+k]) << (8 * k)
	}
	e.Timeout = time.Unix(sec, 0)
	e.used = sec != 0
	return e
}

func (s *Store) writeEntry(i int, e entry) {
	b := s.mapped.Slice(i)
	b[0] = byte(e.CRC)
	b[1] = byte(e.CRC >> 8)
	b[2] = byte(e.CRC >> 16)
	b[3] = byte(e.CRC >> 24)
	b[4] = byte(e.Flag)
	sec := e.Timeout.Unix()
	if !e.used {
		sec = 0
	}
	for k := 0; k < 8; k++ {
		b[5+k] = byte(sec >> (8 * k))
	}
}

func (s *Store) clearEntry(i int) {
	s.writeEntry(i, entry{})
}

// Close unmaps the store.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mapped.Close()
}
