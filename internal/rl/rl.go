// Package rl implements the Retrieve List (spec §3, §4.4): a per-source
// directory table of remote files seen during inbound polling, used to
// diff a fresh NLST listing against previously retrieved state.
package rl

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/afd-core/afd/internal/mmfile"
)

const (
	maxFileNameLen = 256
	dateLen        = 16
	// RemoteListStepSize is the page-grow increment (spec §4.4).
	RemoteListStepSize = 10
	entrySize          = 2 + maxFileNameLen + dateLen + 8 /*size*/ + 1 /*retrieved*/ + 1 /*in_list*/
)

// Entry mirrors one RL record (spec §3 "Retrieve entry").
type Entry struct {
	FileName  string
	Date      [dateLen]byte // opaque server MDTM string
	Size      int64         // -1 if unknown
	Retrieved bool
	InList    bool
}

// List is an attached retrieve list for one source directory. When
// Transient is true (stupid_mode or remove option set, spec §3 invariant)
// the list lives only in process memory and Open/Close are no-ops against
// disk.
type List struct {
	mu        sync.Mutex
	transient bool
	mapped    *mmfile.Growable
	mem       []Entry
	path      string
}

// Open attaches the retrieve list for dirAlias under incoming/.list/. When
// transient is true, a purely in-memory list is returned instead (spec
// §4.4: "If stupid_mode or remove is set, RL is held only in anonymous
// memory").
func Open(workDir, dirAlias string, transient bool) (*List, error) {
	if transient {
		return &List{transient: true}, nil
	}
	path := filepath.Join(workDir, "incoming", ".list", dirAlias)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("rl: %w", err)
	}
	var m *mmfile.Growable
	var err error
	if _, statErr := os.Stat(path); statErr == nil {
		m, err = mmfile.Open(path, entrySize)
	} else {
		m, err = mmfile.Create(path, entrySize, RemoteListStepSize)
	}
	if err != nil {
		return nil, fmt.Errorf("rl: %w", err)
	}
	return &List{mapped: m, path: path}, nil
}

func (l *List) count() int {
	if l.transient {
		return len(l.mem)
	}
	return l.mapped.Count()
}

func (l *List) get(i int) Entry {
	if l.transient {
		return l.mem[i]
	}
	return decodeEntry(l.mapped.Slice(i))
}

func (l *List) set(i int, e Entry) {
	if l.transient {
		l.mem[i] = e
		return
	}
	encodeEntry(l.mapped.Slice(i), e)
}

func (l *List) append(e Entry) error {
	if l.transient {
		l.mem = append(l.mem, e)
		return nil
	}
	n := l.mapped.Count()
	if err := l.mapped.Grow(n + 1); err != nil {
		return err
	}
	encodeEntry(l.mapped.Slice(n), e)
	l.mapped.SetCount(n + 1)
	return nil
}

func (l *List) setCount(n int) {
	if l.transient {
		l.mem = l.mem[:n]
		return
	}
	l.mapped.SetCount(n)
}

// Find returns the index of fileName, or -1.
func (l *List) Find(fileName string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i := 0; i < l.count(); i++ {
		if l.get(i).FileName == fileName {
			return i
		}
	}
	return -1
}

// MergeListing reconciles a fresh directory listing against the retrieve
// list (spec §4.4): existing entries are refreshed (date/size change
// clears retrieved); new names are appended with in_list=true. Every
// existing entry not present in `names` is marked in_list=false for the
// subsequent Compact call. Returns the names that are new.
func (l *List) MergeListing(names []string, dateOf func(string) [dateLen]byte, sizeOf func(string) int64) (newNames []string, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	present := make(map[string]bool, len(names))
	for _, n := range names {
		present[n] = true
	}
	for i := 0; i < l.count(); i++ {
		e := l.get(i)
		e.InList = present[e.FileName]
		l.set(i, e)
	}

	existing := make(map[string]bool, l.count())
	for i := 0; i < l.count(); i++ {
		existing[l.get(i).FileName] = true
	}

	for _, name := range names {
		if !existing[name] {
			e := Entry{FileName: name, InList: true, Size: -1}
			if dateOf != nil {
				e.Date = dateOf(name)
			}
			if sizeOf != nil {
				e.Size = sizeOf(name)
			}
			if err := l.append(e); err != nil {
				return nil, err
			}
			newNames = append(newNames, name)
			continue
		}
		for i := 0; i < l.count(); i++ {
			e := l.get(i)
			if e.FileName != name {
				continue
			}
			changed := false
			if dateOf != nil {
				d := dateOf(name)
				if d != e.Date {
					e.Date = d
					changed = true
				}
			}
			if sizeOf != nil {
				sz := sizeOf(name)
				if sz != e.Size {
					e.Size = sz
					changed = true
				}
			}
			if changed {
				e.Retrieved = false
			}
			l.set(i, e)
			break
		}
	}
	return newNames, nil
}

// Compact removes entries with InList==false, unless the list is
// transient (spec §3 invariant: "entries with in_list == NO are compacted
// out unless stupid_mode or remove is set").
func (l *List) Compact() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.transient {
		return
	}
	n := l.count()
	write := 0
	for read := 0; read < n; read++ {
		e := l.get(read)
		if !e.InList {
			continue
		}
		if write != read {
			l.set(write, e)
		}
		write++
	}
	l.setCount(write)
}

// MarkRetrieved sets Retrieved=true for fileName.
func (l *List) MarkRetrieved(fileName string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i := 0; i < l.count(); i++ {
		e := l.get(i)
		if e.FileName == fileName {
			e.Retrieved = true
			l.set(i, e)
			return nil
		}
	}
	return fmt.Errorf("rl: %q not found", fileName)
}

// Pending returns the names of entries with Retrieved==false.
func (l *List) Pending() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []string
	for i := 0; i < l.count(); i++ {
		e := l.get(i)
		if !e.Retrieved {
			out = append(out, e.FileName)
		}
	}
	return out
}

// Entries returns a snapshot of all entries, for tests/inspection.
func (l *List) Entries() []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Entry, l.count())
	for i := range out {
		out[i] = l.get(i)
	}
	return out
}

// Close unmaps the list, if it is backed by a mapped file.
func (l *List) Close() error {
	if l.transient || l.mapped == nil {
		return nil
	}
	return l.mapped.Close()
}

func encodeEntry(buf []byte, e Entry) {
	n := len(e.FileName)
	if n > maxFileNameLen {
		n = maxFileNameLen
	}
	buf[0] = byte(n)
	buf[1] = byte(n >> 8)
	copy(buf[2:2+maxFileNameLen], e.FileName[:n])
	off := 2 + maxFileNameLen
	copy(buf[off:off+dateLen], e.Date[:])
	off += dateLen
	u := uint64(e.Size)
	for k := 0; k < 8; k++ {
		buf[off+k] = byte(u >> (8 * k))
	}
	off += 8
	if e.Retrieved {
		buf[off] = 1
	} else {
		buf[off] = 0
	}
	off++
	if e.InList {
		buf[off] = 1
	} else {
		buf[off] = 0
	}
}

func decodeEntry(buf []byte) Entry {
	var e Entry
	n := int(buf[0]) | int(buf[1])<<8
	e.FileName = string(buf[2 : 2+n])
	off := 2 + maxFileNameLen
	copy(e.Date[:], buf[off:off+dateLen])
	off += dateLen
	var u uint64
	for k := 0; k < 8; k++ {
		u |= uint64(buf[off+k]) << (8 * k)
	}
	e.Size = int64(u)
	off += 8
	e.Retrieved = buf[off] != 0
	off++
	e.InList = buf[off] != 0
	return e
}
