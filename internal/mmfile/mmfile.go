// Package mmfile implements the resizable memory-mapped file pattern used
// throughout AFD's shared areas (SSA, DCS, RL, EQ): a small fixed header
// (the "word offset" holding the live element count) followed by a flat
// array of fixed-size records, grown in place by unmapping, truncating, and
// remapping (spec §9: "Resizable mmaps via munmap/mmap/lseek-write-zero
// pattern").
package mmfile

import (
	"encoding/binary"
	"fmt"
	"os"
	"sync"

	"github.com/edsrzf/mmap-go"
)

// WordOffset is the size in bytes of the header word that stores the live
// element count at the front of every mapped file this package manages.
// Mirrors the original AFD_WORD_OFFSET convention.
const WordOffset = 8

// Growable is a header-plus-array memory mapped file. The header is a
// single little-endian uint64 giving the number of live elements; the
// array holds ElemSize-sized records starting at WordOffset.
type Growable struct {
	mu       sync.RWMutex
	file     *os.File
	data     mmap.MMap
	elemSize int
	capacity int // number of elements currently backed by the mapping
	path     string
}

// Create creates (or truncates) path, sized for initialCapacity elements of
// elemSize bytes, and maps it.
func Create(path string, elemSize, initialCapacity int) (*Growable, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return nil, fmt.Errorf("mmfile: create %s: %w", path, err)
	}
	g := &Growable{file: f, elemSize: elemSize, path: path}
	if err := g.resizeLocked(initialCapacity); err != nil {
		f.Close()
		return nil, err
	}
	g.setCount(0)
	return g, nil
}

// Open maps an existing file created by Create.
func Open(path string, elemSize int) (*Growable, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0644)
	if err != nil {
		return nil, fmt.Errorf("mmfile: open %s: %w", path, err)
	}
	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	cap := 0
	if st.Size() > WordOffset {
		cap = int((st.Size() - WordOffset) / int64(elemSize))
	}
	g := &Growable{file: f, elemSize: elemSize, path: path}
	if err := g.mapLocked(); err != nil {
		f.Close()
		return nil, err
	}
	g.capacity = cap
	return g, nil
}

func (g *Growable) mapLocked() error {
	m, err := mmap.Map(g.file, mmap.RDWR, 0)
	if err != nil {
		return fmt.Errorf("mmfile: mmap %s: %w", g.path, err)
	}
	g.data = m
	return nil
}

// resizeLocked grows (never shrinks) the backing file to hold n elements,
// remapping it. Newly added bytes read back as zero (lseek+write-zero via
// Truncate, which on a regular file zero-fills the extended region).
func (g *Growable) resizeLocked(n int) error {
	if g.data != nil {
		if err := g.data.Unmap(); err != nil {
			return fmt.Errorf("mmfile: unmap %s: %w", g.path, err)
		}
		g.data = nil
	}
	size := int64(WordOffset + n*g.elemSize)
	if err := g.file.Truncate(size); err != nil {
		return fmt.Errorf("mmfile: truncate %s: %w", g.path, err)
	}
	if err := g.mapLocked(); err != nil {
		return err
	}
	g.capacity = n
	return nil
}

// Grow ensures the mapping can hold at least n elements, growing by
// doubling (amortized growth, per spec §3's DCS "amortized-grow scheme")
// when n exceeds the current capacity.
func (g *Growable) Grow(n int) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if n <= g.capacity {
		return nil
	}
	newCap := g.capacity
	if newCap == 0 {
		newCap = n
	}
	for newCap < n {
		newCap *= 2
	}
	return g.resizeLocked(newCap)
}

// Count returns the live element count stored in the header word.
func (g *Growable) Count() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return int(binary.LittleEndian.Uint64(g.data[:WordOffset]))
}

// SetCount updates the header word.
func (g *Growable) SetCount(n int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.setCount(n)
}

func (g *Growable) setCount(n int) {
	binary.LittleEndian.PutUint64(g.data[:WordOffset], uint64(n))
}

// Capacity returns the number of elements the current mapping can hold
// without a further Grow.
func (g *Growable) Capacity() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.capacity
}

// Slice returns the raw bytes of element i. The caller must not retain the
// slice past the next Grow (which remaps and invalidates prior slices).
func (g *Growable) Slice(i int) []byte {
	g.mu.RLock()
	defer g.mu.RUnlock()
	off := WordOffset + i*g.elemSize
	return g.data[off : off+g.elemSize]
}

// File returns the underlying *os.File, for callers that need to take
// byte-range locks via internal/lock.
func (g *Growable) File() *os.File { return g.file }

// ElemOffset returns the absolute byte offset of element i's record, for
// computing lock.Range values.
func (g *Growable) ElemOffset(i int) int64 {
	return int64(WordOffset + i*g.elemSize)
}

// ElemSize returns the configured record size.
func (g *Growable) ElemSize() int { return g.elemSize }

// Sync flushes the mapping to disk.
func (g *Growable) Sync() error {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.data.Flush()
}

// Close unmaps and closes the backing file.
func (g *Growable) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	var err error
	if g.data != nil {
		err = g.data.Unmap()
	}
	if cerr := g.file.Close(); err == nil {
		err = cerr
	}
	return err
}
