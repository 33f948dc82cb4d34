// Package fifo wraps the named pipes used as the dispatcher/sender and
// dispatcher/retriever rendezvous channels (spec §6 "FIFOs"): SF_FIN_FIFO
// carries pid_t writes (positive = "sender done", negative = "ready for
// burst"), FD_WAKE_UP_FIFO carries a single wake-up byte.
//
// Grounded on the teacher's own use of syscall.Mkfifo in
// fs/config/configfile/configfile_unix_test.go.
package fifo

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"syscall"
)

const (
	// FinFifoName is SF_FIN_FIFO (spec §6).
	FinFifoName = "sf_fin_fifo"
	// WakeUpFifoName is FD_WAKE_UP_FIFO (spec §6).
	WakeUpFifoName = "fd_wake_up_fifo"
)

// Ensure creates the named pipe at path if it does not already exist.
func Ensure(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("fifo: %w", err)
	}
	if _, err := os.Stat(path); err == nil {
		return nil
	}
	if err := syscall.Mkfifo(path, 0660); err != nil && !os.IsExist(err) {
		return fmt.Errorf("fifo: mkfifo %s: %w", path, err)
	}
	return nil
}

// Writer is an O_RDWR handle onto a FIFO. Opening O_RDWR (rather than
// O_WRONLY) avoids racing a reader that has not yet opened its end (spec
// §6: "Writers open O_RDWR to avoid racing with readerless FIFOs").
type Writer struct {
	f *os.File
}

// OpenWriter opens path for read-write.
func OpenWriter(path string) (*Writer, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("fifo: open %s: %w", path, err)
	}
	return &Writer{f: f}, nil
}

// WritePID writes a pid_t-sized (int32) value: positive for "sender
// done", negative for "ready for burst" (spec §6).
func (w *Writer) WritePID(pid int32) error {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], uint32(pid))
	_, err := w.f.Write(buf[:])
	return err
}

// WriteByte writes the single wake-up byte used by FD_WAKE_UP_FIFO.
func (w *Writer) WriteByte(b byte) error {
	_, err := w.f.Write([]byte{b})
	return err
}

func (w *Writer) Close() error { return w.f.Close() }

// Reader is a blocking O_RDWR reader for a pid_t FIFO.
type Reader struct {
	f *os.File
}

// OpenReader opens path for read-write, matching the writer side's
// O_RDWR convention so neither end blocks waiting for the other to
// appear.
func OpenReader(path string) (*Reader, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("fifo: open %s: %w", path, err)
	}
	return &Reader{f: f}, nil
}

// ReadPID blocks for one pid_t-sized write.
func (r *Reader) ReadPID() (int32, error) {
	var buf [4]byte
	if _, err := r.f.Read(buf[:]); err != nil {
		return 0, err
	}
	return int32(binary.LittleEndian.Uint32(buf[:])), nil
}

func (r *Reader) Close() error { return r.f.Close() }
