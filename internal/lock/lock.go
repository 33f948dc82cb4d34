// Package lock provides byte-range advisory locking over mapped files, as
// used by SSA/DCS/RL/EQ (spec §4.1, §5): readers take shared locks, writers
// take exclusive locks, scoped to the byte range of the field(s) being
// touched rather than the whole file.
package lock

import (
	"os"

	"golang.org/x/sys/unix"
)

// Range is a byte-range lock over fd, covering [Offset, Offset+Length).
// Length == 0 means "to the end of the file", matching fcntl(2) semantics.
type Range struct {
	Offset int64
	Length int64
}

// Shared takes a blocking shared (read) lock on the range.
func Shared(f *os.File, r Range) error {
	return setlkw(f, unix.F_RDLCK, r)
}

// Exclusive takes a blocking exclusive (write) lock on the range.
func Exclusive(f *os.File, r Range) error {
	return setlkw(f, unix.F_WRLCK, r)
}

// Unlock releases the lock on the range.
func Unlock(f *os.File, r Range) error {
	return setlkw(f, unix.F_UNLCK, r)
}

// TryExclusive takes a non-blocking exclusive lock, returning false (not an
// error) if the range is already locked by someone else.
func TryExclusive(f *os.File, r Range) (bool, error) {
	lk := unix.Flock_t{
		Type:   unix.F_WRLCK,
		Whence: int16(os.SEEK_SET),
		Start:  r.Offset,
		Len:    r.Length,
	}
	err := unix.FcntlFlock(f.Fd(), unix.F_SETLK, &lk)
	if err == nil {
		return true, nil
	}
	if err == unix.EACCES || err == unix.EAGAIN {
		return false, nil
	}
	return false, err
}

func setlkw(f *os.File, typ int16, r Range) error {
	lk := unix.Flock_t{
		Type:   typ,
		Whence: int16(os.SEEK_SET),
		Start:  r.Offset,
		Len:    r.Length,
	}
	return unix.FcntlFlock(f.Fd(), unix.F_SETLKW, &lk)
}

// WithExclusive runs fn while holding an exclusive lock on r, always
// releasing it afterwards, even if fn panics.
func WithExclusive(f *os.File, r Range, fn func() error) error {
	if err := Exclusive(f, r); err != nil {
		return err
	}
	defer Unlock(f, r)
	return fn()
}

// WithShared runs fn while holding a shared lock on r.
func WithShared(f *os.File, r Range, fn func() error) error {
	if err := Shared(f, r); err != nil {
		return err
	}
	defer Unlock(f, r)
	return fn()
}
