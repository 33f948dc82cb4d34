// Package pwstore implements the password store (spec §6): a mapped file
// of {uh_name, passwd} records keyed by "user@host", with passwords stored
// under a per-position obfuscation rather than in clear text.
//
// Grounded on src/common/get_pw.c's read-side transform; the write side
// (store/encode) is the documented inverse, since the retrieval pack only
// carries the reader.
package pwstore

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/afd-core/afd/internal/mmfile"
)

const (
	maxUHNameLength  = 73 // MAX_USER_NAME_LENGTH + 1 + MAX_REAL_HOSTNAME_LENGTH, rounded
	maxPasswdLength  = 81
	entrySize        = maxUHNameLength + maxPasswdLength
	initialCapacity  = 8
	dataFileName     = "pwb_data_file"
)

// Store is the attached password store.
type Store struct {
	mu     sync.RWMutex
	mapped *mmfile.Growable
}

// Open attaches the password store under fifoDir, creating it if absent.
// Matches get_pw.c's tolerance for a missing file: "no passwords in
// DIR_CONFIG" is not an error, it's an empty store.
func Open(fifoDir string) (*Store, error) {
	path := filepath.Join(fifoDir, dataFileName)
	if err := os.MkdirAll(fifoDir, 0755); err != nil {
		return nil, fmt.Errorf("pwstore: %w", err)
	}
	var m *mmfile.Growable
	var err error
	if _, statErr := os.Stat(path); statErr == nil {
		m, err = mmfile.Open(path, entrySize)
	} else {
		m, err = mmfile.Create(path, entrySize, initialCapacity)
	}
	if err != nil {
		return nil, fmt.Errorf("pwstore: %w", err)
	}
	return &Store{mapped: m}, nil
}

// Lookup returns the decoded password for uhName ("user@host"), and
// whether an entry was found. A missing entry is not an error (spec §6 /
// get_pw.c NONE case): callers fall back to whatever credential the
// message itself carries.
func (s *Store) Lookup(uhName string) (password string, found bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for i := 0; i < s.mapped.Count(); i++ {
		name, enc := s.readRecord(i)
		if name == uhName {
			return decode(enc), true
		}
	}
	return "", false
}

// Store inserts or updates the obfuscated password for uhName.
func (s *Store) Store(uhName, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	enc, err := encode(password)
	if err != nil {
		return err
	}
	for i := 0; i < s.mapped.Count(); i++ {
		name, _ := s.readRecord(i)
		if name == uhName {
			s.writeRecord(i, uhName, enc)
			return nil
		}
	}
	n := s.mapped.Count()
	if err := s.mapped.Grow(n + 1); err != nil {
		return err
	}
	s.writeRecord(n, uhName, enc)
	s.mapped.SetCount(n + 1)
	return nil
}

// encode applies the per-position obfuscation documented in spec §6:
// stored[i] = plain[i] + 24 - i for even i, + 11 - i for odd i (mod 256,
// matching the original's unsigned char arithmetic).
func encode(password string) ([]byte, error) {
	if len(password) > maxPasswdLength-1 {
		return nil, fmt.Errorf("pwstore: password exceeds %d bytes", maxPasswdLength-1)
	}
	out := make([]byte, len(password)+1)
	for i := 0; i < len(password); i++ {
		if i%2 == 0 {
			out[i] = password[i] + byte(24-i)
		} else {
			out[i] = password[i] + byte(11-i)
		}
	}
	return out, nil
}

// decode inverts encode: it subtracts 24 - i at even positions and
// 11 - i at odd ones, stopping at the first zero byte.
func decode(enc []byte) string {
	out := make([]byte, 0, len(enc))
	for i := 0; i < len(enc) && enc[i] != 0; i++ {
		if i%2 == 0 {
			out = append(out, enc[i]-byte(24-i))
		} else {
			out = append(out, enc[i]-byte(11-i))
		}
	}
	return string(out)
}

func (s *Store) readRecord(i int) (uhName string, encPasswd []byte) {
	b := s.mapped.Slice(i)
	n := 0
	for n < maxUHNameLength && b[n] != 0 {
		n++
	}
	uhName = string(b[:n])
	encPasswd = append([]byte(nil), b[maxUHNameLength:maxUHNameLength+maxPasswdLength]...)
	return uhName, encPasswd
}

func (s *Store) writeRecord(i int, uhName string, encPasswd []byte) {
	b := s.mapped.Slice(i)
	for k := range b {
		b[k] = 0
	}
	copy(b[:maxUHNameLength], uhName)
	copy(b[maxUHNameLength:maxUHNameLength+maxPasswdLength], encPasswd)
}

// Close unmaps the store.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mapped.Close()
}
