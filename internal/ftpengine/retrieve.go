package ftpengine

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/afd-core/afd/internal/afderr"
	"github.com/afd-core/afd/internal/rl"
)

// FilterGroup is one `read_file_mask` group: the first pattern in the
// group matching a name wins the group for that name; a pattern prefixed
// with "!" is a negative match and skips the rest of the group entirely
// (spec §4.4).
type FilterGroup struct {
	Patterns []string
}

// Matches reports whether name is selected by any group in groups, per
// the "first positive match in a group wins; a negative match skips the
// whole group" rule.
func Matches(groups []FilterGroup, name string) bool {
	for _, g := range groups {
		for _, p := range g.Patterns {
			negate := strings.HasPrefix(p, "!")
			pattern := p
			if negate {
				pattern = p[1:]
			}
			ok, err := filepath.Match(pattern, name)
			if err != nil || !ok {
				continue
			}
			if negate {
				break // definitely not wanted: skip the rest of this group
			}
			return true
		}
	}
	return false
}

// RetrieveJob bundles the per-directory state a retrieve pass needs.
type RetrieveJob struct {
	DirAlias    string
	IncomingDir string
	Groups      []FilterGroup
	Remove      bool
	CheckDate   bool
	CheckSize   bool
	BlockSize   int
	Transfer    time.Duration

	// IsDup, when set, is consulted after a successful retrieve to decide
	// whether the landed file is a duplicate of one already seen within
	// the configured window (spec §4.5). A retrieve whose IsDup reports
	// true is still merged into the retrieve list as Retrieved so it is
	// never fetched again, but the local copy is removed instead of kept.
	IsDup func(fullname string, size int64) (bool, error)
}

// RetrieveResult reports the outcome of one NLST+RETR pass.
type RetrieveResult struct {
	Listed     int
	Retrieved  int
	NewEntries []string
}

// RunRetrievePass executes spec §4.4 in full: NLST, filter, merge with the
// retrieve list, then RETR every entry not yet retrieved.
func (c *Conn) RunRetrievePass(ctx context.Context, job RetrieveJob, list *rl.List) (RetrieveResult, error) {
	names, err := c.nlst(ctx)
	if err != nil {
		if noSuchFiles(err) {
			return RetrieveResult{}, nil
		}
		return RetrieveResult{}, err
	}
	if len(names) == 0 {
		return RetrieveResult{}, nil
	}

	var matched []string
	for _, n := range names {
		if Matches(job.Groups, n) {
			matched = append(matched, n)
		}
	}

	dateOf := func(name string) [16]byte {
		var out [16]byte
		if !job.CheckDate {
			return out
		}
		date, ok, err := c.Mdtm(name)
		if err == nil && ok {
			copy(out[:], date)
		}
		return out
	}
	sizeOf := func(name string) int64 {
		if !job.CheckSize {
			return -1
		}
		size, ok, err := c.Size(name)
		if err != nil || !ok {
			return -1
		}
		return size
	}

	newNames, err := list.MergeListing(matched, dateOf, sizeOf)
	if err != nil {
		return RetrieveResult{}, afderr.New("merge", afderr.WriteLockError, err)
	}
	list.Compact()

	result := RetrieveResult{Listed: len(matched), NewEntries: newNames}
	for _, e := range list.Entries() {
		if e.Retrieved || !e.InList {
			continue
		}
		if err := c.retrieveOne(ctx, job, e.FileName, e.Size); err != nil {
			return result, err
		}
		if err := list.MarkRetrieved(e.FileName); err != nil {
			return result, afderr.New("mark-retrieved", afderr.WriteLockError, err)
		}
		result.Retrieved++
	}
	return result, nil
}

// nlst sends NLST and reads the listing over a data connection opened in
// passive mode (spec §4.4: "send NLST and read its buffered data stream").
func (c *Conn) nlst(ctx context.Context) ([]string, error) {
	data, err := c.OpenPassive(ctx)
	if err != nil {
		return nil, err
	}
	r, err := c.Cmd("NLST", "")
	if err != nil {
		data.Close()
		return nil, err
	}
	if r.Code == 550 {
		data.Close()
		return nil, nil
	}
	if !oneOf(r.Code, 125, 150) {
		data.Close()
		return nil, afderr.FromReply("NLST", afderr.ReadRemoteError, r.Code, nil)
	}

	raw, readErr := io.ReadAll(data)
	data.Close()
	if readErr != nil {
		return nil, afderr.New("NLST", afderr.ReadRemoteError, readErr)
	}
	closeReply, err := c.readReply()
	if err == nil && !oneOf(closeReply.Code, 226, 250) {
		return nil, afderr.FromReply("NLST", afderr.ReadRemoteError, closeReply.Code, nil)
	}

	var names []string
	for _, line := range strings.FieldsFunc(string(raw), func(r rune) bool { return r == '\r' || r == '\n' }) {
		line = strings.TrimSpace(line)
		if line != "" {
			names = append(names, line)
		}
	}
	return names, nil
}

func noSuchFiles(err error) bool {
	afdErr, ok := err.(*afderr.Error)
	return ok && afdErr.ReplyCode == 550
}

// retrieveOne fetches a single remote file, with offset-resume against
// the partially-written local temp name, streams it block_size at a time
// into ".<name>", renames into place, and optionally removes the remote
// copy (spec §4.4 third paragraph).
func (c *Conn) retrieveOne(ctx context.Context, job RetrieveJob, name string, expectedSize int64) error {
	tmpPath := filepath.Join(job.IncomingDir, "."+name)
	finalPath := filepath.Join(job.IncomingDir, name)

	localSize := fileSize(tmpPath)
	if localSize > 0 {
		rr, rerr := c.Cmd("REST", strconv.FormatInt(localSize, 10))
		if rerr != nil {
			return rerr
		}
		if rr.Code != 350 {
			return afderr.FromReply("REST", afderr.ReadRemoteError, rr.Code, nil)
		}
	}

	r, err := c.Cmd("RETR", name)
	if err != nil {
		return err
	}
	if !oneOf(r.Code, 125, 150) {
		return afderr.FromReply("RETR", afderr.ReadRemoteError, r.Code, nil)
	}

	data, err := c.OpenPassive(ctx)
	if err != nil {
		return err
	}
	defer data.Close()

	f, err := os.OpenFile(tmpPath, os.O_WRONLY|os.O_CREATE, 0644)
	if err != nil {
		return afderr.New("open", afderr.OpenLocalError, err)
	}
	defer f.Close()
	if localSize > 0 {
		if _, err := f.Seek(localSize, io.SeekStart); err != nil {
			return afderr.New("seek", afderr.OpenLocalError, err)
		}
	}

	buf := make([]byte, job.BlockSize)
	var received int64
	for {
		c.conn.SetReadDeadline(time.Now().Add(job.Transfer))
		n, rerr := data.Read(buf)
		if n > 0 {
			if _, werr := f.Write(buf[:n]); werr != nil {
				return afderr.New("write", afderr.WriteLocalError, werr)
			}
			received += int64(n)
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			if isTimeout(rerr) {
				c.timeoutFlag = true
				return afderr.New("read", afderr.TimeoutError, rerr)
			}
			return afderr.New("read", afderr.ReadRemoteError, rerr)
		}
	}
	if err := f.Close(); err != nil {
		return afderr.New("close", afderr.WriteLocalError, err)
	}

	closeReply, err := c.readReply()
	if err != nil && (localSize+received) > 0 {
		return afderr.New("close", afderr.CloseRemoteError, err)
	}
	if err == nil && !oneOf(closeReply.Code, 226, 250) {
		return afderr.FromReply("close", afderr.CloseRemoteError, closeReply.Code, nil)
	}

	finalSize := localSize + received
	if expectedSize >= 0 && finalSize != expectedSize {
		// Non-fatal: warn only (spec §4.4 last sentence).
		if c.log != nil {
			c.log.Warnf("retrieve: %s final size %d differs from reported SIZE %d", name, finalSize, expectedSize)
		}
	}

	if err := os.Rename(tmpPath, finalPath); err != nil {
		return afderr.New("rename", afderr.WriteLocalError, err)
	}

	if job.IsDup != nil {
		dup, dupErr := job.IsDup(finalPath, finalSize)
		if dupErr != nil {
			if c.log != nil {
				c.log.Warnf("retrieve: dup check %s: %v", name, dupErr)
			}
		} else if dup {
			if c.log != nil {
				c.log.Infof("retrieve: %s is a duplicate, discarding", name)
			}
			os.Remove(finalPath)
		}
	}

	if job.Remove {
		if err := c.Dele(name); err != nil {
			return err
		}
	}
	return nil
}
