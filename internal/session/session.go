// Package session replaces the process-wide globals the original
// sender/retriever processes relied on (fsa, rl, dupcheck state, the
// current job's db struct) with one owning value holding explicit
// handles to every shared mapping plus the current job's parsed message
// (spec §9 "process-wide globals for shared mmaps and current-job
// state").
package session

import (
	"fmt"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/afd-core/afd/internal/dcs"
	"github.com/afd-core/afd/internal/eq"
	"github.com/afd-core/afd/internal/mjm"
	"github.com/afd-core/afd/internal/pwstore"
	"github.com/afd-core/afd/internal/rl"
	"github.com/afd-core/afd/internal/ssa"
)

// Session bundles one sender or retriever process's live handles onto
// the shared mappings, plus the job it currently owns. Passed explicitly
// rather than reached for through package-level state.
type Session struct {
	TraceID string
	Log     *logrus.Entry

	SSA *ssa.Area
	DCS *dcs.Store
	EQ  *eq.Queue
	PW  *pwstore.Store

	// RL is nil until a retrieve pass opens a directory's list (it is
	// per-source-directory, unlike the other process-wide mappings).
	RL *rl.List

	// HostIdx/JobIdx identify which FSA slot this session owns for the
	// duration of the current job.
	HostIdx int
	JobIdx  int

	// Msg is the parsed message for the job currently in flight. Reset
	// on every burst continuation (spec §4.3).
	Msg *mjm.Message
}

// Open attaches SSA, DCS, EQ, and the password store for one host/job
// slot. RL is opened separately via OpenRetrieveList since it is scoped
// to a source directory, not a host.
func Open(workDir, fifoDir string, hostIdx, jobIdx int, log *logrus.Entry) (*Session, error) {
	traceID := uuid.New().String()
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	log = log.WithField("trace_id", traceID)

	area, err := ssa.Attach(workDir, log)
	if err != nil {
		return nil, fmt.Errorf("session: attach ssa: %w", err)
	}

	host, err := area.Host(hostIdx)
	if err != nil {
		area.Close()
		return nil, fmt.Errorf("session: %w", err)
	}
	if jobIdx < 0 || jobIdx >= len(host.Jobs) {
		area.Close()
		return nil, fmt.Errorf("session: job index %d out of range for host %q", jobIdx, host.Alias)
	}

	jobID := host.Jobs[jobIdx].JobID
	store, err := dcs.Open(workDir, jobID)
	if err != nil {
		area.Close()
		return nil, fmt.Errorf("session: attach dcs: %w", err)
	}

	queue, err := eq.Open(filepath.Join(fifoDir, "error_queue_file"))
	if err != nil {
		area.Close()
		store.Close()
		return nil, fmt.Errorf("session: attach eq: %w", err)
	}

	pw, err := pwstore.Open(fifoDir)
	if err != nil {
		area.Close()
		store.Close()
		queue.Close()
		return nil, fmt.Errorf("session: attach pwstore: %w", err)
	}

	return &Session{
		TraceID: traceID,
		Log:     log,
		SSA:     area,
		DCS:     store,
		EQ:      queue,
		PW:      pw,
		HostIdx: hostIdx,
		JobIdx:  jobIdx,
	}, nil
}

// OpenRetrieveList attaches (or creates) the retrieve list for dirAlias
// and assigns it to s.RL, closing any previously-open one first.
func (s *Session) OpenRetrieveList(workDir, dirAlias string, transient bool) error {
	if s.RL != nil {
		if err := s.RL.Close(); err != nil {
			return fmt.Errorf("session: close previous rl: %w", err)
		}
	}
	list, err := rl.Open(workDir, dirAlias, transient)
	if err != nil {
		return fmt.Errorf("session: open rl: %w", err)
	}
	s.RL = list
	return nil
}

// ResetForBurst replaces the current message with a freshly parsed one
// for a burst-continued job, per spec §4.3's burst paragraph.
func (s *Session) ResetForBurst(msg *mjm.Message, jobID uint32) {
	s.Msg = msg
}

// Close detaches every handle the session owns. Safe to call once;
// errors from individual detaches are joined into one message so a
// single failure does not mask the others.
func (s *Session) Close() error {
	var errs []error
	if s.RL != nil {
		if err := s.RL.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if s.PW != nil {
		if err := s.PW.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if s.EQ != nil {
		if err := s.EQ.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if s.DCS != nil {
		if err := s.DCS.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if s.SSA != nil {
		if err := s.SSA.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("session: close: %v", errs)
}
