package ftpengine

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/afd-core/afd/internal/afderr"
	"github.com/afd-core/afd/internal/fifo"
	"github.com/afd-core/afd/internal/recipient"
	"github.com/afd-core/afd/internal/ssa"
)

// BurstPollInterval and BurstPollTimeout implement the sender's polling
// loop for burst continuation (spec §4.3 last paragraph / §5): after the
// job's file list is exhausted, the sender asks the dispatcher for more
// work and polls for up to 120s in 50ms steps.
const (
	BurstPollInterval = 50 * time.Millisecond
	BurstPollTimeout  = 120 * time.Second
)

// BurstOutcome reports whether the dispatcher handed the sender another
// queued job on the same connection, and if so which.
type BurstOutcome struct {
	Granted bool
	JobID   uint32
}

// RequestBurst writes the sender's negative pid into SF_FIN_FIFO and
// polls the slot's unique_name[1] byte for up to BurstPollTimeout. A
// nonzero byte means the dispatcher wrote a fresh job into the slot; on
// timeout the sender gives up and the caller should exit normally.
func RequestBurst(area *ssa.Area, hostIdx, jobIdx int, pid int32, finFifoPath string) (BurstOutcome, error) {
	if err := area.SetUniqueNameMailbox(hostIdx, jobIdx, 0, 0, false); err != nil {
		return BurstOutcome{}, err
	}

	w, err := fifo.OpenWriter(finFifoPath)
	if err != nil {
		return BurstOutcome{}, err
	}
	defer w.Close()
	if err := w.WritePID(-pid); err != nil {
		return BurstOutcome{}, err
	}

	deadline := time.Now().Add(BurstPollTimeout)
	for {
		b, err := area.PollUniqueNameByte(hostIdx, jobIdx)
		if err != nil {
			return BurstOutcome{}, err
		}
		if b != 0 {
			host, herr := area.Host(hostIdx)
			if herr != nil {
				return BurstOutcome{}, herr
			}
			return BurstOutcome{Granted: true, JobID: host.Jobs[jobIdx].JobID}, nil
		}
		if time.Now().After(deadline) {
			return BurstOutcome{Granted: false}, nil
		}
		time.Sleep(BurstPollInterval)
	}
}

// ReauthForBurst re-authenticates an existing control connection for a
// burst-continued job whose recipient differs from the one the
// connection was opened for (spec seed scenario 4, "burst reconnect on
// REJ-USER"). If the user is unchanged, conn is returned as-is. If the
// user changed and the server accepts a second USER without a fresh
// connection, conn is reused. If the server rejects the second USER
// (500/530), the connection is closed and a fresh one dialed, logged in,
// typed, and cwd'd against the new recipient.
func ReauthForBurst(ctx context.Context, conn *Conn, addr string, timeout time.Duration, log logrus.FieldLogger, oldR, newR recipient.Recipient, typeMode string) (*Conn, error) {
	if newR.User == oldR.User {
		return conn, nil
	}

	r, err := conn.Cmd("USER", newR.User)
	if err != nil {
		return nil, err
	}
	switch {
	case r.Code == 230:
		return conn, nil
	case oneOf(r.Code, 331, 332):
		// USER was already sent above; send PASS directly rather than
		// calling Login, which would resend USER.
		pr, perr := conn.Cmd("PASS", newR.Password)
		if perr != nil {
			return nil, afderr.New("PASS", afderr.PasswordError, perr)
		}
		if !oneOf(pr.Code, 202, 230, 332) {
			return nil, afderr.FromReply("PASS", afderr.PasswordError, pr.Code, nil)
		}
		return conn, nil
	case oneOf(r.Code, 500, 530):
		conn.Close()
		fresh, err := Dial(ctx, addr, timeout, log)
		if err != nil {
			return nil, err
		}
		if err := fresh.Login(newR.User, newR.Password); err != nil {
			fresh.Close()
			return nil, err
		}
		if err := fresh.Type(typeMode); err != nil {
			fresh.Close()
			return nil, err
		}
		if newR.Path != "" {
			if err := fresh.Cwd(newR.Path); err != nil {
				fresh.Close()
				return nil, err
			}
		}
		return fresh, nil
	default:
		return nil, afderr.FromReply("USER", afderr.UserError, r.Code, nil)
	}
}
