package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/afd-core/afd/internal/afderr"
	"github.com/afd-core/afd/internal/dispatch"
	"github.com/afd-core/afd/internal/ftpengine"
	"github.com/afd-core/afd/internal/mjm"
	"github.com/afd-core/afd/internal/pacer"
	"github.com/afd-core/afd/internal/recipient"
	"github.com/afd-core/afd/internal/session"
)

var (
	sfHostIndex int
	sfJobIndex  int
	sfMsgPath   string
	sfLocalFile string
)

var sfFTPCommand = &cobra.Command{
	Use:   "sf-ftp",
	Short: "Send one file to one host over FTP (sender worker)",
	RunE:  runSFFTP,
}

func init() {
	sfFTPCommand.Flags().IntVar(&sfHostIndex, "host-index", 0, "SSA host slot index")
	sfFTPCommand.Flags().IntVar(&sfJobIndex, "job-index", 0, "SSA job slot index")
	sfFTPCommand.Flags().StringVar(&sfMsgPath, "message", "", "path to the job message file")
	sfFTPCommand.Flags().StringVar(&sfLocalFile, "file", "", "local file to send")
}

func runSFFTP(cmd *cobra.Command, args []string) error {
	entry := log.WithFields(map[string]interface{}{
		"component": "sf-ftp",
		"host_idx":  sfHostIndex,
		"job_idx":   sfJobIndex,
	})

	msgFile, err := os.Open(sfMsgPath)
	if err != nil {
		return fmt.Errorf("sf-ftp: open message %s: %w", sfMsgPath, err)
	}
	msg, err := mjm.ReadFile(msgFile, entry)
	msgFile.Close()
	if err != nil {
		return fmt.Errorf("sf-ftp: parse message: %w", err)
	}

	cfg := loadCfgOrDefault()

	sess, err := session.Open(cfg.WorkDir, cfg.FifoDir, sfHostIndex, sfJobIndex, entry)
	if err != nil {
		return fmt.Errorf("sf-ftp: open session: %w", err)
	}
	defer sess.Close()
	sess.Msg = msg

	host, err := sess.SSA.Host(sfHostIndex)
	if err != nil {
		return fmt.Errorf("sf-ftp: host record: %w", err)
	}

	password, _ := sess.PW.Lookup(msg.Recipient.User + "@" + msg.Recipient.Host)
	if msg.Recipient.HasPassword {
		password = msg.Recipient.Password
	}

	addr := recipientAddr(msg.Recipient)

	maxRetries := host.MaxErrors
	if maxRetries < 1 {
		maxRetries = 1
	}
	p := pacer.New(pacer.MaxRetries(maxRetries))

	var conn *ftpengine.Conn
	var result ftpengine.TransferResult
	var sendErr error
	callErr := p.Call(context.Background(), func() (bool, error) {
		ctx, cancel := context.WithTimeout(context.Background(), host.TransferTimeout)
		defer cancel()

		dialedConn, dialErr := connectAndPrepare(ctx, addr, host.TransferTimeout, entry, msg, password)
		if dialErr != nil {
			sendErr = dialErr
			return recoverable(dialErr), dialErr
		}
		conn = dialedConn

		job := ftpengine.SendJob{
			SSA:       sess.SSA,
			HostIdx:   sfHostIndex,
			JobIdx:    sfJobIndex,
			JobID:     host.Jobs[sfJobIndex].JobID,
			Host:      host,
			Msg:       msg,
			BlockSize: host.TransferBlockSize,
			RemoteDir: msg.Recipient.Path,
			Passive:   msg.Options.Passive,
		}
		var err error
		result, err = conn.SendFile(ctx, job, sfLocalFile)
		sendErr = err
		if err != nil {
			return recoverable(err), err
		}
		p.Reset()
		return false, nil
	})
	jobID := host.Jobs[sfJobIndex].JobID
	if callErr != nil {
		entry.WithError(callErr).Warn("sf-ftp: send failed")
		escalateError(sess, sfHostIndex, jobID, host.MaxErrors, entry)
		closeConn(conn, sendErr, entry)
		return sendErr
	}
	clearError(sess, sfHostIndex, jobID, entry)
	entry.WithFields(map[string]interface{}{
		"bytes_sent": result.BytesSent,
		"final_name": result.FinalName,
		"skipped":    result.Skipped,
	}).Info("sf-ftp: file sent")

	// Burst continuation: keep the authenticated control connection open
	// and request further work from the dispatcher until it stops
	// granting (spec §4.3 last paragraph, §5).
	pid := int32(os.Getpid())
	finPath := finFifoPath(cfg.FifoDir)
	burstDir := dispatch.BurstHandoffDir(cfg.WorkDir)
	curRecipient := msg.Recipient

	for {
		outcome, burstErr := ftpengine.RequestBurst(sess.SSA, sfHostIndex, sfJobIndex, pid, finPath)
		if burstErr != nil {
			entry.WithError(burstErr).Debug("sf-ftp: burst request failed")
			break
		}
		if !outcome.Granted {
			break
		}
		entry.WithField("job_id", outcome.JobID).Info("sf-ftp: burst continuation granted")

		nextMsg, localFile, hErr := readBurstJob(burstDir, outcome.JobID, entry)
		if hErr != nil {
			entry.WithError(hErr).Warn("sf-ftp: burst handoff unreadable")
			break
		}
		sess.ResetForBurst(nextMsg, outcome.JobID)

		reauthCtx, cancel := context.WithTimeout(context.Background(), host.TransferTimeout)
		nextConn, rErr := ftpengine.ReauthForBurst(reauthCtx, conn, recipientAddr(nextMsg.Recipient),
			host.TransferTimeout, entry, curRecipient, nextMsg.Recipient, transferTypeMode(nextMsg.Options))
		cancel()
		if rErr != nil {
			entry.WithError(rErr).Warn("sf-ftp: burst reauth failed")
			sendErr = rErr
			break
		}
		conn = nextConn
		curRecipient = nextMsg.Recipient

		sendCtx, cancel2 := context.WithTimeout(context.Background(), host.TransferTimeout)
		job := ftpengine.SendJob{
			SSA:       sess.SSA,
			HostIdx:   sfHostIndex,
			JobIdx:    sfJobIndex,
			JobID:     outcome.JobID,
			Host:      host,
			Msg:       nextMsg,
			BlockSize: host.TransferBlockSize,
			RemoteDir: nextMsg.Recipient.Path,
			Passive:   nextMsg.Options.Passive,
		}
		burstResult, sErr := conn.SendFile(sendCtx, job, localFile)
		cancel2()
		sendErr = sErr
		if sErr != nil {
			entry.WithError(sErr).Warn("sf-ftp: burst send failed")
			escalateError(sess, sfHostIndex, outcome.JobID, host.MaxErrors, entry)
			break
		}
		clearError(sess, sfHostIndex, outcome.JobID, entry)
		entry.WithFields(map[string]interface{}{
			"bytes_sent": burstResult.BytesSent,
			"final_name": burstResult.FinalName,
			"skipped":    burstResult.Skipped,
		}).Info("sf-ftp: burst file sent")
	}

	closeConn(conn, sendErr, entry)
	return sendErr
}

// recipientAddr builds the "host:port" control-connection address for a
// recipient, defaulting to the standard FTP port.
func recipientAddr(r recipient.Recipient) string {
	port := 21
	if r.HasPort {
		port = r.Port
	}
	return net.JoinHostPort(r.Host, strconv.Itoa(port))
}

// transferTypeMode maps the message's ASCII option to a TYPE argument.
func transferTypeMode(o mjm.Options) string {
	if o.EncodeANSI {
		return "A"
	}
	return "I"
}

// readBurstJob loads the message and local file a burst grant handed
// off, per the dispatcher's writeHandoff convention.
func readBurstJob(burstDir string, jobID uint32, log logrus.FieldLogger) (*mjm.Message, string, error) {
	msgPath, localFile, err := dispatch.ReadHandoff(burstDir, jobID)
	if err != nil {
		return nil, "", fmt.Errorf("read handoff: %w", err)
	}
	f, err := os.Open(msgPath)
	if err != nil {
		return nil, "", fmt.Errorf("open message %s: %w", msgPath, err)
	}
	defer f.Close()
	msg, err := mjm.ReadFile(f, log)
	if err != nil {
		return nil, "", fmt.Errorf("parse message %s: %w", msgPath, err)
	}
	return msg, localFile, nil
}

// closeConn ends the control connection per spec §5's Quit contract:
// QUIT is skipped — the socket is simply closed — once the control
// channel has timed out or the last operation hit a broken pipe, since
// issuing QUIT on a connection in either state is pointless.
func closeConn(conn *ftpengine.Conn, lastErr error, log logrus.FieldLogger) {
	if conn == nil {
		return
	}
	if conn.TimedOut() || isBrokenPipe(lastErr) {
		conn.Close()
		return
	}
	if err := conn.Quit(); err != nil {
		log.WithError(err).Debug("sf-ftp: quit failed")
	}
}

func isBrokenPipe(err error) bool {
	return errors.Is(err, syscall.EPIPE)
}

// escalateError records a failed send in the error queue and bumps the
// host's error counter, setting HostStatus's ErrorQueueSet bit the first
// time this job is queued (spec §3 EQ, §7 retry amplification).
func escalateError(sess *session.Session, hostIdx int, jobID uint32, maxErrors int, log logrus.FieldLogger) {
	if sess.EQ == nil {
		return
	}
	if _, err := sess.SSA.IncrementErrorCounter(hostIdx); err != nil {
		log.WithError(err).Debug("sf-ftp: increment error counter failed")
	}
	if err := sess.EQ.Add(jobID, uint32(hostIdx)); err != nil {
		log.WithError(err).Warn("sf-ftp: error queue add failed")
		return
	}
	if err := sess.SSA.SetErrorQueueBit(hostIdx, true); err != nil {
		log.WithError(err).Debug("sf-ftp: set error queue bit failed")
	}
	if maxErrors > 0 && sess.EQ.Check(jobID, uint32(maxErrors)) {
		log.WithField("job_id", jobID).Error("sf-ftp: job exceeded max-errors threshold, further retries suppressed")
	}
}

// clearError removes a job's error queue entry on a successful send,
// clearing the host's ErrorQueueSet bit once no entry for that host
// remains (spec §3 EQ invariant).
func clearError(sess *session.Session, hostIdx int, jobID uint32, log logrus.FieldLogger) {
	if sess.EQ == nil {
		return
	}
	err := sess.EQ.Remove(jobID, func(clearedHostID uint32) {
		if err := sess.SSA.SetErrorQueueBit(int(clearedHostID), false); err != nil {
			log.WithError(err).Debug("sf-ftp: clear error queue bit failed")
		}
	})
	if err != nil {
		log.WithError(err).Debug("sf-ftp: error queue remove failed")
	}
}

// connectAndPrepare dials, logs in, sets transfer type, and cwd's to the
// recipient's path, in the order the eleven-step protocol of spec §4.3
// expects before the first STOR.
func connectAndPrepare(ctx context.Context, addr string, timeout time.Duration, log logrus.FieldLogger, msg *mjm.Message, password string) (*ftpengine.Conn, error) {
	conn, err := ftpengine.Dial(ctx, addr, timeout, log)
	if err != nil {
		return nil, err
	}
	if err := conn.Login(msg.Recipient.User, password); err != nil {
		conn.Close()
		return nil, err
	}
	if err := conn.Type(transferTypeMode(msg.Options)); err != nil {
		conn.Close()
		return nil, err
	}
	if msg.Recipient.Path != "" {
		if err := conn.Cwd(msg.Recipient.Path); err != nil {
			conn.Close()
			return nil, err
		}
	}
	return conn, nil
}

// recoverable reports whether err represents a transient condition worth
// retrying (connect refused, timed-out control/data channel), as opposed
// to an authentication or protocol error that a retry cannot fix.
func recoverable(err error) bool {
	afdErr, ok := err.(*afderr.Error)
	if !ok {
		return false
	}
	switch afdErr.Code {
	case afderr.ConnectError, afderr.TimeoutError:
		return true
	default:
		return false
	}
}
