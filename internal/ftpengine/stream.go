package ftpengine

import (
	"bufio"
	"context"
	"io"
	"net"
	"time"

	"github.com/afd-core/afd/internal/afderr"
)

// dataConn wraps the data connection plus, for active mode, its listener
// cleanup.
type dataConn struct {
	net.Conn
	cleanup func()
}

func (d *dataConn) Close() error {
	err := d.Conn.Close()
	if d.cleanup != nil {
		d.cleanup()
	}
	return err
}

// openDataChannel opens the data connection per the job's mode: passive
// when the message or host requests it (spec §4.3), active otherwise.
func (c *Conn) openDataChannel(ctx context.Context, job SendJob) (*dataConn, error) {
	passive := job.Passive || job.Msg.Options.Passive
	if passive {
		nc, err := c.OpenPassive(ctx)
		if err != nil {
			return nil, err
		}
		return &dataConn{Conn: nc}, nil
	}

	accept, cleanup, err := c.OpenActive(ctx, job.Host.TransferTimeout)
	if err != nil {
		return nil, err
	}
	nc, err := accept()
	if err != nil {
		cleanup()
		return nil, err
	}
	return &dataConn{Conn: nc, cleanup: cleanup}, nil
}

// closeDataConn performs the fflush+shutdown(SHUT_WR)+close sequence of
// spec §4.3 step 9, to the extent Go's net.Conn exposes it.
func closeDataConn(d *dataConn) error {
	if tc, ok := d.Conn.(*net.TCPConn); ok {
		if err := tc.CloseWrite(); err != nil {
			return err
		}
	}
	return d.Close()
}

// streamFile implements spec §4.3 step 6: block-sized reads, ASCII
// LF->CRLF expansion, per-block timeout via the write deadline, and
// progress bookkeeping (file_size_in_use_done / file_size_done /
// bytes_send via ssa.UpdateProgress), plus the STAT keep-alive of step 7.
func (c *Conn) streamFile(ctx context.Context, f io.Reader, w *bufio.Writer, job SendJob, alreadySent int64) (int64, error) {
	buf := make([]byte, job.BlockSize)
	scratch := make([]byte, 0, job.BlockSize*2)
	var sent int64
	blocks := 0

	for {
		n, rerr := f.Read(buf)
		if n > 0 {
			chunk := buf[:n]
			if c.asciiMode {
				scratch = scratch[:0]
				for _, b := range chunk {
					if b == '\n' {
						scratch = append(scratch, '\r', '\n')
					} else {
						scratch = append(scratch, b)
					}
				}
				chunk = scratch
			}

			c.conn.SetWriteDeadline(time.Now().Add(job.Host.TransferTimeout))
			wn, werr := w.Write(chunk)
			if werr != nil {
				if ne, ok := werr.(net.Error); ok && ne.Timeout() {
					c.timeoutFlag = true
					return sent, afderr.New("write", afderr.TimeoutError, werr)
				}
				return sent, afderr.New("write", afderr.WriteRemoteError, werr)
			}
			if wn < len(chunk) {
				return sent, afderr.New("write", afderr.WriteRemoteError, io.ErrShortWrite)
			}

			sent += int64(n)
			if uerr := job.SSA.UpdateProgress(job.HostIdx, job.JobIdx, int64(n)); uerr != nil {
				return sent, afderr.New("progress", afderr.WriteLockError, uerr)
			}

			blocks++
			if c.statKeepalive {
				if err := c.maybeKeepalive(blocks); err != nil {
					c.statKeepalive = false
				}
			}
		}
		if rerr == io.EOF {
			return sent, nil
		}
		if rerr != nil {
			return sent, afderr.New("read", afderr.ReadLocalError, rerr)
		}
		select {
		case <-ctx.Done():
			return sent, afderr.New("stream", afderr.TimeoutError, ctx.Err())
		default:
		}
	}
}

// ftpCtrlKeepAliveInterval mirrors FTP_CTRL_KEEP_ALIVE_INTERVAL: the
// minimum gap between successive STAT keep-alives (spec §4.3 step 7).
const ftpCtrlKeepAliveInterval = 5 * time.Second

// maybeKeepalive sends STAT on the control channel every
// keepaliveEveryNBlocks blocks, only if the previous STAT succeeded and
// at least ftpCtrlKeepAliveInterval has elapsed since the last one (spec
// §4.3 step 7).
func (c *Conn) maybeKeepalive(blocks int) error {
	if blocks%keepaliveEveryNBlocks != 0 {
		return nil
	}
	if !c.lastKeepaliveAt.IsZero() && time.Since(c.lastKeepaliveAt) < ftpCtrlKeepAliveInterval {
		return nil
	}
	if !c.lastKeepaliveOK && !c.lastKeepaliveAt.IsZero() {
		return nil
	}
	err := c.Stat()
	c.lastKeepaliveOK = err == nil
	c.lastKeepaliveAt = time.Now()
	return err
}
