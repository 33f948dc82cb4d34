// Package ftpengine implements the FTP Transfer Engine (spec §4.3) and
// Retrieve Driver (spec §4.4): a synchronous request/response control
// channel, active/passive data channels, and the per-file send/retrieve
// protocols built on top of them.
//
// Grounded on the control-flow and reply-code idioms of rclone's FTP
// backend (dial/login/textproto error classification), reimplemented
// directly against net/textproto instead of a vendored FTP client
// library: the engine owns reply parsing, PORT/PASV negotiation, and
// per-block streaming itself, which a higher-level client library would
// hide.
package ftpengine

import (
	"context"
	"net"
	"net/textproto"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/afd-core/afd/internal/afderr"
)

// Reply is one parsed control-channel response (spec §4.3: "the numeric
// three-digit code is returned").
type Reply struct {
	Code    int
	Message string
}

// Conn is one FTP control connection.
type Conn struct {
	conn        net.Conn
	text        *textproto.Conn
	log         logrus.FieldLogger
	ctrlTimeout time.Duration

	asciiMode       bool
	statKeepalive   bool
	lastKeepaliveOK bool
	lastKeepaliveAt time.Time
	blocksSinceStat int
	timeoutFlag     bool
}

// Dial opens a control connection to addr and reads the greeting banner,
// which must be 120 or 220 (spec §4.3 reply-code table).
func Dial(ctx context.Context, addr string, timeout time.Duration, log logrus.FieldLogger) (*Conn, error) {
	d := net.Dialer{Timeout: timeout}
	nc, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, afderr.New("connect", afderr.ConnectError, err)
	}
	setLowDelay(nc)

	c := &Conn{
		conn:          nc,
		text:          textproto.NewConn(nc),
		log:           log,
		ctrlTimeout:   timeout,
		statKeepalive: true,
	}
	reply, err := c.readReply()
	if err != nil {
		nc.Close()
		return nil, afderr.New("connect", afderr.ConnectError, err)
	}
	if !oneOf(reply.Code, 120, 220) {
		nc.Close()
		return nil, afderr.FromReply("connect", afderr.ConnectError, reply.Code, nil)
	}
	return c, nil
}

func setLowDelay(c net.Conn) {
	if tc, ok := c.(*net.TCPConn); ok {
		// IPTOS_LOWDELAY equivalent is not portably exposed via the
		// standard library's net package; best-effort only.
		_ = tc.SetNoDelay(true)
	}
}

// Cmd sends "VERB args\r\n" and reads the (possibly multi-line) reply.
func (c *Conn) Cmd(verb, args string) (Reply, error) {
	c.conn.SetDeadline(time.Now().Add(c.ctrlTimeout))
	var line string
	if args == "" {
		line = verb
	} else {
		line = verb + " " + args
	}
	id, err := c.text.Cmd("%s", line)
	if err != nil {
		return Reply{}, afderr.New(verb, afderr.WriteRemoteError, err)
	}
	c.text.StartResponse(id)
	defer c.text.EndResponse(id)
	return c.readReply()
}

// readReply implements spec §4.3's multi-line reply parsing: read lines
// until one starts with three digits followed by a space (not a dash);
// "NNN-text" lines are continuations.
func (c *Conn) readReply() (Reply, error) {
	var msgLines []string
	for {
		line, err := c.text.ReadLine()
		if err != nil {
			if isTimeout(err) {
				c.timeoutFlag = true
			}
			return Reply{}, err
		}
		if len(line) < 4 {
			msgLines = append(msgLines, line)
			continue
		}
		code, convErr := strconv.Atoi(line[:3])
		if convErr != nil {
			msgLines = append(msgLines, line)
			continue
		}
		sep := line[3]
		msgLines = append(msgLines, strings.TrimSpace(line[4:]))
		if sep == ' ' {
			return Reply{Code: code, Message: strings.Join(msgLines, "\n")}, nil
		}
		// Any other separator (normally '-') is a continuation: keep
		// reading until a line whose three-digit code, whatever its
		// value, is followed by a space.
	}
}

func isTimeout(err error) bool {
	ne, ok := err.(net.Error)
	return ok && ne.Timeout()
}

func oneOf(code int, accepted ...int) bool {
	for _, a := range accepted {
		if code == a {
			return true
		}
	}
	return false
}

// Login performs USER/PASS per spec §4.3's accepted-code table: USER 230
// skips PASS; 331/332 expect a PASS exchange.
func (c *Conn) Login(user, password string) error {
	r, err := c.Cmd("USER", user)
	if err != nil {
		return afderr.New("USER", afderr.UserError, err)
	}
	switch {
	case r.Code == 230:
		return nil
	case oneOf(r.Code, 331, 332):
		r, err = c.Cmd("PASS", password)
		if err != nil {
			return afderr.New("PASS", afderr.PasswordError, err)
		}
		if !oneOf(r.Code, 202, 230, 332) {
			return afderr.FromReply("PASS", afderr.PasswordError, r.Code, nil)
		}
		return nil
	default:
		return afderr.FromReply("USER", afderr.UserError, r.Code, nil)
	}
}

// Type sets the transfer type ("I" for image/binary, "A" for ASCII).
func (c *Conn) Type(mode string) error {
	r, err := c.Cmd("TYPE", mode)
	if err != nil {
		return err
	}
	c.asciiMode = mode == "A"
	if r.Code != 200 {
		return afderr.FromReply("TYPE", afderr.TypeError, r.Code, nil)
	}
	return nil
}

// Cwd changes the remote working directory.
func (c *Conn) Cwd(dir string) error {
	r, err := c.Cmd("CWD", dir)
	if err != nil {
		return err
	}
	if !oneOf(r.Code, 200, 250) {
		return afderr.FromReply("CWD", afderr.ChdirError, r.Code, nil)
	}
	return nil
}

// Size issues SIZE and returns the numeric size, or ok=false if the
// server replied 500/502 ("unsupported", spec §4.3 table).
func (c *Conn) Size(name string) (size int64, ok bool, err error) {
	r, err := c.Cmd("SIZE", name)
	if err != nil {
		return 0, false, err
	}
	if oneOf(r.Code, 500, 502) {
		return 0, false, nil
	}
	if r.Code/100 != 2 {
		return 0, false, afderr.FromReply("SIZE", afderr.ReadRemoteError, r.Code, nil)
	}
	n, convErr := strconv.ParseInt(strings.TrimSpace(r.Message), 10, 64)
	if convErr != nil {
		return 0, false, afderr.New("SIZE", afderr.ReadRemoteError, convErr)
	}
	return n, true, nil
}

// Mdtm issues MDTM and returns the raw date string, or ok=false if
// unsupported.
func (c *Conn) Mdtm(name string) (date string, ok bool, err error) {
	r, err := c.Cmd("MDTM", name)
	if err != nil {
		return "", false, err
	}
	if oneOf(r.Code, 500, 502) {
		return "", false, nil
	}
	if r.Code/100 != 2 {
		return "", false, afderr.FromReply("MDTM", afderr.ReadRemoteError, r.Code, nil)
	}
	return strings.TrimSpace(r.Message), true, nil
}

// Dele deletes a remote file.
func (c *Conn) Dele(name string) error {
	r, err := c.Cmd("DELE", name)
	if err != nil {
		return err
	}
	if !oneOf(r.Code, 200, 250) {
		return afderr.FromReply("DELE", afderr.WriteRemoteError, r.Code, nil)
	}
	return nil
}

// Rename issues RNFR/RNTO.
func (c *Conn) Rename(from, to string) error {
	r, err := c.Cmd("RNFR", from)
	if err != nil {
		return err
	}
	if !oneOf(r.Code, 200, 350) {
		return afderr.FromReply("RNFR", afderr.MoveRemoteError, r.Code, nil)
	}
	r, err = c.Cmd("RNTO", to)
	if err != nil {
		return err
	}
	if !oneOf(r.Code, 200, 250) {
		return afderr.FromReply("RNTO", afderr.MoveRemoteError, r.Code, nil)
	}
	return nil
}

// Site issues a SITE subcommand; non-5xx is treated as success (spec
// §4.3 table: "implementation-defined; non-5xx is success").
func (c *Conn) Site(args string) error {
	r, err := c.Cmd("SITE", args)
	if err != nil {
		return err
	}
	if r.Code/100 == 5 {
		return afderr.FromReply("SITE", afderr.WriteRemoteError, r.Code, nil)
	}
	return nil
}

// Stat sends the keep-alive STAT command (spec §4.3 step 7).
func (c *Conn) Stat() error {
	_, err := c.Cmd("STAT", "")
	return err
}

// Quit sends QUIT. Per spec §5, callers must not call Quit after the
// session timeout flag is set or on EPIPE; the connection should simply
// be closed in those cases.
func (c *Conn) Quit() error {
	r, err := c.Cmd("QUIT", "")
	if err != nil {
		return err
	}
	if !oneOf(r.Code, 221, 421) {
		return afderr.FromReply("QUIT", afderr.CloseRemoteError, r.Code, nil)
	}
	return nil
}

// TimedOut reports whether any control-channel read has timed out.
func (c *Conn) TimedOut() bool { return c.timeoutFlag }

// Close closes the underlying TCP connection without sending QUIT.
func (c *Conn) Close() error { return c.conn.Close() }
