package ftpengine

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/afd-core/afd/internal/afderr"
)

// MaxDataConnectRetries bounds retries of a 425 "Can't open data
// connection" reply in active mode (spec §4.3).
const MaxDataConnectRetries = 5

const dataConnectRetryBackoff = 10 * time.Millisecond

// OpenActive opens a listening socket bound to the control connection's
// local address, sends PORT, and returns a function that accepts the
// incoming data connection under a 2x transfer-timeout deadline (spec
// §4.3: "accept() under a 2x transfer-timeout alarm").
func (c *Conn) OpenActive(ctx context.Context, transferTimeout time.Duration) (accept func() (net.Conn, error), cleanup func(), err error) {
	localIP, _, splitErr := net.SplitHostPort(c.conn.LocalAddr().String())
	if splitErr != nil {
		return nil, nil, afderr.New("PORT", afderr.ConnectError, splitErr)
	}
	ln, err := net.Listen("tcp", net.JoinHostPort(localIP, "0"))
	if err != nil {
		return nil, nil, afderr.New("PORT", afderr.ConnectError, err)
	}

	_, portStr, _ := net.SplitHostPort(ln.Addr().String())
	port, _ := strconv.Atoi(portStr)
	portSpec, perr := formatPortCommand(localIP, port)
	if perr != nil {
		ln.Close()
		return nil, nil, afderr.New("PORT", afderr.ConnectError, perr)
	}

	r, err := c.Cmd("PORT", portSpec)
	if err != nil {
		ln.Close()
		return nil, nil, err
	}
	if r.Code != 200 {
		ln.Close()
		return nil, nil, afderr.FromReply("PORT", afderr.OpenRemoteError, r.Code, nil)
	}

	accept = func() (net.Conn, error) {
		deadline := time.Now().Add(2 * transferTimeout)
		if err := ln.(*net.TCPListener).SetDeadline(deadline); err != nil {
			return nil, afderr.New("accept", afderr.OpenRemoteError, err)
		}
		conn, err := ln.Accept()
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				c.timeoutFlag = true
				return nil, afderr.New("accept", afderr.TimeoutError, err)
			}
			return nil, afderr.New("accept", afderr.OpenRemoteError, err)
		}
		return conn, nil
	}
	cleanup = func() { ln.Close() }
	return accept, cleanup, nil
}

// formatPortCommand builds the "h1,h2,h3,h4,p1,p2" PORT argument.
func formatPortCommand(ip string, port int) (string, error) {
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return "", fmt.Errorf("ftpengine: invalid local address %q", ip)
	}
	v4 := parsed.To4()
	if v4 == nil {
		return "", fmt.Errorf("ftpengine: PORT requires an IPv4 local address, got %q", ip)
	}
	return fmt.Sprintf("%d,%d,%d,%d,%d,%d", v4[0], v4[1], v4[2], v4[3], port>>8, port&0xff), nil
}

// OpenPassive sends PASV, parses the six-tuple reply, and dials out to
// the server's data port (spec §4.3 passive-mode paragraph).
func (c *Conn) OpenPassive(ctx context.Context) (net.Conn, error) {
	r, err := c.Cmd("PASV", "")
	if err != nil {
		return nil, err
	}
	if r.Code != 227 {
		return nil, afderr.FromReply("PASV", afderr.OpenRemoteError, r.Code, nil)
	}
	host, port, err := parsePasvReply(r.Message)
	if err != nil {
		return nil, afderr.New("PASV", afderr.OpenRemoteError, err)
	}
	d := net.Dialer{}
	conn, err := d.DialContext(ctx, "tcp", net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		return nil, afderr.New("PASV", afderr.OpenRemoteError, err)
	}
	return conn, nil
}

// parsePasvReply extracts "h1,h2,h3,h4,p1,p2" from a 227 reply message,
// which typically reads like "Entering Passive Mode (h1,h2,h3,h4,p1,p2)".
func parsePasvReply(msg string) (host string, port int, err error) {
	open := strings.IndexByte(msg, '(')
	shut := strings.IndexByte(msg, ')')
	var nums string
	if open >= 0 && shut > open {
		nums = msg[open+1 : shut]
	} else {
		nums = msg
	}
	parts := strings.Split(strings.TrimSpace(nums), ",")
	if len(parts) != 6 {
		return "", 0, fmt.Errorf("ftpengine: malformed PASV reply %q", msg)
	}
	ints := make([]int, 6)
	for i, p := range parts {
		n, convErr := strconv.Atoi(strings.TrimSpace(p))
		if convErr != nil {
			return "", 0, fmt.Errorf("ftpengine: malformed PASV reply %q", msg)
		}
		ints[i] = n
	}
	host = fmt.Sprintf("%d.%d.%d.%d", ints[0], ints[1], ints[2], ints[3])
	port = ints[4]<<8 | ints[5]
	return host, port, nil
}
