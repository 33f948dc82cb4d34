package ftpengine

import (
	"bufio"
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/afd-core/afd/internal/mjm"
)

func TestFormatPortCommand(t *testing.T) {
	s, err := formatPortCommand("192.168.1.10", 0x0102)
	require.NoError(t, err)
	assert.Equal(t, "192,168,1,10,1,2", s)
}

func TestParsePasvReply(t *testing.T) {
	host, port, err := parsePasvReply("227 Entering Passive Mode (127,0,0,1,200,15)")
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1", host)
	assert.Equal(t, 200*256+15, port)
}

func TestParsePasvReplyMalformed(t *testing.T) {
	_, _, err := parsePasvReply("227 nonsense")
	assert.Error(t, err)
}

func TestApplyLockPolicyDot(t *testing.T) {
	assert.Equal(t, ".file.txt", applyLockPolicy("file.txt", mjm.Options{Lock: mjm.LockDot}))
}

func TestApplyLockPolicyPostfix(t *testing.T) {
	o := mjm.Options{Lock: mjm.LockPostfix, LockPostfix: ".tmp"}
	assert.Equal(t, "file.txt.tmp", applyLockPolicy("file.txt", o))
}

func TestApplyLockPolicyNone(t *testing.T) {
	assert.Equal(t, "file.txt", applyLockPolicy("file.txt", mjm.Options{}))
}

func TestIsFileBusy(t *testing.T) {
	assert.True(t, isFileBusy(Reply{Code: 550, Message: "File busy, try again"}))
	assert.False(t, isFileBusy(Reply{Code: 550, Message: "No such file"}))
	assert.False(t, isFileBusy(Reply{Code: 226}))
}

func TestRestartListed(t *testing.T) {
	o := mjm.Options{RestartFile: []mjm.RestartEntry{{Name: "A", Date: 1}, {Name: "B"}}}
	assert.True(t, restartListed(o, "A"))
	assert.True(t, restartListed(o, "B"))
	assert.False(t, restartListed(o, "C"))
}

func TestBuildEumetsatHeader(t *testing.T) {
	h := mjm.EumetsatHeader{IPv4: [4]byte{10, 0, 0, 1}, DestEnvID: 7}
	buf := buildEumetsatHeader(h, 1024, time.Unix(1700000000, 0))
	require.Len(t, buf, 32)
	assert.Equal(t, []byte{10, 0, 0, 1}, buf[0:4])
	assert.Equal(t, byte(7), buf[4])
}

// fakeFTPServer runs a minimal control-channel server on loopback that
// scripts fixed replies on every connection it accepts, for exercising
// Conn.readReply/Cmd against a real net.Conn without depending on an
// external FTP server.
func fakeFTPServer(t *testing.T, banner string, script map[string]string) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func(conn net.Conn) {
				defer conn.Close()
				conn.Write([]byte(banner + "\r\n"))
				r := bufio.NewReader(conn)
				for {
					line, err := r.ReadString('\n')
					if err != nil {
						return
					}
					line = line[:len(line)-1]
					if n := len(line); n > 0 && line[n-1] == '\r' {
						line = line[:n-1]
					}
					verb := line
					if sp := indexByte(line, ' '); sp >= 0 {
						verb = line[:sp]
					}
					reply, ok := script[verb]
					if !ok {
						reply = "500 unknown command"
					}
					conn.Write([]byte(reply + "\r\n"))
				}
			}(conn)
		}
	}()
	return ln.Addr().String()
}

func indexByte(s string, b byte) int {
	for i := 0; i < len(s); i++ {
		if s[i] == b {
			return i
		}
	}
	return -1
}

func TestDialReadsBanner(t *testing.T) {
	addr := fakeFTPServer(t, "220 fake FTP ready", nil)
	c, err := Dial(context.Background(), addr, time.Second, nil)
	require.NoError(t, err)
	defer c.Close()
}

func TestLoginWithUserOnlySkipsPass(t *testing.T) {
	addr := fakeFTPServer(t, "220 ready", map[string]string{
		"USER": "230 logged in directly",
	})
	c, err := Dial(context.Background(), addr, time.Second, nil)
	require.NoError(t, err)
	defer c.Close()
	require.NoError(t, c.Login("anonymous", ""))
}

func TestLoginWithUserThenPass(t *testing.T) {
	addr := fakeFTPServer(t, "220 ready", map[string]string{
		"USER": "331 need password",
		"PASS": "230 logged in",
	})
	c, err := Dial(context.Background(), addr, time.Second, nil)
	require.NoError(t, err)
	defer c.Close()
	require.NoError(t, c.Login("u", "p"))
}

func TestSizeUnsupportedReturnsNotOK(t *testing.T) {
	addr := fakeFTPServer(t, "220 ready", map[string]string{
		"SIZE": "502 not supported",
	})
	c, err := Dial(context.Background(), addr, time.Second, nil)
	require.NoError(t, err)
	defer c.Close()
	_, ok, err := c.Size("foo")
	require.NoError(t, err)
	assert.False(t, ok)
}
