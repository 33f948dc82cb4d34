package mjm

import (
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(nullWriter{})
	return l
}

type nullWriter struct{}

func (nullWriter) Write(p []byte) (int, error) { return len(p), nil }

func TestParseSeedScenarioMessage(t *testing.T) {
	data := "[destination]\nftp://u:p@srv/out/\n"
	msg, err := Parse([]byte(data), discardLogger())
	require.NoError(t, err)
	assert.Equal(t, "ftp", msg.Recipient.Scheme)
	assert.Equal(t, "u", msg.Recipient.User)
	assert.Equal(t, "p", msg.Recipient.Password)
	assert.Equal(t, "srv", msg.Recipient.Host)
	assert.Equal(t, "out/", msg.Recipient.Path)
}

func TestParseMissingDestinationIsFatal(t *testing.T) {
	_, err := Parse([]byte("[options]\narchive 5\n"), discardLogger())
	assert.Error(t, err)
}

func TestParseUnknownOptionWarnsAndSkips(t *testing.T) {
	data := "[destination]\nftp://u:p@srv/out/\n[options]\nnosuchoption foo\narchive 3\n"
	msg, err := Parse([]byte(data), discardLogger())
	require.NoError(t, err)
	assert.Equal(t, 3, msg.Options.Archive)
}

func TestParseDuplicateOptionIgnoresSecond(t *testing.T) {
	data := "[destination]\nftp://u:p@srv/out/\n[options]\narchive 3\narchive 9\n"
	msg, err := Parse([]byte(data), discardLogger())
	require.NoError(t, err)
	assert.Equal(t, 3, msg.Options.Archive)
}

func TestParseLockPostfixNotShadowedByLock(t *testing.T) {
	data := "[destination]\nftp://u:p@srv/out/\n[options]\nlock postfix .tmp\n"
	msg, err := Parse([]byte(data), discardLogger())
	require.NoError(t, err)
	assert.Equal(t, ".tmp", msg.Options.LockPostfix)
	assert.False(t, msg.Options.Seen["lock"])
}

func buildFullOptions() *Message {
	rcpt := "ftp://u:p@srv:21/out/file"
	msg, err := Parse([]byte("[destination]\n"+rcpt+"\n"), discardLogger())
	if err != nil {
		panic(err)
	}
	o := &msg.Options
	o.Seen = map[string]bool{}
	apply := func(id string, fn func()) { fn(); o.Seen[id] = true }

	apply("archive", func() { o.Archive = 5 })
	apply("age-limit", func() { o.AgeLimit = 3600 })
	apply("lock", func() { o.Lock = LockDot })
	apply("lock postfix", func() { o.LockPostfix = ".tmp" })
	apply("trans_rename", func() { o.TransRename = "rule1" })
	apply("chmod", func() { o.Chmod = "644" })
	apply("chown", func() { o.Chown = "1000:1000" })
	apply("no output log", func() {})
	apply("restart file", func() { o.RestartFile = []RestartEntry{{Name: "A", Date: 12345}, {Name: "B", Date: 0}} })
	apply("file name is header", func() {})
	apply("subject", func() { o.Subject = "hello" })
	apply("force copy", func() {})
	apply("file name is subject", func() {})
	apply("file name is user", func() {})
	apply("encode ansi", func() {})
	apply("check reply", func() {})
	apply("with sequence number", func() {})
	apply("attach file", func() {})
	apply("attach all files", func() {})
	apply("reply-to", func() { o.ReplyTo = "a@b.com" })
	apply("from", func() { o.From = "c@d.com" })
	apply("charset", func() { o.Charset = "utf-8" })
	apply("add mail header", func() { o.AddMailHeader = "X-Foo: bar" })
	apply("ftp exec", func() { o.FTPExec = "echo hi" })
	apply("trans exec", func() { o.TransExec = "echo bye" })
	apply("eumetsat header", func() {
		o.EumetsatHeader = EumetsatHeader{IPv4: [4]byte{10, 0, 0, 1}, DestEnvID: 7}
	})
	apply("rename file busy", func() { o.RenameFileBusy = 'x' })
	apply("passive", func() {})

	return msg
}

func TestWriteThenParseRoundTrip(t *testing.T) {
	original := buildFullOptions()
	serialized := Write(original)

	reparsed, err := Parse(serialized, discardLogger())
	require.NoError(t, err)

	assert.Equal(t, original.Recipient, reparsed.Recipient)

	for id := range original.Options.Seen {
		assert.True(t, reparsed.Options.Seen[id], "option %q must round-trip", id)
	}
	assert.Equal(t, original.Options.Archive, reparsed.Options.Archive)
	assert.Equal(t, original.Options.AgeLimit, reparsed.Options.AgeLimit)
	assert.Equal(t, original.Options.Lock, reparsed.Options.Lock)
	assert.Equal(t, original.Options.LockPostfix, reparsed.Options.LockPostfix)
	assert.Equal(t, original.Options.TransRename, reparsed.Options.TransRename)
	assert.Equal(t, original.Options.RestartFile, reparsed.Options.RestartFile)
	assert.Equal(t, original.Options.EumetsatHeader, reparsed.Options.EumetsatHeader)
	assert.Equal(t, original.Options.RenameFileBusy, reparsed.Options.RenameFileBusy)
}
