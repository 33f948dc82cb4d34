// Package mjm implements the Message/Job Model (spec §3, §4.2): parsing
// and writing the per-job message file sf_<proto>/gf_<proto> read once at
// job start. Grounded on src/common/create_message.c (the writer side) and
// the destination/option grammar of spec §4.2.
package mjm

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/afd-core/afd/internal/recipient"
)

// MaxRuleHeaderLength bounds trans_rename's rule header (spec §4.2 table).
const MaxRuleHeaderLength = 40

// LockMode enumerates the recognized `lock` option values (spec §4.2).
type LockMode string

const (
	LockDot      LockMode = "DOT"
	LockDotVMS   LockMode = "DOT_VMS"
	LockFile     LockMode = "LOCKFILE"
	LockOff      LockMode = "OFF"
	LockPostfix  LockMode = "POSTFIX"
	LockReadyA   LockMode = "READY_A"
	LockReadyB   LockMode = "READY_B"
)

// RestartEntry is one `<name>|<date>` token of the `restart file` option.
type RestartEntry struct {
	Name string
	Date int64 // legacy entries without a date default to 0
}

// EumetsatHeader is the 5-byte header set by the `eumetsat header` option:
// a 4-byte local IPv4 address plus a 1-byte destination environment id.
type EumetsatHeader struct {
	IPv4      [4]byte
	DestEnvID byte
}

// Options holds every recognized identifier from the message's [options]
// section (spec §4.2 table). Each field's zero value means "not set"; the
// Seen set records which identifiers were recognized, so duplicates can be
// detected and unknown ones warned about without guessing intent.
type Options struct {
	Archive             int
	AgeLimit            int
	Lock                LockMode
	LockCustom          string // set when Lock is a custom notation, <= 40 chars
	LockPostfix         string
	TransRename         string
	Chmod               string
	Chown               string
	NoOutputLog         bool
	RestartFile         []RestartEntry
	FileNameIsHeader    bool
	Subject             string
	SubjectIsFile       bool
	ForceCopy           bool
	FileNameIsSubject   bool
	FileNameIsUser      bool
	EncodeANSI          bool
	CheckReply          bool
	WithSequenceNumber  bool
	AttachFile          bool
	AttachAllFiles      bool
	ReplyTo             string
	From                string
	Charset             string
	AddMailHeader       string
	FTPExec             string
	TransExec           string
	EumetsatHeader      EumetsatHeader
	HasEumetsatHeader   bool
	RenameFileBusy      byte
	HasRenameFileBusy   bool
	Passive             bool
	Active              bool

	Seen map[string]bool
}

// Message is one parsed job message (spec §3 "Message (MJM)").
type Message struct {
	Recipient recipient.Recipient
	Options   Options
}

const (
	destinationMarker = "[destination]"
	optionsMarker     = "[options]"
	growChunk         = 4096
)

// optionSpec describes one recognized identifier: how to match a line and
// how to apply its value into Options.
type optionSpec struct {
	identifier string
	boolean    bool // no argument expected
	apply      func(o *Options, arg string, log logrus.FieldLogger) error
}

var optionTable = buildOptionTable()

func buildOptionTable() []optionSpec {
	specs := []optionSpec{
		{"archive", false, func(o *Options, arg string, _ logrus.FieldLogger) error {
			n, err := strconv.Atoi(strings.TrimSpace(arg))
			if err != nil {
				return err
			}
			o.Archive = n
			return nil
		}},
		{"age-limit", false, func(o *Options, arg string, _ logrus.FieldLogger) error {
			n, err := strconv.Atoi(strings.TrimSpace(arg))
			if err != nil {
				return err
			}
			o.AgeLimit = n
			return nil
		}},
		{"lock postfix", false, func(o *Options, arg string, _ logrus.FieldLogger) error {
			o.LockPostfix = strings.TrimSpace(arg)
			return nil
		}},
		{"lock", false, func(o *Options, arg string, _ logrus.FieldLogger) error {
			v := strings.TrimSpace(arg)
			switch LockMode(v) {
			case LockDot, LockDotVMS, LockFile, LockOff, LockPostfix, LockReadyA, LockReadyB:
				o.Lock = LockMode(v)
			default:
				if len(v) > MaxRuleHeaderLength {
					return fmt.Errorf("lock notation %q exceeds %d characters", v, MaxRuleHeaderLength)
				}
				o.LockCustom = v
			}
			return nil
		}},
		{"trans_rename", false, func(o *Options, arg string, _ logrus.FieldLogger) error {
			v := strings.TrimSpace(arg)
			if len(v) > MaxRuleHeaderLength {
				return fmt.Errorf("trans_rename header %q exceeds %d characters", v, MaxRuleHeaderLength)
			}
			o.TransRename = v
			return nil
		}},
		{"chmod", false, func(o *Options, arg string, _ logrus.FieldLogger) error {
			o.Chmod = strings.TrimSpace(arg)
			return nil
		}},
		{"chown", false, func(o *Options, arg string, _ logrus.FieldLogger) error {
			o.Chown = strings.TrimSpace(arg)
			return nil
		}},
		{"no output log", true, func(o *Options, _ string, _ logrus.FieldLogger) error {
			o.NoOutputLog = true
			return nil
		}},
		{"restart file", false, func(o *Options, arg string, _ logrus.FieldLogger) error {
			for _, tok := range strings.Fields(arg) {
				name, date := tok, int64(0)
				if bar := strings.IndexByte(tok, '|'); bar >= 0 {
					name = tok[:bar]
					d, err := strconv.ParseInt(tok[bar+1:], 10, 64)
					if err == nil {
						date = d
					}
				}
				o.RestartFile = append(o.RestartFile, RestartEntry{Name: name, Date: date})
			}
			return nil
		}},
		{"file name is header", true, func(o *Options, _ string, _ logrus.FieldLogger) error {
			o.FileNameIsHeader = true
			return nil
		}},
		{"subject", false, func(o *Options, arg string, _ logrus.FieldLogger) error {
			v := strings.TrimSpace(arg)
			if strings.HasPrefix(v, "/") {
				o.SubjectIsFile = true
			}
			o.Subject = strings.Trim(v, `"`)
			return nil
		}},
		{"force copy", true, func(o *Options, _ string, _ logrus.FieldLogger) error { o.ForceCopy = true; return nil }},
		{"file name is subject", true, func(o *Options, _ string, _ logrus.FieldLogger) error {
			o.FileNameIsSubject = true
			return nil
		}},
		{"file name is user", true, func(o *Options, _ string, _ logrus.FieldLogger) error {
			o.FileNameIsUser = true
			return nil
		}},
		{"encode ansi", true, func(o *Options, _ string, _ logrus.FieldLogger) error { o.EncodeANSI = true; return nil }},
		{"check reply", true, func(o *Options, _ string, _ logrus.FieldLogger) error { o.CheckReply = true; return nil }},
		{"with sequence number", true, func(o *Options, _ string, _ logrus.FieldLogger) error {
			o.WithSequenceNumber = true
			return nil
		}},
		{"attach all files", true, func(o *Options, _ string, _ logrus.FieldLogger) error {
			o.AttachAllFiles = true
			return nil
		}},
		{"attach file", true, func(o *Options, _ string, _ logrus.FieldLogger) error { o.AttachFile = true; return nil }},
		{"reply-to", false, func(o *Options, arg string, _ logrus.FieldLogger) error {
			o.ReplyTo = strings.TrimSpace(arg)
			return nil
		}},
		{"from", false, func(o *Options, arg string, _ logrus.FieldLogger) error {
			o.From = strings.TrimSpace(arg)
			return nil
		}},
		{"charset", false, func(o *Options, arg string, _ logrus.FieldLogger) error {
			o.Charset = strings.TrimSpace(arg)
			return nil
		}},
		{"add mail header", false, func(o *Options, arg string, _ logrus.FieldLogger) error {
			o.AddMailHeader = strings.TrimSpace(arg)
			return nil
		}},
		{"ftp exec", false, func(o *Options, arg string, _ logrus.FieldLogger) error {
			o.FTPExec = strings.TrimSpace(arg)
			return nil
		}},
		{"trans exec", false, func(o *Options, arg string, _ logrus.FieldLogger) error {
			o.TransExec = strings.TrimSpace(arg)
			return nil
		}},
		{"eumetsat header", false, func(o *Options, arg string, _ logrus.FieldLogger) error {
			fields := strings.Fields(arg)
			if len(fields) != 2 {
				return fmt.Errorf("eumetsat header expects \"<ipv4> <dest-env-id>\", got %q", arg)
			}
			octets := strings.Split(fields[0], ".")
			if len(octets) != 4 {
				return fmt.Errorf("eumetsat header: invalid IPv4 %q", fields[0])
			}
			var h EumetsatHeader
			for i, o8 := range octets {
				n, err := strconv.Atoi(o8)
				if err != nil || n < 0 || n > 255 {
					return fmt.Errorf("eumetsat header: invalid IPv4 octet %q", o8)
				}
				h.IPv4[i] = byte(n)
			}
			envID, err := strconv.Atoi(fields[1])
			if err != nil || envID < 0 || envID > 255 {
				return fmt.Errorf("eumetsat header: dest-env-id %q out of range", fields[1])
			}
			h.DestEnvID = byte(envID)
			o.EumetsatHeader = h
			o.HasEumetsatHeader = true
			return nil
		}},
		{"rename file busy", false, func(o *Options, arg string, _ logrus.FieldLogger) error {
			v := strings.TrimSpace(arg)
			if len(v) != 1 {
				return fmt.Errorf("rename file busy expects exactly one character, got %q", v)
			}
			o.RenameFileBusy = v[0]
			o.HasRenameFileBusy = true
			return nil
		}},
		{"passive", true, func(o *Options, _ string, _ logrus.FieldLogger) error { o.Passive = true; return nil }},
		{"active", true, func(o *Options, _ string, _ logrus.FieldLogger) error { o.Active = true; return nil }},
	}
	// Longest identifier first, so "lock postfix" is tried before "lock"
	// and multi-word identifiers aren't shadowed by single-word prefixes.
	sort.Slice(specs, func(i, j int) bool { return len(specs[i].identifier) > len(specs[j].identifier) })
	return specs
}

// ReadFile reads r in growChunk-sized increments (spec §4.2: "read the
// entire message file into memory, growable in 4 KiB chunks") and parses it.
func ReadFile(r io.Reader, log logrus.FieldLogger) (*Message, error) {
	var buf bytes.Buffer
	chunk := make([]byte, growChunk)
	for {
		n, err := r.Read(chunk)
		if n > 0 {
			buf.Write(chunk[:n])
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("mjm: %w", err)
		}
	}
	return Parse(buf.Bytes(), log)
}

// Parse parses the contents of a message file (spec §4.2).
func Parse(data []byte, log logrus.FieldLogger) (*Message, error) {
	if log == nil {
		log = logrus.StandardLogger()
	}
	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, growChunk), 1<<20)

	var lines []string
	for sc.Scan() {
		lines = append(lines, sc.Text())
	}

	destIdx := indexOf(lines, destinationMarker)
	if destIdx < 0 || destIdx+1 >= len(lines) {
		return nil, fmt.Errorf("mjm: missing %s marker", destinationMarker)
	}
	rcpt, err := recipient.Parse(strings.TrimSpace(lines[destIdx+1]))
	if err != nil {
		return nil, fmt.Errorf("mjm: %w", err)
	}

	msg := &Message{Recipient: rcpt, Options: Options{Seen: map[string]bool{}}}

	optIdx := indexOf(lines, optionsMarker)
	if optIdx < 0 {
		return msg, nil
	}
	for _, line := range lines[optIdx+1:] {
		line = strings.TrimRight(line, " \t")
		if line == "" {
			continue
		}
		spec, arg, ok := matchOption(line)
		if !ok {
			log.Warnf("mjm: unrecognized option line %q", line)
			continue
		}
		if msg.Options.Seen[spec.identifier] {
			log.Warnf("mjm: duplicate option %q ignored", spec.identifier)
			continue
		}
		if err := spec.apply(&msg.Options, arg, log); err != nil {
			log.Warnf("mjm: malformed option %q: %v", line, err)
			continue
		}
		msg.Options.Seen[spec.identifier] = true
	}
	return msg, nil
}

func matchOption(line string) (optionSpec, string, bool) {
	for _, spec := range optionTable {
		if spec.boolean {
			if line == spec.identifier {
				return spec, "", true
			}
			continue
		}
		if line == spec.identifier {
			return spec, "", true
		}
		if strings.HasPrefix(line, spec.identifier+" ") {
			return spec, strings.TrimPrefix(line, spec.identifier+" "), true
		}
	}
	return optionSpec{}, "", false
}

func indexOf(lines []string, marker string) int {
	for i, l := range lines {
		if strings.TrimSpace(l) == marker {
			return i
		}
	}
	return -1
}

// Write serializes a Message back into message-file form. Writing then
// parsing a message must be the identity for every enumerated option
// (spec §8 round-trip invariant).
func Write(m *Message) []byte {
	var b bytes.Buffer
	fmt.Fprintf(&b, "%s\n%s\n", destinationMarker, m.Recipient.String())

	o := m.Options
	if len(o.Seen) == 0 {
		return b.Bytes()
	}
	fmt.Fprintf(&b, "%s\n", optionsMarker)
	if o.Seen["archive"] {
		fmt.Fprintf(&b, "archive %d\n", o.Archive)
	}
	if o.Seen["age-limit"] {
		fmt.Fprintf(&b, "age-limit %d\n", o.AgeLimit)
	}
	if o.Seen["lock"] {
		if o.LockCustom != "" {
			fmt.Fprintf(&b, "lock %s\n", o.LockCustom)
		} else {
			fmt.Fprintf(&b, "lock %s\n", o.Lock)
		}
	}
	if o.Seen["lock postfix"] {
		fmt.Fprintf(&b, "lock postfix %s\n", o.LockPostfix)
	}
	if o.Seen["trans_rename"] {
		fmt.Fprintf(&b, "trans_rename %s\n", o.TransRename)
	}
	if o.Seen["chmod"] {
		fmt.Fprintf(&b, "chmod %s\n", o.Chmod)
	}
	if o.Seen["chown"] {
		fmt.Fprintf(&b, "chown %s\n", o.Chown)
	}
	if o.Seen["no output log"] {
		fmt.Fprintf(&b, "no output log\n")
	}
	if o.Seen["restart file"] {
		b.WriteString("restart file ")
		for i, e := range o.RestartFile {
			if i > 0 {
				b.WriteString(" ")
			}
			fmt.Fprintf(&b, "%s|%d", e.Name, e.Date)
		}
		b.WriteString("\n")
	}
	if o.Seen["file name is header"] {
		fmt.Fprintf(&b, "file name is header\n")
	}
	if o.Seen["subject"] {
		fmt.Fprintf(&b, "subject %s\n", o.Subject)
	}
	if o.Seen["force copy"] {
		fmt.Fprintf(&b, "force copy\n")
	}
	if o.Seen["file name is subject"] {
		fmt.Fprintf(&b, "file name is subject\n")
	}
	if o.Seen["file name is user"] {
		fmt.Fprintf(&b, "file name is user\n")
	}
	if o.Seen["encode ansi"] {
		fmt.Fprintf(&b, "encode ansi\n")
	}
	if o.Seen["check reply"] {
		fmt.Fprintf(&b, "check reply\n")
	}
	if o.Seen["with sequence number"] {
		fmt.Fprintf(&b, "with sequence number\n")
	}
	if o.Seen["attach file"] {
		fmt.Fprintf(&b, "attach file\n")
	}
	if o.Seen["attach all files"] {
		fmt.Fprintf(&b, "attach all files\n")
	}
	if o.Seen["reply-to"] {
		fmt.Fprintf(&b, "reply-to %s\n", o.ReplyTo)
	}
	if o.Seen["from"] {
		fmt.Fprintf(&b, "from %s\n", o.From)
	}
	if o.Seen["charset"] {
		fmt.Fprintf(&b, "charset %s\n", o.Charset)
	}
	if o.Seen["add mail header"] {
		fmt.Fprintf(&b, "add mail header %s\n", o.AddMailHeader)
	}
	if o.Seen["ftp exec"] {
		fmt.Fprintf(&b, "ftp exec %s\n", o.FTPExec)
	}
	if o.Seen["trans exec"] {
		fmt.Fprintf(&b, "trans exec %s\n", o.TransExec)
	}
	if o.Seen["eumetsat header"] {
		h := o.EumetsatHeader
		fmt.Fprintf(&b, "eumetsat header %d.%d.%d.%d %d\n", h.IPv4[0], h.IPv4[1], h.IPv4[2], h.IPv4[3], h.DestEnvID)
	}
	if o.Seen["rename file busy"] {
		fmt.Fprintf(&b, "rename file busy %c\n", o.RenameFileBusy)
	}
	if o.Seen["passive"] {
		fmt.Fprintf(&b, "passive\n")
	}
	if o.Seen["active"] {
		fmt.Fprintf(&b, "active\n")
	}
	return b.Bytes()
}
