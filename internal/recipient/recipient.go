// Package recipient parses the destination URL carried by a job message
// (spec §4.2, §9): <scheme>://<user>[:<password>]@<host>[:<port>]/<path>.
// Replaces the original's hand-rolled pointer-walking parser with a
// dedicated, typed one, per the re-architecture guidance in spec §9.
package recipient

import (
	"fmt"
	"strconv"
	"strings"
)

// Recipient is the structured result of parsing a destination URL.
type Recipient struct {
	Scheme         string
	User           string
	Password       string
	HasPassword    bool
	Host           string
	Port           int
	HasPort        bool
	Path           string
	PathIsAbsolute bool
}

// Parse parses raw as "<scheme>://<user>[:<password>]@<host>[:<port>]/<path>".
// A leading "//" in the path (i.e. the URL reads ".../<host>//<path>") is the
// sentinel distinguishing an absolute path from one relative to the user's
// home directory, per spec §4.2's LOC-scheme rule.
func Parse(raw string) (Recipient, error) {
	var r Recipient

	schemeSep := strings.Index(raw, "://")
	if schemeSep < 0 {
		return r, fmt.Errorf("recipient: missing \"://\" in %q", raw)
	}
	r.Scheme = raw[:schemeSep]
	if r.Scheme == "" {
		return r, fmt.Errorf("recipient: empty scheme in %q", raw)
	}
	rest := raw[schemeSep+3:]

	at := strings.LastIndex(rest, "@")
	if at < 0 {
		return r, fmt.Errorf("recipient: missing \"@\" in %q", raw)
	}
	userinfo := rest[:at]
	hostpart := rest[at+1:]

	if colon := strings.Index(userinfo, ":"); colon >= 0 {
		r.User = userinfo[:colon]
		r.Password = userinfo[colon+1:]
		r.HasPassword = true
	} else {
		r.User = userinfo
	}
	if r.User == "" {
		return r, fmt.Errorf("recipient: empty user in %q", raw)
	}

	slash := strings.Index(hostpart, "/")
	var hostport, path string
	if slash < 0 {
		hostport = hostpart
		path = ""
	} else {
		hostport = hostpart[:slash]
		path = hostpart[slash+1:]
	}
	if hostport == "" {
		return r, fmt.Errorf("recipient: empty host in %q", raw)
	}

	if colon := strings.Index(hostport, ":"); colon >= 0 {
		r.Host = hostport[:colon]
		portStr := hostport[colon+1:]
		port, err := strconv.Atoi(portStr)
		if err != nil || port <= 0 || port > 65535 {
			return r, fmt.Errorf("recipient: invalid port %q in %q", portStr, raw)
		}
		r.Port = port
		r.HasPort = true
	} else {
		r.Host = hostport
	}

	// The slash already consumed by strings.Index above is the separator
	// between host and path; a further leading '/' in what remains marks
	// an explicitly absolute path (spec §4.2's "//" sentinel for LOC).
	if strings.HasPrefix(path, "/") {
		r.PathIsAbsolute = true
		path = strings.TrimPrefix(path, "/")
	}
	r.Path = path

	return r, nil
}

// String reconstructs the canonical URL form, mainly for logging.
func (r Recipient) String() string {
	var b strings.Builder
	b.WriteString(r.Scheme)
	b.WriteString("://")
	b.WriteString(r.User)
	if r.HasPassword {
		b.WriteString(":")
		b.WriteString(r.Password)
	}
	b.WriteString("@")
	b.WriteString(r.Host)
	if r.HasPort {
		b.WriteString(":")
		b.WriteString(strconv.Itoa(r.Port))
	}
	b.WriteString("/")
	if r.PathIsAbsolute {
		b.WriteString("/")
	}
	b.WriteString(r.Path)
	return b.String()
}
