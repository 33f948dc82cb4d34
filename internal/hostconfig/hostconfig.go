// Package hostconfig reads the HOST_CONFIG text file (spec §6): one host
// per non-comment line, 15 colon-separated fields. Grounded on
// common/eval_host_config.c, including its documented field order and
// defaults for omitted trailing fields.
package hostconfig

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/afd-core/afd/internal/ssa"
)

// Defaults mirror eval_host_config.c's DEFAULT_* constants for fields
// omitted or left blank in a HOST_CONFIG line.
const (
	DefaultAllowedTransfers  = 1
	DefaultMaxErrors         = 10
	DefaultRetryInterval     = 30
	DefaultTransferBlocksize = 4096
	DefaultSuccessfulRetries = 0
	DefaultFileSizeOffset    = -1 // FileSizeOffsetUnsupported
	DefaultTransferTimeout   = 120
	DefaultNumberOfNoBursts  = 0
)

// Entry is one parsed HOST_CONFIG line (the 15-field record, spec §6).
type Entry struct {
	HostAlias         string
	RealHostname1     string
	RealHostname2     string
	HostToggle        string
	ProxyName         string
	AllowedTransfers  int
	MaxErrors         int
	RetryInterval     int
	TransferBlocksize int
	SuccessfulRetries int
	FileSizeOffset    int
	TransferTimeout   int
	NumberOfNoBursts  int
	HostStatus        uint32
	SpecialFlag       uint32
}

// ParseFile reads path and returns one Entry per non-comment, non-blank
// line. A '#' in column one marks a comment line, matching the original
// reader's convention.
func ParseFile(path string) ([]Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("hostconfig: %w", err)
	}
	defer f.Close()

	var entries []Entry
	sc := bufio.NewScanner(f)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := sc.Text()
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		e, err := parseLine(line)
		if err != nil {
			return nil, fmt.Errorf("hostconfig: line %d: %w", lineNo, err)
		}
		entries = append(entries, e)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("hostconfig: %w", err)
	}
	return entries, nil
}

// parseLine implements the 15-field grammar of spec §6:
// alias:realhost1:realhost2:toggle:proxy:allowed_transfers:max_errors:
// retry_interval:transfer_blocksize:successful_retries:file_size_offset:
// transfer_timeout:number_of_no_bursts:host_status:special_flag
func parseLine(line string) (Entry, error) {
	fields := strings.Split(line, ":")
	if len(fields) > 15 {
		return Entry{}, fmt.Errorf("too many fields (%d), expected at most 15", len(fields))
	}
	get := func(i int) string {
		if i < len(fields) {
			return fields[i]
		}
		return ""
	}
	e := Entry{
		HostAlias:         get(0),
		RealHostname1:     get(1),
		RealHostname2:     get(2),
		HostToggle:        get(3),
		ProxyName:         get(4),
		AllowedTransfers:  DefaultAllowedTransfers,
		MaxErrors:         DefaultMaxErrors,
		RetryInterval:     DefaultRetryInterval,
		TransferBlocksize: DefaultTransferBlocksize,
		SuccessfulRetries: DefaultSuccessfulRetries,
		FileSizeOffset:    DefaultFileSizeOffset,
		TransferTimeout:   DefaultTransferTimeout,
		NumberOfNoBursts:  DefaultNumberOfNoBursts,
	}
	if e.HostAlias == "" {
		return Entry{}, fmt.Errorf("missing host alias")
	}
	if len(e.HostAlias) > 8 {
		return Entry{}, fmt.Errorf("host alias %q exceeds 8 characters", e.HostAlias)
	}

	var parseErr error
	atoiField := func(i int, dflt int) int {
		s := get(i)
		if s == "" {
			return dflt
		}
		for k := 0; k < len(s); k++ {
			if s[k] >= '0' && s[k] <= '9' {
				continue
			}
			if k == 0 && s[k] == '-' && i == 10 {
				continue
			}
			parseErr = fmt.Errorf("field %d (%q) is not numeric", i, s)
			return dflt
		}
		n, err := strconv.Atoi(s)
		if err != nil {
			parseErr = fmt.Errorf("field %d (%q) is not numeric", i, s)
			return dflt
		}
		return n
	}

	if s := get(5); s != "" {
		e.AllowedTransfers = atoiField(5, DefaultAllowedTransfers)
	}
	if s := get(6); s != "" {
		e.MaxErrors = atoiField(6, DefaultMaxErrors)
	}
	if s := get(7); s != "" {
		e.RetryInterval = atoiField(7, DefaultRetryInterval)
	}
	if s := get(8); s != "" {
		e.TransferBlocksize = atoiField(8, DefaultTransferBlocksize)
	}
	if s := get(9); s != "" {
		e.SuccessfulRetries = atoiField(9, DefaultSuccessfulRetries)
	}
	if s := get(10); s != "" {
		// file size offset also accepts a leading '-' (spec §6).
		e.FileSizeOffset = atoiField(10, DefaultFileSizeOffset)
	}
	if s := get(11); s != "" {
		e.TransferTimeout = atoiField(11, DefaultTransferTimeout)
	}
	if s := get(12); s != "" {
		e.NumberOfNoBursts = atoiField(12, DefaultNumberOfNoBursts)
	}
	if s := get(13); s != "" {
		e.HostStatus = uint32(atoiField(13, 0))
	}
	if s := get(14); s != "" {
		e.SpecialFlag = uint32(atoiField(14, 0))
	}
	if parseErr != nil {
		return Entry{}, parseErr
	}

	if e.NumberOfNoBursts > e.AllowedTransfers {
		return Entry{}, fmt.Errorf("number_of_no_bursts (%d) exceeds allowed_transfers (%d)", e.NumberOfNoBursts, e.AllowedTransfers)
	}
	return e, nil
}

// ToSSAHost converts a parsed HOST_CONFIG entry into the ssa.Host record
// used to bootstrap the Shared Status Area.
func ToSSAHost(e Entry) ssa.Host {
	return ssa.Host{
		Alias:             e.HostAlias,
		RealHostname1:     e.RealHostname1,
		RealHostname2:     e.RealHostname2,
		ProxyName:         e.ProxyName,
		AllowedTransfers:  e.AllowedTransfers,
		MaxErrors:         e.MaxErrors,
		RetryInterval:     time.Duration(e.RetryInterval) * time.Second,
		TransferBlockSize: e.TransferBlocksize,
		SuccessfulRetries: e.SuccessfulRetries,
		FileSizeOffset:    e.FileSizeOffset,
		TransferTimeout:   time.Duration(e.TransferTimeout) * time.Second,
		NumberOfNoBursts:  e.NumberOfNoBursts,
		HostStatus:        ssa.HostStatusBit(e.HostStatus),
		SpecialFlag:       ssa.SpecialFlagBit(e.SpecialFlag),
	}
}
