package ssa

import (
	"encoding/binary"
	"time"
)

// Fixed-width on-disk layout for one Host record. Strings are stored as a
// 2-byte length prefix plus a fixed-capacity byte buffer so the record size
// stays constant (a requirement of the flat mmap array model, spec §3/§9).
const (
	maxAliasLen    = maxHostAlias
	maxHostnameLen = 64
	maxProxyLen    = 32
	maxJobSlots    = 16 // upper bound on "allowed transfers" per host

	jobStatusSize = 1 /*connect status*/ + 2 + 64 /*file name*/ + 8 + 8 + 2 + 2 + 4 /*job id*/ + MaxMsgNameLength + 2 /*burst counter*/ + 1 /*error file*/

	hostRecordSize = 2 + maxAliasLen + // alias
		2 + maxHostnameLen + // real host 1
		2 + maxHostnameLen + // real host 2
		2 + // toggle position
		2 + maxProxyLen + // proxy name
		2 + 2 + 8 + 2 + 2 + 4 + // allowed, maxerrors, retry(ns as 8), blocksize, successfulretries, filesizeoffset(int32)
		8 + 2 + // timeout(ns), nobursts
		4 + 4 + // host status, special flag
		4 + 4 + 8 + 8 + 8 + 4 + // error_counter, total_file_counter, total_file_size, bytes_send, file_counter_done, connections
		2 + maxJobSlots*jobStatusSize // job count + jobs

	// bytesSendOffset is the byte offset of the host-level bytes_send
	// counter within one host record, tracking encodeHost's field order
	// up to (but not including) bytes_send itself.
	bytesSendOffset = 2 + maxAliasLen +
		2 + maxHostnameLen +
		2 + maxHostnameLen +
		2 +
		2 + maxProxyLen +
		2 + 2 + 8 + 2 + 2 + 4 +
		8 + 2 +
		4 + 4 +
		4 + 4 + 8 // error_counter, total_file_counter, total_file_size

	// jobsArrayOffset is the byte offset of the first job record within
	// one host record, tracking encodeHost's field order through
	// connections and job count.
	jobsArrayOffset = bytesSendOffset + 8 /*bytes_send*/ + 8 /*file_counter_done*/ + 4 /*connections*/ + 2 /*job count*/

	// jobDoneFieldOffset is the byte offset of file_size_in_use_done
	// within one job record, tracking encodeJob's field order.
	jobDoneFieldOffset = 1 /*connect status*/ + 2 + 64 /*file name*/ + 8 /*file_size_in_use*/
)

func putString(buf []byte, s string, cap int) {
	if len(s) > cap {
		s = s[:cap]
	}
	binary.LittleEndian.PutUint16(buf, uint16(len(s)))
	copy(buf[2:2+cap], s)
}

func getString(buf []byte, cap int) string {
	n := int(binary.LittleEndian.Uint16(buf))
	if n > cap {
		n = cap
	}
	return string(buf[2 : 2+n])
}

func encodeHost(buf []byte, h *Host) {
	off := 0
	putString(buf[off:], h.Alias, maxAliasLen)
	off += 2 + maxAliasLen
	putString(buf[off:], h.RealHostname1, maxHostnameLen)
	off += 2 + maxHostnameLen
	putString(buf[off:], h.RealHostname2, maxHostnameLen)
	off += 2 + maxHostnameLen
	binary.LittleEndian.PutUint16(buf[off:], uint16(h.TogglePosition))
	off += 2
	putString(buf[off:], h.ProxyName, maxProxyLen)
	off += 2 + maxProxyLen
	binary.LittleEndian.PutUint16(buf[off:], uint16(h.AllowedTransfers))
	off += 2
	binary.LittleEndian.PutUint16(buf[off:], uint16(h.MaxErrors))
	off += 2
	binary.LittleEndian.PutUint64(buf[off:], uint64(h.RetryInterval))
	off += 8
	binary.LittleEndian.PutUint16(buf[off:], uint16(h.TransferBlockSize))
	off += 2
	binary.LittleEndian.PutUint16(buf[off:], uint16(h.SuccessfulRetries))
	off += 2
	binary.LittleEndian.PutUint32(buf[off:], uint32(int32(h.FileSizeOffset)))
	off += 4
	binary.LittleEndian.PutUint64(buf[off:], uint64(h.TransferTimeout))
	off += 8
	binary.LittleEndian.PutUint16(buf[off:], uint16(h.NumberOfNoBursts))
	off += 2
	binary.LittleEndian.PutUint32(buf[off:], uint32(h.HostStatus))
	off += 4
	binary.LittleEndian.PutUint32(buf[off:], uint32(h.SpecialFlag))
	off += 4
	binary.LittleEndian.PutUint32(buf[off:], uint32(h.ErrorCounter))
	off += 4
	binary.LittleEndian.PutUint32(buf[off:], uint32(h.TotalFileCounter))
	off += 4
	binary.LittleEndian.PutUint64(buf[off:], uint64(h.TotalFileSize))
	off += 8
	binary.LittleEndian.PutUint64(buf[off:], uint64(h.BytesSend))
	off += 8
	binary.LittleEndian.PutUint64(buf[off:], uint64(h.FileCounterDone))
	off += 8
	binary.LittleEndian.PutUint32(buf[off:], uint32(h.Connections))
	off += 4
	binary.LittleEndian.PutUint16(buf[off:], uint16(len(h.Jobs)))
	off += 2
	for i := 0; i < maxJobSlots; i++ {
		jbuf := buf[off : off+jobStatusSize]
		if i < len(h.Jobs) {
			encodeJob(jbuf, &h.Jobs[i])
		}
		off += jobStatusSize
	}
}

func decodeHost(buf []byte) Host {
	var h Host
	off := 0
	h.Alias = getString(buf[off:], maxAliasLen)
	off += 2 + maxAliasLen
	h.RealHostname1 = getString(buf[off:], maxHostnameLen)
	off += 2 + maxHostnameLen
	h.RealHostname2 = getString(buf[off:], maxHostnameLen)
	off += 2 + maxHostnameLen
	h.TogglePosition = int(binary.LittleEndian.Uint16(buf[off:]))
	off += 2
	h.ProxyName = getString(buf[off:], maxProxyLen)
	off += 2 + maxProxyLen
	h.AllowedTransfers = int(binary.LittleEndian.Uint16(buf[off:]))
	off += 2
	h.MaxErrors = int(binary.LittleEndian.Uint16(buf[off:]))
	off += 2
	h.RetryInterval = timeDurationFrom(buf[off:])
	off += 8
	h.TransferBlockSize = int(binary.LittleEndian.Uint16(buf[off:]))
	off += 2
	h.SuccessfulRetries = int(binary.LittleEndian.Uint16(buf[off:]))
	off += 2
	h.FileSizeOffset = int(int32(binary.LittleEndian.Uint32(buf[off:])))
	off += 4
	h.TransferTimeout = timeDurationFrom(buf[off:])
	off += 8
	h.NumberOfNoBursts = int(binary.LittleEndian.Uint16(buf[off:]))
	off += 2
	h.HostStatus = HostStatusBit(binary.LittleEndian.Uint32(buf[off:]))
	off += 4
	h.SpecialFlag = SpecialFlagBit(binary.LittleEndian.Uint32(buf[off:]))
	off += 4
	h.ErrorCounter = int(binary.LittleEndian.Uint32(buf[off:]))
	off += 4
	h.TotalFileCounter = int(binary.LittleEndian.Uint32(buf[off:]))
	off += 4
	h.TotalFileSize = int64(binary.LittleEndian.Uint64(buf[off:]))
	off += 8
	h.BytesSend = int64(binary.LittleEndian.Uint64(buf[off:]))
	off += 8
	h.FileCounterDone = int64(binary.LittleEndian.Uint64(buf[off:]))
	off += 8
	h.Connections = int(int32(binary.LittleEndian.Uint32(buf[off:])))
	off += 4
	njobs := int(binary.LittleEndian.Uint16(buf[off:]))
	off += 2
	h.Jobs = make([]JobStatus, njobs)
	for i := 0; i < maxJobSlots; i++ {
		jbuf := buf[off : off+jobStatusSize]
		if i < njobs {
			h.Jobs[i] = decodeJob(jbuf)
		}
		off += jobStatusSize
	}
	return h
}

func encodeJob(buf []byte, j *JobStatus) {
	off := 0
	buf[off] = byte(j.ConnectStatus)
	off++
	putString(buf[off:], j.FileNameInUse, 64)
	off += 2 + 64
	binary.LittleEndian.PutUint64(buf[off:], uint64(j.FileSizeInUse))
	off += 8
	binary.LittleEndian.PutUint64(buf[off:], uint64(j.FileSizeInUseDone))
	off += 8
	binary.LittleEndian.PutUint16(buf[off:], uint16(j.NoOfFiles))
	off += 2
	binary.LittleEndian.PutUint16(buf[off:], uint16(j.NoOfFilesDone))
	off += 2
	binary.LittleEndian.PutUint32(buf[off:], j.JobID)
	off += 4
	copy(buf[off:off+MaxMsgNameLength], j.UniqueName[:])
	off += MaxMsgNameLength
	binary.LittleEndian.PutUint16(buf[off:], uint16(j.BurstCounter))
	off += 2
	if j.ErrorFile {
		buf[off] = 1
	} else {
		buf[off] = 0
	}
}

func decodeJob(buf []byte) JobStatus {
	var j JobStatus
	off := 0
	j.ConnectStatus = ConnectStatus(buf[off])
	off++
	j.FileNameInUse = getString(buf[off:], 64)
	off += 2 + 64
	j.FileSizeInUse = int64(binary.LittleEndian.Uint64(buf[off:]))
	off += 8
	j.FileSizeInUseDone = int64(binary.LittleEndian.Uint64(buf[off:]))
	off += 8
	j.NoOfFiles = int(binary.LittleEndian.Uint16(buf[off:]))
	off += 2
	j.NoOfFilesDone = int(binary.LittleEndian.Uint16(buf[off:]))
	off += 2
	j.JobID = binary.LittleEndian.Uint32(buf[off:])
	off += 4
	copy(j.UniqueName[:], buf[off:off+MaxMsgNameLength])
	off += MaxMsgNameLength
	j.BurstCounter = int(binary.LittleEndian.Uint16(buf[off:]))
	off += 2
	j.ErrorFile = buf[off] != 0
	return j
}

func timeDurationFrom(buf []byte) time.Duration {
	return time.Duration(binary.LittleEndian.Uint64(buf))
}
