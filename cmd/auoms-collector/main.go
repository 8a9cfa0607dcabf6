/*************************************************************************
 * Copyright 2026 The auoms Authors.
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

// Command auoms-collector is the privilege-separated helper that owns
// the kernel's NETLINK_AUDIT socket when the daemon is running in
// RunModeNetlink (see internal/supervisor.DetermineRunMode). It
// registers itself as the audit collector, then streams every record
// the kernel hands it to stdout, one per line, for the parent auoms
// process to read over a pipe and feed into internal/auditparse. It is
// started, restarted, and killed by internal/supervisor.CollectorMonitor
// and never runs standalone in production.
package main

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sys/unix"
)

// Netlink audit constants from <linux/audit.h>; golang.org/x/sys/unix
// does not expose the audit-specific message types and struct layout,
// only the generic netlink socket primitives, so they're declared here
// the same way internal/proctree declares the process-connector ones it
// needs that aren't in the unix package either.
const (
	netlinkAudit = 9 // unix.NETLINK_AUDIT

	auditGet = 1000
	auditSet = 1001

	auditFirstUserMsg = 1100
	auditLastUserMsg2 = 2999 // generous upper bound covering all record types we forward
)

// auditStatus mirrors struct audit_status; only the fields the collector
// needs to set (enabled, pid) are populated, the rest left zero.
type auditStatus struct {
	Mask         uint32
	Enabled      uint32
	Failure      uint32
	PID          uint32
	RateLimit    uint32
	BacklogLimit uint32
	Lost         uint32
	Backlog      uint32
}

const (
	auditStatusEnabled = 0x0001
	auditStatusPID     = 0x0004
)

func main() {
	fd, err := unix.Socket(unix.AF_NETLINK, unix.SOCK_RAW, netlinkAudit)
	if err != nil {
		fmt.Fprintf(os.Stderr, "auoms-collector: socket: %v\n", err)
		os.Exit(1)
	}
	defer unix.Close(fd)

	addr := &unix.SockaddrNetlink{Family: unix.AF_NETLINK}
	if err := unix.Bind(fd, addr); err != nil {
		fmt.Fprintf(os.Stderr, "auoms-collector: bind: %v\n", err)
		os.Exit(1)
	}

	if err := setStatus(fd, addr, auditStatus{
		Mask:    auditStatusEnabled | auditStatusPID,
		Enabled: 1,
		PID:     uint32(os.Getpid()),
	}); err != nil {
		fmt.Fprintf(os.Stderr, "auoms-collector: registering as collector: %v\n", err)
		os.Exit(1)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		setStatus(fd, addr, auditStatus{Mask: auditStatusPID, PID: 0})
		unix.Close(fd)
		os.Exit(0)
	}()

	out := bufio.NewWriter(os.Stdout)
	defer out.Flush()

	buf := make([]byte, os.Getpagesize()*4)
	for {
		n, _, err := unix.Recvfrom(fd, buf, 0)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			fmt.Fprintf(os.Stderr, "auoms-collector: recv: %v\n", err)
			return
		}
		msgs, err := unix.ParseNetlinkMessage(buf[:n])
		if err != nil {
			continue
		}
		for _, m := range msgs {
			if int(m.Header.Type) < auditFirstUserMsg || int(m.Header.Type) > auditLastUserMsg2 {
				continue
			}
			line := trimNulAndSpace(m.Data)
			if len(line) == 0 {
				continue
			}
			out.Write(line)
			out.WriteByte('\n')
		}
		out.Flush()
	}
}

func trimNulAndSpace(b []byte) []byte {
	for len(b) > 0 && (b[len(b)-1] == 0 || b[len(b)-1] == '\n') {
		b = b[:len(b)-1]
	}
	return b
}

// setStatus sends an AUDIT_SET request carrying st; the kernel applies
// whichever fields st.Mask names.
func setStatus(fd int, addr *unix.SockaddrNetlink, st auditStatus) error {
	body := make([]byte, 0, 32)
	body = appendUint32(body, st.Mask)
	body = appendUint32(body, st.Enabled)
	body = appendUint32(body, st.Failure)
	body = appendUint32(body, st.PID)
	body = appendUint32(body, st.RateLimit)
	body = appendUint32(body, st.BacklogLimit)
	body = appendUint32(body, st.Lost)
	body = appendUint32(body, st.Backlog)

	hdrLen := unix.NLMSG_HDRLEN + len(body)
	payload := make([]byte, 0, hdrLen)
	payload = appendUint32(payload, uint32(hdrLen))
	payload = appendUint16(payload, auditSet)
	payload = appendUint16(payload, unix.NLM_F_REQUEST|unix.NLM_F_ACK)
	payload = appendUint32(payload, 1) // seq
	payload = appendUint32(payload, uint32(os.Getpid()))
	payload = append(payload, body...)

	return unix.Sendto(fd, payload, 0, addr)
}

func appendUint32(b []byte, v uint32) []byte {
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], v)
	return append(b, tmp[:]...)
}

func appendUint16(b []byte, v uint16) []byte {
	var tmp [2]byte
	binary.LittleEndian.PutUint16(tmp[:], v)
	return append(b, tmp[:]...)
}
