/*************************************************************************
 * Copyright 2026 The auoms Authors.
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package proctree

import (
	"encoding/binary"
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// Netlink-connector constants, from <linux/connector.h> and
// <linux/cn_proc.h>.
const (
	cnIdxProc = 0x1
	cnValProc = 0x1

	procCnMcastListen = 1
	procCnMcastIgnore = 2

	procEventFork = 0x00000001
	procEventExec = 0x00000002
	procEventExit = 0x80000000
)

type cbID struct {
	Idx uint32
	Val uint32
}

type cnMsg struct {
	ID    cbID
	Seq   uint32
	Ack   uint32
	Len   uint16
	Flags uint16
}

type procEventHeader struct {
	What      uint32
	CPU       uint32
	Timestamp uint64
}

type forkProcEvent struct {
	ParentPid  uint32
	ParentTgid uint32
	ChildPid   uint32
	ChildTgid  uint32
}

type execProcEvent struct {
	ProcessPid  uint32
	ProcessTgid uint32
}

type exitProcEvent struct {
	ProcessPid  uint32
	ProcessTgid uint32
	ExitCode    uint32
	ExitSignal  uint32
}

// NetlinkListener reads FORK/EXEC/EXIT deltas from the kernel's process
// connector and applies them to a Tree.
type NetlinkListener struct {
	tree *Tree
	fd   int
	addr *unix.SockaddrNetlink
	seq  uint32
	stop chan struct{}
	done chan struct{}
}

// NewNetlinkListener opens (but does not yet start reading from) the
// process-connector netlink socket.
func NewNetlinkListener(tree *Tree) (*NetlinkListener, error) {
	fd, err := unix.Socket(unix.AF_NETLINK, unix.SOCK_DGRAM, unix.NETLINK_CONNECTOR)
	if err != nil {
		return nil, fmt.Errorf("proctree: netlink socket: %w", err)
	}
	addr := &unix.SockaddrNetlink{Family: unix.AF_NETLINK, Groups: cnIdxProc}
	if err := unix.Bind(fd, addr); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("proctree: netlink bind: %w", err)
	}
	l := &NetlinkListener{tree: tree, fd: fd, addr: addr, stop: make(chan struct{}), done: make(chan struct{})}
	if err := l.send(procCnMcastListen); err != nil {
		unix.Close(fd)
		return nil, err
	}
	return l, nil
}

// Run reads events until Close is called. It is meant to run on its own
// goroutine.
func (l *NetlinkListener) Run() error {
	defer close(l.done)
	buf := make([]byte, os.Getpagesize())
	for {
		select {
		case <-l.stop:
			return nil
		default:
		}
		n, _, err := unix.Recvfrom(l.fd, buf, 0)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			return fmt.Errorf("proctree: netlink recv: %w", err)
		}
		if n < unix.NLMSG_HDRLEN {
			continue
		}
		msgs, err := unix.ParseNetlinkMessage(buf[:n])
		if err != nil {
			continue
		}
		for _, m := range msgs {
			l.handle(m.Data)
		}
	}
}

// Close stops the listener's read loop and tells the kernel to stop
// multicasting process events to this socket.
func (l *NetlinkListener) Close() error {
	close(l.stop)
	l.send(procCnMcastIgnore)
	err := unix.Close(l.fd)
	<-l.done
	return err
}

func (l *NetlinkListener) handle(data []byte) {
	// data is a 20-byte cn_msg header (the layout send writes) followed
	// by the proc_event.
	if len(data) < 20+16 {
		return
	}
	data = data[20:]
	hdr := procEventHeader{
		What:      binary.LittleEndian.Uint32(data[0:4]),
		CPU:       binary.LittleEndian.Uint32(data[4:8]),
		Timestamp: binary.LittleEndian.Uint64(data[8:16]),
	}
	body := data[16:]

	switch hdr.What {
	case procEventFork:
		if len(body) < 16 {
			return
		}
		e := forkProcEvent{
			ParentPid:  binary.LittleEndian.Uint32(body[0:4]),
			ParentTgid: binary.LittleEndian.Uint32(body[4:8]),
			ChildPid:   binary.LittleEndian.Uint32(body[8:12]),
			ChildTgid:  binary.LittleEndian.Uint32(body[12:16]),
		}
		l.tree.Fork(int32(e.ChildTgid), int32(e.ParentTgid))
	case procEventExec:
		if len(body) < 8 {
			return
		}
		e := execProcEvent{
			ProcessPid:  binary.LittleEndian.Uint32(body[0:4]),
			ProcessTgid: binary.LittleEndian.Uint32(body[4:8]),
		}
		l.tree.PnotifyExec(int32(e.ProcessTgid))
	case procEventExit:
		if len(body) < 16 {
			return
		}
		e := exitProcEvent{
			ProcessPid:  binary.LittleEndian.Uint32(body[0:4]),
			ProcessTgid: binary.LittleEndian.Uint32(body[4:8]),
		}
		l.tree.Exit(int32(e.ProcessTgid))
	}
}

func (l *NetlinkListener) send(op uint32) error {
	l.seq++
	msg := cnMsg{
		ID:  cbID{Idx: cnIdxProc, Val: cnValProc},
		Seq: l.seq,
		Len: 4,
	}
	payload := make([]byte, 0, unix.SizeofNlMsghdr+20+4)

	nlHdr := unix.NlMsghdr{
		Len:   uint32(unix.SizeofNlMsghdr + 20 + 4),
		Type:  unix.NLMSG_DONE,
		Flags: 0,
		Seq:   l.seq,
		Pid:   uint32(os.Getpid()),
	}
	payload = appendUint32(payload, nlHdr.Len)
	payload = appendUint16(payload, nlHdr.Type)
	payload = appendUint16(payload, nlHdr.Flags)
	payload = appendUint32(payload, nlHdr.Seq)
	payload = appendUint32(payload, nlHdr.Pid)

	payload = appendUint32(payload, msg.ID.Idx)
	payload = appendUint32(payload, msg.ID.Val)
	payload = appendUint32(payload, msg.Seq)
	payload = appendUint32(payload, msg.Ack)
	payload = appendUint16(payload, msg.Len)
	payload = appendUint16(payload, msg.Flags)

	payload = appendUint32(payload, op)

	return unix.Sendto(l.fd, payload, 0, l.addr)
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
