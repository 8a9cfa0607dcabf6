/*************************************************************************
 * Copyright 2026 The auoms Authors.
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

// Package proctree maintains a live pid -> process map fused from a
// netlink process-connector stream and execve audit records, and
// computes the per-process filter bitset that the output path consults.
// It does not scan /proc: a process that started before the listener
// and has not been seen since is absent from the map.
package proctree

import (
	"time"

	"github.com/auoms/auoms/internal/filter"
)

// Source records which channel most recently supplied a process's
// authoritative fields.
type Source uint8

const (
	SourcePnotify Source = iota
	SourceExecve
	SourceProcfs
)

func (s Source) String() string {
	switch s {
	case SourceExecve:
		return "execve"
	case SourceProcfs:
		return "procfs"
	default:
		return "pnotify"
	}
}

// Ancestor is a point-in-time snapshot, not a live reference: recorded
// once when the link is formed and never mutated afterward, so
// reparenting a descendant never invalidates an ancestor list already
// handed to a reader.
type Ancestor struct {
	Pid int32
	Exe string
}

// Item is one process tree entry. Exported fields are safe to read only
// while holding the tree's per-item lock (see Tree.Snapshot); direct
// field access from outside the package is for package-internal use
// only.
type Item struct {
	Pid, Ppid       int32
	Uid, Gid        int32
	Exe, Cmdline    string
	ContainerID     string
	Ancestors       []Ancestor
	Children        []int32
	Flags           filter.Bitset
	Source          Source
	ExecPropagation uint32
	Exited          bool
	ExitTime        time.Time
}

// Snapshot is the read-only copy Tree.Snapshot hands to callers; it is
// never mutated after creation, so it needs no lock.
type Snapshot struct {
	Pid, Ppid    int32
	Uid, Gid     int32
	Exe, Cmdline string
	ContainerID  string
	Ancestors    []Ancestor
	Children     []int32
	Flags        filter.Bitset
	Source       Source
	Exited       bool
	ExitTime     time.Time
}

func (it *Item) snapshot() Snapshot {
	return Snapshot{
		Pid:         it.Pid,
		Ppid:        it.Ppid,
		Uid:         it.Uid,
		Gid:         it.Gid,
		Exe:         it.Exe,
		Cmdline:     it.Cmdline,
		ContainerID: it.ContainerID,
		Ancestors:   append([]Ancestor(nil), it.Ancestors...),
		Children:    append([]int32(nil), it.Children...),
		Flags:       it.Flags,
		Source:      it.Source,
		Exited:      it.Exited,
		ExitTime:    it.ExitTime,
	}
}

func (it *Item) matchInput() filter.MatchInput {
	return filter.MatchInput{Exe: it.Exe, Cmdline: it.Cmdline}
}
