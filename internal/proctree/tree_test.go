/*************************************************************************
 * Copyright 2026 The auoms Authors.
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package proctree

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/auoms/auoms/internal/filter"
)

func newTestTree(t *testing.T) *Tree {
	t.Helper()
	tr := New(filter.NewEngine(), nil, 5*time.Minute)
	tr.Start()
	t.Cleanup(tr.Stop)
	return tr
}

func TestForkThenExecveReparentsAndUpdatesChildren(t *testing.T) {
	tr := newTestTree(t)

	tr.Fork(100, 1)  // original parent pid 1
	tr.Fork(200, 100) // child of 100
	tr.Sync()

	snap, ok := tr.Snapshot(100)
	require.True(t, ok)
	require.Contains(t, snap.Children, int32(200))

	// execve reparents 200 under 300 instead of 100
	tr.Execve(200, 300, 0, 0, "/bin/bash", "/bin/bash")
	tr.Sync()

	child, ok := tr.Snapshot(200)
	require.True(t, ok)
	require.Equal(t, int32(300), child.Ppid)

	oldParent, ok := tr.Snapshot(100)
	require.True(t, ok)
	require.NotContains(t, oldParent.Children, int32(200))
}

func TestApplyFlagsMatchesAncestor(t *testing.T) {
	eng := filter.NewEngine()
	_, err := eng.AddFilterList([]filter.ProcFilterSpec{{ExePattern: "^/usr/bin/sshd$", Depth: 2, SyscallSet: []string{"execve"}}}, "out1")
	require.NoError(t, err)

	tr := New(eng, nil, 5*time.Minute)
	tr.Start()
	t.Cleanup(tr.Stop)

	tr.Execve(1, 0, 0, 0, "/usr/bin/sshd", "/usr/bin/sshd")
	tr.Sync()
	tr.Fork(2, 1)
	tr.Sync()
	tr.Execve(2, 1, 0, 0, "/bin/bash", "/bin/bash")
	tr.Sync()

	child, ok := tr.Snapshot(2)
	require.True(t, ok)
	require.False(t, child.Flags.IsZero(), "child should inherit sshd ancestor match within depth")
}

func TestCleanRemovesExitedProcessAfterTimeout(t *testing.T) {
	tr := New(filter.NewEngine(), nil, time.Minute)
	tr.Start()
	t.Cleanup(tr.Stop)

	tr.Fork(50, 1)
	tr.Sync()
	tr.Exit(50)
	tr.Sync()

	_, ok := tr.Snapshot(50)
	require.True(t, ok, "still present immediately after exit")

	tr.Clean(time.Now().Add(2 * time.Minute))
	tr.Sync()

	_, ok = tr.Snapshot(50)
	require.False(t, ok, "should be removed once past the clean timeout")
}

func TestContainerIDExtractionIDForm(t *testing.T) {
	tr := newTestTree(t)
	id := "ebe83cd204c57dc745ce21b595e6aaabf805dc4046024e8eacb84633d2461ec1"
	tr.Execve(10, 1, 0, 0, "/containerd-shim-runc-v2", "containerd-shim-runc-v2 -namespace moby -id "+id+" -address /run/containerd/containerd.sock")
	tr.Sync()

	snap, ok := tr.Snapshot(10)
	require.True(t, ok)
	require.Equal(t, "ebe83cd204c5", snap.ContainerID)
}

func TestContainerIDExtractionWorkdirForm(t *testing.T) {
	tr := newTestTree(t)
	tr.Execve(11, 1, 0, 0, "/containerd-shim",
		"containerd-shim -namespace moby -workdir /var/lib/containerd/io.containerd.runtime.v1.linux/moby/ebe83cd204c57dc745ce21b595e6aaabf805dc4046024e8eacb84633d2461ec1 -address /run/containerd/containerd.sock")
	tr.Sync()

	snap, ok := tr.Snapshot(11)
	require.True(t, ok)
	require.Equal(t, "ebe83cd204c5", snap.ContainerID)
}

func TestContainerIDPropagatesToChildren(t *testing.T) {
	tr := newTestTree(t)
	id := "ebe83cd204c57dc745ce21b595e6aaabf805dc4046024e8eacb84633d2461ec1"
	tr.Execve(20, 1, 0, 0, "/containerd-shim-runc-v2", "containerd-shim-runc-v2 -id "+id)
	tr.Sync()
	tr.Fork(21, 20)
	tr.Sync()

	child, ok := tr.Snapshot(21)
	require.True(t, ok)
	require.Equal(t, "ebe83cd204c5", child.ContainerID)
}
