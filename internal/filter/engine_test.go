/*************************************************************************
 * Copyright 2026 The auoms Authors.
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package filter

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestIsEventFilteredFalseWhenNoProcess(t *testing.T) {
	e := NewEngine()
	var mask Bitset
	mask.Set(0)
	require.False(t, e.IsEventFiltered("open", false, Bitset{}, mask))
}

func TestIsEventFilteredFalseWhenMaskZero(t *testing.T) {
	e := NewEngine()
	_, err := e.AddFilterList([]ProcFilterSpec{{SyscallSet: []string{"open"}}}, "out1")
	require.NoError(t, err)
	var flags Bitset
	flags.Set(0)
	require.False(t, e.IsEventFiltered("open", true, flags, Bitset{}))
}

func TestAddFilterListAssignsStableBits(t *testing.T) {
	e := NewEngine()
	spec := ProcFilterSpec{ExePattern: "/usr/bin/bash", SyscallSet: []string{"execve"}}
	mask1, err := e.AddFilterList([]ProcFilterSpec{spec}, "out1")
	require.NoError(t, err)

	mask2, err := e.AddFilterList([]ProcFilterSpec{spec}, "out2")
	require.NoError(t, err)

	require.Equal(t, mask1.Bits(), mask2.Bits(), "same spec must dedup to the same bit")
}

func TestRemoveThenReaddReusesBitWhenUncontended(t *testing.T) {
	e := NewEngine()
	spec := ProcFilterSpec{ExePattern: "/bin/sh"}
	mask1, err := e.AddFilterList([]ProcFilterSpec{spec}, "out1")
	require.NoError(t, err)

	e.RemoveOutput("out1")

	mask2, err := e.AddFilterList([]ProcFilterSpec{spec}, "out2")
	require.NoError(t, err)
	require.Equal(t, mask1.Bits(), mask2.Bits())
}

func TestRemoveThenReaddDoesNotReuseBitWhenConsumedByOther(t *testing.T) {
	e := NewEngine()
	specA := ProcFilterSpec{ExePattern: "/bin/a"}
	specB := ProcFilterSpec{ExePattern: "/bin/b"}

	maskA1, err := e.AddFilterList([]ProcFilterSpec{specA}, "out1")
	require.NoError(t, err)
	e.RemoveOutput("out1")

	// consume the freed bit with a different spec
	_, err = e.AddFilterList([]ProcFilterSpec{specB}, "out2")
	require.NoError(t, err)

	maskA2, err := e.AddFilterList([]ProcFilterSpec{specA}, "out3")
	require.NoError(t, err)
	require.NotEqual(t, maskA1.Bits(), maskA2.Bits())
}

func TestIsEventFilteredMatchesRegisteredSyscall(t *testing.T) {
	e := NewEngine()
	mask, err := e.AddFilterList([]ProcFilterSpec{{ExePattern: "/bin/bash", SyscallSet: []string{"execve", "open"}}}, "out1")
	require.NoError(t, err)

	flags := e.MatchAtHeight(MatchInput{Exe: "/bin/bash"}, 0)
	require.True(t, e.IsEventFiltered("execve", true, flags, mask))
	require.False(t, e.IsEventFiltered("close", true, flags, mask))
}

func TestMatchAtHeightRespectsDepth(t *testing.T) {
	e := NewEngine()
	_, err := e.AddFilterList([]ProcFilterSpec{{ExePattern: "/bin/bash", Depth: 0, SyscallSet: []string{"open"}}}, "out1")
	require.NoError(t, err)

	flags0 := e.MatchAtHeight(MatchInput{Exe: "/bin/bash"}, 0)
	require.False(t, flags0.IsZero())

	flags1 := e.MatchAtHeight(MatchInput{Exe: "/bin/bash"}, 1)
	require.True(t, flags1.IsZero())
}
