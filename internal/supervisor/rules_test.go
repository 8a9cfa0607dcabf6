/*************************************************************************
 * Copyright 2026 The auoms Authors.
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package supervisor

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

type recordingApplier struct {
	calls [][]string
}

func (a *recordingApplier) Apply(rules []string) error {
	a.calls = append(a.calls, append([]string(nil), rules...))
	return nil
}

func writeRules(t *testing.T, path string, lines ...string) {
	t.Helper()
	content := ""
	for _, l := range lines {
		content += l + "\n"
	}
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestRulesMonitorAppliesOnlyWhenChanged(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.rules")
	writeRules(t, path, "-w /etc/shadow -p wa", "# a comment", "-a always,exit -F arch=b64 -S execve")

	applier := &recordingApplier{}
	m := NewRulesMonitor(path, applier, nil)

	require.NoError(t, m.reconcile())
	require.Len(t, applier.calls, 1)
	require.Equal(t, []string{"-w /etc/shadow -p wa", "-a always,exit -F arch=b64 -S execve"}, applier.calls[0])

	// Reconciling again with unchanged content must not reapply.
	require.NoError(t, m.reconcile())
	require.Len(t, applier.calls, 1)

	writeRules(t, path, "-w /etc/passwd -p wa")
	require.NoError(t, m.reconcile())
	require.Len(t, applier.calls, 2)
	require.Equal(t, []string{"-w /etc/passwd -p wa"}, applier.calls[1])
	require.Equal(t, applier.calls[1], m.CurrentRules())
}

func TestStringsEqual(t *testing.T) {
	require.True(t, stringsEqual(nil, nil))
	require.True(t, stringsEqual([]string{"a"}, []string{"a"}))
	require.False(t, stringsEqual([]string{"a"}, []string{"a", "b"}))
	require.False(t, stringsEqual([]string{"a"}, []string{"b"}))
}
