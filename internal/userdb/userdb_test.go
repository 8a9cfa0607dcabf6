/*************************************************************************
 * Copyright 2026 The auoms Authors.
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package userdb

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLookupUserUpdatesWithinDeadline(t *testing.T) {
	dir := t.TempDir()
	passwd := filepath.Join(dir, "passwd")
	group := filepath.Join(dir, "group")
	require.NoError(t, os.WriteFile(passwd, []byte("user:x:1000:1000::/home/user:/bin/sh\n"), 0o644))
	require.NoError(t, os.WriteFile(group, []byte("user:x:1000:\n"), 0o644))

	db, err := New(passwd, group, nil)
	require.NoError(t, err)
	require.NoError(t, db.Start())
	defer db.Stop()

	name, ok := db.LookupUser(1000)
	require.True(t, ok)
	require.Equal(t, "user", name)

	_, ok = db.LookupUser(1001)
	require.False(t, ok)

	f, err := os.OpenFile(passwd, os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString("test:x:1001:1001::/home/test:/bin/sh\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	require.Eventually(t, func() bool {
		name, ok := db.LookupUser(1001)
		return ok && name == "test"
	}, 500*time.Millisecond, 10*time.Millisecond)
}

func TestLookupGroup(t *testing.T) {
	dir := t.TempDir()
	passwd := filepath.Join(dir, "passwd")
	group := filepath.Join(dir, "group")
	require.NoError(t, os.WriteFile(passwd, []byte(""), 0o644))
	require.NoError(t, os.WriteFile(group, []byte("wheel:x:10:root\n"), 0o644))

	db, err := New(passwd, group, nil)
	require.NoError(t, err)
	name, ok := db.LookupGroup(10)
	require.True(t, ok)
	require.Equal(t, "wheel", name)
}
