/*************************************************************************
 * Copyright 2026 The auoms Authors.
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package supervisor

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDetermineRunModeForcedNetlinkOnly(t *testing.T) {
	require.Equal(t, RunModeNetlink, DetermineRunMode(true))
}

func TestDetermineRunModeFallsBackToNetlinkWithoutAuditd(t *testing.T) {
	// auditd is not expected to be installed in the test environment, so
	// the probe should fall through to the netlink-only mode.
	require.Equal(t, RunModeNetlink, DetermineRunMode(false))
}
