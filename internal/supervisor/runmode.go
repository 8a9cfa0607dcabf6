/*************************************************************************
 * Copyright 2026 The auoms Authors.
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package supervisor

import "os/exec"

// RunMode selects which channel the daemon collects audit records from.
type RunMode int

const (
	// RunModeNetlink collects exclusively via the helper collector's
	// NETLINK_AUDIT socket, bypassing auditd entirely.
	RunModeNetlink RunMode = iota
	// RunModeAuditdPipe reads from an on-disk pipe fed by the auditd
	// plugin, leaving auditd itself in control of rule enforcement.
	RunModeAuditdPipe
)

func (m RunMode) String() string {
	switch m {
	case RunModeNetlink:
		return "netlink"
	case RunModeAuditdPipe:
		return "auditd-pipe"
	default:
		return "unknown"
	}
}

// auditdUnitNames are tried in order against `systemctl is-active`; the
// package name differs across distributions (auditd vs auditd.service).
var auditdUnitNames = []string{"auditd", "auditd.service"}

// DetermineRunMode mirrors RunMode.cpp: unless netlinkOnly is forced
// (the daemon's -n flag), probe whether auditd is installed and active
// and prefer the plugin-pipe path when it is, since a separately running
// auditd already owns rule enforcement and only one reader may attach.
func DetermineRunMode(netlinkOnly bool) RunMode {
	if netlinkOnly {
		return RunModeNetlink
	}
	if auditdActive() {
		return RunModeAuditdPipe
	}
	return RunModeNetlink
}

func auditdActive() bool {
	if _, err := exec.LookPath("auditd"); err != nil {
		return false
	}
	for _, unit := range auditdUnitNames {
		if systemctlIsActive(unit) {
			return true
		}
	}
	return false
}

func systemctlIsActive(unit string) bool {
	path, err := exec.LookPath("systemctl")
	if err != nil {
		return false
	}
	cmd := exec.Command(path, "is-active", "--quiet", unit)
	return cmd.Run() == nil
}
