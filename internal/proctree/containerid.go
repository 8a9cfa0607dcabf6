/*************************************************************************
 * Copyright 2026 The auoms Authors.
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package proctree

import (
	"path/filepath"
	"regexp"
	"strings"
)

var hexID = regexp.MustCompile(`^[0-9a-f]{64}$`)

// extractContainerID looks for a containerd-shim invocation in exe/
// cmdline and returns the 12-char prefix of the 64-hex-char container id
// it is managing, either from a "-id <hex>" argument or from the
// trailing path component of a "-workdir <...>/<hex>" argument.
func extractContainerID(exe, cmdline string) (string, bool) {
	base := filepath.Base(exe)
	if !strings.HasPrefix(base, "containerd-shim") && !strings.HasPrefix(base, "docker-containerd-shim") {
		return "", false
	}

	fields := strings.Fields(cmdline)
	for i, f := range fields {
		if f == "-id" && i+1 < len(fields) {
			if id := fields[i+1]; hexID.MatchString(id) {
				return id[:12], true
			}
		}
		if f == "-workdir" && i+1 < len(fields) {
			comp := filepath.Base(fields[i+1])
			if hexID.MatchString(comp) {
				return comp[:12], true
			}
		}
	}
	return "", false
}
