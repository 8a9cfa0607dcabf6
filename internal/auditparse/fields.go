/*************************************************************************
 * Copyright 2026 The auoms Authors.
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package auditparse

import "github.com/auoms/auoms/internal/event"

var uidFields = map[string]bool{
	"uid": true, "auid": true, "euid": true, "suid": true, "fsuid": true,
	"ouid": true, "oauid": true, "iuid": true,
}

var gidFields = map[string]bool{
	"gid": true, "egid": true, "sgid": true, "fsgid": true,
	"ogid": true, "igid": true,
}

var escapedFields = map[string]bool{
	"proctitle": true, "msg": true, "data": true,
}

// classifyField assigns a FieldType to (recordType, fieldName) via a
// static lookup: uid/gid-class fields are tagged so
// the user/group cache can resolve them, but never resolved here; hex
// payloads (SOCKADDR, ESCAPED) are left undecoded for the transformer.
func classifyField(recordType, name string) event.FieldType {
	switch {
	case uidFields[name]:
		return event.UID
	case gidFields[name]:
		return event.GID
	case name == "syscall":
		return event.SYSCALL
	case name == "arch":
		return event.ARCH
	case name == "exit":
		return event.EXIT
	case name == "saddr":
		return event.SOCKADDR
	case name == "perm":
		return event.PERM
	case name == "mode" || name == "fmode" || name == "omode":
		return event.MODE
	case name == "flags" || name == "a0" && recordType == "MMAP":
		return event.FLAGS
	case name == "ses":
		return event.SESSION
	case recordType == "PROCTITLE" && name == "proctitle":
		return event.PROCTITLE
	case escapedFields[name]:
		return event.ESCAPED
	default:
		return event.UNCLASSIFIED
	}
}
