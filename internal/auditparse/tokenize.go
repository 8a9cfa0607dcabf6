/*************************************************************************
 * Copyright 2026 The auoms Authors.
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package auditparse

import (
	"sort"
	"strconv"
	"strings"

	"github.com/auoms/auoms/internal/event"
)

// parseFields splits the space-separated key=value tail of a record
// line into Fields, respecting single- and double-quoted values (which
// may themselves contain spaces) and classifying each by the static
// field table.
func parseFields(recordType, rest string) []event.Field {
	tokens := splitRespectingQuotes(rest)
	fields := make([]event.Field, 0, len(tokens))
	for _, tok := range tokens {
		eq := strings.IndexByte(tok, '=')
		if eq < 0 {
			continue
		}
		name := tok[:eq]
		val := unquote(tok[eq+1:])
		fields = append(fields, event.Field{
			Name:     name,
			RawValue: val,
			Type:     classifyField(recordType, name),
		})
	}
	return fields
}

func splitRespectingQuotes(s string) []string {
	var out []string
	var cur strings.Builder
	var quote byte
	for i := 0; i < len(s); i++ {
		c := s[i]
		if quote != 0 {
			cur.WriteByte(c)
			if c == quote {
				quote = 0
			}
			continue
		}
		switch c {
		case '"', '\'':
			quote = c
			cur.WriteByte(c)
		case ' ', '\t':
			if cur.Len() > 0 {
				out = append(out, cur.String())
				cur.Reset()
			}
		default:
			cur.WriteByte(c)
		}
	}
	if cur.Len() > 0 {
		out = append(out, cur.String())
	}
	return out
}

func unquote(v string) string {
	if len(v) >= 2 {
		if (v[0] == '"' && v[len(v)-1] == '"') || (v[0] == '\'' && v[len(v)-1] == '\'') {
			return v[1 : len(v)-1]
		}
	}
	return v
}

// coalesceExecve reassembles EXECVE's argc/a0..aN fields into a single
// cmdline field (hex-escaped args are left encoded; decoding happens in
// the transformer), while preserving the original a0..aN fields so nothing
// observed on the wire is lost.
func coalesceExecve(fields []event.Field) []event.Field {
	argc := -1
	args := map[int]string{}
	for _, f := range fields {
		if f.Name == "argc" {
			if n, err := strconv.Atoi(f.RawValue); err == nil {
				argc = n
			}
			continue
		}
		if len(f.Name) >= 2 && f.Name[0] == 'a' {
			if n, err := strconv.Atoi(f.Name[1:]); err == nil {
				args[n] = f.RawValue
			}
		}
	}
	if argc < 0 {
		argc = len(args)
	}
	indices := make([]int, 0, len(args))
	for i := range args {
		indices = append(indices, i)
	}
	sort.Ints(indices)

	parts := make([]string, 0, len(indices))
	for _, i := range indices {
		parts = append(parts, args[i])
	}
	cmdline := strings.Join(parts, " ")

	out := append([]event.Field(nil), fields...)
	out = append(out, event.Field{Name: "cmdline", RawValue: cmdline, Type: event.UNCLASSIFIED})
	return out
}
