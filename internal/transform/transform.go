/*************************************************************************
 * Copyright 2026 The auoms Authors.
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package transform

import (
	"fmt"
	"strconv"
	"sync/atomic"

	"github.com/auoms/auoms/internal/event"
)

// Field is one name/value pair in an output message. Sub is non-nil
// only for the single bundled "other fields" entry a record may
// produce; every other field carries a plain string Value.
type Field struct {
	Name  string
	Value string
	Sub   map[string]string
}

// Message is the transformer's output: an ordered field list ready for
// a sink to frame and write. Field order preserves record insertion
// order. Sec/Msec duplicate the
// stringified timestamp field in typed form so a sink can frame
// a MsgPack time value without re-parsing strings.
type Message struct {
	Fields []Field
	Sec    uint64
	Msec   uint32
}

func (m *Message) add(name, value string) {
	m.Fields = append(m.Fields, Field{Name: name, Value: value})
}

func (m *Message) addSub(name string, sub map[string]string) {
	if len(sub) == 0 {
		return
	}
	m.Fields = append(m.Fields, Field{Name: name, Sub: sub})
}

// Transformer reshapes sealed events into Messages per an immutable
// Config snapshot; reloads swap the pointer via SetConfig, read by
// Apply/ApplyGap without locking (the same wait-free swap discipline
// internal/userdb uses for its passwd/group snapshot).
type Transformer struct {
	cfg atomic.Value // *Config
}

// NewTransformer creates a Transformer bound to the given config.
func NewTransformer(cfg *Config) *Transformer {
	t := &Transformer{}
	t.cfg.Store(cfg)
	return t
}

// SetConfig atomically swaps the active config, e.g. on a HUP reload.
func (t *Transformer) SetConfig(cfg *Config) {
	t.cfg.Store(cfg)
}

func (t *Transformer) config() *Config {
	return t.cfg.Load().(*Config)
}

// Apply reshapes a sealed event into one message (the default) or one
// message per record (MsgPerRecord), after applying the record filter.
func (t *Transformer) Apply(ev *event.Event) []*Message {
	cfg := t.config()

	records := make([]event.Record, 0, len(ev.Records))
	for _, r := range ev.Records {
		if recordAllowed(cfg, r.TypeName) {
			records = append(records, r)
		}
	}

	if cfg.MsgPerRecord {
		msgs := make([]*Message, 0, len(records))
		for _, r := range records {
			msgs = append(msgs, t.buildPerRecordMessage(cfg, ev, r))
		}
		return msgs
	}
	return []*Message{t.buildCombinedMessage(cfg, ev, records)}
}

// ApplyGap reshapes a detected serial discontinuity into a single
// AUDIT_EVENT_GAP message.
func (t *Transformer) ApplyGap(g *event.GapReport) *Message {
	cfg := t.config()
	m := &Message{Sec: g.StartSec, Msec: g.StartMsec}
	m.add(cfg.MsgTypeFieldName, msgTypeGap)
	m.add("start_"+cfg.TimestampFieldName, formatTimestamp(g.StartSec, g.StartMsec))
	m.add("start_"+cfg.SerialFieldName, strconv.FormatUint(g.StartSerial, 10))
	m.add("end_"+cfg.TimestampFieldName, formatTimestamp(g.EndSec, g.EndMsec))
	m.add("end_"+cfg.SerialFieldName, strconv.FormatUint(g.EndSerial, 10))
	addAdditional(m, cfg)
	return m
}

func (t *Transformer) buildPerRecordMessage(cfg *Config, ev *event.Event, rec event.Record) *Message {
	m := &Message{Sec: ev.Sec, Msec: ev.Msec}
	m.add(cfg.TimestampFieldName, formatTimestamp(ev.Sec, ev.Msec))
	m.add(cfg.SerialFieldName, strconv.FormatUint(ev.Serial, 10))
	m.add(cfg.MsgTypeFieldName, msgTypeEvent)
	m.add(cfg.RecordCountFieldName, "1")
	m.add(cfg.RecordTypeFieldName, strconv.FormatUint(uint64(rec.TypeCode), 10))
	m.add(cfg.RecordNameFieldName, recordTypeName(cfg, rec))
	if cfg.IncludeFullRawText {
		m.add(cfg.RawTextFieldName, rec.RawText)
	}
	entries, other := buildRecordFieldEntries(cfg, rec)
	m.Fields = append(m.Fields, entries...)
	m.addSub(cfg.OtherFieldsFieldName, other)
	addAdditional(m, cfg)
	return m
}

func (t *Transformer) buildCombinedMessage(cfg *Config, ev *event.Event, records []event.Record) *Message {
	m := &Message{Sec: ev.Sec, Msec: ev.Msec}
	m.add(cfg.TimestampFieldName, formatTimestamp(ev.Sec, ev.Msec))
	m.add(cfg.SerialFieldName, strconv.FormatUint(ev.Serial, 10))
	m.add(cfg.MsgTypeFieldName, msgTypeEvent)
	m.add(cfg.RecordCountFieldName, strconv.Itoa(len(records)))

	seen := map[string]bool{}
	for _, f := range m.Fields {
		seen[f.Name] = true
	}

	otherAgg := map[string]string{}
	typeOccurrence := map[string]int{}
	for idx, rec := range records {
		occurrence := typeOccurrence[rec.TypeName]
		typeOccurrence[rec.TypeName]++

		dedupIdx := idx
		if !cfg.FieldNameDedupIndexGlobal {
			dedupIdx = occurrence
		}
		if cfg.FieldNameDedupIndexOneBased {
			dedupIdx++
		}

		entries, other := buildRecordFieldEntries(cfg, rec)
		for _, e := range entries {
			name := e.Name
			if seen[name] {
				name = prefixName(cfg, rec, dedupIdx) + ":" + name
			}
			seen[name] = true
			e.Name = name
			m.Fields = append(m.Fields, e)
		}
		for k, v := range other {
			otherAgg[k] = v
		}
	}
	m.addSub(cfg.OtherFieldsFieldName, otherAgg)
	addAdditional(m, cfg)
	return m
}

// buildRecordFieldEntries reshapes one record's fields per the emit
// mode, name overrides, escaping, and other-fields bundling rules.
// Fields routed into the bundle are returned separately rather than as
// flat entries.
func buildRecordFieldEntries(cfg *Config, rec event.Record) ([]Field, map[string]string) {
	var entries []Field
	other := map[string]string{}

	bundleEligible := cfg.OtherFieldsMode == otherFieldsBundle && len(cfg.FilterFieldNames) > 0

	for _, f := range rec.Fields {
		if !fieldAllowed(cfg, f.Name) {
			continue
		}

		rawVal := f.RawValue
		if cfg.DecodeEscapedFieldValues && f.Type == event.ESCAPED {
			rawVal = decodeEscaped(rawVal, cfg.NullReplacement)
		}

		name := f.Name
		if o, ok := cfg.FieldNameOverrides[name]; ok {
			name = o
		}
		iname := name
		if o, ok := cfg.InterpFieldNames[f.Name]; ok {
			iname = o
		}

		local := emitField(cfg, f, name, iname, rawVal)

		if bundleEligible && !containsString(cfg.FilterFieldNames, f.Name) {
			for _, e := range local {
				other[e.Name] = e.Value
			}
			continue
		}
		entries = append(entries, local...)
	}
	return entries, other
}

// emitField applies field_emit_mode, including the (T1) rule that
// raw==interp collapses to a single copy under "both".
func emitField(cfg *Config, f event.Field, name, iname, rawVal string) []Field {
	switch cfg.FieldEmitMode {
	case EmitRaw:
		return []Field{{Name: name, Value: rawVal}}
	case EmitInterp:
		if f.HasInterp {
			return []Field{{Name: iname, Value: f.InterpValue}}
		}
		return []Field{{Name: name, Value: rawVal}}
	default: // EmitBoth
		if !f.HasInterp {
			return []Field{{Name: name, Value: rawVal}}
		}
		if f.InterpValue == rawVal {
			return []Field{{Name: name, Value: rawVal}}
		}
		rn, in := name, iname
		if rn == in {
			if cfg.FieldNameDedupSuffixRawField {
				rn += cfg.FieldSuffix
			} else {
				in += cfg.FieldSuffix
			}
		}
		return []Field{{Name: rn, Value: rawVal}, {Name: in, Value: f.InterpValue}}
	}
}

func addAdditional(m *Message, cfg *Config) {
	for k, v := range cfg.AdditionalFields {
		m.add(k, v)
	}
}

func recordTypeName(cfg *Config, rec event.Record) string {
	if o, ok := cfg.RecordTypeNameOverrides[rec.TypeCode]; ok {
		return o
	}
	return rec.TypeName
}

func prefixName(cfg *Config, rec event.Record, dedupIdx int) string {
	switch cfg.FieldPrefixMode {
	case PrefixIndex:
		return strconv.Itoa(dedupIdx)
	case PrefixTypeNumber:
		return strconv.FormatUint(uint64(rec.TypeCode), 10)
	default:
		return recordTypeName(cfg, rec)
	}
}

func recordAllowed(cfg *Config, typeName string) bool {
	if len(cfg.FilterRecordTypes) == 0 {
		return true
	}
	in := containsString(cfg.FilterRecordTypes, typeName)
	if cfg.RecordFilterInclusiveMode {
		return in
	}
	return !in
}

func fieldAllowed(cfg *Config, name string) bool {
	if containsString(cfg.AlwaysFilterFieldNames, name) {
		return false
	}
	// In bundling mode FilterFieldNames is repurposed as the
	// explicit/bundled split rather than a drop list; nothing is
	// dropped here besides AlwaysFilterFieldNames.
	if cfg.OtherFieldsMode == otherFieldsBundle {
		return true
	}
	if len(cfg.FilterFieldNames) == 0 {
		return true
	}
	in := containsString(cfg.FilterFieldNames, name)
	if cfg.FieldFilterInclusiveMode {
		return in
	}
	return !in
}

func containsString(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

func formatTimestamp(sec uint64, msec uint32) string {
	return fmt.Sprintf("%d.%03d", sec, msec)
}

// decodeEscaped implements (T2): identity on odd-length or non-hex
// strings, otherwise hex-decodes, replacing NUL bytes with
// nullReplacement and re-escaping non-printables as \xXX. This follows
// the EventTransformerBase canonical behavior (odd-length strings pass
// through unchanged) rather than the free-function variant's reject.
func decodeEscaped(s string, nullReplacement string) string {
	if len(s)%2 != 0 {
		return s
	}
	n := len(s) / 2
	raw := make([]byte, n)
	for i := 0; i < n; i++ {
		hi, ok1 := hexNibble(s[2*i])
		lo, ok2 := hexNibble(s[2*i+1])
		if !ok1 || !ok2 {
			return s
		}
		raw[i] = hi<<4 | lo
	}

	var out []byte
	for _, b := range raw {
		switch {
		case b == 0:
			out = append(out, nullReplacement...)
		case b < 0x20 || b >= 0x7f:
			out = append(out, []byte(fmt.Sprintf("\\x%02x", b))...)
		default:
			out = append(out, b)
		}
	}
	return string(out)
}

func hexNibble(c byte) (byte, bool) {
	switch {
	case c >= '0' && c <= '9':
		return c - '0', true
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10, true
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10, true
	}
	return 0, false
}
