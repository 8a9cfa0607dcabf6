/*************************************************************************
 * Copyright 2026 The auoms Authors.
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

// Package transform reshapes sealed events into the flat field lists an
// output's sink actually writes, per a per-output Config snapshot.
package transform

// FieldEmitMode selects which form(s) of a field's value are emitted.
type FieldEmitMode string

const (
	EmitRaw    FieldEmitMode = "raw"
	EmitInterp FieldEmitMode = "interp"
	EmitBoth   FieldEmitMode = "both"
)

// FieldPrefixMode disambiguates field names that collide across
// multiple same-typed records bundled into one message.
type FieldPrefixMode string

const (
	PrefixIndex      FieldPrefixMode = "index"
	PrefixTypeNumber FieldPrefixMode = "type_number"
	PrefixTypeName   FieldPrefixMode = "type_name"
)

// Config is the immutable per-output transformer snapshot; a reload
// swaps the pointer through Transformer.SetConfig, it is never mutated
// in place.
type Config struct {
	MsgPerRecord       bool
	IncludeFullRawText bool

	FieldEmitMode   FieldEmitMode
	FieldPrefixMode FieldPrefixMode

	FieldNameDedupIndexOneBased bool
	FieldNameDedupIndexGlobal   bool
	// FieldNameDedupSuffixRawField: when raw and interp values of the
	// same field would both be emitted under the same name, true
	// suffixes the raw copy, false suffixes the interp copy.
	FieldNameDedupSuffixRawField bool
	FieldSuffix                  string

	DecodeEscapedFieldValues bool
	NullReplacement          string

	TimestampFieldName   string
	SerialFieldName      string
	MsgTypeFieldName     string
	RecordCountFieldName string
	RecordTypeFieldName  string
	RecordNameFieldName  string
	RawTextFieldName     string

	RecordTypeNameOverrides map[uint32]string
	FieldNameOverrides      map[string]string
	InterpFieldNames        map[string]string

	FilterRecordTypes         []string
	RecordFilterInclusiveMode bool

	FilterFieldNames       []string
	AlwaysFilterFieldNames []string
	FieldFilterInclusiveMode bool

	OtherFieldsMode      string
	OtherFieldsFieldName string

	AdditionalFields map[string]string
}

const (
	msgTypeEvent = "AUDIT_EVENT"
	msgTypeGap   = "AUDIT_EVENT_GAP"

	otherFieldsBundle = "bundle"
)

// DefaultConfig returns the transformer defaults used when an output's
// config block omits a transform section entirely.
func DefaultConfig() *Config {
	return &Config{
		FieldEmitMode:                EmitInterp,
		FieldPrefixMode:              PrefixTypeName,
		FieldNameDedupSuffixRawField: true,
		FieldSuffix:                  "_raw",
		DecodeEscapedFieldValues:     true,
		NullReplacement:              "\\0",
		TimestampFieldName:           "timestamp",
		SerialFieldName:              "serial",
		MsgTypeFieldName:             "msg_type",
		RecordCountFieldName:         "record_count",
		RecordTypeFieldName:          "record_type",
		RecordNameFieldName:          "record_name",
		RawTextFieldName:             "raw_text",
		RecordFilterInclusiveMode:    true,
		FieldFilterInclusiveMode:     true,
		OtherFieldsFieldName:         "other",
	}
}
