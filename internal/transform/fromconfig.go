/*************************************************************************
 * Copyright 2026 The auoms Authors.
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package transform

import (
	"encoding/json"
	"strconv"
	"strings"
)

// ConfigFromMap builds a Config from an output's "transform" config
// block: a flat key=value map where scalar knobs are plain strings and
// the map-valued knobs (record_type_name_overrides, field_name_overrides,
// interp_field_names, additional_fields) are JSON object text, exactly
// as internal/config's Map leaves multi-line JSON values. Unset keys
// fall back to DefaultConfig's value.
func ConfigFromMap(m map[string]string) (*Config, error) {
	cfg := DefaultConfig()

	if v, ok := m["msg_per_record"]; ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return nil, invalidBool("msg_per_record", err)
		}
		cfg.MsgPerRecord = b
	}
	if v, ok := m["include_full_raw_text"]; ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return nil, invalidBool("include_full_raw_text", err)
		}
		cfg.IncludeFullRawText = b
	}
	if v, ok := m["field_emit_mode"]; ok {
		cfg.FieldEmitMode = FieldEmitMode(v)
	}
	if v, ok := m["field_prefix_mode"]; ok {
		cfg.FieldPrefixMode = FieldPrefixMode(v)
	}
	if v, ok := m["field_name_dedup_index_one_based"]; ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return nil, invalidBool("field_name_dedup_index_one_based", err)
		}
		cfg.FieldNameDedupIndexOneBased = b
	}
	if v, ok := m["field_name_dedup_index_global"]; ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return nil, invalidBool("field_name_dedup_index_global", err)
		}
		cfg.FieldNameDedupIndexGlobal = b
	}
	if v, ok := m["field_name_dedup_suffix_raw_field"]; ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return nil, invalidBool("field_name_dedup_suffix_raw_field", err)
		}
		cfg.FieldNameDedupSuffixRawField = b
	}
	if v, ok := m["field_suffix"]; ok {
		cfg.FieldSuffix = v
	}
	if v, ok := m["decode_escaped_field_values"]; ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return nil, invalidBool("decode_escaped_field_values", err)
		}
		cfg.DecodeEscapedFieldValues = b
	}
	if v, ok := m["null_replacement"]; ok {
		cfg.NullReplacement = v
	}
	for key, dst := range map[string]*string{
		"timestamp_field_name":    &cfg.TimestampFieldName,
		"serial_field_name":       &cfg.SerialFieldName,
		"msg_type_field_name":     &cfg.MsgTypeFieldName,
		"record_count_field_name": &cfg.RecordCountFieldName,
		"record_type_field_name":  &cfg.RecordTypeFieldName,
		"record_name_field_name":  &cfg.RecordNameFieldName,
		"raw_text_field_name":     &cfg.RawTextFieldName,
		"other_fields_field_name": &cfg.OtherFieldsFieldName,
		"other_fields_mode":       &cfg.OtherFieldsMode,
	} {
		if v, ok := m[key]; ok {
			*dst = v
		}
	}
	if v, ok := m["record_filter_inclusive_mode"]; ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return nil, invalidBool("record_filter_inclusive_mode", err)
		}
		cfg.RecordFilterInclusiveMode = b
	}
	if v, ok := m["field_filter_inclusive_mode"]; ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return nil, invalidBool("field_filter_inclusive_mode", err)
		}
		cfg.FieldFilterInclusiveMode = b
	}
	for key, dst := range map[string]*[]string{
		"filter_record_types":      &cfg.FilterRecordTypes,
		"filter_field_names":       &cfg.FilterFieldNames,
		"always_filter_field_names": &cfg.AlwaysFilterFieldNames,
	} {
		if v, ok := m[key]; ok {
			*dst = splitCSV(v)
		}
	}
	if v, ok := m["record_type_name_overrides"]; ok {
		overrides := map[string]string{}
		if err := json.Unmarshal([]byte(v), &overrides); err != nil {
			return nil, invalidJSON("record_type_name_overrides", err)
		}
		cfg.RecordTypeNameOverrides = make(map[uint32]string, len(overrides))
		for k, name := range overrides {
			n, err := strconv.ParseUint(k, 10, 32)
			if err != nil {
				return nil, invalidJSON("record_type_name_overrides", err)
			}
			cfg.RecordTypeNameOverrides[uint32(n)] = name
		}
	}
	for key, dst := range map[string]*map[string]string{
		"field_name_overrides": &cfg.FieldNameOverrides,
		"interp_field_names":   &cfg.InterpFieldNames,
		"additional_fields":    &cfg.AdditionalFields,
	} {
		if v, ok := m[key]; ok {
			out := map[string]string{}
			if err := json.Unmarshal([]byte(v), &out); err != nil {
				return nil, invalidJSON(key, err)
			}
			*dst = out
		}
	}
	return cfg, nil
}

func splitCSV(v string) []string {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		out = append(out, strings.TrimSpace(p))
	}
	return out
}

func invalidBool(key string, err error) error {
	return &fieldError{key: key, err: err}
}

func invalidJSON(key string, err error) error {
	return &fieldError{key: key, err: err}
}

type fieldError struct {
	key string
	err error
}

func (e *fieldError) Error() string { return "transform: " + e.key + ": " + e.err.Error() }
func (e *fieldError) Unwrap() error { return e.err }
