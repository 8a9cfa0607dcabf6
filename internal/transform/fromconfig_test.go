/*************************************************************************
 * Copyright 2026 The auoms Authors.
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package transform

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestConfigFromMapOverridesScalarKnobs(t *testing.T) {
	cfg, err := ConfigFromMap(map[string]string{
		"msg_per_record":   "true",
		"field_emit_mode":  "both",
		"field_prefix_mode": "index",
		"field_suffix":     "_orig",
	})
	require.NoError(t, err)
	require.True(t, cfg.MsgPerRecord)
	require.Equal(t, EmitBoth, cfg.FieldEmitMode)
	require.Equal(t, PrefixIndex, cfg.FieldPrefixMode)
	require.Equal(t, "_orig", cfg.FieldSuffix)
	// Untouched knobs keep their default.
	require.Equal(t, "timestamp", cfg.TimestampFieldName)
}

func TestConfigFromMapParsesCSVLists(t *testing.T) {
	cfg, err := ConfigFromMap(map[string]string{
		"filter_field_names": "uid, gid,  exe",
	})
	require.NoError(t, err)
	require.Equal(t, []string{"uid", "gid", "exe"}, cfg.FilterFieldNames)
}

func TestConfigFromMapParsesJSONMaps(t *testing.T) {
	cfg, err := ConfigFromMap(map[string]string{
		"field_name_overrides":       `{"uid":"user_id"}`,
		"record_type_name_overrides": `{"1300":"SYSTEM_CALL"}`,
		"additional_fields":          `{"source":"auoms"}`,
	})
	require.NoError(t, err)
	require.Equal(t, "user_id", cfg.FieldNameOverrides["uid"])
	require.Equal(t, "SYSTEM_CALL", cfg.RecordTypeNameOverrides[1300])
	require.Equal(t, "auoms", cfg.AdditionalFields["source"])
}

func TestConfigFromMapRejectsInvalidBool(t *testing.T) {
	_, err := ConfigFromMap(map[string]string{"msg_per_record": "not-a-bool"})
	require.Error(t, err)
	require.Contains(t, err.Error(), "msg_per_record")
}

func TestConfigFromMapRejectsInvalidJSON(t *testing.T) {
	_, err := ConfigFromMap(map[string]string{"additional_fields": "{not json"})
	require.Error(t, err)
	require.Contains(t, err.Error(), "additional_fields")
}
