/*************************************************************************
 * Copyright 2026 The auoms Authors.
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package sink

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/auoms/auoms/internal/transform"
)

func sampleMessage() *transform.Message {
	return &transform.Message{
		Sec:  100,
		Msec: 500,
		Fields: []transform.Field{
			{Name: "serial", Value: "42"},
			{Name: "uid", Value: "alice"},
			{Name: "other", Sub: map[string]string{"x": "1"}},
		},
	}
}

func TestJSONSinkEncodesObjectPreservingOrder(t *testing.T) {
	s, err := New(Config{Format: "json"})
	require.NoError(t, err)
	b, err := s.Encode(sampleMessage())
	require.NoError(t, err)

	require.Equal(t, `{"serial":"42","uid":"alice","other":{"x":"1"}}`, string(b))

	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(b, &out))
	require.Equal(t, "42", out["serial"])
}

func TestMsgpackSinkEncodesTagTimeFieldsArray(t *testing.T) {
	s, err := New(Config{Format: "msgpack", Tag: "auoms"})
	require.NoError(t, err)
	b, err := s.Encode(sampleMessage())
	require.NoError(t, err)

	var arr []interface{}
	require.NoError(t, msgpack.Unmarshal(b, &arr))
	require.Len(t, arr, 3)
	require.Equal(t, "auoms", arr[0])
	require.EqualValues(t, 100, arr[1])
}

func TestMsgpackSinkExtTimeEncodesFluentEventTime(t *testing.T) {
	s, err := New(Config{Format: "msgpack", Tag: "auoms", MsgpackExtTime: true})
	require.NoError(t, err)
	b, err := s.Encode(sampleMessage())
	require.NoError(t, err)

	var arr []msgpack.RawMessage
	require.NoError(t, msgpack.Unmarshal(b, &arr))
	require.Len(t, arr, 3)

	raw := []byte(arr[1])
	require.Len(t, raw, 10)
	require.Equal(t, byte(0xd7), raw[0], "fixext8 marker")
	require.Equal(t, byte(fluentEventTimeExtType), raw[1])

	sec := uint32(raw[2])<<24 | uint32(raw[3])<<16 | uint32(raw[4])<<8 | uint32(raw[5])
	nsec := uint32(raw[6])<<24 | uint32(raw[7])<<16 | uint32(raw[8])<<8 | uint32(raw[9])
	require.EqualValues(t, 100, sec)
	require.EqualValues(t, 500*time.Millisecond, nsec)
}

func TestNewRejectsUnknownFormat(t *testing.T) {
	_, err := New(Config{Format: "xml"})
	require.Error(t, err)
}
