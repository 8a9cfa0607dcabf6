/*************************************************************************
 * Copyright 2026 The auoms Authors.
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package sink

import (
	"encoding/binary"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/auoms/auoms/internal/transform"
)

// msgpackSink renders a message as a Fluentd-Forward-compatible
// 3-element array [tag, time, fields]. time is a plain uint32 seconds
// value unless extTime is set, in which case it is encoded as a
// fluentEventTime (Fluentd's EventTime extension, not msgpack's own
// timestamp extension, which Fluentd Forward readers don't recognize).
type msgpackSink struct {
	tag     Tag
	extTime bool
}

// fluentEventTimeExtType is Fluentd's ext type id for EventTime.
const fluentEventTimeExtType = 0x00

// fluentEventTime encodes a time.Time as Fluentd's wire-format EventTime:
// a msgpack fixext8 of type fluentEventTimeExtType carrying 4-byte
// big-endian seconds followed by 4-byte big-endian nanoseconds.
type fluentEventTime time.Time

// MarshalMsgpack implements msgpack.Marshaler, embedding the raw fixext8
// bytes in place of the library's default -1 timestamp extension.
func (t fluentEventTime) MarshalMsgpack() ([]byte, error) {
	tt := time.Time(t)
	buf := make([]byte, 2, 10)
	buf[0] = 0xd7 // fixext8
	buf[1] = fluentEventTimeExtType
	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], uint32(tt.Unix()))
	buf = append(buf, tmp[:]...)
	binary.BigEndian.PutUint32(tmp[:], uint32(tt.Nanosecond()))
	buf = append(buf, tmp[:]...)
	return buf, nil
}

func (s *msgpackSink) Name() string { return "msgpack" }

func (s *msgpackSink) Encode(m *transform.Message) ([]byte, error) {
	fields := make(map[string]interface{}, len(m.Fields))
	for _, f := range m.Fields {
		if f.Sub != nil {
			sub := make(map[string]interface{}, len(f.Sub))
			for k, v := range f.Sub {
				sub[k] = v
			}
			fields[f.Name] = sub
			continue
		}
		fields[f.Name] = f.Value
	}

	var ts interface{}
	if s.extTime {
		ts = fluentEventTime(time.Unix(int64(m.Sec), int64(m.Msec)*int64(time.Millisecond)))
	} else {
		ts = uint32(m.Sec)
	}

	return msgpack.Marshal([]interface{}{string(s.tag), ts, fields})
}
