/*************************************************************************
 * Copyright 2026 The auoms Authors.
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package sink

import (
	"bytes"
	"encoding/json"

	"github.com/auoms/auoms/internal/transform"
)

// jsonSink renders a message as a single JSON object with no trailing
// newline; the output worker's framing puts its decimal length and a
// newline in front of it. Keys are written in field
// insertion order (encoding/json's map marshaling would not preserve
// it), since record iteration must preserve insertion order.
type jsonSink struct{}

func (s *jsonSink) Name() string { return "json" }

func (s *jsonSink) Encode(m *transform.Message) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, f := range m.Fields {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(f.Name)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')

		var val []byte
		if f.Sub != nil {
			val, err = json.Marshal(f.Sub)
		} else {
			val, err = json.Marshal(f.Value)
		}
		if err != nil {
			return nil, err
		}
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}
