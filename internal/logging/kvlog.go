/*************************************************************************
 * Copyright 2026 The auoms Authors.
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package logging

import "github.com/crewjam/rfc5424"

// KVLogger wraps a Logger with a fixed set of structured-data parameters
// that are attached to every message it emits, e.g. {output=splunk-prod}
// for an output worker's log lines.
type KVLogger struct {
	*Logger
	sds []rfc5424.SDParam
}

func NewLoggerWithKV(l *Logger, sds ...rfc5424.SDParam) *KVLogger {
	return &KVLogger{Logger: l, sds: sds}
}

func (kvl *KVLogger) Debug(msg string, sds ...rfc5424.SDParam) {
	kvl.Logger.Debug(msg, append(append([]rfc5424.SDParam{}, kvl.sds...), sds...)...)
}

func (kvl *KVLogger) Info(msg string, sds ...rfc5424.SDParam) {
	kvl.Logger.Info(msg, append(append([]rfc5424.SDParam{}, kvl.sds...), sds...)...)
}

func (kvl *KVLogger) Warn(msg string, sds ...rfc5424.SDParam) {
	kvl.Logger.Warn(msg, append(append([]rfc5424.SDParam{}, kvl.sds...), sds...)...)
}

func (kvl *KVLogger) Error(msg string, sds ...rfc5424.SDParam) {
	kvl.Logger.Error(msg, append(append([]rfc5424.SDParam{}, kvl.sds...), sds...)...)
}

// AddKV appends additional structured-data parameters attached to every
// subsequent message.
func (kvl *KVLogger) AddKV(sds ...rfc5424.SDParam) {
	kvl.sds = append(kvl.sds, sds...)
}
