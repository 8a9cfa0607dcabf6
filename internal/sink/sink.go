/*************************************************************************
 * Copyright 2026 The auoms Authors.
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

// Package sink serializes a transformed message into the wire payload
// an output worker length-frames and writes: one Encode call turns a
// whole message into its encoded bytes.
package sink

import (
	"fmt"

	"github.com/auoms/auoms/internal/transform"
)

// Sink turns one transform.Message into an encoded payload. Variants
// (json, msgpack) differ only in wire format; the output worker is
// agnostic to which is configured.
type Sink interface {
	// Name identifies the wire format ("json" or "msgpack").
	Name() string
	// Encode serializes m into its wire representation, ready to be
	// length-framed by the output worker.
	Encode(m *transform.Message) ([]byte, error)
}

// Tag is the per-output Fluentd-Forward-style tag MsgPack sinks embed
// alongside the timestamp and field map.
type Tag string

// Config selects and configures a sink variant.
type Config struct {
	Format         string // "json" or "msgpack"
	Tag            Tag
	MsgpackExtTime bool // carry seconds+nanoseconds via a fixext8 instead of a plain uint32
}

// New builds the configured Sink variant.
func New(cfg Config) (Sink, error) {
	switch cfg.Format {
	case "", "json":
		return &jsonSink{}, nil
	case "msgpack":
		return &msgpackSink{tag: cfg.Tag, extTime: cfg.MsgpackExtTime}, nil
	default:
		return nil, fmt.Errorf("sink: unknown format %q", cfg.Format)
	}
}
