/*************************************************************************
 * Copyright 2026 The auoms Authors.
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

// Package config loads the daemon's key=value configuration file. The
// grammar is flat (no sections): a key, an "=", and a value that is
// either a single unquoted token, a double-quoted string with \" escapes,
// a C++-raw-string-style R"DELIM(...)DELIM" block, or a multi-line JSON
// object/array that is accumulated until it parses. "#" starts a comment
// when it appears at column 0 or after whitespace following a complete
// value.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

const (
	kb = 1024
	mb = 1024 * kb
	gb = 1024 * mb

	minQueueSize = 1 * mb

	DefaultDataDir        = "/var/opt/auoms"
	DefaultQueueSize      = 64 * mb
	DefaultLogLevel       = "INFO"
	DefaultCleanTimeout   = 5 * time.Minute
	DefaultMaxSerialSkew  = 1000
	DefaultFlushIdle      = 100 * time.Millisecond
	DefaultSleepPeriodMin = time.Second
	DefaultSleepPeriodMax = 60 * time.Second
)

var (
	ErrMissingKey   = errors.New("missing required config key")
	ErrInvalidValue = errors.New("invalid config value")
)

// Config is the fully parsed, validated daemon configuration.
type Config struct {
	DataDir      string
	RunDir       string
	QueueSize    int64
	LogFile      string
	LogLevel     string
	NetlinkOnly  bool
	MaxSerialSkew int64
	CleanProcessTimeout time.Duration
	FlushIdle    time.Duration
	RulesFile    string

	Outputs []OutputConfig

	// raw holds every key seen in the file, post-parse, so callers that
	// need a value not promoted to a typed field above (e.g. an output's
	// transformer options) can still retrieve it.
	raw Map
}

// OutputConfig describes one configured downstream sink.
type OutputConfig struct {
	Name          string
	Type          string // "json" or "msgpack"
	Target        string // unix socket path, or "-" for stdout
	Filters       []FilterSpecConfig
	Transform     Map
}

// FilterSpecConfig is the on-disk shape of a ProcFilterSpec.
type FilterSpecConfig struct {
	ExePattern  string   `json:"exe"`
	ArgsPattern string   `json:"args"`
	User        string   `json:"user"`
	Depth       int      `json:"depth"`
	Syscalls    []string `json:"syscalls"`
}

// Load reads and parses the config file at path, applying defaults and
// validating the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	m, err := Parse(string(data))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return fromMap(m)
}

func fromMap(m Map) (*Config, error) {
	c := &Config{
		DataDir:             DefaultDataDir,
		QueueSize:           DefaultQueueSize,
		LogLevel:            DefaultLogLevel,
		MaxSerialSkew:       DefaultMaxSerialSkew,
		CleanProcessTimeout: DefaultCleanTimeout,
		FlushIdle:           DefaultFlushIdle,
		raw:                 m,
	}

	if v, ok := m.String("data_dir"); ok {
		c.DataDir = v
	}
	if v, ok := m.String("run_dir"); ok {
		c.RunDir = v
	} else {
		c.RunDir = c.DataDir
	}
	if v, ok := m.String("log_file"); ok {
		c.LogFile = v
	}
	if v, ok := m.String("log_level"); ok {
		c.LogLevel = v
	}
	if v, ok := m.String("rules_file"); ok {
		c.RulesFile = v
	} else {
		c.RulesFile = filepath.Join(c.DataDir, "audit.rules")
	}
	if v, ok := m["queue_size"]; ok {
		sz, err := ParseSize(v)
		if err != nil {
			return nil, fmt.Errorf("queue_size: %w", err)
		}
		if sz < minQueueSize {
			sz = minQueueSize
		}
		c.QueueSize = sz
	}
	if v, ok := m["netlink_only"]; ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return nil, fmt.Errorf("netlink_only: %w", err)
		}
		c.NetlinkOnly = b
	}
	if v, ok := m["max_serial_skew"]; ok {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("max_serial_skew: %w", err)
		}
		c.MaxSerialSkew = n
	}
	if v, ok := m["clean_process_timeout"]; ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("clean_process_timeout: %w", err)
		}
		c.CleanProcessTimeout = d
	}
	if v, ok := m["flush_idle"]; ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("flush_idle: %w", err)
		}
		c.FlushIdle = d
	}

	outs, err := parseOutputs(m)
	if err != nil {
		return nil, err
	}
	c.Outputs = outs

	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func parseOutputs(m Map) ([]OutputConfig, error) {
	raw, ok := m["outputs"]
	if !ok {
		return nil, nil
	}
	var entries []struct {
		Name      string                   `json:"name"`
		Type      string                   `json:"type"`
		Target    string                   `json:"target"`
		Filters   []FilterSpecConfig       `json:"filters"`
		Transform map[string]interface{}   `json:"transform"`
	}
	if err := json.Unmarshal([]byte(raw), &entries); err != nil {
		return nil, fmt.Errorf("outputs: %w", err)
	}
	out := make([]OutputConfig, 0, len(entries))
	for _, e := range entries {
		out = append(out, OutputConfig{
			Name:      e.Name,
			Type:      e.Type,
			Target:    e.Target,
			Filters:   e.Filters,
			Transform: transformToMap(e.Transform),
		})
	}
	return out, nil
}

func transformToMap(m map[string]interface{}) Map {
	out := make(Map, len(m))
	for k, v := range m {
		switch t := v.(type) {
		case string:
			out[k] = t
		default:
			if b, err := json.Marshal(t); err == nil {
				out[k] = string(b)
			}
		}
	}
	return out
}

// Validate checks invariants that can't be caught at parse time.
func (c *Config) Validate() error {
	if c.QueueSize < minQueueSize {
		return fmt.Errorf("%w: queue_size below %d bytes", ErrInvalidValue, minQueueSize)
	}
	if _, err := ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("log_level: %w", err)
	}
	seen := make(map[string]bool, len(c.Outputs))
	for _, o := range c.Outputs {
		if o.Name == "" {
			return fmt.Errorf("%w: output missing name", ErrInvalidValue)
		}
		if seen[o.Name] {
			return fmt.Errorf("%w: duplicate output name %q", ErrInvalidValue, o.Name)
		}
		seen[o.Name] = true
		switch o.Type {
		case "json", "msgpack":
		default:
			return fmt.Errorf("%w: output %q has unknown type %q", ErrInvalidValue, o.Name, o.Type)
		}
	}
	return nil
}

// Raw returns the value for key exactly as it appeared in the config
// file (after quote/raw-string/JSON unwrapping), for callers that need
// access to keys not promoted to typed fields.
func (c *Config) Raw(key string) (string, bool) {
	return c.raw.String(key)
}

// ParseLevel is a thin wrapper so config errors cite a consistent
// sentinel regardless of which package actually knows the level names.
func ParseLevel(s string) (string, error) {
	switch strings.ToUpper(s) {
	case "OFF", "DEBUG", "INFO", "WARN", "ERROR", "CRITICAL", "FATAL":
		return strings.ToUpper(s), nil
	}
	return "", fmt.Errorf("%w: log level %q", ErrInvalidValue, s)
}

// ParseSize parses a byte count with an optional k/m/g (power-of-two)
// suffix, e.g. "64m" -> 67108864.
func ParseSize(s string) (int64, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	if s == "" {
		return 0, ErrInvalidValue
	}
	mult := int64(1)
	switch {
	case strings.HasSuffix(s, "g"):
		mult, s = gb, strings.TrimSuffix(s, "g")
	case strings.HasSuffix(s, "m"):
		mult, s = mb, strings.TrimSuffix(s, "m")
	case strings.HasSuffix(s, "k"):
		mult, s = kb, strings.TrimSuffix(s, "k")
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, err
	}
	return n * mult, nil
}

// ParseUint64 parses a decimal or 0x-prefixed hex unsigned integer.
func ParseUint64(v string) (uint64, error) {
	if strings.HasPrefix(v, "0x") {
		return strconv.ParseUint(strings.TrimPrefix(v, "0x"), 16, 64)
	}
	return strconv.ParseUint(v, 10, 64)
}
