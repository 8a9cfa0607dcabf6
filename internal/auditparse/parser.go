/*************************************************************************
 * Copyright 2026 The auoms Authors.
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

// Package auditparse tokenizes the textual audit record stream into
// structured events, grouping consecutive records that share
// (sec,msec,serial) and handing sealed groups to an event.Builder bound
// to the durable queue.
package auditparse

import (
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/auoms/auoms/internal/event"
	"github.com/auoms/auoms/internal/logging"
)

var headerRe = regexp.MustCompile(`^type=(\S+)\s+msg=audit\((\d+)\.(\d+):(\d+)\):\s?(.*)$`)

// SlotFactory returns a fresh writer transaction bound to the
// destination queue; Parser calls it once per sealed event or gap.
type SlotFactory func() event.Slot

// Parser accumulates textual audit records and seals them into events.
// Its state is guarded by mu, so the periodic Idle flush may run on a
// different goroutine from the input loop that calls FeedLine; records
// are still expected to arrive from a single input loop, in stream order.
type Parser struct {
	newSlot   SlotFactory
	log       *logging.Logger
	maxSkew   uint64
	flushIdle time.Duration

	mu sync.Mutex

	haveCur           bool
	curSec            uint64
	curMsec           uint32
	curSerial         uint64
	builder           *event.Builder
	lastFlush         time.Time

	haveLast   bool
	lastSealed struct {
		sec, serial uint64
		msec        uint32
	}

	malformedCount int
	gapCount       int

	counters Counters
}

// Counters receives parse-outcome events as they happen; the status
// socket's Malformed/Gap counts ultimately come from here.
// internal/metrics.Registry satisfies this.
type Counters interface {
	IncMalformed()
	IncGap()
}

// New creates a Parser that commits sealed events via newSlot.
func New(newSlot SlotFactory, maxSkew uint64, flushIdle time.Duration, log *logging.Logger) *Parser {
	if log == nil {
		log = logging.NewDiscardLogger()
	}
	return &Parser{newSlot: newSlot, maxSkew: maxSkew, flushIdle: flushIdle, log: log, lastFlush: time.Now()}
}

// SetCounters attaches c as the sink for malformed/gap counter events.
func (p *Parser) SetCounters(c Counters) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.counters = c
}

// FeedLine parses a single textual audit record line. Malformed lines
// are dropped (counted, logged) without disturbing serial tracking,
// matching the "skip to the next type= anchor" failure semantics: the
// next well-formed line simply resumes grouping.
func (p *Parser) FeedLine(line string) error {
	line = strings.TrimRight(line, "\r\n")
	if line == "" {
		return nil
	}
	m := headerRe.FindStringSubmatch(line)
	if m == nil {
		p.mu.Lock()
		p.malformedCount++
		c := p.counters
		p.mu.Unlock()
		if c != nil {
			c.IncMalformed()
		}
		p.log.Warnf("auditparse: malformed record, dropping: %.80s", line)
		return nil
	}

	typeName := m[1]
	sec, _ := strconv.ParseUint(m[2], 10, 64)
	msec64, _ := strconv.ParseUint(m[3], 10, 32)
	msec := uint32(msec64)
	serial, _ := strconv.ParseUint(m[4], 10, 64)
	rest := m[5]

	fields := parseFields(typeName, rest)
	if typeName == "EXECVE" {
		fields = coalesceExecve(fields)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.haveCur && (sec != p.curSec || msec != p.curMsec || serial != p.curSerial) {
		if err := p.sealLocked(); err != nil {
			return err
		}
	}

	if !p.haveCur {
		if err := p.beginLocked(sec, msec, serial); err != nil {
			return err
		}
	}

	if err := p.builder.AddRecord(recordCode(typeName), typeName, line); err != nil {
		return err
	}
	for _, f := range fields {
		if err := p.builder.AddField(f.Name, f.RawValue, f.InterpValue, f.HasInterp, f.Type); err != nil {
			return err
		}
	}

	if typeName == "EOE" {
		return p.sealLocked()
	}
	return nil
}

// Idle is called periodically by the input loop; if more than
// flushIdle has elapsed since the last seal and an event is in
// progress, it is sealed now rather than held indefinitely waiting for
// a serial change that may never come (e.g. the stream goes quiet).
func (p *Parser) Idle(now time.Time) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.haveCur {
		return nil
	}
	if now.Sub(p.lastFlush) < p.flushIdle {
		return nil
	}
	return p.sealLocked()
}

func (p *Parser) beginLocked(sec uint64, msec uint32, serial uint64) error {
	if p.haveLast {
		if serial < p.lastSealed.serial || serial-p.lastSealed.serial > p.maxSkew {
			if err := p.emitGapLocked(serial); err != nil {
				return err
			}
		}
	}
	p.builder = event.NewBuilder(p.newSlot())
	p.builder.Begin(sec, msec, serial)
	p.curSec, p.curMsec, p.curSerial = sec, msec, serial
	p.haveCur = true
	return nil
}

func (p *Parser) sealLocked() error {
	if !p.haveCur {
		return nil
	}
	err := p.builder.End()
	p.lastSealed.sec, p.lastSealed.msec, p.lastSealed.serial = p.curSec, p.curMsec, p.curSerial
	p.haveLast = true
	p.haveCur = false
	p.builder = nil
	p.lastFlush = time.Now()
	return err
}

// emitGapLocked commits a standalone EVENTS_GAP slot covering the range
// strictly between the last sealed serial and the serial about to
// start, so [start,end] describes exactly what was never observed.
func (p *Parser) emitGapLocked(newSerial uint64) error {
	g := &event.GapReport{
		StartSec:    p.lastSealed.sec,
		StartMsec:   p.lastSealed.msec,
		StartSerial: p.lastSealed.serial + 1,
		EndSec:      p.lastSealed.sec,
		EndMsec:     p.lastSealed.msec,
		EndSerial:   newSerial - 1,
	}
	p.gapCount++
	if p.counters != nil {
		p.counters.IncGap()
	}
	return event.EndGap(p.newSlot(), g)
}

// MalformedCount returns the running count of dropped malformed records,
// consulted by the metrics reporter.
func (p *Parser) MalformedCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.malformedCount
}

// GapCount returns the running count of detected serial gaps.
func (p *Parser) GapCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.gapCount
}

// recordCode hashes a record type name into a stable numeric code when
// no kernel-assigned numeric type is available to the text parser (the
// kernel's own AUDIT_* numeric constants are a fixed, open-ended list we
// don't reproduce here); it only needs to be stable within one process.
func recordCode(name string) uint32 {
	var h uint32 = 2166136261
	for i := 0; i < len(name); i++ {
		h ^= uint32(name[i])
		h *= 16777619
	}
	return h
}
