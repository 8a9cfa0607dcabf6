/*************************************************************************
 * Copyright 2026 The auoms Authors.
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package event

import "fmt"

// Slot is the narrow interface the builder needs from the queue: a single
// append-or-replace write of the final encoded payload into a reserved
// slot, committed or abandoned as a unit. internal/queue's *Writer
// satisfies this.
type Slot interface {
	// Reserve asks for at least n bytes of backing space, growing the
	// slot by reallocating only when the current one is too small.
	Reserve(n int) error
	// Put installs the final payload as the slot's content.
	Put(msgType MsgType, payload []byte) error
	// Commit makes the slot visible to consumers.
	Commit() error
	// Rollback abandons the slot; the space is returned to the free list.
	Rollback()
}

// Builder accumulates records and fields for a single event and, on End,
// encodes and commits them into a pre-allocated queue slot. A Builder is
// not safe for concurrent use; the parser owns exactly one at a time.
type Builder struct {
	slot   Slot
	ev     *Event
	rec    *Record
	active bool
	pidSet bool // true once ev.Pid has been populated from the first record that carries one
}

// NewBuilder creates a builder bound to a queue slot reservation. Begin
// must be called before any Add* method.
func NewBuilder(slot Slot) *Builder {
	return &Builder{slot: slot}
}

// Begin starts accumulating a new event keyed by (sec, msec, serial). A
// prior unterminated event is discarded, matching the parser's behavior
// when a stream resets mid-group.
func (b *Builder) Begin(sec uint64, msec uint32, serial uint64) {
	b.ev = &Event{Sec: sec, Msec: msec, Serial: serial}
	b.rec = nil
	b.active = true
	b.pidSet = false
}

// AddRecord starts a new record within the current event.
func (b *Builder) AddRecord(typeCode uint32, typeName, rawText string) error {
	if !b.active {
		return fmt.Errorf("event: AddRecord called without Begin")
	}
	b.ev.AddRecord(Record{TypeCode: typeCode, TypeName: typeName, RawText: rawText})
	b.rec = &b.ev.Records[len(b.ev.Records)-1]
	return nil
}

// AddField appends a field to the record most recently started with
// AddRecord. The event's Pid is taken from the first record that carries
// a "pid" field; pid 0 is a valid value, so a separate seen-flag tracks
// whether it has already been populated rather than checking for zero.
func (b *Builder) AddField(name, raw string, interp string, hasInterp bool, typ FieldType) error {
	if b.rec == nil {
		return fmt.Errorf("event: AddField called without AddRecord")
	}
	b.rec.AddField(Field{Name: name, RawValue: raw, InterpValue: interp, HasInterp: hasInterp, Type: typ})
	if name == "pid" && !b.pidSet {
		if v, err := parseInt32(raw); err == nil {
			b.ev.Pid = v
			b.pidSet = true
		}
	}
	return nil
}

// SetFlags ORs extra bits (e.g. filter-engine results) into the event
// before End.
func (b *Builder) SetFlags(flags uint32) {
	if b.active {
		b.ev.Flags |= flags
	}
}

// End encodes the accumulated event and commits it to the bound slot.
// The builder is left ready for a fresh Begin.
func (b *Builder) End() error {
	if !b.active {
		return fmt.Errorf("event: End called without Begin")
	}
	payload := Encode(b.ev)
	if err := b.slot.Reserve(len(payload)); err != nil {
		b.slot.Rollback()
		b.active = false
		return err
	}
	if err := b.slot.Put(MsgEvent, payload); err != nil {
		b.slot.Rollback()
		b.active = false
		return err
	}
	err := b.slot.Commit()
	b.active = false
	b.rec = nil
	return err
}

// Cancel discards the in-progress event without writing it anywhere.
func (b *Builder) Cancel() {
	if b.active {
		b.slot.Rollback()
	}
	b.active = false
	b.rec = nil
	b.ev = nil
	b.pidSet = false
}

// EndGap encodes and commits a gap report instead of an event, used when
// the parser detects a serial discontinuity rather than a normal group.
func EndGap(slot Slot, g *GapReport) error {
	payload := EncodeGap(g)
	if err := slot.Reserve(len(payload)); err != nil {
		slot.Rollback()
		return err
	}
	if err := slot.Put(MsgEventsGap, payload); err != nil {
		slot.Rollback()
		return err
	}
	return slot.Commit()
}

func parseInt32(s string) (int32, error) {
	var v int64
	_, err := fmt.Sscanf(s, "%d", &v)
	return int32(v), err
}
