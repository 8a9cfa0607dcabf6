/*************************************************************************
 * Copyright 2026 The auoms Authors.
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package event

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Encode renders e as the self-describing binary payload that is placed
// into a queue slot: a consumer can walk it record by record, field by
// field, without re-parsing raw audit text.
func Encode(e *Event) []byte {
	size := 8 + 4 + 8 + 4 + 4 + 4 // sec,msec,serial,pid,flags,recordCount
	for i := range e.Records {
		size += recordSize(&e.Records[i])
	}
	buf := make([]byte, size)
	off := 0
	off = putUint64(buf, off, e.Sec)
	off = putUint32(buf, off, e.Msec)
	off = putUint64(buf, off, e.Serial)
	off = putUint32(buf, off, uint32(e.Pid))
	off = putUint32(buf, off, e.Flags)
	off = putUint32(buf, off, uint32(len(e.Records)))
	for i := range e.Records {
		off = putRecord(buf, off, &e.Records[i])
	}
	return buf[:off]
}

func recordSize(r *Record) int {
	size := 4 + lenPrefixed(r.TypeName) + lenPrefixed(r.RawText) + 4
	for i := range r.Fields {
		size += fieldSize(&r.Fields[i])
	}
	return size
}

func fieldSize(f *Field) int {
	return lenPrefixed(f.Name) + lenPrefixed(f.RawValue) + 1 + lenPrefixed(f.InterpValue) + 1
}

func lenPrefixed(s string) int { return 4 + len(s) }

func putUint64(buf []byte, off int, v uint64) int {
	binary.LittleEndian.PutUint64(buf[off:], v)
	return off + 8
}

func putUint32(buf []byte, off int, v uint32) int {
	binary.LittleEndian.PutUint32(buf[off:], v)
	return off + 4
}

func putString(buf []byte, off int, s string) int {
	off = putUint32(buf, off, uint32(len(s)))
	copy(buf[off:], s)
	return off + len(s)
}

func putRecord(buf []byte, off int, r *Record) int {
	off = putUint32(buf, off, r.TypeCode)
	off = putString(buf, off, r.TypeName)
	off = putString(buf, off, r.RawText)
	off = putUint32(buf, off, uint32(len(r.Fields)))
	for i := range r.Fields {
		off = putField(buf, off, &r.Fields[i])
	}
	return off
}

func putField(buf []byte, off int, f *Field) int {
	off = putString(buf, off, f.Name)
	off = putString(buf, off, f.RawValue)
	buf[off] = byte(f.Type)
	off++
	off = putString(buf, off, f.InterpValue)
	if f.HasInterp {
		buf[off] = 1
	} else {
		buf[off] = 0
	}
	off++
	return off
}

var errShortBuffer = errors.New("event: truncated payload")

// Decode reverses Encode. It returns an error if buf is truncated or
// otherwise malformed, so crash recovery can tell a corrupt tail slot
// from a legitimate one.
func Decode(buf []byte) (*Event, error) {
	r := &reader{buf: buf}
	e := &Event{}
	var err error
	if e.Sec, err = r.uint64(); err != nil {
		return nil, err
	}
	if e.Msec, err = r.uint32(); err != nil {
		return nil, err
	}
	if e.Serial, err = r.uint64(); err != nil {
		return nil, err
	}
	pid, err := r.uint32()
	if err != nil {
		return nil, err
	}
	e.Pid = int32(pid)
	if e.Flags, err = r.uint32(); err != nil {
		return nil, err
	}
	nrec, err := r.uint32()
	if err != nil {
		return nil, err
	}
	e.Records = make([]Record, nrec)
	for i := range e.Records {
		if err := r.record(&e.Records[i]); err != nil {
			return nil, fmt.Errorf("record %d: %w", i, err)
		}
	}
	return e, nil
}

type reader struct {
	buf []byte
	off int
}

func (r *reader) need(n int) error {
	if r.off+n > len(r.buf) {
		return errShortBuffer
	}
	return nil
}

func (r *reader) uint32() (uint32, error) {
	if err := r.need(4); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint32(r.buf[r.off:])
	r.off += 4
	return v, nil
}

func (r *reader) uint64() (uint64, error) {
	if err := r.need(8); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint64(r.buf[r.off:])
	r.off += 8
	return v, nil
}

func (r *reader) byte() (byte, error) {
	if err := r.need(1); err != nil {
		return 0, err
	}
	b := r.buf[r.off]
	r.off++
	return b, nil
}

func (r *reader) string() (string, error) {
	n, err := r.uint32()
	if err != nil {
		return "", err
	}
	if err := r.need(int(n)); err != nil {
		return "", err
	}
	s := string(r.buf[r.off : r.off+int(n)])
	r.off += int(n)
	return s, nil
}

func (r *reader) record(rec *Record) error {
	var err error
	if rec.TypeCode, err = r.uint32(); err != nil {
		return err
	}
	if rec.TypeName, err = r.string(); err != nil {
		return err
	}
	if rec.RawText, err = r.string(); err != nil {
		return err
	}
	nf, err := r.uint32()
	if err != nil {
		return err
	}
	rec.Fields = make([]Field, nf)
	for i := range rec.Fields {
		if err := r.field(&rec.Fields[i]); err != nil {
			return fmt.Errorf("field %d: %w", i, err)
		}
	}
	return nil
}

func (r *reader) field(f *Field) error {
	var err error
	if f.Name, err = r.string(); err != nil {
		return err
	}
	if f.RawValue, err = r.string(); err != nil {
		return err
	}
	t, err := r.byte()
	if err != nil {
		return err
	}
	f.Type = FieldType(t)
	if f.InterpValue, err = r.string(); err != nil {
		return err
	}
	hi, err := r.byte()
	if err != nil {
		return err
	}
	f.HasInterp = hi != 0
	return nil
}

// EncodeGap renders a GapReport as six fixed-width little-endian integers
// (the same integer encoding Encode uses), so it can share the same queue
// slot machinery under MsgEventsGap.
func EncodeGap(g *GapReport) []byte {
	buf := make([]byte, 8+4+8+8+4+8)
	off := 0
	off = putUint64(buf, off, g.StartSec)
	off = putUint32(buf, off, g.StartMsec)
	off = putUint64(buf, off, g.StartSerial)
	off = putUint64(buf, off, g.EndSec)
	off = putUint32(buf, off, g.EndMsec)
	off = putUint64(buf, off, g.EndSerial)
	return buf[:off]
}

func DecodeGap(buf []byte) (*GapReport, error) {
	r := &reader{buf: buf}
	g := &GapReport{}
	var err error
	if g.StartSec, err = r.uint64(); err != nil {
		return nil, err
	}
	if g.StartMsec, err = r.uint32(); err != nil {
		return nil, err
	}
	if g.StartSerial, err = r.uint64(); err != nil {
		return nil, err
	}
	if g.EndSec, err = r.uint64(); err != nil {
		return nil, err
	}
	if g.EndMsec, err = r.uint32(); err != nil {
		return nil, err
	}
	if g.EndSerial, err = r.uint64(); err != nil {
		return nil, err
	}
	return g, nil
}
