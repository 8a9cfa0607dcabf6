/*************************************************************************
 * Copyright 2026 The auoms Authors.
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package event

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	e := &Event{Sec: 100, Msec: 250, Serial: 42, Pid: 1234, Flags: 0x1}
	e.AddRecord(Record{TypeCode: 1300, TypeName: "SYSCALL", RawText: "type=SYSCALL msg=audit(100.250:42):"})
	e.Records[0].AddField(Field{Name: "syscall", RawValue: "59", Type: SYSCALL})
	e.Records[0].AddField(Field{Name: "uid", RawValue: "0", InterpValue: "root", HasInterp: true, Type: UID})
	e.AddRecord(Record{TypeCode: 1309, TypeName: "EXECVE", RawText: "type=EXECVE msg=audit(100.250:42):"})
	e.Records[1].AddField(Field{Name: "argc", RawValue: "2"})

	buf := Encode(e)
	got, err := Decode(buf)
	require.NoError(t, err)
	require.Equal(t, e.Sec, got.Sec)
	require.Equal(t, e.Msec, got.Msec)
	require.Equal(t, e.Serial, got.Serial)
	require.Equal(t, e.Pid, got.Pid)
	require.Equal(t, e.Flags, got.Flags)
	require.Len(t, got.Records, 2)
	require.Equal(t, "SYSCALL", got.Records[0].TypeName)
	f, ok := got.Records[0].FieldByName("uid")
	require.True(t, ok)
	require.Equal(t, "root", f.InterpValue)
	require.True(t, f.HasInterp)
}

func TestDecodeTruncatedPayloadErrors(t *testing.T) {
	e := &Event{Sec: 1, Msec: 0, Serial: 1}
	e.AddRecord(Record{TypeCode: 1300, TypeName: "SYSCALL", RawText: "x"})
	buf := Encode(e)
	_, err := Decode(buf[:len(buf)-3])
	require.Error(t, err)
}

func TestGapReportRoundTrip(t *testing.T) {
	g := &GapReport{StartSec: 1, StartMsec: 0, StartSerial: 5, EndSec: 2, EndMsec: 0, EndSerial: 9}
	buf := EncodeGap(g)
	got, err := DecodeGap(buf)
	require.NoError(t, err)
	require.Equal(t, g, got)
}

// fakeSlot is a minimal in-memory Slot used to exercise Builder without
// depending on the queue package.
type fakeSlot struct {
	reserved   int
	msgType    MsgType
	payload    []byte
	committed  bool
	rolledBack bool
}

func (s *fakeSlot) Reserve(n int) error {
	s.reserved = n
	return nil
}

func (s *fakeSlot) Put(t MsgType, payload []byte) error {
	s.msgType = t
	s.payload = append([]byte(nil), payload...)
	return nil
}

func (s *fakeSlot) Commit() error {
	s.committed = true
	return nil
}

func (s *fakeSlot) Rollback() {
	s.rolledBack = true
}

func TestBuilderEndCommitsEncodedEvent(t *testing.T) {
	slot := &fakeSlot{}
	b := NewBuilder(slot)
	b.Begin(10, 20, 30)
	require.NoError(t, b.AddRecord(1300, "SYSCALL", "raw"))
	require.NoError(t, b.AddField("pid", "4321", "", false, UNCLASSIFIED))
	require.NoError(t, b.End())

	require.True(t, slot.committed)
	require.False(t, slot.rolledBack)
	require.Equal(t, MsgEvent, slot.msgType)

	got, err := Decode(slot.payload)
	require.NoError(t, err)
	require.Equal(t, uint64(10), got.Sec)
	require.Equal(t, int32(4321), got.Pid)
}

func TestBuilderPidTakesFirstPopulatedRecord(t *testing.T) {
	slot := &fakeSlot{}
	b := NewBuilder(slot)
	b.Begin(10, 20, 30)
	require.NoError(t, b.AddRecord(1300, "SYSCALL", "raw"))
	require.NoError(t, b.AddField("pid", "100", "", false, UNCLASSIFIED))
	require.NoError(t, b.AddRecord(1309, "EXECVE", "raw"))
	require.NoError(t, b.AddField("pid", "200", "", false, UNCLASSIFIED))
	require.NoError(t, b.End())

	got, err := Decode(slot.payload)
	require.NoError(t, err)
	require.Equal(t, int32(100), got.Pid)
}

func TestBuilderPidZeroFromFirstRecordIsNotOverwritten(t *testing.T) {
	slot := &fakeSlot{}
	b := NewBuilder(slot)
	b.Begin(10, 20, 30)
	require.NoError(t, b.AddRecord(1300, "SYSCALL", "raw"))
	require.NoError(t, b.AddField("pid", "0", "", false, UNCLASSIFIED))
	require.NoError(t, b.AddRecord(1309, "EXECVE", "raw"))
	require.NoError(t, b.AddField("pid", "200", "", false, UNCLASSIFIED))
	require.NoError(t, b.End())

	got, err := Decode(slot.payload)
	require.NoError(t, err)
	require.Equal(t, int32(0), got.Pid)
}

func TestBuilderCancelRollsBack(t *testing.T) {
	slot := &fakeSlot{}
	b := NewBuilder(slot)
	b.Begin(1, 2, 3)
	require.NoError(t, b.AddRecord(1300, "SYSCALL", "raw"))
	b.Cancel()

	require.True(t, slot.rolledBack)
	require.False(t, slot.committed)
}

func TestBuilderAddFieldWithoutRecordErrors(t *testing.T) {
	slot := &fakeSlot{}
	b := NewBuilder(slot)
	b.Begin(1, 2, 3)
	err := b.AddField("x", "y", "", false, UNCLASSIFIED)
	require.Error(t, err)
}

func TestEndGapCommitsGapPayload(t *testing.T) {
	slot := &fakeSlot{}
	g := &GapReport{StartSec: 1, StartSerial: 1, EndSec: 2, EndSerial: 5}
	require.NoError(t, EndGap(slot, g))
	require.True(t, slot.committed)
	require.Equal(t, MsgEventsGap, slot.msgType)
}
