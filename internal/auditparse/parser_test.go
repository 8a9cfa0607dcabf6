/*************************************************************************
 * Copyright 2026 The auoms Authors.
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package auditparse

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/auoms/auoms/internal/event"
	"github.com/auoms/auoms/internal/queue"
)

func newTestQueue(t *testing.T) *queue.Queue {
	t.Helper()
	q, err := queue.Open(t.TempDir(), 1<<20)
	require.NoError(t, err)
	t.Cleanup(func() { q.Close() })
	return q
}

func TestParserSealsOnSerialChange(t *testing.T) {
	q := newTestQueue(t)
	p := New(func() event.Slot { return q.Begin() }, 1000, time.Hour, nil)

	require.NoError(t, p.FeedLine(`type=SYSCALL msg=audit(100.000:50): syscall=59 success=yes exit=0 uid=0 gid=0`))
	require.NoError(t, p.FeedLine(`type=SYSCALL msg=audit(100.000:51): syscall=2 success=yes exit=0 uid=0 gid=0`))

	cur := q.Cursor("out1")
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	msg, err := cur.Get(ctx)
	require.NoError(t, err)
	ev, err := event.Decode(msg.Payload)
	require.NoError(t, err)
	require.Equal(t, uint64(50), ev.Serial)
	require.Len(t, ev.Records, 1)
}

func TestParserSealsOnEOE(t *testing.T) {
	q := newTestQueue(t)
	p := New(func() event.Slot { return q.Begin() }, 1000, time.Hour, nil)

	require.NoError(t, p.FeedLine(`type=SYSCALL msg=audit(1.0:1): syscall=59 uid=0`))
	require.NoError(t, p.FeedLine(`type=EOE msg=audit(1.0:1):`))
	require.NoError(t, p.FeedLine(`type=SYSCALL msg=audit(1.0:2): syscall=2 uid=0`))

	cur := q.Cursor("out1")
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	msg, err := cur.Get(ctx)
	require.NoError(t, err)
	ev, err := event.Decode(msg.Payload)
	require.NoError(t, err)
	require.Equal(t, uint64(1), ev.Serial)
	require.Len(t, ev.Records, 2) // SYSCALL + EOE
}

func TestParserUidGidFieldsLeftUninterpreted(t *testing.T) {
	q := newTestQueue(t)
	p := New(func() event.Slot { return q.Begin() }, 1000, time.Hour, nil)
	require.NoError(t, p.FeedLine(`type=SYSCALL msg=audit(1.0:1): syscall=59 uid=1000 gid=1000`))
	require.NoError(t, p.FeedLine(`type=SYSCALL msg=audit(1.0:2): syscall=2 uid=0 gid=0`))

	cur := q.Cursor("out1")
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	msg, err := cur.Get(ctx)
	require.NoError(t, err)
	ev, err := event.Decode(msg.Payload)
	require.NoError(t, err)
	f, ok := ev.Records[0].FieldByName("uid")
	require.True(t, ok)
	require.Equal(t, event.UID, f.Type)
	require.False(t, f.HasInterp)
	require.Equal(t, "1000", f.RawValue)
}

func TestParserExecveCoalescesArgv(t *testing.T) {
	q := newTestQueue(t)
	p := New(func() event.Slot { return q.Begin() }, 1000, time.Hour, nil)
	require.NoError(t, p.FeedLine(`type=EXECVE msg=audit(1.0:1): argc=3 a0="ls" a1="-l" a2="/tmp"`))
	require.NoError(t, p.FeedLine(`type=SYSCALL msg=audit(1.0:2): syscall=59`))

	cur := q.Cursor("out1")
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	msg, err := cur.Get(ctx)
	require.NoError(t, err)
	ev, err := event.Decode(msg.Payload)
	require.NoError(t, err)
	f, ok := ev.Records[0].FieldByName("cmdline")
	require.True(t, ok)
	require.Equal(t, "ls -l /tmp", f.RawValue)
}

func TestParserMalformedLineDropped(t *testing.T) {
	q := newTestQueue(t)
	p := New(func() event.Slot { return q.Begin() }, 1000, time.Hour, nil)
	require.NoError(t, p.FeedLine(`this is not an audit record`))
	require.Equal(t, 1, p.MalformedCount())

	require.NoError(t, p.FeedLine(`type=SYSCALL msg=audit(1.0:1): syscall=59`))
	require.NoError(t, p.FeedLine(`type=SYSCALL msg=audit(1.0:2): syscall=2`))
	cur := q.Cursor("out1")
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	msg, err := cur.Get(ctx)
	require.NoError(t, err)
	ev, err := event.Decode(msg.Payload)
	require.NoError(t, err)
	require.Equal(t, uint64(1), ev.Serial)
}

// TestParserEventGap covers a gap scenario: serials
// ..., 100, 101, 200, 201 — after 101 seals and before 200 seals, a gap
// slot covering [102,199] is committed.
func TestParserEventGap(t *testing.T) {
	q := newTestQueue(t)
	p := New(func() event.Slot { return q.Begin() }, 1, time.Hour, nil)

	require.NoError(t, p.FeedLine(`type=SYSCALL msg=audit(1.0:100): syscall=1`))
	require.NoError(t, p.FeedLine(`type=SYSCALL msg=audit(1.0:101): syscall=1`))
	require.NoError(t, p.FeedLine(`type=SYSCALL msg=audit(1.0:200): syscall=1`))
	require.NoError(t, p.FeedLine(`type=SYSCALL msg=audit(1.0:201): syscall=1`))
	require.NoError(t, p.Idle(time.Now().Add(time.Hour)))

	cur := q.Cursor("out1")
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	var gotGap *event.GapReport
	for i := 0; i < 4; i++ {
		msg, err := cur.Get(ctx)
		require.NoError(t, err)
		if msg.Type == event.MsgEventsGap {
			gotGap, err = event.DecodeGap(msg.Payload)
			require.NoError(t, err)
			break
		}
	}
	require.NotNil(t, gotGap, "expected a gap slot between serial 101 and 200")
	require.Equal(t, uint64(102), gotGap.StartSerial)
	require.Equal(t, uint64(199), gotGap.EndSerial)
}
