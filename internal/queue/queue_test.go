/*************************************************************************
 * Copyright 2026 The auoms Authors.
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package queue

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/auoms/auoms/internal/event"
)

func writeMessage(t *testing.T, q *Queue, payload []byte) {
	t.Helper()
	w := q.Begin()
	require.NoError(t, w.Reserve(len(payload)))
	require.NoError(t, w.Put(event.MsgEvent, payload))
	require.NoError(t, w.Commit())
}

func TestQueueRoundTrip(t *testing.T) {
	dir := t.TempDir()
	q, err := Open(dir, 1<<20)
	require.NoError(t, err)
	defer q.Close()

	writeMessage(t, q, []byte("hello"))

	cur := q.Cursor("out1")
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	msg, err := cur.Get(ctx)
	require.NoError(t, err)
	require.Equal(t, []byte("hello"), msg.Payload)
}

func TestQueueBackpressureBlocksAllocateUntilConsumerDrains(t *testing.T) {
	dir := t.TempDir()
	// Small enough that a second message can't fit until the first is
	// reclaimed.
	q, err := Open(dir, 96)
	require.NoError(t, err)
	defer q.Close()

	writeMessage(t, q, make([]byte, 40))

	done := make(chan struct{})
	go func() {
		writeMessage(t, q, make([]byte, 40))
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("second allocate should have blocked while queue is full")
	case <-time.After(100 * time.Millisecond):
	}

	cur := q.Cursor("out1")
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err = cur.Get(ctx)
	require.NoError(t, err)
	require.NoError(t, cur.Checkpoint())

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("second allocate should have unblocked after checkpoint reclaimed space")
	}
}

func TestQueueTryGetNonBlocking(t *testing.T) {
	dir := t.TempDir()
	q, err := Open(dir, 1<<20)
	require.NoError(t, err)
	defer q.Close()

	cur := q.Cursor("out1")
	_, ok := cur.TryGet()
	require.False(t, ok)

	writeMessage(t, q, []byte("x"))
	msg, ok := cur.TryGet()
	require.True(t, ok)
	require.Equal(t, []byte("x"), msg.Payload)
}

func TestQueueMultiConsumerIndependentCursors(t *testing.T) {
	dir := t.TempDir()
	q, err := Open(dir, 1<<20)
	require.NoError(t, err)
	defer q.Close()

	writeMessage(t, q, []byte("a"))
	writeMessage(t, q, []byte("b"))

	fast := q.Cursor("fast")
	slow := q.Cursor("slow")

	ctx := context.Background()
	m1, err := fast.Get(ctx)
	require.NoError(t, err)
	m2, err := fast.Get(ctx)
	require.NoError(t, err)
	require.Equal(t, []byte("a"), m1.Payload)
	require.Equal(t, []byte("b"), m2.Payload)

	// slow hasn't checkpointed anything yet; it should still see both.
	s1, err := slow.Get(ctx)
	require.NoError(t, err)
	require.Equal(t, []byte("a"), s1.Payload)
}

func TestQueueReopenRecoversUncommittedlessLog(t *testing.T) {
	dir := t.TempDir()
	q, err := Open(dir, 1<<20)
	require.NoError(t, err)
	writeMessage(t, q, []byte("persisted"))
	require.NoError(t, q.Close())

	q2, err := Open(dir, 1<<20)
	require.NoError(t, err)
	defer q2.Close()

	cur := q2.Cursor("out1")
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	msg, err := cur.Get(ctx)
	require.NoError(t, err)
	require.Equal(t, []byte("persisted"), msg.Payload)
}

func TestQueueCursorSurvivesRestartAfterCheckpointReclaim(t *testing.T) {
	dir := t.TempDir()
	q, err := Open(dir, 1<<20)
	require.NoError(t, err)

	cur := q.Cursor("out")
	ctx := context.Background()

	writeMessage(t, q, []byte("a"))
	writeMessage(t, q, []byte("b"))

	// Consume and checkpoint both messages, reclaiming them and pushing
	// the retained window's baseline past seq 0.
	_, err = cur.Get(ctx)
	require.NoError(t, err)
	_, err = cur.Get(ctx)
	require.NoError(t, err)
	require.NoError(t, cur.Checkpoint())

	// Committed after the checkpoint; never read or checkpointed before
	// the restart, so it must still be delivered afterward.
	writeMessage(t, q, []byte("c"))

	require.NoError(t, q.Close())

	q2, err := Open(dir, 1<<20)
	require.NoError(t, err)
	defer q2.Close()

	cur2 := q2.Cursor("out")
	ctx2, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	msg, err := cur2.Get(ctx2)
	require.NoError(t, err)
	require.Equal(t, []byte("c"), msg.Payload)
}

func TestQueueSecondOpenIsLocked(t *testing.T) {
	dir := t.TempDir()
	q, err := Open(dir, 1<<20)
	require.NoError(t, err)
	defer q.Close()

	_, err = Open(dir, 1<<20)
	require.ErrorIs(t, err, ErrLocked)
}

func TestQueueMessageLargerThanCapacityErrors(t *testing.T) {
	dir := t.TempDir()
	q, err := Open(dir, 64)
	require.NoError(t, err)
	defer q.Close()

	w := q.Begin()
	err = w.Reserve(1000)
	require.ErrorIs(t, err, ErrTooLarge)
}
