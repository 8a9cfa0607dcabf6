/*************************************************************************
 * Copyright 2026 The auoms Authors.
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package queue

import "github.com/auoms/auoms/internal/event"

// Writer is a single producer transaction against a Queue. It satisfies
// event.Slot so package event's Builder can commit directly into a
// Queue without either package depending on the other's internals.
type Writer struct {
	q        *Queue
	reserved int64
	msgType  event.MsgType
	payload  []byte
	done     bool
}

// Reserve charges n bytes of capacity against the queue, blocking while
// the queue is full. Calling Reserve again before Commit/Rollback
// releases the previous reservation and charges the new size, so the
// builder can grow its payload estimate without double-charging.
func (w *Writer) Reserve(n int) error {
	if w.reserved > 0 {
		w.q.release(w.reserved)
		w.reserved = 0
	}
	if err := w.q.reserve(int64(n)); err != nil {
		return err
	}
	w.reserved = int64(n)
	return nil
}

// Put stages the final payload to be written on Commit.
func (w *Writer) Put(msgType event.MsgType, payload []byte) error {
	w.msgType = msgType
	w.payload = payload
	return nil
}

// Commit appends the staged payload to the queue's durable log and makes
// it visible to consumers.
func (w *Writer) Commit() error {
	if w.done {
		return nil
	}
	w.done = true
	return w.q.commit(w.msgType, w.payload)
}

// Rollback releases the writer's reservation without ever making the
// message visible.
func (w *Writer) Rollback() {
	if w.done {
		return
	}
	w.done = true
	if w.reserved > 0 {
		w.q.release(w.reserved)
		w.reserved = 0
	}
}
