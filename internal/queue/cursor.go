/*************************************************************************
 * Copyright 2026 The auoms Authors.
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package queue

import (
	"context"

	"github.com/auoms/auoms/internal/event"
)

// Message is a single retrieved queue entry, tagged with the sequence
// number a Checkpoint call should use to acknowledge it.
type Message struct {
	Seq     uint64
	Type    event.MsgType
	Payload []byte
}

// Cursor is one consumer's independent read position into a Queue. Each
// configured output owns exactly one.
type Cursor struct {
	q    *Queue
	name string
	pos  uint64
}

// Name returns the cursor's identifier, as passed to Queue.Cursor.
func (c *Cursor) Name() string { return c.name }

// Peek returns the next unread message without advancing the cursor. It
// blocks until a message is available or ctx is done.
func (c *Cursor) Peek(ctx context.Context) (*Message, error) {
	return c.next(ctx, false)
}

// Get returns the next unread message and advances the cursor past it.
// The advance is in-memory only until Checkpoint persists it; a crash
// between Get and Checkpoint redelivers the message on restart.
func (c *Cursor) Get(ctx context.Context) (*Message, error) {
	return c.next(ctx, true)
}

// TryGet is the non-blocking form of Get: it returns (nil, false) rather
// than waiting when nothing is available yet.
func (c *Cursor) TryGet() (*Message, bool) {
	c.q.mu.Lock()
	defer c.q.mu.Unlock()
	e, ok := c.q.entryAt(c.pos)
	if !ok {
		return nil, false
	}
	c.pos++
	return &Message{Seq: e.seq, Type: e.msgType, Payload: e.payload}, true
}

func (c *Cursor) next(ctx context.Context, advance bool) (*Message, error) {
	c.q.mu.Lock()
	for {
		if e, ok := c.q.entryAt(c.pos); ok {
			if advance {
				c.pos++
			}
			c.q.mu.Unlock()
			return &Message{Seq: e.seq, Type: e.msgType, Payload: e.payload}, nil
		}
		if c.q.closed {
			c.q.mu.Unlock()
			return nil, ErrClosed
		}
		if ctx.Err() != nil {
			c.q.mu.Unlock()
			return nil, ctx.Err()
		}
		// cond.Wait releases q.mu; wake on every commit/close and
		// re-check. A goroutine also watches ctx so cancellation
		// doesn't wait for the next broadcast.
		woken := make(chan struct{})
		go func() {
			select {
			case <-ctx.Done():
				c.q.mu.Lock()
				c.q.cond.Broadcast()
				c.q.mu.Unlock()
			case <-woken:
			}
		}()
		c.q.cond.Wait()
		close(woken)
	}
}

// Checkpoint durably records the cursor's current position and allows
// the queue to reclaim any entries no slower cursor still needs.
func (c *Cursor) Checkpoint() error {
	return c.q.checkpoint(c)
}

// Position returns the cursor's current (in-memory) read offset.
func (c *Cursor) Position() uint64 {
	c.q.mu.Lock()
	defer c.q.mu.Unlock()
	return c.pos
}
