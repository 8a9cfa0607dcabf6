/*************************************************************************
 * Copyright 2026 The auoms Authors.
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package output

import (
	"bytes"
	"context"
	"errors"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/auoms/auoms/internal/event"
	"github.com/auoms/auoms/internal/filter"
	"github.com/auoms/auoms/internal/logging"
	"github.com/auoms/auoms/internal/proctree"
	"github.com/auoms/auoms/internal/queue"
	"github.com/auoms/auoms/internal/sink"
	"github.com/auoms/auoms/internal/transform"
)

var errStopping = errors.New("output: worker stopping")

// ConnStateReporter receives this output's connection transitions; the
// status socket surfaces the last-reported value per output.
// internal/metrics.Registry satisfies this without output needing to
// import metrics.
type ConnStateReporter interface {
	SetOutputConnected(name string, connected bool)
}

// Worker is one output's steady-state consumer: peek the cursor, apply
// the filter then the transformer, frame and write each resulting
// message, checkpoint once all of them are durably written. Delivery is
// at-least-once: a crash between a successful write and the next
// checkpoint redelivers the message on restart.
type Worker struct {
	name        string
	cur         *queue.Cursor
	engine      *filter.Engine
	tree        *proctree.Tree
	transformer *transform.Transformer
	sink        sink.Sink
	writer      Writer
	log         *logging.Logger
	metrics     ConnStateReporter

	outputMask atomic.Value // filter.Bitset

	stop    chan struct{}
	stopped chan struct{}
}

// NewWorker builds a Worker for one configured output.
func NewWorker(name string, cur *queue.Cursor, engine *filter.Engine, tree *proctree.Tree, tr *transform.Transformer, snk sink.Sink, w Writer, log *logging.Logger) *Worker {
	if log == nil {
		log = logging.NewDiscardLogger()
	}
	wk := &Worker{
		name: name, cur: cur, engine: engine, tree: tree,
		transformer: tr, sink: snk, writer: w, log: log,
		stop: make(chan struct{}), stopped: make(chan struct{}),
	}
	wk.outputMask.Store(filter.Bitset{})
	return wk
}

// SetOutputMask updates the bitset this output's filter spec set
// occupies, e.g. after a rules reload recomputes it.
func (w *Worker) SetOutputMask(m filter.Bitset) {
	w.outputMask.Store(m)
}

// SetMetrics wires a ConnStateReporter that will be told about every
// open/close transition of this output's writer. Optional; nil (the
// default) disables reporting.
func (w *Worker) SetMetrics(m ConnStateReporter) {
	w.metrics = m
}

func (w *Worker) reportConnected(connected bool) {
	if w.metrics != nil {
		w.metrics.SetOutputConnected(w.name, connected)
	}
}

func (w *Worker) outputMaskValue() filter.Bitset {
	return w.outputMask.Load().(filter.Bitset)
}

// Start runs the worker's consume loop in its own goroutine.
func (w *Worker) Start() {
	go w.run()
}

// Stop requests the worker finish its in-flight message and return.
func (w *Worker) Stop() {
	close(w.stop)
	<-w.stopped
}

func (w *Worker) run() {
	defer close(w.stopped)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-w.stop:
			cancel()
		case <-ctx.Done():
		}
	}()

	for {
		select {
		case <-w.stop:
			return
		default:
		}

		msg, err := w.cur.Get(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, queue.ErrClosed) {
				return
			}
			w.log.Errorf("output %s: cursor read failed: %v", w.name, err)
			continue
		}

		if err := w.deliver(msg); err != nil {
			return
		}
	}
}

func (w *Worker) deliver(msg *queue.Message) error {
	var payloads [][]byte

	switch msg.Type {
	case event.MsgEventsGap:
		g, err := event.DecodeGap(msg.Payload)
		if err != nil {
			w.log.Errorf("output %s: malformed gap slot, dropping: %v", w.name, err)
			return w.checkpoint()
		}
		b, err := w.sink.Encode(w.transformer.ApplyGap(g))
		if err != nil {
			w.log.Errorf("output %s: gap encode failed: %v", w.name, err)
			return w.checkpoint()
		}
		payloads = append(payloads, b)

	default:
		ev, err := event.Decode(msg.Payload)
		if err != nil {
			w.log.Errorf("output %s: malformed event slot, dropping: %v", w.name, err)
			return w.checkpoint()
		}
		if w.isFiltered(ev) {
			return w.checkpoint()
		}
		for _, m := range w.transformer.Apply(ev) {
			b, err := w.sink.Encode(m)
			if err != nil {
				w.log.Errorf("output %s: message encode failed: %v", w.name, err)
				continue
			}
			payloads = append(payloads, b)
		}
	}

	for _, p := range payloads {
		if stopped := w.writeWithRetry(p); stopped {
			return errStopping
		}
	}
	return w.checkpoint()
}

func (w *Worker) checkpoint() error {
	if err := w.cur.Checkpoint(); err != nil {
		w.log.Errorf("output %s: checkpoint failed: %v", w.name, err)
	}
	return nil
}

// isFiltered resolves the event's process (if any) and syscall name and
// consults the filter engine; events with no process, no syscall, or an
// all-zero output mask are never filtered (F1/F2).
func (w *Worker) isFiltered(ev *event.Event) bool {
	syscallName := ""
	for _, r := range ev.Records {
		if f, ok := r.FieldByName("syscall"); ok {
			syscallName = f.RawValue
			break
		}
	}

	var flags filter.Bitset
	hasProcess := false
	if ev.Pid != 0 {
		if snap, ok := w.tree.Snapshot(ev.Pid); ok {
			flags = snap.Flags
			hasProcess = true
		}
	}

	return w.engine.IsEventFiltered(syscallName, hasProcess, flags, w.outputMaskValue())
}

// writeWithRetry frames and writes payload, reopening the writer with
// doubling backoff (capped, reset on success) on any failure.
func (w *Worker) writeWithRetry(payload []byte) (stopped bool) {
	framed := frame(payload)
	backoff := time.Duration(0)

	for {
		if !w.writer.IsOpen() {
			if err := w.writer.Open(); err != nil {
				w.log.Warnf("output %s: open failed: %v", w.name, err)
				w.reportConnected(false)
				backoff = nextBackoff(backoff)
				if interruptibleSleep(backoff, w.stop) {
					return true
				}
				continue
			}
			backoff = 0
			w.reportConnected(true)
		}

		if err := w.writer.Write(framed); err != nil {
			w.log.Warnf("output %s: write failed: %v", w.name, err)
			w.writer.Close()
			w.reportConnected(false)
			backoff = nextBackoff(backoff)
			if interruptibleSleep(backoff, w.stop) {
				return true
			}
			continue
		}
		return false
	}
}

func frame(payload []byte) []byte {
	var buf bytes.Buffer
	buf.WriteString(strconv.Itoa(len(payload)))
	buf.WriteByte('\n')
	buf.Write(payload)
	return buf.Bytes()
}
