/*************************************************************************
 * Copyright 2026 The auoms Authors.
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

// Package metrics holds the small set of in-process counters the status
// socket reports: malformed-record and gap counts, and per-output
// connection state. The actual metrics *reporter* (whatever remote
// system these counters eventually feed) is an external collaborator
// outside this repo's scope; this package only owns the counters
// themselves and a way to read them back.
package metrics

import "sync/atomic"

// Registry is a set of named, concurrency-safe counters. The zero value
// is ready to use.
type Registry struct {
	malformed int64
	gaps      int64

	outputs syncMap // name -> *int64 (1 = connected, 0 = not)
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// IncMalformed records one malformed-record drop, mirroring
// auditparse.Parser's own MalformedCount so the status socket can report
// it without internal/metrics importing internal/auditparse.
func (r *Registry) IncMalformed() { atomic.AddInt64(&r.malformed, 1) }

// Malformed returns the total malformed-record count observed so far.
func (r *Registry) Malformed() int64 { return atomic.LoadInt64(&r.malformed) }

// IncGap records one emitted EVENTS_GAP.
func (r *Registry) IncGap() { atomic.AddInt64(&r.gaps, 1) }

// Gaps returns the total gap count observed so far.
func (r *Registry) Gaps() int64 { return atomic.LoadInt64(&r.gaps) }

// SetOutputConnected records whether output name's writer currently has
// an open connection, for the status socket's per-output view.
func (r *Registry) SetOutputConnected(name string, connected bool) {
	slot := r.outputs.slot(name)
	v := int64(0)
	if connected {
		v = 1
	}
	atomic.StoreInt64(slot, v)
}

// OutputConnected reports the last-recorded connection state for name;
// an output never seen reports false.
func (r *Registry) OutputConnected(name string) bool {
	slot, ok := r.outputs.lookup(name)
	if !ok {
		return false
	}
	return atomic.LoadInt64(slot) != 0
}

// OutputNames returns every output name that has ever called
// SetOutputConnected, in no particular order.
func (r *Registry) OutputNames() []string {
	return r.outputs.names()
}
