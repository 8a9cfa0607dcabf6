/*************************************************************************
 * Copyright 2026 The auoms Authors.
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package metrics

import "sync"

// syncMap lazily allocates one *int64 per output name the first time
// it's referenced, then hands back the same pointer forever so callers
// can atomic.Store/Load it without holding the map lock.
type syncMap struct {
	mu   sync.RWMutex
	vals map[string]*int64
}

func (m *syncMap) slot(name string) *int64 {
	m.mu.RLock()
	if v, ok := m.vals[name]; ok {
		m.mu.RUnlock()
		return v
	}
	m.mu.RUnlock()

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.vals == nil {
		m.vals = make(map[string]*int64)
	}
	if v, ok := m.vals[name]; ok {
		return v
	}
	v := new(int64)
	m.vals[name] = v
	return v
}

func (m *syncMap) lookup(name string) (*int64, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.vals[name]
	return v, ok
}

func (m *syncMap) names() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.vals))
	for k := range m.vals {
		out = append(out, k)
	}
	return out
}
