/*************************************************************************
 * Copyright 2026 The auoms Authors.
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package supervisor

import (
	"bufio"
	"os"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/auoms/auoms/internal/logging"
)

// RuleApplier pushes a desired audit rule set into the kernel (normally
// by invoking auditctl); it is supplied by the caller so this package
// never shells out itself.
type RuleApplier interface {
	Apply(rules []string) error
}

// RulesMonitor watches the operator's rules file and, on every change,
// reparses it and calls RuleApplier.Apply with the new line set if it
// differs from what was last applied. Grounded on internal/userdb's
// fsnotify-driven watch-and-reload shape, generalized from a name cache
// to a reconciliation callback.
type RulesMonitor struct {
	path    string
	applier RuleApplier
	log     *logging.Logger

	mu      sync.Mutex
	current []string

	watcher *fsnotify.Watcher
	done    chan struct{}
	stopped chan struct{}
}

// NewRulesMonitor builds a monitor for the rules file at path. log may
// be nil.
func NewRulesMonitor(path string, applier RuleApplier, log *logging.Logger) *RulesMonitor {
	if log == nil {
		log = logging.NewDiscardLogger()
	}
	return &RulesMonitor{
		path:    path,
		applier: applier,
		log:     log,
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
}

// Start loads the rules file synchronously (so the kernel's rule set is
// reconciled before Start returns) and then watches it for changes.
func (m *RulesMonitor) Start() error {
	if err := m.reconcile(); err != nil {
		m.log.Warnf("rules: initial load of %s: %v", m.path, err)
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	m.watcher = w
	if err := w.Add(m.path); err != nil {
		m.log.Warnf("rules: watching %s: %v", m.path, err)
	}
	go m.run()
	return nil
}

// Stop stops the watcher goroutine.
func (m *RulesMonitor) Stop() {
	close(m.done)
	<-m.stopped
	if m.watcher != nil {
		m.watcher.Close()
	}
}

func (m *RulesMonitor) run() {
	defer close(m.stopped)
	for {
		select {
		case <-m.done:
			return
		case ev, ok := <-m.watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if err := m.reconcile(); err != nil {
				m.log.Warnf("rules: reconcile after %s: %v", ev.Op, err)
			}
		case err, ok := <-m.watcher.Errors:
			if !ok {
				return
			}
			m.log.Warnf("rules: watcher error: %v", err)
		}
	}
}

func (m *RulesMonitor) reconcile() error {
	rules, err := readRulesFile(m.path)
	if err != nil {
		return err
	}

	m.mu.Lock()
	unchanged := stringsEqual(m.current, rules)
	m.mu.Unlock()
	if unchanged {
		return nil
	}

	if err := m.applier.Apply(rules); err != nil {
		return err
	}

	m.mu.Lock()
	m.current = rules
	m.mu.Unlock()
	return nil
}

// CurrentRules returns the rule set last successfully applied.
func (m *RulesMonitor) CurrentRules() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.current...)
}

func readRulesFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var rules []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		rules = append(rules, line)
	}
	return rules, sc.Err()
}

func stringsEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
