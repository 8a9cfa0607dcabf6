/*************************************************************************
 * Copyright 2026 The auoms Authors.
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

// Package supervisor is the daemon's supervision surface (L9): it
// restarts the helper collector process under a cooldown-throttled
// restart policy, reconciles the operator's desired audit rule set
// against the kernel's view, serves a JSON status socket, and diffs a
// reloaded config's output list against the running set on SIGHUP.
package supervisor

import (
	"bufio"
	"errors"
	"io"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/auoms/auoms/internal/logging"
	"github.com/auoms/auoms/internal/output"
)

// CollectorConfig describes how to spawn and supervise the helper
// collector binary.
type CollectorConfig struct {
	Path           string   // absolute path to cmd/auoms-collector's binary
	Args           []string
	StartDelay     time.Duration
	MaxRestarts    int
	RestartPeriod  time.Duration
	CooldownPeriod time.Duration
	// LineHandler, if set, is called with every line the collector
	// writes to stdout (one raw audit record each), on the monitor's
	// own goroutine — the caller decides how to hand it off (e.g.
	// auditparse.Parser.FeedLine).
	LineHandler func(line string)
}

const killTimeout = 10 * time.Second

// CollectorMonitor restarts the helper collector process whenever it
// exits, applying a cooldown once it has restarted MaxRestarts times
// within RestartPeriod: a goroutine that starts the child, waits on its
// exit status or a stop signal, and repeats.
type CollectorMonitor struct {
	cfg CollectorConfig
	log *logging.Logger

	mu      sync.Mutex
	wg      sync.WaitGroup
	die     chan struct{}
	running bool
}

// NewCollectorMonitor builds a monitor for cfg. log may be nil.
func NewCollectorMonitor(cfg CollectorConfig, log *logging.Logger) *CollectorMonitor {
	if log == nil {
		log = logging.NewDiscardLogger()
	}
	return &CollectorMonitor{cfg: cfg, log: log}
}

// Start begins supervising the collector process in its own goroutine.
func (m *CollectorMonitor) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return errors.New("supervisor: collector monitor already running")
	}
	m.die = make(chan struct{})
	m.running = true
	m.wg.Add(1)
	go m.run(m.die)
	return nil
}

// Stop requests the supervised process be killed and the monitor
// goroutine exit, and waits for both.
func (m *CollectorMonitor) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	close(m.die)
	m.running = false
	m.mu.Unlock()
	m.wg.Wait()
}

type exitStatus struct {
	code int
	err  error
}

func (m *CollectorMonitor) run(die chan struct{}) {
	defer m.wg.Done()

	if m.cfg.StartDelay > 0 {
		if output.InterruptibleSleep(m.cfg.StartDelay, die) {
			return
		}
	}

	rs := make([]time.Time, maxInt(m.cfg.MaxRestarts, 1))

	for {
		if d := cooldownDue(rs, m.cfg.RestartPeriod, m.cfg.CooldownPeriod); d > 0 {
			m.log.Warnf("collector: restarted too many times, cooling down for %s", d)
			if output.InterruptibleSleep(d, die) {
				return
			}
		}
		shiftRestart(rs)

		cmd := exec.Command(m.cfg.Path, m.cfg.Args...)
		exitCh := make(chan exitStatus, 1)

		var stdout io.ReadCloser
		if m.cfg.LineHandler != nil {
			var err error
			if stdout, err = cmd.StdoutPipe(); err != nil {
				m.log.Errorf("collector: stdout pipe: %v", err)
				backoff := output.NextBackoff(0)
				if output.InterruptibleSleep(backoff, die) {
					return
				}
				continue
			}
		}

		m.log.Infof("collector: starting %s %v", m.cfg.Path, m.cfg.Args)
		if err := cmd.Start(); err != nil {
			m.log.Errorf("collector: start failed: %v", err)
			backoff := output.NextBackoff(0)
			if output.InterruptibleSleep(backoff, die) {
				return
			}
			continue
		}
		if stdout != nil {
			go func(r io.ReadCloser) {
				sc := bufio.NewScanner(r)
				sc.Buffer(make([]byte, 64*1024), 1<<20)
				for sc.Scan() {
					m.cfg.LineHandler(sc.Text())
				}
			}(stdout)
		}
		go func() {
			var st exitStatus
			st.err = cmd.Wait()
			if st.err != nil {
				var exitErr *exec.ExitError
				if errors.As(st.err, &exitErr) {
					if ws, ok := exitErr.Sys().(syscall.WaitStatus); ok {
						st.code = ws.ExitStatus()
					}
				}
			}
			exitCh <- st
		}()

		select {
		case <-die:
			if cmd.Process != nil {
				m.log.Infof("collector: shutting down")
				if err := requestKill(cmd, exitCh); err != nil {
					m.log.Errorf("collector: kill failed: %v", err)
				}
			}
			return
		case st := <-exitCh:
			m.log.Warnf("collector: exited code=%d err=%v", st.code, st.err)
		}
	}
}

func requestKill(cmd *exec.Cmd, exitCh chan exitStatus) error {
	if err := cmd.Process.Signal(syscall.SIGINT); err != nil {
		return err
	}
	timeout := time.After(killTimeout)
	select {
	case <-timeout:
		err := cmd.Process.Kill()
		<-exitCh
		if err == nil {
			err = errors.New("timed out, process killed")
		}
		return err
	case st := <-exitCh:
		return st.err
	}
}

// cooldownDue checks the restart-rate limit: rs is a ring of the most
// recent restart timestamps; if the oldest one in the ring
// is still within restartPeriod, the caller has restarted too many
// times too quickly and must wait cooldownPeriod.
func cooldownDue(rs []time.Time, restartPeriod, cooldownPeriod time.Duration) time.Duration {
	if rs[0].IsZero() {
		return 0
	}
	oldest := rs[len(rs)-1]
	if oldest.IsZero() {
		return 0
	}
	if time.Since(oldest) < restartPeriod {
		return cooldownPeriod
	}
	return 0
}

func shiftRestart(rs []time.Time) {
	for i := len(rs) - 1; i > 0; i-- {
		rs[i] = rs[i-1]
	}
	rs[0] = time.Now()
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
