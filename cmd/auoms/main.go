/*************************************************************************
 * Copyright 2026 The auoms Authors.
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

// Command auoms is the audit-event collection and forwarding daemon: it
// reads kernel audit records (via the netlink-owning helper process or
// an auditd-written pipe), tokenizes and seals them into events in a
// durable on-disk queue, and fans the queue out to a configurable set
// of filtered, transformed outputs.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"log"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/auoms/auoms/internal/auditparse"
	"github.com/auoms/auoms/internal/config"
	"github.com/auoms/auoms/internal/event"
	"github.com/auoms/auoms/internal/filter"
	"github.com/auoms/auoms/internal/logging"
	"github.com/auoms/auoms/internal/metrics"
	"github.com/auoms/auoms/internal/output"
	"github.com/auoms/auoms/internal/proctree"
	"github.com/auoms/auoms/internal/queue"
	"github.com/auoms/auoms/internal/sink"
	"github.com/auoms/auoms/internal/supervisor"
	"github.com/auoms/auoms/internal/transform"
	"github.com/auoms/auoms/internal/userdb"
)

const (
	defConfigLoc    = `/etc/opt/auoms/auoms.conf`
	defStatusSocket = `/var/run/auoms/auomsctl.sock`

	idleFlushPeriod  = 50 * time.Millisecond
	processCleanTick = 10 * time.Second

	collectorStartDelay     = 2 * time.Second
	collectorRestartPeriod  = time.Minute
	collectorCooldownPeriod = 10 * time.Second
	collectorMaxRestarts    = 5
)

var (
	cfgFlag        = flag.String("c", defConfigLoc, "config file path")
	netlinkOnly    = flag.Bool("n", false, "force netlink collection, skip auditd-pipe probing")
	statusSockFlag = flag.String("status-socket", defStatusSocket, "status query socket path")
)

func main() {
	flag.Parse()

	cfg, err := config.Load(*cfgFlag)
	if err != nil {
		log.Fatalf("auoms: loading %s: %v", *cfgFlag, err)
	}

	lg, err := newLogger(cfg)
	if err != nil {
		log.Fatalf("auoms: opening logger: %v", err)
	}
	defer lg.Close()
	if err := lg.SetLevelString(cfg.LogLevel); err != nil {
		log.Fatalf("auoms: %v", err)
	}

	d, err := newDaemon(cfg, lg)
	if err != nil {
		lg.Criticalf("auoms: startup failed: %v", err)
		os.Exit(1)
	}

	sigCh := make(chan os.Signal, 4)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	lg.Infof("auoms: started, run mode %v", d.runMode)
	for sig := range sigCh {
		switch sig {
		case syscall.SIGHUP:
			lg.Infof("auoms: reloading config on SIGHUP")
			if err := d.reload(*cfgFlag); err != nil {
				lg.Errorf("auoms: reload failed: %v", err)
			}
		case syscall.SIGINT, syscall.SIGTERM:
			lg.Infof("auoms: shutting down on %v", sig)
			d.shutdown()
			return
		}
	}
}

func newLogger(cfg *config.Config) (*logging.Logger, error) {
	if cfg.LogFile == "" {
		return logging.New(os.Stderr), nil
	}
	return logging.NewFile(cfg.LogFile)
}

// daemon owns every long-lived component started from one Config, so a
// SIGHUP reload can tear down and rebuild just the pieces that changed
// (outputs, rules) and leave everything else (queue, process tree,
// ingestion path) running untouched.
type daemon struct {
	log *logging.Logger

	q      *queue.Queue
	db     *userdb.DB
	engine *filter.Engine
	tree   *proctree.Tree
	netl   *proctree.NetlinkListener
	reg    *metrics.Registry
	parser *auditparse.Parser

	outputs *supervisor.OutputSet
	rules   *supervisor.RulesMonitor
	status  *supervisor.StatusServer
	cleanTk *time.Ticker
	idleTk  *time.Ticker

	runMode   supervisor.RunMode
	collector *supervisor.CollectorMonitor
	pipe      *pipeReader
}

func newDaemon(cfg *config.Config, lg *logging.Logger) (*daemon, error) {
	d := &daemon{log: lg}

	q, err := queue.Open(filepath.Join(cfg.DataDir, "queue"), cfg.QueueSize)
	if err != nil {
		return nil, fmt.Errorf("queue: %w", err)
	}
	d.q = q

	db, err := userdb.New("/etc/passwd", "/etc/group", lg)
	if err != nil {
		q.Close()
		return nil, fmt.Errorf("userdb: %w", err)
	}
	if err := db.Start(); err != nil {
		q.Close()
		return nil, fmt.Errorf("userdb: %w", err)
	}
	d.db = db

	d.engine = filter.NewEngine()
	d.tree = proctree.New(d.engine, db.LookupUser, cfg.CleanProcessTimeout)
	d.tree.Start()

	netl, err := proctree.NewNetlinkListener(d.tree)
	if err != nil {
		d.unwind()
		return nil, fmt.Errorf("process connector: %w", err)
	}
	d.netl = netl
	go func() {
		if err := d.netl.Run(); err != nil {
			lg.Errorf("process connector: %v", err)
		}
	}()

	d.reg = metrics.NewRegistry()
	d.parser = auditparse.New(func() event.Slot { return d.q.Begin() }, uint64(cfg.MaxSerialSkew), cfg.FlushIdle, lg)
	d.parser.SetCounters(d.reg)

	d.runMode = supervisor.DetermineRunMode(*netlinkOnly || cfg.NetlinkOnly)
	if err := d.startIngestion(cfg); err != nil {
		d.unwind()
		return nil, err
	}

	d.outputs = supervisor.NewOutputSet(d.outputFactory(), lg)
	if err := d.outputs.Reconcile(cfg.Outputs); err != nil {
		d.unwind()
		return nil, fmt.Errorf("outputs: %w", err)
	}

	d.rules = supervisor.NewRulesMonitor(cfg.RulesFile, auditctlApplier{log: lg}, lg)
	if err := d.rules.Start(); err != nil {
		lg.Warnf("rules: %v", err)
	}

	d.status = supervisor.NewStatusServer(*statusSockFlag, d, lg)
	if err := d.status.Start(); err != nil {
		lg.Warnf("status socket: %v", err)
	}

	d.cleanTk = time.NewTicker(processCleanTick)
	go func() {
		for now := range d.cleanTk.C {
			d.tree.Clean(now)
		}
	}()
	d.idleTk = time.NewTicker(idleFlushPeriod)
	go func() {
		for now := range d.idleTk.C {
			if err := d.parser.Idle(now); err != nil {
				lg.Errorf("auditparse: idle flush: %v", err)
			}
		}
	}()

	return d, nil
}

// startIngestion begins feeding raw audit lines into d.parser according
// to the run mode already chosen: a supervised netlink-owning helper
// process, or a tailed auditd-written pipe.
func (d *daemon) startIngestion(cfg *config.Config) error {
	switch d.runMode {
	case supervisor.RunModeNetlink:
		path, err := collectorBinaryPath()
		if err != nil {
			return fmt.Errorf("locating collector helper: %w", err)
		}
		d.collector = supervisor.NewCollectorMonitor(supervisor.CollectorConfig{
			Path:           path,
			StartDelay:     collectorStartDelay,
			MaxRestarts:    collectorMaxRestarts,
			RestartPeriod:  collectorRestartPeriod,
			CooldownPeriod: collectorCooldownPeriod,
			LineHandler: func(line string) {
				if err := d.parser.FeedLine(line); err != nil {
					d.log.Errorf("auditparse: %v", err)
				}
			},
		}, d.log)
		return d.collector.Start()
	case supervisor.RunModeAuditdPipe:
		p, err := newPipeReader(filepath.Join(cfg.RunDir, "auditd.pipe"), d.parser, d.log)
		if err != nil {
			return fmt.Errorf("opening auditd pipe: %w", err)
		}
		d.pipe = p
		go p.run()
		return nil
	default:
		return fmt.Errorf("unknown run mode %v", d.runMode)
	}
}

// collectorBinaryPath resolves the helper binary alongside this one, so
// a normal package install (both binaries in the same bindir) needs no
// extra configuration; falls back to $PATH.
func collectorBinaryPath() (string, error) {
	self, err := os.Executable()
	if err == nil {
		candidate := filepath.Join(filepath.Dir(self), "auoms-collector")
		if _, statErr := os.Stat(candidate); statErr == nil {
			return candidate, nil
		}
	}
	return exec.LookPath("auoms-collector")
}

// pipeReader tails a named pipe auditd has been configured to write
// formatted text records to, feeding each line to the parser exactly
// like the netlink helper's stdout.
type pipeReader struct {
	parser *auditparse.Parser
	log    *logging.Logger
	f      *os.File
	done   chan struct{}
}

func newPipeReader(path string, p *auditparse.Parser, log *logging.Logger) (*pipeReader, error) {
	f, err := os.OpenFile(path, os.O_RDONLY, 0)
	if err != nil {
		return nil, err
	}
	return &pipeReader{parser: p, log: log, f: f, done: make(chan struct{})}, nil
}

func (p *pipeReader) run() {
	sc := bufio.NewScanner(p.f)
	sc.Buffer(make([]byte, 64*1024), 1<<20)
	for sc.Scan() {
		select {
		case <-p.done:
			return
		default:
		}
		if err := p.parser.FeedLine(sc.Text()); err != nil {
			p.log.Errorf("auditparse: %v", err)
		}
	}
	if err := sc.Err(); err != nil {
		p.log.Errorf("auditd pipe: %v", err)
	}
}

func (p *pipeReader) stop() {
	close(p.done)
	p.f.Close()
}

// outputFactory returns the OutputFactory supervisor.OutputSet uses to
// build a fresh output.Worker from a config.OutputConfig: sink format,
// transform rules, process/syscall filter specs, and the destination
// writer are all derived from the config entry, against the daemon's
// shared queue/engine/tree.
func (d *daemon) outputFactory() supervisor.OutputFactory {
	return func(oc config.OutputConfig) (*output.Worker, error) {
		snk, err := sink.New(sink.Config{Format: oc.Type, Tag: sink.Tag(oc.Name)})
		if err != nil {
			return nil, fmt.Errorf("output %s: sink: %w", oc.Name, err)
		}

		tcfg, err := transform.ConfigFromMap(map[string]string(oc.Transform))
		if err != nil {
			return nil, fmt.Errorf("output %s: transform: %w", oc.Name, err)
		}
		tr := transform.NewTransformer(tcfg)

		specs := make([]filter.ProcFilterSpec, 0, len(oc.Filters))
		for _, f := range oc.Filters {
			specs = append(specs, filter.ProcFilterSpec{
				ExePattern:  f.ExePattern,
				ArgsPattern: f.ArgsPattern,
				User:        f.User,
				Depth:       f.Depth,
				SyscallSet:  f.Syscalls,
			})
		}
		mask, err := d.engine.AddFilterList(specs, oc.Name)
		if err != nil {
			return nil, fmt.Errorf("output %s: filters: %w", oc.Name, err)
		}
		d.tree.RecomputeFlags()

		w, err := newOutputWriter(oc)
		if err != nil {
			return nil, fmt.Errorf("output %s: writer: %w", oc.Name, err)
		}

		cur := d.q.Cursor(oc.Name)
		wk := output.NewWorker(oc.Name, cur, d.engine, d.tree, tr, snk, w, d.log)
		wk.SetOutputMask(mask)
		wk.SetMetrics(d.reg)
		return wk, nil
	}
}

func newOutputWriter(oc config.OutputConfig) (output.Writer, error) {
	if oc.Target == "-" {
		return output.NewStdoutWriter(os.Stdout), nil
	}
	if oc.Target == "" {
		return nil, fmt.Errorf("missing target")
	}
	return output.NewUnixSocketWriter(oc.Target), nil
}

// auditctlApplier pushes a reconciled rule set into the running kernel
// via auditctl -R, the same mechanism auditd itself uses to load
// /etc/audit/rules.d — writing the rules to a temp file first since
// auditctl has no "read rules from stdin" form.
type auditctlApplier struct {
	log *logging.Logger
}

func (a auditctlApplier) Apply(rules []string) error {
	f, err := os.CreateTemp("", "auoms-rules-*")
	if err != nil {
		return err
	}
	defer os.Remove(f.Name())
	for _, r := range rules {
		if _, err := fmt.Fprintln(f, r); err != nil {
			f.Close()
			return err
		}
	}
	if err := f.Close(); err != nil {
		return err
	}

	path, err := exec.LookPath("auditctl")
	if err != nil {
		return fmt.Errorf("auditctl not found: %w", err)
	}
	cmd := exec.Command(path, "-R", f.Name())
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("auditctl -R: %w: %s", err, out)
	}
	a.log.Infof("rules: applied %d rules via auditctl", len(rules))
	return nil
}

// Snapshot implements supervisor.StatusProvider.
func (d *daemon) Snapshot() supervisor.StatusSnapshot {
	names := d.outputs.Names()
	statuses := make([]supervisor.OutputStatus, 0, len(names))
	for _, name := range names {
		statuses = append(statuses, supervisor.OutputStatus{
			Name:      name,
			Connected: d.reg.OutputConnected(name),
		})
	}
	return supervisor.StatusSnapshot{
		QueueDepth:     d.q.Depth(),
		QueueUsedBytes: d.q.Used(),
		MalformedCount: d.parser.MalformedCount(),
		GapCount:       d.parser.GapCount(),
		Outputs:        statuses,
	}
}

// reload re-reads path and reconciles the output set against the new
// configuration. Everything else (queue, process tree, ingestion path,
// rules file path) is fixed for the process lifetime and intentionally
// left untouched by a HUP.
func (d *daemon) reload(path string) error {
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}
	if err := d.outputs.Reconcile(cfg.Outputs); err != nil {
		return err
	}
	return d.log.SetLevelString(cfg.LogLevel)
}

// shutdown stops every component in dependency order: outputs first (so
// the queue's cursors stop advancing mid-flight), then ingestion and the
// process tree, then the shared infrastructure underneath them.
func (d *daemon) shutdown() {
	if d.status != nil {
		d.status.Stop()
	}
	if d.rules != nil {
		d.rules.Stop()
	}
	if d.outputs != nil {
		d.outputs.StopAll()
	}
	if d.cleanTk != nil {
		d.cleanTk.Stop()
	}
	if d.idleTk != nil {
		d.idleTk.Stop()
	}
	d.unwind()
}

func (d *daemon) unwind() {
	if d.collector != nil {
		d.collector.Stop()
	}
	if d.pipe != nil {
		d.pipe.stop()
	}
	if d.netl != nil {
		d.netl.Close()
	}
	if d.tree != nil {
		d.tree.Stop()
	}
	if d.db != nil {
		d.db.Stop()
	}
	if d.q != nil {
		if err := d.q.Close(); err != nil {
			d.log.Errorf("queue: close: %v", err)
		}
	}
}
