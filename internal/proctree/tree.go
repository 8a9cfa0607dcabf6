/*************************************************************************
 * Copyright 2026 The auoms Authors.
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package proctree

import (
	"sync"
	"time"

	"github.com/auoms/auoms/internal/filter"
)

// UserLookup resolves a uid to a username for spec matching; nil means
// "no name available" for every uid, which still lets exe/args-only
// specs match correctly.
type UserLookup func(uid int32) (string, bool)

type command interface{ apply(t *Tree) }

type forkCmd struct{ pid, ppid int32 }
type pnotifyExecCmd struct{ pid int32 }
type execveCmd struct {
	pid, ppid, uid, gid int32
	exe, cmdline        string
}
type exitCmd struct{ pid int32 }
type cleanCmd struct{ now time.Time }
type recomputeCmd struct{}

// Tree is the live process table. All structural mutation happens on a
// single internal goroutine processing a FIFO command queue (a buffered
// channel stands in for the source system's condvar-gated command
// queue); readers call Snapshot, which takes only the target item's own
// lock.
type Tree struct {
	tableMu sync.RWMutex
	items   map[int32]*itemBox

	engine       *filter.Engine
	lookupUser   UserLookup
	cleanTimeout time.Duration

	cmds    chan command
	stop    chan struct{}
	stopped chan struct{}
}

type itemBox struct {
	mu   sync.Mutex
	item Item
}

// New creates a Tree bound to engine (consulted for flag propagation)
// and lookupUser (consulted to resolve a ProcFilterSpec's `user` match).
func New(engine *filter.Engine, lookupUser UserLookup, cleanTimeout time.Duration) *Tree {
	if lookupUser == nil {
		lookupUser = func(int32) (string, bool) { return "", false }
	}
	return &Tree{
		items:        make(map[int32]*itemBox),
		engine:       engine,
		lookupUser:   lookupUser,
		cleanTimeout: cleanTimeout,
		cmds:         make(chan command, 4096),
		stop:         make(chan struct{}),
		stopped:      make(chan struct{}),
	}
}

// Start launches the single mutator goroutine. Stop blocks until it
// exits.
func (t *Tree) Start() {
	go t.run()
}

// Stop asks the mutator goroutine to exit once its queue drains, and
// waits for it.
func (t *Tree) Stop() {
	close(t.stop)
	<-t.stopped
}

func (t *Tree) run() {
	defer close(t.stopped)
	for {
		select {
		case cmd := <-t.cmds:
			cmd.apply(t)
		case <-t.stop:
			// drain whatever is already queued before exiting, so a
			// FORK enqueued just before shutdown is never lost if its
			// matching execve is already queued behind it.
			for {
				select {
				case cmd := <-t.cmds:
					cmd.apply(t)
				default:
					return
				}
			}
		}
	}
}

// Fork enqueues a PROC_EVENT_FORK delta from the netlink listener.
func (t *Tree) Fork(pid, ppid int32) { t.enqueue(forkCmd{pid, ppid}) }

// PnotifyExec enqueues a PROC_EVENT_EXEC delta from the netlink listener.
func (t *Tree) PnotifyExec(pid int32) { t.enqueue(pnotifyExecCmd{pid}) }

// Exit enqueues a PROC_EVENT_EXIT delta from the netlink listener.
func (t *Tree) Exit(pid int32) { t.enqueue(exitCmd{pid}) }

// Execve enqueues an authoritative execve observation tapped off the
// audit parser.
func (t *Tree) Execve(pid, ppid, uid, gid int32, exe, cmdline string) {
	t.enqueue(execveCmd{pid, ppid, uid, gid, exe, cmdline})
}

// Clean enqueues a sweep that physically removes processes that have
// been exited for longer than the configured clean timeout.
func (t *Tree) Clean(now time.Time) { t.enqueue(cleanCmd{now}) }

// RecomputeFlags enqueues a full flag-propagation pass over every
// process, used after the filter engine's registered spec set changes.
func (t *Tree) RecomputeFlags() { t.enqueue(recomputeCmd{}) }

// Sync blocks until every command enqueued before this call has been
// applied. Callers (and tests) that need a just-enqueued event to be
// visible to Snapshot use this instead of polling.
func (t *Tree) Sync() {
	done := make(chan struct{})
	t.enqueue(syncCmd{done})
	<-done
}

type syncCmd struct{ done chan struct{} }

func (c syncCmd) apply(t *Tree) { close(c.done) }

func (t *Tree) enqueue(c command) {
	select {
	case t.cmds <- c:
	case <-t.stop:
	}
}

// Snapshot returns a point-in-time copy of pid's entry, or false if pid
// is unknown.
func (t *Tree) Snapshot(pid int32) (Snapshot, bool) {
	t.tableMu.RLock()
	box, ok := t.items[pid]
	t.tableMu.RUnlock()
	if !ok {
		return Snapshot{}, false
	}
	box.mu.Lock()
	defer box.mu.Unlock()
	return box.item.snapshot(), true
}

func (t *Tree) getOrCreateLocked(pid int32) *itemBox {
	if box, ok := t.items[pid]; ok {
		return box
	}
	box := &itemBox{item: Item{Pid: pid}}
	t.items[pid] = box
	return box
}

func (c forkCmd) apply(t *Tree) {
	t.tableMu.Lock()
	parent, hasParent := t.items[c.ppid]
	child := t.getOrCreateLocked(c.pid)
	t.tableMu.Unlock()

	child.mu.Lock()
	child.item.Ppid = c.ppid
	if hasParent {
		parent.mu.Lock()
		child.item.Uid = parent.item.Uid
		child.item.Gid = parent.item.Gid
		child.item.Exe = parent.item.Exe
		child.item.Cmdline = parent.item.Cmdline
		child.item.ContainerID = parent.item.ContainerID
		child.item.Ancestors = append(append([]Ancestor(nil), parent.item.Ancestors...), Ancestor{Pid: c.ppid, Exe: parent.item.Exe})
		parent.mu.Unlock()
	} else {
		child.item.Ancestors = []Ancestor{{Pid: c.ppid}}
	}
	child.item.Source = SourcePnotify
	child.mu.Unlock()

	if hasParent {
		t.tableMu.Lock()
		parent.mu.Lock()
		parent.item.Children = appendUnique(parent.item.Children, c.pid)
		parent.mu.Unlock()
		t.tableMu.Unlock()
	}

	t.applyFlags(child)
}

func (c pnotifyExecCmd) apply(t *Tree) {
	t.tableMu.RLock()
	box, ok := t.items[c.pid]
	t.tableMu.RUnlock()
	if !ok {
		return
	}
	box.mu.Lock()
	box.item.ExecPropagation++
	box.mu.Unlock()
}

func (c execveCmd) apply(t *Tree) {
	t.tableMu.Lock()
	box := t.getOrCreateLocked(c.pid)
	oldParent, hadOldParent := t.items[box.item.Ppid]
	newParent, hasNewParent := t.items[c.ppid]
	t.tableMu.Unlock()

	box.mu.Lock()
	reparented := box.item.Ppid != c.ppid && box.item.Ppid != 0
	oldPpid := box.item.Ppid
	box.item.Ppid = c.ppid
	box.item.Uid = c.uid
	box.item.Gid = c.gid
	box.item.Exe = c.exe
	box.item.Cmdline = c.cmdline
	if cid, ok := extractContainerID(c.exe, c.cmdline); ok {
		box.item.ContainerID = cid
	} else if box.item.ContainerID == "" && hasNewParent {
		newParent.mu.Lock()
		box.item.ContainerID = newParent.item.ContainerID
		newParent.mu.Unlock()
	}
	parentExe := ""
	if hasNewParent {
		newParent.mu.Lock()
		parentExe = newParent.item.Exe
		newParent.mu.Unlock()
	}
	box.item.Ancestors = append(box.item.Ancestors, Ancestor{Pid: c.ppid, Exe: parentExe})
	if box.item.ExecPropagation > 0 {
		box.item.ExecPropagation--
	}
	box.item.Source = SourceExecve
	pending := box.item.ExecPropagation > 0
	box.mu.Unlock()

	if reparented && hadOldParent && oldPpid != c.ppid {
		oldParent.mu.Lock()
		oldParent.item.Children = removeValue(oldParent.item.Children, c.pid)
		oldParent.mu.Unlock()
	}
	if hasNewParent {
		newParent.mu.Lock()
		newParent.item.Children = appendUnique(newParent.item.Children, c.pid)
		newParent.mu.Unlock()
	}

	t.applyFlags(box)

	if pending {
		t.cascadePendingChildren(box)
	}
}

// cascadePendingChildren re-propagates authoritative fields to any child
// still waiting on its own execve (exec_propagation > 0), mirroring what
// a fresh FORK from this now-authoritative parent would have produced.
func (t *Tree) cascadePendingChildren(box *itemBox) {
	box.mu.Lock()
	children := append([]int32(nil), box.item.Children...)
	box.mu.Unlock()

	t.tableMu.RLock()
	var childBoxes []*itemBox
	for _, cpid := range children {
		if cb, ok := t.items[cpid]; ok {
			childBoxes = append(childBoxes, cb)
		}
	}
	t.tableMu.RUnlock()

	for _, cb := range childBoxes {
		cb.mu.Lock()
		if cb.item.ExecPropagation == 0 || cb.item.Source == SourceExecve {
			cb.mu.Unlock()
			continue
		}
		box.mu.Lock()
		cb.item.Uid = box.item.Uid
		cb.item.Gid = box.item.Gid
		cb.item.Exe = box.item.Exe
		cb.item.Cmdline = box.item.Cmdline
		cb.item.ContainerID = box.item.ContainerID
		box.mu.Unlock()
		cb.mu.Unlock()
		t.applyFlags(cb)
	}
}

func (c exitCmd) apply(t *Tree) {
	t.tableMu.RLock()
	box, ok := t.items[c.pid]
	t.tableMu.RUnlock()
	if !ok {
		return
	}
	box.mu.Lock()
	box.item.Exited = true
	box.item.ExitTime = time.Now()
	box.mu.Unlock()
}

func (c cleanCmd) apply(t *Tree) {
	t.tableMu.Lock()
	defer t.tableMu.Unlock()
	for pid, box := range t.items {
		box.mu.Lock()
		exited := box.item.Exited
		exitTime := box.item.ExitTime
		ppid := box.item.Ppid
		box.mu.Unlock()
		if exited && c.now.Sub(exitTime) >= t.cleanTimeout {
			delete(t.items, pid)
			if parent, ok := t.items[ppid]; ok {
				parent.mu.Lock()
				parent.item.Children = removeValue(parent.item.Children, pid)
				parent.mu.Unlock()
			}
		}
	}
}

func (c recomputeCmd) apply(t *Tree) {
	t.tableMu.RLock()
	boxes := make([]*itemBox, 0, len(t.items))
	for _, b := range t.items {
		boxes = append(boxes, b)
	}
	t.tableMu.RUnlock()
	for _, b := range boxes {
		t.applyFlags(b)
	}
}

// applyFlags computes box's filter bitset: the engine's match at height
// 0 against the process itself, OR'd with matches against ancestors
// walked tallest (root) first, stopping as soon as the accumulated set
// is non-empty.
func (t *Tree) applyFlags(box *itemBox) {
	if t.engine == nil {
		return
	}
	box.mu.Lock()
	self := box.item.matchInput()
	if name, ok := t.lookupUser(box.item.Uid); ok {
		self.User = name
	}
	ancestors := append([]Ancestor(nil), box.item.Ancestors...)
	box.mu.Unlock()

	flags := t.engine.MatchAtHeight(self, 0)
	if flags.IsZero() {
		for i := range ancestors {
			height := len(ancestors) - i
			t.tableMu.RLock()
			abox, ok := t.items[ancestors[i].Pid]
			t.tableMu.RUnlock()
			var in filter.MatchInput
			if ok {
				abox.mu.Lock()
				in = abox.item.matchInput()
				auid := abox.item.Uid
				abox.mu.Unlock()
				if name, ok := t.lookupUser(auid); ok {
					in.User = name
				}
			} else {
				in = filter.MatchInput{Exe: ancestors[i].Exe}
			}
			flags = flags.Union(t.engine.MatchAtHeight(in, height))
			if !flags.IsZero() {
				break
			}
		}
	}

	box.mu.Lock()
	box.item.Flags = flags
	box.mu.Unlock()
}

func appendUnique(s []int32, v int32) []int32 {
	for _, x := range s {
		if x == v {
			return s
		}
	}
	return append(s, v)
}

func removeValue(s []int32, v int32) []int32 {
	out := s[:0]
	for _, x := range s {
		if x != v {
			out = append(out, x)
		}
	}
	return out
}
