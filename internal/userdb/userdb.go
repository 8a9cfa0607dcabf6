/*************************************************************************
 * Copyright 2026 The auoms Authors.
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

// Package userdb keeps a read-through, wait-free cache of the uid/gid
// name mappings in /etc/passwd and /etc/group, refreshed on file-change
// notification rather than on every lookup.
package userdb

import (
	"bufio"
	"os"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"

	"github.com/auoms/auoms/internal/logging"
)

// snapshot is swapped atomically on every reload; readers never block on
// the watcher goroutine or on each other.
type snapshot struct {
	users  map[int32]string
	groups map[int32]string
}

// DB is a live uid/gid name cache. The zero value is not usable;
// construct with New.
type DB struct {
	passwdPath string
	groupPath  string
	log        *logging.Logger

	cur     atomic.Value // *snapshot
	watcher *fsnotify.Watcher
	done    chan struct{}
	stopped chan struct{}
}

// New creates a DB that will watch passwdPath and groupPath once
// started. An initial snapshot is loaded synchronously so the cache is
// never empty between New and Start.
func New(passwdPath, groupPath string, log *logging.Logger) (*DB, error) {
	if log == nil {
		log = logging.NewDiscardLogger()
	}
	db := &DB{
		passwdPath: passwdPath,
		groupPath:  groupPath,
		log:        log,
		done:       make(chan struct{}),
		stopped:    make(chan struct{}),
	}
	snap := &snapshot{users: map[int32]string{}, groups: map[int32]string{}}
	db.reload(snap)
	db.cur.Store(snap)
	return db, nil
}

// LookupUser returns the username for uid, if known.
func (db *DB) LookupUser(uid int32) (string, bool) {
	snap := db.cur.Load().(*snapshot)
	name, ok := snap.users[uid]
	return name, ok
}

// LookupGroup returns the group name for gid, if known.
func (db *DB) LookupGroup(gid int32) (string, bool) {
	snap := db.cur.Load().(*snapshot)
	name, ok := snap.groups[gid]
	return name, ok
}

// Start begins watching the backing files for changes. Each write/create
// event triggers a full reparse and atomic snapshot swap.
func (db *DB) Start() error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	db.watcher = w
	for _, p := range []string{db.passwdPath, db.groupPath} {
		if err := w.Add(p); err != nil {
			db.log.Warnf("userdb: watching %s: %v", p, err)
		}
	}
	go db.run()
	return nil
}

// Stop stops the watcher goroutine and closes the underlying watcher.
func (db *DB) Stop() {
	close(db.done)
	<-db.stopped
	if db.watcher != nil {
		db.watcher.Close()
	}
}

func (db *DB) run() {
	defer close(db.stopped)
	for {
		select {
		case <-db.done:
			return
		case ev, ok := <-db.watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			prev := db.cur.Load().(*snapshot)
			next := &snapshot{users: clone(prev.users), groups: clone(prev.groups)}
			db.reload(next)
			db.cur.Store(next)
		case err, ok := <-db.watcher.Errors:
			if !ok {
				return
			}
			db.log.Warnf("userdb: watcher error: %v", err)
		}
	}
}

func clone(m map[int32]string) map[int32]string {
	out := make(map[int32]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func (db *DB) reload(snap *snapshot) {
	if m, err := parsePasswdFile(db.passwdPath); err == nil {
		snap.users = m
	} else if !os.IsNotExist(err) {
		db.log.Warnf("userdb: reading %s: %v", db.passwdPath, err)
	}
	if m, err := parseGroupFile(db.groupPath); err == nil {
		snap.groups = m
	} else if !os.IsNotExist(err) {
		db.log.Warnf("userdb: reading %s: %v", db.groupPath, err)
	}
}

// parsePasswdFile parses /etc/passwd-style lines: name:passwd:uid:gid:....
func parsePasswdFile(path string) (map[int32]string, error) {
	return parseColonFile(path, 2)
}

// parseGroupFile parses /etc/group-style lines: name:passwd:gid:members.
func parseGroupFile(path string) (map[int32]string, error) {
	return parseColonFile(path, 2)
}

func parseColonFile(path string, idField int) (map[int32]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	out := make(map[int32]string)
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := sc.Text()
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.Split(line, ":")
		if len(parts) <= idField {
			continue
		}
		id, err := strconv.ParseInt(parts[idField], 10, 32)
		if err != nil {
			continue
		}
		out[int32(id)] = parts[0]
	}
	return out, sc.Err()
}
