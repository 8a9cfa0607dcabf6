/*************************************************************************
 * Copyright 2026 The auoms Authors.
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

// Package filter compiles per-output process/syscall filter
// specifications into compact per-process bitsets and answers the
// event-dropping query the output path consults on every record.
package filter

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/samber/lo"
)

// ErrBitsetExhausted is returned by Engine.AddFilterList when BitsetSize
// unique specs are already registered and a new, distinct spec is added.
var ErrBitsetExhausted = errors.New("filter: bitset exhausted")

// ProcFilterSpec is one operator-authored rule: match a process (by exe,
// args, and/or user) up to `depth` ancestors up, and if it matches, the
// listed syscalls are subject to this spec's bit for this process.
//
// Two specs are equal, for deduplication purposes, iff ExePattern,
// ArgsPattern, User, Depth, and SyscallSet (as a set) are all equal.
type ProcFilterSpec struct {
	ExePattern  string
	ArgsPattern string
	User        string
	Depth       int
	SyscallSet  []string
}

// key returns a canonical string identifying this spec for deduplication:
// SyscallSet is order- and duplicate-insensitive, so it's deduped with
// lo.Uniq before being sorted and joined.
func (s ProcFilterSpec) key() string {
	syscalls := lo.Uniq(s.SyscallSet)
	sort.Strings(syscalls)
	return fmt.Sprintf("%s\x00%s\x00%s\x00%d\x00%s", s.ExePattern, s.ArgsPattern, s.User, s.Depth, strings.Join(syscalls, ","))
}

// MatchInput is the minimal process shape the engine needs to evaluate a
// spec; internal/proctree supplies this per ancestor height without the
// filter package needing to import it (avoiding an import cycle, since
// proctree consumes filter.Engine for flag propagation).
type MatchInput struct {
	Exe     string
	Cmdline string
	User    string
}

type specEntry struct {
	spec      ProcFilterSpec
	exeRe     *regexp.Regexp
	argsRe    *regexp.Regexp
	bit       int
	outputs   map[string]bool
	syscalls  map[string]bool
}

// Engine owns the stable spec -> bit assignment and the queries that
// consult it. Safe for concurrent use; both the process tree (readers)
// and the config-reload path (writer) hold it.
type Engine struct {
	mu      sync.RWMutex
	bySpec  map[string]*specEntry
	byBit   map[int]*specEntry
	free    []int // LIFO: freed bits are reused before any new bit
	nextBit int
}

// NewEngine returns an empty Engine.
func NewEngine() *Engine {
	return &Engine{
		bySpec: make(map[string]*specEntry),
		byBit:  make(map[int]*specEntry),
	}
}

// AddFilterList registers every spec in specs (deduplicating against
// whatever is already registered) as belonging to outputName, and
// returns the bitmask of every bit outputName now owns across the
// engine's full registered set (not just these specs), matching the
// spec's documented return of "the bits owned by this output".
func (e *Engine) AddFilterList(specs []ProcFilterSpec, outputName string) (Bitset, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	for _, s := range specs {
		k := s.key()
		ent, ok := e.bySpec[k]
		if !ok {
			bit, err := e.allocBitLocked()
			if err != nil {
				return Bitset{}, err
			}
			exeRe, err := compilePattern(s.ExePattern)
			if err != nil {
				return Bitset{}, fmt.Errorf("filter: exe_pattern: %w", err)
			}
			argsRe, err := compilePattern(s.ArgsPattern)
			if err != nil {
				return Bitset{}, fmt.Errorf("filter: args_pattern: %w", err)
			}
			ent = &specEntry{
				spec:     s,
				exeRe:    exeRe,
				argsRe:   argsRe,
				bit:      bit,
				outputs:  make(map[string]bool),
				syscalls: toSet(s.SyscallSet),
			}
			e.bySpec[k] = ent
			e.byBit[bit] = ent
		}
		ent.outputs[outputName] = true
	}
	return e.maskForOutputLocked(outputName), nil
}

// RemoveOutput clears outputName's contribution from every spec. A spec
// left with no remaining outputs has its bit freed for reuse, so a later
// AddFilterList call with the same spec and no intervening consumer of
// that bit gets it back.
func (e *Engine) RemoveOutput(outputName string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for k, ent := range e.bySpec {
		if !ent.outputs[outputName] {
			continue
		}
		delete(ent.outputs, outputName)
		if len(ent.outputs) == 0 {
			delete(e.bySpec, k)
			delete(e.byBit, ent.bit)
			e.free = append(e.free, ent.bit)
		}
	}
}

func (e *Engine) maskForOutputLocked(outputName string) Bitset {
	var mask Bitset
	for _, ent := range e.bySpec {
		if ent.outputs[outputName] {
			mask.Set(ent.bit)
		}
	}
	return mask
}

func (e *Engine) allocBitLocked() (int, error) {
	if n := len(e.free); n > 0 {
		bit := e.free[n-1]
		e.free = e.free[:n-1]
		return bit, nil
	}
	if e.nextBit >= BitsetSize {
		return 0, ErrBitsetExhausted
	}
	bit := e.nextBit
	e.nextBit++
	return bit, nil
}

// MatchAtHeight tests each registered spec against p at ancestor height
// h and returns the bits of the specs that match. depth=0 means
// only the process itself (h==0) is eligible for that spec.
func (e *Engine) MatchAtHeight(p MatchInput, h int) Bitset {
	e.mu.RLock()
	defer e.mu.RUnlock()
	var out Bitset
	for _, ent := range e.byBit {
		if h > ent.spec.Depth {
			continue
		}
		if ent.exeRe != nil && !ent.exeRe.MatchString(p.Exe) {
			continue
		}
		if ent.argsRe != nil && !ent.argsRe.MatchString(p.Cmdline) {
			continue
		}
		if ent.spec.User != "" && ent.spec.User != p.User {
			continue
		}
		out.Set(ent.bit)
	}
	return out
}

// IsEventFiltered reports whether syscall is filtered out (true: the
// output drops the event): it is true when syscall is in the syscall set
// of a spec whose bit is in both the process's flags and outputMask.
// A nil process (represented by the caller passing a zero flags bitset
// and hasProcess=false), an empty syscall name, or an all-zero
// outputMask always yields false (F1-F2).
func (e *Engine) IsEventFiltered(syscall string, hasProcess bool, flags Bitset, outputMask Bitset) bool {
	if !hasProcess || syscall == "" || outputMask.IsZero() {
		return false
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	relevant := flags.Intersect(outputMask)
	for _, bit := range relevant.Bits() {
		ent, ok := e.byBit[bit]
		if !ok {
			continue
		}
		if ent.syscalls[syscall] {
			return true
		}
	}
	return false
}

func toSet(ss []string) map[string]bool {
	return lo.SliceToMap(lo.Uniq(ss), func(s string) (string, bool) { return s, true })
}

// compilePattern treats "" as "match everything" rather than compiling
// an empty regexp (which would also match everything, but explicitly
// short-circuiting avoids a wasted regexp.MatchString call per process
// per spec on the hot path).
func compilePattern(pattern string) (*regexp.Regexp, error) {
	if pattern == "" {
		return nil, nil
	}
	return regexp.Compile(pattern)
}
