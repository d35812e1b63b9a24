// Copyright 2024 PingCAP, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// See the License for the specific language governing permissions and
// limitations under the License.

package scheduler

import (
	"fmt"

	"github.com/edwingeng/deque"
)

// ProcessID identifies a process inside a runtime.
type ProcessID uint64

func (pid ProcessID) String() string {
	return fmt.Sprintf("pid-%d", uint64(pid))
}

// Priority of a process, it is fixed when the process is spawned.
type Priority uint8

// Priorities, a higher priority process is always run before a lower one.
// The zero value is treated as Normal.
const (
	Low Priority = iota + 1
	Normal
	High

	numPriorities = int(High)
)

func (p Priority) String() string {
	switch p {
	case Low:
		return "low"
	case Normal:
		return "normal"
	case High:
		return "high"
	}
	return fmt.Sprintf("priority(%d)", uint8(p))
}

// Valid reports whether p is a known priority.
func (p Priority) Valid() bool {
	return p >= Low && p <= High
}

// Normalize returns Normal for an unset or unknown priority.
func (p Priority) Normalize() Priority {
	if !p.Valid() {
		return Normal
	}
	return p
}

// Process is a computation that can be scheduled.
type Process interface {
	ID() ProcessID
	Priority() Priority
}

type state int

const (
	stateInactive state = iota
	stateReady
	stateRunning
	// The process was marked ready while it was running, it is queued again
	// once it is parked.
	stateRunningWoken
	stateRemoved
)

type entry[P Process] struct {
	p     P
	state state
}

// core is the run queue shared by Local and Shared. It is not thread-safe.
type core[P Process] struct {
	procs map[ProcessID]*entry[P]
	// One FIFO queue of *entry[P] per priority.
	tiers [numPriorities]deque.Deque
	ready int
}

func newCore[P Process]() core[P] {
	c := core[P]{procs: make(map[ProcessID]*entry[P])}
	for i := range c.tiers {
		c.tiers[i] = deque.NewDeque()
	}
	return c
}

func (c *core[P]) add(p P, ready bool) {
	e := &entry[P]{p: p, state: stateInactive}
	if old, ok := c.procs[p.ID()]; ok {
		c.drop(old)
	}
	c.procs[p.ID()] = e
	if ready {
		c.enqueue(e)
	}
}

func (c *core[P]) enqueue(e *entry[P]) {
	e.state = stateReady
	c.tiers[c.tier(e.p)].PushBack(e)
	c.ready++
}

func (c *core[P]) tier(p P) int {
	return int(p.Priority().Normalize()) - 1
}

func (c *core[P]) markReady(pid ProcessID) bool {
	e, ok := c.procs[pid]
	if !ok {
		return false
	}
	switch e.state {
	case stateInactive:
		c.enqueue(e)
		return true
	case stateRunning:
		e.state = stateRunningWoken
	}
	return false
}

func (c *core[P]) next() (p P, ok bool) {
	for t := numPriorities - 1; t >= 0; t-- {
		q := c.tiers[t]
		for !q.Empty() {
			e := q.PopFront().(*entry[P])
			if e.state != stateReady {
				// Removed while it was queued.
				continue
			}
			c.ready--
			e.state = stateRunning
			return e.p, true
		}
	}
	return p, false
}

func (c *core[P]) markAllReady() int {
	queued := 0
	for pid := range c.procs {
		if c.markReady(pid) {
			queued++
		}
	}
	return queued
}

func (c *core[P]) park(pid ProcessID) {
	e, ok := c.procs[pid]
	if !ok {
		return
	}
	switch e.state {
	case stateRunning:
		e.state = stateInactive
	case stateRunningWoken:
		c.enqueue(e)
	}
}

func (c *core[P]) yield(pid ProcessID) {
	e, ok := c.procs[pid]
	if !ok {
		return
	}
	if e.state == stateRunning || e.state == stateRunningWoken {
		c.enqueue(e)
	}
}

func (c *core[P]) remove(pid ProcessID) (p P, ok bool) {
	e, ok := c.procs[pid]
	if !ok {
		return p, false
	}
	c.drop(e)
	delete(c.procs, pid)
	return e.p, true
}

func (c *core[P]) drop(e *entry[P]) {
	if e.state == stateReady {
		c.ready--
	}
	e.state = stateRemoved
}

func (c *core[P]) topPriority() (Priority, bool) {
	if c.ready == 0 {
		return Low, false
	}
	for t := numPriorities - 1; t >= 0; t-- {
		q := c.tiers[t]
		for !q.Empty() {
			if q.Front().(*entry[P]).state == stateReady {
				return Priority(t + 1), true
			}
			q.PopFront()
		}
	}
	return Low, false
}

func (c *core[P]) drain() []P {
	ps := make([]P, 0, len(c.procs))
	for pid, e := range c.procs {
		ps = append(ps, e.p)
		e.state = stateRemoved
		delete(c.procs, pid)
	}
	for i := range c.tiers {
		c.tiers[i] = deque.NewDeque()
	}
	c.ready = 0
	return ps
}

func (c *core[P]) isRunning(pid ProcessID) bool {
	e, ok := c.procs[pid]
	return ok && (e.state == stateRunning || e.state == stateRunningWoken)
}
