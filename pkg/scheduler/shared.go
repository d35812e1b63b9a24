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
	"sync"

	"go.uber.org/atomic"
)

const noTop = -1

// Shared schedules processes that may run on any worker.
// It is thread-safe, the lock is never held while a process runs.
type Shared[P Process] struct {
	mu sync.Mutex
	core[P]

	// top is the priority of the best ready process or noTop. It can be
	// read without the lock, so idle workers can peek cheaply.
	top   atomic.Int32
	count atomic.Int64
}

// NewShared creates an empty shared scheduler.
func NewShared[P Process]() *Shared[P] {
	s := &Shared[P]{core: newCore[P]()}
	s.top.Store(noTop)
	return s
}

func (s *Shared[P]) updateLocked() {
	s.count.Store(int64(len(s.procs)))
	if pr, ok := s.core.topPriority(); ok {
		s.top.Store(int32(pr))
		return
	}
	s.top.Store(noTop)
}

// Add registers a new process, see Local.Add.
func (s *Shared[P]) Add(p P, ready bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.add(p, ready)
	s.updateLocked()
}

// MarkReady queues an inactive process, see Local.MarkReady.
func (s *Shared[P]) MarkReady(pid ProcessID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	queued := s.markReady(pid)
	if queued {
		s.updateLocked()
	}
	return queued
}

// MarkAllReady marks every process ready, see Local.MarkAllReady.
func (s *Shared[P]) MarkAllReady() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	queued := s.markAllReady()
	if queued > 0 {
		s.updateLocked()
	}
	return queued
}

// Next returns the next ready process, see Local.Next.
func (s *Shared[P]) Next() (P, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.next()
	if ok {
		s.updateLocked()
	}
	return p, ok
}

// Park marks a running process inactive, see Local.Park.
func (s *Shared[P]) Park(pid ProcessID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.park(pid)
	s.updateLocked()
}

// Yield queues a running process at the tail of its tier.
func (s *Shared[P]) Yield(pid ProcessID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.yield(pid)
	s.updateLocked()
}

// Remove forgets a process.
func (s *Shared[P]) Remove(pid ProcessID) (P, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.remove(pid)
	s.updateLocked()
	return p, ok
}

// Has reports whether pid is known by the scheduler.
func (s *Shared[P]) Has(pid ProcessID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.procs[pid]
	return ok
}

// TopPriority returns the priority of the process Next would return.
// It does not take the lock, the result may be stale.
func (s *Shared[P]) TopPriority() (Priority, bool) {
	top := s.top.Load()
	if top == noTop {
		return Low, false
	}
	return Priority(top), true
}

// HasReady reports whether a process is ready to run, the result may be
// stale.
func (s *Shared[P]) HasReady() bool {
	return s.top.Load() != noTop
}

// HasProcess reports whether any process is registered, the result may be
// stale.
func (s *Shared[P]) HasProcess() bool {
	return s.count.Load() > 0
}

// Len returns the number of registered processes.
func (s *Shared[P]) Len() int {
	return int(s.count.Load())
}

// ReadyLen returns the number of ready processes.
func (s *Shared[P]) ReadyLen() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ready
}

// Drain removes and returns every process.
func (s *Shared[P]) Drain() []P {
	s.mu.Lock()
	defer s.mu.Unlock()
	ps := s.drain()
	s.updateLocked()
	return ps
}
