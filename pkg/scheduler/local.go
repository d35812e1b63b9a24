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

// Local schedules the processes bound to one worker.
// It must only be used by the worker goroutine that owns it.
type Local[P Process] struct {
	core[P]
}

// NewLocal creates an empty local scheduler.
func NewLocal[P Process]() *Local[P] {
	return &Local[P]{core: newCore[P]()}
}

// Add registers a new process. A ready process is queued at the tail of its
// priority tier, otherwise it waits for MarkReady.
// Adding a process with a known ID replaces the previous one.
func (s *Local[P]) Add(p P, ready bool) {
	s.add(p, ready)
}

// MarkReady queues an inactive process. It is idempotent and ignores
// unknown processes. A running process is queued again once it is parked.
// It returns true if the process is queued by this call.
func (s *Local[P]) MarkReady(pid ProcessID) bool {
	return s.markReady(pid)
}

// MarkAllReady marks every process ready, it returns the number of queued
// processes.
func (s *Local[P]) MarkAllReady() int {
	return s.markAllReady()
}

// Next returns the ready process with the highest priority which was queued
// first, the process is running until Park, Yield or Remove.
func (s *Local[P]) Next() (P, bool) {
	return s.next()
}

// Park marks a running process inactive, or queues it again if it was marked
// ready while running.
func (s *Local[P]) Park(pid ProcessID) {
	s.park(pid)
}

// Yield queues a running process at the tail of its priority tier.
func (s *Local[P]) Yield(pid ProcessID) {
	s.yield(pid)
}

// Remove forgets a process.
func (s *Local[P]) Remove(pid ProcessID) (P, bool) {
	return s.remove(pid)
}

// Has reports whether pid is known by the scheduler.
func (s *Local[P]) Has(pid ProcessID) bool {
	_, ok := s.procs[pid]
	return ok
}

// IsRunning reports whether pid is running.
func (s *Local[P]) IsRunning(pid ProcessID) bool {
	return s.isRunning(pid)
}

// HasProcess reports whether any process is registered.
func (s *Local[P]) HasProcess() bool {
	return len(s.procs) > 0
}

// HasReady reports whether a process is ready to run.
func (s *Local[P]) HasReady() bool {
	return s.ready > 0
}

// Len returns the number of registered processes.
func (s *Local[P]) Len() int {
	return len(s.procs)
}

// ReadyLen returns the number of ready processes.
func (s *Local[P]) ReadyLen() int {
	return s.ready
}

// TopPriority returns the priority of the process Next would return.
func (s *Local[P]) TopPriority() (Priority, bool) {
	return s.topPriority()
}

// Drain removes and returns every process.
func (s *Local[P]) Drain() []P {
	return s.drain()
}
