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

// Scheduler is the run queue of a worker. Local and Shared implement it,
// only Shared is safe for concurrent use.
type Scheduler[P Process] interface {
	// Add adds p, ready processes are returned by Next.
	Add(p P, ready bool)
	// MarkReady makes a parked process runnable. It reports whether this
	// call queued the process: unknown, already ready and running processes
	// return false, a running one is requeued when it is parked.
	MarkReady(pid ProcessID) bool
	// MarkAllReady makes every parked process runnable.
	MarkAllReady() int
	// Next takes the ready process with the highest priority.
	Next() (P, bool)
	// Park returns a process taken by Next that waits for a wake.
	Park(pid ProcessID)
	// Yield returns a process taken by Next that is still runnable.
	Yield(pid ProcessID)
	// Remove drops a process.
	Remove(pid ProcessID) (P, bool)
	TopPriority() (Priority, bool)
	HasReady() bool
	HasProcess() bool
	Len() int
	ReadyLen() int
	Drain() []P
}

var (
	_ Scheduler[Process] = (*Local[Process])(nil)
	_ Scheduler[Process] = (*Shared[Process])(nil)
)
