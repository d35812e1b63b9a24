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

package reactor

import (
	"time"
)

// Waker marks a waiting computation ready. It may be called from any
// goroutine and must not block.
type Waker interface {
	Wake()
}

// WakerFunc adapts a function to Waker.
type WakerFunc func()

// Wake implements Waker.
func (f WakerFunc) Wake() {
	f()
}

// Interest is the readiness a registration waits for.
type Interest uint8

// Interests.
const (
	Readable Interest = 1 << iota
	Writable
)

// IsReadable reports whether i contains Readable.
func (i Interest) IsReadable() bool { return i&Readable != 0 }

// IsWritable reports whether i contains Writable.
func (i Interest) IsWritable() bool { return i&Writable != 0 }

func (i Interest) String() string {
	switch i {
	case Readable:
		return "readable"
	case Writable:
		return "writable"
	case Readable | Writable:
		return "readable|writable"
	}
	return "none"
}

// Poller waits for readiness of file descriptors. Registrations are edge
// triggered, a registered fd wakes its waker every time it becomes ready.
type Poller interface {
	// Register adds fd or replaces its registration.
	Register(fd int, interest Interest, waker Waker) error
	// Deregister removes fd. Unknown fds are ignored.
	Deregister(fd int) error
	// Poll blocks until a registered fd is ready, Wake is called or the
	// timeout elapses, a negative timeout blocks forever. It wakes the waker
	// of every ready fd and returns the number of woken registrations.
	Poll(timeout time.Duration) (int, error)
	// Wake interrupts a blocking Poll from another goroutine.
	Wake() error
	// Close releases the OS resources.
	Close() error
}

// NewPoller creates the poller of the running OS.
func NewPoller(eventsPerPoll int) (Poller, error) {
	if eventsPerPoll <= 0 {
		eventsPerPoll = defaultEventsPerPoll
	}
	return newOSPoller(eventsPerPoll)
}

const defaultEventsPerPoll = 256

// timeoutMillis rounds timeout up, so a poll never returns before a timer
// deadline only because of truncation.
func timeoutMillis(timeout time.Duration) int {
	if timeout < 0 {
		return -1
	}
	ms := timeout / time.Millisecond
	if timeout%time.Millisecond != 0 {
		ms++
	}
	return int(ms)
}
