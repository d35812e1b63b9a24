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

	"github.com/benbjohnson/clock"
	"github.com/gavv/monotime"
	"github.com/prometheus/client_golang/prometheus"
)

// Reactor is owned by one worker. It combines the poller with the worker's
// timers and expires the timers shared by all workers.
type Reactor struct {
	poller Poller
	clock  clock.Clock
	timers *Timers
	shared *SharedTimers

	metricPollDuration prometheus.Observer
	metricReadyEvents  prometheus.Counter
}

// New creates a reactor, shared may be nil.
func New(worker string, poller Poller, clk clock.Clock, shared *SharedTimers) *Reactor {
	if clk == nil {
		clk = clock.New()
	}
	return &Reactor{
		poller: poller,
		clock:  clk,
		timers: NewTimers(),
		shared: shared,

		metricPollDuration: pollDuration.WithLabelValues(worker),
		metricReadyEvents:  readyEvents.WithLabelValues(worker),
	}
}

// Register registers fd, see Poller.Register.
func (r *Reactor) Register(fd int, interest Interest, waker Waker) error {
	return r.poller.Register(fd, interest, waker)
}

// Deregister removes fd.
func (r *Reactor) Deregister(fd int) error {
	return r.poller.Deregister(fd)
}

// Timers returns the timers of the owning worker. They must only be used
// by that worker.
func (r *Reactor) Timers() *Timers {
	return r.timers
}

// Now returns the time of the reactor clock.
func (r *Reactor) Now() time.Time {
	return r.clock.Now()
}

// Clock returns the reactor clock.
func (r *Reactor) Clock() clock.Clock {
	return r.clock
}

// Wake interrupts a blocking Poll, it is safe to call from any goroutine.
func (r *Reactor) Wake() error {
	return r.poller.Wake()
}

// nextDeadline returns the earliest deadline of the local and shared timers.
func (r *Reactor) nextDeadline() (time.Time, bool) {
	next, ok := r.timers.Next()
	if r.shared != nil {
		if shared, sok := r.shared.Next(); sok && (!ok || shared.Before(next)) {
			next, ok = shared, true
		}
	}
	return next, ok
}

// Poll waits for I/O readiness, when block is false it only collects the
// events that are already pending. A blocking poll returns no later than
// the earliest timer. Elapsed timers are fired before Poll returns.
func (r *Reactor) Poll(block bool) error {
	timeout := time.Duration(0)
	if block {
		timeout = -1
		if next, ok := r.nextDeadline(); ok {
			timeout = next.Sub(r.clock.Now())
			if timeout < 0 {
				timeout = 0
			}
		}
	}
	start := monotime.Now()
	n, err := r.poller.Poll(timeout)
	r.metricPollDuration.Observe(monotime.Since(start).Seconds())
	if err != nil {
		return err
	}
	r.metricReadyEvents.Add(float64(n))
	now := r.clock.Now()
	r.timers.Expire(now)
	if r.shared != nil {
		r.shared.Expire(now)
	}
	return nil
}

// ReplacePoller closes the current poller and uses p instead. Timers are
// kept, fd registrations are lost and must be made again.
func (r *Reactor) ReplacePoller(p Poller) error {
	old := r.poller
	r.poller = p
	return old.Close()
}

// Close releases the poller.
func (r *Reactor) Close() error {
	return r.poller.Close()
}
