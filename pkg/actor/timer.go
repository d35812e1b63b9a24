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


package actor

import (
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pingcap/log"
	cerrors "github.com/pingcap/tiactor/pkg/errors"
	"github.com/pingcap/tiactor/pkg/inbox"
	"github.com/pingcap/tiactor/pkg/reactor"
	"go.uber.org/zap"
)

// SetTimer arms a one-shot timer that wakes the actor after d.
func (c *Context[M]) SetTimer(d time.Duration) *Timer {
	t := c.newTimer()
	t.Reset(d)
	return t
}

// SetInterval wakes the actor every period, see Interval.Tick.
func (c *Context[M]) SetInterval(period time.Duration) *Interval {
	if period <= 0 {
		log.Panic("interval period must be positive",
			zap.String("actor", c.proc.name), zap.Duration("period", period))
	}
	i := &Interval{timer: c.newTimer(), period: period}
	i.timer.Reset(period)
	return i
}

// SetDeadline returns a deadline that passes after d. The actor is woken
// when it passes.
func (c *Context[M]) SetDeadline(d time.Duration) *Deadline {
	return &Deadline{timer: c.SetTimer(d)}
}

// ReceiveBefore is Receive bounded by d. Once d passed it returns
// inbox.Pending with ErrDeadlinePassed, messages are left in the inbox.
func (c *Context[M]) ReceiveBefore(d *Deadline) (msg M, st inbox.Status, err error) {
	st = inbox.Pending
	_, err = d.Wait(func() (bool, error) {
		msg, st = c.Receive()
		return st != inbox.Pending, nil
	})
	return msg, st, err
}

func (c *Context[M]) newTimer() *Timer {
	return &Timer{
		set:   c.proc.timerSet(c.host),
		clock: c.host.Reactor().Clock(),
		waker: c.proc,
	}
}

// Timer is a one-shot timer of an actor.
type Timer struct {
	set   timerSet
	clock clock.Clock
	waker reactor.Waker

	id       reactor.TimerID
	armed    bool
	deadline time.Time
}

// Deadline returns the time the timer fires.
func (t *Timer) Deadline() time.Time {
	return t.deadline
}

// Elapsed reports whether the deadline passed.
func (t *Timer) Elapsed() bool {
	return !t.clock.Now().Before(t.deadline)
}

// Reset re-arms the timer to fire after d, replacing the previous deadline.
func (t *Timer) Reset(d time.Duration) {
	t.deadline = t.clock.Now().Add(d)
	if t.armed && t.set.Reset(t.id, t.deadline) {
		return
	}
	t.id = t.set.Add(t.deadline, t.waker)
	t.armed = true
}

// Stop disarms the timer. It returns false if the timer already fired.
func (t *Timer) Stop() bool {
	if !t.armed {
		return false
	}
	t.armed = false
	return t.set.Remove(t.id)
}

// Interval is a periodic timer of an actor.
type Interval struct {
	timer  *Timer
	period time.Duration
}

// Tick reports whether the current period elapsed. A true Tick starts the
// next period from now, periods missed by a late poll are not replayed.
func (i *Interval) Tick() bool {
	if !i.timer.Elapsed() {
		return false
	}
	i.timer.Reset(i.period)
	return true
}

// Next returns the end of the current period.
func (i *Interval) Next() time.Time {
	return i.timer.Deadline()
}

// Period returns the period of the interval.
func (i *Interval) Period() time.Duration {
	return i.period
}

// Stop disarms the interval, Tick keeps reporting an elapsed period
// afterwards.
func (i *Interval) Stop() bool {
	return i.timer.Stop()
}

// Deadline bounds a wait of an actor, such as a Receive or a socket read.
type Deadline struct {
	timer *Timer
}

// At returns the time the deadline passes.
func (d *Deadline) At() time.Time {
	return d.timer.Deadline()
}

// Passed reports whether the deadline passed.
func (d *Deadline) Passed() bool {
	return d.timer.Elapsed()
}

// Wait polls wait, which reports whether the awaited thing is done, as long
// as the deadline has not passed. Once it passed wait is no longer called
// and ErrDeadlinePassed is returned. A deadline may bound several waits,
// Stop releases it early.
func (d *Deadline) Wait(wait func() (bool, error)) (bool, error) {
	if d.timer.Elapsed() {
		d.timer.Stop()
		return false, cerrors.ErrDeadlinePassed.FastGenByArgs()
	}
	return wait()
}

// Stop releases the timer of the deadline, it returns false if the deadline
// already passed.
func (d *Deadline) Stop() bool {
	return d.timer.Stop()
}
