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
	"testing"
	"time"

	"github.com/pingcap/errors"
	cerrors "github.com/pingcap/tiactor/pkg/errors"
	"github.com/pingcap/tiactor/pkg/inbox"
	"github.com/stretchr/testify/require"
)

func TestInterval(t *testing.T) {
	t.Parallel()

	h := newTestHost()
	var (
		interval *Interval
		ticks    int
	)
	ref, err := Spawn(h.spawner, func() Actor[string] {
		return ActorFunc[string](func(ctx *Context[string]) (bool, error) {
			if interval == nil {
				interval = ctx.SetInterval(time.Second)
				return true, nil
			}
			if interval.Tick() {
				ticks++
			}
			return ticks < 3, nil
		})
	}, Options{Placement: Pinned(0)})
	require.Nil(t, err)
	defer ref.Close()
	p := h.spawner.last()
	waker := h.spawner.wakers[p.ID()]

	require.Equal(t, Pending, p.Run(h))
	require.Equal(t, time.Second, interval.Period())
	start := h.clock.Now()
	require.Equal(t, start.Add(time.Second), interval.Next())

	// An early poll does not tick.
	h.clock.Add(500 * time.Millisecond)
	require.Equal(t, Pending, p.Run(h))
	require.Equal(t, 0, ticks)

	for i := 1; i <= 2; i++ {
		h.clock.Add(500 * time.Millisecond)
		require.Nil(t, h.reactor.Poll(false))
		require.Equal(t, int64(i), waker.n.Load())
		require.Equal(t, Pending, p.Run(h))
		require.Equal(t, i, ticks)
		require.Equal(t, 1, h.reactor.Timers().Len())
		h.clock.Add(500 * time.Millisecond)
	}

	// A late poll ticks once and the next period starts from now.
	h.clock.Add(3 * time.Second)
	require.Nil(t, h.reactor.Poll(false))
	require.Equal(t, Complete, p.Run(h))
	require.Equal(t, 3, ticks)
	require.Equal(t, h.clock.Now().Add(time.Second), interval.Next())
	require.True(t, interval.Stop())
	require.Equal(t, 0, h.reactor.Timers().Len())
}

func TestIntervalInvalidPeriod(t *testing.T) {
	t.Parallel()

	h := newTestHost()
	ref, err := Spawn(h.spawner, func() Actor[string] {
		return ActorFunc[string](func(ctx *Context[string]) (bool, error) {
			ctx.SetInterval(0)
			return true, nil
		})
	}, Options{})
	require.Nil(t, err)
	defer ref.Close()
	p := h.spawner.last()

	// The panic is reported to the supervisor, which stops the actor.
	require.Equal(t, Complete, p.Run(h))
}

func TestDeadlineWait(t *testing.T) {
	t.Parallel()

	h := newTestHost()
	d := &Deadline{timer: &Timer{set: h.reactor.Timers(), clock: h.clock, waker: &countWaker{}}}
	d.timer.Reset(time.Second)
	require.Equal(t, h.clock.Now().Add(time.Second), d.At())

	calls := 0
	notDone := func() (bool, error) {
		calls++
		return false, nil
	}
	done, err := d.Wait(notDone)
	require.Nil(t, err)
	require.False(t, done)
	require.Equal(t, 1, h.reactor.Timers().Len())

	h.clock.Add(time.Second)
	require.True(t, d.Passed())
	done, err = d.Wait(notDone)
	require.False(t, done)
	require.True(t, cerrors.IsDeadlinePassed(err), err)
	require.Equal(t, 1, calls)
	require.Equal(t, 0, h.reactor.Timers().Len())

	// A deadline bounds several waits until it is stopped.
	d.timer.Reset(time.Second)
	done, err = d.Wait(func() (bool, error) { return true, nil })
	require.Nil(t, err)
	require.True(t, done)
	_, err = d.Wait(func() (bool, error) { return false, errors.New("read failed") })
	require.Regexp(t, "read failed", err)
	require.Equal(t, 1, h.reactor.Timers().Len())
	require.True(t, d.Stop())
	require.Equal(t, 0, h.reactor.Timers().Len())
	require.False(t, d.Stop())
}

func TestReceiveBefore(t *testing.T) {
	t.Parallel()

	h := newTestHost()
	var (
		deadline *Deadline
		got      []string
		errs     []error
	)
	ref, err := Spawn(h.spawner, func() Actor[string] {
		return ActorFunc[string](func(ctx *Context[string]) (bool, error) {
			if deadline == nil {
				deadline = ctx.SetDeadline(time.Second)
			}
			for {
				msg, st, err := ctx.ReceiveBefore(deadline)
				if err != nil {
					errs = append(errs, err)
					return false, nil
				}
				switch st {
				case inbox.Pending:
					return true, nil
				case inbox.Closed:
					return false, nil
				}
				got = append(got, msg)
			}
		})
	}, Options{Placement: Pinned(0)})
	require.Nil(t, err)
	defer ref.Close()
	p := h.spawner.last()

	require.Nil(t, ref.Send("a"))
	require.Equal(t, Pending, p.Run(h))
	require.Equal(t, []string{"a"}, got)
	require.Equal(t, 1, h.reactor.Timers().Len())

	// The actor is woken by the deadline, a message sent afterwards is not
	// received.
	h.clock.Add(time.Second)
	require.Nil(t, h.reactor.Poll(false))
	require.Nil(t, ref.Send("b"))
	require.Equal(t, Complete, p.Run(h))
	require.Equal(t, []string{"a"}, got)
	require.Len(t, errs, 1)
	require.True(t, cerrors.IsDeadlinePassed(errs[0]))
}
