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
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pingcap/tiactor/pkg/leakutil"
	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"
	"golang.org/x/sys/unix"
)

func TestMain(m *testing.M) {
	leakutil.SetUpLeakTest(m)
}

type recordWaker struct {
	name  string
	order *[]string
	n     atomic.Int64
}

func (w *recordWaker) Wake() {
	w.n.Inc()
	if w.order != nil {
		*w.order = append(*w.order, w.name)
	}
}

func TestTimersExpireInDeadlineOrder(t *testing.T) {
	t.Parallel()

	clk := clock.NewMock()
	timers := NewTimers()
	var order []string
	start := clk.Now()
	timers.Add(start.Add(30*time.Millisecond), &recordWaker{name: "c", order: &order})
	timers.Add(start.Add(10*time.Millisecond), &recordWaker{name: "a", order: &order})
	timers.Add(start.Add(20*time.Millisecond), &recordWaker{name: "b1", order: &order})
	timers.Add(start.Add(20*time.Millisecond), &recordWaker{name: "b2", order: &order})
	require.Equal(t, 4, timers.Len())

	next, ok := timers.Next()
	require.True(t, ok)
	require.Equal(t, start.Add(10*time.Millisecond), next)

	// Never early.
	clk.Add(9 * time.Millisecond)
	require.Equal(t, 0, timers.Expire(clk.Now()))
	require.Empty(t, order)

	clk.Add(11 * time.Millisecond)
	require.Equal(t, 3, timers.Expire(clk.Now()))
	require.Equal(t, []string{"a", "b1", "b2"}, order)

	// One-shot.
	require.Equal(t, 0, timers.Expire(clk.Now()))
	clk.Add(time.Hour)
	require.Equal(t, 1, timers.Expire(clk.Now()))
	require.Equal(t, []string{"a", "b1", "b2", "c"}, order)
	_, ok = timers.Next()
	require.False(t, ok)
}

func TestTimersResetAndRemove(t *testing.T) {
	t.Parallel()

	clk := clock.NewMock()
	timers := NewTimers()
	w1, w2 := &recordWaker{}, &recordWaker{}
	id1 := timers.Add(clk.Now().Add(time.Second), w1)
	id2 := timers.Add(clk.Now().Add(2*time.Second), w2)

	require.True(t, timers.Reset(id1, clk.Now().Add(3*time.Second)))
	next, _ := timers.Next()
	require.Equal(t, clk.Now().Add(2*time.Second), next)

	require.True(t, timers.Remove(id2))
	require.False(t, timers.Remove(id2))
	require.False(t, timers.Reset(id2, clk.Now()))

	clk.Add(2 * time.Second)
	require.Equal(t, 0, timers.Expire(clk.Now()))
	clk.Add(time.Second)
	require.Equal(t, 1, timers.Expire(clk.Now()))
	require.Equal(t, int64(1), w1.n.Load())
	require.Equal(t, int64(0), w2.n.Load())
	require.False(t, timers.Reset(id1, clk.Now()))
}

func TestSharedTimers(t *testing.T) {
	t.Parallel()

	clk := clock.NewMock()
	timers := NewSharedTimers()
	w := &recordWaker{}
	id := timers.Add(clk.Now().Add(time.Second), w)
	require.Equal(t, 1, timers.Len())
	require.True(t, timers.Reset(id, clk.Now().Add(2*time.Second)))
	clk.Add(time.Second)
	require.Equal(t, 0, timers.Expire(clk.Now()))
	clk.Add(time.Second)
	require.Equal(t, 1, timers.Expire(clk.Now()))
	require.Equal(t, int64(1), w.n.Load())
	require.False(t, timers.Remove(id))
}

func TestSignalsBroadcast(t *testing.T) {
	t.Parallel()

	hub := NewSignals()
	w1, w2, w3 := &recordWaker{}, &recordWaker{}, &recordWaker{}
	hub.Register(1, w1)
	hub.Register(2, w2)
	hub.Register(3, w3)
	hub.Deregister(3)
	require.Equal(t, []uint64{1, 2}, hub.Keys())

	require.Equal(t, 2, hub.Dispatch(syscall.SIGINT))
	require.Equal(t, 2, hub.Dispatch(syscall.SIGHUP))
	require.Equal(t, int64(2), w1.n.Load())
	require.Equal(t, int64(2), w2.n.Load())
	require.Equal(t, int64(0), w3.n.Load())

	for _, key := range []uint64{1, 2} {
		sig, ok := hub.Take(key)
		require.True(t, ok)
		require.Equal(t, syscall.SIGINT, sig)
		sig, ok = hub.Take(key)
		require.True(t, ok)
		require.Equal(t, syscall.SIGHUP, sig)
		_, ok = hub.Take(key)
		require.False(t, ok)
	}
	_, ok := hub.Take(3)
	require.False(t, ok)
	require.False(t, hub.IsRegistered(3))

	// No subscriber.
	require.Equal(t, 0, NewSignals().Dispatch(syscall.SIGTERM))
}

func TestParseSignals(t *testing.T) {
	t.Parallel()

	sigs, err := ParseSignals([]string{"SIGINT", "term", " sigquit "})
	require.Nil(t, err)
	require.Equal(t, []any{syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT},
		[]any{sigs[0], sigs[1], sigs[2]})
	require.Equal(t, "SIGINT", SignalName(sigs[0]))

	_, err = ParseSignals([]string{"SIGNOPE"})
	require.Error(t, err)
}

func TestPollerReadiness(t *testing.T) {
	t.Parallel()

	p, err := NewPoller(0)
	require.Nil(t, err)
	defer p.Close()

	var fds [2]int
	require.Nil(t, unix.Pipe(fds[:]))
	defer unix.Close(fds[0])
	defer unix.Close(fds[1])
	require.Nil(t, unix.SetNonblock(fds[0], true))

	w := &recordWaker{}
	require.Nil(t, p.Register(fds[0], Readable, w))
	n, err := p.Poll(0)
	require.Nil(t, err)
	require.Equal(t, 0, n)

	_, err = unix.Write(fds[1], []byte("x"))
	require.Nil(t, err)
	n, err = p.Poll(time.Second)
	require.Nil(t, err)
	require.Equal(t, 1, n)
	require.Equal(t, int64(1), w.n.Load())

	// Re-register replaces the waker.
	w2 := &recordWaker{}
	require.Nil(t, p.Register(fds[0], Readable, w2))
	_, err = unix.Write(fds[1], []byte("y"))
	require.Nil(t, err)
	n, err = p.Poll(time.Second)
	require.Nil(t, err)
	require.Equal(t, 1, n)
	require.Equal(t, int64(1), w.n.Load())
	require.Equal(t, int64(1), w2.n.Load())

	require.Nil(t, p.Deregister(fds[0]))
	require.Nil(t, p.Deregister(fds[0]))
}

func TestPollerWake(t *testing.T) {
	t.Parallel()

	p, err := NewPoller(8)
	require.Nil(t, err)
	defer p.Close()

	done := make(chan error, 1)
	go func() {
		_, err := p.Poll(-1)
		done <- err
	}()
	time.Sleep(20 * time.Millisecond)
	require.Nil(t, p.Wake())
	// Coalesced.
	require.Nil(t, p.Wake())
	select {
	case err := <-done:
		require.Nil(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("poll is not woken")
	}

	// Reset after the poll, the next wake interrupts again.
	go func() {
		_, err := p.Poll(-1)
		done <- err
	}()
	time.Sleep(20 * time.Millisecond)
	require.Nil(t, p.Wake())
	select {
	case err := <-done:
		require.Nil(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("poll is not woken")
	}
}

func notifierReadable(t *testing.T, n *Notifier) bool {
	fds := []unix.PollFd{{Fd: int32(n.Fd()), Events: unix.POLLIN}}
	for {
		nr, err := unix.Poll(fds, 0)
		if err == unix.EINTR {
			continue
		}
		require.Nil(t, err)
		return nr > 0 && fds[0].Revents&unix.POLLIN != 0
	}
}

func TestNotifierWakeDuringReset(t *testing.T) {
	t.Parallel()

	n, err := NewNotifier()
	require.Nil(t, err)
	defer n.Close()

	for i := 0; i < 20000; i++ {
		require.Nil(t, n.Wake())
		var wg sync.WaitGroup
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = n.Wake()
		}()
		n.Reset()
		wg.Wait()

		// A set awoken flag must always come with a readable fd, otherwise
		// the next wakes are coalesced into nothing.
		if n.awoken.Load() {
			require.True(t, notifierReadable(t, n), "iteration %d", i)
		}
		require.Nil(t, n.Wake())
		require.True(t, notifierReadable(t, n), "iteration %d", i)
		n.Reset()
		require.False(t, n.awoken.Load())
		require.False(t, notifierReadable(t, n), "iteration %d", i)
	}
}

func TestReactorPollFiresTimers(t *testing.T) {
	t.Parallel()

	p, err := NewPoller(0)
	require.Nil(t, err)
	shared := NewSharedTimers()
	r := New("test", p, clock.New(), shared)
	defer r.Close()

	local, remote := &recordWaker{}, &recordWaker{}
	start := r.Now()
	r.Timers().Add(start.Add(20*time.Millisecond), local)
	shared.Add(start.Add(10*time.Millisecond), remote)

	for local.n.Load() == 0 {
		require.Nil(t, r.Poll(true))
	}
	require.False(t, r.Now().Before(start.Add(20*time.Millisecond)))
	require.Equal(t, int64(1), remote.n.Load())
	require.Equal(t, 0, r.Timers().Len())
	require.Equal(t, 0, shared.Len())

	// Non-blocking poll without any source returns at once.
	require.Nil(t, r.Poll(false))
}
