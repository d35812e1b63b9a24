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
	"context"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pingcap/errors"
	cerrors "github.com/pingcap/tiactor/pkg/errors"
	"github.com/pingcap/tiactor/pkg/inbox"
	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"
)

const syncWaitTimeout = 10 * time.Second

// runSync runs p on its own goroutine, the returned channel receives the
// result of Run.
func runSync(ctx context.Context, p *SyncProcess, clk clock.Clock) <-chan error {
	ch := make(chan error, 1)
	go func() {
		ch <- p.Run(ctx, clk)
	}()
	return ch
}

func waitSync(t *testing.T, ch <-chan error) error {
	select {
	case err := <-ch:
		return err
	case <-time.After(syncWaitTimeout):
		require.FailNow(t, "sync actor did not stop")
		return nil
	}
}

// blockedWait completes once unblock is called, it records the waker it is
// polled with.
type blockedWait struct {
	mu      sync.Mutex
	done    bool
	waker   inbox.Waker
	polls   int
	waiting chan struct{}
}

func newBlockedWait() *blockedWait {
	return &blockedWait{waiting: make(chan struct{}, 16)}
}

func (b *blockedWait) poll(w inbox.Waker) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.polls++
	if b.done {
		return true
	}
	b.waker = w
	b.waiting <- struct{}{}
	return false
}

func (b *blockedWait) wake(unblock bool) {
	b.mu.Lock()
	w := b.waker
	b.waker = nil
	b.done = b.done || unblock
	b.mu.Unlock()
	w.Wake()
}

func (b *blockedWait) waitBlocked(t *testing.T) {
	select {
	case <-b.waiting:
	case <-time.After(syncWaitTimeout):
		require.FailNow(t, "sync actor is not blocked")
	}
}

func TestSyncBlockOn(t *testing.T) {
	t.Parallel()

	for _, spurious := range []bool{false, true} {
		b := newBlockedWait()
		p, ref, err := NewSyncProcess(func() SyncActor[string] {
			return SyncActorFunc[string](func(ctx *SyncContext[string]) error {
				return ctx.BlockOn(b.poll)
			})
		}, SyncOptions{}, 4)
		require.Nil(t, err)
		ch := runSync(context.Background(), p, nil)

		b.waitBlocked(t)
		if spurious {
			// A wake without progress blocks the actor again.
			b.wake(false)
			b.waitBlocked(t)
		}
		b.wake(true)
		require.Nil(t, waitSync(t, ch))
		require.True(t, p.IsDone())
		if spurious {
			require.Equal(t, 3, b.polls)
		} else {
			require.Equal(t, 2, b.polls)
		}
		require.False(t, ref.IsConnected())
		ref.Close()
	}
}

func TestSyncTryReceiveNext(t *testing.T) {
	t.Parallel()

	sent := make(chan struct{})
	p, ref, err := NewSyncProcess(func() SyncActor[string] {
		return SyncActorFunc[string](func(ctx *SyncContext[string]) error {
			_, st := ctx.TryReceiveNext()
			require.Equal(t, inbox.Pending, st)
			<-sent
			for {
				msg, st := ctx.TryReceiveNext()
				switch st {
				case inbox.Ready:
					require.Equal(t, "Hello world", msg)
					return nil
				case inbox.Closed:
					return errors.New("unexpected closed inbox")
				}
			}
		})
	}, SyncOptions{Name: "try-receive"}, 4)
	require.Nil(t, err)
	require.Equal(t, "try-receive", p.Name())
	ch := runSync(context.Background(), p, nil)

	require.Nil(t, ref.Send("Hello world"))
	close(sent)
	require.Nil(t, waitSync(t, ch))
	ref.Close()
}

func TestSyncReceiveNext(t *testing.T) {
	t.Parallel()

	var got []string
	p, ref, err := NewSyncProcess(func() SyncActor[string] {
		return SyncActorFunc[string](func(ctx *SyncContext[string]) error {
			for {
				msg, err := ctx.ReceiveNext()
				if cerrors.IsNoMessages(err) {
					return nil
				}
				if err != nil {
					return err
				}
				got = append(got, msg)
			}
		})
	}, SyncOptions{}, 2)
	require.Nil(t, err)
	ch := runSync(context.Background(), p, nil)

	for _, msg := range []string{"a", "b", "c", "d"} {
		require.Nil(t, ref.SendB(context.Background(), msg))
	}
	ref.Close()
	require.Nil(t, waitSync(t, ch))
	require.Equal(t, []string{"a", "b", "c", "d"}, got)
}

func TestSyncSelf(t *testing.T) {
	t.Parallel()

	p, ref, err := NewSyncProcess(func() SyncActor[int] {
		return SyncActorFunc[int](func(ctx *SyncContext[int]) error {
			self := ctx.Self()
			require.Equal(t, ctx.PID(), self.PID())
			require.Nil(t, self.Send(2))
			self.Close()
			sum := 0
			for i := 0; i < 2; i++ {
				msg, err := ctx.ReceiveNext()
				if err != nil {
					return err
				}
				sum += msg
			}
			require.Equal(t, 3, sum)
			return nil
		})
	}, SyncOptions{}, 4)
	require.Nil(t, err)
	defer ref.Close()
	require.Nil(t, ref.Send(1))
	require.Nil(t, waitSync(t, runSync(context.Background(), p, nil)))
}

func TestSyncCancelled(t *testing.T) {
	t.Parallel()

	started := make(chan struct{})
	p, ref, err := NewSyncProcess(func() SyncActor[string] {
		return SyncActorFunc[string](func(ctx *SyncContext[string]) error {
			close(started)
			_, err := ctx.ReceiveNext()
			return err
		})
	}, SyncOptions{Supervisor: EscalateSupervisor}, 4)
	require.Nil(t, err)
	defer ref.Close()

	ctx, cancel := context.WithCancel(context.Background())
	ch := runSync(ctx, p, nil)
	<-started
	cancel()
	// A failure caused by the shutdown is not escalated.
	require.Nil(t, waitSync(t, ch))
	require.False(t, ref.IsConnected())
}

func TestSyncSupervision(t *testing.T) {
	t.Parallel()

	var (
		runs    atomic.Int64
		stopped atomic.Int64
	)
	sup := SupervisorFunc(func(err error) Directive {
		if runs.Load() == 1 {
			return Restart
		}
		return Stop
	})
	p, ref, err := NewSyncProcess(func() SyncActor[struct{}] {
		return &stoppingSyncActor{runs: &runs, stopped: &stopped}
	}, SyncOptions{Supervisor: sup}, 4)
	require.Nil(t, err)
	defer ref.Close()

	require.Nil(t, waitSync(t, runSync(context.Background(), p, nil)))
	require.Equal(t, int64(2), runs.Load())
	require.Equal(t, 1, p.Restarts())
	// Stopped once on restart and once when done.
	require.Equal(t, int64(2), stopped.Load())
}

type stoppingSyncActor struct {
	runs    *atomic.Int64
	stopped *atomic.Int64
}

func (a *stoppingSyncActor) Run(*SyncContext[struct{}]) error {
	return errors.Errorf("run %d failed", a.runs.Inc())
}

func (a *stoppingSyncActor) Stop() {
	a.stopped.Inc()
}

func TestSyncPanicAndEscalate(t *testing.T) {
	t.Parallel()

	p, ref, err := NewSyncProcess(func() SyncActor[string] {
		return SyncActorFunc[string](func(*SyncContext[string]) error {
			panic("boom")
		})
	}, SyncOptions{Name: "panicky", Supervisor: EscalateSupervisor}, 4)
	require.Nil(t, err)
	defer ref.Close()

	err = waitSync(t, runSync(context.Background(), p, nil))
	require.True(t, cerrors.ErrActorEscalated.Equal(err), err)
	require.Regexp(t, "panicky.*boom", err)
}

func TestSyncRestartDelay(t *testing.T) {
	t.Parallel()

	clk := clock.NewMock()
	var runs atomic.Int64
	sup := NewRestartSupervisor(RestartConfig{
		MaxRestarts:     1,
		InitialInterval: time.Second,
	}, clk)
	p, ref, err := NewSyncProcess(func() SyncActor[string] {
		return SyncActorFunc[string](func(*SyncContext[string]) error {
			return errors.Errorf("run %d failed", runs.Inc())
		})
	}, SyncOptions{Supervisor: sup}, 4)
	require.Nil(t, err)
	defer ref.Close()

	ch := runSync(context.Background(), p, clk)
	require.Eventually(t, func() bool {
		// The restart waits on the mock clock.
		clk.Add(100 * time.Millisecond)
		return runs.Load() == 2
	}, syncWaitTimeout, time.Millisecond)
	require.Nil(t, waitSync(t, ch))
	require.Equal(t, 1, p.Restarts())
}

func TestNewSyncProcessInvalid(t *testing.T) {
	t.Parallel()

	_, _, err := NewSyncProcess[string](nil, SyncOptions{}, 4)
	require.True(t, cerrors.ErrInvalidConfig.Equal(err))
	_, _, err = NewSyncProcess(func() SyncActor[string] { return nil }, SyncOptions{}, 4)
	require.True(t, cerrors.ErrInvalidConfig.Equal(err))

	p, ref, err := NewSyncProcess(func() SyncActor[string] {
		return SyncActorFunc[string](func(*SyncContext[string]) error { return nil })
	}, SyncOptions{InboxCapacity: 8}, 4)
	require.Nil(t, err)
	require.Equal(t, 8, ref.tx.Cap())
	p.Cancel()
	require.True(t, p.IsDone())
	require.False(t, ref.IsConnected())
	ref.Close()
}
