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
	"fmt"

	"github.com/benbjohnson/clock"
	"github.com/pingcap/log"
	cerrors "github.com/pingcap/tiactor/pkg/errors"
	"github.com/pingcap/tiactor/pkg/inbox"
	"github.com/pingcap/tiactor/pkg/scheduler"
	"go.uber.org/atomic"
	"go.uber.org/zap"
)

// SyncActor is an actor that runs on its own OS thread instead of a worker,
// so it may block, for example on file I/O or a blocking library call.
type SyncActor[M any] interface {
	// Run runs the actor until it returns. A nil error stops the actor, a
	// non-nil one is handled by its supervisor. Run must return once
	// ctx.Done() is closed.
	Run(ctx *SyncContext[M]) error
}

// SyncActorFunc adapts a function to SyncActor.
type SyncActorFunc[M any] func(ctx *SyncContext[M]) error

// Run implements SyncActor.
func (f SyncActorFunc[M]) Run(ctx *SyncContext[M]) error {
	return f(ctx)
}

// NewSyncActor creates the state of a synchronous actor, once on spawn and
// once per restart.
type NewSyncActor[M any] func() SyncActor[M]

// SyncOptions of a spawned synchronous actor.
type SyncOptions struct {
	// Name is used in logs and metrics, it defaults to "sync-actor-<pid>".
	Name string
	// Supervisor handles failures, it defaults to StopSupervisor. Escalate
	// shuts the runtime down.
	Supervisor Supervisor
	// InboxCapacity defaults to the capacity configured on the runtime.
	InboxCapacity int
}

// SyncContext is passed to SyncActor.Run. It is cancelled when the runtime
// shuts down.
type SyncContext[M any] struct {
	context.Context

	pid   scheduler.ProcessID
	name  string
	rx    *inbox.Receiver[M]
	waker *syncWaker
}

// PID returns the process id of the actor.
func (c *SyncContext[M]) PID() scheduler.ProcessID {
	return c.pid
}

// Name returns the name of the actor.
func (c *SyncContext[M]) Name() string {
	return c.name
}

// Self returns a new reference to the actor. It must be closed.
func (c *SyncContext[M]) Self() *ActorRef[M] {
	return &ActorRef[M]{tx: c.rx.NewSender(), pid: c.pid, name: c.name}
}

// TryReceiveNext returns the next message without blocking, with status
// inbox.Pending if the inbox is empty and inbox.Closed once every ActorRef
// is closed.
func (c *SyncContext[M]) TryReceiveNext() (M, inbox.Status) {
	return c.rx.Receive(c.waker)
}

// ReceiveNext blocks until a message arrives. It returns ErrNoMessages once
// the inbox is empty and every ActorRef is closed, and the context error
// once the runtime shuts down. Messages already in the inbox are returned
// first.
func (c *SyncContext[M]) ReceiveNext() (M, error) {
	for {
		msg, st := c.rx.Receive(c.waker)
		switch st {
		case inbox.Ready:
			return msg, nil
		case inbox.Closed:
			var zero M
			return zero, cerrors.ErrNoMessages.GenWithStackByArgs()
		}
		if err := c.waker.wait(c.Context); err != nil {
			var zero M
			return zero, err
		}
	}
}

// BlockOn blocks the thread until poll reports done. poll receives the
// waker to register with what it waits for, such as an inbox, and is
// called again after every wake. It returns the context error once the
// runtime shuts down.
func (c *SyncContext[M]) BlockOn(poll func(waker inbox.Waker) bool) error {
	for !poll(c.waker) {
		if err := c.waker.wait(c.Context); err != nil {
			return err
		}
	}
	return nil
}

// syncWaker parks a synchronous actor until it is woken, wakes are
// coalesced.
type syncWaker struct {
	ch chan struct{}
}

func newSyncWaker() *syncWaker {
	return &syncWaker{ch: make(chan struct{}, 1)}
}

// Wake implements inbox.Waker, it may be called from any goroutine.
func (w *syncWaker) Wake() {
	select {
	case w.ch <- struct{}{}:
	default:
	}
}

func (w *syncWaker) wait(ctx context.Context) error {
	select {
	case <-w.ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

type syncBody interface {
	run(ctx context.Context) error
	restart() error
	close()
}

type syncActorBody[M any] struct {
	newActor NewSyncActor[M]
	actor    SyncActor[M]
	ctx      SyncContext[M]
}

func (b *syncActorBody[M]) create() error {
	a := b.newActor()
	if a == nil {
		return cerrors.ErrInvalidConfig.GenWithStackByArgs("NewSyncActor returned nil")
	}
	b.actor = a
	return nil
}

func (b *syncActorBody[M]) run(ctx context.Context) error {
	b.ctx.Context = ctx
	return b.actor.Run(&b.ctx)
}

func (b *syncActorBody[M]) restart() error {
	b.stopActor()
	return b.create()
}

func (b *syncActorBody[M]) stopActor() {
	if s, ok := b.actor.(Stopper); ok {
		s.Stop()
	}
}

func (b *syncActorBody[M]) close() {
	b.ctx.rx.Close()
	b.stopActor()
}

// SyncProcess is a spawned synchronous actor. The runtime calls Run on a
// goroutine locked to its own OS thread.
type SyncProcess struct {
	id         scheduler.ProcessID
	name       string
	supervisor Supervisor
	body       syncBody

	restarts atomic.Int64
	done     atomic.Bool
}

// NewSyncProcess creates a synchronous actor with newActor and returns the
// process to run with a reference to it. capacity is used when opts does
// not set an inbox capacity.
func NewSyncProcess[M any](newActor NewSyncActor[M], opts SyncOptions, capacity int) (*SyncProcess, *ActorRef[M], error) {
	if newActor == nil {
		return nil, nil, cerrors.ErrInvalidConfig.GenWithStackByArgs("spawn requires a NewSyncActor")
	}
	if opts.InboxCapacity > 0 {
		capacity = opts.InboxCapacity
	}
	tx, rx := inbox.New[M](capacity)
	p := &SyncProcess{
		id:         scheduler.ProcessID(pids.Inc()),
		name:       opts.Name,
		supervisor: opts.Supervisor,
	}
	if p.name == "" {
		p.name = fmt.Sprintf("sync-actor-%d", uint64(p.id))
	}
	if p.supervisor == nil {
		p.supervisor = StopSupervisor
	}
	body := &syncActorBody[M]{newActor: newActor}
	body.ctx = SyncContext[M]{pid: p.id, name: p.name, rx: rx, waker: newSyncWaker()}
	if err := body.create(); err != nil {
		rx.Close()
		tx.Close()
		return nil, nil, err
	}
	p.body = body
	actorsSpawned.Inc()
	return p, &ActorRef[M]{tx: tx, pid: p.id, name: p.name}, nil
}

// ID returns the process id.
func (p *SyncProcess) ID() scheduler.ProcessID {
	return p.id
}

// Name returns the name of the actor.
func (p *SyncProcess) Name() string {
	return p.name
}

// Restarts returns how many times the actor was restarted.
func (p *SyncProcess) Restarts() int {
	return int(p.restarts.Load())
}

// IsDone reports whether Run returned.
func (p *SyncProcess) IsDone() bool {
	return p.done.Load()
}

func (p *SyncProcess) String() string {
	return fmt.Sprintf("%s(%s)", p.name, p.id)
}

// Run runs the actor until it stops, restarting it as its supervisor
// decides. It blocks and must be called once. Run returns the failure when
// the supervisor escalates it.
func (p *SyncProcess) Run(ctx context.Context, clk clock.Clock) error {
	if clk == nil {
		clk = clock.New()
	}
	log.Debug("sync actor started", zap.String("actor", p.name), zap.Stringer("pid", p.id))
	for {
		err := p.safeRun(ctx)
		if err == nil {
			p.finish("completed")
			return nil
		}
		if ctx.Err() != nil {
			log.Info("sync actor failed while shutting down",
				zap.String("actor", p.name), zap.Error(err))
			p.finish("cancelled")
			return nil
		}

		directive := p.supervisor.Decide(err)
		log.Warn("sync actor failed",
			zap.String("actor", p.name),
			zap.Stringer("pid", p.id),
			zap.Stringer("directive", directive),
			zap.Error(err))
		switch directive {
		case Restart:
			if !p.waitRestartDelay(ctx, clk) {
				p.finish("cancelled")
				return nil
			}
			if rerr := p.safeRestart(); rerr != nil {
				log.Error("restart sync actor failed",
					zap.String("actor", p.name), zap.Error(rerr))
				p.finish("stopped")
				return nil
			}
			p.restarts.Inc()
			actorsRestarted.Inc()
		case Escalate:
			p.finish("escalated")
			return cerrors.ErrActorEscalated.GenWithStackByArgs(p.name, err.Error())
		default:
			p.finish("stopped")
			return nil
		}
	}
}

// waitRestartDelay blocks for the delay of a DelayedRestarter, it returns
// false if ctx is cancelled meanwhile.
func (p *SyncProcess) waitRestartDelay(ctx context.Context, clk clock.Clock) bool {
	d, ok := p.supervisor.(DelayedRestarter)
	if !ok {
		return true
	}
	delay := d.RestartDelay()
	if delay <= 0 {
		return true
	}
	t := clk.Timer(delay)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

func (p *SyncProcess) safeRun(ctx context.Context) (err error) {
	defer func() {
		if v := recover(); v != nil {
			log.Warn("sync actor panicked",
				zap.String("actor", p.name),
				zap.Any("panic", v),
				zap.Stack("stack"))
			err = cerrors.ErrActorPanicked.GenWithStackByArgs(p.name, v)
		}
	}()
	return p.body.run(ctx)
}

func (p *SyncProcess) safeRestart() (err error) {
	defer func() {
		if v := recover(); v != nil {
			err = cerrors.ErrActorPanicked.GenWithStackByArgs(p.name, v)
		}
	}()
	return p.body.restart()
}

func (p *SyncProcess) finish(reason string) {
	if !p.done.CompareAndSwap(false, true) {
		return
	}
	p.body.close()
	actorsStopped.WithLabelValues(reason).Inc()
	log.Debug("sync actor stopped",
		zap.String("actor", p.name), zap.String("reason", reason))
}

// Cancel stops an actor whose Run was never called.
func (p *SyncProcess) Cancel() {
	p.finish("cancelled")
}
