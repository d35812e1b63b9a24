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
	"os"

	cerrors "github.com/pingcap/tiactor/pkg/errors"
	"github.com/pingcap/tiactor/pkg/inbox"
	"github.com/pingcap/tiactor/pkg/reactor"
	"github.com/pingcap/tiactor/pkg/scheduler"
)

// Context is passed to Actor.Poll. It is only valid during the poll.
type Context[M any] struct {
	context.Context

	proc *Process
	host Host
	rx   *inbox.Receiver[M]

	yielded bool
	signals *reactor.Signals
	fds     map[int]*reactor.Reactor
}

func (c *Context[M]) bind(p *Process, h Host) {
	c.Context = h.Context()
	c.proc = p
	c.host = h
	c.yielded = false
}

func (c *Context[M]) unbind() {
	c.host = nil
}

// PID returns the process id of the actor.
func (c *Context[M]) PID() scheduler.ProcessID {
	return c.proc.id
}

// Name returns the name of the actor.
func (c *Context[M]) Name() string {
	return c.proc.name
}

// WorkerID returns the worker polling the actor.
func (c *Context[M]) WorkerID() int {
	return c.host.WorkerID()
}

// Self returns a new reference to the actor. It must be closed.
func (c *Context[M]) Self() *ActorRef[M] {
	return newActorRef(c.rx.NewSender(), c.proc)
}

// TryReceive returns the next message without registering for a wake.
func (c *Context[M]) TryReceive() (M, bool) {
	return c.rx.TryReceive()
}

// Receive returns the next message. If the inbox is empty the actor is woken
// on the next message and inbox.Pending is returned, the actor should then
// return from Poll. inbox.Closed means every ActorRef is closed.
func (c *Context[M]) Receive() (M, inbox.Status) {
	return c.rx.Receive(c.proc)
}

// Yield makes the actor polled again after the other ready actors of its
// priority. Poll must return true.
func (c *Context[M]) Yield() {
	c.yielded = true
}

// ReceiveSignals subscribes the actor to the process signals relayed by the
// runtime. Once any actor receives signals, the runtime no longer shuts
// down on signals by itself.
func (c *Context[M]) ReceiveSignals() {
	c.signals = c.host.Signals()
	c.signals.Register(uint64(c.proc.id), c.proc)
}

// IgnoreSignals cancels ReceiveSignals, pending signals are dropped.
func (c *Context[M]) IgnoreSignals() {
	if c.signals != nil {
		c.signals.Deregister(uint64(c.proc.id))
		c.signals = nil
	}
}

// Signal returns the next pending signal.
func (c *Context[M]) Signal() (os.Signal, bool) {
	if c.signals == nil {
		return nil, false
	}
	return c.signals.Take(uint64(c.proc.id))
}

// Register wakes the actor whenever fd becomes ready for interest.
// Registering fd again replaces the interest.
func (c *Context[M]) Register(fd int, interest reactor.Interest) error {
	r := c.host.Reactor()
	if prev, ok := c.fds[fd]; ok && prev != r {
		// The fd was registered by another worker.
		_ = prev.Deregister(fd)
	}
	if err := r.Register(fd, interest, c.proc); err != nil {
		return err
	}
	if c.fds == nil {
		c.fds = make(map[int]*reactor.Reactor)
	}
	c.fds[fd] = r
	return nil
}

// Deregister stops the wakes of fd, it must be called before fd is closed.
func (c *Context[M]) Deregister(fd int) error {
	r, ok := c.fds[fd]
	if !ok {
		return nil
	}
	delete(c.fds, fd)
	return r.Deregister(fd)
}

// Runtime returns a Spawner whose actors escalate their failures to this
// actor.
func (c *Context[M]) Runtime() Spawner {
	return &childSpawner{Spawner: c.host.Spawner(), parent: c.proc}
}

// release drops every registration of the actor.
func (c *Context[M]) release() {
	c.IgnoreSignals()
	for fd, r := range c.fds {
		_ = r.Deregister(fd)
	}
	c.fds = nil
}

type childSpawner struct {
	Spawner
	parent *Process
}

func (s *childSpawner) Schedule(p *Process) error {
	if p.parent == nil {
		p.parent = s.parent
	}
	return s.Spawner.Schedule(p)
}

type actorBody[M any] struct {
	newActor NewActor[M]
	actor    Actor[M]
	rx       *inbox.Receiver[M]
	ctx      Context[M]
}

func (b *actorBody[M]) create() error {
	a := b.newActor()
	if a == nil {
		return cerrors.ErrInvalidConfig.GenWithStackByArgs("NewActor returned nil")
	}
	b.actor = a
	return nil
}

func (b *actorBody[M]) poll(p *Process, h Host) (bool, bool, error) {
	b.ctx.bind(p, h)
	defer b.ctx.unbind()
	running, err := b.actor.Poll(&b.ctx)
	return running, b.ctx.yielded, err
}

func (b *actorBody[M]) restart() error {
	b.stopActor()
	b.ctx.release()
	return b.create()
}

func (b *actorBody[M]) stopActor() {
	if s, ok := b.actor.(Stopper); ok {
		s.Stop()
	}
}

func (b *actorBody[M]) close() {
	b.rx.Close()
	b.ctx.release()
	b.stopActor()
}

// Spawn creates an actor with newActor and schedules it on s. The returned
// reference must be closed once it is no longer used.
func Spawn[M any](s Spawner, newActor NewActor[M], opts Options) (*ActorRef[M], error) {
	if s == nil || newActor == nil {
		return nil, cerrors.ErrInvalidConfig.GenWithStackByArgs("spawn requires a runtime and a NewActor")
	}
	capacity := opts.InboxCapacity
	if capacity <= 0 {
		capacity = s.DefaultInboxCapacity()
	}
	tx, rx := inbox.New[M](capacity)
	body := &actorBody[M]{newActor: newActor, rx: rx}
	body.ctx.rx = rx
	if err := body.create(); err != nil {
		rx.Close()
		tx.Close()
		return nil, err
	}
	p := newProcess(opts, body)
	if err := s.Schedule(p); err != nil {
		p.done.Store(true)
		body.close()
		tx.Close()
		return nil, err
	}
	actorsSpawned.Inc()
	return newActorRef(tx, p), nil
}
