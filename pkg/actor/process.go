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
	"time"

	"github.com/pingcap/log"
	cerrors "github.com/pingcap/tiactor/pkg/errors"
	"github.com/pingcap/tiactor/pkg/inbox"
	"github.com/pingcap/tiactor/pkg/reactor"
	"github.com/pingcap/tiactor/pkg/scheduler"
	"go.uber.org/atomic"
	"go.uber.org/zap"
)

// Result is the outcome of running a process once.
type Result int

// Results.
const (
	// Pending means the process waits to be woken.
	Pending Result = iota
	// Yielded means the process is ready and must be queued again.
	Yielded
	// Complete means the process is done and must be removed.
	Complete
)

func (r Result) String() string {
	switch r {
	case Pending:
		return "pending"
	case Yielded:
		return "yielded"
	case Complete:
		return "complete"
	}
	return "unknown"
}

// Host is the worker running a process.
type Host interface {
	// WorkerID returns the index of the worker.
	WorkerID() int
	// Context is cancelled once the runtime shuts down.
	Context() context.Context
	// Reactor returns the reactor of the worker.
	Reactor() *reactor.Reactor
	// SharedTimers returns the timers of unpinned processes.
	SharedTimers() *reactor.SharedTimers
	// Signals returns the signal hub of the runtime.
	Signals() *reactor.Signals
	// Spawner spawns processes from the worker.
	Spawner() Spawner
	// Escalate reports a failure that nobody supervises.
	Escalate(p *Process, err error)
}

// Spawner places new processes on a runtime.
type Spawner interface {
	// Schedule binds p to a worker, or to the shared scheduler, according
	// to its placement. p must not be scheduled twice.
	Schedule(p *Process) error
	// DefaultInboxCapacity is the capacity of inboxes whose options do not
	// set one.
	DefaultInboxCapacity() int
}

type timerSet interface {
	Add(deadline time.Time, waker reactor.Waker) reactor.TimerID
	Reset(id reactor.TimerID, deadline time.Time) bool
	Remove(id reactor.TimerID) bool
}

type processBody interface {
	poll(p *Process, h Host) (running, yielded bool, err error)
	restart() error
	close()
}

var pids atomic.Uint64

// Process is a spawned actor as seen by schedulers and workers.
type Process struct {
	id         scheduler.ProcessID
	name       string
	priority   scheduler.Priority
	placement  Placement
	supervisor Supervisor
	inactive   bool
	parent     *Process

	body  processBody
	waker inbox.Waker

	done     atomic.Bool
	failure  atomic.Error
	worker   atomic.Int64
	restarts atomic.Int64

	// The restarted actor is not polled before notBefore.
	notBefore time.Time
}

func newProcess(opts Options, body processBody) *Process {
	p := &Process{
		id:         scheduler.ProcessID(pids.Inc()),
		name:       opts.Name,
		priority:   opts.Priority.Normalize(),
		placement:  opts.Placement,
		supervisor: opts.Supervisor,
		inactive:   opts.Inactive,
		body:       body,
	}
	if p.name == "" {
		p.name = fmt.Sprintf("actor-%d", uint64(p.id))
	}
	if p.supervisor == nil {
		p.supervisor = StopSupervisor
	}
	p.worker.Store(-1)
	return p
}

// ID implements scheduler.Process.
func (p *Process) ID() scheduler.ProcessID {
	return p.id
}

// Priority implements scheduler.Process.
func (p *Process) Priority() scheduler.Priority {
	return p.priority
}

// Name returns the name of the actor.
func (p *Process) Name() string {
	return p.name
}

// Placement returns the placement of the actor.
func (p *Process) Placement() Placement {
	return p.placement
}

// Parent returns the process that spawned p, nil for root actors.
func (p *Process) Parent() *Process {
	return p.parent
}

// SetParent sets the process failures are escalated to.
func (p *Process) SetParent(parent *Process) {
	p.parent = parent
}

// InitiallyReady reports whether p is queued when it is scheduled.
func (p *Process) InitiallyReady() bool {
	return !p.inactive
}

// SetWaker sets the waker marking p ready, it must be set before p is
// scheduled.
func (p *Process) SetWaker(w inbox.Waker) {
	p.waker = w
}

// Wake marks p ready. It may be called from any goroutine.
func (p *Process) Wake() {
	if p.waker != nil && !p.done.Load() {
		p.waker.Wake()
	}
}

// Worker returns the last worker that ran p, or -1.
func (p *Process) Worker() int {
	return int(p.worker.Load())
}

// Restarts returns how many times p was restarted.
func (p *Process) Restarts() int {
	return int(p.restarts.Load())
}

// IsDone reports whether p is complete.
func (p *Process) IsDone() bool {
	return p.done.Load()
}

func (p *Process) String() string {
	return fmt.Sprintf("%s(%s)", p.name, p.id)
}

func (p *Process) timerSet(h Host) timerSet {
	if p.placement.IsUnpinned() {
		return h.SharedTimers()
	}
	return h.Reactor().Timers()
}

// Run polls the actor once on h.
func (p *Process) Run(h Host) Result {
	if p.done.Load() {
		return Complete
	}
	p.worker.Store(int64(h.WorkerID()))
	if !p.notBefore.IsZero() {
		// The restart timer armed by handleFailure still wakes p later.
		if h.Reactor().Now().Before(p.notBefore) {
			return Pending
		}
		p.notBefore = time.Time{}
	}

	var running, yielded bool
	err := p.failure.Swap(nil)
	if err == nil {
		running, yielded, err = p.safePoll(h)
	}
	if err != nil {
		return p.handleFailure(h, err)
	}
	if !running {
		log.Debug("actor stopped",
			zap.String("actor", p.name), zap.Stringer("pid", p.id))
		p.finish("completed")
		return Complete
	}
	if yielded {
		return Yielded
	}
	return Pending
}

func (p *Process) safePoll(h Host) (running, yielded bool, err error) {
	defer func() {
		if v := recover(); v != nil {
			log.Warn("actor panicked",
				zap.String("actor", p.name),
				zap.Any("panic", v),
				zap.Stack("stack"))
			err = cerrors.ErrActorPanicked.GenWithStackByArgs(p.name, v)
		}
	}()
	return p.body.poll(p, h)
}

func (p *Process) safeRestart() (err error) {
	defer func() {
		if v := recover(); v != nil {
			err = cerrors.ErrActorPanicked.GenWithStackByArgs(p.name, v)
		}
	}()
	return p.body.restart()
}

func (p *Process) handleFailure(h Host, err error) Result {
	directive := p.supervisor.Decide(err)
	log.Warn("actor failed",
		zap.String("actor", p.name),
		zap.Stringer("pid", p.id),
		zap.Int("worker", h.WorkerID()),
		zap.Stringer("directive", directive),
		zap.Error(err))

	switch directive {
	case Restart:
		if rerr := p.safeRestart(); rerr != nil {
			log.Error("restart actor failed",
				zap.String("actor", p.name), zap.Error(rerr))
			p.finish("stopped")
			return Complete
		}
		p.restarts.Inc()
		actorsRestarted.Inc()
		if d, ok := p.supervisor.(DelayedRestarter); ok {
			if delay := d.RestartDelay(); delay > 0 {
				p.notBefore = h.Reactor().Now().Add(delay)
				p.timerSet(h).Add(p.notBefore, p)
				return Pending
			}
		}
		return Yielded
	case Escalate:
		p.finish("escalated")
		if p.parent != nil && !p.parent.IsDone() {
			p.parent.fail(cerrors.ErrActorEscalated.GenWithStackByArgs(p.name, err.Error()))
		} else {
			h.Escalate(p, err)
		}
		return Complete
	default:
		p.finish("stopped")
		return Complete
	}
}

// fail makes the next run of p fail with err, the first error wins.
func (p *Process) fail(err error) {
	p.failure.CompareAndSwap(nil, err)
	p.Wake()
}

func (p *Process) finish(reason string) {
	if !p.done.CompareAndSwap(false, true) {
		return
	}
	p.body.close()
	actorsStopped.WithLabelValues(reason).Inc()
}

// Cancel stops p without polling it again, its inbox is closed. It is used
// by an immediate shutdown.
func (p *Process) Cancel() {
	p.finish("cancelled")
}
