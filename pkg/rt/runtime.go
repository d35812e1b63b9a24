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

// Package rt implements the thread-per-core runtime that runs actors.
package rt

import (
	"context"
	"os"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pingcap/errors"
	"github.com/pingcap/log"
	"github.com/pingcap/tiactor/pkg/actor"
	"github.com/pingcap/tiactor/pkg/config"
	cerrors "github.com/pingcap/tiactor/pkg/errors"
	"github.com/pingcap/tiactor/pkg/reactor"
	"github.com/pingcap/tiactor/pkg/scheduler"
	"go.uber.org/atomic"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// ShutdownKind is the way a runtime stops.
type ShutdownKind int32

// Shutdown kinds, a later kind overrides an earlier one.
const (
	running ShutdownKind = iota
	// Graceful stops accepting spawns, cancels the actor context and waits
	// for every actor to complete.
	Graceful
	// Immediate cancels every actor without polling it again.
	Immediate
)

func (k ShutdownKind) String() string {
	switch k {
	case running:
		return "running"
	case Graceful:
		return "graceful"
	case Immediate:
		return "immediate"
	}
	return "unknown"
}

const (
	stateCreated int32 = iota
	stateStarted
	stateStopped
)

// PollerFactory creates the poller of a worker.
type PollerFactory func(eventsPerPoll int) (reactor.Poller, error)

// Option customizes a Runtime.
type Option func(*Runtime)

// WithClock sets the clock of the timers.
func WithClock(clk clock.Clock) Option {
	return func(rt *Runtime) {
		rt.clock = clk
	}
}

// WithPollerFactory sets the poller factory of the workers.
func WithPollerFactory(f PollerFactory) Option {
	return func(rt *Runtime) {
		rt.newPoller = f
	}
}

// Runtime runs actors on a fixed set of workers. Every worker is an OS
// thread owning a local scheduler and a reactor, unpinned actors are shared
// by all workers.
type Runtime struct {
	cfg       *config.RuntimeConfig
	clock     clock.Clock
	newPoller PollerFactory

	workers      []*worker
	shared       *scheduler.Shared[*actor.Process]
	sharedTimers *reactor.SharedTimers
	signals      *reactor.Signals
	osSignals    []os.Signal

	// ctx is passed to actors, it is cancelled once the shutdown starts.
	ctx    context.Context
	cancel context.CancelFunc

	state    atomic.Int32
	shutdown atomic.Int32
	rr       atomic.Uint64

	mu            sync.Mutex
	err           error
	gracefulTimer *clock.Timer
	// syncClosed is set under mu once no synchronous actor may be added.
	syncClosed bool
	syncActors sync.WaitGroup

	eg   errgroup.Group
	done chan struct{}
	// stopCh stops the goroutines that serve the workers.
	stopCh chan struct{}

	warnLimiter *rate.Limiter
}

// New creates a runtime with cfg, nil means the default config. The config
// is validated and adjusted in place.
func New(cfg *config.RuntimeConfig, opts ...Option) (*Runtime, error) {
	if cfg == nil {
		cfg = config.GetDefaultRuntimeConfig()
	}
	if err := cfg.ValidateAndAdjust(); err != nil {
		return nil, errors.Trace(err)
	}
	osSignals, err := reactor.ParseSignals(cfg.Signals)
	if err != nil {
		return nil, errors.Trace(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	rt := &Runtime{
		cfg:          cfg,
		newPoller:    reactor.NewPoller,
		shared:       scheduler.NewShared[*actor.Process](),
		sharedTimers: reactor.NewSharedTimers(),
		signals:      reactor.NewSignals(),
		osSignals:    osSignals,
		ctx:          ctx,
		cancel:       cancel,
		done:         make(chan struct{}),
		stopCh:       make(chan struct{}),
		warnLimiter:  rate.NewLimiter(rate.Every(time.Second), 1),
	}
	for _, opt := range opts {
		opt(rt)
	}
	if rt.clock == nil {
		rt.clock = clock.New()
	}

	rt.workers = make([]*worker, 0, cfg.Workers)
	for i := 0; i < cfg.Workers; i++ {
		w, err := newWorker(rt, i)
		if err != nil {
			for _, w := range rt.workers {
				_ = w.closeReactor()
			}
			cancel()
			return nil, errors.Trace(err)
		}
		rt.workers = append(rt.workers, w)
	}
	return rt, nil
}

// NumWorkers returns the number of workers.
func (rt *Runtime) NumWorkers() int {
	return len(rt.workers)
}

// Context returns the context passed to actors.
func (rt *Runtime) Context() context.Context {
	return rt.ctx
}

// Signals returns the signal hub of the runtime.
func (rt *Runtime) Signals() *reactor.Signals {
	return rt.signals
}

// Schedule implements actor.Spawner. Local actors spawned from outside the
// runtime are placed on the workers round-robin.
func (rt *Runtime) Schedule(p *actor.Process) error {
	return rt.schedule(p, nil)
}

// DefaultInboxCapacity implements actor.Spawner.
func (rt *Runtime) DefaultInboxCapacity() int {
	return rt.cfg.DefaultInboxCapacity
}

func (rt *Runtime) schedule(p *actor.Process, from *worker) error {
	if rt.stopping() {
		return cerrors.ErrRuntimeShutdown.GenWithStackByArgs()
	}
	placement := p.Placement()
	if placement.IsUnpinned() {
		p.SetWaker(&sharedWaker{rt: rt, pid: p.ID()})
		rt.shared.Add(p, p.InitiallyReady())
		if p.InitiallyReady() {
			rt.notifyIdle()
		}
		return nil
	}

	var w *worker
	if id, ok := placement.Worker(); ok {
		if id < 0 || id >= len(rt.workers) {
			return cerrors.ErrInvalidWorker.GenWithStackByArgs(id, len(rt.workers))
		}
		w = rt.workers[id]
	} else if from != nil {
		w = from
	} else {
		w = rt.workers[(rt.rr.Inc()-1)%uint64(len(rt.workers))]
	}
	p.SetWaker(&localWaker{w: w, pid: p.ID()})
	w.spawn(p)
	return nil
}

// Start starts the workers. It returns once they run, or once the runtime
// stopped if BlockOnStart is set. Cancelling ctx shuts the runtime down
// gracefully.
func (rt *Runtime) Start(ctx context.Context) error {
	if !rt.state.CompareAndSwap(stateCreated, stateStarted) {
		return cerrors.ErrRuntimeAlreadyStarted.GenWithStackByArgs()
	}
	log.Info("runtime started",
		zap.Int("workers", len(rt.workers)),
		zap.Bool("pinCPUs", rt.cfg.PinCPUs))
	totalWorkers.Set(float64(len(rt.workers)))

	for _, w := range rt.workers {
		w := w
		rt.eg.Go(func() error {
			return rt.superviseWorker(w)
		})
	}

	var wg sync.WaitGroup
	if len(rt.osSignals) > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rt.relaySignals()
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		select {
		case <-ctx.Done():
			rt.Shutdown(Graceful)
		case <-rt.stopCh:
		}
	}()

	go func() {
		// Worker errors are recorded by superviseWorker.
		_ = rt.eg.Wait()
		rt.waitSyncActors()
		rt.cleanup()
		close(rt.stopCh)
		wg.Wait()
		rt.state.Store(stateStopped)
		log.Info("runtime stopped", zap.Error(rt.errs()))
		close(rt.done)
	}()

	if rt.cfg.BlockOnStart {
		return rt.Wait()
	}
	return nil
}

// Wait blocks until every worker and every synchronous actor stopped, it
// returns every error the runtime recorded.
func (rt *Runtime) Wait() error {
	if rt.state.Load() == stateCreated {
		return cerrors.ErrRuntimeNotStarted.GenWithStackByArgs()
	}
	<-rt.done
	return rt.errs()
}

// Run starts the runtime and waits for it to stop.
func (rt *Runtime) Run(ctx context.Context) error {
	if err := rt.Start(ctx); err != nil {
		return err
	}
	return rt.Wait()
}

// Done is closed once the runtime stopped.
func (rt *Runtime) Done() <-chan struct{} {
	return rt.done
}

// Shutdown stops the runtime, it does not wait. Calling it again with the
// same kind does nothing, Immediate overrides Graceful.
func (rt *Runtime) Shutdown(kind ShutdownKind) {
	if kind != Graceful && kind != Immediate {
		return
	}
	for {
		cur := ShutdownKind(rt.shutdown.Load())
		if cur >= kind {
			return
		}
		if rt.shutdown.CompareAndSwap(int32(cur), int32(kind)) {
			break
		}
	}
	log.Info("runtime shutting down", zap.Stringer("kind", kind))
	rt.cancel()

	if kind == Graceful {
		timeout := rt.cfg.GracefulShutdownTimeout.Duration()
		rt.mu.Lock()
		rt.gracefulTimer = rt.clock.AfterFunc(timeout, func() {
			if rt.state.Load() == stateStopped {
				return
			}
			log.Warn("graceful shutdown timed out, shut down immediately",
				zap.Duration("timeout", timeout))
			rt.recordError(cerrors.ErrGracefulShutdownTimeout.GenWithStackByArgs(timeout))
			rt.Shutdown(Immediate)
		})
		rt.mu.Unlock()
		// Wake every actor so it sees the cancelled context.
		rt.shared.MarkAllReady()
	}
	rt.notifyAll()
}

func (rt *Runtime) shutdownKind() ShutdownKind {
	return ShutdownKind(rt.shutdown.Load())
}

func (rt *Runtime) stopping() bool {
	return rt.shutdownKind() != running
}

// escalate records a failure nobody supervises and shuts down gracefully.
func (rt *Runtime) escalate(p *actor.Process, err error) {
	log.Error("actor failure escalated to the runtime",
		zap.Stringer("actor", p), zap.Error(err))
	rt.recordError(cerrors.ErrActorEscalated.GenWithStackByArgs(p.Name(), err.Error()))
	rt.Shutdown(Graceful)
}

func (rt *Runtime) recordError(err error) {
	if err == nil {
		return
	}
	rt.mu.Lock()
	defer rt.mu.Unlock()
	rt.err = multierr.Append(rt.err, err)
}

func (rt *Runtime) errs() error {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	return rt.err
}

// notifyIdle wakes one worker that waits in its reactor, busy workers see
// the shared queue after their current actor.
func (rt *Runtime) notifyIdle() {
	for _, w := range rt.workers {
		if w.polling.CompareAndSwap(true, false) {
			w.wakeReactor()
			return
		}
	}
}

func (rt *Runtime) notifyAll() {
	for _, w := range rt.workers {
		w.wakeReactor()
	}
}

// cleanup cancels what the stopped workers left, it runs once every worker
// goroutine returned.
func (rt *Runtime) cleanup() {
	rt.mu.Lock()
	if rt.gracefulTimer != nil {
		rt.gracefulTimer.Stop()
	}
	rt.mu.Unlock()
	rt.cancel()

	cancelled := 0
	for _, p := range rt.shared.Drain() {
		p.Cancel()
		cancelled++
	}
	for _, w := range rt.workers {
		cancelled += w.cancelAll()
		if err := w.closeReactor(); err != nil {
			log.Warn("close reactor failed", zap.Int("worker", w.id), zap.Error(err))
		}
	}
	if cancelled > 0 {
		log.Info("cancelled actors on shutdown", zap.Int("count", cancelled))
	}
	totalWorkers.Set(0)
}

type sharedWaker struct {
	rt  *Runtime
	pid scheduler.ProcessID
}

func (s *sharedWaker) Wake() {
	if s.rt.shared.MarkReady(s.pid) {
		s.rt.notifyIdle()
	}
}

type localWaker struct {
	w   *worker
	pid scheduler.ProcessID
}

func (l *localWaker) Wake() {
	l.w.wake(l.pid)
}
