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

package rt

import (
	"context"
	"runtime"
	"strconv"
	"sync"
	"time"

	"github.com/pingcap/errors"
	"github.com/pingcap/failpoint"
	"github.com/pingcap/log"
	"github.com/pingcap/tiactor/pkg/actor"
	cerrors "github.com/pingcap/tiactor/pkg/errors"
	"github.com/pingcap/tiactor/pkg/logutil"
	"github.com/pingcap/tiactor/pkg/reactor"
	"github.com/pingcap/tiactor/pkg/scheduler"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/atomic"
	"go.uber.org/zap"
)

const (
	// pollEvery is the number of runs after which a busy worker checks
	// its reactor without blocking, so I/O and timers are not starved.
	pollEvery = 32
	// slowRunThreshold is the run duration that is logged as slow.
	slowRunThreshold = 100 * time.Millisecond
)

// worker runs actors on one OS thread.
type worker struct {
	id      int
	rt      *Runtime
	local   *scheduler.Local[*actor.Process]
	budget  *scheduler.Budget
	spawner *workerSpawner

	// reactorMu protects the poller of reactor from being replaced or
	// closed while another goroutine wakes it.
	reactorMu sync.RWMutex
	reactor   *reactor.Reactor
	closed    bool

	// mu protects spawned and woken, they are filled by any goroutine and
	// drained by the worker.
	mu      sync.Mutex
	spawned []*actor.Process
	woken   []scheduler.ProcessID

	// polling is true while the worker is idle in its reactor.
	polling      atomic.Bool
	seenShutdown ShutdownKind
	runs         uint64

	metricWorkingDuration prometheus.Counter
	metricRuns            prometheus.Counter
	metricReady           prometheus.Gauge
}

func newWorker(rt *Runtime, id int) (*worker, error) {
	poller, err := rt.newPoller(rt.cfg.Scheduler.EventsPerPoll)
	if err != nil {
		return nil, errors.Trace(err)
	}
	name := strconv.Itoa(id)
	w := &worker{
		id:      id,
		rt:      rt,
		local:   scheduler.NewLocal[*actor.Process](),
		budget:  scheduler.NewBudget(rt.cfg.Scheduler.LocalPerShared),
		reactor: reactor.New(name, poller, rt.clock, rt.sharedTimers),

		metricWorkingDuration: workingDuration.WithLabelValues(name),
		metricRuns:            runsTotal.WithLabelValues(name),
		metricReady:           readyProcesses.WithLabelValues(name),
	}
	w.spawner = &workerSpawner{w: w}
	return w, nil
}

// WorkerID implements actor.Host.
func (w *worker) WorkerID() int {
	return w.id
}

// Context implements actor.Host.
func (w *worker) Context() context.Context {
	return w.rt.ctx
}

// Reactor implements actor.Host.
func (w *worker) Reactor() *reactor.Reactor {
	return w.reactor
}

// SharedTimers implements actor.Host.
func (w *worker) SharedTimers() *reactor.SharedTimers {
	return w.rt.sharedTimers
}

// Signals implements actor.Host.
func (w *worker) Signals() *reactor.Signals {
	return w.rt.signals
}

// Spawner implements actor.Host.
func (w *worker) Spawner() actor.Spawner {
	return w.spawner
}

// Escalate implements actor.Host.
func (w *worker) Escalate(p *actor.Process, err error) {
	w.rt.escalate(p, err)
}

// workerSpawner places local actors on the worker of the spawning actor.
type workerSpawner struct {
	w *worker
}

func (s *workerSpawner) Schedule(p *actor.Process) error {
	return s.w.rt.schedule(p, s.w)
}

func (s *workerSpawner) DefaultInboxCapacity() int {
	return s.w.rt.DefaultInboxCapacity()
}

func (w *worker) spawn(p *actor.Process) {
	w.mu.Lock()
	w.spawned = append(w.spawned, p)
	w.mu.Unlock()
	w.notify()
}

func (w *worker) wake(pid scheduler.ProcessID) {
	w.mu.Lock()
	w.woken = append(w.woken, pid)
	w.mu.Unlock()
	w.notify()
}

// notify interrupts the reactor if the worker is idle. The worker sets
// polling before it checks for incoming work, so either it sees the work
// or it is woken.
func (w *worker) notify() {
	if w.polling.CompareAndSwap(true, false) {
		w.wakeReactor()
	}
}

func (w *worker) wakeReactor() {
	w.reactorMu.RLock()
	defer w.reactorMu.RUnlock()
	if w.closed {
		return
	}
	if err := w.reactor.Wake(); err != nil && w.rt.warnLimiter.Allow() {
		log.Warn("wake worker failed", zap.Int("worker", w.id), zap.Error(err))
	}
}

func (w *worker) hasIncoming() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.spawned) > 0 || len(w.woken) > 0
}

func (w *worker) drainIncoming() {
	w.mu.Lock()
	spawned, woken := w.spawned, w.woken
	w.spawned, w.woken = nil, nil
	w.mu.Unlock()

	for _, p := range spawned {
		w.local.Add(p, p.InitiallyReady())
	}
	for _, pid := range woken {
		w.local.MarkReady(pid)
	}
}

// start locks the goroutine to its thread and runs the worker loop.
func (w *worker) start() error {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	if w.rt.cfg.PinCPUs {
		if err := setAffinity(w.id); err != nil {
			log.Warn("pin worker to cpu failed",
				zap.Int("worker", w.id), zap.Error(err))
		}
	}
	log.Info("worker started", zap.Int("worker", w.id))
	err := w.run()
	log.Info("worker exited", zap.Int("worker", w.id),
		logutil.ZapErrorFilter(err, context.Canceled))
	return err
}

func (w *worker) run() error {
	for {
		w.drainIncoming()
		switch kind := w.rt.shutdownKind(); {
		case kind == Immediate:
			return nil
		case kind == Graceful && w.seenShutdown == running:
			w.seenShutdown = Graceful
			w.local.MarkAllReady()
		}
		w.metricReady.Set(float64(w.local.ReadyLen()))

		if p, shared, ok := w.next(); ok {
			w.runProcess(p, shared)
			w.runs++
			if w.runs%pollEvery == 0 {
				if err := w.poll(false); err != nil {
					return err
				}
			}
			continue
		}

		if w.rt.shutdownKind() == Graceful &&
			!w.local.HasProcess() && !w.rt.shared.HasProcess() && !w.hasIncoming() {
			return nil
		}
		if err := w.poll(true); err != nil {
			return err
		}
	}
}

// next picks the local or the shared process to run.
func (w *worker) next() (p *actor.Process, shared bool, ok bool) {
	localPr, localOK := w.local.TopPriority()
	sharedPr, sharedOK := w.rt.shared.TopPriority()
	if w.budget.PickShared(localPr, localOK, sharedPr, sharedOK) {
		if p, ok := w.rt.shared.Next(); ok {
			return p, true, true
		}
		// Another worker took it.
	}
	p, ok = w.local.Next()
	return p, false, ok
}

func (w *worker) runProcess(p *actor.Process, shared bool) {
	failpoint.Inject("injectSlowResume", func() {
		time.Sleep(slowRunThreshold)
	})
	start := time.Now()
	res := p.Run(w)
	elapsed := time.Since(start)
	w.metricWorkingDuration.Add(elapsed.Seconds())
	w.metricRuns.Inc()
	if elapsed >= slowRunThreshold && w.rt.warnLimiter.Allow() {
		log.Warn("actor ran too long without returning",
			zap.Stringer("actor", p),
			zap.Int("worker", w.id),
			zap.Duration("duration", elapsed))
	}

	var s scheduler.Scheduler[*actor.Process] = w.local
	if shared {
		s = w.rt.shared
	}
	switch res {
	case actor.Pending:
		s.Park(p.ID())
	case actor.Yielded:
		s.Yield(p.ID())
		if shared {
			w.rt.notifyIdle()
		}
	case actor.Complete:
		s.Remove(p.ID())
		if shared && w.rt.stopping() {
			// Idle workers may be waiting for the shared queue to drain.
			w.rt.notifyAll()
		}
	}
}

// poll checks the reactor, an idle worker blocks until it is woken or a
// timer expires.
func (w *worker) poll(idle bool) error {
	block := false
	if idle {
		w.polling.Store(true)
		block = !w.hasIncoming() && !w.rt.shared.HasReady() &&
			w.rt.shutdownKind() != Immediate
	}
	err := w.reactor.Poll(block)
	if idle {
		w.polling.Store(false)
	}
	failpoint.Inject("injectReactorPollError", func() {
		err = cerrors.ErrReactorPoll.GenWithStackByArgs()
	})
	return errors.Trace(err)
}

// restart replaces the poller of a failed worker. Registrations are lost,
// every local actor is woken to register again.
func (w *worker) restart() error {
	poller, err := w.rt.newPoller(w.rt.cfg.Scheduler.EventsPerPoll)
	if err != nil {
		return errors.Trace(err)
	}
	w.reactorMu.Lock()
	err = w.reactor.ReplacePoller(poller)
	w.reactorMu.Unlock()
	if err != nil {
		log.Warn("close failed poller", zap.Int("worker", w.id), zap.Error(err))
	}
	w.drainIncoming()
	w.local.MarkAllReady()
	return nil
}

// cancelAll cancels every local actor, it must only be called once the
// worker goroutine returned.
func (w *worker) cancelAll() int {
	w.drainIncoming()
	procs := w.local.Drain()
	for _, p := range procs {
		p.Cancel()
	}
	w.metricReady.Set(0)
	return len(procs)
}

// closeReactor releases the poller, wakes after it are ignored.
func (w *worker) closeReactor() error {
	w.reactorMu.Lock()
	defer w.reactorMu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true
	return w.reactor.Close()
}

// superviseWorker runs w and restarts it when it fails. Once it failed more
// than MaxWorkerRestarts times the runtime shuts down immediately.
func (rt *Runtime) superviseWorker(w *worker) error {
	restarts := 0
	for {
		err := w.start()
		if err == nil {
			return nil
		}
		if restarts < rt.cfg.MaxWorkerRestarts {
			restarts++
			workerRestarts.Inc()
			log.Warn("worker failed, restart it",
				zap.Int("worker", w.id),
				zap.Int("restarts", restarts),
				zap.Error(err))
			if err = w.restart(); err == nil {
				continue
			}
		}
		err = cerrors.ErrWorkerFailed.Wrap(err).GenWithStackByArgs(w.id)
		log.Error("worker failed, shut down the runtime",
			zap.Int("worker", w.id),
			zap.Int("restarts", restarts),
			zap.Error(err))
		rt.recordError(err)
		rt.Shutdown(Immediate)
		return err
	}
}
