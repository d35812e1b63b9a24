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
	"runtime"

	"github.com/pingcap/log"
	"github.com/pingcap/tiactor/pkg/actor"
	cerrors "github.com/pingcap/tiactor/pkg/errors"
	"go.uber.org/zap"
)

// SpawnSync starts a synchronous actor on a goroutine locked to its own OS
// thread, outside of the workers. It may be called before Start, the actor
// runs right away. Wait returns only once every synchronous actor stopped,
// so they must return when their context is cancelled.
func SpawnSync[M any](r *Runtime, newActor actor.NewSyncActor[M], opts actor.SyncOptions) (*actor.ActorRef[M], error) {
	p, ref, err := actor.NewSyncProcess(newActor, opts, r.DefaultInboxCapacity())
	if err != nil {
		return nil, err
	}
	if err := r.addSyncActor(); err != nil {
		p.Cancel()
		ref.Close()
		return nil, err
	}
	go func() {
		defer r.syncActors.Done()
		runtime.LockOSThread()
		defer runtime.UnlockOSThread()

		syncActorsRunning.Inc()
		defer syncActorsRunning.Dec()
		if err := p.Run(r.ctx, r.clock); err != nil {
			log.Error("sync actor failure escalated to the runtime",
				zap.Stringer("actor", p), zap.Error(err))
			r.recordError(err)
			r.Shutdown(Graceful)
		}
	}()
	return ref, nil
}

func (rt *Runtime) addSyncActor() error {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	if rt.syncClosed || rt.stopping() {
		return cerrors.ErrRuntimeShutdown.GenWithStackByArgs()
	}
	rt.syncActors.Add(1)
	return nil
}

// waitSyncActors waits for the synchronous actors once the workers stopped,
// the actor context is cancelled by then.
func (rt *Runtime) waitSyncActors() {
	rt.mu.Lock()
	rt.syncClosed = true
	rt.mu.Unlock()
	rt.cancel()
	rt.syncActors.Wait()
}
