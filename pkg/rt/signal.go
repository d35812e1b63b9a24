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
	"os"
	"os/signal"

	"github.com/pingcap/log"
	"github.com/pingcap/tiactor/pkg/reactor"
	"go.uber.org/zap"
)

// relaySignals forwards process signals to the actors that receive them
// until the runtime stops.
func (rt *Runtime) relaySignals() {
	ch := make(chan os.Signal, len(rt.osSignals)+1)
	signal.Notify(ch, rt.osSignals...)
	defer signal.Stop(ch)
	for {
		select {
		case <-rt.stopCh:
			return
		case sig := <-ch:
			rt.handleSignal(sig)
		}
	}
}

// handleSignal relays sig. When no actor receives signals and
// ShutdownOnSignal is set, the first signal shuts the runtime down
// gracefully and the next one immediately.
func (rt *Runtime) handleSignal(sig os.Signal) {
	n := rt.signals.Dispatch(sig)
	log.Info("received signal",
		zap.String("signal", reactor.SignalName(sig)),
		zap.Int("actors", n))
	if n > 0 || !rt.cfg.ShutdownOnSignal {
		return
	}
	if rt.stopping() {
		rt.Shutdown(Immediate)
		return
	}
	rt.Shutdown(Graceful)
}
