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
	"os"
	"sort"
	"strings"
	"sync"
	"syscall"

	cerrors "github.com/pingcap/tiactor/pkg/errors"
	"golang.org/x/sys/unix"
)

// DefaultSignals are the process signals relayed to actors by default.
var DefaultSignals = []string{"SIGINT", "SIGTERM", "SIGQUIT", "SIGHUP"}

// ParseSignals converts signal names such as "SIGINT" or "int" to signals.
func ParseSignals(names []string) ([]os.Signal, error) {
	sigs := make([]os.Signal, 0, len(names))
	for _, name := range names {
		n := strings.ToUpper(strings.TrimSpace(name))
		if !strings.HasPrefix(n, "SIG") {
			n = "SIG" + n
		}
		sig := unix.SignalNum(n)
		if sig == 0 {
			return nil, cerrors.ErrInvalidConfig.GenWithStackByArgs("unknown signal " + name)
		}
		sigs = append(sigs, sig)
	}
	return sigs, nil
}

type signalSub struct {
	waker   Waker
	pending []os.Signal
}

// Signals relays process signals to the actors that asked for them.
// Every registered actor receives every signal. It is shared by all workers.
type Signals struct {
	mu   sync.Mutex
	subs map[uint64]*signalSub
}

// NewSignals creates an empty hub.
func NewSignals() *Signals {
	return &Signals{subs: make(map[uint64]*signalSub)}
}

// Register subscribes key, waker is woken on every dispatched signal.
// Registering a known key replaces its waker and keeps pending signals.
func (s *Signals) Register(key uint64, waker Waker) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sub, ok := s.subs[key]; ok {
		sub.waker = waker
		return
	}
	s.subs[key] = &signalSub{waker: waker}
}

// Deregister removes key and drops its pending signals.
func (s *Signals) Deregister(key uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.subs, key)
}

// IsRegistered reports whether key receives signals.
func (s *Signals) IsRegistered(key uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.subs[key]
	return ok
}

// Len returns the number of subscribers.
func (s *Signals) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs)
}

// Keys returns the subscribers in ascending order.
func (s *Signals) Keys() []uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := make([]uint64, 0, len(s.subs))
	for k := range s.subs {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

// Dispatch queues sig for every subscriber and wakes them. It returns the
// number of subscribers.
func (s *Signals) Dispatch(sig os.Signal) int {
	s.mu.Lock()
	wakers := make([]Waker, 0, len(s.subs))
	for _, sub := range s.subs {
		sub.pending = append(sub.pending, sig)
		wakers = append(wakers, sub.waker)
	}
	s.mu.Unlock()
	signalsReceived.WithLabelValues(SignalName(sig)).Inc()
	for _, w := range wakers {
		if w != nil {
			w.Wake()
		}
	}
	return len(wakers)
}

// Take returns the oldest pending signal of key.
func (s *Signals) Take(key uint64) (os.Signal, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub, ok := s.subs[key]
	if !ok || len(sub.pending) == 0 {
		return nil, false
	}
	sig := sub.pending[0]
	sub.pending[0] = nil
	sub.pending = sub.pending[1:]
	return sig, true
}

// SignalName returns the conventional name of sig, such as "SIGINT".
func SignalName(sig os.Signal) string {
	if s, ok := sig.(syscall.Signal); ok {
		if name := unix.SignalName(s); name != "" {
			return name
		}
	}
	return sig.String()
}
