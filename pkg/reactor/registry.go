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
)

type registration struct {
	interest Interest
	waker    Waker
}

// registry maps fds to wakers. Registrations may be changed by any worker
// while the owner polls.
type registry struct {
	mu   sync.Mutex
	regs map[int]registration
}

func newRegistry() registry {
	return registry{regs: make(map[int]registration)}
}

func (r *registry) set(fd int, interest Interest, waker Waker) (replaced bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, replaced = r.regs[fd]
	r.regs[fd] = registration{interest: interest, waker: waker}
	return replaced
}

func (r *registry) get(fd int) (registration, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	reg, ok := r.regs[fd]
	return reg, ok
}

func (r *registry) remove(fd int) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.regs[fd]
	delete(r.regs, fd)
	return ok
}

func (r *registry) clear() []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	fds := make([]int, 0, len(r.regs))
	for fd := range r.regs {
		fds = append(fds, fd)
	}
	r.regs = make(map[int]registration)
	return fds
}
