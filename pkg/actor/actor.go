// Copyright 2021 PingCAP, Inc.
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
	"fmt"

	"github.com/pingcap/tiactor/pkg/scheduler"
)

// Actor is a universal primitive of concurrent computation.
// See more https://en.wikipedia.org/wiki/Actor_model
type Actor[M any] interface {
	// Poll resumes the actor. It receives messages with ctx and must return
	// instead of blocking once there is nothing to do, typically after
	// ctx.Receive returns inbox.Pending.
	//
	// The ctx is cancelled when the runtime shuts down, and an actor must be
	// aware of the cancellation.
	//
	// If it returns true, the actor is polled again once it is woken by a
	// message, a timer, a signal or an I/O event it registered for, or
	// right away after ctx.Yield.
	// If it returns false, the actor is stopped and its inbox is closed.
	// A non-nil error is handled by the supervisor of the actor.
	Poll(ctx *Context[M]) (running bool, err error)
}

// ActorFunc adapts a function to Actor.
type ActorFunc[M any] func(ctx *Context[M]) (bool, error)

// Poll implements Actor.
func (f ActorFunc[M]) Poll(ctx *Context[M]) (bool, error) {
	return f(ctx)
}

// NewActor creates the state of an actor. It is called once on spawn and
// once per restart, so a restarted actor never sees the state of the failed
// one.
type NewActor[M any] func() Actor[M]

// Stopper is implemented by actors that release resources when they are
// stopped, restarted or cancelled.
type Stopper interface {
	Stop()
}

type placementKind int

const (
	placeLocal placementKind = iota
	placePinned
	placeUnpinned
)

// Placement decides which workers may run an actor. It is fixed at spawn.
type Placement struct {
	kind   placementKind
	worker int
}

// Local places an actor on the worker of the spawning actor, or on a worker
// chosen round-robin when it is spawned outside of the runtime.
func Local() Placement {
	return Placement{kind: placeLocal}
}

// Pinned places an actor on the given worker.
func Pinned(worker int) Placement {
	return Placement{kind: placePinned, worker: worker}
}

// Unpinned lets any worker run an actor.
func Unpinned() Placement {
	return Placement{kind: placeUnpinned}
}

// Worker returns the worker of a pinned placement.
func (p Placement) Worker() (int, bool) {
	return p.worker, p.kind == placePinned
}

// IsLocal reports whether the placement is Local.
func (p Placement) IsLocal() bool {
	return p.kind == placeLocal
}

// IsUnpinned reports whether the placement is Unpinned.
func (p Placement) IsUnpinned() bool {
	return p.kind == placeUnpinned
}

func (p Placement) String() string {
	switch p.kind {
	case placePinned:
		return fmt.Sprintf("pinned(%d)", p.worker)
	case placeUnpinned:
		return "unpinned"
	}
	return "local"
}

// Options of a spawned actor.
type Options struct {
	// Name is used in logs and metrics, it defaults to "actor-<pid>".
	Name string
	// Priority is the scheduling priority, it defaults to Normal.
	Priority scheduler.Priority
	// Placement defaults to Local.
	Placement Placement
	// Supervisor handles failures, it defaults to StopSupervisor.
	Supervisor Supervisor
	// InboxCapacity defaults to the capacity configured on the runtime.
	InboxCapacity int
	// Inactive spawns the actor without polling it until it is first woken.
	Inactive bool
}
