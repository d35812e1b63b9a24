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

	cerrors "github.com/pingcap/tiactor/pkg/errors"
	"github.com/pingcap/tiactor/pkg/inbox"
	"github.com/pingcap/tiactor/pkg/scheduler"
)

// ActorRef sends messages to an actor.
// ActorRef is threadsafe, every ActorRef must be closed.
type ActorRef[M any] struct {
	tx   *inbox.Sender[M]
	pid  scheduler.ProcessID
	name string
}

func newActorRef[M any](tx *inbox.Sender[M], p *Process) *ActorRef[M] {
	return &ActorRef[M]{tx: tx, pid: p.id, name: p.name}
}

// PID returns the process id of the actor.
func (r *ActorRef[M]) PID() scheduler.ProcessID {
	return r.pid
}

// Send a message to its actor.
// It's a non-blocking send, returns ErrInboxFull when the inbox is full and
// ErrActorDisconnected when the actor stopped.
func (r *ActorRef[M]) Send(msg M) error {
	err := r.tx.Send(msg)
	if err != nil && cerrors.IsInboxFull(err) {
		inboxFullTotal.Inc()
	}
	return err
}

// SendB sends a message to its actor, blocks when the inbox is full.
// It may return context.Canceled or context.DeadlineExceeded.
// It must not be called by an actor, it would block its worker.
func (r *ActorRef[M]) SendB(ctx context.Context, msg M) error {
	return r.tx.SendB(ctx, msg)
}

// Clone returns another reference to the same actor.
func (r *ActorRef[M]) Clone() *ActorRef[M] {
	return &ActorRef[M]{tx: r.tx.Clone(), pid: r.pid, name: r.name}
}

// Close releases the reference. Once every reference is closed, the actor
// receives inbox.Closed.
func (r *ActorRef[M]) Close() {
	r.tx.Close()
}

// IsConnected reports whether the actor may still receive messages sent
// with r.
func (r *ActorRef[M]) IsConnected() bool {
	return r.tx.IsConnected()
}

// SameActor reports whether r and other reference the same actor.
func (r *ActorRef[M]) SameActor(other *ActorRef[M]) bool {
	return other != nil && r.tx.SameInbox(other.tx)
}

func (r *ActorRef[M]) String() string {
	return fmt.Sprintf("ActorRef(%s, %s)", r.name, r.pid)
}

// IsFull reports whether a send failed because the inbox is full.
func IsFull(err error) bool {
	return cerrors.IsInboxFull(err)
}

// IsDisconnected reports whether a send failed because the actor stopped.
func IsDisconnected(err error) bool {
	return cerrors.IsActorDisconnected(err)
}
