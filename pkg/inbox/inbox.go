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

package inbox

import (
	"context"

	"github.com/pingcap/errors"
	cerrors "github.com/pingcap/tiactor/pkg/errors"
	"go.uber.org/atomic"
)

// DefaultCapacity is used when an inbox is created with a non-positive
// capacity.
const DefaultCapacity = 8

var (
	errInboxFull         = cerrors.ErrInboxFull.FastGenByArgs()
	errActorDisconnected = cerrors.ErrActorDisconnected.FastGenByArgs()
)

// Waker marks the computation owning an inbox ready.
// Wake may be called from any goroutine.
type Waker interface {
	Wake()
}

// Status is the result of Receiver.Receive.
type Status int

// Receive statuses.
const (
	// Ready means a message is returned.
	Ready Status = iota
	// Pending means the inbox is empty and the waker is registered.
	Pending
	// Closed means the inbox is empty and every sender is closed.
	Closed
)

func (s Status) String() string {
	switch s {
	case Ready:
		return "ready"
	case Pending:
		return "pending"
	case Closed:
		return "closed"
	}
	return "unknown"
}

const (
	slotEmpty uint64 = iota
	slotWriting
	slotFilled
	slotReading

	stateBits = 2
)

func pack(gen, state uint64) uint64 {
	return gen<<stateBits | state
}

type slot[T any] struct {
	word  atomic.Uint64
	value T
}

type wakerHolder struct {
	w Waker
}

type channel[T any] struct {
	slots    []slot[T]
	capacity uint64

	writePos atomic.Uint64
	// readPos is only written by the receiver. It is atomic so senders can
	// report the length.
	readPos atomic.Uint64

	senders       atomic.Int64
	receiverAlive atomic.Bool

	registered atomic.Bool
	waker      atomic.Pointer[wakerHolder]

	// Senders blocked in SendB wait for space to be closed, it is replaced
	// on every broadcast.
	blocked atomic.Int32
	space   atomic.Pointer[chan struct{}]
}

// New creates an inbox with the given capacity and returns its first sender
// and its only receiver.
func New[T any](capacity int) (*Sender[T], *Receiver[T]) {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	c := &channel[T]{
		slots:    make([]slot[T], capacity),
		capacity: uint64(capacity),
	}
	space := make(chan struct{})
	c.space.Store(&space)
	c.senders.Store(1)
	c.receiverAlive.Store(true)
	return &Sender[T]{c: c}, &Receiver[T]{c: c}
}

func (c *channel[T]) trySend(v T) error {
	if !c.receiverAlive.Load() {
		return errActorDisconnected
	}
	for {
		w := c.writePos.Load()
		s := &c.slots[w%c.capacity]
		gen := w / c.capacity
		word := s.word.Load()
		switch slotGen := word >> stateBits; {
		case word == pack(gen, slotEmpty):
			if !s.word.CompareAndSwap(word, pack(gen, slotWriting)) {
				continue
			}
			c.writePos.CompareAndSwap(w, w+1)
			s.value = v
			s.word.Store(pack(gen, slotFilled))
			c.wake()
			return nil
		case slotGen == gen:
			// Another sender claimed the slot, help it move the write
			// position forward.
			c.writePos.CompareAndSwap(w, w+1)
		case slotGen < gen:
			// The slot still holds the message of the previous lap.
			if c.writePos.Load() == w {
				return errInboxFull
			}
		default:
			// w is stale, reload.
		}
	}
}

func (c *channel[T]) tryReceive() (v T, ok bool) {
	r := c.readPos.Load()
	s := &c.slots[r%c.capacity]
	gen := r / c.capacity
	if s.word.Load() != pack(gen, slotFilled) {
		return v, false
	}
	s.word.Store(pack(gen, slotReading))
	v = s.value
	var zero T
	s.value = zero
	s.word.Store(pack(gen+1, slotEmpty))
	c.readPos.Store(r + 1)
	c.notifyBlocked()
	return v, true
}

func (c *channel[T]) wake() {
	if !c.registered.CompareAndSwap(true, false) {
		return
	}
	if h := c.waker.Load(); h != nil && h.w != nil {
		h.w.Wake()
	}
}

func (c *channel[T]) notifyBlocked() {
	if c.blocked.Load() == 0 {
		return
	}
	c.broadcastSpace()
}

func (c *channel[T]) broadcastSpace() {
	space := make(chan struct{})
	close(*c.space.Swap(&space))
}

func (c *channel[T]) len() int {
	w, r := c.writePos.Load(), c.readPos.Load()
	if w <= r {
		return 0
	}
	n := w - r
	if n > c.capacity {
		n = c.capacity
	}
	return int(n)
}

// Sender is a handle to the send side of an inbox. It is safe for concurrent
// use. Every Sender must be closed once it is no longer used, the receiver
// sees the inbox closed only after all senders are closed.
type Sender[T any] struct {
	c      *channel[T]
	closed atomic.Bool
}

// Send puts msg into the inbox without blocking.
// It returns ErrInboxFull if there is no empty slot, and ErrActorDisconnected
// if the receiver is closed or the sender itself is closed.
func (s *Sender[T]) Send(msg T) error {
	if s.closed.Load() {
		return errActorDisconnected
	}
	return s.c.trySend(msg)
}

// SendB puts msg into the inbox, it blocks while the inbox is full.
// It may return context.Canceled or context.DeadlineExceeded.
func (s *Sender[T]) SendB(ctx context.Context, msg T) error {
	err := s.Send(msg)
	if err != errInboxFull {
		return err
	}
	c := s.c
	// blocked is raised before the space channel is loaded, a receiver that
	// frees a slot after the failed send always closes the loaded channel.
	c.blocked.Inc()
	defer c.blocked.Dec()
	for {
		space := *c.space.Load()
		err = s.Send(msg)
		if err != errInboxFull {
			return err
		}
		select {
		case <-space:
		case <-ctx.Done():
			return errors.Trace(ctx.Err())
		}
	}
}

// Clone returns a new sender of the same inbox.
// Cloning a closed sender returns a closed sender.
func (s *Sender[T]) Clone() *Sender[T] {
	clone := &Sender[T]{c: s.c}
	if s.closed.Load() {
		clone.closed.Store(true)
		return clone
	}
	s.c.senders.Inc()
	return clone
}

// Close releases the sender. It is idempotent. Closing the last sender wakes
// the receiver so it can observe the inbox closed.
func (s *Sender[T]) Close() {
	if !s.closed.CompareAndSwap(false, true) {
		return
	}
	if s.c.senders.Dec() == 0 {
		s.c.wake()
	}
}

// IsConnected reports whether messages sent by s may still be received.
func (s *Sender[T]) IsConnected() bool {
	return !s.closed.Load() && s.c.receiverAlive.Load()
}

// SameInbox reports whether s and other send to the same inbox.
func (s *Sender[T]) SameInbox(other *Sender[T]) bool {
	return other != nil && s.c == other.c
}

// Len returns the number of messages in the inbox.
func (s *Sender[T]) Len() int {
	return s.c.len()
}

// Cap returns the capacity of the inbox.
func (s *Sender[T]) Cap() int {
	return int(s.c.capacity)
}

// Receiver is the only receive handle of an inbox.
// It must be used by one goroutine at a time.
type Receiver[T any] struct {
	c *channel[T]
}

// TryReceive returns the oldest message in the inbox, it never blocks.
func (r *Receiver[T]) TryReceive() (T, bool) {
	return r.c.tryReceive()
}

// Receive returns the oldest message in the inbox with status Ready.
// If the inbox is empty, it returns Closed when there is no sender left,
// otherwise it registers waker, which is called once the next message
// arrives or the last sender is closed, and returns Pending.
func (r *Receiver[T]) Receive(waker Waker) (v T, st Status) {
	c := r.c
	if v, ok := c.tryReceive(); ok {
		return v, Ready
	}
	if c.senders.Load() == 0 {
		// Every send happened before the last sender was closed.
		if v, ok := c.tryReceive(); ok {
			return v, Ready
		}
		return v, Closed
	}
	c.waker.Store(&wakerHolder{w: waker})
	c.registered.Store(true)
	// Check again, a sender may have filled a slot before it could see the
	// registration.
	if v, ok := c.tryReceive(); ok {
		c.registered.CompareAndSwap(true, false)
		return v, Ready
	}
	if c.senders.Load() == 0 {
		c.registered.CompareAndSwap(true, false)
		if v, ok := c.tryReceive(); ok {
			return v, Ready
		}
		return v, Closed
	}
	return v, Pending
}

// Close closes the receive side. Messages left in the inbox are discarded
// and later sends fail with ErrActorDisconnected.
func (r *Receiver[T]) Close() {
	c := r.c
	if !c.receiverAlive.CompareAndSwap(true, false) {
		return
	}
	for {
		if _, ok := c.tryReceive(); !ok {
			break
		}
	}
	c.registered.Store(false)
	c.waker.Store(nil)
	c.broadcastSpace()
}

// IsClosed reports whether the receiver is closed.
func (r *Receiver[T]) IsClosed() bool {
	return !r.c.receiverAlive.Load()
}

// Len returns the number of messages in the inbox.
func (r *Receiver[T]) Len() int {
	return r.c.len()
}

// Cap returns the capacity of the inbox.
func (r *Receiver[T]) Cap() int {
	return int(r.c.capacity)
}

// SenderCount returns the number of live senders.
func (r *Receiver[T]) SenderCount() int {
	return int(r.c.senders.Load())
}

// NewSender creates a sender from the receive side, as long as the receiver
// is open and a sender is still alive. Once the last sender is gone the
// inbox stays disconnected and a closed sender is returned.
func (r *Receiver[T]) NewSender() *Sender[T] {
	s := &Sender[T]{c: r.c}
	if !r.c.receiverAlive.Load() {
		s.closed.Store(true)
		return s
	}
	for {
		n := r.c.senders.Load()
		if n <= 0 {
			s.closed.Store(true)
			return s
		}
		if r.c.senders.CompareAndSwap(n, n+1) {
			return s
		}
	}
}
