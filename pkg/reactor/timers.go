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
	"time"

	"github.com/google/btree"
	"go.uber.org/atomic"
)

// TimerID identifies an armed timer.
type TimerID uint64

var timerIDs atomic.Uint64

type timerItem struct {
	deadline time.Time
	id       TimerID
	waker    Waker
}

func timerLess(a, b timerItem) bool {
	if a.deadline.Equal(b.deadline) {
		return a.id < b.id
	}
	return a.deadline.Before(b.deadline)
}

// Timers is a set of one-shot deadlines ordered by (deadline, arm order).
// It is not thread-safe, see SharedTimers.
type Timers struct {
	tree *btree.BTreeG[timerItem]
	byID map[TimerID]timerItem
}

// NewTimers creates an empty timer set.
func NewTimers() *Timers {
	return &Timers{
		tree: btree.NewG(16, timerLess),
		byID: make(map[TimerID]timerItem),
	}
}

// Add arms a timer that wakes waker once deadline passed.
func (t *Timers) Add(deadline time.Time, waker Waker) TimerID {
	item := timerItem{deadline: deadline, id: TimerID(timerIDs.Inc()), waker: waker}
	t.tree.ReplaceOrInsert(item)
	t.byID[item.id] = item
	return item.id
}

// Reset moves an armed timer to a new deadline. It returns false if the
// timer already fired or was removed.
func (t *Timers) Reset(id TimerID, deadline time.Time) bool {
	item, ok := t.byID[id]
	if !ok {
		return false
	}
	t.tree.Delete(item)
	item.deadline = deadline
	t.tree.ReplaceOrInsert(item)
	t.byID[id] = item
	return true
}

// Remove disarms a timer.
func (t *Timers) Remove(id TimerID) bool {
	item, ok := t.byID[id]
	if !ok {
		return false
	}
	t.tree.Delete(item)
	delete(t.byID, id)
	return true
}

// Next returns the earliest deadline.
func (t *Timers) Next() (time.Time, bool) {
	item, ok := t.tree.Min()
	if !ok {
		return time.Time{}, false
	}
	return item.deadline, true
}

// Len returns the number of armed timers.
func (t *Timers) Len() int {
	return t.tree.Len()
}

func (t *Timers) expired(now time.Time, wakers []Waker) []Waker {
	for {
		item, ok := t.tree.Min()
		if !ok || item.deadline.After(now) {
			return wakers
		}
		t.tree.DeleteMin()
		delete(t.byID, item.id)
		wakers = append(wakers, item.waker)
	}
}

// Expire removes every timer whose deadline is not after now and wakes
// them in deadline order. It returns the number of fired timers.
func (t *Timers) Expire(now time.Time) int {
	wakers := t.expired(now, nil)
	for _, w := range wakers {
		if w != nil {
			w.Wake()
		}
	}
	timersFired.Add(float64(len(wakers)))
	return len(wakers)
}

// SharedTimers is a thread-safe Timers, it holds the deadlines of processes
// that may run on any worker. Every worker expires it.
type SharedTimers struct {
	mu     sync.Mutex
	timers *Timers
}

// NewSharedTimers creates an empty shared timer set.
func NewSharedTimers() *SharedTimers {
	return &SharedTimers{timers: NewTimers()}
}

// Add arms a timer, see Timers.Add.
func (s *SharedTimers) Add(deadline time.Time, waker Waker) TimerID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.timers.Add(deadline, waker)
}

// Reset moves an armed timer, see Timers.Reset.
func (s *SharedTimers) Reset(id TimerID, deadline time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.timers.Reset(id, deadline)
}

// Remove disarms a timer.
func (s *SharedTimers) Remove(id TimerID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.timers.Remove(id)
}

// Next returns the earliest deadline.
func (s *SharedTimers) Next() (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.timers.Next()
}

// Len returns the number of armed timers.
func (s *SharedTimers) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.timers.Len()
}

// Expire fires elapsed timers, wakers are called without the lock.
func (s *SharedTimers) Expire(now time.Time) int {
	s.mu.Lock()
	wakers := s.timers.expired(now, nil)
	s.mu.Unlock()
	for _, w := range wakers {
		if w != nil {
			w.Wake()
		}
	}
	timersFired.Add(float64(len(wakers)))
	return len(wakers)
}
