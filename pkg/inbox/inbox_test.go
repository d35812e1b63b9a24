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
	"sync"
	"testing"
	"time"

	"github.com/pingcap/errors"
	cerrors "github.com/pingcap/tiactor/pkg/errors"
	"github.com/pingcap/tiactor/pkg/leakutil"
	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"
)

func TestMain(m *testing.M) {
	leakutil.SetUpLeakTest(m)
}

type countingWaker struct {
	n atomic.Int64
}

func (w *countingWaker) Wake() {
	w.n.Inc()
}

func TestSendReceiveInOrder(t *testing.T) {
	t.Parallel()

	tx, rx := New[int](4)
	defer tx.Close()
	require.Equal(t, 4, tx.Cap())

	// Several laps over the ring.
	for lap := 0; lap < 3; lap++ {
		for i := 0; i < 4; i++ {
			require.Nil(t, tx.Send(lap*10+i))
		}
		require.Equal(t, 4, rx.Len())
		for i := 0; i < 4; i++ {
			v, ok := rx.TryReceive()
			require.True(t, ok)
			require.Equal(t, lap*10+i, v)
		}
		_, ok := rx.TryReceive()
		require.False(t, ok)
		require.Equal(t, 0, rx.Len())
	}
}

func TestInboxFull(t *testing.T) {
	t.Parallel()

	tx, rx := New[int](2)
	defer tx.Close()
	require.Nil(t, tx.Send(1))
	require.Nil(t, tx.Send(2))
	err := tx.Send(3)
	require.True(t, cerrors.ErrInboxFull.Equal(err), "%v", err)
	require.True(t, cerrors.ErrInboxFull.Equal(tx.Send(3)))

	v, ok := rx.TryReceive()
	require.True(t, ok)
	require.Equal(t, 1, v)

	// Exactly one slot is freed.
	require.Nil(t, tx.Send(3))
	require.True(t, cerrors.ErrInboxFull.Equal(tx.Send(4)))

	v, _ = rx.TryReceive()
	require.Equal(t, 2, v)
	v, _ = rx.TryReceive()
	require.Equal(t, 3, v)
}

func TestDefaultCapacity(t *testing.T) {
	t.Parallel()

	tx, rx := New[string](0)
	defer tx.Close()
	defer rx.Close()
	require.Equal(t, DefaultCapacity, rx.Cap())
}

func TestClosedAfterAllSendersClosed(t *testing.T) {
	t.Parallel()

	tx, rx := New[int](4)
	tx2 := tx.Clone()
	require.Equal(t, 2, rx.SenderCount())
	require.Nil(t, tx2.Send(7))
	tx.Close()
	tx.Close()
	require.Equal(t, 1, rx.SenderCount())
	require.True(t, cerrors.ErrActorDisconnected.Equal(tx.Send(1)))
	tx2.Close()

	w := &countingWaker{}
	// Pending messages are still delivered.
	v, st := rx.Receive(w)
	require.Equal(t, Ready, st)
	require.Equal(t, 7, v)
	_, st = rx.Receive(w)
	require.Equal(t, Closed, st)
	_, st = rx.Receive(w)
	require.Equal(t, Closed, st)
	require.Equal(t, int64(0), w.n.Load())
}

func TestLastSenderCloseWakesReceiver(t *testing.T) {
	t.Parallel()

	tx, rx := New[int](4)
	w := &countingWaker{}
	_, st := rx.Receive(w)
	require.Equal(t, Pending, st)
	tx.Close()
	require.Equal(t, int64(1), w.n.Load())
	_, st = rx.Receive(w)
	require.Equal(t, Closed, st)
}

func TestReceiverClosed(t *testing.T) {
	t.Parallel()

	tx, rx := New[int](4)
	defer tx.Close()
	require.Nil(t, tx.Send(1))
	require.True(t, tx.IsConnected())
	rx.Close()
	require.True(t, rx.IsClosed())
	require.False(t, tx.IsConnected())
	require.Equal(t, 0, rx.Len())
	require.True(t, cerrors.ErrActorDisconnected.Equal(tx.Send(2)))

	s := rx.NewSender()
	require.False(t, s.IsConnected())
	s.Close()
}

func TestNewSenderAfterLastSenderClosed(t *testing.T) {
	t.Parallel()

	tx, rx := New[int](4)
	defer rx.Close()
	s := rx.NewSender()
	require.Equal(t, 2, rx.SenderCount())
	require.True(t, s.IsConnected())
	tx.Close()
	s.Close()
	require.Equal(t, 0, rx.SenderCount())

	w := &countingWaker{}
	_, st := rx.Receive(w)
	require.Equal(t, Closed, st)

	// The inbox must not be revived once it was observed closed.
	s = rx.NewSender()
	require.False(t, s.IsConnected())
	require.Equal(t, 0, rx.SenderCount())
	require.True(t, cerrors.ErrActorDisconnected.Equal(s.Send(1)))
	clone := s.Clone()
	require.False(t, clone.IsConnected())
	s.Close()
	clone.Close()
	require.Equal(t, 0, rx.SenderCount())
	_, st = rx.Receive(w)
	require.Equal(t, Closed, st)
}

func TestWakeOncePerBatch(t *testing.T) {
	t.Parallel()

	tx, rx := New[int](8)
	defer tx.Close()
	w := &countingWaker{}

	_, st := rx.Receive(w)
	require.Equal(t, Pending, st)
	for i := 0; i < 5; i++ {
		require.Nil(t, tx.Send(i))
	}
	require.Equal(t, int64(1), w.n.Load())

	for i := 0; i < 5; i++ {
		v, st := rx.Receive(w)
		require.Equal(t, Ready, st)
		require.Equal(t, i, v)
	}
	_, st = rx.Receive(w)
	require.Equal(t, Pending, st)
	require.Nil(t, tx.Send(5))
	require.Nil(t, tx.Send(6))
	require.Equal(t, int64(2), w.n.Load())

	// No registration, no wake.
	v, ok := rx.TryReceive()
	require.True(t, ok)
	require.Equal(t, 5, v)
	v, ok = rx.TryReceive()
	require.True(t, ok)
	require.Equal(t, 6, v)
	require.Nil(t, tx.Send(7))
	require.Equal(t, int64(2), w.n.Load())
}

func TestSameInbox(t *testing.T) {
	t.Parallel()

	tx, rx := New[int](1)
	tx2 := rx.NewSender()
	other, otherRx := New[int](1)
	defer func() {
		tx.Close()
		tx2.Close()
		other.Close()
		otherRx.Close()
	}()
	require.True(t, tx.SameInbox(tx2))
	require.False(t, tx.SameInbox(other))
	require.False(t, tx.SameInbox(nil))
}

func TestSendB(t *testing.T) {
	t.Parallel()

	tx, rx := New[int](1)
	defer tx.Close()
	require.Nil(t, tx.Send(1))

	ch := make(chan error, 1)
	go func() {
		ch <- tx.SendB(context.Background(), 2)
	}()
	select {
	case <-time.After(100 * time.Millisecond):
	case err := <-ch:
		t.Fatalf("must block, got error %v", err)
	}
	// Receive unblocks SendB.
	v, ok := rx.TryReceive()
	require.True(t, ok)
	require.Equal(t, 1, v)
	select {
	case <-time.After(5 * time.Second):
		t.Fatal("must not timeout")
	case err := <-ch:
		require.Nil(t, err)
	}
	v, ok = rx.TryReceive()
	require.True(t, ok)
	require.Equal(t, 2, v)

	// SendB must be aware of context cancel.
	require.Nil(t, tx.Send(3))
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		ch <- tx.SendB(ctx, 4)
	}()
	cancel()
	err := <-ch
	require.ErrorIs(t, errors.Cause(err), context.Canceled)

	// SendB returns once the receiver is closed.
	go func() {
		ch <- tx.SendB(context.Background(), 5)
	}()
	time.Sleep(20 * time.Millisecond)
	rx.Close()
	err = <-ch
	require.True(t, cerrors.ErrActorDisconnected.Equal(err), "%v", err)
}

func TestConcurrentSenders(t *testing.T) {
	t.Parallel()

	const (
		senders = 16
		perSend = 2000
	)
	tx, rx := New[[2]int](32)
	w := &countingWaker{}

	var wg sync.WaitGroup
	for s := 0; s < senders; s++ {
		wg.Add(1)
		s := s
		sender := tx.Clone()
		go func() {
			defer wg.Done()
			defer sender.Close()
			for i := 0; i < perSend; {
				err := sender.Send([2]int{s, i})
				if err == nil {
					i++
					continue
				}
				if !cerrors.ErrInboxFull.Equal(err) {
					panic(err)
				}
			}
		}()
	}
	tx.Close()

	next := make([]int, senders)
	total := 0
	for {
		v, st := rx.Receive(w)
		if st == Closed {
			break
		}
		if st == Pending {
			continue
		}
		// Per sender FIFO.
		require.Equal(t, next[v[0]], v[1])
		next[v[0]]++
		total++
	}
	wg.Wait()
	require.Equal(t, senders*perSend, total)
	for _, n := range next {
		require.Equal(t, perSend, n)
	}
}
