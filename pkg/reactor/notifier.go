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
	"github.com/pingcap/errors"
	cerrors "github.com/pingcap/tiactor/pkg/errors"
	"go.uber.org/atomic"
	"golang.org/x/sys/unix"
)

// Notifier wakes up a poller blocked in another goroutine. Repeated wakes
// are coalesced until the poller calls Reset. A wake is never lost: while
// awoken is set the fd is readable, or Reset is running and the poller
// checks its work once Reset returns.
type Notifier struct {
	readFd  int
	writeFd int
	awoken  atomic.Bool
	closed  atomic.Bool
}

// NewNotifier creates a Notifier backed by an eventfd on linux and a
// non-blocking pipe elsewhere.
func NewNotifier() (*Notifier, error) {
	r, w, err := newNotifyFds()
	if err != nil {
		return nil, cerrors.WrapError(cerrors.ErrNotifierWake, err)
	}
	return &Notifier{readFd: r, writeFd: w}, nil
}

// Fd returns the fd to register for readability.
func (n *Notifier) Fd() int {
	return n.readFd
}

// Wake makes the poller return, it is safe to call from any goroutine.
func (n *Notifier) Wake() error {
	if !n.awoken.CompareAndSwap(false, true) {
		return nil
	}
	if n.closed.Load() {
		return nil
	}
	var buf [8]byte
	// eventfd requires an 8 bytes native endian integer.
	buf[0] = 1
	for {
		_, err := unix.Write(n.writeFd, buf[:])
		switch err {
		case nil, unix.EAGAIN:
			// EAGAIN means the poller has not consumed the previous wake yet.
			return nil
		case unix.EINTR:
			continue
		default:
			return cerrors.WrapError(cerrors.ErrNotifierWake, err)
		}
	}
}

// Reset consumes pending wakes, it must be called by the polling goroutine
// after each poll. The fd is drained before awoken is cleared, a wake
// coalesced in between is covered by the poller being awake.
func (n *Notifier) Reset() {
	var buf [64]byte
	for {
		nr, err := unix.Read(n.readFd, buf[:])
		if err == unix.EINTR {
			continue
		}
		if err != nil || nr <= 0 {
			break
		}
	}
	n.awoken.Store(false)
}

// Close closes the fds.
func (n *Notifier) Close() error {
	if !n.closed.CompareAndSwap(false, true) {
		return nil
	}
	err := unix.Close(n.readFd)
	if n.writeFd != n.readFd {
		if err1 := unix.Close(n.writeFd); err == nil {
			err = err1
		}
	}
	return errors.Trace(err)
}
