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

//go:build darwin || dragonfly || freebsd || netbsd || openbsd

package reactor

import (
	"time"

	cerrors "github.com/pingcap/tiactor/pkg/errors"
	"golang.org/x/sys/unix"
)

func newNotifyFds() (int, int, error) {
	var fds [2]int
	if err := unix.Pipe(fds[:]); err != nil {
		return -1, -1, err
	}
	for _, fd := range fds {
		unix.CloseOnExec(fd)
		if err := unix.SetNonblock(fd, true); err != nil {
			_ = unix.Close(fds[0])
			_ = unix.Close(fds[1])
			return -1, -1, err
		}
	}
	return fds[0], fds[1], nil
}

// kqueuePoller implements Poller with kqueue(2).
type kqueuePoller struct {
	kq       int
	notifier *Notifier
	events   []unix.Kevent_t
	registry
}

func newOSPoller(eventsPerPoll int) (Poller, error) {
	kq, err := unix.Kqueue()
	if err != nil {
		return nil, cerrors.WrapError(cerrors.ErrReactorPoll, err)
	}
	unix.CloseOnExec(kq)
	notifier, err := NewNotifier()
	if err != nil {
		_ = unix.Close(kq)
		return nil, err
	}
	p := &kqueuePoller{
		kq:       kq,
		notifier: notifier,
		events:   make([]unix.Kevent_t, eventsPerPoll),
		registry: newRegistry(),
	}
	var ch [1]unix.Kevent_t
	unix.SetKevent(&ch[0], notifier.Fd(), unix.EVFILT_READ, unix.EV_ADD|unix.EV_CLEAR)
	if err := p.change(ch[:]); err != nil {
		_ = notifier.Close()
		_ = unix.Close(kq)
		return nil, cerrors.WrapError(cerrors.ErrReactorRegister, err, notifier.Fd())
	}
	return p, nil
}

func (p *kqueuePoller) change(changes []unix.Kevent_t) error {
	for {
		_, err := unix.Kevent(p.kq, changes, nil, nil)
		if err == unix.EINTR {
			continue
		}
		return err
	}
}

func (p *kqueuePoller) Register(fd int, interest Interest, waker Waker) error {
	readFlags, writeFlags := unix.EV_DELETE, unix.EV_DELETE
	if interest.IsReadable() {
		readFlags = unix.EV_ADD | unix.EV_CLEAR
	}
	if interest.IsWritable() {
		writeFlags = unix.EV_ADD | unix.EV_CLEAR
	}
	old, replaced := p.get(fd)
	changes := make([]unix.Kevent_t, 0, 2)
	if readFlags != unix.EV_DELETE || (replaced && old.interest.IsReadable()) {
		var ev unix.Kevent_t
		unix.SetKevent(&ev, fd, unix.EVFILT_READ, readFlags)
		changes = append(changes, ev)
	}
	if writeFlags != unix.EV_DELETE || (replaced && old.interest.IsWritable()) {
		var ev unix.Kevent_t
		unix.SetKevent(&ev, fd, unix.EVFILT_WRITE, writeFlags)
		changes = append(changes, ev)
	}
	if err := p.change(changes); err != nil {
		return cerrors.WrapError(cerrors.ErrReactorRegister, err, fd)
	}
	p.set(fd, interest, waker)
	return nil
}

func (p *kqueuePoller) Deregister(fd int) error {
	old, ok := p.get(fd)
	if !ok {
		return nil
	}
	p.remove(fd)
	changes := make([]unix.Kevent_t, 0, 2)
	if old.interest.IsReadable() {
		var ev unix.Kevent_t
		unix.SetKevent(&ev, fd, unix.EVFILT_READ, unix.EV_DELETE)
		changes = append(changes, ev)
	}
	if old.interest.IsWritable() {
		var ev unix.Kevent_t
		unix.SetKevent(&ev, fd, unix.EVFILT_WRITE, unix.EV_DELETE)
		changes = append(changes, ev)
	}
	err := p.change(changes)
	if err != nil && err != unix.ENOENT && err != unix.EBADF {
		return cerrors.WrapError(cerrors.ErrReactorRegister, err, fd)
	}
	return nil
}

func (p *kqueuePoller) Poll(timeout time.Duration) (int, error) {
	var ts *unix.Timespec
	if timeout >= 0 {
		t := unix.NsecToTimespec(int64(time.Duration(timeoutMillis(timeout)) * time.Millisecond))
		ts = &t
	}
	n, err := unix.Kevent(p.kq, nil, p.events, ts)
	if err != nil {
		if err == unix.EINTR {
			return 0, nil
		}
		return 0, cerrors.WrapError(cerrors.ErrReactorPoll, err)
	}
	woken := 0
	for i := 0; i < n; i++ {
		fd := int(p.events[i].Ident)
		if fd == p.notifier.Fd() {
			continue
		}
		if reg, ok := p.get(fd); ok && reg.waker != nil {
			reg.waker.Wake()
			woken++
		}
	}
	p.notifier.Reset()
	return woken, nil
}

func (p *kqueuePoller) Wake() error {
	return p.notifier.Wake()
}

func (p *kqueuePoller) Close() error {
	p.clear()
	err := p.notifier.Close()
	if err1 := unix.Close(p.kq); err == nil && err1 != nil {
		err = cerrors.WrapError(cerrors.ErrReactorPoll, err1)
	}
	return err
}
