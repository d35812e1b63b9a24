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

//go:build linux

package reactor

import (
	"time"

	cerrors "github.com/pingcap/tiactor/pkg/errors"
	"golang.org/x/sys/unix"
)

func newNotifyFds() (int, int, error) {
	fd, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		return -1, -1, err
	}
	return fd, fd, nil
}

// epollPoller implements Poller with epoll(7).
type epollPoller struct {
	epfd     int
	notifier *Notifier
	events   []unix.EpollEvent
	registry
}

func newOSPoller(eventsPerPoll int) (Poller, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, cerrors.WrapError(cerrors.ErrReactorPoll, err)
	}
	notifier, err := NewNotifier()
	if err != nil {
		_ = unix.Close(epfd)
		return nil, err
	}
	ev := unix.EpollEvent{Events: unix.EPOLLIN | unix.EPOLLET, Fd: int32(notifier.Fd())}
	if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, notifier.Fd(), &ev); err != nil {
		_ = notifier.Close()
		_ = unix.Close(epfd)
		return nil, cerrors.WrapError(cerrors.ErrReactorRegister, err, notifier.Fd())
	}
	return &epollPoller{
		epfd:     epfd,
		notifier: notifier,
		events:   make([]unix.EpollEvent, eventsPerPoll),
		registry: newRegistry(),
	}, nil
}

func epollEvents(interest Interest) uint32 {
	events := uint32(unix.EPOLLET | unix.EPOLLRDHUP)
	if interest.IsReadable() {
		events |= unix.EPOLLIN
	}
	if interest.IsWritable() {
		events |= unix.EPOLLOUT
	}
	return events
}

func (p *epollPoller) Register(fd int, interest Interest, waker Waker) error {
	ev := unix.EpollEvent{Events: epollEvents(interest), Fd: int32(fd)}
	op := unix.EPOLL_CTL_ADD
	if _, ok := p.get(fd); ok {
		op = unix.EPOLL_CTL_MOD
	}
	if err := unix.EpollCtl(p.epfd, op, fd, &ev); err != nil {
		return cerrors.WrapError(cerrors.ErrReactorRegister, err, fd)
	}
	p.set(fd, interest, waker)
	return nil
}

func (p *epollPoller) Deregister(fd int) error {
	if !p.remove(fd) {
		return nil
	}
	err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_DEL, fd, nil)
	if err != nil && err != unix.ENOENT && err != unix.EBADF {
		return cerrors.WrapError(cerrors.ErrReactorRegister, err, fd)
	}
	return nil
}

func (p *epollPoller) Poll(timeout time.Duration) (int, error) {
	n, err := unix.EpollWait(p.epfd, p.events, timeoutMillis(timeout))
	if err != nil {
		if err == unix.EINTR {
			return 0, nil
		}
		return 0, cerrors.WrapError(cerrors.ErrReactorPoll, err)
	}
	woken := 0
	for i := 0; i < n; i++ {
		fd := int(p.events[i].Fd)
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

func (p *epollPoller) Wake() error {
	return p.notifier.Wake()
}

func (p *epollPoller) Close() error {
	for _, fd := range p.clear() {
		_ = unix.EpollCtl(p.epfd, unix.EPOLL_CTL_DEL, fd, nil)
	}
	err := p.notifier.Close()
	if err1 := unix.Close(p.epfd); err == nil && err1 != nil {
		err = cerrors.WrapError(cerrors.ErrReactorPoll, err1)
	}
	return err
}
