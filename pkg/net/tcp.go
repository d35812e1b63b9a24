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

// Package net provides non-blocking TCP sockets driven by the reactor of
// the worker running an actor. Operations that would block return
// ErrWouldBlock and the actor is woken once the socket is ready.
package net

import (
	"io"
	stdnet "net"

	"github.com/pingcap/errors"
	cerrors "github.com/pingcap/tiactor/pkg/errors"
	"github.com/pingcap/tiactor/pkg/reactor"
	"golang.org/x/sys/unix"
)

// Registrar registers fds for the calling actor, *actor.Context is a
// Registrar.
type Registrar interface {
	Register(fd int, interest reactor.Interest) error
	Deregister(fd int) error
}

var errWouldBlock = cerrors.ErrWouldBlock.FastGenByArgs()

// TCPListener is a non-blocking TCP listener.
type TCPListener struct {
	fd    int
	r     Registrar
	laddr *stdnet.TCPAddr
}

// Listen binds a listener to addr and registers it for readability with r.
// A port 0 picks a free port, see LocalAddr.
func Listen(r Registrar, addr string) (*TCPListener, error) {
	tcpAddr, err := resolveTCPAddr(addr)
	if err != nil {
		return nil, err
	}
	sa, family := toSockaddr(tcpAddr)
	fd, err := newSocket(family)
	if err != nil {
		return nil, err
	}
	l := &TCPListener{fd: fd, r: r}
	if err := l.listen(sa); err != nil {
		_ = unix.Close(fd)
		return nil, err
	}
	if err := r.Register(fd, reactor.Readable); err != nil {
		_ = unix.Close(fd)
		return nil, errors.Trace(err)
	}
	return l, nil
}

func (l *TCPListener) listen(sa unix.Sockaddr) error {
	if err := unix.SetsockoptInt(l.fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		return errors.Trace(err)
	}
	if err := unix.Bind(l.fd, sa); err != nil {
		return errors.Annotate(err, "bind")
	}
	if err := unix.Listen(l.fd, unix.SOMAXCONN); err != nil {
		return errors.Annotate(err, "listen")
	}
	laddr, err := localAddr(l.fd)
	if err != nil {
		return err
	}
	l.laddr = laddr
	return nil
}

// LocalAddr returns the address the listener is bound to.
func (l *TCPListener) LocalAddr() stdnet.Addr {
	return l.laddr
}

// Accept returns an accepted connection and its peer address, or
// ErrWouldBlock when no connection is pending. The stream is not bound to
// any actor, see TCPStream.Bind.
func (l *TCPListener) Accept() (*TCPStream, stdnet.Addr, error) {
	for {
		fd, sa, err := unix.Accept(l.fd)
		switch {
		case err == nil:
		case err == unix.EINTR || err == unix.ECONNABORTED:
			continue
		case isWouldBlock(err):
			return nil, nil, errWouldBlock
		default:
			return nil, nil, errors.Annotate(err, "accept")
		}
		unix.CloseOnExec(fd)
		if err := unix.SetNonblock(fd, true); err != nil {
			_ = unix.Close(fd)
			return nil, nil, errors.Trace(err)
		}
		peer := fromSockaddr(sa)
		return &TCPStream{fd: fd, peer: peer}, peer, nil
	}
}

// Close deregisters and closes the listener.
func (l *TCPListener) Close() error {
	if l.fd < 0 {
		return nil
	}
	_ = l.r.Deregister(l.fd)
	err := unix.Close(l.fd)
	l.fd = -1
	return errors.Trace(err)
}

// TCPStream is a non-blocking TCP connection.
type TCPStream struct {
	fd   int
	r    Registrar
	peer *stdnet.TCPAddr
}

// Connect starts connecting to addr, the stream is bound to r. The
// connection is established once the stream is writable, TakeError then
// reports whether it failed.
func Connect(r Registrar, addr string) (*TCPStream, error) {
	tcpAddr, err := resolveTCPAddr(addr)
	if err != nil {
		return nil, err
	}
	sa, family := toSockaddr(tcpAddr)
	fd, err := newSocket(family)
	if err != nil {
		return nil, err
	}
	for {
		err = unix.Connect(fd, sa)
		if err != unix.EINTR {
			break
		}
	}
	if err != nil && err != unix.EINPROGRESS {
		_ = unix.Close(fd)
		return nil, errors.Annotate(err, "connect")
	}
	s := &TCPStream{fd: fd, peer: tcpAddr}
	if err := s.Bind(r); err != nil {
		_ = unix.Close(fd)
		return nil, err
	}
	return s, nil
}

// Bind registers the stream for readability and writability with r, the
// actor owning r is woken whenever the stream becomes ready.
func (s *TCPStream) Bind(r Registrar) error {
	if err := r.Register(s.fd, reactor.Readable|reactor.Writable); err != nil {
		return errors.Trace(err)
	}
	s.r = r
	return nil
}

// Recv reads into buf. It returns io.EOF once the peer closed the
// connection and ErrWouldBlock when no data is available.
func (s *TCPStream) Recv(buf []byte) (int, error) {
	for {
		n, err := unix.Read(s.fd, buf)
		switch {
		case err == nil:
			if n == 0 && len(buf) > 0 {
				return 0, io.EOF
			}
			return n, nil
		case err == unix.EINTR:
			continue
		case isWouldBlock(err):
			return 0, errWouldBlock
		default:
			return 0, errors.Annotate(err, "recv")
		}
	}
}

// Send writes buf, possibly partially. It returns ErrWouldBlock when the
// send buffer is full.
func (s *TCPStream) Send(buf []byte) (int, error) {
	for {
		n, err := unix.Write(s.fd, buf)
		switch {
		case err == nil:
			return n, nil
		case err == unix.EINTR:
			continue
		case isWouldBlock(err):
			return 0, errWouldBlock
		default:
			return 0, errors.Annotate(err, "send")
		}
	}
}

// SendAll writes buf from offset *written, it advances written and
// returns ErrWouldBlock if the rest must be sent once writable.
func (s *TCPStream) SendAll(buf []byte, written *int) error {
	for *written < len(buf) {
		n, err := s.Send(buf[*written:])
		if err != nil {
			return err
		}
		*written += n
	}
	return nil
}

// TakeError returns the pending socket error, such as a failed connect.
func (s *TCPStream) TakeError() error {
	errno, err := unix.GetsockoptInt(s.fd, unix.SOL_SOCKET, unix.SO_ERROR)
	if err != nil {
		return errors.Trace(err)
	}
	if errno != 0 {
		return errors.Trace(unix.Errno(errno))
	}
	return nil
}

// PeerAddr returns the address of the peer.
func (s *TCPStream) PeerAddr() stdnet.Addr {
	return s.peer
}

// LocalAddr returns the local address of the stream.
func (s *TCPStream) LocalAddr() (stdnet.Addr, error) {
	return localAddr(s.fd)
}

// Close deregisters and closes the stream.
func (s *TCPStream) Close() error {
	if s.fd < 0 {
		return nil
	}
	if s.r != nil {
		_ = s.r.Deregister(s.fd)
	}
	err := unix.Close(s.fd)
	s.fd = -1
	return errors.Trace(err)
}
