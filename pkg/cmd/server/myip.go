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

package server

import (
	stdnet "net"

	"github.com/pingcap/log"
	"github.com/pingcap/tiactor/pkg/actor"
	cerror "github.com/pingcap/tiactor/pkg/errors"
	"github.com/pingcap/tiactor/pkg/net"
	"go.uber.org/zap"
)

// listenerActor accepts connections and spawns a connActor for each of them
// on its own worker.
type listenerActor struct {
	addr  string
	bound chan<- stdnet.Addr
	l     *net.TCPListener
}

func (a *listenerActor) Poll(ctx *actor.Context[struct{}]) (bool, error) {
	if ctx.Err() != nil {
		return false, nil
	}
	if a.l == nil {
		l, err := net.Listen(ctx, a.addr)
		if err != nil {
			return false, err
		}
		a.l = l
		log.Info("listening", zap.Stringer("addr", l.LocalAddr()))
		if a.bound != nil {
			select {
			case a.bound <- l.LocalAddr():
			default:
			}
		}
	}
	for {
		stream, peer, err := a.l.Accept()
		if cerror.IsWouldBlock(err) {
			return true, nil
		}
		if err != nil {
			return false, err
		}
		ref, err := actor.Spawn[struct{}](ctx.Runtime(), func() actor.Actor[struct{}] {
			return &connActor{stream: stream, reply: []byte(peer.String() + "\n")}
		}, actor.Options{Name: "conn", Placement: actor.Local()})
		if err != nil {
			log.Warn("spawn connection actor failed",
				zap.Stringer("peer", peer), zap.Error(err))
			_ = stream.Close()
			continue
		}
		ref.Close()
	}
}

// Stop implements actor.Stopper.
func (a *listenerActor) Stop() {
	if a.l != nil {
		if err := a.l.Close(); err != nil {
			log.Warn("close listener failed", zap.Error(err))
		}
		a.l = nil
	}
}

// connActor writes the address of its peer and closes the connection.
type connActor struct {
	stream  *net.TCPStream
	reply   []byte
	written int
	bound   bool
}

func (a *connActor) Poll(ctx *actor.Context[struct{}]) (bool, error) {
	if !a.bound {
		if err := a.stream.Bind(ctx); err != nil {
			return false, err
		}
		a.bound = true
	}
	err := a.stream.SendAll(a.reply, &a.written)
	if cerror.IsWouldBlock(err) {
		return true, nil
	}
	return false, err
}

// Stop implements actor.Stopper.
func (a *connActor) Stop() {
	if err := a.stream.Close(); err != nil {
		log.Warn("close connection failed",
			zap.Stringer("peer", a.stream.PeerAddr()), zap.Error(err))
	}
}
