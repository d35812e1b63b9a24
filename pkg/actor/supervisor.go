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
	"time"

	"github.com/benbjohnson/clock"
	"github.com/cenkalti/backoff/v4"
)

// Directive is the decision of a supervisor about a failed actor.
type Directive int

// Directives.
const (
	// Stop drops the actor and closes its inbox.
	Stop Directive = iota
	// Restart replaces the actor with a fresh one created by its NewActor.
	// The inbox, the ActorRefs and the placement are kept.
	Restart
	// Escalate stops the actor and fails the actor that spawned it. An actor
	// spawned outside of any actor escalates to the runtime, which shuts
	// down.
	Escalate
)

func (d Directive) String() string {
	switch d {
	case Stop:
		return "stop"
	case Restart:
		return "restart"
	case Escalate:
		return "escalate"
	}
	return "unknown"
}

// Supervisor decides what happens to a failed actor. Decide is called by
// the worker polling the actor.
type Supervisor interface {
	Decide(err error) Directive
}

// DelayedRestarter is implemented by supervisors that delay restarts.
// RestartDelay is called after Decide returned Restart.
type DelayedRestarter interface {
	RestartDelay() time.Duration
}

// SupervisorFunc adapts a function to Supervisor.
type SupervisorFunc func(err error) Directive

// Decide implements Supervisor.
func (f SupervisorFunc) Decide(err error) Directive {
	return f(err)
}

// StopSupervisor stops every failed actor. It is the default supervisor,
// actors are never restarted implicitly.
var StopSupervisor Supervisor = SupervisorFunc(func(error) Directive { return Stop })

// EscalateSupervisor escalates every failure.
var EscalateSupervisor Supervisor = SupervisorFunc(func(error) Directive { return Escalate })

// RestartConfig configures a RestartSupervisor.
type RestartConfig struct {
	// MaxRestarts is the number of restarts allowed within Window,
	// 0 means unlimited.
	MaxRestarts int
	// Window resets the restart count and the backoff once the actor ran
	// that long without failing. 0 never resets.
	Window time.Duration
	// InitialInterval, MaxInterval and Multiplier configure the
	// exponential backoff between restarts. A zero InitialInterval restarts
	// right away.
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Multiplier      float64
	// OnLimit is the directive once MaxRestarts is exceeded, Stop or
	// Escalate.
	OnLimit Directive
}

// RestartSupervisor restarts failed actors with an exponential backoff,
// until they failed more than MaxRestarts times within Window.
type RestartSupervisor struct {
	cfg     RestartConfig
	clock   clock.Clock
	backoff *backoff.ExponentialBackOff

	restarts    int
	lastFailure time.Time
	delay       time.Duration
}

// NewRestartSupervisor creates a RestartSupervisor, clk may be nil.
// A supervisor keeps per actor state, it must not be shared by actors.
func NewRestartSupervisor(cfg RestartConfig, clk clock.Clock) *RestartSupervisor {
	if clk == nil {
		clk = clock.New()
	}
	if cfg.OnLimit == Restart {
		cfg.OnLimit = Stop
	}
	s := &RestartSupervisor{cfg: cfg, clock: clk}
	if cfg.InitialInterval > 0 {
		b := backoff.NewExponentialBackOff()
		b.InitialInterval = cfg.InitialInterval
		if cfg.MaxInterval > 0 {
			b.MaxInterval = cfg.MaxInterval
		}
		if cfg.Multiplier > 0 {
			b.Multiplier = cfg.Multiplier
		}
		b.RandomizationFactor = 0
		// MaxElapsedTime=0 means the backoff never stops, the restart limit
		// stops it.
		b.MaxElapsedTime = 0
		b.Clock = clk
		b.Reset()
		s.backoff = b
	}
	return s
}

// Decide implements Supervisor.
func (s *RestartSupervisor) Decide(err error) Directive {
	now := s.clock.Now()
	if s.cfg.Window > 0 && !s.lastFailure.IsZero() && now.Sub(s.lastFailure) >= s.cfg.Window {
		s.restarts = 0
		if s.backoff != nil {
			s.backoff.Reset()
		}
	}
	s.lastFailure = now
	if s.cfg.MaxRestarts > 0 && s.restarts >= s.cfg.MaxRestarts {
		return s.cfg.OnLimit
	}
	s.restarts++
	s.delay = 0
	if s.backoff != nil {
		s.delay = s.backoff.NextBackOff()
	}
	return Restart
}

// RestartDelay implements DelayedRestarter.
func (s *RestartSupervisor) RestartDelay() time.Duration {
	return s.delay
}

// Restarts returns the number of restarts since the last reset.
func (s *RestartSupervisor) Restarts() int {
	return s.restarts
}
