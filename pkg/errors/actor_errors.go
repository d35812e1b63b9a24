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

package errors

import (
	"github.com/pingcap/errors"
)

// errors
var (
	// inbox related errors
	ErrInboxFull = errors.Normalize(
		"actor inbox is full",
		errors.RFCCodeText("ACTOR:ErrInboxFull"),
	)
	ErrActorDisconnected = errors.Normalize(
		"actor is not running any more",
		errors.RFCCodeText("ACTOR:ErrActorDisconnected"),
	)

	// actor related errors
	ErrActorPanicked = errors.Normalize(
		"actor %s panicked: %v",
		errors.RFCCodeText("ACTOR:ErrActorPanicked"),
	)
	ErrActorEscalated = errors.Normalize(
		"actor %s escalated its failure: %s",
		errors.RFCCodeText("ACTOR:ErrActorEscalated"),
	)
	ErrNoMessages = errors.Normalize(
		"no messages, every actor reference is closed",
		errors.RFCCodeText("ACTOR:ErrNoMessages"),
	)
	ErrDeadlinePassed = errors.Normalize(
		"deadline passed",
		errors.RFCCodeText("ACTOR:ErrDeadlinePassed"),
	)

	// runtime related errors
	ErrInvalidConfig = errors.Normalize(
		"invalid runtime config: %s",
		errors.RFCCodeText("ACTOR:ErrInvalidConfig"),
	)
	ErrRuntimeShutdown = errors.Normalize(
		"runtime is shutting down",
		errors.RFCCodeText("ACTOR:ErrRuntimeShutdown"),
	)
	ErrRuntimeAlreadyStarted = errors.Normalize(
		"runtime already started",
		errors.RFCCodeText("ACTOR:ErrRuntimeAlreadyStarted"),
	)
	ErrRuntimeNotStarted = errors.Normalize(
		"runtime not started",
		errors.RFCCodeText("ACTOR:ErrRuntimeNotStarted"),
	)
	ErrInvalidWorker = errors.Normalize(
		"worker %d does not exist, runtime has %d workers",
		errors.RFCCodeText("ACTOR:ErrInvalidWorker"),
	)
	ErrWorkerFailed = errors.Normalize(
		"worker %d failed",
		errors.RFCCodeText("ACTOR:ErrWorkerFailed"),
	)
	ErrGracefulShutdownTimeout = errors.Normalize(
		"graceful shutdown timed out after %s",
		errors.RFCCodeText("ACTOR:ErrGracefulShutdownTimeout"),
	)

	// reactor related errors
	ErrReactorPoll = errors.Normalize(
		"reactor poll failed",
		errors.RFCCodeText("ACTOR:ErrReactorPoll"),
	)
	ErrReactorRegister = errors.Normalize(
		"register fd %d with reactor failed",
		errors.RFCCodeText("ACTOR:ErrReactorRegister"),
	)
	ErrNotifierWake = errors.Normalize(
		"wake up notifier failed",
		errors.RFCCodeText("ACTOR:ErrNotifierWake"),
	)

	// net related errors
	ErrWouldBlock = errors.Normalize(
		"operation would block",
		errors.RFCCodeText("ACTOR:ErrWouldBlock"),
	)
	ErrInvalidAddress = errors.Normalize(
		"invalid address %s",
		errors.RFCCodeText("ACTOR:ErrInvalidAddress"),
	)
)
