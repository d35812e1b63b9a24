// Copyright 2021 PingCAP, Inc.
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

// Package actor provides the actors run by a runtime. An actor is a polled
// computation that owns its state and an inbox, it is only touched by the
// worker that is polling it.
//
// The following diagram shows how a message resumes an actor.
//
//	,--------.        ,-----.        ,---------.        ,------.        ,-----.
//	|ActorRef|        |Inbox|        |Scheduler|        |Worker|        |Actor|
//	`---+----'        `--+--'        `----+----'        `--+---'        `--+--'
//	    |   Send(msg)    |                |                |               |
//	    |--------------->|                |                |               |
//	    |                |   Wake(pid)    |                |               |
//	    |                |--------------->|                |               |
//	    |                |                |--.             |               |
//	    |                |                |  | MarkReady   |               |
//	    |                |                |<-'             |               |
//	    |                |                |     Next()     |               |
//	    |                |                |<---------------|               |
//	    |                |                |   return proc  |               |
//	    |                |                |--------------->|               |
//	    |                |                |                |  Poll(ctx)    |
//	    |                |                |                |-------------->|
//	    |                |             Receive(waker)      |               |
//	    |                |<--------------------------------|---------------|
//	    |                |  msg, or Pending with the waker registered      |
//	    |                |-------------------------------------------------->
//	    |                |                |  Park/Yield/   |               |
//	    |                |                |  Remove        |               |
//	    |                |                |<---------------|               |
//	,---+----.        ,--+--.        ,----+----.        ,--+---.        ,--+--.
//	|ActorRef|        |Inbox|        |Scheduler|        |Worker|        |Actor|
//	`--------'        `-----'        `---------'        `------'        `-----'
//
// Actors are spawned with Spawn. A failing actor is handled by its
// Supervisor, which may restart it with fresh state, stop it, or escalate
// the failure to the actor that spawned it.
package actor
