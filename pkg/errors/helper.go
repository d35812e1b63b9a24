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

// WrapError generates a new error based on given `*errors.Error`, wraps the err
// as cause error.
// If given `err` is nil, returns a nil error, which a the different behavior
// against `Wrap` function in pingcap/errors.
func WrapError(rfcError *errors.Error, err error, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return rfcError.Wrap(err).GenWithStackByCause(args...)
}

// IsInboxFull reports whether err is caused by a full inbox.
func IsInboxFull(err error) bool {
	return ErrInboxFull.Equal(err)
}

// IsActorDisconnected reports whether err is caused by sending to a stopped
// actor.
func IsActorDisconnected(err error) bool {
	return ErrActorDisconnected.Equal(err)
}

// IsWouldBlock reports whether a non-blocking operation must be retried once
// the resource is ready.
func IsWouldBlock(err error) bool {
	return ErrWouldBlock.Equal(err)
}

// IsNoMessages reports whether a blocking receive ended because the inbox
// is closed.
func IsNoMessages(err error) bool {
	return ErrNoMessages.Equal(err)
}

// IsDeadlinePassed reports whether a wait was cut by its deadline.
func IsDeadlinePassed(err error) bool {
	return ErrDeadlinePassed.Equal(err)
}
