// Copyright 2022 PingCAP, Inc.
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

package config

import (
	validation "github.com/go-ozzo/ozzo-validation/v4"
	cerrors "github.com/pingcap/tiactor/pkg/errors"
)

// SchedulerConfig configs the worker schedulers.
type SchedulerConfig struct {
	// LocalPerShared is the number of local actors a worker runs before it
	// runs a shared actor of the same priority.
	LocalPerShared int `toml:"local-per-shared" json:"local-per-shared"`
	// EventsPerPoll is the size of the OS event buffer of a reactor.
	EventsPerPoll int `toml:"events-per-poll" json:"events-per-poll"`
}

func (c *SchedulerConfig) clone() *SchedulerConfig {
	clone := *c
	return &clone
}

// ValidateAndAdjust verifies that each parameter is valid.
func (c *SchedulerConfig) ValidateAndAdjust() error {
	err := validation.ValidateStruct(c,
		validation.Field(&c.LocalPerShared, validation.Required, validation.Min(1)),
		validation.Field(&c.EventsPerPoll, validation.Required, validation.Min(1), validation.Max(65536)),
	)
	if err != nil {
		return cerrors.ErrInvalidConfig.GenWithStackByArgs(err.Error())
	}
	return nil
}
