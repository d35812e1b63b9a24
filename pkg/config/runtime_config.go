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

package config

import (
	"encoding/json"
	"runtime"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/pingcap/errors"
	"github.com/pingcap/log"
	cerror "github.com/pingcap/tiactor/pkg/errors"
	"github.com/pingcap/tiactor/pkg/reactor"
	"github.com/shirou/gopsutil/v3/cpu"
	"go.uber.org/zap"
)

const (
	// DefaultInboxCapacity is the inbox capacity of actors that do not set
	// one.
	DefaultInboxCapacity = 64
	// DefaultGracefulShutdownTimeout bounds a graceful shutdown.
	DefaultGracefulShutdownTimeout = 30 * time.Second
	// DefaultMaxWorkerRestarts is the number of times a failed worker is
	// restarted before the runtime shuts down.
	DefaultMaxWorkerRestarts = 3
	// maxWorkers bounds the worker count.
	maxWorkers = 4096
)

var defaultRuntimeConfig = &RuntimeConfig{
	Workers:                 0,
	PinCPUs:                 false,
	Signals:                 reactor.DefaultSignals,
	ShutdownOnSignal:        true,
	GracefulShutdownTimeout: TomlDuration(DefaultGracefulShutdownTimeout),
	BlockOnStart:            false,
	DefaultInboxCapacity:    DefaultInboxCapacity,
	MaxWorkerRestarts:       DefaultMaxWorkerRestarts,
	Scheduler: &SchedulerConfig{
		LocalPerShared: 4,
		EventsPerPoll:  256,
	},
	Log: &LogConfig{
		Level: "info",
	},
}

// RuntimeConfig configures a runtime.
type RuntimeConfig struct {
	// Workers is the number of worker threads, 0 means one per physical
	// core.
	Workers int `toml:"workers" json:"workers"`
	// PinCPUs pins worker i to CPU i, linux only.
	PinCPUs bool `toml:"pin-cpus" json:"pin-cpus"`
	// Signals are relayed to actors that asked for them.
	Signals []string `toml:"signals" json:"signals"`
	// ShutdownOnSignal shuts the runtime down on a signal when no actor
	// receives signals. The first signal is graceful, the second immediate.
	ShutdownOnSignal        bool         `toml:"shutdown-on-signal" json:"shutdown-on-signal"`
	GracefulShutdownTimeout TomlDuration `toml:"graceful-shutdown-timeout" json:"graceful-shutdown-timeout"`
	// BlockOnStart makes Start return only once the runtime stopped.
	BlockOnStart         bool `toml:"block-on-start" json:"block-on-start"`
	DefaultInboxCapacity int  `toml:"default-inbox-capacity" json:"default-inbox-capacity"`
	MaxWorkerRestarts    int  `toml:"max-worker-restarts" json:"max-worker-restarts"`

	Scheduler *SchedulerConfig `toml:"scheduler" json:"scheduler"`
	Log       *LogConfig       `toml:"log" json:"log"`
}

// LogConfig configures the logger.
type LogConfig struct {
	Level          string `toml:"level" json:"level"`
	File           string `toml:"file" json:"file"`
	FileMaxSize    int    `toml:"max-size" json:"max-size"`
	FileMaxDays    int    `toml:"max-days" json:"max-days"`
	FileMaxBackups int    `toml:"max-backups" json:"max-backups"`
}

// GetDefaultRuntimeConfig returns the default runtime config.
func GetDefaultRuntimeConfig() *RuntimeConfig {
	return defaultRuntimeConfig.Clone()
}

// Marshal returns the json marshal format of a RuntimeConfig
func (c *RuntimeConfig) Marshal() (string, error) {
	cfg, err := json.Marshal(c)
	if err != nil {
		return "", errors.Annotatef(err, "Marshal data: %v", c)
	}
	return string(cfg), nil
}

// Unmarshal unmarshals into *RuntimeConfig from json marshal byte slice
func (c *RuntimeConfig) Unmarshal(data []byte) error {
	return errors.Trace(json.Unmarshal(data, c))
}

// Clone clones a runtime config
func (c *RuntimeConfig) Clone() *RuntimeConfig {
	str, err := c.Marshal()
	if err != nil {
		log.Panic("failed to marshal runtime config", zap.Error(err))
	}
	clone := new(RuntimeConfig)
	if err := clone.Unmarshal([]byte(str)); err != nil {
		log.Panic("failed to unmarshal runtime config", zap.Error(err))
	}
	return clone
}

// ValidateAndAdjust validates the config and fills defaults.
func (c *RuntimeConfig) ValidateAndAdjust() error {
	if c.Workers == 0 {
		c.Workers = physicalCores()
	}
	if c.DefaultInboxCapacity == 0 {
		c.DefaultInboxCapacity = DefaultInboxCapacity
	}
	if c.GracefulShutdownTimeout == 0 {
		c.GracefulShutdownTimeout = TomlDuration(DefaultGracefulShutdownTimeout)
	}
	if c.Signals == nil {
		c.Signals = append([]string(nil), reactor.DefaultSignals...)
	}
	if c.Scheduler == nil {
		c.Scheduler = defaultRuntimeConfig.Scheduler.clone()
	}
	if c.Log == nil {
		c.Log = &LogConfig{Level: defaultRuntimeConfig.Log.Level}
	}

	err := validation.ValidateStruct(c,
		validation.Field(&c.Workers, validation.Min(1), validation.Max(maxWorkers)),
		validation.Field(&c.DefaultInboxCapacity, validation.Min(1)),
		validation.Field(&c.MaxWorkerRestarts, validation.Min(0)),
		validation.Field(&c.GracefulShutdownTimeout, validation.Min(TomlDuration(0))),
		validation.Field(&c.Signals, validation.By(func(interface{}) error {
			_, err := reactor.ParseSignals(c.Signals)
			return err
		})),
	)
	if err != nil {
		return cerror.ErrInvalidConfig.GenWithStackByArgs(err.Error())
	}
	return c.Scheduler.ValidateAndAdjust()
}

func physicalCores() int {
	n, err := cpu.Counts(false)
	if err != nil || n <= 0 {
		log.Warn("cannot get the number of physical cores, use logical cores",
			zap.Error(err))
		return runtime.NumCPU()
	}
	return n
}
