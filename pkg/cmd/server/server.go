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
	"runtime"
	"time"

	"github.com/docker/go-units"
	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/pingcap/errors"
	"github.com/pingcap/log"
	"github.com/pingcap/tiactor/pkg/actor"
	"github.com/pingcap/tiactor/pkg/cmd/util"
	"github.com/pingcap/tiactor/pkg/config"
	cerror "github.com/pingcap/tiactor/pkg/errors"
	"github.com/pingcap/tiactor/pkg/logutil"
	"github.com/pingcap/tiactor/pkg/rt"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
)

const defaultAddr = "127.0.0.1:7890"

// options defines flags for the `server` command.
type options struct {
	addr                  string
	statusAddr            string
	runtimeConfigFilePath string
	logFileMaxSize        string

	runtimeConfig *config.RuntimeConfig
}

// newOptions creates new options for the `server` command.
func newOptions() *options {
	return &options{
		runtimeConfig: config.GetDefaultRuntimeConfig(),
	}
}

// addFlags receives a *cobra.Command reference and binds
// flags related to the server to it.
func (o *options) addFlags(cmd *cobra.Command) {
	defaultCfg := config.GetDefaultRuntimeConfig()
	cmd.Flags().StringVar(&o.addr, "addr", defaultAddr, "Set the listening address")
	cmd.Flags().StringVar(&o.statusAddr, "status-addr", "", "Serve prometheus metrics on this address, empty disables it")
	cmd.Flags().IntVar(&o.runtimeConfig.Workers, "workers", defaultCfg.Workers, "Number of workers, 0 means one per physical core")
	cmd.Flags().BoolVar(&o.runtimeConfig.PinCPUs, "pin-cpus", defaultCfg.PinCPUs, "Pin every worker to a CPU")
	cmd.Flags().StringVar(&o.runtimeConfig.Log.File, "log-file", defaultCfg.Log.File, "log file path")
	cmd.Flags().StringVar(&o.runtimeConfig.Log.Level, "log-level", defaultCfg.Log.Level, "log level (etc: debug|info|warn|error)")
	cmd.Flags().StringVar(&o.logFileMaxSize, "log-file-max-size", "", "Rotate the log file at this size (etc: 300MiB)")
	cmd.Flags().StringVar(&o.runtimeConfigFilePath, "config", "", "Path of the configuration file")
}

// complete loads the configuration file, flags set on the command line
// override it.
func (o *options) complete(cmd *cobra.Command) error {
	cfg := config.GetDefaultRuntimeConfig()
	if len(o.runtimeConfigFilePath) > 0 {
		if err := config.StrictDecodeFile(o.runtimeConfigFilePath, "tiactor-myip", cfg); err != nil {
			return err
		}
	}
	var flagErr error
	cmd.Flags().Visit(func(flag *pflag.Flag) {
		switch flag.Name {
		case "workers":
			cfg.Workers = o.runtimeConfig.Workers
		case "pin-cpus":
			cfg.PinCPUs = o.runtimeConfig.PinCPUs
		case "log-file":
			cfg.Log.File = o.runtimeConfig.Log.File
		case "log-level":
			cfg.Log.Level = o.runtimeConfig.Log.Level
		case "log-file-max-size":
			size, err := units.RAMInBytes(o.logFileMaxSize)
			if err != nil || size <= 0 {
				flagErr = cerror.ErrInvalidConfig.GenWithStackByArgs(
					"invalid log-file-max-size " + o.logFileMaxSize)
				return
			}
			// Rotation works in whole megabytes.
			cfg.Log.FileMaxSize = int((size + units.MiB - 1) / units.MiB)
		case "addr", "status-addr", "config":
			// do nothing
		default:
			log.Panic("unknown flag, please report a bug", zap.String("flagName", flag.Name))
		}
	})
	if flagErr != nil {
		return flagErr
	}
	if err := cfg.ValidateAndAdjust(); err != nil {
		return errors.Trace(err)
	}
	if cfg.Workers > runtime.NumCPU() {
		cmd.Printf(color.HiYellowString("[WARN] %d workers are more than the %d CPUs, "+
			"workers will share CPUs.\n", cfg.Workers, runtime.NumCPU()))
	}
	o.runtimeConfig = cfg
	return nil
}

// validate checks the options that are not part of the runtime config.
func (o *options) validate() error {
	if len(o.addr) == 0 {
		return cerror.ErrInvalidAddress.GenWithStackByArgs("empty listening address")
	}
	if _, err := stdnet.ResolveTCPAddr("tcp", o.addr); err != nil {
		return cerror.ErrInvalidAddress.Wrap(err).GenWithStackByArgs(o.addr)
	}
	return nil
}

func (o *options) run(cmd *cobra.Command) error {
	ctx, cancel := util.InitCmd(cmd, logutil.FromRuntimeConfig(o.runtimeConfig.Log))
	defer cancel()

	id := uuid.New().String()
	fields := []zap.Field{zap.String("id", id), zap.String("addr", o.addr)}
	if o.runtimeConfig.Log.FileMaxSize > 0 {
		fields = append(fields, zap.String("log-file-max-size",
			humanize.IBytes(uint64(o.runtimeConfig.Log.FileMaxSize)*units.MiB)))
	}
	log.Info("tiactor-myip starting", fields...)

	registry := newRegistry()
	if len(o.statusAddr) > 0 {
		statusServer, _, err := startStatusServer(o.statusAddr, registry,
			newStatus(id, o.runtimeConfig.Workers))
		if err != nil {
			return err
		}
		defer statusServer.Close()
	}

	r, err := rt.New(o.runtimeConfig)
	if err != nil {
		return errors.Trace(err)
	}
	ref, err := spawnServer(r, o.addr, nil)
	if err != nil {
		return errors.Annotate(err, "spawn server")
	}
	defer ref.Close()

	// The runtime stops on SIGINT, SIGTERM, SIGQUIT or SIGHUP.
	if err := r.Run(ctx); err != nil {
		log.Error("run server", zap.String("error", errors.ErrorStack(err)))
		return errors.Annotate(err, "run server")
	}
	log.Info("tiactor-myip exits successfully")
	return nil
}

// spawnServer spawns the listener actor, bound receives its address once it
// listens.
func spawnServer(s actor.Spawner, addr string, bound chan<- stdnet.Addr) (*actor.ActorRef[struct{}], error) {
	return actor.Spawn[struct{}](s, func() actor.Actor[struct{}] {
		return &listenerActor{addr: addr, bound: bound}
	}, actor.Options{
		Name: "listener",
		Supervisor: actor.NewRestartSupervisor(actor.RestartConfig{
			MaxRestarts:     5,
			Window:          time.Minute,
			InitialInterval: 100 * time.Millisecond,
			MaxInterval:     5 * time.Second,
			OnLimit:         actor.Escalate,
		}, nil),
	})
}

// NewCmdServer creates the `server` command.
func NewCmdServer() *cobra.Command {
	o := newOptions()

	command := &cobra.Command{
		Use:   "server",
		Short: "Start a server replying with the address of every peer",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := o.complete(cmd); err != nil {
				return err
			}
			if err := o.validate(); err != nil {
				return err
			}
			return o.run(cmd)
		},
	}
	o.addFlags(command)

	return command
}
