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
	"bytes"
	"context"
	"fmt"
	"io"
	stdnet "net"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/phayes/freeport"
	"github.com/pingcap/tiactor/pkg/actor"
	"github.com/pingcap/tiactor/pkg/config"
	"github.com/pingcap/tiactor/pkg/leakutil"
	"github.com/pingcap/tiactor/pkg/rt"
	"github.com/pingcap/tiactor/pkg/version"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"
)

func freeAddr(t *testing.T) string {
	port, err := freeport.GetFreePort()
	require.Nil(t, err)
	return fmt.Sprintf("127.0.0.1:%d", port)
}

func TestMain(m *testing.M) {
	leakutil.SetUpLeakTest(m)
}

func TestAddUnknownFlag(t *testing.T) {
	cmd := new(cobra.Command)
	o := newOptions()
	o.addFlags(cmd)

	require.Regexp(t, ".*unknown flag: --PD.*", cmd.ParseFlags([]string{"--PD="}).Error())
}

func TestDefaultCfg(t *testing.T) {
	cmd := new(cobra.Command)
	o := newOptions()
	o.addFlags(cmd)

	require.Nil(t, cmd.ParseFlags([]string{}))
	require.Nil(t, o.complete(cmd))
	require.Nil(t, o.validate())

	defaultCfg := config.GetDefaultRuntimeConfig()
	require.Nil(t, defaultCfg.ValidateAndAdjust())
	require.Equal(t, defaultCfg, o.runtimeConfig)
	require.Equal(t, defaultAddr, o.addr)
}

func TestParseCfg(t *testing.T) {
	cmd := new(cobra.Command)
	o := newOptions()
	o.addFlags(cmd)

	require.Nil(t, cmd.ParseFlags([]string{
		"--addr", "0.0.0.0:8000",
		"--workers", "3",
		"--pin-cpus",
		"--log-file", "/tmp/tiactor.log",
		"--log-level", "debug",
		"--log-file-max-size", "300MiB",
	}))
	require.Nil(t, o.complete(cmd))
	require.Nil(t, o.validate())

	require.Equal(t, "0.0.0.0:8000", o.addr)
	require.Equal(t, 3, o.runtimeConfig.Workers)
	require.True(t, o.runtimeConfig.PinCPUs)
	require.Equal(t, "/tmp/tiactor.log", o.runtimeConfig.Log.File)
	require.Equal(t, "debug", o.runtimeConfig.Log.Level)
	require.Equal(t, 300, o.runtimeConfig.Log.FileMaxSize)
	require.Equal(t, config.DefaultInboxCapacity, o.runtimeConfig.DefaultInboxCapacity)
}

func TestLogFileMaxSizeFlag(t *testing.T) {
	for _, tc := range []struct {
		flag string
		mb   int
	}{
		{flag: "64MiB", mb: 64},
		{flag: "1g", mb: 1024},
		{flag: "100k", mb: 1},
	} {
		cmd := new(cobra.Command)
		o := newOptions()
		o.addFlags(cmd)
		require.Nil(t, cmd.ParseFlags([]string{"--log-file-max-size", tc.flag}))
		require.Nil(t, o.complete(cmd), tc.flag)
		require.Equal(t, tc.mb, o.runtimeConfig.Log.FileMaxSize, tc.flag)
	}

	for _, flag := range []string{"lots", "0", "-5MiB"} {
		cmd := new(cobra.Command)
		o := newOptions()
		o.addFlags(cmd)
		require.Nil(t, cmd.ParseFlags([]string{"--log-file-max-size", flag}))
		require.Regexp(t, ".*ErrInvalidConfig.*", o.complete(cmd), flag)
	}
}

func TestWarnMoreWorkersThanCPUs(t *testing.T) {
	cmd := new(cobra.Command)
	var out bytes.Buffer
	cmd.SetOut(&out)
	o := newOptions()
	o.addFlags(cmd)

	require.Nil(t, cmd.ParseFlags([]string{"--workers", "1"}))
	require.Nil(t, o.complete(cmd))
	require.Empty(t, out.String())

	workers := fmt.Sprint(runtime.NumCPU() + 1)
	require.Nil(t, cmd.ParseFlags([]string{"--workers", workers}))
	require.Nil(t, o.complete(cmd))
	require.Contains(t, out.String(), "[WARN] "+workers+" workers")
}

func TestDecodeCfgWithFlags(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "tiactor.toml")
	configContent := `
workers = 2
graceful-shutdown-timeout = "5s"
default-inbox-capacity = 16

[scheduler]
local-per-shared = 2

[log]
level = "warn"
file = "/tmp/from-file.log"
`
	require.Nil(t, os.WriteFile(configPath, []byte(configContent), 0o644))

	cmd := new(cobra.Command)
	o := newOptions()
	o.addFlags(cmd)

	require.Nil(t, cmd.ParseFlags([]string{
		"--config", configPath,
		"--workers", "4",
		"--log-level", "error",
	}))
	require.Nil(t, o.complete(cmd))
	require.Nil(t, o.validate())

	// Flags take precedence over the file.
	require.Equal(t, 4, o.runtimeConfig.Workers)
	require.Equal(t, "error", o.runtimeConfig.Log.Level)
	require.Equal(t, "/tmp/from-file.log", o.runtimeConfig.Log.File)
	require.Equal(t, 5*time.Second, o.runtimeConfig.GracefulShutdownTimeout.Duration())
	require.Equal(t, 16, o.runtimeConfig.DefaultInboxCapacity)
	require.Equal(t, 2, o.runtimeConfig.Scheduler.LocalPerShared)
	require.Equal(t, 256, o.runtimeConfig.Scheduler.EventsPerPoll)
}

func TestDecodeUnknownCfg(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "tiactor.toml")
	require.Nil(t, os.WriteFile(configPath, []byte("workers = 1\n[unknown]\nkey = 1\n"), 0o644))

	cmd := new(cobra.Command)
	o := newOptions()
	o.addFlags(cmd)

	require.Nil(t, cmd.ParseFlags([]string{"--config", configPath}))
	err := o.complete(cmd)
	require.Regexp(t, ".*contained unknown configuration options: unknown.*", err)
}

func TestInvalidCfg(t *testing.T) {
	cmd := new(cobra.Command)
	o := newOptions()
	o.addFlags(cmd)

	require.Nil(t, cmd.ParseFlags([]string{"--workers", "-1"}))
	require.Regexp(t, ".*ErrInvalidConfig.*", o.complete(cmd))

	cmd = new(cobra.Command)
	o = newOptions()
	o.addFlags(cmd)
	require.Nil(t, cmd.ParseFlags([]string{"--addr", "127.0.0.1:http-alt-not-a-port"}))
	require.Nil(t, o.complete(cmd))
	require.Regexp(t, ".*ErrInvalidAddress.*", o.validate())

	o.addr = ""
	require.Regexp(t, ".*ErrInvalidAddress.*", o.validate())
}

func TestServerRepliesWithPeerAddr(t *testing.T) {
	cfg := config.GetDefaultRuntimeConfig()
	cfg.Workers = 2
	cfg.Signals = []string{}
	r, err := rt.New(cfg)
	require.Nil(t, err)
	require.Nil(t, r.Start(context.Background()))

	bound := make(chan stdnet.Addr, 1)
	listenAddr := freeAddr(t)
	ref, err := spawnServer(r, listenAddr, bound)
	require.Nil(t, err)

	var addr stdnet.Addr
	select {
	case addr = <-bound:
	case <-time.After(10 * time.Second):
		require.FailNow(t, "server did not listen")
	}
	require.Equal(t, listenAddr, addr.String())

	for i := 0; i < 5; i++ {
		conn, err := stdnet.Dial("tcp", addr.String())
		require.Nil(t, err)
		require.Nil(t, conn.SetReadDeadline(time.Now().Add(10*time.Second)))
		data, err := io.ReadAll(conn)
		require.Nil(t, err)
		require.Equal(t, conn.LocalAddr().String()+"\n", string(data))
		require.Nil(t, conn.Close())
	}

	ref.Close()
	r.Shutdown(rt.Graceful)
	require.Nil(t, r.Wait())
}

func TestStatusServer(t *testing.T) {
	registry := newRegistry()
	families, err := registry.Gather()
	require.Nil(t, err)
	types := make(map[string]dto.MetricType, len(families))
	for _, f := range families {
		types[f.GetName()] = f.GetType()
	}
	require.Equal(t, dto.MetricType_COUNTER, types["tiactor_actor_spawned_total"])

	// Spawning an actor is visible in the registry.
	before, err := testutil.GatherAndCount(registry, "tiactor_actor_spawned_total")
	require.Nil(t, err)
	require.Equal(t, 1, before)
	spawned := spawnedTotal(t, registry)
	cfg := config.GetDefaultRuntimeConfig()
	cfg.Workers = 1
	cfg.Signals = []string{}
	r, err := rt.New(cfg)
	require.Nil(t, err)
	require.Nil(t, r.Start(context.Background()))
	ref, err := actor.Spawn[struct{}](r, func() actor.Actor[struct{}] {
		return actor.ActorFunc[struct{}](func(*actor.Context[struct{}]) (bool, error) {
			return false, nil
		})
	}, actor.Options{Name: "noop"})
	require.Nil(t, err)
	ref.Close()
	require.Equal(t, spawned+1, spawnedTotal(t, registry))
	r.Shutdown(rt.Graceful)
	require.Nil(t, r.Wait())

	st := newStatus("8f0e9d5c-0c6a-4d4e-9a37-3c1c8b3f6f11", 3)
	server, addr, err := startStatusServer(freeAddr(t), registry, st)
	require.Nil(t, err)
	defer server.Close()

	transport := &http.Transport{DisableKeepAlives: true}
	defer transport.CloseIdleConnections()
	client := &http.Client{Transport: transport, Timeout: 10 * time.Second}
	get := func(path string) []byte {
		resp, err := client.Get("http://" + addr.String() + path)
		require.Nil(t, err)
		body, err := io.ReadAll(resp.Body)
		require.Nil(t, resp.Body.Close())
		require.Nil(t, err)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		return body
	}
	require.Contains(t, string(get("/metrics")), "tiactor_actor_spawned_total")

	var got status
	require.Nil(t, json.Unmarshal(get("/status"), &got))
	require.Equal(t, st, got)
	require.Equal(t, version.ReleaseVersion, got.Version)
	require.Equal(t, os.Getpid(), got.Pid)
}

// spawnedTotal reads the spawned actors counter from the gathered families.
func spawnedTotal(t *testing.T, registry interface {
	Gather() ([]*dto.MetricFamily, error)
}) float64 {
	families, err := registry.Gather()
	require.Nil(t, err)
	for _, f := range families {
		if f.GetName() == "tiactor_actor_spawned_total" {
			return f.GetMetric()[0].GetCounter().GetValue()
		}
	}
	require.FailNow(t, "tiactor_actor_spawned_total is not registered")
	return 0
}
