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
	"net/http"
	"os"
	"time"

	"github.com/goccy/go-json"
	"github.com/pingcap/errors"
	"github.com/pingcap/log"
	"github.com/pingcap/tiactor/pkg/actor"
	"github.com/pingcap/tiactor/pkg/reactor"
	"github.com/pingcap/tiactor/pkg/rt"
	"github.com/pingcap/tiactor/pkg/version"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/net/netutil"
)

// maxHTTPConnection bounds the concurrent connections of the status server.
const maxHTTPConnection = 64

// status is the body of /status.
type status struct {
	Version string `json:"version"`
	GitHash string `json:"git_hash"`
	ID      string `json:"id"`
	Pid     int    `json:"pid"`
	Workers int    `json:"workers"`
}

func newStatus(id string, workers int) status {
	return status{
		Version: version.ReleaseVersion,
		GitHash: version.GitHash,
		ID:      id,
		Pid:     os.Getpid(),
		Workers: workers,
	}
}

func (s status) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	data, err := json.Marshal(s)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if _, err := w.Write(data); err != nil {
		log.Warn("write status response failed", zap.Error(err))
	}
}

// newRegistry returns a registry holding the runtime metrics.
func newRegistry() *prometheus.Registry {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	registry.MustRegister(collectors.NewGoCollector())
	actor.InitMetrics(registry)
	reactor.InitMetrics(registry)
	rt.InitMetrics(registry)
	return registry
}

// startStatusServer serves /metrics and /status on addr until the server
// is closed.
func startStatusServer(addr string, gatherer prometheus.Gatherer, st status) (*http.Server, stdnet.Addr, error) {
	l, err := stdnet.Listen("tcp", addr)
	if err != nil {
		return nil, nil, errors.Annotate(err, "listen status address")
	}
	lisAddr := l.Addr()
	l = netutil.LimitListener(l, maxHTTPConnection)
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	mux.Handle("/status", st)
	server := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	log.Info("status server started",
		zap.Stringer("addr", lisAddr), zap.String("id", st.ID))
	go func() {
		if err := server.Serve(l); err != nil && err != http.ErrServerClosed {
			log.Warn("status server exited", zap.Error(err))
		}
	}()
	return server, lisAddr, nil
}
