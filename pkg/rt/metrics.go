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

package rt

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	totalWorkers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "tiactor",
			Subsystem: "runtime",
			Name:      "number_of_workers",
			Help:      "The total number of workers of the runtime.",
		})
	workingDuration = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tiactor",
			Subsystem: "runtime",
			Name:      "worker_busy_seconds_total",
			Help:      "Total time spent by a worker running actors.",
		}, []string{"worker"})
	runsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tiactor",
			Subsystem: "runtime",
			Name:      "runs_total",
			Help:      "Total number of actor runs.",
		}, []string{"worker"})
	readyProcesses = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "tiactor",
			Subsystem: "runtime",
			Name:      "ready_actors",
			Help:      "The number of local actors ready to run.",
		}, []string{"worker"})
	syncActorsRunning = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "tiactor",
			Subsystem: "runtime",
			Name:      "sync_actors",
			Help:      "The number of running synchronous actors.",
		})
	workerRestarts = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "tiactor",
			Subsystem: "runtime",
			Name:      "worker_restarts_total",
			Help:      "Total number of restarted workers.",
		})
)

// InitMetrics registers all metrics in this file
func InitMetrics(registry *prometheus.Registry) {
	registry.MustRegister(totalWorkers)
	registry.MustRegister(workingDuration)
	registry.MustRegister(runsTotal)
	registry.MustRegister(readyProcesses)
	registry.MustRegister(syncActorsRunning)
	registry.MustRegister(workerRestarts)
}
