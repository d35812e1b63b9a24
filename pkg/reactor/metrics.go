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

package reactor

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	pollDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "tiactor",
			Subsystem: "reactor",
			Name:      "poll_duration_seconds",
			Help:      "Bucketed histogram of the time a worker spent in a poll.",
			Buckets:   prometheus.ExponentialBuckets(0.00001, 4, 12), // 10us ~ 42s
		}, []string{"worker"})
	readyEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tiactor",
			Subsystem: "reactor",
			Name:      "ready_events_total",
			Help:      "Total number of I/O readiness events.",
		}, []string{"worker"})
	timersFired = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "tiactor",
			Subsystem: "reactor",
			Name:      "timers_fired_total",
			Help:      "Total number of fired timers.",
		})
	signalsReceived = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tiactor",
			Subsystem: "reactor",
			Name:      "signals_total",
			Help:      "Total number of process signals relayed to actors.",
		}, []string{"signal"})
)

// InitMetrics registers all metrics in this file
func InitMetrics(registry *prometheus.Registry) {
	registry.MustRegister(pollDuration)
	registry.MustRegister(readyEvents)
	registry.MustRegister(timersFired)
	registry.MustRegister(signalsReceived)
}
