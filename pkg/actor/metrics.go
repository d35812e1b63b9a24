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

package actor

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	actorsSpawned = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "tiactor",
			Subsystem: "actor",
			Name:      "spawned_total",
			Help:      "Total number of spawned actors.",
		})
	actorsRestarted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "tiactor",
			Subsystem: "actor",
			Name:      "restarted_total",
			Help:      "Total number of actors restarted by their supervisor.",
		})
	actorsStopped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tiactor",
			Subsystem: "actor",
			Name:      "stopped_total",
			Help:      "Total number of stopped actors.",
		}, []string{"reason"})
	inboxFullTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "tiactor",
			Subsystem: "actor",
			Name:      "inbox_full_total",
			Help:      "Total number of sends rejected by a full inbox.",
		})
)

// InitMetrics registers all metrics in this file
func InitMetrics(registry *prometheus.Registry) {
	registry.MustRegister(actorsSpawned)
	registry.MustRegister(actorsRestarted)
	registry.MustRegister(actorsStopped)
	registry.MustRegister(inboxFullTotal)
}
