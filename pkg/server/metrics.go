// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package server

import (
	"net/http"
	"time"

	"github.com/a2aproject/a2a-go/a2a"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics tracks task outcomes and durations for Prometheus scraping.
type Metrics struct {
	registry *prometheus.Registry

	tasksTotal   *prometheus.CounterVec
	taskDuration prometheus.Histogram
}

// NewMetrics creates a Metrics with its own registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Metrics{
		registry: registry,
		tasksTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "skycast",
			Subsystem: "tasks",
			Name:      "total",
			Help:      "Tasks by terminal state.",
		}, []string{"state"}),
		taskDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "skycast",
			Subsystem: "tasks",
			Name:      "duration_seconds",
			Help:      "Task execution duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		}),
	}
}

// ObserveTask records one finished task.
func (m *Metrics) ObserveTask(state a2a.TaskState, elapsed time.Duration) {
	m.tasksTotal.WithLabelValues(string(state)).Inc()
	m.taskDuration.Observe(elapsed.Seconds())
}

// Handler returns the Prometheus scrape handler.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
