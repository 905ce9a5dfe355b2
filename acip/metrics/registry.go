/*
Copyright (c) The acip Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package metrics exposes the observable counters and gauges for a
// running acipd instance as real Prometheus collectors. It is deliberately
// kept outside acip/bootstrap: the core bootstrap packages (C1-C8) stay
// free of any observability dependency, and cmd/acipd wires a Registry
// around the Handle it drives.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry holds every collector a running acipd instance reports,
// grouped the way ptp/sptp/client.Stats groups its counter map, but as
// first-class prometheus.Collectors instead of a map[string]int64.
type Registry struct {
	reg *prometheus.Registry

	ProbeSuccessTotal   prometheus.Counter
	ProbeFailureTotal   prometheus.Counter
	NegotiationRounds   prometheus.Counter
	CollectionRetries   prometheus.Counter
	DisseminationFailed prometheus.Counter
	BootstrapCompleted  prometheus.Counter
	BootstrapFailed     prometheus.Counter

	AckLatencyMs     prometheus.Histogram
	BootstrapLatency prometheus.Histogram

	ActiveBootstraps prometheus.Gauge
}

// NewRegistry builds a Registry with a fresh prometheus.Registry, the
// same "one registry per process, one exporter goroutine" shape as
// ptp/sptp/stats.PrometheusExporter.
func NewRegistry() *Registry {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	r := &Registry{
		reg: reg,
		ProbeSuccessTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "acip", Subsystem: "probe", Name: "success_total",
			Help: "Quality sub-probes (STUN/UPnP/bandwidth) that completed within their deadline.",
		}),
		ProbeFailureTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "acip", Subsystem: "probe", Name: "failure_total",
			Help: "Quality sub-probes that fell back to conservative defaults.",
		}),
		NegotiationRounds: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "acip", Subsystem: "negotiate", Name: "rounds_total",
			Help: "Pairwise quality offers exchanged across all sessions.",
		}),
		CollectionRetries: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "acip", Subsystem: "collect", Name: "rounds_retried_total",
			Help: "Leader collection rounds that fell short of quorum and retried.",
		}),
		DisseminationFailed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "acip", Subsystem: "disseminate", Name: "failed_total",
			Help: "Result dissemination attempts that never reached quorum acks.",
		}),
		BootstrapCompleted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "acip", Subsystem: "bootstrap", Name: "completed_total",
			Help: "Bootstraps that reached StatusComplete.",
		}),
		BootstrapFailed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "acip", Subsystem: "bootstrap", Name: "failed_total",
			Help: "Bootstraps that reached StatusFailed.",
		}),
		AckLatencyMs: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "acip", Subsystem: "disseminate", Name: "ack_latency_ms",
			Help:    "Time between a RING_ELECTION_RESULT broadcast and each STATS_ACK observed for it.",
			Buckets: prometheus.ExponentialBuckets(5, 2, 10),
		}),
		BootstrapLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "acip", Subsystem: "bootstrap", Name: "duration_ms",
			Help:    "Wall-clock time from Bootstrap.Start to a terminal Handle status.",
			Buckets: prometheus.ExponentialBuckets(50, 2, 12),
		}),
		ActiveBootstraps: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "acip", Subsystem: "bootstrap", Name: "active",
			Help: "Bootstraps currently running (StatusRunning).",
		}),
	}
	return r
}

// Handler serves the registry on /metrics, mirroring
// ptp/sptp/stats.PrometheusExporter.Start's promhttp wiring.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{EnableOpenMetrics: true})
}

// ObserveBootstrapTerminal records a terminal Handle outcome: one
// completed/failed counter increment plus a duration observation.
func (r *Registry) ObserveBootstrapTerminal(completed bool, took time.Duration) {
	if completed {
		r.BootstrapCompleted.Inc()
	} else {
		r.BootstrapFailed.Inc()
	}
	r.BootstrapLatency.Observe(float64(took.Milliseconds()))
}
