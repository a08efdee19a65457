// Package metrics exports sync client activity to Prometheus.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "scoreboard_sync"

// PrometheusMetrics implements the metrics collectors of every realtime
// component on a private registry.
type PrometheusMetrics struct {
	registry *prometheus.Registry

	latency       prometheus.Gauge
	probeFailures prometheus.Counter
	requests      *prometheus.CounterVec
	pending       prometheus.Gauge
	online        prometheus.Gauge
	transitions   *prometheus.CounterVec
	fetches       *prometheus.CounterVec
	pushes        *prometheus.CounterVec
	stores        prometheus.Gauge
	published     *prometheus.CounterVec
	publishTime   prometheus.Histogram
}

// NewPrometheusMetrics registers every collector on a fresh registry.
func NewPrometheusMetrics() *PrometheusMetrics {
	m := &PrometheusMetrics{
		registry: prometheus.NewRegistry(),
		latency: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "latency_milliseconds",
			Help:      "Current one-way latency estimate.",
		}),
		probeFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "latency_probe_failures_total",
			Help:      "Latency probes that failed, timed out or measured a negative round trip.",
		}),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Requests by action and outcome.",
		}, []string{"action", "outcome"}),
		pending: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pending_requests",
			Help:      "Requests awaiting an acknowledgement.",
		}),
		online: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "online",
			Help:      "Whether the scoreboard connection is up.",
		}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connection_transitions_total",
			Help:      "Connection state changes.",
		}, []string{"online"}),
		fetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "store_fetches_total",
			Help:      "Store fetches by resource and outcome.",
		}, []string{"resource", "outcome"}),
		pushes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "push_events_total",
			Help:      "Push events by resource and whether a store matched.",
		}, []string{"resource", "matched"}),
		stores: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "stores",
			Help:      "Live stores in the registry.",
		}),
		published: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "mirror_events_total",
			Help:      "Push events republished to the event mirror by action and status.",
		}, []string{"action", "status"}),
		publishTime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "mirror_publish_seconds",
			Help:      "Time spent publishing one event to the mirror.",
			Buckets:   prometheus.DefBuckets,
		}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.latency,
		m.probeFailures,
		m.requests,
		m.pending,
		m.online,
		m.transitions,
		m.fetches,
		m.pushes,
		m.stores,
		m.published,
		m.publishTime,
	)
	return m
}

// Registry returns the underlying registry.
func (m *PrometheusMetrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *PrometheusMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *PrometheusMetrics) RecordLatency(ms int64) {
	m.latency.Set(float64(ms))
}

func (m *PrometheusMetrics) RecordProbeFailure() {
	m.probeFailures.Inc()
}

func (m *PrometheusMetrics) RecordRequest(action, outcome string) {
	m.requests.WithLabelValues(action, outcome).Inc()
}

func (m *PrometheusMetrics) SetPending(n int) {
	m.pending.Set(float64(n))
}

func (m *PrometheusMetrics) RecordConnectivity(online bool) {
	if online {
		m.online.Set(1)
	} else {
		m.online.Set(0)
	}
	m.transitions.WithLabelValues(strconv.FormatBool(online)).Inc()
}

func (m *PrometheusMetrics) RecordFetch(resource, outcome string) {
	m.fetches.WithLabelValues(resource, outcome).Inc()
}

func (m *PrometheusMetrics) RecordPush(resource string, matched bool) {
	m.pushes.WithLabelValues(resource, strconv.FormatBool(matched)).Inc()
}

func (m *PrometheusMetrics) SetStores(n int) {
	m.stores.Set(float64(n))
}

func (m *PrometheusMetrics) RecordEventPublished(action string, success bool, duration time.Duration) {
	status := "success"
	if !success {
		status = "failure"
	}
	m.published.WithLabelValues(action, status).Inc()
	m.publishTime.Observe(duration.Seconds())
}
