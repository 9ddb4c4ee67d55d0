// Package metrics exposes Prometheus metrics for the dispatcher and agents.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the collectors of one process. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	registry *prometheus.Registry

	JobsTotal        *prometheus.CounterVec
	Vetoes           *prometheus.CounterVec
	EncodeDuration   *prometheus.HistogramVec
	BytesTransferred *prometheus.CounterVec
	ActiveWorkers    prometheus.Gauge
	AgentSessions    *prometheus.CounterVec
}

// New creates metrics on a private registry
func New(namespace string) *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		JobsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "jobs",
				Name:      "total",
				Help:      "Jobs finished by host and outcome",
			},
			[]string{"host", "outcome"},
		),
		Vetoes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "jobs",
				Name:      "vetoed_total",
				Help:      "Encodes aborted for missing the compression threshold",
			},
			[]string{"host"},
		),
		EncodeDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "jobs",
				Name:      "encode_seconds",
				Help:      "Wall time of encoder runs",
				Buckets:   []float64{10, 30, 60, 300, 600, 1800, 3600, 7200, 14400},
			},
			[]string{"host"},
		),
		BytesTransferred: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "transfer",
				Name:      "bytes_total",
				Help:      "Media bytes moved between hosts",
			},
			[]string{"direction"},
		),
		ActiveWorkers: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "workers",
				Name:      "active",
				Help:      "Workers currently draining a queue",
			},
		),
		AgentSessions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "agent",
				Name:      "sessions_total",
				Help:      "Agent connections by result",
			},
			[]string{"result"},
		),
	}
	m.registry.MustRegister(
		m.JobsTotal,
		m.Vetoes,
		m.EncodeDuration,
		m.BytesTransferred,
		m.ActiveWorkers,
		m.AgentSessions,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry returns the registry backing these metrics
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus text format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordJob counts a finished job and, when it ran, its encode time
func (m *Metrics) RecordJob(host, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.JobsTotal.WithLabelValues(host, outcome).Inc()
	if elapsed > 0 {
		m.EncodeDuration.WithLabelValues(host).Observe(elapsed.Seconds())
	}
}

// RecordVeto counts an aborted encode
func (m *Metrics) RecordVeto(host string) {
	if m == nil {
		return
	}
	m.Vetoes.WithLabelValues(host).Inc()
}

// AddBytes counts transferred bytes; direction is "upload" or "download"
func (m *Metrics) AddBytes(direction string, n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.BytesTransferred.WithLabelValues(direction).Add(float64(n))
}

// WorkerStarted and WorkerStopped track the number of running workers
func (m *Metrics) WorkerStarted() {
	if m != nil {
		m.ActiveWorkers.Inc()
	}
}

func (m *Metrics) WorkerStopped() {
	if m != nil {
		m.ActiveWorkers.Dec()
	}
}

// RecordSession counts one agent connection
func (m *Metrics) RecordSession(result string) {
	if m == nil {
		return
	}
	m.AgentSessions.WithLabelValues(result).Inc()
}
