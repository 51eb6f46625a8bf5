package report

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"unrollcheck/internal/checks"
)

const metricsNamespace = "unrollcheck"

// Metrics counts check outcomes in a private registry. It is a checks.Sink
// and can be written out as a node-exporter textfile.
type Metrics struct {
	registry *prometheus.Registry

	ChecksTotal   *prometheus.CounterVec
	FailuresTotal *prometheus.CounterVec
	CheckDuration *prometheus.HistogramVec
	RunDuration   prometheus.Gauge
}

// NewMetrics creates a Metrics instance with its own registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		ChecksTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "checks_total",
				Help:      "Checks run by kind and status",
			},
			[]string{"kind", "status"},
		),
		FailuresTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "failures_total",
				Help:      "Failed checks by failure category",
			},
			[]string{"category"},
		),
		CheckDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Name:      "check_duration_seconds",
				Help:      "Check duration in seconds",
				Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20, 40},
			},
			[]string{"kind"},
		),
		RunDuration: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Name:      "run_duration_seconds",
				Help:      "Wall-clock duration of the last run",
			},
		),
	}
}

// Record implements checks.Sink.
func (m *Metrics) Record(r checks.Result) {
	if m == nil {
		return
	}
	status := StatusPassed
	if !r.Passed() {
		status = StatusFailed
		m.FailuresTotal.WithLabelValues(string(r.Category)).Inc()
	}
	m.ChecksTotal.WithLabelValues(string(r.Kind), status).Inc()
	m.CheckDuration.WithLabelValues(string(r.Kind)).Observe(r.Duration.Seconds())
}

// Gather exposes the registry for exporters.
func (m *Metrics) Gather() prometheus.Gatherer { return m.registry }

// WriteTextfile writes all metrics to path in the text exposition format.
// The file is replaced atomically.
func (m *Metrics) WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, m.Gather())
}
