package analytics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics names as constants for consistency.
const (
	MetricStoreCallsTotal    = "analytics_store_calls_total"
	MetricStoreCallDuration  = "analytics_store_call_duration_seconds"
	MetricStoreFailuresTotal = "analytics_store_failures_total"
)

// Outcome label values.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// Metrics contains Prometheus metrics for analytics store calls.
// All operations are thread-safe.
type Metrics struct {
	callsTotal   *prometheus.CounterVec
	callDuration *prometheus.HistogramVec
	failures     *prometheus.CounterVec
}

// NewMetrics creates and returns a new Metrics instance with all collectors initialized.
// The metrics are not registered; call Register to register them with a registry.
func NewMetrics() *Metrics {
	return &Metrics{
		callsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricStoreCallsTotal,
				Help: "Total number of analytics store calls by operation and outcome",
			},
			[]string{"op", "outcome"},
		),
		callDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    MetricStoreCallDuration,
				Help:    "Histogram of analytics store call duration in seconds by operation",
				Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
			},
			[]string{"op"},
		),
		failures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricStoreFailuresTotal,
				Help: "Total number of degraded analytics calls by operation and error kind",
			},
			[]string{"op", "kind"},
		),
	}
}

// Register registers all metrics with the given registry.
// Returns an error if registration fails.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	for _, c := range m.Collectors() {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// ObserveCall records one store call.
func (m *Metrics) ObserveCall(op, outcome string, seconds float64) {
	m.callsTotal.WithLabelValues(op, outcome).Inc()
	m.callDuration.WithLabelValues(op).Observe(seconds)
}

// IncFailure increments the failure counter for op and kind.
func (m *Metrics) IncFailure(op string, kind ErrorKind) {
	m.failures.WithLabelValues(op, string(kind)).Inc()
}

// Collectors returns all Prometheus collectors for testing.
func (m *Metrics) Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.callsTotal,
		m.callDuration,
		m.failures,
	}
}
