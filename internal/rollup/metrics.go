package rollup

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics names as constants for consistency.
const (
	MetricViewRefreshTotal         = "analytics_view_refresh_total"
	MetricViewRefreshErrors        = "analytics_view_refresh_errors_total"
	MetricViewRefreshDuration      = "analytics_view_refresh_duration_seconds"
	MetricViewLastRefreshTimestamp = "analytics_view_last_refresh_timestamp"
)

// Metrics contains Prometheus metrics for derived view refreshes.
// All operations are thread-safe.
type Metrics struct {
	refreshTotal         prometheus.Counter
	refreshErrors        prometheus.Counter
	refreshDuration      prometheus.Histogram
	lastRefreshTimestamp prometheus.Gauge
}

// NewMetrics creates and returns a new Metrics instance with all collectors initialized.
// The metrics are not registered; call Register to register them with a registry.
func NewMetrics() *Metrics {
	return &Metrics{
		refreshTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: MetricViewRefreshTotal,
			Help: "Total number of analytics view refresh attempts",
		}),
		refreshErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: MetricViewRefreshErrors,
			Help: "Total number of failed analytics view refreshes",
		}),
		refreshDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    MetricViewRefreshDuration,
			Help:    "Histogram of analytics view refresh duration in seconds",
			Buckets: []float64{0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0, 60.0},
		}),
		lastRefreshTimestamp: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: MetricViewLastRefreshTimestamp,
			Help: "Unix timestamp of the last successful analytics view refresh",
		}),
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

// Collectors returns all Prometheus collectors for testing.
func (m *Metrics) Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.refreshTotal,
		m.refreshErrors,
		m.refreshDuration,
		m.lastRefreshTimestamp,
	}
}

func (m *Metrics) observe(seconds float64, err error, finishedAt float64) {
	m.refreshTotal.Inc()
	m.refreshDuration.Observe(seconds)
	if err != nil {
		m.refreshErrors.Inc()
		return
	}
	m.lastRefreshTimestamp.Set(finishedAt)
}
