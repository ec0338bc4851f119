package correlate

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds Prometheus metrics for the correlation engine.
type Metrics struct {
	SetsCreated prometheus.Counter
	SetsMerged  prometheus.Counter
	SetsFrozen  prometheus.Counter
	SetsExpired prometheus.Counter
	ActiveSets  prometheus.Gauge
	SetSize     prometheus.Histogram
}

// NewMetrics registers and returns correlation metrics on the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		SetsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "warden_correlation_sets_created_total",
			Help: "Total correlation sets created.",
		}),
		SetsMerged: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "warden_correlation_sets_merged_total",
			Help: "Total correlation set unions performed.",
		}),
		SetsFrozen: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "warden_correlation_sets_frozen_total",
			Help: "Total sets frozen after the window elapsed.",
		}),
		SetsExpired: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "warden_correlation_sets_expired_total",
			Help: "Total sets dropped after retention.",
		}),
		ActiveSets: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "warden_correlation_active_sets",
			Help: "Correlation sets currently held in memory.",
		}),
		SetSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "warden_correlation_set_size",
			Help:    "Set size observed at each membership change.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 8), // 1 .. 128
		}),
	}

	reg.MustRegister(
		m.SetsCreated,
		m.SetsMerged,
		m.SetsFrozen,
		m.SetsExpired,
		m.ActiveSets,
		m.SetSize,
	)

	return m
}
