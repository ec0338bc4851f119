package approval

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds Prometheus metrics for the approval subsystem.
type Metrics struct {
	Pending          prometheus.Gauge
	ResolutionsTotal *prometheus.CounterVec
	ResolutionTime   prometheus.Histogram
}

// NewMetrics registers and returns approval metrics on the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Pending: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "warden_approvals_pending",
			Help: "Approval requests currently awaiting resolution.",
		}),
		ResolutionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "warden_approvals_total",
			Help: "Resolved approval requests by outcome.",
		}, []string{"outcome"}),
		ResolutionTime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "warden_approval_resolution_seconds",
			Help:    "Time from approval request to resolution in seconds.",
			Buckets: prometheus.ExponentialBuckets(60, 2, 10), // 1m .. ~8.5h
		}),
	}

	reg.MustRegister(
		m.Pending,
		m.ResolutionsTotal,
		m.ResolutionTime,
	)

	return m
}
