package triage

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds Prometheus metrics for the triage subsystem.
type Metrics struct {
	SubmitsTotal   *prometheus.CounterVec
	DecisionsTotal *prometheus.CounterVec
	TriageDuration prometheus.Histogram
	RiskScores     prometheus.Histogram
	FeedbackTotal  prometheus.Counter
}

// NewMetrics registers and returns triage metrics on the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		SubmitsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "warden_submits_total",
			Help: "Total alert submissions by result.",
		}, []string{"result"}),
		DecisionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "warden_decisions_total",
			Help: "Triage decisions by outcome and priority.",
		}, []string{"decision", "priority"}),
		TriageDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "warden_triage_duration_seconds",
			Help:    "Time from ingestion to decision in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12), // 5ms .. ~10s
		}),
		RiskScores: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "warden_risk_score",
			Help:    "Distribution of computed risk scores.",
			Buckets: prometheus.LinearBuckets(0, 10, 11), // 0 .. 100
		}),
		FeedbackTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "warden_feedback_total",
			Help: "Analyst feedback corrections recorded.",
		}),
	}

	reg.MustRegister(
		m.SubmitsTotal,
		m.DecisionsTotal,
		m.TriageDuration,
		m.RiskScores,
		m.FeedbackTotal,
	)

	return m
}
