package orchestrator

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds Prometheus metrics for the orchestration subsystem.
type Metrics struct {
	WorkflowsTotal  *prometheus.CounterVec
	ActiveWorkflows prometheus.Gauge
	StageDuration   *prometheus.HistogramVec
	StageRetries    *prometheus.CounterVec
	DedupHits       prometheus.Counter
	Escalations     *prometheus.CounterVec
}

// NewMetrics registers and returns orchestration metrics on the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		WorkflowsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "warden_workflows_total",
			Help: "Workflows reaching a terminal status.",
		}, []string{"status"}),
		ActiveWorkflows: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "warden_workflows_active",
			Help: "Workflows currently running or awaiting approval.",
		}),
		StageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "warden_stage_duration_seconds",
			Help:    "Duration of stage handler executions in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms .. ~20s
		}, []string{"stage", "outcome"}),
		StageRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "warden_stage_retries_total",
			Help: "Stage handler retry attempts by stage.",
		}, []string{"stage"}),
		DedupHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "warden_event_dedup_hits_total",
			Help: "Redelivered events suppressed by the idempotency cache.",
		}),
		Escalations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "warden_escalations_total",
			Help: "EscalationRequired events by reason code.",
		}, []string{"reason"}),
	}

	reg.MustRegister(
		m.WorkflowsTotal,
		m.ActiveWorkflows,
		m.StageDuration,
		m.StageRetries,
		m.DedupHits,
		m.Escalations,
	)

	return m
}
