package obs

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Decision outcome labels.
const (
	OutcomeAllowed   = "allowed"
	OutcomeDenied    = "denied"
	OutcomeBlocked   = "blocked"
	OutcomeThrottled = "throttled"
	OutcomeDegraded  = "degraded"
)

// Metrics holds the engine's Prometheus instruments.
type Metrics struct {
	DecisionsTotal *prometheus.CounterVec
	DegradedTotal  prometheus.Counter
	QueueDepth     prometheus.Gauge
	CheckDuration  prometheus.Histogram
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		DecisionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "admission_decisions_total",
				Help: "Admission decisions by outcome",
			},
			[]string{"outcome"},
		),
		DegradedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "admission_degraded_total",
				Help: "Checks that failed open because the counter store was unreachable",
			},
		),
		QueueDepth: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "admission_queue_depth",
				Help: "Requests currently parked in the admission queue",
			},
		),
		CheckDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "admission_check_duration_seconds",
				Help:    "Admission check duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
		),
	}

	reg.MustRegister(m.DecisionsTotal, m.DegradedTotal, m.QueueDepth, m.CheckDuration)
	return m
}
