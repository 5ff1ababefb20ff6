package escalation

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds Prometheus metrics for the escalation sweep.
type Metrics struct {
	Sweeps         prometheus.Counter
	SweepErrors    prometheus.Counter
	SweepDuration  prometheus.Histogram
	Escalations    *prometheus.CounterVec
	NotifyFailures *prometheus.CounterVec
}

// NewMetrics creates and registers escalation metrics.
// Returns nil if reg is nil.
func NewMetrics(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		return nil
	}

	m := &Metrics{
		Sweeps: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "approvalcenter",
			Subsystem: "escalation",
			Name:      "sweeps_total",
			Help:      "Total escalation sweeps run.",
		}),
		SweepErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "approvalcenter",
			Subsystem: "escalation",
			Name:      "sweep_errors_total",
			Help:      "Total sweeps in which at least one organization failed.",
		}),
		SweepDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "approvalcenter",
			Subsystem: "escalation",
			Name:      "sweep_duration_seconds",
			Help:      "Duration of each escalation sweep.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
		}),
		Escalations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "approvalcenter",
			Name:      "escalations_total",
			Help:      "Total requests escalated, by approval type.",
		}, []string{"type"}),
		NotifyFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "approvalcenter",
			Subsystem: "escalation",
			Name:      "notify_failures_total",
			Help:      "Escalation messages a channel failed to deliver.",
		}, []string{"channel"}),
	}

	reg.MustRegister(m.Sweeps, m.SweepErrors, m.SweepDuration, m.Escalations, m.NotifyFailures)
	return m
}
