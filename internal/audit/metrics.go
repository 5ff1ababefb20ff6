package audit

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds Prometheus metrics for the audit trail.
type Metrics struct {
	Writes        *prometheus.CounterVec
	WriteFailures prometheus.Counter
}

// NewMetrics creates and registers audit metrics.
// Returns nil if reg is nil.
func NewMetrics(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		return nil
	}

	m := &Metrics{
		Writes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "approvalcenter",
			Subsystem: "audit",
			Name:      "writes_total",
			Help:      "Total audit entries written, by action.",
		}, []string{"action"}),
		WriteFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "approvalcenter",
			Subsystem: "audit",
			Name:      "write_failures_total",
			Help:      "Total audit writes that failed.",
		}),
	}

	reg.MustRegister(m.Writes, m.WriteFailures)
	return m
}
