package notification

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds Prometheus metrics for notification delivery.
type Metrics struct {
	Sent *prometheus.CounterVec
}

// NewMetrics creates and registers notification metrics. Returns nil if reg is nil.
func NewMetrics(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		return nil
	}
	m := &Metrics{
		Sent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "approvalcenter",
			Subsystem: "notification",
			Name:      "sent_total",
			Help:      "Notification attempts by channel type and result.",
		}, []string{"type", "result"}),
	}
	reg.MustRegister(m.Sent)
	return m
}
