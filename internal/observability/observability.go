// Package observability wires Prometheus metrics, OpenTelemetry tracing,
// readiness checks and failure-rate anomaly detection around the approval
// center. Every part is optional: a nil *Observability, or a nil field,
// turns the matching instrumentation into a no-op.
package observability

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/trace"

	"github.com/jkaninda/approvalcenter/internal/approval"
	"github.com/jkaninda/approvalcenter/internal/config"
)

type Observability struct {
	Metrics *MetricsCollector
	Tracer  *TracerSetup
	Anomaly *AnomalyDetector
	Health  *HealthChecker
}

// New returns nil when cfg is nil. The health checker always exists once
// observability is configured; the caller registers the store on it.
func New(cfg *config.ObservabilityConfig, logger *slog.Logger) (*Observability, error) {
	if cfg == nil {
		return nil, nil
	}
	obs := &Observability{Health: NewHealthChecker(logger)}

	if cfg.Metrics != nil && cfg.Metrics.Enabled {
		obs.Metrics = NewMetricsCollector()
	}
	ts, err := NewTracerSetup(cfg.Tracing)
	if err != nil {
		return nil, fmt.Errorf("initializing tracing: %w", err)
	}
	obs.Tracer = ts
	if cfg.Anomaly != nil && cfg.Anomaly.Enabled {
		obs.Anomaly = NewAnomalyDetector(cfg.Anomaly, logger)
	}
	return obs, nil
}

// WrapCenter instruments center with whichever components are enabled.
// With observability off the center is returned as is.
func (o *Observability) WrapCenter(center approval.Service) approval.Service {
	if o == nil {
		return center
	}
	return NewInstrumentedCenter(center, o.Metrics, o.Tracer, o.Anomaly)
}

// Shutdown flushes pending spans.
func (o *Observability) Shutdown(ctx context.Context) error {
	if o == nil {
		return nil
	}
	return o.Tracer.Shutdown(ctx)
}

// SpanTracer returns nil when tracing is off; the pipeline, bulk coordinator
// and sweeper skip span creation on a nil tracer.
func (o *Observability) SpanTracer() trace.Tracer {
	if o == nil || o.Tracer == nil {
		return nil
	}
	return o.Tracer.Tracer()
}

// Registry is shared by every package's NewMetrics constructor, which
// returns nil for a nil registry.
func (o *Observability) Registry() *prometheus.Registry {
	if o == nil || o.Metrics == nil {
		return nil
	}
	return o.Metrics.Registry
}

func (o *Observability) HealthOrNil() *HealthChecker {
	if o == nil {
		return nil
	}
	return o.Health
}
