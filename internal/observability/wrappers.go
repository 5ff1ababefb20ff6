package observability

import (
	"context"
	"errors"
	"slices"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jkaninda/approvalcenter/internal/approval"
	"github.com/jkaninda/approvalcenter/internal/domain"
)

// allTypesLabel is the metric label for listings spanning every registered type.
const allTypesLabel = "all"

// InstrumentedCenter wraps an approval.Service with metrics, tracing, and anomaly detection.
type InstrumentedCenter struct {
	inner   approval.Service
	metrics *MetricsCollector
	tracer  trace.Tracer
	anomaly *AnomalyDetector
}

// NewInstrumentedCenter wraps a Service with observability. Any of metrics,
// ts, and anomaly may be nil.
func NewInstrumentedCenter(inner approval.Service, metrics *MetricsCollector, ts *TracerSetup, anomaly *AnomalyDetector) *InstrumentedCenter {
	var tracer trace.Tracer
	if ts != nil {
		tracer = ts.Tracer()
	}
	return &InstrumentedCenter{
		inner:   inner,
		metrics: metrics,
		tracer:  tracer,
		anomaly: anomaly,
	}
}

func (c *InstrumentedCenter) ListApprovals(ctx context.Context, params domain.ApprovalQueryParams) (*domain.QueryResult, error) {
	label := typesLabel(params.Types)
	ctx, span := c.start(ctx, "approvals.list",
		attribute.String("approval.types", label),
		attribute.String("approval.org_id", params.OrganizationID),
		attribute.Int("approval.limit", params.Limit),
	)
	defer span.End()

	start := time.Now()
	res, err := c.inner.ListApprovals(ctx, params)
	duration := time.Since(start).Seconds()

	c.fail(span, err)
	if c.metrics != nil {
		c.metrics.QueryRequestsTotal.WithLabelValues(label, resultLabel(err)).Inc()
		c.metrics.QueryDuration.WithLabelValues(label).Observe(duration)
		if res != nil {
			for t, n := range countByType(res.Items) {
				c.metrics.QueryItemsReturned.WithLabelValues(t).Observe(float64(n))
			}
		}
	}
	if res != nil {
		span.SetAttributes(
			attribute.Int("approval.items", len(res.Items)),
			attribute.Bool("approval.has_more", res.HasMore),
		)
	}
	c.observe("list", err)
	return res, err
}

func (c *InstrumentedCenter) Counts(ctx context.Context, approverID, orgID string) (*domain.ApprovalCounts, error) {
	ctx, span := c.start(ctx, "approvals.count", attribute.String("approval.org_id", orgID))
	defer span.End()

	counts, err := c.inner.Counts(ctx, approverID, orgID)
	c.fail(span, err)
	c.observe("count", err)
	return counts, err
}

func (c *InstrumentedCenter) Detail(ctx context.Context, approvalType, entityID, orgID, actorID string) (*domain.Detail, error) {
	ctx, span := c.start(ctx, "approvals.detail",
		attribute.String("approval.type", approvalType),
		attribute.String("approval.entity_id", entityID),
	)
	defer span.End()

	detail, err := c.inner.Detail(ctx, approvalType, entityID, orgID, actorID)
	c.fail(span, err)
	return detail, err
}

func (c *InstrumentedCenter) Approve(ctx context.Context, req approval.ActionRequest) error {
	return c.decide(ctx, "approve", req, c.inner.Approve)
}

func (c *InstrumentedCenter) Reject(ctx context.Context, req approval.ActionRequest) error {
	return c.decide(ctx, "reject", req, c.inner.Reject)
}

func (c *InstrumentedCenter) Cancel(ctx context.Context, req approval.ActionRequest) error {
	return c.decide(ctx, "cancel", req, c.inner.Cancel)
}

func (c *InstrumentedCenter) BulkApprove(ctx context.Context, req approval.BulkRequest) (*domain.BulkApproveResult, error) {
	ctx, span := c.start(ctx, "approvals.bulk_approve",
		attribute.Int("approval.requested", len(req.ApprovalIDs)),
		attribute.Bool("approval.idempotent", req.IdempotencyKey != ""),
	)
	defer span.End()

	start := time.Now()
	res, err := c.inner.BulkApprove(ctx, req)
	duration := time.Since(start).Seconds()

	c.fail(span, err)
	if res != nil {
		span.SetAttributes(
			attribute.Int("approval.succeeded", len(res.Succeeded)),
			attribute.Int("approval.failed", len(res.Failed)),
		)
	}
	if c.metrics != nil {
		c.metrics.BulkDuration.Observe(duration)
		if res != nil {
			c.metrics.BulkItemsTotal.WithLabelValues("succeeded").Add(float64(len(res.Succeeded)))
			c.metrics.BulkItemsTotal.WithLabelValues("failed").Add(float64(len(res.Failed)))
		}
	}
	c.observe("bulk_approve", err)
	return res, err
}

func (c *InstrumentedCenter) Types() []approval.TypeInfo {
	return c.inner.Types()
}

func (c *InstrumentedCenter) decide(ctx context.Context, action string, req approval.ActionRequest, fn func(context.Context, approval.ActionRequest) error) error {
	ctx, span := c.start(ctx, "approvals."+action,
		attribute.String("approval.id", req.ApprovalID),
		attribute.String("approval.actor_id", req.ActorID),
	)
	defer span.End()

	err := fn(ctx, req)
	c.fail(span, err)
	if c.metrics != nil {
		c.metrics.DecisionsTotal.WithLabelValues(action, resultLabel(err)).Inc()
	}
	c.observe(action, err)
	return err
}

// start opens a span, or returns the no-op span already in ctx when tracing is off.
func (c *InstrumentedCenter) start(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	if c.tracer == nil {
		return ctx, trace.SpanFromContext(ctx)
	}
	return c.tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

func (c *InstrumentedCenter) fail(span trace.Span, err error) {
	if err == nil || c.tracer == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// observe feeds the anomaly detector. Caller mistakes (bad input, missing
// rows, permission, lost races) are not failures of the service.
func (c *InstrumentedCenter) observe(operation string, err error) {
	if c.anomaly == nil {
		return
	}
	if err != nil && !isClientError(err) {
		c.anomaly.RecordError(operation)
		return
	}
	c.anomaly.RecordSuccess(operation)
}

func isClientError(err error) bool {
	return errors.Is(err, approval.ErrValidation) ||
		errors.Is(err, approval.ErrNotFound) ||
		errors.Is(err, approval.ErrUnauthorized) ||
		errors.Is(err, approval.ErrAlreadyResolved) ||
		errors.Is(err, approval.ErrBulkNotSupported)
}

func resultLabel(err error) string {
	switch {
	case err == nil:
		return "success"
	case isClientError(err):
		return "rejected"
	default:
		return "error"
	}
}

func typesLabel(types []string) string {
	if len(types) == 0 {
		return allTypesLabel
	}
	sorted := slices.Clone(types)
	slices.Sort(sorted)
	return strings.Join(slices.Compact(sorted), ",")
}

func countByType(items []domain.UnifiedApprovalItem) map[string]int {
	out := make(map[string]int)
	for _, it := range items {
		out[it.ApprovalType]++
	}
	return out
}

var _ approval.Service = (*InstrumentedCenter)(nil)
