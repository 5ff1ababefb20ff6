package approval

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jkaninda/approvalcenter/internal/domain"
	"github.com/jkaninda/approvalcenter/internal/sla"
)

// DefaultOverFetch is how many raw rows are fetched per requested item.
// Post-fetch filters (team, search, priority) discard rows, and the slack
// lets a page fill without a second round-trip in the common case. The value
// is a heuristic, not a measured optimum; see PipelineConfig.OverFetch.
const DefaultOverFetch = 3

// Source is what a concrete handler supplies to the pipeline for entity type E.
type Source[E any] interface {
	Type() string
	DisplayName() string
	// LoadEntitiesByIDs fetches every id in one call. Missing entities are omitted.
	LoadEntitiesByIDs(ctx context.Context, orgID string, ids []string) (map[string]E, error)
	Requester(entity E) domain.Requester
	Priority(entity E, createdAt time.Time) domain.Priority
	Display(entity E) domain.DisplayMetadata
	// MatchesFilter applies the domain filters (team, search).
	MatchesFilter(entity E, params domain.ApprovalQueryParams) bool
}

// PipelineConfig holds the collaborators shared by every handler's pipeline.
type PipelineConfig struct {
	Requests  RequestStore
	Rules     *sla.RuleProvider // nil = default SLA table only.
	Timeline  TimelineReader    // nil = details carry no timeline.
	OverFetch int               // <= 0 uses DefaultOverFetch.
	Now       func() time.Time
	Tracer    trace.Tracer // nil = no spans.
	Logger    *slog.Logger
}

// Pipeline serves listings for one handler with exactly two store round-trips:
// one query for request rows and one batched entity load.
//
// When post-filters discard more rows than the over-fetch anticipated, a page
// can come back short. The pipeline does not re-fetch; callers page with the
// returned cursor.
type Pipeline[E any] struct {
	source    Source[E]
	requests  RequestStore
	rules     *sla.RuleProvider
	timeline  TimelineReader
	overFetch int
	now       func() time.Time
	tracer    trace.Tracer
	logger    *slog.Logger
}

// NewPipeline creates a pipeline for src.
func NewPipeline[E any](src Source[E], cfg PipelineConfig) *Pipeline[E] {
	p := &Pipeline[E]{
		source:    src,
		requests:  cfg.Requests,
		rules:     cfg.Rules,
		timeline:  cfg.Timeline,
		overFetch: cfg.OverFetch,
		now:       cfg.Now,
		tracer:    cfg.Tracer,
		logger:    cfg.Logger,
	}
	if p.overFetch <= 0 {
		p.overFetch = DefaultOverFetch
	}
	if p.now == nil {
		p.now = time.Now
	}
	if p.logger == nil {
		p.logger = slog.Default()
	}
	return p
}

// Fetch returns up to params.Limit items in created_at descending order.
func (p *Pipeline[E]) Fetch(ctx context.Context, params domain.ApprovalQueryParams) ([]domain.UnifiedApprovalItem, error) {
	if p.tracer != nil {
		var span trace.Span
		ctx, span = p.tracer.Start(ctx, "approval.pipeline.fetch",
			trace.WithAttributes(
				attribute.String("approval.type", p.source.Type()),
				attribute.Int("approval.limit", params.Limit),
			))
		defer span.End()
	}

	items, err := p.fetch(ctx, params)
	if err != nil && p.tracer != nil {
		span := trace.SpanFromContext(ctx)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return items, err
}

func (p *Pipeline[E]) fetch(ctx context.Context, params domain.ApprovalQueryParams) ([]domain.UnifiedApprovalItem, error) {
	if params.Limit <= 0 {
		return nil, fmt.Errorf("%w: limit must be positive", ErrValidation)
	}

	filter, err := p.filterFor(params)
	if err != nil {
		return nil, err
	}
	filter.Limit = params.Limit * p.overFetch

	rows, err := p.requests.FindRequests(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("fetching %s requests: %w", p.source.Type(), err)
	}
	if len(rows) == 0 {
		return []domain.UnifiedApprovalItem{}, nil
	}

	entities, err := p.source.LoadEntitiesByIDs(ctx, params.OrganizationID, distinctEntityIDs(rows))
	if err != nil {
		return nil, fmt.Errorf("loading %s entities: %w", p.source.Type(), err)
	}

	orgRules := p.orgRules(ctx, params.OrganizationID)
	now := p.now()

	items := make([]domain.UnifiedApprovalItem, 0, params.Limit)
	for _, row := range rows {
		entity, ok := entities[row.EntityID]
		if !ok {
			continue
		}
		if !p.source.MatchesFilter(entity, params) {
			continue
		}
		item := p.transform(row, entity, orgRules, now)
		if params.Priority != "" && item.Priority != params.Priority {
			continue
		}
		items = append(items, item)
		if len(items) >= params.Limit {
			break
		}
	}
	return items, nil
}

// Count returns the pending count for the approver without loading entities.
func (p *Pipeline[E]) Count(ctx context.Context, approverID, orgID string) (int, error) {
	return p.CountByStatus(ctx, approverID, orgID, domain.StatusPending)
}

// CountByStatus counts the approver's rows in one status.
func (p *Pipeline[E]) CountByStatus(ctx context.Context, approverID, orgID string, status domain.Status) (int, error) {
	n, err := p.requests.CountRequests(ctx, RequestFilter{
		EntityType:     p.source.Type(),
		ApproverID:     approverID,
		OrganizationID: orgID,
		Status:         status,
	})
	if err != nil {
		return 0, fmt.Errorf("counting %s requests: %w", p.source.Type(), err)
	}
	return n, nil
}

// Score turns already-fetched rows into items using one batched entity load.
// Rows whose entity is gone are dropped.
func (p *Pipeline[E]) Score(ctx context.Context, orgID string, rows []domain.ApprovalRequest) ([]domain.UnifiedApprovalItem, error) {
	if len(rows) == 0 {
		return nil, nil
	}
	entities, err := p.source.LoadEntitiesByIDs(ctx, orgID, distinctEntityIDs(rows))
	if err != nil {
		return nil, fmt.Errorf("loading %s entities: %w", p.source.Type(), err)
	}
	orgRules := p.orgRules(ctx, orgID)
	now := p.now()

	items := make([]domain.UnifiedApprovalItem, 0, len(rows))
	for _, row := range rows {
		if entity, ok := entities[row.EntityID]; ok {
			items = append(items, p.transform(row, entity, orgRules, now))
		}
	}
	return items, nil
}

// Detail builds the full view of one entity. Only the row's approver or
// requester may see it; an empty actorID skips that check.
func (p *Pipeline[E]) Detail(ctx context.Context, entityID, orgID, actorID string) (*domain.Detail, error) {
	row, err := p.requests.GetRequestByEntity(ctx, p.source.Type(), entityID)
	if err != nil {
		return nil, err
	}
	if orgID != "" && row.OrganizationID != orgID {
		return nil, fmt.Errorf("%w: %s %s", ErrNotFound, p.source.Type(), entityID)
	}
	if actorID != "" && actorID != row.ApproverID && actorID != row.RequesterID {
		return nil, fmt.Errorf("%w: not a participant of %s %s", ErrUnauthorized, p.source.Type(), entityID)
	}

	entities, err := p.source.LoadEntitiesByIDs(ctx, row.OrganizationID, []string{entityID})
	if err != nil {
		return nil, fmt.Errorf("loading %s entity: %w", p.source.Type(), err)
	}
	entity, ok := entities[entityID]
	if !ok {
		return nil, fmt.Errorf("%w: %s %s", ErrNotFound, p.source.Type(), entityID)
	}

	detail := &domain.Detail{
		Approval: p.transform(*row, entity, p.orgRules(ctx, row.OrganizationID), p.now()),
		Entity:   entity,
		Timeline: []domain.TimelineEvent{},
	}
	if p.timeline != nil {
		events, err := p.timeline.Timeline(ctx, row.OrganizationID, row.ID)
		if err != nil {
			return nil, fmt.Errorf("loading timeline: %w", err)
		}
		detail.Timeline = events
	}
	return detail, nil
}

func (p *Pipeline[E]) transform(row domain.ApprovalRequest, entity E, orgRules []sla.Rule, now time.Time) domain.UnifiedApprovalItem {
	priority := p.source.Priority(entity, row.CreatedAt)
	deadline := sla.CalculateDeadline(p.source.Type(), priority, row.CreatedAt, orgRules)

	return domain.UnifiedApprovalItem{
		ID:              row.ID,
		ApprovalType:    p.source.Type(),
		EntityID:        row.EntityID,
		TypeDisplayName: p.source.DisplayName(),
		Requester:       p.source.Requester(entity),
		ApproverID:      row.ApproverID,
		OrganizationID:  row.OrganizationID,
		Status:          row.Status,
		CreatedAt:       row.CreatedAt,
		ResolvedAt:      row.ResolvedAt,
		Priority:        priority,
		SLA:             sla.CalculateStatus(deadline, now),
		Display:         p.source.Display(entity),
	}
}

func (p *Pipeline[E]) filterFor(params domain.ApprovalQueryParams) (RequestFilter, error) {
	f := RequestFilter{
		EntityType:     p.source.Type(),
		ApproverID:     params.ApproverID,
		OrganizationID: params.OrganizationID,
		Status:         params.EffectiveStatus(),
		CreatedFrom:    params.From,
		CreatedTo:      params.To,
	}
	if params.Cursor != "" {
		cursor, err := ParseCursor(params.Cursor)
		if err != nil {
			return RequestFilter{}, err
		}
		f.Cursor = &cursor
	}
	if params.MinAgeDays > 0 {
		cutoff := p.now().Add(-time.Duration(params.MinAgeDays) * 24 * time.Hour)
		f.OlderThan = &cutoff
	}
	return f, nil
}

// orgRules falls back to the default table when overrides cannot be loaded.
func (p *Pipeline[E]) orgRules(ctx context.Context, orgID string) []sla.Rule {
	rules, err := p.rules.Rules(ctx, orgID)
	if err != nil {
		p.logger.WarnContext(ctx, "using default sla rules",
			slog.String("org_id", orgID),
			slog.String("error", err.Error()),
		)
		return nil
	}
	return rules
}

// ParseCursor decodes a page cursor. Offsets are normalized to UTC so the
// bound compares correctly against stored timestamps.
func ParseCursor(cursor string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, cursor)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: invalid cursor %q", ErrValidation, cursor)
	}
	return t.UTC(), nil
}

// FormatCursor encodes the created_at of the last item on a page.
func FormatCursor(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func distinctEntityIDs(rows []domain.ApprovalRequest) []string {
	seen := make(map[string]struct{}, len(rows))
	ids := make([]string, 0, len(rows))
	for _, r := range rows {
		if _, ok := seen[r.EntityID]; ok {
			continue
		}
		seen[r.EntityID] = struct{}{}
		ids = append(ids, r.EntityID)
	}
	return ids
}
