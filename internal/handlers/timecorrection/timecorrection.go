// Package timecorrection registers clock-in/out correction requests with the
// approval center.
package timecorrection

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jkaninda/approvalcenter/internal/approval"
	"github.com/jkaninda/approvalcenter/internal/domain"
	"github.com/jkaninda/approvalcenter/internal/security"
	"github.com/jkaninda/approvalcenter/internal/sla"
)

// Store persists time corrections.
type Store interface {
	LoadByIDs(ctx context.Context, orgID string, ids []string) (map[string]domain.TimeCorrection, error)
	Resolve(ctx context.Context, d approval.Decision) error
	Create(ctx context.Context, c *domain.TimeCorrection, approverID string) (*domain.ApprovalRequest, error)
}

// Handler implements approval.Handler for time corrections.
type Handler struct {
	store    Store
	authz    security.Authorizer
	pipeline *approval.Pipeline[domain.TimeCorrection]
	logger   *slog.Logger
	now      func() time.Time
}

var (
	_ approval.Handler       = (*Handler)(nil)
	_ approval.Scorer        = (*Handler)(nil)
	_ approval.StatusCounter = (*Handler)(nil)
)

// New creates the handler. A nil authz allows every action.
func New(store Store, authz security.Authorizer, cfg approval.PipelineConfig) *Handler {
	if authz == nil {
		authz = security.AllowAll{}
	}
	h := &Handler{store: store, authz: authz, logger: cfg.Logger, now: cfg.Now}
	if h.logger == nil {
		h.logger = slog.Default()
	}
	if h.now == nil {
		h.now = time.Now
	}
	h.pipeline = approval.NewPipeline[domain.TimeCorrection](corrections{h}, cfg)
	return h
}

func (h *Handler) Type() string              { return domain.TypeTimeCorrection }
func (h *Handler) DisplayName() string       { return "Time Correction" }
func (h *Handler) SupportsBulkApprove() bool { return true }

func (h *Handler) GetApprovals(ctx context.Context, params domain.ApprovalQueryParams) ([]domain.UnifiedApprovalItem, error) {
	if err := h.authz.Authorize(ctx, params.ApproverID, domain.TypeTimeCorrection, security.ActionView); err != nil {
		return []domain.UnifiedApprovalItem{}, nil
	}
	return h.pipeline.Fetch(ctx, params)
}

func (h *Handler) GetCount(ctx context.Context, approverID, orgID string) (int, error) {
	if err := h.authz.Authorize(ctx, approverID, domain.TypeTimeCorrection, security.ActionView); err != nil {
		return 0, nil
	}
	return h.pipeline.Count(ctx, approverID, orgID)
}

func (h *Handler) CountByStatus(ctx context.Context, approverID, orgID string, status domain.Status) (int, error) {
	if err := h.authz.Authorize(ctx, approverID, domain.TypeTimeCorrection, security.ActionView); err != nil {
		return 0, nil
	}
	return h.pipeline.CountByStatus(ctx, approverID, orgID, status)
}

func (h *Handler) GetDetail(ctx context.Context, entityID, orgID, actorID string) (*domain.Detail, error) {
	if err := h.authz.Authorize(ctx, actorID, domain.TypeTimeCorrection, security.ActionView); err != nil {
		return nil, fmt.Errorf("%w: %v", approval.ErrUnauthorized, err)
	}
	return h.pipeline.Detail(ctx, entityID, orgID, actorID)
}

func (h *Handler) Approve(ctx context.Context, entityID, approverID string) error {
	action := security.ActionApprove
	if approval.InBulk(ctx) {
		action = security.ActionBulkApprove
	}
	return h.decide(ctx, action, approval.Decision{
		EntityID:   entityID,
		ApproverID: approverID,
		Status:     domain.StatusApproved,
	})
}

func (h *Handler) Reject(ctx context.Context, entityID, approverID, reason string) error {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return fmt.Errorf("%w: a reason is required to reject", approval.ErrValidation)
	}
	return h.decide(ctx, security.ActionReject, approval.Decision{
		EntityID:   entityID,
		ApproverID: approverID,
		Status:     domain.StatusRejected,
		Reason:     reason,
	})
}

func (h *Handler) decide(ctx context.Context, action security.Action, d approval.Decision) error {
	if err := h.authz.Authorize(ctx, d.ApproverID, domain.TypeTimeCorrection, action); err != nil {
		return fmt.Errorf("%w: %v", approval.ErrUnauthorized, err)
	}
	d.ApprovalType = domain.TypeTimeCorrection
	d.At = h.now().UTC()
	if err := h.store.Resolve(ctx, d); err != nil {
		return err
	}
	h.logger.DebugContext(ctx, "time correction resolved",
		slog.String("entity_id", d.EntityID),
		slog.String("status", string(d.Status)),
	)
	return nil
}

// Submit creates a pending correction for approverID.
func (h *Handler) Submit(ctx context.Context, c *domain.TimeCorrection, approverID string) (*domain.ApprovalRequest, error) {
	if c.RequestedClockOut != nil && c.RequestedClockOut.Before(c.RequestedClockIn) {
		return nil, fmt.Errorf("%w: clock-out before clock-in", approval.ErrValidation)
	}
	if c.WorkDate.IsZero() {
		c.WorkDate = truncateDay(c.RequestedClockIn)
	}
	return h.store.Create(ctx, c, approverID)
}

func (h *Handler) ScoreRequests(ctx context.Context, orgID string, reqs []domain.ApprovalRequest) ([]domain.UnifiedApprovalItem, error) {
	return h.pipeline.Score(ctx, orgID, reqs)
}

func (h *Handler) CalculatePriority(entity any, createdAt time.Time) domain.Priority {
	c, ok := asCorrection(entity)
	if !ok {
		return domain.PriorityNormal
	}
	return priority(c, createdAt)
}

func (h *Handler) CalculateSLADeadline(entity any, createdAt time.Time) *time.Time {
	return sla.CalculateDeadline(domain.TypeTimeCorrection, h.CalculatePriority(entity, createdAt), createdAt, nil)
}

func (h *Handler) GetDisplayMetadata(entity any) domain.DisplayMetadata {
	c, ok := asCorrection(entity)
	if !ok {
		return domain.DisplayMetadata{}
	}
	return display(c)
}

type corrections struct{ h *Handler }

func (s corrections) Type() string        { return s.h.Type() }
func (s corrections) DisplayName() string { return s.h.DisplayName() }

func (s corrections) LoadEntitiesByIDs(ctx context.Context, orgID string, ids []string) (map[string]domain.TimeCorrection, error) {
	return s.h.store.LoadByIDs(ctx, orgID, ids)
}

func (s corrections) Requester(c domain.TimeCorrection) domain.Requester { return c.Employee.Requester() }

func (s corrections) Priority(c domain.TimeCorrection, createdAt time.Time) domain.Priority {
	return priority(c, createdAt)
}

func (s corrections) Display(c domain.TimeCorrection) domain.DisplayMetadata { return display(c) }

func (s corrections) MatchesFilter(c domain.TimeCorrection, params domain.ApprovalQueryParams) bool {
	if params.TeamID != "" && (c.Employee.TeamID == nil || *c.Employee.TeamID != params.TeamID) {
		return false
	}
	q := strings.ToLower(strings.TrimSpace(params.Search))
	if q == "" {
		return true
	}
	for _, field := range []string{c.Employee.Name, c.Employee.Email, c.Note} {
		if strings.Contains(strings.ToLower(field), q) {
			return true
		}
	}
	return false
}

func asCorrection(entity any) (domain.TimeCorrection, bool) {
	switch c := entity.(type) {
	case domain.TimeCorrection:
		return c, true
	case *domain.TimeCorrection:
		if c != nil {
			return *c, true
		}
	}
	return domain.TimeCorrection{}, false
}
