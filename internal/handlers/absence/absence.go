// Package absence registers leave requests with the approval center.
package absence

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

// Store persists absence requests.
type Store interface {
	// LoadByIDs fetches requests with their employees. Missing ids are omitted.
	LoadByIDs(ctx context.Context, orgID string, ids []string) (map[string]domain.AbsenceRequest, error)
	// Resolve applies a decision to the request and its approval row in one
	// transaction. Returns approval.ErrAlreadyResolved when no longer pending.
	Resolve(ctx context.Context, d approval.Decision) error
	// Create inserts a pending request routed to approverID.
	Create(ctx context.Context, a *domain.AbsenceRequest, approverID string) (*domain.ApprovalRequest, error)
}

// Handler implements approval.Handler for absence requests.
type Handler struct {
	store    Store
	authz    security.Authorizer
	pipeline *approval.Pipeline[domain.AbsenceRequest]
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
	h.pipeline = approval.NewPipeline[domain.AbsenceRequest](source{h}, cfg)
	return h
}

func (h *Handler) Type() string              { return domain.TypeAbsenceRequest }
func (h *Handler) DisplayName() string       { return "Absence Request" }
func (h *Handler) SupportsBulkApprove() bool { return true }

// GetApprovals lists the approver's absence requests. Approvers without the
// view permission get an empty list rather than an error, so a mixed listing
// still works for them.
func (h *Handler) GetApprovals(ctx context.Context, params domain.ApprovalQueryParams) ([]domain.UnifiedApprovalItem, error) {
	if !h.canView(ctx, params.ApproverID) {
		return []domain.UnifiedApprovalItem{}, nil
	}
	return h.pipeline.Fetch(ctx, params)
}

func (h *Handler) GetCount(ctx context.Context, approverID, orgID string) (int, error) {
	if !h.canView(ctx, approverID) {
		return 0, nil
	}
	return h.pipeline.Count(ctx, approverID, orgID)
}

// CountByStatus counts the approver's rows in one status for list totals.
func (h *Handler) CountByStatus(ctx context.Context, approverID, orgID string, status domain.Status) (int, error) {
	if !h.canView(ctx, approverID) {
		return 0, nil
	}
	return h.pipeline.CountByStatus(ctx, approverID, orgID, status)
}

func (h *Handler) GetDetail(ctx context.Context, entityID, orgID, actorID string) (*domain.Detail, error) {
	if err := h.authorize(ctx, actorID, security.ActionView); err != nil {
		return nil, err
	}
	return h.pipeline.Detail(ctx, entityID, orgID, actorID)
}

func (h *Handler) Approve(ctx context.Context, entityID, approverID string) error {
	action := security.ActionApprove
	if approval.InBulk(ctx) {
		action = security.ActionBulkApprove
	}
	if err := h.authorize(ctx, approverID, action); err != nil {
		return err
	}
	return h.store.Resolve(ctx, approval.Decision{
		ApprovalType: domain.TypeAbsenceRequest,
		EntityID:     entityID,
		ApproverID:   approverID,
		Status:       domain.StatusApproved,
		At:           h.now().UTC(),
	})
}

func (h *Handler) Reject(ctx context.Context, entityID, approverID, reason string) error {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return fmt.Errorf("%w: a reason is required to reject", approval.ErrValidation)
	}
	if err := h.authorize(ctx, approverID, security.ActionReject); err != nil {
		return err
	}
	return h.store.Resolve(ctx, approval.Decision{
		ApprovalType: domain.TypeAbsenceRequest,
		EntityID:     entityID,
		ApproverID:   approverID,
		Status:       domain.StatusRejected,
		Reason:       reason,
		At:           h.now().UTC(),
	})
}

// Submit creates a pending absence request for approverID.
func (h *Handler) Submit(ctx context.Context, a *domain.AbsenceRequest, approverID string) (*domain.ApprovalRequest, error) {
	if a.EndDate.Before(a.StartDate) {
		return nil, fmt.Errorf("%w: end date before start date", approval.ErrValidation)
	}
	if a.Days <= 0 {
		a.Days = int(a.EndDate.Sub(a.StartDate).Hours()/24) + 1
	}
	return h.store.Create(ctx, a, approverID)
}

func (h *Handler) ScoreRequests(ctx context.Context, orgID string, reqs []domain.ApprovalRequest) ([]domain.UnifiedApprovalItem, error) {
	return h.pipeline.Score(ctx, orgID, reqs)
}

// CalculatePriority accepts a domain.AbsenceRequest or a pointer to one.
func (h *Handler) CalculatePriority(entity any, createdAt time.Time) domain.Priority {
	a, ok := asAbsence(entity)
	if !ok {
		return domain.PriorityNormal
	}
	return priority(a, createdAt)
}

func (h *Handler) CalculateSLADeadline(entity any, createdAt time.Time) *time.Time {
	return sla.CalculateDeadline(domain.TypeAbsenceRequest, h.CalculatePriority(entity, createdAt), createdAt, nil)
}

func (h *Handler) GetDisplayMetadata(entity any) domain.DisplayMetadata {
	a, ok := asAbsence(entity)
	if !ok {
		return domain.DisplayMetadata{}
	}
	return display(a)
}

func (h *Handler) canView(ctx context.Context, approverID string) bool {
	if err := h.authz.Authorize(ctx, approverID, domain.TypeAbsenceRequest, security.ActionView); err != nil {
		h.logger.DebugContext(ctx, "absence listing hidden",
			slog.String("approver_id", approverID),
			slog.String("error", err.Error()),
		)
		return false
	}
	return true
}

func (h *Handler) authorize(ctx context.Context, approverID string, action security.Action) error {
	if err := h.authz.Authorize(ctx, approverID, domain.TypeAbsenceRequest, action); err != nil {
		return fmt.Errorf("%w: %v", approval.ErrUnauthorized, err)
	}
	return nil
}

// source adapts the handler to approval.Source without widening Handler's method set.
type source struct{ h *Handler }

func (s source) Type() string        { return s.h.Type() }
func (s source) DisplayName() string { return s.h.DisplayName() }

func (s source) LoadEntitiesByIDs(ctx context.Context, orgID string, ids []string) (map[string]domain.AbsenceRequest, error) {
	return s.h.store.LoadByIDs(ctx, orgID, ids)
}

func (s source) Requester(a domain.AbsenceRequest) domain.Requester { return a.Employee.Requester() }

func (s source) Priority(a domain.AbsenceRequest, createdAt time.Time) domain.Priority {
	return priority(a, createdAt)
}

func (s source) Display(a domain.AbsenceRequest) domain.DisplayMetadata { return display(a) }

func (s source) MatchesFilter(a domain.AbsenceRequest, params domain.ApprovalQueryParams) bool {
	if params.TeamID != "" && (a.Employee.TeamID == nil || *a.Employee.TeamID != params.TeamID) {
		return false
	}
	if q := strings.ToLower(strings.TrimSpace(params.Search)); q != "" {
		return strings.Contains(strings.ToLower(a.Employee.Name), q) ||
			strings.Contains(strings.ToLower(a.Employee.Email), q) ||
			strings.Contains(strings.ToLower(a.Note), q)
	}
	return true
}

func asAbsence(entity any) (domain.AbsenceRequest, bool) {
	switch a := entity.(type) {
	case domain.AbsenceRequest:
		return a, true
	case *domain.AbsenceRequest:
		if a != nil {
			return *a, true
		}
	}
	return domain.AbsenceRequest{}, false
}
