package approval

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/jkaninda/approvalcenter/internal/domain"
)

// MaxPageSize caps ApprovalQueryParams.Limit.
const MaxPageSize = 100

// ActionRequest is a single-item transition.
type ActionRequest struct {
	ApprovalID     string
	ActorID        string
	OrganizationID string
	Reason         string
	Provenance     *domain.Provenance
}

// TypeInfo describes one registered approval type.
type TypeInfo struct {
	Type                string `json:"type"`
	DisplayName         string `json:"displayName"`
	SupportsBulkApprove bool   `json:"supportsBulkApprove"`
}

// Service is the caller-facing contract of the approval center.
type Service interface {
	ListApprovals(ctx context.Context, params domain.ApprovalQueryParams) (*domain.QueryResult, error)
	Counts(ctx context.Context, approverID, orgID string) (*domain.ApprovalCounts, error)
	Detail(ctx context.Context, approvalType, entityID, orgID, actorID string) (*domain.Detail, error)
	Approve(ctx context.Context, req ActionRequest) error
	Reject(ctx context.Context, req ActionRequest) error
	Cancel(ctx context.Context, req ActionRequest) error
	BulkApprove(ctx context.Context, req BulkRequest) (*domain.BulkApproveResult, error)
	Types() []TypeInfo
}

// Center merges every registered handler behind one Service.
type Center struct {
	registry *Registry
	requests RequestStore
	bulk     *BulkCoordinator
	audit    AuditSink
	logger   *slog.Logger
	now      func() time.Time
}

// NewCenter creates a Center. audit may be nil.
func NewCenter(registry *Registry, requests RequestStore, bulk *BulkCoordinator, audit AuditSink, logger *slog.Logger) *Center {
	if logger == nil {
		logger = slog.Default()
	}
	return &Center{
		registry: registry,
		requests: requests,
		bulk:     bulk,
		audit:    audit,
		logger:   logger,
		now:      time.Now,
	}
}

// ListApprovals queries every selected handler in parallel and merges the
// pages by created_at descending. Total counts every row in the requested
// status, ignoring the page and the remaining filters.
func (c *Center) ListApprovals(ctx context.Context, params domain.ApprovalQueryParams) (*domain.QueryResult, error) {
	if err := validateQuery(params); err != nil {
		return nil, err
	}

	handlers, err := c.selectHandlers(params.Types)
	if err != nil {
		return nil, err
	}

	pages := make([][]domain.UnifiedApprovalItem, len(handlers))
	counts := make([]int, len(handlers))
	g, gctx := errgroup.WithContext(ctx)
	for i, h := range handlers {
		g.Go(func() error {
			items, err := h.GetApprovals(gctx, params)
			if err != nil {
				return fmt.Errorf("%s: %w", h.Type(), err)
			}
			n, err := c.countStatus(gctx, h, params)
			if err != nil {
				return fmt.Errorf("%s: %w", h.Type(), err)
			}
			pages[i] = items
			counts[i] = n
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	result := &domain.QueryResult{Items: []domain.UnifiedApprovalItem{}}
	for i := range handlers {
		if len(pages[i]) >= params.Limit {
			result.HasMore = true
		}
		result.Items = append(result.Items, pages[i]...)
		result.Total += counts[i]
	}

	sort.SliceStable(result.Items, func(i, j int) bool {
		return result.Items[i].CreatedAt.After(result.Items[j].CreatedAt)
	})
	if len(result.Items) > params.Limit {
		result.HasMore = true
		result.Items = result.Items[:params.Limit]
	}
	if result.HasMore && len(result.Items) > 0 {
		cursor := FormatCursor(result.Items[len(result.Items)-1].CreatedAt)
		result.NextCursor = &cursor
	}
	return result, nil
}

// Counts returns pending counts per type using aggregate queries only.
func (c *Center) Counts(ctx context.Context, approverID, orgID string) (*domain.ApprovalCounts, error) {
	if approverID == "" || orgID == "" {
		return nil, fmt.Errorf("%w: approver and organization are required", ErrValidation)
	}

	handlers := c.registry.All()
	counts := make([]int, len(handlers))
	g, gctx := errgroup.WithContext(ctx)
	for i, h := range handlers {
		g.Go(func() error {
			n, err := h.GetCount(gctx, approverID, orgID)
			if err != nil {
				return fmt.Errorf("%s: %w", h.Type(), err)
			}
			counts[i] = n
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := &domain.ApprovalCounts{ByType: make(map[string]int, len(handlers))}
	for i, h := range handlers {
		out.ByType[h.Type()] = counts[i]
		out.Total += counts[i]
	}
	return out, nil
}

// Detail delegates to the type's handler on behalf of actorID.
func (c *Center) Detail(ctx context.Context, approvalType, entityID, orgID, actorID string) (*domain.Detail, error) {
	if actorID == "" || orgID == "" {
		return nil, fmt.Errorf("%w: actor and organization are required", ErrValidation)
	}
	h, err := c.registry.Get(approvalType)
	if err != nil {
		return nil, err
	}
	return h.GetDetail(ctx, entityID, orgID, actorID)
}

// Approve resolves one request as approved.
func (c *Center) Approve(ctx context.Context, req ActionRequest) error {
	row, h, err := c.decidable(ctx, req)
	if err != nil {
		return err
	}
	if err := h.Approve(ctx, row.EntityID, req.ActorID); err != nil {
		return err
	}
	c.record(ctx, row, domain.AuditApprove, req, domain.StatusApproved)
	return nil
}

// Reject resolves one request as rejected. A reason is required.
func (c *Center) Reject(ctx context.Context, req ActionRequest) error {
	if strings.TrimSpace(req.Reason) == "" {
		return fmt.Errorf("%w: a rejection reason is required", ErrValidation)
	}
	row, h, err := c.decidable(ctx, req)
	if err != nil {
		return err
	}
	if err := h.Reject(ctx, row.EntityID, req.ActorID, req.Reason); err != nil {
		return err
	}
	c.record(ctx, row, domain.AuditReject, req, domain.StatusRejected)
	return nil
}

// Cancel lets the requester withdraw a pending request.
func (c *Center) Cancel(ctx context.Context, req ActionRequest) error {
	row, err := c.requests.GetRequest(ctx, req.ApprovalID)
	if err != nil {
		return err
	}
	if row.OrganizationID != req.OrganizationID {
		return fmt.Errorf("%w: organization mismatch", ErrUnauthorized)
	}
	if row.RequesterID != req.ActorID {
		return fmt.Errorf("%w: only the requester can cancel", ErrUnauthorized)
	}
	if row.Status != domain.StatusPending {
		return fmt.Errorf("%w: status is %s", ErrAlreadyResolved, row.Status)
	}
	if err := c.requests.CancelRequest(ctx, row.ID, req.ActorID, req.Reason, c.now().UTC()); err != nil {
		return err
	}
	c.record(ctx, row, domain.AuditCancel, req, domain.StatusCancelled)
	return nil
}

// BulkApprove delegates to the coordinator.
func (c *Center) BulkApprove(ctx context.Context, req BulkRequest) (*domain.BulkApproveResult, error) {
	return c.bulk.Approve(ctx, req)
}

// Types lists the registered approval types.
func (c *Center) Types() []TypeInfo {
	handlers := c.registry.All()
	out := make([]TypeInfo, len(handlers))
	for i, h := range handlers {
		out[i] = TypeInfo{Type: h.Type(), DisplayName: h.DisplayName(), SupportsBulkApprove: h.SupportsBulkApprove()}
	}
	return out
}

// decidable runs the single-item variant of the bulk validation chain.
func (c *Center) decidable(ctx context.Context, req ActionRequest) (*domain.ApprovalRequest, Handler, error) {
	if req.ApprovalID == "" || req.ActorID == "" {
		return nil, nil, fmt.Errorf("%w: approval id and actor are required", ErrValidation)
	}
	row, err := c.requests.GetRequest(ctx, req.ApprovalID)
	if err != nil {
		return nil, nil, err
	}
	if row.ApproverID != req.ActorID {
		return nil, nil, fmt.Errorf("%w: not the assigned approver", ErrUnauthorized)
	}
	if row.OrganizationID != req.OrganizationID {
		return nil, nil, fmt.Errorf("%w: organization mismatch", ErrUnauthorized)
	}
	if row.Status != domain.StatusPending {
		return nil, nil, fmt.Errorf("%w: status is %s", ErrAlreadyResolved, row.Status)
	}
	h, err := c.registry.Get(row.EntityType)
	if err != nil {
		return nil, nil, err
	}
	return row, h, nil
}

// record writes the audit entry. Failures are logged, never returned: the
// transition has already happened.
func (c *Center) record(ctx context.Context, row *domain.ApprovalRequest, action domain.AuditAction, req ActionRequest, to domain.Status) {
	c.logger.InfoContext(ctx, "approval transition",
		slog.String("approval_id", row.ID),
		slog.String("approval_type", row.EntityType),
		slog.String("action", string(action)),
		slog.String("actor_id", req.ActorID),
	)
	if c.audit == nil {
		return
	}
	err := c.audit.Log(ctx, domain.AuditEntry{
		OrganizationID: row.OrganizationID,
		ApprovalID:     row.ID,
		ApprovalType:   row.EntityType,
		EntityID:       row.EntityID,
		Action:         action,
		ActorID:        req.ActorID,
		PreviousStatus: row.Status,
		NewStatus:      to,
		Reason:         req.Reason,
		Provenance:     req.Provenance,
		CreatedAt:      c.now().UTC(),
	})
	if err != nil {
		c.logger.ErrorContext(ctx, "audit write failed",
			slog.String("approval_id", row.ID),
			slog.String("action", string(action)),
			slog.String("error", err.Error()),
		)
	}
}

// countStatus counts one handler's rows in the queried status. Handlers
// without a StatusCounter fall back to the request store.
func (c *Center) countStatus(ctx context.Context, h Handler, params domain.ApprovalQueryParams) (int, error) {
	status := params.EffectiveStatus()
	if sc, ok := h.(StatusCounter); ok {
		return sc.CountByStatus(ctx, params.ApproverID, params.OrganizationID, status)
	}
	if status == domain.StatusPending || c.requests == nil {
		return h.GetCount(ctx, params.ApproverID, params.OrganizationID)
	}
	return c.requests.CountRequests(ctx, RequestFilter{
		EntityType:     h.Type(),
		ApproverID:     params.ApproverID,
		OrganizationID: params.OrganizationID,
		Status:         status,
	})
}

func (c *Center) selectHandlers(types []string) ([]Handler, error) {
	if len(types) == 0 {
		return c.registry.All(), nil
	}
	seen := make(map[string]struct{}, len(types))
	out := make([]Handler, 0, len(types))
	for _, t := range types {
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		h, err := c.registry.Get(t)
		if err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, nil
}

func validateQuery(p domain.ApprovalQueryParams) error {
	switch {
	case p.ApproverID == "":
		return fmt.Errorf("%w: approver id is required", ErrValidation)
	case p.OrganizationID == "":
		return fmt.Errorf("%w: organization id is required", ErrValidation)
	case p.Limit < 1 || p.Limit > MaxPageSize:
		return fmt.Errorf("%w: limit must be between 1 and %d", ErrValidation, MaxPageSize)
	case p.Priority != "" && !p.Priority.Valid():
		return fmt.Errorf("%w: unknown priority %q", ErrValidation, p.Priority)
	case !listableStatus(p.Status):
		return fmt.Errorf("%w: unknown status %q", ErrValidation, p.Status)
	case p.MinAgeDays < 0:
		return fmt.Errorf("%w: min age days must not be negative", ErrValidation)
	}
	if p.Cursor != "" {
		if _, err := ParseCursor(p.Cursor); err != nil {
			return err
		}
	}
	return nil
}

// listableStatus reports whether a listing may filter on s. Empty means pending.
func listableStatus(s domain.Status) bool {
	switch s {
	case "", domain.StatusPending, domain.StatusApproved, domain.StatusRejected:
		return true
	}
	return false
}

var _ Service = (*Center)(nil)
