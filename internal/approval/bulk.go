package approval

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/jkaninda/approvalcenter/internal/domain"
)

const (
	// DefaultBulkFanOut bounds concurrent handler calls in one bulk approve.
	DefaultBulkFanOut = 8
	// DefaultMaxBulkItems bounds the number of distinct ids in one bulk approve.
	DefaultMaxBulkItems = 200
)

// BulkRequest is one bulk approve call.
type BulkRequest struct {
	ApprovalIDs    []string
	ApproverID     string
	OrganizationID string
	IdempotencyKey string // Optional. Replays return the stored result.
	Provenance     *domain.Provenance
}

// BulkConfig configures a BulkCoordinator.
type BulkConfig struct {
	Registry    *Registry
	Requests    RequestStore
	Audit       AuditSink        // nil = no audit.
	Idempotency IdempotencyStore // nil = keys are ignored.
	FanOut      int
	MaxItems    int
	Logger      *slog.Logger
}

// BulkCoordinator approves many requests across types. Every distinct input id
// ends up in exactly one of Succeeded or Failed, and one item's failure never
// affects another.
type BulkCoordinator struct {
	registry    *Registry
	requests    RequestStore
	audit       AuditSink
	idempotency IdempotencyStore
	fanOut      int
	maxItems    int
	logger      *slog.Logger
}

// NewBulkCoordinator creates a coordinator.
func NewBulkCoordinator(cfg BulkConfig) *BulkCoordinator {
	b := &BulkCoordinator{
		registry:    cfg.Registry,
		requests:    cfg.Requests,
		audit:       cfg.Audit,
		idempotency: cfg.Idempotency,
		fanOut:      cfg.FanOut,
		maxItems:    cfg.MaxItems,
		logger:      cfg.Logger,
	}
	if b.fanOut <= 0 {
		b.fanOut = DefaultBulkFanOut
	}
	if b.maxItems <= 0 {
		b.maxItems = DefaultMaxBulkItems
	}
	if b.logger == nil {
		b.logger = slog.Default()
	}
	return b
}

type bulkOutcome struct {
	id  string
	row *domain.ApprovalRequest
	err string // Empty = approved.
}

// Approve runs the bulk operation. The returned error is non-nil only when the
// input itself is invalid or the request rows cannot be fetched at all.
func (b *BulkCoordinator) Approve(ctx context.Context, req BulkRequest) (*domain.BulkApproveResult, error) {
	ids := dedupe(req.ApprovalIDs)
	if len(ids) == 0 {
		return nil, fmt.Errorf("%w: approval_ids must not be empty", ErrValidation)
	}
	if len(ids) > b.maxItems {
		return nil, fmt.Errorf("%w: at most %d approval ids per call, got %d", ErrValidation, b.maxItems, len(ids))
	}
	if req.ApproverID == "" || req.OrganizationID == "" {
		return nil, fmt.Errorf("%w: approver and organization are required", ErrValidation)
	}

	ledgerKey := ""
	if req.IdempotencyKey != "" && b.idempotency != nil {
		ledgerKey = "bulk:" + req.ApproverID + ":" + req.IdempotencyKey
		if res, ok := b.replay(ctx, req.OrganizationID, ledgerKey); ok {
			return res, nil
		}
	}

	rows, err := b.requests.GetRequestsByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("fetching approval requests: %w", err)
	}
	byID := make(map[string]*domain.ApprovalRequest, len(rows))
	for i := range rows {
		byID[rows[i].ID] = &rows[i]
	}

	outcomes := make([]bulkOutcome, len(ids))
	var g errgroup.Group
	g.SetLimit(b.fanOut)

	for i, id := range ids {
		outcomes[i].id = id
		row, ok := byID[id]
		if !ok {
			outcomes[i].err = "not found"
			continue
		}
		outcomes[i].row = row

		h, msg := b.validate(row, req)
		if msg != "" {
			outcomes[i].err = msg
			continue
		}

		g.Go(func() error {
			outcomes[i].err = b.invoke(ctx, h, row, req.ApproverID)
			return nil
		})
	}
	_ = g.Wait()

	result := &domain.BulkApproveResult{
		Succeeded: []string{},
		Failed:    []domain.BulkFailure{},
	}
	now := time.Now().UTC()
	var entries []domain.AuditEntry
	for _, o := range outcomes {
		if o.err != "" {
			result.Failed = append(result.Failed, domain.BulkFailure{ID: o.id, Error: o.err})
			continue
		}
		result.Succeeded = append(result.Succeeded, o.id)
		entries = append(entries, domain.AuditEntry{
			OrganizationID: o.row.OrganizationID,
			ApprovalID:     o.row.ID,
			ApprovalType:   o.row.EntityType,
			EntityID:       o.row.EntityID,
			Action:         domain.AuditBulkApprove,
			ActorID:        req.ApproverID,
			PreviousStatus: domain.StatusPending,
			NewStatus:      domain.StatusApproved,
			Metadata:       map[string]any{"batch_size": len(ids)},
			Provenance:     req.Provenance,
			CreatedAt:      now,
		})
	}

	if b.audit != nil && len(entries) > 0 {
		if err := b.audit.LogBatch(ctx, entries); err != nil {
			b.logger.ErrorContext(ctx, "bulk approve audit write failed",
				slog.Int("entries", len(entries)),
				slog.String("error", err.Error()),
			)
		}
	}

	b.logger.InfoContext(ctx, "bulk approve completed",
		slog.String("approver_id", req.ApproverID),
		slog.String("org_id", req.OrganizationID),
		slog.Int("succeeded", len(result.Succeeded)),
		slog.Int("failed", len(result.Failed)),
	)

	if ledgerKey != "" {
		b.remember(ctx, req.OrganizationID, ledgerKey, result)
	}
	return result, nil
}

// validate runs the ordered checks; the first failure wins.
func (b *BulkCoordinator) validate(row *domain.ApprovalRequest, req BulkRequest) (Handler, string) {
	if row.ApproverID != req.ApproverID {
		return nil, "not authorized: not the assigned approver"
	}
	if row.OrganizationID != req.OrganizationID {
		return nil, "not authorized: organization mismatch"
	}
	if row.Status != domain.StatusPending {
		return nil, fmt.Sprintf("request is %s, not pending", row.Status)
	}
	h, err := b.registry.Get(row.EntityType)
	if err != nil {
		return nil, fmt.Sprintf("approval type %q is not registered", row.EntityType)
	}
	if !h.SupportsBulkApprove() {
		return nil, fmt.Sprintf("approval type %q does not support bulk approve", row.EntityType)
	}
	return h, ""
}

// invoke calls the handler and converts every failure mode into a message.
// Handlers re-check the pending precondition inside their own transaction.
func (b *BulkCoordinator) invoke(ctx context.Context, h Handler, row *domain.ApprovalRequest, approverID string) (msg string) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.ErrorContext(ctx, "handler panicked during bulk approve",
				slog.String("approval_id", row.ID),
				slog.String("approval_type", row.EntityType),
				slog.Any("panic", r),
			)
			msg = fmt.Sprintf("handler panic: %v", r)
		}
	}()

	if err := ctx.Err(); err != nil {
		return err.Error()
	}
	if err := h.Approve(WithBulk(ctx), row.EntityID, approverID); err != nil {
		b.logger.WarnContext(ctx, "bulk approve item failed",
			slog.String("approval_id", row.ID),
			slog.String("approval_type", row.EntityType),
			slog.String("error", err.Error()),
		)
		return err.Error()
	}
	return ""
}

func (b *BulkCoordinator) replay(ctx context.Context, orgID, key string) (*domain.BulkApproveResult, bool) {
	raw, found, err := b.idempotency.Lookup(ctx, orgID, key)
	if err != nil {
		b.logger.WarnContext(ctx, "idempotency lookup failed", slog.String("error", err.Error()))
		return nil, false
	}
	if !found {
		return nil, false
	}
	var res domain.BulkApproveResult
	if err := json.Unmarshal(raw, &res); err != nil {
		b.logger.WarnContext(ctx, "stored bulk result unreadable", slog.String("error", err.Error()))
		return nil, false
	}
	return &res, true
}

func (b *BulkCoordinator) remember(ctx context.Context, orgID, key string, res *domain.BulkApproveResult) {
	raw, err := json.Marshal(res)
	if err != nil {
		return
	}
	if _, err := b.idempotency.Save(ctx, orgID, key, raw); err != nil {
		b.logger.WarnContext(ctx, "idempotency save failed", slog.String("error", err.Error()))
	}
}

type bulkKey struct{}

// WithBulk marks ctx as belonging to a bulk approve, so handlers can apply
// the bulk permission instead of the single-item one.
func WithBulk(ctx context.Context) context.Context {
	return context.WithValue(ctx, bulkKey{}, true)
}

// InBulk reports whether ctx was marked by WithBulk.
func InBulk(ctx context.Context) bool {
	v, _ := ctx.Value(bulkKey{}).(bool)
	return v
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
