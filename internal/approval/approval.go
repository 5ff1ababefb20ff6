// Package approval implements the unified approval core: the handler contract,
// the type registry, the batched query pipeline, the bulk approval coordinator,
// and the Center facade that ties them together.
package approval

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jkaninda/approvalcenter/internal/domain"
)

var (
	ErrNotFound         = errors.New("not found")
	ErrUnauthorized     = errors.New("not authorized")
	ErrValidation       = errors.New("validation failed")
	ErrAlreadyResolved  = errors.New("request is not pending")
	ErrBulkNotSupported = errors.New("bulk approve not supported")

	// ErrTypeNotRegistered also matches ErrNotFound.
	ErrTypeNotRegistered = fmt.Errorf("approval type %w", ErrNotFound)
)

// Handler is the contract every approval type implements.
// The entity arguments of the pure functions carry the handler's own entity type.
type Handler interface {
	Type() string
	DisplayName() string
	SupportsBulkApprove() bool

	GetApprovals(ctx context.Context, params domain.ApprovalQueryParams) ([]domain.UnifiedApprovalItem, error)
	GetCount(ctx context.Context, approverID, orgID string) (int, error)
	// GetDetail looks up one entity on behalf of actorID, who must be its
	// approver or requester. An empty orgID skips the organization check.
	GetDetail(ctx context.Context, entityID, orgID, actorID string) (*domain.Detail, error)
	Approve(ctx context.Context, entityID, approverID string) error
	Reject(ctx context.Context, entityID, approverID, reason string) error

	CalculatePriority(entity any, createdAt time.Time) domain.Priority
	CalculateSLADeadline(entity any, createdAt time.Time) *time.Time
	GetDisplayMetadata(entity any) domain.DisplayMetadata
}

// StatusCounter is implemented by handlers that can count rows in any status.
// GetCount only covers pending rows.
type StatusCounter interface {
	CountByStatus(ctx context.Context, approverID, orgID string, status domain.Status) (int, error)
}

// Scorer is implemented by handlers that can turn already-fetched request rows
// into scored items with one batched entity load. The escalation sweep uses it.
type Scorer interface {
	ScoreRequests(ctx context.Context, orgID string, reqs []domain.ApprovalRequest) ([]domain.UnifiedApprovalItem, error)
}

// Decision is a resolution handed from a handler to its entity store.
type Decision struct {
	ApprovalType string
	EntityID     string
	ApproverID   string
	Status       domain.Status
	Reason       string
	At           time.Time
}
