package approval

import (
	"context"
	"time"

	"github.com/jkaninda/approvalcenter/internal/domain"
)

// RequestFilter is the predicate for approval-request row queries.
// Zero values mean "no constraint".
type RequestFilter struct {
	EntityType     string
	ApproverID     string
	OrganizationID string
	Status         domain.Status
	Cursor         *time.Time // created_at <= Cursor.
	CreatedFrom    *time.Time
	CreatedTo      *time.Time
	OlderThan      *time.Time // Min-age cutoff: created_at <= OlderThan.
	Limit          int
}

// RequestStore is the persistent-store capability over approval-request rows.
type RequestStore interface {
	// FindRequests returns rows ordered by created_at descending.
	FindRequests(ctx context.Context, f RequestFilter) ([]domain.ApprovalRequest, error)
	// CountRequests runs an aggregate count with the same predicate.
	CountRequests(ctx context.Context, f RequestFilter) (int, error)
	// GetRequestsByIDs fetches many rows in one query. Missing ids are omitted.
	GetRequestsByIDs(ctx context.Context, ids []string) ([]domain.ApprovalRequest, error)
	GetRequest(ctx context.Context, id string) (*domain.ApprovalRequest, error)
	GetRequestByEntity(ctx context.Context, entityType, entityID string) (*domain.ApprovalRequest, error)
	// CancelRequest moves a pending row to cancelled. Returns ErrAlreadyResolved
	// when the row is no longer pending.
	CancelRequest(ctx context.Context, id, actorID, reason string, at time.Time) error
}

// IdempotencyStore is the ledger of completed keyed operations.
type IdempotencyStore interface {
	// Lookup returns the stored result for (orgID, key).
	Lookup(ctx context.Context, orgID, key string) (result []byte, found bool, err error)
	// Save records the result. stored is false when the key already existed.
	Save(ctx context.Context, orgID, key string, result []byte) (stored bool, err error)
}

// AuditSink records state transitions.
type AuditSink interface {
	Log(ctx context.Context, entry domain.AuditEntry) error
	LogBatch(ctx context.Context, entries []domain.AuditEntry) error
}

// TimelineReader returns the recorded history of one approval request.
type TimelineReader interface {
	Timeline(ctx context.Context, orgID, approvalID string) ([]domain.TimelineEvent, error)
}
