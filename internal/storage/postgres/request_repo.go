package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"

	"github.com/jkaninda/approvalcenter/internal/approval"
	"github.com/jkaninda/approvalcenter/internal/domain"
)

// ErrDuplicate is returned when a unique constraint rejects an insert.
var ErrDuplicate = errors.New("already exists")

// RequestRepository implements approval.RequestStore and the escalation pager.
type RequestRepository struct {
	db *gorm.DB
}

// NewRequestRepository creates a RequestRepository.
func NewRequestRepository(db *gorm.DB) *RequestRepository {
	return &RequestRepository{db: db}
}

// Time bounds are normalized to UTC: SQLite compares timestamps as text.
func applyRequestFilter(q *gorm.DB, f approval.RequestFilter) *gorm.DB {
	if f.OrganizationID != "" {
		q = q.Scopes(TenantScope(f.OrganizationID))
	}
	if f.EntityType != "" {
		q = q.Where("entity_type = ?", f.EntityType)
	}
	if f.ApproverID != "" {
		q = q.Where("approver_id = ?", f.ApproverID)
	}
	if f.Status != "" {
		q = q.Where("status = ?", string(f.Status))
	}
	if f.Cursor != nil {
		q = q.Where("created_at <= ?", f.Cursor.UTC())
	}
	if f.CreatedFrom != nil {
		q = q.Where("created_at >= ?", f.CreatedFrom.UTC())
	}
	if f.CreatedTo != nil {
		q = q.Where("created_at <= ?", f.CreatedTo.UTC())
	}
	if f.OlderThan != nil {
		q = q.Where("created_at <= ?", f.OlderThan.UTC())
	}
	return q
}

// FindRequests returns matching rows, newest first.
func (r *RequestRepository) FindRequests(ctx context.Context, f approval.RequestFilter) ([]domain.ApprovalRequest, error) {
	q := applyRequestFilter(r.db.WithContext(ctx).Model(&ApprovalRequestModel{}), f).
		Order("created_at DESC").
		Order("id DESC")
	if f.Limit > 0 {
		q = q.Limit(f.Limit)
	}

	var models []ApprovalRequestModel
	if err := q.Find(&models).Error; err != nil {
		return nil, fmt.Errorf("finding approval requests: %w", err)
	}
	return toRequestDomains(models), nil
}

// CountRequests runs a COUNT with the same predicate as FindRequests.
func (r *RequestRepository) CountRequests(ctx context.Context, f approval.RequestFilter) (int, error) {
	var n int64
	if err := applyRequestFilter(r.db.WithContext(ctx).Model(&ApprovalRequestModel{}), f).
		Count(&n).Error; err != nil {
		return 0, fmt.Errorf("counting approval requests: %w", err)
	}
	return int(n), nil
}

// GetRequestsByIDs fetches many rows with one IN query.
func (r *RequestRepository) GetRequestsByIDs(ctx context.Context, ids []string) ([]domain.ApprovalRequest, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var models []ApprovalRequestModel
	if err := r.db.WithContext(ctx).Where("id IN ?", ids).Find(&models).Error; err != nil {
		return nil, fmt.Errorf("getting approval requests: %w", err)
	}
	return toRequestDomains(models), nil
}

// GetRequest retrieves one row by ID.
func (r *RequestRepository) GetRequest(ctx context.Context, id string) (*domain.ApprovalRequest, error) {
	var model ApprovalRequestModel
	if err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("approval request %s: %w", id, approval.ErrNotFound)
		}
		return nil, fmt.Errorf("getting approval request %s: %w", id, err)
	}
	req := toApprovalRequestDomain(&model)
	return &req, nil
}

// GetRequestByEntity retrieves the row tracking one entity.
func (r *RequestRepository) GetRequestByEntity(ctx context.Context, entityType, entityID string) (*domain.ApprovalRequest, error) {
	var model ApprovalRequestModel
	if err := r.db.WithContext(ctx).
		Where("entity_type = ? AND entity_id = ?", entityType, entityID).
		First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%s %s: %w", entityType, entityID, approval.ErrNotFound)
		}
		return nil, fmt.Errorf("getting %s %s: %w", entityType, entityID, err)
	}
	req := toApprovalRequestDomain(&model)
	return &req, nil
}

// CancelRequest withdraws a pending row and its entity in one transaction.
func (r *RequestRepository) CancelRequest(ctx context.Context, id, actorID, reason string, at time.Time) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var model ApprovalRequestModel
		if err := tx.First(&model, "id = ?", id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("approval request %s: %w", id, approval.ErrNotFound)
			}
			return err
		}
		return transition(tx, &model, actorID, reason, domain.StatusCancelled, at)
	})
}

// PendingOrganizations lists every organization with at least one pending row.
func (r *RequestRepository) PendingOrganizations(ctx context.Context) ([]string, error) {
	var orgs []string
	if err := r.db.WithContext(ctx).
		Model(&ApprovalRequestModel{}).
		Where("status = ?", string(domain.StatusPending)).
		Distinct().
		Order("organization_id").
		Pluck("organization_id", &orgs).Error; err != nil {
		return nil, fmt.Errorf("listing organizations with pending requests: %w", err)
	}
	return orgs, nil
}

// ListPendingPage walks an organization's pending rows oldest first using a
// (created_at, id) keyset. Pass the zero time and "" for the first page.
func (r *RequestRepository) ListPendingPage(ctx context.Context, orgID string, afterCreatedAt time.Time, afterID string, limit int) ([]domain.ApprovalRequest, error) {
	var models []ApprovalRequestModel
	if err := r.db.WithContext(ctx).
		Scopes(TenantScope(orgID)).
		Where("status = ?", string(domain.StatusPending)).
		Where("(created_at > ? OR (created_at = ? AND id > ?))", afterCreatedAt.UTC(), afterCreatedAt.UTC(), afterID).
		Order("created_at ASC").
		Order("id ASC").
		Limit(limit).
		Find(&models).Error; err != nil {
		return nil, fmt.Errorf("listing pending requests: %w", err)
	}
	return toRequestDomains(models), nil
}

// createRequest inserts a request row inside the caller's transaction.
func createRequest(tx *gorm.DB, req *domain.ApprovalRequest) error {
	model := toApprovalRequestModel(req)
	if err := tx.Create(&model).Error; err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("approval request for %s %s: %w", req.EntityType, req.EntityID, ErrDuplicate)
		}
		return fmt.Errorf("creating approval request: %w", err)
	}
	return nil
}

// resolveDecision applies an approve or reject to the request row and its
// entity. The pending check is a conditional UPDATE, so two concurrent
// deciders cannot both succeed.
func resolveDecision(ctx context.Context, db *gorm.DB, d approval.Decision) error {
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var model ApprovalRequestModel
		if err := tx.Where("entity_type = ? AND entity_id = ?", d.ApprovalType, d.EntityID).
			First(&model).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("%s %s: %w", d.ApprovalType, d.EntityID, approval.ErrNotFound)
			}
			return err
		}
		if model.ApproverID != d.ApproverID {
			return fmt.Errorf("%w: not the assigned approver", approval.ErrUnauthorized)
		}
		return transition(tx, &model, d.ApproverID, d.Reason, d.Status, d.At)
	})
}

func transition(tx *gorm.DB, model *ApprovalRequestModel, actorID, reason string, status domain.Status, at time.Time) error {
	at = at.UTC()
	res := tx.Model(&ApprovalRequestModel{}).
		Where("id = ? AND status = ?", model.ID, string(domain.StatusPending)).
		Updates(map[string]any{
			"status":      string(status),
			"resolved_by": actorID,
			"reason":      reason,
			"resolved_at": at,
			"updated_at":  at,
		})
	if res.Error != nil {
		return fmt.Errorf("updating approval request %s: %w", model.ID, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: approval request %s", approval.ErrAlreadyResolved, model.ID)
	}

	newEntity, ok := entityModels[model.EntityType]
	if !ok {
		return nil
	}
	if err := tx.Model(newEntity()).
		Where("id = ?", model.EntityID).
		Updates(map[string]any{"status": string(status), "updated_at": at}).Error; err != nil {
		return fmt.Errorf("updating %s %s: %w", model.EntityType, model.EntityID, err)
	}
	return nil
}

func toRequestDomains(models []ApprovalRequestModel) []domain.ApprovalRequest {
	out := make([]domain.ApprovalRequest, len(models))
	for i := range models {
		out[i] = toApprovalRequestDomain(&models[i])
	}
	return out
}

// isUniqueViolation recognizes both the translated GORM error and a raw
// PostgreSQL 23505.
func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
