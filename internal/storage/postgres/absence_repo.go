package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/jkaninda/approvalcenter/internal/approval"
	"github.com/jkaninda/approvalcenter/internal/domain"
)

// AbsenceRepository implements absence.Store.
type AbsenceRepository struct {
	db *gorm.DB
}

// NewAbsenceRepository creates an AbsenceRepository.
func NewAbsenceRepository(db *gorm.DB) *AbsenceRepository {
	return &AbsenceRepository{db: db}
}

// LoadByIDs fetches absence requests with their employees in one query each
// (the row query plus GORM's batched preload).
func (r *AbsenceRepository) LoadByIDs(ctx context.Context, orgID string, ids []string) (map[string]domain.AbsenceRequest, error) {
	out := make(map[string]domain.AbsenceRequest, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	var models []AbsenceRequestModel
	if err := r.db.WithContext(ctx).
		Scopes(TenantScope(orgID)).
		Preload("Employee").
		Where("id IN ?", ids).
		Find(&models).Error; err != nil {
		return nil, fmt.Errorf("loading absence requests: %w", err)
	}
	for i := range models {
		out[models[i].ID] = toAbsenceDomain(&models[i])
	}
	return out, nil
}

// Resolve applies a decision to the absence request and its approval row.
func (r *AbsenceRepository) Resolve(ctx context.Context, d approval.Decision) error {
	return resolveDecision(ctx, r.db, d)
}

// Create inserts a pending absence request and the approval row routing it to approverID.
func (r *AbsenceRepository) Create(ctx context.Context, a *domain.AbsenceRequest, approverID string) (*domain.ApprovalRequest, error) {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	a.Status = domain.StatusPending

	req := &domain.ApprovalRequest{
		ID:             uuid.NewString(),
		OrganizationID: a.OrganizationID,
		EntityType:     domain.TypeAbsenceRequest,
		EntityID:       a.ID,
		RequesterID:    a.Employee.ID,
		ApproverID:     approverID,
		Status:         domain.StatusPending,
		CreatedAt:      a.CreatedAt,
		UpdatedAt:      a.CreatedAt,
	}

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		model := toAbsenceModel(a)
		if err := tx.Omit(clause.Associations).Create(&model).Error; err != nil {
			return fmt.Errorf("creating absence request: %w", err)
		}
		return createRequest(tx, req)
	})
	if err != nil {
		return nil, err
	}
	return req, nil
}
