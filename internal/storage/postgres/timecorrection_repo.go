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

// TimeCorrectionRepository implements timecorrection.Store.
type TimeCorrectionRepository struct {
	db *gorm.DB
}

// NewTimeCorrectionRepository creates a TimeCorrectionRepository.
func NewTimeCorrectionRepository(db *gorm.DB) *TimeCorrectionRepository {
	return &TimeCorrectionRepository{db: db}
}

// LoadByIDs fetches time corrections with their employees in one query each
// (the row query plus GORM's batched preload).
func (r *TimeCorrectionRepository) LoadByIDs(ctx context.Context, orgID string, ids []string) (map[string]domain.TimeCorrection, error) {
	out := make(map[string]domain.TimeCorrection, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	var models []TimeCorrectionModel
	if err := r.db.WithContext(ctx).
		Scopes(TenantScope(orgID)).
		Preload("Employee").
		Where("id IN ?", ids).
		Find(&models).Error; err != nil {
		return nil, fmt.Errorf("loading time corrections: %w", err)
	}
	for i := range models {
		out[models[i].ID] = toTimeCorrectionDomain(&models[i])
	}
	return out, nil
}

// Resolve applies a decision to the time correction and its approval row.
func (r *TimeCorrectionRepository) Resolve(ctx context.Context, d approval.Decision) error {
	return resolveDecision(ctx, r.db, d)
}

// Create inserts a pending time correction and the approval row routing it to approverID.
func (r *TimeCorrectionRepository) Create(ctx context.Context, c *domain.TimeCorrection, approverID string) (*domain.ApprovalRequest, error) {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	c.Status = domain.StatusPending

	req := &domain.ApprovalRequest{
		ID:             uuid.NewString(),
		OrganizationID: c.OrganizationID,
		EntityType:     domain.TypeTimeCorrection,
		EntityID:       c.ID,
		RequesterID:    c.Employee.ID,
		ApproverID:     approverID,
		Status:         domain.StatusPending,
		CreatedAt:      c.CreatedAt,
		UpdatedAt:      c.CreatedAt,
	}

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		model := toTimeCorrectionModel(c)
		if err := tx.Omit(clause.Associations).Create(&model).Error; err != nil {
			return fmt.Errorf("creating time correction: %w", err)
		}
		return createRequest(tx, req)
	})
	if err != nil {
		return nil, err
	}
	return req, nil
}
