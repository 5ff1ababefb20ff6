package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/jkaninda/approvalcenter/internal/sla"
)

// SLARuleRepository implements sla.RuleStore.
type SLARuleRepository struct {
	db *gorm.DB
}

// NewSLARuleRepository creates an SLARuleRepository.
func NewSLARuleRepository(db *gorm.DB) *SLARuleRepository {
	return &SLARuleRepository{db: db}
}

// ListRules returns an organization's overrides.
func (r *SLARuleRepository) ListRules(ctx context.Context, orgID string) ([]sla.Rule, error) {
	var models []SLARuleModel
	if err := r.db.WithContext(ctx).
		Scopes(TenantScope(orgID)).
		Order("approval_type ASC").
		Order("priority ASC").
		Find(&models).Error; err != nil {
		return nil, fmt.Errorf("listing sla rules: %w", err)
	}
	rules := make([]sla.Rule, len(models))
	for i := range models {
		rules[i] = toSLARuleDomain(&models[i])
	}
	return rules, nil
}

// UpsertRule creates or replaces the override for (org, type, priority).
func (r *SLARuleRepository) UpsertRule(ctx context.Context, orgID string, rule sla.Rule) error {
	model := toSLARuleModel(orgID, rule)
	model.ID = uuid.NewString()
	if err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "organization_id"}, {Name: "approval_type"}, {Name: "priority"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"deadline_hours", "escalation_enabled", "escalation_threshold_hours", "updated_at",
			}),
		}).
		Create(&model).Error; err != nil {
		return fmt.Errorf("upserting sla rule %s/%s: %w", rule.ApprovalType, rule.Priority, err)
	}
	return nil
}
