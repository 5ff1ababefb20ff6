package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/jkaninda/approvalcenter/internal/approval"
	"github.com/jkaninda/approvalcenter/internal/domain"
)

// EmployeeRepository persists the employees behind absence requests and time corrections.
type EmployeeRepository struct {
	db *gorm.DB
}

// NewEmployeeRepository creates an EmployeeRepository.
func NewEmployeeRepository(db *gorm.DB) *EmployeeRepository {
	return &EmployeeRepository{db: db}
}

// Upsert creates the employee or updates every column of an existing one.
func (r *EmployeeRepository) Upsert(ctx context.Context, e *domain.Employee) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	model := toEmployeeModel(e)
	if err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(&model).Error; err != nil {
		return fmt.Errorf("upserting employee %s: %w", e.ID, err)
	}
	return nil
}

// Get retrieves an employee by ID within an org.
func (r *EmployeeRepository) Get(ctx context.Context, orgID, id string) (*domain.Employee, error) {
	var model EmployeeModel
	if err := r.db.WithContext(ctx).
		Scopes(TenantScope(orgID)).
		First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("employee %s: %w", id, approval.ErrNotFound)
		}
		return nil, fmt.Errorf("getting employee %s: %w", id, err)
	}
	e := toEmployeeDomain(&model)
	return &e, nil
}

// List returns an organization's employees ordered by name.
func (r *EmployeeRepository) List(ctx context.Context, orgID string) ([]domain.Employee, error) {
	var models []EmployeeModel
	if err := r.db.WithContext(ctx).
		Scopes(TenantScope(orgID)).
		Order("name ASC").
		Find(&models).Error; err != nil {
		return nil, fmt.Errorf("listing employees: %w", err)
	}
	out := make([]domain.Employee, len(models))
	for i := range models {
		out[i] = toEmployeeDomain(&models[i])
	}
	return out, nil
}
