package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/jkaninda/approvalcenter/internal/domain"
)

// auditBatchSize bounds the rows per INSERT statement in AppendBatch.
const auditBatchSize = 100

// AuditRepository implements audit.Store with PostgreSQL.
// Append-only: no Update or Delete methods exist on this type.
type AuditRepository struct {
	db *gorm.DB
}

// NewAuditRepository creates an AuditRepository.
func NewAuditRepository(db *gorm.DB) *AuditRepository {
	return &AuditRepository{db: db}
}

// Append inserts a single audit entry and assigns its ID.
func (r *AuditRepository) Append(ctx context.Context, entry *domain.AuditEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	model := toAuditModel(entry)
	if err := r.db.WithContext(ctx).Create(&model).Error; err != nil {
		return fmt.Errorf("appending audit entry: %w", err)
	}
	return nil
}

// AppendBatch inserts many entries in one transaction.
func (r *AuditRepository) AppendBatch(ctx context.Context, entries []domain.AuditEntry) error {
	if len(entries) == 0 {
		return nil
	}
	models := make([]AuditEntryModel, len(entries))
	for i := range entries {
		if entries[i].ID == "" {
			entries[i].ID = uuid.NewString()
		}
		models[i] = toAuditModel(&entries[i])
	}
	if err := r.db.WithContext(ctx).CreateInBatches(&models, auditBatchSize).Error; err != nil {
		return fmt.Errorf("appending %d audit entries: %w", len(entries), err)
	}
	return nil
}

// ListByApproval returns the entries of one approval request, oldest first.
func (r *AuditRepository) ListByApproval(ctx context.Context, orgID, approvalID string) ([]domain.AuditEntry, error) {
	var models []AuditEntryModel
	if err := r.db.WithContext(ctx).
		Scopes(TenantScope(orgID)).
		Where("approval_id = ?", approvalID).
		Order("created_at ASC").
		Order("id ASC").
		Find(&models).Error; err != nil {
		return nil, fmt.Errorf("listing audit entries: %w", err)
	}
	entries := make([]domain.AuditEntry, len(models))
	for i := range models {
		entries[i] = toAuditDomain(&models[i])
	}
	return entries, nil
}
