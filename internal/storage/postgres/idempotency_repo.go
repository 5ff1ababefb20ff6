package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/jkaninda/approvalcenter/internal/domain"
)

// IdempotencyRepository implements approval.IdempotencyStore.
type IdempotencyRepository struct {
	db *gorm.DB
}

// NewIdempotencyRepository creates an IdempotencyRepository.
func NewIdempotencyRepository(db *gorm.DB) *IdempotencyRepository {
	return &IdempotencyRepository{db: db}
}

// Lookup returns the stored result for (orgID, key).
func (r *IdempotencyRepository) Lookup(ctx context.Context, orgID, key string) ([]byte, bool, error) {
	var model IdempotencyKeyModel
	err := r.db.WithContext(ctx).
		Scopes(TenantScope(orgID)).
		First(&model, "key = ?", key).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("looking up idempotency key: %w", err)
	}
	return []byte(model.Result), true, nil
}

// Save records the result. The first writer wins; stored is false for later ones.
func (r *IdempotencyRepository) Save(ctx context.Context, orgID, key string, result []byte) (bool, error) {
	model := IdempotencyKeyModel{
		OrganizationID: orgID,
		Key:            key,
		Result:         datatypes.JSON(result),
	}
	res := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&model)
	if res.Error != nil {
		if isUniqueViolation(res.Error) {
			return false, nil
		}
		return false, fmt.Errorf("saving idempotency key: %w", res.Error)
	}
	return res.RowsAffected > 0, nil
}

// escalationKeyPrefix marks ledger keys claimed by the escalation sweep.
const escalationKeyPrefix = "escalate:"

// DeleteOlderThan purges ledger entries created before the cutoff. An
// escalation key survives while its request is still pending, otherwise the
// next sweep would escalate that request again.
func (r *IdempotencyRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	stillPending := r.db.Model(&ApprovalRequestModel{}).
		Select("1").
		Where("approval_requests.organization_id = idempotency_keys.organization_id").
		Where("(? || approval_requests.id) = idempotency_keys.key", escalationKeyPrefix).
		Where("approval_requests.status = ?", string(domain.StatusPending))

	res := r.db.WithContext(ctx).
		Where("idempotency_keys.created_at < ?", cutoff.UTC()).
		Where("(idempotency_keys.key NOT LIKE ? OR NOT EXISTS (?))", escalationKeyPrefix+"%", stillPending).
		Delete(&IdempotencyKeyModel{})
	if res.Error != nil {
		return 0, fmt.Errorf("purging idempotency keys: %w", res.Error)
	}
	return res.RowsAffected, nil
}
