package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/jkaninda/approvalcenter/internal/approval"
	"github.com/jkaninda/approvalcenter/internal/domain"
)

// NotificationChannelRepository stores escalation targets. Names are unique
// per organization; deleted channels are soft-deleted.
type NotificationChannelRepository struct {
	db *gorm.DB
}

func NewNotificationChannelRepository(db *gorm.DB) *NotificationChannelRepository {
	return &NotificationChannelRepository{db: db}
}

func (r *NotificationChannelRepository) Create(ctx context.Context, ch *domain.NotificationChannel) error {
	if err := validateChannel(ch); err != nil {
		return err
	}
	if ch.ID == "" {
		ch.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	ch.CreatedAt, ch.UpdatedAt = now, now

	model := toNotificationChannelModel(ch)
	if err := r.db.WithContext(ctx).Create(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return fmt.Errorf("%w: channel %q already exists", approval.ErrValidation, ch.Name)
		}
		return fmt.Errorf("creating notification channel: %w", err)
	}
	return nil
}

func (r *NotificationChannelRepository) Get(ctx context.Context, orgID, id string) (*domain.NotificationChannel, error) {
	return r.first(ctx, orgID, "id = ?", id)
}

func (r *NotificationChannelRepository) GetByName(ctx context.Context, orgID, name string) (*domain.NotificationChannel, error) {
	return r.first(ctx, orgID, "name = ?", name)
}

func (r *NotificationChannelRepository) first(ctx context.Context, orgID, cond, arg string) (*domain.NotificationChannel, error) {
	var model NotificationChannelModel
	err := r.db.WithContext(ctx).Scopes(TenantScope(orgID)).First(&model, cond, arg).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return nil, fmt.Errorf("notification channel %q: %w", arg, approval.ErrNotFound)
	case err != nil:
		return nil, fmt.Errorf("getting notification channel %q: %w", arg, err)
	}
	return toNotificationChannelDomain(&model), nil
}

// List returns the organization's channels, oldest first, so escalation
// fallback order matches creation order.
func (r *NotificationChannelRepository) List(ctx context.Context, orgID string) ([]domain.NotificationChannel, error) {
	var models []NotificationChannelModel
	if err := r.db.WithContext(ctx).
		Scopes(TenantScope(orgID)).
		Order("created_at ASC").
		Find(&models).Error; err != nil {
		return nil, fmt.Errorf("listing notification channels: %w", err)
	}
	channels := make([]domain.NotificationChannel, len(models))
	for i := range models {
		channels[i] = *toNotificationChannelDomain(&models[i])
	}
	return channels, nil
}

// Update replaces the mutable fields of an existing channel.
func (r *NotificationChannelRepository) Update(ctx context.Context, ch *domain.NotificationChannel) error {
	if err := validateChannel(ch); err != nil {
		return err
	}
	ch.UpdatedAt = time.Now().UTC()
	model := toNotificationChannelModel(ch)
	res := r.db.WithContext(ctx).
		Model(&NotificationChannelModel{}).
		Scopes(TenantScope(ch.OrganizationID)).
		Where("id = ?", ch.ID).
		Select("name", "channel_type", "config", "enabled", "updated_at").
		Updates(&model)
	if res.Error != nil {
		if errors.Is(res.Error, gorm.ErrDuplicatedKey) {
			return fmt.Errorf("%w: channel %q already exists", approval.ErrValidation, ch.Name)
		}
		return fmt.Errorf("updating notification channel %s: %w", ch.ID, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("notification channel %s: %w", ch.ID, approval.ErrNotFound)
	}
	return nil
}

func (r *NotificationChannelRepository) Delete(ctx context.Context, orgID, id string) error {
	res := r.db.WithContext(ctx).
		Scopes(TenantScope(orgID)).
		Delete(&NotificationChannelModel{}, "id = ?", id)
	if res.Error != nil {
		return fmt.Errorf("deleting notification channel %s: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("notification channel %s: %w", id, approval.ErrNotFound)
	}
	return nil
}

func validateChannel(ch *domain.NotificationChannel) error {
	switch {
	case ch.OrganizationID == "":
		return fmt.Errorf("%w: channel organization is required", approval.ErrValidation)
	case strings.TrimSpace(ch.Name) == "":
		return fmt.Errorf("%w: channel name is required", approval.ErrValidation)
	case !domain.KnownChannelType(ch.ChannelType):
		return fmt.Errorf("%w: unknown channel type %q", approval.ErrValidation, ch.ChannelType)
	}
	return nil
}
