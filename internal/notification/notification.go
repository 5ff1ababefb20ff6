// Package notification delivers escalation messages through the channels an
// organization has configured (Slack, Telegram, generic webhooks).
package notification

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/jkaninda/approvalcenter/internal/domain"
	"github.com/jkaninda/approvalcenter/internal/secrets"
)

// Sender is the interface for a single notification channel backend.
type Sender interface {
	// Type returns the channel type identifier ("telegram", "slack", "webhook").
	Type() string
	// Send delivers a message to the target specified by the channel config.
	Send(ctx context.Context, channel *domain.NotificationChannel, msg *Message) error
}

// Message is the payload to be sent through a notification channel.
type Message struct {
	Subject  string
	Body     string
	Metadata map[string]string // approval_id, approval_type, overdue_hours, ...
}

// ChannelStore provides notification channel persistence.
type ChannelStore interface {
	Get(ctx context.Context, orgID, id string) (*domain.NotificationChannel, error)
	GetByName(ctx context.Context, orgID, name string) (*domain.NotificationChannel, error)
	List(ctx context.Context, orgID string) ([]domain.NotificationChannel, error)
	Create(ctx context.Context, ch *domain.NotificationChannel) error
	Update(ctx context.Context, ch *domain.NotificationChannel) error
	Delete(ctx context.Context, orgID, id string) error
}

// ErrNoChannels is returned when an organization has nothing to deliver to.
var ErrNoChannels = errors.New("no notification channels configured")

// Dispatcher routes notifications to the Sender registered for each channel type.
type Dispatcher struct {
	senders map[string]Sender
	store   ChannelStore
	metrics *Metrics
	secrets *secrets.Resolver
	logger  *slog.Logger
	mu      sync.RWMutex
}

// NewDispatcher creates a notification dispatcher. metrics may be nil.
func NewDispatcher(store ChannelStore, metrics *Metrics, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		senders: make(map[string]Sender),
		store:   store,
		metrics: metrics,
		logger:  logger,
	}
}

// WithSecrets resolves "env://" and "vault://" references in channel
// settings before each send.
func (d *Dispatcher) WithSecrets(r *secrets.Resolver) *Dispatcher {
	d.secrets = r
	return d
}

// RegisterSender adds a channel backend.
func (d *Dispatcher) RegisterSender(s Sender) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.senders[s.Type()] = s
}

// Notify sends msg to every named channel of the organization. An empty name
// list means every enabled channel. The result holds one entry per channel
// attempted; a nil value is a success.
func (d *Dispatcher) Notify(ctx context.Context, orgID string, names []string, msg *Message) (map[string]error, error) {
	channels, err := d.resolve(ctx, orgID, names)
	if err != nil {
		return nil, err
	}

	results := make(map[string]error, len(channels))
	for i := range channels {
		ch := &channels[i]
		results[ch.Name] = d.send(ctx, ch, msg)
	}
	return results, nil
}

// NotifyWithFallback tries channels in order and stops at the first success.
func (d *Dispatcher) NotifyWithFallback(ctx context.Context, orgID string, names []string, msg *Message) error {
	channels, err := d.resolve(ctx, orgID, names)
	if err != nil {
		return err
	}
	var lastErr error
	for i := range channels {
		if err := d.send(ctx, &channels[i], msg); err != nil {
			lastErr = err
			continue
		}
		return nil
	}
	return fmt.Errorf("all notification channels failed, last error: %w", lastErr)
}

// Store returns the underlying ChannelStore.
func (d *Dispatcher) Store() ChannelStore {
	return d.store
}

func (d *Dispatcher) resolve(ctx context.Context, orgID string, names []string) ([]domain.NotificationChannel, error) {
	var channels []domain.NotificationChannel
	if len(names) == 0 {
		all, err := d.store.List(ctx, orgID)
		if err != nil {
			return nil, fmt.Errorf("listing channels: %w", err)
		}
		channels = all
	} else {
		for _, name := range names {
			ch, err := d.store.GetByName(ctx, orgID, name)
			if err != nil {
				d.logger.WarnContext(ctx, "notification channel lookup failed",
					slog.String("org_id", orgID),
					slog.String("channel", name),
					slog.String("error", err.Error()),
				)
				continue
			}
			channels = append(channels, *ch)
		}
	}

	enabled := channels[:0]
	for _, ch := range channels {
		if ch.Enabled {
			enabled = append(enabled, ch)
		}
	}
	if len(enabled) == 0 {
		return nil, ErrNoChannels
	}
	return enabled, nil
}

func (d *Dispatcher) send(ctx context.Context, ch *domain.NotificationChannel, msg *Message) error {
	d.mu.RLock()
	sender, ok := d.senders[ch.ChannelType]
	d.mu.RUnlock()
	if !ok {
		d.record(ch.ChannelType, "no_sender")
		return fmt.Errorf("no sender registered for channel type %q", ch.ChannelType)
	}

	if d.secrets != nil {
		cfg, err := d.secrets.ResolveConfig(ctx, ch.Config)
		if err != nil {
			d.record(ch.ChannelType, "failure")
			d.logger.WarnContext(ctx, "resolving channel secrets",
				slog.String("channel", ch.Name),
				slog.String("error", err.Error()),
			)
			return fmt.Errorf("channel %s: %w", ch.Name, err)
		}
		resolved := *ch
		resolved.Config = cfg
		ch = &resolved
	}

	if err := sender.Send(ctx, ch, msg); err != nil {
		d.record(ch.ChannelType, "failure")
		d.logger.WarnContext(ctx, "notification send failed",
			slog.String("channel", ch.Name),
			slog.String("type", ch.ChannelType),
			slog.String("error", err.Error()),
		)
		return err
	}
	d.record(ch.ChannelType, "success")
	d.logger.InfoContext(ctx, "notification sent",
		slog.String("channel", ch.Name),
		slog.String("type", ch.ChannelType),
	)
	return nil
}

func (d *Dispatcher) record(channelType, result string) {
	if d.metrics != nil {
		d.metrics.Sent.WithLabelValues(channelType, result).Inc()
	}
}
