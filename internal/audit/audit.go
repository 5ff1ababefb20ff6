// Package audit records every approval state transition as an immutable entry
// and serves the per-request timeline built from those entries.
package audit

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jkaninda/approvalcenter/internal/domain"
)

// Store persists audit entries. Entries are append-only.
type Store interface {
	Append(ctx context.Context, entry *domain.AuditEntry) error
	AppendBatch(ctx context.Context, entries []domain.AuditEntry) error
	// ListByApproval returns entries oldest first.
	ListByApproval(ctx context.Context, orgID, approvalID string) ([]domain.AuditEntry, error)
}

// Logger fills in the derived fields of an entry and writes it.
type Logger struct {
	store   Store
	metrics *Metrics
	logger  *slog.Logger
	now     func() time.Time
}

// NewLogger creates a Logger. metrics may be nil.
func NewLogger(store Store, metrics *Metrics, logger *slog.Logger) *Logger {
	if logger == nil {
		logger = slog.Default()
	}
	return &Logger{store: store, metrics: metrics, logger: logger, now: time.Now}
}

// Log writes one entry.
func (l *Logger) Log(ctx context.Context, entry domain.AuditEntry) error {
	l.complete(&entry)
	if err := l.store.Append(ctx, &entry); err != nil {
		l.failed(ctx, 1, err)
		return fmt.Errorf("writing audit entry: %w", err)
	}
	l.written(entry.Action, 1)
	return nil
}

// LogBatch writes entries in one store call. An empty batch is a no-op.
func (l *Logger) LogBatch(ctx context.Context, entries []domain.AuditEntry) error {
	if len(entries) == 0 {
		return nil
	}
	batch := make([]domain.AuditEntry, len(entries))
	copy(batch, entries)
	for i := range batch {
		l.complete(&batch[i])
	}
	if err := l.store.AppendBatch(ctx, batch); err != nil {
		l.failed(ctx, len(batch), err)
		return fmt.Errorf("writing %d audit entries: %w", len(batch), err)
	}
	for _, e := range batch {
		l.written(e.Action, 1)
	}
	return nil
}

// Timeline returns the history of one approval request, oldest first.
func (l *Logger) Timeline(ctx context.Context, orgID, approvalID string) ([]domain.TimelineEvent, error) {
	entries, err := l.store.ListByApproval(ctx, orgID, approvalID)
	if err != nil {
		return nil, fmt.Errorf("listing audit entries: %w", err)
	}
	events := make([]domain.TimelineEvent, 0, len(entries))
	for _, e := range entries {
		events = append(events, domain.TimelineEvent{
			Action:  e.Action,
			ActorID: e.ActorID,
			From:    e.PreviousStatus,
			To:      e.NewStatus,
			Reason:  e.Reason,
			At:      e.CreatedAt,
		})
	}
	return events, nil
}

func (l *Logger) complete(e *domain.AuditEntry) {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = l.now().UTC()
	}
	e.Changes = domain.AuditChanges{
		From:           e.PreviousStatus,
		To:             e.NewStatus,
		ApprovalType:   e.ApprovalType,
		TargetEntityID: e.EntityID,
		Reason:         e.Reason,
	}
}

func (l *Logger) written(action domain.AuditAction, n int) {
	if l.metrics != nil {
		l.metrics.Writes.WithLabelValues(string(action)).Add(float64(n))
	}
}

func (l *Logger) failed(ctx context.Context, n int, err error) {
	if l.metrics != nil {
		l.metrics.WriteFailures.Add(float64(n))
	}
	l.logger.ErrorContext(ctx, "audit write failed",
		slog.Int("entries", n),
		slog.String("error", err.Error()),
	)
}
