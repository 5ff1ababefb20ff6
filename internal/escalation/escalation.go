// Package escalation runs the periodic SLA sweep: every pending request that
// is overdue past its rule's threshold is escalated once, recorded in the
// audit trail, and announced on the organization's notification channels.
package escalation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jkaninda/approvalcenter/internal/approval"
	"github.com/jkaninda/approvalcenter/internal/domain"
	"github.com/jkaninda/approvalcenter/internal/notification"
	"github.com/jkaninda/approvalcenter/internal/sla"
)

const (
	// DefaultPageSize is how many pending rows one sweep step loads.
	DefaultPageSize = 200
	// DefaultSchedule runs the sweep every quarter hour.
	DefaultSchedule = "@every 15m"
	// SystemActor is the actor recorded on escalation audit entries.
	SystemActor = "system"
)

// PendingPager walks pending approval requests across organizations.
type PendingPager interface {
	PendingOrganizations(ctx context.Context) ([]string, error)
	// ListPendingPage returns rows after the (createdAt, id) keyset, oldest first.
	ListPendingPage(ctx context.Context, orgID string, afterCreatedAt time.Time, afterID string, limit int) ([]domain.ApprovalRequest, error)
}

// Notifier delivers escalation messages.
type Notifier interface {
	Notify(ctx context.Context, orgID string, channels []string, msg *notification.Message) (map[string]error, error)
}

// Config wires a Sweeper.
type Config struct {
	Pager    PendingPager
	Registry *approval.Registry
	Rules    *sla.RuleProvider         // nil = default table only.
	Ledger   approval.IdempotencyStore // Required: guarantees one escalation per request.
	Audit    approval.AuditSink        // nil = no audit.
	Notifier Notifier                  // nil = audit only.
	Channels []string                  // Empty = every enabled channel of the org.
	PageSize int
	Metrics  *Metrics
	Tracer   trace.Tracer
	Logger   *slog.Logger
	Now      func() time.Time
}

// Report summarizes one sweep.
type Report struct {
	Organizations int `json:"organizations"`
	Scanned       int `json:"scanned"`
	Overdue       int `json:"overdue"`
	Escalated     int `json:"escalated"`
	AlreadyDone   int `json:"already_escalated"`
}

// Sweeper finds overdue requests and escalates them.
type Sweeper struct {
	cfg Config
}

// New creates a Sweeper.
func New(cfg Config) (*Sweeper, error) {
	if cfg.Pager == nil || cfg.Registry == nil || cfg.Ledger == nil {
		return nil, errors.New("escalation: pager, registry and ledger are required")
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = DefaultPageSize
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Sweeper{cfg: cfg}, nil
}

// Sweep runs one full pass over every organization with pending requests.
// A failing organization is logged and skipped; the error reports only a
// failure to enumerate organizations.
func (s *Sweeper) Sweep(ctx context.Context) (Report, error) {
	start := time.Now()
	var span trace.Span
	if s.cfg.Tracer != nil {
		ctx, span = s.cfg.Tracer.Start(ctx, "escalation.sweep")
		defer span.End()
	}

	var report Report
	orgs, err := s.cfg.Pager.PendingOrganizations(ctx)
	if err != nil {
		if span != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		s.observe(start, true)
		return report, fmt.Errorf("listing organizations: %w", err)
	}

	failed := false
	for _, orgID := range orgs {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		report.Organizations++
		if err := s.sweepOrg(ctx, orgID, &report); err != nil {
			failed = true
			s.cfg.Logger.ErrorContext(ctx, "escalation sweep failed for organization",
				slog.String("org_id", orgID),
				slog.String("error", err.Error()),
			)
		}
	}

	if span != nil {
		span.SetAttributes(
			attribute.Int("escalation.organizations", report.Organizations),
			attribute.Int("escalation.scanned", report.Scanned),
			attribute.Int("escalation.escalated", report.Escalated),
		)
	}
	s.observe(start, failed)
	s.cfg.Logger.InfoContext(ctx, "escalation sweep completed",
		slog.Int("organizations", report.Organizations),
		slog.Int("scanned", report.Scanned),
		slog.Int("overdue", report.Overdue),
		slog.Int("escalated", report.Escalated),
		slog.Duration("duration", time.Since(start)),
	)
	return report, nil
}

func (s *Sweeper) sweepOrg(ctx context.Context, orgID string, report *Report) error {
	orgRules, err := s.cfg.Rules.Rules(ctx, orgID)
	if err != nil {
		s.cfg.Logger.WarnContext(ctx, "using default sla rules",
			slog.String("org_id", orgID),
			slog.String("error", err.Error()),
		)
		orgRules = nil
	}

	var afterCreatedAt time.Time
	var afterID string
	for {
		rows, err := s.cfg.Pager.ListPendingPage(ctx, orgID, afterCreatedAt, afterID, s.cfg.PageSize)
		if err != nil {
			return fmt.Errorf("listing pending requests: %w", err)
		}
		if len(rows) == 0 {
			return nil
		}
		report.Scanned += len(rows)

		for approvalType, group := range groupByType(rows) {
			items, err := s.score(ctx, orgID, approvalType, group)
			if err != nil {
				s.cfg.Logger.WarnContext(ctx, "skipping approval type in sweep",
					slog.String("org_id", orgID),
					slog.String("approval_type", approvalType),
					slog.String("error", err.Error()),
				)
				continue
			}
			for i := range items {
				s.consider(ctx, &items[i], orgRules, report)
			}
		}

		last := rows[len(rows)-1]
		afterCreatedAt, afterID = last.CreatedAt, last.ID
		if len(rows) < s.cfg.PageSize {
			return nil
		}
	}
}

func (s *Sweeper) score(ctx context.Context, orgID, approvalType string, rows []domain.ApprovalRequest) ([]domain.UnifiedApprovalItem, error) {
	h, err := s.cfg.Registry.Get(approvalType)
	if err != nil {
		return nil, err
	}
	scorer, ok := h.(approval.Scorer)
	if !ok {
		return nil, fmt.Errorf("handler for %q cannot score request batches", approvalType)
	}
	return scorer.ScoreRequests(ctx, orgID, rows)
}

func (s *Sweeper) consider(ctx context.Context, item *domain.UnifiedApprovalItem, orgRules []sla.Rule, report *Report) {
	if item.SLA.Status != domain.SLAOverdue || item.SLA.HoursRemaining == nil {
		return
	}
	report.Overdue++

	rule, ok := sla.GetRule(item.ApprovalType, item.Priority, orgRules)
	if !ok || !rule.EscalationEnabled {
		return
	}
	overdueHours := -*item.SLA.HoursRemaining
	if overdueHours < rule.Threshold() {
		return
	}

	escalated, err := s.escalate(ctx, item, overdueHours)
	if err != nil {
		s.cfg.Logger.ErrorContext(ctx, "escalation failed",
			slog.String("approval_id", item.ID),
			slog.String("error", err.Error()),
		)
		return
	}
	if escalated {
		report.Escalated++
	} else {
		report.AlreadyDone++
	}
}

// escalate claims the ledger key, then records and announces the escalation.
// It returns false when the request was escalated by an earlier sweep.
func (s *Sweeper) escalate(ctx context.Context, item *domain.UnifiedApprovalItem, overdueHours int) (bool, error) {
	now := s.cfg.Now().UTC()
	claim, err := json.Marshal(map[string]any{"overdue_hours": overdueHours, "escalated_at": now})
	if err != nil {
		return false, err
	}
	stored, err := s.cfg.Ledger.Save(ctx, item.OrganizationID, LedgerKey(item.ID), claim)
	if err != nil {
		return false, fmt.Errorf("claiming escalation: %w", err)
	}
	if !stored {
		return false, nil
	}

	if s.cfg.Metrics != nil {
		s.cfg.Metrics.Escalations.WithLabelValues(item.ApprovalType).Inc()
	}

	if s.cfg.Audit != nil {
		meta := map[string]any{
			"overdue_hours": overdueHours,
			"priority":      string(item.Priority),
		}
		if item.SLA.Deadline != nil {
			meta["deadline"] = item.SLA.Deadline.UTC().Format(time.RFC3339)
		}
		if err := s.cfg.Audit.Log(ctx, domain.AuditEntry{
			OrganizationID: item.OrganizationID,
			ApprovalID:     item.ID,
			ApprovalType:   item.ApprovalType,
			EntityID:       item.EntityID,
			Action:         domain.AuditEscalate,
			ActorID:        SystemActor,
			PreviousStatus: domain.StatusPending,
			NewStatus:      domain.StatusPending,
			Metadata:       meta,
			CreatedAt:      now,
		}); err != nil {
			s.cfg.Logger.ErrorContext(ctx, "escalation audit write failed",
				slog.String("approval_id", item.ID),
				slog.String("error", err.Error()),
			)
		}
	}

	s.notify(ctx, item, overdueHours)

	s.cfg.Logger.InfoContext(ctx, "approval escalated",
		slog.String("approval_id", item.ID),
		slog.String("approval_type", item.ApprovalType),
		slog.String("approver_id", item.ApproverID),
		slog.Int("overdue_hours", overdueHours),
	)
	return true, nil
}

func (s *Sweeper) notify(ctx context.Context, item *domain.UnifiedApprovalItem, overdueHours int) {
	if s.cfg.Notifier == nil {
		return
	}
	msg := &notification.Message{
		Subject: "Approval overdue: " + item.Display.Title,
		Body: fmt.Sprintf("%s from %s is %s. Assigned approver: %s.",
			item.TypeDisplayName, item.Requester.Name, sla.StatusMessage(item.SLA), item.ApproverID),
		Metadata: map[string]string{
			"approval_id":   item.ID,
			"approval_type": item.ApprovalType,
			"approver_id":   item.ApproverID,
			"priority":      string(item.Priority),
			"overdue_hours": strconv.Itoa(overdueHours),
		},
	}
	results, err := s.cfg.Notifier.Notify(ctx, item.OrganizationID, s.cfg.Channels, msg)
	if err != nil {
		level := slog.LevelWarn
		if errors.Is(err, notification.ErrNoChannels) {
			level = slog.LevelDebug
		}
		s.cfg.Logger.Log(ctx, level, "escalation not delivered",
			slog.String("approval_id", item.ID),
			slog.String("error", err.Error()),
		)
		return
	}
	for channel, sendErr := range results {
		if sendErr != nil && s.cfg.Metrics != nil {
			s.cfg.Metrics.NotifyFailures.WithLabelValues(channel).Inc()
		}
	}
}

func (s *Sweeper) observe(start time.Time, failed bool) {
	if s.cfg.Metrics == nil {
		return
	}
	s.cfg.Metrics.SweepDuration.Observe(time.Since(start).Seconds())
	s.cfg.Metrics.Sweeps.Inc()
	if failed {
		s.cfg.Metrics.SweepErrors.Inc()
	}
}

// LedgerKey is the idempotency key that marks a request as escalated.
func LedgerKey(approvalID string) string {
	return "escalate:" + approvalID
}

func groupByType(rows []domain.ApprovalRequest) map[string][]domain.ApprovalRequest {
	out := make(map[string][]domain.ApprovalRequest)
	for _, r := range rows {
		out[r.EntityType] = append(out[r.EntityType], r)
	}
	return out
}
