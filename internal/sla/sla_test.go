package sla

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jkaninda/approvalcenter/internal/domain"
)

var baseTime = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

func TestCalculateDeadline_DefaultTable(t *testing.T) {
	for _, rule := range DefaultRules() {
		got := CalculateDeadline(rule.ApprovalType, rule.Priority, baseTime, nil)
		if got == nil {
			t.Fatalf("%s/%s: deadline is nil", rule.ApprovalType, rule.Priority)
		}
		want := baseTime.Add(time.Duration(rule.DeadlineHours) * time.Hour)
		if !got.Equal(want) {
			t.Errorf("%s/%s: deadline = %v, want %v", rule.ApprovalType, rule.Priority, got, want)
		}
	}
}

func TestCalculateDeadline_NoRule(t *testing.T) {
	if got := CalculateDeadline("expense_report", domain.PriorityNormal, baseTime, nil); got != nil {
		t.Errorf("deadline = %v, want nil", got)
	}
}

func TestGetRule_OrgOverrideFirst(t *testing.T) {
	org := []Rule{{ApprovalType: domain.TypeAbsenceRequest, Priority: domain.PriorityNormal, DeadlineHours: 12}}

	rule, ok := GetRule(domain.TypeAbsenceRequest, domain.PriorityNormal, org)
	if !ok || rule.DeadlineHours != 12 {
		t.Errorf("rule = %+v (ok=%v), want org override with 12h", rule, ok)
	}

	// Other priorities still fall back to the defaults.
	rule, ok = GetRule(domain.TypeAbsenceRequest, domain.PriorityLow, org)
	if !ok || rule.DeadlineHours != 72 {
		t.Errorf("rule = %+v (ok=%v), want default 72h", rule, ok)
	}
}

func TestGetRule_OrgRuleForUnknownType(t *testing.T) {
	org := []Rule{{ApprovalType: "widget_request", Priority: domain.PriorityNormal, DeadlineHours: 24}}
	if _, ok := GetRule("widget_request", domain.PriorityNormal, org); !ok {
		t.Error("expected org rule to match")
	}
	if _, ok := GetRule("widget_request", domain.PriorityHigh, org); ok {
		t.Error("expected no rule for uncovered priority")
	}
}

func TestCalculateStatus(t *testing.T) {
	now := baseTime
	at := func(d time.Duration) *time.Time { v := now.Add(d); return &v }

	tests := []struct {
		name      string
		deadline  *time.Time
		status    domain.SLAStatus
		remaining *int
	}{
		{"no deadline", nil, domain.SLAOnTime, nil},
		{"two hours left", at(2 * time.Hour), domain.SLAApproaching, hours(2)},
		{"exactly four hours", at(4 * time.Hour), domain.SLAApproaching, hours(4)},
		{"five hours", at(5 * time.Hour), domain.SLAOnTime, hours(5)},
		{"just reached", at(0), domain.SLAApproaching, hours(0)},
		{"one minute late", at(-time.Minute), domain.SLAOverdue, hours(-1)},
		{"thirty hours late", at(-30 * time.Hour), domain.SLAOverdue, hours(-30)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			info := CalculateStatus(tt.deadline, now)
			if info.Status != tt.status {
				t.Errorf("status = %q, want %q", info.Status, tt.status)
			}
			switch {
			case tt.remaining == nil && info.HoursRemaining != nil:
				t.Errorf("hoursRemaining = %d, want nil", *info.HoursRemaining)
			case tt.remaining != nil && info.HoursRemaining == nil:
				t.Errorf("hoursRemaining = nil, want %d", *tt.remaining)
			case tt.remaining != nil && *info.HoursRemaining != *tt.remaining:
				t.Errorf("hoursRemaining = %d, want %d", *info.HoursRemaining, *tt.remaining)
			}
		})
	}
}

func TestStatusMessage(t *testing.T) {
	now := baseTime
	at := func(d time.Duration) *time.Time { v := now.Add(d); return &v }

	tests := []struct {
		deadline *time.Time
		want     string
	}{
		{nil, "On track"},
		{at(-3 * time.Hour), "3h overdue"},
		{at(-24 * time.Hour), "1 day overdue"},
		{at(-50 * time.Hour), "2 days overdue"},
		{at(2 * time.Hour), "2h remaining"},
		{at(10 * time.Hour), "10h remaining"},
		{at(30 * time.Hour), "1 day remaining"},
		{at(72 * time.Hour), "3 days remaining"},
	}
	for _, tt := range tests {
		if got := StatusMessage(CalculateStatus(tt.deadline, now)); got != tt.want {
			t.Errorf("StatusMessage = %q, want %q", got, tt.want)
		}
	}
}

func TestComparePriority(t *testing.T) {
	if ComparePriority(domain.PriorityUrgent, domain.PriorityLow) >= 0 {
		t.Error("urgent should sort before low")
	}
	if ComparePriority(domain.PriorityLow, domain.PriorityHigh) <= 0 {
		t.Error("low should sort after high")
	}
	for _, p := range []domain.Priority{domain.PriorityUrgent, domain.PriorityHigh, domain.PriorityNormal, domain.PriorityLow} {
		if ComparePriority(p, p) != 0 {
			t.Errorf("ComparePriority(%s, %s) != 0", p, p)
		}
	}
	if PriorityWeight("bogus") != PriorityWeight(domain.PriorityNormal) {
		t.Error("unknown priority should weigh as normal")
	}
}

// --- RuleProvider ---

type countingRuleStore struct {
	rules []Rule
	err   error
	calls int
}

func (s *countingRuleStore) ListRules(_ context.Context, _ string) ([]Rule, error) {
	s.calls++
	return s.rules, s.err
}

func (s *countingRuleStore) UpsertRule(_ context.Context, _ string, rule Rule) error {
	s.rules = append(s.rules, rule)
	return nil
}

func TestRuleProvider_CachesWithinTTL(t *testing.T) {
	store := &countingRuleStore{rules: []Rule{{ApprovalType: "x", Priority: domain.PriorityLow, DeadlineHours: 1}}}
	p := NewRuleProvider(store, time.Minute, nil)
	clock := baseTime
	p.now = func() time.Time { return clock }

	for i := 0; i < 3; i++ {
		rules, err := p.Rules(context.Background(), "org-1")
		if err != nil {
			t.Fatalf("Rules: %v", err)
		}
		if len(rules) != 1 {
			t.Fatalf("rules = %d, want 1", len(rules))
		}
	}
	if store.calls != 1 {
		t.Errorf("store calls = %d, want 1", store.calls)
	}

	clock = clock.Add(2 * time.Minute)
	if _, err := p.Rules(context.Background(), "org-1"); err != nil {
		t.Fatalf("Rules: %v", err)
	}
	if store.calls != 2 {
		t.Errorf("store calls after expiry = %d, want 2", store.calls)
	}
}

func TestRuleProvider_SetInvalidates(t *testing.T) {
	store := &countingRuleStore{}
	p := NewRuleProvider(store, time.Hour, nil)
	ctx := context.Background()

	if _, err := p.Rules(ctx, "org-1"); err != nil {
		t.Fatalf("Rules: %v", err)
	}
	if err := p.Set(ctx, "org-1", Rule{ApprovalType: "x", Priority: domain.PriorityHigh, DeadlineHours: 2}); err != nil {
		t.Fatalf("Set: %v", err)
	}
	rules, err := p.Rules(ctx, "org-1")
	if err != nil {
		t.Fatalf("Rules: %v", err)
	}
	if len(rules) != 1 || store.calls != 2 {
		t.Errorf("rules = %d, calls = %d; want 1 rule reloaded", len(rules), store.calls)
	}
}

func TestRuleProvider_NilAndErrors(t *testing.T) {
	var p *RuleProvider
	rules, err := p.Rules(context.Background(), "org")
	if err != nil || rules != nil {
		t.Errorf("nil provider = (%v, %v), want (nil, nil)", rules, err)
	}
	p.Invalidate("org")

	failing := NewRuleProvider(&countingRuleStore{err: errors.New("db down")}, 0, nil)
	if _, err := failing.Rules(context.Background(), "org"); err == nil {
		t.Error("expected store error to propagate")
	}
}
