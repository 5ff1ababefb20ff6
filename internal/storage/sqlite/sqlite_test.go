package sqlite

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jkaninda/approvalcenter/internal/approval"
	"github.com/jkaninda/approvalcenter/internal/domain"
	"github.com/jkaninda/approvalcenter/internal/escalation"
	"github.com/jkaninda/approvalcenter/internal/sla"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(Config{Path: MemoryPath}, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	if err := s.Migrate(context.Background()); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	return s
}

var base = time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)

func seedAbsence(t *testing.T, s *Store, orgID, id string, createdAt time.Time) *domain.ApprovalRequest {
	t.Helper()
	ctx := context.Background()
	emp := &domain.Employee{ID: "emp-" + orgID, OrganizationID: orgID, AccountID: "acc-1", Name: "Ada Lovelace", Email: "ada@example.com"}
	if err := s.Employees().Upsert(ctx, emp); err != nil {
		t.Fatalf("Upsert employee: %v", err)
	}
	req, err := s.Absences().Create(ctx, &domain.AbsenceRequest{
		ID:             id,
		OrganizationID: orgID,
		Employee:       *emp,
		Kind:           domain.AbsenceVacation,
		StartDate:      createdAt.AddDate(0, 0, 10),
		EndDate:        createdAt.AddDate(0, 0, 14),
		Days:           5,
		CreatedAt:      createdAt,
	}, "mgr-1")
	if err != nil {
		t.Fatalf("Create absence %s: %v", id, err)
	}
	return req
}

func TestAbsenceLifecycle(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	req := seedAbsence(t, s, "org-1", "abs-1", base)
	seedAbsence(t, s, "org-1", "abs-2", base.Add(time.Hour))

	rows, err := s.Requests().FindRequests(ctx, approval.RequestFilter{
		OrganizationID: "org-1",
		ApproverID:     "mgr-1",
		EntityType:     domain.TypeAbsenceRequest,
		Status:         domain.StatusPending,
	})
	if err != nil {
		t.Fatalf("FindRequests: %v", err)
	}
	if len(rows) != 2 || rows[0].EntityID != "abs-2" {
		t.Fatalf("rows = %+v, want abs-2 first", rows)
	}

	loaded, err := s.Absences().LoadByIDs(ctx, "org-1", []string{"abs-1", "abs-2", "missing"})
	if err != nil {
		t.Fatalf("LoadByIDs: %v", err)
	}
	if len(loaded) != 2 {
		t.Fatalf("loaded %d, want 2", len(loaded))
	}
	if loaded["abs-1"].Employee.Name != "Ada Lovelace" {
		t.Errorf("employee not preloaded: %+v", loaded["abs-1"].Employee)
	}

	decision := approval.Decision{
		ApprovalType: domain.TypeAbsenceRequest,
		EntityID:     "abs-1",
		ApproverID:   "mgr-1",
		Status:       domain.StatusApproved,
		At:           base.Add(2 * time.Hour),
	}
	if err := s.Absences().Resolve(ctx, decision); err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if err := s.Absences().Resolve(ctx, decision); !errors.Is(err, approval.ErrAlreadyResolved) {
		t.Errorf("second Resolve = %v, want ErrAlreadyResolved", err)
	}

	got, err := s.Requests().GetRequest(ctx, req.ID)
	if err != nil {
		t.Fatalf("GetRequest: %v", err)
	}
	if got.Status != domain.StatusApproved || got.ResolvedBy != "mgr-1" || got.ResolvedAt == nil {
		t.Errorf("request = %+v", got)
	}
	loaded, _ = s.Absences().LoadByIDs(ctx, "org-1", []string{"abs-1"})
	if loaded["abs-1"].Status != domain.StatusApproved {
		t.Errorf("entity status = %s, want approved", loaded["abs-1"].Status)
	}

	n, err := s.Requests().CountRequests(ctx, approval.RequestFilter{OrganizationID: "org-1", Status: domain.StatusPending})
	if err != nil || n != 1 {
		t.Errorf("pending count = %d err = %v, want 1", n, err)
	}
}

func TestResolveWrongApprover(t *testing.T) {
	s := openTestStore(t)
	seedAbsence(t, s, "org-1", "abs-1", base)

	err := s.Absences().Resolve(context.Background(), approval.Decision{
		ApprovalType: domain.TypeAbsenceRequest,
		EntityID:     "abs-1",
		ApproverID:   "someone-else",
		Status:       domain.StatusRejected,
		Reason:       "no",
		At:           base,
	})
	if !errors.Is(err, approval.ErrUnauthorized) {
		t.Errorf("err = %v, want ErrUnauthorized", err)
	}
}

func TestCancelRequest(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	req := seedAbsence(t, s, "org-1", "abs-1", base)

	if err := s.Requests().CancelRequest(ctx, req.ID, req.RequesterID, "plans changed", base.Add(time.Hour)); err != nil {
		t.Fatalf("CancelRequest: %v", err)
	}
	got, _ := s.Requests().GetRequestByEntity(ctx, domain.TypeAbsenceRequest, "abs-1")
	if got.Status != domain.StatusCancelled || got.Reason != "plans changed" {
		t.Errorf("request = %+v", got)
	}
	if err := s.Requests().CancelRequest(ctx, req.ID, req.RequesterID, "", base); !errors.Is(err, approval.ErrAlreadyResolved) {
		t.Errorf("second cancel = %v, want ErrAlreadyResolved", err)
	}
	if err := s.Requests().CancelRequest(ctx, "nope", "x", "", base); !errors.Is(err, approval.ErrNotFound) {
		t.Errorf("missing cancel = %v, want ErrNotFound", err)
	}
}

func TestPendingPaging(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	seedAbsence(t, s, "org-b", "b-1", base)
	for i, id := range []string{"a-1", "a-2", "a-3"} {
		seedAbsence(t, s, "org-a", id, base.Add(time.Duration(i)*time.Minute))
	}

	orgs, err := s.Requests().PendingOrganizations(ctx)
	if err != nil {
		t.Fatalf("PendingOrganizations: %v", err)
	}
	if len(orgs) != 2 || orgs[0] != "org-a" {
		t.Errorf("orgs = %v", orgs)
	}

	var seen []string
	var afterAt time.Time
	var afterID string
	for {
		page, err := s.Requests().ListPendingPage(ctx, "org-a", afterAt, afterID, 2)
		if err != nil {
			t.Fatalf("ListPendingPage: %v", err)
		}
		for _, r := range page {
			seen = append(seen, r.EntityID)
		}
		if len(page) < 2 {
			break
		}
		last := page[len(page)-1]
		afterAt, afterID = last.CreatedAt, last.ID
	}
	if len(seen) != 3 || seen[0] != "a-1" || seen[2] != "a-3" {
		t.Errorf("seen = %v, want a-1..a-3 oldest first", seen)
	}
}

func TestRequestTimeBoundsWithOffsets(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	seedAbsence(t, s, "org-1", "abs-1", base)

	at := func(v string) *time.Time {
		t.Helper()
		ts, err := time.Parse(time.RFC3339, v)
		if err != nil {
			t.Fatal(err)
		}
		return &ts
	}
	tests := []struct {
		name string
		f    approval.RequestFilter
		want int
	}{
		{"from east of utc", approval.RequestFilter{CreatedFrom: at("2026-04-01T10:30:00+02:00")}, 1},
		{"to west of utc", approval.RequestFilter{CreatedTo: at("2026-04-01T04:00:00-07:00")}, 1},
		{"cursor west of utc", approval.RequestFilter{Cursor: at("2026-04-01T03:00:00-07:00")}, 1},
		{"older than east of utc", approval.RequestFilter{OlderThan: at("2026-04-01T11:00:00+02:00")}, 1},
		{"from after row", approval.RequestFilter{CreatedFrom: at("2026-04-01T11:30:00+02:00")}, 0},
		{"to before row", approval.RequestFilter{CreatedTo: at("2026-04-01T01:00:00-07:00")}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := tt.f
			f.OrganizationID = "org-1"
			rows, err := s.Requests().FindRequests(ctx, f)
			if err != nil {
				t.Fatalf("FindRequests: %v", err)
			}
			if len(rows) != tt.want {
				t.Errorf("rows = %d, want %d", len(rows), tt.want)
			}
			n, err := s.Requests().CountRequests(ctx, f)
			if err != nil || int(n) != tt.want {
				t.Errorf("CountRequests = %d, %v, want %d", n, err, tt.want)
			}
		})
	}
}

func TestIdempotencyLedger(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	ledger := s.Idempotency()

	stored, err := ledger.Save(ctx, "org-1", "bulk-42", []byte(`{"successful":["a"]}`))
	if err != nil || !stored {
		t.Fatalf("first Save = %v, %v", stored, err)
	}
	stored, err = ledger.Save(ctx, "org-1", "bulk-42", []byte(`{"successful":["b"]}`))
	if err != nil || stored {
		t.Fatalf("second Save = %v, %v, want not stored", stored, err)
	}
	result, found, err := ledger.Lookup(ctx, "org-1", "bulk-42")
	if err != nil || !found || string(result) != `{"successful":["a"]}` {
		t.Errorf("Lookup = %s, %v, %v", result, found, err)
	}
	if _, found, _ := ledger.Lookup(ctx, "org-2", "bulk-42"); found {
		t.Error("keys must be scoped per organization")
	}

	n, err := ledger.DeleteOlderThan(ctx, time.Now().Add(24*time.Hour))
	if err != nil || n != 1 {
		t.Errorf("DeleteOlderThan = %d, %v, want 1", n, err)
	}
}

func TestPurgeKeepsPendingEscalations(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	ledger := s.Idempotency()

	pending := seedAbsence(t, s, "org-1", "abs-1", base)
	cancelled := seedAbsence(t, s, "org-1", "abs-2", base)
	if err := s.Requests().CancelRequest(ctx, cancelled.ID, cancelled.RequesterID, "", base); err != nil {
		t.Fatalf("CancelRequest: %v", err)
	}
	for _, key := range []string{
		escalation.LedgerKey(pending.ID),
		escalation.LedgerKey(cancelled.ID),
		"bulk:mgr-1:batch-7",
	} {
		if _, err := ledger.Save(ctx, "org-1", key, []byte(`{}`)); err != nil {
			t.Fatalf("Save %s: %v", key, err)
		}
	}
	// Same key under another organization does not protect it.
	if _, err := ledger.Save(ctx, "org-2", escalation.LedgerKey(pending.ID), []byte(`{}`)); err != nil {
		t.Fatal(err)
	}

	n, err := ledger.DeleteOlderThan(ctx, time.Now().Add(24*time.Hour))
	if err != nil || n != 3 {
		t.Fatalf("DeleteOlderThan = %d, %v, want 3", n, err)
	}
	if _, found, _ := ledger.Lookup(ctx, "org-1", escalation.LedgerKey(pending.ID)); !found {
		t.Error("escalation key of a pending request was purged")
	}
	for _, key := range []string{escalation.LedgerKey(cancelled.ID), "bulk:mgr-1:batch-7"} {
		if _, found, _ := ledger.Lookup(ctx, "org-1", key); found {
			t.Errorf("%s survived the purge", key)
		}
	}
}

// urgentScorer scores every row as an urgent absence.
type urgentScorer struct {
	approval.Handler
	now time.Time
}

func (urgentScorer) Type() string { return domain.TypeAbsenceRequest }

func (h urgentScorer) ScoreRequests(_ context.Context, _ string, rows []domain.ApprovalRequest) ([]domain.UnifiedApprovalItem, error) {
	items := make([]domain.UnifiedApprovalItem, 0, len(rows))
	for _, r := range rows {
		deadline := sla.CalculateDeadline(domain.TypeAbsenceRequest, domain.PriorityUrgent, r.CreatedAt, nil)
		items = append(items, domain.UnifiedApprovalItem{
			ID:             r.ID,
			ApprovalType:   domain.TypeAbsenceRequest,
			EntityID:       r.EntityID,
			ApproverID:     r.ApproverID,
			OrganizationID: r.OrganizationID,
			Priority:       domain.PriorityUrgent,
			SLA:            sla.CalculateStatus(deadline, h.now),
		})
	}
	return items, nil
}

func TestSweepPurgeSweepEscalatesOnce(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	seedAbsence(t, s, "org-1", "abs-1", base)

	now := base.Add(10 * time.Hour)
	reg := approval.NewRegistry()
	reg.Register(urgentScorer{now: now})
	sweeper, err := escalation.New(escalation.Config{
		Pager:    s.Requests(),
		Registry: reg,
		Ledger:   s.Idempotency(),
		Now:      func() time.Time { return now },
	})
	if err != nil {
		t.Fatalf("escalation.New: %v", err)
	}

	report, err := sweeper.Sweep(ctx)
	if err != nil || report.Escalated != 1 {
		t.Fatalf("first sweep = %+v, %v, want 1 escalated", report, err)
	}
	if _, err := s.Idempotency().DeleteOlderThan(ctx, time.Now().Add(24*time.Hour)); err != nil {
		t.Fatalf("DeleteOlderThan: %v", err)
	}
	report, err = sweeper.Sweep(ctx)
	if err != nil {
		t.Fatalf("second sweep: %v", err)
	}
	if report.Escalated != 0 || report.AlreadyDone != 1 {
		t.Errorf("second sweep = %+v, want 0 escalated and 1 already done", report)
	}
}

func TestAuditTrail(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	first := &domain.AuditEntry{
		OrganizationID: "org-1", ApprovalID: "r1", ApprovalType: domain.TypeAbsenceRequest, EntityID: "abs-1",
		Action: domain.AuditEscalate, ActorID: "system",
		PreviousStatus: domain.StatusPending, NewStatus: domain.StatusPending,
		Metadata:  map[string]any{"overdue_hours": 30.0},
		CreatedAt: base,
	}
	if err := s.Audit().Append(ctx, first); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if first.ID == "" {
		t.Error("Append must assign an ID")
	}
	err := s.Audit().AppendBatch(ctx, []domain.AuditEntry{
		{
			OrganizationID: "org-1", ApprovalID: "r1", ApprovalType: domain.TypeAbsenceRequest, EntityID: "abs-1",
			Action: domain.AuditBulkApprove, ActorID: "mgr-1",
			PreviousStatus: domain.StatusPending, NewStatus: domain.StatusApproved,
			Provenance: &domain.Provenance{IPAddress: "10.0.0.7", UserAgent: "curl/8"},
			CreatedAt:  base.Add(time.Hour),
		},
		{OrganizationID: "org-1", ApprovalID: "r2", Action: domain.AuditApprove, ActorID: "mgr-1", CreatedAt: base},
	})
	if err != nil {
		t.Fatalf("AppendBatch: %v", err)
	}

	entries, err := s.Audit().ListByApproval(ctx, "org-1", "r1")
	if err != nil {
		t.Fatalf("ListByApproval: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("entries = %d, want 2", len(entries))
	}
	if entries[0].Action != domain.AuditEscalate || entries[0].Metadata["overdue_hours"] != 30.0 {
		t.Errorf("first entry = %+v", entries[0])
	}
	if entries[1].Provenance == nil || entries[1].Provenance.IPAddress != "10.0.0.7" {
		t.Errorf("provenance = %+v", entries[1].Provenance)
	}
}

func TestSLARules(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	threshold := 4

	rule := sla.Rule{ApprovalType: domain.TypeTimeCorrection, Priority: domain.PriorityUrgent, DeadlineHours: 8}
	if err := s.SLARules().UpsertRule(ctx, "org-1", rule); err != nil {
		t.Fatalf("UpsertRule: %v", err)
	}
	rule.DeadlineHours = 6
	rule.EscalationEnabled = true
	rule.EscalationThresholdHours = &threshold
	if err := s.SLARules().UpsertRule(ctx, "org-1", rule); err != nil {
		t.Fatalf("UpsertRule update: %v", err)
	}

	rules, err := s.SLARules().ListRules(ctx, "org-1")
	if err != nil {
		t.Fatalf("ListRules: %v", err)
	}
	if len(rules) != 1 || rules[0].DeadlineHours != 6 || !rules[0].EscalationEnabled {
		t.Fatalf("rules = %+v", rules)
	}
	if rules[0].EscalationThresholdHours == nil || *rules[0].EscalationThresholdHours != 4 {
		t.Errorf("threshold = %v", rules[0].EscalationThresholdHours)
	}
}

func TestNotificationChannels(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	channels := s.NotificationChannels()

	ch := &domain.NotificationChannel{
		OrganizationID: "org-1",
		Name:           "ops",
		ChannelType:    "webhook",
		Config:         map[string]string{"url": "https://hooks.example.com/x"},
		Enabled:        true,
	}
	if err := channels.Create(ctx, ch); err != nil {
		t.Fatalf("Create: %v", err)
	}
	got, err := channels.GetByName(ctx, "org-1", "ops")
	if err != nil {
		t.Fatalf("GetByName: %v", err)
	}
	if got.Config["url"] != "https://hooks.example.com/x" {
		t.Errorf("config = %v", got.Config)
	}

	dup := &domain.NotificationChannel{OrganizationID: "org-1", Name: "ops", ChannelType: domain.ChannelSlack}
	if err := channels.Create(ctx, dup); !errors.Is(err, approval.ErrValidation) {
		t.Errorf("duplicate name: err = %v, want ErrValidation", err)
	}
	bad := &domain.NotificationChannel{OrganizationID: "org-1", Name: "pager", ChannelType: "pagerduty"}
	if err := channels.Create(ctx, bad); !errors.Is(err, approval.ErrValidation) {
		t.Errorf("unknown type: err = %v, want ErrValidation", err)
	}

	got.Enabled = false
	if err := channels.Update(ctx, got); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if again, _ := channels.Get(ctx, "org-1", got.ID); again == nil || again.Enabled {
		t.Errorf("after update = %+v", again)
	}

	if err := channels.Delete(ctx, "org-1", got.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	list, err := channels.List(ctx, "org-1")
	if err != nil || len(list) != 0 {
		t.Errorf("List after delete = %v, %v", list, err)
	}
}
