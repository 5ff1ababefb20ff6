package approval

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jkaninda/approvalcenter/internal/domain"
	"github.com/jkaninda/approvalcenter/internal/sla"
)

type otherHandler struct{ *widgetHandler }

func (o otherHandler) Type() string        { return "gadget_request" }
func (o otherHandler) DisplayName() string { return "Gadget request" }

func newTestCenter(t *testing.T, handlers ...Handler) (*Center, *memAudit) {
	t.Helper()
	reg := NewRegistry()
	for _, h := range handlers {
		reg.Register(h)
	}
	var reqs RequestStore
	if wh, ok := handlers[0].(*widgetHandler); ok {
		reqs = wh.requests
	}
	audit := &memAudit{}
	bulk := NewBulkCoordinator(BulkConfig{Registry: reg, Requests: reqs, Audit: audit})
	c := NewCenter(reg, reqs, bulk, audit, nil)
	c.now = fixedNow
	return c, audit
}

func TestRegistry_RegisterReplaces(t *testing.T) {
	reg := NewRegistry()
	first := newWidgetHandler(newMemRequests(), PipelineConfig{})
	second := newWidgetHandler(newMemRequests(), PipelineConfig{})
	reg.Register(first)
	reg.Register(second)

	got, err := reg.Get(widgetType)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got != Handler(second) {
		t.Error("second registration should replace the first")
	}
	if types := reg.ListTypes(); len(types) != 1 || types[0] != widgetType {
		t.Errorf("ListTypes = %v", types)
	}
	if _, err := reg.Get("nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("unknown type: err = %v, want ErrNotFound", err)
	}
	if reg.Exists("nope") {
		t.Error("Exists(nope) = true")
	}
}

func TestCenter_ListApprovals_EndToEnd(t *testing.T) {
	rules := sla.NewRuleProvider(staticRules{rules: []sla.Rule{
		{ApprovalType: widgetType, Priority: domain.PriorityNormal, DeadlineHours: 24},
	}}, time.Minute, nil)
	reqs := newMemRequests(
		pendingRow("r1", "w1", now.Add(-1*time.Hour)),
		pendingRow("r2", "w2", now.Add(-20*time.Hour)),
		pendingRow("r3", "w3", now.Add(-30*time.Hour)),
	)
	h := newWidgetHandler(reqs, PipelineConfig{Now: fixedNow, Rules: rules},
		widget{ID: "w1", Owner: "ana"}, widget{ID: "w2", Owner: "bo"}, widget{ID: "w3", Owner: "cy"})
	c, _ := newTestCenter(t, h)

	res, err := c.ListApprovals(context.Background(), domain.ApprovalQueryParams{
		ApproverID: "mgr-1", OrganizationID: "org-1", Limit: 2,
	})
	if err != nil {
		t.Fatalf("ListApprovals: %v", err)
	}
	if len(res.Items) != 2 || res.Items[0].ID != "r1" || res.Items[1].ID != "r2" {
		t.Fatalf("page 1 = %+v", res.Items)
	}
	if !res.HasMore || res.NextCursor == nil {
		t.Fatal("expected hasMore with a cursor")
	}
	if *res.NextCursor != FormatCursor(now.Add(-20*time.Hour)) {
		t.Errorf("cursor = %s", *res.NextCursor)
	}
	if res.Total != 3 {
		t.Errorf("total = %d, want 3", res.Total)
	}
	// 24h deadline with 20h elapsed leaves 4h, inside the approaching window.
	if s := res.Items[1].SLA; s.Status != domain.SLAApproaching || s.HoursRemaining == nil || *s.HoursRemaining != 4 {
		t.Errorf("r2 sla = %+v, want approaching 4h", s)
	}

	// The cursor filter is createdAt <= cursor, so the boundary item repeats.
	res, err = c.ListApprovals(context.Background(), domain.ApprovalQueryParams{
		ApproverID: "mgr-1", OrganizationID: "org-1", Limit: 2, Cursor: *res.NextCursor,
	})
	if err != nil {
		t.Fatalf("ListApprovals page 2: %v", err)
	}
	if len(res.Items) != 2 || res.Items[0].ID != "r2" || res.Items[1].ID != "r3" {
		t.Fatalf("page 2 = %+v", res.Items)
	}
	last := res.Items[1].SLA
	if last.Status != domain.SLAOverdue || last.HoursRemaining == nil || *last.HoursRemaining != -6 {
		t.Errorf("r3 sla = %+v, want overdue -6h", last)
	}
}

func TestCenter_ListApprovals_MergesTypes(t *testing.T) {
	reqs := newMemRequests(
		pendingRow("r1", "w1", now.Add(-1*time.Hour)),
		pendingRow("r3", "w3", now.Add(-3*time.Hour)),
	)
	gadgetRows := newMemRequests(
		domain.ApprovalRequest{ID: "g2", OrganizationID: "org-1", EntityType: "gadget_request", EntityID: "w2",
			ApproverID: "mgr-1", Status: domain.StatusPending, CreatedAt: now.Add(-2 * time.Hour)},
	)
	widgets := newWidgetHandler(reqs, PipelineConfig{Now: fixedNow}, widget{ID: "w1"}, widget{ID: "w3"})
	gadgets := otherHandler{newWidgetHandler(gadgetRows, PipelineConfig{Now: fixedNow}, widget{ID: "w2"})}
	// Rebuild the gadget pipeline so it queries its own type.
	gadgets.widgetHandler.Pipeline = NewPipeline[widget](gadgets, PipelineConfig{Now: fixedNow, Requests: gadgetRows})

	c, _ := newTestCenter(t, widgets, gadgets)
	res, err := c.ListApprovals(context.Background(), domain.ApprovalQueryParams{
		ApproverID: "mgr-1", OrganizationID: "org-1", Limit: 10,
	})
	if err != nil {
		t.Fatalf("ListApprovals: %v", err)
	}
	var ids []string
	for _, it := range res.Items {
		ids = append(ids, it.ID)
	}
	if len(ids) != 3 || ids[0] != "r1" || ids[1] != "g2" || ids[2] != "r3" {
		t.Errorf("merged order = %v, want [r1 g2 r3]", ids)
	}
	if res.HasMore || res.NextCursor != nil {
		t.Error("no more pages expected")
	}

	counts, err := c.Counts(context.Background(), "mgr-1", "org-1")
	if err != nil {
		t.Fatalf("Counts: %v", err)
	}
	if counts.Total != 3 || counts.ByType[widgetType] != 2 || counts.ByType["gadget_request"] != 1 {
		t.Errorf("counts = %+v", counts)
	}
}

func TestCenter_ListApprovals_Validation(t *testing.T) {
	c, _ := newTestCenter(t, newWidgetHandler(newMemRequests(), PipelineConfig{}))
	cases := []domain.ApprovalQueryParams{
		{OrganizationID: "org-1", Limit: 10},
		{ApproverID: "mgr-1", Limit: 10},
		{ApproverID: "mgr-1", OrganizationID: "org-1"},
		{ApproverID: "mgr-1", OrganizationID: "org-1", Limit: 101},
		{ApproverID: "mgr-1", OrganizationID: "org-1", Limit: 10, Priority: "meh"},
		{ApproverID: "mgr-1", OrganizationID: "org-1", Limit: 10, Status: "bogus"},
		{ApproverID: "mgr-1", OrganizationID: "org-1", Limit: 10, Status: domain.StatusCancelled},
	}
	for i, p := range cases {
		if _, err := c.ListApprovals(context.Background(), p); !errors.Is(err, ErrValidation) {
			t.Errorf("case %d: err = %v, want ErrValidation", i, err)
		}
	}
	_, err := c.ListApprovals(context.Background(), domain.ApprovalQueryParams{
		ApproverID: "mgr-1", OrganizationID: "org-1", Limit: 10, Types: []string{"nope"},
	})
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("unknown type: err = %v, want ErrNotFound", err)
	}
}

func TestCenter_ListApprovals_TotalFollowsStatus(t *testing.T) {
	reqs := newMemRequests(
		pendingRow("r1", "w1", now.Add(-1*time.Hour)),
		pendingRow("r2", "w2", now.Add(-2*time.Hour)),
		pendingRow("r3", "w3", now.Add(-3*time.Hour)),
	)
	h := newWidgetHandler(reqs, PipelineConfig{Now: fixedNow}, widget{ID: "w1"}, widget{ID: "w2"}, widget{ID: "w3"})
	c, _ := newTestCenter(t, h)
	ctx := context.Background()

	if err := c.Approve(ctx, ActionRequest{ApprovalID: "r1", ActorID: "mgr-1", OrganizationID: "org-1"}); err != nil {
		t.Fatalf("Approve: %v", err)
	}

	tests := []struct {
		status    domain.Status
		wantItems int
		wantTotal int
	}{
		{"", 2, 2},
		{domain.StatusPending, 2, 2},
		{domain.StatusApproved, 1, 1},
		{domain.StatusRejected, 0, 0},
	}
	for _, tt := range tests {
		res, err := c.ListApprovals(ctx, domain.ApprovalQueryParams{
			ApproverID: "mgr-1", OrganizationID: "org-1", Limit: 10, Status: tt.status,
		})
		if err != nil {
			t.Fatalf("ListApprovals(%q): %v", tt.status, err)
		}
		if len(res.Items) != tt.wantItems || res.Total != tt.wantTotal {
			t.Errorf("status %q: items = %d total = %d, want %d and %d",
				tt.status, len(res.Items), res.Total, tt.wantItems, tt.wantTotal)
		}
	}
}

func TestCenter_Detail(t *testing.T) {
	reqs := newMemRequests(pendingRow("r1", "w1", now.Add(-time.Hour)))
	h := newWidgetHandler(reqs, PipelineConfig{Now: fixedNow}, widget{ID: "w1", Owner: "ana"})
	c, _ := newTestCenter(t, h)
	ctx := context.Background()

	if d, err := c.Detail(ctx, widgetType, "w1", "org-1", "mgr-1"); err != nil || d.Approval.ID != "r1" {
		t.Fatalf("Detail = %+v, %v", d, err)
	}
	if _, err := c.Detail(ctx, widgetType, "w1", "org-1", "mgr-9"); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("outsider: err = %v, want ErrUnauthorized", err)
	}
	if _, err := c.Detail(ctx, widgetType, "w1", "org-1", ""); !errors.Is(err, ErrValidation) {
		t.Errorf("no actor: err = %v, want ErrValidation", err)
	}
	if _, err := c.Detail(ctx, "nope", "w1", "org-1", "mgr-1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("unknown type: err = %v, want ErrNotFound", err)
	}
}

func TestCenter_ApproveReject(t *testing.T) {
	reqs := newMemRequests(
		pendingRow("r1", "w1", now.Add(-time.Hour)),
		pendingRow("r2", "w2", now.Add(-time.Hour)),
	)
	h := newWidgetHandler(reqs, PipelineConfig{Now: fixedNow}, widget{ID: "w1"}, widget{ID: "w2"})
	c, audit := newTestCenter(t, h)
	ctx := context.Background()

	err := c.Approve(ctx, ActionRequest{ApprovalID: "r1", ActorID: "someone", OrganizationID: "org-1"})
	if !errors.Is(err, ErrUnauthorized) {
		t.Errorf("wrong approver: err = %v, want ErrUnauthorized", err)
	}
	err = c.Approve(ctx, ActionRequest{ApprovalID: "r1", ActorID: "mgr-1", OrganizationID: "org-2"})
	if !errors.Is(err, ErrUnauthorized) {
		t.Errorf("wrong org: err = %v, want ErrUnauthorized", err)
	}
	if err := c.Approve(ctx, ActionRequest{ApprovalID: "r1", ActorID: "mgr-1", OrganizationID: "org-1"}); err != nil {
		t.Fatalf("Approve: %v", err)
	}
	if reqs.status("r1") != domain.StatusApproved {
		t.Errorf("r1 status = %s", reqs.status("r1"))
	}
	err = c.Approve(ctx, ActionRequest{ApprovalID: "r1", ActorID: "mgr-1", OrganizationID: "org-1"})
	if !errors.Is(err, ErrAlreadyResolved) {
		t.Errorf("second approve: err = %v, want ErrAlreadyResolved", err)
	}

	err = c.Reject(ctx, ActionRequest{ApprovalID: "r2", ActorID: "mgr-1", OrganizationID: "org-1", Reason: "  "})
	if !errors.Is(err, ErrValidation) {
		t.Errorf("blank reason: err = %v, want ErrValidation", err)
	}
	if err := c.Reject(ctx, ActionRequest{ApprovalID: "r2", ActorID: "mgr-1", OrganizationID: "org-1", Reason: "overlaps"}); err != nil {
		t.Fatalf("Reject: %v", err)
	}

	if len(audit.entries) != 2 {
		t.Fatalf("audit entries = %d, want 2", len(audit.entries))
	}
	if e := audit.entries[1]; e.Action != domain.AuditReject || e.Reason != "overlaps" || e.NewStatus != domain.StatusRejected {
		t.Errorf("reject entry = %+v", e)
	}
}

func TestCenter_AuditFailureDoesNotFailApprove(t *testing.T) {
	reqs := newMemRequests(pendingRow("r1", "w1", now.Add(-time.Hour)))
	h := newWidgetHandler(reqs, PipelineConfig{Now: fixedNow}, widget{ID: "w1"})
	c, audit := newTestCenter(t, h)
	audit.err = errors.New("disk full")

	if err := c.Approve(context.Background(), ActionRequest{ApprovalID: "r1", ActorID: "mgr-1", OrganizationID: "org-1"}); err != nil {
		t.Fatalf("Approve: %v", err)
	}
	if reqs.status("r1") != domain.StatusApproved {
		t.Error("transition should stand despite the audit failure")
	}
}

func TestCenter_Cancel(t *testing.T) {
	reqs := newMemRequests(pendingRow("r1", "w1", now.Add(-time.Hour)))
	h := newWidgetHandler(reqs, PipelineConfig{Now: fixedNow}, widget{ID: "w1"})
	c, audit := newTestCenter(t, h)
	ctx := context.Background()

	err := c.Cancel(ctx, ActionRequest{ApprovalID: "r1", ActorID: "mgr-1", OrganizationID: "org-1"})
	if !errors.Is(err, ErrUnauthorized) {
		t.Errorf("approver cancel: err = %v, want ErrUnauthorized", err)
	}
	if err := c.Cancel(ctx, ActionRequest{ApprovalID: "r1", ActorID: "emp-w1", OrganizationID: "org-1"}); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if reqs.status("r1") != domain.StatusCancelled {
		t.Errorf("status = %s, want cancelled", reqs.status("r1"))
	}
	if len(audit.entries) != 1 || audit.entries[0].Action != domain.AuditCancel {
		t.Errorf("audit = %+v", audit.entries)
	}
}

func TestCenter_Types(t *testing.T) {
	h := newWidgetHandler(newMemRequests(), PipelineConfig{})
	h.bulk = false
	c, _ := newTestCenter(t, h)
	types := c.Types()
	if len(types) != 1 || types[0].Type != widgetType || types[0].SupportsBulkApprove {
		t.Errorf("types = %+v", types)
	}
}
