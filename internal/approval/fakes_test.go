package approval

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/jkaninda/approvalcenter/internal/domain"
	"github.com/jkaninda/approvalcenter/internal/sla"
)

const widgetType = "widget_request"

// memRequests is an in-memory RequestStore that counts its calls.
type memRequests struct {
	mu    sync.Mutex
	rows  map[string]*domain.ApprovalRequest
	finds int
	byIDs int
}

func newMemRequests(rows ...domain.ApprovalRequest) *memRequests {
	m := &memRequests{rows: make(map[string]*domain.ApprovalRequest)}
	for i := range rows {
		r := rows[i]
		m.rows[r.ID] = &r
	}
	return m
}

func (m *memRequests) match(r *domain.ApprovalRequest, f RequestFilter) bool {
	switch {
	case f.EntityType != "" && r.EntityType != f.EntityType:
		return false
	case f.ApproverID != "" && r.ApproverID != f.ApproverID:
		return false
	case f.OrganizationID != "" && r.OrganizationID != f.OrganizationID:
		return false
	case f.Status != "" && r.Status != f.Status:
		return false
	case f.Cursor != nil && r.CreatedAt.After(*f.Cursor):
		return false
	case f.CreatedFrom != nil && r.CreatedAt.Before(*f.CreatedFrom):
		return false
	case f.CreatedTo != nil && r.CreatedAt.After(*f.CreatedTo):
		return false
	case f.OlderThan != nil && r.CreatedAt.After(*f.OlderThan):
		return false
	}
	return true
}

func (m *memRequests) FindRequests(_ context.Context, f RequestFilter) ([]domain.ApprovalRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.finds++
	var out []domain.ApprovalRequest
	for _, r := range m.rows {
		if m.match(r, f) {
			out = append(out, *r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (m *memRequests) CountRequests(_ context.Context, f RequestFilter) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, r := range m.rows {
		if m.match(r, f) {
			n++
		}
	}
	return n, nil
}

func (m *memRequests) GetRequestsByIDs(_ context.Context, ids []string) ([]domain.ApprovalRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byIDs++
	var out []domain.ApprovalRequest
	for _, id := range ids {
		if r, ok := m.rows[id]; ok {
			out = append(out, *r)
		}
	}
	return out, nil
}

func (m *memRequests) GetRequest(_ context.Context, id string) (*domain.ApprovalRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rows[id]
	if !ok {
		return nil, fmt.Errorf("approval request %s: %w", id, ErrNotFound)
	}
	cp := *r
	return &cp, nil
}

func (m *memRequests) GetRequestByEntity(_ context.Context, entityType, entityID string) (*domain.ApprovalRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.rows {
		if r.EntityType == entityType && r.EntityID == entityID {
			cp := *r
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("%s %s: %w", entityType, entityID, ErrNotFound)
}

func (m *memRequests) CancelRequest(_ context.Context, id, actorID, reason string, at time.Time) error {
	return m.resolve(id, actorID, reason, domain.StatusCancelled, at)
}

func (m *memRequests) resolve(id, actorID, reason string, status domain.Status, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rows[id]
	if !ok {
		return ErrNotFound
	}
	if r.Status != domain.StatusPending {
		return ErrAlreadyResolved
	}
	r.Status = status
	r.ResolvedBy = actorID
	r.Reason = reason
	r.ResolvedAt = &at
	return nil
}

func (m *memRequests) status(id string) domain.Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rows[id].Status
}

// widget is the entity behind the test handler.
type widget struct {
	ID     string
	Owner  string
	Team   string
	Urgent bool
}

// widgetHandler implements both Handler and Source[widget].
type widgetHandler struct {
	*Pipeline[widget]
	requests *memRequests
	widgets  map[string]widget
	bulk     bool
	failOn   map[string]error
	panicOn  string

	mu    sync.Mutex
	loads int
	ids   [][]string
}

func newWidgetHandler(requests *memRequests, cfg PipelineConfig, widgets ...widget) *widgetHandler {
	h := &widgetHandler{
		requests: requests,
		widgets:  make(map[string]widget),
		bulk:     true,
		failOn:   make(map[string]error),
	}
	for _, w := range widgets {
		h.widgets[w.ID] = w
	}
	cfg.Requests = requests
	h.Pipeline = NewPipeline[widget](h, cfg)
	return h
}

func (h *widgetHandler) Type() string              { return widgetType }
func (h *widgetHandler) DisplayName() string       { return "Widget request" }
func (h *widgetHandler) SupportsBulkApprove() bool { return h.bulk }

func (h *widgetHandler) LoadEntitiesByIDs(_ context.Context, _ string, ids []string) (map[string]widget, error) {
	h.mu.Lock()
	h.loads++
	h.ids = append(h.ids, ids)
	h.mu.Unlock()
	out := make(map[string]widget, len(ids))
	for _, id := range ids {
		if w, ok := h.widgets[id]; ok {
			out[id] = w
		}
	}
	return out, nil
}

func (h *widgetHandler) Requester(w widget) domain.Requester {
	return domain.Requester{ID: w.Owner, Name: w.Owner}
}

func (h *widgetHandler) Priority(w widget, _ time.Time) domain.Priority {
	if w.Urgent {
		return domain.PriorityUrgent
	}
	return domain.PriorityNormal
}

func (h *widgetHandler) Display(w widget) domain.DisplayMetadata {
	return domain.DisplayMetadata{Title: "Widget " + w.ID}
}

func (h *widgetHandler) MatchesFilter(w widget, p domain.ApprovalQueryParams) bool {
	if p.TeamID != "" && w.Team != p.TeamID {
		return false
	}
	if p.Search != "" && !strings.Contains(w.Owner, p.Search) {
		return false
	}
	return true
}

func (h *widgetHandler) GetApprovals(ctx context.Context, p domain.ApprovalQueryParams) ([]domain.UnifiedApprovalItem, error) {
	return h.Fetch(ctx, p)
}

func (h *widgetHandler) GetCount(ctx context.Context, approverID, orgID string) (int, error) {
	return h.Count(ctx, approverID, orgID)
}

func (h *widgetHandler) GetDetail(ctx context.Context, entityID, orgID, actorID string) (*domain.Detail, error) {
	return h.Detail(ctx, entityID, orgID, actorID)
}

func (h *widgetHandler) Approve(ctx context.Context, entityID, approverID string) error {
	return h.decide(ctx, entityID, approverID, "", domain.StatusApproved)
}

func (h *widgetHandler) Reject(ctx context.Context, entityID, approverID, reason string) error {
	return h.decide(ctx, entityID, approverID, reason, domain.StatusRejected)
}

func (h *widgetHandler) decide(ctx context.Context, entityID, approverID, reason string, status domain.Status) error {
	if entityID == h.panicOn {
		panic("widget exploded")
	}
	if err := h.failOn[entityID]; err != nil {
		return err
	}
	row, err := h.requests.GetRequestByEntity(ctx, widgetType, entityID)
	if err != nil {
		return err
	}
	return h.requests.resolve(row.ID, approverID, reason, status, time.Now())
}

func (h *widgetHandler) CalculatePriority(entity any, createdAt time.Time) domain.Priority {
	return h.Priority(entity.(widget), createdAt)
}

func (h *widgetHandler) CalculateSLADeadline(entity any, createdAt time.Time) *time.Time {
	return sla.CalculateDeadline(widgetType, h.CalculatePriority(entity, createdAt), createdAt, nil)
}

func (h *widgetHandler) GetDisplayMetadata(entity any) domain.DisplayMetadata {
	return h.Display(entity.(widget))
}

func (h *widgetHandler) loadCalls() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.loads
}

// memAudit records entries.
type memAudit struct {
	mu      sync.Mutex
	entries []domain.AuditEntry
	batches int
	err     error
}

func (a *memAudit) Log(_ context.Context, e domain.AuditEntry) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.err != nil {
		return a.err
	}
	a.entries = append(a.entries, e)
	return nil
}

func (a *memAudit) LogBatch(_ context.Context, es []domain.AuditEntry) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.batches++
	if a.err != nil {
		return a.err
	}
	a.entries = append(a.entries, es...)
	return nil
}

// memLedger is an in-memory IdempotencyStore.
type memLedger struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newMemLedger() *memLedger { return &memLedger{data: make(map[string][]byte)} }

func (l *memLedger) Lookup(_ context.Context, orgID, key string) ([]byte, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	v, ok := l.data[orgID+"/"+key]
	return v, ok, nil
}

func (l *memLedger) Save(_ context.Context, orgID, key string, result []byte) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.data[orgID+"/"+key]; ok {
		return false, nil
	}
	l.data[orgID+"/"+key] = result
	return true, nil
}

// staticRules serves a fixed rule set for every org.
type staticRules struct{ rules []sla.Rule }

func (s staticRules) ListRules(context.Context, string) ([]sla.Rule, error) { return s.rules, nil }
func (s staticRules) UpsertRule(context.Context, string, sla.Rule) error    { return nil }

func pendingRow(id, entityID string, createdAt time.Time) domain.ApprovalRequest {
	return domain.ApprovalRequest{
		ID:             id,
		OrganizationID: "org-1",
		EntityType:     widgetType,
		EntityID:       entityID,
		RequesterID:    "emp-" + entityID,
		ApproverID:     "mgr-1",
		Status:         domain.StatusPending,
		CreatedAt:      createdAt,
		UpdatedAt:      createdAt,
	}
}
