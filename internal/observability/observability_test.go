package observability

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	dto "github.com/prometheus/client_model/go"

	"github.com/jkaninda/approvalcenter/internal/approval"
	"github.com/jkaninda/approvalcenter/internal/config"
	"github.com/jkaninda/approvalcenter/internal/domain"
)

// --- No-op Path ---

func TestNew_NilConfig(t *testing.T) {
	obs, err := New(nil, nil)
	if err != nil {
		t.Fatalf("New(nil) error: %v", err)
	}
	if obs != nil {
		t.Fatal("expected nil Observability for nil config")
	}
	if obs.Registry() != nil || obs.SpanTracer() != nil || obs.HealthOrNil() != nil {
		t.Error("accessors on nil Observability should return nil")
	}
	if err := obs.Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown on nil: %v", err)
	}
	inner := &fakeService{}
	if obs.WrapCenter(inner) != approval.Service(inner) {
		t.Error("WrapCenter on nil Observability should return the center unchanged")
	}
}

func TestNew_AllDisabled(t *testing.T) {
	obs, err := New(&config.ObservabilityConfig{}, nil)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	if obs == nil {
		t.Fatal("expected non-nil Observability")
	}
	if obs.Metrics != nil {
		t.Error("metrics should be nil when not enabled")
	}
	if obs.Tracer != nil {
		t.Error("tracer should be nil when not enabled")
	}
	if obs.Anomaly != nil {
		t.Error("anomaly should be nil when not enabled")
	}
	if obs.Health == nil {
		t.Error("health checker should always be created")
	}
	if obs.Registry() != nil {
		t.Error("registry should be nil when metrics are disabled")
	}
}

func TestNew_MetricsEnabled(t *testing.T) {
	obs, err := New(&config.ObservabilityConfig{
		Metrics: &config.MetricsConfig{Enabled: true},
	}, nil)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	if obs.Registry() == nil {
		t.Fatal("registry should be shared when metrics are enabled")
	}
}

// --- Metrics ---

func TestMetricsCollector_RecordAndGather(t *testing.T) {
	m := NewMetricsCollector()

	m.QueryRequestsTotal.WithLabelValues("all", "success").Inc()
	m.DecisionsTotal.WithLabelValues("approve", "success").Inc()
	m.DecisionsTotal.WithLabelValues("approve", "success").Inc()
	m.BulkItemsTotal.WithLabelValues("failed").Add(3)

	if got := counterValue(t, m, "approvalcenter_decision_total", map[string]string{"action": "approve", "result": "success"}); got != 2 {
		t.Errorf("decision_total = %v, want 2", got)
	}
	if got := counterValue(t, m, "approvalcenter_bulk_items_total", map[string]string{"result": "failed"}); got != 3 {
		t.Errorf("bulk_items_total = %v, want 3", got)
	}
	if got := counterValue(t, m, "approvalcenter_query_requests_total", map[string]string{"type": "all", "status": "success"}); got != 1 {
		t.Errorf("query_requests_total = %v, want 1", got)
	}
}

func counterValue(t *testing.T, m *MetricsCollector, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := m.Registry.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	for _, f := range families {
		if f.GetName() != name {
			continue
		}
		for _, metric := range f.GetMetric() {
			if matchLabels(metric.GetLabel(), labels) {
				return metric.GetCounter().GetValue()
			}
		}
	}
	return 0
}

func matchLabels(pairs []*dto.LabelPair, want map[string]string) bool {
	got := make(map[string]string, len(pairs))
	for _, p := range pairs {
		got[p.GetName()] = p.GetValue()
	}
	for k, v := range want {
		if got[k] != v {
			return false
		}
	}
	return true
}

// --- InstrumentedCenter ---

type fakeService struct {
	result    *domain.QueryResult
	decideErr error
	bulk      *domain.BulkApproveResult
}

func (f *fakeService) ListApprovals(context.Context, domain.ApprovalQueryParams) (*domain.QueryResult, error) {
	return f.result, nil
}

func (f *fakeService) Counts(context.Context, string, string) (*domain.ApprovalCounts, error) {
	return &domain.ApprovalCounts{ByType: map[string]int{}}, nil
}

func (f *fakeService) Detail(context.Context, string, string, string, string) (*domain.Detail, error) {
	return nil, approval.ErrNotFound
}

func (f *fakeService) Approve(context.Context, approval.ActionRequest) error { return f.decideErr }
func (f *fakeService) Reject(context.Context, approval.ActionRequest) error  { return f.decideErr }
func (f *fakeService) Cancel(context.Context, approval.ActionRequest) error  { return f.decideErr }

func (f *fakeService) BulkApprove(context.Context, approval.BulkRequest) (*domain.BulkApproveResult, error) {
	return f.bulk, nil
}

func (f *fakeService) Types() []approval.TypeInfo {
	return []approval.TypeInfo{{Type: "absence_request"}}
}

func TestInstrumentedCenter_RecordsDecisions(t *testing.T) {
	m := NewMetricsCollector()
	inner := &fakeService{decideErr: fmt.Errorf("resolving: %w", approval.ErrAlreadyResolved)}
	c := NewInstrumentedCenter(inner, m, nil, nil)

	err := c.Approve(context.Background(), approval.ActionRequest{ApprovalID: "a1", ActorID: "mgr-1"})
	if !errors.Is(err, approval.ErrAlreadyResolved) {
		t.Fatalf("err = %v, want ErrAlreadyResolved passed through", err)
	}
	inner.decideErr = errors.New("connection reset")
	_ = c.Reject(context.Background(), approval.ActionRequest{ApprovalID: "a2"})

	if got := counterValue(t, m, "approvalcenter_decision_total", map[string]string{"action": "approve", "result": "rejected"}); got != 1 {
		t.Errorf("approve/rejected = %v, want 1", got)
	}
	if got := counterValue(t, m, "approvalcenter_decision_total", map[string]string{"action": "reject", "result": "error"}); got != 1 {
		t.Errorf("reject/error = %v, want 1", got)
	}
}

func TestInstrumentedCenter_ListAndBulk(t *testing.T) {
	m := NewMetricsCollector()
	inner := &fakeService{
		result: &domain.QueryResult{Items: []domain.UnifiedApprovalItem{
			{ID: "1", ApprovalType: "absence_request"},
			{ID: "2", ApprovalType: "absence_request"},
			{ID: "3", ApprovalType: "time_correction"},
		}},
		bulk: &domain.BulkApproveResult{
			Succeeded: []string{"1", "2"},
			Failed:    []domain.BulkFailure{{ID: "3", Error: "not found"}},
		},
	}
	c := NewInstrumentedCenter(inner, m, nil, nil)

	res, err := c.ListApprovals(context.Background(), domain.ApprovalQueryParams{Types: []string{"time_correction", "absence_request"}})
	if err != nil || len(res.Items) != 3 {
		t.Fatalf("ListApprovals = %v, %v", res, err)
	}
	if got := counterValue(t, m, "approvalcenter_query_requests_total", map[string]string{"type": "absence_request,time_correction", "status": "success"}); got != 1 {
		t.Errorf("query_requests_total = %v, want 1 with sorted type label", got)
	}

	if _, err := c.BulkApprove(context.Background(), approval.BulkRequest{ApprovalIDs: []string{"1", "2", "3"}}); err != nil {
		t.Fatalf("BulkApprove: %v", err)
	}
	if got := counterValue(t, m, "approvalcenter_bulk_items_total", map[string]string{"result": "succeeded"}); got != 2 {
		t.Errorf("bulk succeeded = %v, want 2", got)
	}
	if got := counterValue(t, m, "approvalcenter_bulk_items_total", map[string]string{"result": "failed"}); got != 1 {
		t.Errorf("bulk failed = %v, want 1", got)
	}
	if len(c.Types()) != 1 {
		t.Error("Types should pass through")
	}
}

func TestInstrumentedCenter_NilComponents(t *testing.T) {
	c := NewInstrumentedCenter(&fakeService{}, nil, nil, nil)
	if _, err := c.Detail(context.Background(), "absence_request", "x", "org", "mgr-1"); !errors.Is(err, approval.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
	if err := c.Cancel(context.Background(), approval.ActionRequest{}); err != nil {
		t.Errorf("Cancel: %v", err)
	}
}

func TestInstrumentedCenter_ClientErrorsAreNotAnomalies(t *testing.T) {
	a := NewAnomalyDetector(&config.AnomalyConfig{ErrorRateThreshold: 0.1}, nil)
	inner := &fakeService{decideErr: approval.ErrUnauthorized}
	c := NewInstrumentedCenter(inner, nil, nil, a)

	for range 10 {
		_ = c.Approve(context.Background(), approval.ActionRequest{})
	}
	if rate, total := a.ErrorRate("approve"); rate != 0 || total != 10 {
		t.Errorf("rate = %v, total = %v; want 0 errors over 10 samples", rate, total)
	}
}

// --- Anomaly ---

func TestAnomalyDetector_Threshold(t *testing.T) {
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	a := NewAnomalyDetector(&config.AnomalyConfig{ErrorRateThreshold: 0.5, WindowSeconds: 60}, nil)
	a.now = func() time.Time { return now }

	a.RecordSuccess("list")
	a.RecordSuccess("list")
	if a.RecordError("list") {
		t.Error("should not flag before enough samples")
	}
	a.RecordError("list")
	if !a.RecordError("list") {
		t.Error("3 errors out of 5 should exceed a 0.5 threshold")
	}

	// Everything ages out of the window.
	now = now.Add(2 * time.Minute)
	if rate, total := a.ErrorRate("list"); rate != 0 || total != 0 {
		t.Errorf("after window: rate = %v, total = %v", rate, total)
	}
}

func TestAnomalyDetector_Nil(t *testing.T) {
	var a *AnomalyDetector
	if a.RecordError("x") {
		t.Error("nil detector should never flag")
	}
	a.RecordSuccess("x")
}

// --- Health ---

type pingerFunc func(ctx context.Context) error

func (f pingerFunc) Ping(ctx context.Context) error { return f(ctx) }

func TestHealthChecker_Ready(t *testing.T) {
	h := NewHealthChecker(nil)
	if got := h.CheckReady(context.Background()); got.Status != "ok" {
		t.Errorf("no checks: status = %q", got.Status)
	}

	h.AddPinger("store", pingerFunc(func(context.Context) error { return nil }))
	if got := h.CheckReady(context.Background()); got.Status != "ok" || got.Checks["store"].Status != "ok" {
		t.Errorf("healthy store: %+v", got)
	}

	h.AddCheck("notifier", func(context.Context) error { return errors.New("unreachable") })
	got := h.CheckReady(context.Background())
	if got.Status != "degraded" {
		t.Errorf("status = %q, want degraded", got.Status)
	}
	if got.Checks["notifier"].Message != "unreachable" {
		t.Errorf("notifier check = %+v", got.Checks["notifier"])
	}
	if h.CheckHealth().Status != "ok" {
		t.Error("liveness should always be ok")
	}
}

// --- HTTP middleware ---

func TestHTTPMetricsMiddleware(t *testing.T) {
	m := NewMetricsCollector()
	handler := HTTPMetricsMiddleware(m, nil, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
	}))

	req := httptest.NewRequest(http.MethodPost, "/v1/approvals/abc-123/approve", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusConflict {
		t.Fatalf("code = %d", rec.Code)
	}
	labels := map[string]string{"method": "POST", "path": "/v1/approvals/{id}/approve", "status_code": "409"}
	if got := counterValue(t, m, "approvalcenter_http_requests_total", labels); got != 1 {
		t.Errorf("http_requests_total = %v, want 1", got)
	}
}

func TestRouteLabel(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"/v1/approvals", "/v1/approvals"},
		{"/v1/approvals/count", "/v1/approvals/count"},
		{"/v1/approvals/types", "/v1/approvals/types"},
		{"/v1/approvals/bulk-approve", "/v1/approvals/bulk-approve"},
		{"/v1/approvals/42/reject", "/v1/approvals/{id}/reject"},
		{"/v1/approvals/42/cancel", "/v1/approvals/{id}/cancel"},
		{"/v1/approvals/absence_request/e-9", "/v1/approvals/{type}/{id}"},
		{"/healthz", "/healthz"},
	}
	for _, tt := range tests {
		if got := routeLabel(tt.path); got != tt.want {
			t.Errorf("routeLabel(%q) = %q, want %q", tt.path, got, tt.want)
		}
	}
}

func TestSampleRate(t *testing.T) {
	for in, want := range map[float64]float64{0: 1, -0.5: 1, 0.25: 0.25, 1: 1, 3: 1} {
		if got := sampleRate(in); got != want {
			t.Errorf("sampleRate(%v) = %v, want %v", in, got, want)
		}
	}
}
