package observability

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// readyTimeout bounds one readiness probe across every dependency.
const readyTimeout = 3 * time.Second

// Pinger is a dependency that can report reachability, such as the store.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthChecker answers the /healthz and /readyz probes.
type HealthChecker struct {
	mu     sync.RWMutex
	checks map[string]func(context.Context) error
	logger *slog.Logger
}

// HealthStatus is the probe response body. Status is "ok" or "degraded".
type HealthStatus struct {
	Status string                 `json:"status"`
	Checks map[string]CheckResult `json:"checks,omitempty"`
}

// CheckResult is one dependency's outcome.
type CheckResult struct {
	Status    string `json:"status"` // "ok" or "fail"
	Message   string `json:"message,omitempty"`
	LatencyMS int64  `json:"latency_ms"`
}

func NewHealthChecker(logger *slog.Logger) *HealthChecker {
	return &HealthChecker{checks: make(map[string]func(context.Context) error), logger: logger}
}

// AddCheck registers check under name, replacing any previous one.
func (h *HealthChecker) AddCheck(name string, check func(ctx context.Context) error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checks[name] = check
}

func (h *HealthChecker) AddPinger(name string, p Pinger) {
	h.AddCheck(name, p.Ping)
}

// CheckHealth is the liveness answer: ok while the process serves requests.
func (h *HealthChecker) CheckHealth() HealthStatus {
	return HealthStatus{Status: "ok"}
}

// CheckReady runs every check concurrently under a shared deadline. A single
// failing dependency marks the whole service degraded.
func (h *HealthChecker) CheckReady(ctx context.Context) HealthStatus {
	h.mu.RLock()
	checks := make(map[string]func(context.Context) error, len(h.checks))
	for name, fn := range h.checks {
		checks[name] = fn
	}
	h.mu.RUnlock()

	status := HealthStatus{Status: "ok"}
	if len(checks) == 0 {
		return status
	}

	ctx, cancel := context.WithTimeout(ctx, readyTimeout)
	defer cancel()

	var (
		mu      sync.Mutex
		g       errgroup.Group
		results = make(map[string]CheckResult, len(checks))
	)
	for name, fn := range checks {
		g.Go(func() error {
			start := time.Now()
			err := fn(ctx)
			res := CheckResult{Status: "ok", LatencyMS: time.Since(start).Milliseconds()}
			if err != nil {
				res.Status, res.Message = "fail", err.Error()
				if h.logger != nil {
					h.logger.WarnContext(ctx, "readiness check failed",
						slog.String("check", name),
						slog.String("error", err.Error()),
					)
				}
			}
			mu.Lock()
			results[name] = res
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	for _, res := range results {
		if res.Status != "ok" {
			status.Status = "degraded"
			break
		}
	}
	status.Checks = results
	return status
}
