// Package httpapi implements the HTTP API gateway for the approval center.
//
// Security:
//   - API key authentication on every /v1 request (constant-time comparison)
//   - Request body size limits (default 1 MB)
//   - Per-approver rate limiting via token bucket, charged per item on bulk approve
//   - All decisions logged with correlation IDs
//   - TLS expected via reverse proxy (not handled here)
package httpapi

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/trace"

	"github.com/jkaninda/approvalcenter/internal/approval"
	"github.com/jkaninda/approvalcenter/internal/domain"
	"github.com/jkaninda/approvalcenter/internal/gateway"
	"github.com/jkaninda/approvalcenter/internal/observability"
	"github.com/jkaninda/approvalcenter/internal/ratelimit"
	"github.com/jkaninda/okapi"
)

const defaultMaxRequestSize = 1 << 20 // 1 MB

// ErrorBody is the standard error response used in OpenAPI documentation.
type ErrorBody struct {
	Error string `json:"error"`
}

// Config configures the HTTP API gateway.
type Config struct {
	ListenAddr     string // e.g., ":8080"
	EnableDocs     bool
	APIKeys        map[string]string // API key → approver ID mapping.
	MaxRequestSize int64             // Maximum request body in bytes. 0 = 1 MB default.

	// Observability
	MetricsRegistry *prometheus.Registry            // Shared Prometheus registry for /metrics.
	MetricsPath     string                          // Path for metrics endpoint. Default: "/metrics".
	HealthChecker   *observability.HealthChecker    // Health checker for /readyz.
	Metrics         *observability.MetricsCollector // Metrics collector for HTTP middleware.
	Tracer          trace.Tracer                    // OTel tracer for HTTP middleware.
}

// Gateway is the HTTP API gateway.
type Gateway struct {
	config  Config
	center  approval.Service
	limiter *ratelimit.Limiter
	logger  *slog.Logger
	server  *http.Server

	okapi *okapi.Okapi
	group *okapi.Group
}

// NewGateway creates an HTTP API gateway in front of the approval center.
func NewGateway(cfg Config, center approval.Service, rl *ratelimit.Limiter, logger *slog.Logger) *Gateway {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gateway{
		config:  cfg,
		center:  center,
		limiter: rl,
		logger:  logger,
		okapi:   okapi.New(okapi.WithMaxMultipartMemory(cfg.maxRequestSize())),
	}
}

func (c Config) maxRequestSize() int64 {
	if c.MaxRequestSize > 0 {
		return c.MaxRequestSize
	}
	return defaultMaxRequestSize
}

// WithOpenAPIDocs serves the generated OpenAPI document.
func (g *Gateway) WithOpenAPIDocs() *Gateway {
	g.okapi.WithOpenAPIDocs(
		okapi.OpenAPI{
			Title:   "Approval Center",
			Version: "v1.0.0",
		},
	)
	return g
}

// Start launches the HTTP server and blocks until it exits or ctx is canceled.
func (g *Gateway) Start(ctx context.Context) error {
	maxBody := g.config.maxRequestSize()
	g.okapi.UseMiddleware(func(next http.Handler) http.Handler {
		return http.MaxBytesHandler(next, maxBody)
	})

	// Metrics/tracing middleware (applied globally).
	if g.config.Metrics != nil || g.config.Tracer != nil {
		g.okapi.UseMiddleware(func(next http.Handler) http.Handler {
			return observability.HTTPMetricsMiddleware(g.config.Metrics, g.config.Tracer, next)
		})
	}

	g.registerRoutes()

	// Observability endpoints (unauthenticated).
	g.okapi.Get("/healthz", g.handleLiveness)
	g.okapi.Get("/readyz", g.handleReadiness)

	if g.config.MetricsRegistry != nil {
		path := g.config.MetricsPath
		if path == "" {
			path = "/metrics"
		}
		g.okapi.HandleStd("GET", path, promhttp.HandlerFor(g.config.MetricsRegistry, promhttp.HandlerOpts{}).ServeHTTP)
	}
	if g.config.EnableDocs {
		g.WithOpenAPIDocs()
	}

	g.server = &http.Server{
		Addr:              g.config.ListenAddr,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
		BaseContext:       func(_ net.Listener) context.Context { return ctx },
	}

	g.logger.Info("http api gateway starting", slog.String("addr", g.config.ListenAddr))
	return g.okapi.StartServer(g.server)
}

// Stop gracefully shuts down the HTTP server.
func (g *Gateway) Stop(ctx context.Context) error {
	if g.server == nil {
		return nil
	}
	g.logger.InfoContext(ctx, "http api gateway stopping")
	return g.okapi.Shutdown(g.server)
}

// registerRoutes mounts the authenticated /v1 approval routes.
func (g *Gateway) registerRoutes() {
	g.group = g.okapi.Group("/v1", g.authenticate)

	g.group.Get("/approvals", g.handleList,
		okapi.DocSummary("List approvals assigned to the caller across every type"),
		okapi.DocTags("Approvals"),
		okapi.DocResponse(domain.QueryResult{}),
		okapi.DocResponse(http.StatusBadRequest, ErrorBody{}),
		okapi.DocResponse(http.StatusUnauthorized, ErrorBody{}),
	)
	g.group.Get("/approvals/count", g.handleCount,
		okapi.DocSummary("Count pending approvals per type"),
		okapi.DocTags("Approvals"),
		okapi.DocResponse(domain.ApprovalCounts{}),
		okapi.DocResponse(http.StatusBadRequest, ErrorBody{}),
	)
	g.group.Get("/approvals/types", g.handleTypes,
		okapi.DocSummary("List registered approval types"),
		okapi.DocTags("Approvals"),
		okapi.DocResponse([]approval.TypeInfo{}),
	)
	g.group.Get("/approvals/{type}/{entityId}", g.handleDetail,
		okapi.DocSummary("Get one approval with its audit timeline"),
		okapi.DocTags("Approvals"),
		okapi.DocPathParam("type", "string", "Approval type, e.g. absence_request"),
		okapi.DocPathParam("entityId", "string", "Domain entity ID"),
		okapi.DocResponse(domain.Detail{}),
		okapi.DocResponse(http.StatusNotFound, ErrorBody{}),
	)
	g.group.Post("/approvals/bulk-approve", g.handleBulkApprove,
		okapi.DocSummary("Approve many requests in one call"),
		okapi.DocTags("Approvals"),
		okapi.DocRequestBody(BulkApproveRequest{}),
		okapi.DocResponse(domain.BulkApproveResult{}),
		okapi.DocResponse(http.StatusBadRequest, ErrorBody{}),
		okapi.DocResponse(http.StatusTooManyRequests, ErrorBody{}),
	)
	for _, action := range []string{"approve", "reject", "cancel"} {
		g.group.Post("/approvals/{id}/"+action, g.decisionHandler(action),
			okapi.DocSummary(decisionSummaries[action]),
			okapi.DocTags("Approvals"),
			okapi.DocPathParam("id", "string", "Approval request ID"),
			okapi.DocRequestBody(DecisionRequest{}),
			okapi.DocResponse(DecisionResponse{}),
			okapi.DocResponse(http.StatusBadRequest, ErrorBody{}),
			okapi.DocResponse(http.StatusForbidden, ErrorBody{}),
			okapi.DocResponse(http.StatusNotFound, ErrorBody{}),
			okapi.DocResponse(http.StatusConflict, ErrorBody{}),
		)
	}
}

var decisionSummaries = map[string]string{
	"approve": "Approve a pending request",
	"reject":  "Reject a pending request with a reason",
	"cancel":  "Withdraw a pending request as its requester",
}

// HealthResponse is the JSON response for GET /healthz.
type HealthResponse struct {
	Status string `json:"status"`
}

// handleLiveness is the Kubernetes liveness probe.
func (g *Gateway) handleLiveness(c *okapi.Context) error {
	if g.config.HealthChecker != nil {
		return c.OK(g.config.HealthChecker.CheckHealth())
	}
	return c.OK(&HealthResponse{Status: "ok"})
}

// handleReadiness checks all registered dependencies and returns 200 or 503.
func (g *Gateway) handleReadiness(c *okapi.Context) error {
	if g.config.HealthChecker == nil {
		return c.OK(&HealthResponse{Status: "ok"})
	}

	status := g.config.HealthChecker.CheckReady(c.Context())
	code := http.StatusOK
	if status.Status != "ok" {
		code = http.StatusServiceUnavailable
	}
	return c.JSON(code, status)
}

// --- Authentication ---

// authenticate validates the API key and stores the mapped approver ID.
func (g *Gateway) authenticate(next okapi.HandlerFunc) okapi.HandlerFunc {
	return func(c *okapi.Context) error {
		authHeader := c.Header("Authorization")
		if !strings.HasPrefix(authHeader, "Bearer ") {
			return c.AbortUnauthorized("missing or invalid Authorization header")
		}
		userID, ok := resolveAPIKey(g.config.APIKeys, strings.TrimPrefix(authHeader, "Bearer "))
		if !ok {
			return c.AbortUnauthorized("invalid API key")
		}
		c.Set("userID", userID)
		return next(c)
	}
}

// resolveAPIKey compares apiKey against every configured key so the
// comparison time does not depend on which key matched.
func resolveAPIKey(keys map[string]string, apiKey string) (string, bool) {
	userID := ""
	for key, id := range keys {
		if subtle.ConstantTimeCompare([]byte(apiKey), []byte(key)) == 1 {
			userID = id
		}
	}
	return userID, userID != ""
}

func newCorrelationID() string {
	b := make([]byte, 8)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

var _ gateway.Gateway = (*Gateway)(nil)
