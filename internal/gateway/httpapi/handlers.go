package httpapi

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/jkaninda/approvalcenter/internal/approval"
	"github.com/jkaninda/approvalcenter/internal/domain"
	"github.com/jkaninda/approvalcenter/internal/ratelimit"
	"github.com/jkaninda/okapi"
)

// defaultListLimit applies when the caller sends no limit.
const defaultListLimit = 20

// DecisionRequest is the JSON body for POST /v1/approvals/{id}/{approve,reject,cancel}.
type DecisionRequest struct {
	OrganizationID string `json:"organization_id"`
	Reason         string `json:"reason,omitempty"` // Required for reject.
}

// DecisionResponse is the JSON response after a single-item decision.
type DecisionResponse struct {
	ApprovalID    string `json:"approval_id"`
	Status        string `json:"status"`
	CorrelationID string `json:"correlation_id"`
}

// BulkApproveRequest is the JSON body for POST /v1/approvals/bulk-approve.
type BulkApproveRequest struct {
	OrganizationID string   `json:"organization_id"`
	ApprovalIDs    []string `json:"approval_ids"`
	IdempotencyKey string   `json:"idempotency_key,omitempty"`
}

var decisionStatuses = map[string]domain.Status{
	"approve": domain.StatusApproved,
	"reject":  domain.StatusRejected,
	"cancel":  domain.StatusCancelled,
}

func (g *Gateway) handleList(c *okapi.Context) error {
	userID := c.GetString("userID")
	if err := g.allow(userID, 1); err != nil {
		return c.AbortTooManyRequests("rate limit exceeded")
	}

	params, err := parseListParams(c.Request().URL.Query(), userID)
	if err != nil {
		return g.approvalError(c, err)
	}

	res, err := g.center.ListApprovals(c.Context(), params)
	if err != nil {
		return g.approvalError(c, err)
	}
	return c.OK(res)
}

func (g *Gateway) handleCount(c *okapi.Context) error {
	userID := c.GetString("userID")
	if err := g.allow(userID, 1); err != nil {
		return c.AbortTooManyRequests("rate limit exceeded")
	}

	orgID := c.Request().URL.Query().Get("org")
	if orgID == "" {
		return c.AbortBadRequest("org is required")
	}
	counts, err := g.center.Counts(c.Context(), userID, orgID)
	if err != nil {
		return g.approvalError(c, err)
	}
	return c.OK(counts)
}

func (g *Gateway) handleTypes(c *okapi.Context) error {
	return c.OK(g.center.Types())
}

func (g *Gateway) handleDetail(c *okapi.Context) error {
	userID := c.GetString("userID")
	if err := g.allow(userID, 1); err != nil {
		return c.AbortTooManyRequests("rate limit exceeded")
	}

	orgID := c.Request().URL.Query().Get("org")
	if orgID == "" {
		return c.AbortBadRequest("org is required")
	}
	detail, err := g.center.Detail(c.Context(), c.Param("type"), c.Param("entityId"), orgID, userID)
	if err != nil {
		return g.approvalError(c, err)
	}
	return c.OK(detail)
}

// decisionHandler returns the handler for one single-item action.
func (g *Gateway) decisionHandler(action string) okapi.HandlerFunc {
	return func(c *okapi.Context) error {
		userID := c.GetString("userID")
		if err := g.allow(userID, 1); err != nil {
			return c.AbortTooManyRequests("rate limit exceeded")
		}

		var body DecisionRequest
		if err := c.Bind(&body); err != nil {
			return c.AbortBadRequest("invalid request body")
		}
		if body.OrganizationID == "" {
			return c.AbortBadRequest("organization_id is required")
		}

		req := approval.ActionRequest{
			ApprovalID:     c.Param("id"),
			ActorID:        userID,
			OrganizationID: body.OrganizationID,
			Reason:         body.Reason,
			Provenance:     provenanceFrom(c.Request()),
		}
		correlationID := newCorrelationID()

		g.logger.Info("http decision",
			slog.String("action", action),
			slog.String("approval_id", req.ApprovalID),
			slog.String("approver_id", userID),
			slog.String("org_id", req.OrganizationID),
			slog.String("correlation_id", correlationID),
		)

		var err error
		switch action {
		case "approve":
			err = g.center.Approve(c.Context(), req)
		case "reject":
			err = g.center.Reject(c.Context(), req)
		case "cancel":
			err = g.center.Cancel(c.Context(), req)
		}
		if err != nil {
			return g.approvalError(c, err)
		}

		return c.OK(DecisionResponse{
			ApprovalID:    req.ApprovalID,
			Status:        string(decisionStatuses[action]),
			CorrelationID: correlationID,
		})
	}
}

func (g *Gateway) handleBulkApprove(c *okapi.Context) error {
	userID := c.GetString("userID")

	var body BulkApproveRequest
	if err := c.Bind(&body); err != nil {
		return c.AbortBadRequest("invalid request body")
	}
	if body.OrganizationID == "" {
		return c.AbortBadRequest("organization_id is required")
	}
	if len(body.ApprovalIDs) == 0 {
		return c.AbortBadRequest("approval_ids is required")
	}

	// Every item is one decision for rate limiting purposes.
	if err := g.allow(userID, len(body.ApprovalIDs)); err != nil {
		return c.AbortTooManyRequests("rate limit exceeded")
	}

	correlationID := newCorrelationID()
	g.logger.Info("http bulk approve",
		slog.String("approver_id", userID),
		slog.String("org_id", body.OrganizationID),
		slog.Int("count", len(body.ApprovalIDs)),
		slog.Bool("idempotent", body.IdempotencyKey != ""),
		slog.String("correlation_id", correlationID),
	)

	res, err := g.center.BulkApprove(c.Context(), approval.BulkRequest{
		ApprovalIDs:    body.ApprovalIDs,
		ApproverID:     userID,
		OrganizationID: body.OrganizationID,
		IdempotencyKey: body.IdempotencyKey,
		Provenance:     provenanceFrom(c.Request()),
	})
	if err != nil {
		return g.approvalError(c, err)
	}
	return c.OK(res)
}

func (g *Gateway) allow(userID string, n int) error {
	if g.limiter == nil {
		return nil
	}
	return g.limiter.AllowN(userID, n)
}

// --- Helpers ---

// approvalError maps approval errors to HTTP responses. Unexpected errors are
// logged and hidden behind a generic 500.
func (g *Gateway) approvalError(c *okapi.Context, err error) error {
	code := errorStatus(err)
	if code == http.StatusInternalServerError {
		g.logger.Error("approval request failed", slog.String("error", err.Error()))
		return c.AbortInternalServerError("approval error")
	}
	return c.JSON(code, ErrorBody{Error: err.Error()})
}

// errorStatus returns the HTTP status for an approval error.
func errorStatus(err error) int {
	switch {
	case errors.Is(err, approval.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, approval.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, approval.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, approval.ErrAlreadyResolved):
		return http.StatusConflict
	case errors.Is(err, approval.ErrBulkNotSupported):
		return http.StatusUnprocessableEntity
	case errors.Is(err, ratelimit.ErrRateLimited):
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// parseListParams turns GET /v1/approvals query parameters into query params
// for approverID. Range checks beyond parsing are left to the center.
func parseListParams(q url.Values, approverID string) (domain.ApprovalQueryParams, error) {
	params := domain.ApprovalQueryParams{
		ApproverID:     approverID,
		OrganizationID: q.Get("org"),
		Status:         domain.Status(q.Get("status")),
		TeamID:         q.Get("team"),
		Search:         strings.TrimSpace(q.Get("search")),
		Priority:       domain.Priority(q.Get("priority")),
		Cursor:         q.Get("cursor"),
		Limit:          defaultListLimit,
	}

	for _, raw := range q["types"] {
		for t := range strings.SplitSeq(raw, ",") {
			if t = strings.TrimSpace(t); t != "" {
				params.Types = append(params.Types, t)
			}
		}
	}

	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return params, fmt.Errorf("%w: limit must be an integer", approval.ErrValidation)
		}
		params.Limit = n
	}
	if v := q.Get("min_age_days"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return params, fmt.Errorf("%w: min_age_days must be an integer", approval.ErrValidation)
		}
		params.MinAgeDays = n
	}

	var err error
	if params.From, err = parseTimeParam(q.Get("from"), false); err != nil {
		return params, err
	}
	if params.To, err = parseTimeParam(q.Get("to"), true); err != nil {
		return params, err
	}
	if params.From != nil && params.To != nil && params.To.Before(*params.From) {
		return params, fmt.Errorf("%w: to must not be before from", approval.ErrValidation)
	}
	return params, nil
}

// parseTimeParam accepts RFC 3339 or a bare date. A bare end date covers the
// whole day.
func parseTimeParam(v string, endOfDay bool) (*time.Time, error) {
	if v == "" {
		return nil, nil
	}
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		t = t.UTC()
		return &t, nil
	}
	t, err := time.Parse(time.DateOnly, v)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid date %q", approval.ErrValidation, v)
	}
	if endOfDay {
		t = t.Add(24*time.Hour - time.Nanosecond)
	}
	return &t, nil
}

// provenanceFrom captures the caller's address and user agent for the audit
// trail. The first X-Forwarded-For hop wins over the socket address.
func provenanceFrom(r *http.Request) *domain.Provenance {
	ip := ""
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		ip = strings.TrimSpace(first)
	}
	if ip == "" {
		ip = r.RemoteAddr
		if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
			ip = host
		}
	}
	return &domain.Provenance{
		IPAddress: ip,
		UserAgent: r.UserAgent(),
	}
}
