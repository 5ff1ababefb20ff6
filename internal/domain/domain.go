// Package domain defines the core types shared across the approval center.
// These types are ORM-free; persistence models live in internal/storage.
package domain

import (
	"time"
)

// Registered approval type tags. The set is open: new handlers add their own.
const (
	TypeAbsenceRequest = "absence_request"
	TypeTimeCorrection = "time_correction"
)

// Priority is the urgency of a pending decision.
type Priority string

const (
	PriorityUrgent Priority = "urgent"
	PriorityHigh   Priority = "high"
	PriorityNormal Priority = "normal"
	PriorityLow    Priority = "low"
)

// Valid reports whether p is one of the four known priorities.
func (p Priority) Valid() bool {
	switch p {
	case PriorityUrgent, PriorityHigh, PriorityNormal, PriorityLow:
		return true
	}
	return false
}

// Status is the lifecycle state of an approval request.
// StatusCancelled only ever appears on request rows withdrawn by the requester.
type Status string

const (
	StatusPending   Status = "pending"
	StatusApproved  Status = "approved"
	StatusRejected  Status = "rejected"
	StatusCancelled Status = "cancelled"
)

// Resolved reports whether the status is terminal.
func (s Status) Resolved() bool {
	return s != StatusPending
}

// SLAStatus classifies how close a pending item is to its deadline.
type SLAStatus string

const (
	SLAOnTime      SLAStatus = "on_time"
	SLAApproaching SLAStatus = "approaching"
	SLAOverdue     SLAStatus = "overdue"
)

// Requester identifies the employee who submitted the underlying entity.
type Requester struct {
	ID        string  `json:"id"`
	AccountID string  `json:"accountId"`
	Name      string  `json:"name"`
	Email     string  `json:"email"`
	AvatarURL string  `json:"avatarUrl,omitempty"`
	TeamID    *string `json:"teamId,omitempty"`
}

// SLAInfo is the scored deadline block of an item.
// Deadline is nil when no rule covers the type/priority pair.
type SLAInfo struct {
	Deadline       *time.Time `json:"deadline"`
	Status         SLAStatus  `json:"status"`
	HoursRemaining *int       `json:"hoursRemaining"`
}

// Badge is a short colored label shown next to an item.
type Badge struct {
	Label string `json:"label"`
	Color string `json:"color"`
}

// DisplayMetadata is the presentation summary a handler derives from its entity.
type DisplayMetadata struct {
	Title    string `json:"title"`
	Subtitle string `json:"subtitle"`
	Summary  string `json:"summary"`
	Badge    *Badge `json:"badge,omitempty"`
	Icon     string `json:"icon,omitempty"`
}

// UnifiedApprovalItem is the normalized representation of one decision,
// independent of the entity type behind it.
type UnifiedApprovalItem struct {
	ID              string          `json:"id"`
	ApprovalType    string          `json:"approvalType"`
	EntityID        string          `json:"entityId"`
	TypeDisplayName string          `json:"typeDisplayName"`
	Requester       Requester       `json:"requester"`
	ApproverID      string          `json:"approverId"`
	OrganizationID  string          `json:"organizationId"`
	Status          Status          `json:"status"`
	CreatedAt       time.Time       `json:"createdAt"`
	ResolvedAt      *time.Time      `json:"resolvedAt"`
	Priority        Priority        `json:"priority"`
	SLA             SLAInfo         `json:"sla"`
	Display         DisplayMetadata `json:"display"`
}

// ApprovalRequest is the administrative record tracking who must decide on an entity.
type ApprovalRequest struct {
	ID             string
	OrganizationID string
	EntityType     string
	EntityID       string
	RequesterID    string
	ApproverID     string
	Status         Status
	Reason         string
	ResolvedBy     string
	CreatedAt      time.Time
	ResolvedAt     *time.Time
	UpdatedAt      time.Time
}

// ApprovalQueryParams drives a listing. ApproverID, OrganizationID and Limit are mandatory.
type ApprovalQueryParams struct {
	ApproverID     string
	OrganizationID string
	Status         Status   // Empty = pending.
	Types          []string // Empty = every registered type.
	TeamID         string
	Search         string
	From           *time.Time
	To             *time.Time
	MinAgeDays     int
	Priority       Priority // Empty = any.
	Cursor         string   // RFC 3339 createdAt of the last item seen.
	Limit          int
}

// EffectiveStatus returns the status filter, defaulting to pending.
func (p ApprovalQueryParams) EffectiveStatus() Status {
	if p.Status == "" {
		return StatusPending
	}
	return p.Status
}

// QueryResult is one page of unified items.
type QueryResult struct {
	Items      []UnifiedApprovalItem `json:"items"`
	NextCursor *string               `json:"nextCursor"`
	HasMore    bool                  `json:"hasMore"`
	Total      int                   `json:"total"`
}

// ApprovalCounts is the badge-style pending count per type.
type ApprovalCounts struct {
	ByType map[string]int `json:"byType"`
	Total  int            `json:"total"`
}

// BulkFailure explains why one id was not approved.
type BulkFailure struct {
	ID    string `json:"id"`
	Error string `json:"error"`
}

// BulkApproveResult partitions the input ids. No id appears in both lists.
type BulkApproveResult struct {
	Succeeded []string      `json:"succeeded"`
	Failed    []BulkFailure `json:"failed"`
}

// AuditAction tags a recorded state transition.
type AuditAction string

const (
	AuditApprove     AuditAction = "approve"
	AuditReject      AuditAction = "reject"
	AuditEscalate    AuditAction = "escalate"
	AuditBulkApprove AuditAction = "bulk_approve"
	AuditCancel      AuditAction = "cancel"
)

// Provenance is the request origin captured into audit entries.
type Provenance struct {
	IPAddress string `json:"ip_address,omitempty"`
	UserAgent string `json:"user_agent,omitempty"`
}

// AuditChanges is the self-describing payload embedded in every audit entry.
type AuditChanges struct {
	From           Status `json:"from"`
	To             Status `json:"to"`
	ApprovalType   string `json:"approvalType"`
	TargetEntityID string `json:"targetEntityId"`
	Reason         string `json:"reason,omitempty"`
}

// AuditEntry is one immutable transition record.
type AuditEntry struct {
	ID             string
	OrganizationID string
	ApprovalID     string
	ApprovalType   string
	EntityID       string
	Action         AuditAction
	ActorID        string
	PreviousStatus Status
	NewStatus      Status
	Reason         string
	Metadata       map[string]any
	Provenance     *Provenance
	Changes        AuditChanges
	CreatedAt      time.Time
}

// TimelineEvent is an audit entry as shown in an item's history.
type TimelineEvent struct {
	Action  AuditAction `json:"action"`
	ActorID string      `json:"actorId"`
	From    Status      `json:"from"`
	To      Status      `json:"to"`
	Reason  string      `json:"reason,omitempty"`
	At      time.Time   `json:"at"`
}

// Detail is the full view of one item: the unified item, the raw entity and its history.
type Detail struct {
	Approval UnifiedApprovalItem `json:"approval"`
	Entity   any                 `json:"entity"`
	Timeline []TimelineEvent     `json:"timeline"`
}

// --- Entities behind the built-in handlers ---

// Employee is a member of an organization who can submit or approve requests.
type Employee struct {
	ID             string  `json:"id"`
	OrganizationID string  `json:"organizationId"`
	AccountID      string  `json:"accountId"`
	Name           string  `json:"name"`
	Email          string  `json:"email"`
	AvatarURL      string  `json:"avatarUrl,omitempty"`
	TeamID         *string `json:"teamId,omitempty"`
}

// Requester projects the employee onto the requester block of an item.
func (e Employee) Requester() Requester {
	return Requester{
		ID:        e.ID,
		AccountID: e.AccountID,
		Name:      e.Name,
		Email:     e.Email,
		AvatarURL: e.AvatarURL,
		TeamID:    e.TeamID,
	}
}

// AbsenceKind classifies an absence request.
type AbsenceKind string

const (
	AbsenceVacation AbsenceKind = "vacation"
	AbsenceSick     AbsenceKind = "sick"
	AbsencePersonal AbsenceKind = "personal"
	AbsenceParental AbsenceKind = "parental"
	AbsenceUnpaid   AbsenceKind = "unpaid"
)

// AbsenceRequest is a leave request awaiting a manager's decision.
type AbsenceRequest struct {
	ID             string      `json:"id"`
	OrganizationID string      `json:"organizationId"`
	Employee       Employee    `json:"employee"`
	Kind           AbsenceKind `json:"kind"`
	StartDate      time.Time   `json:"startDate"`
	EndDate        time.Time   `json:"endDate"`
	Days           int         `json:"days"`
	Note           string      `json:"note,omitempty"`
	Status         Status      `json:"status"`
	CreatedAt      time.Time   `json:"createdAt"`
}

// TimeCorrection is a request to fix the clock-in/out punches of one work day.
type TimeCorrection struct {
	ID                string     `json:"id"`
	OrganizationID    string     `json:"organizationId"`
	Employee          Employee   `json:"employee"`
	WorkDate          time.Time  `json:"workDate"`
	OriginalClockIn   *time.Time `json:"originalClockIn"`
	OriginalClockOut  *time.Time `json:"originalClockOut"`
	RequestedClockIn  time.Time  `json:"requestedClockIn"`
	RequestedClockOut *time.Time `json:"requestedClockOut"`
	Note              string     `json:"note,omitempty"`
	Status            Status     `json:"status"`
	CreatedAt         time.Time  `json:"createdAt"`
}

// Notification channel types.
const (
	ChannelSlack    = "slack"
	ChannelTelegram = "telegram"
	ChannelWebhook  = "webhook"
)

// KnownChannelType reports whether t has a sender implementation.
func KnownChannelType(t string) bool {
	switch t {
	case ChannelSlack, ChannelTelegram, ChannelWebhook:
		return true
	}
	return false
}

// NotificationChannel is a configured delivery target for escalation messages.
type NotificationChannel struct {
	ID             string
	OrganizationID string
	Name           string            // Unique per org (e.g. "hr-slack", "ops-webhook").
	ChannelType    string            // "slack", "webhook", "telegram".
	Config         map[string]string // Channel-specific config (channel_id, url, chat_id).
	Enabled        bool
	CreatedAt      time.Time
	UpdatedAt      time.Time
}
