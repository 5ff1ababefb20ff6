// Package sla computes approval deadlines, deadline status, and priority ordering.
// Everything in this file is pure: no I/O and no shared mutable state.
package sla

import (
	"fmt"
	"math"
	"time"

	"github.com/jkaninda/approvalcenter/internal/domain"
)

// ApproachingThresholdHours is the window before a deadline in which an item
// is reported as approaching rather than on time.
const ApproachingThresholdHours = 4

// Rule maps an (approval type, priority) pair to a deadline and escalation policy.
type Rule struct {
	ApprovalType             string          `json:"approval_type" yaml:"approval_type"`
	Priority                 domain.Priority `json:"priority" yaml:"priority"`
	DeadlineHours            int             `json:"deadline_hours" yaml:"deadline_hours"`
	EscalationEnabled        bool            `json:"escalation_enabled" yaml:"escalation_enabled"`
	EscalationThresholdHours *int            `json:"escalation_threshold_hours,omitempty" yaml:"escalation_threshold_hours,omitempty"`
}

// Threshold returns the overdue hours after which the rule escalates.
func (r Rule) Threshold() int {
	if r.EscalationThresholdHours == nil {
		return 0
	}
	return *r.EscalationThresholdHours
}

func hours(n int) *int { return &n }

var defaultRules = []Rule{
	{ApprovalType: domain.TypeAbsenceRequest, Priority: domain.PriorityUrgent, DeadlineHours: 4, EscalationEnabled: true, EscalationThresholdHours: hours(0)},
	{ApprovalType: domain.TypeAbsenceRequest, Priority: domain.PriorityHigh, DeadlineHours: 24, EscalationEnabled: true, EscalationThresholdHours: hours(0)},
	{ApprovalType: domain.TypeAbsenceRequest, Priority: domain.PriorityNormal, DeadlineHours: 48, EscalationEnabled: true, EscalationThresholdHours: hours(24)},
	{ApprovalType: domain.TypeAbsenceRequest, Priority: domain.PriorityLow, DeadlineHours: 72, EscalationEnabled: true, EscalationThresholdHours: hours(24)},
	{ApprovalType: domain.TypeTimeCorrection, Priority: domain.PriorityUrgent, DeadlineHours: 8, EscalationEnabled: true, EscalationThresholdHours: hours(0)},
	{ApprovalType: domain.TypeTimeCorrection, Priority: domain.PriorityHigh, DeadlineHours: 24, EscalationEnabled: true, EscalationThresholdHours: hours(0)},
	{ApprovalType: domain.TypeTimeCorrection, Priority: domain.PriorityNormal, DeadlineHours: 72, EscalationEnabled: true, EscalationThresholdHours: hours(24)},
	{ApprovalType: domain.TypeTimeCorrection, Priority: domain.PriorityLow, DeadlineHours: 120, EscalationEnabled: true, EscalationThresholdHours: hours(24)},
}

// DefaultRules returns a copy of the built-in rule table.
func DefaultRules() []Rule {
	out := make([]Rule, len(defaultRules))
	copy(out, defaultRules)
	return out
}

// GetRule returns the rule for the pair. Organization rules are matched first,
// then the default table. ok is false when neither covers the pair, which
// means no SLA is enforced.
func GetRule(approvalType string, priority domain.Priority, orgRules []Rule) (Rule, bool) {
	for _, r := range orgRules {
		if r.ApprovalType == approvalType && r.Priority == priority {
			return r, true
		}
	}
	for _, r := range defaultRules {
		if r.ApprovalType == approvalType && r.Priority == priority {
			return r, true
		}
	}
	return Rule{}, false
}

// CalculateDeadline returns createdAt plus the rule's deadline, or nil without a rule.
func CalculateDeadline(approvalType string, priority domain.Priority, createdAt time.Time, orgRules []Rule) *time.Time {
	rule, ok := GetRule(approvalType, priority, orgRules)
	if !ok {
		return nil
	}
	deadline := createdAt.Add(time.Duration(rule.DeadlineHours) * time.Hour)
	return &deadline
}

// CalculateStatus scores a deadline against now. Hours remaining are floored,
// so an item one minute past its deadline reports -1.
func CalculateStatus(deadline *time.Time, now time.Time) domain.SLAInfo {
	if deadline == nil {
		return domain.SLAInfo{Status: domain.SLAOnTime}
	}

	remaining := int(math.Floor(deadline.Sub(now).Hours()))
	info := domain.SLAInfo{Deadline: deadline, HoursRemaining: &remaining}
	switch {
	case remaining < 0:
		info.Status = domain.SLAOverdue
	case remaining <= ApproachingThresholdHours:
		info.Status = domain.SLAApproaching
	default:
		info.Status = domain.SLAOnTime
	}
	return info
}

// StatusMessage renders the SLA block as a short human string.
func StatusMessage(info domain.SLAInfo) string {
	if info.Deadline == nil || info.HoursRemaining == nil {
		return "On track"
	}
	h := *info.HoursRemaining

	switch info.Status {
	case domain.SLAOverdue:
		over := -h
		if over >= 24 {
			return days(over/24) + " overdue"
		}
		return fmt.Sprintf("%dh overdue", over)
	case domain.SLAApproaching:
		return fmt.Sprintf("%dh remaining", h)
	default:
		if h < 24 {
			return fmt.Sprintf("%dh remaining", h)
		}
		return days(h/24) + " remaining"
	}
}

func days(n int) string {
	if n == 1 {
		return "1 day"
	}
	return fmt.Sprintf("%d days", n)
}

// PriorityWeight orders priorities from most to least urgent.
// Unknown values weigh as normal.
func PriorityWeight(p domain.Priority) int {
	switch p {
	case domain.PriorityUrgent:
		return 0
	case domain.PriorityHigh:
		return 1
	case domain.PriorityNormal:
		return 2
	case domain.PriorityLow:
		return 3
	default:
		return 2
	}
}

// ComparePriority is negative when a is more urgent than b and zero when equal.
func ComparePriority(a, b domain.Priority) int {
	return PriorityWeight(a) - PriorityWeight(b)
}
