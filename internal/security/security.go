// Package security implements default-deny, role-based permission checks
// for approval decisions.
package security

import (
	"context"
	"errors"
)

// ErrPermissionDenied is returned when a user's role does not grant an action.
var ErrPermissionDenied = errors.New("permission denied")

// Action is a decision a user can take on an approval item.
type Action string

const (
	ActionView        Action = "view"
	ActionApprove     Action = "approve"
	ActionReject      Action = "reject"
	ActionBulkApprove Action = "bulk_approve"
)

// Authorizer decides whether a user may take an action on an approval type.
type Authorizer interface {
	Authorize(ctx context.Context, userID, approvalType string, action Action) error
}

// AllowAll grants everything. Used when no roles are configured.
type AllowAll struct{}

// Authorize always returns nil.
func (AllowAll) Authorize(context.Context, string, string, Action) error { return nil }
