package security

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
)

// Role grants a set of actions on a set of approval types.
type Role struct {
	Name          string   `json:"name" yaml:"name"`
	ApprovalTypes []string `json:"approval_types" yaml:"approval_types"` // "*" matches every type.
	Actions       []Action `json:"actions" yaml:"actions"`
}

// RBACConfig is the full role-based access control configuration.
type RBACConfig struct {
	Roles map[string]Role `json:"roles" yaml:"roles"`

	// UserRoles maps user ID to role name.
	UserRoles map[string]string `json:"user_roles" yaml:"user_roles"`

	// DefaultRole applies to users not in UserRoles. Empty means deny.
	DefaultRole string `json:"default_role" yaml:"default_role"`
}

// RBAC enforces role-based access control with default-deny semantics.
// Safe for concurrent use.
type RBAC struct {
	mu          sync.RWMutex
	roles       map[string]Role
	userRoles   map[string]string
	defaultRole string
	logger      *slog.Logger
}

// NewRBAC creates an RBAC enforcer from the given configuration.
func NewRBAC(cfg RBACConfig, logger *slog.Logger) *RBAC {
	if logger == nil {
		logger = slog.Default()
	}
	return &RBAC{
		roles:       cfg.Roles,
		userRoles:   cfg.UserRoles,
		defaultRole: cfg.DefaultRole,
		logger:      logger,
	}
}

// Authorize returns nil if the user's role covers both the approval type and the action.
// No role or a missing grant means denied.
func (r *RBAC) Authorize(ctx context.Context, userID, approvalType string, action Action) error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	role, ok := r.resolveRole(userID)
	if !ok {
		r.logger.WarnContext(ctx, "permission denied: no role found",
			slog.String("user_id", userID),
			slog.String("action", string(action)),
		)
		return fmt.Errorf("%w: user %q has no assigned role", ErrPermissionDenied, userID)
	}

	if !roleCoversType(role, approvalType) {
		r.logger.WarnContext(ctx, "permission denied: approval type not in role",
			slog.String("user_id", userID),
			slog.String("role", role.Name),
			slog.String("approval_type", approvalType),
		)
		return fmt.Errorf("%w: role %q does not cover approval type %q", ErrPermissionDenied, role.Name, approvalType)
	}

	if !slices.Contains(role.Actions, action) {
		r.logger.WarnContext(ctx, "permission denied: action not in role",
			slog.String("user_id", userID),
			slog.String("role", role.Name),
			slog.String("action", string(action)),
		)
		return fmt.Errorf("%w: role %q does not include action %q", ErrPermissionDenied, role.Name, action)
	}

	return nil
}

// SetUserRole assigns a role at runtime.
func (r *RBAC) SetUserRole(userID, roleName string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.userRoles == nil {
		r.userRoles = make(map[string]string)
	}
	r.userRoles[userID] = roleName
}

// resolveRole returns the role for the user, falling back to defaultRole.
func (r *RBAC) resolveRole(userID string) (Role, bool) {
	roleName, ok := r.userRoles[userID]
	if !ok {
		roleName = r.defaultRole
	}
	if roleName == "" {
		return Role{}, false
	}
	role, ok := r.roles[roleName]
	return role, ok
}

func roleCoversType(role Role, approvalType string) bool {
	for _, t := range role.ApprovalTypes {
		if t == "*" || t == approvalType {
			return true
		}
	}
	return false
}
