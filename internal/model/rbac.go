package model

import (
	"regexp"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/admin-rbac/internal/permission"
)

var roleNamePattern = regexp.MustCompile(`^[a-z][a-z0-9_]{1,63}$`)

// ValidRoleName reports whether name is lower snake case, 2 to 64 chars.
func ValidRoleName(name string) bool {
	return roleNamePattern.MatchString(name)
}

// Role is a named, persisted bundle of permissions.
type Role struct {
	ID          uuid.UUID               `json:"id" db:"id"`
	Name        string                  `json:"name" db:"name"`
	Description string                  `json:"description" db:"description"`
	Permissions []permission.Permission `json:"permissions" db:"-"`
	CreatedAt   time.Time               `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time               `json:"updated_at" db:"updated_at"`
}

func (r *Role) PermissionSet() permission.Set {
	return permission.NewSet(r.Permissions...)
}

// Clone returns a deep copy so callers cannot alias store state.
func (r *Role) Clone() *Role {
	cp := *r
	cp.Permissions = append([]permission.Permission(nil), r.Permissions...)
	return &cp
}

// Assignment is a user's holding of a role. Revoked assignments are kept
// for history with RevokedAt set.
type Assignment struct {
	ID         uuid.UUID  `json:"id" db:"id"`
	UserID     uuid.UUID  `json:"user_id" db:"user_id"`
	RoleID     uuid.UUID  `json:"role_id" db:"role_id"`
	RoleName   string     `json:"role_name,omitempty" db:"role_name"`
	AssignedAt time.Time  `json:"assigned_at" db:"assigned_at"`
	AssignedBy *uuid.UUID `json:"assigned_by,omitempty" db:"assigned_by"`
	RevokedAt  *time.Time `json:"revoked_at,omitempty" db:"revoked_at"`
	RevokedBy  *uuid.UUID `json:"revoked_by,omitempty" db:"revoked_by"`
}

func (a *Assignment) Active() bool {
	return a.RevokedAt == nil
}

// HeldAt reports whether the assignment was in force at t.
func (a *Assignment) HeldAt(t time.Time) bool {
	if a.AssignedAt.After(t) {
		return false
	}
	return a.RevokedAt == nil || a.RevokedAt.After(t)
}

// UserRole is a role as seen from one user, with its provenance.
type UserRole struct {
	Role       *Role      `json:"role"`
	AssignedAt time.Time  `json:"assigned_at"`
	AssignedBy *uuid.UUID `json:"assigned_by,omitempty"`
}

// DecisionReason explains an authorization outcome.
type DecisionReason string

const (
	ReasonGranted           DecisionReason = "granted"
	ReasonSystem            DecisionReason = "system"
	ReasonNoRoles           DecisionReason = "no_roles"
	ReasonMissingPermission DecisionReason = "missing_permission"
	ReasonEmptyRequirement  DecisionReason = "empty_requirement"
	ReasonStoreUnavailable  DecisionReason = "store_unavailable"
)

// Decision is the result of an authorization query. Denial is a value,
// not an error.
type Decision struct {
	Granted bool                    `json:"granted"`
	Matched []permission.Permission `json:"matched,omitempty"`
	Reason  DecisionReason          `json:"reason"`
}

func Grant(matched []permission.Permission) Decision {
	return Decision{Granted: true, Matched: matched, Reason: ReasonGranted}
}

func Deny(reason DecisionReason) Decision {
	return Decision{Granted: false, Reason: reason}
}

// CreateRoleRequest is the payload for defining a new role.
type CreateRoleRequest struct {
	Name        string   `json:"name" binding:"required,role_name"`
	Description string   `json:"description" binding:"max=500"`
	Permissions []string `json:"permissions" binding:"required,dive,permission"`
}

// UpdateRolePermissionsRequest replaces a role's permission set.
type UpdateRolePermissionsRequest struct {
	Permissions []string `json:"permissions" binding:"required,dive,permission"`
}

// RoleAssignmentRequest names the user and role for assign/revoke.
type RoleAssignmentRequest struct {
	UserID   uuid.UUID `json:"user_id" binding:"required"`
	RoleName string    `json:"role_name" binding:"required,role_name"`
}

// CheckRequest asks whether the caller holds any of the listed permissions.
type CheckRequest struct {
	Permissions []string `json:"permissions" binding:"required,min=1,dive,permission"`
}
