package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Outcome of an audited action.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeDenied  Outcome = "denied"
	OutcomeFailed  Outcome = "failed"
)

func (o Outcome) Valid() bool {
	switch o {
	case OutcomeSuccess, OutcomeDenied, OutcomeFailed:
		return true
	}
	return false
}

// AuditRecord is an immutable log entry. OldValue and NewValue are opaque
// snapshots stored and returned verbatim.
type AuditRecord struct {
	ID           uuid.UUID       `json:"id" db:"id"`
	Seq          int64           `json:"seq" db:"seq"`
	ActorID      *uuid.UUID      `json:"actor_id" db:"actor_id"`
	Action       string          `json:"action" db:"action"`
	ResourceType string          `json:"resource_type" db:"resource_type"`
	ResourceID   *string         `json:"resource_id" db:"resource_id"`
	OldValue     json.RawMessage `json:"old_value,omitempty" db:"old_value"`
	NewValue     json.RawMessage `json:"new_value,omitempty" db:"new_value"`
	Outcome      Outcome         `json:"outcome" db:"outcome"`
	Origin       *string         `json:"origin" db:"origin"`
	UserAgent    string          `json:"user_agent,omitempty" db:"user_agent"`
	Details      string          `json:"details,omitempty" db:"details"`
	CreatedAt    time.Time       `json:"created_at" db:"created_at"`
}

// AuditFilter narrows QueryAll. Zero values match everything.
type AuditFilter struct {
	ActorID      *uuid.UUID `form:"-"`
	Action       string     `form:"action"`
	ResourceType string     `form:"resource_type"`
	ResourceID   string     `form:"resource_id"`
	Outcome      Outcome    `form:"outcome"`
	From         *time.Time `form:"from" time_format:"2006-01-02T15:04:05Z07:00"`
	To           *time.Time `form:"to" time_format:"2006-01-02T15:04:05Z07:00"`
}

// AuditPage is one page of records, newest first.
type AuditPage struct {
	Records  []*AuditRecord `json:"records"`
	Total    int64          `json:"total"`
	Page     int            `json:"page"`
	PageSize int            `json:"page_size"`
}

const (
	// Actions
	ActionCreateUser            = "create_user"
	ActionUpdateUser            = "update_user"
	ActionDeleteUser            = "delete_user"
	ActionAssignRole            = "assign_role"
	ActionRevokeRole            = "revoke_role"
	ActionApproveDoctor         = "approve_doctor"
	ActionVerifyOrganization    = "verify_organization"
	ActionCreateRole            = "create_role"
	ActionUpdateRolePermissions = "update_role_permissions"
	ActionSeedRole              = "seed_role"
	ActionReadUser              = "read_user"
	ActionListUsers             = "list_users"
	ActionReadDashboard         = "read_dashboard"
	ActionListPendingDoctors    = "list_pending_doctors"
	ActionListOrganizations     = "list_organizations"
	ActionAccess                = "access"
	ActionLogin                 = "login"

	// Resource types
	ResourceUser         = "user"
	ResourceUserRole     = "user_role"
	ResourceRole         = "role"
	ResourceDoctor       = "doctor"
	ResourceOrganization = "organization"
	ResourceDashboard    = "dashboard"
	ResourceRoute        = "route"
	ResourceSession      = "session"
)
