package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/admin-rbac/internal/model"
	"github.com/jwalitptl/admin-rbac/internal/permission"
)

// All repository interfaces in one file
type (
	// Transactor runs fn as one unit of work. Repositories called with the
	// context passed to fn participate in the same transaction. Calls nest by
	// joining the outer transaction.
	Transactor interface {
		WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
	}

	// RoleRepository persists roles. Create fails with DuplicateRole, lookups
	// with NotFound.
	RoleRepository interface {
		Create(ctx context.Context, role *model.Role) error
		GetByID(ctx context.Context, id uuid.UUID) (*model.Role, error)
		GetByName(ctx context.Context, name string) (*model.Role, error)
		List(ctx context.Context) ([]*model.Role, error)
		UpdatePermissions(ctx context.Context, id uuid.UUID, perms []permission.Permission) (*model.Role, error)
	}

	// AssignmentRepository persists user-role links. Revocation is soft.
	AssignmentRepository interface {
		Create(ctx context.Context, a *model.Assignment) error
		Revoke(ctx context.Context, userID, roleID uuid.UUID, revokedBy *uuid.UUID, at time.Time) (*model.Assignment, error)
		RevokeAllForUser(ctx context.Context, userID uuid.UUID, revokedBy *uuid.UUID, at time.Time) ([]*model.Assignment, error)
		ListActive(ctx context.Context, userID uuid.UUID) ([]*model.Assignment, error)
		ListUserRoles(ctx context.Context, userID uuid.UUID) ([]*model.UserRole, error)
		ListUserRolesAt(ctx context.Context, userID uuid.UUID, at time.Time) ([]*model.UserRole, error)
		CountUsersWithRole(ctx context.Context, roleName string) (int64, error)
	}

	// AuditRepository is append-only. Create assigns Seq.
	AuditRepository interface {
		Create(ctx context.Context, rec *model.AuditRecord) error
		List(ctx context.Context, filter model.AuditFilter, page model.Pagination) ([]*model.AuditRecord, int64, error)
	}

	UserRepository interface {
		Create(ctx context.Context, user *model.User) error
		GetByID(ctx context.Context, id uuid.UUID) (*model.User, error)
		GetByEmail(ctx context.Context, email string) (*model.User, error)
		Update(ctx context.Context, user *model.User) error
		SoftDelete(ctx context.Context, id uuid.UUID, at time.Time) error
		List(ctx context.Context, filter model.UserFilter) ([]*model.User, int64, error)
		Count(ctx context.Context) (int64, error)
		ListPendingDoctors(ctx context.Context) ([]*model.User, error)
		ApproveDoctor(ctx context.Context, id uuid.UUID, by *uuid.UUID, at time.Time) error
	}

	OrganizationRepository interface {
		GetByID(ctx context.Context, id uuid.UUID) (*model.Organization, error)
		List(ctx context.Context, page model.Pagination) ([]*model.Organization, int64, error)
		SetVerified(ctx context.Context, id uuid.UUID, by *uuid.UUID, at time.Time) error
		Count(ctx context.Context) (int64, error)
	}
)
