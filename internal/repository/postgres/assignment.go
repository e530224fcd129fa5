package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/jwalitptl/admin-rbac/internal/model"
	"github.com/jwalitptl/admin-rbac/internal/repository"
	apperrors "github.com/jwalitptl/admin-rbac/pkg/errors"
)

const assignmentColumns = `ur.id, ur.user_id, ur.role_id, r.name AS role_name, ur.assigned_at, ur.assigned_by, ur.revoked_at, ur.revoked_by`

type userRoleRow struct {
	RoleID          uuid.UUID      `db:"role_id"`
	RoleName        string         `db:"role_name"`
	RoleDescription string         `db:"role_description"`
	Permissions     pq.StringArray `db:"permissions"`
	RoleCreatedAt   time.Time      `db:"role_created_at"`
	RoleUpdatedAt   time.Time      `db:"role_updated_at"`
	AssignedAt      time.Time      `db:"assigned_at"`
	AssignedBy      *uuid.UUID     `db:"assigned_by"`
}

func (r userRoleRow) toModel() *model.UserRole {
	role := roleRow{
		ID:          r.RoleID,
		Name:        r.RoleName,
		Description: r.RoleDescription,
		Permissions: r.Permissions,
		CreatedAt:   r.RoleCreatedAt,
		UpdatedAt:   r.RoleUpdatedAt,
	}
	return &model.UserRole{
		Role:       role.toModel(),
		AssignedAt: r.AssignedAt,
		AssignedBy: r.AssignedBy,
	}
}

type assignmentRepository struct {
	BaseRepository
}

func NewAssignmentRepository(db *sqlx.DB) repository.AssignmentRepository {
	return &assignmentRepository{NewBaseRepository(db)}
}

func (r *assignmentRepository) Create(ctx context.Context, a *model.Assignment) error {
	var roleName string
	err := sqlx.GetContext(ctx, r.ext(ctx), &roleName, `SELECT name FROM roles WHERE id = $1`, a.RoleID)
	if errors.Is(err, sql.ErrNoRows) {
		return apperrors.RoleNotFound(a.RoleID.String())
	}
	if err != nil {
		return wrap("get role", err)
	}

	query := `
		INSERT INTO user_roles (id, user_id, role_id, assigned_at, assigned_by)
		VALUES ($1, $2, $3, $4, $5)
	`
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	if a.AssignedAt.IsZero() {
		a.AssignedAt = time.Now().UTC()
	}
	a.RoleName = roleName

	_, err = r.ext(ctx).ExecContext(ctx, query,
		a.ID,
		a.UserID,
		a.RoleID,
		a.AssignedAt,
		a.AssignedBy,
	)
	if isUniqueViolation(err, "user_roles_active_key") {
		return apperrors.AlreadyAssigned(roleName)
	}
	if err != nil {
		return wrap("create assignment", err)
	}
	return nil
}

func (r *assignmentRepository) Revoke(ctx context.Context, userID, roleID uuid.UUID, revokedBy *uuid.UUID, at time.Time) (*model.Assignment, error) {
	query := `
		UPDATE user_roles ur
		SET revoked_at = $1, revoked_by = $2
		FROM roles r
		WHERE r.id = ur.role_id
		  AND ur.user_id = $3
		  AND ur.role_id = $4
		  AND ur.revoked_at IS NULL
		RETURNING ` + assignmentColumns

	var a model.Assignment
	err := sqlx.GetContext(ctx, r.ext(ctx), &a, query, at.UTC(), revokedBy, userID, roleID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.AssignmentNotFound(roleID.String())
	}
	if err != nil {
		return nil, wrap("revoke assignment", err)
	}
	return &a, nil
}

func (r *assignmentRepository) RevokeAllForUser(ctx context.Context, userID uuid.UUID, revokedBy *uuid.UUID, at time.Time) ([]*model.Assignment, error) {
	query := `
		UPDATE user_roles ur
		SET revoked_at = $1, revoked_by = $2
		FROM roles r
		WHERE r.id = ur.role_id
		  AND ur.user_id = $3
		  AND ur.revoked_at IS NULL
		RETURNING ` + assignmentColumns

	var out []*model.Assignment
	if err := sqlx.SelectContext(ctx, r.ext(ctx), &out, query, at.UTC(), revokedBy, userID); err != nil {
		return nil, wrap("revoke assignments", err)
	}
	return out, nil
}

func (r *assignmentRepository) ListActive(ctx context.Context, userID uuid.UUID) ([]*model.Assignment, error) {
	query := `
		SELECT ` + assignmentColumns + `
		FROM user_roles ur
		JOIN roles r ON r.id = ur.role_id
		WHERE ur.user_id = $1 AND ur.revoked_at IS NULL
		ORDER BY ur.assigned_at ASC, r.name ASC
	`
	var out []*model.Assignment
	if err := sqlx.SelectContext(ctx, r.ext(ctx), &out, query, userID); err != nil {
		return nil, wrap("list assignments", err)
	}
	return out, nil
}

const userRoleSelect = `
	SELECT r.id AS role_id, r.name AS role_name, r.description AS role_description, r.permissions,
	       r.created_at AS role_created_at, r.updated_at AS role_updated_at,
	       ur.assigned_at, ur.assigned_by
	FROM user_roles ur
	JOIN roles r ON r.id = ur.role_id
`

func (r *assignmentRepository) ListUserRoles(ctx context.Context, userID uuid.UUID) ([]*model.UserRole, error) {
	query := userRoleSelect + `
		WHERE ur.user_id = $1 AND ur.revoked_at IS NULL
		ORDER BY ur.assigned_at ASC, r.name ASC
	`
	return r.selectUserRoles(ctx, query, userID)
}

func (r *assignmentRepository) ListUserRolesAt(ctx context.Context, userID uuid.UUID, at time.Time) ([]*model.UserRole, error) {
	query := userRoleSelect + `
		WHERE ur.user_id = $1
		  AND ur.assigned_at <= $2
		  AND (ur.revoked_at IS NULL OR ur.revoked_at > $2)
		ORDER BY ur.assigned_at ASC, r.name ASC
	`
	return r.selectUserRoles(ctx, query, userID, at.UTC())
}

func (r *assignmentRepository) selectUserRoles(ctx context.Context, query string, args ...interface{}) ([]*model.UserRole, error) {
	var rows []userRoleRow
	if err := sqlx.SelectContext(ctx, r.ext(ctx), &rows, query, args...); err != nil {
		return nil, wrap("list user roles", err)
	}

	out := make([]*model.UserRole, len(rows))
	for i, row := range rows {
		out[i] = row.toModel()
	}
	return out, nil
}

func (r *assignmentRepository) CountUsersWithRole(ctx context.Context, roleName string) (int64, error) {
	query := `
		SELECT COUNT(DISTINCT ur.user_id)
		FROM user_roles ur
		JOIN roles r ON r.id = ur.role_id
		WHERE r.name = $1 AND ur.revoked_at IS NULL
	`
	var n int64
	if err := sqlx.GetContext(ctx, r.ext(ctx), &n, query, roleName); err != nil {
		return 0, wrap("count role holders", err)
	}
	return n, nil
}
