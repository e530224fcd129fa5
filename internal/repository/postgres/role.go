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
	"github.com/jwalitptl/admin-rbac/internal/permission"
	"github.com/jwalitptl/admin-rbac/internal/repository"
	apperrors "github.com/jwalitptl/admin-rbac/pkg/errors"
)

const roleColumns = `id, name, description, permissions, created_at, updated_at`

type roleRow struct {
	ID          uuid.UUID      `db:"id"`
	Name        string         `db:"name"`
	Description string         `db:"description"`
	Permissions pq.StringArray `db:"permissions"`
	CreatedAt   time.Time      `db:"created_at"`
	UpdatedAt   time.Time      `db:"updated_at"`
}

func (r roleRow) toModel() *model.Role {
	perms := make([]permission.Permission, len(r.Permissions))
	for i, p := range r.Permissions {
		perms[i] = permission.Permission(p)
	}
	return &model.Role{
		ID:          r.ID,
		Name:        r.Name,
		Description: r.Description,
		Permissions: perms,
		CreatedAt:   r.CreatedAt,
		UpdatedAt:   r.UpdatedAt,
	}
}

func permissionArray(perms []permission.Permission) pq.StringArray {
	out := make(pq.StringArray, len(perms))
	for i, p := range perms {
		out[i] = string(p)
	}
	return out
}

type roleRepository struct {
	BaseRepository
}

func NewRoleRepository(db *sqlx.DB) repository.RoleRepository {
	return &roleRepository{NewBaseRepository(db)}
}

func (r *roleRepository) Create(ctx context.Context, role *model.Role) error {
	query := `
		INSERT INTO roles (id, name, description, permissions, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	if role.ID == uuid.Nil {
		role.ID = uuid.New()
	}
	now := time.Now().UTC()
	role.CreatedAt = now
	role.UpdatedAt = now

	_, err := r.ext(ctx).ExecContext(ctx, query,
		role.ID,
		role.Name,
		role.Description,
		permissionArray(role.Permissions),
		role.CreatedAt,
		role.UpdatedAt,
	)
	if isUniqueViolation(err, "roles_name_key") {
		return apperrors.DuplicateRole(role.Name)
	}
	if err != nil {
		return wrap("create role", err)
	}
	return nil
}

func (r *roleRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.Role, error) {
	query := `SELECT ` + roleColumns + ` FROM roles WHERE id = $1`

	var row roleRow
	err := sqlx.GetContext(ctx, r.ext(ctx), &row, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.RoleNotFound(id.String())
	}
	if err != nil {
		return nil, wrap("get role", err)
	}
	return row.toModel(), nil
}

func (r *roleRepository) GetByName(ctx context.Context, name string) (*model.Role, error) {
	query := `SELECT ` + roleColumns + ` FROM roles WHERE name = $1`

	var row roleRow
	err := sqlx.GetContext(ctx, r.ext(ctx), &row, query, name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.RoleNotFound(name)
	}
	if err != nil {
		return nil, wrap("get role", err)
	}
	return row.toModel(), nil
}

func (r *roleRepository) List(ctx context.Context) ([]*model.Role, error) {
	query := `SELECT ` + roleColumns + ` FROM roles ORDER BY name`

	var rows []roleRow
	if err := sqlx.SelectContext(ctx, r.ext(ctx), &rows, query); err != nil {
		return nil, wrap("list roles", err)
	}

	roles := make([]*model.Role, len(rows))
	for i, row := range rows {
		roles[i] = row.toModel()
	}
	return roles, nil
}

// UpdatePermissions swaps the whole array in one statement, so readers see
// either the old or the new set.
func (r *roleRepository) UpdatePermissions(ctx context.Context, id uuid.UUID, perms []permission.Permission) (*model.Role, error) {
	query := `
		UPDATE roles
		SET permissions = $1, updated_at = $2
		WHERE id = $3
		RETURNING ` + roleColumns

	var row roleRow
	err := sqlx.GetContext(ctx, r.ext(ctx), &row, query, permissionArray(perms), time.Now().UTC(), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.RoleNotFound(id.String())
	}
	if err != nil {
		return nil, wrap("update role permissions", err)
	}
	return row.toModel(), nil
}
