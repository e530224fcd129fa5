package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/jwalitptl/admin-rbac/internal/model"
	"github.com/jwalitptl/admin-rbac/internal/permission"
	"github.com/jwalitptl/admin-rbac/internal/repository"
	apperrors "github.com/jwalitptl/admin-rbac/pkg/errors"
)

const userColumns = `id, organization_id, name, email, password_hash, age, phone,
	doctor_approved_at, doctor_approved_by, created_at, updated_at, deleted_at`

type userRepository struct {
	BaseRepository
}

func NewUserRepository(db *sqlx.DB) repository.UserRepository {
	return &userRepository{NewBaseRepository(db)}
}

func (r *userRepository) Create(ctx context.Context, user *model.User) error {
	query := `
		INSERT INTO users (id, organization_id, name, email, password_hash, age, phone, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	if user.ID == uuid.Nil {
		user.ID = uuid.New()
	}
	now := time.Now().UTC()
	user.CreatedAt = now
	user.UpdatedAt = now

	_, err := r.ext(ctx).ExecContext(ctx, query,
		user.ID,
		user.OrganizationID,
		user.Name,
		user.Email,
		user.PasswordHash,
		user.Age,
		user.Phone,
		user.CreatedAt,
		user.UpdatedAt,
	)
	if isUniqueViolation(err, "users_email_active_key") {
		return apperrors.Conflict("email already registered")
	}
	if err != nil {
		return wrap("create user", err)
	}
	return nil
}

func (r *userRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1 AND deleted_at IS NULL`

	var user model.User
	err := sqlx.GetContext(ctx, r.ext(ctx), &user, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NotFound("user", nil)
	}
	if err != nil {
		return nil, wrap("get user", err)
	}
	return &user, nil
}

func (r *userRepository) GetByEmail(ctx context.Context, email string) (*model.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE lower(email) = lower($1) AND deleted_at IS NULL`

	var user model.User
	err := sqlx.GetContext(ctx, r.ext(ctx), &user, query, email)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NotFound("user", nil)
	}
	if err != nil {
		return nil, wrap("get user", err)
	}
	return &user, nil
}

func (r *userRepository) Update(ctx context.Context, user *model.User) error {
	query := `
		UPDATE users
		SET name = $1, email = $2, age = $3, phone = $4, updated_at = $5
		WHERE id = $6 AND deleted_at IS NULL
	`
	user.UpdatedAt = time.Now().UTC()

	result, err := r.ext(ctx).ExecContext(ctx, query,
		user.Name,
		user.Email,
		user.Age,
		user.Phone,
		user.UpdatedAt,
		user.ID,
	)
	if isUniqueViolation(err, "users_email_active_key") {
		return apperrors.Conflict("email already registered")
	}
	if err != nil {
		return wrap("update user", err)
	}
	return expectRow(result, "user")
}

func (r *userRepository) SoftDelete(ctx context.Context, id uuid.UUID, at time.Time) error {
	query := `UPDATE users SET deleted_at = $1, updated_at = $1 WHERE id = $2 AND deleted_at IS NULL`

	result, err := r.ext(ctx).ExecContext(ctx, query, at.UTC(), id)
	if err != nil {
		return wrap("delete user", err)
	}
	return expectRow(result, "user")
}

func (r *userRepository) List(ctx context.Context, filter model.UserFilter) ([]*model.User, int64, error) {
	where := ` WHERE deleted_at IS NULL`
	var args []interface{}
	if filter.SearchTerm != "" {
		args = append(args, "%"+filter.SearchTerm+"%")
		where += fmt.Sprintf(" AND (name ILIKE $%d OR email ILIKE $%d)", len(args), len(args))
	}

	var total int64
	if err := sqlx.GetContext(ctx, r.ext(ctx), &total, "SELECT COUNT(*) FROM users"+where, args...); err != nil {
		return nil, 0, wrap("count users", err)
	}

	args = append(args, filter.Limit(), filter.Offset())
	query := "SELECT " + userColumns + " FROM users" + where +
		fmt.Sprintf(" ORDER BY created_at DESC, email ASC LIMIT $%d OFFSET $%d", len(args)-1, len(args))

	var users []*model.User
	if err := sqlx.SelectContext(ctx, r.ext(ctx), &users, query, args...); err != nil {
		return nil, 0, wrap("list users", err)
	}
	return users, total, nil
}

func (r *userRepository) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := sqlx.GetContext(ctx, r.ext(ctx), &n, `SELECT COUNT(*) FROM users WHERE deleted_at IS NULL`); err != nil {
		return 0, wrap("count users", err)
	}
	return n, nil
}

func (r *userRepository) ListPendingDoctors(ctx context.Context) ([]*model.User, error) {
	query := `
		SELECT ` + prefixed("u", userColumns) + `
		FROM users u
		WHERE u.deleted_at IS NULL
		  AND u.doctor_approved_at IS NULL
		  AND EXISTS (
			SELECT 1 FROM user_roles ur
			JOIN roles r ON r.id = ur.role_id
			WHERE ur.user_id = u.id AND ur.revoked_at IS NULL AND r.name = $1
		  )
		ORDER BY u.created_at ASC
	`
	var users []*model.User
	if err := sqlx.SelectContext(ctx, r.ext(ctx), &users, query, permission.RoleDoctor); err != nil {
		return nil, wrap("list pending doctors", err)
	}
	return users, nil
}

func (r *userRepository) ApproveDoctor(ctx context.Context, id uuid.UUID, by *uuid.UUID, at time.Time) error {
	query := `
		UPDATE users
		SET doctor_approved_at = $1, doctor_approved_by = $2, updated_at = $1
		WHERE id = $3 AND deleted_at IS NULL
	`
	result, err := r.ext(ctx).ExecContext(ctx, query, at.UTC(), by, id)
	if err != nil {
		return wrap("approve doctor", err)
	}
	return expectRow(result, "user")
}

func expectRow(result sql.Result, resource string) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return apperrors.NotFound(resource, nil)
	}
	return nil
}
