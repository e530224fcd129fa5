package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/jwalitptl/admin-rbac/internal/model"
	"github.com/jwalitptl/admin-rbac/internal/repository"
	apperrors "github.com/jwalitptl/admin-rbac/pkg/errors"
)

const organizationColumns = `id, name, type, address, phone, email, website, license_number,
	is_verified, verified_at, verified_by, created_at, updated_at, deleted_at`

type organizationRepository struct {
	BaseRepository
}

func NewOrganizationRepository(db *sqlx.DB) repository.OrganizationRepository {
	return &organizationRepository{NewBaseRepository(db)}
}

func (r *organizationRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.Organization, error) {
	query := `SELECT ` + organizationColumns + ` FROM organizations WHERE id = $1 AND deleted_at IS NULL`

	var org model.Organization
	err := sqlx.GetContext(ctx, r.ext(ctx), &org, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NotFound("organization", nil)
	}
	if err != nil {
		return nil, wrap("get organization", err)
	}
	return &org, nil
}

func (r *organizationRepository) List(ctx context.Context, page model.Pagination) ([]*model.Organization, int64, error) {
	var total int64
	if err := sqlx.GetContext(ctx, r.ext(ctx), &total, `SELECT COUNT(*) FROM organizations WHERE deleted_at IS NULL`); err != nil {
		return nil, 0, wrap("count organizations", err)
	}

	query := `
		SELECT ` + organizationColumns + `
		FROM organizations
		WHERE deleted_at IS NULL
		ORDER BY name
		LIMIT $1 OFFSET $2
	`
	var orgs []*model.Organization
	if err := sqlx.SelectContext(ctx, r.ext(ctx), &orgs, query, page.Limit(), page.Offset()); err != nil {
		return nil, 0, wrap("list organizations", err)
	}
	return orgs, total, nil
}

func (r *organizationRepository) SetVerified(ctx context.Context, id uuid.UUID, by *uuid.UUID, at time.Time) error {
	query := `
		UPDATE organizations
		SET is_verified = TRUE, verified_at = $1, verified_by = $2, updated_at = $1
		WHERE id = $3 AND deleted_at IS NULL
	`
	result, err := r.ext(ctx).ExecContext(ctx, query, at.UTC(), by, id)
	if err != nil {
		return wrap("verify organization", err)
	}
	return expectRow(result, "organization")
}

func (r *organizationRepository) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := sqlx.GetContext(ctx, r.ext(ctx), &n, `SELECT COUNT(*) FROM organizations WHERE deleted_at IS NULL`); err != nil {
		return 0, wrap("count organizations", err)
	}
	return n, nil
}

// prefixed qualifies a comma-separated column list with a table alias.
func prefixed(alias, columns string) string {
	parts := strings.Split(columns, ",")
	for i, p := range parts {
		parts[i] = fmt.Sprintf("%s.%s", alias, strings.TrimSpace(p))
	}
	return strings.Join(parts, ", ")
}
