package role

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/jwalitptl/admin-rbac/internal/model"
	"github.com/jwalitptl/admin-rbac/internal/permission"
	"github.com/jwalitptl/admin-rbac/internal/repository"
	"github.com/jwalitptl/admin-rbac/internal/service/audit"
	"github.com/jwalitptl/admin-rbac/internal/service/rbac"
	apperrors "github.com/jwalitptl/admin-rbac/pkg/errors"
	"github.com/jwalitptl/admin-rbac/pkg/logger"
)

type Service struct {
	tx          repository.Transactor
	roles       repository.RoleRepository
	catalog     *permission.Catalog
	invalidator rbac.Invalidator
	auditor     *audit.Service
	logger      *logger.Logger
}

func NewService(
	tx repository.Transactor,
	roles repository.RoleRepository,
	catalog *permission.Catalog,
	invalidator rbac.Invalidator,
	auditor *audit.Service,
	log *logger.Logger,
) *Service {
	if invalidator == nil {
		invalidator = rbac.NoCache{}
	}
	return &Service{
		tx:          tx,
		roles:       roles,
		catalog:     catalog,
		invalidator: invalidator,
		auditor:     auditor,
		logger:      log,
	}
}

func (s *Service) Catalog() *permission.Catalog {
	return s.catalog
}

// CreateRole persists a new role after checking its permissions against the
// catalog.
func (s *Service) CreateRole(ctx context.Context, name, description string, perms []permission.Permission) (*model.Role, error) {
	name = strings.TrimSpace(name)
	if !model.ValidRoleName(name) {
		return nil, apperrors.BadRequest(fmt.Sprintf("invalid role name %q", name), nil)
	}
	if err := s.catalog.Validate(perms...); err != nil {
		return nil, err
	}

	role := &model.Role{
		Name:        name,
		Description: description,
		Permissions: permission.NewSet(perms...).Slice(),
	}
	if err := s.roles.Create(ctx, role); err != nil {
		return nil, err
	}
	return role, nil
}

func (s *Service) GetRole(ctx context.Context, id uuid.UUID) (*model.Role, error) {
	return s.roles.GetByID(ctx, id)
}

func (s *Service) GetRoleByName(ctx context.Context, name string) (*model.Role, error) {
	return s.roles.GetByName(ctx, name)
}

// ResolveRole accepts either a role id or a role name.
func (s *Service) ResolveRole(ctx context.Context, ref string) (*model.Role, error) {
	if id, err := uuid.Parse(ref); err == nil {
		return s.roles.GetByID(ctx, id)
	}
	return s.roles.GetByName(ctx, ref)
}

func (s *Service) ListRoles(ctx context.Context) ([]*model.Role, error) {
	roles, err := s.roles.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list roles: %w", err)
	}
	return roles, nil
}

// UpdateRolePermissions replaces the role's set in one write. Every cached
// permission set is dropped once the transaction ends, since any user may
// hold the role.
func (s *Service) UpdateRolePermissions(ctx context.Context, id uuid.UUID, perms []permission.Permission) (*model.Role, error) {
	if err := s.catalog.Validate(perms...); err != nil {
		return nil, err
	}

	role, err := s.roles.UpdatePermissions(ctx, id, permission.NewSet(perms...).Slice())
	if err != nil {
		return nil, err
	}

	repository.AfterTx(ctx, func() {
		if err := s.invalidator.InvalidateAll(context.WithoutCancel(ctx)); err != nil {
			s.logger.Error(err, "failed to invalidate permission cache", "role_id", id.String())
		}
	})
	return role, nil
}
