package admin

import (
	"context"

	"github.com/google/uuid"

	"github.com/jwalitptl/admin-rbac/internal/model"
	"github.com/jwalitptl/admin-rbac/internal/permission"
)

// Reads are authorized like mutations but only a denial is audited.

func (s *Service) GetUser(ctx context.Context, actor model.Actor, id uuid.UUID) (*model.User, error) {
	op := operation{
		action:       model.ActionReadUser,
		resourceType: model.ResourceUser,
		resourceID:   id.String(),
		required:     anyOf(permission.UserRead, permission.UserList),
	}
	if err := s.authorize(ctx, actor, op); err != nil {
		return nil, err
	}
	return s.Users.GetByID(ctx, id)
}

func (s *Service) ListUsers(ctx context.Context, actor model.Actor, filter model.UserFilter) ([]*model.User, int64, error) {
	op := operation{
		action:       model.ActionListUsers,
		resourceType: model.ResourceUser,
		required:     anyOf(permission.UserList),
	}
	if err := s.authorize(ctx, actor, op); err != nil {
		return nil, 0, err
	}
	filter.Pagination = filter.Pagination.Normalize(DefaultPageSize)
	return s.Users.List(ctx, filter)
}

// GetUserRoles lists the roles the user currently holds.
func (s *Service) GetUserRoles(ctx context.Context, actor model.Actor, id uuid.UUID) ([]*model.UserRole, error) {
	op := operation{
		action:       model.ActionReadUser,
		resourceType: model.ResourceUserRole,
		resourceID:   id.String(),
		required:     anyOf(permission.RoleRead, permission.UserRead),
	}
	if err := s.authorize(ctx, actor, op); err != nil {
		return nil, err
	}
	if _, err := s.Users.GetByID(ctx, id); err != nil {
		return nil, err
	}
	return s.Engine.ListUserRoles(ctx, id)
}

func (s *Service) PendingDoctors(ctx context.Context, actor model.Actor) ([]*model.User, error) {
	op := operation{
		action:       model.ActionListPendingDoctors,
		resourceType: model.ResourceDoctor,
		required:     anyOf(permission.DoctorList),
	}
	if err := s.authorize(ctx, actor, op); err != nil {
		return nil, err
	}
	return s.Users.ListPendingDoctors(ctx)
}

func (s *Service) ListOrganizations(ctx context.Context, actor model.Actor, page model.Pagination) ([]*model.Organization, int64, error) {
	op := operation{
		action:       model.ActionListOrganizations,
		resourceType: model.ResourceOrganization,
		required:     anyOf(permission.OrganizationRead),
	}
	if err := s.authorize(ctx, actor, op); err != nil {
		return nil, 0, err
	}
	return s.Organizations.List(ctx, page.Normalize(DefaultPageSize))
}

// Dashboard summarises users, roles and organizations.
func (s *Service) Dashboard(ctx context.Context, actor model.Actor) (*model.DashboardStats, error) {
	op := operation{
		action:       model.ActionReadDashboard,
		resourceType: model.ResourceDashboard,
		required:     anyOf(permission.UserList, permission.OrganizationRead),
	}
	if err := s.authorize(ctx, actor, op); err != nil {
		return nil, err
	}

	var stats model.DashboardStats
	var err error
	if stats.TotalUsers, err = s.Users.Count(ctx); err != nil {
		return nil, err
	}
	if stats.TotalDoctors, err = s.Assignments.CountHolders(ctx, permission.RoleDoctor); err != nil {
		return nil, err
	}
	if stats.TotalPatients, err = s.Assignments.CountHolders(ctx, permission.RolePatient); err != nil {
		return nil, err
	}
	if stats.TotalOrganizations, err = s.Organizations.Count(ctx); err != nil {
		return nil, err
	}
	pending, err := s.Users.ListPendingDoctors(ctx)
	if err != nil {
		return nil, err
	}
	stats.PendingDoctors = int64(len(pending))
	return &stats, nil
}
