package assignment

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/admin-rbac/internal/model"
	"github.com/jwalitptl/admin-rbac/internal/repository"
	"github.com/jwalitptl/admin-rbac/internal/service/rbac"
	"github.com/jwalitptl/admin-rbac/pkg/logger"
)

// Service manages which users hold which roles. Every change drops the
// user's cached permission set once its transaction ends.
type Service struct {
	assignments repository.AssignmentRepository
	invalidator rbac.Invalidator
	logger      *logger.Logger
	now         func() time.Time
}

// NewService takes the engine as invalidator so that failed cache drops
// make it bypass the cache for the affected user.
func NewService(assignments repository.AssignmentRepository, invalidator rbac.Invalidator, log *logger.Logger) *Service {
	if invalidator == nil {
		invalidator = rbac.NoCache{}
	}
	return &Service{
		assignments: assignments,
		invalidator: invalidator,
		logger:      log,
		now:         time.Now,
	}
}

// AssignRole fails with RoleNotFound for an unknown role and AlreadyAssigned
// if the user already holds it.
func (s *Service) AssignRole(ctx context.Context, userID, roleID uuid.UUID, grantedBy *uuid.UUID) (*model.Assignment, error) {
	a := &model.Assignment{
		UserID:     userID,
		RoleID:     roleID,
		AssignedAt: s.now().UTC(),
		AssignedBy: grantedBy,
	}
	if err := s.assignments.Create(ctx, a); err != nil {
		return nil, err
	}
	s.invalidate(ctx, userID)
	return a, nil
}

// RevokeRole fails with AssignmentNotFound when no active assignment exists.
// The assignment is kept with its revocation time.
func (s *Service) RevokeRole(ctx context.Context, userID, roleID uuid.UUID, revokedBy *uuid.UUID) (*model.Assignment, error) {
	a, err := s.assignments.Revoke(ctx, userID, roleID, revokedBy, s.now().UTC())
	if err != nil {
		return nil, err
	}
	s.invalidate(ctx, userID)
	return a, nil
}

// RevokeAll ends every active assignment of the user.
func (s *Service) RevokeAll(ctx context.Context, userID uuid.UUID, revokedBy *uuid.UUID) ([]*model.Assignment, error) {
	revoked, err := s.assignments.RevokeAllForUser(ctx, userID, revokedBy, s.now().UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to revoke assignments: %w", err)
	}
	s.invalidate(ctx, userID)
	return revoked, nil
}

// ListRoles returns the user's active roles, oldest assignment first.
func (s *Service) ListRoles(ctx context.Context, userID uuid.UUID) ([]*model.Role, error) {
	held, err := s.assignments.ListUserRoles(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list roles: %w", err)
	}
	return rolesOf(held), nil
}

// ListRolesAt returns the roles the user held at t.
func (s *Service) ListRolesAt(ctx context.Context, userID uuid.UUID, at time.Time) ([]*model.Role, error) {
	held, err := s.assignments.ListUserRolesAt(ctx, userID, at)
	if err != nil {
		return nil, fmt.Errorf("failed to list roles: %w", err)
	}
	return rolesOf(held), nil
}

func (s *Service) ListAssignments(ctx context.Context, userID uuid.UUID) ([]*model.Assignment, error) {
	out, err := s.assignments.ListActive(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list assignments: %w", err)
	}
	return out, nil
}

// CountHolders counts users actively holding the named role.
func (s *Service) CountHolders(ctx context.Context, roleName string) (int64, error) {
	n, err := s.assignments.CountUsersWithRole(ctx, roleName)
	if err != nil {
		return 0, fmt.Errorf("failed to count %s holders: %w", roleName, err)
	}
	return n, nil
}

// invalidate runs on rollback as well as commit. The in-memory store makes
// writes visible before commit, so a rolled-back grant may already have been
// resolved and cached.
func (s *Service) invalidate(ctx context.Context, userID uuid.UUID) {
	repository.AfterTx(ctx, func() {
		if err := s.invalidator.InvalidateUser(context.WithoutCancel(ctx), userID); err != nil {
			s.logger.Error(err, "failed to invalidate permission cache", "user_id", userID.String())
		}
	})
}

func rolesOf(held []*model.UserRole) []*model.Role {
	out := make([]*model.Role, len(held))
	for i, ur := range held {
		out[i] = ur.Role
	}
	return out
}
