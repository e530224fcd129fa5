package admin

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/jwalitptl/admin-rbac/internal/model"
	"github.com/jwalitptl/admin-rbac/internal/permission"
)

// AssignRole grants roleRef (an id or a name) to the user.
func (s *Service) AssignRole(ctx context.Context, actor model.Actor, userID uuid.UUID, roleRef string) (*model.Assignment, error) {
	op := operation{
		action:       model.ActionAssignRole,
		resourceType: model.ResourceUserRole,
		resourceID:   userID.String(),
		required:     anyOf(permission.RoleAssign),
	}

	var assigned *model.Assignment
	err := s.run(ctx, actor, op, func(ctx context.Context) (*change, error) {
		if _, err := s.Users.GetByID(ctx, userID); err != nil {
			return nil, err
		}
		r, err := s.Roles.ResolveRole(ctx, roleRef)
		if err != nil {
			return nil, err
		}

		a, err := s.Assignments.AssignRole(ctx, userID, r.ID, actor.UserID)
		if err != nil {
			return nil, err
		}
		assigned = a
		return &change{
			newValue: map[string]interface{}{"user_id": userID, "role": r.Name},
			details:  fmt.Sprintf("Assigned role %s to user %s", r.Name, userID),
		}, nil
	})
	if err != nil {
		return nil, err
	}
	return assigned, nil
}

// RevokeRole withdraws roleRef from the user. The assignment is kept as
// history.
func (s *Service) RevokeRole(ctx context.Context, actor model.Actor, userID uuid.UUID, roleRef string) error {
	op := operation{
		action:       model.ActionRevokeRole,
		resourceType: model.ResourceUserRole,
		resourceID:   userID.String(),
		required:     anyOf(permission.RoleAssign),
	}

	return s.run(ctx, actor, op, func(ctx context.Context) (*change, error) {
		r, err := s.Roles.ResolveRole(ctx, roleRef)
		if err != nil {
			return nil, err
		}
		if _, err := s.Assignments.RevokeRole(ctx, userID, r.ID, actor.UserID); err != nil {
			return nil, err
		}
		return &change{
			oldValue: map[string]interface{}{"user_id": userID, "role": r.Name},
			details:  fmt.Sprintf("Revoked role %s from user %s", r.Name, userID),
		}, nil
	})
}

// CreateRole defines a new role from catalog permissions.
func (s *Service) CreateRole(ctx context.Context, actor model.Actor, req model.CreateRoleRequest) (*model.Role, error) {
	op := operation{
		action:       model.ActionCreateRole,
		resourceType: model.ResourceRole,
		required:     anyOf(permission.RoleCreate),
	}

	var created *model.Role
	err := s.run(ctx, actor, op, func(ctx context.Context) (*change, error) {
		perms, err := s.Roles.Catalog().ValidateStrings(req.Permissions)
		if err != nil {
			return nil, err
		}
		r, err := s.Roles.CreateRole(ctx, req.Name, req.Description, perms)
		if err != nil {
			return nil, err
		}
		created = r
		return &change{
			resourceID: r.ID.String(),
			newValue:   r,
			details:    fmt.Sprintf("Created role %s", r.Name),
		}, nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// UpdateRolePermissions replaces a role's permission set. It takes effect
// for every holder on their next authorization.
func (s *Service) UpdateRolePermissions(ctx context.Context, actor model.Actor, roleID uuid.UUID, raw []string) (*model.Role, error) {
	op := operation{
		action:       model.ActionUpdateRolePermissions,
		resourceType: model.ResourceRole,
		resourceID:   roleID.String(),
		required:     anyOf(permission.RoleUpdate),
	}

	var updated *model.Role
	err := s.run(ctx, actor, op, func(ctx context.Context) (*change, error) {
		perms, err := s.Roles.Catalog().ValidateStrings(raw)
		if err != nil {
			return nil, err
		}
		before, err := s.Roles.GetRole(ctx, roleID)
		if err != nil {
			return nil, err
		}
		r, err := s.Roles.UpdateRolePermissions(ctx, roleID, perms)
		if err != nil {
			return nil, err
		}
		updated = r
		return &change{
			oldValue: map[string]interface{}{"permissions": before.Permissions},
			newValue: map[string]interface{}{"permissions": r.Permissions},
			details:  fmt.Sprintf("Updated permissions of role %s", r.Name),
		}, nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}
