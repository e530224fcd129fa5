package admin

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/admin-rbac/internal/model"
	"github.com/jwalitptl/admin-rbac/internal/permission"
	apperrors "github.com/jwalitptl/admin-rbac/pkg/errors"
)

// CreateUser creates an account and assigns its initial role, patient by
// default. Choosing any other role also requires role.assign.
func (s *Service) CreateUser(ctx context.Context, actor model.Actor, req model.CreateUserRequest) (*model.User, error) {
	op := operation{
		action:       model.ActionCreateUser,
		resourceType: model.ResourceUser,
		required:     anyOf(permission.UserCreate),
	}
	if err := s.authorize(ctx, actor, op); err != nil {
		return nil, err
	}

	roleName := req.Role
	if roleName == "" {
		roleName = permission.RolePatient
	}
	if roleName != permission.RolePatient {
		// A second check, so a user.create holder cannot mint admins.
		escalation := op
		escalation.required = anyOf(permission.RoleAssign)
		if err := s.authorize(ctx, actor, escalation); err != nil {
			return nil, err
		}
	}

	var created *model.User
	err := s.apply(ctx, actor, op, func(ctx context.Context) (*change, error) {
		email := strings.ToLower(strings.TrimSpace(req.Email))
		if _, err := s.Users.GetByEmail(ctx, email); err == nil {
			return nil, apperrors.Conflict("email already registered")
		} else if !errors.Is(err, apperrors.ErrNotFound) {
			return nil, err
		}

		r, err := s.Roles.GetRoleByName(ctx, roleName)
		if err != nil {
			return nil, err
		}

		hash, err := s.Hasher.Hash(req.Password)
		if err != nil {
			return nil, err
		}

		user := &model.User{
			OrganizationID: req.OrganizationID,
			Name:           strings.TrimSpace(req.Name),
			Email:          email,
			PasswordHash:   hash,
			Age:            req.Age,
			Phone:          req.Phone,
		}
		if err := s.Users.Create(ctx, user); err != nil {
			return nil, err
		}
		if _, err := s.Assignments.AssignRole(ctx, user.ID, r.ID, actor.UserID); err != nil {
			return nil, err
		}

		created = user
		return &change{
			resourceID: user.ID.String(),
			newValue: struct {
				model.UserSnapshot
				Role string `json:"role"`
			}{user.Snapshot(), r.Name},
			details: fmt.Sprintf("Created user %s", user.ID),
		}, nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// UpdateUser applies the non-nil fields of req.
func (s *Service) UpdateUser(ctx context.Context, actor model.Actor, id uuid.UUID, req model.UpdateUserRequest) (*model.User, error) {
	op := operation{
		action:       model.ActionUpdateUser,
		resourceType: model.ResourceUser,
		resourceID:   id.String(),
		required:     anyOf(permission.UserUpdate),
	}

	var updated *model.User
	err := s.run(ctx, actor, op, func(ctx context.Context) (*change, error) {
		user, err := s.Users.GetByID(ctx, id)
		if err != nil {
			return nil, err
		}
		before := user.Snapshot()

		if req.Name != nil {
			user.Name = strings.TrimSpace(*req.Name)
		}
		if req.Email != nil {
			email := strings.ToLower(strings.TrimSpace(*req.Email))
			if email != strings.ToLower(user.Email) {
				other, err := s.Users.GetByEmail(ctx, email)
				if err == nil && other.ID != user.ID {
					return nil, apperrors.Conflict("email already registered")
				}
				if err != nil && !errors.Is(err, apperrors.ErrNotFound) {
					return nil, err
				}
			}
			user.Email = email
		}
		if req.Age != nil {
			user.Age = req.Age
		}
		if req.Phone != nil {
			user.Phone = req.Phone
		}

		if err := s.Users.Update(ctx, user); err != nil {
			return nil, err
		}
		updated = user
		return &change{
			oldValue: before,
			newValue: user.Snapshot(),
			details:  fmt.Sprintf("Updated user %s", id),
		}, nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// DeleteUser soft-deletes the account and revokes all of its roles in the
// same transaction.
func (s *Service) DeleteUser(ctx context.Context, actor model.Actor, id uuid.UUID) error {
	op := operation{
		action:       model.ActionDeleteUser,
		resourceType: model.ResourceUser,
		resourceID:   id.String(),
		required:     anyOf(permission.UserDelete),
	}

	return s.run(ctx, actor, op, func(ctx context.Context) (*change, error) {
		if actor.UserID != nil && *actor.UserID == id {
			return nil, apperrors.BadRequest("cannot delete your own account", nil)
		}

		user, err := s.Users.GetByID(ctx, id)
		if err != nil {
			return nil, err
		}
		if err := s.Users.SoftDelete(ctx, id, time.Now()); err != nil {
			return nil, err
		}
		revoked, err := s.Assignments.RevokeAll(ctx, id, actor.UserID)
		if err != nil {
			return nil, err
		}

		roles := make([]string, len(revoked))
		for i, a := range revoked {
			roles[i] = a.RoleName
		}
		return &change{
			oldValue: user.Snapshot(),
			newValue: map[string]interface{}{"deleted": true, "revoked_roles": roles},
			details:  fmt.Sprintf("Deleted user %s", id),
		}, nil
	})
}

// ApproveDoctor marks a doctor account as approved. The target must hold
// the doctor role.
func (s *Service) ApproveDoctor(ctx context.Context, actor model.Actor, id uuid.UUID) (*model.User, error) {
	op := operation{
		action:       model.ActionApproveDoctor,
		resourceType: model.ResourceDoctor,
		resourceID:   id.String(),
		required:     anyOf(permission.DoctorApprove),
	}

	var approved *model.User
	err := s.run(ctx, actor, op, func(ctx context.Context) (*change, error) {
		user, err := s.Users.GetByID(ctx, id)
		if err != nil {
			return nil, err
		}
		isDoctor, err := s.Engine.HasRole(ctx, id, permission.RoleDoctor)
		if err != nil {
			return nil, err
		}
		if !isDoctor {
			return nil, apperrors.NotFound("doctor", nil)
		}
		if user.DoctorApprovedAt != nil {
			return nil, apperrors.Conflict("doctor already approved")
		}

		if err := s.Users.ApproveDoctor(ctx, id, actor.UserID, time.Now()); err != nil {
			return nil, err
		}
		approved, err = s.Users.GetByID(ctx, id)
		if err != nil {
			return nil, err
		}
		return &change{
			oldValue: map[string]interface{}{"approved": false},
			newValue: map[string]interface{}{"approved": true, "approved_at": approved.DoctorApprovedAt},
			details:  fmt.Sprintf("Approved doctor %s", id),
		}, nil
	})
	if err != nil {
		return nil, err
	}
	return approved, nil
}

// VerifyOrganization marks an organization as verified.
func (s *Service) VerifyOrganization(ctx context.Context, actor model.Actor, id uuid.UUID) (*model.Organization, error) {
	op := operation{
		action:       model.ActionVerifyOrganization,
		resourceType: model.ResourceOrganization,
		resourceID:   id.String(),
		required:     anyOf(permission.OrganizationVerify),
	}

	var verified *model.Organization
	err := s.run(ctx, actor, op, func(ctx context.Context) (*change, error) {
		org, err := s.Organizations.GetByID(ctx, id)
		if err != nil {
			return nil, err
		}
		before := org.Snapshot()

		if err := s.Organizations.SetVerified(ctx, id, actor.UserID, time.Now()); err != nil {
			return nil, err
		}
		verified, err = s.Organizations.GetByID(ctx, id)
		if err != nil {
			return nil, err
		}
		return &change{
			oldValue: before,
			newValue: verified.Snapshot(),
			details:  fmt.Sprintf("Verified organization %s", verified.Name),
		}, nil
	})
	if err != nil {
		return nil, err
	}
	return verified, nil
}
