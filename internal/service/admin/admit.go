package admin

import (
	"context"
	"fmt"

	"github.com/jwalitptl/admin-rbac/internal/model"
	"github.com/jwalitptl/admin-rbac/internal/permission"
	apperrors "github.com/jwalitptl/admin-rbac/pkg/errors"
)

type admissionKey struct {
	action       string
	resourceType string
}

// admissions holds the base requirement of each operation, the one checked
// before any input is read. It matches the first check each operation makes.
var admissions = map[admissionKey]permission.Set{
	{model.ActionCreateUser, model.ResourceUser}:                 anyOf(permission.UserCreate),
	{model.ActionUpdateUser, model.ResourceUser}:                 anyOf(permission.UserUpdate),
	{model.ActionDeleteUser, model.ResourceUser}:                 anyOf(permission.UserDelete),
	{model.ActionReadUser, model.ResourceUser}:                   anyOf(permission.UserRead, permission.UserList),
	{model.ActionReadUser, model.ResourceUserRole}:               anyOf(permission.RoleRead, permission.UserRead),
	{model.ActionListUsers, model.ResourceUser}:                  anyOf(permission.UserList),
	{model.ActionAssignRole, model.ResourceUserRole}:             anyOf(permission.RoleAssign),
	{model.ActionRevokeRole, model.ResourceUserRole}:             anyOf(permission.RoleAssign),
	{model.ActionApproveDoctor, model.ResourceDoctor}:            anyOf(permission.DoctorApprove),
	{model.ActionVerifyOrganization, model.ResourceOrganization}: anyOf(permission.OrganizationVerify),
	{model.ActionListOrganizations, model.ResourceOrganization}:  anyOf(permission.OrganizationRead),
	{model.ActionCreateRole, model.ResourceRole}:                 anyOf(permission.RoleCreate),
	{model.ActionUpdateRolePermissions, model.ResourceRole}:      anyOf(permission.RoleUpdate),
}

// Admit authorizes an operation whose input could not be parsed. A denial
// is recorded exactly as the operation itself would record it. Admit writes
// nothing when the caller is allowed.
func (s *Service) Admit(ctx context.Context, actor model.Actor, action, resourceType string) error {
	required, ok := admissions[admissionKey{action, resourceType}]
	if !ok {
		return apperrors.Internal(fmt.Errorf("no admission rule for %s on %s", action, resourceType))
	}
	return s.authorize(ctx, actor, operation{
		action:       action,
		resourceType: resourceType,
		required:     required,
	})
}
