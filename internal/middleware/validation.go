package middleware

import (
	"fmt"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"

	"github.com/jwalitptl/admin-rbac/internal/handler"
	"github.com/jwalitptl/admin-rbac/internal/model"
	"github.com/jwalitptl/admin-rbac/internal/permission"
)

// RegisterValidators installs the binding tags used by request models:
// "permission" accepts catalog permissions only and "role_name" accepts
// lower snake case names.
func RegisterValidators(catalog *permission.Catalog) error {
	v, ok := binding.Validator.Engine().(*validator.Validate)
	if !ok {
		return fmt.Errorf("unexpected binding validator %T", binding.Validator.Engine())
	}

	v.RegisterTagNameFunc(handler.JSONFieldName)

	if err := v.RegisterValidation("permission", func(fl validator.FieldLevel) bool {
		return catalog.IsValid(permission.Permission(fl.Field().String()))
	}); err != nil {
		return fmt.Errorf("failed to register permission validator: %w", err)
	}
	if err := v.RegisterValidation("role_name", func(fl validator.FieldLevel) bool {
		return model.ValidRoleName(fl.Field().String())
	}); err != nil {
		return fmt.Errorf("failed to register role_name validator: %w", err)
	}
	return nil
}
