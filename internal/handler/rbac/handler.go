package rbac

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/jwalitptl/admin-rbac/internal/handler"
	"github.com/jwalitptl/admin-rbac/internal/middleware"
	"github.com/jwalitptl/admin-rbac/internal/model"
	"github.com/jwalitptl/admin-rbac/internal/permission"
	"github.com/jwalitptl/admin-rbac/internal/service/admin"
	rbacService "github.com/jwalitptl/admin-rbac/internal/service/rbac"
	"github.com/jwalitptl/admin-rbac/internal/service/role"
)

type Handler struct {
	roles  *role.Service
	admin  *admin.Service
	engine *rbacService.Engine
	auth   *middleware.AuthMiddleware
}

func NewHandler(roles *role.Service, admin *admin.Service, engine *rbacService.Engine, auth *middleware.AuthMiddleware) *Handler {
	return &Handler{
		roles:  roles,
		admin:  admin,
		engine: engine,
		auth:   auth,
	}
}

// RegisterRoutes wires the role and permission routes. Role writes go
// through the admin layer, which authorizes and audits them itself.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	rbac := r.Group("/rbac")
	{
		canRead := h.auth.Require(permission.RoleRead)

		roles := rbac.Group("/roles")
		{
			roles.GET("", canRead, h.ListRoles)
			roles.GET("/:ref", canRead, h.GetRole)
			roles.POST("", h.CreateRole)
			roles.PUT("/:ref/permissions", h.UpdateRolePermissions)
		}

		rbac.GET("/permissions", canRead, h.ListPermissions)

		rbac.GET("/me/permissions", h.MyPermissions)
		rbac.POST("/check", h.Check)
	}
}

func (h *Handler) ListRoles(c *gin.Context) {
	roles, err := h.roles.ListRoles(c.Request.Context())
	if err != nil {
		handler.RespondError(c, err)
		return
	}

	c.JSON(http.StatusOK, handler.NewSuccessResponse(roles))
}

// GetRole accepts a role id or a role name.
func (h *Handler) GetRole(c *gin.Context) {
	r, err := h.roles.ResolveRole(c.Request.Context(), c.Param("ref"))
	if err != nil {
		handler.RespondError(c, err)
		return
	}

	c.JSON(http.StatusOK, handler.NewSuccessResponse(r))
}

func (h *Handler) CreateRole(c *gin.Context) {
	var req model.CreateRoleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		handler.RejectBind(c, h.admin, middleware.Actor(c), model.ActionCreateRole, model.ResourceRole, err)
		return
	}

	r, err := h.admin.CreateRole(c.Request.Context(), middleware.Actor(c), req)
	if err != nil {
		handler.RespondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, handler.NewSuccessResponse(r))
}

func (h *Handler) UpdateRolePermissions(c *gin.Context) {
	id, err := uuid.Parse(c.Param("ref"))
	if err != nil {
		handler.RejectInput(c, h.admin, middleware.Actor(c), model.ActionUpdateRolePermissions, model.ResourceRole, "invalid role ID")
		return
	}

	var req model.UpdateRolePermissionsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		handler.RejectBind(c, h.admin, middleware.Actor(c), model.ActionUpdateRolePermissions, model.ResourceRole, err)
		return
	}

	r, err := h.admin.UpdateRolePermissions(c.Request.Context(), middleware.Actor(c), id, req.Permissions)
	if err != nil {
		handler.RespondError(c, err)
		return
	}

	c.JSON(http.StatusOK, handler.NewSuccessResponse(r))
}

func (h *Handler) ListPermissions(c *gin.Context) {
	catalog := h.roles.Catalog()
	c.JSON(http.StatusOK, handler.NewSuccessResponse(gin.H{
		"version":     catalog.Version(),
		"permissions": catalog.Describe(),
	}))
}

type myPermissions struct {
	UserID      uuid.UUID         `json:"user_id"`
	Roles       []*model.UserRole `json:"roles"`
	Permissions []string          `json:"permissions"`
}

// MyPermissions reports the caller's roles and effective permissions.
func (h *Handler) MyPermissions(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, handler.NewErrorResponse("authentication required"))
		return
	}

	ctx := c.Request.Context()
	roles, err := h.engine.ListUserRoles(ctx, userID)
	if err != nil {
		handler.RespondError(c, err)
		return
	}
	perms, err := h.engine.ResolvePermissions(ctx, userID)
	if err != nil {
		handler.RespondError(c, err)
		return
	}

	c.JSON(http.StatusOK, handler.NewSuccessResponse(myPermissions{
		UserID:      userID,
		Roles:       roles,
		Permissions: perms.Strings(),
	}))
}

// Check answers whether the caller holds any of the listed permissions. A
// denial is a normal 200 response carrying the decision.
func (h *Handler) Check(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, handler.NewErrorResponse("authentication required"))
		return
	}

	var req model.CheckRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		handler.RespondBindError(c, err)
		return
	}

	perms, err := h.roles.Catalog().ValidateStrings(req.Permissions)
	if err != nil {
		handler.RespondError(c, err)
		return
	}

	decision, err := h.engine.Authorize(c.Request.Context(), userID, permission.NewSet(perms...))
	if err != nil {
		handler.RespondError(c, err)
		return
	}

	c.JSON(http.StatusOK, handler.NewSuccessResponse(decision))
}
