package admin

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/jwalitptl/admin-rbac/internal/handler"
	"github.com/jwalitptl/admin-rbac/internal/middleware"
	"github.com/jwalitptl/admin-rbac/internal/model"
	"github.com/jwalitptl/admin-rbac/internal/service/admin"
)

// Handler exposes the admin operation layer. Authorization happens inside
// the service so every call, including a denied one, is audited once.
// Malformed input is answered only after the caller is admitted.
type Handler struct {
	service *admin.Service
}

func NewHandler(service *admin.Service) *Handler {
	return &Handler{service: service}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	admin := r.Group("/admin")
	{
		users := admin.Group("/users")
		{
			users.POST("", h.CreateUser)
			users.GET("", h.ListUsers)
			users.GET("/:id", h.GetUser)
			users.PUT("/:id", h.UpdateUser)
			users.DELETE("/:id", h.DeleteUser)
			users.GET("/:id/roles", h.GetUserRoles)
		}

		admin.POST("/roles/assign", h.AssignRole)
		admin.POST("/roles/revoke", h.RevokeRole)

		admin.GET("/doctors/pending", h.PendingDoctors)
		admin.POST("/doctors/:id/approve", h.ApproveDoctor)

		admin.GET("/organizations", h.ListOrganizations)
		admin.POST("/organizations/:id/verify", h.VerifyOrganization)

		admin.GET("/dashboard", h.Dashboard)
	}
}

func (h *Handler) CreateUser(c *gin.Context) {
	var req model.CreateUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		handler.RejectBind(c, h.service, middleware.Actor(c), model.ActionCreateUser, model.ResourceUser, err)
		return
	}

	user, err := h.service.CreateUser(c.Request.Context(), middleware.Actor(c), req)
	if err != nil {
		handler.RespondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, handler.NewSuccessResponse(user))
}

func (h *Handler) ListUsers(c *gin.Context) {
	var filter model.UserFilter
	if err := c.ShouldBindQuery(&filter); err != nil {
		handler.RejectInput(c, h.service, middleware.Actor(c), model.ActionListUsers, model.ResourceUser, "invalid query parameters")
		return
	}

	users, total, err := h.service.ListUsers(c.Request.Context(), middleware.Actor(c), filter)
	if err != nil {
		handler.RespondError(c, err)
		return
	}

	page := filter.Pagination.Normalize(admin.DefaultPageSize)
	c.JSON(http.StatusOK, handler.NewSuccessResponse(handler.PageData{
		Items:    users,
		Total:    total,
		Page:     page.Page,
		PageSize: page.PageSize,
	}))
}

func (h *Handler) GetUser(c *gin.Context) {
	id, ok := h.pathID(c, model.ActionReadUser, model.ResourceUser, "invalid user ID")
	if !ok {
		return
	}

	user, err := h.service.GetUser(c.Request.Context(), middleware.Actor(c), id)
	if err != nil {
		handler.RespondError(c, err)
		return
	}

	c.JSON(http.StatusOK, handler.NewSuccessResponse(user))
}

func (h *Handler) UpdateUser(c *gin.Context) {
	id, ok := h.pathID(c, model.ActionUpdateUser, model.ResourceUser, "invalid user ID")
	if !ok {
		return
	}

	var req model.UpdateUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		handler.RejectBind(c, h.service, middleware.Actor(c), model.ActionUpdateUser, model.ResourceUser, err)
		return
	}

	user, err := h.service.UpdateUser(c.Request.Context(), middleware.Actor(c), id, req)
	if err != nil {
		handler.RespondError(c, err)
		return
	}

	c.JSON(http.StatusOK, handler.NewSuccessResponse(user))
}

func (h *Handler) DeleteUser(c *gin.Context) {
	id, ok := h.pathID(c, model.ActionDeleteUser, model.ResourceUser, "invalid user ID")
	if !ok {
		return
	}

	if err := h.service.DeleteUser(c.Request.Context(), middleware.Actor(c), id); err != nil {
		handler.RespondError(c, err)
		return
	}

	c.JSON(http.StatusOK, handler.NewSuccessResponse(gin.H{"deleted": id}))
}

func (h *Handler) GetUserRoles(c *gin.Context) {
	id, ok := h.pathID(c, model.ActionReadUser, model.ResourceUserRole, "invalid user ID")
	if !ok {
		return
	}

	roles, err := h.service.GetUserRoles(c.Request.Context(), middleware.Actor(c), id)
	if err != nil {
		handler.RespondError(c, err)
		return
	}

	c.JSON(http.StatusOK, handler.NewSuccessResponse(roles))
}

func (h *Handler) AssignRole(c *gin.Context) {
	var req model.RoleAssignmentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		handler.RejectBind(c, h.service, middleware.Actor(c), model.ActionAssignRole, model.ResourceUserRole, err)
		return
	}

	assignment, err := h.service.AssignRole(c.Request.Context(), middleware.Actor(c), req.UserID, req.RoleName)
	if err != nil {
		handler.RespondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, handler.NewSuccessResponse(assignment))
}

func (h *Handler) RevokeRole(c *gin.Context) {
	var req model.RoleAssignmentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		handler.RejectBind(c, h.service, middleware.Actor(c), model.ActionRevokeRole, model.ResourceUserRole, err)
		return
	}

	if err := h.service.RevokeRole(c.Request.Context(), middleware.Actor(c), req.UserID, req.RoleName); err != nil {
		handler.RespondError(c, err)
		return
	}

	c.JSON(http.StatusOK, handler.NewSuccessResponse(gin.H{
		"user_id":   req.UserID,
		"role_name": req.RoleName,
		"revoked":   true,
	}))
}

func (h *Handler) PendingDoctors(c *gin.Context) {
	doctors, err := h.service.PendingDoctors(c.Request.Context(), middleware.Actor(c))
	if err != nil {
		handler.RespondError(c, err)
		return
	}

	c.JSON(http.StatusOK, handler.NewSuccessResponse(doctors))
}

func (h *Handler) ApproveDoctor(c *gin.Context) {
	id, ok := h.pathID(c, model.ActionApproveDoctor, model.ResourceDoctor, "invalid user ID")
	if !ok {
		return
	}

	doctor, err := h.service.ApproveDoctor(c.Request.Context(), middleware.Actor(c), id)
	if err != nil {
		handler.RespondError(c, err)
		return
	}

	c.JSON(http.StatusOK, handler.NewSuccessResponse(doctor))
}

func (h *Handler) ListOrganizations(c *gin.Context) {
	var page model.Pagination
	if err := c.ShouldBindQuery(&page); err != nil {
		handler.RejectInput(c, h.service, middleware.Actor(c), model.ActionListOrganizations, model.ResourceOrganization, "invalid query parameters")
		return
	}

	orgs, total, err := h.service.ListOrganizations(c.Request.Context(), middleware.Actor(c), page)
	if err != nil {
		handler.RespondError(c, err)
		return
	}

	page = page.Normalize(admin.DefaultPageSize)
	c.JSON(http.StatusOK, handler.NewSuccessResponse(handler.PageData{
		Items:    orgs,
		Total:    total,
		Page:     page.Page,
		PageSize: page.PageSize,
	}))
}

func (h *Handler) VerifyOrganization(c *gin.Context) {
	id, ok := h.pathID(c, model.ActionVerifyOrganization, model.ResourceOrganization, "invalid organization ID")
	if !ok {
		return
	}

	org, err := h.service.VerifyOrganization(c.Request.Context(), middleware.Actor(c), id)
	if err != nil {
		handler.RespondError(c, err)
		return
	}

	c.JSON(http.StatusOK, handler.NewSuccessResponse(org))
}

func (h *Handler) Dashboard(c *gin.Context) {
	stats, err := h.service.Dashboard(c.Request.Context(), middleware.Actor(c))
	if err != nil {
		handler.RespondError(c, err)
		return
	}

	c.JSON(http.StatusOK, handler.NewSuccessResponse(stats))
}

// pathID parses the :id parameter. A malformed id is answered as the
// operation would answer the caller: 403 without permission, 400 with it.
func (h *Handler) pathID(c *gin.Context, action, resourceType, msg string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		handler.RejectInput(c, h.service, middleware.Actor(c), action, resourceType, msg)
		return uuid.Nil, false
	}
	return id, true
}
