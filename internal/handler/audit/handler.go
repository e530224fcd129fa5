package audit

import (
	"encoding/csv"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/jwalitptl/admin-rbac/internal/handler"
	"github.com/jwalitptl/admin-rbac/internal/middleware"
	"github.com/jwalitptl/admin-rbac/internal/model"
	"github.com/jwalitptl/admin-rbac/internal/permission"
	"github.com/jwalitptl/admin-rbac/internal/service/audit"
)

type Handler struct {
	service *audit.Service
	auth    *middleware.AuthMiddleware
}

func NewHandler(service *audit.Service, auth *middleware.AuthMiddleware) *Handler {
	return &Handler{
		service: service,
		auth:    auth,
	}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	audit := r.Group("/audit", h.auth.Require(permission.AuditRead))
	{
		audit.GET("/logs", h.ListLogs)
		audit.GET("/logs/user/:id", h.GetUserLogs)
		audit.GET("/logs/resource/:type/:id", h.GetResourceLogs)
		audit.GET("/export", h.ExportLogs)
	}
}

type listQuery struct {
	model.AuditFilter
	model.Pagination
	ActorID string `form:"actor_id"`
}

func (h *Handler) bindQuery(c *gin.Context) (model.AuditFilter, model.Pagination, bool) {
	var q listQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse("invalid query parameters"))
		return model.AuditFilter{}, model.Pagination{}, false
	}
	if q.ActorID != "" {
		id, err := uuid.Parse(q.ActorID)
		if err != nil {
			c.JSON(http.StatusBadRequest, handler.NewErrorResponse("invalid actor_id"))
			return model.AuditFilter{}, model.Pagination{}, false
		}
		q.AuditFilter.ActorID = &id
	}
	return q.AuditFilter, q.Pagination, true
}

func (h *Handler) ListLogs(c *gin.Context) {
	filter, page, ok := h.bindQuery(c)
	if !ok {
		return
	}

	logs, err := h.service.QueryAll(c.Request.Context(), filter, page)
	if err != nil {
		handler.RespondError(c, err)
		return
	}

	c.JSON(http.StatusOK, handler.NewSuccessResponse(logs))
}

func (h *Handler) GetUserLogs(c *gin.Context) {
	userID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse("invalid user_id"))
		return
	}

	var page model.Pagination
	if err := c.ShouldBindQuery(&page); err != nil {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse("invalid query parameters"))
		return
	}

	logs, err := h.service.QueryByUser(c.Request.Context(), userID, page)
	if err != nil {
		handler.RespondError(c, err)
		return
	}

	c.JSON(http.StatusOK, handler.NewSuccessResponse(logs))
}

func (h *Handler) GetResourceLogs(c *gin.Context) {
	var page model.Pagination
	if err := c.ShouldBindQuery(&page); err != nil {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse("invalid query parameters"))
		return
	}

	logs, err := h.service.QueryByResource(c.Request.Context(), c.Param("type"), c.Param("id"), page)
	if err != nil {
		handler.RespondError(c, err)
		return
	}

	c.JSON(http.StatusOK, handler.NewSuccessResponse(logs))
}

// ExportLogs writes one page of matching records as csv or json. The page
// size is capped like any other query.
func (h *Handler) ExportLogs(c *gin.Context) {
	format := c.DefaultQuery("format", "csv")
	if format != "csv" && format != "json" {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse("unsupported format"))
		return
	}

	filter, page, ok := h.bindQuery(c)
	if !ok {
		return
	}
	if page.PageSize == 0 {
		page.PageSize = model.MaxPageSize
	}

	logs, err := h.service.QueryAll(c.Request.Context(), filter, page)
	if err != nil {
		handler.RespondError(c, err)
		return
	}

	filename := fmt.Sprintf("audit_logs_%s.%s", time.Now().UTC().Format("20060102_150405"), format)
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%s", filename))

	switch format {
	case "csv":
		c.Header("Content-Type", "text/csv")
		c.Status(http.StatusOK)
		writer := csv.NewWriter(c.Writer)
		_ = writer.Write([]string{"ID", "Seq", "Actor ID", "Action", "Resource Type", "Resource ID", "Outcome", "Origin", "Details", "Created At"})
		for _, rec := range logs.Records {
			_ = writer.Write([]string{
				rec.ID.String(),
				fmt.Sprint(rec.Seq),
				uuidOrEmpty(rec.ActorID),
				rec.Action,
				rec.ResourceType,
				stringOrEmpty(rec.ResourceID),
				string(rec.Outcome),
				stringOrEmpty(rec.Origin),
				rec.Details,
				rec.CreatedAt.Format(time.RFC3339),
			})
		}
		writer.Flush()
	case "json":
		c.JSON(http.StatusOK, logs.Records)
	}
}

func uuidOrEmpty(id *uuid.UUID) string {
	if id == nil {
		return ""
	}
	return id.String()
}

func stringOrEmpty(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
