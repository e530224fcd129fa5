package middleware

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/jwalitptl/admin-rbac/internal/handler"
	"github.com/jwalitptl/admin-rbac/internal/model"
	"github.com/jwalitptl/admin-rbac/internal/permission"
	"github.com/jwalitptl/admin-rbac/internal/service/audit"
	"github.com/jwalitptl/admin-rbac/internal/service/rbac"
	"github.com/jwalitptl/admin-rbac/pkg/auth"
	"github.com/jwalitptl/admin-rbac/pkg/logger"
)

const (
	ContextUserID    = "user_id"
	ContextUserEmail = "user_email"

	guardAuditTimeout = 5 * time.Second
)

type AuthMiddleware struct {
	tokens  *auth.TokenService
	engine  *rbac.Engine
	auditor *audit.Service
	catalog *permission.Catalog
	logger  *logger.Logger
}

func NewAuthMiddleware(
	tokens *auth.TokenService,
	engine *rbac.Engine,
	auditor *audit.Service,
	catalog *permission.Catalog,
	log *logger.Logger,
) *AuthMiddleware {
	return &AuthMiddleware{
		tokens:  tokens,
		engine:  engine,
		auditor: auditor,
		catalog: catalog,
		logger:  log,
	}
}

// Authenticate verifies the bearer token and stores the caller's identity in
// the context.
func (m *AuthMiddleware) Authenticate() gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, handler.NewErrorResponse("missing authorization header"))
			return
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, handler.NewErrorResponse("invalid authorization format"))
			return
		}

		claims, err := m.tokens.Validate(parts[1])
		if err != nil {
			m.logger.Debug("token rejected", "error", err.Error(), "client_ip", c.ClientIP())
			c.AbortWithStatusJSON(http.StatusUnauthorized, handler.NewErrorResponse("invalid token"))
			return
		}

		c.Set(ContextUserID, claims.UserID)
		c.Set(ContextUserEmail, claims.Email)
		c.Next()
	}
}

// Require guards a route with a set of permissions, any one of which
// suffices. Every permission must be in the catalog; an unknown one panics
// when the route is registered, not when it is called.
//
// A denial is audited as an access attempt on the route.
func (m *AuthMiddleware) Require(perms ...permission.Permission) gin.HandlerFunc {
	if len(perms) == 0 {
		panic("middleware: Require needs at least one permission")
	}
	if err := m.catalog.Validate(perms...); err != nil {
		panic(fmt.Sprintf("middleware: invalid route guard: %v", err))
	}
	required := permission.NewSet(perms...)

	return func(c *gin.Context) {
		userID, ok := UserID(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, handler.NewErrorResponse("authentication required"))
			return
		}

		decision, err := m.engine.Authorize(c.Request.Context(), userID, required)
		if err == nil && decision.Granted {
			c.Next()
			return
		}

		details := fmt.Sprintf("requires any of [%s]: %s", strings.Join(required.Strings(), ", "), decision.Reason)
		if err != nil {
			m.logger.Error(err, "authorization store unavailable, denying", "path", c.FullPath())
			details = "authorization store unavailable"
		}
		m.recordDenied(c, details)
		c.AbortWithStatusJSON(http.StatusForbidden, handler.NewErrorResponse("permission denied"))
	}
}

func (m *AuthMiddleware) recordDenied(c *gin.Context, details string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(c.Request.Context()), guardAuditTimeout)
	defer cancel()

	route := c.Request.Method + " " + c.FullPath()
	if _, err := m.auditor.RecordAccess(ctx, Actor(c), model.ResourceRoute, route, model.OutcomeDenied, details); err != nil {
		m.logger.Error(err, "audit gap: failed to record denied access", "route", route)
	}
}

// UserID returns the authenticated caller, if any.
func UserID(c *gin.Context) (uuid.UUID, bool) {
	v, ok := c.Get(ContextUserID)
	if !ok {
		return uuid.Nil, false
	}
	id, ok := v.(uuid.UUID)
	return id, ok && id != uuid.Nil
}

// Actor describes the caller for authorization and audit.
func Actor(c *gin.Context) model.Actor {
	id, _ := UserID(c)
	return model.UserActor(id, c.ClientIP(), c.Request.UserAgent())
}
