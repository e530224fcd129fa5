package middleware

import (
	"fmt"
	"runtime/debug"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/jwalitptl/admin-rbac/internal/handler"
	apperrors "github.com/jwalitptl/admin-rbac/pkg/errors"
)

// Recovery answers a panicking handler with a 500. The panic value and the
// stack go to the log only; the acting user is logged so an operator can
// tie the failure to the audit trail.
func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			p := recover()
			if p == nil {
				return
			}

			event := log.Error().
				Str("panic", fmt.Sprint(p)).
				Str("stack", string(debug.Stack())).
				Str("request_id", requestID(c)).
				Str("method", c.Request.Method).
				Str("path", c.FullPath())
			if uid, ok := UserID(c); ok {
				event = event.Str("user_id", uid.String())
			}
			event.Msg("handler panicked")

			err := apperrors.Internal(fmt.Errorf("panic: %v", p))
			c.AbortWithStatusJSON(apperrors.HTTPStatus(err), handler.NewErrorResponse(apperrors.PublicMessage(err)))
		}()
		c.Next()
	}
}
