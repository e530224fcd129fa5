package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/jwalitptl/admin-rbac/internal/handler"
	apperrors "github.com/jwalitptl/admin-rbac/pkg/errors"
)

// ErrorHandler logs errors attached with c.Error. Client errors are logged
// at warn, everything else at error. If the handler wrote nothing, the last
// error is mapped through the application taxonomy, so a store outage still
// answers 503 rather than a bare 500.
func ErrorHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 {
			return
		}

		for _, e := range c.Errors {
			level := zerolog.ErrorLevel
			if status := apperrors.HTTPStatus(e.Err); status < http.StatusInternalServerError {
				level = zerolog.WarnLevel
			}
			log.WithLevel(level).
				Err(e.Err).
				Str("request_id", requestID(c)).
				Str("method", c.Request.Method).
				Str("path", c.FullPath()).
				Msg("request failed")
		}

		if !c.Writer.Written() {
			last := c.Errors.Last().Err
			c.JSON(apperrors.HTTPStatus(last), handler.NewErrorResponse(apperrors.PublicMessage(last)))
		}
	}
}
