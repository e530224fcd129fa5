package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/jwalitptl/admin-rbac/internal/model"
)

// Admitter authorizes an audited operation before its input is known.
type Admitter interface {
	Admit(ctx context.Context, actor model.Actor, action, resourceType string) error
}

// RejectBind answers a request whose body or query failed to bind. The
// caller's permission for the operation is checked first, so a caller
// without it gets 403 and a denied record rather than a validation hint.
func RejectBind(c *gin.Context, a Admitter, actor model.Actor, action, resourceType string, err error) {
	if admitErr := a.Admit(c.Request.Context(), actor, action, resourceType); admitErr != nil {
		RespondError(c, admitErr)
		return
	}
	RespondBindError(c, err)
}

// RejectInput is RejectBind for a malformed path parameter.
func RejectInput(c *gin.Context, a Admitter, actor model.Actor, action, resourceType, message string) {
	if admitErr := a.Admit(c.Request.Context(), actor, action, resourceType); admitErr != nil {
		RespondError(c, admitErr)
		return
	}
	c.JSON(http.StatusBadRequest, NewErrorResponse(message))
}
