package middleware

import (
	"github.com/gin-gonic/gin"

	acnerrors "github.com/r3e-network/acn/internal/errors"
)

// errorBody is the wire shape spec §7 mandates: {"detail": "<message>"}.
type errorBody struct {
	Detail string `json:"detail"`
}

// RespondError writes err as a JSON error body with the status mapped from
// its Kind, and aborts the gin context. Shared by every auth middleware and
// by internal/httpapi so error responses stay uniform across the request
// surface.
func RespondError(c *gin.Context, err error) {
	message := err.Error()
	if e := acnerrors.As(err); e != nil {
		message = e.Message
	}
	c.AbortWithStatusJSON(acnerrors.HTTPStatusOf(err), errorBody{Detail: message})
}
