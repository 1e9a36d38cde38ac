package middleware

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/looplj/tenantguard/internal/intercept"
	"github.com/looplj/tenantguard/internal/log"
	"github.com/looplj/tenantguard/internal/objects"
	"github.com/looplj/tenantguard/internal/store"
	"github.com/looplj/tenantguard/internal/tenantdb"
)

// AbortWithError aborts the request with a JSON error response and adds the error to gin context for access logging.
func AbortWithError(c *gin.Context, status int, err error) {
	_ = c.Error(err)
	c.AbortWithStatusJSON(status, objects.ErrorResponse{
		Error: objects.Error{
			Type:    http.StatusText(status),
			Message: err.Error(),
		},
	})
}

// AbortWithDataError maps an error returned by the data layer to a response.
// Programmer errors, such as a missing tenant context or a cross-tenant filter, become a generic 500:
// their detail is logged and never sent to the client.
func AbortWithDataError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, tenantdb.ErrNotFound):
		AbortWithError(c, http.StatusNotFound, tenantdb.ErrNotFound)
	case errors.Is(err, store.ErrDuplicateKey):
		AbortWithError(c, http.StatusConflict, store.ErrDuplicateKey)
	case intercept.IsProgrammerError(err):
		log.Error(c.Request.Context(), "data layer rejected operation",
			log.String("reason", intercept.Reason(err)),
			log.Cause(err),
		)
		_ = c.Error(err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, objects.ErrorResponse{
			Error: objects.Error{
				Type:    http.StatusText(http.StatusInternalServerError),
				Message: "internal server error",
			},
		})
	default:
		log.Error(c.Request.Context(), "data layer failed", log.Cause(err))
		_ = c.Error(err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, objects.ErrorResponse{
			Error: objects.Error{
				Type:    http.StatusText(http.StatusInternalServerError),
				Message: "internal server error",
			},
		})
	}
}
