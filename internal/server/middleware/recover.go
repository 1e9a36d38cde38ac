package middleware

import (
	"fmt"
	"net/http"
	"runtime/debug"

	"github.com/gin-gonic/gin"

	"github.com/looplj/tenantguard/internal/log"
	"github.com/looplj/tenantguard/internal/objects"
)

// Recovery turns a panic in a handler into a 500 JSON response and logs the stack.
func Recovery() gin.HandlerFunc {
	return gin.CustomRecoveryWithWriter(nil, func(c *gin.Context, recovered any) {
		log.Error(c.Request.Context(), "panic recovered",
			log.String("panic", fmt.Sprint(recovered)),
			log.String("stack", string(debug.Stack())),
		)

		c.AbortWithStatusJSON(http.StatusInternalServerError, objects.ErrorResponse{
			Error: objects.Error{
				Type:    http.StatusText(http.StatusInternalServerError),
				Message: "internal server error",
			},
		})
	})
}
