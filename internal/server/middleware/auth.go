package middleware

import (
	"errors"
	"net/http"
	"slices"

	"github.com/gin-gonic/gin"

	"github.com/looplj/tenantguard/internal/contexts"
	"github.com/looplj/tenantguard/internal/log"
	"github.com/looplj/tenantguard/internal/server/biz"
)

// WithExecutionContext authenticates the bearer token and binds the execution it grants
// to the request context. Everything downstream reads tenant and actor from there.
func WithExecutionContext(auth *biz.AuthService) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, err := ExtractBearerTokenFromRequest(c.Request)
		if err != nil {
			AbortWithError(c, http.StatusUnauthorized, err)
			return
		}

		exec, err := auth.AuthenticateJWTToken(c.Request.Context(), token)
		if err != nil {
			if errors.Is(err, biz.ErrInvalidJWT) {
				AbortWithError(c, http.StatusUnauthorized, errors.New("Invalid token"))
			} else {
				log.Error(c.Request.Context(), "failed to validate token", log.Cause(err))
				AbortWithError(c, http.StatusInternalServerError, errors.New("Failed to validate token"))
			}

			return
		}

		c.Request = c.Request.WithContext(contexts.WithExecution(c.Request.Context(), exec))

		c.Next()
	}
}

// RequireRole rejects requests whose execution role is not one of roles.
func RequireRole(roles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		exec, ok := contexts.Current(c.Request.Context())
		if !ok {
			AbortWithError(c, http.StatusUnauthorized, errors.New("authentication required"))
			return
		}

		if !slices.Contains(roles, exec.Role) {
			AbortWithError(c, http.StatusForbidden, errors.New("permission denied"))
			return
		}

		c.Next()
	}
}
