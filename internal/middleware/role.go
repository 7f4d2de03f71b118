package middleware

import (
	"slices"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/clueso-studio/backend/internal/models"
	"github.com/clueso-studio/backend/pkg/response"
)

// RequireRole lets through callers whose token role is one of roles.
// Must run after JWT. Denied callers are logged with the route they hit.
func RequireRole(logger *zap.Logger, roles ...models.Role) gin.HandlerFunc {
	if len(roles) == 0 {
		panic("middleware: RequireRole without roles")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(c *gin.Context) {
		if _, ok := c.Get(ContextUserRole); !ok {
			response.Unauthorized(c, "missing user context")
			c.Abort()
			return
		}
		role := UserRole(c)
		if !slices.Contains(roles, role) {
			logger.Warn("role denied",
				zap.String("user_id", UserID(c).String()),
				zap.String("role", string(role)),
				zap.String("route", c.FullPath()),
				zap.String("request_id", c.GetString(ContextRequestID)),
			)
			response.Forbidden(c, "insufficient permissions")
			c.Abort()
			return
		}
		c.Next()
	}
}

// RequireAdmin gates operator routes such as job cancellation.
func RequireAdmin(logger *zap.Logger) gin.HandlerFunc {
	return RequireRole(logger, models.RoleAdmin)
}
