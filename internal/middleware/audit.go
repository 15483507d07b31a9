package middleware

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/noah-isme/dance-school-api/internal/models"
)

// AuditWriter persists audit entries.
type AuditWriter interface {
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

// Audit records an audit entry after every successful request on the route. The :id route
// parameter, when present, becomes the resource id.
func Audit(writer AuditWriter, logger *zap.Logger, action, resource string) gin.HandlerFunc {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		if status >= 400 || writer == nil {
			return
		}

		entry := &models.AuditLog{
			Action:    action,
			Resource:  resource,
			IPAddress: c.ClientIP(),
			UserAgent: c.GetHeader("User-Agent"),
		}
		if claims := ClaimsFromContext(c); claims != nil {
			userID := claims.UserID
			entry.UserID = &userID
		}
		if id := c.Param("id"); id != "" {
			entry.ResourceID = &id
		}
		entry.NewValues, _ = json.Marshal(map[string]interface{}{
			"path":       c.FullPath(),
			"method":     c.Request.Method,
			"status":     status,
			"latency_ms": time.Since(start).Milliseconds(),
		})

		if err := writer.CreateAuditLog(c.Request.Context(), entry); err != nil {
			logger.Warn("failed to write audit log", zap.String("action", action), zap.Error(err))
		}
	}
}
