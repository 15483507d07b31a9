package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/dance-school-api/internal/models"
	appErrors "github.com/noah-isme/dance-school-api/pkg/errors"
	"github.com/noah-isme/dance-school-api/pkg/response"
)

// SelfStudent grants a STUDENT access when the route's :id is their own student record.
const SelfStudent = "SELF"

// RBAC enforces role-based access control for routes. Besides role names, the SelfStudent
// marker lets students reach their own record.
func RBAC(allowed ...string) gin.HandlerFunc {
	allowSelf := false
	allowedRoles := make(map[models.UserRole]struct{}, len(allowed))
	for _, a := range allowed {
		if a == SelfStudent {
			allowSelf = true
			continue
		}
		allowedRoles[models.UserRole(a)] = struct{}{}
	}

	return func(c *gin.Context) {
		claims := ClaimsFromContext(c)
		if claims == nil {
			response.Error(c, appErrors.ErrUnauthorized)
			c.Abort()
			return
		}

		if _, ok := allowedRoles[claims.Role]; ok {
			c.Next()
			return
		}

		if allowSelf && claims.Role == models.RoleStudent && claims.StudentID != "" && strings.EqualFold(c.Param("id"), claims.StudentID) {
			c.Next()
			return
		}

		response.Error(c, appErrors.ErrForbidden)
		c.Abort()
	}
}

// RequireRoles is a helper that accepts a list of roles.
func RequireRoles(roles ...models.UserRole) gin.HandlerFunc {
	allowed := make([]string, len(roles))
	for i, r := range roles {
		allowed[i] = string(r)
	}
	return RBAC(allowed...)
}

// CanActForStudent reports whether claims may operate on studentID: staff always, a
// student only on their own record.
func CanActForStudent(claims *models.JWTClaims, studentID string) bool {
	if claims == nil {
		return false
	}
	if claims.IsStaff() {
		return true
	}
	return claims.Role == models.RoleStudent && claims.StudentID != "" && strings.EqualFold(claims.StudentID, studentID)
}
