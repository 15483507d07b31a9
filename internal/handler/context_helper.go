package handler

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/dance-school-api/internal/middleware"
	"github.com/noah-isme/dance-school-api/internal/models"
	appErrors "github.com/noah-isme/dance-school-api/pkg/errors"
)

const queryDateLayout = "2006-01-02"

func claimsFromContext(c *gin.Context) *models.JWTClaims {
	return middleware.ClaimsFromContext(c)
}

func userIDFromContext(c *gin.Context) *string {
	claims := claimsFromContext(c)
	if claims == nil || claims.UserID == "" {
		return nil
	}
	id := claims.UserID
	return &id
}

func invalidPayload(err error, message string) *appErrors.Error {
	return appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, message)
}

func paging(c *gin.Context) (int, int) {
	page, err := strconv.Atoi(c.DefaultQuery("page", "1"))
	if err != nil {
		page = 1
	}
	size, err := strconv.Atoi(c.DefaultQuery("limit", "20"))
	if err != nil {
		size = 20
	}
	return page, size
}

func boolQuery(c *gin.Context, key string) *bool {
	switch strings.ToLower(strings.TrimSpace(c.Query(key))) {
	case "true", "1":
		v := true
		return &v
	case "false", "0":
		v := false
		return &v
	default:
		return nil
	}
}

func dateQuery(c *gin.Context, key string) (*time.Time, error) {
	raw := strings.TrimSpace(c.Query(key))
	if raw == "" {
		return nil, nil
	}
	parsed, err := time.Parse(queryDateLayout, raw)
	if err != nil {
		return nil, invalidPayload(err, key+" must be YYYY-MM-DD")
	}
	return &parsed, nil
}
