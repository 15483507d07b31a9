package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/dance-school-api/internal/models"
	appErrors "github.com/noah-isme/dance-school-api/pkg/errors"
)

const ownStudent = "7f1f3f7e-8a43-4c3b-9d4e-2a51a8f0c001"

type staticValidator map[string]*models.JWTClaims

func (v staticValidator) ValidateToken(token string) (*models.JWTClaims, error) {
	if claims, ok := v[token]; ok {
		return claims, nil
	}
	return nil, appErrors.Clone(appErrors.ErrUnauthorized, "invalid token")
}

func newTestRouter(mw ...gin.HandlerFunc) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	handlers := append(mw, func(c *gin.Context) { c.Status(http.StatusNoContent) })
	router.GET("/students/:id", handlers...)
	return router
}

func serve(router *gin.Engine, path, auth string) int {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if auth != "" {
		req.Header.Set("Authorization", auth)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w.Code
}

func TestJWT(t *testing.T) {
	validator := staticValidator{"good": {UserID: "u1", Role: models.RoleAdmin}}
	router := newTestRouter(JWT(validator))

	assert.Equal(t, http.StatusUnauthorized, serve(router, "/students/x", ""))
	assert.Equal(t, http.StatusUnauthorized, serve(router, "/students/x", "Basic good"))
	assert.Equal(t, http.StatusUnauthorized, serve(router, "/students/x", "Bearer "))
	assert.Equal(t, http.StatusUnauthorized, serve(router, "/students/x", "Bearer bad"))
	assert.Equal(t, http.StatusNoContent, serve(router, "/students/x", "bearer good"))
}

func TestRBACSelfStudent(t *testing.T) {
	validator := staticValidator{
		"staff":   {UserID: "u1", Role: models.RoleStaff},
		"teacher": {UserID: "u2", Role: models.RoleTeacher},
		"student": {UserID: "u3", Role: models.RoleStudent, StudentID: ownStudent},
		"orphan":  {UserID: "u4", Role: models.RoleStudent},
	}
	router := newTestRouter(JWT(validator), RBAC(string(models.RoleAdmin), string(models.RoleStaff), SelfStudent))

	assert.Equal(t, http.StatusNoContent, serve(router, "/students/anyone", "Bearer staff"))
	assert.Equal(t, http.StatusForbidden, serve(router, "/students/anyone", "Bearer teacher"))
	assert.Equal(t, http.StatusNoContent, serve(router, "/students/"+ownStudent, "Bearer student"))
	assert.Equal(t, http.StatusForbidden, serve(router, "/students/someone-else", "Bearer student"))
	assert.Equal(t, http.StatusForbidden, serve(router, "/students/x", "Bearer orphan"))
}

func TestRBACWithoutClaims(t *testing.T) {
	router := newTestRouter(RequireRoles(models.RoleAdmin))
	assert.Equal(t, http.StatusUnauthorized, serve(router, "/students/x", ""))
}

func TestCanActForStudent(t *testing.T) {
	assert.False(t, CanActForStudent(nil, ownStudent))
	assert.True(t, CanActForStudent(&models.JWTClaims{Role: models.RoleAdmin}, ownStudent))
	assert.True(t, CanActForStudent(&models.JWTClaims{Role: models.RoleStudent, StudentID: ownStudent}, "7F1F3F7E-8A43-4C3B-9D4E-2A51A8F0C001"))
	assert.False(t, CanActForStudent(&models.JWTClaims{Role: models.RoleStudent, StudentID: ownStudent}, "other"))
	assert.False(t, CanActForStudent(&models.JWTClaims{Role: models.RoleTeacher}, ownStudent))
}

type auditSink struct {
	entries []*models.AuditLog
	err     error
}

func (s *auditSink) CreateAuditLog(ctx context.Context, log *models.AuditLog) error {
	s.entries = append(s.entries, log)
	return s.err
}

func TestAuditRecordsOnlySuccess(t *testing.T) {
	gin.SetMode(gin.TestMode)
	sink := &auditSink{err: errors.New("db down")}
	status := http.StatusOK
	router := gin.New()
	router.POST("/classes/:id", func(c *gin.Context) {
		c.Set(ContextUserKey, &models.JWTClaims{UserID: "u1", Role: models.RoleAdmin})
		c.Next()
	}, Audit(sink, nil, "CLASS_UPDATE", "classes"), func(c *gin.Context) { c.Status(status) })

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/classes/c1", nil))
	require.Equal(t, http.StatusOK, w.Code)
	require.Len(t, sink.entries, 1)
	assert.Equal(t, "c1", *sink.entries[0].ResourceID)
	assert.Equal(t, "u1", *sink.entries[0].UserID)
	assert.Contains(t, string(sink.entries[0].NewValues), `"method":"POST"`)

	status = http.StatusConflict
	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/classes/c1", nil))
	assert.Len(t, sink.entries, 1)
}

type observedRequest struct {
	method, path string
	status       int
}

type requestLog struct{ seen []observedRequest }

func (l *requestLog) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	l.seen = append(l.seen, observedRequest{method, path, status})
}

func TestMetricsUsesRouteTemplate(t *testing.T) {
	log := &requestLog{}
	router := newTestRouter()
	router.Use(Metrics(log))
	router.GET("/classes/:id", func(c *gin.Context) { c.Status(http.StatusOK) })

	serve(router, "/classes/abc", "")
	serve(router, "/nowhere", "")

	require.Len(t, log.seen, 2)
	assert.Equal(t, observedRequest{http.MethodGet, "/classes/:id", http.StatusOK}, log.seen[0])
	assert.Equal(t, "unmatched", log.seen[1].path)
	assert.Equal(t, http.StatusNotFound, log.seen[1].status)
}

func TestResponseMeta(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	var meta map[string]interface{}
	router.GET("/", WithResponseMeta(), func(c *gin.Context) {
		SetCacheHit(c, true)
		meta = ExtractMeta(c)
		c.Status(http.StatusOK)
	})
	serve(router, "/", "")

	require.NotNil(t, meta)
	assert.Equal(t, true, meta["cache_hit"])
	assert.Contains(t, meta, "processing_time_ms")
}
