package handler

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/dance-school-api/internal/middleware"
	"github.com/noah-isme/dance-school-api/internal/models"
	appErrors "github.com/noah-isme/dance-school-api/pkg/errors"
)

const (
	ownStudentID   = "7f1f3f7e-8a43-4c3b-9d4e-2a51a8f0c001"
	otherStudentID = "7f1f3f7e-8a43-4c3b-9d4e-2a51a8f0c002"
	someClassID    = "5b0c8d6a-1e2f-4a3b-8c9d-0e1f2a3b4c5d"
)

func checkoutContext(body string, claims *models.JWTClaims) (*gin.Context, *httptest.ResponseRecorder) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	req, _ := http.NewRequest(http.MethodPost, "/checkout", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	c.Request = req
	if claims != nil {
		c.Set(middleware.ContextUserKey, claims)
	}
	return c, w
}

func decodeCheckout(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}

func TestCheckoutHandlerReturnsUnwrappedResult(t *testing.T) {
	url := "https://pay.example/c/1"
	svc := &checkoutServiceMock{result: &models.CheckoutResult{
		Success:     true,
		Outcome:     models.CheckoutOutcomeCreated,
		CheckoutURL: &url,
		Message:     "checkout created",
	}}
	h := NewCheckoutHandler(svc, nil, nil)
	c, w := checkoutContext(`{"student_id":"`+ownStudentID+`","class_id":"`+someClassID+`"}`,
		&models.JWTClaims{UserID: "u1", Role: models.RoleStudent, StudentID: ownStudentID})

	h.Checkout(c)

	require.Equal(t, http.StatusOK, w.Code)
	body := decodeCheckout(t, w)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, url, body["checkout_url"])
	assert.NotContains(t, body, "data")
	assert.Equal(t, 1, svc.calls)
	assert.Equal(t, ownStudentID, svc.last.StudentID)
}

func TestCheckoutHandlerRejectsOtherStudent(t *testing.T) {
	svc := &checkoutServiceMock{}
	h := NewCheckoutHandler(svc, nil, nil)
	c, w := checkoutContext(`{"student_id":"`+otherStudentID+`","class_id":"`+someClassID+`"}`,
		&models.JWTClaims{UserID: "u1", Role: models.RoleStudent, StudentID: ownStudentID})

	h.Checkout(c)

	require.Equal(t, http.StatusForbidden, w.Code)
	body := decodeCheckout(t, w)
	assert.Equal(t, false, body["success"])
	assert.Equal(t, "FORBIDDEN", body["error"])
	assert.Zero(t, svc.calls)
}

func TestCheckoutHandlerMatchesOwnStudentCaseInsensitively(t *testing.T) {
	svc := &checkoutServiceMock{result: &models.CheckoutResult{Success: true, Outcome: models.CheckoutOutcomeCreated}}
	h := NewCheckoutHandler(svc, nil, nil)
	c, w := checkoutContext(`{"student_id":" `+strings.ToUpper(ownStudentID)+`","class_id":"`+strings.ToUpper(someClassID)+`"}`,
		&models.JWTClaims{UserID: "u1", Role: models.RoleStudent, StudentID: ownStudentID})

	h.Checkout(c)

	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, 1, svc.calls)
	assert.Equal(t, ownStudentID, svc.last.StudentID)
	assert.Equal(t, someClassID, svc.last.ClassID)
}

func TestCheckoutHandlerStaffMayCheckoutAnyStudent(t *testing.T) {
	svc := &checkoutServiceMock{result: &models.CheckoutResult{Success: true, Outcome: models.CheckoutOutcomeValidated}}
	h := NewCheckoutHandler(svc, nil, nil)
	c, w := checkoutContext(`{"student_id":"`+otherStudentID+`","class_id":"`+someClassID+`","create_enrollment":false}`,
		&models.JWTClaims{UserID: "staff", Role: models.RoleStaff})

	h.Checkout(c)

	require.Equal(t, http.StatusOK, w.Code)
	require.NotNil(t, svc.last.CreateEnrollment)
	assert.False(t, *svc.last.CreateEnrollment)
}

func TestCheckoutHandlerMapsTypedFailures(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"validation", appErrors.Clone(appErrors.ErrValidation, "student_id and class_id must be valid UUIDs"), http.StatusBadRequest, "VALIDATION_ERROR"},
		{"not found", appErrors.Clone(appErrors.ErrNotFound, "student not found"), http.StatusOK, "NOT_FOUND"},
		{"inactive", appErrors.Clone(appErrors.ErrInactiveResource, "class is not active"), http.StatusOK, "INACTIVE_RESOURCE"},
		{"gateway", appErrors.Clone(appErrors.ErrGateway, "invalid billing type"), http.StatusInternalServerError, "GATEWAY_ERROR"},
		{"persistence", appErrors.Clone(appErrors.ErrPersistence, "failed to persist enrollment"), http.StatusInternalServerError, "PERSISTENCE_ERROR"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := NewCheckoutHandler(&checkoutServiceMock{err: tc.err}, nil, nil)
			c, w := checkoutContext(`{"student_id":"`+ownStudentID+`","class_id":"`+someClassID+`"}`,
				&models.JWTClaims{UserID: "admin", Role: models.RoleAdmin})

			h.Checkout(c)

			require.Equal(t, tc.status, w.Code)
			body := decodeCheckout(t, w)
			assert.Equal(t, false, body["success"])
			assert.Equal(t, tc.code, body["error"])
			assert.NotEmpty(t, body["message"])
		})
	}
}

func TestCheckoutHandlerMalformedBody(t *testing.T) {
	svc := &checkoutServiceMock{}
	h := NewCheckoutHandler(svc, nil, nil)
	c, w := checkoutContext(`{"student_id":`, &models.JWTClaims{UserID: "admin", Role: models.RoleAdmin})

	h.Checkout(c)

	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "VALIDATION_ERROR", decodeCheckout(t, w)["error"])
	assert.Zero(t, svc.calls)
}

func TestCheckoutCallback(t *testing.T) {
	gin.SetMode(gin.TestMode)
	statuses := &checkoutStatusMock{status: &models.CheckoutStatus{EnrollmentID: "enr-1", Status: models.EnrollmentStatusActive, Active: true, Confirmed: true}}
	h := NewCheckoutHandler(nil, statuses, nil)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request, _ = http.NewRequest(http.MethodGet, "/checkout/callback?token=signed.value", nil)
	h.Callback(c)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "signed.value", statuses.token)
	assert.Contains(t, w.Body.String(), `"confirmed":true`)

	w = httptest.NewRecorder()
	c, _ = gin.CreateTestContext(w)
	c.Request, _ = http.NewRequest(http.MethodGet, "/checkout/callback", nil)
	h.Callback(c)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
