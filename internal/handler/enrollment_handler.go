package handler

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/dance-school-api/internal/models"
	"github.com/noah-isme/dance-school-api/internal/service"
	"github.com/noah-isme/dance-school-api/pkg/response"
)

// EnrollmentHandler exposes staff enrollment endpoints.
type EnrollmentHandler struct {
	enrollments *service.EnrollmentService
}

// NewEnrollmentHandler constructs EnrollmentHandler.
func NewEnrollmentHandler(enrollments *service.EnrollmentService) *EnrollmentHandler {
	return &EnrollmentHandler{enrollments: enrollments}
}

// List godoc
// @Summary List enrollments
// @Tags Enrollments
// @Produce json
// @Param studentId query string false "Filter by student"
// @Param classId query string false "Filter by class"
// @Param status query string false "pending, active or cancelled"
// @Param active query bool false "Filter by active flag"
// @Param page query int false "Page"
// @Param limit query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /enrollments [get]
func (h *EnrollmentHandler) List(c *gin.Context) {
	filter := models.EnrollmentFilter{
		StudentID: c.Query("studentId"),
		ClassID:   c.Query("classId"),
		Status:    models.EnrollmentStatus(strings.ToLower(strings.TrimSpace(c.Query("status")))),
		Active:    boolQuery(c, "active"),
		SortBy:    c.Query("sort"),
		SortOrder: c.Query("order"),
	}
	filter.Page, filter.PageSize = paging(c)

	enrollments, pagination, err := h.enrollments.List(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, enrollments, pagination)
}

// Get godoc
// @Summary Get enrollment detail
// @Tags Enrollments
// @Produce json
// @Param id path string true "Enrollment ID"
// @Success 200 {object} response.Envelope
// @Router /enrollments/{id} [get]
func (h *EnrollmentHandler) Get(c *gin.Context) {
	enrollment, err := h.enrollments.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, enrollment, nil)
}

// Create godoc
// @Summary Enroll a student paying at the front desk
// @Description Creates an active enrollment directly and records the enrollment fee as paid
// @Tags Enrollments
// @Accept json
// @Produce json
// @Param payload body service.CashEnrollmentRequest true "Enrollment payload"
// @Success 201 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Failure 412 {object} response.Envelope
// @Failure 422 {object} response.Envelope
// @Router /enrollments [post]
func (h *EnrollmentHandler) Create(c *gin.Context) {
	var req service.CashEnrollmentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, invalidPayload(err, "invalid payload"))
		return
	}
	result, err := h.enrollments.EnrollCash(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, result)
}

// Activate godoc
// @Summary Confirm a pending enrollment manually
// @Tags Enrollments
// @Produce json
// @Param id path string true "Enrollment ID"
// @Success 200 {object} response.Envelope
// @Router /enrollments/{id}/activate [post]
func (h *EnrollmentHandler) Activate(c *gin.Context) {
	enrollment, err := h.enrollments.Activate(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, enrollment, nil)
}

// SetActive godoc
// @Summary Toggle an enrollment without deleting it
// @Tags Enrollments
// @Accept json
// @Produce json
// @Param id path string true "Enrollment ID"
// @Param payload body map[string]bool true "{\"active\": false}"
// @Success 200 {object} response.Envelope
// @Router /enrollments/{id}/active [patch]
func (h *EnrollmentHandler) SetActive(c *gin.Context) {
	var payload struct {
		Active *bool `json:"active" binding:"required"`
	}
	if err := c.ShouldBindJSON(&payload); err != nil {
		response.Error(c, invalidPayload(err, "active flag required"))
		return
	}
	enrollment, err := h.enrollments.SetActive(c.Request.Context(), c.Param("id"), *payload.Active)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, enrollment, nil)
}
