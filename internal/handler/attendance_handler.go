package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/dance-school-api/internal/models"
	"github.com/noah-isme/dance-school-api/internal/service"
	"github.com/noah-isme/dance-school-api/pkg/response"
)

type attendanceService interface {
	Mark(ctx context.Context, req service.MarkAttendanceRequest, recordedBy *string) (*models.Attendance, error)
	BulkMark(ctx context.Context, req service.BulkMarkAttendanceRequest, recordedBy *string) (*service.BulkAttendanceResult, error)
	ClassReport(ctx context.Context, classID string, date time.Time) ([]models.AttendanceReportRow, error)
	StudentSummary(ctx context.Context, studentID, classID string, from, to *time.Time) (*models.AttendanceSummary, error)
}

// AttendanceHandler exposes roll call endpoints.
type AttendanceHandler struct {
	service attendanceService
}

// NewAttendanceHandler constructs AttendanceHandler.
func NewAttendanceHandler(svc attendanceService) *AttendanceHandler {
	return &AttendanceHandler{service: svc}
}

// Mark godoc
// @Summary Record attendance for one enrollment
// @Tags Attendance
// @Accept json
// @Produce json
// @Param payload body service.MarkAttendanceRequest true "Attendance payload"
// @Success 200 {object} response.Envelope
// @Failure 422 {object} response.Envelope
// @Router /attendance [post]
func (h *AttendanceHandler) Mark(c *gin.Context) {
	var req service.MarkAttendanceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, invalidPayload(err, "invalid payload"))
		return
	}
	record, err := h.service.Mark(c.Request.Context(), req, userIDFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, record, nil)
}

// BulkMark godoc
// @Summary Record a whole class roll call
// @Tags Attendance
// @Accept json
// @Produce json
// @Param payload body service.BulkMarkAttendanceRequest true "Roll call"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /attendance/bulk [post]
func (h *AttendanceHandler) BulkMark(c *gin.Context) {
	var req service.BulkMarkAttendanceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, invalidPayload(err, "invalid payload"))
		return
	}
	result, err := h.service.BulkMark(c.Request.Context(), req, userIDFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}

// ClassReport godoc
// @Summary Attendance sheet of a class for one date
// @Tags Attendance
// @Produce json
// @Param id path string true "Class ID"
// @Param date query string false "Date (YYYY-MM-DD), defaults to today"
// @Success 200 {object} response.Envelope
// @Router /classes/{id}/attendance [get]
func (h *AttendanceHandler) ClassReport(c *gin.Context) {
	date, err := dateQuery(c, "date")
	if err != nil {
		response.Error(c, err)
		return
	}
	day := time.Now().UTC().Truncate(24 * time.Hour)
	if date != nil {
		day = *date
	}
	rows, err := h.service.ClassReport(c.Request.Context(), c.Param("id"), day)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, rows, nil, map[string]interface{}{"date": day.Format(queryDateLayout)})
}

// StudentSummary godoc
// @Summary Attendance totals of a student
// @Tags Attendance
// @Produce json
// @Param id path string true "Student ID"
// @Param classId query string false "Restrict to one class"
// @Param from query string false "From date (YYYY-MM-DD)"
// @Param to query string false "To date (YYYY-MM-DD)"
// @Success 200 {object} response.Envelope
// @Router /students/{id}/attendance [get]
func (h *AttendanceHandler) StudentSummary(c *gin.Context) {
	from, err := dateQuery(c, "from")
	if err != nil {
		response.Error(c, err)
		return
	}
	to, err := dateQuery(c, "to")
	if err != nil {
		response.Error(c, err)
		return
	}
	summary, err := h.service.StudentSummary(c.Request.Context(), c.Param("id"), c.Query("classId"), from, to)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, summary, nil)
}
