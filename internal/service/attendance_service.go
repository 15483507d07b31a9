package service

import (
	"context"
	"database/sql"
	"math"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/dance-school-api/internal/models"
	appErrors "github.com/noah-isme/dance-school-api/pkg/errors"
)

type attendanceRepository interface {
	Upsert(ctx context.Context, record *models.Attendance) (*models.Attendance, error)
	BulkUpsert(ctx context.Context, records []models.Attendance) error
	ActiveEnrollmentIDs(ctx context.Context, classID string, enrollmentIDs []string) (map[string]bool, error)
	ClassReport(ctx context.Context, classID string, date time.Time) ([]models.AttendanceReportRow, error)
	StudentSummary(ctx context.Context, studentID, classID string, from, to *time.Time) (*models.AttendanceSummary, error)
}

// MarkAttendanceRequest marks one enrollment on one date.
type MarkAttendanceRequest struct {
	EnrollmentID string  `json:"enrollment_id" validate:"required,uuid"`
	Date         string  `json:"date" validate:"required,datetime=2006-01-02"`
	Status       string  `json:"status" validate:"required,oneof=present absent excused"`
	Notes        *string `json:"notes" validate:"omitempty,max=500"`
}

// BulkAttendanceItem is one line of a class roll call.
type BulkAttendanceItem struct {
	EnrollmentID string  `json:"enrollment_id" validate:"required,uuid"`
	Status       string  `json:"status" validate:"required,oneof=present absent excused"`
	Notes        *string `json:"notes" validate:"omitempty,max=500"`
}

// BulkMarkAttendanceRequest records a full roll call for a class meeting.
type BulkMarkAttendanceRequest struct {
	ClassID string               `json:"class_id" validate:"required,uuid"`
	Date    string               `json:"date" validate:"required,datetime=2006-01-02"`
	Items   []BulkAttendanceItem `json:"items" validate:"required,min=1,dive"`
}

// BulkAttendanceResult summarises bulk execution.
type BulkAttendanceResult struct {
	Processed int                             `json:"processed"`
	Success   int                             `json:"success"`
	Conflicts []models.AttendanceBulkConflict `json:"conflicts,omitempty"`
}

// AttendanceService records class attendance.
type AttendanceService struct {
	repo        attendanceRepository
	enrollments enrollmentReader
	validator   *validator.Validate
	logger      *zap.Logger
	now         func() time.Time
}

// NewAttendanceService constructs the attendance service.
func NewAttendanceService(repo attendanceRepository, enrollments enrollmentReader, validate *validator.Validate, logger *zap.Logger) *AttendanceService {
	if validate == nil {
		validate = NewValidator()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AttendanceService{repo: repo, enrollments: enrollments, validator: validate, logger: logger, now: time.Now}
}

// Mark upserts attendance for one enrollment. Only active enrollments can be marked.
func (s *AttendanceService) Mark(ctx context.Context, req MarkAttendanceRequest, recordedBy *string) (*models.Attendance, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, validationError(err, "invalid attendance payload")
	}
	date, err := s.parseDate(req.Date)
	if err != nil {
		return nil, err
	}
	enrollment, err := s.enrollments.FindByID(ctx, req.EnrollmentID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "enrollment not found")
		}
		return nil, internalError(err, "failed to load enrollment")
	}
	if !enrollment.Active {
		return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "enrollment is not active")
	}

	record := &models.Attendance{
		EnrollmentID: enrollment.ID,
		Date:         date,
		Status:       models.AttendanceStatus(req.Status),
		Notes:        req.Notes,
		RecordedBy:   recordedBy,
	}
	stored, err := s.repo.Upsert(ctx, record)
	if err != nil {
		return nil, internalError(err, "failed to mark attendance")
	}
	return stored, nil
}

// BulkMark records a roll call for a class. Items whose enrollment is not active in the
// class are reported as conflicts; the rest are written in one transaction.
func (s *AttendanceService) BulkMark(ctx context.Context, req BulkMarkAttendanceRequest, recordedBy *string) (*BulkAttendanceResult, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, validationError(err, "invalid attendance payload")
	}
	date, err := s.parseDate(req.Date)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]struct{}, len(req.Items))
	ids := make([]string, 0, len(req.Items))
	for _, item := range req.Items {
		if _, dup := seen[item.EnrollmentID]; dup {
			return nil, appErrors.WithDetails(appErrors.ErrConflict, "duplicate enrollment in payload", nil, item.EnrollmentID)
		}
		seen[item.EnrollmentID] = struct{}{}
		ids = append(ids, item.EnrollmentID)
	}

	active, err := s.repo.ActiveEnrollmentIDs(ctx, req.ClassID, ids)
	if err != nil {
		return nil, internalError(err, "failed to check enrollments")
	}

	result := &BulkAttendanceResult{Processed: len(req.Items)}
	records := make([]models.Attendance, 0, len(req.Items))
	for _, item := range req.Items {
		if !active[item.EnrollmentID] {
			result.Conflicts = append(result.Conflicts, models.AttendanceBulkConflict{
				EnrollmentID: item.EnrollmentID,
				Reason:       "enrollment is not active in this class",
			})
			continue
		}
		records = append(records, models.Attendance{
			EnrollmentID: item.EnrollmentID,
			Date:         date,
			Status:       models.AttendanceStatus(item.Status),
			Notes:        item.Notes,
			RecordedBy:   recordedBy,
		})
	}
	if err := s.repo.BulkUpsert(ctx, records); err != nil {
		return nil, internalError(err, "bulk mark failed")
	}
	result.Success = len(records)
	if len(result.Conflicts) > 0 {
		s.logger.Warn("attendance roll call skipped enrollments",
			zap.String("class_id", req.ClassID),
			zap.Int("conflicts", len(result.Conflicts)),
		)
	}
	return result, nil
}

// ClassReport lists every current student of a class with the status recorded on date.
func (s *AttendanceService) ClassReport(ctx context.Context, classID string, date time.Time) ([]models.AttendanceReportRow, error) {
	rows, err := s.repo.ClassReport(ctx, classID, date)
	if err != nil {
		return nil, internalError(err, "failed to load class report")
	}
	return rows, nil
}

// StudentSummary counts a student's attendance, optionally scoped to a class and range.
// Excused absences count towards the percentage.
func (s *AttendanceService) StudentSummary(ctx context.Context, studentID, classID string, from, to *time.Time) (*models.AttendanceSummary, error) {
	if from != nil && to != nil && to.Before(*from) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "to must not be before from")
	}
	summary, err := s.repo.StudentSummary(ctx, studentID, classID, from, to)
	if err != nil {
		return nil, internalError(err, "failed to summarise attendance")
	}
	if summary.Total > 0 {
		pct := float64(summary.Present+summary.Excused) / float64(summary.Total) * 100
		summary.Percent = math.Round(pct*100) / 100
	}
	return summary, nil
}

func (s *AttendanceService) parseDate(value string) (time.Time, error) {
	date, err := time.Parse(dateLayout, value)
	if err != nil {
		return time.Time{}, appErrors.Clone(appErrors.ErrValidation, "invalid date format, expected YYYY-MM-DD")
	}
	now := s.now().UTC()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	if date.After(today) {
		return time.Time{}, appErrors.WithDetails(appErrors.ErrValidation, "invalid attendance payload", nil, "date: must not be in the future")
	}
	return date, nil
}
