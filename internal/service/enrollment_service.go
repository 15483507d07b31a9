package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/dance-school-api/internal/models"
	"github.com/noah-isme/dance-school-api/internal/repository"
	appErrors "github.com/noah-isme/dance-school-api/pkg/errors"
)

type enrollmentRepository interface {
	List(ctx context.Context, filter models.EnrollmentFilter) ([]models.EnrollmentDetail, int, error)
	FindByID(ctx context.Context, id string) (*models.Enrollment, error)
	FindDetailByID(ctx context.Context, id string) (*models.EnrollmentDetail, error)
	FindLatestByStudentAndClass(ctx context.Context, studentID, classID string) (*models.Enrollment, error)
	Create(ctx context.Context, enrollment *models.Enrollment) error
	CreateWithPayment(ctx context.Context, enrollment *models.Enrollment, payment *models.Payment) error
	Activate(ctx context.Context, id string) error
	UpdateStatus(ctx context.Context, id string, status models.EnrollmentStatus) error
}

type studentReader interface {
	FindByID(ctx context.Context, id string) (*models.Student, error)
}

type enrollmentClassReader interface {
	FindByID(ctx context.Context, id string) (*models.Class, error)
	CountCurrentEnrollments(ctx context.Context, classID string) (int, error)
	ListCurrentForStudent(ctx context.Context, studentID string) ([]models.Class, error)
}

// CashEnrollmentRequest enrolls a student paid at the front desk.
type CashEnrollmentRequest struct {
	StudentID string `json:"student_id" validate:"required,uuid"`
	ClassID   string `json:"class_id" validate:"required,uuid"`
	Method    string `json:"method" validate:"omitempty,oneof=cash pix boleto credit_card"`
}

// CashEnrollment is the result of EnrollCash.
type CashEnrollment struct {
	Enrollment *models.EnrollmentDetail `json:"enrollment"`
	Payment    *models.Payment          `json:"payment,omitempty"`
}

// EnrollmentService handles staff-side enrollment management.
type EnrollmentService struct {
	repo      enrollmentRepository
	students  studentReader
	classes   enrollmentClassReader
	validator *validator.Validate
	logger    *zap.Logger
	now       func() time.Time
}

// NewEnrollmentService constructs EnrollmentService.
func NewEnrollmentService(repo enrollmentRepository, students studentReader, classes enrollmentClassReader, validate *validator.Validate, logger *zap.Logger) *EnrollmentService {
	if validate == nil {
		validate = NewValidator()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EnrollmentService{repo: repo, students: students, classes: classes, validator: validate, logger: logger, now: time.Now}
}

// List returns enrollments with pagination metadata.
func (s *EnrollmentService) List(ctx context.Context, filter models.EnrollmentFilter) ([]models.EnrollmentDetail, *models.Pagination, error) {
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, nil, appErrors.Clone(appErrors.ErrValidation, "invalid enrollment status")
	}
	enrollments, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, internalError(err, "failed to list enrollments")
	}
	return enrollments, models.NewPagination(filter.Page, filter.PageSize, total), nil
}

// Get returns a single enrollment with student and class names.
func (s *EnrollmentService) Get(ctx context.Context, id string) (*models.EnrollmentDetail, error) {
	detail, err := s.repo.FindDetailByID(ctx, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "enrollment not found")
		}
		return nil, internalError(err, "failed to load enrollment")
	}
	return detail, nil
}

// EnrollCash creates an active enrollment without going through the gateway. When the
// class charges an enrollment fee, a settled payment is recorded in the same transaction.
func (s *EnrollmentService) EnrollCash(ctx context.Context, req CashEnrollmentRequest) (*CashEnrollment, error) {
	req.StudentID = strings.ToLower(strings.TrimSpace(req.StudentID))
	req.ClassID = strings.ToLower(strings.TrimSpace(req.ClassID))
	if err := s.validator.Struct(req); err != nil {
		return nil, validationError(err, "invalid enrollment payload")
	}

	student, err := s.students.FindByID(ctx, req.StudentID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "student not found")
		}
		return nil, internalError(err, "failed to load student")
	}
	if !student.Active {
		return nil, appErrors.Clone(appErrors.ErrInactiveResource, "student is not active")
	}
	class, err := s.classes.FindByID(ctx, req.ClassID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "class not found")
		}
		return nil, internalError(err, "failed to load class")
	}
	if !class.Active {
		return nil, appErrors.Clone(appErrors.ErrInactiveResource, "class is not active")
	}

	latest, err := s.repo.FindLatestByStudentAndClass(ctx, student.ID, class.ID)
	if err != nil && err != sql.ErrNoRows {
		return nil, internalError(err, "failed to load enrollment history")
	}
	if latest.IsCurrent() {
		return nil, appErrors.Clone(appErrors.ErrConflict, "student already enrolled in this class")
	}

	if class.Capacity > 0 {
		current, err := s.classes.CountCurrentEnrollments(ctx, class.ID)
		if err != nil {
			return nil, internalError(err, "failed to count enrollments")
		}
		if current >= class.Capacity {
			return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "class is full")
		}
	}

	if err := s.checkScheduleConflicts(ctx, student.ID, class); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	enrollment := &models.Enrollment{
		StudentID:      student.ID,
		ClassID:        class.ID,
		Active:         true,
		Status:         models.EnrollmentStatusActive,
		EnrollmentDate: now,
	}

	var payment *models.Payment
	if class.EnrollmentFee.IsPositive() {
		method := models.PaymentMethodCash
		if req.Method != "" {
			method = models.PaymentMethod(req.Method)
		}
		payment = &models.Payment{
			StudentID:   student.ID,
			Amount:      class.EnrollmentFee,
			DueDate:     now,
			PaidAt:      &now,
			Status:      models.PaymentStatusPaid,
			Method:      method,
			Description: fmt.Sprintf("Enrollment fee - %s", class.Name),
		}
		err = s.repo.CreateWithPayment(ctx, enrollment, payment)
	} else {
		err = s.repo.Create(ctx, enrollment)
	}
	if err != nil {
		if errors.Is(err, repository.ErrDuplicateEnrollment) {
			return nil, appErrors.Clone(appErrors.ErrConflict, "student already enrolled in this class")
		}
		return nil, appErrors.WithDetails(appErrors.ErrPersistence, "failed to create enrollment", err)
	}

	s.logger.Info("cash enrollment created",
		zap.String("enrollment_id", enrollment.ID),
		zap.String("student_id", student.ID),
		zap.String("class_id", class.ID),
	)

	detail, err := s.Get(ctx, enrollment.ID)
	if err != nil {
		return nil, err
	}
	return &CashEnrollment{Enrollment: detail, Payment: payment}, nil
}

// checkScheduleConflicts rejects a class meeting at the same time as one of the student's
// current classes.
func (s *EnrollmentService) checkScheduleConflicts(ctx context.Context, studentID string, class *models.Class) error {
	current, err := s.classes.ListCurrentForStudent(ctx, studentID)
	if err != nil {
		return internalError(err, "failed to load student schedule")
	}
	var clashes []string
	for i := range current {
		other := &current[i]
		if other.ID == class.ID {
			continue
		}
		if class.Overlaps(other) {
			clashes = append(clashes, fmt.Sprintf("%s (%s %s-%s)", other.Name, strings.Join(other.Weekdays, ","), other.StartTime, other.EndTime))
		}
	}
	if len(clashes) > 0 {
		return appErrors.WithDetails(appErrors.ErrConflict, "schedule conflicts with current classes", nil, clashes...)
	}
	return nil
}

// Activate confirms a pending enrollment manually, for payments settled outside the gateway.
func (s *EnrollmentService) Activate(ctx context.Context, id string) (*models.EnrollmentDetail, error) {
	enrollment, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	switch enrollment.Status {
	case models.EnrollmentStatusCancelled:
		return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "cancelled enrollments cannot be activated")
	case models.EnrollmentStatusActive:
		if enrollment.Active {
			return s.Get(ctx, id)
		}
	}
	if err := s.repo.Activate(ctx, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "enrollment not found")
		}
		return nil, internalError(err, "failed to activate enrollment")
	}
	s.logger.Info("enrollment activated", zap.String("enrollment_id", id))
	return s.Get(ctx, id)
}

// SetActive toggles an enrollment without deleting it. Deactivating cancels it; reactivating
// fails when the student has another current enrollment in the same class.
func (s *EnrollmentService) SetActive(ctx context.Context, id string, active bool) (*models.EnrollmentDetail, error) {
	enrollment, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	status := models.EnrollmentStatusCancelled
	if active {
		status = models.EnrollmentStatusActive
	}
	if enrollment.Status == status && enrollment.Active == active {
		return s.Get(ctx, id)
	}
	if err := s.repo.UpdateStatus(ctx, id, status); err != nil {
		switch {
		case errors.Is(err, repository.ErrDuplicateEnrollment):
			return nil, appErrors.Clone(appErrors.ErrConflict, "student already has a current enrollment in this class")
		case err == sql.ErrNoRows:
			return nil, appErrors.Clone(appErrors.ErrNotFound, "enrollment not found")
		}
		return nil, internalError(err, "failed to update enrollment")
	}
	s.logger.Info("enrollment status changed", zap.String("enrollment_id", id), zap.String("status", string(status)))
	return s.Get(ctx, id)
}

func (s *EnrollmentService) load(ctx context.Context, id string) (*models.Enrollment, error) {
	enrollment, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "enrollment not found")
		}
		return nil, internalError(err, "failed to load enrollment")
	}
	return enrollment, nil
}
