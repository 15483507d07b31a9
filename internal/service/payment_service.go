package service

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/noah-isme/dance-school-api/internal/models"
	appErrors "github.com/noah-isme/dance-school-api/pkg/errors"
)

const dateLayout = "2006-01-02"

type paymentRepository interface {
	List(ctx context.Context, filter models.PaymentFilter) ([]models.PaymentDetail, int, error)
	FindByID(ctx context.Context, id string) (*models.PaymentDetail, error)
	Create(ctx context.Context, payment *models.Payment) error
	MarkPaid(ctx context.Context, id string, paidAt time.Time, method models.PaymentMethod) error
	UpdateStatus(ctx context.Context, id string, status models.PaymentStatus) error
	MarkOverdue(ctx context.Context, asOf time.Time) (int64, error)
}

type enrollmentReader interface {
	FindByID(ctx context.Context, id string) (*models.Enrollment, error)
}

// CreatePaymentRequest registers a manual charge.
type CreatePaymentRequest struct {
	StudentID    string          `json:"student_id" validate:"required,uuid"`
	EnrollmentID *string         `json:"enrollment_id" validate:"omitempty,uuid"`
	Amount       decimal.Decimal `json:"amount"`
	DueDate      string          `json:"due_date" validate:"required,datetime=2006-01-02"`
	Method       string          `json:"method" validate:"required,oneof=pix boleto credit_card cash"`
	Description  string          `json:"description" validate:"max=255"`
}

// MarkPaidRequest settles a payment. PaidAt defaults to now.
type MarkPaidRequest struct {
	Method string     `json:"method" validate:"omitempty,oneof=pix boleto credit_card cash"`
	PaidAt *time.Time `json:"paid_at"`
}

// PaymentService manages charges and their settlement.
type PaymentService struct {
	repo        paymentRepository
	students    studentReader
	enrollments enrollmentReader
	metrics     *MetricsService
	validator   *validator.Validate
	logger      *zap.Logger
	now         func() time.Time
}

// NewPaymentService constructs PaymentService.
func NewPaymentService(repo paymentRepository, students studentReader, enrollments enrollmentReader, metrics *MetricsService, validate *validator.Validate, logger *zap.Logger) *PaymentService {
	if validate == nil {
		validate = NewValidator()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PaymentService{
		repo:        repo,
		students:    students,
		enrollments: enrollments,
		metrics:     metrics,
		validator:   validate,
		logger:      logger,
		now:         time.Now,
	}
}

// List returns payments with pagination metadata.
func (s *PaymentService) List(ctx context.Context, filter models.PaymentFilter) ([]models.PaymentDetail, *models.Pagination, error) {
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, nil, appErrors.Clone(appErrors.ErrValidation, "invalid payment status")
	}
	if filter.DueFrom != nil && filter.DueTo != nil && filter.DueTo.Before(*filter.DueFrom) {
		return nil, nil, appErrors.Clone(appErrors.ErrValidation, "due_to must not be before due_from")
	}
	payments, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, internalError(err, "failed to list payments")
	}
	return payments, models.NewPagination(filter.Page, filter.PageSize, total), nil
}

// Get returns one payment.
func (s *PaymentService) Get(ctx context.Context, id string) (*models.PaymentDetail, error) {
	payment, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "payment not found")
		}
		return nil, internalError(err, "failed to load payment")
	}
	return payment, nil
}

// Create records a pending manual charge for a student.
func (s *PaymentService) Create(ctx context.Context, req CreatePaymentRequest) (*models.PaymentDetail, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, validationError(err, "invalid payment payload")
	}
	if !req.Amount.IsPositive() {
		return nil, appErrors.WithDetails(appErrors.ErrValidation, "invalid payment payload", nil, "amount: must be greater than zero")
	}
	dueDate, _ := time.Parse(dateLayout, req.DueDate)

	if _, err := s.students.FindByID(ctx, req.StudentID); err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "student not found")
		}
		return nil, internalError(err, "failed to load student")
	}
	if req.EnrollmentID != nil {
		enrollment, err := s.enrollments.FindByID(ctx, *req.EnrollmentID)
		if err != nil {
			if err == sql.ErrNoRows {
				return nil, appErrors.Clone(appErrors.ErrNotFound, "enrollment not found")
			}
			return nil, internalError(err, "failed to load enrollment")
		}
		if enrollment.StudentID != req.StudentID {
			return nil, appErrors.Clone(appErrors.ErrValidation, "enrollment belongs to another student")
		}
	}

	payment := &models.Payment{
		StudentID:    req.StudentID,
		EnrollmentID: req.EnrollmentID,
		Amount:       req.Amount.Round(2),
		DueDate:      dueDate,
		Status:       models.PaymentStatusPending,
		Method:       models.PaymentMethod(req.Method),
		Description:  strings.TrimSpace(req.Description),
	}
	if err := s.repo.Create(ctx, payment); err != nil {
		return nil, appErrors.WithDetails(appErrors.ErrPersistence, "failed to create payment", err)
	}
	return s.Get(ctx, payment.ID)
}

// MarkPaid settles a pending or overdue payment. Settling an already paid payment is a no-op.
func (s *PaymentService) MarkPaid(ctx context.Context, id string, req MarkPaidRequest) (*models.PaymentDetail, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, validationError(err, "invalid payment payload")
	}
	payment, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	switch payment.Status {
	case models.PaymentStatusPaid:
		return payment, nil
	case models.PaymentStatusCancelled:
		return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "cancelled payments cannot be settled")
	}

	method := payment.Method
	if req.Method != "" {
		method = models.PaymentMethod(req.Method)
	}
	paidAt := s.now().UTC()
	if req.PaidAt != nil {
		paidAt = req.PaidAt.UTC()
	}
	if err := s.repo.MarkPaid(ctx, id, paidAt, method); err != nil {
		return nil, internalError(err, "failed to settle payment")
	}
	s.logger.Info("payment settled", zap.String("payment_id", id), zap.String("method", string(method)))
	return s.Get(ctx, id)
}

// Cancel voids an unpaid payment.
func (s *PaymentService) Cancel(ctx context.Context, id string) (*models.PaymentDetail, error) {
	payment, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	switch payment.Status {
	case models.PaymentStatusCancelled:
		return payment, nil
	case models.PaymentStatusPaid:
		return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "paid payments cannot be cancelled")
	}
	if err := s.repo.UpdateStatus(ctx, id, models.PaymentStatusCancelled); err != nil {
		return nil, internalError(err, "failed to cancel payment")
	}
	return s.Get(ctx, id)
}

// SweepOverdue flips pending payments due before today to overdue.
func (s *PaymentService) SweepOverdue(ctx context.Context) (int64, error) {
	now := s.now().UTC()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	n, err := s.repo.MarkOverdue(ctx, today)
	if err != nil {
		return 0, internalError(err, "failed to mark overdue payments")
	}
	s.metrics.AddOverdue(n)
	if n > 0 {
		s.logger.Info("payments marked overdue", zap.Int64("count", n))
	}
	return n, nil
}
