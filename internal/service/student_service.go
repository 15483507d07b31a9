package service

import (
	"context"
	"database/sql"
	"strings"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/dance-school-api/internal/models"
	appErrors "github.com/noah-isme/dance-school-api/pkg/errors"
)

type studentRepository interface {
	List(ctx context.Context, filter models.StudentFilter) ([]models.Student, int, error)
	FindByID(ctx context.Context, id string) (*models.Student, error)
	ExistsByTaxID(ctx context.Context, taxID string, excludeID string) (bool, error)
	Create(ctx context.Context, student *models.Student) error
	Update(ctx context.Context, student *models.Student) error
	UpdateGatewayCustomerID(ctx context.Context, id, customerID string) error
	Deactivate(ctx context.Context, id string) error
}

// CreateStudentRequest holds payload for creating students.
type CreateStudentRequest struct {
	UserID   *string `json:"user_id" validate:"omitempty,uuid"`
	FullName string  `json:"full_name" validate:"required,max=200"`
	TaxID    string  `json:"tax_id" validate:"required,numeric,min=11,max=14"`
	Email    *string `json:"email" validate:"omitempty,email"`
	Phone    string  `json:"phone" validate:"omitempty,max=20"`
}

// UpdateStudentRequest holds payload for updating students.
type UpdateStudentRequest struct {
	FullName string  `json:"full_name" validate:"required,max=200"`
	TaxID    string  `json:"tax_id" validate:"required,numeric,min=11,max=14"`
	Email    *string `json:"email" validate:"omitempty,email"`
	Phone    string  `json:"phone" validate:"omitempty,max=20"`
	Active   *bool   `json:"active"`
}

// StudentService handles student use-cases.
type StudentService struct {
	repo      studentRepository
	validator *validator.Validate
	logger    *zap.Logger
}

// NewStudentService constructs the student service.
func NewStudentService(repo studentRepository, validate *validator.Validate, logger *zap.Logger) *StudentService {
	if validate == nil {
		validate = NewValidator()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StudentService{repo: repo, validator: validate, logger: logger}
}

// List returns students and pagination metadata.
func (s *StudentService) List(ctx context.Context, filter models.StudentFilter) ([]models.Student, *models.Pagination, error) {
	students, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, internalError(err, "failed to list students")
	}
	return students, models.NewPagination(filter.Page, filter.PageSize, total), nil
}

// Get returns a single student.
func (s *StudentService) Get(ctx context.Context, id string) (*models.Student, error) {
	student, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "student not found")
		}
		return nil, internalError(err, "failed to load student")
	}
	return student, nil
}

// Create registers a student at signup.
func (s *StudentService) Create(ctx context.Context, req CreateStudentRequest) (*models.Student, error) {
	req.TaxID = digitsOnly(req.TaxID)
	req.FullName = strings.TrimSpace(req.FullName)
	if err := s.validator.Struct(req); err != nil {
		return nil, validationError(err, "invalid student payload")
	}
	if err := s.ensureTaxIDFree(ctx, req.TaxID, ""); err != nil {
		return nil, err
	}

	student := &models.Student{
		UserID:   req.UserID,
		FullName: req.FullName,
		TaxID:    req.TaxID,
		Email:    req.Email,
		Phone:    digitsOnly(req.Phone),
		Active:   true,
	}
	if err := s.repo.Create(ctx, student); err != nil {
		return nil, internalError(err, "failed to create student")
	}
	s.logger.Info("student created", zap.String("student_id", student.ID))
	return student, nil
}

// Update modifies the profile of a student.
func (s *StudentService) Update(ctx context.Context, id string, req UpdateStudentRequest) (*models.Student, error) {
	req.TaxID = digitsOnly(req.TaxID)
	req.FullName = strings.TrimSpace(req.FullName)
	if err := s.validator.Struct(req); err != nil {
		return nil, validationError(err, "invalid student payload")
	}
	student, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if req.TaxID != student.TaxID {
		if student.HasGatewayCustomer() {
			return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "tax id cannot change after the student was registered at the payment gateway")
		}
		if err := s.ensureTaxIDFree(ctx, req.TaxID, id); err != nil {
			return nil, err
		}
	}

	student.FullName = req.FullName
	student.TaxID = req.TaxID
	student.Email = req.Email
	student.Phone = digitsOnly(req.Phone)
	if req.Active != nil {
		student.Active = *req.Active
	}
	if err := s.repo.Update(ctx, student); err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "student not found")
		}
		return nil, internalError(err, "failed to update student")
	}
	return student, nil
}

// Deactivate hides a student without deleting history.
func (s *StudentService) Deactivate(ctx context.Context, id string) error {
	if err := s.repo.Deactivate(ctx, id); err != nil {
		if err == sql.ErrNoRows {
			return appErrors.Clone(appErrors.ErrNotFound, "student not found")
		}
		return internalError(err, "failed to deactivate student")
	}
	return nil
}

func (s *StudentService) ensureTaxIDFree(ctx context.Context, taxID, excludeID string) error {
	exists, err := s.repo.ExistsByTaxID(ctx, taxID, excludeID)
	if err != nil {
		return internalError(err, "failed to check tax id")
	}
	if exists {
		return appErrors.Clone(appErrors.ErrConflict, "tax id already registered")
	}
	return nil
}
