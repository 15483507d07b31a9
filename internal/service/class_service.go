package service

import (
	"context"
	"database/sql"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/noah-isme/dance-school-api/internal/models"
	appErrors "github.com/noah-isme/dance-school-api/pkg/errors"
)

const classCachePattern = "classes:*"

type classRepository interface {
	List(ctx context.Context, filter models.ClassFilter) ([]models.ClassDetail, int, error)
	FindByID(ctx context.Context, id string) (*models.Class, error)
	FindDetailByID(ctx context.Context, id string) (*models.ClassDetail, error)
	CountCurrentEnrollments(ctx context.Context, classID string) (int, error)
	Create(ctx context.Context, class *models.Class) error
	Update(ctx context.Context, class *models.Class) error
	Deactivate(ctx context.Context, id string) error
}

type rosterReader interface {
	Roster(ctx context.Context, classID string) ([]models.EnrollmentDetail, error)
}

// ClassRequest is the payload for creating or updating a class.
type ClassRequest struct {
	Name          string          `json:"name" validate:"required,max=120"`
	Modality      string          `json:"modality" validate:"required,max=60"`
	Level         string          `json:"level" validate:"required,max=60"`
	Weekdays      []string        `json:"weekdays" validate:"required,min=1,max=7,dive,weekday"`
	StartTime     string          `json:"start_time" validate:"required,clock"`
	EndTime       string          `json:"end_time" validate:"required,clock"`
	Capacity      int             `json:"capacity" validate:"min=0"`
	MonthlyPrice  decimal.Decimal `json:"monthly_price"`
	EnrollmentFee decimal.Decimal `json:"enrollment_fee"`
	TeacherID     *string         `json:"teacher_id" validate:"omitempty,uuid"`
	Active        *bool           `json:"active"`
}

// classListPage is what the catalog cache stores per filter.
type classListPage struct {
	Items []models.ClassDetail `json:"items"`
	Total int                  `json:"total"`
}

// ClassService coordinates the class catalog.
type ClassService struct {
	repo      classRepository
	roster    rosterReader
	cache     *CacheService
	validator *validator.Validate
	logger    *zap.Logger
}

// NewClassService constructs ClassService. cache may be nil.
func NewClassService(repo classRepository, roster rosterReader, cache *CacheService, validate *validator.Validate, logger *zap.Logger) *ClassService {
	if validate == nil {
		validate = NewValidator()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ClassService{repo: repo, roster: roster, cache: cache, validator: validate, logger: logger}
}

// List returns classes with pagination metadata, reporting whether the page came from cache.
func (s *ClassService) List(ctx context.Context, filter models.ClassFilter) ([]models.ClassDetail, *models.Pagination, bool, error) {
	key := filter.CacheKey()
	var page classListPage
	if s.cache.Get(ctx, key, &page) {
		return page.Items, models.NewPagination(filter.Page, filter.PageSize, page.Total), true, nil
	}

	classes, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, false, internalError(err, "failed to list classes")
	}
	s.cache.Set(ctx, key, classListPage{Items: classes, Total: total}, 0)
	return classes, models.NewPagination(filter.Page, filter.PageSize, total), false, nil
}

// Get returns detailed class information.
func (s *ClassService) Get(ctx context.Context, id string) (*models.ClassDetail, error) {
	detail, err := s.repo.FindDetailByID(ctx, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "class not found")
		}
		return nil, internalError(err, "failed to load class")
	}
	return detail, nil
}

// Create adds a new class.
func (s *ClassService) Create(ctx context.Context, req ClassRequest) (*models.Class, error) {
	if err := s.validate(&req); err != nil {
		return nil, err
	}
	class := &models.Class{Active: true}
	applyClassRequest(class, req)
	if err := s.repo.Create(ctx, class); err != nil {
		return nil, internalError(err, "failed to create class")
	}
	s.cache.Invalidate(ctx, classCachePattern)
	return class, nil
}

// Update modifies a class. Schedule fields are frozen while the class has current enrollments.
func (s *ClassService) Update(ctx context.Context, id string, req ClassRequest) (*models.Class, error) {
	if err := s.validate(&req); err != nil {
		return nil, err
	}
	class, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "class not found")
		}
		return nil, internalError(err, "failed to load class")
	}

	proposed := *class
	applyClassRequest(&proposed, req)

	current, err := s.repo.CountCurrentEnrollments(ctx, id)
	if err != nil {
		return nil, internalError(err, "failed to count enrollments")
	}
	if current > 0 && !class.SameSchedule(&proposed) {
		return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "schedule cannot change while students are enrolled")
	}
	if proposed.Capacity > 0 && proposed.Capacity < current {
		return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "capacity is below the number of enrolled students")
	}

	if err := s.repo.Update(ctx, &proposed); err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "class not found")
		}
		return nil, internalError(err, "failed to update class")
	}
	s.cache.Invalidate(ctx, classCachePattern)
	return &proposed, nil
}

// Deactivate hides a class from new enrollments while keeping history.
func (s *ClassService) Deactivate(ctx context.Context, id string) error {
	if err := s.repo.Deactivate(ctx, id); err != nil {
		if err == sql.ErrNoRows {
			return appErrors.Clone(appErrors.ErrNotFound, "class not found")
		}
		return internalError(err, "failed to deactivate class")
	}
	s.cache.Invalidate(ctx, classCachePattern)
	return nil
}

// Roster lists current enrollments of a class.
func (s *ClassService) Roster(ctx context.Context, id string) ([]models.EnrollmentDetail, error) {
	if _, err := s.Get(ctx, id); err != nil {
		return nil, err
	}
	roster, err := s.roster.Roster(ctx, id)
	if err != nil {
		return nil, internalError(err, "failed to load roster")
	}
	return roster, nil
}

func (s *ClassService) validate(req *ClassRequest) error {
	for i, d := range req.Weekdays {
		req.Weekdays[i] = strings.ToLower(strings.TrimSpace(d))
	}
	if err := s.validator.Struct(req); err != nil {
		return validationError(err, "invalid class payload")
	}
	var details []string
	if req.EndTime <= req.StartTime {
		details = append(details, "end_time: must be after start_time")
	}
	if !req.MonthlyPrice.IsPositive() {
		details = append(details, "monthly_price: must be greater than zero")
	}
	if req.EnrollmentFee.IsNegative() {
		details = append(details, "enrollment_fee: must not be negative")
	}
	if len(details) > 0 {
		return appErrors.WithDetails(appErrors.ErrValidation, "invalid class payload", nil, details...)
	}
	return nil
}

// applyClassRequest copies the request onto the class with weekdays deduplicated in calendar order.
func applyClassRequest(class *models.Class, req ClassRequest) {
	seen := make(map[string]bool, len(req.Weekdays))
	for _, d := range req.Weekdays {
		seen[d] = true
	}
	days := make(pq.StringArray, 0, len(seen))
	for _, d := range models.Weekdays {
		if seen[d] {
			days = append(days, d)
		}
	}
	class.Name = strings.TrimSpace(req.Name)
	class.Modality = strings.ToLower(strings.TrimSpace(req.Modality))
	class.Level = strings.ToLower(strings.TrimSpace(req.Level))
	class.Weekdays = days
	class.StartTime = req.StartTime
	class.EndTime = req.EndTime
	class.Capacity = req.Capacity
	class.MonthlyPrice = req.MonthlyPrice.Round(2)
	class.EnrollmentFee = req.EnrollmentFee.Round(2)
	class.TeacherID = req.TeacherID
	if req.Active != nil {
		class.Active = *req.Active
	}
}
