package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/noah-isme/dance-school-api/internal/models"
	appErrors "github.com/noah-isme/dance-school-api/pkg/errors"
)

type userRepository interface {
	List(ctx context.Context, filter models.UserFilter) ([]models.User, int, error)
	FindByID(ctx context.Context, id string) (*models.User, error)
	FindByEmail(ctx context.Context, email string) (*models.User, error)
	Create(ctx context.Context, user *models.User) error
	Update(ctx context.Context, user *models.User) error
	Deactivate(ctx context.Context, id string) error
	RevokeUserRefreshTokens(ctx context.Context, userID string) error
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

type userStudentLinker interface {
	FindByID(ctx context.Context, id string) (*models.Student, error)
	LinkUser(ctx context.Context, id, userID string) error
}

// CreateUserRequest creates a login. STUDENT logins must name the student record they open.
type CreateUserRequest struct {
	Email     string          `json:"email" validate:"required,email"`
	FullName  string          `json:"full_name" validate:"required,max=200"`
	Role      models.UserRole `json:"role" validate:"required,oneof=ADMIN STAFF TEACHER STUDENT"`
	Password  string          `json:"password" validate:"required,min=8"`
	StudentID *string         `json:"student_id" validate:"required_if=Role STUDENT,omitempty,uuid"`
}

// UpdateUserRequest payload for updating users.
type UpdateUserRequest struct {
	FullName string          `json:"full_name" validate:"required,max=200"`
	Role     models.UserRole `json:"role" validate:"required,oneof=ADMIN STAFF TEACHER STUDENT"`
	Active   *bool           `json:"active"`
}

// UserService manages staff, teacher and student logins.
type UserService struct {
	repo      userRepository
	students  userStudentLinker
	validator *validator.Validate
	logger    *zap.Logger
}

// NewUserService creates an instance of UserService.
func NewUserService(repo userRepository, students userStudentLinker, validate *validator.Validate, logger *zap.Logger) *UserService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = NewValidator()
	}
	return &UserService{repo: repo, students: students, validator: validate, logger: logger}
}

// List returns paginated users and pagination metadata.
func (s *UserService) List(ctx context.Context, filter models.UserFilter) ([]models.User, *models.Pagination, error) {
	users, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, internalError(err, "failed to list users")
	}
	return users, models.NewPagination(filter.Page, filter.PageSize, total), nil
}

// Get returns a user by ID.
func (s *UserService) Get(ctx context.Context, id string) (*models.User, error) {
	user, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "user not found")
		}
		return nil, internalError(err, "failed to load user")
	}
	return user, nil
}

// Create adds a login. For students the record must exist, be active and have no login yet.
func (s *UserService) Create(ctx context.Context, req CreateUserRequest, actorID string, meta models.LoginRequest) (*models.User, error) {
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	if err := s.validator.Struct(req); err != nil {
		return nil, validationError(err, "invalid create user payload")
	}

	if _, err := s.repo.FindByEmail(ctx, req.Email); err == nil {
		return nil, appErrors.Clone(appErrors.ErrConflict, "email already exists")
	} else if !errors.Is(err, sql.ErrNoRows) {
		return nil, internalError(err, "failed to check email uniqueness")
	}

	var student *models.Student
	if req.Role == models.RoleStudent {
		var err error
		if student, err = s.linkableStudent(ctx, *req.StudentID); err != nil {
			return nil, err
		}
	}

	passwordHash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, internalError(err, "failed to hash password")
	}

	user := &models.User{
		ID:           uuid.NewString(),
		Email:        req.Email,
		FullName:     strings.TrimSpace(req.FullName),
		Role:         req.Role,
		Active:       true,
		PasswordHash: string(passwordHash),
	}
	if err := s.repo.Create(ctx, user); err != nil {
		return nil, internalError(err, "failed to create user")
	}

	if student != nil {
		if err := s.students.LinkUser(ctx, student.ID, user.ID); err != nil {
			s.logger.Error("student login created but not linked", zap.String("user_id", user.ID), zap.String("student_id", student.ID), zap.Error(err))
			if errors.Is(err, sql.ErrNoRows) {
				return nil, appErrors.Clone(appErrors.ErrConflict, "student already has a login")
			}
			return nil, internalError(err, "failed to link student login")
		}
	}

	values := map[string]interface{}{"id": user.ID, "email": user.Email, "role": user.Role}
	if student != nil {
		values["student_id"] = student.ID
	}
	s.audit(ctx, actorID, models.AuditActionUserCreate, user.ID, nil, values, meta)
	return user, nil
}

func (s *UserService) linkableStudent(ctx context.Context, studentID string) (*models.Student, error) {
	student, err := s.students.FindByID(ctx, studentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "student not found")
		}
		return nil, internalError(err, "failed to load student")
	}
	if !student.Active {
		return nil, appErrors.Clone(appErrors.ErrInactiveResource, "student is not active")
	}
	if student.UserID != nil && *student.UserID != "" {
		return nil, appErrors.Clone(appErrors.ErrConflict, "student already has a login")
	}
	return student, nil
}

// Update modifies name, role and active flag. Roles cannot move in or out of STUDENT
// because student logins are bound to a student record.
func (s *UserService) Update(ctx context.Context, id string, req UpdateUserRequest, actorID string, meta models.LoginRequest) (*models.User, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, validationError(err, "invalid update payload")
	}

	user, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if (user.Role == models.RoleStudent) != (req.Role == models.RoleStudent) {
		return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "student logins cannot change role")
	}

	old := map[string]interface{}{"full_name": user.FullName, "role": user.Role, "active": user.Active}
	user.FullName = strings.TrimSpace(req.FullName)
	user.Role = req.Role
	if req.Active != nil {
		user.Active = *req.Active
	}

	if err := s.repo.Update(ctx, user); err != nil {
		return nil, internalError(err, "failed to update user")
	}
	if !user.Active {
		s.revokeSessions(ctx, user.ID)
	}

	s.audit(ctx, actorID, models.AuditActionUserUpdate, user.ID, old,
		map[string]interface{}{"full_name": user.FullName, "role": user.Role, "active": user.Active}, meta)
	return user, nil
}

// Deactivate disables a login and revokes its refresh tokens.
func (s *UserService) Deactivate(ctx context.Context, id string, actorID string, meta models.LoginRequest) error {
	if id == actorID {
		return appErrors.Clone(appErrors.ErrPreconditionFailed, "cannot deactivate your own account")
	}
	user, err := s.Get(ctx, id)
	if err != nil {
		return err
	}

	if err := s.repo.Deactivate(ctx, id); err != nil {
		return internalError(err, "failed to deactivate user")
	}
	s.revokeSessions(ctx, id)

	s.audit(ctx, actorID, models.AuditActionUserDeactivate, user.ID,
		map[string]interface{}{"active": user.Active}, map[string]interface{}{"active": false}, meta)
	return nil
}

func (s *UserService) revokeSessions(ctx context.Context, userID string) {
	if err := s.repo.RevokeUserRefreshTokens(ctx, userID); err != nil {
		s.logger.Warn("failed to revoke refresh tokens", zap.String("user_id", userID), zap.Error(err))
	}
}

func (s *UserService) audit(ctx context.Context, actorID, action, userID string, old, values map[string]interface{}, meta models.LoginRequest) {
	entry := &models.AuditLog{
		UserID:     &actorID,
		Action:     action,
		Resource:   "users",
		ResourceID: &userID,
		IPAddress:  meta.IP,
		UserAgent:  meta.UserAgent,
	}
	if old != nil {
		entry.OldValues, _ = json.Marshal(old)
	}
	entry.NewValues, _ = json.Marshal(values)
	if err := s.repo.CreateAuditLog(ctx, entry); err != nil {
		s.logger.Warn("failed to record user audit log", zap.String("action", action), zap.Error(err))
	}
}
