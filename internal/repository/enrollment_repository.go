package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/dance-school-api/internal/models"
	"github.com/noah-isme/dance-school-api/pkg/database"
)

// currentEnrollmentIndex enforces one pending-or-active enrollment per student and class.
const currentEnrollmentIndex = "enrollments_current_uniq"

var (
	// ErrDuplicateEnrollment is returned when an insert loses the race for the current enrollment slot.
	ErrDuplicateEnrollment = errors.New("student already has a current enrollment in this class")
	// ErrDuplicatePayment is returned when a gateway charge was already recorded.
	ErrDuplicatePayment = errors.New("gateway payment already recorded")
)

// EnrollmentRepository handles persistence for enrollments.
type EnrollmentRepository struct {
	db *sqlx.DB
}

// NewEnrollmentRepository creates a new enrollment repository.
func NewEnrollmentRepository(db *sqlx.DB) *EnrollmentRepository {
	return &EnrollmentRepository{db: db}
}

const enrollmentColumns = `e.id, e.student_id, e.class_id, e.active, e.status, e.enrollment_date, e.checkout_token, e.checkout_url, e.checkout_id, e.created_at, e.updated_at`

const enrollmentDetailSelect = `SELECT ` + enrollmentColumns + `, s.full_name AS student_name, c.name AS class_name, c.modality
        FROM enrollments e
        JOIN students s ON s.id = e.student_id
        JOIN classes c ON c.id = e.class_id`

// List returns enrollments using filters.
func (r *EnrollmentRepository) List(ctx context.Context, filter models.EnrollmentFilter) ([]models.EnrollmentDetail, int, error) {
	conditions := []string{"1=1"}
	var args []interface{}

	if filter.StudentID != "" {
		conditions = append(conditions, fmt.Sprintf("e.student_id = $%d", len(args)+1))
		args = append(args, filter.StudentID)
	}
	if filter.ClassID != "" {
		conditions = append(conditions, fmt.Sprintf("e.class_id = $%d", len(args)+1))
		args = append(args, filter.ClassID)
	}
	if filter.Status != "" {
		conditions = append(conditions, fmt.Sprintf("e.status = $%d", len(args)+1))
		args = append(args, filter.Status)
	}
	if filter.Active != nil {
		conditions = append(conditions, fmt.Sprintf("e.active = $%d", len(args)+1))
		args = append(args, *filter.Active)
	}
	where := " WHERE " + strings.Join(conditions, " AND ")

	column, order := orderClause(filter.SortBy, filter.SortOrder, map[string]string{
		"created_at":      "e.created_at",
		"enrollment_date": "e.enrollment_date",
		"student_name":    "s.full_name",
		"class_name":      "c.name",
	}, "e.created_at", "DESC")
	_, size, offset := pageBounds(filter.Page, filter.PageSize)

	query := fmt.Sprintf("%s%s ORDER BY %s %s LIMIT %d OFFSET %d", enrollmentDetailSelect, where, column, order, size, offset)
	var enrollments []models.EnrollmentDetail
	if err := r.db.SelectContext(ctx, &enrollments, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list enrollments: %w", err)
	}

	var total int
	if err := r.db.GetContext(ctx, &total, "SELECT COUNT(*) FROM enrollments e"+where, args...); err != nil {
		return nil, 0, fmt.Errorf("count enrollments: %w", err)
	}
	return enrollments, total, nil
}

func (r *EnrollmentRepository) findOne(ctx context.Context, label, condition string, arg interface{}) (*models.Enrollment, error) {
	query := `SELECT ` + enrollmentColumns + ` FROM enrollments e WHERE ` + condition + ` LIMIT 1`
	var enrollment models.Enrollment
	if err := r.db.GetContext(ctx, &enrollment, query, arg); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find enrollment by %s: %w", label, err)
	}
	return &enrollment, nil
}

// FindByID fetches an enrollment.
func (r *EnrollmentRepository) FindByID(ctx context.Context, id string) (*models.Enrollment, error) {
	return r.findOne(ctx, "id", "e.id = $1", id)
}

// FindByCheckoutToken resolves the enrollment a signed callback refers to.
func (r *EnrollmentRepository) FindByCheckoutToken(ctx context.Context, token string) (*models.Enrollment, error) {
	return r.findOne(ctx, "checkout token", "e.checkout_token = $1", token)
}

// FindByCheckoutID resolves the enrollment created for a gateway checkout session.
func (r *EnrollmentRepository) FindByCheckoutID(ctx context.Context, checkoutID string) (*models.Enrollment, error) {
	return r.findOne(ctx, "checkout id", "e.checkout_id = $1", checkoutID)
}

// FindLatestByStudentAndClass returns the enrollment that governs the pair: the current
// (pending or active) row when there is one, otherwise the most recently created row.
func (r *EnrollmentRepository) FindLatestByStudentAndClass(ctx context.Context, studentID, classID string) (*models.Enrollment, error) {
	query := `SELECT ` + enrollmentColumns + ` FROM enrollments e
        WHERE e.student_id = $1 AND e.class_id = $2
        ORDER BY (e.status IN ('pending', 'active')) DESC, e.created_at DESC LIMIT 1`
	var enrollment models.Enrollment
	if err := r.db.GetContext(ctx, &enrollment, query, studentID, classID); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find latest enrollment: %w", err)
	}
	return &enrollment, nil
}

// FindDetailByID fetches an enrollment with student and class names.
func (r *EnrollmentRepository) FindDetailByID(ctx context.Context, id string) (*models.EnrollmentDetail, error) {
	query := enrollmentDetailSelect + ` WHERE e.id = $1`
	var detail models.EnrollmentDetail
	if err := r.db.GetContext(ctx, &detail, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find enrollment detail: %w", err)
	}
	return &detail, nil
}

// Roster lists the current enrollments of a class ordered by student name.
func (r *EnrollmentRepository) Roster(ctx context.Context, classID string) ([]models.EnrollmentDetail, error) {
	query := enrollmentDetailSelect + ` WHERE e.class_id = $1 AND e.status IN ('pending', 'active') ORDER BY s.full_name ASC`
	var roster []models.EnrollmentDetail
	if err := r.db.SelectContext(ctx, &roster, query, classID); err != nil {
		return nil, fmt.Errorf("list class roster: %w", err)
	}
	return roster, nil
}

func prepareEnrollment(enrollment *models.Enrollment) {
	if enrollment.ID == "" {
		enrollment.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if enrollment.EnrollmentDate.IsZero() {
		enrollment.EnrollmentDate = now
	}
	if enrollment.CreatedAt.IsZero() {
		enrollment.CreatedAt = now
	}
	enrollment.UpdatedAt = now
}

const insertEnrollment = `INSERT INTO enrollments (id, student_id, class_id, active, status, enrollment_date, checkout_token, checkout_url, checkout_id, created_at, updated_at)
        VALUES (:id, :student_id, :class_id, :active, :status, :enrollment_date, :checkout_token, :checkout_url, :checkout_id, :created_at, :updated_at)`

// Create inserts an enrollment. ErrDuplicateEnrollment signals a concurrent writer already
// holds the current slot for the pair.
func (r *EnrollmentRepository) Create(ctx context.Context, enrollment *models.Enrollment) error {
	prepareEnrollment(enrollment)
	if _, err := r.db.NamedExecContext(ctx, insertEnrollment, enrollment); err != nil {
		if database.IsUniqueViolation(err, currentEnrollmentIndex) {
			return ErrDuplicateEnrollment
		}
		return fmt.Errorf("create enrollment: %w", err)
	}
	return nil
}

// CreateWithPayment inserts an enrollment together with its first payment in one transaction.
func (r *EnrollmentRepository) CreateWithPayment(ctx context.Context, enrollment *models.Enrollment, payment *models.Payment) error {
	prepareEnrollment(enrollment)
	preparePayment(payment)
	payment.EnrollmentID = &enrollment.ID

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin enrollment with payment: %w", err)
	}
	commit := false
	defer func() {
		if !commit {
			tx.Rollback()
		}
	}()

	if _, err := tx.NamedExecContext(ctx, insertEnrollment, enrollment); err != nil {
		if database.IsUniqueViolation(err, currentEnrollmentIndex) {
			return ErrDuplicateEnrollment
		}
		return fmt.Errorf("create enrollment: %w", err)
	}
	if _, err := tx.NamedExecContext(ctx, insertPayment, payment); err != nil {
		return fmt.Errorf("create enrollment payment: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit enrollment with payment: %w", err)
	}
	commit = true
	return nil
}

// Activate marks an enrollment paid. Cancelled enrollments are left untouched.
func (r *EnrollmentRepository) Activate(ctx context.Context, id string) error {
	const query = `UPDATE enrollments SET active = TRUE, status = $2, updated_at = $3 WHERE id = $1 AND status <> $4`
	res, err := r.db.ExecContext(ctx, query, id, models.EnrollmentStatusActive, time.Now().UTC(), models.EnrollmentStatusCancelled)
	if err != nil {
		return fmt.Errorf("activate enrollment: %w", err)
	}
	return expectAffected(res)
}

// ActivateWithPayment moves a pending enrollment to active and records its first payment in
// one transaction. sql.ErrNoRows means the enrollment was no longer pending and nothing was written.
func (r *EnrollmentRepository) ActivateWithPayment(ctx context.Context, id string, payment *models.Payment) error {
	preparePayment(payment)
	payment.EnrollmentID = &id

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin enrollment activation: %w", err)
	}
	commit := false
	defer func() {
		if !commit {
			tx.Rollback()
		}
	}()

	const activate = `UPDATE enrollments SET active = TRUE, status = $2, updated_at = $3 WHERE id = $1 AND status = $4`
	res, err := tx.ExecContext(ctx, activate, id, models.EnrollmentStatusActive, time.Now().UTC(), models.EnrollmentStatusPending)
	if err != nil {
		return fmt.Errorf("activate enrollment: %w", err)
	}
	if err := expectAffected(res); err != nil {
		return err
	}
	if _, err := tx.NamedExecContext(ctx, insertPayment, payment); err != nil {
		return fmt.Errorf("create activation payment: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit enrollment activation: %w", err)
	}
	commit = true
	return nil
}

// UpdateStatus sets the status; the active flag follows it.
func (r *EnrollmentRepository) UpdateStatus(ctx context.Context, id string, status models.EnrollmentStatus) error {
	const query = `UPDATE enrollments SET status = $2, active = $3, updated_at = $4 WHERE id = $1`
	res, err := r.db.ExecContext(ctx, query, id, status, status == models.EnrollmentStatusActive, time.Now().UTC())
	if err != nil {
		if database.IsUniqueViolation(err, currentEnrollmentIndex) {
			return ErrDuplicateEnrollment
		}
		return fmt.Errorf("update enrollment status: %w", err)
	}
	return expectAffected(res)
}
