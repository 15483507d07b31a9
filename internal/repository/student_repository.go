package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/dance-school-api/internal/models"
)

// StudentRepository manages persistence for student records.
type StudentRepository struct {
	db *sqlx.DB
}

// NewStudentRepository constructs a StudentRepository.
func NewStudentRepository(db *sqlx.DB) *StudentRepository {
	return &StudentRepository{db: db}
}

const studentColumns = `s.id, s.user_id, s.full_name, s.tax_id, s.email, s.phone, s.gateway_customer_id, s.active, s.created_at, s.updated_at`

// List returns students matching the provided filters.
func (r *StudentRepository) List(ctx context.Context, filter models.StudentFilter) ([]models.Student, int, error) {
	conditions := []string{"1=1"}
	args := []interface{}{}

	if filter.ClassID != "" {
		conditions = append(conditions, fmt.Sprintf("EXISTS (SELECT 1 FROM enrollments e WHERE e.student_id = s.id AND e.class_id = $%d AND e.status IN ('pending', 'active'))", len(args)+1))
		args = append(args, filter.ClassID)
	}
	if filter.Active != nil {
		conditions = append(conditions, fmt.Sprintf("s.active = $%d", len(args)+1))
		args = append(args, *filter.Active)
	}
	if filter.Search != "" {
		conditions = append(conditions, fmt.Sprintf("(LOWER(s.full_name) LIKE $%d OR s.tax_id LIKE $%d)", len(args)+1, len(args)+1))
		args = append(args, "%"+strings.ToLower(filter.Search)+"%")
	}
	where := "FROM students s WHERE " + strings.Join(conditions, " AND ")

	column, order := orderClause(filter.SortBy, filter.SortOrder, map[string]string{
		"full_name":  "s.full_name",
		"created_at": "s.created_at",
	}, "s.full_name", "ASC")
	_, size, offset := pageBounds(filter.Page, filter.PageSize)

	query := fmt.Sprintf("SELECT %s %s ORDER BY %s %s LIMIT %d OFFSET %d", studentColumns, where, column, order, size, offset)
	var students []models.Student
	if err := r.db.SelectContext(ctx, &students, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list students: %w", err)
	}

	var total int
	if err := r.db.GetContext(ctx, &total, "SELECT COUNT(*) "+where, args...); err != nil {
		return nil, 0, fmt.Errorf("count students: %w", err)
	}
	return students, total, nil
}

// FindByID fetches a student by ID.
func (r *StudentRepository) FindByID(ctx context.Context, id string) (*models.Student, error) {
	query := `SELECT ` + studentColumns + ` FROM students s WHERE s.id = $1`
	var student models.Student
	if err := r.db.GetContext(ctx, &student, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find student: %w", err)
	}
	return &student, nil
}

// ExistsByTaxID checks if a student with the tax id exists, optionally excluding an ID.
func (r *StudentRepository) ExistsByTaxID(ctx context.Context, taxID string, excludeID string) (bool, error) {
	query := "SELECT 1 FROM students WHERE tax_id = $1"
	args := []interface{}{taxID}
	if excludeID != "" {
		query += " AND id <> $2"
		args = append(args, excludeID)
	}
	var exists int
	if err := r.db.GetContext(ctx, &exists, query+" LIMIT 1", args...); err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, fmt.Errorf("check tax id: %w", err)
	}
	return true, nil
}

// Create inserts a new student record.
func (r *StudentRepository) Create(ctx context.Context, student *models.Student) error {
	if student.ID == "" {
		student.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if student.CreatedAt.IsZero() {
		student.CreatedAt = now
	}
	student.UpdatedAt = now
	const query = `INSERT INTO students (id, user_id, full_name, tax_id, email, phone, gateway_customer_id, active, created_at, updated_at)
        VALUES (:id, :user_id, :full_name, :tax_id, :email, :phone, :gateway_customer_id, :active, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, student); err != nil {
		return fmt.Errorf("create student: %w", err)
	}
	return nil
}

// Update modifies the contact fields of a student. The gateway customer id is managed separately.
func (r *StudentRepository) Update(ctx context.Context, student *models.Student) error {
	student.UpdatedAt = time.Now().UTC()
	const query = `UPDATE students SET full_name = :full_name, tax_id = :tax_id, email = :email, phone = :phone,
        active = :active, updated_at = :updated_at WHERE id = :id`
	res, err := r.db.NamedExecContext(ctx, query, student)
	if err != nil {
		return fmt.Errorf("update student: %w", err)
	}
	return expectAffected(res)
}

// UpdateGatewayCustomerID records the customer created for the student at the gateway.
func (r *StudentRepository) UpdateGatewayCustomerID(ctx context.Context, id, customerID string) error {
	const query = `UPDATE students SET gateway_customer_id = $2, updated_at = $3 WHERE id = $1`
	res, err := r.db.ExecContext(ctx, query, id, customerID, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("update gateway customer id: %w", err)
	}
	return expectAffected(res)
}

// LinkUser attaches a login to a student that has none. A student already linked
// yields sql.ErrNoRows.
func (r *StudentRepository) LinkUser(ctx context.Context, id, userID string) error {
	const query = `UPDATE students SET user_id = $2, updated_at = $3 WHERE id = $1 AND user_id IS NULL`
	res, err := r.db.ExecContext(ctx, query, id, userID, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("link student user: %w", err)
	}
	return expectAffected(res)
}

// Deactivate marks a student inactive.
func (r *StudentRepository) Deactivate(ctx context.Context, id string) error {
	const query = `UPDATE students SET active = FALSE, updated_at = $2 WHERE id = $1`
	res, err := r.db.ExecContext(ctx, query, id, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("deactivate student: %w", err)
	}
	return expectAffected(res)
}

// expectAffected converts an update that touched no rows into sql.ErrNoRows.
func expectAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return sql.ErrNoRows
	}
	return nil
}
