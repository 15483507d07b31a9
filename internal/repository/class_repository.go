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

// ClassRepository manages persistence for the class catalog.
type ClassRepository struct {
	db *sqlx.DB
}

// NewClassRepository constructs a new class repository.
func NewClassRepository(db *sqlx.DB) *ClassRepository {
	return &ClassRepository{db: db}
}

const classColumns = `c.id, c.name, c.modality, c.level, c.weekdays, c.start_time, c.end_time, c.capacity,
        c.monthly_price, c.enrollment_fee, c.teacher_id, c.active, c.created_at, c.updated_at`

const classDetailSelect = `SELECT ` + classColumns + `, u.full_name AS teacher_name,
        (SELECT COUNT(*) FROM enrollments e WHERE e.class_id = c.id AND e.status IN ('pending', 'active')) AS current_students
        FROM classes c LEFT JOIN users u ON u.id = c.teacher_id`

// List returns classes matching filter criteria along with their occupancy.
func (r *ClassRepository) List(ctx context.Context, filter models.ClassFilter) ([]models.ClassDetail, int, error) {
	var conditions []string
	var args []interface{}

	if filter.Modality != "" {
		conditions = append(conditions, fmt.Sprintf("LOWER(c.modality) = LOWER($%d)", len(args)+1))
		args = append(args, filter.Modality)
	}
	if filter.Level != "" {
		conditions = append(conditions, fmt.Sprintf("LOWER(c.level) = LOWER($%d)", len(args)+1))
		args = append(args, filter.Level)
	}
	if filter.Weekday != "" {
		conditions = append(conditions, fmt.Sprintf("$%d = ANY(c.weekdays)", len(args)+1))
		args = append(args, filter.Weekday)
	}
	if filter.Active != nil {
		conditions = append(conditions, fmt.Sprintf("c.active = $%d", len(args)+1))
		args = append(args, *filter.Active)
	}
	if filter.Search != "" {
		conditions = append(conditions, fmt.Sprintf("LOWER(c.name) LIKE $%d", len(args)+1))
		args = append(args, "%"+strings.ToLower(filter.Search)+"%")
	}

	where := " WHERE 1=1"
	if len(conditions) > 0 {
		where += " AND " + strings.Join(conditions, " AND ")
	}

	column, order := orderClause(filter.SortBy, filter.SortOrder, map[string]string{
		"name":          "c.name",
		"modality":      "c.modality",
		"start_time":    "c.start_time",
		"monthly_price": "c.monthly_price",
		"created_at":    "c.created_at",
	}, "c.name", "ASC")
	_, size, offset := pageBounds(filter.Page, filter.PageSize)

	query := fmt.Sprintf("%s%s ORDER BY %s %s LIMIT %d OFFSET %d", classDetailSelect, where, column, order, size, offset)
	var classes []models.ClassDetail
	if err := r.db.SelectContext(ctx, &classes, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list classes: %w", err)
	}

	var total int
	if err := r.db.GetContext(ctx, &total, "SELECT COUNT(*) FROM classes c"+where, args...); err != nil {
		return nil, 0, fmt.Errorf("count classes: %w", err)
	}
	return classes, total, nil
}

// FindByID returns a class record by ID.
func (r *ClassRepository) FindByID(ctx context.Context, id string) (*models.Class, error) {
	query := `SELECT ` + classColumns + ` FROM classes c WHERE c.id = $1`
	var class models.Class
	if err := r.db.GetContext(ctx, &class, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find class: %w", err)
	}
	return &class, nil
}

// FindDetailByID returns a class with teacher name and occupancy.
func (r *ClassRepository) FindDetailByID(ctx context.Context, id string) (*models.ClassDetail, error) {
	query := classDetailSelect + ` WHERE c.id = $1`
	var detail models.ClassDetail
	if err := r.db.GetContext(ctx, &detail, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find class detail: %w", err)
	}
	return &detail, nil
}

// CountCurrentEnrollments counts pending and active enrollments of a class.
func (r *ClassRepository) CountCurrentEnrollments(ctx context.Context, classID string) (int, error) {
	const query = `SELECT COUNT(*) FROM enrollments WHERE class_id = $1 AND status IN ('pending', 'active')`
	var count int
	if err := r.db.GetContext(ctx, &count, query, classID); err != nil {
		return 0, fmt.Errorf("count class enrollments: %w", err)
	}
	return count, nil
}

// ListCurrentForStudent returns the classes a student holds a pending or active enrollment in.
func (r *ClassRepository) ListCurrentForStudent(ctx context.Context, studentID string) ([]models.Class, error) {
	query := `SELECT ` + classColumns + ` FROM classes c
        JOIN enrollments e ON e.class_id = c.id
        WHERE e.student_id = $1 AND e.status IN ('pending', 'active')`
	var classes []models.Class
	if err := r.db.SelectContext(ctx, &classes, query, studentID); err != nil {
		return nil, fmt.Errorf("list student classes: %w", err)
	}
	return classes, nil
}

// Create inserts a new class.
func (r *ClassRepository) Create(ctx context.Context, class *models.Class) error {
	if class.ID == "" {
		class.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	class.CreatedAt = now
	class.UpdatedAt = now
	const query = `INSERT INTO classes (id, name, modality, level, weekdays, start_time, end_time, capacity, monthly_price, enrollment_fee, teacher_id, active, created_at, updated_at)
        VALUES (:id, :name, :modality, :level, :weekdays, :start_time, :end_time, :capacity, :monthly_price, :enrollment_fee, :teacher_id, :active, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, class); err != nil {
		return fmt.Errorf("create class: %w", err)
	}
	return nil
}

// Update modifies an existing class.
func (r *ClassRepository) Update(ctx context.Context, class *models.Class) error {
	class.UpdatedAt = time.Now().UTC()
	const query = `UPDATE classes SET name = :name, modality = :modality, level = :level, weekdays = :weekdays,
        start_time = :start_time, end_time = :end_time, capacity = :capacity, monthly_price = :monthly_price,
        enrollment_fee = :enrollment_fee, teacher_id = :teacher_id, active = :active, updated_at = :updated_at WHERE id = :id`
	res, err := r.db.NamedExecContext(ctx, query, class)
	if err != nil {
		return fmt.Errorf("update class: %w", err)
	}
	return expectAffected(res)
}

// Deactivate hides a class from new enrollments.
func (r *ClassRepository) Deactivate(ctx context.Context, id string) error {
	const query = `UPDATE classes SET active = FALSE, updated_at = $2 WHERE id = $1`
	res, err := r.db.ExecContext(ctx, query, id, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("deactivate class: %w", err)
	}
	return expectAffected(res)
}
