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

// AttendanceRepository persists class attendance per enrollment and date.
type AttendanceRepository struct {
	db *sqlx.DB
}

// NewAttendanceRepository constructs an AttendanceRepository.
func NewAttendanceRepository(db *sqlx.DB) *AttendanceRepository {
	return &AttendanceRepository{db: db}
}

const upsertAttendance = `INSERT INTO attendance (id, enrollment_id, date, status, notes, recorded_by, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT (enrollment_id, date)
DO UPDATE SET status = EXCLUDED.status, notes = EXCLUDED.notes, recorded_by = EXCLUDED.recorded_by, updated_at = EXCLUDED.updated_at
RETURNING id, enrollment_id, date, status, notes, recorded_by, created_at, updated_at`

func prepareAttendance(record *models.Attendance, now time.Time) {
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = now
	}
	record.UpdatedAt = now
}

// Upsert inserts or updates the attendance of one enrollment on one date.
func (r *AttendanceRepository) Upsert(ctx context.Context, record *models.Attendance) (*models.Attendance, error) {
	prepareAttendance(record, time.Now().UTC())
	var stored models.Attendance
	if err := r.db.GetContext(ctx, &stored, upsertAttendance, record.ID, record.EnrollmentID, record.Date, record.Status, record.Notes, record.RecordedBy, record.CreatedAt, record.UpdatedAt); err != nil {
		return nil, fmt.Errorf("upsert attendance: %w", err)
	}
	return &stored, nil
}

// BulkUpsert writes many records in one transaction.
func (r *AttendanceRepository) BulkUpsert(ctx context.Context, records []models.Attendance) error {
	if len(records) == 0 {
		return nil
	}
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin bulk attendance: %w", err)
	}
	commit := false
	defer func() {
		if !commit {
			tx.Rollback()
		}
	}()

	now := time.Now().UTC()
	for i := range records {
		rec := &records[i]
		prepareAttendance(rec, now)
		var stored models.Attendance
		if err := tx.GetContext(ctx, &stored, upsertAttendance, rec.ID, rec.EnrollmentID, rec.Date, rec.Status, rec.Notes, rec.RecordedBy, rec.CreatedAt, rec.UpdatedAt); err != nil {
			return fmt.Errorf("bulk upsert attendance for enrollment %s: %w", rec.EnrollmentID, err)
		}
		*rec = stored
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit bulk attendance: %w", err)
	}
	commit = true
	return nil
}

// ActiveEnrollmentIDs returns which of the given enrollments are active in the class.
func (r *AttendanceRepository) ActiveEnrollmentIDs(ctx context.Context, classID string, enrollmentIDs []string) (map[string]bool, error) {
	result := make(map[string]bool, len(enrollmentIDs))
	if len(enrollmentIDs) == 0 {
		return result, nil
	}
	query, args, err := sqlx.In(`SELECT id FROM enrollments WHERE class_id = ? AND active = TRUE AND id IN (?)`, classID, enrollmentIDs)
	if err != nil {
		return nil, fmt.Errorf("build active enrollment query: %w", err)
	}
	query = r.db.Rebind(query)
	var ids []string
	if err := r.db.SelectContext(ctx, &ids, query, args...); err != nil {
		return nil, fmt.Errorf("load active enrollments: %w", err)
	}
	for _, id := range ids {
		result[id] = true
	}
	return result, nil
}

// ClassReport lists every active student of a class with their status for the date, if recorded.
func (r *AttendanceRepository) ClassReport(ctx context.Context, classID string, date time.Time) ([]models.AttendanceReportRow, error) {
	query := `SELECT e.id AS enrollment_id, s.id AS student_id, s.full_name AS student_name, a.status, a.notes
FROM enrollments e
JOIN students s ON s.id = e.student_id
LEFT JOIN attendance a ON a.enrollment_id = e.id AND a.date = $2
WHERE e.class_id = $1 AND e.active = TRUE
ORDER BY s.full_name ASC`
	var rows []models.AttendanceReportRow
	if err := r.db.SelectContext(ctx, &rows, query, classID, date); err != nil {
		return nil, fmt.Errorf("class attendance report: %w", err)
	}
	return rows, nil
}

// StudentSummary aggregates attendance counts for a student, optionally within one class and date range.
func (r *AttendanceRepository) StudentSummary(ctx context.Context, studentID, classID string, from, to *time.Time) (*models.AttendanceSummary, error) {
	where := []string{"e.student_id = $1"}
	args := []interface{}{studentID}
	if classID != "" {
		where = append(where, fmt.Sprintf("e.class_id = $%d", len(args)+1))
		args = append(args, classID)
	}
	if from != nil {
		where = append(where, fmt.Sprintf("a.date >= $%d", len(args)+1))
		args = append(args, *from)
	}
	if to != nil {
		where = append(where, fmt.Sprintf("a.date <= $%d", len(args)+1))
		args = append(args, *to)
	}
	query := fmt.Sprintf(`SELECT a.status, COUNT(*) AS cnt
FROM attendance a
JOIN enrollments e ON e.id = a.enrollment_id
WHERE %s
GROUP BY a.status`, strings.Join(where, " AND "))
	rows := []struct {
		Status string `db:"status"`
		Count  int    `db:"cnt"`
	}{}
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		if err == sql.ErrNoRows {
			return &models.AttendanceSummary{}, nil
		}
		return nil, fmt.Errorf("student attendance summary: %w", err)
	}
	summary := &models.AttendanceSummary{}
	for _, row := range rows {
		switch models.AttendanceStatus(row.Status) {
		case models.AttendanceStatusPresent:
			summary.Present += row.Count
		case models.AttendanceStatusAbsent:
			summary.Absent += row.Count
		case models.AttendanceStatusExcused:
			summary.Excused += row.Count
		}
		summary.Total += row.Count
	}
	if summary.Total > 0 {
		summary.Percent = float64(summary.Present) / float64(summary.Total) * 100
	}
	return summary, nil
}
