package models

import "time"

// AttendanceStatus represents the status for attendance records.
type AttendanceStatus string

const (
	AttendanceStatusPresent AttendanceStatus = "present"
	AttendanceStatusAbsent  AttendanceStatus = "absent"
	AttendanceStatusExcused AttendanceStatus = "excused"
)

// Valid returns true when the status is a supported value.
func (s AttendanceStatus) Valid() bool {
	switch s {
	case AttendanceStatusPresent, AttendanceStatusAbsent, AttendanceStatusExcused:
		return true
	default:
		return false
	}
}

// Attendance is one class meeting for one enrollment.
type Attendance struct {
	ID           string           `db:"id" json:"id"`
	EnrollmentID string           `db:"enrollment_id" json:"enrollment_id"`
	Date         time.Time        `db:"date" json:"date"`
	Status       AttendanceStatus `db:"status" json:"status"`
	Notes        *string          `db:"notes" json:"notes,omitempty"`
	RecordedBy   *string          `db:"recorded_by" json:"recorded_by,omitempty"`
	CreatedAt    time.Time        `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time        `db:"updated_at" json:"updated_at"`
}

// AttendanceReportRow lists every current student of a class for a date, with the
// recorded status when present.
type AttendanceReportRow struct {
	EnrollmentID string            `db:"enrollment_id" json:"enrollment_id"`
	StudentID    string            `db:"student_id" json:"student_id"`
	StudentName  string            `db:"student_name" json:"student_name"`
	Status       *AttendanceStatus `db:"status" json:"status,omitempty"`
	Notes        *string           `db:"notes" json:"notes,omitempty"`
}

// AttendanceSummary summarises counts for a student.
type AttendanceSummary struct {
	Present int     `db:"present" json:"present"`
	Absent  int     `db:"absent" json:"absent"`
	Excused int     `db:"excused" json:"excused"`
	Total   int     `db:"total" json:"total"`
	Percent float64 `db:"-" json:"percent"`
}

// AttendanceBulkConflict captures failed bulk operations.
type AttendanceBulkConflict struct {
	EnrollmentID string `json:"enrollment_id"`
	Reason       string `json:"reason"`
}
