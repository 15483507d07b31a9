package models

import "time"

// EnrollmentStatus represents the lifecycle of an enrollment.
type EnrollmentStatus string

// Possible enrollment statuses.
const (
	EnrollmentStatusPending   EnrollmentStatus = "pending"
	EnrollmentStatusActive    EnrollmentStatus = "active"
	EnrollmentStatusCancelled EnrollmentStatus = "cancelled"
)

// Valid reports whether s is a known status.
func (s EnrollmentStatus) Valid() bool {
	switch s {
	case EnrollmentStatusPending, EnrollmentStatusActive, EnrollmentStatusCancelled:
		return true
	default:
		return false
	}
}

// Enrollment links one student to one class. Active implies status active; an inactive
// pending row is awaiting payment confirmation from the gateway.
type Enrollment struct {
	ID             string           `db:"id" json:"id"`
	StudentID      string           `db:"student_id" json:"student_id"`
	ClassID        string           `db:"class_id" json:"class_id"`
	Active         bool             `db:"active" json:"active"`
	Status         EnrollmentStatus `db:"status" json:"status"`
	EnrollmentDate time.Time        `db:"enrollment_date" json:"enrollment_date"`
	CheckoutToken  *string          `db:"checkout_token" json:"checkout_token,omitempty"`
	CheckoutURL    *string          `db:"checkout_url" json:"checkout_url,omitempty"`
	CheckoutID     *string          `db:"checkout_id" json:"checkout_id,omitempty"`
	CreatedAt      time.Time        `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time        `db:"updated_at" json:"updated_at"`
}

// IsCurrent reports whether the row blocks a new enrollment for the same pair.
func (e *Enrollment) IsCurrent() bool {
	return e != nil && (e.Active || e.Status == EnrollmentStatusPending || e.Status == EnrollmentStatusActive)
}

// EnrollmentDetail enriches Enrollment with student and class info.
type EnrollmentDetail struct {
	Enrollment
	StudentName string `db:"student_name" json:"student_name"`
	ClassName   string `db:"class_name" json:"class_name"`
	Modality    string `db:"modality" json:"modality"`
}

// EnrollmentFilter provides filters for listing enrollments.
type EnrollmentFilter struct {
	StudentID string
	ClassID   string
	Status    EnrollmentStatus
	Active    *bool
	Page      int
	PageSize  int
	SortBy    string
	SortOrder string
}
