package models

import (
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"
)

// Weekday codes stored in classes.weekdays.
var Weekdays = []string{"mon", "tue", "wed", "thu", "fri", "sat", "sun"}

// ValidWeekday reports whether day is a known weekday code.
func ValidWeekday(day string) bool {
	for _, d := range Weekdays {
		if d == day {
			return true
		}
	}
	return false
}

// Class is a dance offering: a modality at a level with a weekly schedule and pricing.
type Class struct {
	ID            string          `db:"id" json:"id"`
	Name          string          `db:"name" json:"name"`
	Modality      string          `db:"modality" json:"modality"`
	Level         string          `db:"level" json:"level"`
	Weekdays      pq.StringArray  `db:"weekdays" json:"weekdays"`
	StartTime     string          `db:"start_time" json:"start_time"`
	EndTime       string          `db:"end_time" json:"end_time"`
	Capacity      int             `db:"capacity" json:"capacity"`
	MonthlyPrice  decimal.Decimal `db:"monthly_price" json:"monthly_price"`
	EnrollmentFee decimal.Decimal `db:"enrollment_fee" json:"enrollment_fee"`
	TeacherID     *string         `db:"teacher_id" json:"teacher_id,omitempty"`
	Active        bool            `db:"active" json:"active"`
	CreatedAt     time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time       `db:"updated_at" json:"updated_at"`
}

// ClassDetail adds occupancy figures to a class.
type ClassDetail struct {
	Class
	TeacherName     *string `db:"teacher_name" json:"teacher_name,omitempty"`
	CurrentStudents int     `db:"current_students" json:"current_students"`
}

// SeatsLeft returns remaining capacity; zero capacity means unlimited (-1).
func (d ClassDetail) SeatsLeft() int {
	if d.Capacity <= 0 {
		return -1
	}
	left := d.Capacity - d.CurrentStudents
	if left < 0 {
		return 0
	}
	return left
}

// ClassFilter defines filter criteria for listing classes.
type ClassFilter struct {
	Modality  string
	Level     string
	Weekday   string
	Active    *bool
	Search    string
	Page      int
	PageSize  int
	SortBy    string
	SortOrder string
}

// CacheKey renders a stable cache key for the filter.
func (f ClassFilter) CacheKey() string {
	active := "any"
	if f.Active != nil {
		active = fmt.Sprintf("%t", *f.Active)
	}
	return fmt.Sprintf("classes:list:%s:%s:%s:%s:%s:%d:%d:%s:%s",
		f.Modality, f.Level, f.Weekday, active, f.Search, f.Page, f.PageSize, f.SortBy, f.SortOrder)
}

// SameSchedule reports whether two classes share weekdays and times.
func (c *Class) SameSchedule(other *Class) bool {
	if c.StartTime != other.StartTime || c.EndTime != other.EndTime {
		return false
	}
	if len(c.Weekdays) != len(other.Weekdays) {
		return false
	}
	days := make(map[string]struct{}, len(c.Weekdays))
	for _, d := range c.Weekdays {
		days[d] = struct{}{}
	}
	for _, d := range other.Weekdays {
		if _, ok := days[d]; !ok {
			return false
		}
	}
	return true
}

// Overlaps reports whether both classes meet on a common weekday with intersecting hours.
// Times are zero-padded "HH:MM" so lexical comparison matches chronological order.
func (c *Class) Overlaps(other *Class) bool {
	shared := false
	for _, a := range c.Weekdays {
		for _, b := range other.Weekdays {
			if a == b {
				shared = true
				break
			}
		}
	}
	if !shared {
		return false
	}
	return c.StartTime < other.EndTime && other.StartTime < c.EndTime
}
