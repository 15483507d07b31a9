package models

import "time"

// Student is a dancer registered at the school. Rows are deactivated, never deleted.
type Student struct {
	ID                string    `db:"id" json:"id"`
	UserID            *string   `db:"user_id" json:"user_id,omitempty"`
	FullName          string    `db:"full_name" json:"full_name"`
	TaxID             string    `db:"tax_id" json:"tax_id"`
	Email             *string   `db:"email" json:"email,omitempty"`
	Phone             string    `db:"phone" json:"phone"`
	GatewayCustomerID *string   `db:"gateway_customer_id" json:"gateway_customer_id,omitempty"`
	Active            bool      `db:"active" json:"active"`
	CreatedAt         time.Time `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time `db:"updated_at" json:"updated_at"`
}

// HasGatewayCustomer reports whether the student was already provisioned at the gateway.
func (s *Student) HasGatewayCustomer() bool {
	return s != nil && s.GatewayCustomerID != nil && *s.GatewayCustomerID != ""
}

// StudentFilter encapsulates allowed search parameters for listing students.
type StudentFilter struct {
	Search    string
	ClassID   string
	Active    *bool
	Page      int
	PageSize  int
	SortBy    string
	SortOrder string
}
