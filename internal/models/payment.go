package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// PaymentStatus mirrors the labels the school's staff already uses.
type PaymentStatus string

const (
	PaymentStatusPending   PaymentStatus = "pendente"
	PaymentStatusPaid      PaymentStatus = "pago"
	PaymentStatusOverdue   PaymentStatus = "vencido"
	PaymentStatusCancelled PaymentStatus = "cancelado"
)

// Valid reports whether s is a known status.
func (s PaymentStatus) Valid() bool {
	switch s {
	case PaymentStatusPending, PaymentStatusPaid, PaymentStatusOverdue, PaymentStatusCancelled:
		return true
	default:
		return false
	}
}

// PaymentMethod identifies how a payment was (or will be) settled.
type PaymentMethod string

const (
	PaymentMethodPix        PaymentMethod = "pix"
	PaymentMethodBoleto     PaymentMethod = "boleto"
	PaymentMethodCreditCard PaymentMethod = "credit_card"
	PaymentMethodCash       PaymentMethod = "cash"
)

// Payment is one charge: a monthly subscription instalment or a one-off enrollment fee.
type Payment struct {
	ID                    string          `db:"id" json:"id"`
	StudentID             string          `db:"student_id" json:"student_id"`
	EnrollmentID          *string         `db:"enrollment_id" json:"enrollment_id,omitempty"`
	Amount                decimal.Decimal `db:"amount" json:"amount"`
	DueDate               time.Time       `db:"due_date" json:"due_date"`
	PaidAt                *time.Time      `db:"paid_at" json:"paid_at,omitempty"`
	Status                PaymentStatus   `db:"status" json:"status"`
	Method                PaymentMethod   `db:"method" json:"method"`
	Description           string          `db:"description" json:"description"`
	GatewayPaymentID      *string         `db:"gateway_payment_id" json:"gateway_payment_id,omitempty"`
	GatewaySubscriptionID *string         `db:"gateway_subscription_id" json:"gateway_subscription_id,omitempty"`
	CreatedAt             time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt             time.Time       `db:"updated_at" json:"updated_at"`
}

// PaymentDetail adds the student name for listings and exports.
type PaymentDetail struct {
	Payment
	StudentName string  `db:"student_name" json:"student_name"`
	ClassName   *string `db:"class_name" json:"class_name,omitempty"`
}

// PaymentFilter scopes payment listings.
type PaymentFilter struct {
	StudentID    string
	EnrollmentID string
	Status       PaymentStatus
	DueFrom      *time.Time
	DueTo        *time.Time
	Page         int
	PageSize     int
	SortBy       string
	SortOrder    string
}
