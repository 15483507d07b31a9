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
	"github.com/noah-isme/dance-school-api/pkg/database"
)

const gatewayPaymentIndex = "payments_gateway_payment_id_key"

// PaymentRepository persists charges and their settlement state.
type PaymentRepository struct {
	db *sqlx.DB
}

// NewPaymentRepository constructs a PaymentRepository.
func NewPaymentRepository(db *sqlx.DB) *PaymentRepository {
	return &PaymentRepository{db: db}
}

const paymentColumns = `p.id, p.student_id, p.enrollment_id, p.amount, p.due_date, p.paid_at, p.status, p.method, p.description,
        p.gateway_payment_id, p.gateway_subscription_id, p.created_at, p.updated_at`

const paymentDetailSelect = `SELECT ` + paymentColumns + `, s.full_name AS student_name, c.name AS class_name
        FROM payments p
        JOIN students s ON s.id = p.student_id
        LEFT JOIN enrollments e ON e.id = p.enrollment_id
        LEFT JOIN classes c ON c.id = e.class_id`

const insertPayment = `INSERT INTO payments (id, student_id, enrollment_id, amount, due_date, paid_at, status, method, description, gateway_payment_id, gateway_subscription_id, created_at, updated_at)
        VALUES (:id, :student_id, :enrollment_id, :amount, :due_date, :paid_at, :status, :method, :description, :gateway_payment_id, :gateway_subscription_id, :created_at, :updated_at)`

func preparePayment(payment *models.Payment) {
	if payment.ID == "" {
		payment.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if payment.CreatedAt.IsZero() {
		payment.CreatedAt = now
	}
	payment.UpdatedAt = now
}

func paymentConditions(filter models.PaymentFilter) (string, []interface{}) {
	conditions := []string{"1=1"}
	var args []interface{}
	if filter.StudentID != "" {
		conditions = append(conditions, fmt.Sprintf("p.student_id = $%d", len(args)+1))
		args = append(args, filter.StudentID)
	}
	if filter.EnrollmentID != "" {
		conditions = append(conditions, fmt.Sprintf("p.enrollment_id = $%d", len(args)+1))
		args = append(args, filter.EnrollmentID)
	}
	if filter.Status != "" {
		conditions = append(conditions, fmt.Sprintf("p.status = $%d", len(args)+1))
		args = append(args, filter.Status)
	}
	if filter.DueFrom != nil {
		conditions = append(conditions, fmt.Sprintf("p.due_date >= $%d", len(args)+1))
		args = append(args, *filter.DueFrom)
	}
	if filter.DueTo != nil {
		conditions = append(conditions, fmt.Sprintf("p.due_date <= $%d", len(args)+1))
		args = append(args, *filter.DueTo)
	}
	return " WHERE " + strings.Join(conditions, " AND "), args
}

var paymentSorts = map[string]string{
	"due_date":   "p.due_date",
	"amount":     "p.amount",
	"created_at": "p.created_at",
}

// List returns a page of payments.
func (r *PaymentRepository) List(ctx context.Context, filter models.PaymentFilter) ([]models.PaymentDetail, int, error) {
	where, args := paymentConditions(filter)
	column, order := orderClause(filter.SortBy, filter.SortOrder, paymentSorts, "p.due_date", "DESC")
	_, size, offset := pageBounds(filter.Page, filter.PageSize)

	query := fmt.Sprintf("%s%s ORDER BY %s %s LIMIT %d OFFSET %d", paymentDetailSelect, where, column, order, size, offset)
	var payments []models.PaymentDetail
	if err := r.db.SelectContext(ctx, &payments, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list payments: %w", err)
	}

	var total int
	if err := r.db.GetContext(ctx, &total, "SELECT COUNT(*) FROM payments p"+where, args...); err != nil {
		return nil, 0, fmt.Errorf("count payments: %w", err)
	}
	return payments, total, nil
}

// ListAll returns every payment matching the filter, unpaginated, for exports.
func (r *PaymentRepository) ListAll(ctx context.Context, filter models.PaymentFilter) ([]models.PaymentDetail, error) {
	where, args := paymentConditions(filter)
	column, order := orderClause(filter.SortBy, filter.SortOrder, paymentSorts, "p.due_date", "ASC")
	query := fmt.Sprintf("%s%s ORDER BY %s %s", paymentDetailSelect, where, column, order)
	var payments []models.PaymentDetail
	if err := r.db.SelectContext(ctx, &payments, query, args...); err != nil {
		return nil, fmt.Errorf("list payments for export: %w", err)
	}
	return payments, nil
}

// FindByID fetches a payment with student details.
func (r *PaymentRepository) FindByID(ctx context.Context, id string) (*models.PaymentDetail, error) {
	query := paymentDetailSelect + ` WHERE p.id = $1`
	var payment models.PaymentDetail
	if err := r.db.GetContext(ctx, &payment, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find payment: %w", err)
	}
	return &payment, nil
}

// FindByGatewayPaymentID fetches the payment mirrored from a gateway charge.
func (r *PaymentRepository) FindByGatewayPaymentID(ctx context.Context, gatewayID string) (*models.Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments p WHERE p.gateway_payment_id = $1 LIMIT 1`
	var payment models.Payment
	if err := r.db.GetContext(ctx, &payment, query, gatewayID); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find payment by gateway id: %w", err)
	}
	return &payment, nil
}

// FindCheckoutCharge returns the settled payment recorded when the enrollment's checkout was
// paid and not yet matched to a gateway charge.
func (r *PaymentRepository) FindCheckoutCharge(ctx context.Context, enrollmentID string) (*models.Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments p
        WHERE p.enrollment_id = $1 AND p.gateway_payment_id IS NULL AND p.status = $2
        ORDER BY p.created_at ASC LIMIT 1`
	var payment models.Payment
	if err := r.db.GetContext(ctx, &payment, query, enrollmentID, models.PaymentStatusPaid); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find checkout charge: %w", err)
	}
	return &payment, nil
}

// AttachGatewayPayment links an unmatched payment to its gateway charge and refreshes the
// settlement fields. sql.ErrNoRows means another charge claimed it first.
func (r *PaymentRepository) AttachGatewayPayment(ctx context.Context, id, gatewayID string, paidAt time.Time, method models.PaymentMethod) error {
	const query = `UPDATE payments SET gateway_payment_id = $2, status = $3, paid_at = $4, method = $5, updated_at = $6
        WHERE id = $1 AND gateway_payment_id IS NULL`
	res, err := r.db.ExecContext(ctx, query, id, gatewayID, models.PaymentStatusPaid, paidAt, method, time.Now().UTC())
	if err != nil {
		if database.IsUniqueViolation(err, gatewayPaymentIndex) {
			return ErrDuplicatePayment
		}
		return fmt.Errorf("attach gateway payment: %w", err)
	}
	return expectAffected(res)
}

// Create inserts a payment. A duplicate gateway payment id is reported as ErrDuplicatePayment.
func (r *PaymentRepository) Create(ctx context.Context, payment *models.Payment) error {
	preparePayment(payment)
	if _, err := r.db.NamedExecContext(ctx, insertPayment, payment); err != nil {
		if database.IsUniqueViolation(err, gatewayPaymentIndex) {
			return ErrDuplicatePayment
		}
		return fmt.Errorf("create payment: %w", err)
	}
	return nil
}

// MarkPaid settles a payment.
func (r *PaymentRepository) MarkPaid(ctx context.Context, id string, paidAt time.Time, method models.PaymentMethod) error {
	const query = `UPDATE payments SET status = $2, paid_at = $3, method = $4, updated_at = $5 WHERE id = $1`
	res, err := r.db.ExecContext(ctx, query, id, models.PaymentStatusPaid, paidAt, method, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("mark payment paid: %w", err)
	}
	return expectAffected(res)
}

// UpdateStatus changes the payment status without touching settlement fields.
func (r *PaymentRepository) UpdateStatus(ctx context.Context, id string, status models.PaymentStatus) error {
	const query = `UPDATE payments SET status = $2, updated_at = $3 WHERE id = $1`
	res, err := r.db.ExecContext(ctx, query, id, status, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("update payment status: %w", err)
	}
	return expectAffected(res)
}

// MarkOverdue flips pending payments due before asOf to overdue and returns how many changed.
func (r *PaymentRepository) MarkOverdue(ctx context.Context, asOf time.Time) (int64, error) {
	const query = `UPDATE payments SET status = $1, updated_at = $2 WHERE status = $3 AND due_date < $4`
	res, err := r.db.ExecContext(ctx, query, models.PaymentStatusOverdue, time.Now().UTC(), models.PaymentStatusPending, asOf)
	if err != nil {
		return 0, fmt.Errorf("mark overdue payments: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return n, nil
}
