package service

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/dance-school-api/internal/models"
	"github.com/noah-isme/dance-school-api/internal/repository"
	appErrors "github.com/noah-isme/dance-school-api/pkg/errors"
)

type fakePaymentRepo struct {
	mu        sync.Mutex
	payments  map[string]models.Payment
	byGateway map[string]string
	sweptAsOf time.Time
}

func newFakePaymentRepo(payments ...models.Payment) *fakePaymentRepo {
	repo := &fakePaymentRepo{payments: map[string]models.Payment{}, byGateway: map[string]string{}}
	for _, p := range payments {
		repo.put(p)
	}
	return repo
}

func (f *fakePaymentRepo) put(p models.Payment) {
	f.payments[p.ID] = p
	if p.GatewayPaymentID != nil {
		f.byGateway[*p.GatewayPaymentID] = p.ID
	}
}

func (f *fakePaymentRepo) List(ctx context.Context, filter models.PaymentFilter) ([]models.PaymentDetail, int, error) {
	rows, _ := f.ListAll(ctx, filter)
	return rows, len(rows), nil
}

func (f *fakePaymentRepo) ListAll(ctx context.Context, filter models.PaymentFilter) ([]models.PaymentDetail, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.PaymentDetail
	for _, p := range f.payments {
		if filter.Status != "" && p.Status != filter.Status {
			continue
		}
		out = append(out, models.PaymentDetail{Payment: p, StudentName: "Ana Lima"})
	}
	return out, nil
}

func (f *fakePaymentRepo) FindByID(ctx context.Context, id string) (*models.PaymentDetail, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.payments[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &models.PaymentDetail{Payment: p, StudentName: "Ana Lima"}, nil
}

func (f *fakePaymentRepo) FindByGatewayPaymentID(ctx context.Context, gatewayID string) (*models.Payment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id, ok := f.byGateway[gatewayID]
	if !ok {
		return nil, sql.ErrNoRows
	}
	p := f.payments[id]
	return &p, nil
}

func (f *fakePaymentRepo) Create(ctx context.Context, payment *models.Payment) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if payment.GatewayPaymentID != nil {
		if _, exists := f.byGateway[*payment.GatewayPaymentID]; exists {
			return repository.ErrDuplicatePayment
		}
	}
	if payment.ID == "" {
		payment.ID = fmt.Sprintf("pay-%d", len(f.payments)+1)
	}
	f.put(*payment)
	return nil
}

func (f *fakePaymentRepo) FindCheckoutCharge(ctx context.Context, enrollmentID string) (*models.Payment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var found *models.Payment
	for _, p := range f.payments {
		if p.EnrollmentID == nil || *p.EnrollmentID != enrollmentID || p.GatewayPaymentID != nil || p.Status != models.PaymentStatusPaid {
			continue
		}
		if found == nil || p.CreatedAt.Before(found.CreatedAt) {
			row := p
			found = &row
		}
	}
	if found == nil {
		return nil, sql.ErrNoRows
	}
	return found, nil
}

func (f *fakePaymentRepo) AttachGatewayPayment(ctx context.Context, id, gatewayID string, paidAt time.Time, method models.PaymentMethod) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, exists := f.byGateway[gatewayID]; exists {
		return repository.ErrDuplicatePayment
	}
	p, ok := f.payments[id]
	if !ok || p.GatewayPaymentID != nil {
		return sql.ErrNoRows
	}
	p.GatewayPaymentID = &gatewayID
	p.Status = models.PaymentStatusPaid
	p.PaidAt = &paidAt
	p.Method = method
	f.put(p)
	return nil
}

func (f *fakePaymentRepo) MarkPaid(ctx context.Context, id string, paidAt time.Time, method models.PaymentMethod) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.payments[id]
	if !ok {
		return sql.ErrNoRows
	}
	p.Status = models.PaymentStatusPaid
	p.PaidAt = &paidAt
	p.Method = method
	f.payments[id] = p
	return nil
}

func (f *fakePaymentRepo) UpdateStatus(ctx context.Context, id string, status models.PaymentStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.payments[id]
	if !ok {
		return sql.ErrNoRows
	}
	p.Status = status
	f.payments[id] = p
	return nil
}

func (f *fakePaymentRepo) MarkOverdue(ctx context.Context, asOf time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sweptAsOf = asOf
	var n int64
	for id, p := range f.payments {
		if p.Status == models.PaymentStatusPending && p.DueDate.Before(asOf) {
			p.Status = models.PaymentStatusOverdue
			f.payments[id] = p
			n++
		}
	}
	return n, nil
}

var paymentClock = time.Date(2024, 3, 10, 15, 30, 0, 0, time.UTC)

func newPaymentServiceForTest(repo *fakePaymentRepo, enrollments *fakeEnrollmentRepo) *PaymentService {
	svc := NewPaymentService(repo, newFakeStudentRepo(testStudent()), enrollments, NewMetricsService(), nil, nil)
	svc.now = func() time.Time { return paymentClock }
	return svc
}

func TestPaymentServiceCreate(t *testing.T) {
	repo := newFakePaymentRepo()
	enrollments := &fakeEnrollmentRepo{}
	enrollments.insert(models.Enrollment{ID: "enr-1", StudentID: studentUUID, ClassID: classUUID, Status: models.EnrollmentStatusActive, Active: true})
	svc := newPaymentServiceForTest(repo, enrollments)

	payment, err := svc.Create(context.Background(), CreatePaymentRequest{
		StudentID:   studentUUID,
		Amount:      decimal.RequireFromString("150.005"),
		DueDate:     "2024-04-05",
		Method:      "pix",
		Description: " April ",
	})
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusPending, payment.Status)
	assert.Equal(t, "April", payment.Description)
	assert.True(t, payment.Amount.Equal(decimal.RequireFromString("150.01")))
	assert.Equal(t, time.Date(2024, 4, 5, 0, 0, 0, 0, time.UTC), payment.DueDate)
}

func TestPaymentServiceCreateValidation(t *testing.T) {
	svc := newPaymentServiceForTest(newFakePaymentRepo(), &fakeEnrollmentRepo{})

	_, err := svc.Create(context.Background(), CreatePaymentRequest{StudentID: studentUUID, Amount: decimal.Zero, DueDate: "2024-04-05", Method: "pix"})
	require.Error(t, err)
	assert.Contains(t, appErrors.FromError(err).Details, "amount: must be greater than zero")

	_, err = svc.Create(context.Background(), CreatePaymentRequest{StudentID: studentUUID, Amount: decimal.NewFromInt(10), DueDate: "05/04/2024", Method: "pix"})
	require.Error(t, err)
	assert.Contains(t, appErrors.FromError(err).Details, "due_date: failed datetime")

	other := "0c9f6a2e-3b1d-4e5f-8a7b-9c0d1e2f3a4b"
	_, err = svc.Create(context.Background(), CreatePaymentRequest{StudentID: studentUUID, EnrollmentID: &other, Amount: decimal.NewFromInt(10), DueDate: "2024-04-05", Method: "cash"})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}

func TestPaymentServiceMarkPaidAndCancel(t *testing.T) {
	repo := newFakePaymentRepo(
		models.Payment{ID: "p1", StudentID: studentUUID, Status: models.PaymentStatusOverdue, Method: models.PaymentMethodBoleto},
		models.Payment{ID: "p2", StudentID: studentUUID, Status: models.PaymentStatusCancelled},
		models.Payment{ID: "p3", StudentID: studentUUID, Status: models.PaymentStatusPending},
	)
	svc := newPaymentServiceForTest(repo, &fakeEnrollmentRepo{})

	paid, err := svc.MarkPaid(context.Background(), "p1", MarkPaidRequest{Method: "cash"})
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusPaid, paid.Status)
	assert.Equal(t, models.PaymentMethodCash, paid.Method)
	require.NotNil(t, paid.PaidAt)
	assert.Equal(t, paymentClock, *paid.PaidAt)

	_, err = svc.MarkPaid(context.Background(), "p2", MarkPaidRequest{})
	assert.Equal(t, appErrors.ErrPreconditionFailed.Code, appErrors.FromError(err).Code)

	_, err = svc.Cancel(context.Background(), "p1")
	assert.Equal(t, appErrors.ErrPreconditionFailed.Code, appErrors.FromError(err).Code)

	cancelled, err := svc.Cancel(context.Background(), "p3")
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusCancelled, cancelled.Status)

	_, err = svc.Cancel(context.Background(), "missing")
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}

func TestPaymentServiceSweepOverdue(t *testing.T) {
	yesterday := paymentClock.AddDate(0, 0, -1)
	today := time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC)
	repo := newFakePaymentRepo(
		models.Payment{ID: "late", Status: models.PaymentStatusPending, DueDate: yesterday},
		models.Payment{ID: "due-today", Status: models.PaymentStatusPending, DueDate: today},
		models.Payment{ID: "paid", Status: models.PaymentStatusPaid, DueDate: yesterday},
	)
	svc := newPaymentServiceForTest(repo, &fakeEnrollmentRepo{})

	n, err := svc.SweepOverdue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.Equal(t, today, repo.sweptAsOf)
	assert.Equal(t, models.PaymentStatusOverdue, repo.payments["late"].Status)
	assert.Equal(t, models.PaymentStatusPending, repo.payments["due-today"].Status)
	assert.Equal(t, models.PaymentStatusPaid, repo.payments["paid"].Status)
}

func TestPaymentServiceListRejectsInvertedRange(t *testing.T) {
	svc := newPaymentServiceForTest(newFakePaymentRepo(), &fakeEnrollmentRepo{})
	from := paymentClock
	to := paymentClock.AddDate(0, 0, -1)
	_, _, err := svc.List(context.Background(), models.PaymentFilter{DueFrom: &from, DueTo: &to})
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}
