package repository

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/dance-school-api/internal/models"
)

var enrollmentCols = []string{"id", "student_id", "class_id", "active", "status", "enrollment_date", "checkout_token", "checkout_url", "checkout_id", "created_at", "updated_at"}

func TestEnrollmentRepositoryFindLatestByStudentAndClass(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db)

	now := time.Now()
	mock.ExpectQuery(regexp.QuoteMeta("ORDER BY (e.status IN ('pending', 'active')) DESC, e.created_at DESC LIMIT 1")).
		WithArgs("stu-1", "class-1").
		WillReturnRows(sqlmock.NewRows(enrollmentCols).
			AddRow("enr-1", "stu-1", "class-1", false, "pending", now, "tok-1", "https://pay.example/c/1", "chk_1", now, now))

	enrollment, err := repo.FindLatestByStudentAndClass(context.Background(), "stu-1", "class-1")
	require.NoError(t, err)
	assert.Equal(t, models.EnrollmentStatusPending, enrollment.Status)
	require.NotNil(t, enrollment.CheckoutURL)
	assert.Equal(t, "https://pay.example/c/1", *enrollment.CheckoutURL)
	assert.True(t, enrollment.IsCurrent())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEnrollmentRepositoryFindLatestNone(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db)

	mock.ExpectQuery("FROM enrollments e").WithArgs("stu-1", "class-1").WillReturnError(sql.ErrNoRows)

	_, err := repo.FindLatestByStudentAndClass(context.Background(), "stu-1", "class-1")
	assert.ErrorIs(t, err, sql.ErrNoRows)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEnrollmentRepositoryCreateDuplicate(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db)

	mock.ExpectExec("INSERT INTO enrollments").
		WillReturnError(&pq.Error{Code: "23505", Constraint: "enrollments_current_uniq"})

	err := repo.Create(context.Background(), &models.Enrollment{StudentID: "stu-1", ClassID: "class-1", Status: models.EnrollmentStatusPending})
	assert.ErrorIs(t, err, ErrDuplicateEnrollment)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEnrollmentRepositoryCreateOtherError(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db)

	mock.ExpectExec("INSERT INTO enrollments").WillReturnError(errors.New("connection reset"))

	enrollment := &models.Enrollment{StudentID: "stu-1", ClassID: "class-1", Status: models.EnrollmentStatusPending}
	err := repo.Create(context.Background(), enrollment)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrDuplicateEnrollment)
	assert.NotEmpty(t, enrollment.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEnrollmentRepositoryCreateWithPayment(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO enrollments").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO payments").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	enrollment := &models.Enrollment{StudentID: "stu-1", ClassID: "class-1", Active: true, Status: models.EnrollmentStatusActive}
	payment := &models.Payment{StudentID: "stu-1", Amount: decimal.NewFromInt(50), Status: models.PaymentStatusPaid, Method: models.PaymentMethodCash}
	require.NoError(t, repo.CreateWithPayment(context.Background(), enrollment, payment))
	require.NotNil(t, payment.EnrollmentID)
	assert.Equal(t, enrollment.ID, *payment.EnrollmentID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEnrollmentRepositoryCreateWithPaymentRollsBack(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO enrollments").
		WillReturnError(&pq.Error{Code: "23505", Constraint: "enrollments_current_uniq"})
	mock.ExpectRollback()

	err := repo.CreateWithPayment(context.Background(), &models.Enrollment{StudentID: "stu-1", ClassID: "class-1"}, &models.Payment{StudentID: "stu-1"})
	assert.ErrorIs(t, err, ErrDuplicateEnrollment)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEnrollmentRepositoryActivate(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE enrollments SET active = TRUE, status = $2")).
		WithArgs("enr-1", models.EnrollmentStatusActive, sqlmock.AnyArg(), models.EnrollmentStatusCancelled).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE enrollments SET active = TRUE, status = $2")).
		WithArgs("enr-2", models.EnrollmentStatusActive, sqlmock.AnyArg(), models.EnrollmentStatusCancelled).
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, repo.Activate(context.Background(), "enr-1"))
	assert.ErrorIs(t, repo.Activate(context.Background(), "enr-2"), sql.ErrNoRows)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEnrollmentRepositoryUpdateStatusCancelled(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE enrollments SET status = $2, active = $3")).
		WithArgs("enr-1", models.EnrollmentStatusCancelled, false, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.UpdateStatus(context.Background(), "enr-1", models.EnrollmentStatusCancelled))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEnrollmentRepositoryActivateWithPayment(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE enrollments SET active = TRUE, status = $2, updated_at = $3 WHERE id = $1 AND status = $4")).
		WithArgs("enr-1", models.EnrollmentStatusActive, sqlmock.AnyArg(), models.EnrollmentStatusPending).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO payments").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	payment := &models.Payment{StudentID: "stu-1", Amount: decimal.NewFromInt(150), Status: models.PaymentStatusPaid, Method: models.PaymentMethodCreditCard}
	require.NoError(t, repo.ActivateWithPayment(context.Background(), "enr-1", payment))
	assert.NotEmpty(t, payment.ID)
	require.NotNil(t, payment.EnrollmentID)
	assert.Equal(t, "enr-1", *payment.EnrollmentID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEnrollmentRepositoryActivateWithPaymentRollsBack(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db)

	// already active: nothing is inserted
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE enrollments SET active = TRUE")).
		WithArgs("enr-1", models.EnrollmentStatusActive, sqlmock.AnyArg(), models.EnrollmentStatusPending).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	// payment insert fails: the activation is undone
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE enrollments SET active = TRUE")).
		WithArgs("enr-2", models.EnrollmentStatusActive, sqlmock.AnyArg(), models.EnrollmentStatusPending).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO payments").WillReturnError(sql.ErrConnDone)
	mock.ExpectRollback()

	err := repo.ActivateWithPayment(context.Background(), "enr-1", &models.Payment{StudentID: "stu-1"})
	assert.ErrorIs(t, err, sql.ErrNoRows)

	err = repo.ActivateWithPayment(context.Background(), "enr-2", &models.Payment{StudentID: "stu-1"})
	require.Error(t, err)
	assert.ErrorIs(t, err, sql.ErrConnDone)
	assert.NoError(t, mock.ExpectationsWereMet())
}
