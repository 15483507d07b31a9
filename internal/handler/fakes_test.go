package handler

import (
	"context"
	"time"

	"github.com/noah-isme/dance-school-api/internal/models"
	"github.com/noah-isme/dance-school-api/internal/service"
	appErrors "github.com/noah-isme/dance-school-api/pkg/errors"
)

type checkoutServiceMock struct {
	result *models.CheckoutResult
	err    error
	calls  int
	last   service.CheckoutRequest
}

func (m *checkoutServiceMock) Checkout(ctx context.Context, req service.CheckoutRequest) (*models.CheckoutResult, error) {
	m.calls++
	m.last = req
	return m.result, m.err
}

type checkoutStatusMock struct {
	status *models.CheckoutStatus
	err    error
	token  string
}

func (m *checkoutStatusMock) Status(ctx context.Context, signed string) (*models.CheckoutStatus, error) {
	m.token = signed
	return m.status, m.err
}

type classServiceMock struct {
	classes []models.ClassDetail
	hit     bool
	filter  models.ClassFilter
}

func (m *classServiceMock) List(ctx context.Context, filter models.ClassFilter) ([]models.ClassDetail, *models.Pagination, bool, error) {
	m.filter = filter
	return m.classes, &models.Pagination{Page: 1, PageSize: 20, TotalCount: len(m.classes)}, m.hit, nil
}

func (m *classServiceMock) Get(ctx context.Context, id string) (*models.ClassDetail, error) {
	for i := range m.classes {
		if m.classes[i].ID == id {
			return &m.classes[i], nil
		}
	}
	return nil, appErrors.Clone(appErrors.ErrNotFound, "class not found")
}

func (m *classServiceMock) Create(ctx context.Context, req service.ClassRequest) (*models.Class, error) {
	return &models.Class{ID: "class-new", Name: req.Name}, nil
}

func (m *classServiceMock) Update(ctx context.Context, id string, req service.ClassRequest) (*models.Class, error) {
	return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "schedule cannot change while students are enrolled")
}

func (m *classServiceMock) Deactivate(ctx context.Context, id string) error { return nil }

func (m *classServiceMock) Roster(ctx context.Context, id string) ([]models.EnrollmentDetail, error) {
	return []models.EnrollmentDetail{{StudentName: "Ana Lima"}}, nil
}

type paymentServiceMock struct {
	filter models.PaymentFilter
}

func (m *paymentServiceMock) List(ctx context.Context, filter models.PaymentFilter) ([]models.PaymentDetail, *models.Pagination, error) {
	m.filter = filter
	return []models.PaymentDetail{}, &models.Pagination{Page: 1, PageSize: 20}, nil
}

func (m *paymentServiceMock) Get(ctx context.Context, id string) (*models.PaymentDetail, error) {
	return &models.PaymentDetail{Payment: models.Payment{ID: id}}, nil
}

func (m *paymentServiceMock) Create(ctx context.Context, req service.CreatePaymentRequest) (*models.PaymentDetail, error) {
	return &models.PaymentDetail{Payment: models.Payment{ID: "payment-new", StudentID: req.StudentID}}, nil
}

func (m *paymentServiceMock) MarkPaid(ctx context.Context, id string, req service.MarkPaidRequest) (*models.PaymentDetail, error) {
	return &models.PaymentDetail{Payment: models.Payment{ID: id, Status: models.PaymentStatusPaid}}, nil
}

func (m *paymentServiceMock) Cancel(ctx context.Context, id string) (*models.PaymentDetail, error) {
	return &models.PaymentDetail{Payment: models.Payment{ID: id, Status: models.PaymentStatusCancelled}}, nil
}

type exporterMock struct {
	format string
}

func (m *exporterMock) ExportPayments(ctx context.Context, filter models.PaymentFilter, format string) (*service.ExportFile, error) {
	m.format = format
	if format == "xlsx" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "unsupported export format")
	}
	return &service.ExportFile{Filename: "payments.csv", ContentType: "text/csv", Body: []byte("Student;Amount\n")}, nil
}

type attendanceServiceMock struct {
	reportDate time.Time
	studentID  string
}

func (m *attendanceServiceMock) Mark(ctx context.Context, req service.MarkAttendanceRequest, recordedBy *string) (*models.Attendance, error) {
	return &models.Attendance{EnrollmentID: req.EnrollmentID, RecordedBy: recordedBy}, nil
}

func (m *attendanceServiceMock) BulkMark(ctx context.Context, req service.BulkMarkAttendanceRequest, recordedBy *string) (*service.BulkAttendanceResult, error) {
	return &service.BulkAttendanceResult{Processed: len(req.Items), Success: len(req.Items)}, nil
}

func (m *attendanceServiceMock) ClassReport(ctx context.Context, classID string, date time.Time) ([]models.AttendanceReportRow, error) {
	m.reportDate = date
	return []models.AttendanceReportRow{}, nil
}

func (m *attendanceServiceMock) StudentSummary(ctx context.Context, studentID, classID string, from, to *time.Time) (*models.AttendanceSummary, error) {
	m.studentID = studentID
	return &models.AttendanceSummary{Present: 3, Total: 4, Percent: 75}, nil
}

type webhookAcceptorMock struct {
	token string
	body  []byte
}

func (m *webhookAcceptorMock) Accept(ctx context.Context, token string, body []byte) (*models.GatewayEvent, error) {
	if token != "secret" {
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "invalid webhook token")
	}
	m.token = token
	m.body = body
	return &models.GatewayEvent{ID: "evt_1", Event: "CHECKOUT_PAID"}, nil
}

type tokenValidatorMock map[string]*models.JWTClaims

func (m tokenValidatorMock) ValidateToken(token string) (*models.JWTClaims, error) {
	if claims, ok := m[token]; ok {
		return claims, nil
	}
	return nil, appErrors.Clone(appErrors.ErrUnauthorized, "invalid token")
}
