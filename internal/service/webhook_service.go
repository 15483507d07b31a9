package service

import (
	"context"
	"crypto/subtle"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/noah-isme/dance-school-api/internal/models"
	"github.com/noah-isme/dance-school-api/internal/repository"
	appErrors "github.com/noah-isme/dance-school-api/pkg/errors"
	"github.com/noah-isme/dance-school-api/pkg/jobs"
)

// Webhook job outcomes reported to metrics.
const (
	webhookProcessed = "processed"
	webhookIgnored   = "ignored"
	webhookFailed    = "failed"
)

// ErrCheckoutNotReady is returned while the enrollment for a paid checkout is not yet
// visible; the queue retries the job.
var ErrCheckoutNotReady = errors.New("enrollment for checkout not found")

type webhookEnrollmentStore interface {
	FindByCheckoutID(ctx context.Context, checkoutID string) (*models.Enrollment, error)
	Activate(ctx context.Context, id string) error
	ActivateWithPayment(ctx context.Context, id string, payment *models.Payment) error
}

type webhookPaymentStore interface {
	FindByGatewayPaymentID(ctx context.Context, gatewayID string) (*models.Payment, error)
	FindCheckoutCharge(ctx context.Context, enrollmentID string) (*models.Payment, error)
	Create(ctx context.Context, payment *models.Payment) error
	AttachGatewayPayment(ctx context.Context, id, gatewayID string, paidAt time.Time, method models.PaymentMethod) error
	MarkPaid(ctx context.Context, id string, paidAt time.Time, method models.PaymentMethod) error
	UpdateStatus(ctx context.Context, id string, status models.PaymentStatus) error
}

type jobEnqueuer interface {
	Enqueue(job jobs.Job) error
}

// WebhookService accepts gateway notifications and reconciles them in the background.
type WebhookService struct {
	token       string
	queue       jobEnqueuer
	enrollments webhookEnrollmentStore
	payments    webhookPaymentStore
	classes     checkoutClassReader
	metrics     *MetricsService
	logger      *zap.Logger
	now         func() time.Time
}

// NewWebhookService constructs WebhookService. The queue is attached with SetQueue once the
// worker pool exists, since the pool's handler is this service's Handle method.
func NewWebhookService(token string, enrollments webhookEnrollmentStore, payments webhookPaymentStore, classes checkoutClassReader, metrics *MetricsService, logger *zap.Logger) *WebhookService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WebhookService{
		token:       token,
		enrollments: enrollments,
		payments:    payments,
		classes:     classes,
		metrics:     metrics,
		logger:      logger,
		now:         time.Now,
	}
}

// SetQueue attaches the queue events are buffered on.
func (s *WebhookService) SetQueue(queue jobEnqueuer) {
	s.queue = queue
}

// Accept authenticates and enqueues one webhook delivery.
func (s *WebhookService) Accept(ctx context.Context, token string, body []byte) (*models.GatewayEvent, error) {
	if s.token == "" || subtle.ConstantTimeCompare([]byte(token), []byte(s.token)) != 1 {
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "invalid webhook token")
	}
	var event models.GatewayEvent
	if err := json.Unmarshal(body, &event); err != nil {
		return nil, appErrors.WithDetails(appErrors.ErrValidation, "invalid webhook payload", err)
	}
	if strings.TrimSpace(event.Event) == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "webhook event type missing")
	}
	event.Raw = append(json.RawMessage(nil), body...)

	if s.queue == nil {
		return nil, appErrors.Clone(appErrors.ErrInternal, "webhook queue not configured")
	}
	job := jobs.Job{ID: event.ID, Type: event.Event, Payload: &event}
	if err := s.queue.Enqueue(job); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to enqueue webhook")
	}
	s.logger.Debug("webhook accepted", zap.String("event", event.Event), zap.String("event_id", event.ID))
	return &event, nil
}

// Handle is the queue handler. Unknown events are acknowledged and ignored.
func (s *WebhookService) Handle(ctx context.Context, job jobs.Job) error {
	event, ok := job.Payload.(*models.GatewayEvent)
	if !ok || event == nil {
		s.metrics.RecordWebhookJob(job.Type, webhookIgnored)
		return nil
	}
	logger := s.logger.With(zap.String("event", event.Event), zap.String("event_id", event.ID), zap.Int("attempt", job.Attempt))

	var (
		handled bool
		err     error
	)
	switch event.Event {
	case models.GatewayEventCheckoutPaid:
		handled, err = s.checkoutPaid(ctx, event, logger)
	case models.GatewayEventPaymentConfirmed, models.GatewayEventPaymentReceived:
		handled, err = s.paymentConfirmed(ctx, event, logger)
	case models.GatewayEventPaymentOverdue:
		handled, err = s.paymentStatus(ctx, event, models.PaymentStatusOverdue)
	case models.GatewayEventPaymentDeleted:
		handled, err = s.paymentStatus(ctx, event, models.PaymentStatusCancelled)
	default:
		logger.Debug("webhook event ignored")
	}

	switch {
	case err != nil:
		s.metrics.RecordWebhookJob(event.Event, webhookFailed)
		logger.Warn("webhook processing failed", zap.Error(err))
		return err
	case handled:
		s.metrics.RecordWebhookJob(event.Event, webhookProcessed)
	default:
		s.metrics.RecordWebhookJob(event.Event, webhookIgnored)
	}
	return nil
}

// checkoutPaid activates the enrollment opened by the checkout and records the first
// monthly payment atomically. Redeliveries of an already active enrollment are no-ops.
func (s *WebhookService) checkoutPaid(ctx context.Context, event *models.GatewayEvent, logger *zap.Logger) (bool, error) {
	if event.Checkout == nil || event.Checkout.ID == "" {
		return false, nil
	}
	enrollment, err := s.enrollments.FindByCheckoutID(ctx, event.Checkout.ID)
	if err != nil {
		if err == sql.ErrNoRows {
			return false, fmt.Errorf("%w: %s", ErrCheckoutNotReady, event.Checkout.ID)
		}
		return false, fmt.Errorf("load enrollment by checkout: %w", err)
	}
	if enrollment.Status != models.EnrollmentStatusPending || enrollment.Active {
		return false, nil
	}

	class, err := s.classes.FindByID(ctx, enrollment.ClassID)
	if err != nil {
		return false, fmt.Errorf("load class %s: %w", enrollment.ClassID, err)
	}
	now := s.now().UTC()
	payment := &models.Payment{
		StudentID:    enrollment.StudentID,
		EnrollmentID: &enrollment.ID,
		Amount:       class.MonthlyPrice,
		DueDate:      now,
		PaidAt:       &now,
		Status:       models.PaymentStatusPaid,
		Method:       models.PaymentMethodCreditCard,
		Description:  fmt.Sprintf("Monthly fee - %s", class.Name),
	}
	if sub := event.Checkout.Subscription; sub != "" {
		payment.GatewaySubscriptionID = &sub
	}
	if err := s.enrollments.ActivateWithPayment(ctx, enrollment.ID, payment); err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, fmt.Errorf("activate enrollment %s: %w", enrollment.ID, err)
	}
	logger.Info("enrollment activated by checkout",
		zap.String("enrollment_id", enrollment.ID),
		zap.String("checkout_id", event.Checkout.ID),
	)
	return true, nil
}

// paymentConfirmed settles a known payment, or records a new one when the charge belongs
// to a checkout this service opened. The first charge of a checkout already marked paid
// claims the payment recorded on activation instead of adding a second one.
func (s *WebhookService) paymentConfirmed(ctx context.Context, event *models.GatewayEvent, logger *zap.Logger) (bool, error) {
	p := event.Payment
	if p == nil || p.ID == "" {
		return false, nil
	}
	paidAt := parseGatewayDate(p.PaymentDate, s.now().UTC())
	method := methodFromBillingType(p.BillingType)

	existing, err := s.payments.FindByGatewayPaymentID(ctx, p.ID)
	switch {
	case err == nil:
		if existing.Status == models.PaymentStatusPaid {
			return false, nil
		}
		if err := s.payments.MarkPaid(ctx, existing.ID, paidAt, method); err != nil {
			return false, fmt.Errorf("settle payment %s: %w", existing.ID, err)
		}
		logger.Info("payment settled", zap.String("payment_id", existing.ID))
		return true, nil
	case err != sql.ErrNoRows:
		return false, fmt.Errorf("load payment %s: %w", p.ID, err)
	}

	if p.CheckoutSession == "" {
		logger.Warn("payment confirmation for unknown charge", zap.String("gateway_payment_id", p.ID))
		return false, nil
	}
	enrollment, err := s.enrollments.FindByCheckoutID(ctx, p.CheckoutSession)
	if err != nil {
		if err == sql.ErrNoRows {
			logger.Warn("payment confirmation for unknown checkout", zap.String("checkout_id", p.CheckoutSession))
			return false, nil
		}
		return false, fmt.Errorf("load enrollment by checkout: %w", err)
	}

	claimed, err := s.claimCheckoutCharge(ctx, enrollment.ID, p.ID, paidAt, method)
	if err != nil || claimed {
		if claimed {
			logger.Info("checkout payment matched to gateway charge", zap.String("gateway_payment_id", p.ID), zap.String("enrollment_id", enrollment.ID))
		}
		return claimed, err
	}

	gatewayID := p.ID
	payment := &models.Payment{
		StudentID:        enrollment.StudentID,
		EnrollmentID:     &enrollment.ID,
		Amount:           decimal.NewFromFloat(p.Value).Round(2),
		DueDate:          parseGatewayDate(p.DueDate, paidAt),
		PaidAt:           &paidAt,
		Status:           models.PaymentStatusPaid,
		Method:           method,
		Description:      p.Description,
		GatewayPaymentID: &gatewayID,
	}
	if p.Subscription != "" {
		sub := p.Subscription
		payment.GatewaySubscriptionID = &sub
	}
	if err := s.payments.Create(ctx, payment); err != nil {
		if errors.Is(err, repository.ErrDuplicatePayment) {
			return false, nil
		}
		return false, fmt.Errorf("record gateway payment: %w", err)
	}
	if !enrollment.Active && enrollment.Status == models.EnrollmentStatusPending {
		if err := s.enrollments.Activate(ctx, enrollment.ID); err != nil && err != sql.ErrNoRows {
			return false, fmt.Errorf("activate enrollment %s: %w", enrollment.ID, err)
		}
	}
	logger.Info("gateway payment recorded", zap.String("payment_id", payment.ID), zap.String("enrollment_id", enrollment.ID))
	return true, nil
}

// claimCheckoutCharge links the activation payment of enrollmentID, if still unmatched, to
// the gateway charge.
func (s *WebhookService) claimCheckoutCharge(ctx context.Context, enrollmentID, gatewayID string, paidAt time.Time, method models.PaymentMethod) (bool, error) {
	charge, err := s.payments.FindCheckoutCharge(ctx, enrollmentID)
	if err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, fmt.Errorf("load checkout payment for %s: %w", enrollmentID, err)
	}
	switch err := s.payments.AttachGatewayPayment(ctx, charge.ID, gatewayID, paidAt, method); {
	case err == nil:
		return true, nil
	case errors.Is(err, repository.ErrDuplicatePayment):
		return false, nil
	case err == sql.ErrNoRows:
		// claimed concurrently by another charge; record this one on its own
		return false, nil
	default:
		return false, fmt.Errorf("match payment %s: %w", charge.ID, err)
	}
}

// paymentStatus moves a known unpaid payment to status.
func (s *WebhookService) paymentStatus(ctx context.Context, event *models.GatewayEvent, status models.PaymentStatus) (bool, error) {
	if event.Payment == nil || event.Payment.ID == "" {
		return false, nil
	}
	existing, err := s.payments.FindByGatewayPaymentID(ctx, event.Payment.ID)
	if err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, fmt.Errorf("load payment %s: %w", event.Payment.ID, err)
	}
	if existing.Status == models.PaymentStatusPaid || existing.Status == status {
		return false, nil
	}
	if err := s.payments.UpdateStatus(ctx, existing.ID, status); err != nil {
		return false, fmt.Errorf("update payment %s: %w", existing.ID, err)
	}
	return true, nil
}

func parseGatewayDate(value string, fallback time.Time) time.Time {
	if value == "" {
		return fallback
	}
	t, err := time.Parse(dateLayout, value)
	if err != nil {
		return fallback
	}
	return t
}

func methodFromBillingType(billingType string) models.PaymentMethod {
	switch strings.ToUpper(billingType) {
	case "PIX":
		return models.PaymentMethodPix
	case "BOLETO":
		return models.PaymentMethodBoleto
	default:
		return models.PaymentMethodCreditCard
	}
}
