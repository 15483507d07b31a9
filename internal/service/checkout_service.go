package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/noah-isme/dance-school-api/internal/gateway"
	"github.com/noah-isme/dance-school-api/internal/models"
	"github.com/noah-isme/dance-school-api/internal/repository"
	appErrors "github.com/noah-isme/dance-school-api/pkg/errors"
)

type checkoutStudentReader interface {
	FindByID(ctx context.Context, id string) (*models.Student, error)
}

type checkoutClassReader interface {
	FindByID(ctx context.Context, id string) (*models.Class, error)
}

type checkoutEnrollmentStore interface {
	FindLatestByStudentAndClass(ctx context.Context, studentID, classID string) (*models.Enrollment, error)
	Create(ctx context.Context, enrollment *models.Enrollment) error
}

type customerProvisioner interface {
	EnsureCustomer(ctx context.Context, studentID string) (string, error)
}

type checkoutGateway interface {
	CreateCheckout(ctx context.Context, req gateway.CreateCheckoutRequest) (*gateway.CheckoutSession, error)
}

type callbackSigner interface {
	Sign(checkoutToken string) (string, time.Time, error)
}

// CheckoutRequest is the body of the checkout RPC. CreateEnrollment defaults to true.
type CheckoutRequest struct {
	StudentID        string `json:"student_id" validate:"required,uuid"`
	ClassID          string `json:"class_id" validate:"required,uuid"`
	CreateEnrollment *bool  `json:"create_enrollment"`
}

func (r CheckoutRequest) createEnrollment() bool {
	return r.CreateEnrollment == nil || *r.CreateEnrollment
}

// CheckoutOptions carries the gateway and callback settings of the service.
type CheckoutOptions struct {
	CallbackBaseURL string
	BillingType     string
	ExpiryMinutes   int
}

// CheckoutService opens gateway checkouts for enrollments while guaranteeing at most one
// pending or active enrollment per student and class.
type CheckoutService struct {
	students    checkoutStudentReader
	classes     checkoutClassReader
	enrollments checkoutEnrollmentStore
	customers   customerProvisioner
	gateway     checkoutGateway
	signer      callbackSigner
	opts        CheckoutOptions
	validator   *validator.Validate
	metrics     *MetricsService
	logger      *zap.Logger
	group       singleflight.Group
	now         func() time.Time
	newToken    func() string
}

// NewCheckoutService wires the checkout workflow.
func NewCheckoutService(
	students checkoutStudentReader,
	classes checkoutClassReader,
	enrollments checkoutEnrollmentStore,
	customers customerProvisioner,
	gw checkoutGateway,
	signer callbackSigner,
	opts CheckoutOptions,
	metrics *MetricsService,
	logger *zap.Logger,
) *CheckoutService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.BillingType == "" {
		opts.BillingType = "CREDIT_CARD"
	}
	opts.CallbackBaseURL = strings.TrimRight(opts.CallbackBaseURL, "/")
	return &CheckoutService{
		students:    students,
		classes:     classes,
		enrollments: enrollments,
		customers:   customers,
		gateway:     gw,
		signer:      signer,
		opts:        opts,
		validator:   NewValidator(),
		metrics:     metrics,
		logger:      logger,
		now:         time.Now,
		newToken:    uuid.NewString,
	}
}

// Checkout runs the workflow. Business outcomes come back as a result; typed failures as
// *appErrors.Error. Concurrent calls for the same request in this process share one run.
func (s *CheckoutService) Checkout(ctx context.Context, req CheckoutRequest) (*models.CheckoutResult, error) {
	req.StudentID = strings.ToLower(req.StudentID)
	req.ClassID = strings.ToLower(req.ClassID)
	if err := s.validator.Struct(req); err != nil {
		s.metrics.RecordCheckoutOutcome(appErrors.ErrValidation.Code)
		return nil, validationError(err, "student_id and class_id must be valid UUIDs")
	}

	key := fmt.Sprintf("%s|%s|%t", req.StudentID, req.ClassID, req.createEnrollment())
	// The shared call serves every waiter, so it must not die with the caller that started it.
	runCtx := context.WithoutCancel(ctx)
	v, err, shared := s.group.Do(key, func() (interface{}, error) {
		return s.run(runCtx, req)
	})
	if shared {
		s.logger.Debug("checkout collapsed with concurrent call", zap.String("student_id", req.StudentID), zap.String("class_id", req.ClassID))
	}
	if err != nil {
		s.metrics.RecordCheckoutOutcome(appErrors.FromError(err).Code)
		return nil, err
	}
	result := v.(*models.CheckoutResult)
	s.metrics.RecordCheckoutOutcome(string(result.Outcome))
	return result, nil
}

func (s *CheckoutService) run(ctx context.Context, req CheckoutRequest) (*models.CheckoutResult, error) {
	log := s.logger.With(zap.String("student_id", req.StudentID), zap.String("class_id", req.ClassID))

	student, err := s.students.FindByID(ctx, req.StudentID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "student not found")
		}
		return nil, internalError(err, "checkout: load student")
	}

	class, err := s.classes.FindByID(ctx, req.ClassID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "class not found")
		}
		return nil, internalError(err, "checkout: load class")
	}
	if !class.Active {
		return nil, appErrors.Clone(appErrors.ErrInactiveResource, "class is not active")
	}

	latest, err := s.latestEnrollment(ctx, req.StudentID, req.ClassID)
	if err != nil {
		return nil, err
	}
	if result := existingResult(latest); result != nil {
		log.Info("checkout short-circuited", zap.String("outcome", string(result.Outcome)), zap.String("enrollment_id", latest.ID))
		return result, nil
	}
	if !student.Active {
		return nil, appErrors.Clone(appErrors.ErrInactiveResource, "student is not active")
	}
	if !req.createEnrollment() {
		return &models.CheckoutResult{
			Success: true,
			Outcome: models.CheckoutOutcomeValidated,
			Message: "student can enroll in this class",
		}, nil
	}

	customerID := ""
	if student.HasGatewayCustomer() {
		customerID = *student.GatewayCustomerID
	} else {
		log.Info("provisioning gateway customer", zap.String("step", "ensure_customer"))
		customerID, err = s.customers.EnsureCustomer(ctx, student.ID)
		if err != nil {
			return nil, err
		}
	}

	token := s.newToken()
	session, err := s.openSession(ctx, class, customerID, token)
	if err != nil {
		log.Warn("checkout session failed", zap.String("step", "create_checkout"), zap.Error(err))
		return nil, err
	}
	log = log.With(zap.String("checkout_id", session.ID))

	enrollment := &models.Enrollment{
		StudentID:     student.ID,
		ClassID:       class.ID,
		Active:        false,
		Status:        models.EnrollmentStatusPending,
		CheckoutToken: &token,
		CheckoutURL:   &session.Link,
		CheckoutID:    &session.ID,
	}
	if err := s.enrollments.Create(ctx, enrollment); err != nil {
		if errors.Is(err, repository.ErrDuplicateEnrollment) {
			log.Warn("concurrent checkout won the race; gateway session orphaned", zap.String("step", "persist_enrollment"))
			return s.raceWinner(ctx, req)
		}
		log.Error("enrollment insert failed after gateway checkout; gateway session orphaned",
			zap.String("step", "persist_enrollment"), zap.Error(err))
		return nil, appErrors.WithDetails(appErrors.ErrPersistence, "failed to save enrollment", err,
			fmt.Sprintf("orphaned gateway checkout %s", session.ID))
	}

	log.Info("checkout created", zap.String("enrollment_id", enrollment.ID))
	return &models.CheckoutResult{
		Success:        true,
		Outcome:        models.CheckoutOutcomeCreated,
		CheckoutURL:    enrollment.CheckoutURL,
		EnrollmentID:   &enrollment.ID,
		CheckoutToken:  enrollment.CheckoutToken,
		EnrollmentData: enrollment,
		Message:        "checkout created",
	}, nil
}

func (s *CheckoutService) latestEnrollment(ctx context.Context, studentID, classID string) (*models.Enrollment, error) {
	latest, err := s.enrollments.FindLatestByStudentAndClass(ctx, studentID, classID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, internalError(err, "checkout: load enrollment")
	}
	return latest, nil
}

// existingResult applies the idempotency guards: an active enrollment wins over a pending one.
func existingResult(latest *models.Enrollment) *models.CheckoutResult {
	if latest == nil {
		return nil
	}
	switch {
	case latest.Active:
		return &models.CheckoutResult{
			Success:        true,
			Outcome:        models.CheckoutOutcomeAlreadyEnrolled,
			CheckoutURL:    latest.CheckoutURL,
			EnrollmentID:   &latest.ID,
			CheckoutToken:  latest.CheckoutToken,
			EnrollmentData: latest,
			Message:        "student is already enrolled in this class",
		}
	case latest.Status == models.EnrollmentStatusPending:
		return &models.CheckoutResult{
			Success:        true,
			Outcome:        models.CheckoutOutcomePending,
			CheckoutURL:    latest.CheckoutURL,
			EnrollmentID:   &latest.ID,
			CheckoutToken:  latest.CheckoutToken,
			EnrollmentData: latest,
			Message:        "a checkout is already pending for this class",
		}
	default:
		return nil
	}
}

func (s *CheckoutService) raceWinner(ctx context.Context, req CheckoutRequest) (*models.CheckoutResult, error) {
	latest, err := s.latestEnrollment(ctx, req.StudentID, req.ClassID)
	if err != nil {
		return nil, appErrors.WithDetails(appErrors.ErrPersistence, "failed to load concurrent enrollment", err)
	}
	if result := existingResult(latest); result != nil {
		return result, nil
	}
	return nil, appErrors.Clone(appErrors.ErrPersistence, "enrollment changed concurrently, try again")
}

func (s *CheckoutService) openSession(ctx context.Context, class *models.Class, customerID, token string) (*gateway.CheckoutSession, error) {
	signed, _, err := s.signer.Sign(token)
	if err != nil {
		return nil, internalError(err, "checkout: sign callback token")
	}
	base := s.opts.CallbackBaseURL
	session, err := s.gateway.CreateCheckout(ctx, gateway.CreateCheckoutRequest{
		BillingTypes:    []string{s.opts.BillingType},
		ChargeTypes:     []string{gateway.ChargeTypeRecurrent},
		MinutesToExpire: s.opts.ExpiryMinutes,
		Callback: gateway.CheckoutCallback{
			SuccessURL: base + "/checkout/success?token=" + url.QueryEscape(signed),
			CancelURL:  base + "/checkout/cancel?class_id=" + url.QueryEscape(class.ID),
			ExpiredURL: base + "/checkout/expired?class_id=" + url.QueryEscape(class.ID),
		},
		Items: []gateway.CheckoutItem{{
			Name:        class.Name,
			Description: fmt.Sprintf("%s %s monthly fee", class.Modality, class.Level),
			Quantity:    1,
			Value:       class.MonthlyPrice.InexactFloat64(),
		}},
		Customer: customerID,
		Subscription: &gateway.CheckoutSubscription{
			Cycle:       gateway.CycleMonthly,
			NextDueDate: s.now().Format("2006-01-02"),
		},
		ExternalReference: token,
	})
	if err != nil {
		return nil, gatewayError("checkout creation", err)
	}
	return session, nil
}
