package service

import (
	"context"
	"database/sql"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/dance-school-api/internal/models"
	appErrors "github.com/noah-isme/dance-school-api/pkg/errors"
)

type callbackVerifier interface {
	Verify(signed string) (string, time.Time, error)
}

type checkoutTokenFinder interface {
	FindByCheckoutToken(ctx context.Context, token string) (*models.Enrollment, error)
}

// CallbackService answers the portal after the gateway redirects the student back.
type CallbackService struct {
	verifier    callbackVerifier
	enrollments checkoutTokenFinder
	logger      *zap.Logger
}

// NewCallbackService constructs CallbackService.
func NewCallbackService(verifier callbackVerifier, enrollments checkoutTokenFinder, logger *zap.Logger) *CallbackService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CallbackService{verifier: verifier, enrollments: enrollments, logger: logger}
}

// Status verifies the signed callback token and reports the enrollment it opened.
// Confirmed stays false until the gateway webhook activates the enrollment.
func (s *CallbackService) Status(ctx context.Context, signed string) (*models.CheckoutStatus, error) {
	token, _, err := s.verifier.Verify(signed)
	if err != nil {
		s.logger.Debug("callback token rejected", zap.Error(err))
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "invalid or expired callback token")
	}
	enrollment, err := s.enrollments.FindByCheckoutToken(ctx, token)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "enrollment not found")
		}
		return nil, internalError(err, "failed to load enrollment")
	}
	return &models.CheckoutStatus{
		EnrollmentID: enrollment.ID,
		ClassID:      enrollment.ClassID,
		Status:       enrollment.Status,
		Active:       enrollment.Active,
		Confirmed:    enrollment.Active && enrollment.Status == models.EnrollmentStatusActive,
	}, nil
}
