package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/noah-isme/dance-school-api/internal/middleware"
	"github.com/noah-isme/dance-school-api/internal/models"
	"github.com/noah-isme/dance-school-api/internal/service"
	appErrors "github.com/noah-isme/dance-school-api/pkg/errors"
	"github.com/noah-isme/dance-school-api/pkg/logger"
	"github.com/noah-isme/dance-school-api/pkg/response"
)

type checkoutService interface {
	Checkout(ctx context.Context, req service.CheckoutRequest) (*models.CheckoutResult, error)
}

type checkoutStatusService interface {
	Status(ctx context.Context, signed string) (*models.CheckoutStatus, error)
}

// CheckoutHandler exposes the checkout RPC and the post-payment callback.
type CheckoutHandler struct {
	checkout  checkoutService
	callbacks checkoutStatusService
	logger    *zap.Logger
}

// NewCheckoutHandler constructs CheckoutHandler.
func NewCheckoutHandler(checkout checkoutService, callbacks checkoutStatusService, log *zap.Logger) *CheckoutHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return &CheckoutHandler{checkout: checkout, callbacks: callbacks, logger: log}
}

// Checkout godoc
// @Summary Start or resume an enrollment checkout
// @Description Idempotent per student and class: an active enrollment is reported, a pending one returns its stored checkout URL, otherwise a new gateway checkout is opened. The body is not wrapped in the common envelope. Missing or inactive students and classes answer 200 with success=false and the error code; gateway and storage failures answer 500.
// @Tags Checkout
// @Accept json
// @Produce json
// @Param payload body service.CheckoutRequest true "Checkout payload"
// @Success 200 {object} models.CheckoutResult
// @Failure 400 {object} models.CheckoutResult
// @Failure 403 {object} models.CheckoutResult
// @Failure 500 {object} models.CheckoutResult
// @Router /checkout [post]
func (h *CheckoutHandler) Checkout(c *gin.Context) {
	var req service.CheckoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.fail(c, invalidPayload(err, "invalid checkout payload"))
		return
	}
	req.StudentID = strings.ToLower(strings.TrimSpace(req.StudentID))
	req.ClassID = strings.ToLower(strings.TrimSpace(req.ClassID))

	if !middleware.CanActForStudent(claimsFromContext(c), req.StudentID) {
		h.fail(c, appErrors.Clone(appErrors.ErrForbidden, "students may only check out for themselves"))
		return
	}

	result, err := h.checkout.Checkout(c.Request.Context(), req)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Raw(c, http.StatusOK, result)
}

func (h *CheckoutHandler) fail(c *gin.Context, err error) {
	appErr := appErrors.FromError(err)
	if appErr.Err != nil {
		_ = c.Error(appErr.Err)
	}
	if appErr.Status >= 500 {
		logger.ForRequest(h.logger, c).Error("checkout failed", zap.String("code", appErr.Code), zap.Error(err))
	}
	response.Raw(c, checkoutFailureStatus(appErr), models.CheckoutResult{
		Success: false,
		Message: appErr.Message,
		Error:   appErr.Code,
	})
}

// checkoutFailureStatus keeps business rejections on 200 so callers branch on success and
// error; upstream and storage failures collapse to 500.
func checkoutFailureStatus(appErr *appErrors.Error) int {
	switch appErr.Code {
	case appErrors.ErrNotFound.Code, appErrors.ErrInactiveResource.Code:
		return http.StatusOK
	case appErrors.ErrGateway.Code:
		return http.StatusInternalServerError
	}
	return appErr.Status
}

// Callback godoc
// @Summary Resolve the signed token of a checkout success redirect
// @Tags Checkout
// @Produce json
// @Param token query string true "Signed checkout token"
// @Success 200 {object} response.Envelope
// @Failure 401 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /checkout/callback [get]
func (h *CheckoutHandler) Callback(c *gin.Context) {
	token := strings.TrimSpace(c.Query("token"))
	if token == "" {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "token is required"))
		return
	}
	status, err := h.callbacks.Status(c.Request.Context(), token)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, status, nil)
}
