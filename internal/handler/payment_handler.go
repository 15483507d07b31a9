package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/dance-school-api/internal/models"
	"github.com/noah-isme/dance-school-api/internal/service"
	"github.com/noah-isme/dance-school-api/pkg/response"
)

type paymentService interface {
	List(ctx context.Context, filter models.PaymentFilter) ([]models.PaymentDetail, *models.Pagination, error)
	Get(ctx context.Context, id string) (*models.PaymentDetail, error)
	Create(ctx context.Context, req service.CreatePaymentRequest) (*models.PaymentDetail, error)
	MarkPaid(ctx context.Context, id string, req service.MarkPaidRequest) (*models.PaymentDetail, error)
	Cancel(ctx context.Context, id string) (*models.PaymentDetail, error)
}

type paymentExporter interface {
	ExportPayments(ctx context.Context, filter models.PaymentFilter, format string) (*service.ExportFile, error)
}

// PaymentHandler exposes payment endpoints.
type PaymentHandler struct {
	payments paymentService
	exports  paymentExporter
}

// NewPaymentHandler constructs PaymentHandler.
func NewPaymentHandler(payments paymentService, exports paymentExporter) *PaymentHandler {
	return &PaymentHandler{payments: payments, exports: exports}
}

func paymentFilter(c *gin.Context) (models.PaymentFilter, error) {
	filter := models.PaymentFilter{
		StudentID:    c.Query("studentId"),
		EnrollmentID: c.Query("enrollmentId"),
		Status:       models.PaymentStatus(strings.ToLower(strings.TrimSpace(c.Query("status")))),
		SortBy:       c.Query("sort"),
		SortOrder:    c.Query("order"),
	}
	filter.Page, filter.PageSize = paging(c)

	var err error
	if filter.DueFrom, err = dateQuery(c, "dueFrom"); err != nil {
		return filter, err
	}
	if filter.DueTo, err = dateQuery(c, "dueTo"); err != nil {
		return filter, err
	}
	return filter, nil
}

// List godoc
// @Summary List payments
// @Tags Payments
// @Produce json
// @Param studentId query string false "Filter by student"
// @Param enrollmentId query string false "Filter by enrollment"
// @Param status query string false "pendente, pago, vencido or cancelado"
// @Param dueFrom query string false "Due date from (YYYY-MM-DD)"
// @Param dueTo query string false "Due date to (YYYY-MM-DD)"
// @Param page query int false "Page"
// @Param limit query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /payments [get]
func (h *PaymentHandler) List(c *gin.Context) {
	filter, err := paymentFilter(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	h.list(c, filter)
}

// ListForStudent godoc
// @Summary List the payments of one student
// @Tags Payments
// @Produce json
// @Param id path string true "Student ID"
// @Param status query string false "pendente, pago, vencido or cancelado"
// @Success 200 {object} response.Envelope
// @Router /students/{id}/payments [get]
func (h *PaymentHandler) ListForStudent(c *gin.Context) {
	filter, err := paymentFilter(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	filter.StudentID = c.Param("id")
	h.list(c, filter)
}

func (h *PaymentHandler) list(c *gin.Context, filter models.PaymentFilter) {
	payments, pagination, err := h.payments.List(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, payments, pagination)
}

// Get godoc
// @Summary Get payment detail
// @Tags Payments
// @Produce json
// @Param id path string true "Payment ID"
// @Success 200 {object} response.Envelope
// @Router /payments/{id} [get]
func (h *PaymentHandler) Get(c *gin.Context) {
	payment, err := h.payments.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, payment, nil)
}

// Create godoc
// @Summary Register a manual charge
// @Tags Payments
// @Accept json
// @Produce json
// @Param payload body service.CreatePaymentRequest true "Payment payload"
// @Success 201 {object} response.Envelope
// @Router /payments [post]
func (h *PaymentHandler) Create(c *gin.Context) {
	var req service.CreatePaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, invalidPayload(err, "invalid payload"))
		return
	}
	payment, err := h.payments.Create(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, payment)
}

// MarkPaid godoc
// @Summary Settle a payment
// @Tags Payments
// @Accept json
// @Produce json
// @Param id path string true "Payment ID"
// @Param payload body service.MarkPaidRequest false "Settlement details"
// @Success 200 {object} response.Envelope
// @Failure 412 {object} response.Envelope
// @Router /payments/{id}/pay [post]
func (h *PaymentHandler) MarkPaid(c *gin.Context) {
	var req service.MarkPaidRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.Error(c, invalidPayload(err, "invalid payload"))
			return
		}
	}
	payment, err := h.payments.MarkPaid(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, payment, nil)
}

// Cancel godoc
// @Summary Cancel an unpaid payment
// @Tags Payments
// @Produce json
// @Param id path string true "Payment ID"
// @Success 200 {object} response.Envelope
// @Failure 412 {object} response.Envelope
// @Router /payments/{id}/cancel [post]
func (h *PaymentHandler) Cancel(c *gin.Context) {
	payment, err := h.payments.Cancel(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, payment, nil)
}

// Export godoc
// @Summary Export payments as CSV or PDF
// @Tags Payments
// @Produce text/csv
// @Produce application/pdf
// @Param format query string false "csv (default) or pdf"
// @Param studentId query string false "Filter by student"
// @Param status query string false "Filter by status"
// @Param dueFrom query string false "Due date from (YYYY-MM-DD)"
// @Param dueTo query string false "Due date to (YYYY-MM-DD)"
// @Success 200 {file} file
// @Router /payments/export [get]
func (h *PaymentHandler) Export(c *gin.Context) {
	filter, err := paymentFilter(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	file, err := h.exports.ExportPayments(c.Request.Context(), filter, strings.ToLower(c.Query("format")))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Attachment(c, file.Filename, file.ContentType, file.Body)
}
