package handler

import (
	"context"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/dance-school-api/internal/models"
	appErrors "github.com/noah-isme/dance-school-api/pkg/errors"
	"github.com/noah-isme/dance-school-api/pkg/response"
)

// GatewayTokenHeader carries the shared secret configured on the gateway's webhook.
const GatewayTokenHeader = "asaas-access-token"

const maxWebhookBody = 1 << 20

type webhookAcceptor interface {
	Accept(ctx context.Context, token string, body []byte) (*models.GatewayEvent, error)
}

// WebhookHandler receives payment gateway notifications.
type WebhookHandler struct {
	webhooks webhookAcceptor
}

// NewWebhookHandler constructs WebhookHandler.
func NewWebhookHandler(webhooks webhookAcceptor) *WebhookHandler {
	return &WebhookHandler{webhooks: webhooks}
}

// Gateway godoc
// @Summary Receive a payment gateway event
// @Description Authenticates the shared token and queues the event; processing happens in the background
// @Tags Webhooks
// @Accept json
// @Produce json
// @Param asaas-access-token header string true "Webhook token"
// @Success 202 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 401 {object} response.Envelope
// @Router /webhooks/gateway [post]
func (h *WebhookHandler) Gateway(c *gin.Context) {
	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxWebhookBody))
	if err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "unreadable webhook body"))
		return
	}
	event, err := h.webhooks.Accept(c.Request.Context(), c.GetHeader(GatewayTokenHeader), body)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Accepted(c, gin.H{"received": true, "event": event.Event, "id": event.ID})
}
