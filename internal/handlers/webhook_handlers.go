package handlers

import (
	"errors"
	"io"
	"net/http"

	"estatehub/internal/common"
	"estatehub/internal/services"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"
)

const (
	signatureHeader = "Stripe-Signature"
	maxWebhookBody  = 1 << 20
)

// WebhookHandlers receives gateway notifications. Responses carry only a
// status code; the gateway retries anything that is not a 2xx.
type WebhookHandlers struct {
	webhookService services.WebhookService
	logger         logrus.FieldLogger
}

// NewWebhookHandlers creates a new webhook handlers instance
func NewWebhookHandlers(webhookService services.WebhookService, logger logrus.FieldLogger) *WebhookHandlers {
	return &WebhookHandlers{webhookService: webhookService, logger: logger}
}

// GatewayWebhook handles POST /webhooks/gateway
func (h *WebhookHandlers) GatewayWebhook(c echo.Context) error {
	body, err := io.ReadAll(http.MaxBytesReader(c.Response(), c.Request().Body, maxWebhookBody))
	if err != nil {
		return c.NoContent(http.StatusBadRequest)
	}

	err = h.webhookService.HandleEvent(c.Request().Context(), body, c.Request().Header.Get(signatureHeader))
	switch {
	case err == nil:
		return c.NoContent(http.StatusOK)
	case errors.Is(err, common.ErrSignatureInvalid):
		return c.NoContent(http.StatusBadRequest)
	default:
		h.logger.WithError(err).Error("webhook delivery failed, gateway will retry")
		return c.NoContent(http.StatusInternalServerError)
	}
}
