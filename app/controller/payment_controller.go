package controller

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"bestelling-engine/service"
)

// PaymentController receives status callbacks from the payment provider
type PaymentController struct {
	queue    MutationQueue
	payments service.PaymentProviderInterface
}

// NewPaymentController creates a new PaymentController. payments may be nil
// when no provider is configured.
func NewPaymentController(queue MutationQueue, payments service.PaymentProviderInterface) *PaymentController {
	return &PaymentController{queue: queue, payments: payments}
}

type webhookRequest struct {
	ID string `json:"id" form:"id"`
}

// Webhook handles POST /payments/webhook
// The provider only sends the payment id; the status is fetched back from
// the provider. Failures answer 500 so the provider retries.
func (pc *PaymentController) Webhook(c echo.Context) error {
	if pc.payments == nil {
		return errorJSON(c, http.StatusServiceUnavailable, "no payment provider configured")
	}

	var req webhookRequest
	if err := c.Bind(&req); err != nil {
		return errorJSON(c, http.StatusBadRequest, "invalid request body")
	}
	id := strings.TrimSpace(req.ID)
	if id == "" {
		return errorJSON(c, http.StatusBadRequest, "id is required")
	}

	logger.Info().Msgf("📥 Webhook: payment %s", id)
	pending, ok, err := pc.queue.PaymentStatusChanged(c.Request().Context(), pc.payments, id)
	if err != nil {
		logger.Error().Err(err).Msgf("❌ Webhook: payment %s", id)
		return errorJSON(c, http.StatusInternalServerError, "failed to handle payment status")
	}
	if !ok {
		return c.NoContent(http.StatusOK)
	}
	return c.JSON(http.StatusOK, MutationResponse{MutationID: pending.ID, Duplicate: pending.Duplicate})
}
