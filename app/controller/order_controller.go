package controller

import (
	"context"
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"

	"bestelling-engine/db"
	"bestelling-engine/models"
	"bestelling-engine/repository"
)

// OrderController handles HTTP requests for orders
type OrderController struct {
	queue MutationQueue
	store *repository.Store
	q     db.Querier
}

// NewOrderController creates a new OrderController
func NewOrderController(queue MutationQueue, store *repository.Store, q db.Querier) *OrderController {
	return &OrderController{queue: queue, store: store, q: q}
}

// TransferRequest is the body of POST /orders/:id/transfers
type TransferRequest struct {
	Amount    decimal.Decimal `json:"amount"`
	Reference string          `json:"reference"`
}

func (oc *OrderController) load(ctx context.Context, id int64) (*models.Order, error) {
	return oc.store.Orders.Get(ctx, oc.q, id, false)
}

// Get handles GET /orders/:id
func (oc *OrderController) Get(c echo.Context) error {
	id, err := paramID(c, "id")
	if err != nil {
		return errorJSON(c, http.StatusBadRequest, err.Error())
	}

	order, err := oc.load(c.Request().Context(), id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return errorJSON(c, http.StatusNotFound, "order not found")
		}
		logger.Error().Err(err).Msgf("❌ GetOrder: id=%d", id)
		return errorJSON(c, http.StatusInternalServerError, "failed to load order")
	}
	return c.JSON(http.StatusOK, order)
}

// ListByAccount handles GET /accounts/:account/orders
// Lines and transactions are not included; fetch a single order for those.
func (oc *OrderController) ListByAccount(c echo.Context) error {
	accountID, err := paramID(c, "account")
	if err != nil {
		return errorJSON(c, http.StatusBadRequest, err.Error())
	}

	orders, err := oc.store.Orders.ListByAccount(c.Request().Context(), oc.q, accountID)
	if err != nil {
		logger.Error().Err(err).Msgf("❌ ListOrders: account=%d", accountID)
		return errorJSON(c, http.StatusInternalServerError, "failed to list orders")
	}
	if orders == nil {
		orders = []models.Order{}
	}
	logger.Info().Msgf("✅ ListOrders: account=%d found %d orders", accountID, len(orders))
	return c.JSON(http.StatusOK, orders)
}

// StartPayment handles POST /orders/:id/payments
func (oc *OrderController) StartPayment(c echo.Context) error {
	id, err := paramID(c, "id")
	if err != nil {
		return errorJSON(c, http.StatusBadRequest, err.Error())
	}

	pending, err := oc.queue.EnqueueStartPayment(c.Request().Context(), id)
	if err != nil {
		return enqueueFailed(c, "StartPayment", err)
	}
	return accepted(c, oc.queue, pending)
}

// Cancel handles POST /orders/:id/cancel
func (oc *OrderController) Cancel(c echo.Context) error {
	id, err := paramID(c, "id")
	if err != nil {
		return errorJSON(c, http.StatusBadRequest, err.Error())
	}

	logger.Info().Msgf("📥 Cancel: order=%d", id)
	pending, err := oc.queue.EnqueueCancel(c.Request().Context(), id)
	if err != nil {
		return enqueueFailed(c, "Cancel", err)
	}
	return accepted(c, oc.queue, pending)
}

// ManualTransfer handles POST /orders/:id/transfers
// Example request:
// POST /orders/3/transfers
// {"amount": "12.10", "reference": "bank statement 2026-04"}
func (oc *OrderController) ManualTransfer(c echo.Context) error {
	id, err := paramID(c, "id")
	if err != nil {
		return errorJSON(c, http.StatusBadRequest, err.Error())
	}
	var req TransferRequest
	if err := c.Bind(&req); err != nil {
		return errorJSON(c, http.StatusBadRequest, "invalid request body")
	}

	logger.Info().Msgf("📥 ManualTransfer: order=%d amount=%s", id, req.Amount.StringFixed(2))
	pending, err := oc.queue.EnqueueManualTransfer(c.Request().Context(), id, req.Amount, req.Reference)
	if err != nil {
		return enqueueFailed(c, "ManualTransfer", err)
	}
	return accepted(c, oc.queue, pending)
}

// Withdraw handles POST /orders/:id/lines/:line/withdraw
func (oc *OrderController) Withdraw(c echo.Context) error {
	id, err := paramID(c, "id")
	if err != nil {
		return errorJSON(c, http.StatusBadRequest, err.Error())
	}
	lineID, err := paramID(c, "line")
	if err != nil {
		return errorJSON(c, http.StatusBadRequest, err.Error())
	}

	pending, err := oc.queue.EnqueueWithdraw(c.Request().Context(), id, lineID)
	if err != nil {
		return enqueueFailed(c, "Withdraw", err)
	}
	return accepted(c, oc.queue, pending)
}
