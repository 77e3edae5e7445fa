package controller

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"bestelling-engine/db"
	"bestelling-engine/models"
	"bestelling-engine/repository"
)

// BasketController handles HTTP requests for an account's basket
type BasketController struct {
	queue   MutationQueue
	baskets repository.BasketRepositoryInterface
	q       db.Querier
}

// NewBasketController creates a new BasketController
func NewBasketController(queue MutationQueue, baskets repository.BasketRepositoryInterface, q db.Querier) *BasketController {
	return &BasketController{queue: queue, baskets: baskets, q: q}
}

// ReserveRequest is the body of POST /baskets/:account/items
type ReserveRequest struct {
	Product    models.ProductCode `json:"product"`
	ProductRef int64              `json:"productRef"`
	Quantity   int                `json:"quantity"`
}

// TransportRequest is the body of PUT /baskets/:account/transport
type TransportRequest struct {
	Transport models.Transport `json:"transport"`
}

// AddressRequest is the body of PUT /baskets/:account/address
type AddressRequest struct {
	Address [5]string `json:"address"`
}

// Get handles GET /baskets/:account
// An account without a basket gets an empty one; nothing is stored.
func (bc *BasketController) Get(c echo.Context) error {
	accountID, err := paramID(c, "account")
	if err != nil {
		return errorJSON(c, http.StatusBadRequest, err.Error())
	}

	basket, found, err := bc.baskets.GetByAccount(c.Request().Context(), bc.q, accountID)
	if err != nil {
		logger.Error().Err(err).Msgf("❌ GetBasket: account=%d", accountID)
		return errorJSON(c, http.StatusInternalServerError, "failed to load basket")
	}
	if !found {
		basket = &models.Basket{AccountID: accountID, Lines: []models.OrderLine{}, Transport: models.TransportNotApplicable}
	}
	return c.JSON(http.StatusOK, basket)
}

// Reserve handles POST /baskets/:account/items
// Example request:
// POST /baskets/7/items?wait=true
// {"product": "event", "productRef": 12, "quantity": 1}
func (bc *BasketController) Reserve(c echo.Context) error {
	accountID, err := paramID(c, "account")
	if err != nil {
		return errorJSON(c, http.StatusBadRequest, err.Error())
	}
	var req ReserveRequest
	if err := c.Bind(&req); err != nil {
		return errorJSON(c, http.StatusBadRequest, "invalid request body")
	}
	if req.Quantity == 0 {
		req.Quantity = 1
	}
	if req.Quantity < 0 {
		return errorJSON(c, http.StatusBadRequest, "quantity must be greater than 0")
	}

	logger.Info().Msgf("📥 Reserve: account=%d product=%s ref=%d qty=%d", accountID, req.Product, req.ProductRef, req.Quantity)
	pending, err := bc.queue.EnqueueReserve(c.Request().Context(), accountID, req.Product, req.ProductRef, req.Quantity)
	if err != nil {
		return enqueueFailed(c, "Reserve", err)
	}
	return accepted(c, bc.queue, pending)
}

// Remove handles DELETE /baskets/:account/items/:line
func (bc *BasketController) Remove(c echo.Context) error {
	accountID, err := paramID(c, "account")
	if err != nil {
		return errorJSON(c, http.StatusBadRequest, err.Error())
	}
	lineID, err := paramID(c, "line")
	if err != nil {
		return errorJSON(c, http.StatusBadRequest, err.Error())
	}

	pending, err := bc.queue.EnqueueRemove(c.Request().Context(), accountID, lineID)
	if err != nil {
		return enqueueFailed(c, "Remove", err)
	}
	return accepted(c, bc.queue, pending)
}

// ChangeTransport handles PUT /baskets/:account/transport
func (bc *BasketController) ChangeTransport(c echo.Context) error {
	accountID, err := paramID(c, "account")
	if err != nil {
		return errorJSON(c, http.StatusBadRequest, err.Error())
	}
	var req TransportRequest
	if err := c.Bind(&req); err != nil {
		return errorJSON(c, http.StatusBadRequest, "invalid request body")
	}

	pending, err := bc.queue.EnqueueChangeTransport(c.Request().Context(), accountID, req.Transport)
	if err != nil {
		return enqueueFailed(c, "ChangeTransport", err)
	}
	return accepted(c, bc.queue, pending)
}

// ChangeAddress handles PUT /baskets/:account/address
func (bc *BasketController) ChangeAddress(c echo.Context) error {
	accountID, err := paramID(c, "account")
	if err != nil {
		return errorJSON(c, http.StatusBadRequest, err.Error())
	}
	var req AddressRequest
	if err := c.Bind(&req); err != nil {
		return errorJSON(c, http.StatusBadRequest, "invalid request body")
	}

	pending, err := bc.queue.EnqueueChangeAddress(c.Request().Context(), accountID, req.Address)
	if err != nil {
		return enqueueFailed(c, "ChangeAddress", err)
	}
	return accepted(c, bc.queue, pending)
}

// Checkout handles POST /baskets/:account/checkout
// The basket is split into one order per receiving party.
func (bc *BasketController) Checkout(c echo.Context) error {
	accountID, err := paramID(c, "account")
	if err != nil {
		return errorJSON(c, http.StatusBadRequest, err.Error())
	}

	logger.Info().Msgf("📥 Checkout: account=%d", accountID)
	pending, err := bc.queue.EnqueueMaterializeOrders(c.Request().Context(), accountID)
	if err != nil {
		return enqueueFailed(c, "Checkout", err)
	}
	return accepted(c, bc.queue, pending)
}
