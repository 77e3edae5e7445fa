package controller_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bestelling-engine/app/controller"
	"bestelling-engine/app/router"
	"bestelling-engine/db"
	"bestelling-engine/models"
	"bestelling-engine/mutation"
	"bestelling-engine/plugin"
	"bestelling-engine/pricing"
	"bestelling-engine/repository"
	"bestelling-engine/service"
	"bestelling-engine/wake"
)

type stubPayments struct {
	service.PaymentProviderInterface
}

type harness struct {
	ctx   context.Context
	db    *db.DB
	store *repository.Store
	proc  *mutation.Processor
	queue *mutation.Queue
	event *models.Offering
}

func newHarness(t *testing.T, payments service.PaymentProviderInterface) (*harness, *echo.Echo) {
	t.Helper()
	ctx := context.Background()

	database, err := db.Open(ctx, "sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = database.Close() })

	engine, err := pricing.NewEngine("")
	require.NoError(t, err)
	store := repository.NewStore()
	require.NoError(t, store.Counter.Ensure(ctx, database, 1))

	seller := &models.Seller{Name: "Club", Email: "club@example.org"}
	require.NoError(t, store.Sellers.Create(ctx, database, seller))
	event := &models.Offering{Kind: models.ProductEvent, Title: "Spring event", SellerID: seller.ID,
		StartsAt: time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC), Price: decimal.RequireFromString("12.10"), SeatsFree: 3}
	require.NoError(t, store.Registrations.CreateOffering(ctx, database, event))

	w := wake.NewLocal()
	notifier := service.LogNotifier{}
	h := &harness{ctx: ctx, db: database, store: store, event: event}
	h.queue = mutation.NewQueue(database, store, w)
	h.queue.SetWaitBackoff(time.Millisecond, 5*time.Millisecond)
	h.proc = mutation.NewProcessor(mutation.Deps{
		DB:       database,
		Store:    store,
		Plugins:  plugin.NewRegistry(store, engine),
		Engine:   engine,
		Notifier: notifier,
		Alerter:  service.NewAlerter(notifier, "ops@example.org", 0),
		Wake:     w,
	}, mutation.Settings{})

	e := router.SetupRoutes(&router.Controllers{
		Basket:  controller.NewBasketController(h.queue, store.Baskets, database),
		Order:   controller.NewOrderController(h.queue, store, database),
		Payment: controller.NewPaymentController(h.queue, payments),
		Health:  controller.NewHealthController(h.queue, database),
	})
	return h, e
}

func (h *harness) process(t *testing.T) int {
	t.Helper()
	n, err := h.proc.ProcessPending(h.ctx)
	require.NoError(t, err)
	return n
}

func do(e *echo.Echo, method, target, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if body != "" {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	return v
}

func TestReserveIsQueuedAndVisibleAfterProcessing(t *testing.T) {
	h, e := newHarness(t, nil)

	rec := do(e, http.MethodPost, "/baskets/7/items", `{"product":"event","productRef":1,"quantity":1}`)
	require.Equal(t, http.StatusAccepted, rec.Code)
	resp := decode[controller.MutationResponse](t, rec)
	assert.NotZero(t, resp.MutationID)
	assert.False(t, resp.Confirmed)

	rec = do(e, http.MethodGet, "/baskets/7", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decode[models.Basket](t, rec).Lines, "nothing changes before the processor runs")

	require.Equal(t, 1, h.process(t))

	rec = do(e, http.MethodGet, "/baskets/7", "")
	require.Equal(t, http.StatusOK, rec.Code)
	basket := decode[models.Basket](t, rec)
	require.Len(t, basket.Lines, 1)
	assert.True(t, basket.Total.Equal(decimal.RequireFromString("12.10")))
}

func TestReserveRejectsUnknownProduct(t *testing.T) {
	_, e := newHarness(t, nil)

	rec := do(e, http.MethodPost, "/baskets/7/items", `{"product":"lottery","productRef":1}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(e, http.MethodPost, "/baskets/abc/items", `{"product":"event","productRef":1}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestWaitReportsUnconfirmedWithoutProcessor(t *testing.T) {
	_, e := newHarness(t, nil)

	rec := do(e, http.MethodPost, "/baskets/7/checkout?wait=true", "")
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.False(t, decode[controller.MutationResponse](t, rec).Confirmed)
}

func TestDuplicateRequestIsFlagged(t *testing.T) {
	_, e := newHarness(t, nil)

	first := decode[controller.MutationResponse](t, do(e, http.MethodPost, "/orders/4/cancel", ""))
	second := decode[controller.MutationResponse](t, do(e, http.MethodPost, "/orders/4/cancel", ""))
	assert.False(t, first.Duplicate)
	assert.True(t, second.Duplicate)
	assert.Equal(t, first.MutationID, second.MutationID)
}

func TestCheckoutCreatesOrder(t *testing.T) {
	h, e := newHarness(t, nil)

	do(e, http.MethodPost, "/baskets/7/items", `{"product":"event","productRef":1}`)
	do(e, http.MethodPost, "/baskets/7/checkout", "")
	require.Equal(t, 2, h.process(t))

	rec := do(e, http.MethodGet, "/accounts/7/orders", "")
	require.Equal(t, http.StatusOK, rec.Code)
	orders := decode[[]models.Order](t, rec)
	require.Len(t, orders, 1)

	rec = do(e, http.MethodGet, "/orders/"+strconv.FormatInt(orders[0].ID, 10), "")
	require.Equal(t, http.StatusOK, rec.Code)
	order := decode[models.Order](t, rec)
	assert.Len(t, order.Lines, 1)
	assert.Equal(t, models.StatusNew, order.Status)

	rec = do(e, http.MethodPost, "/orders/"+strconv.FormatInt(order.ID, 10)+"/transfers", `{"amount":"12.10","reference":"bank"}`)
	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Equal(t, 1, h.process(t))

	rec = do(e, http.MethodGet, "/orders/"+strconv.FormatInt(order.ID, 10), "")
	assert.Equal(t, models.StatusCompleted, decode[models.Order](t, rec).Status)
}

func TestOrderNotFound(t *testing.T) {
	_, e := newHarness(t, nil)

	rec := do(e, http.MethodGet, "/orders/99", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(e, http.MethodGet, "/accounts/99/orders", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())
}

func TestManualTransferRejectsNonPositiveAmount(t *testing.T) {
	_, e := newHarness(t, nil)

	rec := do(e, http.MethodPost, "/orders/1/transfers", `{"amount":"0","reference":"bank"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestWebhookWithoutProvider(t *testing.T) {
	_, e := newHarness(t, nil)

	rec := do(e, http.MethodPost, "/payments/webhook", `{"id":"tr_1"}`)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestWebhookForUnknownPayment(t *testing.T) {
	_, e := newHarness(t, stubPayments{})

	form := url.Values{"id": {"tr_unknown"}}
	req := httptest.NewRequest(http.MethodPost, "/payments/webhook", strings.NewReader(form.Encode()))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationForm)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = do(e, http.MethodPost, "/payments/webhook", `{"id":""}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHealthReportsBacklog(t *testing.T) {
	_, e := newHarness(t, nil)

	do(e, http.MethodPost, "/baskets/7/checkout", "")

	rec := do(e, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok","pendingMutations":1}`, rec.Body.String())

	rec = do(e, http.MethodGet, "/ping", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}
