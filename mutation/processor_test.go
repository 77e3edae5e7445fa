package mutation

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bestelling-engine/db"
	"bestelling-engine/models"
	"bestelling-engine/plugin"
	"bestelling-engine/pricing"
	"bestelling-engine/repository"
	"bestelling-engine/service"
	"bestelling-engine/wake"
)

const operator = "ops@example.org"

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

type fakePayments struct {
	states    map[string]*service.PaymentState
	started   []service.PaymentRequest
	refunds   []string
	refundErr error
	next      int
}

var _ service.PaymentProviderInterface = (*fakePayments)(nil)

func (f *fakePayments) CheckAccess(_ context.Context, apiKey string) error {
	if apiKey == "" {
		return service.ErrPaymentKey
	}
	return nil
}

func (f *fakePayments) StartPayment(_ context.Context, _ string, req service.PaymentRequest) (*service.PaymentStart, error) {
	f.next++
	f.started = append(f.started, req)
	id := fmt.Sprintf("tr_%d", f.next)
	return &service.PaymentStart{ID: id, CheckoutURL: "https://pay.example.org/" + id}, nil
}

func (f *fakePayments) StartRefund(_ context.Context, _ string, paymentID string, _ decimal.Decimal) (string, error) {
	if f.refundErr != nil {
		return "", f.refundErr
	}
	f.refunds = append(f.refunds, paymentID)
	return "re_" + paymentID, nil
}

func (f *fakePayments) Status(_ context.Context, _ string, paymentID string) (*service.PaymentState, error) {
	s, ok := f.states[paymentID]
	if !ok {
		return nil, errors.New("unknown payment")
	}
	return s, nil
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []models.Notification
}

func (n *recordingNotifier) Send(_ context.Context, notes ...models.Notification) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, notes...)
	return nil
}

func (n *recordingNotifier) Close() error { return nil }

func (n *recordingNotifier) to(recipient string) []models.Notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []models.Notification
	for _, note := range n.sent {
		if note.Recipient == recipient {
			out = append(out, note)
		}
	}
	return out
}

type fixture struct {
	ctx      context.Context
	db       *db.DB
	store    *repository.Store
	engine   *pricing.Engine
	proc     *Processor
	queue    *Queue
	payments *fakePayments
	notes    *recordingNotifier

	club     *models.Seller
	shop     *models.Seller
	umbrella *models.Seller
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()

	database, err := db.Open(ctx, "sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = database.Close() })

	engine, err := pricing.NewEngine("")
	require.NoError(t, err)

	store := repository.NewStore()
	require.NoError(t, store.Counter.Ensure(ctx, database, 1002000))

	f := &fixture{
		ctx:      ctx,
		db:       database,
		store:    store,
		engine:   engine,
		payments: &fakePayments{states: make(map[string]*service.PaymentState)},
		notes:    &recordingNotifier{},
		club:     &models.Seller{Name: "Club", Email: "club@example.org", IBAN: "NL00BANK0123456789", PaymentKey: "key_club"},
		shop:     &models.Seller{Name: "Shop", Email: "shop@example.org", PaymentKey: "key_shop"},
		umbrella: &models.Seller{Name: "Federation", Email: "fed@example.org", PaymentKey: "key_fed"},
	}
	for _, s := range []*models.Seller{f.club, f.shop, f.umbrella} {
		require.NoError(t, store.Sellers.Create(ctx, database, s))
	}

	w := wake.NewLocal()
	f.proc = NewProcessor(Deps{
		DB:       database,
		Store:    store,
		Plugins:  plugin.NewRegistry(store, engine),
		Engine:   engine,
		Payments: f.payments,
		Notifier: f.notes,
		Alerter:  service.NewAlerter(f.notes, operator, 0),
		Wake:     w,
	}, Settings{
		UmbrellaSellerID:  f.umbrella.ID,
		ReservationExpiry: 72 * time.Hour,
		ReturnURL:         "https://example.org/return",
	})
	f.queue = NewQueue(database, store, w)
	return f
}

func (f *fixture) offering(t *testing.T, kind models.ProductCode, seller *models.Seller, price string, seats int) *models.Offering {
	t.Helper()
	o := &models.Offering{Kind: kind, Title: "Spring " + string(kind), SellerID: seller.ID,
		StartsAt: time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC), Price: d(price), SeatsFree: seats}
	require.NoError(t, f.store.Registrations.CreateOffering(f.ctx, f.db, o))
	return o
}

func (f *fixture) product(t *testing.T, seller *models.Seller, price string, weight, stock int) *models.ShopProduct {
	t.Helper()
	p := &models.ShopProduct{Description: "Rosette", Price: d(price), VATLabel: "21", WeightGrams: weight,
		StockTotal: stock, SellerID: seller.ID, IsActive: true}
	require.NoError(t, f.store.Shop.CreateProduct(f.ctx, f.db, p))
	return p
}

func (f *fixture) process(t *testing.T) int {
	t.Helper()
	n, err := f.proc.ProcessPending(f.ctx)
	require.NoError(t, err)
	return n
}

func (f *fixture) seats(t *testing.T, o *models.Offering) int {
	t.Helper()
	loaded, err := f.store.Registrations.GetOffering(f.ctx, f.db, o.Kind, o.ID, false)
	require.NoError(t, err)
	return loaded.SeatsFree
}

func (f *fixture) basket(t *testing.T, account int64) (*models.Basket, bool) {
	t.Helper()
	b, found, err := f.store.Baskets.GetByAccount(f.ctx, f.db, account)
	require.NoError(t, err)
	return b, found
}

func (f *fixture) order(t *testing.T, id int64) *models.Order {
	t.Helper()
	o, err := f.store.Orders.Get(f.ctx, f.db, id, false)
	require.NoError(t, err)
	return o
}

// orders returns the account's orders with lines, by ascending number.
func (f *fixture) orders(t *testing.T, account int64) []*models.Order {
	t.Helper()
	list, err := f.store.Orders.ListByAccount(f.ctx, f.db, account)
	require.NoError(t, err)
	sort.Slice(list, func(i, j int) bool { return list[i].Number < list[j].Number })

	out := make([]*models.Order, 0, len(list))
	for _, o := range list {
		out = append(out, f.order(t, o.ID))
	}
	return out
}

// checkout reserves one seat on the offering for account and turns the basket
// into an order.
func (f *fixture) checkout(t *testing.T, account int64, o *models.Offering) *models.Order {
	t.Helper()
	_, err := f.queue.EnqueueReserve(f.ctx, account, o.Kind, o.ID, 1)
	require.NoError(t, err)
	_, err = f.queue.EnqueueMaterializeOrders(f.ctx, account)
	require.NoError(t, err)
	require.Equal(t, 2, f.process(t))

	orders := f.orders(t, account)
	require.Len(t, orders, 1)
	return orders[0]
}

func (f *fixture) unprocessed(t *testing.T) int64 {
	t.Helper()
	n, err := f.queue.PendingCount(f.ctx)
	require.NoError(t, err)
	return n
}

func TestMaterializeSplitsByReceivingParty(t *testing.T) {
	f := newFixture(t)
	event := f.offering(t, models.ProductEvent, f.club, "12.10", 5)
	rosette := f.product(t, f.shop, "20.00", 500, 3)

	_, err := f.queue.EnqueueReserve(f.ctx, 7, models.ProductEvent, event.ID, 1)
	require.NoError(t, err)
	_, err = f.queue.EnqueueReserve(f.ctx, 7, models.ProductShop, rosette.ID, 1)
	require.NoError(t, err)
	_, err = f.queue.EnqueueChangeTransport(f.ctx, 7, models.TransportShip)
	require.NoError(t, err)
	require.Equal(t, 3, f.process(t))

	basket, found := f.basket(t, 7)
	require.True(t, found)
	require.Len(t, basket.Lines, 2)
	assert.True(t, basket.ShippingCost.Equal(d("4.95")), basket.ShippingCost.String())
	assert.True(t, basket.Total.Equal(d("37.05")), basket.Total.String())
	basketTotal := basket.Total
	basketLines := map[int64]bool{basket.Lines[0].ID: true, basket.Lines[1].ID: true}

	_, err = f.queue.EnqueueMaterializeOrders(f.ctx, 7)
	require.NoError(t, err)
	require.Equal(t, 1, f.process(t))

	orders := f.orders(t, 7)
	require.Len(t, orders, 2)

	sum := decimal.Zero
	seen := make(map[int64]bool)
	shippingLines := 0
	for _, o := range orders {
		assert.Equal(t, models.StatusNew, o.Status)
		assert.True(t, o.AutomatedPayment)
		sum = sum.Add(o.Total)
		for _, l := range o.Lines {
			assert.False(t, seen[l.ID], "line %d on two orders", l.ID)
			seen[l.ID] = true
			if l.Code == models.ProductShipping {
				shippingLines++
				continue
			}
			assert.True(t, basketLines[l.ID], "line %d did not come from the basket", l.ID)
			delete(basketLines, l.ID)
		}
	}
	assert.Empty(t, basketLines, "every basket line lands on an order")
	assert.Equal(t, 1, shippingLines)
	assert.True(t, sum.Equal(basketTotal), "orders sum to %s, basket was %s", sum, basketTotal)

	club, shop := orders[0], orders[1]
	assert.Equal(t, int64(1002000), club.Number)
	assert.Equal(t, int64(1002001), shop.Number)
	assert.Equal(t, "Club", club.SellerName)
	assert.Equal(t, "NL00BANK0123456789", club.SellerIBAN)
	assert.Len(t, club.Lines, 1)
	assert.True(t, club.Total.Equal(d("12.10")))
	assert.Equal(t, "Shop", shop.SellerName)
	assert.Len(t, shop.Lines, 2, "the heaviest order carries the shipping line")
	assert.True(t, shop.Total.Equal(d("24.95")))
	assert.Equal(t, models.TransportShip, shop.Transport)

	_, found = f.basket(t, 7)
	assert.False(t, found, "materialized baskets are removed")
	assert.Len(t, f.notes.to("account:7"), 2, "one confirmation per order")
}

func TestMaterializeRoutesUmbrellaMembers(t *testing.T) {
	f := newFixture(t)
	member := &models.Seller{Name: "Local Club", PaymentKey: "key_local", ViaUmbrella: true}
	require.NoError(t, f.store.Sellers.Create(f.ctx, f.db, member))
	event := f.offering(t, models.ProductEvent, member, "10.00", 5)

	order := f.checkout(t, 3, event)
	assert.Equal(t, f.umbrella.ID, order.SellerID)
	assert.Equal(t, "Federation", order.SellerName)
}

func TestMaterializeWithoutBasketIsNoop(t *testing.T) {
	f := newFixture(t)
	_, err := f.queue.EnqueueMaterializeOrders(f.ctx, 99)
	require.NoError(t, err)

	assert.Equal(t, 1, f.process(t))
	assert.Empty(t, f.orders(t, 99))
	assert.Zero(t, f.unprocessed(t))
}

func TestRemoveAfterAddRunsInOrder(t *testing.T) {
	f := newFixture(t)
	event := f.offering(t, models.ProductEvent, f.club, "12.10", 1)

	_, err := f.queue.EnqueueReserve(f.ctx, 7, models.ProductEvent, event.ID, 1)
	require.NoError(t, err)
	require.Equal(t, 1, f.process(t))
	basket, _ := f.basket(t, 7)
	require.Len(t, basket.Lines, 1)
	assert.Zero(t, f.seats(t, event))

	// the remove frees the only seat before the second account asks for it
	_, err = f.queue.EnqueueRemove(f.ctx, 7, basket.Lines[0].ID)
	require.NoError(t, err)
	_, err = f.queue.EnqueueReserve(f.ctx, 8, models.ProductEvent, event.ID, 1)
	require.NoError(t, err)
	require.Equal(t, 2, f.process(t))

	first, _ := f.basket(t, 7)
	assert.Empty(t, first.Lines)
	assert.True(t, first.Total.IsZero())
	second, found := f.basket(t, 8)
	require.True(t, found)
	assert.Len(t, second.Lines, 1)
	assert.Zero(t, f.seats(t, event))
}

func TestChangeTransportKeepsTotalsConsistent(t *testing.T) {
	f := newFixture(t)
	rosette := f.product(t, f.shop, "24.95", 1500, 10)
	event := f.offering(t, models.ProductEvent, f.club, "12.10", 5)

	_, err := f.queue.EnqueueReserve(f.ctx, 7, models.ProductShop, rosette.ID, 1)
	require.NoError(t, err)
	_, err = f.queue.EnqueueReserve(f.ctx, 7, models.ProductEvent, event.ID, 1)
	require.NoError(t, err)
	require.Equal(t, 2, f.process(t))

	steps := []struct {
		transport models.Transport
		shipping  string
	}{
		{models.TransportShip, "4.95"},
		{models.TransportPickup, "0"},
		{models.TransportShip, "4.95"},
	}
	for _, step := range steps {
		_, err := f.queue.EnqueueChangeTransport(f.ctx, 7, step.transport)
		require.NoError(t, err)
		require.Equal(t, 1, f.process(t))

		basket, found := f.basket(t, 7)
		require.True(t, found)
		assert.Equal(t, step.transport, basket.Transport)
		assert.True(t, basket.ShippingCost.Equal(d(step.shipping)), "%s: shipping %s", step.transport, basket.ShippingCost)

		sum := decimal.Zero
		for _, line := range basket.Lines {
			sum = sum.Add(line.Price.Sub(line.Discount))
		}
		assert.True(t, basket.Total.Equal(sum.Add(basket.ShippingCost)),
			"%s: total %s, lines %s + shipping %s", step.transport, basket.Total, sum, basket.ShippingCost)
		assert.True(t, basket.Total.Equal(d("37.05").Add(d(step.shipping))))
	}
}

func TestReserveWithoutCapacityIsNoop(t *testing.T) {
	f := newFixture(t)
	event := f.offering(t, models.ProductEvent, f.club, "12.10", 0)

	_, err := f.queue.EnqueueReserve(f.ctx, 7, models.ProductEvent, event.ID, 1)
	require.NoError(t, err)
	_, err = f.queue.EnqueueReserve(f.ctx, 7, models.ProductCourse, event.ID, 1)
	require.NoError(t, err)

	assert.Equal(t, 2, f.process(t))
	_, found := f.basket(t, 7)
	assert.False(t, found)
	assert.Zero(t, f.unprocessed(t))
	assert.Empty(t, f.notes.to(operator))
}

func TestRemoveMissingLineIsNoop(t *testing.T) {
	f := newFixture(t)
	_, err := f.queue.EnqueueRemove(f.ctx, 7, 12345)
	require.NoError(t, err)

	assert.Equal(t, 1, f.process(t))
	assert.Zero(t, f.unprocessed(t))
}

func TestFreeOrderCompletesImmediately(t *testing.T) {
	f := newFixture(t)
	event := f.offering(t, models.ProductEvent, f.club, "0", 5)

	order := f.checkout(t, 7, event)
	assert.Equal(t, models.StatusCompleted, order.Status)
	assert.Empty(t, order.Transactions)

	reg, err := f.store.Registrations.GetRegistration(f.ctx, f.db, order.Lines[0].ProductRef)
	require.NoError(t, err)
	assert.Equal(t, models.RegistrationPaid, reg.Status)
	assert.Len(t, f.notes.to("club@example.org"), 1)
}

func TestProviderPaymentCompletesOrder(t *testing.T) {
	f := newFixture(t)
	event := f.offering(t, models.ProductEvent, f.club, "12.10", 5)
	order := f.checkout(t, 7, event)

	_, err := f.queue.EnqueueStartPayment(f.ctx, order.ID)
	require.NoError(t, err)
	require.Equal(t, 1, f.process(t))

	order = f.order(t, order.ID)
	assert.Equal(t, models.StatusPaymentActive, order.Status)
	require.Len(t, order.Transactions, 1)
	assert.Equal(t, "tr_1", order.Transactions[0].Reference)
	assert.False(t, order.Transactions[0].Received)
	require.Len(t, f.payments.started, 1)
	assert.Equal(t, "MH-1002000", f.payments.started[0].Reference)
	assert.True(t, f.payments.started[0].Amount.Equal(d("12.10")))

	_, err = f.queue.EnqueuePaymentConcluded(f.ctx, order.ID, true, "tr_1", d("12.10"))
	require.NoError(t, err)
	require.Equal(t, 1, f.process(t))

	order = f.order(t, order.ID)
	assert.Equal(t, models.StatusCompleted, order.Status)
	assert.True(t, order.Received().Equal(d("12.10")))
	assert.Contains(t, order.Log, "order completed")

	reg, err := f.store.Registrations.GetRegistration(f.ctx, f.db, order.Lines[0].ProductRef)
	require.NoError(t, err)
	assert.Equal(t, models.RegistrationPaid, reg.Status)
	assert.True(t, reg.AmountPaid.Equal(d("12.10")))
	assert.Len(t, f.notes.to("club@example.org"), 1)
	assert.Len(t, f.notes.to("account:7"), 2, "confirmation and receipt")

	// a late duplicate from the provider changes nothing
	_, err = f.queue.EnqueuePaymentConcluded(f.ctx, order.ID, true, "tr_1", d("12.10"))
	require.NoError(t, err)
	require.Equal(t, 1, f.process(t))
	again := f.order(t, order.ID)
	assert.Equal(t, models.StatusCompleted, again.Status)
	assert.Equal(t, order.Log, again.Log)
	assert.Len(t, f.notes.to("club@example.org"), 1)
}

func TestFailedPaymentCanBeRetried(t *testing.T) {
	f := newFixture(t)
	event := f.offering(t, models.ProductEvent, f.club, "12.10", 5)
	order := f.checkout(t, 7, event)

	_, err := f.queue.EnqueueStartPayment(f.ctx, order.ID)
	require.NoError(t, err)
	_, err = f.queue.EnqueuePaymentConcluded(f.ctx, order.ID, false, "tr_1", decimal.Zero)
	require.NoError(t, err)
	require.Equal(t, 2, f.process(t))
	assert.Equal(t, models.StatusFailed, f.order(t, order.ID).Status)

	_, err = f.queue.EnqueueStartPayment(f.ctx, order.ID)
	require.NoError(t, err)
	require.Equal(t, 1, f.process(t))

	order = f.order(t, order.ID)
	assert.Equal(t, models.StatusPaymentActive, order.Status)
	assert.Len(t, order.Transactions, 2)
	assert.Len(t, f.payments.started, 2)
}

func TestRedeliveredConclusionOfEarlierPaymentIsNoop(t *testing.T) {
	f := newFixture(t)
	event := f.offering(t, models.ProductEvent, f.club, "12.10", 5)
	order := f.checkout(t, 7, event)

	_, err := f.queue.EnqueueStartPayment(f.ctx, order.ID)
	require.NoError(t, err)
	_, err = f.queue.EnqueuePaymentConcluded(f.ctx, order.ID, false, "tr_1", decimal.Zero)
	require.NoError(t, err)
	require.Equal(t, 2, f.process(t))

	_, err = f.queue.EnqueueStartPayment(f.ctx, order.ID)
	require.NoError(t, err)
	require.Equal(t, 1, f.process(t))
	require.Equal(t, models.StatusPaymentActive, f.order(t, order.ID).Status)

	// the provider sends the tr_1 failure again while tr_2 is active
	_, err = f.queue.EnqueuePaymentConcluded(f.ctx, order.ID, false, "tr_1", decimal.Zero)
	require.NoError(t, err)
	require.Equal(t, 1, f.process(t))
	assert.Equal(t, models.StatusPaymentActive, f.order(t, order.ID).Status)

	// a conclusion for a payment the order never started is ignored too
	_, err = f.queue.EnqueuePaymentConcluded(f.ctx, order.ID, true, "tr_other", d("12.10"))
	require.NoError(t, err)
	require.Equal(t, 1, f.process(t))
	loaded := f.order(t, order.ID)
	assert.Equal(t, models.StatusPaymentActive, loaded.Status)
	assert.True(t, loaded.Received().IsZero())
	assert.Len(t, loaded.Transactions, 2)

	_, err = f.queue.EnqueuePaymentConcluded(f.ctx, order.ID, true, "tr_2", d("12.10"))
	require.NoError(t, err)
	require.Equal(t, 1, f.process(t))

	loaded = f.order(t, order.ID)
	assert.Equal(t, models.StatusCompleted, loaded.Status)
	assert.True(t, loaded.Received().Equal(d("12.10")))
	reg, err := f.store.Registrations.GetRegistration(f.ctx, f.db, loaded.Lines[0].ProductRef)
	require.NoError(t, err)
	assert.Equal(t, models.RegistrationPaid, reg.Status)
}

func TestPaymentConcludedOutsidePaymentIsNoop(t *testing.T) {
	f := newFixture(t)
	event := f.offering(t, models.ProductEvent, f.club, "12.10", 5)
	order := f.checkout(t, 7, event)

	_, err := f.queue.EnqueuePaymentConcluded(f.ctx, order.ID, true, "tr_x", d("12.10"))
	require.NoError(t, err)
	require.Equal(t, 1, f.process(t))

	loaded := f.order(t, order.ID)
	assert.Equal(t, models.StatusNew, loaded.Status)
	assert.Empty(t, loaded.Transactions)
}

func TestPartialManualTransferThenCompletion(t *testing.T) {
	f := newFixture(t)
	event := f.offering(t, models.ProductEvent, f.club, "12.10", 5)
	order := f.checkout(t, 7, event)

	_, err := f.queue.EnqueueManualTransfer(f.ctx, order.ID, d("5.00"), "bank-1")
	require.NoError(t, err)
	require.Equal(t, 1, f.process(t))

	order = f.order(t, order.ID)
	assert.Equal(t, models.StatusPaymentActive, order.Status)
	assert.True(t, order.Received().Equal(d("5.00")))

	_, err = f.queue.EnqueueManualTransfer(f.ctx, order.ID, d("7.10"), "bank-2")
	require.NoError(t, err)
	require.Equal(t, 1, f.process(t))

	order = f.order(t, order.ID)
	assert.Equal(t, models.StatusCompleted, order.Status)
	assert.Len(t, order.Transactions, 2)

	_, err = f.queue.EnqueueManualTransfer(f.ctx, order.ID, decimal.Zero, "bank-3")
	assert.Error(t, err, "empty transfers are rejected at enqueue")
}

func TestCancelReleasesOnce(t *testing.T) {
	f := newFixture(t)
	event := f.offering(t, models.ProductEvent, f.club, "12.10", 3)
	order := f.checkout(t, 7, event)
	assert.Equal(t, 2, f.seats(t, event))

	_, err := f.queue.EnqueueCancel(f.ctx, order.ID)
	require.NoError(t, err)
	require.Equal(t, 1, f.process(t))

	assert.Equal(t, models.StatusCancelled, f.order(t, order.ID).Status)
	assert.Equal(t, 3, f.seats(t, event))
	_, err = f.store.Registrations.GetRegistration(f.ctx, f.db, order.Lines[0].ProductRef)
	assert.ErrorIs(t, err, repository.ErrNotFound)

	_, err = f.queue.EnqueueCancel(f.ctx, order.ID)
	require.NoError(t, err)
	require.Equal(t, 1, f.process(t))
	assert.Equal(t, 3, f.seats(t, event), "a second cancel releases nothing")
}

func TestCancelCompletedOrderIsNoop(t *testing.T) {
	f := newFixture(t)
	event := f.offering(t, models.ProductEvent, f.club, "0", 3)
	order := f.checkout(t, 7, event)
	require.Equal(t, models.StatusCompleted, order.Status)

	_, err := f.queue.EnqueueCancel(f.ctx, order.ID)
	require.NoError(t, err)
	require.Equal(t, 1, f.process(t))

	assert.Equal(t, models.StatusCompleted, f.order(t, order.ID).Status)
	assert.Equal(t, 2, f.seats(t, event))
}

func TestCancelRefundsReceivedProviderPayment(t *testing.T) {
	f := newFixture(t)
	event := f.offering(t, models.ProductEvent, f.club, "12.10", 3)
	order := f.checkout(t, 7, event)

	_, err := f.queue.EnqueueStartPayment(f.ctx, order.ID)
	require.NoError(t, err)
	_, err = f.queue.EnqueuePaymentConcluded(f.ctx, order.ID, true, "tr_1", d("5.00"))
	require.NoError(t, err)
	require.Equal(t, 2, f.process(t))
	require.Equal(t, models.StatusFailed, f.order(t, order.ID).Status, "an underpayment fails the payment")

	_, err = f.queue.EnqueueStartPayment(f.ctx, order.ID)
	require.NoError(t, err)
	require.Equal(t, 1, f.process(t))
	require.True(t, f.payments.started[1].Amount.Equal(d("7.10")), "only the outstanding amount is requested")

	_, err = f.queue.EnqueueCancel(f.ctx, order.ID)
	require.NoError(t, err)
	require.Equal(t, 1, f.process(t))

	order = f.order(t, order.ID)
	assert.Equal(t, models.StatusCancelled, order.Status)
	assert.Equal(t, []string{"tr_1"}, f.payments.refunds)
	assert.True(t, order.Received().IsZero())

	var refund *models.PaymentTransaction
	for i := range order.Transactions {
		if order.Transactions[i].Kind == models.TransactionRefund {
			refund = &order.Transactions[i]
		}
	}
	require.NotNil(t, refund)
	assert.Equal(t, "re_tr_1", refund.Reference)
	assert.True(t, refund.Amount.Equal(d("5.00")))
}

func TestCancelLogsRefusedRefund(t *testing.T) {
	f := newFixture(t)
	f.payments.refundErr = errors.New("refunds disabled")
	event := f.offering(t, models.ProductEvent, f.club, "12.10", 3)
	order := f.checkout(t, 7, event)

	_, err := f.queue.EnqueueStartPayment(f.ctx, order.ID)
	require.NoError(t, err)
	_, err = f.queue.EnqueuePaymentConcluded(f.ctx, order.ID, true, "tr_1", d("5.00"))
	require.NoError(t, err)
	require.Equal(t, 2, f.process(t))

	_, err = f.queue.EnqueueStartPayment(f.ctx, order.ID)
	require.NoError(t, err)
	_, err = f.queue.EnqueueCancel(f.ctx, order.ID)
	require.NoError(t, err)
	require.Equal(t, 2, f.process(t))

	order = f.order(t, order.ID)
	assert.Equal(t, models.StatusCancelled, order.Status)
	assert.Contains(t, order.Log, "refund manually")
	for _, tr := range order.Transactions {
		assert.NotEqual(t, models.TransactionRefund, tr.Kind)
	}
	assert.True(t, order.Received().Equal(d("5.00")))
}

func TestStartPaymentWithoutAutomatedPayment(t *testing.T) {
	f := newFixture(t)
	local := &models.Seller{Name: "Bank Only", IBAN: "NL11BANK0000000001"}
	require.NoError(t, f.store.Sellers.Create(f.ctx, f.db, local))
	event := f.offering(t, models.ProductEvent, local, "12.10", 3)

	order := f.checkout(t, 7, event)
	assert.False(t, order.AutomatedPayment)

	_, err := f.queue.EnqueueStartPayment(f.ctx, order.ID)
	require.NoError(t, err)
	require.Equal(t, 1, f.process(t))

	order = f.order(t, order.ID)
	assert.Equal(t, models.StatusNew, order.Status)
	assert.Empty(t, order.Transactions)
	assert.Empty(t, f.payments.started)
	assert.Contains(t, order.Log, "awaiting bank transfer")
}

func TestWithdrawRegistration(t *testing.T) {
	f := newFixture(t)
	event := f.offering(t, models.ProductEvent, f.club, "0", 3)
	order := f.checkout(t, 7, event)
	require.Equal(t, models.StatusCompleted, order.Status)
	line := order.Lines[0]

	_, err := f.queue.EnqueueWithdraw(f.ctx, order.ID, line.ID)
	require.NoError(t, err)
	require.Equal(t, 1, f.process(t))

	reg, err := f.store.Registrations.GetRegistration(f.ctx, f.db, line.ProductRef)
	require.NoError(t, err)
	assert.Equal(t, models.RegistrationWithdrawn, reg.Status)
	assert.Equal(t, 3, f.seats(t, event))
	assert.Contains(t, f.order(t, order.ID).Log, "Withdrawn from")

	_, err = f.queue.EnqueueWithdraw(f.ctx, order.ID, line.ID)
	require.NoError(t, err)
	require.Equal(t, 1, f.process(t))
	assert.Equal(t, 3, f.seats(t, event), "withdrawing twice frees one seat")
}

func TestUnknownCodeIsLeftUnprocessed(t *testing.T) {
	f := newFixture(t)
	bad := models.MutationRecord{Code: "bogus"}
	require.NoError(t, f.store.Mutations.Insert(f.ctx, f.db, &bad))
	_, err := f.queue.EnqueueMaterializeOrders(f.ctx, 5)
	require.NoError(t, err)

	assert.Equal(t, 1, f.process(t), "a failing record does not block later ones")
	assert.Equal(t, int64(1), f.unprocessed(t))
	assert.Len(t, f.notes.to(operator), 1)

	assert.Zero(t, f.process(t))
	f.proc.Redrive()
	assert.Zero(t, f.process(t))
	assert.Equal(t, int64(1), f.unprocessed(t))
	assert.Len(t, f.notes.to(operator), 1, "the same failure alerts once a day")
}

func TestHandlerPanicIsRecovered(t *testing.T) {
	f := newFixture(t)
	broken := NewProcessor(Deps{
		DB:       f.db,
		Store:    f.store,
		Engine:   f.engine,
		Notifier: f.notes,
		Alerter:  service.NewAlerter(f.notes, operator, 0),
	}, Settings{})

	p, err := f.queue.EnqueueReserve(f.ctx, 7, models.ProductEvent, 1, 1)
	require.NoError(t, err)

	n, err := broken.ProcessPending(f.ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Contains(t, broken.failed, p.ID)

	alerts := f.notes.to(operator)
	require.Len(t, alerts, 1)
	assert.Contains(t, alerts[0].Body, "panic")
	assert.Equal(t, int64(1), f.unprocessed(t))

	// failed records are skipped on later passes
	n, err = broken.ProcessPending(f.ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Len(t, f.notes.to(operator), 1)

	broken.plugins = f.proc.plugins
	broken.Redrive()
	n, err = broken.ProcessPending(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Empty(t, broken.failed)
	assert.Zero(t, f.unprocessed(t))
}

func TestRunStopsAtDeadline(t *testing.T) {
	f := newFixture(t)
	f.proc.settings.PollInterval = 10 * time.Millisecond
	_, err := f.queue.EnqueueMaterializeOrders(f.ctx, 1)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		done <- f.proc.Run(f.ctx, RunOptions{Duration: 50 * time.Millisecond})
	}()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("processor did not stop at its deadline")
	}
	assert.Zero(t, f.unprocessed(t))
}

func TestRunStopsOnCancel(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(f.ctx)

	done := make(chan error, 1)
	go func() {
		done <- f.proc.Run(ctx, RunOptions{})
	}()
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("processor ignored cancellation")
	}
}

func TestRunOptionsDeadline(t *testing.T) {
	start := time.Date(2026, 10, 18, 10, 20, 30, 0, time.UTC)
	minute := func(m int) *int { return &m }

	assert.True(t, RunOptions{}.deadline(start).IsZero())
	assert.Equal(t, start.Add(time.Hour), RunOptions{Duration: time.Hour}.deadline(start))
	assert.Equal(t, time.Date(2026, 10, 18, 10, 21, 0, 0, time.UTC), RunOptions{StopMinute: minute(21)}.deadline(start))
	assert.Equal(t, time.Date(2026, 10, 18, 11, 20, 0, 0, time.UTC), RunOptions{StopMinute: minute(20)}.deadline(start),
		"the current minute is never the stop minute")
	assert.Equal(t, start.Add(10*time.Second), RunOptions{Duration: 10 * time.Second, StopMinute: minute(21)}.deadline(start))
}
