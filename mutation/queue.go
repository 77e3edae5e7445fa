package mutation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"bestelling-engine/db"
	"bestelling-engine/models"
	"bestelling-engine/repository"
	"bestelling-engine/service"
	"bestelling-engine/wake"
)

const (
	defaultWaitInitial = 200 * time.Millisecond
	defaultWaitCeiling = 3 * time.Second
)

// Pending identifies an enqueued record. Duplicate is true when an identical
// unprocessed record already existed and no new one was written.
type Pending struct {
	ID        int64
	Duplicate bool
}

// Queue is the producer side: it durably appends mutation records and wakes
// the processor. Any number of goroutines and processes may enqueue.
type Queue struct {
	db    *db.DB
	store *repository.Store
	wake  wake.Channel

	initial time.Duration
	ceiling time.Duration
}

// NewQueue creates a producer queue.
func NewQueue(database *db.DB, store *repository.Store, w wake.Channel) *Queue {
	if w == nil {
		w = wake.NewLocal()
	}
	return &Queue{
		db:      database,
		store:   store,
		wake:    w,
		initial: defaultWaitInitial,
		ceiling: defaultWaitCeiling,
	}
}

// SetWaitBackoff changes the first delay and the total bound of Wait.
func (q *Queue) SetWaitBackoff(initial, ceiling time.Duration) {
	if initial > 0 {
		q.initial = initial
	}
	if ceiling > 0 {
		q.ceiling = ceiling
	}
}

func (q *Queue) enqueue(ctx context.Context, cmd models.Command) (Pending, error) {
	rec := models.NewMutationRecord(cmd)
	if _, err := rec.Command(); err != nil {
		return Pending{}, err
	}

	tx, err := q.db.BeginTx(ctx)
	if err != nil {
		return Pending{}, err
	}
	defer tx.Rollback()

	if id, found, err := q.store.Mutations.FindUnprocessedDuplicate(ctx, tx, &rec); err != nil {
		return Pending{}, err
	} else if found {
		logger.Warn().Msgf("⚠️ Enqueue: %s already pending as mutation %d", rec.Code, id)
		return Pending{ID: id, Duplicate: true}, nil
	}

	rec.CreatedAt = time.Now().UTC()
	if err := q.store.Mutations.Insert(ctx, tx, &rec); err != nil {
		return Pending{}, err
	}
	if err := tx.Commit(); err != nil {
		return Pending{}, fmt.Errorf("failed to commit mutation: %w", err)
	}

	logger.Debug().Msgf("📦 Enqueue: %s stored as mutation %d", rec.Code, rec.ID)
	if err := q.wake.Ping(ctx); err != nil {
		// the processor still finds the record on its next poll
		logger.Warn().Err(err).Msg("⚠️ Enqueue: wake ping failed")
	}
	return Pending{ID: rec.ID}, nil
}

func (q *Queue) EnqueueReserve(ctx context.Context, accountID int64, product models.ProductCode, productRef int64, quantity int) (Pending, error) {
	return q.enqueue(ctx, models.ReserveProduct{AccountID: accountID, Product: product, ProductRef: productRef, Quantity: quantity})
}

func (q *Queue) EnqueueRemove(ctx context.Context, accountID, lineID int64) (Pending, error) {
	return q.enqueue(ctx, models.RemoveFromBasket{AccountID: accountID, LineID: lineID})
}

func (q *Queue) EnqueueMaterializeOrders(ctx context.Context, accountID int64) (Pending, error) {
	return q.enqueue(ctx, models.MaterializeOrders{AccountID: accountID})
}

func (q *Queue) EnqueuePaymentConcluded(ctx context.Context, orderID int64, succeeded bool, reference string, amount decimal.Decimal) (Pending, error) {
	return q.enqueue(ctx, models.PaymentConcluded{OrderID: orderID, Succeeded: succeeded, Reference: reference, Amount: amount})
}

func (q *Queue) EnqueueManualTransfer(ctx context.Context, orderID int64, amount decimal.Decimal, reference string) (Pending, error) {
	if !amount.IsPositive() {
		return Pending{}, fmt.Errorf("%w: transfer amount must be positive", models.ErrMissingReference)
	}
	return q.enqueue(ctx, models.ManualTransferReceived{OrderID: orderID, Amount: amount, Reference: reference})
}

func (q *Queue) EnqueueCancel(ctx context.Context, orderID int64) (Pending, error) {
	return q.enqueue(ctx, models.CancelOrder{OrderID: orderID})
}

func (q *Queue) EnqueueChangeTransport(ctx context.Context, accountID int64, transport models.Transport) (Pending, error) {
	return q.enqueue(ctx, models.ChangeTransport{AccountID: accountID, Transport: transport})
}

func (q *Queue) EnqueueStartPayment(ctx context.Context, orderID int64) (Pending, error) {
	return q.enqueue(ctx, models.StartPayment{OrderID: orderID})
}

func (q *Queue) EnqueueWithdraw(ctx context.Context, orderID, lineID int64) (Pending, error) {
	return q.enqueue(ctx, models.WithdrawRegistration{OrderID: orderID, LineID: lineID})
}

func (q *Queue) EnqueueChangeAddress(ctx context.Context, accountID int64, address [5]string) (Pending, error) {
	return q.enqueue(ctx, models.ChangeAddress{AccountID: accountID, Address: address})
}

// Wait polls the record's processed flag with doubling delays until it is
// set or the ceiling is spent. confirmed false means "not yet": the caller
// should read basket or order state later.
func (q *Queue) Wait(ctx context.Context, pending Pending) (bool, error) {
	delay := q.initial
	var waited time.Duration
	for {
		processed, err := q.store.Mutations.IsProcessed(ctx, q.db, pending.ID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				// purged by retention, so long done
				return true, nil
			}
			return false, err
		}
		if processed {
			return true, nil
		}
		if waited >= q.ceiling {
			return false, nil
		}
		if waited+delay > q.ceiling {
			delay = q.ceiling - waited
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return false, ctx.Err()
		case <-timer.C:
		}
		waited += delay
		delay *= 2
	}
}

// PendingCount is the number of unprocessed records, the health signal of
// the processor.
func (q *Queue) PendingCount(ctx context.Context) (int64, error) {
	return q.store.Mutations.CountUnprocessed(ctx, q.db)
}

// PaymentStatusChanged translates a provider callback into a payment-concluded
// record once the provider reports a final status. ok is false when the
// reference is unknown or the payment is still open.
func (q *Queue) PaymentStatusChanged(ctx context.Context, payments service.PaymentProviderInterface, externalRef string) (Pending, bool, error) {
	t, found, err := q.store.Transactions.FindByReference(ctx, q.db, externalRef)
	if err != nil {
		return Pending{}, false, err
	}
	if !found {
		logger.Warn().Msgf("⚠️ PaymentStatusChanged: unknown payment %s", externalRef)
		return Pending{}, false, nil
	}

	order, err := q.store.Orders.Get(ctx, q.db, t.OrderID, false)
	if err != nil {
		return Pending{}, false, err
	}
	seller, err := q.store.Sellers.Get(ctx, q.db, order.SellerID)
	if err != nil {
		return Pending{}, false, err
	}

	state, err := payments.Status(ctx, seller.PaymentKey, externalRef)
	if err != nil {
		return Pending{}, false, fmt.Errorf("failed to fetch payment status: %w", err)
	}
	if !state.Status.Final() {
		logger.Info().Msgf("📦 PaymentStatusChanged: payment %s is still %s", externalRef, state.Status)
		return Pending{}, false, nil
	}

	succeeded := state.Status == service.PaymentPaid
	pending, err := q.EnqueuePaymentConcluded(ctx, order.ID, succeeded, externalRef, state.Amount)
	if err != nil {
		return Pending{}, false, err
	}
	return pending, true, nil
}
