package mutation

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bestelling-engine/models"
	"bestelling-engine/service"
)

func TestDuplicateEnqueueIsSuppressed(t *testing.T) {
	f := newFixture(t)
	event := f.offering(t, models.ProductEvent, f.club, "12.10", 5)

	_, err := f.queue.EnqueueReserve(f.ctx, 7, models.ProductEvent, event.ID, 1)
	require.NoError(t, err)
	require.Equal(t, 1, f.process(t))
	basket, _ := f.basket(t, 7)
	lineID := basket.Lines[0].ID

	first, err := f.queue.EnqueueRemove(f.ctx, 7, lineID)
	require.NoError(t, err)
	assert.False(t, first.Duplicate)

	second, err := f.queue.EnqueueRemove(f.ctx, 7, lineID)
	require.NoError(t, err)
	assert.True(t, second.Duplicate)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, int64(1), f.unprocessed(t))

	require.Equal(t, 1, f.process(t))
	assert.Equal(t, 5, f.seats(t, event))

	// once processed, the same request is accepted again and handled as a no-op
	third, err := f.queue.EnqueueRemove(f.ctx, 7, lineID)
	require.NoError(t, err)
	assert.False(t, third.Duplicate)
	require.Equal(t, 1, f.process(t))
	assert.Equal(t, 5, f.seats(t, event))
}

func TestEnqueueRejectsIncompleteCommands(t *testing.T) {
	f := newFixture(t)

	_, err := f.queue.EnqueueReserve(f.ctx, 7, "lottery", 1, 1)
	assert.ErrorIs(t, err, models.ErrMissingReference)

	_, err = f.queue.EnqueueChangeTransport(f.ctx, 7, "drone")
	assert.ErrorIs(t, err, models.ErrMissingReference)

	assert.Zero(t, f.unprocessed(t))
}

func TestEnqueueWakesProcessor(t *testing.T) {
	f := newFixture(t)

	_, err := f.queue.EnqueueMaterializeOrders(f.ctx, 1)
	require.NoError(t, err)
	assert.True(t, f.proc.wake.Wait(f.ctx, time.Second))
}

func TestWaitConfirmsProcessedRecords(t *testing.T) {
	f := newFixture(t)
	f.queue.SetWaitBackoff(time.Millisecond, 5*time.Millisecond)

	pending, err := f.queue.EnqueueMaterializeOrders(f.ctx, 1)
	require.NoError(t, err)

	start := time.Now()
	confirmed, err := f.queue.Wait(f.ctx, pending)
	require.NoError(t, err)
	assert.False(t, confirmed)
	assert.Less(t, time.Since(start), time.Second)

	require.Equal(t, 1, f.process(t))
	confirmed, err = f.queue.Wait(f.ctx, pending)
	require.NoError(t, err)
	assert.True(t, confirmed)
}

func TestWaitHonoursCancellation(t *testing.T) {
	f := newFixture(t)
	pending, err := f.queue.EnqueueMaterializeOrders(f.ctx, 1)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(f.ctx, 20*time.Millisecond)
	defer cancel()
	confirmed, err := f.queue.Wait(ctx, pending)
	assert.False(t, confirmed)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestPaymentStatusChanged(t *testing.T) {
	f := newFixture(t)
	event := f.offering(t, models.ProductEvent, f.club, "12.10", 5)
	order := f.checkout(t, 7, event)

	_, err := f.queue.EnqueueStartPayment(f.ctx, order.ID)
	require.NoError(t, err)
	require.Equal(t, 1, f.process(t))

	_, ok, err := f.queue.PaymentStatusChanged(f.ctx, f.payments, "tr_unknown")
	require.NoError(t, err)
	assert.False(t, ok)

	f.payments.states["tr_1"] = &service.PaymentState{ID: "tr_1", Status: service.PaymentOpen}
	_, ok, err = f.queue.PaymentStatusChanged(f.ctx, f.payments, "tr_1")
	require.NoError(t, err)
	assert.False(t, ok, "open payments are not concluded")

	f.payments.states["tr_1"] = &service.PaymentState{ID: "tr_1", Status: service.PaymentPaid, Amount: d("12.10")}
	pending, ok, err := f.queue.PaymentStatusChanged(f.ctx, f.payments, "tr_1")
	require.NoError(t, err)
	require.True(t, ok)

	require.Equal(t, 1, f.process(t))
	confirmed, err := f.queue.Wait(f.ctx, pending)
	require.NoError(t, err)
	assert.True(t, confirmed)
	assert.Equal(t, models.StatusCompleted, f.order(t, order.ID).Status)
}
