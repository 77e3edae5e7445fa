package controller

import (
	"context"

	"github.com/shopspring/decimal"

	"bestelling-engine/models"
	"bestelling-engine/mutation"
	"bestelling-engine/service"
)

// MutationQueue is the write side used by the controllers. Every state
// change goes through it; controllers never modify baskets or orders
// themselves.
type MutationQueue interface {
	EnqueueReserve(ctx context.Context, accountID int64, product models.ProductCode, productRef int64, quantity int) (mutation.Pending, error)
	EnqueueRemove(ctx context.Context, accountID, lineID int64) (mutation.Pending, error)
	EnqueueMaterializeOrders(ctx context.Context, accountID int64) (mutation.Pending, error)
	EnqueueManualTransfer(ctx context.Context, orderID int64, amount decimal.Decimal, reference string) (mutation.Pending, error)
	EnqueueCancel(ctx context.Context, orderID int64) (mutation.Pending, error)
	EnqueueChangeTransport(ctx context.Context, accountID int64, transport models.Transport) (mutation.Pending, error)
	EnqueueStartPayment(ctx context.Context, orderID int64) (mutation.Pending, error)
	EnqueueWithdraw(ctx context.Context, orderID, lineID int64) (mutation.Pending, error)
	EnqueueChangeAddress(ctx context.Context, accountID int64, address [5]string) (mutation.Pending, error)
	PaymentStatusChanged(ctx context.Context, payments service.PaymentProviderInterface, externalRef string) (mutation.Pending, bool, error)
	Wait(ctx context.Context, pending mutation.Pending) (bool, error)
	PendingCount(ctx context.Context) (int64, error)
}

var _ MutationQueue = (*mutation.Queue)(nil)
