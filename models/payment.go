package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// TransactionKind distinguishes how money moved.
type TransactionKind string

const (
	TransactionProvider TransactionKind = "provider"
	TransactionManual   TransactionKind = "manual"
	TransactionRefund   TransactionKind = "refund"
)

// PaymentTransaction is one payment linked to an order.
type PaymentTransaction struct {
	ID        int64           `json:"id"`
	OrderID   int64           `json:"orderId"`
	Kind      TransactionKind `json:"kind"`
	Reference string          `json:"reference"`
	Amount    decimal.Decimal `json:"amount"`
	Received  bool            `json:"received"`
	CreatedAt time.Time       `json:"createdAt"`
}
