package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderLine is one priced, plugin-owned item within a basket or an order.
// It belongs to at most one of the two at any time.
type OrderLine struct {
	ID          int64           `json:"id"`
	BasketID    *int64          `json:"basketId,omitempty"`
	OrderID     *int64          `json:"orderId,omitempty"`
	Description string          `json:"description"`
	Price       decimal.Decimal `json:"price"`
	Discount    decimal.Decimal `json:"discount"`
	VATLabel    string          `json:"vatLabel,omitempty"` // empty = exempt
	VATAmount   decimal.Decimal `json:"vatAmount"`          // included in Price
	Code        ProductCode     `json:"code"`
	ProductRef  int64           `json:"productRef"` // the plugin's reservation id
	WeightGrams int             `json:"weightGrams,omitempty"`
	CreatedAt   time.Time       `json:"createdAt"`
}

// Net returns price minus discount.
func (l *OrderLine) Net() decimal.Decimal {
	return l.Price.Sub(l.Discount)
}
