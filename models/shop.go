package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// ShopProduct is a physical product sold from stock.
type ShopProduct struct {
	ID            int64           `json:"id"`
	Description   string          `json:"description"`
	Price         decimal.Decimal `json:"price"`
	VATLabel      string          `json:"vatLabel"`
	WeightGrams   int             `json:"weightGrams"`
	StockTotal    int             `json:"stockTotal"`
	StockReserved int             `json:"stockReserved"`
	SellerID      int64           `json:"sellerId"`
	IsActive      bool            `json:"isActive"`
}

// Available returns the stock that is not reserved.
func (p *ShopProduct) Available() int {
	return p.StockTotal - p.StockReserved
}

// ChoiceStatus tracks a shop reservation.
type ChoiceStatus string

const (
	ChoiceReserved ChoiceStatus = "gereserveerd"
	ChoiceOrdered  ChoiceStatus = "besteld"
	ChoiceSold     ChoiceStatus = "verkocht"
)

// ShopChoice is the reservation of Qty units of a product by an account.
type ShopChoice struct {
	ID        int64        `json:"id"`
	ProductID int64        `json:"productId"`
	AccountID int64        `json:"accountId"`
	Qty       int          `json:"qty"`
	Status    ChoiceStatus `json:"status"`
	CreatedAt time.Time    `json:"createdAt"`
}
