package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// VATBucket is one VAT category of a basket or order: the percentage label and
// the VAT amount included in the lines of that category.
type VATBucket struct {
	Percentage string          `json:"percentage"`
	Amount     decimal.Decimal `json:"amount"`
}

// Basket is the per-account holding area for not-yet-ordered lines.
type Basket struct {
	ID           int64           `json:"id"`
	AccountID    int64           `json:"accountId"`
	Lines        []OrderLine     `json:"lines"`
	Address      [5]string       `json:"address"`
	Transport    Transport       `json:"transport"`
	ShippingCost decimal.Decimal `json:"shippingCost"`
	VAT          [3]VATBucket    `json:"vat"`
	Total        decimal.Decimal `json:"total"`
	UpdatedAt    time.Time       `json:"updatedAt"`
}

// FindLine returns the basket line with the given id.
func (b *Basket) FindLine(lineID int64) (*OrderLine, bool) {
	for i := range b.Lines {
		if b.Lines[i].ID == lineID {
			return &b.Lines[i], true
		}
	}
	return nil, false
}
