package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// OrderStatus is the state of an order.
type OrderStatus string

const (
	StatusNew           OrderStatus = "nieuw"
	StatusPaymentActive OrderStatus = "betaling_actief"
	StatusCompleted     OrderStatus = "afgerond"
	StatusFailed        OrderStatus = "mislukt"
	StatusCancelled     OrderStatus = "geannuleerd"
)

// Terminal reports whether no further transitions are possible.
func (s OrderStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// Order is a finalized, billable split of basket lines to one receiving party.
// Seller fields are a snapshot taken at creation time.
type Order struct {
	ID               int64                `json:"id"`
	Number           int64                `json:"number"`
	AccountID        int64                `json:"accountId"`
	SellerID         int64                `json:"sellerId"`
	SellerName       string               `json:"sellerName"`
	SellerAddress    string               `json:"sellerAddress"`
	SellerIBAN       string               `json:"sellerIban"`
	SellerBIC        string               `json:"sellerBic"`
	SellerEmail      string               `json:"sellerEmail"`
	AutomatedPayment bool                 `json:"automatedPayment"`
	Transport        Transport            `json:"transport"`
	Address          [5]string            `json:"address"`
	Lines            []OrderLine          `json:"lines"`
	Transactions     []PaymentTransaction `json:"transactions"`
	Status           OrderStatus          `json:"status"`
	Log              string               `json:"log"`
	Total            decimal.Decimal      `json:"total"`
	VAT              [3]VATBucket         `json:"vat"`
	CreatedAt        time.Time            `json:"createdAt"`
}

// AppendLog adds a timestamped entry to the order's chronological log.
func (o *Order) AppendLog(when time.Time, format string, args ...any) {
	entry := fmt.Sprintf("[%s] %s\n", when.Format("2006-01-02 15:04"), fmt.Sprintf(format, args...))
	o.Log += entry
}

// Received sums all received non-refund transactions minus refunds.
func (o *Order) Received() decimal.Decimal {
	total := decimal.Zero
	for _, t := range o.Transactions {
		if !t.Received {
			continue
		}
		if t.Kind == TransactionRefund {
			total = total.Sub(t.Amount)
		} else {
			total = total.Add(t.Amount)
		}
	}
	return total
}

// Reference is the human-readable order reference used towards payment
// providers and in notifications.
func (o *Order) Reference() string {
	return fmt.Sprintf("MH-%d", o.Number)
}

// AddressBlock joins the non-empty delivery address lines.
func (o *Order) AddressBlock() string {
	var parts []string
	for _, l := range o.Address {
		if strings.TrimSpace(l) != "" {
			parts = append(parts, l)
		}
	}
	return strings.Join(parts, "\n")
}
