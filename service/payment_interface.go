package service

import (
	"context"

	"github.com/shopspring/decimal"
)

// PaymentStatus is the state a provider reports for a payment.
type PaymentStatus string

const (
	PaymentOpen     PaymentStatus = "open"
	PaymentPaid     PaymentStatus = "paid"
	PaymentFailed   PaymentStatus = "failed"
	PaymentCanceled PaymentStatus = "canceled"
	PaymentExpired  PaymentStatus = "expired"
)

// Final reports whether the payment will not change anymore.
func (s PaymentStatus) Final() bool {
	return s != PaymentOpen && s != ""
}

// PaymentRequest starts a payment for an order.
type PaymentRequest struct {
	Reference   string          `json:"reference"`
	Description string          `json:"description"`
	Amount      decimal.Decimal `json:"amount"`
	Currency    string          `json:"currency"`
	ReturnURL   string          `json:"returnUrl"`
}

// PaymentStart is the provider's answer to a started payment.
type PaymentStart struct {
	ID          string `json:"id"`
	CheckoutURL string `json:"checkoutUrl"`
}

// PaymentState is the provider's view of one payment.
type PaymentState struct {
	ID     string          `json:"id"`
	Status PaymentStatus   `json:"status"`
	Amount decimal.Decimal `json:"amount"`
}

// PaymentProviderInterface defines the contract for the payment service
// provider. Each call is authorised with the receiving party's API key.
type PaymentProviderInterface interface {
	CheckAccess(ctx context.Context, apiKey string) error
	StartPayment(ctx context.Context, apiKey string, req PaymentRequest) (*PaymentStart, error)
	StartRefund(ctx context.Context, apiKey, paymentID string, amount decimal.Decimal) (string, error)
	Status(ctx context.Context, apiKey, paymentID string) (*PaymentState, error)
}
