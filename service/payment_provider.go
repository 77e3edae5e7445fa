package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// ErrPaymentKey is returned when the provider rejects an API key.
var ErrPaymentKey = errors.New("payment provider rejected api key")

// PaymentProvider talks to the payment service provider's JSON API
type PaymentProvider struct {
	baseURL string
	client  *http.Client
}

// NewPaymentProvider creates a client for the provider at baseURL
func NewPaymentProvider(baseURL string, client *http.Client) *PaymentProvider {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &PaymentProvider{baseURL: strings.TrimRight(baseURL, "/"), client: client}
}

// Ensure PaymentProvider implements PaymentProviderInterface
var _ PaymentProviderInterface = (*PaymentProvider)(nil)

func (p *PaymentProvider) do(ctx context.Context, method, path, apiKey string, body, out any) error {
	if apiKey == "" {
		return ErrPaymentKey
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, p.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+apiKey)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to reach payment provider: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return ErrPaymentKey
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("payment provider returned %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode payment provider response: %w", err)
	}
	return nil
}

// CheckAccess verifies that apiKey is accepted.
func (p *PaymentProvider) CheckAccess(ctx context.Context, apiKey string) error {
	return p.do(ctx, http.MethodGet, "/me", apiKey, nil, nil)
}

// StartPayment creates a payment and returns its provider id and checkout URL.
func (p *PaymentProvider) StartPayment(ctx context.Context, apiKey string, req PaymentRequest) (*PaymentStart, error) {
	logger.Info().Msgf("💳 StartPayment: reference=%s amount=%s", req.Reference, req.Amount)

	var out PaymentStart
	if err := p.do(ctx, http.MethodPost, "/payments", apiKey, req, &out); err != nil {
		logger.Error().Err(err).Msgf("❌ StartPayment: reference=%s", req.Reference)
		return nil, err
	}
	if out.ID == "" {
		return nil, fmt.Errorf("payment provider returned no payment id")
	}
	return &out, nil
}

// StartRefund refunds amount of a payment and returns the refund id.
func (p *PaymentProvider) StartRefund(ctx context.Context, apiKey, paymentID string, amount decimal.Decimal) (string, error) {
	logger.Info().Msgf("💳 StartRefund: payment=%s amount=%s", paymentID, amount)

	var out struct {
		ID string `json:"id"`
	}
	body := map[string]decimal.Decimal{"amount": amount}
	if err := p.do(ctx, http.MethodPost, "/payments/"+url.PathEscape(paymentID)+"/refunds", apiKey, body, &out); err != nil {
		logger.Error().Err(err).Msgf("❌ StartRefund: payment=%s", paymentID)
		return "", err
	}
	return out.ID, nil
}

// Status fetches the current state of a payment.
func (p *PaymentProvider) Status(ctx context.Context, apiKey, paymentID string) (*PaymentState, error) {
	var out PaymentState
	if err := p.do(ctx, http.MethodGet, "/payments/"+url.PathEscape(paymentID), apiKey, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
