package service

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bestelling-engine/models"
)

type fakeWriter struct {
	msgs []kafka.Message
	err  error
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error { return nil }

type recordingNotifier struct {
	sent []models.Notification
}

func (n *recordingNotifier) Send(_ context.Context, notes ...models.Notification) error {
	n.sent = append(n.sent, notes...)
	return nil
}

func (n *recordingNotifier) Close() error { return nil }

func TestKafkaNotifierSend(t *testing.T) {
	w := &fakeWriter{}
	n := NewKafkaNotifier(w)

	err := n.Send(context.Background(),
		models.Notification{Recipient: "a@example.org", Subject: "Order confirmed"},
		models.Notification{ID: "fixed", Recipient: "b@example.org", Subject: "Paid"},
	)
	require.NoError(t, err)
	require.Len(t, w.msgs, 2)
	assert.Equal(t, "a@example.org", string(w.msgs[0].Key))

	var first, second models.Notification
	require.NoError(t, json.Unmarshal(w.msgs[0].Value, &first))
	require.NoError(t, json.Unmarshal(w.msgs[1].Value, &second))
	assert.NotEmpty(t, first.ID)
	assert.Equal(t, "fixed", second.ID)
	assert.Equal(t, "Order confirmed", first.Subject)

	require.NoError(t, n.Send(context.Background()))
	assert.Len(t, w.msgs, 2)

	w.err = errors.New("broker down")
	assert.Error(t, n.Send(context.Background(), models.Notification{Recipient: "c@example.org"}))
}

func TestAlerterRateLimitsPerKey(t *testing.T) {
	notifier := &recordingNotifier{}
	a := NewAlerter(notifier, "ops@example.org", 24*time.Hour)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	a.now = func() time.Time { return now }

	ctx := context.Background()
	assert.True(t, a.Alert(ctx, "mutation:boom", "Mutation failed", "trace"))
	assert.False(t, a.Alert(ctx, "mutation:boom", "Mutation failed", "trace"))
	assert.True(t, a.Alert(ctx, "mutation:other", "Mutation failed", "trace"))

	now = now.Add(23 * time.Hour)
	assert.False(t, a.Alert(ctx, "mutation:boom", "Mutation failed", "trace"))

	now = now.Add(2 * time.Hour)
	assert.True(t, a.Alert(ctx, "mutation:boom", "Mutation failed", "trace"))

	require.Len(t, notifier.sent, 3)
	assert.Equal(t, "ops@example.org", notifier.sent[0].Recipient)
}

func TestPaymentProvider(t *testing.T) {
	var gotAuth string
	var gotPayment PaymentRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		if r.Header.Get("Authorization") != "Bearer live_key" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/me":
			w.WriteHeader(http.StatusOK)
		case r.Method == http.MethodPost && r.URL.Path == "/payments":
			_ = json.NewDecoder(r.Body).Decode(&gotPayment)
			_ = json.NewEncoder(w).Encode(PaymentStart{ID: "tr_123", CheckoutURL: "https://pay.example/tr_123"})
		case r.Method == http.MethodGet && r.URL.Path == "/payments/tr_123":
			_, _ = w.Write([]byte(`{"id":"tr_123","status":"paid","amount":"20.00"}`))
		case r.Method == http.MethodPost && r.URL.Path == "/payments/tr_123/refunds":
			_, _ = w.Write([]byte(`{"id":"re_1"}`))
		default:
			http.Error(w, "not found", http.StatusNotFound)
		}
	}))
	defer srv.Close()

	ctx := context.Background()
	p := NewPaymentProvider(srv.URL+"/", nil)

	require.NoError(t, p.CheckAccess(ctx, "live_key"))
	assert.ErrorIs(t, p.CheckAccess(ctx, "wrong"), ErrPaymentKey)
	assert.ErrorIs(t, p.CheckAccess(ctx, ""), ErrPaymentKey)

	start, err := p.StartPayment(ctx, "live_key", PaymentRequest{Reference: "MH-1002000", Amount: decimal.NewFromInt(20), Currency: "EUR"})
	require.NoError(t, err)
	assert.Equal(t, "tr_123", start.ID)
	assert.Equal(t, "Bearer live_key", gotAuth)
	assert.Equal(t, "MH-1002000", gotPayment.Reference)
	assert.True(t, gotPayment.Amount.Equal(decimal.NewFromInt(20)))

	state, err := p.Status(ctx, "live_key", "tr_123")
	require.NoError(t, err)
	assert.Equal(t, PaymentPaid, state.Status)
	assert.True(t, state.Status.Final())
	assert.True(t, state.Amount.Equal(decimal.NewFromInt(20)))

	refund, err := p.StartRefund(ctx, "live_key", "tr_123", decimal.NewFromInt(5))
	require.NoError(t, err)
	assert.Equal(t, "re_1", refund)

	_, err = p.Status(ctx, "live_key", "tr_missing")
	assert.Error(t, err)
}
