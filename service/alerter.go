package service

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"bestelling-engine/models"
)

// DefaultAlertInterval is how often the same failure may alert operators.
const DefaultAlertInterval = 24 * time.Hour

// Alerter notifies operators about failures, at most once per interval for
// each distinct failure key
type Alerter struct {
	notifier  NotifierInterface
	recipient string
	interval  time.Duration
	now       func() time.Time

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewAlerter creates an alerter sending to recipient. An empty recipient
// only logs.
func NewAlerter(notifier NotifierInterface, recipient string, interval time.Duration) *Alerter {
	if interval <= 0 {
		interval = DefaultAlertInterval
	}
	return &Alerter{
		notifier:  notifier,
		recipient: recipient,
		interval:  interval,
		now:       time.Now,
		limiters:  make(map[string]*rate.Limiter),
	}
}

func (a *Alerter) allow(key string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	l, ok := a.limiters[key]
	if !ok {
		l = rate.NewLimiter(rate.Every(a.interval), 1)
		a.limiters[key] = l
	}
	return l.AllowN(a.now(), 1)
}

// Alert sends the alert unless the same key alerted within the interval. It
// reports whether the alert went out.
func (a *Alerter) Alert(ctx context.Context, key, subject, body string) bool {
	if !a.allow(key) {
		logger.Debug().Str("key", key).Msg("⏭️ Alert suppressed")
		return false
	}

	logger.Warn().Str("key", key).Msgf("🚨 Alert: %s", subject)
	if a.recipient == "" || a.notifier == nil {
		return true
	}

	err := a.notifier.Send(ctx, models.Notification{
		Recipient: a.recipient,
		Subject:   subject,
		Body:      body,
	})
	if err != nil {
		logger.Error().Err(err).Msg("❌ Alert: failed to notify operator")
	}
	return true
}
