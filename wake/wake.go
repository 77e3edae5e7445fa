// Package wake lets producers nudge the mutation processor without it having
// to busy-poll.
package wake

import (
	"context"
	"time"

	"bestelling-engine/utils"
)

var logger = utils.NewLogger("wake")

// Channel is a ping / wait-with-timeout signal. Pings coalesce: any number of
// pings before a Wait wake it once.
type Channel interface {
	// Ping signals that new work may exist. It never blocks on a waiter.
	Ping(ctx context.Context) error
	// Wait blocks until a ping arrives, the timeout passes or ctx is done. It
	// reports whether it was woken by a ping.
	Wait(ctx context.Context, timeout time.Duration) bool
	Close() error
}

// Local is an in-process Channel.
type Local struct {
	ch chan struct{}
}

var _ Channel = (*Local)(nil)

// NewLocal creates an in-process wake channel.
func NewLocal() *Local {
	return &Local{ch: make(chan struct{}, 1)}
}

func (l *Local) Ping(context.Context) error {
	select {
	case l.ch <- struct{}{}:
	default:
	}
	return nil
}

func (l *Local) Wait(ctx context.Context, timeout time.Duration) bool {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-l.ch:
		return true
	case <-timer.C:
		return false
	case <-ctx.Done():
		return false
	}
}

func (l *Local) Close() error {
	return nil
}
