package service

import (
	"context"

	"bestelling-engine/models"
)

// NotifierInterface defines the contract for the outbound notification service.
// Send queues messages for delivery and returns once they are queued.
type NotifierInterface interface {
	Send(ctx context.Context, notifications ...models.Notification) error
	Close() error
}
