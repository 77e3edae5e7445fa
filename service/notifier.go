package service

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"

	"bestelling-engine/models"
	"bestelling-engine/utils"
)

var logger = utils.NewLogger("service")

// messageWriter is the part of *kafka.Writer the notifier uses
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// NewKafkaWriter creates a writer publishing to topic on the given brokers
func NewKafkaWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.LeastBytes{},
		AllowAutoTopicCreation: true,
	}
}

// KafkaNotifier queues notifications as JSON messages on a Kafka topic,
// keyed by recipient
type KafkaNotifier struct {
	writer messageWriter
}

// NewKafkaNotifier creates a notifier on top of a Kafka writer
func NewKafkaNotifier(writer messageWriter) *KafkaNotifier {
	return &KafkaNotifier{writer: writer}
}

// Ensure KafkaNotifier implements NotifierInterface
var _ NotifierInterface = (*KafkaNotifier)(nil)

// Send publishes every notification. Notifications without an id get one.
func (n *KafkaNotifier) Send(ctx context.Context, notifications ...models.Notification) error {
	if len(notifications) == 0 {
		return nil
	}

	msgs := make([]kafka.Message, 0, len(notifications))
	for _, note := range notifications {
		if note.ID == "" {
			note.ID = uuid.NewString()
		}
		value, err := json.Marshal(note)
		if err != nil {
			return fmt.Errorf("failed to encode notification: %w", err)
		}
		msgs = append(msgs, kafka.Message{
			Key:   []byte(note.Recipient),
			Value: value,
		})
	}

	if err := n.writer.WriteMessages(ctx, msgs...); err != nil {
		logger.Error().Err(err).Msgf("❌ SendNotifications: failed to queue %d notifications", len(msgs))
		return fmt.Errorf("failed to queue notifications: %w", err)
	}

	logger.Info().Msgf("✅ SendNotifications: queued %d notifications", len(msgs))
	return nil
}

func (n *KafkaNotifier) Close() error {
	return n.writer.Close()
}

// LogNotifier writes notifications to the log instead of delivering them.
// Used when no brokers are configured.
type LogNotifier struct{}

// Ensure LogNotifier implements NotifierInterface
var _ NotifierInterface = LogNotifier{}

func (LogNotifier) Send(_ context.Context, notifications ...models.Notification) error {
	for _, note := range notifications {
		logger.Info().Str("recipient", note.Recipient).Str("subject", note.Subject).Msg("📧 Notification")
	}
	return nil
}

func (LogNotifier) Close() error {
	return nil
}
