package notify

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/OpenColumn/OC-Backend/internal/logging"
)

// Event is an outbound notification emitted after a state transition commits.
// Delivery is at-least-once and entirely decoupled from the transaction that
// produced it: a broker failure is logged, never propagated back.
type Event struct {
	Type       string            `json:"type"`
	UserID     string            `json:"user_id"`
	OccurredAt time.Time         `json:"occurred_at"`
	Fields     map[string]string `json:"fields,omitempty"`
}

const (
	EventElevationResolved = "elevation.resolved"
	EventPaymentSettled    = "payment.settled"
)

type Notifier interface {
	Publish(ctx context.Context, event Event)
}

// KafkaNotifier writes events to a single topic keyed by user id, so
// per-user ordering is preserved across partitions.
type KafkaNotifier struct {
	writer *kafka.Writer
}

func NewKafkaNotifier(brokers []string, topic string) *KafkaNotifier {
	return &KafkaNotifier{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireOne,
			BatchTimeout: 50 * time.Millisecond,
		},
	}
}

func (n *KafkaNotifier) Publish(ctx context.Context, event Event) {
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}

	body, err := json.Marshal(event)
	if err != nil {
		logging.FromContext(ctx).Error("notify: marshal event failed", "type", event.Type, "error", err)
		return
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := n.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(event.UserID),
		Value: body,
	}); err != nil {
		logging.FromContext(ctx).Error("notify: publish failed", "type", event.Type, "error", err)
	}
}

func (n *KafkaNotifier) Close() error { return n.writer.Close() }

// Nop discards events; used when no brokers are configured and in tests.
type Nop struct{}

func (Nop) Publish(context.Context, Event) {}
