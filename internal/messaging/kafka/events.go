// Package kafka публикует события заказов в Kafka через sarama.
package kafka

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/foodorder/internal/domain"
)

// Топики по умолчанию.
const (
	TopicOrderEvents     = "food.order.events"
	TopicDeadLetterQueue = "food.order.dlq"
)

// Заголовки сообщений.
const (
	HeaderEventType     = "x-event-type"
	HeaderAggregateType = "x-aggregate-type"
	HeaderOutboxID      = "x-outbox-id"
	HeaderReplayedFrom  = "x-replayed-from"
)

// Envelope: конверт события заказа в топике. Payload — тело из outbox без изменений.
type Envelope struct {
	ID            string          `json:"id"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id"`
	EventType     string          `json:"event_type"`
	Payload       json.RawMessage `json:"payload"`
	PublishedAt   time.Time       `json:"published_at"`
}

// NewEnvelope упаковывает outbox-сообщение.
func NewEnvelope(msg domain.OutboxMessage, at time.Time) (Envelope, error) {
	if !json.Valid(msg.Payload) {
		return Envelope{}, fmt.Errorf("outbox message %s: payload is not valid JSON", msg.ID)
	}
	return Envelope{
		ID:            msg.ID,
		AggregateType: msg.AggregateType,
		AggregateID:   msg.AggregateID,
		EventType:     msg.EventType,
		Payload:       json.RawMessage(msg.Payload),
		PublishedAt:   at.UTC(),
	}, nil
}

// PartitionKey: ключ партиционирования: события одного заказа попадают в одну партицию.
func PartitionKey(msg domain.OutboxMessage) string {
	if msg.AggregateID != "" {
		return msg.AggregateID
	}
	return msg.ID
}
