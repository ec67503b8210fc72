package kafka

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/foodorder/internal/domain"
)

var errPublisherNotInitialized = errors.New("kafka outbox publisher is not initialized")

// OutboxPublisher отправляет outbox-сообщения в один топик в конверте Envelope.
type OutboxPublisher struct {
	producer *Producer
	topic    string
	now      func() time.Time
}

// NewOutboxPublisher создаёт publisher; пустой topic означает TopicOrderEvents.
func NewOutboxPublisher(producer *Producer, topic string) *OutboxPublisher {
	if topic == "" {
		topic = TopicOrderEvents
	}
	return &OutboxPublisher{
		producer: producer,
		topic:    topic,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Publish упаковывает сообщение и отправляет его с ключом заказа.
func (p *OutboxPublisher) Publish(msg domain.OutboxMessage) error {
	if p == nil || p.producer == nil {
		return errPublisherNotInitialized
	}

	return p.send(msg, nil)
}

// Replay повторно публикует событие из DLQ. from — координаты исходной записи,
// они уходят в заголовок HeaderReplayedFrom.
func (p *OutboxPublisher) Replay(msg domain.OutboxMessage, from string) error {
	if p == nil || p.producer == nil {
		return errPublisherNotInitialized
	}
	return p.send(msg, map[string]string{HeaderReplayedFrom: from})
}

func (p *OutboxPublisher) send(msg domain.OutboxMessage, extra map[string]string) error {
	envelope, err := NewEnvelope(msg, p.now())
	if err != nil {
		return err
	}
	body, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("marshal envelope %s: %w", msg.ID, err)
	}
	headers := map[string]string{
		HeaderEventType:     msg.EventType,
		HeaderAggregateType: msg.AggregateType,
		HeaderOutboxID:      msg.ID,
	}
	for k, v := range extra {
		headers[k] = v
	}
	return p.producer.Send(p.topic, PartitionKey(msg), body, headers)
}

// RawPublisher отправляет тело outbox-сообщения как есть. Используется для DLQ,
// где воркер уже собрал собственный конверт.
type RawPublisher struct {
	producer *Producer
	topic    string
}

// NewRawPublisher создаёт publisher; пустой topic означает TopicDeadLetterQueue.
func NewRawPublisher(producer *Producer, topic string) *RawPublisher {
	if topic == "" {
		topic = TopicDeadLetterQueue
	}
	return &RawPublisher{producer: producer, topic: topic}
}

// Publish отправляет Payload без упаковки.
func (p *RawPublisher) Publish(msg domain.OutboxMessage) error {
	if p == nil || p.producer == nil {
		return errPublisherNotInitialized
	}
	return p.producer.Send(p.topic, PartitionKey(msg), msg.Payload, map[string]string{
		HeaderEventType: msg.EventType,
		HeaderOutboxID:  msg.ID,
	})
}

var (
	_ domain.OutboxPublisher = (*OutboxPublisher)(nil)
	_ domain.OutboxPublisher = (*RawPublisher)(nil)
)
