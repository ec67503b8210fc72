package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// Типы событий, публикуемых через transactional outbox.
const (
	AggregateOrder = "order"

	EventOrderCreated         = "order.created"
	EventOrderStatusChanged   = "order.status_changed"
	EventOrderCourierAssigned = "order.courier_assigned"
)

// OutboxMessage хранит данные для публикуемого события.
type OutboxMessage struct {
	ID            string
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
}

// OutboxStats описывает текущее состояние backlog transactional outbox.
type OutboxStats struct {
	PendingCount    int
	OldestPendingAt time.Time
}

// OrderEventPayload: тело события заказа.
type OrderEventPayload struct {
	OrderID          string      `json:"order_id"`
	UserID           string      `json:"user_id"`
	Status           OrderStatus `json:"status"`
	PreviousStatus   OrderStatus `json:"previous_status,omitempty"`
	DeliveryPersonID string      `json:"delivery_person_id,omitempty"`
	TotalCount       int64       `json:"total_count"`
	TotalPrice       int64       `json:"total_price"`
	OccurredAt       time.Time   `json:"occurred_at"`
}

// NewOrderOutboxMessage собирает outbox-сообщение о событии заказа.
func NewOrderOutboxMessage(eventType string, order Order, previous OrderStatus, at time.Time) (OutboxMessage, error) {
	payload, err := json.Marshal(OrderEventPayload{
		OrderID:          order.ID,
		UserID:           order.UserID,
		Status:           order.Status,
		PreviousStatus:   previous,
		DeliveryPersonID: order.DeliveryPersonID,
		TotalCount:       order.TotalCount,
		TotalPrice:       order.TotalPrice,
		OccurredAt:       at.UTC(),
	})
	if err != nil {
		return OutboxMessage{}, fmt.Errorf("marshal %s payload: %w", eventType, err)
	}
	return OutboxMessage{
		AggregateType: AggregateOrder,
		AggregateID:   order.ID,
		EventType:     eventType,
		Payload:       payload,
	}, nil
}
