package domain

import "time"

// Типы событий журнала заказа.
const (
	TimelineOrderCreated    = "order_created"
	TimelineStatusChanged   = "status_changed"
	TimelineCourierAssigned = "courier_assigned"
)

// TimelineEvent описывает событие в жизненном цикле заказа.
type TimelineEvent struct {
	OrderID  string
	Type     string
	Reason   string
	ActorID  string
	Occurred time.Time
}
