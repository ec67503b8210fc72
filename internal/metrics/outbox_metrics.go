package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// OutboxMetrics: метрики публикации transactional outbox.
type OutboxMetrics struct {
	attempts  *prometheus.CounterVec
	pending   prometheus.Gauge
	oldestAge prometheus.Gauge
}

// NewOutboxMetrics регистрирует метрики в prometheus.DefaultRegisterer.
func NewOutboxMetrics() *OutboxMetrics {
	return NewOutboxMetricsWithRegisterer(prometheus.DefaultRegisterer)
}

// NewOutboxMetricsWithRegisterer регистрирует метрики в переданном реестре.
func NewOutboxMetricsWithRegisterer(registerer prometheus.Registerer) *OutboxMetrics {
	return &OutboxMetrics{
		attempts: register(registerer, prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "food_outbox_publish_attempts_total",
			Help: "Outbox publish attempts grouped by result",
		}, []string{"result"}), "food_outbox_publish_attempts_total"),
		pending: register(registerer, prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "food_outbox_pending_records",
			Help: "Pending records in transactional outbox",
		}), "food_outbox_pending_records"),
		oldestAge: register(registerer, prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "food_outbox_oldest_pending_age_seconds",
			Help: "Age of the oldest pending outbox record in seconds",
		}), "food_outbox_oldest_pending_age_seconds"),
	}
}

// Attempt учитывает попытку публикации с результатом sent, retry_error, failed или dlq_failed.
func (m *OutboxMetrics) Attempt(result string) {
	m.attempts.WithLabelValues(result).Inc()
}

// Backlog обновляет размер и возраст очереди.
func (m *OutboxMetrics) Backlog(pending int, oldest time.Time, now time.Time) {
	m.pending.Set(float64(pending))
	if pending == 0 || oldest.IsZero() {
		m.oldestAge.Set(0)
		return
	}
	age := now.Sub(oldest).Seconds()
	if age < 0 {
		age = 0
	}
	m.oldestAge.Set(age)
}
