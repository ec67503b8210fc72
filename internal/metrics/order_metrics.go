package metrics

import "github.com/prometheus/client_golang/prometheus"

// OrderMetrics: счётчики переходов машины состояний заказа.
type OrderMetrics struct {
	transitions *prometheus.CounterVec
	rejected    *prometheus.CounterVec
}

// NewOrderMetrics регистрирует метрики в prometheus.DefaultRegisterer.
func NewOrderMetrics() *OrderMetrics {
	return NewOrderMetricsWithRegisterer(prometheus.DefaultRegisterer)
}

// NewOrderMetricsWithRegisterer регистрирует метрики в переданном реестре.
func NewOrderMetricsWithRegisterer(registerer prometheus.Registerer) *OrderMetrics {
	return &OrderMetrics{
		transitions: register(registerer, prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "food_order_transitions_total",
			Help: "Committed order status transitions",
		}, []string{"action", "to"}), "food_order_transitions_total"),
		rejected: register(registerer, prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "food_order_transitions_rejected_total",
			Help: "Order actions rejected by policy or state machine",
		}, []string{"action", "reason"}), "food_order_transitions_rejected_total"),
	}
}

// Transition учитывает зафиксированный переход.
func (m *OrderMetrics) Transition(action, to string) {
	m.transitions.WithLabelValues(action, to).Inc()
}

// Rejected учитывает отклонённое действие.
func (m *OrderMetrics) Rejected(action, reason string) {
	m.rejected.WithLabelValues(action, reason).Inc()
}
