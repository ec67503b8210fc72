package metrics

import "github.com/prometheus/client_golang/prometheus"

// IdempotencyMetrics: метрики ключей идемпотентности.
type IdempotencyMetrics struct {
	cleanupRuns  *prometheus.CounterVec
	deleted      prometheus.Counter
	lastDeleted  prometheus.Gauge
	keyDecisions *prometheus.CounterVec
}

// NewIdempotencyMetrics регистрирует метрики в prometheus.DefaultRegisterer.
func NewIdempotencyMetrics() *IdempotencyMetrics {
	return NewIdempotencyMetricsWithRegisterer(prometheus.DefaultRegisterer)
}

// NewIdempotencyMetricsWithRegisterer регистрирует метрики в переданном реестре.
func NewIdempotencyMetricsWithRegisterer(registerer prometheus.Registerer) *IdempotencyMetrics {
	return &IdempotencyMetrics{
		cleanupRuns: register(registerer, prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "food_idempotency_cleanup_runs_total",
			Help: "Idempotency cleanup runs grouped by result",
		}, []string{"result"}), "food_idempotency_cleanup_runs_total"),
		deleted: register(registerer, prometheus.NewCounter(prometheus.CounterOpts{
			Name: "food_idempotency_cleanup_deleted_total",
			Help: "Expired idempotency records deleted",
		}), "food_idempotency_cleanup_deleted_total"),
		lastDeleted: register(registerer, prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "food_idempotency_cleanup_last_deleted",
			Help: "Records deleted during the last cleanup run",
		}), "food_idempotency_cleanup_last_deleted"),
		keyDecisions: register(registerer, prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "food_idempotency_requests_total",
			Help: "Requests carrying an idempotency key grouped by decision",
		}, []string{"decision"}), "food_idempotency_requests_total"),
	}
}

// CleanupRun учитывает завершённый цикл очистки.
func (m *IdempotencyMetrics) CleanupRun(result string, deleted int) {
	m.cleanupRuns.WithLabelValues(result).Inc()
	if result == "ok" {
		m.lastDeleted.Set(float64(deleted))
	}
}

// Deleted учитывает удалённую порцию ключей.
func (m *IdempotencyMetrics) Deleted(n int) {
	if n > 0 {
		m.deleted.Add(float64(n))
	}
}

// Decision учитывает решение по ключу: new, replayed, in_progress или mismatch.
func (m *IdempotencyMetrics) Decision(decision string) {
	m.keyDecisions.WithLabelValues(decision).Inc()
}
