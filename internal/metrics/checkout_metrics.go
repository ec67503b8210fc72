package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Шаги оформления заказа для гистограммы длительности.
const (
	StepLoadCart       = "load_cart"
	StepReserveStock   = "reserve_stock"
	StepReserveCourier = "reserve_courier"
	StepCreateOrder    = "create_order"
	StepDeleteCart     = "delete_cart"
	StepCommit         = "commit"
)

// CheckoutMetrics: метрики транзакции оформления заказа.
type CheckoutMetrics struct {
	started   prometheus.Counter
	completed prometheus.Counter
	failed    *prometheus.CounterVec

	duration     prometheus.Histogram
	stepDuration *prometheus.HistogramVec

	inFlight prometheus.Gauge
}

// NewCheckoutMetrics регистрирует метрики в prometheus.DefaultRegisterer.
func NewCheckoutMetrics() *CheckoutMetrics {
	return NewCheckoutMetricsWithRegisterer(prometheus.DefaultRegisterer)
}

// NewCheckoutMetricsWithRegisterer регистрирует метрики в переданном реестре.
func NewCheckoutMetricsWithRegisterer(registerer prometheus.Registerer) *CheckoutMetrics {
	return &CheckoutMetrics{
		started: register(registerer, prometheus.NewCounter(prometheus.CounterOpts{
			Name: "food_checkout_started_total",
			Help: "Total number of checkout transactions started",
		}), "food_checkout_started_total"),
		completed: register(registerer, prometheus.NewCounter(prometheus.CounterOpts{
			Name: "food_checkout_completed_total",
			Help: "Total number of checkout transactions committed",
		}), "food_checkout_completed_total"),
		failed: register(registerer, prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "food_checkout_failed_total",
			Help: "Total number of checkout transactions rolled back, by error kind",
		}, []string{"reason"}), "food_checkout_failed_total"),
		duration: register(registerer, prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "food_checkout_duration_seconds",
			Help:    "Duration of checkout transactions in seconds",
			Buckets: prometheus.DefBuckets,
		}), "food_checkout_duration_seconds"),
		stepDuration: register(registerer, prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "food_checkout_step_duration_seconds",
			Help:    "Duration of individual checkout steps in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
		}, []string{"step"}), "food_checkout_step_duration_seconds"),
		inFlight: register(registerer, prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "food_checkout_in_flight",
			Help: "Number of checkout transactions currently open",
		}), "food_checkout_in_flight"),
	}
}

// Started отмечает начало оформления.
func (m *CheckoutMetrics) Started() {
	m.started.Inc()
	m.inFlight.Inc()
}

// Finished закрывает оформление; reason пустой для успешного коммита.
func (m *CheckoutMetrics) Finished(reason string, took time.Duration) {
	m.inFlight.Dec()
	m.duration.Observe(took.Seconds())
	if reason == "" {
		m.completed.Inc()
		return
	}
	m.failed.WithLabelValues(reason).Inc()
}

// Step записывает длительность шага оформления.
func (m *CheckoutMetrics) Step(step string, took time.Duration) {
	m.stepDuration.WithLabelValues(step).Observe(took.Seconds())
}
