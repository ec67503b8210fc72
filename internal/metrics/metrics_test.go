package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func gather(t *testing.T, reg *prometheus.Registry, name string) *dto.MetricFamily {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, f := range families {
		if f.GetName() == name {
			return f
		}
	}
	t.Fatalf("metric %s not found", name)
	return nil
}

func labelValue(m *dto.Metric, name string) string {
	for _, l := range m.GetLabel() {
		if l.GetName() == name {
			return l.GetValue()
		}
	}
	return ""
}

func TestCheckoutMetrics_Lifecycle(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewCheckoutMetricsWithRegisterer(reg)

	m.Started()
	m.Started()
	m.Step(StepReserveStock, 10*time.Millisecond)
	m.Finished("", 50*time.Millisecond)

	assert.Equal(t, 2.0, gather(t, reg, "food_checkout_started_total").GetMetric()[0].GetCounter().GetValue())
	assert.Equal(t, 1.0, gather(t, reg, "food_checkout_in_flight").GetMetric()[0].GetGauge().GetValue())

	m.Finished("conflict", 5*time.Millisecond)

	assert.Equal(t, 0.0, gather(t, reg, "food_checkout_in_flight").GetMetric()[0].GetGauge().GetValue())
	assert.Equal(t, 1.0, gather(t, reg, "food_checkout_completed_total").GetMetric()[0].GetCounter().GetValue())

	failed := gather(t, reg, "food_checkout_failed_total").GetMetric()
	require.Len(t, failed, 1)
	assert.Equal(t, "conflict", labelValue(failed[0], "reason"))
	assert.Equal(t, 1.0, failed[0].GetCounter().GetValue())

	assert.Equal(t, uint64(2), gather(t, reg, "food_checkout_duration_seconds").GetMetric()[0].GetHistogram().GetSampleCount())
	steps := gather(t, reg, "food_checkout_step_duration_seconds").GetMetric()
	require.Len(t, steps, 1)
	assert.Equal(t, StepReserveStock, labelValue(steps[0], "step"))
}

func TestRegister_ReusesExistingCollector(t *testing.T) {
	reg := prometheus.NewRegistry()
	first := NewOrderMetricsWithRegisterer(reg)
	second := NewOrderMetricsWithRegisterer(reg)

	first.Transition("accept", "confirmed")
	second.Transition("accept", "confirmed")

	metrics := gather(t, reg, "food_order_transitions_total").GetMetric()
	require.Len(t, metrics, 1)
	assert.Equal(t, 2.0, metrics[0].GetCounter().GetValue())
}

func TestRegister_PanicsOnTypeMismatch(t *testing.T) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "food_checkout_started_total",
		Help: "Total number of checkout transactions started",
	}, nil))

	assert.Panics(t, func() { NewCheckoutMetricsWithRegisterer(reg) })
}

func TestOrderMetrics_Rejected(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewOrderMetricsWithRegisterer(reg)

	m.Rejected("cancel", "authorization")

	metrics := gather(t, reg, "food_order_transitions_rejected_total").GetMetric()
	require.Len(t, metrics, 1)
	assert.Equal(t, "cancel", labelValue(metrics[0], "action"))
	assert.Equal(t, "authorization", labelValue(metrics[0], "reason"))
}

func TestHTTPMetrics_UsesRoutePattern(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewHTTPMetricsWithRegisterer(reg)

	r := chi.NewRouter()
	r.Use(m.Middleware)
	r.Get("/orders/{id}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/orders/abc-123", nil))
	require.Equal(t, http.StatusTeapot, rec.Code)

	metrics := gather(t, reg, "food_http_requests_total").GetMetric()
	require.Len(t, metrics, 1)
	assert.Equal(t, "/orders/{id}", labelValue(metrics[0], "route"))
	assert.Equal(t, "GET", labelValue(metrics[0], "method"))
	assert.Equal(t, "418", labelValue(metrics[0], "code"))
}

func TestOutboxMetrics_Backlog(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewOutboxMetricsWithRegisterer(reg)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	m.Backlog(3, now.Add(-90*time.Second), now)
	assert.Equal(t, 3.0, gather(t, reg, "food_outbox_pending_records").GetMetric()[0].GetGauge().GetValue())
	assert.Equal(t, 90.0, gather(t, reg, "food_outbox_oldest_pending_age_seconds").GetMetric()[0].GetGauge().GetValue())

	m.Backlog(1, now.Add(time.Minute), now)
	assert.Equal(t, 0.0, gather(t, reg, "food_outbox_oldest_pending_age_seconds").GetMetric()[0].GetGauge().GetValue())

	m.Backlog(0, time.Time{}, now)
	assert.Equal(t, 0.0, gather(t, reg, "food_outbox_pending_records").GetMetric()[0].GetGauge().GetValue())

	m.Attempt("sent")
	m.Attempt("sent")
	attempts := gather(t, reg, "food_outbox_publish_attempts_total").GetMetric()
	require.Len(t, attempts, 1)
	assert.Equal(t, 2.0, attempts[0].GetCounter().GetValue())
}
