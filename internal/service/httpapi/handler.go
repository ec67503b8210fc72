// Package httpapi: HTTP/JSON API корзины и заказов поверх chi.
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/foodorder/internal/domain"
	"github.com/vladislavdragonenkov/foodorder/internal/metrics"
	"github.com/vladislavdragonenkov/foodorder/internal/service/idempotency"
)

// CartService: операции корзины.
type CartService interface {
	AddLine(ctx context.Context, userID, productID string, qty int32) (domain.Cart, error)
	SetLineQuantity(ctx context.Context, userID, productID string, qty int32) (domain.Cart, error)
	RemoveLine(ctx context.Context, userID, productID string) (domain.Cart, error)
	Clear(ctx context.Context, userID string) error
	Read(ctx context.Context, userID string) (domain.Cart, error)
}

// CheckoutService оформляет корзину в заказ.
type CheckoutService interface {
	Checkout(ctx context.Context, userID string, address *domain.Address) (domain.Order, error)
}

// OrderService: переходы и чтение заказов с проверкой прав.
type OrderService interface {
	Accept(ctx context.Context, p domain.Principal, orderID string) (domain.Order, error)
	Reject(ctx context.Context, p domain.Principal, orderID string) (domain.Order, error)
	Cancel(ctx context.Context, p domain.Principal, orderID string) (domain.Order, error)
	UpdateStatus(ctx context.Context, p domain.Principal, orderID, status string) (domain.Order, error)
	AssignDeliveryPerson(ctx context.Context, p domain.Principal, orderID, courierID string) (domain.Order, error)
	Get(ctx context.Context, p domain.Principal, orderID string) (domain.Order, error)
	Status(ctx context.Context, p domain.Principal, orderID string) (domain.OrderStatus, error)
	Timeline(ctx context.Context, p domain.Principal, orderID string) ([]domain.TimelineEvent, error)
	List(ctx context.Context, p domain.Principal, limit int) ([]domain.Order, error)
	ListAll(ctx context.Context, p domain.Principal, limit int) ([]domain.Order, error)
	ListByUser(ctx context.Context, p domain.Principal, userID string, limit int) ([]domain.Order, error)
}

const (
	defaultRequestTimeout = 10 * time.Second
	defaultListLimit      = 100
	maxListLimit          = 1000
	maxBodyBytes          = 1 << 20
)

// Handler собирает маршруты API.
type Handler struct {
	carts    CartService
	checkout CheckoutService
	orders   OrderService

	guard   *idempotency.Guard
	metrics *metrics.HTTPMetrics
	logger  *log.Entry
	timeout time.Duration
}

// Option настраивает Handler.
type Option func(*Handler)

// WithIdempotency включает обработку заголовка Idempotency-Key на оформлении.
func WithIdempotency(guard *idempotency.Guard) Option {
	return func(h *Handler) {
		h.guard = guard
	}
}

// WithMetrics включает метрики запросов.
func WithMetrics(m *metrics.HTTPMetrics) Option {
	return func(h *Handler) {
		h.metrics = m
	}
}

// WithLogger задаёт logger.
func WithLogger(logger *log.Entry) Option {
	return func(h *Handler) {
		h.logger = logger
	}
}

// WithRequestTimeout ограничивает обработку одного запроса.
func WithRequestTimeout(d time.Duration) Option {
	return func(h *Handler) {
		h.timeout = d
	}
}

// NewHandler создаёт обработчик API.
func NewHandler(carts CartService, checkout CheckoutService, orders OrderService, opts ...Option) *Handler {
	h := &Handler{
		carts:    carts,
		checkout: checkout,
		orders:   orders,
		timeout:  defaultRequestTimeout,
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.logger == nil {
		h.logger = log.WithField("component", "http-api")
	}
	return h
}

// Routes возвращает роутер со всеми маршрутами API.
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(h.accessLog)
	r.Use(middleware.Recoverer)
	if h.metrics != nil {
		r.Use(h.metrics.Middleware)
	}
	if h.timeout > 0 {
		r.Use(middleware.Timeout(h.timeout))
	}
	r.Use(principalMiddleware)

	r.Route("/cart", func(r chi.Router) {
		r.Post("/add", h.addLine)
		r.Put("/update", h.updateLine)
		r.Delete("/remove", h.removeLine)
		r.Delete("/clear", h.clearCart)
		r.Post("/checkout", h.checkoutCart)
		r.Get("/{userId}", h.readCart)
	})

	r.Route("/orders", func(r chi.Router) {
		r.Get("/", h.listOrders)
		r.Get("/all", h.listAllOrders)
		r.Get("/user/{userId}", h.listUserOrders)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", h.getOrder)
			r.Get("/status", h.getOrderStatus)
			r.Get("/timeline", h.getOrderTimeline)
			r.Put("/accept", h.acceptOrder)
			r.Put("/reject", h.rejectOrder)
			r.Put("/cancel", h.cancelOrder)
			r.Put("/status", h.updateOrderStatus)
			r.Put("/assign", h.assignCourier)
		})
	})
	return r
}

// accessLog пишет одну строку на запрос.
func (h *Handler) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		entry := h.logger.WithFields(log.Fields{
			"method":      r.Method,
			"path":        r.URL.Path,
			"status":      status,
			"duration_ms": time.Since(start).Milliseconds(),
			"request_id":  middleware.GetReqID(r.Context()),
		})
		if status >= http.StatusInternalServerError {
			entry.Warn("http request")
			return
		}
		entry.Debug("http request")
	})
}
