// Package checkout превращает корзину в заказ одной транзакцией.
package checkout

import (
	"context"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/foodorder/internal/domain"
	"github.com/vladislavdragonenkov/foodorder/internal/metrics"
	"github.com/vladislavdragonenkov/foodorder/internal/service/ledger"
)

// cacheInvalidateTimeout ограничивает сброс корзины в кэше после фиксации.
const cacheInvalidateTimeout = 2 * time.Second

// StockReserver списывает остатки под позиции заказа.
type StockReserver interface {
	ReserveStock(ctx context.Context, tx domain.Tx, lines []domain.OrderLine) error
}

// CourierReserver выбирает и занимает свободного курьера.
type CourierReserver interface {
	ReserveCourier(ctx context.Context, tx domain.Tx) (string, error)
}

// OrderCreator записывает новый заказ.
type OrderCreator interface {
	Create(ctx context.Context, tx domain.Tx, draft ledger.Draft) (domain.Order, error)
}

// CartInvalidator сбрасывает закэшированную корзину.
type CartInvalidator interface {
	Delete(ctx context.Context, userID string) error
}

// Coordinator владеет транзакцией оформления: только он её открывает и завершает.
// Повторов нет, решение о повторе принимает клиент.
type Coordinator struct {
	txm       domain.TxManager
	inventory StockReserver
	couriers  CourierReserver
	orders    OrderCreator

	cache         CartInvalidator
	metrics       *metrics.CheckoutMetrics
	logger        *log.Entry
	timeout       time.Duration
	initialStatus domain.OrderStatus
}

// Option настраивает Coordinator.
type Option func(*Coordinator)

// WithCartCache подключает кэш корзин, который сбрасывается после фиксации.
func WithCartCache(cache CartInvalidator) Option {
	return func(c *Coordinator) {
		c.cache = cache
	}
}

// WithMetrics включает метрики оформления.
func WithMetrics(m *metrics.CheckoutMetrics) Option {
	return func(c *Coordinator) {
		c.metrics = m
	}
}

// WithLogger задаёт logger.
func WithLogger(logger *log.Entry) Option {
	return func(c *Coordinator) {
		c.logger = logger
	}
}

// WithTimeout ограничивает длительность всей транзакции. 0 — без ограничения.
func WithTimeout(d time.Duration) Option {
	return func(c *Coordinator) {
		c.timeout = d
	}
}

// WithRequireAcceptance создаёт заказы в pending вместо confirmed:
// их подтверждает или отклоняет администратор.
func WithRequireAcceptance(require bool) Option {
	return func(c *Coordinator) {
		if require {
			c.initialStatus = domain.OrderStatusPending
		} else {
			c.initialStatus = domain.OrderStatusConfirmed
		}
	}
}

// NewCoordinator собирает координатор из компонентов, работающих в его транзакции.
func NewCoordinator(
	txm domain.TxManager,
	inventory StockReserver,
	couriers CourierReserver,
	orders OrderCreator,
	opts ...Option,
) *Coordinator {
	c := &Coordinator{
		txm:           txm,
		inventory:     inventory,
		couriers:      couriers,
		orders:        orders,
		initialStatus: domain.OrderStatusConfirmed,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = log.WithField("component", "checkout")
	}
	return c
}

// Checkout оформляет корзину пользователя в заказ.
//
// При успехе заказ создан, корзина удалена, остатки уменьшены и ровно один
// курьер помечен занятым. При любой ошибке хранилище остаётся в исходном состоянии.
// Ошибка фиксации возвращается как domain.ErrTxConflict.
func (c *Coordinator) Checkout(ctx context.Context, userID string, address *domain.Address) (domain.Order, error) {
	start := time.Now()
	if c.metrics != nil {
		c.metrics.Started()
	}

	order, err := c.checkout(ctx, userID, address)

	entry := c.logger.WithFields(log.Fields{
		"user_id":     userID,
		"duration_ms": time.Since(start).Milliseconds(),
	})
	reason := ""
	if err != nil {
		reason = failureReason(err)
		entry = entry.WithError(err).WithField("reason", reason)
		if domain.KindOf(err) == domain.KindFatal {
			entry.Error("checkout failed")
		} else {
			entry.Info("checkout rejected")
		}
	} else {
		entry.WithFields(log.Fields{
			"order_id":    order.ID,
			"courier_id":  order.DeliveryPersonID,
			"total_price": order.TotalPrice,
		}).Info("checkout committed")
	}
	if c.metrics != nil {
		c.metrics.Finished(reason, time.Since(start))
	}
	return order, err
}

func (c *Coordinator) checkout(ctx context.Context, userID string, address *domain.Address) (domain.Order, error) {
	if userID == "" {
		return domain.Order{}, domain.ErrUserIDRequired
	}
	if err := domain.ValidateAddress(address); err != nil {
		return domain.Order{}, err
	}

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	order, err := c.run(ctx, userID, *address)
	if err != nil && ctx.Err() != nil && !errors.Is(err, ctx.Err()) {
		// отмена посреди шага: хранилище вернёт свою ошибку, клиенту важна причина
		return domain.Order{}, fmt.Errorf("%w: %v", ctx.Err(), err)
	}
	if err != nil {
		return domain.Order{}, err
	}

	c.invalidateCart(ctx, userID)
	return order, nil
}

// invalidateCart сбрасывает корзину в кэше даже после отмены запроса:
// заказ уже зафиксирован, и кэш не должен отдавать удалённую корзину.
func (c *Coordinator) invalidateCart(ctx context.Context, userID string) {
	if c.cache == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cacheInvalidateTimeout)
	defer cancel()
	if err := c.cache.Delete(ctx, userID); err != nil {
		c.logger.WithError(err).WithField("user_id", userID).Warn("failed to invalidate cart cache")
	}
}

func (c *Coordinator) run(ctx context.Context, userID string, address domain.Address) (domain.Order, error) {
	tx, err := c.txm.Begin(ctx)
	if err != nil {
		return domain.Order{}, err
	}
	defer func() { _ = tx.Rollback() }()

	var cart domain.Cart
	err = c.step(metrics.StepLoadCart, func() error {
		cart, err = tx.Carts().GetForUpdate(ctx, userID)
		if errors.Is(err, domain.ErrCartNotFound) {
			return domain.ErrEmptyCart
		}
		if err != nil {
			return err
		}
		if cart.IsEmpty() {
			return domain.ErrEmptyCart
		}
		return nil
	})
	if err != nil {
		return domain.Order{}, err
	}

	lines := cart.OrderLines()
	if err := c.step(metrics.StepReserveStock, func() error {
		return c.inventory.ReserveStock(ctx, tx, lines)
	}); err != nil {
		return domain.Order{}, err
	}

	var courierID string
	if err := c.step(metrics.StepReserveCourier, func() error {
		courierID, err = c.couriers.ReserveCourier(ctx, tx)
		return err
	}); err != nil {
		return domain.Order{}, err
	}

	var order domain.Order
	if err := c.step(metrics.StepCreateOrder, func() error {
		order, err = c.orders.Create(ctx, tx, ledger.Draft{
			UserID:           userID,
			Lines:            lines,
			TotalCount:       cart.TotalCount,
			TotalPrice:       cart.TotalPrice,
			DeliveryPersonID: courierID,
			Address:          address,
			Status:           c.initialStatus,
		})
		return err
	}); err != nil {
		return domain.Order{}, err
	}

	if err := c.step(metrics.StepDeleteCart, func() error {
		return tx.Carts().Delete(ctx, userID)
	}); err != nil {
		return domain.Order{}, err
	}

	if err := c.step(metrics.StepCommit, tx.Commit); err != nil {
		if domain.IsTransient(err) {
			return domain.Order{}, err
		}
		return domain.Order{}, fmt.Errorf("%w: commit checkout: %w", domain.ErrTxConflict, err)
	}
	return order, nil
}

func (c *Coordinator) step(name string, fn func() error) error {
	start := time.Now()
	err := fn()
	if c.metrics != nil {
		c.metrics.Step(name, time.Since(start))
	}
	return err
}

// failureReason: метка метрики для неуспешного оформления.
func failureReason(err error) string {
	switch {
	case errors.Is(err, domain.ErrEmptyCart):
		return "empty_cart"
	case errors.Is(err, domain.ErrInsufficientStock):
		return "insufficient_stock"
	case errors.Is(err, domain.ErrProductUnavailable):
		return "product_unavailable"
	case errors.Is(err, domain.ErrNoCourierAvailable):
		return "no_courier"
	default:
		return string(domain.KindOf(err))
	}
}
