// Package ledger ведёт заказы: создание внутри checkout и переходы машины
// состояний с проверкой прав принципала.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/foodorder/internal/domain"
	"github.com/vladislavdragonenkov/foodorder/internal/metrics"
)

// CourierPool: операции над занятостью курьеров, которые нужны переходам заказа.
type CourierPool interface {
	Claim(ctx context.Context, tx domain.Tx, courierID string) error
	Release(ctx context.Context, tx domain.Tx, courierID, orderID string) error
}

// Draft: данные нового заказа, собранные checkout.
type Draft struct {
	UserID           string
	Lines            []domain.OrderLine
	TotalCount       int64
	TotalPrice       int64
	DeliveryPersonID string
	Address          domain.Address
	Status           domain.OrderStatus
}

// Service: реестр заказов.
type Service struct {
	txm      domain.TxManager
	couriers CourierPool
	metrics  *metrics.OrderMetrics
	logger   *log.Entry
	now      func() time.Time
}

// Option настраивает Service.
type Option func(*Service)

// WithMetrics включает учёт переходов.
func WithMetrics(m *metrics.OrderMetrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// WithLogger задаёт logger сервиса.
func WithLogger(logger *log.Entry) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

// WithClock подменяет источник времени.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// NewService создаёт реестр заказов.
func NewService(txm domain.TxManager, couriers CourierPool, opts ...Option) *Service {
	s := &Service{
		txm:      txm,
		couriers: couriers,
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = log.WithField("component", "order-ledger")
	}
	return s
}

// Create сохраняет новый заказ в транзакции вызывающего вместе с событием
// журнала и outbox-сообщением. Транзакцию не завершает.
func (s *Service) Create(ctx context.Context, tx domain.Tx, draft Draft) (domain.Order, error) {
	now := s.now()
	status := draft.Status
	if status == "" {
		status = domain.OrderStatusPending
	}
	order := domain.Order{
		ID:               uuid.NewString(),
		UserID:           draft.UserID,
		Lines:            append([]domain.OrderLine(nil), draft.Lines...),
		TotalCount:       draft.TotalCount,
		TotalPrice:       draft.TotalPrice,
		DeliveryPersonID: draft.DeliveryPersonID,
		DeliveryAddress:  draft.Address,
		Status:           status,
		Version:          1,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if errs := order.ValidateInvariants(); len(errs) > 0 {
		return domain.Order{}, fmt.Errorf("new order: %w", errors.Join(errs...))
	}

	if err := tx.Orders().Create(ctx, order); err != nil {
		return domain.Order{}, fmt.Errorf("create order: %w", err)
	}
	if err := tx.Timeline().Append(ctx, domain.TimelineEvent{
		OrderID:  order.ID,
		Type:     domain.TimelineOrderCreated,
		Reason:   string(order.Status),
		ActorID:  order.UserID,
		Occurred: now,
	}); err != nil {
		return domain.Order{}, fmt.Errorf("append timeline: %w", err)
	}
	if err := s.enqueue(ctx, tx, domain.EventOrderCreated, order, "", now); err != nil {
		return domain.Order{}, err
	}
	return order, nil
}

// Accept подтверждает ожидающий заказ. Только администратор.
func (s *Service) Accept(ctx context.Context, p domain.Principal, orderID string) (domain.Order, error) {
	return s.transition(ctx, p, orderID, domain.ActionAcceptOrder, domain.ErrForbidden,
		func(_ context.Context, _ domain.Tx, order *domain.Order) error {
			return order.Accept()
		})
}

// Reject отклоняет ожидающий заказ. Только администратор.
func (s *Service) Reject(ctx context.Context, p domain.Principal, orderID string) (domain.Order, error) {
	return s.transition(ctx, p, orderID, domain.ActionRejectOrder, domain.ErrForbidden,
		func(_ context.Context, _ domain.Tx, order *domain.Order) error {
			return order.Reject()
		})
}

// Cancel отменяет заказ по запросу владельца.
func (s *Service) Cancel(ctx context.Context, p domain.Principal, orderID string) (domain.Order, error) {
	return s.transition(ctx, p, orderID, domain.ActionCancelOrder, domain.ErrNotOrderOwner,
		func(_ context.Context, _ domain.Tx, order *domain.Order) error {
			return order.Cancel()
		})
}

// UpdateStatus продвигает заказ по стадиям доставки. Доступно назначенному
// курьеру и администратору. Значение статуса проверяется до открытия транзакции.
// Чужой курьер получает ErrNotAssignedCourier, остальные роли ErrForbidden.
func (s *Service) UpdateStatus(ctx context.Context, p domain.Principal, orderID, rawStatus string) (domain.Order, error) {
	to, err := domain.ParseDeliveryStatus(rawStatus)
	if err != nil {
		return domain.Order{}, err
	}
	denied := domain.ErrForbidden
	if p.Role == domain.RoleDeliveryman {
		denied = domain.ErrNotAssignedCourier
	}
	return s.transition(ctx, p, orderID, domain.ActionUpdateDeliveryStatus, denied,
		func(_ context.Context, _ domain.Tx, order *domain.Order) error {
			return order.AdvanceDelivery(to)
		})
}

// AssignDeliveryPerson назначает заказу курьера и переводит его в out-for-delivery.
// Прежний курьер освобождается, если у него не осталось других активных заказов.
func (s *Service) AssignDeliveryPerson(ctx context.Context, p domain.Principal, orderID, courierID string) (domain.Order, error) {
	if courierID == "" {
		return domain.Order{}, domain.ErrDeliveryPersonInvalid
	}
	return s.transition(ctx, p, orderID, domain.ActionAssignCourier, domain.ErrForbidden,
		func(ctx context.Context, tx domain.Tx, order *domain.Order) error {
			if _, err := order.AssignCourier(courierID); err != nil {
				return err
			}
			return s.couriers.Claim(ctx, tx, courierID)
		})
}

// Get возвращает заказ владельцу, назначенному курьеру или администратору.
func (s *Service) Get(ctx context.Context, p domain.Principal, orderID string) (domain.Order, error) {
	var order domain.Order
	err := s.read(ctx, func(tx domain.Tx) error {
		var err error
		order, err = s.visibleOrder(ctx, tx, p, orderID)
		return err
	})
	return order, err
}

// Status возвращает только статус заказа, с теми же правами, что и Get.
func (s *Service) Status(ctx context.Context, p domain.Principal, orderID string) (domain.OrderStatus, error) {
	order, err := s.Get(ctx, p, orderID)
	if err != nil {
		return "", err
	}
	return order.Status, nil
}

// Timeline возвращает журнал событий заказа.
func (s *Service) Timeline(ctx context.Context, p domain.Principal, orderID string) ([]domain.TimelineEvent, error) {
	var events []domain.TimelineEvent
	err := s.read(ctx, func(tx domain.Tx) error {
		if _, err := s.visibleOrder(ctx, tx, p, orderID); err != nil {
			return err
		}
		var err error
		events, err = tx.Timeline().List(ctx, orderID)
		return err
	})
	return events, err
}

// List возвращает заказы принципала: пользователю свои, курьеру назначенные, администратору все.
func (s *Service) List(ctx context.Context, p domain.Principal, limit int) ([]domain.Order, error) {
	if !p.Active() || !p.Role.Valid() || p.ID == "" {
		return nil, domain.ErrForbidden
	}
	filter := domain.OrderFilter{Limit: limit}
	switch p.Role {
	case domain.RoleUser:
		filter.UserID = p.ID
	case domain.RoleDeliveryman:
		filter.DeliveryPersonID = p.ID
	}
	return s.list(ctx, filter)
}

// ListAll возвращает все заказы. Только администратор.
func (s *Service) ListAll(ctx context.Context, p domain.Principal, limit int) ([]domain.Order, error) {
	if !domain.CanPerform(p, domain.ActionListAllOrders, domain.Resource{}) {
		return nil, domain.ErrForbidden
	}
	return s.list(ctx, domain.OrderFilter{Limit: limit})
}

// ListByUser возвращает заказы указанного пользователя. Только администратор.
func (s *Service) ListByUser(ctx context.Context, p domain.Principal, userID string, limit int) ([]domain.Order, error) {
	if userID == "" {
		return nil, domain.ErrUserIDRequired
	}
	if !domain.CanPerform(p, domain.ActionListAllOrders, domain.Resource{}) {
		return nil, domain.ErrForbidden
	}
	return s.list(ctx, domain.OrderFilter{UserID: userID, Limit: limit})
}

func (s *Service) list(ctx context.Context, filter domain.OrderFilter) ([]domain.Order, error) {
	var orders []domain.Order
	err := s.read(ctx, func(tx domain.Tx) error {
		var err error
		orders, err = tx.Orders().List(ctx, filter)
		return err
	})
	return orders, err
}

// transition: общий путь изменения заказа: блокировка строки, проверка прав,
// переход машины состояний, освобождение курьера, журнал, outbox и фиксация.
// При любой ошибке заказ в хранилище остаётся прежним.
func (s *Service) transition(
	ctx context.Context,
	p domain.Principal,
	orderID string,
	action domain.Action,
	denied error,
	apply func(ctx context.Context, tx domain.Tx, order *domain.Order) error,
) (domain.Order, error) {
	if orderID == "" {
		return domain.Order{}, domain.ErrOrderNotFound
	}

	tx, err := s.txm.Begin(ctx)
	if err != nil {
		return domain.Order{}, err
	}
	defer func() { _ = tx.Rollback() }()

	order, err := tx.Orders().GetForUpdate(ctx, orderID)
	if err != nil {
		return domain.Order{}, err
	}
	if !domain.CanPerform(p, action, domain.OrderResource(order)) {
		s.rejected(action, denied)
		return domain.Order{}, denied
	}

	previousStatus := order.Status
	previousCourier := order.DeliveryPersonID
	if err := apply(ctx, tx, &order); err != nil {
		s.rejected(action, err)
		return domain.Order{}, err
	}

	now := s.now()
	order.UpdatedAt = now
	if err := tx.Orders().UpdateStatus(ctx, order); err != nil {
		return domain.Order{}, fmt.Errorf("update order %s: %w", orderID, err)
	}
	order.Version++

	if previousCourier != "" && (previousCourier != order.DeliveryPersonID || order.Status.IsTerminal()) {
		if err := s.couriers.Release(ctx, tx, previousCourier, order.ID); err != nil {
			return domain.Order{}, fmt.Errorf("release courier %s: %w", previousCourier, err)
		}
	}

	eventType, timelineType := domain.EventOrderStatusChanged, domain.TimelineStatusChanged
	reason := fmt.Sprintf("%s -> %s", previousStatus, order.Status)
	if action == domain.ActionAssignCourier {
		eventType, timelineType = domain.EventOrderCourierAssigned, domain.TimelineCourierAssigned
		reason = order.DeliveryPersonID
	}
	if err := tx.Timeline().Append(ctx, domain.TimelineEvent{
		OrderID:  order.ID,
		Type:     timelineType,
		Reason:   reason,
		ActorID:  p.ID,
		Occurred: now,
	}); err != nil {
		return domain.Order{}, fmt.Errorf("append timeline: %w", err)
	}
	if err := s.enqueue(ctx, tx, eventType, order, previousStatus, now); err != nil {
		return domain.Order{}, err
	}

	if err := tx.Commit(); err != nil {
		return domain.Order{}, fmt.Errorf("commit order %s: %w", orderID, err)
	}

	if s.metrics != nil {
		s.metrics.Transition(string(action), string(order.Status))
	}
	s.logger.WithFields(log.Fields{
		"order_id": order.ID,
		"action":   action,
		"from":     previousStatus,
		"to":       order.Status,
		"actor_id": p.ID,
	}).Info("order transition committed")
	return order, nil
}

func (s *Service) enqueue(ctx context.Context, tx domain.Tx, eventType string, order domain.Order, previous domain.OrderStatus, at time.Time) error {
	msg, err := domain.NewOrderOutboxMessage(eventType, order, previous, at)
	if err != nil {
		return err
	}
	if _, err := tx.Outbox().Enqueue(ctx, msg); err != nil {
		return fmt.Errorf("enqueue %s: %w", eventType, err)
	}
	return nil
}

// read выполняет чтение в отдельной транзакции.
func (s *Service) read(ctx context.Context, fn func(tx domain.Tx) error) error {
	tx, err := s.txm.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Service) visibleOrder(ctx context.Context, tx domain.Tx, p domain.Principal, orderID string) (domain.Order, error) {
	order, err := tx.Orders().Get(ctx, orderID)
	if err != nil {
		return domain.Order{}, err
	}
	if !domain.CanPerform(p, domain.ActionViewOrder, domain.OrderResource(order)) {
		return domain.Order{}, domain.ErrForbidden
	}
	return order, nil
}

func (s *Service) rejected(action domain.Action, err error) {
	if s.metrics == nil {
		return
	}
	s.metrics.Rejected(string(action), string(domain.KindOf(err)))
}
