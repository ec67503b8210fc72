package domain

import "time"

// OrderStatus описывает жизненный цикл заказа.
type OrderStatus string

const (
	// OrderStatusPending: заказ ждёт решения администратора.
	OrderStatusPending OrderStatus = "pending"
	// OrderStatusConfirmed: заказ принят, курьер и товары зарезервированы.
	OrderStatusConfirmed OrderStatus = "confirmed"
	// OrderStatusPreparing: кухня готовит заказ.
	OrderStatusPreparing OrderStatus = "preparing"
	// OrderStatusOutForDelivery: заказ у курьера.
	OrderStatusOutForDelivery OrderStatus = "out-for-delivery"
	// OrderStatusDelivered: заказ доставлен. Терминальный статус.
	OrderStatusDelivered OrderStatus = "delivered"
	// OrderStatusCancelled: заказ отменён или отклонён. Терминальный статус.
	OrderStatusCancelled OrderStatus = "cancelled"
)

// deliveryStage задаёт порядок статусов исполнения для продвижения вперёд.
var deliveryStage = map[OrderStatus]int{
	OrderStatusConfirmed:      1,
	OrderStatusPreparing:      2,
	OrderStatusOutForDelivery: 3,
	OrderStatusDelivered:      4,
}

// Valid проверяет, что статус относится к поддерживаемым значениям.
func (s OrderStatus) Valid() bool {
	switch s {
	case OrderStatusPending, OrderStatusConfirmed, OrderStatusPreparing,
		OrderStatusOutForDelivery, OrderStatusDelivered, OrderStatusCancelled:
		return true
	default:
		return false
	}
}

// IsTerminal сообщает, что из статуса нет исходящих переходов.
func (s OrderStatus) IsTerminal() bool {
	return s == OrderStatusDelivered || s == OrderStatusCancelled
}

// ParseDeliveryStatus принимает только статусы, которые курьер или администратор
// выставляет через обновление статуса.
func ParseDeliveryStatus(raw string) (OrderStatus, error) {
	switch s := OrderStatus(raw); s {
	case OrderStatusPreparing, OrderStatusOutForDelivery, OrderStatusDelivered:
		return s, nil
	default:
		return "", ErrStatusInvalid
	}
}

// OrderLine: позиция заказа. Цена не копируется, итоги заморожены на заказе.
type OrderLine struct {
	ProductID string
	Quantity  int32
}

// Order: снимок оформленной корзины. После создания меняются только
// Status и DeliveryPersonID.
type Order struct {
	ID               string
	UserID           string
	Lines            []OrderLine
	TotalCount       int64
	TotalPrice       int64
	DeliveryPersonID string
	DeliveryAddress  Address
	Status           OrderStatus
	Version          int64
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// ValidateInvariants проверяет базовые инварианты заказа и возвращает список замечаний.
func (o *Order) ValidateInvariants() []error {
	var errs []error

	if o.UserID == "" {
		errs = append(errs, ErrUserIDRequired)
	}
	if len(o.Lines) == 0 {
		errs = append(errs, ErrOrderLinesRequired)
	}
	var count int64
	for _, line := range o.Lines {
		if line.ProductID == "" {
			errs = append(errs, ErrProductIDRequired)
		}
		if line.Quantity < 1 {
			errs = append(errs, ErrQuantityInvalid)
		}
		count += int64(line.Quantity)
	}
	if count != o.TotalCount {
		errs = append(errs, ErrCartTotalsMismatch)
	}
	if o.TotalPrice < 0 {
		errs = append(errs, ErrPriceNegative)
	}
	if err := ValidateAddress(&o.DeliveryAddress); err != nil {
		errs = append(errs, err)
	}
	if !o.Status.Valid() {
		errs = append(errs, ErrStatusInvalid)
	}

	return errs
}

// Accept переводит заказ pending -> confirmed.
func (o *Order) Accept() error {
	if o.Status != OrderStatusPending {
		return &TransitionError{Action: ActionAcceptOrder, From: o.Status, To: OrderStatusConfirmed}
	}
	o.Status = OrderStatusConfirmed
	return nil
}

// Reject переводит заказ pending -> cancelled.
func (o *Order) Reject() error {
	if o.Status != OrderStatusPending {
		return &TransitionError{Action: ActionRejectOrder, From: o.Status, To: OrderStatusCancelled}
	}
	o.Status = OrderStatusCancelled
	return nil
}

// Cancel отменяет заказ владельцем из pending или confirmed.
func (o *Order) Cancel() error {
	if o.Status != OrderStatusPending && o.Status != OrderStatusConfirmed {
		return &TransitionError{Action: ActionCancelOrder, From: o.Status, To: OrderStatusCancelled}
	}
	o.Status = OrderStatusCancelled
	return nil
}

// AdvanceDelivery продвигает заказ по стадиям исполнения только вперёд.
func (o *Order) AdvanceDelivery(to OrderStatus) error {
	from, okFrom := deliveryStage[o.Status]
	target, okTo := deliveryStage[to]
	if !okFrom || !okTo || target <= from {
		return &TransitionError{Action: ActionUpdateDeliveryStatus, From: o.Status, To: to}
	}
	o.Status = to
	return nil
}

// AssignCourier назначает курьера и переводит нетерминальный заказ в out-for-delivery.
// Возвращает предыдущего курьера.
func (o *Order) AssignCourier(courierID string) (string, error) {
	if courierID == "" {
		return "", ErrDeliveryPersonInvalid
	}
	if o.Status.IsTerminal() {
		return "", &TransitionError{Action: ActionAssignCourier, From: o.Status, To: OrderStatusOutForDelivery}
	}
	previous := o.DeliveryPersonID
	o.DeliveryPersonID = courierID
	o.Status = OrderStatusOutForDelivery
	return previous, nil
}

// Clone возвращает копию заказа с независимым срезом позиций.
func (o Order) Clone() Order {
	out := o
	out.Lines = append([]OrderLine(nil), o.Lines...)
	return out
}

// OrderFilter ограничивает выборку заказов. Пустые поля не фильтруют.
type OrderFilter struct {
	UserID           string
	DeliveryPersonID string
	Limit            int
}

// Match проверяет, подходит ли заказ под фильтр (без учёта Limit).
func (f OrderFilter) Match(o Order) bool {
	if f.UserID != "" && o.UserID != f.UserID {
		return false
	}
	if f.DeliveryPersonID != "" && o.DeliveryPersonID != f.DeliveryPersonID {
		return false
	}
	return true
}
