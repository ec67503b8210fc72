package domain

import (
	"context"
	"errors"
	"fmt"
)

// Ошибки валидации входных данных.
var (
	// ErrQuantityInvalid: количество позиции меньше единицы.
	ErrQuantityInvalid = errors.New("Quantity must be at least 1")
	// ErrUserIDRequired: не передан идентификатор пользователя.
	ErrUserIDRequired = errors.New("user id is required")
	// ErrProductIDRequired: не передан идентификатор товара.
	ErrProductIDRequired = errors.New("product id is required")
	// ErrAddressRequired: не передан адрес доставки.
	ErrAddressRequired = errors.New("delivery address is required")
	// ErrAddressInvalid: адрес доставки заполнен не полностью.
	ErrAddressInvalid = errors.New("delivery address is incomplete")
	// ErrStatusInvalid: значение статуса вне допустимого набора.
	ErrStatusInvalid = errors.New("Invalid status")
	// ErrDeliveryPersonInvalid: назначаемый пользователь не является активным курьером.
	ErrDeliveryPersonInvalid = errors.New("Invalid delivery person")
	// ErrPriceNegative: отрицательная цена товара.
	ErrPriceNegative = errors.New("price must be non-negative")
	// ErrStockNegative: отрицательный остаток товара.
	ErrStockNegative = errors.New("stock must be non-negative")
	// ErrCartTotalsMismatch: итоги корзины не совпадают с позициями.
	ErrCartTotalsMismatch = errors.New("cart totals do not match lines")
	// ErrOrderLinesRequired: заказ без позиций.
	ErrOrderLinesRequired = errors.New("order must contain at least one line")
)

// Ошибки отсутствия сущностей.
var (
	ErrCartNotFound = errors.New("Cart not found")
	// ErrNoCart: чтение корзины пользователя, у которого её нет.
	ErrNoCart           = errors.New("Cart is empty")
	ErrCartLineNotFound = errors.New("Product not found in cart")
	ErrProductNotFound  = errors.New("Product not found")
	// ErrOrderNotFound возвращается, если заказ не найден в репозитории.
	ErrOrderNotFound = errors.New("Order not found")
	ErrUserNotFound  = errors.New("User not found")
)

// Бизнес-конфликты: операция корректна по форме, но невыполнима в текущем состоянии.
var (
	// ErrEmptyCart: корзина отсутствует или пуста на момент оформления.
	ErrEmptyCart = errors.New("Cart is empty")
	// ErrInsufficientStock: остатка товара не хватает на запрошенное количество.
	ErrInsufficientStock = errors.New("Insufficient stock")
	// ErrProductUnavailable: товар удалён из каталога.
	ErrProductUnavailable = errors.New("Product unavailable")
	// ErrNoCourierAvailable: нет свободного активного курьера.
	ErrNoCourierAvailable = errors.New("No delivery person available")
	// ErrInvalidTransition: переход статуса заказа не разрешён машиной состояний.
	ErrInvalidTransition = errors.New("invalid order status transition")
	// ErrAlreadyExists: запись с таким ключом уже есть.
	ErrAlreadyExists = errors.New("already exists")
)

// Ошибки авторизации.
var (
	// ErrForbidden: у принципала нет прав на действие.
	ErrForbidden = errors.New("Access denied")
	// ErrNotOrderOwner: действие доступно только владельцу заказа.
	ErrNotOrderOwner = errors.New("Unauthorized")
	// ErrNotAssignedCourier: курьер пытается менять чужой заказ.
	ErrNotAssignedCourier = errors.New("Not your order")
)

// Временные ошибки: клиент может повторить запрос.
var (
	// ErrTxConflict: транзакция прервана из-за конфликта блокировок или сериализации.
	ErrTxConflict = errors.New("transaction conflict, please retry")
	// ErrOrderVersionConflict сигнализирует о конфликте версий при сохранении.
	ErrOrderVersionConflict = errors.New("order version conflict")
)

// Ошибки идемпотентности и outbox.
var (
	ErrIdempotencyKeyRequired         = errors.New("idempotency key is required")
	ErrIdempotencyRequestHashRequired = errors.New("idempotency request hash is required")
	ErrIdempotencyKeyNotFound         = errors.New("idempotency key not found")
	ErrIdempotencyKeyAlreadyExists    = errors.New("idempotency key already exists")
	ErrIdempotencyHashMismatch        = errors.New("idempotency key reused with different request")
	// ErrOutboxPublish: ошибка при публикации сообщения из outbox.
	ErrOutboxPublish = errors.New("outbox publish failed")
)

// ErrorKind: класс ошибки, по которому транспорт выбирает код ответа.
type ErrorKind string

const (
	KindValidation    ErrorKind = "validation"
	KindNotFound      ErrorKind = "not_found"
	KindConflict      ErrorKind = "conflict"
	KindAuthorization ErrorKind = "authorization"
	KindTransient     ErrorKind = "transient"
	KindFatal         ErrorKind = "fatal"
)

var kindTable = []struct {
	kind   ErrorKind
	errors []error
}{
	{KindTransient, []error{ErrTxConflict, ErrOrderVersionConflict, context.DeadlineExceeded, context.Canceled}},
	{KindValidation, []error{
		ErrQuantityInvalid, ErrUserIDRequired, ErrProductIDRequired, ErrAddressRequired, ErrAddressInvalid,
		ErrStatusInvalid, ErrDeliveryPersonInvalid, ErrPriceNegative, ErrStockNegative, ErrCartTotalsMismatch,
		ErrOrderLinesRequired, ErrIdempotencyKeyRequired, ErrIdempotencyRequestHashRequired,
	}},
	{KindNotFound, []error{
		ErrCartNotFound, ErrNoCart, ErrCartLineNotFound, ErrProductNotFound, ErrOrderNotFound, ErrUserNotFound,
		ErrIdempotencyKeyNotFound,
	}},
	{KindConflict, []error{
		ErrEmptyCart, ErrInsufficientStock, ErrProductUnavailable, ErrNoCourierAvailable, ErrInvalidTransition,
		ErrAlreadyExists, ErrIdempotencyKeyAlreadyExists, ErrIdempotencyHashMismatch,
	}},
	{KindAuthorization, []error{ErrForbidden, ErrNotOrderOwner, ErrNotAssignedCourier}},
}

// KindOf относит ошибку к одному из классов таксономии.
// Всё, что не распознано, считается фатальной ошибкой.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	for _, row := range kindTable {
		for _, target := range row.errors {
			if errors.Is(err, target) {
				return row.kind
			}
		}
	}
	return KindFatal
}

// IsTransient проверяет, можно ли повторить операцию.
func IsTransient(err error) bool {
	return KindOf(err) == KindTransient
}

// IsVersionConflict проверяет, является ли ошибка конфликтом версий.
func IsVersionConflict(err error) bool {
	return errors.Is(err, ErrOrderVersionConflict)
}

// StockError привязывает ошибку резервирования к конкретному товару.
type StockError struct {
	ProductID string
	Requested int32
	Available int32
	Err       error
}

func (e *StockError) Error() string {
	if errors.Is(e.Err, ErrInsufficientStock) {
		return fmt.Sprintf("Insufficient stock for product %s: requested %d, available %d", e.ProductID, e.Requested, e.Available)
	}
	return fmt.Sprintf("%s: %s", e.Err, e.ProductID)
}

func (e *StockError) Unwrap() error { return e.Err }

// TransitionError описывает отклонённый переход машины состояний заказа.
type TransitionError struct {
	Action Action
	From   OrderStatus
	To     OrderStatus
}

func (e *TransitionError) Error() string {
	switch e.Action {
	case ActionAcceptOrder:
		return "Only pending orders can be accepted"
	case ActionRejectOrder:
		return "Only pending orders can be rejected"
	case ActionCancelOrder:
		return "Order cannot be cancelled at this stage"
	default:
		return fmt.Sprintf("order cannot move from %s to %s", e.From, e.To)
	}
}

func (e *TransitionError) Unwrap() error { return ErrInvalidTransition }

// IsIdempotencyConflict проверяет конфликт по ключу идемпотентности.
func IsIdempotencyConflict(err error) bool {
	return errors.Is(err, ErrIdempotencyKeyAlreadyExists) || errors.Is(err, ErrIdempotencyHashMismatch)
}
