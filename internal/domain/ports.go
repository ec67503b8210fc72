package domain

import (
	"context"
	"time"
)

// Tx: открытая транзакция хранилища. Изменения, сделанные через её репозитории,
// видны снаружи только после Commit. Компоненты получают Tx параметром и
// не могут завершить её сами.
type Tx interface {
	Carts() CartRepository
	Products() ProductRepository
	Users() UserRepository
	Orders() OrderRepository
	Timeline() TimelineRepository
	Outbox() OutboxWriter
}

// TxController: транзакция с правом завершения; принадлежит тому, кто её открыл.
// Rollback после Commit ничего не делает.
type TxController interface {
	Tx
	Commit() error
	Rollback() error
}

// TxManager открывает транзакции. Реализация создаётся один раз при старте процесса.
type TxManager interface {
	Begin(ctx context.Context) (TxController, error)
}

// CartRepository хранит корзины, не более одной на пользователя.
type CartRepository interface {
	// Get возвращает корзину или ErrCartNotFound.
	Get(ctx context.Context, userID string) (Cart, error)
	// GetForUpdate читает корзину и блокирует её до конца транзакции,
	// даже если корзины ещё нет.
	GetForUpdate(ctx context.Context, userID string) (Cart, error)
	// Save создаёт или заменяет корзину целиком. Итоги не пересчитывает.
	Save(ctx context.Context, cart Cart) error
	// Delete удаляет корзину; ErrCartNotFound, если её нет.
	Delete(ctx context.Context, userID string) error
}

// ProductRepository даёт чтение каталога и запись остатков.
type ProductRepository interface {
	Get(ctx context.Context, id string) (Product, error)
	// GetForUpdate читает товар с блокировкой строки до конца транзакции.
	GetForUpdate(ctx context.Context, id string) (Product, error)
	// Create добавляет товар (каталог, сиды, тесты).
	Create(ctx context.Context, product Product) error
	// UpdateStock сохраняет только Stock и IsAvailable.
	UpdateStock(ctx context.Context, product Product) error
}

// UserRepository хранит пользователей и признак занятости курьеров.
type UserRepository interface {
	Get(ctx context.Context, id string) (User, error)
	Create(ctx context.Context, user User) error
	// LockAvailableCourier находит и блокирует любого свободного активного курьера
	// или возвращает ErrNoCourierAvailable.
	LockAvailableCourier(ctx context.Context) (User, error)
	// GetForUpdate читает пользователя с блокировкой.
	GetForUpdate(ctx context.Context, id string) (User, error)
	SetAvailable(ctx context.Context, id string, available bool) error
}

// OrderRepository описывает требования к хранилищу заказов.
type OrderRepository interface {
	// Create сохраняет новый заказ; ErrAlreadyExists, если ID занят.
	Create(ctx context.Context, order Order) error
	// Get возвращает заказ по идентификатору или ErrOrderNotFound.
	Get(ctx context.Context, id string) (Order, error)
	// GetForUpdate читает заказ с блокировкой.
	GetForUpdate(ctx context.Context, id string) (Order, error)
	// List возвращает заказы от новых к старым.
	List(ctx context.Context, filter OrderFilter) ([]Order, error)
	// UpdateStatus сохраняет Status, DeliveryPersonID и UpdatedAt, если версия в хранилище
	// равна order.Version, и увеличивает её. Иначе ErrOrderVersionConflict.
	UpdateStatus(ctx context.Context, order Order) error
}

// TimelineRepository хранит события жизненного цикла заказа.
type TimelineRepository interface {
	Append(ctx context.Context, event TimelineEvent) error
	List(ctx context.Context, orderID string) ([]TimelineEvent, error)
}

// OutboxWriter ставит событие в outbox в рамках транзакции.
type OutboxWriter interface {
	Enqueue(ctx context.Context, msg OutboxMessage) (OutboxMessage, error)
}

// OutboxRepository: сторона outbox, с которой работает воркер публикации.
type OutboxRepository interface {
	PullPending(ctx context.Context, limit int) ([]OutboxMessage, error)
	Stats(ctx context.Context) (OutboxStats, error)
	MarkSent(ctx context.Context, id string) error
	MarkFailed(ctx context.Context, id string) error
}

// OutboxPublisher публикует события из transactional outbox.
type OutboxPublisher interface {
	// Publish передаёт событие наружу; должен быть идемпотентным.
	Publish(event OutboxMessage) error
}

// IdempotencyRepository хранит состояние обработки запросов по idempotency-key.
type IdempotencyRepository interface {
	// CreateProcessing регистрирует ключ. Если ключ уже есть, возвращает существующую запись
	// и ErrIdempotencyKeyAlreadyExists либо ErrIdempotencyHashMismatch.
	CreateProcessing(ctx context.Context, key, requestHash string, ttlAt time.Time) (IdempotencyRecord, error)
	Get(ctx context.Context, key string) (IdempotencyRecord, error)
	MarkDone(ctx context.Context, key string, responseBody []byte, httpStatus int) error
	MarkFailed(ctx context.Context, key string, responseBody []byte, httpStatus int) error
	// Delete снимает ключ, чтобы клиент мог повторить запрос.
	Delete(ctx context.Context, key string) error
	DeleteExpired(ctx context.Context, before time.Time, limit int) (int, error)
}
