package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/vladislavdragonenkov/foodorder/internal/domain"
)

const defaultLockWait = 5 * time.Second

// Store: in-memory хранилище для локальной разработки и тестов.
// Одновременно открыта не более одной транзакции: она держит единственный
// слот записи, копит изменения у себя и применяет их целиком на Commit.
type Store struct {
	slot     chan struct{}
	lockWait time.Duration

	mu       sync.RWMutex
	carts    map[string]domain.Cart
	products map[string]domain.Product
	users    map[string]domain.User
	orders   map[string]domain.Order
	timeline map[string][]domain.TimelineEvent
	outbox   []*outboxRecord
}

// Option настраивает Store.
type Option func(*Store)

// WithLockWait ограничивает ожидание слота транзакции. 0 — ждать до отмены ctx.
func WithLockWait(d time.Duration) Option {
	return func(s *Store) {
		s.lockWait = d
	}
}

// NewStore создаёт пустое хранилище.
func NewStore(opts ...Option) *Store {
	s := &Store{
		slot:     make(chan struct{}, 1),
		lockWait: defaultLockWait,
		carts:    make(map[string]domain.Cart),
		products: make(map[string]domain.Product),
		users:    make(map[string]domain.User),
		orders:   make(map[string]domain.Order),
		timeline: make(map[string][]domain.TimelineEvent),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.lockWait < 0 {
		s.lockWait = 0
	}
	return s
}

// Begin ждёт слот записи не дольше lockWait и открывает транзакцию.
// Отмена ctx после Begin откатывает транзакцию, как database/sql.
func (s *Store) Begin(ctx context.Context) (domain.TxController, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var timeout <-chan time.Time
	if s.lockWait > 0 {
		timer := time.NewTimer(s.lockWait)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case s.slot <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timeout:
		return nil, fmt.Errorf("%w: lock wait exceeded %s", domain.ErrTxConflict, s.lockWait)
	}

	t := newTx(ctx, s)
	go t.watch()
	return t, nil
}

// Ping всегда успешен; нужен для health checks.
func (s *Store) Ping(context.Context) error {
	return nil
}

// Product возвращает закоммиченное состояние товара.
func (s *Store) Product(id string) (domain.Product, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.products[id]
	return p, ok
}

// User возвращает закоммиченную запись пользователя.
func (s *Store) User(id string) (domain.User, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	return u, ok
}

// Cart возвращает закоммиченную корзину.
func (s *Store) Cart(userID string) (domain.Cart, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.carts[userID]
	return c.Clone(), ok
}

// OrderCount возвращает число закоммиченных заказов.
func (s *Store) OrderCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.orders)
}

func (s *Store) apply(t *tx) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t.carts.applyTo(s.carts)
	t.products.applyTo(s.products)
	t.users.applyTo(s.users)
	t.orders.applyTo(s.orders)
	for _, event := range t.timeline {
		s.timeline[event.OrderID] = append(s.timeline[event.OrderID], event)
	}
	now := time.Now().UTC()
	for _, msg := range t.outbox {
		s.outbox = append(s.outbox, &outboxRecord{
			msg:       msg,
			status:    outboxStatusPending,
			createdAt: now,
			updatedAt: now,
		})
	}
}

// staged: изменения одной коллекции внутри транзакции.
type staged[T any] struct {
	values  map[string]T
	deleted map[string]bool
	clone   func(T) T
}

func newStaged[T any](clone func(T) T) staged[T] {
	if clone == nil {
		clone = func(v T) T { return v }
	}
	return staged[T]{values: make(map[string]T), deleted: make(map[string]bool), clone: clone}
}

func (st *staged[T]) put(id string, v T) {
	st.values[id] = st.clone(v)
	delete(st.deleted, id)
}

func (st *staged[T]) remove(id string) {
	delete(st.values, id)
	st.deleted[id] = true
}

// read ищет запись сначала в изменениях транзакции, затем в base.
func (st *staged[T]) read(mu *sync.RWMutex, base map[string]T, id string) (T, bool) {
	if v, ok := st.values[id]; ok {
		return st.clone(v), true
	}
	var zero T
	if st.deleted[id] {
		return zero, false
	}
	mu.RLock()
	defer mu.RUnlock()
	v, ok := base[id]
	if !ok {
		return zero, false
	}
	return st.clone(v), true
}

// all возвращает объединённое представление коллекции, отсортированное по ключу.
func (st *staged[T]) all(mu *sync.RWMutex, base map[string]T) []T {
	merged := make(map[string]T, len(st.values))
	mu.RLock()
	for id, v := range base {
		if st.deleted[id] {
			continue
		}
		merged[id] = v
	}
	mu.RUnlock()
	for id, v := range st.values {
		merged[id] = v
	}

	ids := make([]string, 0, len(merged))
	for id := range merged {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	out := make([]T, 0, len(ids))
	for _, id := range ids {
		out = append(out, st.clone(merged[id]))
	}
	return out
}

func (st *staged[T]) applyTo(base map[string]T) {
	for id := range st.deleted {
		delete(base, id)
	}
	for id, v := range st.values {
		base[id] = v
	}
}

var _ domain.TxManager = (*Store)(nil)
