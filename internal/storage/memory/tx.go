package memory

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/foodorder/internal/domain"
)

var errTxDone = errors.New("memory: transaction has already been committed or rolled back")

type tx struct {
	ctx   context.Context
	store *Store

	mu       sync.Mutex
	done     bool
	finished chan struct{}

	carts    staged[domain.Cart]
	products staged[domain.Product]
	users    staged[domain.User]
	orders   staged[domain.Order]
	timeline []domain.TimelineEvent
	outbox   []domain.OutboxMessage
}

func newTx(ctx context.Context, s *Store) *tx {
	return &tx{
		ctx:      ctx,
		store:    s,
		finished: make(chan struct{}),
		carts:    newStaged(domain.Cart.Clone),
		products: newStaged[domain.Product](nil),
		users:    newStaged[domain.User](nil),
		orders:   newStaged(domain.Order.Clone),
	}
}

// watch откатывает транзакцию при отмене контекста, чтобы слот не остался занятым.
func (t *tx) watch() {
	select {
	case <-t.ctx.Done():
		_ = t.Rollback()
	case <-t.finished:
	}
}

func (t *tx) Carts() domain.CartRepository        { return cartRepo{t} }
func (t *tx) Products() domain.ProductRepository  { return productRepo{t} }
func (t *tx) Users() domain.UserRepository        { return userRepo{t} }
func (t *tx) Orders() domain.OrderRepository      { return orderRepo{t} }
func (t *tx) Timeline() domain.TimelineRepository { return timelineRepo{t} }
func (t *tx) Outbox() domain.OutboxWriter         { return outboxWriter{t} }

func (t *tx) Commit() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.done {
		return errTxDone
	}
	if err := t.ctx.Err(); err != nil {
		t.finish()
		return err
	}
	t.store.apply(t)
	t.finish()
	return nil
}

func (t *tx) Rollback() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.done {
		return nil
	}
	t.finish()
	return nil
}

// finish освобождает слот. Вызывается под t.mu.
func (t *tx) finish() {
	t.done = true
	close(t.finished)
	<-t.store.slot
}

// enter блокирует транзакцию на время операции репозитория.
func (t *tx) enter(ctx context.Context) (func(), error) {
	t.mu.Lock()
	if t.done {
		t.mu.Unlock()
		// транзакцию откатил watch: причину знает её контекст
		if err := t.ctx.Err(); err != nil {
			return nil, err
		}
		return nil, errTxDone
	}
	if err := ctx.Err(); err != nil {
		t.mu.Unlock()
		return nil, err
	}
	return t.mu.Unlock, nil
}

type cartRepo struct{ t *tx }

func (r cartRepo) Get(ctx context.Context, userID string) (domain.Cart, error) {
	unlock, err := r.t.enter(ctx)
	if err != nil {
		return domain.Cart{}, err
	}
	defer unlock()

	cart, ok := r.t.carts.read(&r.t.store.mu, r.t.store.carts, userID)
	if !ok {
		return domain.Cart{}, domain.ErrCartNotFound
	}
	return cart, nil
}

// GetForUpdate совпадает с Get: транзакция и так единственная.
func (r cartRepo) GetForUpdate(ctx context.Context, userID string) (domain.Cart, error) {
	return r.Get(ctx, userID)
}

func (r cartRepo) Save(ctx context.Context, cart domain.Cart) error {
	unlock, err := r.t.enter(ctx)
	if err != nil {
		return err
	}
	defer unlock()

	if cart.UserID == "" {
		return domain.ErrUserIDRequired
	}
	r.t.carts.put(cart.UserID, cart)
	return nil
}

func (r cartRepo) Delete(ctx context.Context, userID string) error {
	unlock, err := r.t.enter(ctx)
	if err != nil {
		return err
	}
	defer unlock()

	if _, ok := r.t.carts.read(&r.t.store.mu, r.t.store.carts, userID); !ok {
		return domain.ErrCartNotFound
	}
	r.t.carts.remove(userID)
	return nil
}

type productRepo struct{ t *tx }

func (r productRepo) Get(ctx context.Context, id string) (domain.Product, error) {
	unlock, err := r.t.enter(ctx)
	if err != nil {
		return domain.Product{}, err
	}
	defer unlock()

	p, ok := r.t.products.read(&r.t.store.mu, r.t.store.products, id)
	if !ok {
		return domain.Product{}, domain.ErrProductNotFound
	}
	return p, nil
}

func (r productRepo) GetForUpdate(ctx context.Context, id string) (domain.Product, error) {
	return r.Get(ctx, id)
}

func (r productRepo) Create(ctx context.Context, product domain.Product) error {
	unlock, err := r.t.enter(ctx)
	if err != nil {
		return err
	}
	defer unlock()

	if err := product.Validate(); err != nil {
		return err
	}
	if _, ok := r.t.products.read(&r.t.store.mu, r.t.store.products, product.ID); ok {
		return domain.ErrAlreadyExists
	}
	r.t.products.put(product.ID, product)
	return nil
}

func (r productRepo) UpdateStock(ctx context.Context, product domain.Product) error {
	unlock, err := r.t.enter(ctx)
	if err != nil {
		return err
	}
	defer unlock()

	if product.Stock < 0 {
		return domain.ErrStockNegative
	}
	current, ok := r.t.products.read(&r.t.store.mu, r.t.store.products, product.ID)
	if !ok {
		return domain.ErrProductNotFound
	}
	current.Stock = product.Stock
	current.IsAvailable = product.IsAvailable
	current.UpdatedAt = time.Now().UTC()
	r.t.products.put(current.ID, current)
	return nil
}

type userRepo struct{ t *tx }

func (r userRepo) Get(ctx context.Context, id string) (domain.User, error) {
	unlock, err := r.t.enter(ctx)
	if err != nil {
		return domain.User{}, err
	}
	defer unlock()

	u, ok := r.t.users.read(&r.t.store.mu, r.t.store.users, id)
	if !ok {
		return domain.User{}, domain.ErrUserNotFound
	}
	return u, nil
}

func (r userRepo) GetForUpdate(ctx context.Context, id string) (domain.User, error) {
	return r.Get(ctx, id)
}

func (r userRepo) Create(ctx context.Context, user domain.User) error {
	unlock, err := r.t.enter(ctx)
	if err != nil {
		return err
	}
	defer unlock()

	if user.ID == "" {
		return domain.ErrUserIDRequired
	}
	if _, ok := r.t.users.read(&r.t.store.mu, r.t.store.users, user.ID); ok {
		return domain.ErrAlreadyExists
	}
	r.t.users.put(user.ID, user)
	return nil
}

// LockAvailableCourier выбирает свободного курьера с наименьшим ID.
func (r userRepo) LockAvailableCourier(ctx context.Context) (domain.User, error) {
	unlock, err := r.t.enter(ctx)
	if err != nil {
		return domain.User{}, err
	}
	defer unlock()

	for _, u := range r.t.users.all(&r.t.store.mu, r.t.store.users) {
		if u.IsAvailableCourier() {
			return u, nil
		}
	}
	return domain.User{}, domain.ErrNoCourierAvailable
}

func (r userRepo) SetAvailable(ctx context.Context, id string, available bool) error {
	unlock, err := r.t.enter(ctx)
	if err != nil {
		return err
	}
	defer unlock()

	u, ok := r.t.users.read(&r.t.store.mu, r.t.store.users, id)
	if !ok {
		return domain.ErrUserNotFound
	}
	u.Available = available
	r.t.users.put(id, u)
	return nil
}

type orderRepo struct{ t *tx }

func (r orderRepo) Create(ctx context.Context, order domain.Order) error {
	unlock, err := r.t.enter(ctx)
	if err != nil {
		return err
	}
	defer unlock()

	if _, ok := r.t.orders.read(&r.t.store.mu, r.t.store.orders, order.ID); ok {
		return domain.ErrAlreadyExists
	}
	r.t.orders.put(order.ID, order)
	return nil
}

func (r orderRepo) Get(ctx context.Context, id string) (domain.Order, error) {
	unlock, err := r.t.enter(ctx)
	if err != nil {
		return domain.Order{}, err
	}
	defer unlock()

	order, ok := r.t.orders.read(&r.t.store.mu, r.t.store.orders, id)
	if !ok {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	return order, nil
}

func (r orderRepo) GetForUpdate(ctx context.Context, id string) (domain.Order, error) {
	return r.Get(ctx, id)
}

func (r orderRepo) List(ctx context.Context, filter domain.OrderFilter) ([]domain.Order, error) {
	unlock, err := r.t.enter(ctx)
	if err != nil {
		return nil, err
	}
	defer unlock()

	result := make([]domain.Order, 0)
	for _, order := range r.t.orders.all(&r.t.store.mu, r.t.store.orders) {
		if filter.Match(order) {
			result = append(result, order)
		}
	}
	sort.SliceStable(result, func(i, j int) bool {
		if result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].ID > result[j].ID
		}
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	if filter.Limit > 0 && len(result) > filter.Limit {
		result = result[:filter.Limit]
	}
	return result, nil
}

func (r orderRepo) UpdateStatus(ctx context.Context, order domain.Order) error {
	unlock, err := r.t.enter(ctx)
	if err != nil {
		return err
	}
	defer unlock()

	current, ok := r.t.orders.read(&r.t.store.mu, r.t.store.orders, order.ID)
	if !ok {
		return domain.ErrOrderNotFound
	}
	if current.Version != order.Version {
		return domain.ErrOrderVersionConflict
	}
	current.Status = order.Status
	current.DeliveryPersonID = order.DeliveryPersonID
	current.UpdatedAt = order.UpdatedAt
	current.Version++
	r.t.orders.put(current.ID, current)
	return nil
}

type timelineRepo struct{ t *tx }

func (r timelineRepo) Append(ctx context.Context, event domain.TimelineEvent) error {
	unlock, err := r.t.enter(ctx)
	if err != nil {
		return err
	}
	defer unlock()

	if event.OrderID == "" {
		return errors.New("timeline event order id is required")
	}
	if event.Occurred.IsZero() {
		event.Occurred = time.Now().UTC()
	}
	r.t.timeline = append(r.t.timeline, event)
	return nil
}

func (r timelineRepo) List(ctx context.Context, orderID string) ([]domain.TimelineEvent, error) {
	unlock, err := r.t.enter(ctx)
	if err != nil {
		return nil, err
	}
	defer unlock()

	r.t.store.mu.RLock()
	events := append([]domain.TimelineEvent(nil), r.t.store.timeline[orderID]...)
	r.t.store.mu.RUnlock()

	for _, event := range r.t.timeline {
		if event.OrderID == orderID {
			events = append(events, event)
		}
	}
	return events, nil
}

type outboxWriter struct{ t *tx }

// Enqueue копит сообщение до Commit; воркер увидит его только после фиксации.
func (w outboxWriter) Enqueue(ctx context.Context, msg domain.OutboxMessage) (domain.OutboxMessage, error) {
	unlock, err := w.t.enter(ctx)
	if err != nil {
		return domain.OutboxMessage{}, err
	}
	defer unlock()

	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	msg.Payload = append([]byte(nil), msg.Payload...)
	w.t.outbox = append(w.t.outbox, msg)
	return msg, nil
}

var _ domain.TxController = (*tx)(nil)
