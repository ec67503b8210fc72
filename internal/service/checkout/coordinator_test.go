package checkout_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/vladislavdragonenkov/foodorder/internal/cache"
	"github.com/vladislavdragonenkov/foodorder/internal/domain"
	"github.com/vladislavdragonenkov/foodorder/internal/metrics"
	"github.com/vladislavdragonenkov/foodorder/internal/service/cart"
	"github.com/vladislavdragonenkov/foodorder/internal/service/checkout"
	"github.com/vladislavdragonenkov/foodorder/internal/service/courier"
	"github.com/vladislavdragonenkov/foodorder/internal/service/inventory"
	"github.com/vladislavdragonenkov/foodorder/internal/service/ledger"
	"github.com/vladislavdragonenkov/foodorder/internal/storage/memory"
)

type env struct {
	store *memory.Store
	carts *cart.Service
}

func newEnv(t *testing.T, products []domain.Product, couriers int) env {
	t.Helper()
	ctx := context.Background()
	store := memory.NewStore()

	tx, err := store.Begin(ctx)
	require.NoError(t, err)
	defer tx.Rollback()
	for _, p := range products {
		p.RecomputeAvailability()
		require.NoError(t, tx.Products().Create(ctx, p))
	}
	for i := 1; i <= couriers; i++ {
		require.NoError(t, tx.Users().Create(ctx, domain.User{
			ID:        fmt.Sprintf("courier-%d", i),
			Role:      domain.RoleDeliveryman,
			Status:    domain.UserStatusActive,
			Available: true,
		}))
	}
	require.NoError(t, tx.Commit())

	return env{store: store, carts: cart.NewService(store)}
}

func (e env) coordinator(opts ...checkout.Option) *checkout.Coordinator {
	selector := courier.NewSelector()
	return checkout.NewCoordinator(e.store, inventory.NewGatekeeper(), selector, ledger.NewService(e.store, selector), opts...)
}

func (e env) add(t *testing.T, userID, productID string, qty int32) {
	t.Helper()
	_, err := e.carts.AddLine(context.Background(), userID, productID, qty)
	require.NoError(t, err)
}

func (e env) stock(t *testing.T, id string) int32 {
	t.Helper()
	p, ok := e.store.Product(id)
	require.True(t, ok)
	return p.Stock
}

func (e env) availableCouriers(t *testing.T, n int) int {
	t.Helper()
	count := 0
	for i := 1; i <= n; i++ {
		u, ok := e.store.User(fmt.Sprintf("courier-%d", i))
		require.True(t, ok)
		if u.Available {
			count++
		}
	}
	return count
}

func address() *domain.Address {
	return &domain.Address{
		FullName:   "Anna Smirnova",
		Phone:      "+7 900 111 22 33",
		Street:     "Tverskaya 7",
		City:       "Moscow",
		State:      "Moscow",
		PostalCode: "125009",
		Country:    "RU",
	}
}

func TestCheckout_ScenarioA_Success(t *testing.T) {
	e := newEnv(t, []domain.Product{
		{ID: "P1", Name: "Pizza", Price: 5, Stock: 10},
		{ID: "P2", Name: "Soup", Price: 3, Stock: 5},
	}, 1)
	e.add(t, "u1", "P1", 2)
	e.add(t, "u1", "P2", 1)

	order, err := e.coordinator().Checkout(context.Background(), "u1", address())
	require.NoError(t, err)

	assert.Equal(t, int64(13), order.TotalPrice)
	assert.Equal(t, int64(3), order.TotalCount)
	assert.Equal(t, domain.OrderStatusConfirmed, order.Status)
	assert.Equal(t, "courier-1", order.DeliveryPersonID)
	assert.Equal(t, *address(), order.DeliveryAddress)
	assert.Equal(t, []domain.OrderLine{{ProductID: "P1", Quantity: 2}, {ProductID: "P2", Quantity: 1}}, order.Lines)

	assert.Equal(t, int32(8), e.stock(t, "P1"))
	assert.Equal(t, int32(4), e.stock(t, "P2"))
	_, ok := e.store.Cart("u1")
	assert.False(t, ok, "cart must be deleted")
	assert.Equal(t, 0, e.availableCouriers(t, 1))
	assert.Equal(t, 1, e.store.OrderCount())
}

func TestCheckout_ScenarioB_InsufficientStock(t *testing.T) {
	e := newEnv(t, []domain.Product{
		{ID: "P1", Name: "Pizza", Price: 5, Stock: 0},
		{ID: "P2", Name: "Soup", Price: 3, Stock: 5},
	}, 1)
	e.add(t, "u1", "P2", 1)
	e.add(t, "u1", "P1", 2)
	before, _ := e.store.Cart("u1")

	_, err := e.coordinator().Checkout(context.Background(), "u1", address())
	require.ErrorIs(t, err, domain.ErrInsufficientStock)
	assert.Contains(t, err.Error(), "Insufficient stock")
	var stockErr *domain.StockError
	require.ErrorAs(t, err, &stockErr)
	assert.Equal(t, "P1", stockErr.ProductID)

	after, ok := e.store.Cart("u1")
	require.True(t, ok)
	assert.Equal(t, before, after)
	assert.Equal(t, int32(0), e.stock(t, "P1"))
	assert.Equal(t, int32(5), e.stock(t, "P2"))
	assert.Equal(t, 1, e.availableCouriers(t, 1))
	assert.Zero(t, e.store.OrderCount())
}

func TestCheckout_ScenarioC_NoCourier(t *testing.T) {
	e := newEnv(t, []domain.Product{{ID: "P1", Name: "Pizza", Price: 5, Stock: 10}}, 0)
	e.add(t, "u1", "P1", 2)
	before, _ := e.store.Cart("u1")

	_, err := e.coordinator().Checkout(context.Background(), "u1", address())
	require.ErrorIs(t, err, domain.ErrNoCourierAvailable)
	assert.EqualError(t, err, "No delivery person available")

	after, ok := e.store.Cart("u1")
	require.True(t, ok)
	assert.Equal(t, before, after)
	assert.Equal(t, int32(10), e.stock(t, "P1"), "stock decrement must be rolled back")
	assert.Zero(t, e.store.OrderCount())
}

func TestCheckout_ValidationAndEmptyCart(t *testing.T) {
	e := newEnv(t, []domain.Product{{ID: "P1", Name: "Pizza", Price: 5, Stock: 10}}, 1)
	c := e.coordinator()
	ctx := context.Background()

	_, err := c.Checkout(ctx, "u1", nil)
	require.ErrorIs(t, err, domain.ErrAddressRequired)

	partial := address()
	partial.City = " "
	_, err = c.Checkout(ctx, "u1", partial)
	require.ErrorIs(t, err, domain.ErrAddressInvalid)
	assert.Equal(t, domain.KindValidation, domain.KindOf(err))

	_, err = c.Checkout(ctx, "u1", address())
	require.ErrorIs(t, err, domain.ErrEmptyCart)

	e.add(t, "u1", "P1", 1)
	_, err = e.carts.RemoveLine(ctx, "u1", "P1")
	require.NoError(t, err)
	_, err = c.Checkout(ctx, "u1", address())
	require.ErrorIs(t, err, domain.ErrEmptyCart)
	assert.Equal(t, domain.KindConflict, domain.KindOf(err))
	assert.Equal(t, 1, e.availableCouriers(t, 1))
}

func TestCheckout_DeletedProduct(t *testing.T) {
	e := newEnv(t, []domain.Product{{ID: "P1", Name: "Pizza", Price: 5, Stock: 10}}, 1)
	e.add(t, "u1", "P1", 1)

	ctx := context.Background()
	tx, err := e.store.Begin(ctx)
	require.NoError(t, err)
	p, err := tx.Products().GetForUpdate(ctx, "P1")
	require.NoError(t, err)
	p.IsDeleted = true
	p.RecomputeAvailability()
	require.NoError(t, tx.Products().UpdateStock(ctx, p))
	require.NoError(t, tx.Commit())

	_, err = e.coordinator().Checkout(ctx, "u1", address())
	require.ErrorIs(t, err, domain.ErrProductUnavailable)
	_, ok := e.store.Cart("u1")
	assert.True(t, ok)
}

func TestCheckout_RequireAcceptanceCreatesPending(t *testing.T) {
	e := newEnv(t, []domain.Product{{ID: "P1", Name: "Pizza", Price: 5, Stock: 10}}, 1)
	e.add(t, "u1", "P1", 1)

	order, err := e.coordinator(checkout.WithRequireAcceptance(true)).Checkout(context.Background(), "u1", address())
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusPending, order.Status)
}

func TestCheckout_SingleWinnerOnLastItem(t *testing.T) {
	e := newEnv(t, []domain.Product{{ID: "P1", Name: "Pizza", Price: 5, Stock: 1}}, 2)
	e.add(t, "u1", "P1", 1)
	e.add(t, "u2", "P1", 1)
	c := e.coordinator()

	errs := runConcurrently(t, c, "u1", "u2")

	var wins, losses int
	for _, err := range errs {
		switch {
		case err == nil:
			wins++
		case errors.Is(err, domain.ErrInsufficientStock):
			losses++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, wins)
	assert.Equal(t, 1, losses)
	assert.Equal(t, int32(0), e.stock(t, "P1"))
	assert.Equal(t, 1, e.store.OrderCount())
	assert.Equal(t, 1, e.availableCouriers(t, 2))
}

func TestCheckout_CourierExclusivity(t *testing.T) {
	e := newEnv(t, []domain.Product{{ID: "P1", Name: "Pizza", Price: 5, Stock: 10}}, 1)
	e.add(t, "u1", "P1", 1)
	e.add(t, "u2", "P1", 1)

	errs := runConcurrently(t, e.coordinator(), "u1", "u2")

	var wins, noCourier int
	for _, err := range errs {
		switch {
		case err == nil:
			wins++
		case errors.Is(err, domain.ErrNoCourierAvailable):
			noCourier++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, wins)
	assert.Equal(t, 1, noCourier)
	assert.Equal(t, int32(9), e.stock(t, "P1"))
}

func TestCheckout_StockConservationUnderContention(t *testing.T) {
	const buyers = 8
	e := newEnv(t, []domain.Product{{ID: "P1", Name: "Pizza", Price: 5, Stock: 5}}, buyers)
	users := make([]string, 0, buyers)
	for i := 0; i < buyers; i++ {
		user := fmt.Sprintf("u%d", i)
		e.add(t, user, "P1", 1)
		users = append(users, user)
	}

	errs := runConcurrently(t, e.coordinator(), users...)

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		require.ErrorIs(t, err, domain.ErrInsufficientStock)
	}
	assert.Equal(t, 5, succeeded)
	assert.Equal(t, int32(0), e.stock(t, "P1"))
	assert.Equal(t, succeeded, e.store.OrderCount())
	assert.Equal(t, buyers-succeeded, e.availableCouriers(t, buyers))
}

// cancellingReserver отменяет контекст checkout посреди транзакции.
type cancellingReserver struct {
	next   checkout.StockReserver
	cancel context.CancelFunc
}

func (r cancellingReserver) ReserveStock(ctx context.Context, tx domain.Tx, lines []domain.OrderLine) error {
	if err := r.next.ReserveStock(ctx, tx, lines); err != nil {
		return err
	}
	r.cancel()
	return nil
}

func TestCheckout_CancelledContextLeavesNoTrace(t *testing.T) {
	e := newEnv(t, []domain.Product{{ID: "P1", Name: "Pizza", Price: 5, Stock: 10}}, 1)
	e.add(t, "u1", "P1", 3)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	selector := courier.NewSelector()
	c := checkout.NewCoordinator(e.store,
		cancellingReserver{next: inventory.NewGatekeeper(), cancel: cancel},
		selector, ledger.NewService(e.store, selector))

	_, err := c.Checkout(ctx, "u1", address())
	require.ErrorIs(t, err, context.Canceled)
	assert.True(t, domain.IsTransient(err))

	assert.Equal(t, int32(10), e.stock(t, "P1"))
	_, ok := e.store.Cart("u1")
	assert.True(t, ok)
	assert.Zero(t, e.store.OrderCount())
	assert.Equal(t, 1, e.availableCouriers(t, 1))

	// слот транзакции освобождён
	_, err = e.coordinator().Checkout(context.Background(), "u1", address())
	require.NoError(t, err)
}

// failingCommitTxManager открывает настоящие транзакции, но отказывает в фиксации.
type failingCommitTxManager struct {
	store *memory.Store
}

func (m failingCommitTxManager) Begin(ctx context.Context) (domain.TxController, error) {
	tx, err := m.store.Begin(ctx)
	if err != nil {
		return nil, err
	}
	return failingCommitTx{TxController: tx}, nil
}

type failingCommitTx struct {
	domain.TxController
}

func (t failingCommitTx) Commit() error {
	_ = t.TxController.Rollback()
	return errors.New("could not serialize access")
}

func TestCheckout_CommitFailureIsTransient(t *testing.T) {
	e := newEnv(t, []domain.Product{{ID: "P1", Name: "Pizza", Price: 5, Stock: 10}}, 1)
	e.add(t, "u1", "P1", 2)

	selector := courier.NewSelector()
	c := checkout.NewCoordinator(failingCommitTxManager{store: e.store},
		inventory.NewGatekeeper(), selector, ledger.NewService(e.store, selector))

	_, err := c.Checkout(context.Background(), "u1", address())
	require.ErrorIs(t, err, domain.ErrTxConflict)
	assert.True(t, domain.IsTransient(err))
	assert.Equal(t, int32(10), e.stock(t, "P1"))
	assert.Zero(t, e.store.OrderCount())
}

// cancelOnCommitTxManager отменяет контекст запроса сразу после успешной фиксации.
type cancelOnCommitTxManager struct {
	store  *memory.Store
	cancel context.CancelFunc
}

func (m cancelOnCommitTxManager) Begin(ctx context.Context) (domain.TxController, error) {
	tx, err := m.store.Begin(ctx)
	if err != nil {
		return nil, err
	}
	return cancelOnCommitTx{TxController: tx, cancel: m.cancel}, nil
}

type cancelOnCommitTx struct {
	domain.TxController
	cancel context.CancelFunc
}

func (t cancelOnCommitTx) Commit() error {
	if err := t.TxController.Commit(); err != nil {
		return err
	}
	t.cancel()
	return nil
}

func TestCheckout_CancelAfterCommitStillInvalidatesCache(t *testing.T) {
	e := newEnv(t, []domain.Product{
		{ID: "P1", Name: "Pizza", Price: 5, Stock: 10},
		{ID: "P2", Name: "Soup", Price: 3, Stock: 10},
	}, 1)

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	cartCache := cache.NewRedisCartCache(client)
	carts := cart.NewService(e.store, cart.WithCache(cartCache))

	_, err := carts.AddLine(context.Background(), "u1", "P1", 2)
	require.NoError(t, err)
	_, err = carts.AddLine(context.Background(), "u1", "P2", 1)
	require.NoError(t, err)
	_, err = carts.Read(context.Background(), "u1")
	require.NoError(t, err)
	require.True(t, mr.Exists("cart:u1"))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	selector := courier.NewSelector()
	c := checkout.NewCoordinator(cancelOnCommitTxManager{store: e.store, cancel: cancel},
		inventory.NewGatekeeper(), selector, ledger.NewService(e.store, selector),
		checkout.WithCartCache(cartCache))

	order, err := c.Checkout(ctx, "u1", address())
	require.NoError(t, err)
	require.Error(t, ctx.Err())
	assert.Len(t, order.Lines, 2)

	assert.False(t, mr.Exists("cart:u1"))
	_, err = carts.Read(context.Background(), "u1")
	require.ErrorIs(t, err, domain.ErrNoCart)
}

type recordingCache struct {
	mu      sync.Mutex
	deleted []string
}

func (c *recordingCache) Delete(_ context.Context, userID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.deleted = append(c.deleted, userID)
	return nil
}

func TestCheckout_InvalidatesCacheAndRecordsMetrics(t *testing.T) {
	e := newEnv(t, []domain.Product{{ID: "P1", Name: "Pizza", Price: 5, Stock: 1}}, 1)
	e.add(t, "u1", "P1", 1)
	e.add(t, "u2", "P1", 1)

	cache := &recordingCache{}
	reg := prometheus.NewRegistry()
	c := e.coordinator(
		checkout.WithCartCache(cache),
		checkout.WithMetrics(metrics.NewCheckoutMetricsWithRegisterer(reg)),
	)

	_, err := c.Checkout(context.Background(), "u1", address())
	require.NoError(t, err)
	_, err = c.Checkout(context.Background(), "u2", address())
	require.ErrorIs(t, err, domain.ErrInsufficientStock)

	assert.Equal(t, []string{"u1"}, cache.deleted)

	families, err := reg.Gather()
	require.NoError(t, err)
	values := map[string]float64{}
	for _, f := range families {
		for _, m := range f.GetMetric() {
			key := f.GetName()
			for _, l := range m.GetLabel() {
				key += "/" + l.GetValue()
			}
			values[key] = m.GetCounter().GetValue() + m.GetGauge().GetValue()
		}
	}
	assert.Equal(t, 2.0, values["food_checkout_started_total"])
	assert.Equal(t, 1.0, values["food_checkout_completed_total"])
	assert.Equal(t, 1.0, values["food_checkout_failed_total/insufficient_stock"])
	assert.Equal(t, 0.0, values["food_checkout_in_flight"])
}

func runConcurrently(t *testing.T, c *checkout.Coordinator, users ...string) []error {
	t.Helper()
	errs := make([]error, len(users))
	start := make(chan struct{})
	var g errgroup.Group
	for i, user := range users {
		g.Go(func() error {
			<-start
			_, errs[i] = c.Checkout(context.Background(), user, address())
			return nil
		})
	}
	close(start)
	require.NoError(t, g.Wait())
	return errs
}
