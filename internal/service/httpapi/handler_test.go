package httpapi_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/foodorder/internal/domain"
	"github.com/vladislavdragonenkov/foodorder/internal/metrics"
	"github.com/vladislavdragonenkov/foodorder/internal/service/cart"
	"github.com/vladislavdragonenkov/foodorder/internal/service/checkout"
	"github.com/vladislavdragonenkov/foodorder/internal/service/courier"
	"github.com/vladislavdragonenkov/foodorder/internal/service/httpapi"
	"github.com/vladislavdragonenkov/foodorder/internal/service/idempotency"
	"github.com/vladislavdragonenkov/foodorder/internal/service/inventory"
	"github.com/vladislavdragonenkov/foodorder/internal/service/ledger"
	"github.com/vladislavdragonenkov/foodorder/internal/storage/memory"
)

var (
	buyer    = domain.Principal{ID: "user-1", Role: domain.RoleUser, Status: domain.UserStatusActive}
	other    = domain.Principal{ID: "user-2", Role: domain.RoleUser, Status: domain.UserStatusActive}
	admin    = domain.Principal{ID: "admin-1", Role: domain.RoleAdmin, Status: domain.UserStatusActive}
	courier1 = domain.Principal{ID: "courier-1", Role: domain.RoleDeliveryman, Status: domain.UserStatusActive}
)

type fixture struct {
	store   *memory.Store
	handler http.Handler
	reg     *prometheus.Registry
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	ctx := context.Background()
	store := memory.NewStore()

	tx, err := store.Begin(ctx)
	require.NoError(t, err)
	defer tx.Rollback()
	for _, p := range []domain.Product{
		{ID: "pizza", Name: "Pizza", Category: domain.CategoryVeg, Price: 500, Stock: 10},
		{ID: "soup", Name: "Soup", Category: domain.CategoryNonVeg, Price: 300, Stock: 5},
	} {
		p.RecomputeAvailability()
		require.NoError(t, tx.Products().Create(ctx, p))
	}
	require.NoError(t, tx.Users().Create(ctx, domain.User{
		ID: "courier-1", Role: domain.RoleDeliveryman, Status: domain.UserStatusActive, Available: true,
	}))
	require.NoError(t, tx.Commit())

	selector := courier.NewSelector()
	orders := ledger.NewService(store, selector)
	coordinator := checkout.NewCoordinator(store, inventory.NewGatekeeper(), selector, orders)
	reg := prometheus.NewRegistry()

	h := httpapi.NewHandler(cart.NewService(store), coordinator, orders,
		httpapi.WithIdempotency(idempotency.NewGuard(memory.NewIdempotencyRepository())),
		httpapi.WithMetrics(metrics.NewHTTPMetricsWithRegisterer(reg)),
	)
	return fixture{store: store, handler: h.Routes(), reg: reg}
}

func call(t *testing.T, h http.Handler, method, path string, p domain.Principal, body any, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(b))
	default:
		data, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	if p.ID != "" {
		req.Header.Set(httpapi.HeaderUserID, p.ID)
		req.Header.Set(httpapi.HeaderUserRole, string(p.Role))
		req.Header.Set(httpapi.HeaderUserStatus, string(p.Status))
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func line(productID string, qty int) map[string]any {
	return map[string]any{"productId": productID, "quantity": qty}
}

func checkoutBody() map[string]any {
	return map[string]any{"deliveryAddress": map[string]string{
		"fullName":   "Anna Smirnova",
		"phone":      "+7 900 111 22 33",
		"street":     "Tverskaya 7",
		"city":       "Moscow",
		"state":      "Moscow",
		"postalCode": "125009",
		"country":    "RU",
	}}
}

func (f fixture) placeOrder(t *testing.T) string {
	t.Helper()
	require.Equal(t, http.StatusOK, call(t, f.handler, http.MethodPost, "/cart/add", buyer, line("pizza", 2)).Code)
	rec := call(t, f.handler, http.MethodPost, "/cart/checkout", buyer, checkoutBody())
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decode(t, rec)["order"].(map[string]any)["id"].(string)
}

func TestPrincipal(t *testing.T) {
	f := newFixture(t)

	rec := call(t, f.handler, http.MethodGet, "/orders", domain.Principal{}, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.JSONEq(t, `{"message":"Unauthorized"}`, rec.Body.String())

	rec = call(t, f.handler, http.MethodGet, "/orders", domain.Principal{ID: "x", Role: "root"}, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	banned := domain.Principal{ID: "user-9", Role: domain.RoleUser, Status: domain.UserStatusBanned}
	rec = call(t, f.handler, http.MethodGet, "/orders", banned, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.JSONEq(t, `{"message":"Account is banned"}`, rec.Body.String())
}

func TestCart_Lifecycle(t *testing.T) {
	f := newFixture(t)

	rec := call(t, f.handler, http.MethodPost, "/cart/add", buyer, line("pizza", 2))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decode(t, rec)
	assert.Equal(t, "Product Added to cart successfully", body["message"])
	assert.EqualValues(t, 1000, body["cart"].(map[string]any)["totalPrice"])

	rec = call(t, f.handler, http.MethodPut, "/cart/update", buyer, line("pizza", 3))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Cart item updated successfully", decode(t, rec)["message"])

	rec = call(t, f.handler, http.MethodPost, "/cart/add", buyer, line("soup", 1))
	require.Equal(t, http.StatusOK, rec.Code)
	rec = call(t, f.handler, http.MethodDelete, "/cart/remove", buyer, map[string]any{"productId": "soup"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Product removed from the cart successfully", decode(t, rec)["message"])

	rec = call(t, f.handler, http.MethodGet, "/cart/user-1", buyer, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	c := decode(t, rec)["cart"].(map[string]any)
	assert.EqualValues(t, 3, c["totalCount"])
	assert.EqualValues(t, 1500, c["totalPrice"])
	assert.Len(t, c["items"], 1)

	assert.Equal(t, http.StatusForbidden, call(t, f.handler, http.MethodGet, "/cart/user-1", other, nil).Code)
	assert.Equal(t, http.StatusOK, call(t, f.handler, http.MethodGet, "/cart/user-1", admin, nil).Code)

	rec = call(t, f.handler, http.MethodDelete, "/cart/clear", buyer, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"message":"Cart cleared successfully"}`, rec.Body.String())

	rec = call(t, f.handler, http.MethodGet, "/cart/user-1", buyer, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.JSONEq(t, `{"message":"Cart is empty"}`, rec.Body.String())

	rec = call(t, f.handler, http.MethodDelete, "/cart/clear", buyer, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.JSONEq(t, `{"message":"Cart not found"}`, rec.Body.String())
}

func TestCart_Errors(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name    string
		method  string
		path    string
		body    any
		code    int
		message string
	}{
		{"zero quantity", http.MethodPost, "/cart/add", line("pizza", 0), http.StatusBadRequest, "Quantity must be at least 1"},
		{"unknown product", http.MethodPost, "/cart/add", line("sushi", 1), http.StatusNotFound, "Product not found"},
		{"broken json", http.MethodPost, "/cart/add", "{", http.StatusBadRequest, "Invalid request body"},
		{"update without cart", http.MethodPut, "/cart/update", line("pizza", 1), http.StatusNotFound, "Cart not found"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := call(t, f.handler, tt.method, tt.path, buyer, tt.body)
			assert.Equal(t, tt.code, rec.Code)
			assert.Equal(t, tt.message, decode(t, rec)["message"])
		})
	}
}

func TestCheckout_CreatesOrder(t *testing.T) {
	f := newFixture(t)
	require.Equal(t, http.StatusOK, call(t, f.handler, http.MethodPost, "/cart/add", buyer, line("pizza", 2)).Code)

	rec := call(t, f.handler, http.MethodPost, "/cart/checkout", buyer, checkoutBody())
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	body := decode(t, rec)
	assert.Equal(t, "Order created", body["message"])
	order := body["order"].(map[string]any)
	assert.Equal(t, "confirmed", order["status"])
	assert.Equal(t, "courier-1", order["deliveryPersonId"])
	assert.EqualValues(t, 1000, order["totalPrice"])

	p, _ := f.store.Product("pizza")
	assert.Equal(t, int32(8), p.Stock)
	assert.Equal(t, http.StatusNotFound, call(t, f.handler, http.MethodGet, "/cart/user-1", buyer, nil).Code)
}

func TestCheckout_BusinessErrors(t *testing.T) {
	f := newFixture(t)

	rec := call(t, f.handler, http.MethodPost, "/cart/checkout", buyer, checkoutBody())
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.JSONEq(t, `{"message":"Cart is empty"}`, rec.Body.String())

	require.Equal(t, http.StatusOK, call(t, f.handler, http.MethodPost, "/cart/add", buyer, line("pizza", 1)).Code)
	rec = call(t, f.handler, http.MethodPost, "/cart/checkout", buyer, map[string]any{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "delivery address is required", decode(t, rec)["message"])

	require.Equal(t, http.StatusOK, call(t, f.handler, http.MethodPut, "/cart/update", buyer, line("pizza", 11)).Code)
	rec = call(t, f.handler, http.MethodPost, "/cart/checkout", buyer, checkoutBody())
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decode(t, rec)["message"], "Insufficient stock")
	assert.Zero(t, f.store.OrderCount())
}

func TestCheckout_IdempotencyKey(t *testing.T) {
	f := newFixture(t)
	require.Equal(t, http.StatusOK, call(t, f.handler, http.MethodPost, "/cart/add", buyer, line("pizza", 1)).Code)

	first := call(t, f.handler, http.MethodPost, "/cart/checkout", buyer, checkoutBody(), httpapi.HeaderIdempotencyKey, "key-1")
	require.Equal(t, http.StatusCreated, first.Code)

	replay := call(t, f.handler, http.MethodPost, "/cart/checkout", buyer, checkoutBody(), httpapi.HeaderIdempotencyKey, "key-1")
	assert.Equal(t, http.StatusCreated, replay.Code)
	assert.Equal(t, "true", replay.Header().Get(httpapi.HeaderReplayed))
	assert.JSONEq(t, first.Body.String(), replay.Body.String())
	assert.Equal(t, 1, f.store.OrderCount())

	other := checkoutBody()
	other["deliveryAddress"].(map[string]string)["city"] = "Kazan"
	mismatch := call(t, f.handler, http.MethodPost, "/cart/checkout", buyer, other, httpapi.HeaderIdempotencyKey, "key-1")
	assert.Equal(t, http.StatusConflict, mismatch.Code)

	failed := call(t, f.handler, http.MethodPost, "/cart/checkout", buyer, checkoutBody(), httpapi.HeaderIdempotencyKey, "key-2")
	require.Equal(t, http.StatusBadRequest, failed.Code)
	require.Equal(t, http.StatusOK, call(t, f.handler, http.MethodPost, "/cart/add", buyer, line("pizza", 1)).Code)
	again := call(t, f.handler, http.MethodPost, "/cart/checkout", buyer, checkoutBody(), httpapi.HeaderIdempotencyKey, "key-2")
	assert.Equal(t, http.StatusBadRequest, again.Code, "a stored client error is replayed")
	assert.Equal(t, "true", again.Header().Get(httpapi.HeaderReplayed))
}

type scriptedCheckout struct {
	mu    sync.Mutex
	errs  []error
	calls int
}

func (s *scriptedCheckout) Checkout(_ context.Context, userID string, _ *domain.Address) (domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if len(s.errs) > 0 {
		err := s.errs[0]
		s.errs = s.errs[1:]
		if err != nil {
			return domain.Order{}, err
		}
	}
	return domain.Order{ID: "order-1", UserID: userID, Status: domain.OrderStatusConfirmed}, nil
}

func TestCheckout_RetryableErrorsReleaseKey(t *testing.T) {
	stub := &scriptedCheckout{errs: []error{domain.ErrTxConflict, assert.AnError}}
	h := httpapi.NewHandler(nil, stub, nil,
		httpapi.WithIdempotency(idempotency.NewGuard(memory.NewIdempotencyRepository())),
	).Routes()

	rec := call(t, h, http.MethodPost, "/cart/checkout", buyer, checkoutBody(), httpapi.HeaderIdempotencyKey, "k")
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, true, decode(t, rec)["retryable"])

	rec = call(t, h, http.MethodPost, "/cart/checkout", buyer, checkoutBody(), httpapi.HeaderIdempotencyKey, "k")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"message":"Internal server error"}`, rec.Body.String())

	rec = call(t, h, http.MethodPost, "/cart/checkout", buyer, checkoutBody(), httpapi.HeaderIdempotencyKey, "k")
	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Empty(t, rec.Header().Get(httpapi.HeaderReplayed))
	assert.Equal(t, 3, stub.calls)
}

func TestOrders_Transitions(t *testing.T) {
	f := newFixture(t)
	id := f.placeOrder(t)

	rec := call(t, f.handler, http.MethodPut, "/orders/"+id+"/accept", admin, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.JSONEq(t, `{"message":"Only pending orders can be accepted"}`, rec.Body.String())

	rec = call(t, f.handler, http.MethodPut, "/orders/"+id+"/accept", buyer, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = call(t, f.handler, http.MethodPut, "/orders/"+id+"/status", buyer, map[string]string{"status": "delivered"})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = call(t, f.handler, http.MethodPut, "/orders/"+id+"/status", courier1, map[string]string{"status": "flying"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.JSONEq(t, `{"message":"Invalid status"}`, rec.Body.String())

	rec = call(t, f.handler, http.MethodPut, "/orders/"+id+"/status", courier1, map[string]string{"status": "out-for-delivery"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decode(t, rec)
	assert.Equal(t, "Order status updated", body["message"])
	assert.Equal(t, "out-for-delivery", body["order"].(map[string]any)["status"])

	rec = call(t, f.handler, http.MethodPut, "/orders/"+id+"/cancel", buyer, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.JSONEq(t, `{"message":"Order cannot be cancelled at this stage"}`, rec.Body.String())

	rec = call(t, f.handler, http.MethodGet, "/orders/"+id+"/status", buyer, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "out-for-delivery", decode(t, rec)["status"])

	rec = call(t, f.handler, http.MethodGet, "/orders/"+id+"/timeline", buyer, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	events := decode(t, rec)["events"].([]any)
	require.Len(t, events, 2)
	assert.Equal(t, domain.TimelineOrderCreated, events[0].(map[string]any)["type"])
	assert.Equal(t, domain.TimelineStatusChanged, events[1].(map[string]any)["type"])
}

func TestOrders_CancelAndAssign(t *testing.T) {
	f := newFixture(t)
	id := f.placeOrder(t)

	rec := call(t, f.handler, http.MethodPut, "/orders/"+id+"/cancel", other, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = call(t, f.handler, http.MethodPut, "/orders/"+id+"/assign", admin, map[string]string{"deliveryPersonId": "user-2"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.JSONEq(t, `{"message":"Invalid delivery person"}`, rec.Body.String())

	rec = call(t, f.handler, http.MethodPut, "/orders/"+id+"/cancel", buyer, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Order cancelled", decode(t, rec)["message"])

	u, ok := f.store.User("courier-1")
	require.True(t, ok)
	assert.True(t, u.Available, "courier is released on cancel")

	rec = call(t, f.handler, http.MethodGet, "/orders/missing", admin, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestOrders_Listing(t *testing.T) {
	f := newFixture(t)
	id := f.placeOrder(t)

	rec := call(t, f.handler, http.MethodGet, "/orders", buyer, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	orders := decode(t, rec)["orders"].([]any)
	require.Len(t, orders, 1)
	assert.Equal(t, id, orders[0].(map[string]any)["id"])

	rec = call(t, f.handler, http.MethodGet, "/orders", other, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decode(t, rec)["orders"])

	rec = call(t, f.handler, http.MethodGet, "/orders", courier1, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode(t, rec)["orders"], 1)

	assert.Equal(t, http.StatusForbidden, call(t, f.handler, http.MethodGet, "/orders/all", buyer, nil).Code)
	assert.Equal(t, http.StatusOK, call(t, f.handler, http.MethodGet, "/orders/all", admin, nil).Code)
	assert.Equal(t, http.StatusForbidden, call(t, f.handler, http.MethodGet, "/orders/user/user-1", buyer, nil).Code)

	rec = call(t, f.handler, http.MethodGet, "/orders/user/user-1?limit=5", admin, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode(t, rec)["orders"], 1)

	assert.Equal(t, http.StatusBadRequest, call(t, f.handler, http.MethodGet, "/orders?limit=abc", buyer, nil).Code)

	assert.Equal(t, http.StatusOK, call(t, f.handler, http.MethodGet, "/orders/"+id, courier1, nil).Code)
	assert.Equal(t, http.StatusForbidden, call(t, f.handler, http.MethodGet, "/orders/"+id, other, nil).Code)
}

func TestRoutes_RecordMetrics(t *testing.T) {
	f := newFixture(t)
	call(t, f.handler, http.MethodPost, "/cart/add", buyer, line("pizza", 1))
	call(t, f.handler, http.MethodGet, "/cart/user-1", buyer, nil)

	series, err := testutil.GatherAndCount(f.reg, "food_http_requests_total")
	require.NoError(t, err)
	assert.Equal(t, 2, series)
}
