package domain_test

import (
	"errors"
	"testing"
	"time"

	"github.com/vladislavdragonenkov/foodorder/internal/domain"
)

// helper для создания базового заказа с одной позицией.
func makeOrder(status domain.OrderStatus) domain.Order {
	now := time.Now().UTC()
	return domain.Order{
		ID:               "order-1",
		UserID:           "user-1",
		Lines:            []domain.OrderLine{{ProductID: "p1", Quantity: 2}},
		TotalCount:       2,
		TotalPrice:       10,
		DeliveryPersonID: "courier-1",
		DeliveryAddress: domain.Address{
			FullName: "Jane Doe", Phone: "+100", Street: "Main 1", City: "Pune",
			State: "MH", PostalCode: "411001", Country: "IN",
		},
		Status:    status,
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func TestOrderValidateInvariants_Ok(t *testing.T) {
	order := makeOrder(domain.OrderStatusConfirmed)
	if errs := order.ValidateInvariants(); len(errs) != 0 {
		t.Fatalf("expected no validation errors, got %v", errs)
	}
}

func TestOrderValidateInvariants_Errors(t *testing.T) {
	cases := []struct {
		name string
		mut  func(o *domain.Order)
	}{
		{name: "no user", mut: func(o *domain.Order) { o.UserID = "" }},
		{name: "no lines", mut: func(o *domain.Order) { o.Lines = nil; o.TotalCount = 0 }},
		{name: "zero qty", mut: func(o *domain.Order) { o.Lines[0].Quantity = 0; o.TotalCount = 0 }},
		{name: "count mismatch", mut: func(o *domain.Order) { o.TotalCount = 7 }},
		{name: "negative price", mut: func(o *domain.Order) { o.TotalPrice = -1 }},
		{name: "missing address field", mut: func(o *domain.Order) { o.DeliveryAddress.City = "" }},
		{name: "unknown status", mut: func(o *domain.Order) { o.Status = "shipped" }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			order := makeOrder(domain.OrderStatusConfirmed)
			tc.mut(&order)
			if errs := order.ValidateInvariants(); len(errs) == 0 {
				t.Fatal("expected validation errors")
			}
		})
	}
}

var allStatuses = []domain.OrderStatus{
	domain.OrderStatusPending,
	domain.OrderStatusConfirmed,
	domain.OrderStatusPreparing,
	domain.OrderStatusOutForDelivery,
	domain.OrderStatusDelivered,
	domain.OrderStatusCancelled,
}

func TestOrderAcceptReject(t *testing.T) {
	for _, from := range allStatuses {
		order := makeOrder(from)
		err := order.Accept()
		if from == domain.OrderStatusPending {
			if err != nil || order.Status != domain.OrderStatusConfirmed {
				t.Fatalf("accept from pending: err=%v status=%s", err, order.Status)
			}
		} else if !errors.Is(err, domain.ErrInvalidTransition) || order.Status != from {
			t.Fatalf("accept from %s: err=%v status=%s", from, err, order.Status)
		}

		order = makeOrder(from)
		err = order.Reject()
		if from == domain.OrderStatusPending {
			if err != nil || order.Status != domain.OrderStatusCancelled {
				t.Fatalf("reject from pending: err=%v status=%s", err, order.Status)
			}
		} else if !errors.Is(err, domain.ErrInvalidTransition) || order.Status != from {
			t.Fatalf("reject from %s: err=%v status=%s", from, err, order.Status)
		}
	}
}

func TestOrderCancel(t *testing.T) {
	for _, from := range allStatuses {
		order := makeOrder(from)
		err := order.Cancel()
		allowed := from == domain.OrderStatusPending || from == domain.OrderStatusConfirmed
		if allowed {
			if err != nil || order.Status != domain.OrderStatusCancelled {
				t.Fatalf("cancel from %s: err=%v status=%s", from, err, order.Status)
			}
			continue
		}
		if !errors.Is(err, domain.ErrInvalidTransition) {
			t.Fatalf("cancel from %s: expected ErrInvalidTransition, got %v", from, err)
		}
		if order.Status != from {
			t.Fatalf("cancel from %s changed status to %s", from, order.Status)
		}
	}
}

func TestOrderAdvanceDelivery(t *testing.T) {
	allowed := map[[2]domain.OrderStatus]bool{
		{domain.OrderStatusConfirmed, domain.OrderStatusPreparing}:      true,
		{domain.OrderStatusConfirmed, domain.OrderStatusOutForDelivery}: true,
		{domain.OrderStatusConfirmed, domain.OrderStatusDelivered}:      true,
		{domain.OrderStatusPreparing, domain.OrderStatusOutForDelivery}: true,
		{domain.OrderStatusPreparing, domain.OrderStatusDelivered}:      true,
		{domain.OrderStatusOutForDelivery, domain.OrderStatusDelivered}: true,
	}

	for _, from := range allStatuses {
		for _, to := range allStatuses {
			order := makeOrder(from)
			err := order.AdvanceDelivery(to)
			if allowed[[2]domain.OrderStatus{from, to}] {
				if err != nil || order.Status != to {
					t.Fatalf("%s -> %s: err=%v status=%s", from, to, err, order.Status)
				}
				continue
			}
			if !errors.Is(err, domain.ErrInvalidTransition) {
				t.Fatalf("%s -> %s: expected ErrInvalidTransition, got %v", from, to, err)
			}
			if order.Status != from {
				t.Fatalf("%s -> %s: status changed to %s", from, to, order.Status)
			}
		}
	}
}

func TestOrderAssignCourier(t *testing.T) {
	for _, from := range allStatuses {
		order := makeOrder(from)
		previous, err := order.AssignCourier("courier-2")
		if from.IsTerminal() {
			if !errors.Is(err, domain.ErrInvalidTransition) {
				t.Fatalf("assign from %s: expected ErrInvalidTransition, got %v", from, err)
			}
			if order.DeliveryPersonID != "courier-1" || order.Status != from {
				t.Fatalf("assign from %s mutated order", from)
			}
			continue
		}
		if err != nil {
			t.Fatalf("assign from %s: %v", from, err)
		}
		if previous != "courier-1" || order.DeliveryPersonID != "courier-2" {
			t.Fatalf("unexpected courier swap: prev=%s now=%s", previous, order.DeliveryPersonID)
		}
		if order.Status != domain.OrderStatusOutForDelivery {
			t.Fatalf("expected out-for-delivery, got %s", order.Status)
		}
	}

	order := makeOrder(domain.OrderStatusConfirmed)
	if _, err := order.AssignCourier(""); !errors.Is(err, domain.ErrDeliveryPersonInvalid) {
		t.Fatalf("expected ErrDeliveryPersonInvalid, got %v", err)
	}
}

func TestParseDeliveryStatus(t *testing.T) {
	for _, raw := range []string{"preparing", "out-for-delivery", "delivered"} {
		if _, err := domain.ParseDeliveryStatus(raw); err != nil {
			t.Fatalf("%s: unexpected error %v", raw, err)
		}
	}
	for _, raw := range []string{"", "pending", "confirmed", "cancelled", "shipped"} {
		if _, err := domain.ParseDeliveryStatus(raw); !errors.Is(err, domain.ErrStatusInvalid) {
			t.Fatalf("%s: expected ErrStatusInvalid, got %v", raw, err)
		}
	}
}

func TestOrderFilterMatch(t *testing.T) {
	order := makeOrder(domain.OrderStatusConfirmed)
	if !(domain.OrderFilter{}).Match(order) {
		t.Fatal("empty filter must match")
	}
	if !(domain.OrderFilter{UserID: "user-1", DeliveryPersonID: "courier-1"}).Match(order) {
		t.Fatal("exact filter must match")
	}
	if (domain.OrderFilter{UserID: "user-2"}).Match(order) {
		t.Fatal("foreign user must not match")
	}
}
