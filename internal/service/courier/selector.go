// Package courier резервирует и освобождает курьеров.
package courier

import (
	"context"
	"errors"
	"fmt"

	"github.com/vladislavdragonenkov/foodorder/internal/domain"
)

// Selector управляет признаком занятости курьеров в транзакции вызывающего.
type Selector struct{}

// NewSelector создаёт Selector.
func NewSelector() *Selector {
	return &Selector{}
}

// ReserveCourier выбирает любого свободного активного курьера и помечает его занятым.
func (s *Selector) ReserveCourier(ctx context.Context, tx domain.Tx) (string, error) {
	courier, err := tx.Users().LockAvailableCourier(ctx)
	if err != nil {
		return "", err
	}
	if err := tx.Users().SetAvailable(ctx, courier.ID, false); err != nil {
		return "", fmt.Errorf("reserve courier %s: %w", courier.ID, err)
	}
	return courier.ID, nil
}

// Claim закрепляет за заказом конкретного курьера, выбранного администратором.
// Занятость курьера не проверяется: администратор может перегрузить курьера сознательно.
func (s *Selector) Claim(ctx context.Context, tx domain.Tx, courierID string) error {
	user, err := tx.Users().GetForUpdate(ctx, courierID)
	if errors.Is(err, domain.ErrUserNotFound) {
		return domain.ErrDeliveryPersonInvalid
	}
	if err != nil {
		return err
	}
	if user.Role != domain.RoleDeliveryman || user.Status != domain.UserStatusActive {
		return domain.ErrDeliveryPersonInvalid
	}
	if !user.Available {
		return nil
	}
	return tx.Users().SetAvailable(ctx, courierID, false)
}

// Release возвращает курьера в пул свободных, когда заказ orderID перестаёт
// его занимать. Курьер с другими незавершёнными заказами остаётся занятым.
func (s *Selector) Release(ctx context.Context, tx domain.Tx, courierID, orderID string) error {
	if courierID == "" {
		return nil
	}
	// строка курьера блокируется до чтения его заказов, как и в Claim
	_, err := tx.Users().GetForUpdate(ctx, courierID)
	if errors.Is(err, domain.ErrUserNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("lock courier %s: %w", courierID, err)
	}
	assigned, err := tx.Orders().List(ctx, domain.OrderFilter{DeliveryPersonID: courierID})
	if err != nil {
		return fmt.Errorf("list orders of courier %s: %w", courierID, err)
	}
	for _, order := range assigned {
		if order.ID != orderID && !order.Status.IsTerminal() {
			return nil
		}
	}

	return tx.Users().SetAvailable(ctx, courierID, true)
}
