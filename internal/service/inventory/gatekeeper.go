// Package inventory: единственный писатель остатков товаров.
package inventory

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/vladislavdragonenkov/foodorder/internal/domain"
)

// Gatekeeper проверяет и списывает остатки внутри транзакции вызывающего.
type Gatekeeper struct{}

// NewGatekeeper создаёт Gatekeeper.
func NewGatekeeper() *Gatekeeper {
	return &Gatekeeper{}
}

// ReserveStock резервирует товар под все позиции заказа или не трогает ничего.
//
// Сначала все товары блокируются и проверяются, и только затем остатки уменьшаются:
// ошибка на любой позиции возвращается до первой записи. Блокировки берутся
// в порядке ID товара, поэтому встречные checkout не образуют дедлок.
// Откат уже сделанных записей обеспечивает транзакция.
func (g *Gatekeeper) ReserveStock(ctx context.Context, tx domain.Tx, lines []domain.OrderLine) error {
	if len(lines) == 0 {
		return domain.ErrOrderLinesRequired
	}
	demand, err := mergeLines(lines)
	if err != nil {
		return err
	}

	locked := make([]domain.Product, 0, len(demand))
	for _, line := range demand {
		product, err := tx.Products().GetForUpdate(ctx, line.ProductID)
		if errors.Is(err, domain.ErrProductNotFound) {
			// товар исчез из каталога после добавления в корзину
			return &domain.StockError{ProductID: line.ProductID, Requested: line.Quantity, Err: domain.ErrProductUnavailable}
		}
		if err != nil {
			return fmt.Errorf("lock product %s: %w", line.ProductID, err)
		}
		if err := product.CheckReservable(line.Quantity); err != nil {
			return err
		}
		locked = append(locked, product)
	}

	for i, line := range demand {
		product := locked[i]
		if err := product.Decrement(line.Quantity); err != nil {
			return err
		}
		if err := tx.Products().UpdateStock(ctx, product); err != nil {
			return fmt.Errorf("update stock of %s: %w", product.ID, err)
		}
	}
	return nil
}

// mergeLines складывает повторяющиеся товары и сортирует позиции по ID.
func mergeLines(lines []domain.OrderLine) ([]domain.OrderLine, error) {
	byProduct := make(map[string]int64, len(lines))
	for _, line := range lines {
		if line.ProductID == "" {
			return nil, domain.ErrProductIDRequired
		}
		if line.Quantity < 1 {
			return nil, domain.ErrQuantityInvalid
		}
		byProduct[line.ProductID] += int64(line.Quantity)
	}

	merged := make([]domain.OrderLine, 0, len(byProduct))
	for id, qty := range byProduct {
		if qty > math.MaxInt32 {
			return nil, &domain.StockError{ProductID: id, Requested: math.MaxInt32, Err: domain.ErrInsufficientStock}
		}
		merged = append(merged, domain.OrderLine{ProductID: id, Quantity: int32(qty)})
	}
	sort.Slice(merged, func(i, j int) bool { return merged[i].ProductID < merged[j].ProductID })
	return merged, nil
}
