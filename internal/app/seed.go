package app

import (
	"context"
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/foodorder/internal/domain"
)

var demoProducts = []domain.Product{
	{ID: "margherita", Name: "Margherita", Category: domain.CategoryVeg, Price: 45000, Stock: 200},
	{ID: "pepperoni", Name: "Pepperoni", Category: domain.CategoryNonVeg, Price: 52000, Stock: 200},
	{ID: "paneer-tikka", Name: "Paneer Tikka", Category: domain.CategoryVeg, Price: 32000, Stock: 150},
	{ID: "chicken-biryani", Name: "Chicken Biryani", Category: domain.CategoryNonVeg, Price: 38000, Stock: 150},
	{ID: "tomato-soup", Name: "Tomato Soup", Category: domain.CategoryVeg, Price: 15000, Stock: 300},
}

const demoCouriers = 20

// seedDemo наполняет пустое хранилище каталогом и курьерами для локального запуска.
func seedDemo(ctx context.Context, txm domain.TxManager, now time.Time) error {
	tx, err := txm.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	for _, p := range demoProducts {
		p.CreatedAt, p.UpdatedAt = now, now
		p.RecomputeAvailability()
		if err := tx.Products().Create(ctx, p); err != nil {
			return fmt.Errorf("seed product %s: %w", p.ID, err)
		}
	}
	for i := 1; i <= demoCouriers; i++ {
		courier := domain.User{
			ID:        fmt.Sprintf("courier-%d", i),
			Name:      fmt.Sprintf("Courier %d", i),
			Role:      domain.RoleDeliveryman,
			Status:    domain.UserStatusActive,
			Available: true,
			CreatedAt: now,
		}
		if err := tx.Users().Create(ctx, courier); err != nil {
			return fmt.Errorf("seed courier %s: %w", courier.ID, err)
		}
	}
	return tx.Commit()
}
