package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/vladislavdragonenkov/foodorder/internal/domain"
)

type cartRepository struct {
	tx *sql.Tx
}

func (r *cartRepository) Get(ctx context.Context, userID string) (domain.Cart, error) {
	return r.load(ctx, userID, false)
}

// GetForUpdate берёт транзакционный advisory lock по пользователю: он сериализует
// операции над корзиной даже тогда, когда строки carts ещё нет.
func (r *cartRepository) GetForUpdate(ctx context.Context, userID string) (domain.Cart, error) {
	if _, err := r.tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, userID); err != nil {
		return domain.Cart{}, fmt.Errorf("lock cart: %w", mapError(err))
	}
	return r.load(ctx, userID, true)
}

func (r *cartRepository) load(ctx context.Context, userID string, forUpdate bool) (domain.Cart, error) {
	query := `
		SELECT user_id, total_count, total_price, created_at, updated_at
		FROM carts
		WHERE user_id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}

	var cart domain.Cart
	err := r.tx.QueryRowContext(ctx, query, userID).Scan(
		&cart.UserID, &cart.TotalCount, &cart.TotalPrice, &cart.CreatedAt, &cart.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Cart{}, domain.ErrCartNotFound
		}
		return domain.Cart{}, fmt.Errorf("select cart: %w", mapError(err))
	}

	rows, err := r.tx.QueryContext(ctx, `
		SELECT product_id, quantity, unit_price
		FROM cart_lines
		WHERE user_id = $1
		ORDER BY position ASC
	`, userID)
	if err != nil {
		return domain.Cart{}, fmt.Errorf("load cart lines: %w", mapError(err))
	}
	defer rows.Close()

	cart.Lines = make([]domain.CartLine, 0)
	for rows.Next() {
		var line domain.CartLine
		if err := rows.Scan(&line.ProductID, &line.Quantity, &line.UnitPrice); err != nil {
			return domain.Cart{}, fmt.Errorf("scan cart line: %w", err)
		}
		cart.Lines = append(cart.Lines, line)
	}
	if err := rows.Err(); err != nil {
		return domain.Cart{}, fmt.Errorf("iterate cart lines: %w", err)
	}
	return cart, nil
}

// Save заменяет корзину целиком: строку carts и все позиции.
func (r *cartRepository) Save(ctx context.Context, cart domain.Cart) error {
	if cart.UserID == "" {
		return domain.ErrUserIDRequired
	}

	if _, err := r.tx.ExecContext(ctx, `
		INSERT INTO carts (user_id, total_count, total_price, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5)
		ON CONFLICT (user_id) DO UPDATE
		SET total_count = EXCLUDED.total_count,
		    total_price = EXCLUDED.total_price,
		    updated_at = EXCLUDED.updated_at
	`, cart.UserID, cart.TotalCount, cart.TotalPrice, cart.CreatedAt, cart.UpdatedAt); err != nil {
		return fmt.Errorf("upsert cart: %w", mapError(err))
	}

	if _, err := r.tx.ExecContext(ctx, `DELETE FROM cart_lines WHERE user_id = $1`, cart.UserID); err != nil {
		return fmt.Errorf("clear cart lines: %w", mapError(err))
	}
	for i, line := range cart.Lines {
		if _, err := r.tx.ExecContext(ctx, `
			INSERT INTO cart_lines (user_id, product_id, position, quantity, unit_price)
			VALUES ($1,$2,$3,$4,$5)
		`, cart.UserID, line.ProductID, i, line.Quantity, line.UnitPrice); err != nil {
			return fmt.Errorf("insert cart line: %w", mapError(err))
		}
	}
	return nil
}

func (r *cartRepository) Delete(ctx context.Context, userID string) error {
	res, err := r.tx.ExecContext(ctx, `DELETE FROM carts WHERE user_id = $1`, userID)
	if err != nil {
		return fmt.Errorf("delete cart: %w", mapError(err))
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return domain.ErrCartNotFound
	}
	return nil
}

var _ domain.CartRepository = (*cartRepository)(nil)
