package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/vladislavdragonenkov/foodorder/internal/domain"
)

const productColumns = `id, name, description, category, image_url, price, stock, is_deleted, is_available, created_at, updated_at`

type productRepository struct {
	tx *sql.Tx
}

func (r *productRepository) Get(ctx context.Context, id string) (domain.Product, error) {
	return r.load(ctx, id, false)
}

func (r *productRepository) GetForUpdate(ctx context.Context, id string) (domain.Product, error) {
	return r.load(ctx, id, true)
}

func (r *productRepository) load(ctx context.Context, id string, forUpdate bool) (domain.Product, error) {
	query := `SELECT ` + productColumns + ` FROM products WHERE id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}

	var (
		p        domain.Product
		category string
	)
	err := r.tx.QueryRowContext(ctx, query, id).Scan(
		&p.ID, &p.Name, &p.Description, &category, &p.ImageURL, &p.Price, &p.Stock,
		&p.IsDeleted, &p.IsAvailable, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Product{}, domain.ErrProductNotFound
		}
		return domain.Product{}, fmt.Errorf("select product: %w", mapError(err))
	}
	p.Category = domain.ProductCategory(category)
	return p, nil
}

func (r *productRepository) Create(ctx context.Context, p domain.Product) error {
	if err := p.Validate(); err != nil {
		return err
	}
	if _, err := r.tx.ExecContext(ctx, `
		INSERT INTO products (`+productColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
	`,
		p.ID, p.Name, p.Description, string(p.Category), p.ImageURL, p.Price, p.Stock,
		p.IsDeleted, p.IsAvailable, p.CreatedAt, p.UpdatedAt,
	); err != nil {
		return fmt.Errorf("insert product: %w", mapError(err))
	}
	return nil
}

func (r *productRepository) UpdateStock(ctx context.Context, p domain.Product) error {
	if p.Stock < 0 {
		return domain.ErrStockNegative
	}
	res, err := r.tx.ExecContext(ctx, `
		UPDATE products
		SET stock = $2,
		    is_available = $3,
		    updated_at = NOW()
		WHERE id = $1
	`, p.ID, p.Stock, p.IsAvailable)
	if err != nil {
		return fmt.Errorf("update product stock: %w", mapError(err))
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return domain.ErrProductNotFound
	}
	return nil
}

var _ domain.ProductRepository = (*productRepository)(nil)

const userColumns = `id, name, role, status, available, created_at`

type userRepository struct {
	tx *sql.Tx
}

func scanUser(row *sql.Row) (domain.User, error) {
	var (
		u            domain.User
		role, status string
	)
	if err := row.Scan(&u.ID, &u.Name, &role, &status, &u.Available, &u.CreatedAt); err != nil {
		return domain.User{}, err
	}
	u.Role = domain.Role(role)
	u.Status = domain.UserStatus(status)
	return u, nil
}

func (r *userRepository) Get(ctx context.Context, id string) (domain.User, error) {
	u, err := scanUser(r.tx.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id))
	return u, userLookupError(err)
}

func (r *userRepository) GetForUpdate(ctx context.Context, id string) (domain.User, error) {
	u, err := scanUser(r.tx.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1 FOR UPDATE`, id))
	return u, userLookupError(err)
}

func userLookupError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ErrUserNotFound
	}
	return fmt.Errorf("select user: %w", mapError(err))
}

func (r *userRepository) Create(ctx context.Context, u domain.User) error {
	if u.ID == "" {
		return domain.ErrUserIDRequired
	}
	if _, err := r.tx.ExecContext(ctx, `
		INSERT INTO users (`+userColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6)
	`, u.ID, u.Name, string(u.Role), string(u.Status), u.Available, u.CreatedAt); err != nil {
		return fmt.Errorf("insert user: %w", mapError(err))
	}
	return nil
}

// LockAvailableCourier пропускает курьеров, заблокированных параллельными
// оформлениями: два checkout никогда не получат одного курьера.
func (r *userRepository) LockAvailableCourier(ctx context.Context) (domain.User, error) {
	u, err := scanUser(r.tx.QueryRowContext(ctx, `
		SELECT `+userColumns+`
		FROM users
		WHERE role = 'deliveryman' AND status = 'active' AND available
		ORDER BY id
		LIMIT 1
		FOR UPDATE SKIP LOCKED
	`))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.User{}, domain.ErrNoCourierAvailable
		}
		return domain.User{}, fmt.Errorf("lock courier: %w", mapError(err))
	}
	return u, nil
}

func (r *userRepository) SetAvailable(ctx context.Context, id string, available bool) error {
	res, err := r.tx.ExecContext(ctx, `UPDATE users SET available = $2 WHERE id = $1`, id, available)
	if err != nil {
		return fmt.Errorf("update user availability: %w", mapError(err))
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return domain.ErrUserNotFound
	}
	return nil
}

var _ domain.UserRepository = (*userRepository)(nil)
