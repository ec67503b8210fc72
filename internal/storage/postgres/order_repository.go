package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/vladislavdragonenkov/foodorder/internal/domain"
)

const orderColumns = `id, user_id, total_count, total_price, delivery_person_id, delivery_address, status, version, created_at, updated_at`

type orderRepository struct {
	tx *sql.Tx
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (domain.Order, error) {
	var (
		order   domain.Order
		courier sql.NullString
		address []byte
		status  string
	)
	if err := row.Scan(
		&order.ID, &order.UserID, &order.TotalCount, &order.TotalPrice, &courier,
		&address, &status, &order.Version, &order.CreatedAt, &order.UpdatedAt,
	); err != nil {
		return domain.Order{}, err
	}
	if err := json.Unmarshal(address, &order.DeliveryAddress); err != nil {
		return domain.Order{}, fmt.Errorf("decode delivery address of order %s: %w", order.ID, err)
	}
	order.DeliveryPersonID = courier.String
	order.Status = domain.OrderStatus(status)
	return order, nil
}

func (r *orderRepository) Create(ctx context.Context, order domain.Order) error {
	address, err := json.Marshal(order.DeliveryAddress)
	if err != nil {
		return fmt.Errorf("encode delivery address: %w", err)
	}

	if _, err := r.tx.ExecContext(ctx, `
		INSERT INTO orders (`+orderColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
	`,
		order.ID, order.UserID, order.TotalCount, order.TotalPrice, nullString(order.DeliveryPersonID),
		string(address), string(order.Status), order.Version, order.CreatedAt, order.UpdatedAt,
	); err != nil {
		return fmt.Errorf("insert order: %w", mapError(err))
	}

	for i, line := range order.Lines {
		if _, err := r.tx.ExecContext(ctx, `
			INSERT INTO order_lines (order_id, position, product_id, quantity)
			VALUES ($1,$2,$3,$4)
		`, order.ID, i, line.ProductID, line.Quantity); err != nil {
			return fmt.Errorf("insert order line: %w", mapError(err))
		}
	}
	return nil
}

func (r *orderRepository) Get(ctx context.Context, id string) (domain.Order, error) {
	return r.load(ctx, id, false)
}

func (r *orderRepository) GetForUpdate(ctx context.Context, id string) (domain.Order, error) {
	return r.load(ctx, id, true)
}

func (r *orderRepository) load(ctx context.Context, id string, forUpdate bool) (domain.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}

	order, err := scanOrder(r.tx.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Order{}, domain.ErrOrderNotFound
		}
		return domain.Order{}, fmt.Errorf("select order: %w", mapError(err))
	}

	lines, err := r.loadLines(ctx, []string{order.ID})
	if err != nil {
		return domain.Order{}, err
	}
	order.Lines = lines[order.ID]
	return order, nil
}

func (r *orderRepository) List(ctx context.Context, filter domain.OrderFilter) ([]domain.Order, error) {
	query, args := buildOrderListQuery(filter)
	rows, err := r.tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", mapError(err))
	}
	defer rows.Close()

	orders := make([]domain.Order, 0)
	ids := make([]string, 0)
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan order row: %w", err)
		}
		orders = append(orders, order)
		ids = append(ids, order.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate order rows: %w", err)
	}
	if len(ids) == 0 {
		return orders, nil
	}

	lines, err := r.loadLines(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range orders {
		orders[i].Lines = lines[orders[i].ID]
	}
	return orders, nil
}

// buildOrderListQuery собирает выборку заказов от новых к старым.
func buildOrderListQuery(filter domain.OrderFilter) (string, []any) {
	var (
		where []string
		args  []any
	)
	if filter.UserID != "" {
		args = append(args, filter.UserID)
		where = append(where, fmt.Sprintf("user_id = $%d", len(args)))
	}
	if filter.DeliveryPersonID != "" {
		args = append(args, filter.DeliveryPersonID)
		where = append(where, fmt.Sprintf("delivery_person_id = $%d", len(args)))
	}

	var b strings.Builder
	b.WriteString(`SELECT ` + orderColumns + ` FROM orders`)
	if len(where) > 0 {
		b.WriteString(` WHERE ` + strings.Join(where, " AND "))
	}
	b.WriteString(` ORDER BY created_at DESC, id DESC`)
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		fmt.Fprintf(&b, ` LIMIT $%d`, len(args))
	}
	return b.String(), args
}

func (r *orderRepository) loadLines(ctx context.Context, orderIDs []string) (map[string][]domain.OrderLine, error) {
	rows, err := r.tx.QueryContext(ctx, `
		SELECT order_id, product_id, quantity
		FROM order_lines
		WHERE order_id = ANY($1)
		ORDER BY order_id, position ASC
	`, orderIDs)
	if err != nil {
		return nil, fmt.Errorf("load order lines: %w", mapError(err))
	}
	defer rows.Close()

	result := make(map[string][]domain.OrderLine, len(orderIDs))
	for rows.Next() {
		var (
			orderID string
			line    domain.OrderLine
		)
		if err := rows.Scan(&orderID, &line.ProductID, &line.Quantity); err != nil {
			return nil, fmt.Errorf("scan order line: %w", err)
		}
		result[orderID] = append(result[orderID], line)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate order lines: %w", err)
	}
	return result, nil
}

func (r *orderRepository) UpdateStatus(ctx context.Context, order domain.Order) error {
	updatedAt := order.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now().UTC()
	}

	res, err := r.tx.ExecContext(ctx, `
		UPDATE orders
		SET status = $1,
		    delivery_person_id = $2,
		    version = version + 1,
		    updated_at = $3
		WHERE id = $4
		  AND version = $5
	`, string(order.Status), nullString(order.DeliveryPersonID), updatedAt, order.ID, order.Version)
	if err != nil {
		return fmt.Errorf("update order status: %w", mapError(err))
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected > 0 {
		return nil
	}

	var id string
	err = r.tx.QueryRowContext(ctx, `SELECT id FROM orders WHERE id = $1`, order.ID).Scan(&id)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return domain.ErrOrderNotFound
	case err != nil:
		return fmt.Errorf("check order exists: %w", mapError(err))
	default:
		return domain.ErrOrderVersionConflict
	}
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

var _ domain.OrderRepository = (*orderRepository)(nil)

type timelineRepository struct {
	tx *sql.Tx
}

func (r *timelineRepository) Append(ctx context.Context, event domain.TimelineEvent) error {
	if event.OrderID == "" {
		return errors.New("timeline event order id is required")
	}
	if event.Occurred.IsZero() {
		event.Occurred = time.Now().UTC()
	}

	if _, err := r.tx.ExecContext(ctx, `
		INSERT INTO order_timeline (order_id, type, reason, actor_id, occurred)
		VALUES ($1,$2,$3,$4,$5)
	`, event.OrderID, event.Type, event.Reason, event.ActorID, event.Occurred); err != nil {
		return fmt.Errorf("append timeline event: %w", mapError(err))
	}
	return nil
}

func (r *timelineRepository) List(ctx context.Context, orderID string) ([]domain.TimelineEvent, error) {
	rows, err := r.tx.QueryContext(ctx, `
		SELECT order_id, type, reason, actor_id, occurred
		FROM order_timeline
		WHERE order_id = $1
		ORDER BY occurred ASC, id ASC
	`, orderID)
	if err != nil {
		return nil, fmt.Errorf("list timeline events: %w", mapError(err))
	}
	defer rows.Close()

	events := make([]domain.TimelineEvent, 0)
	for rows.Next() {
		var event domain.TimelineEvent
		if err := rows.Scan(&event.OrderID, &event.Type, &event.Reason, &event.ActorID, &event.Occurred); err != nil {
			return nil, fmt.Errorf("scan timeline event: %w", err)
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate timeline events: %w", err)
	}
	return events, nil
}

var _ domain.TimelineRepository = (*timelineRepository)(nil)
