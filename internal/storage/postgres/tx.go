package postgres

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/vladislavdragonenkov/foodorder/internal/domain"
)

// tx: транзакция PostgreSQL. Репозитории работают через один *sql.Tx,
// поэтому все изменения фиксируются или откатываются вместе.
type tx struct {
	tx *sql.Tx
}

func (t *tx) Carts() domain.CartRepository        { return &cartRepository{tx: t.tx} }
func (t *tx) Products() domain.ProductRepository  { return &productRepository{tx: t.tx} }
func (t *tx) Users() domain.UserRepository        { return &userRepository{tx: t.tx} }
func (t *tx) Orders() domain.OrderRepository      { return &orderRepository{tx: t.tx} }
func (t *tx) Timeline() domain.TimelineRepository { return &timelineRepository{tx: t.tx} }
func (t *tx) Outbox() domain.OutboxWriter         { return &outboxWriter{tx: t.tx} }

func (t *tx) Commit() error {
	if err := t.tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", mapError(err))
	}
	return nil
}

func (t *tx) Rollback() error {
	err := t.tx.Rollback()
	if err == nil || errors.Is(err, sql.ErrTxDone) {
		return nil
	}
	return fmt.Errorf("rollback tx: %w", err)
}

var _ domain.TxController = (*tx)(nil)
