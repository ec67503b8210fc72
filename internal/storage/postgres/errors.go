package postgres

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/vladislavdragonenkov/foodorder/internal/domain"
)

// SQLSTATE-коды, которые сервис различает.
const (
	codeSerializationFailure = "40001"
	codeDeadlockDetected     = "40P01"
	codeLockNotAvailable     = "55P03"
	codeUniqueViolation      = "23505"
	codeCheckViolation       = "23514"

	stockConstraint = "products_stock_non_negative"
)

// mapError переводит ошибки PostgreSQL в доменную таксономию.
// Конфликты блокировок становятся ErrTxConflict, чтобы клиент мог повторить запрос.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	switch pgErr.Code {
	case codeSerializationFailure, codeDeadlockDetected, codeLockNotAvailable:
		return fmt.Errorf("%w: %s", domain.ErrTxConflict, pgErr.Message)
	case codeUniqueViolation:
		return fmt.Errorf("%w: %s", domain.ErrAlreadyExists, pgErr.ConstraintName)
	case codeCheckViolation:
		if pgErr.ConstraintName == stockConstraint {
			return fmt.Errorf("%w: %s", domain.ErrStockNegative, pgErr.ConstraintName)
		}
		return err
	default:
		return err
	}
}
