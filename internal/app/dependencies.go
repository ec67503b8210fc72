package app

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/foodorder/internal/domain"
	"github.com/vladislavdragonenkov/foodorder/internal/health"
	"github.com/vladislavdragonenkov/foodorder/internal/storage/memory"
	"github.com/vladislavdragonenkov/foodorder/internal/storage/postgres"
)

// runtimeDependencies: хранилище и репозитории, общие для всех компонентов.
type runtimeDependencies struct {
	txm             domain.TxManager
	memStore        *memory.Store
	outboxRepo      domain.OutboxRepository
	idempotencyRepo domain.IdempotencyRepository
	storageChecker  health.Checker
	closeFn         func() error
}

func (d *runtimeDependencies) close(logger *log.Entry) {
	if d == nil || d.closeFn == nil {
		return
	}
	if err := d.closeFn(); err != nil {
		logger.WithError(err).Warn("failed to close storage")
	}
}

// initRuntimeDependencies открывает хранилище выбранного драйвера.
func initRuntimeDependencies(ctx context.Context, cfg Config, logger *log.Entry) (*runtimeDependencies, error) {
	switch cfg.StorageDriver {
	case StorageDriverMemory, "":
		store := memory.NewStore(memory.WithLockWait(cfg.LockTimeout))
		logger.Info("using in-memory storage")
		return &runtimeDependencies{
			txm:             store,
			memStore:        store,
			outboxRepo:      memory.NewOutboxRepository(store),
			idempotencyRepo: memory.NewIdempotencyRepository(),
			storageChecker:  health.NewChecker("storage", store.Ping),
		}, nil

	case StorageDriverPostgres:
		if cfg.PostgresDSN == "" {
			return nil, fmt.Errorf("postgres storage requires FOOD_POSTGRES_DSN")
		}
		store, err := postgres.Open(ctx, cfg.PostgresDSN, postgres.WithLockTimeout(cfg.LockTimeout))
		if err != nil {
			return nil, err
		}
		if cfg.PostgresAutoMigrate {
			applied, err := store.MigrateUp(ctx, 0)
			if err != nil {
				_ = store.Close()
				return nil, fmt.Errorf("apply migrations: %w", err)
			}
			logger.WithField("applied", len(applied)).Info("postgres migrations applied")
		}
		logger.Info("using postgres storage")
		return &runtimeDependencies{
			txm:             store,
			outboxRepo:      postgres.NewOutboxRepository(store),
			idempotencyRepo: postgres.NewIdempotencyRepository(store),
			storageChecker:  health.NewChecker("storage", store.Ping),
			closeFn:         store.Close,
		}, nil

	default:
		return nil, fmt.Errorf("unsupported storage driver %q", cfg.StorageDriver)
	}
}
