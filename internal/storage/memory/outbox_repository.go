package memory

import (
	"context"
	"time"

	"github.com/vladislavdragonenkov/foodorder/internal/domain"
)

const (
	outboxStatusPending = "pending"
	outboxStatusSent    = "sent"
	outboxStatusFailed  = "failed"
)

// outboxRecord хранит сообщение и служебные поля для in-memory реализации.
type outboxRecord struct {
	msg        domain.OutboxMessage
	status     string
	attemptCnt int
	createdAt  time.Time
	updatedAt  time.Time
}

// outboxRepository: сторона outbox для воркера публикации. Записи появляются
// только после Commit транзакции, которая их поставила.
type outboxRepository struct {
	store *Store
}

// NewOutboxRepository возвращает outbox-репозиторий поверх Store.
func NewOutboxRepository(store *Store) domain.OutboxRepository {
	return &outboxRepository{store: store}
}

// PullPending возвращает pending-сообщения в порядке постановки.
func (r *outboxRepository) PullPending(ctx context.Context, limit int) ([]domain.OutboxMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 100
	}

	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	result := make([]domain.OutboxMessage, 0, limit)
	for _, rec := range r.store.outbox {
		if rec.status != outboxStatusPending {
			continue
		}
		msg := rec.msg
		msg.Payload = append([]byte(nil), rec.msg.Payload...)
		result = append(result, msg)
		if len(result) >= limit {
			break
		}
	}
	return result, nil
}

func (r *outboxRepository) Stats(ctx context.Context) (domain.OutboxStats, error) {
	if err := ctx.Err(); err != nil {
		return domain.OutboxStats{}, err
	}

	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	var stats domain.OutboxStats
	for _, rec := range r.store.outbox {
		if rec.status != outboxStatusPending {
			continue
		}
		stats.PendingCount++
		if stats.OldestPendingAt.IsZero() || rec.createdAt.Before(stats.OldestPendingAt) {
			stats.OldestPendingAt = rec.createdAt
		}
	}
	return stats, nil
}

func (r *outboxRepository) MarkSent(ctx context.Context, id string) error {
	return r.mark(ctx, id, outboxStatusSent)
}

func (r *outboxRepository) MarkFailed(ctx context.Context, id string) error {
	return r.mark(ctx, id, outboxStatusFailed)
}

func (r *outboxRepository) mark(ctx context.Context, id, status string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	for _, rec := range r.store.outbox {
		if rec.msg.ID != id {
			continue
		}
		rec.status = status
		rec.attemptCnt++
		rec.updatedAt = time.Now().UTC()
		return nil
	}
	return domain.ErrOutboxPublish
}

var _ domain.OutboxRepository = (*outboxRepository)(nil)
