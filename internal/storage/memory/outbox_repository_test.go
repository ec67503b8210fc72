package memory

import (
	"context"
	"testing"

	"github.com/vladislavdragonenkov/foodorder/internal/domain"
)

func enqueueCommitted(t *testing.T, store *Store, msg domain.OutboxMessage) domain.OutboxMessage {
	t.Helper()
	ctx := context.Background()

	tx, err := store.Begin(ctx)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	saved, err := tx.Outbox().Enqueue(ctx, msg)
	if err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
	return saved
}

func TestOutboxRepository_EnqueueAndPull(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	repo := NewOutboxRepository(store)

	saved := enqueueCommitted(t, store, domain.OutboxMessage{
		AggregateType: domain.AggregateOrder,
		AggregateID:   "order-1",
		EventType:     domain.EventOrderCreated,
		Payload:       []byte(`{"status":"confirmed"}`),
	})
	if saved.ID == "" {
		t.Fatal("expected generated id")
	}

	pending, err := repo.PullPending(ctx, 10)
	if err != nil {
		t.Fatalf("pull: %v", err)
	}
	if len(pending) != 1 || pending[0].ID != saved.ID {
		t.Fatalf("expected the committed message, got %+v", pending)
	}

	stats, err := repo.Stats(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.PendingCount != 1 || stats.OldestPendingAt.IsZero() {
		t.Fatalf("unexpected stats %+v", stats)
	}
}

func TestOutboxRepository_RolledBackMessageIsInvisible(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	repo := NewOutboxRepository(store)

	tx, err := store.Begin(ctx)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	if _, err := tx.Outbox().Enqueue(ctx, domain.OutboxMessage{AggregateID: "order-1"}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	pending, _ := repo.PullPending(ctx, 10)
	if len(pending) != 0 {
		t.Fatalf("uncommitted message leaked: %+v", pending)
	}

	if err := tx.Rollback(); err != nil {
		t.Fatalf("rollback: %v", err)
	}
	pending, _ = repo.PullPending(ctx, 10)
	if len(pending) != 0 {
		t.Fatalf("rolled back message leaked: %+v", pending)
	}
}

func TestOutboxRepository_MarkSentAndFailed(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	repo := NewOutboxRepository(store)

	first := enqueueCommitted(t, store, domain.OutboxMessage{AggregateType: domain.AggregateOrder})
	second := enqueueCommitted(t, store, domain.OutboxMessage{AggregateType: domain.AggregateOrder})

	if err := repo.MarkSent(ctx, first.ID); err != nil {
		t.Fatalf("mark sent failed: %v", err)
	}
	if err := repo.MarkFailed(ctx, second.ID); err != nil {
		t.Fatalf("mark failed: %v", err)
	}
	if err := repo.MarkFailed(ctx, "missing"); err == nil {
		t.Fatal("expected error for missing record")
	}

	pending, _ := repo.PullPending(ctx, 10)
	if len(pending) != 0 {
		t.Fatalf("expected empty backlog, got %d", len(pending))
	}
	if store.outbox[0].attemptCnt != 1 || store.outbox[0].status != outboxStatusSent {
		t.Fatalf("unexpected record state %+v", store.outbox[0])
	}
}
