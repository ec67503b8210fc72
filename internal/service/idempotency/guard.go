package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"

	"github.com/vladislavdragonenkov/foodorder/internal/domain"
	"github.com/vladislavdragonenkov/foodorder/internal/metrics"
)

// DefaultTTL: срок жизни ключа.
const DefaultTTL = 24 * time.Hour

// Guard пропускает запрос с ключом один раз и выдаёт сохранённый ответ на повторы.
type Guard struct {
	repo    domain.IdempotencyRepository
	ttl     time.Duration
	metrics *metrics.IdempotencyMetrics
	now     func() time.Time
}

// GuardOption настраивает Guard.
type GuardOption func(*Guard)

// WithTTL задаёт срок жизни ключа.
func WithTTL(ttl time.Duration) GuardOption {
	return func(g *Guard) {
		g.ttl = ttl
	}
}

// WithGuardMetrics включает учёт решений по ключам.
func WithGuardMetrics(m *metrics.IdempotencyMetrics) GuardOption {
	return func(g *Guard) {
		g.metrics = m
	}
}

// NewGuard создаёт Guard поверх репозитория ключей.
func NewGuard(repo domain.IdempotencyRepository, opts ...GuardOption) *Guard {
	g := &Guard{
		repo: repo,
		ttl:  DefaultTTL,
		now:  func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.ttl <= 0 {
		g.ttl = DefaultTTL
	}
	return g
}

// HashRequest: отпечаток тела запроса, с которым сравниваются повторы.
func HashRequest(parts ...[]byte) string {
	h := sha256.New()
	for _, part := range parts {
		h.Write(part)
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Acquire занимает ключ. Если запрос с тем же ключом и телом уже завершён,
// возвращает его запись и replay=true. Незавершённый запрос даёт
// ErrIdempotencyKeyAlreadyExists, другое тело даёт ErrIdempotencyHashMismatch.
func (g *Guard) Acquire(ctx context.Context, key, requestHash string) (domain.IdempotencyRecord, bool, error) {
	record, err := g.repo.CreateProcessing(ctx, key, requestHash, g.now().Add(g.ttl))
	switch {
	case err == nil:
		g.decision("new")
		return record, false, nil
	case errors.Is(err, domain.ErrIdempotencyHashMismatch):
		g.decision("mismatch")
		return domain.IdempotencyRecord{}, false, err
	case errors.Is(err, domain.ErrIdempotencyKeyAlreadyExists):
		if record.Status != domain.IdempotencyStatusDone && record.Status != domain.IdempotencyStatusFailed {
			g.decision("in_progress")
			return domain.IdempotencyRecord{}, false, err
		}
		g.decision("replayed")
		return record, true, nil
	default:
		return domain.IdempotencyRecord{}, false, err
	}
}

// Complete сохраняет итоговый ответ: успешный как done, ошибку клиента как failed.
func (g *Guard) Complete(ctx context.Context, key string, httpStatus int, body []byte) error {
	if httpStatus >= 200 && httpStatus < 300 {
		return g.repo.MarkDone(ctx, key, body, httpStatus)
	}
	return g.repo.MarkFailed(ctx, key, body, httpStatus)
}

// Release снимает ключ, чтобы клиент мог повторить запрос.
func (g *Guard) Release(ctx context.Context, key string) error {
	err := g.repo.Delete(ctx, key)
	if errors.Is(err, domain.ErrIdempotencyKeyNotFound) {
		return nil
	}
	return err
}

func (g *Guard) decision(d string) {
	if g.metrics != nil {
		g.metrics.Decision(d)
	}
}
