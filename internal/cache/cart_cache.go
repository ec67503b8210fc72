// Package cache: кэш чтения корзин в Redis.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/vladislavdragonenkov/foodorder/internal/domain"
)

var (
	// ErrCacheMiss: корзины нет в кэше.
	ErrCacheMiss = errors.New("cache miss")
	// ErrStaleSnapshot: корзину изменили после выдачи lease, снимок не записан.
	ErrStaleSnapshot = errors.New("stale cart snapshot")
)

const (
	defaultTTL    = 15 * time.Minute
	defaultJitter = 5 * time.Minute
)

// setIfGeneration пишет снимок, только если поколение корзины не сдвинулось.
// Отсутствующее поколение равно "0".
var setIfGeneration = redis.NewScript(`
local gen = redis.call('GET', KEYS[2])
if not gen then gen = '0' end
if gen ~= ARGV[1] then return 0 end
redis.call('SET', KEYS[1], ARGV[2], 'PX', ARGV[3])
return 1
`)

// invalidate сдвигает поколение и удаляет снимок одной операцией.
var invalidate = redis.NewScript(`
redis.call('INCR', KEYS[2])
redis.call('PEXPIRE', KEYS[2], ARGV[1])
return redis.call('DEL', KEYS[1])
`)

// RedisCartCache хранит снимки корзин под ключом cart:<userID>.
// Запись идёт только после чтения из хранилища и только под lease: каждое
// изменение корзины сдвигает поколение cart:<userID>:gen, и снимок, прочитанный
// до изменения, уже не попадёт в кэш.
type RedisCartCache struct {
	client redis.Cmdable
	ttl    time.Duration
	jitter time.Duration
}

// Option настраивает RedisCartCache.
type Option func(*RedisCartCache)

// WithTTL задаёт базовый срок жизни записи.
func WithTTL(ttl time.Duration) Option {
	return func(c *RedisCartCache) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

// WithJitter задаёт максимальную случайную добавку к TTL. 0 отключает её.
func WithJitter(jitter time.Duration) Option {
	return func(c *RedisCartCache) {
		if jitter >= 0 {
			c.jitter = jitter
		}
	}
}

// NewRedisCartCache создаёт кэш поверх клиента Redis.
func NewRedisCartCache(client redis.Cmdable, opts ...Option) *RedisCartCache {
	c := &RedisCartCache{client: client, ttl: defaultTTL, jitter: defaultJitter}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type cachedLine struct {
	ProductID string `json:"product_id"`
	Quantity  int32  `json:"quantity"`
	UnitPrice int64  `json:"unit_price"`
}

type cachedCart struct {
	UserID     string       `json:"user_id"`
	Lines      []cachedLine `json:"lines"`
	TotalCount int64        `json:"total_count"`
	TotalPrice int64        `json:"total_price"`
	CreatedAt  time.Time    `json:"created_at"`
	UpdatedAt  time.Time    `json:"updated_at"`
}

// Get возвращает корзину или ErrCacheMiss.
func (c *RedisCartCache) Get(ctx context.Context, userID string) (domain.Cart, error) {
	data, err := c.client.Get(ctx, cacheKey(userID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.Cart{}, ErrCacheMiss
	}
	if err != nil {
		return domain.Cart{}, fmt.Errorf("redis get: %w", err)
	}

	var cached cachedCart
	if err := json.Unmarshal(data, &cached); err != nil {
		return domain.Cart{}, fmt.Errorf("unmarshal cached cart: %w", err)
	}
	cart := domain.Cart{
		UserID:     cached.UserID,
		Lines:      make([]domain.CartLine, 0, len(cached.Lines)),
		TotalCount: cached.TotalCount,
		TotalPrice: cached.TotalPrice,
		CreatedAt:  cached.CreatedAt,
		UpdatedAt:  cached.UpdatedAt,
	}
	for _, l := range cached.Lines {
		cart.Lines = append(cart.Lines, domain.CartLine{ProductID: l.ProductID, Quantity: l.Quantity, UnitPrice: l.UnitPrice})
	}
	return cart, nil
}

// Lease возвращает текущее поколение корзины. Его берут до чтения хранилища
// и передают в Set.
func (c *RedisCartCache) Lease(ctx context.Context, userID string) (int64, error) {
	gen, err := c.client.Get(ctx, generationKey(userID)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("redis get generation: %w", err)
	}
	return gen, nil
}

// Set кладёт корзину в кэш на TTL со случайной добавкой, если с момента Lease
// корзину не меняли. Иначе возвращает ErrStaleSnapshot.
func (c *RedisCartCache) Set(ctx context.Context, cart domain.Cart, lease int64) error {
	cached := cachedCart{
		UserID:     cart.UserID,
		Lines:      make([]cachedLine, 0, len(cart.Lines)),
		TotalCount: cart.TotalCount,
		TotalPrice: cart.TotalPrice,
		CreatedAt:  cart.CreatedAt,
		UpdatedAt:  cart.UpdatedAt,
	}
	for _, l := range cart.Lines {
		cached.Lines = append(cached.Lines, cachedLine{ProductID: l.ProductID, Quantity: l.Quantity, UnitPrice: l.UnitPrice})
	}
	data, err := json.Marshal(cached)
	if err != nil {
		return fmt.Errorf("marshal cart: %w", err)
	}
	keys := []string{cacheKey(cart.UserID), generationKey(cart.UserID)}
	stored, err := setIfGeneration.Run(ctx, c.client, keys, lease, data, c.expiry().Milliseconds()).Int()
	if err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	if stored == 0 {
		return ErrStaleSnapshot
	}
	return nil
}

// Delete удаляет корзину из кэша и сдвигает её поколение. Отсутствие ключа не ошибка.
func (c *RedisCartCache) Delete(ctx context.Context, userID string) error {
	keys := []string{cacheKey(userID), generationKey(userID)}
	if err := invalidate.Run(ctx, c.client, keys, c.generationTTL().Milliseconds()).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

// Ping проверяет соединение для readiness.
func (c *RedisCartCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisCartCache) expiry() time.Duration {
	if c.jitter <= 0 {
		return c.ttl
	}
	return c.ttl + rand.N(c.jitter)
}

// generationTTL переживает любой снимок, выданный до сдвига поколения.
func (c *RedisCartCache) generationTTL() time.Duration {
	return 2 * (c.ttl + c.jitter)
}

func cacheKey(userID string) string {
	return fmt.Sprintf("cart:%s", userID)
}

func generationKey(userID string) string {
	return fmt.Sprintf("cart:%s:gen", userID)
}

// Noop: кэш, который ничего не хранит.
type Noop struct{}

func (Noop) Get(context.Context, string) (domain.Cart, error) { return domain.Cart{}, ErrCacheMiss }
func (Noop) Lease(context.Context, string) (int64, error)     { return 0, nil }
func (Noop) Set(context.Context, domain.Cart, int64) error    { return nil }
func (Noop) Delete(context.Context, string) error             { return nil }
