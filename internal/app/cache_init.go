package app

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/foodorder/internal/cache"
)

const redisDialTimeout = 2 * time.Second

// initCartCache подключает redis-кэш корзин. Недоступный при старте redis
// отключает кэш: корзины читаются из хранилища.
func initCartCache(ctx context.Context, cfg Config, logger *log.Entry) (*cache.RedisCartCache, func()) {
	if cfg.RedisAddr == "" {
		return nil, func() {}
	}

	client := redis.NewClient(&redis.Options{
		Addr:        cfg.RedisAddr,
		DialTimeout: redisDialTimeout,
	})
	closeFn := func() {
		if err := client.Close(); err != nil {
			logger.WithError(err).Warn("failed to close redis client")
		}
	}

	pingCtx, cancel := context.WithTimeout(ctx, redisDialTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		logger.WithError(err).WithField("addr", cfg.RedisAddr).Warn("redis is unavailable, cart cache disabled")
		closeFn()
		return nil, func() {}
	}

	logger.WithField("addr", cfg.RedisAddr).Info("cart cache enabled")
	return cache.NewRedisCartCache(client, cache.WithTTL(cfg.CartCacheTTL)), closeFn
}
