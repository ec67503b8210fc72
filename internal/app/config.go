package app

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
)

// Драйверы хранилища.
const (
	StorageDriverMemory   = "memory"
	StorageDriverPostgres = "postgres"
)

// Config описывает настройки запуска сервиса.
type Config struct {
	HTTPAddr       string
	MetricsAddr    string
	GRPCHealthAddr string

	StorageDriver       string
	PostgresDSN         string
	PostgresAutoMigrate bool
	LockTimeout         time.Duration

	RequestTimeout            time.Duration
	CheckoutTimeout           time.Duration
	CheckoutRequireAcceptance bool

	// KafkaBrokers: список брокеров через запятую. Пусто — outbox не публикуется.
	KafkaBrokers  string
	KafkaTopic    string
	KafkaDLQTopic string

	// RedisAddr: адрес кэша корзин. Пусто — корзины читаются только из хранилища.
	RedisAddr    string
	CartCacheTTL time.Duration

	OutboxPollInterval time.Duration
	OutboxBatchSize    int
	OutboxMaxAttempts  int
	OutboxRetryDelay   time.Duration

	IdempotencyTTL              time.Duration
	IdempotencyCleanupInterval  time.Duration
	IdempotencyCleanupBatchSize int

	SeedDemo        bool
	LogLevel        string
	ShutdownTimeout time.Duration
}

// DefaultConfig возвращает настройки для локального запуска на memory-хранилище.
func DefaultConfig() Config {
	return Config{
		HTTPAddr:                    ":8080",
		MetricsAddr:                 ":9090",
		StorageDriver:               StorageDriverMemory,
		PostgresAutoMigrate:         true,
		LockTimeout:                 5 * time.Second,
		RequestTimeout:              10 * time.Second,
		CheckoutTimeout:             5 * time.Second,
		KafkaTopic:                  "food.order.events",
		KafkaDLQTopic:               "food.order.dlq",
		CartCacheTTL:                15 * time.Minute,
		OutboxPollInterval:          time.Second,
		OutboxBatchSize:             100,
		OutboxMaxAttempts:           3,
		OutboxRetryDelay:            50 * time.Millisecond,
		IdempotencyTTL:              24 * time.Hour,
		IdempotencyCleanupInterval:  time.Minute,
		IdempotencyCleanupBatchSize: 500,
		LogLevel:                    "info",
		ShutdownTimeout:             5 * time.Second,
	}
}

// ConfigFromEnv накладывает переменные окружения на DefaultConfig.
// Все некорректные значения возвращаются одной ошибкой.
func ConfigFromEnv(getenv func(string) string) (Config, error) {
	cfg := DefaultConfig()
	p := envParser{getenv: getenv}

	p.str("FOOD_HTTP_ADDR", &cfg.HTTPAddr)
	p.str("FOOD_METRICS_ADDR", &cfg.MetricsAddr)
	p.str("FOOD_GRPC_HEALTH_ADDR", &cfg.GRPCHealthAddr)
	p.str("FOOD_STORAGE_DRIVER", &cfg.StorageDriver)
	p.str("FOOD_POSTGRES_DSN", &cfg.PostgresDSN)
	p.boolean("FOOD_POSTGRES_AUTO_MIGRATE", &cfg.PostgresAutoMigrate)
	p.duration("FOOD_LOCK_TIMEOUT", &cfg.LockTimeout)
	p.duration("FOOD_REQUEST_TIMEOUT", &cfg.RequestTimeout)
	p.duration("FOOD_CHECKOUT_TIMEOUT", &cfg.CheckoutTimeout)
	p.boolean("FOOD_CHECKOUT_REQUIRE_ACCEPTANCE", &cfg.CheckoutRequireAcceptance)
	p.str("KAFKA_BROKERS", &cfg.KafkaBrokers)
	p.str("FOOD_KAFKA_TOPIC", &cfg.KafkaTopic)
	p.str("FOOD_KAFKA_DLQ_TOPIC", &cfg.KafkaDLQTopic)
	p.str("FOOD_REDIS_ADDR", &cfg.RedisAddr)
	p.duration("FOOD_CART_CACHE_TTL", &cfg.CartCacheTTL)
	p.duration("FOOD_OUTBOX_POLL_INTERVAL", &cfg.OutboxPollInterval)
	p.integer("FOOD_OUTBOX_BATCH_SIZE", &cfg.OutboxBatchSize)
	p.integer("FOOD_OUTBOX_MAX_ATTEMPTS", &cfg.OutboxMaxAttempts)
	p.duration("FOOD_OUTBOX_RETRY_DELAY", &cfg.OutboxRetryDelay)
	p.duration("FOOD_IDEMPOTENCY_TTL", &cfg.IdempotencyTTL)
	p.duration("FOOD_IDEMPOTENCY_CLEANUP_INTERVAL", &cfg.IdempotencyCleanupInterval)
	p.integer("FOOD_IDEMPOTENCY_CLEANUP_BATCH_SIZE", &cfg.IdempotencyCleanupBatchSize)
	p.boolean("FOOD_SEED_DEMO", &cfg.SeedDemo)
	p.str("FOOD_LOG_LEVEL", &cfg.LogLevel)
	p.duration("FOOD_SHUTDOWN_TIMEOUT", &cfg.ShutdownTimeout)

	if err := errors.Join(p.errs...); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate проверяет согласованность настроек.
func (c Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.HTTPAddr) == "" {
		errs = append(errs, errors.New("http address is required"))
	}
	if strings.TrimSpace(c.MetricsAddr) == "" {
		errs = append(errs, errors.New("metrics address is required"))
	}
	switch c.StorageDriver {
	case StorageDriverMemory:
	case StorageDriverPostgres:
		if strings.TrimSpace(c.PostgresDSN) == "" {
			errs = append(errs, errors.New("FOOD_POSTGRES_DSN is required for postgres storage"))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported storage driver %q", c.StorageDriver))
	}
	if c.SeedDemo && c.StorageDriver != StorageDriverMemory {
		errs = append(errs, errors.New("demo seed is supported only for memory storage"))
	}
	if c.KafkaBrokers != "" && (c.KafkaTopic == "" || c.KafkaDLQTopic == "") {
		errs = append(errs, errors.New("kafka topics must be set when brokers are configured"))
	}
	for name, d := range map[string]time.Duration{
		"lock timeout":                 c.LockTimeout,
		"request timeout":              c.RequestTimeout,
		"checkout timeout":             c.CheckoutTimeout,
		"outbox retry delay":           c.OutboxRetryDelay,
		"cart cache ttl":               c.CartCacheTTL,
		"shutdown timeout":             c.ShutdownTimeout,
		"idempotency ttl":              c.IdempotencyTTL,
		"outbox poll interval":         c.OutboxPollInterval,
		"idempotency cleanup interval": c.IdempotencyCleanupInterval,
	} {
		if d < 0 {
			errs = append(errs, fmt.Errorf("%s must be non-negative", name))
		}
	}
	if c.OutboxBatchSize < 0 || c.OutboxMaxAttempts < 0 || c.IdempotencyCleanupBatchSize < 0 {
		errs = append(errs, errors.New("worker batch sizes and attempts must be non-negative"))
	}
	if c.LogLevel != "" {
		if _, err := log.ParseLevel(c.LogLevel); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

type envParser struct {
	getenv func(string) string
	errs   []error
}

func (p *envParser) lookup(key string) (string, bool) {
	v := strings.TrimSpace(p.getenv(key))
	return v, v != ""
}

func (p *envParser) str(key string, dst *string) {
	if v, ok := p.lookup(key); ok {
		*dst = v
	}
}

func (p *envParser) boolean(key string, dst *bool) {
	v, ok := p.lookup(key)
	if !ok {
		return
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("%s: invalid boolean %q", key, v))
		return
	}
	*dst = b
}

func (p *envParser) integer(key string, dst *int) {
	v, ok := p.lookup(key)
	if !ok {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("%s: invalid integer %q", key, v))
		return
	}
	*dst = n
}

func (p *envParser) duration(key string, dst *time.Duration) {
	v, ok := p.lookup(key)
	if !ok {
		return
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("%s: invalid duration %q", key, v))
		return
	}
	*dst = d
}
