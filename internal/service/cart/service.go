// Package cart реализует агрегатор корзины: изменение позиций со снимком цены
// и пересчётом итогов перед каждым сохранением.
package cart

import (
	"context"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/foodorder/internal/cache"
	"github.com/vladislavdragonenkov/foodorder/internal/domain"
)

// InvalidateTimeout ограничивает сброс кэша после фиксации. Сброс не зависит
// от отмены запроса: зафиксированное изменение должно дойти до кэша.
const InvalidateTimeout = 2 * time.Second

// Cache: кэш прочитанных корзин. Ошибка Get трактуется как промах.
// Set принимает lease, выданный до чтения хранилища, и не перезаписывает
// корзину, изменённую после него.
type Cache interface {
	Get(ctx context.Context, userID string) (domain.Cart, error)
	Lease(ctx context.Context, userID string) (int64, error)
	Set(ctx context.Context, cart domain.Cart, lease int64) error
	Delete(ctx context.Context, userID string) error
}

// Service: операции над корзиной пользователя. Каждая операция выполняется
// в собственной транзакции и не трогает товары и заказы.
type Service struct {
	txm    domain.TxManager
	cache  Cache
	logger *log.Entry
	now    func() time.Time
}

// Option настраивает Service.
type Option func(*Service)

// WithCache подключает кэш чтения корзин.
func WithCache(cache Cache) Option {
	return func(s *Service) {
		s.cache = cache
	}
}

// WithLogger задаёт logger сервиса.
func WithLogger(logger *log.Entry) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

// WithClock подменяет источник времени.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// NewService создаёт сервис корзины.
func NewService(txm domain.TxManager, opts ...Option) *Service {
	s := &Service{
		txm: txm,
		now: func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = log.WithField("component", "cart-service")
	}
	return s
}

// AddLine добавляет товар в корзину. Для новой позиции фиксирует текущую цену
// товара, для существующей увеличивает количество. Корзина создаётся при первом добавлении.
func (s *Service) AddLine(ctx context.Context, userID, productID string, qty int32) (domain.Cart, error) {
	if err := validateLineInput(userID, productID, qty); err != nil {
		return domain.Cart{}, err
	}

	return s.mutate(ctx, userID, true, func(ctx context.Context, tx domain.Tx, cart *domain.Cart) error {
		product, err := tx.Products().Get(ctx, productID)
		if err != nil {
			return err
		}
		if product.IsDeleted {
			return &domain.StockError{ProductID: productID, Requested: qty, Available: product.Stock, Err: domain.ErrProductUnavailable}
		}
		return cart.AddLine(productID, qty, product.Price)
	})
}

// SetLineQuantity заменяет количество существующей позиции.
func (s *Service) SetLineQuantity(ctx context.Context, userID, productID string, qty int32) (domain.Cart, error) {
	if err := validateLineInput(userID, productID, qty); err != nil {
		return domain.Cart{}, err
	}

	return s.mutate(ctx, userID, false, func(_ context.Context, _ domain.Tx, cart *domain.Cart) error {
		return cart.SetQuantity(productID, qty)
	})
}

// RemoveLine удаляет позицию из корзины. Пустая корзина остаётся существовать.
func (s *Service) RemoveLine(ctx context.Context, userID, productID string) (domain.Cart, error) {
	if err := validateLineInput(userID, productID, 1); err != nil {
		return domain.Cart{}, err
	}

	return s.mutate(ctx, userID, false, func(_ context.Context, _ domain.Tx, cart *domain.Cart) error {
		return cart.RemoveLine(productID)
	})
}

// Clear удаляет корзину пользователя целиком.
func (s *Service) Clear(ctx context.Context, userID string) error {
	if userID == "" {
		return domain.ErrUserIDRequired
	}

	tx, err := s.txm.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Carts().GetForUpdate(ctx, userID); err != nil {
		return err
	}
	if err := tx.Carts().Delete(ctx, userID); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}

	s.invalidate(ctx, userID)
	return nil
}

// Read возвращает корзину пользователя, сначала из кэша.
func (s *Service) Read(ctx context.Context, userID string) (domain.Cart, error) {
	if userID == "" {
		return domain.Cart{}, domain.ErrUserIDRequired
	}

	var (
		lease  int64
		leased bool
	)
	if s.cache != nil {
		if cached, err := s.cache.Get(ctx, userID); err == nil {
			return cached, nil
		}
		if l, err := s.cache.Lease(ctx, userID); err == nil {
			lease, leased = l, true
		}
	}

	tx, err := s.txm.Begin(ctx)
	if err != nil {
		return domain.Cart{}, err
	}
	defer func() { _ = tx.Rollback() }()

	cart, err := tx.Carts().Get(ctx, userID)
	if errors.Is(err, domain.ErrCartNotFound) {
		return domain.Cart{}, domain.ErrNoCart
	}
	if err != nil {
		return domain.Cart{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Cart{}, err
	}

	if leased {
		err := s.cache.Set(ctx, cart, lease)
		switch {
		case errors.Is(err, cache.ErrStaleSnapshot):
			s.logger.WithField("user_id", userID).Debug("cart changed while reading, snapshot not cached")
		case err != nil:
			s.logger.WithError(err).WithField("user_id", userID).Warn("failed to cache cart")
		}
	}
	return cart, nil
}

// mutate загружает корзину под блокировкой, применяет change, пересчитывает
// итоги, проверяет инварианты и сохраняет. create разрешает завести новую корзину.
func (s *Service) mutate(
	ctx context.Context,
	userID string,
	create bool,
	change func(ctx context.Context, tx domain.Tx, cart *domain.Cart) error,
) (domain.Cart, error) {
	tx, err := s.txm.Begin(ctx)
	if err != nil {
		return domain.Cart{}, err
	}
	defer func() { _ = tx.Rollback() }()

	now := s.now()
	cart, err := tx.Carts().GetForUpdate(ctx, userID)
	switch {
	case errors.Is(err, domain.ErrCartNotFound) && create:
		cart = domain.NewCart(userID, now)
	case err != nil:
		return domain.Cart{}, err
	}

	if err := change(ctx, tx, &cart); err != nil {
		return domain.Cart{}, err
	}
	cart.UpdatedAt = now
	cart.Recalculate()
	if err := cart.Validate(); err != nil {
		return domain.Cart{}, fmt.Errorf("cart %s: %w", userID, err)
	}
	if err := tx.Carts().Save(ctx, cart); err != nil {
		return domain.Cart{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Cart{}, err
	}

	s.invalidate(ctx, userID)
	return cart, nil
}

func (s *Service) invalidate(ctx context.Context, userID string) {
	if s.cache == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), InvalidateTimeout)
	defer cancel()
	if err := s.cache.Delete(ctx, userID); err != nil {
		s.logger.WithError(err).WithField("user_id", userID).Warn("failed to invalidate cart cache")
	}
}

func validateLineInput(userID, productID string, qty int32) error {
	switch {
	case userID == "":
		return domain.ErrUserIDRequired
	case productID == "":
		return domain.ErrProductIDRequired
	case qty < 1:
		return domain.ErrQuantityInvalid
	default:
		return nil
	}
}
