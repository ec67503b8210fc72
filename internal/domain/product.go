package domain

import "time"

// ProductCategory: категория блюда в каталоге.
type ProductCategory string

const (
	CategoryVeg    ProductCategory = "veg"
	CategoryNonVeg ProductCategory = "non-veg"
)

// Product: товар каталога. Каталог владеет описательными полями,
// остаток и доступность меняет только складской шлюз при оформлении заказа.
type Product struct {
	ID          string
	Name        string
	Description string
	Category    ProductCategory
	ImageURL    string
	// Price: цена за единицу в минимальных денежных единицах.
	Price       int64
	Stock       int32
	IsDeleted   bool
	IsAvailable bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// RecomputeAvailability пересчитывает производный признак доступности.
// Вызывается владельцем изменения непосредственно перед сохранением.
func (p *Product) RecomputeAvailability() {
	p.IsAvailable = p.Stock > 0 && !p.IsDeleted
}

// Validate проверяет инварианты товара.
func (p Product) Validate() error {
	if p.ID == "" {
		return ErrProductIDRequired
	}
	if p.Price < 0 {
		return ErrPriceNegative
	}
	if p.Stock < 0 {
		return ErrStockNegative
	}
	return nil
}

// CheckReservable проверяет, можно ли списать qty единиц, не изменяя товар.
func (p Product) CheckReservable(qty int32) error {
	if qty < 1 {
		return ErrQuantityInvalid
	}
	if p.IsDeleted {
		return &StockError{ProductID: p.ID, Requested: qty, Available: p.Stock, Err: ErrProductUnavailable}
	}
	if p.Stock < qty {
		return &StockError{ProductID: p.ID, Requested: qty, Available: p.Stock, Err: ErrInsufficientStock}
	}
	return nil
}

// Decrement списывает qty единиц и пересчитывает доступность.
func (p *Product) Decrement(qty int32) error {
	if err := p.CheckReservable(qty); err != nil {
		return err
	}
	p.Stock -= qty
	p.RecomputeAvailability()
	return nil
}
