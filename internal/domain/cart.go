package domain

import "time"

// CartLine: позиция корзины. UnitPrice фиксируется при добавлении товара
// и не следует за текущей ценой каталога.
type CartLine struct {
	ProductID string
	Quantity  int32
	UnitPrice int64
}

// Cart: корзина пользователя, не более одной на пользователя.
type Cart struct {
	UserID     string
	Lines      []CartLine
	TotalCount int64
	TotalPrice int64
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// NewCart создаёт пустую корзину пользователя.
func NewCart(userID string, now time.Time) Cart {
	return Cart{UserID: userID, Lines: []CartLine{}, CreatedAt: now, UpdatedAt: now}
}

// CartTotals считает итоги по позициям: сумму количеств и сумму quantity * unitPrice.
func CartTotals(lines []CartLine) (count, price int64) {
	for _, line := range lines {
		count += int64(line.Quantity)
		price += int64(line.Quantity) * line.UnitPrice
	}
	return count, price
}

// Recalculate приводит итоги корзины в соответствие с позициями.
func (c *Cart) Recalculate() {
	c.TotalCount, c.TotalPrice = CartTotals(c.Lines)
}

// Validate проверяет инварианты корзины перед сохранением.
func (c Cart) Validate() error {
	if c.UserID == "" {
		return ErrUserIDRequired
	}
	for _, line := range c.Lines {
		if line.ProductID == "" {
			return ErrProductIDRequired
		}
		if line.Quantity < 1 {
			return ErrQuantityInvalid
		}
		if line.UnitPrice < 0 {
			return ErrPriceNegative
		}
	}
	count, price := CartTotals(c.Lines)
	if count != c.TotalCount || price != c.TotalPrice {
		return ErrCartTotalsMismatch
	}
	return nil
}

// IsEmpty сообщает, что в корзине нет позиций.
func (c Cart) IsEmpty() bool {
	return len(c.Lines) == 0
}

func (c Cart) lineIndex(productID string) int {
	for i, line := range c.Lines {
		if line.ProductID == productID {
			return i
		}
	}
	return -1
}

// AddLine увеличивает количество существующей позиции или добавляет новую
// с ценой unitPrice. Итоги не пересчитываются.
func (c *Cart) AddLine(productID string, qty int32, unitPrice int64) error {
	if productID == "" {
		return ErrProductIDRequired
	}
	if qty < 1 {
		return ErrQuantityInvalid
	}
	if i := c.lineIndex(productID); i >= 0 {
		c.Lines[i].Quantity += qty
		return nil
	}
	c.Lines = append(c.Lines, CartLine{ProductID: productID, Quantity: qty, UnitPrice: unitPrice})
	return nil
}

// HasLine сообщает, есть ли в корзине позиция товара.
func (c Cart) HasLine(productID string) bool {
	return c.lineIndex(productID) >= 0
}

// SetQuantity заменяет количество существующей позиции.
func (c *Cart) SetQuantity(productID string, qty int32) error {
	if qty < 1 {
		return ErrQuantityInvalid
	}
	i := c.lineIndex(productID)
	if i < 0 {
		return ErrCartLineNotFound
	}
	c.Lines[i].Quantity = qty
	return nil
}

// RemoveLine удаляет позицию, сохраняя порядок остальных.
func (c *Cart) RemoveLine(productID string) error {
	i := c.lineIndex(productID)
	if i < 0 {
		return ErrCartLineNotFound
	}
	c.Lines = append(c.Lines[:i:i], c.Lines[i+1:]...)
	return nil
}

// Clone возвращает копию корзины с независимым срезом позиций.
func (c Cart) Clone() Cart {
	out := c
	out.Lines = append([]CartLine(nil), c.Lines...)
	return out
}

// OrderLines переносит позиции корзины в позиции заказа.
func (c Cart) OrderLines() []OrderLine {
	lines := make([]OrderLine, 0, len(c.Lines))
	for _, line := range c.Lines {
		lines = append(lines, OrderLine{ProductID: line.ProductID, Quantity: line.Quantity})
	}
	return lines
}
