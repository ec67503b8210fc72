package domain_test

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/foodorder/internal/domain"
)

func TestCartAddLine(t *testing.T) {
	cart := domain.NewCart("user-1", time.Now())

	require.NoError(t, cart.AddLine("p1", 2, 5))
	require.NoError(t, cart.AddLine("p2", 1, 3))
	// повторное добавление увеличивает количество и сохраняет исходную цену
	require.NoError(t, cart.AddLine("p1", 1, 99))
	cart.Recalculate()

	require.Len(t, cart.Lines, 2)
	assert.Equal(t, int32(3), cart.Lines[0].Quantity)
	assert.Equal(t, int64(5), cart.Lines[0].UnitPrice)
	assert.Equal(t, int64(4), cart.TotalCount)
	assert.Equal(t, int64(18), cart.TotalPrice)
	assert.NoError(t, cart.Validate())
}

func TestCartAddLine_InvalidInput(t *testing.T) {
	cart := domain.NewCart("user-1", time.Now())

	assert.ErrorIs(t, cart.AddLine("p1", 0, 5), domain.ErrQuantityInvalid)
	assert.ErrorIs(t, cart.AddLine("", 1, 5), domain.ErrProductIDRequired)
	assert.True(t, cart.IsEmpty())
}

func TestCartSetQuantityAndRemove(t *testing.T) {
	cart := domain.NewCart("user-1", time.Now())
	require.NoError(t, cart.AddLine("p1", 2, 5))
	require.NoError(t, cart.AddLine("p2", 1, 3))
	require.NoError(t, cart.AddLine("p3", 1, 7))

	require.NoError(t, cart.SetQuantity("p2", 4))
	assert.ErrorIs(t, cart.SetQuantity("p2", 0), domain.ErrQuantityInvalid)
	assert.ErrorIs(t, cart.SetQuantity("missing", 1), domain.ErrCartLineNotFound)

	require.NoError(t, cart.RemoveLine("p1"))
	assert.ErrorIs(t, cart.RemoveLine("p1"), domain.ErrCartLineNotFound)

	cart.Recalculate()
	require.Len(t, cart.Lines, 2)
	assert.Equal(t, "p2", cart.Lines[0].ProductID)
	assert.Equal(t, "p3", cart.Lines[1].ProductID)
	assert.Equal(t, int64(5), cart.TotalCount)
	assert.Equal(t, int64(19), cart.TotalPrice)
}

func TestCartValidate_DetectsStaleTotals(t *testing.T) {
	cart := domain.NewCart("user-1", time.Now())
	require.NoError(t, cart.AddLine("p1", 2, 5))

	err := cart.Validate()
	assert.True(t, errors.Is(err, domain.ErrCartTotalsMismatch))

	cart.Recalculate()
	assert.NoError(t, cart.Validate())
}

func TestCartTotals(t *testing.T) {
	count, price := domain.CartTotals([]domain.CartLine{
		{ProductID: "p1", Quantity: 2, UnitPrice: 5},
		{ProductID: "p2", Quantity: 1, UnitPrice: 3},
	})
	assert.Equal(t, int64(3), count)
	assert.Equal(t, int64(13), price)

	count, price = domain.CartTotals(nil)
	assert.Zero(t, count)
	assert.Zero(t, price)
}

func TestCartCloneIsIndependent(t *testing.T) {
	cart := domain.NewCart("user-1", time.Now())
	require.NoError(t, cart.AddLine("p1", 1, 5))

	clone := cart.Clone()
	clone.Lines[0].Quantity = 10

	assert.Equal(t, int32(1), cart.Lines[0].Quantity)
}

func TestCartOrderLines(t *testing.T) {
	cart := domain.NewCart("user-1", time.Now())
	require.NoError(t, cart.AddLine("p1", 2, 5))
	require.NoError(t, cart.AddLine("p2", 1, 3))

	assert.Equal(t, []domain.OrderLine{
		{ProductID: "p1", Quantity: 2},
		{ProductID: "p2", Quantity: 1},
	}, cart.OrderLines())
}
