package mxm

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestCanTransitionOrder(t *testing.T) {
	tests := []struct {
		from, to OrderStatus
		want     bool
	}{
		{OrderStatusPending, OrderStatusPaying, true},
		{OrderStatusPaying, OrderStatusPending, true},
		{OrderStatusPaying, OrderStatusCancelled, true},
		{OrderStatusPaid, OrderStatusRefunding, true},
		{OrderStatusRefunding, OrderStatusPaid, true},
		{OrderStatusPaid, OrderStatusCancelled, false},
		{OrderStatusCancelled, OrderStatusPending, false},
		{OrderStatusRefunded, OrderStatusPaid, false},
		{OrderStatusCompleted, OrderStatusRefunding, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.want, CanTransitionOrder(tt.from, tt.to))
		})
	}
}

func TestCheckOrderTransition(t *testing.T) {
	t.Run("all sources legal", func(t *testing.T) {
		assert.NoError(t, CheckOrderTransition([]OrderStatus{OrderStatusPending, OrderStatusPaying}, OrderStatusPaid))
	})

	t.Run("one source illegal", func(t *testing.T) {
		err := CheckOrderTransition([]OrderStatus{OrderStatusPaying, OrderStatusPaid}, OrderStatusCancelled)
		assert.ErrorIs(t, err, ErrIllegalTransition)
		assert.Contains(t, err.Error(), "PAID -> CANCELLED")
	})

	t.Run("no source", func(t *testing.T) {
		assert.ErrorIs(t, CheckOrderTransition(nil, OrderStatusPaid), ErrIllegalTransition)
	})
}

func TestCents(t *testing.T) {
	assert.Equal(t, int64(2050), ToCents(decimal.RequireFromString("20.50")))
	assert.Equal(t, int64(1), ToCents(decimal.RequireFromString("0.005")))
	assert.True(t, decimal.RequireFromString("20.5").Equal(FromCents(2050)))
	assert.Equal(t, "0.01", FromCents(1).StringFixed(2))
}
