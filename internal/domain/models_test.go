package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBarPrice(t *testing.T) {
	bar := Bar{
		Date:     time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC),
		Close:    101.25,
		AdjClose: 99.80,
	}

	tests := []struct {
		name     string
		field    PriceField
		expected float64
	}{
		{
			name:     "close field",
			field:    PriceFieldClose,
			expected: 101.25,
		},
		{
			name:     "adjusted close field",
			field:    PriceFieldAdjClose,
			expected: 99.80,
		},
		{
			name:     "unknown field falls back to close",
			field:    PriceField("vwap"),
			expected: 101.25,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, bar.Price(tt.field))
		})
	}
}

func TestOrderIntentDefaults(t *testing.T) {
	intent := OrderIntent{
		ClientOrderID: "a8b2",
		Symbol:        "SPY",
		Side:          OrderSideBuy,
		Quantity:      12,
		Style:         OrderStyleMarket,
		TimeInForce:   TimeInForceDay,
		TargetWeight:  0.25,
	}

	assert.Equal(t, OrderSideBuy, intent.Side)
	assert.Equal(t, OrderStyleMarket, intent.Style)
	assert.Equal(t, TimeInForceDay, intent.TimeInForce)
	assert.Zero(t, intent.LimitPrice, "market intents carry no limit price")
}
