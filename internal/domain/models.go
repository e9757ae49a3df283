// Package domain provides core domain models and types.
package domain

import "time"

// PriceField selects which price series a provider returns
type PriceField string

const (
	// PriceFieldClose is the raw daily closing price
	PriceFieldClose PriceField = "close"
	// PriceFieldAdjClose is the split/dividend adjusted closing price
	PriceFieldAdjClose PriceField = "adj_close"
)

// Frequency represents the sampling frequency of a price series
type Frequency string

const (
	// FrequencyDaily is one bar per trading day
	FrequencyDaily Frequency = "1d"
)

// Bar represents a single daily price observation
type Bar struct {
	Date     time.Time `json:"date"`
	Open     float64   `json:"open"`
	High     float64   `json:"high"`
	Low      float64   `json:"low"`
	Close    float64   `json:"close"`
	AdjClose float64   `json:"adj_close"`
	Volume   int64     `json:"volume"`
}

// Price returns the bar's value for the given field
func (b Bar) Price(field PriceField) float64 {
	if field == PriceFieldAdjClose {
		return b.AdjClose
	}
	return b.Close
}

// SecurityMetadata is the descriptive data a market data provider
// knows about a symbol
type SecurityMetadata struct {
	Symbol   string `json:"symbol"`
	Name     string `json:"name"`
	Currency string `json:"currency"`
	Exchange string `json:"exchange"`
}

// OrderSide represents the direction of an order
type OrderSide string

const (
	OrderSideBuy  OrderSide = "BUY"
	OrderSideSell OrderSide = "SELL"
)

// OrderStyle represents the execution style of an order
type OrderStyle string

const (
	// OrderStyleMarket executes at the prevailing market price
	OrderStyleMarket OrderStyle = "MARKET"
	// OrderStyleLimit executes at the limit price or better
	OrderStyleLimit OrderStyle = "LIMIT"
)

// TimeInForce represents how long an order stays working
type TimeInForce string

const (
	// TimeInForceDay expires at the end of the trading day
	TimeInForceDay TimeInForce = "DAY"
	// TimeInForceGTC stays working until cancelled
	TimeInForceGTC TimeInForce = "GTC"
)

// OrderIntent is a fully specified instruction for the broker.
// Quantity is always positive; direction is carried by Side.
type OrderIntent struct {
	ClientOrderID string      `json:"client_order_id"`
	Symbol        string      `json:"symbol"`
	Side          OrderSide   `json:"side"`
	Quantity      float64     `json:"quantity"`
	Style         OrderStyle  `json:"style"`
	LimitPrice    float64     `json:"limit_price,omitempty"` // Only meaningful for limit style
	TimeInForce   TimeInForce `json:"time_in_force"`
	TargetWeight  float64     `json:"target_weight"` // Portfolio weight this intent steers toward
}
