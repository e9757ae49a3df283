package domain

// Broker-agnostic types for order routing and position lookups
// These types abstract away broker-specific implementations (Tradernet, IBKR, etc.)

// BrokerPosition represents a portfolio position (broker-agnostic)
type BrokerPosition struct {
	Symbol       string  // Security symbol
	Quantity     float64 // Number of shares held
	AvgPrice     float64 // Average purchase price
	CurrentPrice float64 // Current market price
	MarketValue  float64 // Position value in position currency
	Currency     string  // Position currency
}

// BrokerCashBalance represents cash balance in a currency (broker-agnostic)
type BrokerCashBalance struct {
	Currency string  // Currency code (EUR, USD, etc.)
	Amount   float64 // Cash amount
}

// BrokerOrderResult represents the result of placing an order (broker-agnostic)
type BrokerOrderResult struct {
	OrderID  string  // Order confirmation ID
	Symbol   string  // Security symbol
	Side     string  // "BUY" or "SELL"
	Quantity float64 // Accepted quantity
}

// BrokerCancelResult represents the outcome of a cancel-all request (broker-agnostic)
type BrokerCancelResult struct {
	CancelledCount int      // Number of orders the broker reports cancelled
	OrderIDs       []string // IDs of the cancelled orders, when the broker provides them
}

// BrokerHealthResult represents broker connection health status (broker-agnostic)
type BrokerHealthResult struct {
	Connected bool   // Whether broker is connected
	Timestamp string // Timestamp of health check
}

// MarketStatusData represents the trading state of a venue
type MarketStatusData struct {
	Code      string // Venue code (e.g. "us", "eu")
	Name      string // Human readable venue name
	Status    string // "open" or "closed"
	OpenTime  string // Session open, venue-local "HH:MM"
	CloseTime string // Session close, venue-local "HH:MM"
	Date      string // Trading date the status refers to
}
