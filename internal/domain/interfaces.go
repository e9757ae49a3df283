package domain

import (
	"context"
	"time"
)

// PriceSource defines historical price retrieval for a set of symbols.
// Implementations fetch one series per symbol; a symbol with no data in
// the window maps to an empty slice, not an error. Bars come back sorted
// by date ascending.
type PriceSource interface {
	Fetch(ctx context.Context, symbols []string, field PriceField, start, end time.Time, freq Frequency) (map[string][]Bar, error)
}

// BrokerClient defines broker-agnostic trading operations.
// This interface abstracts away broker-specific implementations
// (Tradernet, IBKR, etc.) so the engine never talks to a vendor API
// directly.
type BrokerClient interface {
	// GetOpenPositions returns all currently held positions
	GetOpenPositions(ctx context.Context) ([]BrokerPosition, error)

	// GetCashBalances returns free cash per currency
	GetCashBalances(ctx context.Context) ([]BrokerCashBalance, error)

	// CancelAllOpenOrders cancels every working order on the account
	CancelAllOpenOrders(ctx context.Context) (*BrokerCancelResult, error)

	// SubmitOrders places the given intents with the broker.
	// Implementations submit sequentially and stop at the first failure.
	SubmitOrders(ctx context.Context, intents []OrderIntent) ([]BrokerOrderResult, error)

	// Connection & health
	IsConnected() bool
	HealthCheck(ctx context.Context) (*BrokerHealthResult, error)
}

// OrderFactory turns target portfolio weights into concrete order
// intents. Implementations size orders against current positions and
// account equity.
type OrderFactory interface {
	BuildTargetWeightOrders(ctx context.Context, weights map[string]float64, style OrderStyle, tif TimeInForce) ([]OrderIntent, error)
}

// MarketStatusProvider exposes venue open/closed state. Used to gate
// cycle execution when the market-hours gate is enabled. This interface
// breaks the dependency between the rebalancing module and the
// websocket client that feeds it.
type MarketStatusProvider interface {
	// GetMarketStatus returns the cached status for a venue code
	GetMarketStatus(code string) (*MarketStatusData, error)

	// IsCacheStale reports whether the feed has gone quiet
	IsCacheStale() bool
}
