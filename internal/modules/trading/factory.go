// Package trading turns a target weight row into broker orders. The
// factory sizes integer-share intents against open positions and
// account equity; the dispatcher runs the build, cancel, submit
// sequence against the broker.
package trading

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/aristath/tiller/internal/domain"
)

// quoteRetries is how many quote attempts the factory allows per symbol
const quoteRetries = 3

// QuoteProvider returns the latest trade price for a symbol.
// Satisfied by the yahoo client.
type QuoteProvider interface {
	GetCurrentPrice(ctx context.Context, symbol string, maxRetries int) (float64, error)
}

// Factory builds order intents that steer the account toward a target
// weight row. Sizing works in value space: per-symbol target value is
// weight times equity, the delta against the current position value is
// converted to whole shares at the latest price, and anything below
// one share or the minimum notional is dropped as dust. A zero target
// always liquidates the full position, dust rules do not apply there.
type Factory struct {
	broker      domain.BrokerClient
	quotes      QuoteProvider
	minNotional float64
	log         zerolog.Logger
}

// Compile-time check that Factory implements the OrderFactory port
var _ domain.OrderFactory = (*Factory)(nil)

// NewFactory creates a new order factory
func NewFactory(broker domain.BrokerClient, quotes QuoteProvider, minNotional float64, log zerolog.Logger) (*Factory, error) {
	if broker == nil {
		return nil, fmt.Errorf("broker client is required")
	}
	if quotes == nil {
		return nil, fmt.Errorf("quote provider is required")
	}
	if minNotional < 0 {
		return nil, fmt.Errorf("min notional must not be negative, got %.2f", minNotional)
	}

	return &Factory{
		broker:      broker,
		quotes:      quotes,
		minNotional: minNotional,
		log:         log.With().Str("component", "order_factory").Logger(),
	}, nil
}

// BuildTargetWeightOrders sizes one intent per symbol whose position
// needs to move. Symbols absent from the weight row but still held are
// flattened. Sells come before buys so the freed cash can fund them.
func (f *Factory) BuildTargetWeightOrders(ctx context.Context, weights map[string]float64, style domain.OrderStyle, tif domain.TimeInForce) ([]domain.OrderIntent, error) {
	// Step 1: Load positions and cash
	positions, err := f.broker.GetOpenPositions(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load positions: %w", err)
	}
	balances, err := f.broker.GetCashBalances(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load cash balances: %w", err)
	}

	held := make(map[string]domain.BrokerPosition, len(positions))
	equity := 0.0
	for _, p := range positions {
		held[p.Symbol] = p
		equity += p.MarketValue
	}
	// Balances are summed as-is; the account is treated as
	// single-currency and conversion is out of scope here
	for _, b := range balances {
		equity += b.Amount
	}
	if equity <= 0 {
		return nil, fmt.Errorf("account equity is %.2f, cannot size orders", equity)
	}

	// Step 2: Union of targeted and held symbols, sorted for
	// deterministic output
	seen := make(map[string]struct{}, len(weights)+len(held))
	var symbols []string
	for symbol := range weights {
		if _, ok := seen[symbol]; !ok {
			seen[symbol] = struct{}{}
			symbols = append(symbols, symbol)
		}
	}
	for symbol := range held {
		if _, ok := seen[symbol]; !ok {
			seen[symbol] = struct{}{}
			symbols = append(symbols, symbol)
		}
	}
	sort.Strings(symbols)

	// Step 3: Size one intent per symbol
	var sells, buys []domain.OrderIntent
	for _, symbol := range symbols {
		intent, ok, err := f.sizeIntent(ctx, symbol, weights[symbol], equity, held, style, tif)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		if intent.Side == domain.OrderSideSell {
			sells = append(sells, intent)
		} else {
			buys = append(buys, intent)
		}
	}

	intents := append(sells, buys...)
	f.log.Debug().
		Int("sells", len(sells)).
		Int("buys", len(buys)).
		Float64("equity", equity).
		Msg("Built target-weight intents")

	return intents, nil
}

// sizeIntent computes the order for one symbol, or ok=false when the
// position is already on target or the move is dust.
func (f *Factory) sizeIntent(ctx context.Context, symbol string, target, equity float64, held map[string]domain.BrokerPosition, style domain.OrderStyle, tif domain.TimeInForce) (domain.OrderIntent, bool, error) {
	position, holds := held[symbol]

	// A zero target flattens the whole position, fractional shares
	// included, regardless of notional
	if target == 0 {
		if !holds || position.Quantity <= 0 {
			return domain.OrderIntent{}, false, nil
		}
		return f.newIntent(symbol, domain.OrderSideSell, position.Quantity, position.CurrentPrice, target, style, tif), true, nil
	}

	price := position.CurrentPrice
	if !holds || price <= 0 {
		quoted, err := f.quotes.GetCurrentPrice(ctx, symbol, quoteRetries)
		if err != nil {
			return domain.OrderIntent{}, false, fmt.Errorf("failed to get price for %s: %w", symbol, err)
		}
		price = quoted
	}
	if price <= 0 {
		return domain.OrderIntent{}, false, fmt.Errorf("no usable price for %s", symbol)
	}

	delta := target*equity - position.MarketValue
	shares := math.Floor(math.Abs(delta) / price)
	if shares < 1 {
		return domain.OrderIntent{}, false, nil
	}
	if shares*price < f.minNotional {
		f.log.Debug().
			Str("symbol", symbol).
			Float64("notional", shares*price).
			Float64("min_notional", f.minNotional).
			Msg("Skipping dust order")
		return domain.OrderIntent{}, false, nil
	}

	side := domain.OrderSideBuy
	if delta < 0 {
		side = domain.OrderSideSell
		// Never sell more than is held
		if shares > position.Quantity {
			shares = position.Quantity
		}
		if shares <= 0 {
			return domain.OrderIntent{}, false, nil
		}
	}

	return f.newIntent(symbol, side, shares, price, target, style, tif), true, nil
}

func (f *Factory) newIntent(symbol string, side domain.OrderSide, quantity, price, target float64, style domain.OrderStyle, tif domain.TimeInForce) domain.OrderIntent {
	intent := domain.OrderIntent{
		ClientOrderID: uuid.NewString(),
		Symbol:        symbol,
		Side:          side,
		Quantity:      quantity,
		Style:         style,
		TimeInForce:   tif,
		TargetWeight:  target,
	}
	if style == domain.OrderStyleLimit {
		intent.LimitPrice = price
	}
	return intent
}
