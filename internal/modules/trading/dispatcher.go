package trading

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/aristath/tiller/internal/domain"
	"github.com/aristath/tiller/internal/events"
)

// Dispatcher runs one cycle's order flow against the broker
type Dispatcher struct {
	factory  domain.OrderFactory
	broker   domain.BrokerClient
	eventBus *events.Bus
	style    domain.OrderStyle
	tif      domain.TimeInForce
	log      zerolog.Logger
}

// NewDispatcher creates a new order dispatcher. Orders go out as
// market orders valid for the day.
func NewDispatcher(factory domain.OrderFactory, broker domain.BrokerClient, eventBus *events.Bus, log zerolog.Logger) (*Dispatcher, error) {
	if factory == nil {
		return nil, fmt.Errorf("order factory is required")
	}
	if broker == nil {
		return nil, fmt.Errorf("broker client is required")
	}
	if eventBus == nil {
		return nil, fmt.Errorf("event bus is required")
	}

	return &Dispatcher{
		factory:  factory,
		broker:   broker,
		eventBus: eventBus,
		style:    domain.OrderStyleMarket,
		tif:      domain.TimeInForceDay,
		log:      log.With().Str("component", "order_dispatcher").Logger(),
	}, nil
}

// Dispatch builds intents for the weight row, clears stale orders and
// submits the fresh ones. Any step failure wraps into SubmissionError
// and aborts the remaining steps; the intents built so far come back
// alongside the error so the caller can record what was attempted.
// There is no retry here: re-dispatching a failed date would trade it
// twice.
func (d *Dispatcher) Dispatch(ctx context.Context, weights map[string]float64) ([]domain.OrderIntent, error) {
	// Step 1: Build intents from the weight row
	intents, err := d.factory.BuildTargetWeightOrders(ctx, weights, d.style, d.tif)
	if err != nil {
		return nil, &domain.SubmissionError{Op: "build", Err: err}
	}

	// Step 2: Cancel stale orders. This runs even when nothing new
	// will be submitted: working orders from a previous cycle must
	// never outlive the weights that produced them.
	cancelled, err := d.broker.CancelAllOpenOrders(ctx)
	if err != nil {
		return intents, &domain.SubmissionError{Op: "cancel", Err: err}
	}
	if cancelled != nil && cancelled.CancelledCount > 0 {
		d.log.Info().Int("count", cancelled.CancelledCount).Msg("Cancelled stale orders")
		d.eventBus.Emit(events.OrdersCancelled, "trading", map[string]interface{}{
			"count": cancelled.CancelledCount,
		})
	}

	// Step 3: Submit the fresh intents
	if len(intents) == 0 {
		d.log.Info().Msg("Portfolio already on target, nothing to submit")
		return intents, nil
	}

	results, err := d.broker.SubmitOrders(ctx, intents)
	if err != nil {
		return intents, &domain.SubmissionError{Op: "submit", Err: err}
	}

	d.log.Info().
		Int("submitted", len(results)).
		Int("intents", len(intents)).
		Msg("Orders submitted")
	d.eventBus.Emit(events.OrdersSubmitted, "trading", map[string]interface{}{
		"submitted": len(results),
		"intents":   len(intents),
	})

	return intents, nil
}
