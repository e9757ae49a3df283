package trading

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/tiller/internal/domain"
	"github.com/aristath/tiller/internal/events"
)

// mockOrderFactory returns canned intents without touching the broker

type mockOrderFactory struct {
	intents []domain.OrderIntent
	err     error
	weights map[string]float64
}

func (m *mockOrderFactory) BuildTargetWeightOrders(ctx context.Context, weights map[string]float64, style domain.OrderStyle, tif domain.TimeInForce) ([]domain.OrderIntent, error) {
	m.weights = weights
	if m.err != nil {
		return nil, m.err
	}
	return m.intents, nil
}

func newTestDispatcher(t *testing.T, factory domain.OrderFactory, broker *mockBrokerClient) (*Dispatcher, *events.Bus) {
	t.Helper()
	bus := events.NewBus(testLogger())
	dispatcher, err := NewDispatcher(factory, broker, bus, testLogger())
	require.NoError(t, err)
	return dispatcher, bus
}

func sampleIntents() []domain.OrderIntent {
	return []domain.OrderIntent{
		{ClientOrderID: "c-1", Symbol: "AAPL.US", Side: domain.OrderSideSell, Quantity: 5, Style: domain.OrderStyleMarket, TimeInForce: domain.TimeInForceDay},
		{ClientOrderID: "c-2", Symbol: "MSFT.US", Side: domain.OrderSideBuy, Quantity: 3, Style: domain.OrderStyleMarket, TimeInForce: domain.TimeInForceDay},
	}
}

func TestNewDispatcherValidation(t *testing.T) {
	broker := &mockBrokerClient{}
	factory := &mockOrderFactory{}
	bus := events.NewBus(testLogger())

	_, err := NewDispatcher(nil, broker, bus, testLogger())
	assert.Error(t, err)

	_, err = NewDispatcher(factory, nil, bus, testLogger())
	assert.Error(t, err)

	_, err = NewDispatcher(factory, broker, nil, testLogger())
	assert.Error(t, err)
}

func TestDispatchBuildsCancelsThenSubmits(t *testing.T) {
	broker := &mockBrokerClient{
		cancelResult: &domain.BrokerCancelResult{CancelledCount: 2, OrderIDs: []string{"old-1", "old-2"}},
	}
	factory := &mockOrderFactory{intents: sampleIntents()}
	dispatcher, bus := newTestDispatcher(t, factory, broker)

	var submittedEvents []*events.Event
	bus.Subscribe(events.OrdersSubmitted, func(e *events.Event) {
		submittedEvents = append(submittedEvents, e)
	})

	weights := map[string]float64{"MSFT.US": 1.0}
	intents, err := dispatcher.Dispatch(context.Background(), weights)
	require.NoError(t, err)

	assert.Equal(t, weights, factory.weights)
	assert.Equal(t, []string{"cancel", "submit"}, broker.calls)
	require.Len(t, broker.submitted, 1)
	assert.Equal(t, sampleIntents(), broker.submitted[0])
	assert.Equal(t, sampleIntents(), intents)

	require.Len(t, submittedEvents, 1)
	assert.Equal(t, 2, submittedEvents[0].Data["submitted"])
}

func TestDispatchWrapsBuildFailure(t *testing.T) {
	broker := &mockBrokerClient{}
	factory := &mockOrderFactory{err: errors.New("no price")}
	dispatcher, _ := newTestDispatcher(t, factory, broker)

	intents, err := dispatcher.Dispatch(context.Background(), map[string]float64{"A.US": 1.0})

	var serr *domain.SubmissionError
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, "build", serr.Op)
	assert.Nil(t, intents)
	assert.Empty(t, broker.calls, "a failed build never reaches the broker")
}

func TestDispatchWrapsCancelFailure(t *testing.T) {
	broker := &mockBrokerClient{cancelErr: errors.New("gateway down")}
	factory := &mockOrderFactory{intents: sampleIntents()}
	dispatcher, _ := newTestDispatcher(t, factory, broker)

	intents, err := dispatcher.Dispatch(context.Background(), map[string]float64{"A.US": 1.0})

	var serr *domain.SubmissionError
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, "cancel", serr.Op)
	assert.Equal(t, []string{"cancel"}, broker.calls, "nothing is submitted after a failed cancel")
	assert.Equal(t, sampleIntents(), intents, "built intents come back for the run record")
}

func TestDispatchWrapsSubmitFailure(t *testing.T) {
	broker := &mockBrokerClient{submitErr: errors.New("rejected")}
	factory := &mockOrderFactory{intents: sampleIntents()}
	dispatcher, _ := newTestDispatcher(t, factory, broker)

	intents, err := dispatcher.Dispatch(context.Background(), map[string]float64{"A.US": 1.0})

	var serr *domain.SubmissionError
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, "submit", serr.Op)
	assert.Equal(t, []string{"cancel", "submit"}, broker.calls)
	assert.Equal(t, sampleIntents(), intents)
}

func TestDispatchCancelsEvenWhenNothingToSubmit(t *testing.T) {
	broker := &mockBrokerClient{}
	factory := &mockOrderFactory{} // Already on target
	dispatcher, _ := newTestDispatcher(t, factory, broker)

	intents, err := dispatcher.Dispatch(context.Background(), map[string]float64{"A.US": 1.0})
	require.NoError(t, err)

	assert.Empty(t, intents)
	assert.Equal(t, []string{"cancel"}, broker.calls, "stale orders die even on a no-op cycle")
}
