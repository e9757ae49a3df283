package events

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/tiller/pkg/logger"
)

func newTestBus() *Bus {
	return NewBus(logger.New(logger.Config{Level: "error", Pretty: false}))
}

func TestEmitReachesSubscribers(t *testing.T) {
	bus := newTestBus()

	var received []*Event
	bus.Subscribe(CycleCompleted, func(e *Event) {
		received = append(received, e)
	})

	bus.Emit(CycleCompleted, "rebalancing", map[string]interface{}{"date_index": 5})
	bus.Emit(PriceUpdated, "price_sync", nil) // different type, must not reach

	assert.Len(t, received, 1)
	assert.Equal(t, CycleCompleted, received[0].Type)
	assert.Equal(t, "rebalancing", received[0].Module)
	assert.Equal(t, 5, received[0].Data["date_index"])
	assert.False(t, received[0].Timestamp.IsZero())
}

func TestEmitFansOutToAllHandlers(t *testing.T) {
	bus := newTestBus()

	count := 0
	bus.Subscribe(OrdersSubmitted, func(e *Event) { count++ })
	bus.Subscribe(OrdersSubmitted, func(e *Event) { count++ })

	bus.Emit(OrdersSubmitted, "trading", nil)

	assert.Equal(t, 2, count)
}

func TestEmitError(t *testing.T) {
	bus := newTestBus()

	var received *Event
	bus.Subscribe(ErrorOccurred, func(e *Event) { received = e })

	bus.EmitError("dispatcher", errors.New("broker unreachable"), map[string]interface{}{"op": "cancel"})

	assert.NotNil(t, received)
	assert.Equal(t, "broker unreachable", received.Data["error"])
	ctx, ok := received.Data["context"].(map[string]interface{})
	assert.True(t, ok)
	assert.Equal(t, "cancel", ctx["op"])
}

func TestEmitWithNoSubscribersIsSafe(t *testing.T) {
	bus := newTestBus()
	assert.NotPanics(t, func() {
		bus.Emit(MarketsStatusChanged, "websocket", nil)
	})
}

func TestGetTypedDataConvertsLegacyPayloads(t *testing.T) {
	bus := newTestBus()

	var received *Event
	bus.Subscribe(CycleCompleted, func(e *Event) { received = e })

	bus.Emit(CycleCompleted, "rebalancing", map[string]interface{}{
		"row":           7,
		"date":          "2024-06-03",
		"trigger_count": 12,
		"outcome":       "completed",
		"intents":       2,
	})

	require.NotNil(t, received)
	data, ok := received.GetTypedData().(*CycleCompletedData)
	require.True(t, ok, "expected CycleCompletedData, got %T", received.GetTypedData())
	assert.Equal(t, 7, data.Row)
	assert.Equal(t, 12, data.TriggerCount)
	assert.Equal(t, "completed", data.Outcome)

	// Types without a typed form stay untyped
	skipped := &Event{Type: SnapshotSaved, Data: map[string]interface{}{"rows": 1}}
	assert.Nil(t, skipped.GetTypedData())
}
