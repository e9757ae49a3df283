// Package events provides the in-process event bus that connects the
// engine's modules to the SSE stream and to each other.
package events

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// EventType identifies a class of system event
type EventType string

const (
	// Market data
	PriceUpdated  EventType = "price_updated"
	SecurityAdded EventType = "security_added"

	// Engine lifecycle
	CycleCompleted EventType = "cycle_completed"
	CycleSkipped   EventType = "cycle_skipped"
	CursorHalted   EventType = "cursor_halted"
	SnapshotSaved  EventType = "snapshot_saved"

	// Order flow
	OrdersCancelled EventType = "orders_cancelled"
	OrdersSubmitted EventType = "orders_submitted"

	// Connectivity
	TradernetStatusChanged EventType = "tradernet_status_changed"
	MarketsStatusChanged   EventType = "markets_status_changed"
	SystemStatusChanged    EventType = "system_status_changed"

	// Jobs
	JobStarted   EventType = "job_started"
	JobCompleted EventType = "job_completed"
	JobFailed    EventType = "job_failed"

	// Errors
	ErrorOccurred EventType = "error_occurred"
)

// Event is a single occurrence delivered to subscribers
type Event struct {
	Type      EventType              `json:"type"`
	Module    string                 `json:"module"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data,omitempty"`
}

// GetTypedData converts the payload map to this package's typed form
// for the event. Returns nil when the type has no typed form or the
// payload does not convert.
func (e *Event) GetTypedData() EventData {
	if e.Data == nil {
		return nil
	}

	switch e.Type {
	case PriceUpdated:
		var data PriceUpdatedData
		if err := convertMapToStruct(e.Data, &data); err == nil {
			return &data
		}
	case SecurityAdded:
		var data SecurityAddedData
		if err := convertMapToStruct(e.Data, &data); err == nil {
			return &data
		}
	case CycleCompleted:
		var data CycleCompletedData
		if err := convertMapToStruct(e.Data, &data); err == nil {
			return &data
		}
	case CursorHalted:
		var data CursorHaltedData
		if err := convertMapToStruct(e.Data, &data); err == nil {
			return &data
		}
	case OrdersSubmitted:
		var data OrdersSubmittedData
		if err := convertMapToStruct(e.Data, &data); err == nil {
			return &data
		}
	case TradernetStatusChanged:
		var data TradernetStatusChangedData
		if err := convertMapToStruct(e.Data, &data); err == nil {
			return &data
		}
	case MarketsStatusChanged:
		var data MarketsStatusChangedData
		if err := convertMapToStruct(e.Data, &data); err == nil {
			return &data
		}
	case SystemStatusChanged:
		var data SystemStatusChangedData
		if err := convertMapToStruct(e.Data, &data); err == nil {
			return &data
		}
	case ErrorOccurred:
		var data ErrorEventData
		if err := convertMapToStruct(e.Data, &data); err == nil {
			return &data
		}
	case JobStarted, JobCompleted, JobFailed:
		var data JobStatusData
		if err := convertMapToStruct(e.Data, &data); err == nil {
			return &data
		}
	}

	return nil
}

// Handler receives events. Handlers run on the emitter's goroutine and
// must not block; slow consumers buffer internally and drop.
type Handler func(*Event)

// Bus is the in-process publish/subscribe hub
type Bus struct {
	mu       sync.RWMutex
	handlers map[EventType][]Handler
	log      zerolog.Logger
}

// NewBus creates an event bus
func NewBus(log zerolog.Logger) *Bus {
	return &Bus{
		handlers: make(map[EventType][]Handler),
		log:      log.With().Str("component", "event_bus").Logger(),
	}
}

// Subscribe registers a handler for one event type
func (b *Bus) Subscribe(eventType EventType, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[eventType] = append(b.handlers[eventType], handler)
}

// Emit publishes an event to all handlers registered for its type
func (b *Bus) Emit(eventType EventType, module string, data map[string]interface{}) {
	event := &Event{
		Type:      eventType,
		Module:    module,
		Timestamp: time.Now(),
		Data:      data,
	}

	b.log.Debug().
		Str("event_type", string(eventType)).
		Str("module", module).
		Fields(map[string]interface{}{"data": data}).
		Msg("Event emitted")

	b.mu.RLock()
	handlers := b.handlers[eventType]
	b.mu.RUnlock()

	for _, handler := range handlers {
		handler(event)
	}
}

// EmitTyped publishes an event whose payload is one of this package's
// typed EventData values. The payload is flattened to a map so typed
// and untyped emissions look identical to subscribers and on the SSE
// stream.
func (b *Bus) EmitTyped(eventType EventType, module string, data EventData) {
	b.Emit(eventType, module, convertEventDataToMap(data))
}

// EmitError publishes an ErrorOccurred event carrying the error text
func (b *Bus) EmitError(module string, err error, context map[string]interface{}) {
	b.EmitTyped(ErrorOccurred, module, &ErrorEventData{
		Error:   err.Error(),
		Context: context,
	})
}

// convertMapToStruct converts a payload map into a typed EventData value
func convertMapToStruct(m map[string]interface{}, v interface{}) error {
	jsonBytes, err := json.Marshal(m)
	if err != nil {
		return err
	}
	return json.Unmarshal(jsonBytes, v)
}

// convertEventDataToMap flattens typed event data into the map shape
// the bus delivers
func convertEventDataToMap(data EventData) map[string]interface{} {
	if data == nil {
		return nil
	}

	jsonBytes, err := json.Marshal(data)
	if err != nil {
		return nil
	}

	var result map[string]interface{}
	if err := json.Unmarshal(jsonBytes, &result); err != nil {
		return nil
	}
	return result
}
