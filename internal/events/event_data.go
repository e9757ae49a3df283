package events

import (
	"encoding/json"
	"time"
)

// EventData is the interface that all event data types must implement
// This allows for type-safe event data while maintaining flexibility
type EventData interface {
	// EventType returns the event type this data is associated with
	EventType() EventType
}

// PriceUpdatedData contains data for PriceUpdated events
type PriceUpdatedData struct {
	Symbols int `json:"symbols"`
	Bars    int `json:"bars"`
}

// EventType returns the event type for PriceUpdatedData
func (d *PriceUpdatedData) EventType() EventType {
	return PriceUpdated
}

// SecurityAddedData contains data for SecurityAdded events
type SecurityAddedData struct {
	Symbol   string `json:"symbol"`
	Name     string `json:"name"`
	Currency string `json:"currency"`
	Exchange string `json:"exchange"`
}

// EventType returns the event type for SecurityAddedData
func (d *SecurityAddedData) EventType() EventType {
	return SecurityAdded
}

// CycleCompletedData contains data for CycleCompleted events
type CycleCompletedData struct {
	Row          int    `json:"row"`
	Date         string `json:"date"`
	TriggerCount int    `json:"trigger_count"`
	Outcome      string `json:"outcome"`
	Intents      int    `json:"intents"`
}

// EventType returns the event type for CycleCompletedData
func (d *CycleCompletedData) EventType() EventType {
	return CycleCompleted
}

// CursorHaltedData contains data for CursorHalted events
type CursorHaltedData struct {
	State        string `json:"state"` // "exhausted" or "safety_halted"
	TriggerCount int    `json:"trigger_count"`
}

// EventType returns the event type for CursorHaltedData
func (d *CursorHaltedData) EventType() EventType {
	return CursorHalted
}

// OrdersSubmittedData contains data for OrdersSubmitted events
type OrdersSubmittedData struct {
	Submitted int `json:"submitted"`
	Intents   int `json:"intents"`
}

// EventType returns the event type for OrdersSubmittedData
func (d *OrdersSubmittedData) EventType() EventType {
	return OrdersSubmitted
}

// TradernetStatusChangedData contains data for TradernetStatusChanged events
type TradernetStatusChangedData struct {
	Connected bool   `json:"connected"`
	Timestamp string `json:"timestamp"`
}

// EventType returns the event type for TradernetStatusChangedData
func (d *TradernetStatusChangedData) EventType() EventType {
	return TradernetStatusChanged
}

// MarketStatusData represents individual market status (matches domain.MarketStatusData)
type MarketStatusData struct {
	Name      string `json:"name"`
	Code      string `json:"code"`
	Status    string `json:"status"`     // "open" or "closed"
	OpenTime  string `json:"open_time"`  // "09:30"
	CloseTime string `json:"close_time"` // "16:00"
	Date      string `json:"date"`       // "2024-01-09"
}

// MarketsStatusChangedData contains data for MarketsStatusChanged events
type MarketsStatusChangedData struct {
	Markets     map[string]MarketStatusData `json:"markets"` // Keyed by venue code
	OpenCount   int                         `json:"open_count"`
	ClosedCount int                         `json:"closed_count"`
	LastUpdated string                      `json:"last_updated"` // ISO 8601 timestamp
}

// EventType returns the event type for MarketsStatusChangedData
func (d *MarketsStatusChangedData) EventType() EventType {
	return MarketsStatusChanged
}

// SystemStatusChangedData contains data for SystemStatusChanged events
type SystemStatusChangedData struct {
	Status    string `json:"status"` // "healthy" or "degraded"
	Timestamp string `json:"timestamp"`
}

// EventType returns the event type for SystemStatusChangedData
func (d *SystemStatusChangedData) EventType() EventType {
	return SystemStatusChanged
}

// ErrorEventData contains data for ErrorOccurred events
type ErrorEventData struct {
	Error   string                 `json:"error"`
	Context map[string]interface{} `json:"context,omitempty"`
}

// EventType returns the event type for ErrorEventData
func (d *ErrorEventData) EventType() EventType {
	return ErrorOccurred
}

// JobStatusData contains data for job lifecycle events
type JobStatusData struct {
	Job        string `json:"job"`
	Status     string `json:"status"` // "started", "completed", "failed"
	Error      string `json:"error,omitempty"`
	DurationMS int64  `json:"duration_ms,omitempty"`
}

// EventType returns the event type for JobStatusData
// Note: The actual event type is determined by the Status field
func (d *JobStatusData) EventType() EventType {
	switch d.Status {
	case "completed":
		return JobCompleted
	case "failed":
		return JobFailed
	default:
		return JobStarted
	}
}

// EventWithData represents an event with typed data
type EventWithData struct {
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Module    string    `json:"module"`
	Data      EventData `json:"data"`
}

// MarshalJSON customizes JSON serialization for EventWithData
func (e *EventWithData) MarshalJSON() ([]byte, error) {
	type Alias EventWithData
	aux := &struct {
		Data json.RawMessage `json:"data"`
		*Alias
	}{
		Alias: (*Alias)(e),
	}

	if e.Data != nil {
		dataBytes, err := json.Marshal(e.Data)
		if err != nil {
			return nil, err
		}
		aux.Data = dataBytes
	}

	return json.Marshal(aux)
}

// UnmarshalJSON customizes JSON deserialization for EventWithData
func (e *EventWithData) UnmarshalJSON(data []byte) error {
	type Alias EventWithData
	aux := &struct {
		Data json.RawMessage `json:"data"`
		*Alias
	}{
		Alias: (*Alias)(e),
	}

	if err := json.Unmarshal(data, aux); err != nil {
		return err
	}

	if len(aux.Data) > 0 {
		var eventData EventData
		switch aux.Type {
		case PriceUpdated:
			eventData = &PriceUpdatedData{}
		case SecurityAdded:
			eventData = &SecurityAddedData{}
		case CycleCompleted:
			eventData = &CycleCompletedData{}
		case CursorHalted:
			eventData = &CursorHaltedData{}
		case OrdersSubmitted:
			eventData = &OrdersSubmittedData{}
		case TradernetStatusChanged:
			eventData = &TradernetStatusChangedData{}
		case MarketsStatusChanged:
			eventData = &MarketsStatusChangedData{}
		case SystemStatusChanged:
			eventData = &SystemStatusChangedData{}
		case ErrorOccurred:
			eventData = &ErrorEventData{}
		case JobStarted, JobCompleted, JobFailed:
			eventData = &JobStatusData{}
		default:
			// For unknown types, use raw map
			var rawData map[string]interface{}
			if err := json.Unmarshal(aux.Data, &rawData); err != nil {
				return err
			}
			eventData = &GenericEventData{Type: aux.Type, Data: rawData}
		}

		if err := json.Unmarshal(aux.Data, eventData); err != nil {
			return err
		}
		e.Data = eventData
	}

	return nil
}

// GenericEventData is a fallback for events that don't have a specific type
type GenericEventData struct {
	Type EventType              `json:"-"`
	Data map[string]interface{} `json:"-"`
}

// EventType returns the event type for GenericEventData
func (d *GenericEventData) EventType() EventType {
	return d.Type
}

// MarshalJSON customizes JSON serialization for GenericEventData
func (d *GenericEventData) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.Data)
}

// UnmarshalJSON customizes JSON deserialization for GenericEventData
func (d *GenericEventData) UnmarshalJSON(data []byte) error {
	return json.Unmarshal(data, &d.Data)
}
