package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/tiller/internal/events"
)

// streamedTypes is every event type the stream forwards.
var streamedTypes = []events.EventType{
	events.PriceUpdated,
	events.SecurityAdded,
	events.CycleCompleted,
	events.CycleSkipped,
	events.CursorHalted,
	events.SnapshotSaved,
	events.OrdersCancelled,
	events.OrdersSubmitted,
	events.TradernetStatusChanged,
	events.MarketsStatusChanged,
	events.SystemStatusChanged,
	events.JobStarted,
	events.JobCompleted,
	events.JobFailed,
	events.ErrorOccurred,
}

// EventsStreamHandler handles Server-Sent Events (SSE) streaming for
// system events. It holds a single bus subscription and fans events out
// to connected clients, so connections can come and go without growing
// the bus's handler list.
type EventsStreamHandler struct {
	log     zerolog.Logger
	mu      sync.Mutex
	clients map[chan *events.Event]map[events.EventType]bool
}

// NewEventsStreamHandler creates a new events stream handler subscribed
// to all streamed event types.
func NewEventsStreamHandler(eventBus *events.Bus, log zerolog.Logger) *EventsStreamHandler {
	h := &EventsStreamHandler{
		log:     log.With().Str("component", "events_stream").Logger(),
		clients: make(map[chan *events.Event]map[events.EventType]bool),
	}

	if eventBus != nil {
		for _, eventType := range streamedTypes {
			eventBus.Subscribe(eventType, h.broadcast)
		}
	}

	return h
}

// broadcast forwards one event to every connected client whose filter
// admits it. Sends never block; a client that cannot keep up loses
// events rather than stalling the emitter.
func (h *EventsStreamHandler) broadcast(event *events.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for ch, allowed := range h.clients {
		if allowed != nil && !allowed[event.Type] {
			continue
		}

		select {
		case ch <- event:
		default:
			h.log.Warn().
				Str("event_type", string(event.Type)).
				Msg("Event channel full, dropping event")
		}
	}
}

// addClient registers a connection's channel and optional type filter
func (h *EventsStreamHandler) addClient(ch chan *events.Event, allowed map[events.EventType]bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[ch] = allowed
}

// removeClient unregisters a connection's channel
func (h *EventsStreamHandler) removeClient(ch chan *events.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.clients, ch)
}

// ServeHTTP handles GET /api/events/stream requests (SSE).
func (h *EventsStreamHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	// Set SSE headers
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming not supported", http.StatusInternalServerError)
		return
	}

	// Optional comma-separated type filter, e.g. ?types=cycle_completed,job_failed
	typesFilter := r.URL.Query().Get("types")
	var allowedTypes map[events.EventType]bool
	if typesFilter != "" {
		allowedTypes = make(map[events.EventType]bool)
		for _, t := range strings.Split(typesFilter, ",") {
			allowedTypes[events.EventType(strings.TrimSpace(t))] = true
		}
	}

	h.log.Info().
		Str("types_filter", typesFilter).
		Msg("Client connected to event stream")

	// Buffer so a burst of events does not block the emitter
	eventChan := make(chan *events.Event, 100)
	h.addClient(eventChan, allowedTypes)
	defer h.removeClient(eventChan)

	done := r.Context().Done()

	// Send initial connection message
	fmt.Fprintf(w, "data: %s\n\n", h.encodeEvent(map[string]interface{}{
		"type":    "connected",
		"message": "Connected to event stream",
	}))
	flusher.Flush()

	// Heartbeat ticker to keep connection alive
	heartbeat := time.NewTicker(30 * time.Second)
	defer heartbeat.Stop()

	for {
		select {
		case <-done:
			h.log.Info().Msg("Client disconnected from event stream")
			return

		case event := <-eventChan:
			h.log.Debug().
				Str("event_type", string(event.Type)).
				Msg("Sending event to client")

			eventJSON := h.encodeEvent(map[string]interface{}{
				"type":      string(event.Type),
				"module":    event.Module,
				"timestamp": event.Timestamp.Format(time.RFC3339),
				"data":      event.Data,
			})

			fmt.Fprintf(w, "data: %s\n\n", eventJSON)
			flusher.Flush()

		case <-heartbeat.C:
			fmt.Fprintf(w, "data: %s\n\n", h.encodeEvent(map[string]interface{}{
				"type":      "heartbeat",
				"timestamp": time.Now().Format(time.RFC3339),
			}))
			flusher.Flush()
		}
	}
}

// encodeEvent encodes an event map to a JSON string.
func (h *EventsStreamHandler) encodeEvent(event map[string]interface{}) string {
	data, err := json.Marshal(event)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to marshal event")
		return `{"error":"failed to encode event"}`
	}
	return string(data)
}
