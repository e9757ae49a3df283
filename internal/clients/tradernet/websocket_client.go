package tradernet

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"math"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"nhooyr.io/websocket"

	"github.com/aristath/tiller/internal/domain"
	"github.com/aristath/tiller/internal/events"
)

const (
	writeWait   = 10 * time.Second
	dialTimeout = 30 * time.Second

	baseReconnectDelay   = 5 * time.Second
	maxReconnectDelay    = 5 * time.Minute
	maxReconnectAttempts = 10

	// Cache staleness threshold
	cacheStaleThreshold = 5 * time.Minute
)

// wsMarketsMessage is the payload of a "markets" channel message
type wsMarketsMessage struct {
	Markets   []wsMarket `json:"markets"`
	Timestamp string     `json:"timestamp"`
}

// wsMarket is one venue entry in a markets update
type wsMarket struct {
	Name      string `json:"name"`
	Code      string `json:"code"`
	Status    string `json:"status"`
	OpenTime  string `json:"open_time"`
	CloseTime string `json:"close_time"`
	Date      string `json:"date"`
}

// MarketStatusWebSocket handles real-time market status updates from the
// Tradernet feed. It keeps a thread-safe cache of the latest venue
// statuses and emits MarketsStatusChanged events as updates arrive.
type MarketStatusWebSocket struct {
	// Connection
	url        string
	sid        string       // Optional session ID
	httpClient *http.Client // Reusable HTTP client configured for HTTP/1.1
	conn       *websocket.Conn
	connCtx    context.Context    // Connection context (cancelled on disconnect)
	cancelFunc context.CancelFunc // For cancelling the connection context
	mu         sync.RWMutex

	// Dependencies
	eventBus *events.Bus
	log      zerolog.Logger

	// State
	connected    bool
	reconnecting bool
	stopChan     chan struct{}
	stopped      bool

	// Cache (thread-safe)
	marketCache map[string]domain.MarketStatusData
	lastUpdate  time.Time
	cacheMu     sync.RWMutex
}

var _ domain.MarketStatusProvider = (*MarketStatusWebSocket)(nil)

// createHTTP1Client creates an HTTP client that forces HTTP/1.1
// Required because Cloudflare negotiates HTTP/2 via TLS ALPN,
// but WebSocket requires HTTP/1.1 for the upgrade handshake.
func createHTTP1Client() *http.Client {
	return &http.Client{
		Transport: &http.Transport{
			DialContext: (&net.Dialer{
				Timeout:   30 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			TLSClientConfig: &tls.Config{
				// Force HTTP/1.1 by only advertising http/1.1 in ALPN
				NextProtos: []string{"http/1.1"},
			},
			ForceAttemptHTTP2: false,
		},
	}
}

// NewMarketStatusWebSocket creates a new market status WebSocket client
func NewMarketStatusWebSocket(url, sid string, eventBus *events.Bus, log zerolog.Logger) *MarketStatusWebSocket {
	return &MarketStatusWebSocket{
		url:         url,
		sid:         sid,
		httpClient:  createHTTP1Client(),
		eventBus:    eventBus,
		log:         log.With().Str("component", "market_status_websocket").Logger(),
		marketCache: make(map[string]domain.MarketStatusData),
		stopChan:    make(chan struct{}),
	}
}

// Start initializes the WebSocket connection and starts the read loop
func (ws *MarketStatusWebSocket) Start() error {
	ws.log.Info().Msg("Starting market status WebSocket client")

	if err := ws.Connect(); err != nil {
		ws.log.Warn().Err(err).Msg("Initial WebSocket connection failed, will retry in background")
		go ws.reconnectLoop()
		return err
	}

	ws.mu.RLock()
	ctx := ws.connCtx
	ws.mu.RUnlock()
	go ws.readMessages(ctx)

	ws.log.Info().Msg("Market status WebSocket client started")
	return nil
}

// Stop gracefully shuts down the WebSocket connection
func (ws *MarketStatusWebSocket) Stop() error {
	ws.mu.Lock()
	if ws.stopped {
		ws.mu.Unlock()
		return nil
	}
	ws.stopped = true
	ws.mu.Unlock()

	ws.log.Info().Msg("Stopping market status WebSocket client")
	close(ws.stopChan)

	return ws.Disconnect()
}

// Connect establishes the WebSocket connection and subscribes to the
// markets channel
func (ws *MarketStatusWebSocket) Connect() error {
	ws.mu.Lock()
	defer ws.mu.Unlock()

	wsURL := ws.url
	if ws.sid != "" {
		wsURL += "?SID=" + ws.sid
	}

	ws.log.Info().Str("url", ws.url).Msg("Connecting to Tradernet WebSocket")

	dialCtx, dialCancel := context.WithTimeout(context.Background(), dialTimeout)
	defer dialCancel()

	// Dial with the pre-configured HTTP/1.1 client
	conn, _, err := websocket.Dial(dialCtx, wsURL, &websocket.DialOptions{
		HTTPClient: ws.httpClient,
	})
	if err != nil {
		return fmt.Errorf("failed to dial WebSocket: %w", err)
	}

	// Long-lived context used for read operations, cancelled on disconnect
	connCtx, connCancel := context.WithCancel(context.Background())
	ws.conn = conn
	ws.connCtx = connCtx
	ws.cancelFunc = connCancel
	ws.connected = true

	if err := ws.subscribe(connCtx); err != nil {
		connCancel()
		conn.Close(websocket.StatusNormalClosure, "subscribe failed")
		ws.conn = nil
		ws.connCtx = nil
		ws.cancelFunc = nil
		ws.connected = false
		return fmt.Errorf("failed to subscribe to markets: %w", err)
	}

	ws.log.Info().Msg("Connected to Tradernet WebSocket")
	ws.emitConnectionEvent(true)
	return nil
}

// Disconnect closes the WebSocket connection
func (ws *MarketStatusWebSocket) Disconnect() error {
	ws.mu.Lock()
	defer ws.mu.Unlock()

	if ws.conn == nil {
		return nil
	}

	ws.log.Info().Msg("Disconnecting from Tradernet WebSocket")

	// Cancel the connection context to unblock any pending Read
	if ws.cancelFunc != nil {
		ws.cancelFunc()
		ws.cancelFunc = nil
	}

	err := ws.conn.Close(websocket.StatusNormalClosure, "")

	ws.conn = nil
	ws.connCtx = nil
	ws.connected = false
	ws.emitConnectionEvent(false)

	if err != nil {
		return fmt.Errorf("error closing WebSocket: %w", err)
	}

	return nil
}

// subscribe sends the subscription message for the markets channel.
// The feed protocol frames requests as a JSON array: ["markets"].
func (ws *MarketStatusWebSocket) subscribe(ctx context.Context) error {
	data, err := json.Marshal([]string{"markets"})
	if err != nil {
		return fmt.Errorf("failed to marshal subscription message: %w", err)
	}

	writeCtx, cancel := context.WithTimeout(ctx, writeWait)
	defer cancel()

	if err := ws.conn.Write(writeCtx, websocket.MessageText, data); err != nil {
		return fmt.Errorf("failed to send subscription message: %w", err)
	}

	ws.log.Info().Msg("Subscribed to markets channel")
	return nil
}

// readMessages continuously reads messages from the WebSocket
func (ws *MarketStatusWebSocket) readMessages(ctx context.Context) {
	defer func() {
		ws.log.Info().Msg("Read loop stopped")
		ws.mu.RLock()
		stopped := ws.stopped
		ws.mu.RUnlock()
		if !stopped {
			go ws.reconnectLoop()
		}
	}()

	for {
		select {
		case <-ws.stopChan:
			return
		case <-ctx.Done():
			ws.log.Debug().Msg("Read loop context cancelled")
			return
		default:
		}

		ws.mu.RLock()
		conn := ws.conn
		ws.mu.RUnlock()

		if conn == nil {
			ws.log.Warn().Msg("Connection is nil, stopping read loop")
			return
		}

		msgType, message, err := conn.Read(ctx)
		if err != nil {
			closeStatus := websocket.CloseStatus(err)
			if closeStatus == websocket.StatusNormalClosure || closeStatus == websocket.StatusGoingAway {
				ws.log.Info().Int("status", int(closeStatus)).Msg("WebSocket closed normally")
			} else if ctx.Err() != nil {
				ws.log.Debug().Msg("Read cancelled by context")
			} else {
				ws.log.Error().Err(err).Msg("Unexpected WebSocket read error")
			}
			return
		}

		if msgType != websocket.MessageText {
			ws.log.Debug().Int("type", int(msgType)).Msg("Ignoring non-text message")
			continue
		}

		if err := ws.handleMessage(message); err != nil {
			ws.log.Error().Err(err).Str("message", string(message)).Msg("Failed to handle WebSocket message")
			// Keep reading despite parse errors
		}
	}
}

// handleMessage parses one feed message. The protocol frames events as
// a two-element JSON array: ["channel", payload].
func (ws *MarketStatusWebSocket) handleMessage(message []byte) error {
	var rawMessage []json.RawMessage
	if err := json.Unmarshal(message, &rawMessage); err != nil {
		return fmt.Errorf("failed to parse message array: %w", err)
	}

	if len(rawMessage) < 2 {
		return fmt.Errorf("message array too short: expected 2 elements, got %d", len(rawMessage))
	}

	var channel string
	if err := json.Unmarshal(rawMessage[0], &channel); err != nil {
		return fmt.Errorf("failed to parse channel: %w", err)
	}

	if channel != "markets" {
		ws.log.Debug().Str("channel", channel).Msg("Ignoring non-markets message")
		return nil
	}

	var data wsMarketsMessage
	if err := json.Unmarshal(rawMessage[1], &data); err != nil {
		return fmt.Errorf("failed to parse market data: %w", err)
	}

	return ws.handleMarketUpdate(data)
}

// handleMarketUpdate folds a markets update into the cache and notifies
// subscribers
func (ws *MarketStatusWebSocket) handleMarketUpdate(data wsMarketsMessage) error {
	if len(data.Markets) == 0 {
		ws.log.Warn().Msg("Received empty markets update")
		return nil
	}

	ws.log.Debug().
		Int("market_count", len(data.Markets)).
		Str("timestamp", data.Timestamp).
		Msg("Processing market status update")

	transformed, err := transformMarkets(data.Markets)
	if err != nil {
		return fmt.Errorf("failed to transform markets: %w", err)
	}

	ws.cacheMu.Lock()
	for code, market := range transformed {
		ws.marketCache[code] = market
	}
	ws.lastUpdate = time.Now()
	cacheSnapshot := make(map[string]domain.MarketStatusData, len(ws.marketCache))
	for k, v := range ws.marketCache {
		cacheSnapshot[k] = v
	}
	ws.cacheMu.Unlock()

	ws.log.Info().
		Int("market_count", len(transformed)).
		Msg("Market status cache updated")

	if ws.eventBus != nil {
		ws.emitMarketStatusEvent(cacheSnapshot)
	}

	return nil
}

// transformMarkets converts feed entries into domain records, keyed by
// lowercased venue code. Entries without a code are dropped.
func transformMarkets(markets []wsMarket) (map[string]domain.MarketStatusData, error) {
	result := make(map[string]domain.MarketStatusData, len(markets))
	for _, m := range markets {
		code := strings.ToLower(strings.TrimSpace(m.Code))
		if code == "" {
			continue
		}
		result[code] = domain.MarketStatusData{
			Code:      code,
			Name:      m.Name,
			Status:    strings.ToLower(strings.TrimSpace(m.Status)),
			OpenTime:  m.OpenTime,
			CloseTime: m.CloseTime,
			Date:      m.Date,
		}
	}

	if len(result) == 0 {
		return nil, fmt.Errorf("no valid markets in update of %d entries", len(markets))
	}

	return result, nil
}

// emitMarketStatusEvent publishes the full cache snapshot as a
// MarketsStatusChanged event
func (ws *MarketStatusWebSocket) emitMarketStatusEvent(markets map[string]domain.MarketStatusData) {
	eventMarkets := make(map[string]events.MarketStatusData, len(markets))
	openCount := 0
	closedCount := 0

	for code, market := range markets {
		if market.Status == "open" {
			openCount++
		} else {
			closedCount++
		}

		eventMarkets[code] = events.MarketStatusData{
			Name:      market.Name,
			Code:      market.Code,
			Status:    market.Status,
			OpenTime:  market.OpenTime,
			CloseTime: market.CloseTime,
			Date:      market.Date,
		}
	}

	ws.eventBus.EmitTyped(events.MarketsStatusChanged, "market_status_websocket", &events.MarketsStatusChangedData{
		Markets:     eventMarkets,
		OpenCount:   openCount,
		ClosedCount: closedCount,
		LastUpdated: time.Now().Format(time.RFC3339),
	})
}

// emitConnectionEvent publishes feed connectivity changes. Callers hold
// ws.mu; the bus fans out synchronously so handlers must not call back
// into this client.
func (ws *MarketStatusWebSocket) emitConnectionEvent(connected bool) {
	if ws.eventBus == nil {
		return
	}
	ws.eventBus.EmitTyped(events.TradernetStatusChanged, "market_status_websocket", &events.TradernetStatusChangedData{
		Connected: connected,
		Timestamp: time.Now().Format(time.RFC3339),
	})
}

// reconnectLoop handles automatic reconnection with exponential backoff
func (ws *MarketStatusWebSocket) reconnectLoop() {
	ws.mu.Lock()
	if ws.reconnecting || ws.stopped {
		ws.mu.Unlock()
		return
	}
	ws.reconnecting = true
	ws.mu.Unlock()

	defer func() {
		ws.mu.Lock()
		ws.reconnecting = false
		ws.mu.Unlock()
	}()

	attempt := 0
	for {
		select {
		case <-ws.stopChan:
			ws.log.Info().Msg("Reconnection loop stopped")
			return
		default:
		}

		ws.mu.RLock()
		stopped := ws.stopped
		ws.mu.RUnlock()
		if stopped {
			return
		}

		attempt++
		delay := ws.calculateBackoff(attempt)

		if attempt <= maxReconnectAttempts {
			ws.log.Info().
				Int("attempt", attempt).
				Dur("delay", delay).
				Msg("Attempting to reconnect to WebSocket")
		} else {
			ws.log.Warn().
				Int("attempt", attempt).
				Dur("delay", delay).
				Msg("Reconnection attempt (exceeded max attempts, will keep retrying)")
		}

		select {
		case <-time.After(delay):
		case <-ws.stopChan:
			return
		}

		if err := ws.Connect(); err != nil {
			ws.log.Error().Err(err).
				Int("attempt", attempt).
				Msg("Reconnection failed")
			continue
		}

		ws.log.Info().
			Int("attempt", attempt).
			Msg("Reconnected to WebSocket")

		ws.mu.RLock()
		ctx := ws.connCtx
		ws.mu.RUnlock()
		go ws.readMessages(ctx)
		return
	}
}

// calculateBackoff returns the exponential backoff delay for an attempt,
// capped at maxReconnectDelay
func (ws *MarketStatusWebSocket) calculateBackoff(attempt int) time.Duration {
	delay := float64(baseReconnectDelay) * math.Pow(2, float64(attempt-1))
	if delay > float64(maxReconnectDelay) {
		delay = float64(maxReconnectDelay)
	}
	return time.Duration(delay)
}

// GetMarketStatus returns the cached status for a venue code
func (ws *MarketStatusWebSocket) GetMarketStatus(code string) (*domain.MarketStatusData, error) {
	ws.cacheMu.RLock()
	defer ws.cacheMu.RUnlock()

	market, exists := ws.marketCache[strings.ToLower(strings.TrimSpace(code))]
	if !exists {
		return nil, fmt.Errorf("market %s not found in cache", code)
	}

	return &market, nil
}

// GetAllMarketStatuses returns a copy of all cached venue statuses
func (ws *MarketStatusWebSocket) GetAllMarketStatuses() map[string]domain.MarketStatusData {
	ws.cacheMu.RLock()
	defer ws.cacheMu.RUnlock()

	result := make(map[string]domain.MarketStatusData, len(ws.marketCache))
	for k, v := range ws.marketCache {
		result[k] = v
	}

	return result
}

// IsCacheStale reports whether the feed has gone quiet
func (ws *MarketStatusWebSocket) IsCacheStale() bool {
	ws.cacheMu.RLock()
	defer ws.cacheMu.RUnlock()

	if ws.lastUpdate.IsZero() {
		return true
	}

	return time.Since(ws.lastUpdate) > cacheStaleThreshold
}

// IsConnected returns current connection status
func (ws *MarketStatusWebSocket) IsConnected() bool {
	ws.mu.RLock()
	defer ws.mu.RUnlock()
	return ws.connected
}
