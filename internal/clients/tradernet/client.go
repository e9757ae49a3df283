// Package tradernet provides the broker client for the Tradernet
// gateway service and the market-status websocket feed.
package tradernet

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/tiller/internal/domain"
)

// Client talks to the Tradernet gateway over REST. The gateway wraps
// the vendor API behind a stable local service; every response uses the
// ServiceResponse envelope.
type Client struct {
	serviceURL string
	apiKey     string
	apiSecret  string
	client     *http.Client
	log        zerolog.Logger
}

// ServiceResponse is the standard response format from the gateway
type ServiceResponse struct {
	Success   bool            `json:"success"`
	Data      json.RawMessage `json:"data"`
	Error     *string         `json:"error"`
	Timestamp string          `json:"timestamp"`
}

var _ domain.BrokerClient = (*Client)(nil)

// NewClient creates a new Tradernet gateway client
func NewClient(serviceURL, apiKey, apiSecret string, log zerolog.Logger) *Client {
	return &Client{
		serviceURL: strings.TrimSuffix(serviceURL, "/"),
		apiKey:     apiKey,
		apiSecret:  apiSecret,
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
		log: log.With().Str("client", "tradernet").Logger(),
	}
}

// positionData is the gateway's wire format for one position
type positionData struct {
	Symbol       string  `json:"symbol"`
	Quantity     float64 `json:"quantity"`
	AvgPrice     float64 `json:"avg_price"`
	CurrentPrice float64 `json:"current_price"`
	MarketValue  float64 `json:"market_value"`
	Currency     string  `json:"currency"`
}

// GetOpenPositions returns all currently held positions
func (c *Client) GetOpenPositions(ctx context.Context) ([]domain.BrokerPosition, error) {
	resp, err := c.post(ctx, "/api/get-positions", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to get positions: %w", err)
	}

	var data struct {
		Positions []positionData `json:"positions"`
	}
	if err := json.Unmarshal(resp.Data, &data); err != nil {
		return nil, fmt.Errorf("failed to parse positions: %w", err)
	}

	positions := make([]domain.BrokerPosition, 0, len(data.Positions))
	for _, p := range data.Positions {
		positions = append(positions, domain.BrokerPosition{
			Symbol:       strings.ToUpper(strings.TrimSpace(p.Symbol)),
			Quantity:     p.Quantity,
			AvgPrice:     p.AvgPrice,
			CurrentPrice: p.CurrentPrice,
			MarketValue:  p.MarketValue,
			Currency:     p.Currency,
		})
	}

	c.log.Debug().Int("count", len(positions)).Msg("Fetched open positions")
	return positions, nil
}

// GetCashBalances returns free cash per currency
func (c *Client) GetCashBalances(ctx context.Context) ([]domain.BrokerCashBalance, error) {
	resp, err := c.post(ctx, "/api/get-cash-balances", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to get cash balances: %w", err)
	}

	var data struct {
		Balances []struct {
			Currency string  `json:"currency"`
			Amount   float64 `json:"amount"`
		} `json:"balances"`
	}
	if err := json.Unmarshal(resp.Data, &data); err != nil {
		return nil, fmt.Errorf("failed to parse cash balances: %w", err)
	}

	balances := make([]domain.BrokerCashBalance, 0, len(data.Balances))
	for _, b := range data.Balances {
		balances = append(balances, domain.BrokerCashBalance{
			Currency: b.Currency,
			Amount:   b.Amount,
		})
	}

	return balances, nil
}

// CancelAllOpenOrders cancels every working order on the account
func (c *Client) CancelAllOpenOrders(ctx context.Context) (*domain.BrokerCancelResult, error) {
	resp, err := c.post(ctx, "/api/cancel-all-orders", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to cancel orders: %w", err)
	}

	var data struct {
		CancelledCount int      `json:"cancelled_count"`
		OrderIDs       []string `json:"order_ids"`
	}
	if err := json.Unmarshal(resp.Data, &data); err != nil {
		return nil, fmt.Errorf("failed to parse cancel result: %w", err)
	}

	c.log.Info().Int("cancelled", data.CancelledCount).Msg("Cancelled open orders")

	return &domain.BrokerCancelResult{
		CancelledCount: data.CancelledCount,
		OrderIDs:       data.OrderIDs,
	}, nil
}

// placeOrderRequest is the gateway's wire format for one order
type placeOrderRequest struct {
	ClientOrderID string  `json:"client_order_id"`
	Symbol        string  `json:"symbol"`
	Side          string  `json:"side"`
	Quantity      float64 `json:"quantity"`
	OrderType     string  `json:"order_type"`
	LimitPrice    float64 `json:"limit_price,omitempty"`
	TimeInForce   string  `json:"time_in_force"`
}

// SubmitOrders places intents with the gateway one at a time, stopping
// at the first failure so the caller sees exactly which orders went in.
func (c *Client) SubmitOrders(ctx context.Context, intents []domain.OrderIntent) ([]domain.BrokerOrderResult, error) {
	results := make([]domain.BrokerOrderResult, 0, len(intents))

	for _, intent := range intents {
		req := placeOrderRequest{
			ClientOrderID: intent.ClientOrderID,
			Symbol:        intent.Symbol,
			Side:          string(intent.Side),
			Quantity:      intent.Quantity,
			OrderType:     string(intent.Style),
			LimitPrice:    intent.LimitPrice,
			TimeInForce:   string(intent.TimeInForce),
		}

		resp, err := c.post(ctx, "/api/place-order", req)
		if err != nil {
			return results, fmt.Errorf("failed to place order for %s: %w", intent.Symbol, err)
		}

		var data struct {
			OrderID string `json:"order_id"`
		}
		if err := json.Unmarshal(resp.Data, &data); err != nil {
			return results, fmt.Errorf("failed to parse order result for %s: %w", intent.Symbol, err)
		}

		c.log.Info().
			Str("symbol", intent.Symbol).
			Str("side", string(intent.Side)).
			Float64("quantity", intent.Quantity).
			Str("order_id", data.OrderID).
			Msg("Order placed")

		results = append(results, domain.BrokerOrderResult{
			OrderID:  data.OrderID,
			Symbol:   intent.Symbol,
			Side:     string(intent.Side),
			Quantity: intent.Quantity,
		})
	}

	return results, nil
}

// IsConnected checks if the gateway is reachable
func (c *Client) IsConnected() bool {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	result, err := c.HealthCheck(ctx)
	if err != nil {
		return false
	}
	return result.Connected
}

// HealthCheck checks gateway health. An unreachable gateway returns a
// disconnected result, not an error.
func (c *Client) HealthCheck(ctx context.Context) (*domain.BrokerHealthResult, error) {
	resp, err := c.get(ctx, "/health")
	if err != nil {
		c.log.Debug().Err(err).Msg("Health check failed")
		return &domain.BrokerHealthResult{
			Connected: false,
			Timestamp: time.Now().Format(time.RFC3339),
		}, nil
	}

	return &domain.BrokerHealthResult{
		Connected: resp.Success,
		Timestamp: time.Now().Format(time.RFC3339),
	}, nil
}

// post makes a POST request to the gateway
func (c *Client) post(ctx context.Context, endpoint string, request interface{}) (*ServiceResponse, error) {
	var reqBody io.Reader
	if request != nil {
		body, err := json.Marshal(request)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		reqBody = bytes.NewBuffer(body)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.serviceURL+endpoint, reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	c.setAuthHeaders(req)

	return c.do(req)
}

// get makes a GET request to the gateway
func (c *Client) get(ctx context.Context, endpoint string) (*ServiceResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.serviceURL+endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	c.setAuthHeaders(req)

	return c.do(req)
}

func (c *Client) setAuthHeaders(req *http.Request) {
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}
	if c.apiSecret != "" {
		req.Header.Set("X-API-Secret", c.apiSecret)
	}
}

func (c *Client) do(req *http.Request) (*ServiceResponse, error) {
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("gateway returned status %d: %s", resp.StatusCode, string(body))
	}

	var result ServiceResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	if !result.Success {
		errMsg := "unknown error"
		if result.Error != nil {
			errMsg = *result.Error
		}
		return &result, fmt.Errorf("gateway error: %s", errMsg)
	}

	return &result, nil
}
