// Package yahoo provides a Yahoo Finance client for historical bars,
// current quotes, and instrument metadata.
package yahoo

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/tiller/internal/clientdata"
	"github.com/aristath/tiller/internal/domain"
)

// DefaultBaseURL is the production Yahoo Finance query host
const DefaultBaseURL = "https://query1.finance.yahoo.com"

// browserUserAgent mimics a desktop browser; Yahoo rejects default Go
// client user agents.
const browserUserAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36"

// Client is a Yahoo Finance API client
type Client struct {
	baseURL   string
	client    *http.Client
	log       zerolog.Logger
	cacheRepo *clientdata.Repository
}

var _ domain.PriceSource = (*Client)(nil)

// NewClient creates a new Yahoo Finance client. An empty baseURL uses
// the production host; tests point it at a local server.
// cacheRepo is optional - if nil, caching is disabled
func NewClient(baseURL string, cacheRepo *clientdata.Repository, log zerolog.Logger) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
		log:       log.With().Str("client", "yahoo").Logger(),
		cacheRepo: cacheRepo,
	}
}

// cachedPrice is the structure stored in the current price cache
type cachedPrice struct {
	Price float64 `json:"price"`
}

// GetYahooSymbol converts a broker symbol to a Yahoo Finance symbol.
// Examples:
// AAPL.US -> AAPL
// BASF.DE -> BASF.DE
// 7203.JP -> 7203.T (Toyota)
func GetYahooSymbol(symbol string) string {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))

	if strings.HasSuffix(symbol, ".US") {
		return strings.TrimSuffix(symbol, ".US")
	}

	if strings.HasSuffix(symbol, ".JP") {
		// Japanese stocks use .T suffix on Yahoo
		base := strings.TrimSuffix(symbol, ".JP")
		return base + ".T"
	}

	// Default: use as-is for European stocks
	return symbol
}

// Fetch implements the price source port: one chart request per symbol,
// results keyed by the caller's symbol. A symbol whose request fails is
// logged and omitted so the caller can apply its own missing-data
// rules; only context cancellation aborts the whole fetch.
func (c *Client) Fetch(ctx context.Context, symbols []string, field domain.PriceField, start, end time.Time, freq domain.Frequency) (map[string][]domain.Bar, error) {
	interval := "1d"
	if freq != "" {
		interval = string(freq)
	}

	result := make(map[string][]domain.Bar, len(symbols))
	for _, symbol := range symbols {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		bars, err := c.GetHistoricalPrices(ctx, symbol, start, end, interval)
		if err != nil {
			c.log.Warn().Err(err).Str("symbol", symbol).Msg("Failed to fetch historical prices")
			continue
		}
		result[symbol] = bars
	}

	return result, nil
}

// GetHistoricalPrices fetches daily OHLCV bars for [start, end] from
// the v8 chart API. Bars with no traded prices are skipped; adjusted
// close falls back to close when Yahoo omits the adjclose series.
func (c *Client) GetHistoricalPrices(ctx context.Context, symbol string, start, end time.Time, interval string) ([]domain.Bar, error) {
	yfSymbol := GetYahooSymbol(symbol)

	params := url.Values{}
	params.Add("interval", interval)
	params.Add("period1", fmt.Sprintf("%d", start.Unix()))
	// period2 is exclusive; push it past end-of-day so the last day is included
	params.Add("period2", fmt.Sprintf("%d", end.Add(24*time.Hour).Unix()))
	params.Add("includeAdjustedClose", "true")

	reqURL := c.baseURL + "/v8/finance/chart/" + url.QueryEscape(yfSymbol) + "?" + params.Encode()

	body, err := c.get(ctx, reqURL)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch historical data: %w", err)
	}

	var result chartResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	if result.Chart.Error != nil {
		return nil, fmt.Errorf("Yahoo Finance API error: %v", result.Chart.Error)
	}

	if len(result.Chart.Result) == 0 {
		c.log.Warn().Str("symbol", symbol).Msg("No historical data returned")
		return []domain.Bar{}, nil
	}

	chartData := result.Chart.Result[0]
	timestamps := chartData.Timestamp
	if len(chartData.Indicators.Quote) == 0 {
		c.log.Warn().Str("symbol", symbol).Msg("No quote data in response")
		return []domain.Bar{}, nil
	}

	quote := chartData.Indicators.Quote[0]

	var adjCloseData []float64
	if len(chartData.Indicators.AdjClose) > 0 {
		adjCloseData = chartData.Indicators.AdjClose[0].AdjClose
	}

	var bars []domain.Bar
	for i := range timestamps {
		if i >= len(quote.Open) || i >= len(quote.High) || i >= len(quote.Low) || i >= len(quote.Close) {
			continue
		}

		// Yahoo sometimes returns null values
		if quote.Open[i] == 0 && quote.High[i] == 0 && quote.Low[i] == 0 && quote.Close[i] == 0 {
			continue
		}

		adjClose := quote.Close[i] // default to close
		if i < len(adjCloseData) && adjCloseData[i] != 0 {
			adjClose = adjCloseData[i]
		}

		volume := int64(0)
		if i < len(quote.Volume) {
			volume = quote.Volume[i]
		}

		bars = append(bars, domain.Bar{
			Date:     time.Unix(timestamps[i], 0).UTC(),
			Open:     quote.Open[i],
			High:     quote.High[i],
			Low:      quote.Low[i],
			Close:    quote.Close[i],
			AdjClose: adjClose,
			Volume:   volume,
		})
	}

	c.log.Debug().
		Str("symbol", symbol).
		Str("interval", interval).
		Int("count", len(bars)).
		Msg("Fetched historical prices")

	return bars, nil
}

// GetCurrentPrice gets the latest traded price with retry logic.
// A fresh cached price skips the API entirely; when every attempt
// fails, a stale cached price is returned as a fallback.
func (c *Client) GetCurrentPrice(ctx context.Context, symbol string, maxRetries int) (float64, error) {
	if maxRetries <= 0 {
		maxRetries = 3
	}

	cacheKey := strings.ToUpper(strings.TrimSpace(symbol))

	// Check persistent cache for fresh data
	if c.cacheRepo != nil {
		data, err := c.cacheRepo.GetIfFresh("current_prices", cacheKey)
		if err == nil && data != nil {
			var cached cachedPrice
			if err := json.Unmarshal(data, &cached); err == nil && cached.Price > 0 {
				c.log.Debug().
					Str("symbol", symbol).
					Float64("price", cached.Price).
					Msg("Cache hit")
				return cached.Price, nil
			}
		}
	}

	yfSymbol := GetYahooSymbol(symbol)

	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		if attempt > 0 {
			waitTime := time.Duration(1<<uint(attempt-1)) * time.Second // exponential backoff
			select {
			case <-time.After(waitTime):
			case <-ctx.Done():
				return 0, ctx.Err()
			}
		}

		info, err := c.getQuoteInfo(ctx, yfSymbol)
		if err != nil {
			lastErr = err
			c.log.Warn().Err(err).
				Str("symbol", symbol).
				Int("attempt", attempt+1).
				Msg("Failed to get price, retrying")
			continue
		}

		// Try currentPrice first, then regularMarketPrice
		if price := getFloat64(info, "currentPrice"); price != nil && *price > 0 {
			c.storePrice(cacheKey, *price)
			return *price, nil
		}
		if price := getFloat64(info, "regularMarketPrice"); price != nil && *price > 0 {
			c.storePrice(cacheKey, *price)
			return *price, nil
		}

		lastErr = fmt.Errorf("no valid price in quote for %s", symbol)
	}

	// API failed - try to get stale cached data as fallback
	if stale, ok := c.getStalePrice(cacheKey); ok {
		c.log.Warn().Err(lastErr).
			Str("symbol", symbol).
			Float64("price", stale).
			Msg("API failed, using stale cached price")
		return stale, nil
	}

	return 0, fmt.Errorf("failed after %d attempts: %w", maxRetries, lastErr)
}

// storePrice caches a freshly fetched price
func (c *Client) storePrice(cacheKey string, price float64) {
	if c.cacheRepo == nil {
		return
	}
	if err := c.cacheRepo.Store("current_prices", cacheKey, cachedPrice{Price: price}, clientdata.TTLCurrentPrice); err != nil {
		c.log.Warn().Err(err).Str("symbol", cacheKey).Msg("Failed to cache price")
	}
}

// getStalePrice retrieves a cached price even if expired.
// Use this as a fallback when API calls fail - stale data is better than no data.
func (c *Client) getStalePrice(cacheKey string) (float64, bool) {
	if c.cacheRepo == nil {
		return 0, false
	}

	data, err := c.cacheRepo.Get("current_prices", cacheKey)
	if err != nil || data == nil {
		return 0, false
	}

	var cached cachedPrice
	if err := json.Unmarshal(data, &cached); err != nil || cached.Price <= 0 {
		return 0, false
	}

	return cached.Price, true
}

// GetSecurityMetadata fetches descriptive metadata for a symbol.
// Metadata changes rarely, so cached entries are served for days; a
// stale entry still beats an API error.
func (c *Client) GetSecurityMetadata(ctx context.Context, symbol string) (*domain.SecurityMetadata, error) {
	cacheKey := strings.ToUpper(strings.TrimSpace(symbol))

	// Check persistent cache for fresh data
	if c.cacheRepo != nil {
		data, err := c.cacheRepo.GetIfFresh("yahoo_metadata", cacheKey)
		if err == nil && data != nil {
			var cached domain.SecurityMetadata
			if err := json.Unmarshal(data, &cached); err == nil {
				c.log.Debug().Str("symbol", symbol).Msg("Cache hit")
				return &cached, nil
			}
		}
	}

	yfSymbol := GetYahooSymbol(symbol)

	info, err := c.getQuoteInfo(ctx, yfSymbol)
	if err != nil {
		// API failed - try to get stale cached data as fallback
		if stale, ok := c.getStaleMetadata(cacheKey); ok {
			c.log.Warn().Err(err).
				Str("symbol", symbol).
				Msg("API failed, using stale cached metadata")
			return stale, nil
		}
		return nil, fmt.Errorf("failed to get quote info: %w", err)
	}

	name := getString(info, "longName", "")
	if name == "" {
		name = getString(info, "shortName", "")
	}

	meta := &domain.SecurityMetadata{
		Symbol:   cacheKey,
		Name:     name,
		Currency: getString(info, "currency", ""),
		Exchange: getString(info, "fullExchangeName", ""),
	}

	// Cache persistently
	if c.cacheRepo != nil {
		if err := c.cacheRepo.Store("yahoo_metadata", cacheKey, meta, clientdata.TTLSecurityMetadata); err != nil {
			c.log.Warn().Err(err).Str("symbol", symbol).Msg("Failed to cache metadata")
		}
	}

	return meta, nil
}

// getStaleMetadata retrieves cached metadata even if expired.
// Use this as a fallback when API calls fail - stale data is better than no data.
func (c *Client) getStaleMetadata(cacheKey string) (*domain.SecurityMetadata, bool) {
	if c.cacheRepo == nil {
		return nil, false
	}

	data, err := c.cacheRepo.Get("yahoo_metadata", cacheKey)
	if err != nil || data == nil {
		return nil, false
	}

	var cached domain.SecurityMetadata
	if err := json.Unmarshal(data, &cached); err != nil {
		return nil, false
	}

	return &cached, true
}

// getQuoteInfo fetches quote information from the v7 quote API
func (c *Client) getQuoteInfo(ctx context.Context, symbol string) (map[string]interface{}, error) {
	params := url.Values{}
	params.Add("symbols", symbol)
	params.Add("fields", "symbol,regularMarketPrice,currentPrice,currency,fullExchangeName,"+
		"quoteType,longName,shortName")

	reqURL := c.baseURL + "/v7/finance/quote?" + params.Encode()

	body, err := c.get(ctx, reqURL)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch quote: %w", err)
	}

	var result quoteResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	if result.QuoteResponse.Error != nil {
		return nil, fmt.Errorf("Yahoo Finance API error: %v", result.QuoteResponse.Error)
	}

	if len(result.QuoteResponse.Result) == 0 {
		return nil, fmt.Errorf("no quote data returned for symbol %s", symbol)
	}

	return result.QuoteResponse.Result[0], nil
}

// get performs a GET request with browser headers and returns the body
func (c *Client) get(ctx context.Context, reqURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("User-Agent", browserUserAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("Yahoo Finance API returned status %d: %s", resp.StatusCode, string(body))
	}

	return body, nil
}

// Helper functions to safely extract values from map

func getFloat64(m map[string]interface{}, key string) *float64 {
	if val, ok := m[key]; ok && val != nil {
		switch v := val.(type) {
		case float64:
			return &v
		case int:
			f := float64(v)
			return &f
		case int64:
			f := float64(v)
			return &f
		}
	}
	return nil
}

func getString(m map[string]interface{}, key string, defaultVal string) string {
	if val, ok := m[key]; ok && val != nil {
		if s, ok := val.(string); ok {
			return s
		}
	}
	return defaultVal
}
