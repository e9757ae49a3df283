// Package handlers provides HTTP handlers for browsing stored bar history.
package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/tiller/internal/domain"
	"github.com/aristath/tiller/pkg/formulas"
)

// defaultLookbackDays bounds bar queries that omit an explicit start.
const defaultLookbackDays = 365

// BarReader is the slice of the history store the handlers read from.
type BarReader interface {
	GetBarsBetween(symbol string, start, end time.Time) ([]domain.Bar, error)
	GetLatestDate(symbol string) (*time.Time, error)
	CountBars(symbol string) (int, error)
}

// Handler handles history HTTP requests
type Handler struct {
	history BarReader
	log     zerolog.Logger
}

// NewHandler creates a new history handler
func NewHandler(history BarReader, log zerolog.Logger) *Handler {
	return &Handler{
		history: history,
		log:     log.With().Str("handler", "history").Logger(),
	}
}

// barPayload is the JSON shape of one stored bar.
type barPayload struct {
	Date     string  `json:"date"`
	Open     float64 `json:"open"`
	High     float64 `json:"high"`
	Low      float64 `json:"low"`
	Close    float64 `json:"close"`
	AdjClose float64 `json:"adj_close"`
	Volume   int64   `json:"volume"`
}

// HandleGetBars handles GET /api/history/{symbol}/bars
// Optional ?start= and ?end= (YYYY-MM-DD) bound the range; without them
// the last year of bars is returned.
func (h *Handler) HandleGetBars(w http.ResponseWriter, r *http.Request, symbol string) {
	start, end, err := parseDateRange(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	bars, err := h.history.GetBarsBetween(symbol, start, end)
	if err != nil {
		h.log.Error().Err(err).Str("symbol", symbol).Msg("Failed to get bars")
		http.Error(w, "Failed to get bars", http.StatusInternalServerError)
		return
	}

	payload := make([]barPayload, 0, len(bars))
	for _, b := range bars {
		payload = append(payload, barPayload{
			Date:     b.Date.Format("2006-01-02"),
			Open:     b.Open,
			High:     b.High,
			Low:      b.Low,
			Close:    b.Close,
			AdjClose: b.AdjClose,
			Volume:   b.Volume,
		})
	}

	response := map[string]interface{}{
		"data": map[string]interface{}{
			"symbol": symbol,
			"bars":   payload,
			"count":  len(payload),
		},
		"metadata": map[string]interface{}{
			"timestamp": time.Now().Format(time.RFC3339),
		},
	}

	h.writeJSON(w, http.StatusOK, response)
}

// HandleGetLatest handles GET /api/history/{symbol}/latest
// Reports the newest stored bar date and the total bar count. A symbol
// with no history yields a null date rather than an error.
func (h *Handler) HandleGetLatest(w http.ResponseWriter, r *http.Request, symbol string) {
	latest, err := h.history.GetLatestDate(symbol)
	if err != nil {
		h.log.Error().Err(err).Str("symbol", symbol).Msg("Failed to get latest date")
		http.Error(w, "Failed to get latest date", http.StatusInternalServerError)
		return
	}

	count, err := h.history.CountBars(symbol)
	if err != nil {
		h.log.Error().Err(err).Str("symbol", symbol).Msg("Failed to count bars")
		http.Error(w, "Failed to count bars", http.StatusInternalServerError)
		return
	}

	var latestDate interface{}
	if latest != nil {
		latestDate = latest.Format("2006-01-02")
	}

	response := map[string]interface{}{
		"data": map[string]interface{}{
			"symbol":      symbol,
			"latest_date": latestDate,
			"bar_count":   count,
		},
		"metadata": map[string]interface{}{
			"timestamp": time.Now().Format(time.RFC3339),
		},
	}

	h.writeJSON(w, http.StatusOK, response)
}

// HandleGetReturns handles GET /api/history/{symbol}/returns
// Computes daily percentage returns over the adjusted close series for
// the requested range.
func (h *Handler) HandleGetReturns(w http.ResponseWriter, r *http.Request, symbol string) {
	start, end, err := parseDateRange(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	bars, err := h.history.GetBarsBetween(symbol, start, end)
	if err != nil {
		h.log.Error().Err(err).Str("symbol", symbol).Msg("Failed to get bars")
		http.Error(w, "Failed to get returns", http.StatusInternalServerError)
		return
	}

	closes := make([]float64, len(bars))
	for i, b := range bars {
		closes[i] = b.AdjClose
	}
	series := formulas.CalculateReturns(closes)

	// Return i spans bars[i] -> bars[i+1], so it is dated at the later bar.
	returns := make([]map[string]interface{}, 0, len(series))
	for i, ret := range series {
		returns = append(returns, map[string]interface{}{
			"date":   bars[i+1].Date.Format("2006-01-02"),
			"return": ret,
		})
	}

	response := map[string]interface{}{
		"data": map[string]interface{}{
			"symbol":  symbol,
			"returns": returns,
			"count":   len(returns),
		},
		"metadata": map[string]interface{}{
			"timestamp": time.Now().Format(time.RFC3339),
		},
	}

	h.writeJSON(w, http.StatusOK, response)
}

// parseDateRange reads the optional start/end query parameters,
// defaulting to the trailing year ending today.
func parseDateRange(r *http.Request) (time.Time, time.Time, error) {
	end := time.Now().UTC()
	if endStr := r.URL.Query().Get("end"); endStr != "" {
		parsed, err := time.Parse("2006-01-02", endStr)
		if err != nil {
			return time.Time{}, time.Time{}, domain.NewValidationError("end", "invalid date %q, want YYYY-MM-DD", endStr)
		}
		end = parsed
	}

	start := end.AddDate(0, 0, -defaultLookbackDays)
	if startStr := r.URL.Query().Get("start"); startStr != "" {
		parsed, err := time.Parse("2006-01-02", startStr)
		if err != nil {
			return time.Time{}, time.Time{}, domain.NewValidationError("start", "invalid date %q, want YYYY-MM-DD", startStr)
		}
		start = parsed
	}

	if start.After(end) {
		return time.Time{}, time.Time{}, domain.NewValidationError("start", "start %s is after end %s",
			start.Format("2006-01-02"), end.Format("2006-01-02"))
	}

	return start, end, nil
}

// writeJSON writes a JSON response
func (h *Handler) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}
