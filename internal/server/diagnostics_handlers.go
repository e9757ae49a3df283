package server

import (
	"encoding/json"
	"math"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/tiller/internal/modules/historical"
	"github.com/aristath/tiller/pkg/formulas"
)

// momentumDays is the lookback for the momentum diagnostic.
const momentumDays = 20

// DiagnosticsHandler serves per-symbol indicator diagnostics computed
// over the loaded price matrix. Gaps in the series are dropped before
// the indicator math, so the values describe observed closes only.
type DiagnosticsHandler struct {
	prices *historical.Matrix
	window int
	log    zerolog.Logger
}

// NewDiagnosticsHandler creates a new diagnostics handler
func NewDiagnosticsHandler(prices *historical.Matrix, window int, log zerolog.Logger) *DiagnosticsHandler {
	return &DiagnosticsHandler{
		prices: prices,
		window: window,
		log:    log.With().Str("handler", "diagnostics").Logger(),
	}
}

// HandleSymbolDiagnostics handles GET /api/diagnostics/{symbol}
func (h *DiagnosticsHandler) HandleSymbolDiagnostics(w http.ResponseWriter, r *http.Request, symbol string) {
	if h.prices == nil || !h.prices.HasSymbol(symbol) {
		http.Error(w, "Symbol not in the loaded universe", http.StatusNotFound)
		return
	}

	column := h.prices.Column(symbol)
	closes := make([]float64, 0, len(column))
	for _, v := range column {
		if !math.IsNaN(v) {
			closes = append(closes, v)
		}
	}

	data := map[string]interface{}{
		"symbol":       symbol,
		"observations": len(closes),
		"window":       h.window,
	}

	if len(closes) > 0 {
		data["last_close"] = closes[len(closes)-1]
	}
	if last := h.prices.DateAt(h.prices.Len() - 1); !last.IsZero() {
		data["last_date"] = last.Format("2006-01-02")
	}

	data["sma"] = floatOrNil(trailingMean(closes, h.window))
	data["rsi_14"] = ptrOrNil(formulas.CalculateRSI(closes, 14))
	data["ema_20"] = ptrOrNil(formulas.CalculateEMA(closes, 20))
	data["momentum_20d"] = ptrOrNil(formulas.CalculateMomentum(closes, momentumDays))
	data["max_drawdown"] = ptrOrNil(formulas.CalculateMaxDrawdown(closes))
	data["annualized_volatility"] = ptrOrNil(formulas.CalculateVolatility(closes))

	returns := formulas.CleanReturns(formulas.CalculateReturns(closes))
	if len(returns) > 0 {
		data["mean_daily_return"] = formulas.Mean(returns)
		data["daily_return_stddev"] = formulas.StdDev(returns)
	}

	response := map[string]interface{}{
		"data": data,
		"metadata": map[string]interface{}{
			"timestamp": time.Now().Format(time.RFC3339),
		},
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(response); err != nil {
		h.log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

// trailingMean is the window mean over the tail of the series, NaN when
// fewer than window observations exist.
func trailingMean(values []float64, window int) float64 {
	return formulas.TrailingMeanAt(values, window, len(values)-1)
}

// floatOrNil maps NaN to JSON null
func floatOrNil(v float64) interface{} {
	if math.IsNaN(v) {
		return nil
	}
	return v
}

// ptrOrNil maps a nil indicator result to JSON null
func ptrOrNil(v *float64) interface{} {
	if v == nil {
		return nil
	}
	return *v
}
