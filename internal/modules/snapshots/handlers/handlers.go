// Package handlers provides HTTP handlers for matrix snapshot reads.
package handlers

import (
	"encoding/json"
	"math"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/tiller/internal/modules/historical"
	"github.com/aristath/tiller/internal/modules/snapshots"
)

// Handler serves the live matrices and the stored snapshot inventory.
// The matrices are immutable after startup, so no locking is needed.
type Handler struct {
	prices     *historical.Matrix
	indicators *historical.Matrix
	window     int
	repo       *snapshots.Repository
	log        zerolog.Logger
}

// NewHandler creates a new snapshot handler
func NewHandler(prices, indicators *historical.Matrix, window int, repo *snapshots.Repository, log zerolog.Logger) *Handler {
	return &Handler{
		prices:     prices,
		indicators: indicators,
		window:     window,
		repo:       repo,
		log:        log.With().Str("handler", "snapshots").Logger(),
	}
}

// HandleList handles GET /api/snapshots
func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	stored, err := h.repo.List()
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to list snapshots")
		http.Error(w, "Failed to list snapshots", http.StatusInternalServerError)
		return
	}
	if stored == nil {
		stored = []snapshots.Info{}
	}

	live := map[string]interface{}{
		"rows":         h.prices.Len(),
		"visible_rows": h.prices.VisibleLen(),
		"symbols":      h.prices.NumSymbols(),
		"window":       h.window,
	}
	if h.prices.Len() > 0 {
		live["first_date"] = h.prices.DateAt(0).Format("2006-01-02")
		live["last_date"] = h.prices.DateAt(h.prices.Len() - 1).Format("2006-01-02")
	}
	if h.prices.VisibleLen() > 0 {
		live["first_visible_date"] = h.prices.DateAt(h.prices.VisibleOffset()).Format("2006-01-02")
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"data": map[string]interface{}{
			"live":   live,
			"stored": stored,
		},
		"metadata": map[string]interface{}{
			"timestamp": time.Now().Format(time.RFC3339),
		},
	})
}

// HandleGetPrices handles GET /api/snapshots/prices
func (h *Handler) HandleGetPrices(w http.ResponseWriter, r *http.Request) {
	h.writeMatrix(w, h.prices)
}

// HandleGetIndicators handles GET /api/snapshots/indicators
func (h *Handler) HandleGetIndicators(w http.ResponseWriter, r *http.Request) {
	h.writeMatrix(w, h.indicators)
}

// writeMatrix dumps one matrix. NaN cells become JSON nulls.
func (h *Handler) writeMatrix(w http.ResponseWriter, m *historical.Matrix) {
	dates := m.Dates()
	formatted := make([]string, len(dates))
	for i, d := range dates {
		formatted[i] = d.Format("2006-01-02")
	}

	columns := make(map[string][]*float64, m.NumSymbols())
	for _, symbol := range m.Symbols() {
		raw := m.Column(symbol)
		cells := make([]*float64, len(raw))
		for i := range raw {
			if !math.IsNaN(raw[i]) {
				v := raw[i]
				cells[i] = &v
			}
		}
		columns[symbol] = cells
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"data": map[string]interface{}{
			"dates":          formatted,
			"columns":        columns,
			"visible_offset": m.VisibleOffset(),
		},
		"metadata": map[string]interface{}{
			"timestamp": time.Now().Format(time.RFC3339),
		},
	})
}

// writeJSON writes a JSON response
func (h *Handler) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}
