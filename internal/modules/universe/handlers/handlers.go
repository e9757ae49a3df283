// Package handlers provides HTTP handlers for universe management.
package handlers

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/tiller/internal/modules/universe"
)

// Handler handles universe HTTP requests
type Handler struct {
	service *universe.Service
	log     zerolog.Logger
}

// NewHandler creates a new universe handler
func NewHandler(service *universe.Service, log zerolog.Logger) *Handler {
	return &Handler{
		service: service,
		log:     log.With().Str("handler", "universe").Logger(),
	}
}

// addSecurityRequest is the POST /api/universe payload
type addSecurityRequest struct {
	Symbol string `json:"symbol"`
}

// HandleList handles GET /api/universe
// Returns all securities; ?active=true filters to the trading universe.
func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	var (
		securities []universe.Security
		err        error
	)

	if r.URL.Query().Get("active") == "true" {
		securities, err = h.service.ListActive()
	} else {
		securities, err = h.service.List()
	}
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to list securities")
		http.Error(w, "Failed to list securities", http.StatusInternalServerError)
		return
	}

	if securities == nil {
		securities = []universe.Security{}
	}

	response := map[string]interface{}{
		"data": map[string]interface{}{
			"securities": securities,
			"count":      len(securities),
		},
		"metadata": map[string]interface{}{
			"timestamp": time.Now().Format(time.RFC3339),
		},
	}

	h.writeJSON(w, http.StatusOK, response)
}

// HandleAdd handles POST /api/universe
// Adds a symbol to the trading universe, enriching it with provider
// metadata when available.
func (h *Handler) HandleAdd(w http.ResponseWriter, r *http.Request) {
	var req addSecurityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if strings.TrimSpace(req.Symbol) == "" {
		http.Error(w, "symbol is required", http.StatusBadRequest)
		return
	}

	security, err := h.service.AddSecurity(r.Context(), req.Symbol)
	if err != nil {
		h.log.Error().Err(err).Str("symbol", req.Symbol).Msg("Failed to add security")
		http.Error(w, "Failed to add security", http.StatusInternalServerError)
		return
	}

	response := map[string]interface{}{
		"data": security,
		"metadata": map[string]interface{}{
			"timestamp": time.Now().Format(time.RFC3339),
		},
	}

	h.writeJSON(w, http.StatusCreated, response)
}

// HandleDeactivate handles DELETE /api/universe/{symbol}
// Removes a symbol from the trading universe without discarding its
// history.
func (h *Handler) HandleDeactivate(w http.ResponseWriter, r *http.Request, symbol string) {
	if err := h.service.Deactivate(symbol); err != nil {
		h.log.Error().Err(err).Str("symbol", symbol).Msg("Failed to deactivate security")
		http.Error(w, "Failed to deactivate security", http.StatusNotFound)
		return
	}

	response := map[string]interface{}{
		"data": map[string]interface{}{
			"symbol":      strings.ToUpper(strings.TrimSpace(symbol)),
			"deactivated": true,
		},
		"metadata": map[string]interface{}{
			"timestamp": time.Now().Format(time.RFC3339),
		},
	}

	h.writeJSON(w, http.StatusOK, response)
}

// writeJSON writes a JSON response
func (h *Handler) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}
