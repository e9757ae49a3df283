// Package handlers provides HTTP handlers for the engine: cursor
// state, signal and weight rows, and the manual trigger.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/tiller/internal/domain"
	"github.com/aristath/tiller/internal/modules/rebalancing"
)

// triggerJobName is the scheduler job the manual trigger kicks
const triggerJobName = "rebalance_cycle"

// TriggerRunner kicks a named scheduler job outside its schedule.
// Satisfied by the scheduler.
type TriggerRunner interface {
	RunNow(name string) error
}

// Handler handles engine HTTP requests
type Handler struct {
	service *rebalancing.Service
	trigger TriggerRunner
	log     zerolog.Logger
}

// NewHandler creates a new engine handler
func NewHandler(service *rebalancing.Service, trigger TriggerRunner, log zerolog.Logger) *Handler {
	return &Handler{
		service: service,
		trigger: trigger,
		log:     log.With().Str("handler", "engine").Logger(),
	}
}

// HandleState handles GET /api/engine/state
func (h *Handler) HandleState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, h.log, map[string]interface{}{"data": h.service.Status()})
}

// HandleSignals handles GET /api/engine/signals
// ?date=YYYY-MM-DD selects a row; the default is the latest one.
func (h *Handler) HandleSignals(w http.ResponseWriter, r *http.Request) {
	date, ok := parseDateParam(w, r)
	if !ok {
		return
	}

	signalRow, resolved, err := h.service.SignalsOn(date)
	if err != nil {
		h.writeRowError(w, err, "signals")
		return
	}

	on := 0
	for _, signal := range signalRow {
		if signal == 1.0 {
			on++
		}
	}

	writeJSON(w, h.log, map[string]interface{}{
		"data": map[string]interface{}{
			"date":    resolved.Format("2006-01-02"),
			"signals": signalRow,
			"on":      on,
		},
	})
}

// HandleWeights handles GET /api/engine/weights
// ?date=YYYY-MM-DD selects a row; the default is the latest one.
func (h *Handler) HandleWeights(w http.ResponseWriter, r *http.Request) {
	date, ok := parseDateParam(w, r)
	if !ok {
		return
	}

	weights, resolved, err := h.service.WeightsOn(date)
	if err != nil {
		h.writeRowError(w, err, "weights")
		return
	}

	allCash := true
	for _, weight := range weights {
		if weight > 0 {
			allCash = false
			break
		}
	}

	writeJSON(w, h.log, map[string]interface{}{
		"data": map[string]interface{}{
			"date":     resolved.Format("2006-01-02"),
			"weights":  weights,
			"all_cash": allCash,
		},
	})
}

// HandleTrigger handles POST /api/engine/trigger
// Kicks the rebalance job immediately and reports the engine state
// after the delivery.
func (h *Handler) HandleTrigger(w http.ResponseWriter, r *http.Request) {
	h.log.Info().Msg("Manual trigger requested")

	if err := h.trigger.RunNow(triggerJobName); err != nil {
		h.log.Error().Err(err).Msg("Manual trigger failed")
		http.Error(w, "Trigger failed: "+err.Error(), http.StatusInternalServerError)
		return
	}

	writeJSON(w, h.log, map[string]interface{}{
		"data": map[string]interface{}{
			"triggered": true,
			"state":     h.service.Status(),
		},
	})
}

// parseDateParam reads ?date= and writes a 400 on malformed input.
// An absent parameter yields the zero time, meaning the latest row.
func parseDateParam(w http.ResponseWriter, r *http.Request) (time.Time, bool) {
	raw := r.URL.Query().Get("date")
	if raw == "" {
		return time.Time{}, true
	}

	date, err := time.Parse("2006-01-02", raw)
	if err != nil {
		http.Error(w, "date must be YYYY-MM-DD", http.StatusBadRequest)
		return time.Time{}, false
	}
	return date, true
}

func (h *Handler) writeRowError(w http.ResponseWriter, err error, what string) {
	var verr *domain.ValidationError
	if errors.As(err, &verr) {
		http.Error(w, verr.Error(), http.StatusBadRequest)
		return
	}
	h.log.Error().Err(err).Str("what", what).Msg("Failed to derive row")
	http.Error(w, "Failed to derive "+what, http.StatusInternalServerError)
}

func writeJSON(w http.ResponseWriter, log zerolog.Logger, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Error().Err(err).Msg("Failed to encode response")
	}
}
