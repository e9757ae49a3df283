package handlers

import (
	"github.com/go-chi/chi/v5"
)

// RegisterRoutes registers engine routes on the given router
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/engine", func(r chi.Router) {
		r.Get("/state", h.HandleState)
		r.Get("/signals", h.HandleSignals)
		r.Get("/weights", h.HandleWeights)
		r.Post("/trigger", h.HandleTrigger)
	})
}
