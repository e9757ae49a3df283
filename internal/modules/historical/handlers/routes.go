package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// RegisterRoutes registers all history browsing routes
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/history", func(r chi.Router) {
		r.Get("/{symbol}/bars", func(w http.ResponseWriter, r *http.Request) {
			h.HandleGetBars(w, r, chi.URLParam(r, "symbol"))
		})
		r.Get("/{symbol}/latest", func(w http.ResponseWriter, r *http.Request) {
			h.HandleGetLatest(w, r, chi.URLParam(r, "symbol"))
		})
		r.Get("/{symbol}/returns", func(w http.ResponseWriter, r *http.Request) {
			h.HandleGetReturns(w, r, chi.URLParam(r, "symbol"))
		})
	})
}
