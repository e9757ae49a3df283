// Package server provides the HTTP server and routing for Tiller.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"github.com/aristath/tiller/internal/database"
	"github.com/aristath/tiller/internal/events"
	"github.com/aristath/tiller/internal/modules/historical"
	historicalhandlers "github.com/aristath/tiller/internal/modules/historical/handlers"
	ledgerhandlers "github.com/aristath/tiller/internal/modules/ledger/handlers"
	rebalancinghandlers "github.com/aristath/tiller/internal/modules/rebalancing/handlers"
	snapshotshandlers "github.com/aristath/tiller/internal/modules/snapshots/handlers"
	universehandlers "github.com/aristath/tiller/internal/modules/universe/handlers"
)

// Config holds server configuration
type Config struct {
	Log     zerolog.Logger
	Port    int
	DevMode bool
	DataDir string

	EngineDB *database.DB
	CacheDB  *database.DB

	EventBus *events.Bus
	Prices   *historical.Matrix
	Window   int

	Broker  BrokerHealth
	Markets MarketStatusCache
	Jobs    JobLister

	EngineHandler    *rebalancinghandlers.Handler
	UniverseHandler  *universehandlers.Handler
	RunsHandler      *ledgerhandlers.Handler
	SnapshotsHandler *snapshotshandlers.Handler
	HistoryHandler   *historicalhandlers.Handler
}

// Server represents the HTTP server
type Server struct {
	router         *chi.Mux
	server         *http.Server
	log            zerolog.Logger
	cfg            Config
	systemHandlers *SystemHandlers
	diagnostics    *DiagnosticsHandler
	eventsStream   *EventsStreamHandler
}

// New creates a new HTTP server
func New(cfg Config) *Server {
	s := &Server{
		router: chi.NewRouter(),
		log:    cfg.Log.With().Str("component", "server").Logger(),
		cfg:    cfg,
		systemHandlers: NewSystemHandlers(
			cfg.Log,
			cfg.DataDir,
			cfg.EngineDB,
			cfg.CacheDB,
			cfg.Broker,
			cfg.Markets,
			cfg.Jobs,
		),
		diagnostics:  NewDiagnosticsHandler(cfg.Prices, cfg.Window, cfg.Log),
		eventsStream: NewEventsStreamHandler(cfg.EventBus, cfg.Log),
	}

	s.setupMiddleware(cfg.DevMode)
	s.setupRoutes()

	s.server = &http.Server{
		Addr:        fmt.Sprintf(":%d", cfg.Port),
		Handler:     s.router,
		ReadTimeout: 15 * time.Second,
		// WriteTimeout stays zero; the events stream holds its
		// connection open indefinitely.
		IdleTimeout: 60 * time.Second,
	}

	return s
}

// setupMiddleware configures middleware
func (s *Server) setupMiddleware(devMode bool) {
	// Recovery from panics
	s.router.Use(middleware.Recoverer)

	// Request ID
	s.router.Use(middleware.RequestID)

	// Real IP
	s.router.Use(middleware.RealIP)

	// Logging
	s.router.Use(s.loggingMiddleware)

	// CORS
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Compress responses
	if !devMode {
		s.router.Use(middleware.Compress(5))
	}
}

// setupRoutes configures all routes
func (s *Server) setupRoutes() {
	// Health check outside /api so load balancers can probe cheaply
	s.router.Get("/health", s.handleHealth)

	s.router.Route("/api", func(r chi.Router) {
		r.Get("/health", s.handleHealth)

		// The SSE stream sits outside the timeout group; it holds its
		// connection open until the client disconnects.
		r.Get("/events/stream", s.eventsStream.ServeHTTP)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(60 * time.Second))

			r.Route("/system", func(r chi.Router) {
				r.Get("/status", s.systemHandlers.HandleSystemStatus)
				r.Get("/tradernet", s.systemHandlers.HandleTradernetStatus)
				r.Get("/jobs", s.systemHandlers.HandleJobsStatus)
				r.Get("/database/stats", s.systemHandlers.HandleDatabaseStats)
			})

			r.Get("/markets", s.systemHandlers.HandleMarketsStatus)

			r.Get("/diagnostics/{symbol}", func(w http.ResponseWriter, r *http.Request) {
				s.diagnostics.HandleSymbolDiagnostics(w, r, chi.URLParam(r, "symbol"))
			})

			s.cfg.EngineHandler.RegisterRoutes(r)
			s.cfg.UniverseHandler.RegisterRoutes(r)
			s.cfg.RunsHandler.RegisterRoutes(r)
			s.cfg.SnapshotsHandler.RegisterRoutes(r)
			s.cfg.HistoryHandler.RegisterRoutes(r)
		})
	})
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.log.Info().Str("addr", s.server.Addr).Msg("Starting HTTP server")

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server failed: %w", err)
	}

	return nil
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("Shutting down HTTP server")
	return s.server.Shutdown(ctx)
}

// loggingMiddleware logs HTTP requests
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		s.log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("duration", time.Since(start)).
			Str("remote", r.RemoteAddr).
			Msg("HTTP request")
	})
}
