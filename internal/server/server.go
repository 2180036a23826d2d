// Package server provides the HTTP server and routing for the PR screening
// service.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"github.com/gaomindu/prscreen/internal/config"
	"github.com/gaomindu/prscreen/internal/database"
	"github.com/gaomindu/prscreen/internal/fetch"
	"github.com/gaomindu/prscreen/internal/history"
	"github.com/gaomindu/prscreen/internal/screening"
)

// Config holds the server's dependencies.
type Config struct {
	Log       zerolog.Logger
	Cfg       *config.Config
	HistoryDB *database.DB
	Store     *history.Store
	Scheduler *fetch.Scheduler
	Screener  *screening.Screener
	Market    screening.MarketData
	Port      int
	DevMode   bool
}

// Server is the HTTP front end.
type Server struct {
	router *chi.Mux
	server *http.Server
	log    zerolog.Logger

	cfg       *config.Config
	historyDB *database.DB
	store     *history.Store
	scheduler *fetch.Scheduler
	screener  *screening.Screener
	market    screening.MarketData
	jobs      *jobRegistry

	startupTime time.Time
}

// New creates the HTTP server.
func New(cfg Config) *Server {
	s := &Server{
		router:      chi.NewRouter(),
		log:         cfg.Log.With().Str("component", "server").Logger(),
		cfg:         cfg.Cfg,
		historyDB:   cfg.HistoryDB,
		store:       cfg.Store,
		scheduler:   cfg.Scheduler,
		screener:    cfg.Screener,
		market:      cfg.Market,
		jobs:        newJobRegistry(cfg.Log),
		startupTime: time.Now(),
	}

	s.setupMiddleware(cfg.DevMode)
	s.setupRoutes()

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// setupMiddleware configures middleware
func (s *Server) setupMiddleware(devMode bool) {
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.loggingMiddleware)

	// Screening runs can take minutes on narrow quota tiers, so the batch
	// endpoints are async; 60s covers everything else.
	s.router.Use(middleware.Timeout(60 * time.Second))

	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	if !devMode {
		s.router.Use(middleware.Compress(5))
	}
}

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() {
	s.router.Get("/health", s.handleHealth)

	s.router.Route("/api", func(r chi.Router) {
		r.Post("/resolve", s.handleResolve)
		r.Get("/securities", s.handleListSecurities)
		r.Get("/valuation/{code}", s.handleValuation)
		r.Get("/index/{name}/signal", s.handleIndexSignal)

		r.Route("/screen", func(r chi.Router) {
			r.Post("/", s.handleStartScreen)
			r.Get("/{jobID}", s.handleScreenStatus)
			r.Get("/{jobID}/progress", s.handleScreenProgress)
		})

		r.Route("/cache", func(r chi.Router) {
			r.Get("/info", s.handleCacheInfo)
			r.Get("/{code}", s.handleCacheRecords)
			r.Delete("/{code}", s.handleCacheDelete)
		})

		r.Get("/system/health", s.handleSystemHealth)
	})
}

// Start runs the server until it is shut down.
func (s *Server) Start() error {
	s.log.Info().Str("addr", s.server.Addr).Msg("Starting HTTP server")
	return s.server.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("Shutting down HTTP server")
	s.jobs.cancelAll()
	return s.server.Shutdown(ctx)
}

// handleHealth is the liveness probe.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"uptime": time.Since(s.startupTime).Round(time.Second).String(),
	})
}

// loggingMiddleware logs each request with its outcome.
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
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("Request handled")
	})
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.log.Error().Err(err).Msg("Failed to encode response")
	}
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}
