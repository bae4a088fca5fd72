// Package server provides the HTTP surface of the orchestrator:
// status and inspection endpoints, the external producer write path,
// and a live websocket stream of journal events.
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

	"github.com/aristath/overseer/internal/budget"
	"github.com/aristath/overseer/internal/dispatch"
	"github.com/aristath/overseer/internal/heartbeat"
	"github.com/aristath/overseer/internal/journal"
)

// Config holds server construction parameters.
type Config struct {
	Port       int
	Journal    *journal.Journal
	Dispatcher *dispatch.Dispatcher
	Budget     *budget.Guard
	Heartbeat  *heartbeat.Heartbeat
	Log        zerolog.Logger
}

// Server is the HTTP server.
type Server struct {
	router     *chi.Mux
	server     *http.Server
	journal    *journal.Journal
	dispatcher *dispatch.Dispatcher
	budget     *budget.Guard
	heartbeat  *heartbeat.Heartbeat
	log        zerolog.Logger
}

// New creates the HTTP server and wires its routes.
func New(cfg Config) *Server {
	s := &Server{
		router:     chi.NewRouter(),
		journal:    cfg.Journal,
		dispatcher: cfg.Dispatcher,
		budget:     cfg.Budget,
		heartbeat:  cfg.Heartbeat,
		log:        cfg.Log.With().Str("component", "server").Logger(),
	}

	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Timeout(60 * time.Second))
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
	}))

	s.router.Route("/api", func(r chi.Router) {
		r.Get("/status", s.handleStatus)
		r.Get("/journal/events", s.handleEvents)
		r.Get("/journal/versions", s.handleVersions)
		r.Get("/budget", s.handleBudget)
		r.Get("/queue", s.handleQueue)
		r.Post("/changes", s.handleEmitChange)
		r.Post("/wake", s.handleWake)
		r.Post("/activity", s.handleActivity)
		r.Get("/events/ws", s.handleEventsWS)
	})

	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Start begins serving. Blocks until the server stops.
func (s *Server) Start() error {
	s.log.Info().Str("addr", s.server.Addr).Msg("HTTP server listening")
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// Router exposes the mux for tests.
func (s *Server) Router() http.Handler {
	return s.router
}
