// Sentria - Real-Time Security Event Analytics Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/sentria

// Package server exposes the HTTP surface: event ingestion, read APIs
// over the analytics engines, the WebSocket endpoint, Prometheus
// metrics, and health checks.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/tomtom215/sentria/internal/behavior"
	"github.com/tomtom215/sentria/internal/cache"
	"github.com/tomtom215/sentria/internal/correlation"
	"github.com/tomtom215/sentria/internal/logging"
	"github.com/tomtom215/sentria/internal/middleware"
	"github.com/tomtom215/sentria/internal/models"
	"github.com/tomtom215/sentria/internal/response"
	"github.com/tomtom215/sentria/internal/threatintel"
	"github.com/tomtom215/sentria/internal/websocket"
)

const (
	// readCacheTTL bounds staleness on the read endpoints. Dashboards
	// poll aggressively; the engines should not pay for that.
	readCacheTTL = 5 * time.Second

	// apiRateLimit is requests per client IP per minute on /api/v1.
	apiRateLimit = 300

	shutdownTimeout = 10 * time.Second
)

// EventProcessor accepts security events for pipeline processing.
type EventProcessor interface {
	ProcessSecurityEvent(ctx context.Context, event *models.SecurityEvent)
}

// PatternSource serves detected attack patterns and per-source state.
type PatternSource interface {
	RecentPatterns(limit int) []*correlation.AttackPattern
	SourceStats(source string) correlation.SourceStats
	TrackedSources() int
}

// IncidentSource serves orchestrated incidents.
type IncidentSource interface {
	RecentIncidents(limit int) []response.Incident
	Stats() response.Stats
}

// BehaviorSource serves entity risk profiles.
type BehaviorSource interface {
	RiskProfiles(limit int) []behavior.RiskProfile
	Stats() behavior.EngineStats
}

// ThreatSource serves threat intelligence aggregates.
type ThreatSource interface {
	Stats() (threatintel.Stats, error)
	TopThreats(limit int) ([]threatintel.TopThreat, error)
}

// FormAnalyzer scores form-interaction telemetry for automation.
type FormAnalyzer interface {
	Analyze(sig behavior.FormSignals) behavior.FormAnalysis
}

// Deps are the collaborators behind the HTTP surface. A nil collaborator
// disables its endpoints with 503 rather than failing startup.
type Deps struct {
	Pipeline  EventProcessor
	Patterns  PatternSource
	Incidents IncidentSource
	Behavior  BehaviorSource
	Threats   ThreatSource
	Forms     FormAnalyzer
	Hub       *websocket.Hub
}

// Config holds the listener settings.
type Config struct {
	Host    string        `koanf:"host"`
	Port    int           `koanf:"port"`
	Timeout time.Duration `koanf:"timeout"`
}

// DefaultConfig returns the default listener settings.
func DefaultConfig() Config {
	return Config{
		Host:    "0.0.0.0",
		Port:    8080,
		Timeout: 30 * time.Second,
	}
}

// Server is the HTTP server. It satisfies the supervisor service
// contract via RunWithContext and String.
type Server struct {
	cfg       Config
	deps      Deps
	router    chi.Router
	readCache *cache.Cache
	logger    zerolog.Logger
}

// New builds the server and its route tree.
func New(cfg Config, deps Deps) *Server {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultConfig().Timeout
	}

	s := &Server{
		cfg:       cfg,
		deps:      deps,
		readCache: cache.New(readCacheTTL),
		logger:    logging.WithComponent("server"),
	}
	s.router = s.routes()
	return s
}

// Handler returns the route tree, primarily for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", middleware.RequestIDHeader},
		MaxAge:         300,
	}))

	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/ws", s.handleWebSocket)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(httprate.Limit(apiRateLimit, time.Minute, httprate.WithKeyFuncs(httprate.KeyByIP)))
		r.Use(middleware.Prometheus)

		r.Post("/events", s.handleIngestEvent)
		r.Post("/forms/analyze", s.handleAnalyzeForm)
		r.Get("/stats", s.handleStats)
		r.Get("/patterns", s.handlePatterns)
		r.Get("/incidents", s.handleIncidents)
		r.Get("/sources/{source}/stats", s.handleSourceStats)

		r.Route("/behavior", func(r chi.Router) {
			r.Get("/profiles", s.handleRiskProfiles)
			r.Get("/stats", s.handleBehaviorStats)
		})

		r.Route("/threats", func(r chi.Router) {
			r.Get("/stats", s.handleThreatStats)
			r.Get("/top", s.handleTopThreats)
		})
	})

	return r
}

// RunWithContext serves HTTP until the context is cancelled, then drains
// in-flight requests.
func (s *Server) RunWithContext(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)

	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       s.cfg.Timeout,
		WriteTimeout:      s.cfg.Timeout,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", addr).Msg("HTTP server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.logger.Error().Err(err).Msg("HTTP server shutdown failed")
			return err
		}
		s.logger.Info().Msg("HTTP server stopped")
		return ctx.Err()
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	}
}

// String identifies the server in supervisor logs.
func (s *Server) String() string {
	return "http-server"
}
