package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/pds/homelab/internal/api/handler"
	mw "github.com/pds/homelab/internal/api/middleware"
	"github.com/pds/homelab/internal/config"
	"github.com/pds/homelab/internal/core"
	"github.com/pds/homelab/internal/jobs"
)

type Server struct {
	router   chi.Router
	logger   zerolog.Logger
	services *core.Services
	pool     *pgxpool.Pool
	cfg      *config.Config
}

func NewServer(logger zerolog.Logger, pool *pgxpool.Pool, cfg *config.Config, services *core.Services, runners *jobs.Registry) *Server {
	s := &Server{
		router:   chi.NewRouter(),
		logger:   logger,
		services: services,
		pool:     pool,
		cfg:      cfg,
	}

	s.setupMiddleware()
	s.setupRoutes(runners)

	return s
}

func (s *Server) setupMiddleware() {
	s.router.Use(chimw.RequestID)
	s.router.Use(chimw.RealIP)
	s.router.Use(mw.RequestLogger(s.logger))
	s.router.Use(chimw.Recoverer)
	s.router.Use(mw.Metrics)
}

func (s *Server) setupRoutes(runners *jobs.Registry) {
	// Prometheus metrics endpoint
	s.router.Handle("/metrics", promhttp.Handler())

	// Health check endpoints
	s.router.Get("/healthz", s.handleHealthz)
	s.router.Get("/readyz", s.handleReadyz)

	terminal := handler.NewTerminal(s.cfg.TerminalShell, s.cfg.AdminPasswordHash, s.logger)

	// The websocket endpoint authenticates with a single-use token minted
	// below; browsers cannot attach the X-API-Key header to a websocket.
	s.router.Get("/api/terminal/ws", terminal.Connect)

	s.router.Route("/api", func(r chi.Router) {
		r.Use(mw.Auth(s.pool))

		automation := handler.NewAutomation(s.services, runners)
		r.Route("/automation", func(r chi.Router) {
			r.Get("/jobs", automation.ListJobs)
			r.Post("/jobs", automation.CreateJob)
			r.Get("/jobs/{id}", automation.GetJob)
			r.Put("/jobs/{id}", automation.UpdateJob)
			r.Delete("/jobs/{id}", automation.DeleteJob)
			r.Post("/jobs/{id}/trigger", automation.TriggerJob)
			r.Post("/jobs/{id}/toggle", automation.ToggleJob)
			r.Get("/jobs/{id}/runs", automation.ListRuns)
			r.Get("/stats", automation.Stats)
			r.Get("/failures", automation.ListFailures)
			r.Delete("/failures", automation.ClearFailures)
		})

		r.Post("/terminal/token", terminal.CreateToken)

		vpn := handler.NewVPN(s.cfg.WireGuardDevice, s.logger)
		r.Get("/vpn/status", vpn.Status)
	})
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	checks := map[string]string{}
	healthy := true

	if err := s.pool.Ping(ctx); err != nil {
		checks["db"] = err.Error()
		healthy = false
	} else {
		checks["db"] = "ok"
	}

	w.Header().Set("Content-Type", "application/json")
	if healthy {
		w.WriteHeader(http.StatusOK)
	} else {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	json.NewEncoder(w).Encode(checks)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
