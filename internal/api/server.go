package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/opensource-finance/talon/internal/assessment"
	"github.com/opensource-finance/talon/internal/domain"
	"github.com/opensource-finance/talon/internal/rules"
)

// Server represents the HTTP API server.
type Server struct {
	router  *chi.Mux
	handler *Handler
	server  *http.Server
	config  domain.ServerConfig
}

// NewServer creates a new API server.
func NewServer(cfg domain.ServerConfig, repo domain.Repository, cache domain.Cache, bus domain.EventBus, svc *assessment.Service, rulesets *rules.RulesetEngine, engine *rules.Engine, version string) *Server {
	handler := NewHandler(repo, cache, bus, svc, rulesets, engine, version)
	router := chi.NewRouter()

	// Global middleware stack
	router.Use(CORSMiddleware)         // CORS for browser clients
	router.Use(RecoverMiddleware)      // Recover from panics
	router.Use(TracingMiddleware)      // OpenTelemetry tracing
	router.Use(LoggingMiddleware)      // Request logging
	router.Use(middleware.RealIP)      // Extract real IP
	router.Use(middleware.Compress(5)) // Gzip compression

	// Health endpoints (no tenant required)
	router.Get("/health", handler.Health)
	router.Get("/ready", handler.Ready)

	// API routes (tenant required)
	router.Route("/", func(r chi.Router) {
		r.Use(TenantMiddleware)

		// Loan lifecycle
		r.Post("/loans", handler.SubmitLoan)
		r.Get("/loans/{id}", handler.GetLoan)
		r.Post("/loans/{id}/assess", handler.AssessLoan)
		r.Post("/loans/{id}/decisions", handler.MakeDecision)
		r.Get("/loans/{id}/decisions", handler.GetDecisionHistory)
		r.Get("/loans/{id}/workflow", handler.GetWorkflow)

		// Decision overrides
		r.Post("/decisions/{id}/override", handler.OverrideDecision)

		// Reference data
		r.Post("/clients", handler.CreateClient)
		r.Post("/products", handler.CreateProduct)

		// Ruleset management
		r.Get("/rulesets", handler.ListRulesets)
		r.Get("/rulesets/{id}", handler.GetRuleset)
		r.Post("/rulesets", handler.CreateRuleset)
		r.Post("/rulesets/{id}/rules", handler.AddRule)
		r.Post("/rulesets/{id}/evaluate", handler.EvaluateRuleset)
		r.Post("/rulesets/reload", handler.ReloadRulesets)
	})

	return &Server{
		router:  router,
		handler: handler,
		config:  cfg,
	}
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  time.Duration(s.config.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(s.config.WriteTimeout) * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Router returns the Chi router for testing.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Handler returns the handler for testing.
func (s *Server) Handler() *Handler {
	return s.handler
}
