package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mcpgateway/gateway/internal/federation"
	"github.com/mcpgateway/gateway/internal/health"
	"github.com/mcpgateway/gateway/internal/proxy"
	"github.com/mcpgateway/gateway/internal/ratelimit"
	"github.com/mcpgateway/gateway/internal/registry"
	"github.com/mcpgateway/gateway/internal/sync"
)

// Config holds API router configuration
type Config struct {
	Registry  *registry.Store
	Monitor   *health.Monitor
	Federator *federation.Federator
	Gateway   *proxy.Gateway
	Limiter   *ratelimit.Limiter

	// Git source only; both may be nil in http mode.
	SyncManager   *sync.Manager
	WebhookSecret string

	Logger *slog.Logger
}

// NewRouter creates a new HTTP router with all API routes
func NewRouter(cfg Config) http.Handler {
	r := chi.NewRouter()

	// Base middleware
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)

	handlers := NewHandlers(cfg.Registry, cfg.Monitor, cfg.Federator, cfg.Gateway, cfg.Logger)

	r.NotFound(handlers.NotFound)
	r.MethodNotAllowed(handlers.MethodNotAllowed)

	// Liveness and operational endpoints outside the envelope surface
	r.Get("/", handlers.Liveness)
	r.Get("/health", handlers.Liveness)
	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	if cfg.SyncManager != nil {
		webhookHandler := sync.NewWebhookHandler(cfg.WebhookSecret, cfg.SyncManager, cfg.Logger)
		r.Post("/webhooks/github", webhookHandler.ServeHTTP)
	}

	r.Route("/api", func(r chi.Router) {
		// Admission control runs before any dispatch.
		r.Use(RateLimit(cfg.Limiter))

		r.Get("/servers", handlers.ListServers)
		r.Get("/servers/{id}", handlers.GetServer)
		r.Get("/servers/{id}/schema", handlers.GetServerSchema)

		r.Get("/health", handlers.HealthSummary)
		r.Get("/schema", handlers.FederatedSchema)

		r.Post("/proxy", handlers.Proxy)
		r.Post("/submit", handlers.Submit)

		r.Get("/stats", handlers.Stats)
	})

	return r
}
