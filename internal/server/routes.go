package server

import (
	"net/http"

	"github.com/fulmenhq/gofulmen/signals"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/homedash/homedash/internal/observability"
	"github.com/homedash/homedash/internal/server/handlers"
)

func (s *Server) registerRoutes() {
	s.router.Get("/health", handlers.HealthHandler)
	s.router.Get("/health/live", handlers.LivenessHandler)
	s.router.Get("/health/ready", handlers.ReadinessHandler)
	s.router.Get("/health/startup", handlers.StartupHandler)
	s.router.Get("/version", handlers.VersionHandler)
	s.router.Get("/metrics", s.metricsHandler)

	quota := &handlers.QuotaHandler{Quota: s.opts.Quota, Remote: s.opts.Remote}
	catalog := &handlers.CatalogHandler{Store: s.opts.Catalog, Enricher: s.opts.Enricher}

	s.router.Route("/v1", func(r chi.Router) {
		r.Method(http.MethodGet, "/github/quota", quota)
		r.Get("/catalog", catalog.List)
		r.Post("/catalog", catalog.Create)
		r.Post("/catalog/enrich", catalog.Enrich)
		r.Delete("/catalog/{id}", catalog.Delete)
	})

	s.registerAdminEndpoint()
}

// registerAdminEndpoint exposes the gofulmen signal endpoint behind a bearer
// token. It stays off unless a token is configured.
func (s *Server) registerAdminEndpoint() {
	logger := observability.ServerLogger
	if s.opts.AdminToken == "" {
		if logger != nil {
			logger.Debug("Admin signal endpoint disabled (no admin token set)")
		}
		return
	}

	handler := signals.NewHTTPHandler(signals.HTTPConfig{
		TokenAuth: s.opts.AdminToken,
		RateLimit: 10,
		RateBurst: 5,
	})
	s.router.Post("/admin/signal", handler.ServeHTTP)

	if logger != nil {
		logger.Info("Admin signal endpoint enabled",
			zap.String("path", "/admin/signal"),
			zap.String("rate_limit", "10/min, burst 5"))
		logger.Warn("Admin endpoint enabled - ensure this server is not exposed to public internet")
	}
}
