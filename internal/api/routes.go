package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/felipemaragno/hookline/internal/observability"
)

type RouterConfig struct {
	Handler       *Handler
	HealthHandler *observability.HealthHandler
	Metrics       *observability.Metrics
	// MetricsHandler serves /metrics. Defaults to promhttp.Handler().
	MetricsHandler http.Handler
	Tenants        TenantResolver
	Logger         *slog.Logger
}

func NewRouter(cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	if cfg.Logger != nil {
		r.Use(observability.LoggingMiddleware(cfg.Logger))
	}

	if cfg.Metrics != nil {
		r.Use(observability.MetricsMiddleware(cfg.Metrics))
	}

	if cfg.HealthHandler != nil {
		r.Get("/health", cfg.HealthHandler.Health)
		r.Get("/ready", cfg.HealthHandler.Ready)
	}

	metricsHandler := cfg.MetricsHandler
	if metricsHandler == nil {
		metricsHandler = promhttp.Handler()
	}
	r.Handle("/metrics", metricsHandler)

	tenants := cfg.Tenants
	if tenants == nil {
		tenants = HeaderResolver{}
	}

	r.Route("/webhooks", func(r chi.Router) {
		r.Use(cfg.Handler.RequireTenant(tenants))

		r.Post("/", cfg.Handler.CreateWebhook)
		r.Get("/", cfg.Handler.ListWebhooks)

		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", cfg.Handler.GetWebhook)
			r.Patch("/", cfg.Handler.UpdateWebhook)
			r.Delete("/", cfg.Handler.DeleteWebhook)
			r.Post("/pause", cfg.Handler.PauseWebhook)
			r.Post("/resume", cfg.Handler.ResumeWebhook)

			r.Get("/deliveries", cfg.Handler.ListDeliveries)
			r.Get("/deliveries/{deliveryId}", cfg.Handler.GetDelivery)
			r.Post("/deliveries/{deliveryId}/retry", cfg.Handler.RetryDelivery)
		})
	})

	return r
}
