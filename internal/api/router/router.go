package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/creatus-team/v3/internal/http/handlers"
	httpmiddleware "github.com/creatus-team/v3/internal/http/middleware"
	"github.com/creatus-team/v3/internal/inbox"
	"github.com/creatus-team/v3/internal/ingest"
	"github.com/creatus-team/v3/internal/messaging"
	"github.com/creatus-team/v3/internal/messaging/templates"
	"github.com/creatus-team/v3/internal/reminders"
	"github.com/creatus-team/v3/internal/sessions"
	"github.com/creatus-team/v3/internal/settlement"
	"github.com/creatus-team/v3/pkg/logging"
)

// Config holds router configuration. Nil handlers are not mounted.
type Config struct {
	Logger             *logging.Logger
	CORSAllowedOrigins []string
	MetricsHandler     http.Handler

	Health     *handlers.HealthHandler
	Auth       *handlers.AuthHandler
	Ingest     *ingest.Handler
	Inbox      *inbox.Handler
	Sessions   *sessions.Handler
	Settlement *settlement.Handler
	Templates  *templates.Handler
	Messaging  *messaging.Handler
	Reminders  *reminders.Handler

	WebhookSecret  string
	CronSecret     string
	AdminJWTSecret string
	// WebhookLimiter throttles /api/ingest per client IP when set.
	WebhookLimiter *httpmiddleware.RateLimiter
}

// New creates a new Chi router with all routes configured
func New(cfg *Config) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	if len(cfg.CORSAllowedOrigins) > 0 {
		r.Use(httpmiddleware.CORS(cfg.CORSAllowedOrigins))
	}
	if cfg.Logger != nil {
		r.Use(httpmiddleware.RequestLogger(cfg.Logger))
	}

	if cfg.Health != nil {
		r.Get("/health", cfg.Health.Health)
	}
	if cfg.MetricsHandler != nil {
		r.Handle("/metrics", cfg.MetricsHandler)
	}

	r.Route("/api", func(api chi.Router) {
		if cfg.Auth != nil {
			cfg.Auth.RegisterRoutes(api)
		}

		// Webhooks from the sheet script and Tally
		if cfg.Ingest != nil {
			api.Group(func(hooks chi.Router) {
				if cfg.WebhookLimiter != nil {
					hooks.Use(httpmiddleware.RateLimitWith(cfg.WebhookLimiter))
				}
				hooks.Use(httpmiddleware.WebhookToken(cfg.WebhookSecret, cfg.Ingest.Rejected))
				cfg.Ingest.RegisterRoutes(hooks)
			})
		}

		// chi skips middleware on a mux without routes, so mount only when
		// something is registered.
		if cfg.Sessions != nil || cfg.Reminders != nil {
			api.Route("/cron", func(cron chi.Router) {
				cron.Use(httpmiddleware.CronSecret(cfg.CronSecret))
				if cfg.Sessions != nil {
					cfg.Sessions.RegisterCronRoutes(cron)
				}
				if cfg.Reminders != nil {
					cfg.Reminders.RegisterCronRoutes(cron)
				}
			})
		}

		api.Route("/admin", func(admin chi.Router) {
			admin.Use(httpmiddleware.AdminJWT(cfg.AdminJWTSecret))
			if cfg.Ingest != nil {
				cfg.Ingest.RegisterAdminRoutes(admin)
			}
			if cfg.Inbox != nil {
				cfg.Inbox.RegisterRoutes(admin)
			}
			if cfg.Sessions != nil {
				cfg.Sessions.RegisterRoutes(admin)
			}
			if cfg.Settlement != nil {
				cfg.Settlement.RegisterRoutes(admin)
			}
			if cfg.Templates != nil {
				cfg.Templates.RegisterRoutes(admin)
			}
			if cfg.Messaging != nil {
				cfg.Messaging.RegisterRoutes(admin)
			}
		})
	})

	return r
}
