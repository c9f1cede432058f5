// Package router assembles the chi router for the conversation broker.
package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/serviya/platform/internal/http/handlers"
	httpmiddleware "github.com/serviya/platform/internal/http/middleware"
	"github.com/serviya/platform/pkg/logging"
)

// Config holds router configuration.
type Config struct {
	Logger       *logging.Logger
	Conversation *handlers.ConversationHandler
	Sessions     *handlers.SessionsHandler
	Health       *handlers.HealthHandler

	MetricsHandler http.Handler
	Simulator      http.Handler

	// AdminJWTSecret protects session mutation endpoints. Empty leaves them
	// open, which is the expected dev setup.
	AdminJWTSecret     string
	CORSAllowedOrigins []string

	// WebhookRateLimit caps inbound webhook requests per second per IP.
	// Zero disables the limiter.
	WebhookRateLimit float64
	WebhookBurst     int
}

// New creates the chi router with all routes configured.
func New(cfg *Config) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))
	if len(cfg.CORSAllowedOrigins) > 0 {
		r.Use(httpmiddleware.CORS(cfg.CORSAllowedOrigins))
	}
	if cfg.Logger != nil {
		r.Use(httpmiddleware.RequestLogger(cfg.Logger))
	}

	r.Get("/health", cfg.Health.Check)
	if cfg.MetricsHandler != nil {
		r.Handle("/metrics", cfg.MetricsHandler)
	}

	r.Group(func(webhook chi.Router) {
		if cfg.WebhookRateLimit > 0 {
			webhook.Use(httpmiddleware.RateLimit(cfg.WebhookRateLimit, cfg.WebhookBurst))
		}
		webhook.Post("/handle-whatsapp-message", cfg.Conversation.HandleWhatsAppMessage)
		webhook.Post("/process-message", cfg.Conversation.ProcessMessage)
	})

	r.Route("/sessions", func(s chi.Router) {
		s.Get("/stats", cfg.Sessions.Stats)
		s.Get("/{phone}", cfg.Sessions.List)

		s.Group(func(mutating chi.Router) {
			if cfg.AdminJWTSecret != "" {
				mutating.Use(httpmiddleware.AdminJWT(cfg.AdminJWTSecret))
			}
			mutating.Post("/", cfg.Sessions.Append)
			mutating.Delete("/{phone}", cfg.Sessions.Delete)
		})
	})

	if cfg.Simulator != nil {
		r.Mount("/simulator", cfg.Simulator)
	}

	return r
}
