package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/DarioOlivares2001/micro-matchworkchat/internal/api/middleware"
	"github.com/DarioOlivares2001/micro-matchworkchat/internal/handlers"
)

// Options configures the HTTP router.
type Options struct {
	AllowedOrigins []string
	// WebSocket serves GET /ws; nil leaves the route out.
	WebSocket http.Handler
	// RateLimiter guards the write paths; nil disables rate limiting.
	RateLimiter *middleware.RateLimiter
}

// NewRouter creates and configures the HTTP router.
func NewRouter(logger zerolog.Logger, h *handlers.Handler, opts Options) *chi.Mux {
	r := chi.NewRouter()

	// Metrics middleware (first to capture all requests)
	r.Use(middleware.Metrics)

	// Security middleware
	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.MaxBodySize(64 * 1024))
	r.Use(middleware.RequireJSON)

	// Standard middleware
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.Logger(logger))
	r.Use(chimw.Recoverer)

	// Rate limiting (after RealIP so forwarded clients are keyed correctly)
	if opts.RateLimiter != nil {
		r.Use(opts.RateLimiter.Middleware)
	}

	origins := opts.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"http://localhost:4200"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		ExposedHeaders:   []string{"Authorization", "X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset", "Retry-After"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Metrics endpoint (for Prometheus scraping)
	r.Handle("/metrics", promhttp.Handler())

	r.Get("/health", h.Health)

	if opts.WebSocket != nil {
		r.Handle("/ws", opts.WebSocket)
	}

	r.Route("/api", func(r chi.Router) {
		r.Get("/test", h.Test)

		r.Route("/messages", func(r chi.Router) {
			r.Post("/private", h.SendPrivate)
			r.Post("/public", h.SendPublic)
			r.Post("/read-receipt", h.ReadReceipt)

			r.Get("/conversations/{userId}", h.GetConversationPartners)
			r.Get("/by-sender/{userId}", h.FindBySender)
			r.Get("/by-receiver/{userId}", h.FindByReceiver)
			r.Get("/by-type/{type}", h.FindByType)
			r.Get("/{senderId}/{receiverId}", h.GetConversation)
		})
	})

	// Read-state routes
	r.Route("/messages", func(r chi.Router) {
		r.Get("/unread/count/{userId}", h.UnreadCount)
		r.Get("/unread/by-sender/{userId}", h.UnreadBySender)
		r.Put("/{senderId}/{receiverId}/seen", h.MarkSeen)
	})

	return r
}
