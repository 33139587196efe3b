package api

import (
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/eldtechnologies/peerchat/internal/api/middleware"
	"github.com/eldtechnologies/peerchat/internal/chat"
	"github.com/eldtechnologies/peerchat/internal/handlers"
	"github.com/eldtechnologies/peerchat/internal/store"
)

// DefaultMaxBodyBytes bounds request bodies on every route.
const DefaultMaxBodyBytes = 256 * 1024

// Options wires the router's dependencies.
type Options struct {
	Store        *store.Store
	Chat         *chat.Service // nil serves only the peer protocol
	Peers        []string
	Redis        *redis.Client // nil disables rate limiting
	RateLimit    middleware.RateLimiterConfig
	MaxBodyBytes int64
}

// NewRouter creates and configures the HTTP router.
func NewRouter(logger zerolog.Logger, opts Options) *chi.Mux {
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = DefaultMaxBodyBytes
	}

	r := chi.NewRouter()

	// Metrics middleware (first to capture all requests)
	r.Use(middleware.Metrics)

	// Security middleware (order matters!)
	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.MaxBodySize(opts.MaxBodyBytes))
	r.Use(middleware.ValidateRequest)

	// Standard middleware
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.Logger(logger))
	r.Use(chimw.Recoverer)

	// Rate limiting on client endpoints
	if opts.Redis != nil {
		limiter := middleware.NewRateLimiter(opts.Redis, logger, opts.RateLimit)
		r.Use(limiter.Middleware)
	}

	// CORS - browsers talk to the chat endpoints directly
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "PUT", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Request-Id"},
		ExposedHeaders:   []string{"X-Request-Id", "X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset", "Retry-After"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	h := handlers.NewHandler(opts.Store, opts.Chat, opts.Peers, logger)

	// Metrics endpoint (for Prometheus scraping)
	r.Handle("/metrics", promhttp.Handler())

	r.Get("/api", h.Root)
	r.Get("/health", h.Health)

	// Peer protocol
	r.Put("/store", h.Store)
	r.Put("/retrieve", h.Retrieve)

	// Chat facade
	r.Put("/push", h.Push)
	r.Put("/poll", h.Poll)
	r.Put("/message", h.Message)

	return r
}
