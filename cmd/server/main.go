package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/eldtechnologies/peerchat/internal/api"
	"github.com/eldtechnologies/peerchat/internal/api/middleware"
	"github.com/eldtechnologies/peerchat/internal/chat"
	"github.com/eldtechnologies/peerchat/internal/config"
	"github.com/eldtechnologies/peerchat/internal/replication"
	"github.com/eldtechnologies/peerchat/internal/router"
	"github.com/eldtechnologies/peerchat/internal/store"
)

func main() {
	// Load configuration
	cfg := config.Load()

	// Initialize logger
	var logger zerolog.Logger
	if cfg.IsDevelopment() {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).
			With().
			Timestamp().
			Logger()
	} else {
		logger = zerolog.New(os.Stdout).
			With().
			Timestamp().
			Str("node", cfg.SelfAddress).
			Logger()
	}

	ctx := context.Background()

	// Initialize Redis (backend, notifier and rate limiting share one client)
	var redisClient *redis.Client
	if cfg.RedisURL != "" {
		var err error
		redisClient, err = store.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("redis connection failed")
		}
		logger.Info().Msg("connected to Redis")
	}

	backend := openBackend(ctx, cfg, redisClient, logger)

	// Wake-on-write notifications
	var notifier store.Notifier = store.NewLocalNotifier()
	if cfg.Notify == "redis" {
		if redisClient == nil {
			logger.Fatal().Msg("NOTIFY=redis requires REDIS_URL")
		}
		rn, err := store.NewRedisNotifier(ctx, redisClient, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("redis notifier failed")
		}
		defer rn.Close()
		notifier = rn
	}

	st := store.New(backend, store.Options{
		PollAttempts: cfg.PollAttempts,
		PollInterval: cfg.PollInterval,
		Notifier:     notifier,
		Logger:       logger.With().Str("component", "store").Logger(),
	})
	defer st.Close()
	if redisClient != nil && backend.Name() != "redis" {
		defer redisClient.Close()
	}

	// Replication
	peers := router.New(cfg.Peers, cfg.Replicas)
	transport := replication.NewHTTPTransport(cfg.PeerWriteTimeout, cfg.PeerReadTimeout)
	coordinator := replication.NewCoordinator(
		transport,
		replication.ParseMergePolicy(cfg.MergePolicy),
		logger.With().Str("component", "replication").Logger(),
	)
	chatService := chat.NewService(peers, coordinator, logger.With().Str("component", "chat").Logger())

	for _, p := range peers.Peers() {
		logger.Debug().Str("peer", p.Address).Str("id", p.ID()).Msg("peer configured")
	}

	// Create router
	handler := api.NewRouter(logger, api.Options{
		Store: st,
		Chat:  chatService,
		Peers: cfg.Peers,
		Redis: redisClient,
		RateLimit: middleware.RateLimiterConfig{
			Whitelist:        cfg.RateLimitWhitelist,
			AutoBlockEnabled: cfg.AutoBlockEnabled,
		},
	})

	// Create server. Client polls wait on peer polls, so writes must outlast
	// the peer read timeout.
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.PeerReadTimeout + 15*time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// Start server in goroutine
	go func() {
		logger.Info().
			Str("port", cfg.Port).
			Str("env", cfg.Env).
			Str("backend", st.Backend()).
			Int("peers", len(cfg.Peers)).
			Int("replicas", peers.ReplicaCount()).
			Str("merge", string(coordinator.Policy())).
			Msg("starting peerchat node")

		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server failed to start")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server...")

	// Long polls in flight get the full poll budget to finish
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.PeerReadTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server forced to shutdown")
	}

	logger.Info().Msg("server stopped")
}

// openBackend selects the record store backend named in the configuration.
func openBackend(ctx context.Context, cfg *config.Config, redisClient *redis.Client, logger zerolog.Logger) store.Backend {
	switch cfg.StoreBackend {
	case "file":
		b, err := store.NewFileBackend(cfg.StoreDir, cfg.ShardDepth)
		if err != nil {
			logger.Fatal().Err(err).Str("dir", cfg.StoreDir).Msg("file store failed")
		}
		logger.Info().Str("dir", cfg.StoreDir).Int("shard_depth", cfg.ShardDepth).Msg("using file store")
		return b

	case "sqlite":
		b, err := store.NewSQLiteBackend(ctx, cfg.SQLitePath)
		if err != nil {
			logger.Fatal().Err(err).Str("path", cfg.SQLitePath).Msg("sqlite store failed")
		}
		logger.Info().Str("path", cfg.SQLitePath).Msg("using SQLite store")
		return b

	case "postgres":
		if cfg.DatabaseURL == "" {
			logger.Fatal().Msg("STORE_BACKEND=postgres requires DATABASE_URL")
		}
		logger.Info().Msg("running database migrations...")
		if err := store.RunMigrations(ctx, cfg.DatabaseURL); err != nil {
			logger.Fatal().Err(err).Msg("migration failed")
		}
		logger.Info().Msg("migrations completed")

		b, err := store.NewPostgresBackend(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("postgres connection failed")
		}
		logger.Info().Msg("connected to PostgreSQL")
		return b

	case "redis":
		if redisClient == nil {
			logger.Fatal().Msg("STORE_BACKEND=redis requires REDIS_URL")
		}
		return store.NewRedisBackend(redisClient)

	default:
		logger.Fatal().Str("backend", cfg.StoreBackend).Msg("unknown store backend")
		return nil
	}
}
