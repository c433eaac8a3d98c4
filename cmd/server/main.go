package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/DarioOlivares2001/micro-matchworkchat/internal/api"
	"github.com/DarioOlivares2001/micro-matchworkchat/internal/api/middleware"
	"github.com/DarioOlivares2001/micro-matchworkchat/internal/chat"
	"github.com/DarioOlivares2001/micro-matchworkchat/internal/config"
	"github.com/DarioOlivares2001/micro-matchworkchat/internal/handlers"
	"github.com/DarioOlivares2001/micro-matchworkchat/internal/hub"
	"github.com/DarioOlivares2001/micro-matchworkchat/internal/pubsub"
	"github.com/DarioOlivares2001/micro-matchworkchat/internal/store"
)

// openStore is replaced in tests.
var openStore = store.Open

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
			Logger()
	}

	// Stop on interrupt
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal().Err(err).Msg("server failed")
	}
	logger.Info().Msg("server stopped")
}

// run wires the service and serves until ctx is cancelled. Every resource it
// opens is closed before it returns, including on startup errors.
func run(ctx context.Context, cfg *config.Config, logger zerolog.Logger) error {
	// Open message store (runs migrations for postgres)
	openCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	messages, err := openStore(openCtx, cfg)
	cancel()
	if err != nil {
		return err
	}
	defer messages.Close()
	logger.Info().Str("backend", cfg.StoreBackend).Msg("message store ready")

	// WebSocket subscriber registry
	wsHub := hub.New(logger, cfg.CORSAllowedOrigins)

	// Optional Redis relay and rate limiter for deployments with Redis
	var deliverer pubsub.Deliverer = wsHub
	var relayPing handlers.Pinger
	var limiter *middleware.RateLimiter
	if cfg.RedisURL != "" {
		relay, err := pubsub.NewRedisRelay(ctx, cfg.RedisURL, cfg.RedisChannelPrefix)
		if err != nil {
			return err
		}
		defer relay.Close()
		deliverer = pubsub.Fanout{wsHub, pubsub.WithTimeout(relay, cfg.RedisPublishTimeout)}
		relayPing = relay
		limiter = middleware.NewRateLimiter(relay.Client(), logger, middleware.RateLimiterConfig{
			KeyPrefix:        cfg.RedisChannelPrefix,
			Whitelist:        cfg.RateLimitWhitelist,
			AutoBlockEnabled: cfg.AutoBlockEnabled,
		})
		logger.Info().Str("prefix", cfg.RedisChannelPrefix).Msg("relaying deliveries to Redis")
	}

	router := pubsub.NewRouter(deliverer, logger)
	svc := chat.NewService(messages, router, logger, chat.Options{
		OpTimeout:   cfg.StoreTimeout,
		IncludeSelf: cfg.IncludeSelfPartner,
	})

	h := handlers.NewHandler(svc, relayPing, logger)
	mux := api.NewRouter(logger, h, api.Options{
		AllowedOrigins: cfg.CORSAllowedOrigins,
		WebSocket:      wsHub.ServeWS(svc),
		RateLimiter:    limiter,
	})

	// Create server
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	serveErr := make(chan error, 1)
	go func() {
		logger.Info().
			Str("port", cfg.Port).
			Str("env", cfg.Env).
			Msg("starting chat server")

		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serveErr <- err
		}
	}()

	// Wait for interrupt signal or a listener failure
	select {
	case err := <-serveErr:
		wsHub.Close()
		return err
	case <-ctx.Done():
	}

	logger.Info().Msg("shutting down server...")

	// Graceful shutdown with 30 second timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Hijacked websocket connections are not tracked by Shutdown
	wsHub.Close()
	return srv.Shutdown(shutdownCtx)
}
