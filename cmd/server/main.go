package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/clicker-leaderboard/internal/config"
	"github.com/clicker-leaderboard/internal/handler"
	"github.com/clicker-leaderboard/internal/kafka"
	"github.com/clicker-leaderboard/internal/postgres"
	"github.com/clicker-leaderboard/internal/presence"
	"github.com/clicker-leaderboard/internal/ratelimit"
	"github.com/clicker-leaderboard/internal/redis"
	"github.com/clicker-leaderboard/internal/service"
	"github.com/clicker-leaderboard/internal/websocket"
	"github.com/clicker-leaderboard/internal/worker"
)

const connectTimeout = 10 * time.Second

func main() {
	// Parse command line flags
	configPath := flag.String("config", "config.yaml", "Path to configuration file")
	flag.Parse()

	// Setup structured logging
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Warn("failed to load config file, using defaults", "error", err)
		cfg = config.DefaultConfig()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, closeStore := openStore(ctx, cfg, logger)
	defer closeStore()

	// Initialize WebSocket hub
	wsHub := websocket.NewHub(logger)
	go wsHub.Run()

	leaderboardService := service.NewLeaderboardService(
		store,
		presence.NewTracker(cfg.Presence.Window),
		ratelimit.New(cfg.RateLimit.Cooldown, cfg.RateLimit.Retention),
		&cfg.Leaderboard,
		logger,
	)
	leaderboardService.SetHub(wsHub)

	reaper := worker.NewReaperWorker(leaderboardService, &cfg.Reaper, logger)
	if cfg.Reaper.Enabled {
		if err := reaper.Start(ctx); err != nil {
			logger.Error("failed to start reaper", "error", err)
			os.Exit(1)
		}
	}

	// Kafka ingestion is optional; the HTTP API works without it
	var kafkaConsumer *kafka.Consumer
	if cfg.Kafka.Enabled {
		logger.Info("initializing Kafka consumer",
			"brokers", cfg.Kafka.Brokers,
			"topic", cfg.Kafka.Topic,
		)
		kafkaConsumer, err = kafka.NewConsumer(&cfg.Kafka, leaderboardService, logger)
		if err != nil {
			logger.Warn("failed to create Kafka consumer, continuing without Kafka", "error", err)
			kafkaConsumer = nil
		} else if err := kafkaConsumer.Start(); err != nil {
			logger.Warn("failed to start Kafka consumer, continuing without Kafka", "error", err)
			kafkaConsumer = nil
		}
	}

	httpHandler := handler.NewHandler(leaderboardService, wsHub, logger)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      httpHandler.Router(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		logger.Info("starting HTTP server",
			"port", cfg.Server.Port,
			"storage", cfg.Storage.Driver,
			"storage_available", leaderboardService.StorageAvailable(),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("HTTP server error", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("failed to shutdown server", "error", err)
	}

	wsHub.Stop()

	if kafkaConsumer != nil {
		if err := kafkaConsumer.Stop(); err != nil {
			logger.Error("failed to stop Kafka consumer", "error", err)
		}
	}

	if err := reaper.Stop(); err != nil {
		logger.Error("failed to stop reaper", "error", err)
	}

	logger.Info("server stopped")
}

// openStore connects the configured backend. When the backend cannot be
// reached the service starts without one and rejects writes until restarted.
func openStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (service.Store, func()) {
	noop := func() {}

	connectCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	switch cfg.Storage.Driver {
	case config.StorageDriverPostgres:
		logger.Info("connecting to PostgreSQL", "host", cfg.Postgres.Host, "database", cfg.Postgres.Database)
		repo, err := postgres.NewRepository(connectCtx, &cfg.Postgres, logger)
		if err != nil {
			logger.Warn("PostgreSQL unavailable, running without leaderboard storage", "error", err)
			return nil, noop
		}
		if err := repo.RunMigrations(connectCtx); err != nil {
			logger.Warn("migrations failed, running without leaderboard storage", "error", err)
			repo.Close()
			return nil, noop
		}
		logger.Info("connected to PostgreSQL")
		return repo, repo.Close

	case config.StorageDriverRedis:
		logger.Info("connecting to Redis", "addr", cfg.Redis.Addr)
		store, err := redis.NewStore(connectCtx, &cfg.Redis, logger)
		if err != nil {
			logger.Warn("Redis unavailable, running without leaderboard storage", "error", err)
			return nil, noop
		}
		logger.Info("connected to Redis")
		return store, func() {
			if err := store.Close(); err != nil {
				logger.Error("failed to close Redis client", "error", err)
			}
		}

	default:
		logger.Warn("leaderboard storage disabled")
		return nil, noop
	}
}
