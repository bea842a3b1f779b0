package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/shooting-range/internal/config"
	"github.com/shooting-range/internal/domain"
	"github.com/shooting-range/internal/handler"
	"github.com/shooting-range/internal/kafka"
	"github.com/shooting-range/internal/memstore"
	"github.com/shooting-range/internal/postgres"
	"github.com/shooting-range/internal/redis"
	"github.com/shooting-range/internal/service"
	"github.com/shooting-range/internal/websocket"
	"github.com/shooting-range/internal/worker"
)

// stores bundles the session and player stores behind one backend
type stores interface {
	service.SessionStore
	service.PlayerStore
}

func main() {
	// Parse command line flags
	configPath := flag.String("config", "config.yaml", "Path to configuration file")
	flag.Parse()

	// Bootstrap logger until the configured level is known
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Warn("failed to load config file, using defaults", "error", err)
		cfg = config.DefaultConfig()
		if err := cfg.ApplyEnv(); err != nil {
			logger.Error("invalid environment configuration", "error", err)
			os.Exit(1)
		}
	}

	// Setup structured logging
	logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.Log.SlogLevel(),
	}))
	slog.SetDefault(logger)

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	handlerChecks := make(map[string]handler.ReadinessCheck)

	// Initialize session storage
	var store stores
	switch cfg.Storage.Driver {
	case config.StorageDriverMemory:
		logger.Warn("using in-memory storage, sessions are lost on restart")
		store = memstore.New()

	default:
		logger.Info("connecting to PostgreSQL", "host", cfg.Postgres.Host, "database", cfg.Postgres.Database)
		postgresRepo, err := postgres.NewRepository(&cfg.Postgres, logger)
		if err != nil {
			logger.Error("failed to connect to PostgreSQL", "error", err)
			os.Exit(1)
		}
		defer postgresRepo.Close()
		logger.Info("connected to PostgreSQL")

		// Run database migrations
		if err := postgresRepo.RunMigrations(); err != nil {
			logger.Error("failed to run migrations", "error", err)
			os.Exit(1)
		}

		store = postgresRepo
		handlerChecks["postgres"] = postgresRepo.Ping
	}

	// Initialize services
	sessionService := service.NewSessionService(
		store,
		store,
		&cfg.Sessions,
		&cfg.Leaderboard,
		logger,
	)

	// Initialize Redis leaderboard cache
	if cfg.Redis.Enabled {
		logger.Info("connecting to Redis", "addr", cfg.Redis.Addr)
		cache, err := redis.NewLeaderboardCache(&cfg.Redis, logger)
		if err != nil {
			logger.Warn("failed to connect to Redis, continuing without cache", "error", err)
		} else {
			defer cache.Close()
			sessionService.SetCache(cache)
			handlerChecks["redis"] = cache.Ping
			logger.Info("connected to Redis")
		}
	}

	// Initialize WebSocket hub
	wsHub := websocket.NewHub(logger)
	wsHub.SetSnapshot(func(ctx context.Context, mode domain.Mode) ([]domain.LeaderboardEntry, error) {
		return sessionService.GetLeaderboard(ctx, mode, 0)
	})
	go wsHub.Run()
	sessionService.SetNotifier(wsHub)
	logger.Info("WebSocket hub initialized")

	// Initialize Kafka publisher and shot consumer
	var kafkaConsumer *kafka.Consumer
	if cfg.Kafka.Enabled {
		logger.Info("initializing Kafka",
			"brokers", cfg.Kafka.Brokers,
			"shots_topic", cfg.Kafka.ShotsTopic,
			"results_topic", cfg.Kafka.ResultsTopic,
		)

		publisher, err := kafka.NewPublisher(&cfg.Kafka, logger)
		if err != nil {
			logger.Warn("failed to create Kafka publisher, finished sessions will not be published", "error", err)
		} else {
			defer publisher.Close()
			sessionService.SetPublisher(publisher)
		}

		kafkaConsumer, err = kafka.NewConsumer(&cfg.Kafka, sessionService, logger)
		if err != nil {
			logger.Warn("failed to create Kafka consumer, continuing without Kafka", "error", err)
		} else {
			if err := kafkaConsumer.Start(); err != nil {
				logger.Warn("failed to start Kafka consumer, continuing without Kafka", "error", err)
				kafkaConsumer = nil
			} else {
				logger.Info("Kafka consumer started successfully")
			}
		}
	}

	// Initialize leaderboard refresh worker
	refreshWorker := worker.NewRefreshWorker(sessionService, &cfg.Refresh, logger)
	if cfg.Refresh.Enabled {
		// Warm the cache on startup
		refreshWorker.RunOnce(ctx)
		if err := refreshWorker.Start(ctx); err != nil {
			logger.Error("failed to start refresh worker", "error", err)
			os.Exit(1)
		}
	}

	// Initialize HTTP handler with WebSocket hub
	httpHandler := handler.NewHandler(sessionService, wsHub, logger)
	for name, check := range handlerChecks {
		httpHandler.AddReadinessCheck(name, check)
	}

	// Create HTTP server
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      httpHandler.Router(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Start server in goroutine
	go func() {
		logger.Info("starting HTTP server", "port", cfg.Server.Port, "storage", cfg.Storage.Driver)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("HTTP server error", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	// Create shutdown context with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	// Shutdown HTTP server
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("failed to shutdown server", "error", err)
	}

	// Stop Kafka consumer
	if kafkaConsumer != nil {
		if err := kafkaConsumer.Stop(); err != nil {
			logger.Error("failed to stop Kafka consumer", "error", err)
		}
	}

	// Stop refresh worker
	if err := refreshWorker.Stop(); err != nil {
		logger.Error("failed to stop refresh worker", "error", err)
	}

	// Stop WebSocket hub
	wsHub.Stop()

	logger.Info("server stopped")
}
