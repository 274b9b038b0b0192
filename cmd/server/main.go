package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/tangle-social/backend/internal/aggregates"
	"github.com/tangle-social/backend/internal/auth"
	"github.com/tangle-social/backend/internal/cache"
	"github.com/tangle-social/backend/internal/config"
	"github.com/tangle-social/backend/internal/database"
	"github.com/tangle-social/backend/internal/engagement"
	"github.com/tangle-social/backend/internal/feed"
	"github.com/tangle-social/backend/internal/handlers"
	"github.com/tangle-social/backend/internal/logger"
	"github.com/tangle-social/backend/internal/metrics"
	"github.com/tangle-social/backend/internal/queue"
	"github.com/tangle-social/backend/internal/repository"
	"github.com/tangle-social/backend/internal/telemetry"
	"go.uber.org/zap"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("Warning: .env file not found, using system environment variables")
	}

	cfg := config.Load()

	if err := logger.Initialize(cfg.LogLevel, cfg.LogFile); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Close()

	logger.Log.Info("tangle server starting", zap.String("port", cfg.Port))

	if len(cfg.JWTSecret) == 0 {
		logger.Log.Fatal("JWT_SECRET environment variable is required")
	}

	if err := database.Initialize(cfg); err != nil {
		logger.Log.Fatal("failed to initialize database", zap.Error(err))
	}
	if err := database.Migrate(); err != nil {
		logger.Log.Fatal("failed to run migrations", zap.Error(err))
	}

	redisClient, err := cache.NewRedisClient(cfg.RedisHost, cfg.RedisPort, cfg.RedisPassword)
	if err != nil {
		logger.Log.Fatal("failed to connect to redis", zap.Error(err))
	}
	defer redisClient.Close()

	tp, err := telemetry.InitTracer(telemetry.Config{
		ServiceName:  "tangle-backend",
		Environment:  cfg.Environment,
		OTLPEndpoint: cfg.OTLPEndpoint,
		Enabled:      cfg.TracingEnabled,
		SamplingRate: 1.0,
	})
	if err != nil {
		logger.Log.Warn("tracing disabled", zap.Error(err))
	}
	if tp != nil {
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = tp.Shutdown(ctx)
		}()
	}

	metrics.Initialize()

	users := repository.NewUserRepository(database.DB)
	posts := repository.NewPostRepository(database.DB)
	agg := aggregates.New(redisClient, repository.NewAggregateSource(users, posts))
	broker := queue.NewRedisBroker(redisClient.Client(), "tasks")
	dispatcher := queue.NewDispatcher(broker)

	authService := auth.NewService(users, []byte(cfg.JWTSecret), cfg.TokenTTL, redisClient)
	engagementService := engagement.NewService(users, posts, agg, dispatcher)
	assembler := feed.NewAssembler(posts, agg)

	h := handlers.NewHandlers(authService, engagementService, assembler, users)
	router := h.SetupRouter(handlers.RouterOptions{
		ServiceName:    "tangle-backend",
		TracingEnabled: cfg.TracingEnabled,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Log.Info("listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Log.Fatal("server error", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Log.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Log.Error("forced shutdown", zap.Error(err))
	}
}
