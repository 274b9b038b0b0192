package main

import (
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/tangle-social/backend/internal/aggregates"
	"github.com/tangle-social/backend/internal/cache"
	"github.com/tangle-social/backend/internal/config"
	"github.com/tangle-social/backend/internal/database"
	"github.com/tangle-social/backend/internal/images"
	"github.com/tangle-social/backend/internal/jobs"
	"github.com/tangle-social/backend/internal/logger"
	"github.com/tangle-social/backend/internal/notify"
	"github.com/tangle-social/backend/internal/queue"
	"github.com/tangle-social/backend/internal/repository"
	"github.com/tangle-social/backend/internal/storage"
	"go.uber.org/zap"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("Warning: .env file not found, using system environment variables")
	}

	cfg := config.Load()

	if err := logger.Initialize(cfg.LogLevel, "tangle-worker.log"); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Close()

	logger.Log.Info("tangle worker starting", zap.Int("workers", cfg.QueueWorkers))

	if err := database.Initialize(cfg); err != nil {
		logger.Log.Fatal("failed to initialize database", zap.Error(err))
	}

	redisClient, err := cache.NewRedisClient(cfg.RedisHost, cfg.RedisPort, cfg.RedisPassword)
	if err != nil {
		logger.Log.Fatal("failed to connect to redis", zap.Error(err))
	}
	defer redisClient.Close()

	users := repository.NewUserRepository(database.DB)
	posts := repository.NewPostRepository(database.DB)
	agg := aggregates.New(redisClient, repository.NewAggregateSource(users, posts))
	broker := queue.NewRedisBroker(redisClient.Client(), "tasks")
	dispatcher := queue.NewDispatcher(broker)

	store, err := storage.NewS3Store(cfg)
	if err != nil {
		logger.Log.Fatal("failed to connect to object storage", zap.Error(err))
	}

	thumbnailer := images.NewFFmpeg()
	if err := thumbnailer.CheckBinary(); err != nil {
		logger.Log.Fatal("ffmpeg check failed", zap.Error(err))
	}

	publisher := notify.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic)
	defer publisher.Close()

	opts := queue.DefaultWorkerOptions()
	opts.Workers = cfg.QueueWorkers
	opts.MaxAttempts = cfg.QueueMaxAttempts
	opts.Lease = cfg.QueueLease

	worker := queue.NewWorker(broker, opts)
	jobs.NewHandlers(posts, agg, store, thumbnailer, publisher).RegisterAll(worker)
	worker.Start()

	scheduler := jobs.NewScheduler(posts, dispatcher, 30*time.Second)
	scheduler.Start()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Log.Info("shutting down")
	scheduler.Stop()
	worker.Stop()
}
