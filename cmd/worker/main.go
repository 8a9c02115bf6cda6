package main

import (
	"context"
	"fmt"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/simonkvalheim/hm9-backoffice/internal/config"
	"github.com/simonkvalheim/hm9-backoffice/internal/logging"
	"github.com/simonkvalheim/hm9-backoffice/internal/queue"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger, err := logging.New(cfg.Log)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("worker stopped with error", zap.Error(err))
	}
	logger.Info("worker stopped")
}

func run(cfg config.Config, logger *zap.Logger) error {
	if cfg.EventsBackend != "redis" {
		return fmt.Errorf("worker consumes the Redis event queue; EVENTS_BACKEND is %q", cfg.EventsBackend)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisURL,
		Password: cfg.RedisPassword,
		DB:       0,
	})
	defer client.Close()

	if err := client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("failed to connect to Redis: %w", err)
	}
	logger.Info("connected to Redis")

	worker := queue.NewWorker(client, logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		worker.Start(gctx)
		return nil
	})
	g.Go(func() error {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				n, err := worker.PendingRequestCount(gctx)
				if err != nil {
					logger.Warn("failed to read pending request count", zap.Error(err))
					continue
				}
				logger.Info("checker work-queue", zap.Int64("pending_requests", n))
			}
		}
	})
	return g.Wait()
}
