package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/simonkvalheim/hm9-backoffice/internal/account"
	"github.com/simonkvalheim/hm9-backoffice/internal/approval"
	"github.com/simonkvalheim/hm9-backoffice/internal/auth"
	"github.com/simonkvalheim/hm9-backoffice/internal/bootstrap"
	"github.com/simonkvalheim/hm9-backoffice/internal/config"
	"github.com/simonkvalheim/hm9-backoffice/internal/handler"
	"github.com/simonkvalheim/hm9-backoffice/internal/ipo"
	"github.com/simonkvalheim/hm9-backoffice/internal/ledger"
	"github.com/simonkvalheim/hm9-backoffice/internal/logging"
	"github.com/simonkvalheim/hm9-backoffice/internal/metrics"
	"github.com/simonkvalheim/hm9-backoffice/internal/profit"
	"github.com/simonkvalheim/hm9-backoffice/internal/queue"
	"github.com/simonkvalheim/hm9-backoffice/internal/repository"
	"github.com/simonkvalheim/hm9-backoffice/internal/repository/memory"
	"github.com/simonkvalheim/hm9-backoffice/internal/store"
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
		logger.Fatal("api stopped with error", zap.Error(err))
	}
	logger.Info("server stopped")
}

func run(cfg config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.UsingDevSecret() {
		logger.Warn("using default JWT_SECRET for development; set JWT_SECRET in production")
	}

	collector := metrics.NewPrometheusCollector("backoffice")
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	if err := collector.Register(registry); err != nil {
		return fmt.Errorf("failed to register metrics: %w", err)
	}

	s, health, closeStore, err := openStore(ctx, cfg, logger, collector)
	if err != nil {
		return err
	}
	defer closeStore()

	publisher, closePublisher, err := openPublisher(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closePublisher()

	engine := ledger.NewEngine(s, ledger.WithLogger(logger), ledger.WithMetrics(collector))
	accounts := account.NewService(engine, logger)
	ipos := ipo.NewService(engine, ipo.Config{
		DefaultRatios: cfg.ProfitRatios,
		Publisher:     publisher,
		Logger:        logger,
		Metrics:       collector,
	})
	profits := profit.NewService(engine, profit.Config{
		DefaultRatios:    cfg.ProfitRatios,
		FeeAccountNumber: cfg.PlatformAccountNumber,
		Publisher:        publisher,
		Logger:           logger,
		Metrics:          collector,
	})
	gate := approval.NewGate(s, approval.DefaultPolicy(cfg.ProtectLedgerOperations),
		approval.Config{Publisher: publisher, Logger: logger, Metrics: collector},
		approval.NewAccountTarget(accounts),
		approval.NewIPOTarget(ipos),
		approval.NewLedgerOperationTarget(engine),
	)

	if _, err := bootstrap.Initialize(ctx, accounts, cfg.PlatformAccountNumber, cfg.PlatformCurrency, logger); err != nil {
		return err
	}

	router := handler.NewRouter(handler.RouterConfig{
		Auth:        auth.NewService(auth.DefaultConfig(cfg.JWTSecret)),
		Accounts:    accounts,
		Engine:      engine,
		Gate:        gate,
		IPO:         ipos,
		Profit:      profits,
		Health:      health,
		Metrics:     promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		CORSOrigins: cfg.CORSOrigins,
		Logger:      logger,
	})

	server := &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("server starting", zap.String("port", cfg.Port), zap.String("store", cfg.StoreDriver))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down server")

		// Give outstanding requests 30 seconds to complete
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// openStore returns the configured store, a health check and a cleanup func
func openStore(ctx context.Context, cfg config.Config, logger *zap.Logger, rec metrics.Recorder) (store.Store, func(context.Context) error, func(), error) {
	if cfg.StoreDriver == "memory" {
		logger.Warn("using in-memory store; data is lost on restart")
		return memory.New(), nil, func() {}, nil
	}

	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	pool, err := repository.Connect(connectCtx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	logger.Info("connected to database")

	s := repository.New(pool, repository.Config{
		Timeout: cfg.LedgerTimeout,
		Breaker: repository.BreakerConfig{
			MaxFailures:      cfg.BreakerMaxFailures,
			OpenTimeout:      cfg.BreakerOpenTimeout,
			HalfOpenRequests: 1,
		},
		Logger:  logger,
		Metrics: rec,
	})
	if err := s.Migrate(ctx); err != nil {
		pool.Close()
		return nil, nil, nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return s, s.Ping, pool.Close, nil
}

// openPublisher returns the configured event publisher and a cleanup func
func openPublisher(ctx context.Context, cfg config.Config, logger *zap.Logger) (queue.Publisher, func(), error) {
	switch cfg.EventsBackend {
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisURL,
			Password: cfg.RedisPassword,
			DB:       0,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			return nil, nil, fmt.Errorf("failed to connect to Redis: %w", err)
		}
		logger.Info("publishing events to Redis", zap.String("queue", queue.EventQueueName))
		return queue.NewRedisPublisher(client), func() { client.Close() }, nil
	case "kafka":
		p := queue.NewKafkaPublisher(queue.KafkaConfig{Brokers: cfg.KafkaBrokers, Topic: cfg.KafkaTopic}, logger)
		logger.Info("publishing events to Kafka", zap.Strings("brokers", cfg.KafkaBrokers), zap.String("topic", cfg.KafkaTopic))
		return p, func() {
			if err := p.Close(); err != nil {
				logger.Warn("failed to close kafka writer", zap.Error(err))
			}
		}, nil
	}
	logger.Info("event publishing disabled")
	return queue.NopPublisher{}, func() {}, nil
}
