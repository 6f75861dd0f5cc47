// hookline serves the webhook management API, ingests tournament lifecycle
// messages from Kafka and runs the reconciliation sweep. With the memory
// queue driver it also runs the delivery workers in-process.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/felipemaragno/hookline/internal/api"
	"github.com/felipemaragno/hookline/internal/clock"
	"github.com/felipemaragno/hookline/internal/config"
	"github.com/felipemaragno/hookline/internal/deliverylog"
	"github.com/felipemaragno/hookline/internal/kafka"
	"github.com/felipemaragno/hookline/internal/observability"
	"github.com/felipemaragno/hookline/internal/publisher"
	"github.com/felipemaragno/hookline/internal/queue"
	"github.com/felipemaragno/hookline/internal/registry"
	"github.com/felipemaragno/hookline/internal/repository/postgres"
	"github.com/felipemaragno/hookline/internal/resilience"
	"github.com/felipemaragno/hookline/internal/retry"
	"github.com/felipemaragno/hookline/internal/tournament"
	"github.com/felipemaragno/hookline/internal/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.SlogLevel(),
	}))
	slog.SetDefault(logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to parse database URL", "error", err)
		os.Exit(1)
	}
	poolConfig.MaxConns = cfg.DBMaxConns

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	if err := pool.Ping(ctx); err != nil {
		logger.Error("failed to ping database", "error", err)
		os.Exit(1)
	}
	if err := postgres.Migrate(ctx, pool); err != nil {
		logger.Error("failed to run migrations", "error", err)
		os.Exit(1)
	}
	logger.Info("connected to database")

	tournamentDB, err := tournament.Open(cfg.TournamentDSN())
	if err != nil {
		logger.Error("failed to open tournament database", "error", err)
		os.Exit(1)
	}

	clk := clock.RealClock{}
	policy := retry.DefaultPolicy()
	policy.MaxAttempts = cfg.Retry.MaxAttempts
	policy.InitialInterval = cfg.Retry.InitialInterval
	policy.MaxInterval = cfg.Retry.MaxInterval

	var q queue.Queue
	switch cfg.QueueDriver {
	case config.QueueDriverMemory:
		logger.Warn("using in-memory queue, jobs are lost on restart")
		q = queue.NewMemory(clk, queue.DefaultLeaseTimeout)
	default:
		opt, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			logger.Error("failed to parse REDIS_URL", "error", err)
			os.Exit(1)
		}
		redisClient := redis.NewClient(opt)
		defer redisClient.Close()
		if err := redisClient.Ping(ctx).Err(); err != nil {
			logger.Error("failed to connect to redis", "error", err)
			os.Exit(1)
		}
		q = queue.NewRedis(redisClient, clk, queue.DefaultRedisConfig())
	}

	webhookRepo := postgres.NewWebhookRepository(pool)
	deliveryRepo := postgres.NewDeliveryRepository(pool)
	apiKeyRepo := postgres.NewAPIKeyRepository(pool)

	metrics := observability.NewMetrics(cfg.MetricsNamespace)
	healthHandler := observability.NewHealthHandler(pool, q)

	reg := registry.New(webhookRepo, apiKeyRepo, clk, logger)
	deliveryLog := deliverylog.New(webhookRepo, deliveryRepo, q, policy, clk, logger)

	pub, err := publisher.New(reg, deliveryRepo, q, tournament.NewStore(tournamentDB), policy, clk, logger)
	if err != nil {
		logger.Error("failed to build publisher", "error", err)
		os.Exit(1)
	}
	pub.WithMetrics(metrics)

	router := api.NewRouter(api.RouterConfig{
		Handler:       api.NewHandler(reg, deliveryLog, logger),
		HealthHandler: healthHandler,
		Metrics:       metrics,
		Tenants:       api.HeaderResolver{},
		Logger:        logger,
	})

	sweeper := retry.NewSweeper(deliveryRepo, q, policy, clk, retry.SweeperConfig{
		Interval:      cfg.Sweep.Interval,
		GracePeriod:   cfg.Sweep.GracePeriod,
		GaugeInterval: cfg.Sweep.GaugeInterval,
	}, logger).WithGauges(metrics)
	if err := sweeper.Start(ctx); err != nil {
		logger.Error("failed to start sweeper", "error", err)
		os.Exit(1)
	}

	var consumer *kafka.Consumer
	if cfg.Kafka.Enabled {
		handler := kafka.NewLifecycleHandler(pub,
			kafka.WithLogger(logger),
			kafka.WithMetrics(metrics),
		)
		consumerConfig := kafka.DefaultConsumerConfig()
		consumerConfig.Brokers = cfg.Kafka.Brokers
		consumerConfig.Topic = cfg.Kafka.Topic
		consumerConfig.GroupID = cfg.Kafka.ConsumerGroup
		consumerConfig.InstanceID, _ = os.Hostname()

		consumer = kafka.NewConsumer(consumerConfig, handler, logger)
		consumer.Start(ctx)
	}

	var workerPool *worker.Pool
	if cfg.QueueDriver == config.QueueDriverMemory {
		breakers := resilience.NewCircuitBreakerManager(resilience.DefaultCircuitBreakerConfig())
		breakers.OnStateChange(metrics.ObserveBreaker)
		limiter := resilience.NewLocalRateLimiter(resilience.DefaultRateLimiterConfig())

		workerPool = worker.NewPool(
			worker.Config{
				Workers:       cfg.Worker.Workers,
				PollInterval:  cfg.Worker.PollInterval,
				Timeout:       cfg.Worker.Timeout,
				ThrottleDelay: cfg.Worker.ThrottleDelay,
			},
			q,
			deliveryRepo,
			webhookRepo,
			&http.Client{Timeout: cfg.Worker.Timeout},
			clk,
			policy,
			logger,
		).WithMetrics(metrics).WithGate(resilience.NewGate(limiter, breakers, cfg.Worker.RateLimit))
		workerPool.Start(ctx)
	}

	healthHandler.SetReady(true)

	server := &http.Server{
		Addr:         cfg.Addr,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("starting HTTP server", "addr", cfg.Addr, "queue", cfg.QueueDriver, "kafka", cfg.Kafka.Enabled)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("HTTP server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down...")
	healthHandler.SetReady(false)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("failed to shutdown HTTP server", "error", err)
	}

	if consumer != nil {
		consumer.Stop()
		stats := consumer.Stats()
		logger.Info("consumer stats",
			"messages", stats.Messages,
			"rebalances", stats.Rebalances,
			"errors", stats.Errors,
		)
	}
	if workerPool != nil {
		workerPool.Stop()
	}
	if err := sweeper.Stop(); err != nil {
		logger.Error("failed to stop sweeper", "error", err)
	}
	cancel()

	logger.Info("shutdown complete")
}
