// Worker service that claims delivery jobs from the Redis queue and POSTs
// signed payloads to webhook endpoints. Run several instances against the
// same queue to scale out; the rate limit is shared through Redis.
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

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/felipemaragno/hookline/internal/clock"
	"github.com/felipemaragno/hookline/internal/config"
	"github.com/felipemaragno/hookline/internal/observability"
	"github.com/felipemaragno/hookline/internal/queue"
	"github.com/felipemaragno/hookline/internal/repository/postgres"
	"github.com/felipemaragno/hookline/internal/resilience"
	"github.com/felipemaragno/hookline/internal/retry"
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

	if cfg.QueueDriver != config.QueueDriverRedis {
		logger.Error("standalone workers need the redis queue driver", "queue_driver", cfg.QueueDriver)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to parse database URL", "error", err)
		os.Exit(1)
	}
	poolConfig.MaxConns = cfg.DBMaxConns
	poolConfig.MinConns = cfg.DBMaxConns / 3

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
	logger.Info("connected to database")

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
	logger.Info("connected to Redis")

	clk := clock.RealClock{}
	policy := retry.DefaultPolicy()
	policy.MaxAttempts = cfg.Retry.MaxAttempts
	policy.InitialInterval = cfg.Retry.InitialInterval
	policy.MaxInterval = cfg.Retry.MaxInterval

	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	// Rate limit shared across instances; breakers stay per process.
	limiter := resilience.NewRedisRateLimiter(redisClient, resilience.DefaultRedisRateLimiterConfig(), logger)
	breakers := resilience.NewCircuitBreakerManager(resilience.DefaultCircuitBreakerConfig())
	breakers.OnStateChange(metrics.ObserveBreaker)

	q := queue.NewRedis(redisClient, clk, queue.DefaultRedisConfig())

	httpClient := &http.Client{
		Timeout: cfg.Worker.Timeout,
		Transport: &http.Transport{
			MaxIdleConns:        1000,
			MaxIdleConnsPerHost: 100,
			IdleConnTimeout:     90 * time.Second,
		},
	}

	workerPool := worker.NewPool(
		worker.Config{
			Workers:       cfg.Worker.Workers,
			PollInterval:  cfg.Worker.PollInterval,
			Timeout:       cfg.Worker.Timeout,
			ThrottleDelay: cfg.Worker.ThrottleDelay,
		},
		q,
		postgres.NewDeliveryRepository(pool),
		postgres.NewWebhookRepository(pool),
		httpClient,
		clk,
		policy,
		logger,
	).WithMetrics(metrics).WithGate(resilience.NewGate(limiter, breakers, cfg.Worker.RateLimit))

	workerPool.Start(ctx)

	// Workers expose only probes and metrics.
	healthHandler := observability.NewHealthHandler(pool, q)
	healthHandler.SetReady(true)
	r := chi.NewRouter()
	r.Get("/health", healthHandler.Health)
	r.Get("/ready", healthHandler.Ready)
	r.Handle("/metrics", promhttp.Handler())

	server := &http.Server{
		Addr:        cfg.Addr,
		Handler:     r,
		ReadTimeout: 10 * time.Second,
	}
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server error", "error", err)
		}
	}()

	logger.Info("worker started",
		"workers", cfg.Worker.Workers,
		"timeout", cfg.Worker.Timeout,
		"rate_limit", cfg.Worker.RateLimit,
		"max_attempts", policy.MaxAttempts,
	)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	workerPool.Stop()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("failed to shutdown metrics server", "error", err)
	}
	cancel()

	logger.Info("shutdown complete")
}
