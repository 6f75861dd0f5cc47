package retry

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-co-op/gocron/v2"

	"github.com/felipemaragno/hookline/internal/clock"
	"github.com/felipemaragno/hookline/internal/queue"
	"github.com/felipemaragno/hookline/internal/repository"
)

// QueueGauges receives periodic queue depth snapshots and sweep results.
type QueueGauges interface {
	SetQueueCounts(counts queue.Counts)
	AddRequeued(n int)
}

// SweeperConfig holds configuration for the reconciliation sweep.
type SweeperConfig struct {
	// Interval is how often orphaned deliveries are re-enqueued (default: 1m)
	Interval time.Duration
	// GracePeriod is how old a never-attempted pending delivery must be
	// before it is considered orphaned (default: 2m)
	GracePeriod time.Duration
	// BatchSize is the maximum number of deliveries re-enqueued per run (default: 100)
	BatchSize int
	// GaugeInterval is how often queue depth gauges are refreshed (default: 15s)
	GaugeInterval time.Duration
}

func DefaultSweeperConfig() SweeperConfig {
	return SweeperConfig{
		Interval:      time.Minute,
		GracePeriod:   2 * time.Minute,
		BatchSize:     100,
		GaugeInterval: 15 * time.Second,
	}
}

// Sweeper re-enqueues deliveries whose row was written but whose job never
// reached the queue, such as after a crash between insert and enqueue.
// Enqueue is idempotent by delivery id, so deliveries that are still queued
// are left alone.
type Sweeper struct {
	config     SweeperConfig
	deliveries repository.DeliveryRepository
	queue      queue.Queue
	policy     Policy
	clock      clock.Clock
	gauges     QueueGauges
	logger     *slog.Logger

	scheduler gocron.Scheduler
}

func NewSweeper(
	deliveries repository.DeliveryRepository,
	q queue.Queue,
	policy Policy,
	clk clock.Clock,
	config SweeperConfig,
	logger *slog.Logger,
) *Sweeper {
	defaults := DefaultSweeperConfig()
	if config.Interval == 0 {
		config.Interval = defaults.Interval
	}
	if config.GracePeriod == 0 {
		config.GracePeriod = defaults.GracePeriod
	}
	if config.BatchSize == 0 {
		config.BatchSize = defaults.BatchSize
	}
	if config.GaugeInterval == 0 {
		config.GaugeInterval = defaults.GaugeInterval
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Sweeper{
		config:     config,
		deliveries: deliveries,
		queue:      q,
		policy:     policy,
		clock:      clk,
		logger:     logger,
	}
}

// WithGauges enables periodic queue depth reporting.
func (s *Sweeper) WithGauges(g QueueGauges) *Sweeper {
	s.gauges = g
	return s
}

// Start schedules the sweep and gauge jobs. They run until Stop is called
// or ctx is cancelled.
func (s *Sweeper) Start(ctx context.Context) error {
	sched, err := gocron.NewScheduler()
	if err != nil {
		return fmt.Errorf("create scheduler: %w", err)
	}

	_, err = sched.NewJob(
		gocron.DurationJob(s.config.Interval),
		gocron.NewTask(func() {
			if _, err := s.Reconcile(ctx); err != nil {
				s.logger.Error("reconciliation sweep failed", "error", err)
			}
		}),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
		gocron.WithName("reconcile-orphaned-deliveries"),
	)
	if err != nil {
		return fmt.Errorf("schedule sweep: %w", err)
	}

	if s.gauges != nil {
		_, err = sched.NewJob(
			gocron.DurationJob(s.config.GaugeInterval),
			gocron.NewTask(func() { s.RefreshGauges(ctx) }),
			gocron.WithSingletonMode(gocron.LimitModeReschedule),
			gocron.WithName("refresh-queue-gauges"),
		)
		if err != nil {
			return fmt.Errorf("schedule gauges: %w", err)
		}
	}

	sched.Start()
	s.scheduler = sched

	s.logger.Info("reconciliation sweep started",
		"interval", s.config.Interval,
		"grace_period", s.config.GracePeriod,
		"batch_size", s.config.BatchSize,
	)
	return nil
}

// Stop shuts the scheduler down, waiting for running jobs.
func (s *Sweeper) Stop() error {
	if s.scheduler == nil {
		return nil
	}
	return s.scheduler.Shutdown()
}

// Reconcile runs one sweep and returns the number of jobs enqueued.
func (s *Sweeper) Reconcile(ctx context.Context) (int, error) {
	now := s.clock.Now()
	orphans, err := s.deliveries.ListOrphaned(ctx, now.Add(-s.config.GracePeriod), s.config.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("list orphaned deliveries: %w", err)
	}

	enqueued := 0
	for _, d := range orphans {
		job := queue.NewJob(d.ID, d.WebhookID, s.policy.MaxAttempts, d.AttemptsMade(), now)
		added, err := s.queue.Enqueue(ctx, job)
		if err != nil {
			s.logger.Error("failed to re-enqueue delivery",
				"delivery_id", d.ID,
				"error", err,
			)
			continue
		}
		if added {
			enqueued++
		}
	}

	if enqueued > 0 {
		if s.gauges != nil {
			s.gauges.AddRequeued(enqueued)
		}
		s.logger.Info("re-enqueued orphaned deliveries",
			"scanned", len(orphans),
			"enqueued", enqueued,
		)
	}
	return enqueued, nil
}

func (s *Sweeper) RefreshGauges(ctx context.Context) {
	if s.gauges == nil {
		return
	}
	counts, err := s.queue.Counts(ctx)
	if err != nil {
		s.logger.Warn("failed to read queue counts", "error", err)
		return
	}
	s.gauges.SetQueueCounts(counts)
}
