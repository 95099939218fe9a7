package scheduler

import (
	"context"
	"errors"
	"time"

	"github.com/go-co-op/gocron"
	"go.uber.org/zap"

	"github.com/i474232898/generation-mix/internal/generation"
)

const defaultInterval = 30 * time.Minute

// Runner runs one tracked pipeline cycle.
type Runner interface {
	RunOnce(ctx context.Context) (generation.Metrics, error)
}

// Scheduler periodically runs the generation-mix pipeline.
type Scheduler struct {
	scheduler *gocron.Scheduler
	runner    Runner
	interval  time.Duration
	timeout   time.Duration
	logger    *zap.Logger
}

// New creates a new Scheduler. A timeout of zero leaves runs unbounded.
func New(runner Runner, interval, timeout time.Duration, logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if interval <= 0 {
		interval = defaultInterval
	}
	return &Scheduler{
		scheduler: gocron.NewScheduler(time.UTC),
		runner:    runner,
		interval:  interval,
		timeout:   timeout,
		logger:    logger.Named("scheduler"),
	}
}

// Start schedules the pipeline job and starts the underlying scheduler. The
// first run starts immediately and runs never overlap.
func (s *Scheduler) Start() error {
	_, err := s.scheduler.Every(s.interval).SingletonMode().Do(s.run)
	if err != nil {
		return err
	}

	s.logger.Info("scheduler started", zap.Duration("interval", s.interval))
	s.scheduler.StartAsync()
	return nil
}

func (s *Scheduler) run() {
	ctx := context.Background()
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	s.logger.Info("running pipeline job")
	m, err := s.runner.RunOnce(ctx)
	switch {
	case errors.Is(err, generation.ErrRunInProgress):
		s.logger.Warn("pipeline job skipped, run already in progress")
	case err != nil:
		s.logger.Error("pipeline job failed", zap.Error(err))
	default:
		s.logger.Info("completed pipeline job",
			zap.Int("total_fetched", m.TotalFetched),
			zap.Int("valid_records", m.ValidRecords),
			zap.Int64("last_fetched_id", m.LastFetchedID),
		)
	}
}

// Stop stops the scheduler and cancels any future jobs.
func (s *Scheduler) Stop() {
	if s.scheduler != nil {
		s.scheduler.Stop()
	}
}
