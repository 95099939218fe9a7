package generation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/i474232898/generation-mix/internal/lock"
	"github.com/i474232898/generation-mix/internal/metrics"
)

// JobName keys the run-level lock shared by scheduled and on-demand runs.
const JobName = "generation-mix-pipeline"

// ErrRunInProgress is returned when another run holds the pipeline lock.
var ErrRunInProgress = errors.New("pipeline run already in progress")

// ServiceConfig holds the paging limits passed to the Fetcher.
type ServiceConfig struct {
	BatchSize  int
	MaxRecords int // 0 = unlimited
}

// Service wires Fetcher, Transformer and Store into the pipeline and serves
// read access to the loaded data.
type Service struct {
	fetcher     Fetcher
	transformer *Transformer
	store       Store
	runs        RunStore
	locker      Locker
	cfg         ServiceConfig
	cache       tableCache
	logger      *zap.Logger
}

// NewService creates a new Service.
func NewService(
	fetcher Fetcher,
	transformer *Transformer,
	store Store,
	runs RunStore,
	locker Locker,
	cfg ServiceConfig,
	logger *zap.Logger,
) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		fetcher:     fetcher,
		transformer: transformer,
		store:       store,
		runs:        runs,
		locker:      locker,
		cfg:         cfg,
		logger:      logger.Named("pipeline"),
	}
}

// Run executes one fetch, transform and load cycle starting after the
// store's largest _id.
func (s *Service) Run(ctx context.Context) (Metrics, error) {
	cursor, err := s.store.MaxID(ctx)
	if err != nil {
		return Metrics{}, fmt.Errorf("determine cursor: %w", err)
	}
	s.logger.Info("starting pipeline", zap.Int64("after_id", cursor))

	raw, err := s.fetcher.Fetch(ctx, cursor, s.cfg.BatchSize, s.cfg.MaxRecords)
	if err != nil {
		return Metrics{}, err
	}
	if len(raw) == 0 {
		s.logger.Info("no new records")
		return Metrics{LastFetchedID: cursor}, nil
	}

	rows, summary := s.transformer.Transform(raw)
	for _, issue := range summary.Issues {
		metrics.QualityIssuesTotal.WithLabelValues(issue.Check).Add(float64(issue.Count))
	}

	if err := s.store.Upsert(ctx, rows); err != nil {
		s.cache.invalidate()
		return Metrics{}, fmt.Errorf("load: %w", err)
	}
	s.cache.invalidate()

	lastID := cursor
	for _, row := range rows {
		if row.ID > lastID {
			lastID = row.ID
		}
	}
	metrics.LastLoadedID.Set(float64(lastID))

	m := Metrics{
		TotalFetched:  len(raw),
		ValidRecords:  len(rows),
		LastFetchedID: lastID,
	}
	s.logger.Info("pipeline complete",
		zap.Int("total_fetched", m.TotalFetched),
		zap.Int("valid_records", m.ValidRecords),
		zap.Int64("last_fetched_id", m.LastFetchedID),
	)
	return m, nil
}

// RunOnce runs the pipeline under the job lock with run tracking. It returns
// ErrRunInProgress without recording a run when the lock is held elsewhere.
func (s *Service) RunOnce(ctx context.Context) (Metrics, error) {
	release, err := s.acquire(ctx)
	if err != nil {
		return Metrics{}, err
	}
	defer release()

	return s.tracked(ctx)
}

// Trigger starts a tracked run in the background once the job lock is held.
// It returns ErrRunInProgress when another run holds the lock.
func (s *Service) Trigger(ctx context.Context) error {
	release, err := s.acquire(ctx)
	if err != nil {
		return err
	}

	runCtx := context.WithoutCancel(ctx)
	go func() {
		defer release()
		if _, err := s.tracked(runCtx); err != nil {
			s.logger.Error("triggered run failed", zap.Error(err))
		}
	}()
	return nil
}

func (s *Service) acquire(ctx context.Context) (func(), error) {
	release, err := s.locker.Acquire(ctx, JobName)
	if err != nil {
		if errors.Is(err, lock.ErrNotAcquired) {
			s.logger.Warn("skipping run, another run holds the lock")
			metrics.PipelineRunsTotal.WithLabelValues("skipped").Inc()
			return nil, ErrRunInProgress
		}
		return nil, fmt.Errorf("acquire lock: %w", err)
	}

	return func() {
		if err := release(context.WithoutCancel(ctx)); err != nil {
			s.logger.Warn("failed to release lock", zap.Error(err))
		}
	}, nil
}

func (s *Service) tracked(ctx context.Context) (Metrics, error) {
	start := time.Now()
	m, err := RunTracked(ctx, s.runs, s.Run, s.logger)
	metrics.PipelineRunDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.PipelineRunsTotal.WithLabelValues("failure").Inc()
		return m, err
	}
	metrics.PipelineRunsTotal.WithLabelValues("success").Inc()
	return m, nil
}

// Range returns stored rows within [from, to] resampled to iv, plus the data version.
func (s *Service) Range(ctx context.Context, from, to *time.Time, iv Interval) ([]Generation, int64, error) {
	rows, version, err := s.cache.get(ctx, s.store)
	if err != nil {
		return nil, 0, err
	}

	rows = FilterRange(rows, from, to)
	if iv != IntervalHalfHour {
		rows = Downsample(rows, iv)
	}
	return rows, version, nil
}

// Version returns the store's current max _id.
func (s *Service) Version(ctx context.Context) (int64, error) {
	return s.store.MaxID(ctx)
}

// Runs returns up to limit recent runs, newest first.
func (s *Service) Runs(ctx context.Context, limit int) ([]RunHistory, error) {
	return s.runs.RecentRuns(ctx, limit)
}

// LastRefresh returns when the most recent successful run finished.
func (s *Service) LastRefresh(ctx context.Context) (time.Time, error) {
	run, err := s.runs.LastSuccessfulRun(ctx)
	if err != nil {
		return time.Time{}, err
	}
	if run.RunStop == nil {
		return run.RunStart, nil
	}
	return *run.RunStop, nil
}
