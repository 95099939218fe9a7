package generation

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// PipelineFunc is one unit of tracked pipeline work.
type PipelineFunc func(ctx context.Context) (Metrics, error)

// RunTracked records a run history row around fn. The row is committed before
// fn starts and is always finalised afterwards, even when ctx is cancelled.
// The error from fn is returned unchanged.
func RunTracked(ctx context.Context, runs RunStore, fn PipelineFunc, logger *zap.Logger) (Metrics, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("run-history")

	start := time.Now().UTC()
	runID, err := runs.StartRun(ctx, start)
	if err != nil {
		return Metrics{}, err
	}
	logger.Info("pipeline run started", zap.Int64("run_id", runID), zap.Time("run_start", start))

	m, runErr := fn(ctx)

	stop := time.Now().UTC()
	run := RunHistory{
		ID:       runID,
		RunStart: start,
		RunStop:  &stop,
		Success:  runErr == nil,
	}
	if runErr == nil {
		lastID := m.LastFetchedID
		run.LastFetchedID = &lastID
		run.TotalFetched = m.TotalFetched
		run.ValidRecords = m.ValidRecords
	} else {
		msg := runErr.Error()
		run.ErrorMessage = &msg
		logger.Error("pipeline run failed", zap.Int64("run_id", runID), zap.Error(runErr))
	}

	finishErr := runs.FinishRun(context.WithoutCancel(ctx), run)
	if finishErr != nil {
		logger.Error("failed to finalise run", zap.Int64("run_id", runID), zap.Error(finishErr))
	} else {
		logger.Info("pipeline run finished",
			zap.Int64("run_id", runID),
			zap.Bool("success", run.Success),
			zap.Duration("elapsed", stop.Sub(start)),
		)
	}

	if runErr != nil {
		return Metrics{}, runErr
	}
	if finishErr != nil {
		return m, finishErr
	}
	return m, nil
}
