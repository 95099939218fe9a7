package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/huandu/go-sqlbuilder"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/i474232898/generation-mix/internal/generation"
)

const runHistoryTable = "pipeline_run_history"

var runColumns = []string{
	"id", "run_start", "run_stop", "last_fetched_id",
	"total_fetched", "valid_records", "success", "error_message",
}

// RunStore persists pipeline run history.
type RunStore struct {
	db     *sqlx.DB
	logger *zap.Logger
}

func NewRunStore(db *sqlx.DB, logger *zap.Logger) *RunStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RunStore{db: db, logger: logger.Named("run-history")}
}

// StartRun records a new in-progress run and returns its id.
func (s *RunStore) StartRun(ctx context.Context, start time.Time) (int64, error) {
	ib := sqlbuilder.SQLite.NewInsertBuilder()
	ib.InsertInto(runHistoryTable)
	ib.Cols("run_start", "total_fetched", "valid_records", "success")
	ib.Values(start.UTC(), 0, 0, false)

	query, args := ib.Build()
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("insert run: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("insert run: %w", err)
	}
	return id, nil
}

// FinishRun writes the final state of run.ID.
func (s *RunStore) FinishRun(ctx context.Context, run generation.RunHistory) error {
	ub := sqlbuilder.SQLite.NewUpdateBuilder()
	ub.Update(runHistoryTable)
	ub.Set(
		ub.Assign("run_stop", utcPtr(run.RunStop)),
		ub.Assign("last_fetched_id", run.LastFetchedID),
		ub.Assign("total_fetched", run.TotalFetched),
		ub.Assign("valid_records", run.ValidRecords),
		ub.Assign("success", run.Success),
		ub.Assign("error_message", run.ErrorMessage),
	)
	ub.Where(ub.Equal("id", run.ID))

	query, args := ub.Build()
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update run %d: %w", run.ID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("update run %d: %w", run.ID, ErrNotFound)
	}
	return nil
}

// RecentRuns returns up to limit runs, newest first.
func (s *RunStore) RecentRuns(ctx context.Context, limit int) ([]generation.RunHistory, error) {
	if limit < 1 {
		limit = 20
	}

	sb := sqlbuilder.SQLite.NewSelectBuilder()
	sb.Select(runColumns...)
	sb.From(runHistoryTable)
	sb.OrderBy("id").Desc()
	sb.Limit(limit)

	query, args := sb.Build()
	runs := []generation.RunHistory{}
	if err := s.db.SelectContext(ctx, &runs, query, args...); err != nil {
		return nil, fmt.Errorf("select runs: %w", err)
	}
	return runs, nil
}

// LastSuccessfulRun returns the successful run that finished most recently.
func (s *RunStore) LastSuccessfulRun(ctx context.Context) (generation.RunHistory, error) {
	sb := sqlbuilder.SQLite.NewSelectBuilder()
	sb.Select(runColumns...)
	sb.From(runHistoryTable)
	sb.Where(
		sb.Equal("success", true),
		sb.IsNotNull("run_stop"),
	)
	sb.OrderBy("run_stop").Desc()
	sb.Limit(1)

	query, args := sb.Build()
	var run generation.RunHistory
	if err := s.db.GetContext(ctx, &run, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return generation.RunHistory{}, fmt.Errorf("successful run: %w", ErrNotFound)
		}
		return generation.RunHistory{}, fmt.Errorf("select last successful run: %w", err)
	}
	return run, nil
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
