package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/huandu/go-sqlbuilder"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/i474232898/generation-mix/internal/generation"
	"github.com/i474232898/generation-mix/internal/metrics"
)

const generationTable = "generation"

// BatchSize is the number of rows per upsert statement that keeps the bound
// parameter count within maxParams. It is never less than one.
func BatchSize(maxParams, numCols int) int {
	if numCols <= 0 {
		return 1
	}
	if n := maxParams / numCols; n > 0 {
		return n
	}
	return 1
}

// batchBounds splits total rows into [start, end) ranges of at most size rows.
func batchBounds(total, size int) [][2]int {
	var bounds [][2]int
	for start := 0; start < total; start += size {
		bounds = append(bounds, [2]int{start, min(start+size, total)})
	}
	return bounds
}

// GenerationStore persists canonical generation rows keyed by _id.
type GenerationStore struct {
	db        *sqlx.DB
	maxParams int
	logger    *zap.Logger
}

func NewGenerationStore(db *sqlx.DB, maxParams int, logger *zap.Logger) *GenerationStore {
	if maxParams <= 0 {
		maxParams = DefaultMaxParams
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GenerationStore{
		db:        db,
		maxParams: maxParams,
		logger:    logger.Named("load"),
	}
}

// Upsert inserts rows or overwrites every non-key column of rows whose _id
// already exists. Each batch is committed on its own, so a failure leaves
// earlier batches in place.
func (s *GenerationStore) Upsert(ctx context.Context, rows []generation.Generation) error {
	if len(rows) == 0 {
		s.logger.Info("no data to upsert")
		return nil
	}

	batchSize := BatchSize(s.maxParams, len(generation.Columns))
	s.logger.Info("upserting records",
		zap.Int("records", len(rows)),
		zap.Int("batch_size", batchSize),
	)

	for _, b := range batchBounds(len(rows), batchSize) {
		start, end := b[0], b[1]
		if err := s.upsertBatch(ctx, rows[start:end]); err != nil {
			return fmt.Errorf("upsert rows %d-%d: %w", start, end-1, err)
		}
		metrics.LoadBatchesTotal.Inc()
		metrics.RecordsLoadedTotal.Add(float64(end - start))
	}

	s.logger.Info("upserted records", zap.Int("records", len(rows)))
	return nil
}

func (s *GenerationStore) upsertBatch(ctx context.Context, rows []generation.Generation) error {
	ib := sqlbuilder.SQLite.NewInsertBuilder()
	ib.InsertInto(generationTable)
	ib.Cols(quoteAll(generation.Columns)...)
	for _, row := range rows {
		ib.Values(row.Values()...)
	}

	query, args := ib.Build()
	query += onConflictUpdate(generation.IDColumn, generation.Columns)

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// MaxID returns the largest stored _id, or 0 when the table is empty.
func (s *GenerationStore) MaxID(ctx context.Context) (int64, error) {
	sb := sqlbuilder.SQLite.NewSelectBuilder()
	sb.Select(fmt.Sprintf("MAX(%s)", quote(generation.IDColumn)))
	sb.From(generationTable)

	query, args := sb.Build()
	var maxID sql.NullInt64
	if err := s.db.GetContext(ctx, &maxID, query, args...); err != nil {
		return 0, fmt.Errorf("max id: %w", err)
	}
	return maxID.Int64, nil
}

// All returns every stored row ordered by timestamp.
func (s *GenerationStore) All(ctx context.Context) ([]generation.Generation, error) {
	sb := sqlbuilder.SQLite.NewSelectBuilder()
	sb.Select(quoteAll(generation.Columns)...)
	sb.From(generationTable)
	sb.OrderBy(quote(generation.DateTimeColumn), quote(generation.IDColumn))

	query, args := sb.Build()
	var rows []generation.Generation
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("select generation: %w", err)
	}
	return rows, nil
}

// Get returns the row with the given _id.
func (s *GenerationStore) Get(ctx context.Context, id int64) (generation.Generation, error) {
	sb := sqlbuilder.SQLite.NewSelectBuilder()
	sb.Select(quoteAll(generation.Columns)...)
	sb.From(generationTable)
	sb.Where(sb.Equal(quote(generation.IDColumn), id))

	query, args := sb.Build()
	var row generation.Generation
	if err := s.db.GetContext(ctx, &row, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return generation.Generation{}, fmt.Errorf("generation %d: %w", id, ErrNotFound)
		}
		return generation.Generation{}, fmt.Errorf("get generation %d: %w", id, err)
	}
	return row, nil
}

func onConflictUpdate(key string, cols []string) string {
	sets := make([]string, 0, len(cols)-1)
	for _, c := range cols {
		if c == key {
			continue
		}
		sets = append(sets, fmt.Sprintf("%s = excluded.%s", quote(c), quote(c)))
	}
	return fmt.Sprintf(" ON CONFLICT (%s) DO UPDATE SET %s", quote(key), strings.Join(sets, ", "))
}

func quote(col string) string {
	return `"` + col + `"`
}

func quoteAll(cols []string) []string {
	out := make([]string, len(cols))
	for i, c := range cols {
		out[i] = quote(c)
	}
	return out
}
