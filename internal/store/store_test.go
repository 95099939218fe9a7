package store

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/i474232898/generation-mix/internal/generation"
)

func openTestDB(t *testing.T) *sqlx.DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, Migrate(db, nil))
	return db
}

func makeRows(n int, startID int64) []generation.Generation {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	rows := make([]generation.Generation, n)
	for i := range rows {
		rows[i] = generation.Generation{
			ID:         startID + int64(i),
			DateTime:   base.Add(time.Duration(i) * 30 * time.Minute),
			Gas:        100,
			Wind:       float64(i),
			Generation: 400,
			GasPerc:    25,
		}
	}
	return rows
}

func TestBatchSize(t *testing.T) {
	assert.Equal(t, 49, BatchSize(999, 20))
	assert.Equal(t, 28, BatchSize(999, len(generation.Columns)))
	assert.Equal(t, 1, BatchSize(10, 20))
	assert.Equal(t, 1, BatchSize(999, 0))
}

func TestBatchBounds_TwentyColumnTable(t *testing.T) {
	bounds := batchBounds(2000, BatchSize(999, 20))

	require.Len(t, bounds, 41)
	assert.Equal(t, [2]int{0, 49}, bounds[0])
	assert.Equal(t, [2]int{1960, 2000}, bounds[40])
	for _, b := range bounds {
		assert.LessOrEqual(t, (b[1]-b[0])*20, 999)
	}
}

func TestMigrate_Idempotent(t *testing.T) {
	db := openTestDB(t)
	assert.NoError(t, Migrate(db, nil))
}

func TestGenerationStore_MaxIDEmpty(t *testing.T) {
	s := NewGenerationStore(openTestDB(t), 0, nil)

	id, err := s.MaxID(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(0), id)
}

func TestGenerationStore_UpsertAcrossBatches(t *testing.T) {
	ctx := context.Background()
	s := NewGenerationStore(openTestDB(t), DefaultMaxParams, nil)

	rows := makeRows(100, 1)
	require.NoError(t, s.Upsert(ctx, rows))

	all, err := s.All(ctx)
	require.NoError(t, err)
	require.Len(t, all, 100)
	assert.Equal(t, int64(1), all[0].ID)
	assert.True(t, rows[99].DateTime.Equal(all[99].DateTime))

	maxID, err := s.MaxID(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(100), maxID)
}

func TestGenerationStore_FailedBatchKeepsEarlierBatches(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	s := NewGenerationStore(db, DefaultMaxParams, nil)

	_, err := db.Exec(`CREATE TRIGGER fail_id_60 BEFORE INSERT ON generation
		WHEN NEW."_id" = 60
		BEGIN SELECT RAISE(ABORT, 'boom'); END`)
	require.NoError(t, err)

	batch := BatchSize(DefaultMaxParams, len(generation.Columns))
	err = s.Upsert(ctx, makeRows(100, 1))
	require.Error(t, err)
	assert.ErrorContains(t, err, fmt.Sprintf("upsert rows %d-%d", 2*batch, 3*batch-1))

	maxID, err := s.MaxID(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2*batch), maxID)

	all, err := s.All(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2*batch)
}

func TestGenerationStore_UpsertOverwritesByID(t *testing.T) {
	ctx := context.Background()
	s := NewGenerationStore(openTestDB(t), DefaultMaxParams, nil)

	rows := makeRows(3, 10)
	require.NoError(t, s.Upsert(ctx, rows))

	updated := rows[1]
	updated.Wind = 999
	updated.GasPerc = 30
	require.NoError(t, s.Upsert(ctx, []generation.Generation{updated}))

	all, err := s.All(ctx)
	require.NoError(t, err)
	require.Len(t, all, 3)

	got, err := s.Get(ctx, 11)
	require.NoError(t, err)
	assert.Equal(t, 999.0, got.Wind)
	assert.Equal(t, 30.0, got.GasPerc)
	assert.Equal(t, 100.0, got.Gas)
}

func TestGenerationStore_UpsertTwiceIsStable(t *testing.T) {
	ctx := context.Background()
	s := NewGenerationStore(openTestDB(t), DefaultMaxParams, nil)

	rows := makeRows(40, 1)
	require.NoError(t, s.Upsert(ctx, rows))
	first, err := s.All(ctx)
	require.NoError(t, err)

	require.NoError(t, s.Upsert(ctx, rows))
	second, err := s.All(ctx)
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestGenerationStore_SmallParamLimit(t *testing.T) {
	ctx := context.Background()
	// one row per statement
	s := NewGenerationStore(openTestDB(t), len(generation.Columns), nil)

	require.NoError(t, s.Upsert(ctx, makeRows(5, 1)))

	all, err := s.All(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 5)
}

func TestGenerationStore_GetMissing(t *testing.T) {
	s := NewGenerationStore(openTestDB(t), 0, nil)

	_, err := s.Get(context.Background(), 42)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRunStore_Lifecycle(t *testing.T) {
	ctx := context.Background()
	s := NewRunStore(openTestDB(t), nil)

	start := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	id, err := s.StartRun(ctx, start)
	require.NoError(t, err)

	runs, err := s.RecentRuns(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.True(t, runs[0].InProgress())
	assert.False(t, runs[0].Success)

	_, err = s.LastSuccessfulRun(ctx)
	assert.ErrorIs(t, err, ErrNotFound)

	stop := start.Add(time.Minute)
	last := int64(500)
	require.NoError(t, s.FinishRun(ctx, generation.RunHistory{
		ID:            id,
		RunStop:       &stop,
		LastFetchedID: &last,
		TotalFetched:  10,
		ValidRecords:  9,
		Success:       true,
	}))

	got, err := s.LastSuccessfulRun(ctx)
	require.NoError(t, err)
	assert.Equal(t, id, got.ID)
	require.NotNil(t, got.RunStop)
	assert.True(t, stop.Equal(*got.RunStop))
	require.NotNil(t, got.LastFetchedID)
	assert.Equal(t, int64(500), *got.LastFetchedID)
	assert.Equal(t, 10, got.TotalFetched)
	assert.Equal(t, 9, got.ValidRecords)
	assert.Nil(t, got.ErrorMessage)
}

func TestRunStore_LastSuccessfulIgnoresFailures(t *testing.T) {
	ctx := context.Background()
	s := NewRunStore(openTestDB(t), nil)
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	finish := func(start time.Time, success bool) int64 {
		id, err := s.StartRun(ctx, start)
		require.NoError(t, err)
		stop := start.Add(time.Minute)
		run := generation.RunHistory{ID: id, RunStop: &stop, Success: success}
		if !success {
			msg := "boom"
			run.ErrorMessage = &msg
		}
		require.NoError(t, s.FinishRun(ctx, run))
		return id
	}

	okID := finish(base, true)
	finish(base.Add(time.Hour), false)

	got, err := s.LastSuccessfulRun(ctx)
	require.NoError(t, err)
	assert.Equal(t, okID, got.ID)

	runs, err := s.RecentRuns(ctx, 1)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	require.NotNil(t, runs[0].ErrorMessage)
	assert.Equal(t, "boom", *runs[0].ErrorMessage)
}

func TestRunStore_FinishUnknownRun(t *testing.T) {
	s := NewRunStore(openTestDB(t), nil)
	stop := time.Now()

	err := s.FinishRun(context.Background(), generation.RunHistory{ID: 99, RunStop: &stop})
	assert.ErrorIs(t, err, ErrNotFound)
}
