package generation

import (
	"context"
	"time"
)

// Fetcher pulls raw records from the upstream datastore, starting after lastID.
// maxRecords <= 0 means no limit.
type Fetcher interface {
	Fetch(ctx context.Context, lastID int64, batchSize, maxRecords int) ([]RawRecord, error)
}

// Store is the persistent owner of canonical generation rows.
type Store interface {
	// MaxID returns the largest _id stored, or 0 when the table is empty.
	MaxID(ctx context.Context) (int64, error)
	// Upsert inserts new rows and overwrites existing ones by _id.
	Upsert(ctx context.Context, rows []Generation) error
	// All returns every stored row ordered by DATETIME.
	All(ctx context.Context) ([]Generation, error)
}

// RunStore persists pipeline run history.
type RunStore interface {
	StartRun(ctx context.Context, start time.Time) (int64, error)
	FinishRun(ctx context.Context, run RunHistory) error
	RecentRuns(ctx context.Context, limit int) ([]RunHistory, error)
	LastSuccessfulRun(ctx context.Context) (RunHistory, error)
}

// Locker guards a named job against concurrent execution.
type Locker interface {
	// Acquire returns a release func, or an error wrapping lock.ErrNotAcquired
	// when the key is already held.
	Acquire(ctx context.Context, key string) (release func(context.Context) error, err error)
}
