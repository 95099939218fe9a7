package generation

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/i474232898/generation-mix/internal/lock"
)

type fakeFetcher struct {
	records []RawRecord
	err     error
	calls   int
	lastID  int64
}

func (f *fakeFetcher) Fetch(_ context.Context, lastID int64, _, _ int) ([]RawRecord, error) {
	f.calls++
	f.lastID = lastID
	if f.err != nil {
		return nil, f.err
	}
	return f.records, nil
}

type fakeStore struct {
	mu        sync.Mutex
	rows      map[int64]Generation
	upsertErr error
	upserts   int
	reads     int
}

func newFakeStore() *fakeStore {
	return &fakeStore{rows: make(map[int64]Generation)}
}

func (s *fakeStore) MaxID(context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var maxID int64
	for id := range s.rows {
		if id > maxID {
			maxID = id
		}
	}
	return maxID, nil
}

func (s *fakeStore) Upsert(_ context.Context, rows []Generation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.upserts++
	if s.upsertErr != nil {
		return s.upsertErr
	}
	for _, r := range rows {
		s.rows[r.ID] = r
	}
	return nil
}

func (s *fakeStore) All(context.Context) ([]Generation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reads++
	out := make([]Generation, 0, len(s.rows))
	for _, r := range s.rows {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DateTime.Before(out[j].DateTime) })
	return out, nil
}

type fakeRunStore struct {
	mu        sync.Mutex
	runs      []RunHistory
	finishErr error
	finishCtx context.Context
}

func (s *fakeRunStore) StartRun(_ context.Context, start time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs = append(s.runs, RunHistory{ID: int64(len(s.runs) + 1), RunStart: start})
	return int64(len(s.runs)), nil
}

func (s *fakeRunStore) FinishRun(ctx context.Context, run RunHistory) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.finishCtx = ctx
	if s.finishErr != nil {
		return s.finishErr
	}
	s.runs[run.ID-1] = run
	return nil
}

func (s *fakeRunStore) RecentRuns(_ context.Context, limit int) ([]RunHistory, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]RunHistory, 0, limit)
	for i := len(s.runs) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, s.runs[i])
	}
	return out, nil
}

var errNoRun = errors.New("no run")

func (s *fakeRunStore) LastSuccessfulRun(context.Context) (RunHistory, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.runs) - 1; i >= 0; i-- {
		if s.runs[i].Success {
			return s.runs[i], nil
		}
	}
	return RunHistory{}, errNoRun
}

func (s *fakeRunStore) last() RunHistory {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runs[len(s.runs)-1]
}

func newTestService(f Fetcher, st Store, runs RunStore) *Service {
	return NewService(f, newTestTransformer(), st, runs, lock.NewLocal(), ServiceConfig{BatchSize: 100}, nil)
}
