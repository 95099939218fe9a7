package generation

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestService_RunZeroFetchedShortCircuits(t *testing.T) {
	st := newFakeStore()
	st.rows[41] = Generation{ID: 41}
	runs := &fakeRunStore{}
	f := &fakeFetcher{}

	m, err := newTestService(f, st, runs).RunOnce(context.Background())
	require.NoError(t, err)

	assert.Equal(t, Metrics{LastFetchedID: 41}, m)
	assert.Equal(t, int64(41), f.lastID)
	assert.Equal(t, 0, st.upserts)

	run := runs.last()
	assert.True(t, run.Success)
	assert.Equal(t, 0, run.TotalFetched)
	assert.Equal(t, 0, run.ValidRecords)
	require.NotNil(t, run.LastFetchedID)
	assert.Equal(t, int64(41), *run.LastFetchedID)
}

func TestService_RunLoadsTransformedRows(t *testing.T) {
	st := newFakeStore()
	runs := &fakeRunStore{}
	f := &fakeFetcher{records: []RawRecord{
		fullRecord(1, "2024-01-01T00:00:00"),
		fullRecord(2, "2024-01-01T00:30:00"),
		fullRecord(2, "2024-01-01T00:00:00"),
	}}

	m, err := newTestService(f, st, runs).RunOnce(context.Background())
	require.NoError(t, err)

	assert.Equal(t, Metrics{TotalFetched: 3, ValidRecords: 2, LastFetchedID: 2}, m)
	assert.Len(t, st.rows, 2)
	assert.Equal(t, 3, runs.last().TotalFetched)
}

func TestService_FetchErrorIsRecorded(t *testing.T) {
	st := newFakeStore()
	runs := &fakeRunStore{}
	fetchErr := errors.New("fetch failed: page after _id 0")

	_, err := newTestService(&fakeFetcher{err: fetchErr}, st, runs).RunOnce(context.Background())

	assert.ErrorIs(t, err, fetchErr)
	assert.Equal(t, 0, st.upserts)
	run := runs.last()
	assert.False(t, run.Success)
	require.NotNil(t, run.ErrorMessage)
	assert.Contains(t, *run.ErrorMessage, "fetch failed")
}

func TestService_LoadErrorPropagates(t *testing.T) {
	st := newFakeStore()
	loadErr := errors.New("database is locked")
	st.upsertErr = loadErr
	runs := &fakeRunStore{}
	f := &fakeFetcher{records: []RawRecord{fullRecord(1, "2024-01-01T00:00:00")}}

	_, err := newTestService(f, st, runs).RunOnce(context.Background())

	assert.ErrorIs(t, err, loadErr)
	assert.False(t, runs.last().Success)
}

func TestService_RunOnceSkipsWhenLocked(t *testing.T) {
	runs := &fakeRunStore{}
	svc := newTestService(&fakeFetcher{}, newFakeStore(), runs)

	release, err := svc.locker.Acquire(context.Background(), JobName)
	require.NoError(t, err)
	defer release(context.Background())

	_, err = svc.RunOnce(context.Background())
	assert.ErrorIs(t, err, ErrRunInProgress)
	assert.Empty(t, runs.runs)
}

func TestService_RangeUsesCacheUntilDataChanges(t *testing.T) {
	ctx := context.Background()
	st := newFakeStore()
	runs := &fakeRunStore{}
	f := &fakeFetcher{records: []RawRecord{
		fullRecord(1, "2024-01-01T00:00:00"),
		fullRecord(2, "2024-01-01T00:30:00"),
	}}
	svc := newTestService(f, st, runs)

	_, err := svc.RunOnce(ctx)
	require.NoError(t, err)

	rows, version, err := svc.Range(ctx, nil, nil, IntervalHalfHour)
	require.NoError(t, err)
	assert.Len(t, rows, 2)
	assert.Equal(t, int64(2), version)

	_, _, err = svc.Range(ctx, nil, nil, IntervalHalfHour)
	require.NoError(t, err)
	assert.Equal(t, 1, st.reads)

	f.records = []RawRecord{fullRecord(3, "2024-01-01T01:00:00")}
	_, err = svc.RunOnce(ctx)
	require.NoError(t, err)

	rows, version, err = svc.Range(ctx, nil, nil, IntervalHalfHour)
	require.NoError(t, err)
	assert.Len(t, rows, 3)
	assert.Equal(t, int64(3), version)
	assert.Equal(t, 2, st.reads)
}

func TestService_RangeFiltersAndDownsamples(t *testing.T) {
	ctx := context.Background()
	f := &fakeFetcher{records: []RawRecord{
		fullRecord(1, "2024-01-01T00:00:00"),
		fullRecord(2, "2024-01-01T00:30:00"),
		fullRecord(3, "2024-01-01T01:00:00"),
		fullRecord(4, "2024-01-02T00:00:00"),
	}}
	svc := newTestService(f, newFakeStore(), &fakeRunStore{})
	_, err := svc.RunOnce(ctx)
	require.NoError(t, err)

	from := time.Date(2024, 1, 1, 0, 30, 0, 0, time.UTC)
	to := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	rows, _, err := svc.Range(ctx, &from, &to, IntervalDay)
	require.NoError(t, err)

	require.Len(t, rows, 2)
	assert.Equal(t, int64(3), rows[0].ID)
	assert.Equal(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), rows[0].DateTime)
	assert.Equal(t, int64(4), rows[1].ID)
}

func TestService_LastRefresh(t *testing.T) {
	ctx := context.Background()
	runs := &fakeRunStore{}
	svc := newTestService(&fakeFetcher{}, newFakeStore(), runs)

	_, err := svc.LastRefresh(ctx)
	assert.ErrorIs(t, err, errNoRun)

	_, err = svc.RunOnce(ctx)
	require.NoError(t, err)

	ts, err := svc.LastRefresh(ctx)
	require.NoError(t, err)
	assert.Equal(t, *runs.last().RunStop, ts)

	recent, err := svc.Runs(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, recent, 1)
}

func TestService_TriggerRunsInBackground(t *testing.T) {
	runs := &fakeRunStore{}
	f := &fakeFetcher{records: []RawRecord{fullRecord(1, "2024-01-01T00:00:00")}}
	svc := newTestService(f, newFakeStore(), runs)

	require.NoError(t, svc.Trigger(context.Background()))

	assert.Eventually(t, func() bool {
		runs.mu.Lock()
		defer runs.mu.Unlock()
		return len(runs.runs) == 1 && runs.runs[0].Success
	}, 2*time.Second, 10*time.Millisecond)

	// lock is released once the background run finishes
	assert.Eventually(t, func() bool {
		release, err := svc.locker.Acquire(context.Background(), JobName)
		if err != nil {
			return false
		}
		_ = release(context.Background())
		return true
	}, 2*time.Second, 10*time.Millisecond)
}

func TestService_TriggerRejectedWhileLocked(t *testing.T) {
	svc := newTestService(&fakeFetcher{}, newFakeStore(), &fakeRunStore{})

	release, err := svc.locker.Acquire(context.Background(), JobName)
	require.NoError(t, err)
	defer release(context.Background())

	assert.ErrorIs(t, svc.Trigger(context.Background()), ErrRunInProgress)
}
