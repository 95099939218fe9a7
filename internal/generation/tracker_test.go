package generation

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunTracked_RecordsSuccess(t *testing.T) {
	runs := &fakeRunStore{}

	m, err := RunTracked(context.Background(), runs, func(context.Context) (Metrics, error) {
		require.Len(t, runs.runs, 1)
		assert.True(t, runs.runs[0].InProgress())
		return Metrics{TotalFetched: 5, ValidRecords: 4, LastFetchedID: 99}, nil
	}, nil)

	require.NoError(t, err)
	assert.Equal(t, 4, m.ValidRecords)

	run := runs.last()
	assert.True(t, run.Success)
	require.NotNil(t, run.RunStop)
	assert.False(t, run.RunStop.Before(run.RunStart))
	require.NotNil(t, run.LastFetchedID)
	assert.Equal(t, int64(99), *run.LastFetchedID)
	assert.Equal(t, 5, run.TotalFetched)
	assert.Equal(t, 4, run.ValidRecords)
	assert.Nil(t, run.ErrorMessage)
}

func TestRunTracked_RecordsFailureAndReturnsError(t *testing.T) {
	runs := &fakeRunStore{}
	boom := errors.New("upstream exploded")

	_, err := RunTracked(context.Background(), runs, func(context.Context) (Metrics, error) {
		return Metrics{TotalFetched: 3}, boom
	}, nil)

	assert.ErrorIs(t, err, boom)

	run := runs.last()
	assert.False(t, run.Success)
	require.NotNil(t, run.RunStop)
	require.NotNil(t, run.ErrorMessage)
	assert.Equal(t, "upstream exploded", *run.ErrorMessage)
	assert.Nil(t, run.LastFetchedID)
	assert.Equal(t, 0, run.TotalFetched)
}

func TestRunTracked_FinalisesAfterCancellation(t *testing.T) {
	runs := &fakeRunStore{}
	ctx, cancel := context.WithCancel(context.Background())

	_, err := RunTracked(ctx, runs, func(ctx context.Context) (Metrics, error) {
		cancel()
		return Metrics{}, ctx.Err()
	}, nil)

	assert.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, runs.finishCtx)
	assert.NoError(t, runs.finishCtx.Err())
	assert.NotNil(t, runs.last().RunStop)
}

func TestRunTracked_FinaliseErrorSurfacesOnSuccess(t *testing.T) {
	finishErr := errors.New("disk full")
	runs := &fakeRunStore{finishErr: finishErr}

	_, err := RunTracked(context.Background(), runs, func(context.Context) (Metrics, error) {
		return Metrics{}, nil
	}, nil)

	assert.ErrorIs(t, err, finishErr)
}

func TestRunTracked_FinaliseErrorDoesNotMaskRunError(t *testing.T) {
	runs := &fakeRunStore{finishErr: errors.New("disk full")}
	boom := errors.New("boom")

	_, err := RunTracked(context.Background(), runs, func(context.Context) (Metrics, error) {
		return Metrics{}, boom
	}, nil)

	assert.ErrorIs(t, err, boom)
}
