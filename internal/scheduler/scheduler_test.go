package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/i474232898/generation-mix/internal/generation"
)

type countingRunner struct {
	calls atomic.Int32
	err   error
}

func (r *countingRunner) RunOnce(context.Context) (generation.Metrics, error) {
	r.calls.Add(1)
	return generation.Metrics{}, r.err
}

func TestScheduler_RunsImmediately(t *testing.T) {
	runner := &countingRunner{}
	s := New(runner, time.Hour, time.Second, nil)

	require.NoError(t, s.Start())
	defer s.Stop()

	assert.Eventually(t, func() bool {
		return runner.calls.Load() >= 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestScheduler_SurvivesSkippedRuns(t *testing.T) {
	runner := &countingRunner{err: generation.ErrRunInProgress}
	s := New(runner, time.Second, 0, nil)

	require.NoError(t, s.Start())
	defer s.Stop()

	assert.Eventually(t, func() bool {
		return runner.calls.Load() >= 2
	}, 5*time.Second, 20*time.Millisecond)
}

func TestNew_DefaultsInterval(t *testing.T) {
	s := New(&countingRunner{}, 0, 0, nil)
	assert.Equal(t, defaultInterval, s.interval)
}
