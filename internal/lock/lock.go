// Package lock provides run-level mutual exclusion for pipeline jobs.
package lock

import (
	"context"
	"errors"
	"sync"
)

var (
	// ErrNotAcquired is returned when a lock is already held
	ErrNotAcquired = errors.New("lock not acquired")
	// ErrNotHeld is returned when releasing a lock that is no longer held
	ErrNotHeld = errors.New("lock not held")
)

// Local is an in-process, non-blocking lock keyed by job name.
type Local struct {
	mu   sync.Mutex
	held map[string]struct{}
}

// NewLocal creates a Local locker.
func NewLocal() *Local {
	return &Local{held: make(map[string]struct{})}
}

// Acquire takes the lock for key or fails immediately with ErrNotAcquired.
func (l *Local) Acquire(_ context.Context, key string) (func(context.Context) error, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.held[key]; ok {
		return nil, ErrNotAcquired
	}
	l.held[key] = struct{}{}

	var once sync.Once
	release := func(context.Context) error {
		err := ErrNotHeld
		once.Do(func() {
			l.mu.Lock()
			delete(l.held, key)
			l.mu.Unlock()
			err = nil
		})
		return err
	}
	return release, nil
}
