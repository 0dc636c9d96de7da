package ledger

import (
	"context"
	"sync"
	"time"
)

// lockRegistry hands out one lock per (user, league) portfolio. Each lock is
// a one-slot semaphore so acquisition can be bounded by a timer; sync.Mutex
// cannot be waited on with a deadline.
type lockRegistry struct {
	mu    sync.Mutex
	locks map[string]chan struct{}
}

func newLockRegistry() *lockRegistry {
	return &lockRegistry{locks: make(map[string]chan struct{})}
}

func (r *lockRegistry) get(key string) chan struct{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.locks[key]
	if !ok {
		l = make(chan struct{}, 1)
		r.locks[key] = l
	}
	return l
}

// acquire takes the portfolio lock, waiting at most wait. It returns ErrBusy
// on timeout so contended requests fail fast instead of queueing without
// bound, and the context error if the request is cancelled first.
func (r *lockRegistry) acquire(ctx context.Context, key string, wait time.Duration) (release func(), err error) {
	l := r.get(key)

	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case l <- struct{}{}:
		return func() { <-l }, nil
	case <-timer.C:
		return nil, ErrBusy
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
