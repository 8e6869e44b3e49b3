package httputil

import (
	"context"
	"sync/atomic"
)

// Semaphore limits concurrent operations. The pipeline uses one to bound
// in-flight model-assisted calls so a burst of escalations cannot pile up
// goroutines against a slow provider.
type Semaphore struct {
	sem     chan struct{}
	dropped atomic.Int64
}

// NewSemaphore creates a semaphore with the given capacity.
func NewSemaphore(capacity int) *Semaphore {
	if capacity <= 0 {
		capacity = 100
	}
	return &Semaphore{
		sem: make(chan struct{}, capacity),
	}
}

// TryAcquire attempts to acquire a slot without blocking.
// Returns false if at capacity; use for fire-and-forget operations
// where dropping is acceptable (e.g. audit sink writes).
func (s *Semaphore) TryAcquire() bool {
	select {
	case s.sem <- struct{}{}:
		return true
	default:
		s.dropped.Add(1)
		return false
	}
}

// Acquire blocks until a slot is available or the context is cancelled.
func (s *Semaphore) Acquire(ctx context.Context) error {
	select {
	case s.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Release returns a slot to the semaphore.
func (s *Semaphore) Release() {
	select {
	case <-s.sem:
	default:
		// Release without Acquire is a programming error; ignore rather than block.
	}
}

// Dropped returns the number of TryAcquire calls rejected at capacity.
func (s *Semaphore) Dropped() int64 {
	return s.dropped.Load()
}

// InFlight returns the current number of held slots.
func (s *Semaphore) InFlight() int {
	return len(s.sem)
}
