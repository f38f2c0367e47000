package reporter

import (
	"context"
	"runtime"
)

// ConcurrencyLimiter is a channel semaphore bounding deliveries in flight.
type ConcurrencyLimiter struct {
	sem chan struct{}
}

// NewConcurrencyLimiter creates a limiter. A limit <= 0 defaults to
// runtime.NumCPU() * 4.
func NewConcurrencyLimiter(limit int) *ConcurrencyLimiter {
	if limit <= 0 {
		limit = runtime.NumCPU() * 4
	}
	return &ConcurrencyLimiter{sem: make(chan struct{}, limit)}
}

// TryAcquire takes a slot without blocking.
func (l *ConcurrencyLimiter) TryAcquire() bool {
	select {
	case l.sem <- struct{}{}:
		return true
	default:
		return false
	}
}

// AcquireContext blocks until a slot is free or ctx is done.
func (l *ConcurrencyLimiter) AcquireContext(ctx context.Context) error {
	select {
	case l.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Release returns a slot.
func (l *ConcurrencyLimiter) Release() {
	<-l.sem
}

// InUse returns the number of slots taken.
func (l *ConcurrencyLimiter) InUse() int {
	return len(l.sem)
}

// Limit returns the capacity.
func (l *ConcurrencyLimiter) Limit() int {
	return cap(l.sem)
}
