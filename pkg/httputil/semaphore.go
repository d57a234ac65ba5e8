package httputil

import (
	"context"
	"sync/atomic"
)

// Semaphore bounds concurrent forwards so a slow upstream cannot pile up
// goroutines inside the gateway. Rejections are counted for /stats.
type Semaphore struct {
	slots    chan struct{}
	rejected atomic.Int64
}

// NewSemaphore creates a semaphore admitting at most capacity holders.
func NewSemaphore(capacity int) *Semaphore {
	if capacity <= 0 {
		capacity = 100
	}
	return &Semaphore{slots: make(chan struct{}, capacity)}
}

// TryAcquire takes a slot without blocking. A false return means the caller
// should shed the request (the rejection is counted).
func (s *Semaphore) TryAcquire() bool {
	select {
	case s.slots <- struct{}{}:
		return true
	default:
		s.rejected.Add(1)
		return false
	}
}

// Acquire blocks for a slot until the context is cancelled.
func (s *Semaphore) Acquire(ctx context.Context) error {
	select {
	case s.slots <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Release returns a slot. Pair with every successful acquire.
func (s *Semaphore) Release() {
	select {
	case <-s.slots:
	default:
		// release without acquire; ignore
	}
}

// Rejected returns how many acquisitions were shed at capacity.
func (s *Semaphore) Rejected() int64 {
	return s.rejected.Load()
}

// InUse returns the number of held slots.
func (s *Semaphore) InUse() int {
	return len(s.slots)
}

// Capacity returns the admission limit.
func (s *Semaphore) Capacity() int {
	return cap(s.slots)
}
