// Package rate paces the spawning of simulated users.
package rate

import (
	"context"
	"sync"
	"time"
)

// LeakyBucket hands out start times at a fixed rate.
//
// The bucket starts full, so the first call to Next returns immediately and
// later calls are spaced 1/rate seconds apart. A caller that falls behind
// schedule gets at most one immediate slot, never a burst.
//
// # Thread Safety
//
// LeakyBucket is safe for concurrent use from multiple goroutines.
type LeakyBucket struct {
	rate        float64
	lastDrip    time.Time
	accumulated float64
	mu          sync.Mutex
}

// NewLeakyBucket creates a bucket that releases rate slots per second.
// Non-positive rates fall back to 1.
func NewLeakyBucket(rate float64) *LeakyBucket {
	if rate <= 0 {
		rate = 1.0
	}
	return &LeakyBucket{
		rate:        rate,
		lastDrip:    time.Now(),
		accumulated: 1.0,
	}
}

// Next reserves the next slot and returns when it opens.
// The returned time may be in the past, meaning "go now".
func (lb *LeakyBucket) Next() time.Time {
	lb.mu.Lock()
	defer lb.mu.Unlock()

	now := time.Now()
	elapsed := now.Sub(lb.lastDrip).Seconds()
	if elapsed < 0 {
		elapsed = 0
	}

	lb.accumulated += elapsed * lb.rate
	if lb.accumulated > 1.0 {
		lb.accumulated = 1.0
	}

	if lb.accumulated >= 1.0 {
		lb.accumulated -= 1.0
		lb.lastDrip = now
		return now
	}

	deficit := 1.0 - lb.accumulated
	next := now.Add(time.Duration(deficit / lb.rate * float64(time.Second)))
	lb.accumulated = 0
	// lastDrip moves to the reserved slot so sleeping until it does not
	// earn a second slot.
	lb.lastDrip = next
	return next
}

// Wait blocks until the next slot opens or ctx is done.
func (lb *LeakyBucket) Wait(ctx context.Context) error {
	d := time.Until(lb.Next())
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
