package executor

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/wesleyorama2/quizload/internal/performance"
	"github.com/wesleyorama2/quizload/internal/performance/metrics"
	"github.com/wesleyorama2/quizload/internal/performance/rate"
)

// UserSpawner starts VUs users at SpawnRate users per second and lets each
// one loop (iteration, wait) until the duration expires or ctx ends.
//
// This is a closed model: load is governed by the number of users and their
// wait time, not by a target request rate.
type UserSpawner struct {
	config    *Config
	scheduler *performance.VUScheduler
	metrics   *metrics.Engine
	observers []ActiveVUsObserver

	// State
	startTime  time.Time
	activeVUs  atomic.Int32
	spawnedVUs atomic.Int32
	iterations atomic.Int64
	running    atomic.Bool

	// Cancellation
	cancelFunc context.CancelFunc
	doneCh     chan struct{} // closed when Run returns
	wg         sync.WaitGroup

	mu sync.RWMutex
}

// NewUserSpawner creates a new user spawner. Observers receive the active
// user count in addition to the metrics engine.
func NewUserSpawner(observers ...ActiveVUsObserver) *UserSpawner {
	return &UserSpawner{observers: observers}
}

// Type returns the executor type.
func (e *UserSpawner) Type() Type {
	return TypeUserSpawner
}

// Init initializes the executor with configuration.
func (e *UserSpawner) Init(_ context.Context, config *Config) error {
	if config.Type != TypeUserSpawner {
		return fmt.Errorf("invalid config type: expected %s, got %s", TypeUserSpawner, config.Type)
	}

	if err := config.Validate(); err != nil {
		return err
	}

	e.config = config
	return nil
}

// Run spawns the users and blocks until every one of them has exited.
func (e *UserSpawner) Run(ctx context.Context, scheduler *performance.VUScheduler, metricsEngine *metrics.Engine) error {
	if e.config == nil {
		return fmt.Errorf("executor not initialized")
	}

	e.mu.Lock()
	e.scheduler = scheduler
	e.metrics = metricsEngine
	e.startTime = time.Now()

	var runCtx context.Context
	var cancel context.CancelFunc
	if e.config.Duration > 0 {
		runCtx, cancel = context.WithTimeout(ctx, e.config.Duration)
	} else {
		runCtx, cancel = context.WithCancel(ctx)
	}
	e.cancelFunc = cancel
	done := make(chan struct{})
	e.doneCh = done
	e.mu.Unlock()
	defer close(done)
	defer cancel()

	e.running.Store(true)
	defer e.running.Store(false)

	e.metrics.SetPhase(metrics.PhaseRampUp)

	spawnErr := e.spawnAll(runCtx, scheduler)
	if spawnErr != nil {
		cancel()
	} else if runCtx.Err() == nil {
		e.metrics.SetPhase(metrics.PhaseSteady)
	}

	<-runCtx.Done()
	e.wg.Wait()

	e.metrics.SetPhase(metrics.PhaseDone)
	return spawnErr
}

// spawnAll starts users paced by a leaky bucket until VUs are running or
// ctx ends.
func (e *UserSpawner) spawnAll(ctx context.Context, scheduler *performance.VUScheduler) error {
	bucket := rate.NewLeakyBucket(e.config.SpawnRate)

	for i := 0; i < e.config.VUs; i++ {
		if err := bucket.Wait(ctx); err != nil {
			return nil
		}

		vu, err := scheduler.SpawnVU()
		if err != nil {
			return err
		}
		e.spawnedVUs.Add(1)

		e.wg.Add(1)
		go e.runVU(ctx, vu)
	}
	return nil
}

// runVU runs a single VU until the context is cancelled.
func (e *UserSpawner) runVU(ctx context.Context, vu *performance.VirtualUser) {
	defer e.wg.Done()

	e.setActive(e.activeVUs.Add(1))
	defer func() {
		e.setActive(e.activeVUs.Add(-1))
	}()

	e.scheduler.RunVU(ctx, vu, func() {
		e.iterations.Add(1)
	})
}

func (e *UserSpawner) setActive(n int32) {
	e.metrics.SetActiveVUs(int(n))
	for _, o := range e.observers {
		o.SetActiveVUs(int(n))
	}
}

// GetProgress returns current progress (0.0 to 1.0).
// Runs without a duration report 0 until they finish.
func (e *UserSpawner) GetProgress() float64 {
	e.mu.RLock()
	start := e.startTime
	e.mu.RUnlock()

	if !e.running.Load() {
		if start.IsZero() {
			return 0.0
		}
		return 1.0
	}
	if e.config.Duration <= 0 {
		return 0.0
	}

	progress := float64(time.Since(start)) / float64(e.config.Duration)
	if progress > 1.0 {
		progress = 1.0
	}
	return progress
}

// GetActiveVUs returns current active VU count.
func (e *UserSpawner) GetActiveVUs() int {
	return int(e.activeVUs.Load())
}

// GetStats returns executor statistics.
func (e *UserSpawner) GetStats() *Stats {
	e.mu.RLock()
	defer e.mu.RUnlock()

	var elapsed time.Duration
	if !e.startTime.IsZero() {
		elapsed = time.Since(e.startTime)
	}

	stats := &Stats{
		StartTime:   e.startTime,
		CurrentTime: time.Now(),
		Elapsed:     elapsed,
		ActiveVUs:   int(e.activeVUs.Load()),
		SpawnedVUs:  int(e.spawnedVUs.Load()),
		Iterations:  e.iterations.Load(),
	}
	if e.config != nil {
		stats.TotalDuration = e.config.Duration
		stats.TargetVUs = e.config.VUs
	}
	return stats
}

// Stop cancels the run and waits for Run to return.
func (e *UserSpawner) Stop(ctx context.Context) error {
	e.mu.RLock()
	cancel := e.cancelFunc
	done := e.doneCh
	e.mu.RUnlock()
	if cancel == nil {
		return nil
	}
	cancel()

	graceful := 30 * time.Second
	if e.config != nil && e.config.GracefulStop > 0 {
		graceful = e.config.GracefulStop
	}

	select {
	case <-done:
		return nil
	case <-time.After(graceful):
		return fmt.Errorf("graceful stop timeout after %v", graceful)
	case <-ctx.Done():
		return ctx.Err()
	}
}

var _ Executor = (*UserSpawner)(nil)
