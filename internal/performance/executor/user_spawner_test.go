package executor_test

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wesleyorama2/quizload/internal/performance"
	"github.com/wesleyorama2/quizload/internal/performance/executor"
	"github.com/wesleyorama2/quizload/internal/performance/metrics"
)

// orderBehavior fails the test run if an iteration precedes the start hook.
type orderBehavior struct {
	started     atomic.Bool
	startCalls  atomic.Int32
	iterations  atomic.Int64
	outOfOrder  atomic.Bool
	waitTime    time.Duration
	iterationFn func(ctx context.Context) error
}

func (b *orderBehavior) OnStart(context.Context) {
	b.startCalls.Add(1)
	b.started.Store(true)
}

func (b *orderBehavior) RunIteration(ctx context.Context) error {
	if !b.started.Load() {
		b.outOfOrder.Store(true)
	}
	b.iterations.Add(1)
	if b.iterationFn != nil {
		return b.iterationFn(ctx)
	}
	return nil
}

func (b *orderBehavior) WaitTime() time.Duration { return b.waitTime }

type behaviorRegistry struct {
	mu        sync.Mutex
	behaviors []*orderBehavior
	wait      time.Duration
}

func (r *behaviorRegistry) factory(int, *http.Client) (performance.Behavior, error) {
	b := &orderBehavior{waitTime: r.wait}
	r.mu.Lock()
	r.behaviors = append(r.behaviors, b)
	r.mu.Unlock()
	return b, nil
}

func (r *behaviorRegistry) all() []*orderBehavior {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*orderBehavior(nil), r.behaviors...)
}

type gauge struct {
	mu   sync.Mutex
	max  int
	last int
}

func (g *gauge) SetActiveVUs(n int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.last = n
	if n > g.max {
		g.max = n
	}
}

func TestUserSpawner_Type(t *testing.T) {
	e := executor.NewUserSpawner()
	assert.Equal(t, executor.TypeUserSpawner, e.Type())
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		config  executor.Config
		wantErr string
	}{
		{"valid", executor.Config{Type: executor.TypeUserSpawner, VUs: 3, SpawnRate: 1, Duration: time.Minute}, ""},
		{"no duration", executor.Config{Type: executor.TypeUserSpawner, VUs: 3, SpawnRate: 1}, ""},
		{"missing type", executor.Config{VUs: 3, SpawnRate: 1}, "type"},
		{"unknown type", executor.Config{Type: "ramping-vus", VUs: 3, SpawnRate: 1}, "type"},
		{"zero vus", executor.Config{Type: executor.TypeUserSpawner, SpawnRate: 1}, "vus"},
		{"zero spawn rate", executor.Config{Type: executor.TypeUserSpawner, VUs: 1}, "spawnRate"},
		{"negative duration", executor.Config{Type: executor.TypeUserSpawner, VUs: 1, SpawnRate: 1, Duration: -time.Second}, "duration"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			var verr *executor.ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tt.wantErr, verr.Field)
		})
	}
}

func TestConfig_RampUpDuration(t *testing.T) {
	c := executor.Config{VUs: 11, SpawnRate: 2}
	assert.Equal(t, 5*time.Second, c.RampUpDuration())

	c = executor.Config{VUs: 1, SpawnRate: 2}
	assert.Zero(t, c.RampUpDuration())
}

func TestUserSpawner_Init_WrongType(t *testing.T) {
	e := executor.NewUserSpawner()
	err := e.Init(context.Background(), &executor.Config{Type: "constant-arrival-rate", VUs: 1, SpawnRate: 1})
	assert.Error(t, err)
}

func TestUserSpawner_Run_NotInitialized(t *testing.T) {
	reg := &behaviorRegistry{}
	scheduler := performance.NewVUScheduler(reg.factory, performance.DefaultHTTPClientConfig(), nil)
	defer scheduler.Shutdown(time.Second)

	e := executor.NewUserSpawner()
	assert.Error(t, e.Run(context.Background(), scheduler, metrics.NewEngine()))
}

func TestUserSpawner_StartsExactlyNUsers(t *testing.T) {
	reg := &behaviorRegistry{wait: 5 * time.Millisecond}
	scheduler := performance.NewVUScheduler(reg.factory, performance.DefaultHTTPClientConfig(), nil)
	defer scheduler.Shutdown(time.Second)

	g := &gauge{}
	e := executor.NewUserSpawner(g)
	require.NoError(t, e.Init(context.Background(), &executor.Config{
		Type:      executor.TypeUserSpawner,
		VUs:       5,
		SpawnRate: 100,
		Duration:  300 * time.Millisecond,
	}))

	engine := metrics.NewEngine()
	require.NoError(t, e.Run(context.Background(), scheduler, engine))

	behaviors := reg.all()
	require.Len(t, behaviors, 5)
	for i, b := range behaviors {
		assert.Equal(t, int32(1), b.startCalls.Load(), "user %d start hook calls", i)
		assert.False(t, b.outOfOrder.Load(), "user %d iterated before start hook", i)
		assert.Positive(t, b.iterations.Load(), "user %d never iterated", i)
	}

	stats := e.GetStats()
	assert.Equal(t, 5, stats.SpawnedVUs)
	assert.Equal(t, 5, stats.TargetVUs)
	assert.Equal(t, 0, stats.ActiveVUs)
	assert.Positive(t, stats.Iterations)

	assert.Equal(t, 5, g.max)
	assert.Equal(t, 0, g.last)
	assert.Equal(t, 0, engine.GetActiveVUs())
	assert.Equal(t, metrics.PhaseDone, engine.GetPhase())
	assert.Equal(t, 1.0, e.GetProgress())

	var phases []metrics.Phase
	for _, pc := range engine.GetPhaseHistory() {
		phases = append(phases, pc.Phase)
	}
	assert.Equal(t, []metrics.Phase{metrics.PhaseRampUp, metrics.PhaseSteady, metrics.PhaseDone}, phases)
}

func TestUserSpawner_SpawnRatePacesUsers(t *testing.T) {
	reg := &behaviorRegistry{wait: 10 * time.Millisecond}
	scheduler := performance.NewVUScheduler(reg.factory, performance.DefaultHTTPClientConfig(), nil)
	defer scheduler.Shutdown(time.Second)

	e := executor.NewUserSpawner()
	require.NoError(t, e.Init(context.Background(), &executor.Config{
		Type:      executor.TypeUserSpawner,
		VUs:       10,
		SpawnRate: 10,
		Duration:  250 * time.Millisecond,
	}))

	require.NoError(t, e.Run(context.Background(), scheduler, metrics.NewEngine()))

	// 10 users at 10/s need ~900ms; only the first few fit in 250ms.
	spawned := e.GetStats().SpawnedVUs
	assert.GreaterOrEqual(t, spawned, 2)
	assert.LessOrEqual(t, spawned, 4)
}

func TestUserSpawner_ContextCancel(t *testing.T) {
	reg := &behaviorRegistry{wait: time.Hour}
	scheduler := performance.NewVUScheduler(reg.factory, performance.DefaultHTTPClientConfig(), nil)
	defer scheduler.Shutdown(time.Second)

	e := executor.NewUserSpawner()
	require.NoError(t, e.Init(context.Background(), &executor.Config{
		Type:      executor.TypeUserSpawner,
		VUs:       3,
		SpawnRate: 1000,
	}))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- e.Run(ctx, scheduler, metrics.NewEngine())
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancellation")
	}

	// A one hour wait must not delay shutdown, and each user iterated once.
	for _, b := range reg.all() {
		assert.Equal(t, int64(1), b.iterations.Load())
	}
}

func TestUserSpawner_FactoryError(t *testing.T) {
	boom := errors.New("boom")
	calls := 0
	factory := func(int, *http.Client) (performance.Behavior, error) {
		calls++
		if calls == 2 {
			return nil, boom
		}
		return &orderBehavior{waitTime: time.Millisecond}, nil
	}
	scheduler := performance.NewVUScheduler(factory, performance.DefaultHTTPClientConfig(), nil)
	defer scheduler.Shutdown(time.Second)

	e := executor.NewUserSpawner()
	require.NoError(t, e.Init(context.Background(), &executor.Config{
		Type:      executor.TypeUserSpawner,
		VUs:       3,
		SpawnRate: 1000,
		Duration:  time.Minute,
	}))

	start := time.Now()
	err := e.Run(context.Background(), scheduler, metrics.NewEngine())
	assert.ErrorIs(t, err, boom)
	assert.Less(t, time.Since(start), 5*time.Second)
	assert.Equal(t, 1, e.GetStats().SpawnedVUs)
}

func TestUserSpawner_Stop(t *testing.T) {
	reg := &behaviorRegistry{wait: 10 * time.Millisecond}
	scheduler := performance.NewVUScheduler(reg.factory, performance.DefaultHTTPClientConfig(), nil)
	defer scheduler.Shutdown(time.Second)

	e := executor.NewUserSpawner()
	require.NoError(t, e.Init(context.Background(), &executor.Config{
		Type:      executor.TypeUserSpawner,
		VUs:       2,
		SpawnRate: 1000,
		Duration:  time.Minute,
	}))

	done := make(chan error, 1)
	go func() {
		done <- e.Run(context.Background(), scheduler, metrics.NewEngine())
	}()

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 2, e.GetActiveVUs())
	assert.Less(t, e.GetProgress(), 1.0)

	require.NoError(t, e.Stop(context.Background()))

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after Stop")
	}
}

func TestUserSpawner_StopBeforeRun(t *testing.T) {
	e := executor.NewUserSpawner()
	assert.NoError(t, e.Stop(context.Background()))
}
