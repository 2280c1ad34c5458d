// Package engine wires configuration, users, metrics and thresholds into a run.
package engine

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/wesleyorama2/quizload/internal/config"
	"github.com/wesleyorama2/quizload/internal/performance"
	"github.com/wesleyorama2/quizload/internal/performance/executor"
	"github.com/wesleyorama2/quizload/internal/performance/metrics"
	"github.com/wesleyorama2/quizload/internal/quiz"
)

// Engine runs one load test against the quiz gateway.
//
// It coordinates:
//   - Configuration defaults and validation
//   - One quiz session per simulated user
//   - The user spawner and its scheduler
//   - Metrics collection, optional Prometheus export and threshold evaluation
//
// Example usage:
//
//	cfg, _ := config.LoadConfig("run.yaml")
//	eng, _ := engine.NewEngine(cfg, engine.Options{})
//	result, _ := eng.Run(ctx)
//	fmt.Printf("passed: %v\n", result.Passed)
type Engine struct {
	config        *config.Config
	sessionConfig quiz.Config
	httpConfig    performance.HTTPClientConfig

	logger   *zap.Logger
	exporter *metrics.PrometheusExporter
	runID    string

	metricsEngine *metrics.Engine
	recorder      metrics.Recorder
	executor      executor.Executor
	scheduler     *performance.VUScheduler

	mu        sync.RWMutex
	startTime time.Time
	running   bool
}

// Options carries the collaborators an Engine does not own.
type Options struct {
	// Logger for run and session events; nil disables logging
	Logger *zap.Logger

	// Exporter receives every sample in addition to the metrics engine
	Exporter *metrics.PrometheusExporter

	// RunID tags the run; a random UUID is used when empty
	RunID string
}

// TestResult contains the complete run results.
type TestResult struct {
	RunID     string        `json:"runId"`
	Name      string        `json:"name"`
	Host      string        `json:"host"`
	StartTime time.Time     `json:"startTime"`
	EndTime   time.Time     `json:"endTime"`
	Duration  time.Duration `json:"duration"`

	Users        int     `json:"users"`
	SpawnRate    float64 `json:"spawnRate"`
	SpawnedUsers int     `json:"spawnedUsers"`
	Iterations   int64   `json:"iterations"`

	// Aggregated metrics
	Metrics  *metrics.Snapshot      `json:"metrics"`
	Requests []metrics.RequestStats `json:"requests"`
	Failures []metrics.FailureStat  `json:"failures"`
	Phases   []metrics.PhaseChange  `json:"phases,omitempty"`

	// Threshold evaluation
	Passed     bool              `json:"passed"`
	Thresholds []ThresholdResult `json:"thresholds,omitempty"`

	// Error if the run aborted
	Error string `json:"error,omitempty"`
}

// ThresholdResult contains the result of a threshold evaluation.
type ThresholdResult struct {
	Metric    string `json:"metric"`
	Threshold string `json:"threshold"`
	Value     string `json:"value"`
	Passed    bool   `json:"passed"`
	Message   string `json:"message,omitempty"`
}

// NewEngine creates an engine for cfg. Defaults are applied to cfg in place.
func NewEngine(cfg *config.Config, opts Options) (*Engine, error) {
	config.ApplyDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	runID := opts.RunID
	if runID == "" {
		runID = uuid.NewString()
	}

	httpConfig := performance.DefaultHTTPClientConfig()
	httpConfig.Timeout = cfg.HTTP.Timeout.GetDuration(config.DefaultTimeout)
	httpConfig.MaxIdleConnsPerHost = cfg.HTTP.MaxIdleConnsPerHost
	httpConfig.MaxConnsPerHost = cfg.HTTP.MaxConnectionsPerHost
	httpConfig.InsecureSkipVerify = cfg.HTTP.InsecureSkipVerify
	httpConfig.UseSharedClient = !cfg.HTTP.NoConnectionReuse
	httpConfig.DisableKeepAlives = cfg.HTTP.NoConnectionReuse

	return &Engine{
		config:        cfg,
		sessionConfig: cfg.SessionConfig(),
		httpConfig:    httpConfig,
		logger:        logger.With(zap.String("run_id", runID)),
		exporter:      opts.Exporter,
		runID:         runID,
		metricsEngine: metrics.NewEngine(),
	}, nil
}

// Run executes the load test and returns its results.
//
// Cancelling ctx ends the run early; the result still covers everything
// recorded until then.
func (e *Engine) Run(ctx context.Context) (*TestResult, error) {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return nil, fmt.Errorf("engine is already running")
	}
	e.running = true
	e.startTime = time.Now()

	recorders := []metrics.Recorder{e.metricsEngine}
	var observers []executor.ActiveVUsObserver
	if e.exporter != nil {
		recorders = append(recorders, e.exporter)
		observers = append(observers, e.exporter)
	}
	e.recorder = metrics.Tee(recorders...)
	e.scheduler = performance.NewVUScheduler(e.newBehavior, e.httpConfig, e.logger)
	e.executor = executor.NewUserSpawner(observers...)
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		e.running = false
		e.mu.Unlock()
	}()

	execConfig := &executor.Config{
		Name:         e.config.Name,
		Type:         executor.TypeUserSpawner,
		VUs:          e.config.Users,
		SpawnRate:    e.config.SpawnRate,
		Duration:     time.Duration(e.config.Duration),
		GracefulStop: time.Duration(e.config.GracefulStop),
	}
	if err := e.executor.Init(ctx, execConfig); err != nil {
		return nil, fmt.Errorf("failed to initialize executor: %w", err)
	}

	e.logger.Info("run started",
		zap.String("executor", string(e.executor.Type())),
		zap.String("host", e.config.Host),
		zap.Int("users", e.config.Users),
		zap.Float64("spawn_rate", e.config.SpawnRate),
		zap.Duration("duration", time.Duration(e.config.Duration)),
		zap.Duration("ramp_up", execConfig.RampUpDuration()),
	)

	runErr := e.executor.Run(ctx, e.scheduler, e.metricsEngine)
	e.scheduler.Shutdown(time.Duration(e.config.GracefulStop))

	result := e.buildResult(runErr)

	fields := []zap.Field{
		zap.Int64("requests", result.Metrics.TotalRequests),
		zap.Int64("failures", result.Metrics.FailedRequests),
		zap.Duration("elapsed", result.Duration),
		zap.Bool("passed", result.Passed),
	}
	if runErr != nil {
		e.logger.Error("run aborted", append(fields, zap.Error(runErr))...)
		return result, runErr
	}
	e.logger.Info("run finished", fields...)
	return result, nil
}

// newBehavior builds the quiz session for user id.
func (e *Engine) newBehavior(id int, client *http.Client) (performance.Behavior, error) {
	var seed uint64
	if e.config.Seed != 0 {
		seed = e.config.Seed + uint64(id)
	}
	return quiz.NewSession(id, e.sessionConfig, client, e.recorder, quiz.NewRand(seed), e.logger)
}

func (e *Engine) buildResult(runErr error) *TestResult {
	snapshot := e.metricsEngine.GetSnapshot()
	stats := e.executor.GetStats()

	result := &TestResult{
		RunID:        e.runID,
		Name:         e.config.Name,
		Host:         e.config.Host,
		StartTime:    e.startTime,
		EndTime:      time.Now(),
		Duration:     time.Since(e.startTime),
		Users:        e.config.Users,
		SpawnRate:    e.config.SpawnRate,
		SpawnedUsers: stats.SpawnedVUs,
		Iterations:   stats.Iterations,
		Metrics:      snapshot,
		Requests:     e.metricsEngine.GetRequestStats(),
		Failures:     e.metricsEngine.GetFailures(),
		Phases:       e.metricsEngine.GetPhaseHistory(),
	}

	result.Thresholds = evaluateThresholds(e.config.Thresholds, snapshot)
	result.Passed = runErr == nil
	for _, tr := range result.Thresholds {
		if !tr.Passed {
			result.Passed = false
		}
	}
	if runErr != nil {
		result.Error = runErr.Error()
	}
	return result
}

// evaluateThresholds checks the configured limits against the final snapshot.
func evaluateThresholds(t *config.ThresholdsConfig, snapshot *metrics.Snapshot) []ThresholdResult {
	if t == nil {
		return nil
	}

	var results []ThresholdResult

	if t.MaxErrorRate != nil {
		limit := *t.MaxErrorRate
		r := ThresholdResult{
			Metric:    "error_rate",
			Threshold: fmt.Sprintf("<= %.4f", limit),
			Value:     fmt.Sprintf("%.4f", snapshot.ErrorRate),
			Passed:    snapshot.ErrorRate <= limit,
		}
		if !r.Passed {
			r.Message = fmt.Sprintf("error rate is %.4f, threshold: <= %.4f", snapshot.ErrorRate, limit)
		}
		results = append(results, r)
	}

	if t.MaxP95 > 0 {
		limit := time.Duration(t.MaxP95)
		p95 := snapshot.Latency.P95
		r := ThresholdResult{
			Metric:    "p95",
			Threshold: "<= " + limit.String(),
			Value:     p95.String(),
			Passed:    p95 <= limit,
		}
		if !r.Passed {
			r.Message = fmt.Sprintf("p95 is %s, threshold: <= %s", p95, limit)
		}
		results = append(results, r)
	}

	return results
}

// RunID returns the identifier attached to logs and results.
func (e *Engine) RunID() string {
	return e.runID
}

// GetConfig returns the run configuration with defaults applied.
func (e *Engine) GetConfig() *config.Config {
	return e.config
}

// GetMetrics returns the current metrics snapshot.
func (e *Engine) GetMetrics() *metrics.Snapshot {
	return e.metricsEngine.GetSnapshot()
}

// GetRequestStats returns the current per-action statistics.
func (e *Engine) GetRequestStats() []metrics.RequestStats {
	return e.metricsEngine.GetRequestStats()
}

// GetStats returns the spawner statistics, nil before Run.
func (e *Engine) GetStats() *executor.Stats {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.executor == nil {
		return nil
	}
	return e.executor.GetStats()
}

// GetProgress returns the run progress (0.0 to 1.0).
func (e *Engine) GetProgress() float64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.executor == nil {
		return 0.0
	}
	return e.executor.GetProgress()
}

// IsRunning returns true if the engine is currently running.
func (e *Engine) IsRunning() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.running
}

// Stop ends a running test early.
func (e *Engine) Stop(ctx context.Context) error {
	e.mu.RLock()
	exec := e.executor
	running := e.running
	e.mu.RUnlock()

	if !running || exec == nil {
		return nil
	}
	return exec.Stop(ctx)
}
