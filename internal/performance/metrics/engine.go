// Package metrics aggregates per-action request statistics for a load run.
package metrics

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"
)

// Phase is the coarse state of a run.
type Phase string

const (
	PhaseInit   Phase = "init"
	PhaseRampUp Phase = "ramp-up"
	PhaseSteady Phase = "steady"
	PhaseDone   Phase = "done"
)

// Engine collects and aggregates performance metrics using HDR histograms.
//
// Samples are grouped by request name (the action label), so statistics
// never depend on the concrete URL.
//
// # Thread Safety
//
// Engine is safe for concurrent use. Counters use atomic operations and
// histograms use mutex protection.
type Engine struct {
	// HDR Histogram for latency measurement
	// Range: 1 microsecond to 1 hour, 3 significant figures
	latencyHist   *hdrhistogram.Histogram
	latencyHistMu sync.Mutex

	// Per-request-name statistics
	requests   map[string]*requestStats
	requestsMu sync.Mutex

	// Failure reason tally keyed by request name and reason
	failures   map[FailureKey]int64
	failuresMu sync.Mutex

	// Atomic counters for lock-free updates
	totalRequests   atomic.Int64
	successRequests atomic.Int64
	failedRequests  atomic.Int64
	totalBytes      atomic.Int64

	activeVUs atomic.Int32

	currentPhase Phase
	phaseMu      sync.RWMutex
	phaseHistory []PhaseChange

	startTime time.Time

	config EngineConfig
}

type requestStats struct {
	hist     *hdrhistogram.Histogram
	requests int64
	failures int64
	bytes    int64
}

// EngineConfig contains configuration for the metrics engine.
type EngineConfig struct {
	// HistogramMin is the minimum recordable value in microseconds (default: 1)
	HistogramMin int64

	// HistogramMax is the maximum recordable value in microseconds (default: 3600000000 = 1 hour)
	HistogramMax int64

	// HistogramSigFigs is the number of significant figures (default: 3)
	HistogramSigFigs int
}

// DefaultEngineConfig returns the default configuration.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		HistogramMin:     1,
		HistogramMax:     3600000000, // 1 hour in microseconds
		HistogramSigFigs: 3,
	}
}

// PhaseChange records when a phase transition occurred.
type PhaseChange struct {
	Phase     Phase     `json:"phase"`
	Timestamp time.Time `json:"timestamp"`
	Requests  int64     `json:"requests"`
}

// FailureKey identifies one kind of failure.
type FailureKey struct {
	Name   string
	Reason string
}

// FailureStat is one row of the failure tally.
type FailureStat struct {
	Name        string `json:"name"`
	Reason      string `json:"reason"`
	Occurrences int64  `json:"occurrences"`
}

// NewEngine creates a new metrics engine with default configuration.
func NewEngine() *Engine {
	return NewEngineWithConfig(DefaultEngineConfig())
}

// NewEngineWithConfig creates a new metrics engine with custom configuration.
func NewEngineWithConfig(config EngineConfig) *Engine {
	return &Engine{
		latencyHist:  hdrhistogram.New(config.HistogramMin, config.HistogramMax, config.HistogramSigFigs),
		requests:     make(map[string]*requestStats),
		failures:     make(map[FailureKey]int64),
		currentPhase: PhaseInit,
		startTime:    time.Now(),
		config:       config,
	}
}

// RecordLatency records a request latency.
//
// Parameters:
//   - duration: The request latency
//   - requestName: Label for per-request breakdown (empty string to skip)
//   - success: Whether the request succeeded
//   - bytes: Number of bytes received
func (e *Engine) RecordLatency(duration time.Duration, requestName string, success bool, bytes int64) {
	latencyMicros := e.clamp(duration.Microseconds())

	e.latencyHistMu.Lock()
	_ = e.latencyHist.RecordValue(latencyMicros)
	e.latencyHistMu.Unlock()

	if requestName != "" {
		e.recordRequest(requestName, latencyMicros, success, bytes)
	}

	e.totalRequests.Add(1)
	e.totalBytes.Add(bytes)

	if success {
		e.successRequests.Add(1)
	} else {
		e.failedRequests.Add(1)
	}
}

// RecordFailure tallies a failure reason for a request name.
func (e *Engine) RecordFailure(requestName, reason string) {
	e.failuresMu.Lock()
	defer e.failuresMu.Unlock()
	e.failures[FailureKey{Name: requestName, Reason: reason}]++
}

// recordRequest records a sample in the per-request statistics.
// NOTE: HDR histogram RecordValue is NOT thread-safe, so we must hold a lock.
func (e *Engine) recordRequest(name string, latencyMicros int64, success bool, bytes int64) {
	e.requestsMu.Lock()
	defer e.requestsMu.Unlock()

	stats, exists := e.requests[name]
	if !exists {
		stats = &requestStats{
			hist: hdrhistogram.New(e.config.HistogramMin, e.config.HistogramMax, e.config.HistogramSigFigs),
		}
		e.requests[name] = stats
	}

	_ = stats.hist.RecordValue(latencyMicros)
	stats.requests++
	stats.bytes += bytes
	if !success {
		stats.failures++
	}
}

func (e *Engine) clamp(v int64) int64 {
	if v < e.config.HistogramMin {
		return e.config.HistogramMin
	}
	if v > e.config.HistogramMax {
		return e.config.HistogramMax
	}
	return v
}

// SetPhase updates the current test phase.
func (e *Engine) SetPhase(phase Phase) {
	e.phaseMu.Lock()
	defer e.phaseMu.Unlock()

	if e.currentPhase == phase {
		return
	}

	e.currentPhase = phase
	e.phaseHistory = append(e.phaseHistory, PhaseChange{
		Phase:     phase,
		Timestamp: time.Now(),
		Requests:  e.totalRequests.Load(),
	})
}

// GetPhase returns the current test phase.
func (e *Engine) GetPhase() Phase {
	e.phaseMu.RLock()
	defer e.phaseMu.RUnlock()
	return e.currentPhase
}

// GetPhaseHistory returns the history of phase changes.
func (e *Engine) GetPhaseHistory() []PhaseChange {
	e.phaseMu.RLock()
	defer e.phaseMu.RUnlock()

	result := make([]PhaseChange, len(e.phaseHistory))
	copy(result, e.phaseHistory)
	return result
}

// SetActiveVUs updates the active VU count.
func (e *Engine) SetActiveVUs(count int) {
	e.activeVUs.Store(int32(count))
}

// GetActiveVUs returns the current active VU count.
func (e *Engine) GetActiveVUs() int {
	return int(e.activeVUs.Load())
}

// GetSnapshot returns a point-in-time snapshot of the overall metrics.
func (e *Engine) GetSnapshot() *Snapshot {
	e.latencyHistMu.Lock()
	latencyStats := latencyFromHistogram(e.latencyHist)
	e.latencyHistMu.Unlock()

	elapsed := time.Since(e.startTime)
	totalReqs := e.totalRequests.Load()
	failedReqs := e.failedRequests.Load()

	rps := 0.0
	if elapsed.Seconds() > 0 {
		rps = float64(totalReqs) / elapsed.Seconds()
	}

	errorRate := 0.0
	if totalReqs > 0 {
		errorRate = float64(failedReqs) / float64(totalReqs)
	}

	return &Snapshot{
		TotalRequests:   totalReqs,
		SuccessRequests: e.successRequests.Load(),
		FailedRequests:  failedReqs,
		TotalBytes:      e.totalBytes.Load(),
		Latency:         latencyStats,
		RPS:             rps,
		ErrorRate:       errorRate,
		ActiveVUs:       e.GetActiveVUs(),
		CurrentPhase:    e.GetPhase(),
		Elapsed:         elapsed,
		StartTime:       e.startTime,
		Timestamp:       time.Now(),
	}
}

// GetRequestStats returns per-request statistics sorted by name.
func (e *Engine) GetRequestStats() []RequestStats {
	elapsed := time.Since(e.startTime).Seconds()

	e.requestsMu.Lock()
	result := make([]RequestStats, 0, len(e.requests))
	for name, stats := range e.requests {
		rps := 0.0
		if elapsed > 0 {
			rps = float64(stats.requests) / elapsed
		}
		result = append(result, RequestStats{
			Name:     name,
			Requests: stats.requests,
			Failures: stats.failures,
			Bytes:    stats.bytes,
			RPS:      rps,
			Latency:  latencyFromHistogram(stats.hist),
		})
	}
	e.requestsMu.Unlock()

	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result
}

// GetFailures returns the failure tally, most frequent first.
func (e *Engine) GetFailures() []FailureStat {
	e.failuresMu.Lock()
	result := make([]FailureStat, 0, len(e.failures))
	for key, n := range e.failures {
		result = append(result, FailureStat{Name: key.Name, Reason: key.Reason, Occurrences: n})
	}
	e.failuresMu.Unlock()

	sort.Slice(result, func(i, j int) bool {
		if result[i].Occurrences != result[j].Occurrences {
			return result[i].Occurrences > result[j].Occurrences
		}
		if result[i].Name != result[j].Name {
			return result[i].Name < result[j].Name
		}
		return result[i].Reason < result[j].Reason
	})
	return result
}

func latencyFromHistogram(h *hdrhistogram.Histogram) LatencyStats {
	return LatencyStats{
		Min:    time.Duration(h.Min()) * time.Microsecond,
		Max:    time.Duration(h.Max()) * time.Microsecond,
		Mean:   time.Duration(h.Mean()) * time.Microsecond,
		StdDev: time.Duration(h.StdDev()) * time.Microsecond,
		P50:    time.Duration(h.ValueAtQuantile(50)) * time.Microsecond,
		P90:    time.Duration(h.ValueAtQuantile(90)) * time.Microsecond,
		P95:    time.Duration(h.ValueAtQuantile(95)) * time.Microsecond,
		P99:    time.Duration(h.ValueAtQuantile(99)) * time.Microsecond,
		Count:  h.TotalCount(),
	}
}

// Snapshot contains a point-in-time view of the overall metrics.
type Snapshot struct {
	TotalRequests   int64         `json:"totalRequests"`
	SuccessRequests int64         `json:"successRequests"`
	FailedRequests  int64         `json:"failedRequests"`
	TotalBytes      int64         `json:"totalBytes"`
	Latency         LatencyStats  `json:"latency"`
	RPS             float64       `json:"rps"`
	ErrorRate       float64       `json:"errorRate"`
	ActiveVUs       int           `json:"activeVUs"`
	CurrentPhase    Phase         `json:"currentPhase"`
	Elapsed         time.Duration `json:"elapsed"`
	StartTime       time.Time     `json:"startTime"`
	Timestamp       time.Time     `json:"timestamp"`
}

// RequestStats contains statistics for one request name.
type RequestStats struct {
	Name     string       `json:"name"`
	Requests int64        `json:"requests"`
	Failures int64        `json:"failures"`
	Bytes    int64        `json:"bytes"`
	RPS      float64      `json:"rps"`
	Latency  LatencyStats `json:"latency"`
}

// LatencyStats contains latency statistics.
type LatencyStats struct {
	Min    time.Duration `json:"min"`
	Max    time.Duration `json:"max"`
	Mean   time.Duration `json:"mean"`
	StdDev time.Duration `json:"stdDev"`
	P50    time.Duration `json:"p50"`
	P90    time.Duration `json:"p90"`
	P95    time.Duration `json:"p95"`
	P99    time.Duration `json:"p99"`
	Count  int64         `json:"count"`
}
