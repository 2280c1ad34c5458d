// Package executor decides how many simulated users run and when they start.
package executor

import (
	"context"
	"time"

	"github.com/wesleyorama2/quizload/internal/performance"
	"github.com/wesleyorama2/quizload/internal/performance/metrics"
)

// Type identifies the type of executor.
type Type string

const (
	// TypeUserSpawner spawns a fixed number of users at a fixed rate and
	// keeps them running until the duration elapses.
	TypeUserSpawner Type = "user-spawner"
)

// Executor defines the interface for load generation strategies.
type Executor interface {
	// Type returns the executor type.
	Type() Type

	// Init initializes the executor with configuration.
	// Called once before Run().
	Init(ctx context.Context, config *Config) error

	// Run starts the executor and blocks until completion.
	// The executor should respect context cancellation for graceful shutdown.
	Run(ctx context.Context, scheduler *performance.VUScheduler, metrics *metrics.Engine) error

	// GetProgress returns current progress (0.0 to 1.0).
	GetProgress() float64

	// GetActiveVUs returns current active VU count.
	GetActiveVUs() int

	// GetStats returns executor-specific statistics.
	GetStats() *Stats

	// Stop gracefully stops the executor.
	Stop(ctx context.Context) error
}

// ActiveVUsObserver is notified whenever the number of running users changes.
type ActiveVUsObserver interface {
	SetActiveVUs(count int)
}

// Config contains configuration for an executor.
type Config struct {
	// Name is the name of this executor instance
	Name string `json:"name" yaml:"name"`

	// Type is the executor type
	Type Type `json:"type" yaml:"type"`

	// VUs is the number of users to spawn
	VUs int `json:"vus" yaml:"vus"`

	// SpawnRate is users started per second
	SpawnRate float64 `json:"spawnRate" yaml:"spawnRate"`

	// Duration of the run; zero runs until the context ends
	Duration time.Duration `json:"duration,omitempty" yaml:"duration,omitempty"`

	// Graceful stop timeout
	GracefulStop time.Duration `json:"gracefulStop,omitempty" yaml:"gracefulStop,omitempty"`
}

// Stats contains real-time executor statistics.
type Stats struct {
	// Timing
	StartTime     time.Time     `json:"startTime"`
	CurrentTime   time.Time     `json:"currentTime"`
	Elapsed       time.Duration `json:"elapsed"`
	TotalDuration time.Duration `json:"totalDuration"`

	// VU stats
	ActiveVUs  int `json:"activeVUs"`
	SpawnedVUs int `json:"spawnedVUs"`
	TargetVUs  int `json:"targetVUs"`

	Iterations int64 `json:"iterations"`
}

// Validate validates the executor configuration.
func (c *Config) Validate() error {
	if c.Type == "" {
		return &ValidationError{Field: "type", Message: "executor type is required"}
	}

	switch c.Type {
	case TypeUserSpawner:
		if c.VUs <= 0 {
			return &ValidationError{Field: "vus", Message: "vus must be > 0"}
		}
		if c.SpawnRate <= 0 {
			return &ValidationError{Field: "spawnRate", Message: "spawnRate must be > 0"}
		}
		if c.Duration < 0 {
			return &ValidationError{Field: "duration", Message: "duration must be >= 0"}
		}
	default:
		return &ValidationError{Field: "type", Message: "unknown executor type: " + string(c.Type)}
	}

	return nil
}

// RampUpDuration is how long it takes to start every user.
func (c *Config) RampUpDuration() time.Duration {
	if c.VUs <= 1 || c.SpawnRate <= 0 {
		return 0
	}
	return time.Duration(float64(c.VUs-1) / c.SpawnRate * float64(time.Second))
}

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return "validation error on field '" + e.Field + "': " + e.Message
}
