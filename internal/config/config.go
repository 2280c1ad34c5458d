// Package config provides configuration parsing and validation for a load run.
package config

import (
	"time"

	"github.com/wesleyorama2/quizload/internal/quiz"
)

// Config is the root configuration for a load run.
//
// Example YAML:
//
//	name: "quiz smoke"
//	host: "http://localhost:3000"
//	users: 50
//	spawnRate: 5
//	duration: 2m
//	waitMin: 1s
//	waitMax: 3s
//	weights:
//	  getQuiz: 5
//	  updateScore: 3
//	  createQuestion: 1
//	thresholds:
//	  maxErrorRate: 0.01
type Config struct {
	// Name of the run (for reporting)
	Name string `json:"name,omitempty" yaml:"name,omitempty"`

	// Host is the gateway base URL
	Host string `json:"host" yaml:"host"`

	// Users is the number of simulated users
	Users int `json:"users,omitempty" yaml:"users,omitempty"`

	// SpawnRate is users started per second
	SpawnRate float64 `json:"spawnRate,omitempty" yaml:"spawnRate,omitempty"`

	// Duration of the run; zero runs until interrupted
	Duration Duration `json:"duration,omitempty" yaml:"duration,omitempty"`

	// WaitMin and WaitMax bound the pause between iterations
	WaitMin Duration `json:"waitMin,omitempty" yaml:"waitMin,omitempty"`
	WaitMax Duration `json:"waitMax,omitempty" yaml:"waitMax,omitempty"`

	// Seed makes runs reproducible; zero picks fresh randomness
	Seed uint64 `json:"seed,omitempty" yaml:"seed,omitempty"`

	// LoginPrefix prefixes generated login names
	LoginPrefix string `json:"loginPrefix,omitempty" yaml:"loginPrefix,omitempty"`

	// Password shared by every simulated user
	Password string `json:"password,omitempty" yaml:"password,omitempty"`

	// Weights of the repeatable actions; nil means 5:3:1
	Weights *quiz.Weights `json:"weights,omitempty" yaml:"weights,omitempty"`

	// HTTP client settings
	HTTP HTTPSettings `json:"http,omitempty" yaml:"http,omitempty"`

	// Thresholds define pass/fail criteria for the run
	Thresholds *ThresholdsConfig `json:"thresholds,omitempty" yaml:"thresholds,omitempty"`

	// Metrics controls the Prometheus endpoint
	Metrics MetricsSettings `json:"metrics,omitempty" yaml:"metrics,omitempty"`

	// GracefulStop is how long to wait for users to exit at the end
	GracefulStop Duration `json:"gracefulStop,omitempty" yaml:"gracefulStop,omitempty"`
}

// HTTPSettings contains HTTP client settings.
type HTTPSettings struct {
	// Timeout is the per-request timeout
	Timeout Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`

	// MaxConnectionsPerHost limits connections per host
	MaxConnectionsPerHost int `json:"maxConnectionsPerHost,omitempty" yaml:"maxConnectionsPerHost,omitempty"`

	// MaxIdleConnsPerHost limits idle connections per host
	MaxIdleConnsPerHost int `json:"maxIdleConnsPerHost,omitempty" yaml:"maxIdleConnsPerHost,omitempty"`

	// InsecureSkipVerify skips TLS certificate verification
	InsecureSkipVerify bool `json:"insecureSkipVerify,omitempty" yaml:"insecureSkipVerify,omitempty"`

	// NoConnectionReuse gives every user its own client and opens a new
	// connection for every request
	NoConnectionReuse bool `json:"noConnectionReuse,omitempty" yaml:"noConnectionReuse,omitempty"`
}

// ThresholdsConfig defines pass/fail criteria for the run.
type ThresholdsConfig struct {
	// MaxErrorRate fails the run when failed/total exceeds it (0..1)
	MaxErrorRate *float64 `json:"maxErrorRate,omitempty" yaml:"maxErrorRate,omitempty"`

	// MaxP95 fails the run when the overall p95 latency exceeds it
	MaxP95 Duration `json:"maxP95,omitempty" yaml:"maxP95,omitempty"`
}

// MetricsSettings controls the Prometheus exporter.
type MetricsSettings struct {
	// Addr enables the exporter when set, e.g. ":9646"
	Addr string `json:"addr,omitempty" yaml:"addr,omitempty"`

	// Path of the metrics endpoint (default /metrics)
	Path string `json:"path,omitempty" yaml:"path,omitempty"`
}

// Defaults.
const (
	DefaultName         = "quizload"
	DefaultUsers        = 1
	DefaultSpawnRate    = 1.0
	DefaultTimeout      = 30 * time.Second
	DefaultIdlePerHost  = 100
	DefaultGracefulStop = 30 * time.Second
)

// Duration is a time.Duration that can be unmarshaled from JSON/YAML strings.
type Duration time.Duration

// ParseDuration parses a duration string (e.g., "30s", "2m", "1h30m").
func ParseDuration(s string) (time.Duration, error) {
	return time.ParseDuration(s)
}

// GetDuration returns the duration or a default if zero.
func (d Duration) GetDuration(defaultValue time.Duration) time.Duration {
	if d == 0 {
		return defaultValue
	}
	return time.Duration(d)
}

// MarshalJSON implements json.Marshaler.
func (d Duration) MarshalJSON() ([]byte, error) {
	return []byte(`"` + time.Duration(d).String() + `"`), nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (d *Duration) UnmarshalJSON(b []byte) error {
	s := string(b)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
	}

	if s == "" || s == "null" {
		*d = 0
		return nil
	}

	dur, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(dur)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}

	if s == "" {
		*d = 0
		return nil
	}

	dur, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(dur)
	return nil
}

// String returns the duration as a string.
func (d Duration) String() string {
	return time.Duration(d).String()
}

// FloatPtr returns a pointer to v, for building ThresholdsConfig in code.
func FloatPtr(v float64) *float64 {
	return &v
}
