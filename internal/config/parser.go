package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/wesleyorama2/quizload/internal/quiz"
)

// LoadConfig loads a run configuration from a file.
//
// The file format is determined by extension:
//   - .yaml, .yml -> YAML
//   - .json -> JSON
//
// {{VAR}} placeholders are filled from the process environment, then the
// document is checked against the embedded JSON schema before decoding.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	data = []byte(ProcessEnvironment(string(data), OSEnvironment()))
	return ParseConfig(data, path)
}

// ParseConfig parses configuration data.
//
// The format is determined by the file extension in path, or defaults to YAML
// if the path is empty or has an unknown extension.
func ParseConfig(data []byte, path string) (*Config, error) {
	var doc interface{}
	var config Config

	isJSON := strings.ToLower(filepath.Ext(path)) == ".json"

	if isJSON {
		if err := json.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("failed to parse JSON config: %w", err)
		}
	} else if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse YAML config: %w", err)
	}

	// An empty document has nothing to check against the schema.
	if doc != nil {
		if err := ValidateDocument(doc); err != nil {
			return nil, err
		}
	}

	if isJSON {
		if err := json.Unmarshal(data, &config); err != nil {
			return nil, fmt.Errorf("failed to parse JSON config: %w", err)
		}
	} else if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse YAML config: %w", err)
	}

	return &config, nil
}

// ApplyDefaults fills unset fields with their defaults.
func ApplyDefaults(config *Config) {
	if config.Name == "" {
		config.Name = DefaultName
	}
	if config.Users == 0 {
		config.Users = DefaultUsers
	}
	if config.SpawnRate == 0 {
		config.SpawnRate = DefaultSpawnRate
	}
	// A single bound fills the other from its default, keeping min <= max.
	switch {
	case config.WaitMin == 0 && config.WaitMax == 0:
		config.WaitMin = Duration(quiz.DefaultWaitMin)
		config.WaitMax = Duration(quiz.DefaultWaitMax)
	case config.WaitMax == 0:
		config.WaitMax = Duration(max(time.Duration(config.WaitMin), quiz.DefaultWaitMax))
	case config.WaitMin == 0:
		config.WaitMin = Duration(min(time.Duration(config.WaitMax), quiz.DefaultWaitMin))
	}
	if config.LoginPrefix == "" {
		config.LoginPrefix = quiz.DefaultLoginPrefix
	}
	if config.Password == "" {
		config.Password = quiz.DefaultPassword
	}
	if config.Weights == nil {
		w := quiz.DefaultWeights()
		config.Weights = &w
	}
	if config.HTTP.Timeout == 0 {
		config.HTTP.Timeout = Duration(DefaultTimeout)
	}
	if config.HTTP.MaxIdleConnsPerHost == 0 {
		config.HTTP.MaxIdleConnsPerHost = DefaultIdlePerHost
	}
	if config.Metrics.Path == "" {
		config.Metrics.Path = "/metrics"
	}
	if config.GracefulStop == 0 {
		config.GracefulStop = Duration(DefaultGracefulStop)
	}
}

// SessionConfig derives the per-user behavior settings.
func (c *Config) SessionConfig() quiz.Config {
	cfg := quiz.DefaultConfig(c.Host)
	if c.LoginPrefix != "" {
		cfg.LoginPrefix = c.LoginPrefix
	}
	if c.Password != "" {
		cfg.Password = c.Password
	}
	if c.WaitMin != 0 || c.WaitMax != 0 {
		cfg.WaitMin = time.Duration(c.WaitMin)
		cfg.WaitMax = time.Duration(c.WaitMax)
	}
	if c.Weights != nil {
		cfg.Weights = *c.Weights
	}
	return cfg
}
