package config

import (
	"fmt"
	"net/url"
	"strings"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation error on field '%s': %s", e.Field, e.Message)
	}
	return fmt.Sprintf("validation error: %s", e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors struct {
	Errors []*ValidationError
}

func (e *ValidationErrors) Error() string {
	if len(e.Errors) == 0 {
		return "no validation errors"
	}
	if len(e.Errors) == 1 {
		return e.Errors[0].Error()
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d validation errors:\n", len(e.Errors)))
	for i, err := range e.Errors {
		sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, err.Error()))
	}
	return sb.String()
}

// Add adds an error to the collection.
func (e *ValidationErrors) Add(field, message string) {
	e.Errors = append(e.Errors, &ValidationError{Field: field, Message: message})
}

// HasErrors returns true if there are any errors.
func (e *ValidationErrors) HasErrors() bool {
	return len(e.Errors) > 0
}

// Has reports whether any error concerns field.
func (e *ValidationErrors) Has(field string) bool {
	for _, err := range e.Errors {
		if err.Field == field {
			return true
		}
	}
	return false
}

// Validate validates the run configuration.
//
// Returns nil if valid, or a *ValidationErrors containing all problems.
// Call ApplyDefaults first; zero values are treated as explicit.
func (c *Config) Validate() error {
	errs := &ValidationErrors{}

	validateHost(c.Host, errs)

	if c.Users < 1 {
		errs.Add("users", "users must be >= 1")
	}
	if c.SpawnRate <= 0 {
		errs.Add("spawnRate", "spawnRate must be > 0")
	}
	if c.Duration < 0 {
		errs.Add("duration", "duration must be >= 0")
	}

	if c.WaitMin < 0 {
		errs.Add("waitMin", "waitMin must be >= 0")
	}
	if c.WaitMax < 0 {
		errs.Add("waitMax", "waitMax must be >= 0")
	}
	if c.WaitMin > c.WaitMax {
		errs.Add("waitMin", fmt.Sprintf("waitMin (%s) must not exceed waitMax (%s)", c.WaitMin, c.WaitMax))
	}

	if c.LoginPrefix == "" {
		errs.Add("loginPrefix", "loginPrefix is required")
	}

	if c.Weights != nil {
		w := c.Weights
		if w.GetQuiz < 0 {
			errs.Add("weights.getQuiz", "weight must be >= 0")
		}
		if w.UpdateScore < 0 {
			errs.Add("weights.updateScore", "weight must be >= 0")
		}
		if w.CreateQuestion < 0 {
			errs.Add("weights.createQuestion", "weight must be >= 0")
		}
		if w.GetQuiz+w.UpdateScore+w.CreateQuestion <= 0 {
			errs.Add("weights", "at least one weight must be > 0")
		}
	}

	if c.HTTP.Timeout < 0 {
		errs.Add("http.timeout", "timeout must be >= 0")
	}
	if c.HTTP.MaxConnectionsPerHost < 0 {
		errs.Add("http.maxConnectionsPerHost", "must be >= 0")
	}
	if c.HTTP.MaxIdleConnsPerHost < 0 {
		errs.Add("http.maxIdleConnsPerHost", "must be >= 0")
	}

	if t := c.Thresholds; t != nil {
		if t.MaxErrorRate != nil && (*t.MaxErrorRate < 0 || *t.MaxErrorRate > 1) {
			errs.Add("thresholds.maxErrorRate", "maxErrorRate must be between 0 and 1")
		}
		if t.MaxP95 < 0 {
			errs.Add("thresholds.maxP95", "maxP95 must be >= 0")
		}
	}

	if errs.HasErrors() {
		return errs
	}
	return nil
}

func validateHost(host string, errs *ValidationErrors) {
	if host == "" {
		errs.Add("host", "host is required")
		return
	}
	u, err := url.Parse(host)
	if err != nil {
		errs.Add("host", fmt.Sprintf("invalid URL: %v", err))
		return
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		errs.Add("host", "host must start with http:// or https://")
		return
	}
	if u.Host == "" {
		errs.Add("host", "host has no hostname")
	}
}
