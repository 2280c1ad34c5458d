package config

import (
	"os"
	"strings"
)

// ProcessEnvironment replaces {{KEY}} placeholders in input with env values.
// Unknown placeholders are left as-is.
func ProcessEnvironment(input string, env map[string]string) string {
	result := input
	for key, value := range env {
		result = strings.ReplaceAll(result, "{{"+key+"}}", value)
	}
	return result
}

// OSEnvironment returns the process environment as a map.
func OSEnvironment() map[string]string {
	env := make(map[string]string)
	for _, kv := range os.Environ() {
		if k, v, ok := strings.Cut(kv, "="); ok {
			env[k] = v
		}
	}
	return env
}
