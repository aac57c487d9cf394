// Package config reads the process-wide environment knobs named in the
// external interfaces contract. No configuration library exists anywhere in
// the example corpus, so values are read directly with os.Getenv and parsed
// with strconv, matching how the teacher repo reads its own environment
// toggles (no config/env binding package is used there either).
package config

import (
	"os"
	"strconv"
)

const defaultMaxRecursion = 15

// MaxRecursion returns the MAX_RECURSION environment override, or the
// default of 15 when unset or unparsable.
func MaxRecursion() int {
	v := os.Getenv("MAX_RECURSION")
	if v == "" {
		return defaultMaxRecursion
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return defaultMaxRecursion
	}
	return n
}

// LLMAPIKey returns the LLM_API_KEY environment value.
func LLMAPIKey() string { return os.Getenv("LLM_API_KEY") }

// LLMBaseURL returns the LLM_BASE_URL environment value.
func LLMBaseURL() string { return os.Getenv("LLM_BASE_URL") }

// Environment returns the ENVIRONMENT environment value, defaulting to
// "development".
func Environment() string {
	if v := os.Getenv("ENVIRONMENT"); v != "" {
		return v
	}
	return "development"
}

// IsProduction reports whether ENVIRONMENT selects the production title
// generation model.
func IsProduction() bool { return Environment() == "production" }

// RedisURL returns the REDIS_URL environment value used to back the Pulse
// chat sink, defaulting to a local Redis instance.
func RedisURL() string {
	if v := os.Getenv("REDIS_URL"); v != "" {
		return v
	}
	return "redis://localhost:6379/0"
}

// TitleModel returns the model identifier used for chat title generation,
// switching between a small default and a production alternative based on
// ENVIRONMENT.
func TitleModel() string {
	if IsProduction() {
		return "claude-3-5-haiku-20241022"
	}
	return "gpt-4o-mini"
}
