// Package config provides configuration loading and validation for the
// interview engine. One structured JSON document carries the flow tuning
// parameters, the per-agent LLM route registry, and the name of the
// environment variable holding the LLM credential.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/go-playground/validator/v10"
)

// RouteBinding pairs an LLM route with the registered output schema name for
// one agent function.
type RouteBinding struct {
	Route  LlmRoute `json:"route" validate:"required"`
	Schema string   `json:"schema" validate:"required"`
}

// FlowSettings tunes the stage machine and coverage accounting.
type FlowSettings struct {
	WarmupLimit               int     `json:"warmup_limit" validate:"min=1"`
	FollowUpLimit             int     `json:"follow_up_limit" validate:"min=1"`
	LowScoreStreakLimit       int     `json:"low_score_streak_limit" validate:"min=1"`
	LowScoreThreshold         float64 `json:"low_score_threshold" validate:"gte=1,lte=5"`
	CoverageMinQuestions      int     `json:"coverage_min_questions" validate:"min=0"`
	EvaluatorWindowMessages   int     `json:"evaluator_window_messages" validate:"min=4"`
	TurnDeadlineMs            int     `json:"turn_deadline_ms" validate:"min=1"`
	SessionTimeoutMinutes     float64 `json:"session_timeout_minutes" validate:"gt=0"`
	CheckpointIntervalMinutes float64 `json:"checkpoint_interval_minutes" validate:"gt=0"`
	CompleteGraceMinutes      float64 `json:"complete_grace_minutes" validate:"gte=0"`
}

// LlmSettings names the environment variable carrying the API key. The key
// itself never appears in configuration.
type LlmSettings struct {
	APIKeyEnvVar string `json:"api_key_env_var" validate:"required"`
}

// Config is the application configuration root.
type Config struct {
	Flow   FlowSettings            `json:"flow" validate:"required"`
	Routes map[string]RouteBinding `json:"routes" validate:"required,min=1,dive"`
	LLM    LlmSettings             `json:"llm" validate:"required"`
}

// Default returns the flow defaults used when a field is omitted.
func Default() FlowSettings {
	return FlowSettings{
		WarmupLimit:               1,
		FollowUpLimit:             4,
		LowScoreStreakLimit:       2,
		LowScoreThreshold:         2,
		CoverageMinQuestions:      2,
		EvaluatorWindowMessages:   8,
		TurnDeadlineMs:            90_000,
		SessionTimeoutMinutes:     30,
		CheckpointIntervalMinutes: 3,
		CompleteGraceMinutes:      10,
	}
}

// Load reads and validates a configuration document. A malformed document
// fails application startup.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, fmt.Errorf("config path is empty")
	}
	if !filepath.IsAbs(path) {
		cwd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("failed to get current directory: %w", err)
		}
		path = filepath.Join(cwd, path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes and validates a raw configuration document.
func Parse(data []byte) (*Config, error) {
	cfg := Config{Flow: Default()}
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks value ranges and route completeness.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}
	for key, binding := range c.Routes {
		if err := binding.Route.Validate(); err != nil {
			return fmt.Errorf("config error: route %q: %w", key, err)
		}
	}
	return nil
}

// Registry is the process-wide read-only mapping from agent key to route
// binding, populated once at startup and injected into every caller.
type Registry struct {
	bindings map[string]RouteBinding
}

// NewRegistry builds a registry from validated configuration.
func NewRegistry(cfg *Config) *Registry {
	bindings := make(map[string]RouteBinding, len(cfg.Routes))
	for key, binding := range cfg.Routes {
		bindings[key] = binding
	}
	return &Registry{bindings: bindings}
}

// Resolve returns the binding for an agent key.
func (r *Registry) Resolve(key string) (RouteBinding, error) {
	binding, ok := r.bindings[key]
	if !ok {
		return RouteBinding{}, fmt.Errorf("registry missing route for %q", key)
	}
	return binding, nil
}

// Keys lists the registered agent keys.
func (r *Registry) Keys() []string {
	keys := make([]string, 0, len(r.bindings))
	for key := range r.bindings {
		keys = append(keys, key)
	}
	return keys
}
