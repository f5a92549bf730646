package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/dr-kube/dr-kube/internal/admission"
	"github.com/dr-kube/dr-kube/internal/llm/provider"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config validation failed for %s: %s", e.Field, e.Message)
}

// Validate validates the configuration and returns validation errors.
func (c *Config) Validate() []error {
	var errs []error

	// Validate server configuration
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, &ValidationError{
			Field:   "server.port",
			Message: fmt.Sprintf("port must be between 1 and 65535, got %d", c.Server.Port),
		})
	}

	// Validate LLM configuration
	if !provider.Valid(provider.Type(c.LLM.Provider)) {
		errs = append(errs, &ValidationError{
			Field:   "llm.provider",
			Message: fmt.Sprintf("invalid provider '%s', must be one of: openai, anthropic, gemini, ollama, custom, none", c.LLM.Provider),
		})
	}
	if c.LLM.Temperature < 0 || c.LLM.Temperature > 2 {
		errs = append(errs, &ValidationError{
			Field:   "llm.temperature",
			Message: fmt.Sprintf("temperature must be between 0 and 2, got %.2f", c.LLM.Temperature),
		})
	}
	if c.LLM.TimeoutSeconds < 0 {
		errs = append(errs, &ValidationError{
			Field:   "llm.timeout_seconds",
			Message: fmt.Sprintf("timeout_seconds cannot be negative, got %d", c.LLM.TimeoutSeconds),
		})
	}
	if c.LLM.RequestsPerMinute < 0 {
		errs = append(errs, &ValidationError{
			Field:   "llm.requests_per_minute",
			Message: fmt.Sprintf("requests_per_minute cannot be negative, got %d", c.LLM.RequestsPerMinute),
		})
	}

	// Validate admission configuration
	if _, err := admission.ParseCostMode(c.Admission.CostMode); err != nil {
		errs = append(errs, &ValidationError{Field: "admission.cost_mode", Message: err.Error()})
	}
	if c.Admission.OverrideCostMode != "" {
		if _, err := admission.ParseCostMode(c.Admission.OverrideCostMode); err != nil {
			errs = append(errs, &ValidationError{Field: "admission.override_cost_mode", Message: err.Error()})
		}
	}
	if _, err := parseOverrideUntil(c.Admission.OverrideUntil); err != nil {
		errs = append(errs, &ValidationError{
			Field:   "admission.override_until",
			Message: fmt.Sprintf("must be an RFC3339 timestamp: %v", err),
		})
	}
	for field, v := range map[string]int{
		"admission.max_calls_per_day":                    c.Admission.MaxCallsPerDay,
		"admission.dedup_cooldown_minutes":               c.Admission.DedupCooldownMinutes,
		"admission.high_max_calls_per_day":               c.Admission.HighMaxCallsPerDay,
		"admission.high_dedup_cooldown_minutes":          c.Admission.HighDedupCooldownMinutes,
		"admission.max_issues_per_batch_when_publishing": c.Admission.MaxIssuesPerBatchWhenPublishing,
		"admission.publish_group_cooldown_minutes":       c.Admission.PublishGroupCooldownMinutes,
	} {
		if v < 0 {
			errs = append(errs, &ValidationError{
				Field:   field,
				Message: fmt.Sprintf("cannot be negative, got %d", v),
			})
		}
	}
	if _, err := parseSwitch(c.Admission.CompositeIncidentMode); err != nil {
		errs = append(errs, &ValidationError{Field: "admission.composite_incident_mode", Message: err.Error()})
	}

	// Validate publish configuration
	if c.Publish.Enabled && c.Publish.RepoPath == "" {
		errs = append(errs, &ValidationError{
			Field:   "publish.repo_path",
			Message: "repo_path is required when publish is enabled",
		})
	}
	if c.Publish.TimeoutSeconds < 0 {
		errs = append(errs, &ValidationError{
			Field:   "publish.timeout_seconds",
			Message: fmt.Sprintf("timeout_seconds cannot be negative, got %d", c.Publish.TimeoutSeconds),
		})
	}

	// Validate workflow configuration
	if c.Workflow.MaxParallel < 1 {
		errs = append(errs, &ValidationError{
			Field:   "workflow.max_parallel",
			Message: fmt.Sprintf("max_parallel must be at least 1, got %d", c.Workflow.MaxParallel),
		})
	}

	// Validate store configuration
	switch c.Store.Backend {
	case "memory":
	case "lru":
		if c.Store.LRUSize < 1 {
			errs = append(errs, &ValidationError{
				Field:   "store.lru_size",
				Message: fmt.Sprintf("lru_size must be at least 1, got %d", c.Store.LRUSize),
			})
		}
	case "sqlite":
		if c.Store.SQLitePath == "" {
			errs = append(errs, &ValidationError{
				Field:   "store.sqlite_path",
				Message: "sqlite_path is required when store backend is sqlite",
			})
		}
	default:
		errs = append(errs, &ValidationError{
			Field:   "store.backend",
			Message: fmt.Sprintf("invalid store backend '%s', must be one of: memory, lru, sqlite", c.Store.Backend),
		})
	}

	// Validate logging configuration
	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[strings.ToLower(c.Logging.Level)] {
		errs = append(errs, &ValidationError{
			Field:   "logging.level",
			Message: fmt.Sprintf("invalid log level '%s', must be one of: debug, info, warn, error", c.Logging.Level),
		})
	}

	validLogFormats := map[string]bool{
		"json":    true,
		"console": true,
	}
	if !validLogFormats[strings.ToLower(c.Logging.Format)] {
		errs = append(errs, &ValidationError{
			Field:   "logging.format",
			Message: fmt.Sprintf("invalid log format '%s', must be one of: json, console", c.Logging.Format),
		})
	}

	// Validate tracing configuration
	if c.Tracing.SamplingRate < 0 || c.Tracing.SamplingRate > 1 {
		errs = append(errs, &ValidationError{
			Field:   "tracing.sampling_rate",
			Message: fmt.Sprintf("sampling_rate must be between 0 and 1, got %.2f", c.Tracing.SamplingRate),
		})
	}

	return errs
}

// ─── Derived component configs ───────────────────────────────────────────────

// AdmissionConfig converts the admission section. Call Validate first.
func (c *Config) AdmissionConfig() (admission.Config, error) {
	a := c.Admission
	mode, err := admission.ParseCostMode(a.CostMode)
	if err != nil {
		return admission.Config{}, err
	}
	until, err := parseOverrideUntil(a.OverrideUntil)
	if err != nil {
		return admission.Config{}, fmt.Errorf("admission.override_until: %w", err)
	}
	composite, err := parseSwitch(a.CompositeIncidentMode)
	if err != nil {
		return admission.Config{}, err
	}
	return admission.Config{
		CostMode:                        mode,
		OverrideUntil:                   until,
		OverrideCostMode:                admission.CostMode(a.OverrideCostMode),
		MaxCallsPerDay:                  a.MaxCallsPerDay,
		DedupCooldown:                   minutes(a.DedupCooldownMinutes),
		HighMaxCallsPerDay:              a.HighMaxCallsPerDay,
		HighDedupCooldown:               minutes(a.HighDedupCooldownMinutes),
		MaxIssuesPerBatchWhenPublishing: a.MaxIssuesPerBatchWhenPublishing,
		PublishGroupCooldown:            minutes(a.PublishGroupCooldownMinutes),
		CompositeIncidentMode:           composite,
	}, nil
}

// ProviderConfig converts the llm section.
func (c *Config) ProviderConfig() provider.Config {
	return provider.Config{
		Provider:          provider.Type(c.LLM.Provider),
		Model:             c.LLM.Model,
		APIKey:            c.LLM.APIKey,
		BaseURL:           c.LLM.BaseURL,
		Temperature:       c.LLM.Temperature,
		MaxTokens:         c.LLM.MaxTokens,
		Timeout:           seconds(c.LLM.TimeoutSeconds),
		RequestsPerMinute: c.LLM.RequestsPerMinute,
	}
}

// parseOverrideUntil accepts an empty string (no override) or RFC3339.
func parseOverrideUntil(s string) (time.Time, error) {
	if strings.TrimSpace(s) == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339, strings.TrimSpace(s))
}

// parseSwitch accepts on/off and the usual boolean spellings.
func parseSwitch(s string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "on", "true", "yes", "1", "enabled":
		return true, nil
	case "off", "false", "no", "0", "disabled":
		return false, nil
	}
	return false, fmt.Errorf("invalid switch value %q, must be on or off", s)
}

func minutes(n int) time.Duration { return time.Duration(n) * time.Minute }

func seconds(n int) time.Duration { return time.Duration(n) * time.Second }
