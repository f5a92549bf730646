package config

import "context"

// Package config provides configuration management for dr-kube.
//
// Configuration Sources (priority order, high to low):
//   1. CLI flags (highest priority)
//   2. Environment variables (DRKUBE_* prefix, "." replaced by "_")
//   3. YAML config file (default: /etc/dr-kube/config.yaml)
//   4. Built-in defaults (lowest priority)
//
// Main Configuration Sections:
//
//   1. Server
//      - host, port: webhook listener (default :8080)
//      - allowed_origins: websocket origins
//
//   2. LLM
//      - provider: "openai" | "anthropic" | "gemini" | "ollama" | "custom" | "none"
//      - model, base_url, api_key, temperature, max_tokens
//      - timeout_seconds, requests_per_minute
//      Provider keys may also come from OPENAI_API_KEY, ANTHROPIC_API_KEY,
//      GEMINI_API_KEY and OLLAMA_BASE_URL.
//
//   3. Admission
//      - cost_mode: "normal" | "high" | "unlimited"
//      - override_until (RFC3339), override_cost_mode
//      - max_calls_per_day, dedup_cooldown_minutes
//      - high_max_calls_per_day, high_dedup_cooldown_minutes
//      - max_issues_per_batch_when_publishing, publish_group_cooldown_minutes
//      - composite_incident_mode: "on" | "off"
//      Changes to this section are applied live on file reload.
//
//   4. Publish
//      - enabled, repo_path, base_branch, remote, timeout_seconds
//
//   5. Workflow
//      - max_parallel, proposal_timeout_seconds
//
//   6. Store
//      - backend: "memory" | "lru" | "sqlite"
//      - lru_size, sqlite_path, run_history
//
//   7. Logging / Audit
//      - level, format ("json" | "console"), file and rotation settings
//
//   8. Tracing
//      - endpoint (OTLP/gRPC, empty disables), sampling_rate

// Config struct contains all configuration fields
type Config struct {
	Server struct {
		Host string
		Port int
		// AllowedOrigins lists origins permitted to open websocket connections.
		// Empty allows any origin.
		AllowedOrigins []string
	}

	LLM struct {
		Provider          string
		Model             string
		BaseURL           string
		APIKey            string
		Temperature       float64
		MaxTokens         int
		TimeoutSeconds    int
		RequestsPerMinute int
	}

	Admission struct {
		CostMode                        string
		OverrideUntil                   string
		OverrideCostMode                string
		MaxCallsPerDay                  int
		DedupCooldownMinutes            int
		HighMaxCallsPerDay              int
		HighDedupCooldownMinutes        int
		MaxIssuesPerBatchWhenPublishing int
		PublishGroupCooldownMinutes     int
		CompositeIncidentMode           string
	}

	Publish struct {
		Enabled        bool
		RepoPath       string
		BaseBranch     string
		Remote         string
		TimeoutSeconds int
	}

	Workflow struct {
		MaxParallel            int
		ProposalTimeoutSeconds int
	}

	Store struct {
		Backend    string
		LRUSize    int
		SQLitePath string
		RunHistory int
	}

	Logging struct {
		Level      string
		Format     string
		File       string
		MaxSize    int
		MaxBackups int
		MaxAge     int
		Compress   bool
	}

	Audit struct {
		Path       string
		MaxSize    int
		MaxBackups int
		MaxAge     int
		Compress   bool
	}

	Tracing struct {
		Endpoint     string
		SamplingRate float64
	}
}

// ConfigManager defines the interface for configuration access.
type ConfigManager interface {
	// Load loads configuration from all sources.
	Load(ctx context.Context) error

	// Get returns the current configuration.
	Get(ctx context.Context) *Config

	// Validate validates configuration is correct and complete.
	Validate(ctx context.Context) error

	// Watch watches the config file and delivers every valid reload.
	Watch(ctx context.Context) <-chan Config

	// Reload reloads configuration from sources.
	Reload(ctx context.Context) error

	// Set overrides a single key, e.g. from a CLI flag.
	Set(key string, value interface{})
}

// DefaultConfigPath is used when no --config flag is given.
const DefaultConfigPath = "/etc/dr-kube/config.yaml"

// NewConfigManager creates a new configuration manager.
func NewConfigManager(configPath string) (ConfigManager, error) {
	mgr := &viperConfigManager{
		configPath: configPath,
		config:     DefaultConfig(),
		watchChan:  make(chan Config, 1),
	}
	return mgr, nil
}
