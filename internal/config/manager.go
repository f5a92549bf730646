package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "DRKUBE"

// viperConfigManager implements ConfigManager using Viper.
type viperConfigManager struct {
	configPath string
	viper      *viper.Viper
	watchChan  chan Config

	mu     sync.RWMutex
	config *Config
}

// Load loads configuration from all sources.
func (m *viperConfigManager) Load(ctx context.Context) error {
	m.viper = viper.New()

	m.viper.SetConfigFile(m.configPath)
	m.viper.SetConfigType("yaml")

	m.viper.SetEnvPrefix(EnvPrefix)
	m.viper.AutomaticEnv()
	m.viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	m.setDefaults()

	// A missing file is fine: defaults and env vars still apply.
	if err := m.viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !os.IsNotExist(err) {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}

	m.unmarshalConfig()
	return nil
}

// Get returns the current configuration.
func (m *viperConfigManager) Get(ctx context.Context) *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.config
}

// Validate validates configuration is correct and complete.
func (m *viperConfigManager) Validate(ctx context.Context) error {
	return joinErrors(m.Get(ctx).Validate())
}

func joinErrors(errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	var errMsgs []string
	for _, err := range errs {
		errMsgs = append(errMsgs, err.Error())
	}
	return fmt.Errorf("configuration validation failed:\n  - %s", strings.Join(errMsgs, "\n  - "))
}

// Watch watches for configuration changes and reloads. Invalid reloads are
// not delivered and the previous configuration stays current.
func (m *viperConfigManager) Watch(ctx context.Context) <-chan Config {
	m.viper.OnConfigChange(func(e fsnotify.Event) {
		if e.Op&(fsnotify.Write|fsnotify.Create) == 0 {
			return
		}
		cfg := m.decode()
		if len(cfg.Validate()) > 0 {
			return
		}
		m.store(cfg)
		select {
		case m.watchChan <- *cfg:
		default:
			// Channel full, skip this update
		}
	})
	m.viper.WatchConfig()

	return m.watchChan
}

// Reload reloads configuration from sources.
func (m *viperConfigManager) Reload(ctx context.Context) error {
	if err := m.viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !os.IsNotExist(err) {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}
	m.unmarshalConfig()
	return nil
}

// Set overrides a single key.
func (m *viperConfigManager) Set(key string, value interface{}) {
	m.viper.Set(key, value)
	m.unmarshalConfig()
}

// setDefaults sets default values in viper.
func (m *viperConfigManager) setDefaults() {
	defaults := DefaultConfig()

	// Server defaults
	m.viper.SetDefault("server.host", defaults.Server.Host)
	m.viper.SetDefault("server.port", defaults.Server.Port)
	m.viper.SetDefault("server.allowed_origins", defaults.Server.AllowedOrigins)

	// LLM defaults
	m.viper.SetDefault("llm.provider", defaults.LLM.Provider)
	m.viper.SetDefault("llm.model", defaults.LLM.Model)
	m.viper.SetDefault("llm.base_url", defaults.LLM.BaseURL)
	m.viper.SetDefault("llm.api_key", defaults.LLM.APIKey)
	m.viper.SetDefault("llm.temperature", defaults.LLM.Temperature)
	m.viper.SetDefault("llm.max_tokens", defaults.LLM.MaxTokens)
	m.viper.SetDefault("llm.timeout_seconds", defaults.LLM.TimeoutSeconds)
	m.viper.SetDefault("llm.requests_per_minute", defaults.LLM.RequestsPerMinute)

	// Admission defaults
	m.viper.SetDefault("admission.cost_mode", defaults.Admission.CostMode)
	m.viper.SetDefault("admission.override_until", defaults.Admission.OverrideUntil)
	m.viper.SetDefault("admission.override_cost_mode", defaults.Admission.OverrideCostMode)
	m.viper.SetDefault("admission.max_calls_per_day", defaults.Admission.MaxCallsPerDay)
	m.viper.SetDefault("admission.dedup_cooldown_minutes", defaults.Admission.DedupCooldownMinutes)
	m.viper.SetDefault("admission.high_max_calls_per_day", defaults.Admission.HighMaxCallsPerDay)
	m.viper.SetDefault("admission.high_dedup_cooldown_minutes", defaults.Admission.HighDedupCooldownMinutes)
	m.viper.SetDefault("admission.max_issues_per_batch_when_publishing", defaults.Admission.MaxIssuesPerBatchWhenPublishing)
	m.viper.SetDefault("admission.publish_group_cooldown_minutes", defaults.Admission.PublishGroupCooldownMinutes)
	m.viper.SetDefault("admission.composite_incident_mode", defaults.Admission.CompositeIncidentMode)

	// Publish defaults
	m.viper.SetDefault("publish.enabled", defaults.Publish.Enabled)
	m.viper.SetDefault("publish.repo_path", defaults.Publish.RepoPath)
	m.viper.SetDefault("publish.base_branch", defaults.Publish.BaseBranch)
	m.viper.SetDefault("publish.remote", defaults.Publish.Remote)
	m.viper.SetDefault("publish.timeout_seconds", defaults.Publish.TimeoutSeconds)

	// Workflow defaults
	m.viper.SetDefault("workflow.max_parallel", defaults.Workflow.MaxParallel)
	m.viper.SetDefault("workflow.proposal_timeout_seconds", defaults.Workflow.ProposalTimeoutSeconds)

	// Store defaults
	m.viper.SetDefault("store.backend", defaults.Store.Backend)
	m.viper.SetDefault("store.lru_size", defaults.Store.LRUSize)
	m.viper.SetDefault("store.sqlite_path", defaults.Store.SQLitePath)
	m.viper.SetDefault("store.run_history", defaults.Store.RunHistory)

	// Logging defaults
	m.viper.SetDefault("logging.level", defaults.Logging.Level)
	m.viper.SetDefault("logging.format", defaults.Logging.Format)
	m.viper.SetDefault("logging.file", defaults.Logging.File)
	m.viper.SetDefault("logging.max_size", defaults.Logging.MaxSize)
	m.viper.SetDefault("logging.max_backups", defaults.Logging.MaxBackups)
	m.viper.SetDefault("logging.max_age", defaults.Logging.MaxAge)
	m.viper.SetDefault("logging.compress", defaults.Logging.Compress)

	// Audit defaults
	m.viper.SetDefault("audit.path", defaults.Audit.Path)
	m.viper.SetDefault("audit.max_size", defaults.Audit.MaxSize)
	m.viper.SetDefault("audit.max_backups", defaults.Audit.MaxBackups)
	m.viper.SetDefault("audit.max_age", defaults.Audit.MaxAge)
	m.viper.SetDefault("audit.compress", defaults.Audit.Compress)

	// Tracing defaults
	m.viper.SetDefault("tracing.endpoint", defaults.Tracing.Endpoint)
	m.viper.SetDefault("tracing.sampling_rate", defaults.Tracing.SamplingRate)
}

// unmarshalConfig decodes viper state into the current config.
func (m *viperConfigManager) unmarshalConfig() {
	m.store(m.decode())
}

func (m *viperConfigManager) store(cfg *Config) {
	m.mu.Lock()
	m.config = cfg
	m.mu.Unlock()
}

// decode builds a Config from viper and applies env overrides.
func (m *viperConfigManager) decode() *Config {
	cfg := &Config{}
	v := m.viper

	// Server
	cfg.Server.Host = v.GetString("server.host")
	cfg.Server.Port = v.GetInt("server.port")
	cfg.Server.AllowedOrigins = v.GetStringSlice("server.allowed_origins")

	// LLM
	cfg.LLM.Provider = strings.ToLower(v.GetString("llm.provider"))
	cfg.LLM.Model = v.GetString("llm.model")
	cfg.LLM.BaseURL = v.GetString("llm.base_url")
	cfg.LLM.APIKey = v.GetString("llm.api_key")
	cfg.LLM.Temperature = v.GetFloat64("llm.temperature")
	cfg.LLM.MaxTokens = v.GetInt("llm.max_tokens")
	cfg.LLM.TimeoutSeconds = v.GetInt("llm.timeout_seconds")
	cfg.LLM.RequestsPerMinute = v.GetInt("llm.requests_per_minute")

	// Admission
	cfg.Admission.CostMode = v.GetString("admission.cost_mode")
	cfg.Admission.OverrideUntil = v.GetString("admission.override_until")
	cfg.Admission.OverrideCostMode = v.GetString("admission.override_cost_mode")
	cfg.Admission.MaxCallsPerDay = v.GetInt("admission.max_calls_per_day")
	cfg.Admission.DedupCooldownMinutes = v.GetInt("admission.dedup_cooldown_minutes")
	cfg.Admission.HighMaxCallsPerDay = v.GetInt("admission.high_max_calls_per_day")
	cfg.Admission.HighDedupCooldownMinutes = v.GetInt("admission.high_dedup_cooldown_minutes")
	cfg.Admission.MaxIssuesPerBatchWhenPublishing = v.GetInt("admission.max_issues_per_batch_when_publishing")
	cfg.Admission.PublishGroupCooldownMinutes = v.GetInt("admission.publish_group_cooldown_minutes")
	cfg.Admission.CompositeIncidentMode = v.GetString("admission.composite_incident_mode")

	// Publish
	cfg.Publish.Enabled = v.GetBool("publish.enabled")
	cfg.Publish.RepoPath = v.GetString("publish.repo_path")
	cfg.Publish.BaseBranch = v.GetString("publish.base_branch")
	cfg.Publish.Remote = v.GetString("publish.remote")
	cfg.Publish.TimeoutSeconds = v.GetInt("publish.timeout_seconds")

	// Workflow
	cfg.Workflow.MaxParallel = v.GetInt("workflow.max_parallel")
	cfg.Workflow.ProposalTimeoutSeconds = v.GetInt("workflow.proposal_timeout_seconds")

	// Store
	cfg.Store.Backend = strings.ToLower(v.GetString("store.backend"))
	cfg.Store.LRUSize = v.GetInt("store.lru_size")
	cfg.Store.SQLitePath = v.GetString("store.sqlite_path")
	cfg.Store.RunHistory = v.GetInt("store.run_history")

	// Logging
	cfg.Logging.Level = v.GetString("logging.level")
	cfg.Logging.Format = v.GetString("logging.format")
	cfg.Logging.File = v.GetString("logging.file")
	cfg.Logging.MaxSize = v.GetInt("logging.max_size")
	cfg.Logging.MaxBackups = v.GetInt("logging.max_backups")
	cfg.Logging.MaxAge = v.GetInt("logging.max_age")
	cfg.Logging.Compress = v.GetBool("logging.compress")

	// Audit
	cfg.Audit.Path = v.GetString("audit.path")
	cfg.Audit.MaxSize = v.GetInt("audit.max_size")
	cfg.Audit.MaxBackups = v.GetInt("audit.max_backups")
	cfg.Audit.MaxAge = v.GetInt("audit.max_age")
	cfg.Audit.Compress = v.GetBool("audit.compress")

	// Tracing
	cfg.Tracing.Endpoint = v.GetString("tracing.endpoint")
	cfg.Tracing.SamplingRate = v.GetFloat64("tracing.sampling_rate")

	applyEnvOverrides(cfg)
	return cfg
}

// applyEnvOverrides fills provider credentials from the providers' own
// environment variables when the config leaves them empty.
func applyEnvOverrides(cfg *Config) {
	if cfg.LLM.APIKey == "" {
		var env string
		switch cfg.LLM.Provider {
		case "openai":
			env = "OPENAI_API_KEY"
		case "anthropic":
			env = "ANTHROPIC_API_KEY"
		case "gemini":
			env = "GEMINI_API_KEY"
		}
		if env != "" {
			cfg.LLM.APIKey = os.Getenv(env)
		}
	}

	if cfg.LLM.Provider == "ollama" && cfg.LLM.BaseURL == "" {
		cfg.LLM.BaseURL = os.Getenv("OLLAMA_BASE_URL")
	}
}
