package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dr-kube/dr-kube/internal/admission"
	"github.com/dr-kube/dr-kube/internal/llm/provider"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	// Test server defaults
	assert.Equal(t, 8080, cfg.Server.Port)

	// Test LLM defaults
	assert.Equal(t, "ollama", cfg.LLM.Provider)
	assert.Equal(t, 0.3, cfg.LLM.Temperature)

	// Test admission defaults
	assert.Equal(t, "normal", cfg.Admission.CostMode)
	assert.Equal(t, 20, cfg.Admission.MaxCallsPerDay)
	assert.Equal(t, 30, cfg.Admission.DedupCooldownMinutes)
	assert.Equal(t, "on", cfg.Admission.CompositeIncidentMode)

	// Test publish defaults
	assert.False(t, cfg.Publish.Enabled)
	assert.Equal(t, "main", cfg.Publish.BaseBranch)

	// Test store defaults
	assert.Equal(t, "memory", cfg.Store.Backend)

	// Test logging defaults
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)

	assert.Empty(t, cfg.Validate())
}

func TestDefaultConfig_MatchesAdmissionDefaults(t *testing.T) {
	got, err := DefaultConfig().AdmissionConfig()
	require.NoError(t, err)
	assert.Equal(t, admission.DefaultConfig(), got)
}

func TestConfigValidation(t *testing.T) {
	tests := []struct {
		name      string
		modifyFn  func(*Config)
		wantError bool
		errorMsg  string
	}{
		{
			name:      "valid default config",
			modifyFn:  func(cfg *Config) {},
			wantError: false,
		},
		{
			name:      "invalid port - too low",
			modifyFn:  func(cfg *Config) { cfg.Server.Port = 0 },
			wantError: true,
			errorMsg:  "port must be between 1 and 65535",
		},
		{
			name:      "invalid port - too high",
			modifyFn:  func(cfg *Config) { cfg.Server.Port = 70000 },
			wantError: true,
			errorMsg:  "port must be between 1 and 65535",
		},
		{
			name:      "invalid LLM provider",
			modifyFn:  func(cfg *Config) { cfg.LLM.Provider = "invalid" },
			wantError: true,
			errorMsg:  "invalid provider",
		},
		{
			name:      "invalid cost mode",
			modifyFn:  func(cfg *Config) { cfg.Admission.CostMode = "cheap" },
			wantError: true,
			errorMsg:  "invalid cost mode",
		},
		{
			name:      "invalid override cost mode",
			modifyFn:  func(cfg *Config) { cfg.Admission.OverrideCostMode = "max" },
			wantError: true,
			errorMsg:  "admission.override_cost_mode",
		},
		{
			name:      "unparsable override_until",
			modifyFn:  func(cfg *Config) { cfg.Admission.OverrideUntil = "tomorrow" },
			wantError: true,
			errorMsg:  "RFC3339",
		},
		{
			name:      "valid override_until",
			modifyFn:  func(cfg *Config) { cfg.Admission.OverrideUntil = "2026-06-10T18:00:00Z" },
			wantError: false,
		},
		{
			name:      "negative max calls",
			modifyFn:  func(cfg *Config) { cfg.Admission.MaxCallsPerDay = -1 },
			wantError: true,
			errorMsg:  "admission.max_calls_per_day",
		},
		{
			name:      "invalid composite mode",
			modifyFn:  func(cfg *Config) { cfg.Admission.CompositeIncidentMode = "sometimes" },
			wantError: true,
			errorMsg:  "must be on or off",
		},
		{
			name: "publish without repo path",
			modifyFn: func(cfg *Config) {
				cfg.Publish.Enabled = true
				cfg.Publish.RepoPath = ""
			},
			wantError: true,
			errorMsg:  "repo_path is required",
		},
		{
			name:      "invalid store backend",
			modifyFn:  func(cfg *Config) { cfg.Store.Backend = "redis" },
			wantError: true,
			errorMsg:  "invalid store backend",
		},
		{
			name: "sqlite without path",
			modifyFn: func(cfg *Config) {
				cfg.Store.Backend = "sqlite"
				cfg.Store.SQLitePath = ""
			},
			wantError: true,
			errorMsg:  "sqlite_path is required",
		},
		{
			name:      "zero max parallel",
			modifyFn:  func(cfg *Config) { cfg.Workflow.MaxParallel = 0 },
			wantError: true,
			errorMsg:  "max_parallel must be at least 1",
		},
		{
			name:      "invalid log level",
			modifyFn:  func(cfg *Config) { cfg.Logging.Level = "verbose" },
			wantError: true,
			errorMsg:  "invalid log level",
		},
		{
			name:      "invalid sampling rate",
			modifyFn:  func(cfg *Config) { cfg.Tracing.SamplingRate = 1.5 },
			wantError: true,
			errorMsg:  "sampling_rate must be between 0 and 1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modifyFn(cfg)

			err := joinErrors(cfg.Validate())
			if tt.wantError {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errorMsg)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestAdmissionConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Admission.CostMode = "high"
	cfg.Admission.OverrideUntil = "2026-06-10T18:00:00Z"
	cfg.Admission.OverrideCostMode = "unlimited"
	cfg.Admission.DedupCooldownMinutes = 5
	cfg.Admission.CompositeIncidentMode = "off"

	got, err := cfg.AdmissionConfig()
	require.NoError(t, err)
	assert.Equal(t, admission.CostModeHigh, got.CostMode)
	assert.Equal(t, admission.CostModeUnlimited, got.OverrideCostMode)
	assert.Equal(t, time.Date(2026, 6, 10, 18, 0, 0, 0, time.UTC), got.OverrideUntil.UTC())
	assert.Equal(t, 5*time.Minute, got.DedupCooldown)
	assert.False(t, got.CompositeIncidentMode)
}

func TestProviderConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.LLM.Provider = "anthropic"
	cfg.LLM.APIKey = "key"
	cfg.LLM.TimeoutSeconds = 30

	got := cfg.ProviderConfig()
	assert.Equal(t, provider.TypeAnthropic, got.Provider)
	assert.Equal(t, "key", got.APIKey)
	assert.Equal(t, 30*time.Second, got.Timeout)
}

func TestConfigManager_LoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
server:
  port: 9090
llm:
  provider: gemini
  api_key: g-key
admission:
  cost_mode: high
  max_calls_per_day: 5
  composite_incident_mode: off
store:
  backend: lru
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	mgr, err := NewConfigManager(path)
	require.NoError(t, err)
	require.NoError(t, mgr.Load(context.Background()))
	require.NoError(t, mgr.Validate(context.Background()))

	cfg := mgr.Get(context.Background())
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "gemini", cfg.LLM.Provider)
	assert.Equal(t, "g-key", cfg.LLM.APIKey)
	assert.Equal(t, "high", cfg.Admission.CostMode)
	assert.Equal(t, 5, cfg.Admission.MaxCallsPerDay)
	assert.Equal(t, "off", cfg.Admission.CompositeIncidentMode)
	assert.Equal(t, "lru", cfg.Store.Backend)

	// untouched keys keep their defaults
	assert.Equal(t, 30, cfg.Admission.DedupCooldownMinutes)
}

func TestConfigManager_MissingFileUsesDefaults(t *testing.T) {
	mgr, err := NewConfigManager(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	require.NoError(t, mgr.Load(context.Background()))
	assert.Equal(t, 8080, mgr.Get(context.Background()).Server.Port)
}

func TestConfigManager_EnvOverrides(t *testing.T) {
	t.Setenv("DRKUBE_ADMISSION_COST_MODE", "unlimited")
	t.Setenv("DRKUBE_LLM_PROVIDER", "openai")
	t.Setenv("OPENAI_API_KEY", "sk-env")

	mgr, err := NewConfigManager(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	require.NoError(t, mgr.Load(context.Background()))

	cfg := mgr.Get(context.Background())
	assert.Equal(t, "unlimited", cfg.Admission.CostMode)
	assert.Equal(t, "openai", cfg.LLM.Provider)
	assert.Equal(t, "sk-env", cfg.LLM.APIKey)
}

func TestConfigManager_Set(t *testing.T) {
	mgr, err := NewConfigManager(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	require.NoError(t, mgr.Load(context.Background()))

	mgr.Set("publish.enabled", true)
	assert.True(t, mgr.Get(context.Background()).Publish.Enabled)
}

func TestConfigManager_Reload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("admission:\n  max_calls_per_day: 5\n"), 0o644))

	mgr, err := NewConfigManager(path)
	require.NoError(t, err)
	require.NoError(t, mgr.Load(context.Background()))
	assert.Equal(t, 5, mgr.Get(context.Background()).Admission.MaxCallsPerDay)

	require.NoError(t, os.WriteFile(path, []byte("admission:\n  max_calls_per_day: 9\n"), 0o644))
	require.NoError(t, mgr.Reload(context.Background()))
	assert.Equal(t, 9, mgr.Get(context.Background()).Admission.MaxCallsPerDay)
}
