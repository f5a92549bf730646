package config

// DefaultConfig returns a configuration with all default values.
func DefaultConfig() *Config {
	cfg := &Config{}

	// Server defaults
	cfg.Server.Host = ""
	cfg.Server.Port = 8080

	// LLM defaults
	cfg.LLM.Provider = "ollama"
	cfg.LLM.Model = ""
	cfg.LLM.BaseURL = ""
	cfg.LLM.Temperature = 0.3
	cfg.LLM.MaxTokens = 4096
	cfg.LLM.TimeoutSeconds = 120
	cfg.LLM.RequestsPerMinute = 0

	// Admission defaults
	cfg.Admission.CostMode = "normal"
	cfg.Admission.OverrideUntil = ""
	cfg.Admission.OverrideCostMode = "high"
	cfg.Admission.MaxCallsPerDay = 20
	cfg.Admission.DedupCooldownMinutes = 30
	cfg.Admission.HighMaxCallsPerDay = 100
	cfg.Admission.HighDedupCooldownMinutes = 10
	cfg.Admission.MaxIssuesPerBatchWhenPublishing = 3
	cfg.Admission.PublishGroupCooldownMinutes = 60
	cfg.Admission.CompositeIncidentMode = "on"

	// Publish defaults
	cfg.Publish.Enabled = false
	cfg.Publish.RepoPath = "."
	cfg.Publish.BaseBranch = "main"
	cfg.Publish.Remote = "origin"
	cfg.Publish.TimeoutSeconds = 60

	// Workflow defaults
	cfg.Workflow.MaxParallel = 4
	cfg.Workflow.ProposalTimeoutSeconds = 180

	// Store defaults
	cfg.Store.Backend = "memory"
	cfg.Store.LRUSize = 10000
	cfg.Store.SQLitePath = "/var/lib/dr-kube/dr-kube.db"
	cfg.Store.RunHistory = 500

	// Logging defaults
	cfg.Logging.Level = "info"
	cfg.Logging.Format = "json"
	cfg.Logging.File = ""
	cfg.Logging.MaxSize = 100
	cfg.Logging.MaxBackups = 5
	cfg.Logging.MaxAge = 30
	cfg.Logging.Compress = true

	// Audit defaults
	cfg.Audit.Path = ""
	cfg.Audit.MaxSize = 100
	cfg.Audit.MaxBackups = 10
	cfg.Audit.MaxAge = 90
	cfg.Audit.Compress = true

	// Tracing defaults
	cfg.Tracing.Endpoint = ""
	cfg.Tracing.SamplingRate = 1.0

	return cfg
}
