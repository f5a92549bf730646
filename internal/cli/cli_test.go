package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dr-kube/dr-kube/internal/admission"
	"github.com/dr-kube/dr-kube/internal/config"
	"github.com/dr-kube/dr-kube/internal/remediation"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func testConfig(t *testing.T, dir string, extra string) string {
	t.Helper()
	return writeFile(t, dir, "config.yaml", `
llm:
  provider: none
logging:
  level: error
publish:
  repo_path: `+dir+`
`+extra)
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	root := NewRootCommandWithIO(&out, &errOut)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestRunCommand_NoProviderEndsInError(t *testing.T) {
	dir := t.TempDir()
	cfgPath := testConfig(t, dir, "")
	issuePath := writeFile(t, dir, "issue.json",
		`{"id":"oom-1","type":"oom","namespace":"shop","resource":"checkout","error_message":"OOMKilled"}`)

	out, err := execute(t, "--config", cfgPath, "run", "--issue", issuePath)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "LLM provider not configured")

	var result RunOutput
	require.NoError(t, json.Unmarshal([]byte(out), &result))
	require.Len(t, result.Decisions, 1)
	assert.Equal(t, admission.Accepted, result.Decisions[0].Outcome)
	require.Len(t, result.Runs, 1)
	assert.Equal(t, remediation.StatusError, result.Runs[0].Status)
	assert.Equal(t, "oom-1", result.Runs[0].Issue.ID)
}

func TestRunCommand_Errors(t *testing.T) {
	dir := t.TempDir()
	cfgPath := testConfig(t, dir, "")

	_, err := execute(t, "--config", cfgPath, "run")
	assert.Error(t, err, "--issue is required")

	_, err = execute(t, "--config", cfgPath, "run", "--issue", filepath.Join(dir, "missing.json"))
	assert.Error(t, err)

	bad := writeFile(t, dir, "bad.json", "{")
	_, err = execute(t, "--config", cfgPath, "run", "--issue", bad)
	assert.Error(t, err)
}

func TestConfigValidate(t *testing.T) {
	dir := t.TempDir()

	out, err := execute(t, "--config", testConfig(t, dir, ""), "config", "validate")
	require.NoError(t, err)
	assert.Contains(t, out, "configuration is valid")

	invalid := writeFile(t, dir, "invalid.yaml", "server:\n  port: 0\nadmission:\n  cost_mode: cheap\n")
	_, err = execute(t, "--config", invalid, "config", "validate")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "server.port")
	assert.Contains(t, err.Error(), "admission.cost_mode")
}

func TestConfigShow_RedactsSecrets(t *testing.T) {
	dir := t.TempDir()
	cfgPath := writeFile(t, dir, "config.yaml", "llm:\n  provider: openai\n  api_key: sk-secret\n")

	out, err := execute(t, "--config", cfgPath, "config", "show")
	require.NoError(t, err)
	assert.NotContains(t, out, "sk-secret")
	assert.Contains(t, out, redacted)
	assert.Contains(t, out, "openai")
}

func TestBuildRuntime_Backends(t *testing.T) {
	for _, backend := range []string{"memory", "lru", "sqlite"} {
		t.Run(backend, func(t *testing.T) {
			cfg := config.DefaultConfig()
			cfg.LLM.Provider = "none"
			cfg.Logging.Level = "error"
			cfg.Store.Backend = backend
			cfg.Store.SQLitePath = filepath.Join(t.TempDir(), "dr-kube.db")

			rt, err := buildRuntime(context.Background(), cfg, runtimeOptions{liveFeed: true})
			require.NoError(t, err)
			defer rt.Close()

			assert.NotNil(t, rt.handler)
			assert.NotNil(t, rt.runLog)
			assert.NotNil(t, rt.hub)
			assert.Len(t, rt.marks, 2)
			assert.False(t, rt.machine.Publishing())
			if backend == "sqlite" {
				require.NotNil(t, rt.ping)
				assert.NoError(t, rt.ping(context.Background()))
			}
		})
	}
}

func TestBuildRuntime_PublishEnabled(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.LLM.Provider = "none"
	cfg.Logging.Level = "error"
	cfg.Publish.Enabled = true
	cfg.Publish.RepoPath = t.TempDir()

	rt, err := buildRuntime(context.Background(), cfg, runtimeOptions{})
	require.NoError(t, err)
	defer rt.Close()

	assert.True(t, rt.machine.Publishing())
	assert.Nil(t, rt.hub)
}

func TestBuildRuntime_UnknownProvider(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.LLM.Provider = "mystery"
	cfg.Logging.Level = "error"

	_, err := buildRuntime(context.Background(), cfg, runtimeOptions{})
	assert.Error(t, err)
}
