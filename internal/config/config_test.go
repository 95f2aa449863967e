package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "gateway.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadDefaultsWithoutFile(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "docker", cfg.MCP.Mode)
	assert.Equal(t, "https://accounts.zoho.in", cfg.Analytics.AccountsURL)
	assert.Equal(t, 2*time.Minute, cfg.MCP.CallTimeout)
	assert.Equal(t, "AAMCA0969R", cfg.Reports.DefaultPAN)
	assert.Equal(t, ":8000", cfg.Chat.Addr)
}

func TestLoadFileWithExpansionAndDurations(t *testing.T) {
	t.Setenv("TEST_ZOHO_SECRET", "from-env")
	path := writeConfig(t, `
analytics:
  client_id: file-client
  client_secret: ${TEST_ZOHO_SECRET}
  workspace_id: "1234"
mcp:
  mode: local
  executable: /opt/zoho/mcp
  call_timeout: 45s
  terminate_timeout: 1s
reports:
  csv: reports.csv
  max_parallel: 2
chat:
  enabled: false
  llm_timeout: 10s
logging:
  format: json
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "file-client", cfg.Analytics.ClientID)
	assert.Equal(t, "from-env", cfg.Analytics.ClientSecret)
	assert.Equal(t, "1234", cfg.Analytics.WorkspaceID)
	assert.Equal(t, "local", cfg.MCP.Mode)
	assert.Equal(t, 45*time.Second, cfg.MCP.CallTimeout)
	assert.Equal(t, time.Second, cfg.MCP.TerminateTimeout)
	assert.Equal(t, 10*time.Second, cfg.Chat.LLMTimeout)
	assert.False(t, cfg.Chat.Enabled)
	assert.Equal(t, 2, cfg.Reports.MaxParallel)
	assert.Equal(t, "https://analyticsapi.zoho.in", cfg.Analytics.ServerURL, "unset keys keep defaults")
}

func TestEnvironmentOverridesFile(t *testing.T) {
	path := writeConfig(t, "analytics:\n  client_id: file-client\nmcp:\n  mode: docker\n")
	t.Setenv("ZOHO_CLIENT_ID", "env-client")
	t.Setenv("MCP_EXECUTION_MODE", "local")
	t.Setenv("CHAT_API_PORT", "9090")
	t.Setenv("MCP_CALL_TIMEOUT", "3s")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "env-client", cfg.Analytics.ClientID)
	assert.Equal(t, "local", cfg.MCP.Mode)
	assert.Equal(t, ":9090", cfg.Chat.Addr)
	assert.Equal(t, 3*time.Second, cfg.MCP.CallTimeout)
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorContains(t, err, "reading config file")

	_, err = Load(writeConfig(t, "mcp: [unclosed"))
	assert.ErrorContains(t, err, "parsing config file")

	_, err = Load(writeConfig(t, "mcp:\n  call_timeout: soon\n"))
	assert.ErrorContains(t, err, "mcp.call_timeout")

	_, err = Load(writeConfig(t, "mcp:\n  mode: kubernetes\n"))
	assert.ErrorContains(t, err, "mcp.mode")
}

func TestApplyEnvRejectsBadValues(t *testing.T) {
	env := map[string]string{"MCP_MAX_PROCESSES": "many"}
	err := Default().ApplyEnv(func(k string) string { return env[k] })
	assert.ErrorContains(t, err, "MCP_MAX_PROCESSES")
}

func TestValidate(t *testing.T) {
	cases := map[string]func(*Config){
		"zero call timeout":  func(c *Config) { c.MCP.CallTimeout = 0 },
		"no executable":      func(c *Config) { c.MCP.Mode = "local"; c.MCP.Executable = "" },
		"no image":           func(c *Config) { c.MCP.Image = "" },
		"no csv":             func(c *Config) { c.Reports.CSV = "" },
		"zero parallel":      func(c *Config) { c.Reports.MaxParallel = 0 },
		"bad log format":     func(c *Config) { c.Logging.Format = "xml" },
		"chat without addr":  func(c *Config) { c.Chat.Addr = "" },
		"zero max processes": func(c *Config) { c.MCP.MaxProcesses = 0 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := Default()
			mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
	assert.NoError(t, Default().Validate())
}
