package mcpclient

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDockerCommand(t *testing.T) {
	cfg := Config{Credentials: testCredentials()}.withDefaults()

	name, args, env := cfg.Command()
	assert.Equal(t, "docker", name)
	assert.Equal(t, []string{
		"run", "-i", "--rm",
		"-e", "ACCOUNTS_SERVER_URL=https://accounts.example.com",
		"-e", "ANALYTICS_SERVER_URL=https://analytics.example.com",
		"-e", "ANALYTICS_CLIENT_ID=client-123",
		"-e", "ANALYTICS_CLIENT_SECRET=secret-456",
		"-e", "ANALYTICS_REFRESH_TOKEN=refresh-789",
		"zohoanalytics/mcp-server:latest",
	}, args)
	for _, kv := range env {
		assert.False(t, strings.HasPrefix(kv, EnvClientSecret+"="), "docker mode passes credentials as flags only")
	}
}

func TestLocalCommandInjectsEnvironment(t *testing.T) {
	t.Setenv("PARENT_ONLY", "yes")
	cfg := Config{Mode: ModeLocal, Credentials: testCredentials(), Env: []string{"EXTRA=1"}}.withDefaults()

	name, args, env := cfg.Command()
	assert.Equal(t, DefaultExecutable, name)
	assert.Empty(t, args)
	assert.Contains(t, env, "PARENT_ONLY=yes")
	assert.Contains(t, env, "ANALYTICS_REFRESH_TOKEN=refresh-789")
	assert.Contains(t, env, "ACCOUNTS_SERVER_URL=https://accounts.example.com")
	assert.Equal(t, "EXTRA=1", env[len(env)-1])
}

func TestValidate(t *testing.T) {
	require.NoError(t, Config{Credentials: testCredentials()}.Validate())

	creds := testCredentials()
	creds.ClientID = ""
	creds.RefreshToken = "YOUR_REFRESH_TOKEN"
	err := Config{Credentials: creds}.Validate()
	require.ErrorIs(t, err, ErrNotConfigured)
	assert.Contains(t, err.Error(), EnvClientID)
	assert.Contains(t, err.Error(), EnvRefreshToken)
	assert.NotContains(t, err.Error(), EnvClientSecret)
}

func TestIsPlaceholder(t *testing.T) {
	for _, v := range []string{"", "  ", "your_client_id", "Your-Secret", "changeme", "<unset>"} {
		assert.True(t, IsPlaceholder(v), v)
	}
	for _, v := range []string{"1000.ABC", "yourself", "abc"} {
		assert.False(t, IsPlaceholder(v), v)
	}
}

func TestWithDefaults(t *testing.T) {
	cfg := Config{}.withDefaults()
	assert.Equal(t, ModeDocker, cfg.Mode)
	assert.Equal(t, DefaultCallTimeout, cfg.CallTimeout)
	assert.Equal(t, 5*time.Second, cfg.TerminateTimeout)
	assert.Equal(t, DefaultMaxProcesses, cfg.MaxProcesses)
	assert.Equal(t, "2024-11-05", cfg.ProtocolVersion)
}
