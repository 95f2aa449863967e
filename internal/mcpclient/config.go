package mcpclient

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/vendorportal/report-gateway/internal/protocol"
)

// Mode selects how the analytics MCP server process is launched.
type Mode string

const (
	// ModeLocal runs an installed executable directly.
	ModeLocal Mode = "local"
	// ModeDocker runs the server image through a container runtime.
	ModeDocker Mode = "docker"
)

// Defaults applied by New when a Config field is left zero.
const (
	DefaultExecutable       = "zoho-analytics-mcp"
	DefaultContainerRuntime = "docker"
	DefaultImage            = "zohoanalytics/mcp-server:latest"
	DefaultClientName       = "vendor-portal-assistant"
	DefaultCallTimeout      = 2 * time.Minute
	DefaultTerminateTimeout = 5 * time.Second
	DefaultMaxProcesses     = 4
	DefaultStderrLines      = 50
)

// Environment variable names the server process expects.
const (
	EnvAccountsURL  = "ACCOUNTS_SERVER_URL"
	EnvAnalyticsURL = "ANALYTICS_SERVER_URL"
	EnvClientID     = "ANALYTICS_CLIENT_ID"
	EnvClientSecret = "ANALYTICS_CLIENT_SECRET"
	EnvRefreshToken = "ANALYTICS_REFRESH_TOKEN"
)

// Credentials are the connection parameters handed to the server process.
type Credentials struct {
	AccountsURL  string
	AnalyticsURL string
	ClientID     string
	ClientSecret string
	RefreshToken string
}

func (c Credentials) envVars() []string {
	return []string{
		EnvAccountsURL + "=" + c.AccountsURL,
		EnvAnalyticsURL + "=" + c.AnalyticsURL,
		EnvClientID + "=" + c.ClientID,
		EnvClientSecret + "=" + c.ClientSecret,
		EnvRefreshToken + "=" + c.RefreshToken,
	}
}

// Config controls how server processes are spawned and how long a call may take.
// CallTimeout is one deadline covering slot wait, spawn, handshake and the tool call.
// Termination runs after that deadline and may add up to TerminateTimeout, the wait
// between SIGTERM and SIGKILL, so a call is bounded by CallTimeout+TerminateTimeout.
// MaxProcesses caps concurrently running server processes.
type Config struct {
	Mode             Mode
	Executable       string
	Args             []string
	ContainerRuntime string
	Image            string
	Env              []string
	Credentials      Credentials

	ProtocolVersion string
	ClientName      string
	ClientVersion   string

	CallTimeout      time.Duration
	TerminateTimeout time.Duration
	MaxProcesses     int
	StderrLines      int
}

func (c Config) withDefaults() Config {
	if c.Mode == "" {
		c.Mode = ModeDocker
	}
	if c.Executable == "" {
		c.Executable = DefaultExecutable
	}
	if c.ContainerRuntime == "" {
		c.ContainerRuntime = DefaultContainerRuntime
	}
	if c.Image == "" {
		c.Image = DefaultImage
	}
	if c.ProtocolVersion == "" {
		c.ProtocolVersion = protocol.DefaultProtocolVersion
	}
	if c.ClientName == "" {
		c.ClientName = DefaultClientName
	}
	if c.ClientVersion == "" {
		c.ClientVersion = "dev"
	}
	if c.CallTimeout <= 0 {
		c.CallTimeout = DefaultCallTimeout
	}
	if c.TerminateTimeout <= 0 {
		c.TerminateTimeout = DefaultTerminateTimeout
	}
	if c.MaxProcesses <= 0 {
		c.MaxProcesses = DefaultMaxProcesses
	}
	if c.StderrLines <= 0 {
		c.StderrLines = DefaultStderrLines
	}
	return c
}

// Validate reports ErrNotConfigured when a credential is absent or still a placeholder.
func (c Config) Validate() error {
	var missing []string
	for _, f := range []struct{ name, value string }{
		{EnvAccountsURL, c.Credentials.AccountsURL},
		{EnvAnalyticsURL, c.Credentials.AnalyticsURL},
		{EnvClientID, c.Credentials.ClientID},
		{EnvClientSecret, c.Credentials.ClientSecret},
		{EnvRefreshToken, c.Credentials.RefreshToken},
	} {
		if IsPlaceholder(f.value) {
			missing = append(missing, f.name)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", ErrNotConfigured, strings.Join(missing, ", "))
	}
	return nil
}

// Command resolves the executable, arguments and environment for one server process.
func (c Config) Command() (string, []string, []string) {
	vars := c.Credentials.envVars()
	if c.Mode == ModeLocal {
		env := append(os.Environ(), vars...)
		return c.Executable, append([]string(nil), c.Args...), append(env, c.Env...)
	}

	args := []string{"run", "-i", "--rm"}
	for _, kv := range vars {
		args = append(args, "-e", kv)
	}
	args = append(args, c.Image)
	return c.ContainerRuntime, args, append(os.Environ(), c.Env...)
}

// IsPlaceholder reports whether v is empty or a conventional unset marker such as "your_client_id".
func IsPlaceholder(v string) bool {
	v = strings.ToLower(strings.TrimSpace(v))
	switch {
	case v == "":
		return true
	case strings.HasPrefix(v, "your_"), strings.HasPrefix(v, "your-"):
		return true
	case v == "changeme", v == "change_me", v == "<unset>":
		return true
	}
	return false
}
