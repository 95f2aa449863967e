// Package config loads the gateway configuration from an optional YAML file
// and the process environment. Environment values win over the file.
package config

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the complete report-gateway configuration.
type Config struct {
	Analytics AnalyticsConfig `yaml:"analytics"`
	MCP       MCPConfig       `yaml:"mcp"`
	Reports   ReportsConfig   `yaml:"reports"`
	Chat      ChatConfig      `yaml:"chat"`
	MCPServer MCPServerConfig `yaml:"mcp_server"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// AnalyticsConfig holds the analytics platform connection parameters.
type AnalyticsConfig struct {
	AccountsURL  string `yaml:"accounts_url"`
	ServerURL    string `yaml:"server_url"`
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
	RefreshToken string `yaml:"refresh_token"`
	WorkspaceID  string `yaml:"workspace_id"`
}

// MCPConfig controls how the analytics MCP server process is launched.
type MCPConfig struct {
	Mode             string        `yaml:"mode"` // local or docker
	Executable       string        `yaml:"executable"`
	Args             []string      `yaml:"args"`
	ContainerRuntime string        `yaml:"container_runtime"`
	Image            string        `yaml:"image"`
	MaxProcesses     int           `yaml:"max_processes"`
	CallTimeout      time.Duration `yaml:"-"`
	TerminateTimeout time.Duration `yaml:"-"`

	CallTimeoutRaw      string `yaml:"call_timeout"`
	TerminateTimeoutRaw string `yaml:"terminate_timeout"`
}

// ReportsConfig locates the report list and the export directory.
type ReportsConfig struct {
	CSV         string `yaml:"csv"`
	ExportDir   string `yaml:"export_dir"`
	DefaultPAN  string `yaml:"default_pan"`
	MaxParallel int    `yaml:"max_parallel"`
}

// ChatConfig holds the chat API and LLM settings.
type ChatConfig struct {
	Enabled     bool          `yaml:"enabled"`
	Addr        string        `yaml:"addr"`
	APIKey      string        `yaml:"api_key"`
	Allowlist   string        `yaml:"allowlist"`
	OpenAIKey   string        `yaml:"openai_key"`
	OpenAIModel string        `yaml:"openai_model"`
	OpenAIBase  string        `yaml:"openai_base_url"`
	LLMTimeout  time.Duration `yaml:"-"`

	LLMTimeoutRaw string `yaml:"llm_timeout"`
}

// MCPServerConfig exposes the report tools over MCP HTTP when Addr is set.
type MCPServerConfig struct {
	Addr string `yaml:"addr"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Dir    string `yaml:"dir"`
}

// Default returns the configuration used when neither file nor environment set a value.
func Default() *Config {
	return &Config{
		Analytics: AnalyticsConfig{
			AccountsURL: "https://accounts.zoho.in",
			ServerURL:   "https://analyticsapi.zoho.in",
		},
		MCP: MCPConfig{
			Mode:             "docker",
			Executable:       "zoho-analytics-mcp",
			ContainerRuntime: "docker",
			Image:            "zohoanalytics/mcp-server:latest",
			MaxProcesses:     4,
			CallTimeout:      2 * time.Minute,
			TerminateTimeout: 5 * time.Second,
		},
		Reports: ReportsConfig{
			CSV:         "VendorPortalReportsList.csv",
			ExportDir:   os.TempDir(),
			DefaultPAN:  "AAMCA0969R",
			MaxParallel: 4,
		},
		Chat: ChatConfig{
			Enabled:     true,
			Addr:        ":8000",
			OpenAIModel: "gpt-4o-mini",
			OpenAIBase:  "https://api.openai.com/v1",
			LLMTimeout:  30 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load builds the configuration. An empty path skips the file. Environment
// variables in the file in the form ${VAR_NAME} are expanded.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal([]byte(expandEnvVars(string(data))), cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
		if err := parseDurations(cfg); err != nil {
			return nil, fmt.Errorf("parsing durations: %w", err)
		}
	}

	if err := cfg.ApplyEnv(os.Getenv); err != nil {
		return nil, fmt.Errorf("reading environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR_NAME} with the variable's value, or "" when unset.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		return os.Getenv(envVarPattern.FindStringSubmatch(match)[1])
	})
}

// ApplyEnv overrides fields from environment variables that are set and non-empty.
func (c *Config) ApplyEnv(getenv func(string) string) error {
	str := func(key string, dst *string) {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			*dst = v
		}
	}
	str("ACCOUNTS_SERVER_URL", &c.Analytics.AccountsURL)
	str("ANALYTICS_SERVER_URL", &c.Analytics.ServerURL)
	str("ZOHO_CLIENT_ID", &c.Analytics.ClientID)
	str("ZOHO_CLIENT_SECRET", &c.Analytics.ClientSecret)
	str("ZOHO_REFRESH_TOKEN", &c.Analytics.RefreshToken)
	str("ZOHO_WORKSPACE_ID", &c.Analytics.WorkspaceID)

	str("MCP_EXECUTION_MODE", &c.MCP.Mode)
	str("MCP_EXECUTABLE", &c.MCP.Executable)
	str("MCP_IMAGE", &c.MCP.Image)

	str("REPORTS_CSV", &c.Reports.CSV)
	str("ZOHO_EXPORT_DIR", &c.Reports.ExportDir)
	str("DEFAULT_VENDOR_PAN", &c.Reports.DefaultPAN)

	str("CHAT_API_KEY", &c.Chat.APIKey)
	str("CHAT_API_ALLOWLIST", &c.Chat.Allowlist)
	str("OPENAI_API_KEY", &c.Chat.OpenAIKey)
	str("OPENAI_MODEL", &c.Chat.OpenAIModel)
	str("OPENAI_BASE_URL", &c.Chat.OpenAIBase)
	if port := strings.TrimSpace(getenv("CHAT_API_PORT")); port != "" {
		c.Chat.Addr = ":" + strings.TrimPrefix(port, ":")
	}
	str("MCP_HTTP_ADDR", &c.MCPServer.Addr)

	str("LOG_LEVEL", &c.Logging.Level)
	str("LOG_FORMAT", &c.Logging.Format)
	str("LOG_DIR", &c.Logging.Dir)

	if v := strings.TrimSpace(getenv("MCP_CALL_TIMEOUT")); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("MCP_CALL_TIMEOUT %q: %w", v, err)
		}
		c.MCP.CallTimeout = d
	}
	if v := strings.TrimSpace(getenv("MCP_MAX_PROCESSES")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("MCP_MAX_PROCESSES %q: %w", v, err)
		}
		c.MCP.MaxProcesses = n
	}
	return nil
}

// Validate checks that the configuration is usable. Missing analytics
// credentials are not an error here: the gateway reports them per request.
func (c *Config) Validate() error {
	switch c.MCP.Mode {
	case "local", "docker":
	default:
		return fmt.Errorf("mcp.mode must be local or docker, got %q", c.MCP.Mode)
	}
	if c.MCP.Mode == "local" && c.MCP.Executable == "" {
		return fmt.Errorf("mcp.executable is required in local mode")
	}
	if c.MCP.Mode == "docker" && (c.MCP.ContainerRuntime == "" || c.MCP.Image == "") {
		return fmt.Errorf("mcp.container_runtime and mcp.image are required in docker mode")
	}
	if c.MCP.CallTimeout <= 0 {
		return fmt.Errorf("mcp.call_timeout must be positive")
	}
	if c.MCP.TerminateTimeout <= 0 {
		return fmt.Errorf("mcp.terminate_timeout must be positive")
	}
	if c.MCP.MaxProcesses <= 0 {
		return fmt.Errorf("mcp.max_processes must be positive")
	}
	if c.Reports.CSV == "" {
		return fmt.Errorf("reports.csv is required")
	}
	if c.Reports.ExportDir == "" {
		return fmt.Errorf("reports.export_dir is required")
	}
	if c.Reports.MaxParallel <= 0 {
		return fmt.Errorf("reports.max_parallel must be positive")
	}
	if c.Chat.Enabled && c.Chat.Addr == "" {
		return fmt.Errorf("chat.addr is required when chat is enabled")
	}
	if c.Chat.LLMTimeout <= 0 {
		return fmt.Errorf("chat.llm_timeout must be positive")
	}
	switch strings.ToLower(c.Logging.Format) {
	case "", "text", "json":
	default:
		return fmt.Errorf("logging.format must be text or json, got %q", c.Logging.Format)
	}
	return nil
}

// parseDurations converts the raw duration strings into time.Duration values.
func parseDurations(cfg *Config) error {
	for _, d := range []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"mcp.call_timeout", cfg.MCP.CallTimeoutRaw, &cfg.MCP.CallTimeout},
		{"mcp.terminate_timeout", cfg.MCP.TerminateTimeoutRaw, &cfg.MCP.TerminateTimeout},
		{"chat.llm_timeout", cfg.Chat.LLMTimeoutRaw, &cfg.Chat.LLMTimeout},
	} {
		if d.raw == "" {
			continue
		}
		v, err := time.ParseDuration(d.raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", d.name, d.raw, err)
		}
		*d.dst = v
	}
	return nil
}
