package app

import (
	"github.com/sirupsen/logrus"

	"github.com/vendorportal/report-gateway/internal/config"
	"github.com/vendorportal/report-gateway/internal/gateway"
	"github.com/vendorportal/report-gateway/internal/mcp"
	"github.com/vendorportal/report-gateway/internal/mcpclient"
	"github.com/vendorportal/report-gateway/internal/reports"
	"github.com/vendorportal/report-gateway/internal/tools"
	"github.com/vendorportal/report-gateway/internal/version"
)

// App holds the wired report-gateway components.
type App struct {
	Registry *reports.Registry
	Client   *mcpclient.Client
	Gateway  *gateway.Gateway
	Tools    *tools.Set
	Toolbox  *mcp.Toolbox
}

// Build loads the report list and wires client, gateway and tools.
func Build(cfg *config.Config, logger *logrus.Entry) (*App, error) {
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}

	registry, err := reports.LoadFile(cfg.Reports.CSV)
	if err != nil {
		return nil, err
	}
	logger.WithField("reports", registry.Len()).Infof("loaded report list from %s", cfg.Reports.CSV)

	client := mcpclient.New(ClientConfig(cfg), logger.WithField("component", "mcpclient"))
	if !client.Configured() {
		logger.Warn("analytics credentials missing; report fetches will fall back")
	}

	gw, err := gateway.New(registry, client, GatewayConfig(cfg), logger.WithField("component", "gateway"))
	if err != nil {
		return nil, err
	}

	set := tools.NewSet(gw, logger.WithField("component", "tools"))
	return &App{
		Registry: registry,
		Client:   client,
		Gateway:  gw,
		Tools:    set,
		Toolbox:  set.Toolbox(),
	}, nil
}

// MCPServer serves the app's tools over MCP.
func (a *App) MCPServer() *mcp.Server {
	return mcp.NewServer(a.Toolbox)
}

// ClientConfig maps the configuration onto the MCP client settings.
func ClientConfig(cfg *config.Config) mcpclient.Config {
	return mcpclient.Config{
		Mode:             mcpclient.Mode(cfg.MCP.Mode),
		Executable:       cfg.MCP.Executable,
		Args:             cfg.MCP.Args,
		ContainerRuntime: cfg.MCP.ContainerRuntime,
		Image:            cfg.MCP.Image,
		Credentials: mcpclient.Credentials{
			AccountsURL:  cfg.Analytics.AccountsURL,
			AnalyticsURL: cfg.Analytics.ServerURL,
			ClientID:     cfg.Analytics.ClientID,
			ClientSecret: cfg.Analytics.ClientSecret,
			RefreshToken: cfg.Analytics.RefreshToken,
		},
		ClientVersion:    version.Get().Version,
		CallTimeout:      cfg.MCP.CallTimeout,
		TerminateTimeout: cfg.MCP.TerminateTimeout,
		MaxProcesses:     cfg.MCP.MaxProcesses,
	}
}

// GatewayConfig maps the configuration onto the gateway settings.
func GatewayConfig(cfg *config.Config) gateway.Config {
	return gateway.Config{
		WorkspaceID: cfg.Analytics.WorkspaceID,
		ExportDir:   cfg.Reports.ExportDir,
		DefaultPAN:  cfg.Reports.DefaultPAN,
		MaxParallel: cfg.Reports.MaxParallel,

		// Room for one queued export ahead of this one on the same slug.
		FetchTimeout: 2 * (cfg.MCP.CallTimeout + cfg.MCP.TerminateTimeout),
	}
}
