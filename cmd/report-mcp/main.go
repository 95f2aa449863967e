// Command report-mcp exposes the vendor report tools as an MCP server, over
// HTTP or over stdin/stdout.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	flag "github.com/spf13/pflag"

	"github.com/vendorportal/report-gateway/internal/app"
	"github.com/vendorportal/report-gateway/internal/config"
	"github.com/vendorportal/report-gateway/internal/logging"
	"github.com/vendorportal/report-gateway/internal/mcp"
	"github.com/vendorportal/report-gateway/internal/version"
)

func main() {
	_ = godotenv.Load()

	configPath := flag.String("config", os.Getenv("REPORT_GATEWAY_CONFIG"), "path to YAML config file (optional)")
	httpAddr := flag.String("http", ":3333", "MCP HTTP listen address")
	stdio := flag.Bool("stdio", false, "serve MCP over stdin/stdout instead of HTTP")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version.Get().String())
		return
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	logger, cleanup, err := logging.New("report-mcp", logging.Options{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Dir:    cfg.Logging.Dir,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "logging: %v\n", err)
		os.Exit(1)
	}
	defer cleanup()

	a, err := app.Build(cfg, logger)
	if err != nil {
		logger.Errorf("startup: %v", err)
		cleanup()
		os.Exit(1)
	}

	if *stdio {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		logger.WithField("tools", a.Toolbox.Len()).Info("serving MCP over stdio")
		if err := mcp.ServeStdio(ctx, a.MCPServer(), os.Stdin, os.Stdout); err != nil && ctx.Err() == nil {
			logger.Errorf("stdio: %v", err)
			cleanup()
			os.Exit(1)
		}
		return
	}

	if err := mcp.RunHTTP(a.MCPServer(), *httpAddr, logger); err != nil {
		logger.Errorf("MCP server error: %v", err)
		cleanup()
		os.Exit(1)
	}
}
