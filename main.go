package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	flag "github.com/spf13/pflag"

	"github.com/vendorportal/report-gateway/internal/app"
	"github.com/vendorportal/report-gateway/internal/chatapi"
	"github.com/vendorportal/report-gateway/internal/config"
	"github.com/vendorportal/report-gateway/internal/logging"
	"github.com/vendorportal/report-gateway/internal/mcp"
	"github.com/vendorportal/report-gateway/internal/version"
)

func main() {
	_ = godotenv.Load()

	configPath := flag.String("config", os.Getenv("REPORT_GATEWAY_CONFIG"), "path to YAML config file (optional)")
	noChat := flag.Bool("no-chat", false, "disable the chat API server")
	mcpAddr := flag.String("mcp-http", "", "also serve the report tools over MCP HTTP on this address (e.g. :3333)")
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
	if *noChat {
		cfg.Chat.Enabled = false
	}
	if *mcpAddr != "" {
		cfg.MCPServer.Addr = *mcpAddr
	}

	logger, cleanup, err := logging.New("report-gateway", logging.Options{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Dir:    cfg.Logging.Dir,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "logging: %v\n", err)
		os.Exit(1)
	}
	defer cleanup()

	if err := run(cfg, logger); err != nil {
		logger.Errorf("exiting: %v", err)
		cleanup()
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *logrus.Entry) error {
	a, err := app.Build(cfg, logger)
	if err != nil {
		return err
	}
	logger.Infof("report gateway %s starting with %d tools", version.Get().String(), a.Toolbox.Len())

	var servers []*http.Server
	if cfg.Chat.Enabled {
		llm := chatapi.NewLLM(cfg.Chat.OpenAIKey, cfg.Chat.OpenAIModel, cfg.Chat.OpenAIBase, cfg.Chat.LLMTimeout)
		if !llm.Available() {
			logger.Warn("OPENAI_API_KEY not set; chat answers come from offline replies")
		}
		h := chatapi.NewHandler(logger.WithField("component", "chat-api"), a.Toolbox, a.Gateway, chatapi.Options{
			APIKey:    cfg.Chat.APIKey,
			Allowlist: cfg.Chat.Allowlist,
			LLM:       llm,
		})
		servers = append(servers, &http.Server{
			Addr:              cfg.Chat.Addr,
			Handler:           h.Routes(),
			ReadHeaderTimeout: 5 * time.Second,
		})
		logger.Infof("chat API listening on %s (model=%s)", cfg.Chat.Addr, llm.Model())
	}
	if cfg.MCPServer.Addr != "" {
		mcpLogger := logger.WithField("component", "mcp-http")
		servers = append(servers, &http.Server{
			Addr:              cfg.MCPServer.Addr,
			Handler:           mcp.NewHTTPHandler(a.MCPServer(), mcpLogger),
			ReadHeaderTimeout: 5 * time.Second,
		})
		mcpLogger.Infof("MCP HTTP listening on %s", cfg.MCPServer.Addr)
	}
	if len(servers) == 0 {
		return errors.New("nothing to serve: chat API disabled and no MCP HTTP address")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, len(servers))
	for _, srv := range servers {
		go func(srv *http.Server) {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("%s: %w", srv.Addr, err)
			}
		}(srv)
	}

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case runErr = <-errCh:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	for _, srv := range servers {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warnf("shutdown %s: %v", srv.Addr, err)
		}
	}
	return runErr
}
